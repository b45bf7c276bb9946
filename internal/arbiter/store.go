package arbiter

import (
	"context"
	"sync"
)

// UpdateFunc receives the current lease (nil when none exists) and returns
// the lease to store, or nil to leave the stored state untouched.
type UpdateFunc func(current *Lease) (*Lease, error)

// Store persists leases. Update must run fn and write its result
// atomically with respect to other Updates of the same key.
type Store interface {
	Get(ctx context.Context, key Key) (*Lease, error)
	Update(ctx context.Context, key Key, fn UpdateFunc) error
	Close() error
}

// MemoryStore keeps leases in process memory.
type MemoryStore struct {
	mu     sync.Mutex
	leases map[Key]Lease
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{leases: make(map[Key]Lease)}
}

func (s *MemoryStore) Get(_ context.Context, key Key) (*Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.leases[key]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

func (s *MemoryStore) Update(_ context.Context, key Key, fn UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current *Lease
	if l, ok := s.leases[key]; ok {
		current = &l
	}
	next, err := fn(current)
	if err != nil {
		return err
	}
	if next != nil {
		s.leases[key] = *next
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }
