package arbiter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix      = "taskrunner:lease:"
	redisMaxTxAttempts  = 16
	defaultRedisAddress = "redis://127.0.0.1:6379"
)

// RedisStore shares leases between several arbiter processes. Updates use
// WATCH/MULTI so a concurrent writer makes the transaction retry instead of
// overwriting.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// OpenRedis connects to the redis:// URL address.
func OpenRedis(ctx context.Context, address string) (*RedisStore, error) {
	if address == "" {
		address = defaultRedisAddress
	}
	opts, err := redis.ParseURL(address)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisStore{client: client, prefix: redisKeyPrefix}, nil
}

type redisLease struct {
	Token    string `json:"token"`
	LastSeen int64  `json:"last_seen,omitempty"`
}

func (s *RedisStore) key(k Key) string {
	return fmt.Sprintf("%s%d:%d", s.prefix, k.Owner, k.ClientID)
}

func decodeRedisLease(raw string) (*Lease, error) {
	var rl redisLease
	if err := json.Unmarshal([]byte(raw), &rl); err != nil {
		return nil, fmt.Errorf("decode lease: %w", err)
	}
	l := &Lease{Token: rl.Token}
	if rl.LastSeen != 0 {
		l.LastSeen = time.UnixMilli(rl.LastSeen)
	}
	return l, nil
}

func encodeRedisLease(l Lease) ([]byte, error) {
	rl := redisLease{Token: l.Token}
	if !l.LastSeen.IsZero() {
		rl.LastSeen = l.LastSeen.UnixMilli()
	}
	return json.Marshal(rl)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) load(ctx context.Context, g getter, key Key) (*Lease, error) {
	raw, err := g.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeRedisLease(raw)
}

func (s *RedisStore) Get(ctx context.Context, key Key) (*Lease, error) {
	l, err := s.load(ctx, s.client, key)
	if err != nil {
		return nil, fmt.Errorf("load lease: %w", err)
	}
	return l, nil
}

func (s *RedisStore) Update(ctx context.Context, key Key, fn UpdateFunc) error {
	rk := s.key(key)
	txf := func(tx *redis.Tx) error {
		current, err := s.load(ctx, tx, key)
		if err != nil {
			return err
		}
		next, err := fn(current)
		if err != nil || next == nil {
			return err
		}
		payload, err := encodeRedisLease(*next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, rk, payload, 0)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < redisMaxTxAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, rk)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("update lease: %w", err)
		}
		return nil
	}
	return fmt.Errorf("update lease %s: too much contention", key)
}

// Close closes the connection pool.
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
