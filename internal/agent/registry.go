package agent

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrUnknownAgent is returned for a name no factory is registered under.
var ErrUnknownAgent = errors.New("unknown agent")

// Factory builds an agent from local overrides.
type Factory func(Config) Agent

// Registry maps agent names, as stored in the client profile, to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	overrides map[string]Config
}

// NewRegistry creates an agent registry
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		overrides: make(map[string]Config),
	}
}

// Register adds a factory under name.
func (r *Registry) Register(name string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("agent already registered: %s", name)
	}
	r.factories[name] = f
	return nil
}

// Configure sets local overrides (extra args, environment, timeout) used
// every time the named agent is built.
func (r *Registry) Configure(name string, cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides[name] = cfg
}

// Get builds the agent registered under name.
func (r *Registry) Get(name string) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("%w %q, available: %s", ErrUnknownAgent, name, strings.Join(r.namesLocked(), ", "))
	}
	return f(r.overrides[name]), nil
}

// List returns all registered agent names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
