package agent

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Common errors returned by the registry.
var (
	ErrUnknownType = errors.New("unknown agent type")
	ErrTypeExists  = errors.New("agent type already registered")
)

type registration struct {
	info    Info
	factory Factory
}

// Registry maps agent-type identifiers to factories. It is populated once at
// process initialization and read concurrently by every running execution.
type Registry struct {
	mu    sync.RWMutex
	types map[string]registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		types: make(map[string]registration),
	}
}

// Register adds a factory for the given type. Returns ErrTypeExists if the
// type is already taken.
func (r *Registry) Register(info Info, factory Factory) error {
	if info.Type == "" {
		return errors.New("agent type is required")
	}
	if factory == nil {
		return errors.New("agent factory is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.types[info.Type]; exists {
		return fmt.Errorf("%w: %s", ErrTypeExists, info.Type)
	}
	r.types[info.Type] = registration{info: info, factory: factory}
	return nil
}

// Create constructs a fresh agent instance for one node. Returns an error
// wrapping ErrUnknownType when the type is not registered.
func (r *Registry) Create(agentType, id string, config map[string]interface{}) (Agent, error) {
	r.mu.RLock()
	reg, ok := r.types[agentType]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, agentType)
	}
	return reg.factory(id, config)
}

// Has reports whether the type is registered.
func (r *Registry) Has(agentType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.types[agentType]
	return ok
}

// Types returns the registered type identifiers, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.types))
	for t := range r.types {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// List returns catalog metadata for every registered type, sorted by type.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Info, 0, len(r.types))
	for _, reg := range r.types {
		out = append(out, reg.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}
