package governor

import (
	"fmt"
	"sort"
	"sync"
)

// Instance is one governor bound to one frequency domain.
type Instance interface {
	Start() error
	Stop()
}

// Factory builds a governor instance for a frequency domain.
type Factory func(policy Policy) (Instance, error)

// Registry maps governor names to factories. It replaces a
// process-wide governor table: construct one at startup and hand it to
// whatever selects governors for domains.
type Registry struct {
	mu        sync.Mutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a named governor. Registering a name twice is an
// error.
func (r *Registry) Register(name string, f Factory) error {
	if name == "" || f == nil {
		return fmt.Errorf("governor registration needs a name and a factory")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.factories[name]; dup {
		return fmt.Errorf("governor %q already registered", name)
	}
	r.factories[name] = f
	return nil
}

// New builds an instance of the named governor for the given domain.
func (r *Registry) New(name string, policy Policy) (Instance, error) {
	r.mu.Lock()
	f, ok := r.factories[name]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown governor %q", name)
	}
	return f(policy)
}

// Names returns the registered governor names, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
