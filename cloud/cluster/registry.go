package cluster

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Factory builds a Cluster from its raw JSON parameter block in the
// process config.
type Factory func(id string, params json.RawMessage) (Cluster, error)

// Registry maps backend type names to factories so the config can select
// concrete variants at process start.
type Registry struct {
	mu        sync.Mutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// Register installs a factory under the given backend type name.
// Registering a name twice is a programming error.
func (r *Registry) Register(name string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("cluster backend %q is already registered", name)
	}
	r.factories[name] = f
	return nil
}

// Create builds a cluster of the named backend type.
func (r *Registry) Create(name, id string, params json.RawMessage) (Cluster, error) {
	r.mu.Lock()
	f, ok := r.factories[name]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown cluster backend %q", name)
	}
	return f(id, params)
}

// Types returns the registered backend type names.
func (r *Registry) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}
