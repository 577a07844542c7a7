// Package objectstore maps backend kinds to the factories that build
// container-scoped stores. A Registry is an ordinary value owned by the
// caller; there is no package-level registry.
package objectstore

import (
	"sort"
	"sync"

	"github.com/swiftfs/swiftfs/pkg/errors"
	"github.com/swiftfs/swiftfs/pkg/types"
)

// Factory builds a store bound to container.
type Factory func(container string) (types.ObjectStore, error)

// Registry holds one factory per backend kind and counts the stores built.
type Registry struct {
	mu        sync.RWMutex
	factories map[types.BackendKind]Factory
	instances map[types.BackendKind]int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[types.BackendKind]Factory),
		instances: make(map[types.BackendKind]int),
	}
}

// Register adds the factory for kind. Registering a kind twice is an error.
func (r *Registry) Register(kind types.BackendKind, factory Factory) error {
	if factory == nil {
		return errors.Newf(errors.ErrCodeInvalidConfig, "nil factory for backend %s", kind).
			WithComponent("objectstore")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.factories[kind]; ok {
		return errors.Newf(errors.ErrCodeInvalidConfig, "backend %s already registered", kind).
			WithComponent("objectstore")
	}
	r.factories[kind] = factory
	return nil
}

// New builds a store of kind bound to container.
func (r *Registry) New(kind types.BackendKind, container string) (types.ObjectStore, error) {
	r.mu.RLock()
	factory, ok := r.factories[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.NewUnsupportedError("backend " + string(kind)).WithComponent("objectstore")
	}

	store, err := factory(container)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.instances[kind]++
	r.mu.Unlock()
	return store, nil
}

// Factory returns a Factory that builds stores of kind through r.
func (r *Registry) Factory(kind types.BackendKind) Factory {
	return func(container string) (types.ObjectStore, error) {
		return r.New(kind, container)
	}
}

// Kinds lists the registered backend kinds in sorted order.
func (r *Registry) Kinds() []types.BackendKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]types.BackendKind, 0, len(r.factories))
	for kind := range r.factories {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// InstanceCount returns how many stores of kind were built.
func (r *Registry) InstanceCount(kind types.BackendKind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.instances[kind]
}
