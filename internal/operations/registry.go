package operations

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Resolver looks up operations by name
type Resolver interface {
	Resolve(name string) (Operation, error)
}

// Registry maps operation names to operations. It is populated at startup and
// frozen before requests are served; once frozen, reads take no lock.
type Registry struct {
	mu         sync.RWMutex
	operations map[string]Operation
	order      []string // Maintains registration order
	frozen     atomic.Bool
}

// NewRegistry creates an empty operation registry
func NewRegistry() *Registry {
	return &Registry{
		operations: make(map[string]Operation),
		order:      make([]string, 0),
	}
}

// Register adds an operation to the registry
func (r *Registry) Register(op Operation) error {
	if op == nil {
		return fmt.Errorf("cannot register nil operation")
	}

	name := op.Name()
	if name == "" {
		return fmt.Errorf("operation name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen.Load() {
		return ErrRegistryFrozen
	}
	if _, exists := r.operations[name]; exists {
		return &DuplicateNameError{Name: name}
	}

	r.operations[name] = op
	r.order = append(r.order, name)
	return nil
}

// Freeze ends registration. It is idempotent.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen.Store(true)
}

// Frozen reports whether Freeze has been called
func (r *Registry) Frozen() bool {
	return r.frozen.Load()
}

// Resolve returns the operation registered under name
func (r *Registry) Resolve(name string) (Operation, error) {
	if !r.frozen.Load() {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}

	op, exists := r.operations[name]
	if !exists {
		return nil, &UnknownOperationError{Name: name}
	}
	return op, nil
}

// Has checks if an operation is registered
func (r *Registry) Has(name string) bool {
	_, err := r.Resolve(name)
	return err == nil
}

// List returns all registered operations in registration order
func (r *Registry) List() []Operation {
	if !r.frozen.Load() {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}

	ops := make([]Operation, 0, len(r.order))
	for _, name := range r.order {
		ops = append(ops, r.operations[name])
	}
	return ops
}

// Names returns all registered names in registration order
func (r *Registry) Names() []string {
	if !r.frozen.Load() {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}

	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Count returns the number of registered operations
func (r *Registry) Count() int {
	if !r.frozen.Load() {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}
	return len(r.operations)
}
