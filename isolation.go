package tether

import (
	"reflect"
	"sync"
)

// IsolationChecker detects accidental sharing of a context's metadata map
// across contexts. Production code normally runs without one (VerifyIsolation
// then always passes); tests inject a SharedObjectRegistry and register maps
// they expect to be exclusive, so any context still bound to a registered map
// fails VerifyIsolation.
type IsolationChecker interface {
	// IsShared reports whether the given metadata map has been registered as
	// shared with another owner.
	IsShared(metadata map[string]any) bool
}

// SharedObjectRegistry is an IsolationChecker backed by an explicit set of
// map identities. It is safe for concurrent use.
//
// Identity is the map header pointer, not the map contents. Two maps with
// equal contents are distinct objects and do not alias each other.
type SharedObjectRegistry struct {
	mu     sync.RWMutex
	shared map[uintptr]struct{}
}

// NewSharedObjectRegistry creates an empty SharedObjectRegistry.
func NewSharedObjectRegistry() *SharedObjectRegistry {
	return &SharedObjectRegistry{
		shared: make(map[uintptr]struct{}),
	}
}

// MarkShared registers a metadata map as shared. Any context bound to this
// exact map instance will subsequently fail VerifyIsolation.
func (r *SharedObjectRegistry) MarkShared(metadata map[string]any) {
	if metadata == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shared[mapIdentity(metadata)] = struct{}{}
}

// MarkContextShared registers the metadata map bound to the given context.
// The context will subsequently fail VerifyIsolation, as will any other
// context aliasing the same map instance.
func (r *SharedObjectRegistry) MarkContextShared(c *ExecutionContext) {
	if c == nil {
		return
	}
	r.MarkShared(c.metadata)
}

// Unmark removes a metadata map from the shared set.
func (r *SharedObjectRegistry) Unmark(metadata map[string]any) {
	if metadata == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.shared, mapIdentity(metadata))
}

// IsShared implements IsolationChecker.
func (r *SharedObjectRegistry) IsShared(metadata map[string]any) bool {
	if metadata == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.shared[mapIdentity(metadata)]
	return ok
}

// mapIdentity returns the identity of the map header, used to compare map
// instances by reference rather than by contents.
func mapIdentity(m map[string]any) uintptr {
	return reflect.ValueOf(m).Pointer()
}

// Compile-time check that SharedObjectRegistry implements IsolationChecker.
var _ IsolationChecker = (*SharedObjectRegistry)(nil)
