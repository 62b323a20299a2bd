// Package registry implements the Resource Registry (RR): in-memory
// maps, one per resource kind, each mapping a kind-specific identifier
// to a shared, individually-lockable spec object. RR exclusively owns
// each spec; all mutations go through a single-holder lock plus the
// higher-level Operation Sequencer guard (pkg/guard) acquired for the
// duration of a composite workflow.
package registry

import (
	"sync"

	"github.com/cuemby/corectl/pkg/guard"
)

// Locked wraps one spec with its own short-critical-section mutex and
// the OS guard cell. The mutex protects in-memory field access; the
// guard cell gates whole composite workflows. Per the lock-ordering
// rule, the mutex is never held across an I/O suspension — callers
// clone out under lock, perform I/O, then write back under lock.
type Locked[T any] struct {
	mu    sync.Mutex
	spec  T
	guard guard.Cell
}

// Clone returns a copy of the current spec value, suitable for reading
// or for passing to a node RPC without holding the lock during the call.
func (l *Locked[T]) Clone() T {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.spec
}

// Update runs fn with exclusive access to the spec and writes back
// whatever fn leaves in place. fn must not perform I/O.
func (l *Locked[T]) Update(fn func(*T)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn(&l.spec)
}

// Guard returns the OS cell for this spec, for guard.TryAcquire/Acquire.
func (l *Locked[T]) Guard() *guard.Cell {
	return &l.guard
}

// Registry holds every spec of one resource kind, keyed by id, plus an
// insertion-ordered view to support paginated listings.
type Registry[T any] struct {
	mu    sync.RWMutex
	items map[string]*Locked[T]
	order []string
}

// New returns an empty Registry.
func New[T any]() *Registry[T] {
	return &Registry[T]{items: make(map[string]*Locked[T])}
}

// Insert adds a new spec under id, or returns the existing entry if one
// is already present (insert is not an upsert — callers that want
// idempotent-create semantics check Get first).
func (r *Registry[T]) Insert(id string, spec T) *Locked[T] {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.items[id]; ok {
		return existing
	}

	l := &Locked[T]{spec: spec}
	r.items[id] = l
	r.order = append(r.order, id)
	return l
}

// Get returns the entry for id, if present.
func (r *Registry[T]) Get(id string) (*Locked[T], bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.items[id]
	return l, ok
}

// Remove deletes the entry for id from the registry. It does not touch
// PSC; callers remove from PSC first, then from RR, matching the TOE
// destroy-commit ordering.
func (r *Registry[T]) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		return
	}
	delete(r.items, id)
	for i, existingID := range r.order {
		if existingID == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Values returns every entry in insertion order, for paginated listings.
func (r *Registry[T]) Values() []*Locked[T] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Locked[T], 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.items[id])
	}
	return out
}

// Populate bulk-loads specs from a store range-scan on startup. Like
// Insert, it keeps an existing entry and skips that id.
func (r *Registry[T]) Populate(items map[string]T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, spec := range items {
		if _, ok := r.items[id]; ok {
			continue
		}
		r.items[id] = &Locked[T]{spec: spec}
		r.order = append(r.order, id)
	}
}

// Len reports the number of entries currently held.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}
