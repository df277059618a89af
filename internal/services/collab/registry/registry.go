// Package registry tracks live connection counts per note.
//
// The registry is advisory capacity bookkeeping for admission control; the
// authoritative participant list lives in the note session itself. Callers
// construct and inject an instance rather than sharing process-global state,
// so tests can run against isolated registries.
package registry

import "sync"

// Registry counts active connections per note id. The zero value is not
// usable; construct with New.
type Registry struct {
	mu     sync.Mutex
	counts map[string]int
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{counts: make(map[string]int)}
}

// Increment adds one connection for the note and returns the new count. It is
// atomic with respect to concurrent callers for the same note.
func (r *Registry) Increment(noteID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[noteID]++
	return r.counts[noteID]
}

// Decrement removes one connection for the note. The count floors at zero and
// the entry is dropped entirely once it reaches zero so the tracked set does
// not grow without bound.
func (r *Registry) Decrement(noteID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := r.counts[noteID] - 1
	if count <= 0 {
		delete(r.counts, noteID)
		return
	}
	r.counts[noteID] = count
}

// Count returns the current connection count for the note.
func (r *Registry) Count(noteID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[noteID]
}
