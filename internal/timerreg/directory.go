package timerreg

import (
	"sync"
	"weak"
)

// SessionDirectory is the process-level registry of live sessions, keyed by
// Call-ID, holding only weak references. A timer that fires after its
// session has already been torn down and garbage collected finds nothing
// and is a no-op, rather than resurrecting or leaking the session.
type SessionDirectory[T any] struct {
	mu   sync.Mutex
	refs map[string]weak.Pointer[T]
}

// NewSessionDirectory creates an empty directory.
func NewSessionDirectory[T any]() *SessionDirectory[T] {
	return &SessionDirectory[T]{refs: make(map[string]weak.Pointer[T])}
}

// Register records a weak reference to session under callID, replacing any
// prior entry for that Call-ID.
func (d *SessionDirectory[T]) Register(callID string, session *T) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.refs[callID] = weak.Make(session)
}

// Unregister removes the entry for callID, if present. Called on session
// teardown so the map doesn't accumulate dead entries between GC cycles.
func (d *SessionDirectory[T]) Unregister(callID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.refs, callID)
}

// Lookup resolves callID to its session, if the weak reference is still
// live. Returns (nil, false) both when the Call-ID is unknown and when the
// session has already been collected.
func (d *SessionDirectory[T]) Lookup(callID string) (*T, bool) {
	d.mu.Lock()
	ref, ok := d.refs[callID]
	d.mu.Unlock()
	if !ok {
		return nil, false
	}
	session := ref.Value()
	return session, session != nil
}
