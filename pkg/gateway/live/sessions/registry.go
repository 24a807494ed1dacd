// Package sessions tracks live sessions for lookup, reconnect, and graceful
// drain.
package sessions

import (
	"context"
	"sync"
)

// Handle is what the registry holds for each session.
type Handle struct {
	// Cancel tears the session down. Safe to call more than once.
	Cancel func()
	// Warn notifies the client of an impending shutdown.
	Warn func(code, message string) error
	// Session is the owning session, exposed for transports that resume a
	// parked session after a reconnect. Callers assert the concrete type.
	Session any
}

// Registry is a concurrency-safe session table. Registering a duplicate ID
// replaces and unregisters the old entry; unregister and Terminate are
// idempotent.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	wg      sync.WaitGroup
}

type entry struct {
	handle Handle
	once   sync.Once
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*entry),
	}
}

// Register adds a session and returns its unregister func.
func (r *Registry) Register(sessionID string, h Handle) (unregister func()) {
	if r == nil {
		return func() {}
	}

	e := &entry{handle: h}

	r.mu.Lock()
	if r.entries == nil {
		r.entries = make(map[string]*entry)
	}
	old := r.entries[sessionID]
	r.entries[sessionID] = e
	r.wg.Add(1)
	r.mu.Unlock()

	if old != nil {
		r.unregister(sessionID, old)
	}

	return func() { r.unregister(sessionID, e) }
}

func (r *Registry) unregister(sessionID string, e *entry) {
	if r == nil || e == nil {
		return
	}
	e.once.Do(func() {
		r.mu.Lock()
		if r.entries != nil && r.entries[sessionID] == e {
			delete(r.entries, sessionID)
		}
		r.mu.Unlock()
		r.wg.Done()
	})
}

// Lookup returns the handle for a registered session.
func (r *Registry) Lookup(sessionID string) (Handle, bool) {
	if r == nil {
		return Handle{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entries[sessionID]
	if e == nil {
		return Handle{}, false
	}
	return e.handle, true
}

// Terminate cancels and unregisters a session. Terminating an unknown or
// already-terminated session is a no-op.
func (r *Registry) Terminate(sessionID string) bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	e := r.entries[sessionID]
	r.mu.Unlock()
	if e == nil {
		return false
	}
	if e.handle.Cancel != nil {
		e.handle.Cancel()
	}
	r.unregister(sessionID, e)
	return true
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// WarnAll notifies every session, used before a drain.
func (r *Registry) WarnAll(code, message string) (sent int) {
	if r == nil {
		return 0
	}

	var warns []func(code, message string) error
	r.mu.Lock()
	for _, e := range r.entries {
		if e == nil || e.handle.Warn == nil {
			continue
		}
		warns = append(warns, e.handle.Warn)
	}
	r.mu.Unlock()

	for _, warn := range warns {
		_ = warn(code, message)
		sent++
	}
	return sent
}

// CancelAll tears down every session.
func (r *Registry) CancelAll() (canceled int) {
	if r == nil {
		return 0
	}

	var cancels []func()
	r.mu.Lock()
	for _, e := range r.entries {
		if e == nil || e.handle.Cancel == nil {
			continue
		}
		cancels = append(cancels, e.handle.Cancel)
	}
	r.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every session has unregistered or ctx ends. It returns
// true when the registry drained.
func (r *Registry) Wait(ctx context.Context) bool {
	if r == nil {
		return true
	}
	if ctx == nil {
		r.wg.Wait()
		return true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
