package sessions

import (
	"context"
	"testing"
	"time"
)

func TestRegisterLookupUnregister(t *testing.T) {
	r := NewRegistry()
	unregister := r.Register("s_1", Handle{Session: "payload"})

	h, ok := r.Lookup("s_1")
	if !ok {
		t.Fatalf("expected lookup hit")
	}
	if h.Session != "payload" {
		t.Fatalf("session=%v", h.Session)
	}
	if r.Count() != 1 {
		t.Fatalf("count=%d", r.Count())
	}

	unregister()
	unregister() // idempotent
	if _, ok := r.Lookup("s_1"); ok {
		t.Fatalf("expected lookup miss after unregister")
	}
	if r.Count() != 0 {
		t.Fatalf("count=%d", r.Count())
	}
}

func TestRegisterDuplicateReplacesOld(t *testing.T) {
	r := NewRegistry()
	oldCanceled := false
	r.Register("s_1", Handle{Cancel: func() { oldCanceled = true }})
	unregister := r.Register("s_1", Handle{Session: "new"})
	defer unregister()

	if r.Count() != 1 {
		t.Fatalf("count=%d", r.Count())
	}
	h, _ := r.Lookup("s_1")
	if h.Session != "new" {
		t.Fatalf("lookup returned old entry")
	}
	// Replacement unregisters but does not cancel the old session; its
	// owner still holds the unregister func.
	if oldCanceled {
		t.Fatalf("replacement should not cancel the old session")
	}
}

func TestTerminate(t *testing.T) {
	r := NewRegistry()
	canceled := 0
	r.Register("s_1", Handle{Cancel: func() { canceled++ }})

	if !r.Terminate("s_1") {
		t.Fatalf("expected terminate hit")
	}
	if canceled != 1 {
		t.Fatalf("canceled=%d", canceled)
	}
	if r.Terminate("s_1") {
		t.Fatalf("second terminate should be a no-op")
	}
	if r.Terminate("s_unknown") {
		t.Fatalf("unknown terminate should be a no-op")
	}
	if r.Count() != 0 {
		t.Fatalf("count=%d", r.Count())
	}
}

func TestWarnAllAndCancelAll(t *testing.T) {
	r := NewRegistry()
	var warned, canceled int
	for _, id := range []string{"a", "b", "c"} {
		r.Register(id, Handle{
			Warn:   func(code, message string) error { warned++; return nil },
			Cancel: func() { canceled++ },
		})
	}

	if got := r.WarnAll("draining", "shutting down"); got != 3 {
		t.Fatalf("WarnAll=%d", got)
	}
	if warned != 3 {
		t.Fatalf("warned=%d", warned)
	}
	if got := r.CancelAll(); got != 3 {
		t.Fatalf("CancelAll=%d", got)
	}
	if canceled != 3 {
		t.Fatalf("canceled=%d", canceled)
	}
}

func TestWaitDrains(t *testing.T) {
	r := NewRegistry()
	unregister := r.Register("s_1", Handle{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if r.Wait(ctx) {
		t.Fatalf("Wait should time out while a session is registered")
	}

	unregister()
	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	if !r.Wait(ctx2) {
		t.Fatalf("Wait should return once drained")
	}
}

func TestNilRegistryIsSafe(t *testing.T) {
	var r *Registry
	r.Register("x", Handle{})()
	if _, ok := r.Lookup("x"); ok {
		t.Fatalf("nil registry lookup should miss")
	}
	if r.Terminate("x") {
		t.Fatalf("nil registry terminate should be a no-op")
	}
	if !r.Wait(nil) {
		t.Fatalf("nil registry Wait should succeed")
	}
}
