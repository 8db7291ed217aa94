package registry

import (
	"context"
	"testing"

	"github.com/aguicore/runtime/internal/conversation"
	"github.com/aguicore/runtime/internal/runhandle"
)

func newTestHandle(key conversation.ThreadKey, runID string) *runhandle.Handle {
	ctx, cancel := context.WithCancel(context.Background())
	return runhandle.New(ctx, cancel, key, runID, runhandle.NoopSubscription(), "u1", nil, 0)
}

func TestRegisterRunReplacesExistingAndDisposesOld(t *testing.T) {
	t.Parallel()

	reg := New(nil)
	key := conversation.NewThreadKey("", "room", "thread")
	h1 := newTestHandle(key, "r1")
	h2 := newTestHandle(key, "r2")

	reg.RegisterRun(h1)
	reg.RegisterRun(h2)

	if reg.GetHandle(key) != h2 {
		t.Fatalf("expected h2 to be current handle")
	}
	if !h1.Disposed() {
		t.Fatalf("expected h1 to be disposed when replaced")
	}
}

func TestReplaceRunAtomicCAS(t *testing.T) {
	t.Parallel()

	reg := New(nil)
	key := conversation.NewThreadKey("", "room", "thread")
	h1 := newTestHandle(key, "r1")
	reg.RegisterRun(h1)

	h2 := newTestHandle(key, "r2")
	if !reg.ReplaceRun(h1, h2) {
		t.Fatalf("expected replace to succeed")
	}
	if reg.GetHandle(key) != h2 {
		t.Fatalf("expected h2 registered after replace")
	}
	if !h1.Disposed() {
		t.Fatalf("expected h1 disposed after successful replace")
	}

	// A second replace attempt against the stale h1 must fail.
	h3 := newTestHandle(key, "r3")
	if reg.ReplaceRun(h1, h3) {
		t.Fatalf("expected stale replace to fail")
	}
	if reg.GetHandle(key) != h2 {
		t.Fatalf("stale replace must not have mutated the index")
	}
}

func TestCompleteRunRemovesAndInvokesCallback(t *testing.T) {
	t.Parallel()

	var gotKey conversation.ThreadKey
	var called bool
	reg := New(func(key conversation.ThreadKey, handle *runhandle.Handle, completed conversation.Conversation) {
		called = true
		gotKey = key
	})
	key := conversation.NewThreadKey("", "room", "thread")
	h1 := newTestHandle(key, "r1")
	reg.RegisterRun(h1)

	reg.CompleteRun(h1, conversation.New("thread"), runhandle.CompletionResult{Kind: runhandle.CompletionSuccess})

	if !called || gotKey != key {
		t.Fatalf("onCompleted not invoked with expected key")
	}
	if reg.GetHandle(key) != nil {
		t.Fatalf("expected handle removed after completion")
	}
}

func TestLifecycleEventsPublished(t *testing.T) {
	t.Parallel()

	reg := New(nil)
	ch, unsub := reg.Subscribe()
	defer unsub()

	key := conversation.NewThreadKey("", "room", "thread")
	h1 := newTestHandle(key, "r1")
	reg.RegisterRun(h1)

	ev := <-ch
	if ev.Kind != LifecycleRunStarted || ev.Key != key {
		t.Fatalf("unexpected lifecycle event: %#v", ev)
	}

	reg.CompleteRun(h1, conversation.New("thread"), runhandle.CompletionResult{Kind: runhandle.CompletionSuccess})
	ev = <-ch
	if ev.Kind != LifecycleRunCompleted {
		t.Fatalf("expected RunCompleted, got %#v", ev)
	}
}
