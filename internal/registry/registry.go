// Package registry implements the concurrent run registry: an index from
// ThreadKey to the single live RunHandle for that key, plus a totally
// ordered lifecycle event broadcast.
//
// Grounded on the teacher's threadManager (internal/ai/thread_actor.go) —
// a mutex-guarded map keyed by thread with idempotent removal and a
// draining Close() — generalized from per-thread actors to a locked index
// of plain handles (spec §4.5: "the registry is data, not an actor").
package registry

import (
	"sync"

	"github.com/aguicore/runtime/internal/conversation"
	"github.com/aguicore/runtime/internal/runhandle"
)

type LifecycleKind string

const (
	LifecycleRunStarted   LifecycleKind = "run_started"
	LifecycleRunCompleted LifecycleKind = "run_completed"
	LifecycleRunReplaced  LifecycleKind = "run_replaced"
)

// LifecycleEvent is one entry on the totally ordered broadcast stream
// (spec §4.5).
type LifecycleEvent struct {
	Kind   LifecycleKind
	Key    conversation.ThreadKey
	Result runhandle.CompletionResult // RunCompleted only
}

// OnRunCompleted is invoked synchronously from completeRun, before the
// lifecycle event is published, so the thread history cache can be updated
// before any subscriber observes completion.
type OnRunCompleted func(key conversation.ThreadKey, handle *runhandle.Handle, completed conversation.Conversation)

// Registry is the concurrent ThreadKey -> *runhandle.Handle index.
type Registry struct {
	onCompleted OnRunCompleted

	mu      sync.Mutex
	handles map[conversation.ThreadKey]*runhandle.Handle
	closed  bool

	subMu sync.Mutex
	subs  map[int]chan LifecycleEvent
	nextSub int
}

// New constructs an empty Registry. onCompleted may be nil.
func New(onCompleted OnRunCompleted) *Registry {
	return &Registry{
		onCompleted: onCompleted,
		handles:     map[conversation.ThreadKey]*runhandle.Handle{},
		subs:        map[int]chan LifecycleEvent{},
	}
}

// Subscribe returns a channel receiving every lifecycle event published
// from this point on, and an unsubscribe function. The channel holds 64
// events; an event published while a subscriber's buffer is full is
// dropped for that subscriber, so a subscriber that does not drain
// promptly misses events.
func (r *Registry) Subscribe() (<-chan LifecycleEvent, func()) {
	ch := make(chan LifecycleEvent, 64)
	r.subMu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch
	r.subMu.Unlock()

	unsub := func() {
		r.subMu.Lock()
		if existing, ok := r.subs[id]; ok {
			delete(r.subs, id)
			close(existing)
		}
		r.subMu.Unlock()
	}
	return ch, unsub
}

func (r *Registry) publish(ev LifecycleEvent) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for _, ch := range r.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber backlog full; drop rather than block the
			// registry. A bounded, generously sized buffer makes this the
			// exception, not the norm.
		}
	}
}

// RegisterRun atomically inserts handle for its key. If a handle already
// exists for that key, it is disposed first (spec §4.5).
func (r *Registry) RegisterRun(handle *runhandle.Handle) {
	r.mu.Lock()
	old, hadOld := r.handles[handle.Key]
	r.handles[handle.Key] = handle
	r.mu.Unlock()

	if hadOld {
		old.Dispose()
	} else {
		activeRuns.Inc()
	}
	runsStarted.Inc()
	r.publish(LifecycleEvent{Kind: LifecycleRunStarted, Key: handle.Key})
}

// GetHandle returns the live handle for key, or nil.
func (r *Registry) GetHandle(key conversation.ThreadKey) *runhandle.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handles[key]
}

// CompleteRun removes handle from the index if it is still the handle
// registered for its key, invokes onRunCompleted, and publishes
// RunCompleted (spec §4.5). If another handle already holds the key (it
// was replaced or a newer run registered), this is a no-op on the index
// but the completion event is still published so the caller's completion
// bookkeeping is not silently lost — callers needing the stricter "did I
// actually own this" check should inspect GetHandle before calling.
func (r *Registry) CompleteRun(handle *runhandle.Handle, completed conversation.Conversation, result runhandle.CompletionResult) {
	r.mu.Lock()
	current, ok := r.handles[handle.Key]
	stillOwned := ok && current == handle
	if stillOwned {
		delete(r.handles, handle.Key)
	}
	r.mu.Unlock()

	if stillOwned {
		activeRuns.Dec()
	}
	runsCompleted.WithLabelValues(string(result.Kind)).Inc()

	if r.onCompleted != nil {
		r.onCompleted(handle.Key, handle, completed)
	}
	r.publish(LifecycleEvent{Kind: LifecycleRunCompleted, Key: handle.Key, Result: result})
}

// ReplaceRun atomically compare-and-swaps oldHandle for newHandle under
// oldHandle.Key. Returns true iff the index still held oldHandle at the
// instant of swap. On success, oldHandle is disposed and RunReplaced is
// published (spec §4.5).
func (r *Registry) ReplaceRun(oldHandle, newHandle *runhandle.Handle) bool {
	r.mu.Lock()
	current, ok := r.handles[oldHandle.Key]
	swapped := ok && current == oldHandle
	if swapped {
		r.handles[oldHandle.Key] = newHandle
	}
	r.mu.Unlock()

	if !swapped {
		return false
	}
	oldHandle.Dispose()
	runsReplaced.Inc()
	r.publish(LifecycleEvent{Kind: LifecycleRunReplaced, Key: oldHandle.Key})
	return true
}

// NotifyCompletion emits a lifecycle event without mutating the index, for
// use when the notifier has already torn the handle down out-of-band
// (spec §4.5).
func (r *Registry) NotifyCompletion(key conversation.ThreadKey, result runhandle.CompletionResult) {
	runsCompleted.WithLabelValues(string(result.Kind)).Inc()
	r.publish(LifecycleEvent{Kind: LifecycleRunCompleted, Key: key, Result: result})
}

// Dispose cancels and disposes every held handle and closes the lifecycle
// stream. Safe to call once; a second call is a no-op.
func (r *Registry) Dispose() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	handles := make([]*runhandle.Handle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.handles = map[conversation.ThreadKey]*runhandle.Handle{}
	r.mu.Unlock()

	for _, h := range handles {
		h.Dispose()
		activeRuns.Dec()
	}

	r.subMu.Lock()
	for id, ch := range r.subs {
		delete(r.subs, id)
		close(ch)
	}
	r.subMu.Unlock()
}
