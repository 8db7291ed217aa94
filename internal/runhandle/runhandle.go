// Package runhandle defines RunHandle, the per-run resource bundle owned
// exclusively by the registry: cancellation, the event-stream subscription,
// and the citation-diff baseline.
//
// Grounded on the teacher's run struct (internal/ai/run.go) — mutex-guarded
// cancel reason/requested fields plus a context.CancelFunc and doneCh — and
// thread_actor.go's handle-by-ThreadKey lookup, generalized from an actor
// into plain owned data (spec §3.6: "the registry is data, not an actor").
package runhandle

import (
	"context"
	"sync"

	"github.com/aguicore/runtime/internal/conversation"
)

// Subscription is the live event-stream handle returned by a Transport.
// Close unsubscribes and releases any transport-side resources; it must be
// safe to call more than once.
type Subscription interface {
	Close()
}

// noopSubscription satisfies Subscription when a handle is constructed
// without a live stream (e.g. in tests).
type noopSubscription struct{}

func (noopSubscription) Close() {}

// NoopSubscription returns a Subscription whose Close is a no-op.
func NoopSubscription() Subscription { return noopSubscription{} }

// ActiveRunStateKind is the notifier-visible ActiveRunState variant tag
// (spec §3.7).
type ActiveRunStateKind string

const (
	StateIdle          ActiveRunStateKind = "idle"
	StateRunning       ActiveRunStateKind = "running"
	StateExecutingTools ActiveRunStateKind = "executing_tools"
	StateCompleted     ActiveRunStateKind = "completed"
)

type CompletionKind string

const (
	CompletionSuccess   CompletionKind = "success"
	CompletionFailed    CompletionKind = "failed"
	CompletionCancelled CompletionKind = "cancelled"
)

type CompletionResult struct {
	Kind   CompletionKind
	Reason string // populated for Failed/Cancelled
}

// ActiveRunState is the notifier's externally visible projection of a run
// (spec §3.7).
type ActiveRunState struct {
	Kind         ActiveRunStateKind
	Conversation conversation.Conversation

	// Running-only.
	// (Streaming state lives alongside the notifier's own bookkeeping, not
	// here, since it is reducer-transient and not part of what's projected
	// for UI purposes beyond the conversation/tool-call view.)

	// ExecutingTools-only.
	PendingTools []conversation.ToolCallInfo

	// Completed-only.
	Completion CompletionResult
}

func Idle() ActiveRunState { return ActiveRunState{Kind: StateIdle} }

func Running(conv conversation.Conversation) ActiveRunState {
	return ActiveRunState{Kind: StateRunning, Conversation: conv}
}

func ExecutingTools(conv conversation.Conversation, pending []conversation.ToolCallInfo) ActiveRunState {
	return ActiveRunState{Kind: StateExecutingTools, Conversation: conv, PendingTools: pending}
}

func Completed(conv conversation.Conversation, result CompletionResult) ActiveRunState {
	return ActiveRunState{Kind: StateCompleted, Conversation: conv, Completion: result}
}

// Handle is the per-run resource bundle. Exactly one Handle exists per live
// run; the registry owns it, and the notifier keeps only a non-owning
// currentHandle pointer to the run it is viewing
// (see spec §3.6, §9 "arena-plus-index" design note).
type Handle struct {
	Key   conversation.ThreadKey
	RunID string

	cancel context.CancelFunc
	ctx    context.Context

	Subscription Subscription

	UserMessageID string

	// PreviousAguiState is the aguiState snapshot taken at run start, used
	// by the citation extractor to diff against the state at terminal
	// transition (spec §4.4.7).
	PreviousAguiState any

	Depth int

	mu        sync.Mutex
	state     ActiveRunState
	disposed  bool
}

// New constructs a Handle bound to ctx; cancel must cancel that same
// context. State starts Idle; callers set it to Running immediately after
// construction once the initial conversation is built.
func New(ctx context.Context, cancel context.CancelFunc, key conversation.ThreadKey, runID string, sub Subscription, userMessageID string, previousAguiState any, depth int) *Handle {
	return &Handle{
		Key:               key,
		RunID:             runID,
		ctx:               ctx,
		cancel:            cancel,
		Subscription:      sub,
		UserMessageID:     userMessageID,
		PreviousAguiState: previousAguiState,
		Depth:             depth,
		state:             Idle(),
	}
}

// Context returns the run's cancellation context, observed at suspension
// points (stream reads, tool execution) per spec §9's cancellation design.
func (h *Handle) Context() context.Context { return h.ctx }

// Cancelled reports whether the run's cancel token has fired.
func (h *Handle) Cancelled() bool {
	select {
	case <-h.ctx.Done():
		return true
	default:
		return false
	}
}

// State returns the handle's current ActiveRunState snapshot.
func (h *Handle) State() ActiveRunState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// SetState assigns a new ActiveRunState. Called by the notifier's event
// subscription callback after every reducer step (spec §4.4.2).
func (h *Handle) SetState(s ActiveRunState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = s
}

// Dispose fires the cancel token, then closes the subscription, so a stream
// reader that sees Recv fail already observes Cancelled(). The handle's
// fields are left as they are. Idempotent per spec §3.6.
func (h *Handle) Dispose() {
	h.mu.Lock()
	alreadyDisposed := h.disposed
	h.disposed = true
	h.mu.Unlock()
	if alreadyDisposed {
		return
	}
	if h.cancel != nil {
		h.cancel()
	}
	if h.Subscription != nil {
		h.Subscription.Close()
	}
}

// Disposed reports whether Dispose has already run.
func (h *Handle) Disposed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.disposed
}
