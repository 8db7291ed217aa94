// Package notifier implements the active-run notifier: the single owner of
// the "currently viewed thread" pointer and its externally visible
// ActiveRunState, driving startRun/executeToolsAndContinue/cancelRun and
// projecting exactly one registry-held run into UI-visible state while
// every other run keeps executing in the background.
//
// Grounded on the teacher's thread_actor.go (handleSendUserTurn's
// cancel-active-run-then-start-new flow and the actor mailbox's implicit
// single-flight discipline, generalized here into an explicit mutex guard
// since the notifier has one logical owner rather than one actor per
// thread) and run.go (requestCancel/cancel's two-phase cancellation) and
// core_tool_scheduler.go's semaphore-bounded parallel tool dispatch.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aguicore/runtime/internal/citation"
	"github.com/aguicore/runtime/internal/conversation"
	"github.com/aguicore/runtime/internal/historycache"
	"github.com/aguicore/runtime/internal/ident"
	"github.com/aguicore/runtime/internal/reducer"
	"github.com/aguicore/runtime/internal/registry"
	"github.com/aguicore/runtime/internal/runhandle"
	"github.com/aguicore/runtime/internal/streaming"
	"github.com/aguicore/runtime/internal/tools"
	"github.com/aguicore/runtime/internal/transport"
)

// MaxToolDepth bounds executeToolsAndContinue's recursive continuation
// chain (spec §4.4.4 step 1).
const MaxToolDepth = 10

// ErrConcurrentStart is returned by StartRun when another StartRun call is
// already in its synchronous prologue for this notifier (spec §4.4.1
// precondition).
var ErrConcurrentStart = errors.New("notifier: concurrent startRun call")

// ToolParallelism bounds how many pending tool calls execute concurrently
// within a single executeToolsAndContinue step.
const ToolParallelism = 4

// StateListener is invoked whenever the notifier's visible ActiveRunState
// changes, either because the viewed run produced a new state or because
// navigation moved to a different thread.
type StateListener func(runhandle.ActiveRunState)

// BackgroundCompletionListener is invoked when a non-viewed ("background")
// run reaches a terminal state other than Cancelled, so the host can mark
// the corresponding thread unread (spec §4.4.6).
type BackgroundCompletionListener func(key conversation.ThreadKey, result runhandle.CompletionResult)

// Options configures a Notifier.
type Options struct {
	Transport transport.Transport
	Registry  *registry.Registry
	Cache     historycache.Cache
	Tools     tools.Registry

	// Endpoint template with %s for roomId and threadId, e.g.
	// "rooms/%s/agui/%s". RunID is appended as a third path segment.
	EndpointTemplate string

	// MaxToolDepth overrides the package default MaxToolDepth when > 0,
	// mirroring RuntimeConfig.MaxToolDepth (SPEC_FULL §6.A).
	MaxToolDepth int

	Clock func() time.Time

	OnState              StateListener
	OnBackgroundComplete BackgroundCompletionListener
}

// Notifier owns the single visible run projection. All exported methods
// are safe for concurrent use.
type Notifier struct {
	transport transport.Transport
	reg       *registry.Registry
	cache     historycache.Cache
	toolset   tools.Registry
	approval  tools.ApprovalGate
	endpoint  string
	now       func() time.Time

	onState      StateListener
	onBackground BackgroundCompletionListener

	mu          sync.Mutex
	starting    bool
	viewedKey   conversation.ThreadKey
	hasViewed   bool
	currentHandle *runhandle.Handle
	maxToolDepth  int
}

func New(opts Options) *Notifier {
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	endpoint := opts.EndpointTemplate
	if endpoint == "" {
		endpoint = "rooms/%s/agui/%s"
	}
	maxDepth := opts.MaxToolDepth
	if maxDepth <= 0 {
		maxDepth = MaxToolDepth
	}
	return &Notifier{
		transport: opts.Transport,
		reg:       opts.Registry,
		cache:     opts.Cache,
		toolset:   opts.Tools,
		endpoint:  endpoint,
		now:       now,
		onState:   opts.OnState,
		onBackground: opts.OnBackgroundComplete,
		maxToolDepth: maxDepth,
	}
}

// SetApprovalGate installs the optional approval collaborator consulted by
// executeToolsAndContinue before dispatching a RequiresApproval tool
// (SPEC_FULL §3.A).
func (n *Notifier) SetApprovalGate(gate tools.ApprovalGate) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.approval = gate
}

func (n *Notifier) emitVisible(state runhandle.ActiveRunState) {
	if n.onState != nil {
		n.onState(state)
	}
}

// isViewed reports whether key is the currently navigated-to thread.
func (n *Notifier) isViewed(key conversation.ThreadKey) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.hasViewed && n.viewedKey == key
}

// View changes the notifier's navigation target (spec §4.4.6). If a live
// handle exists for key, its current state is projected immediately; else
// Idle is projected.
func (n *Notifier) View(key conversation.ThreadKey) {
	n.mu.Lock()
	n.viewedKey = key
	n.hasViewed = true
	handle := n.reg.GetHandle(key)
	n.currentHandle = handle
	n.mu.Unlock()

	if handle != nil {
		n.emitVisible(handle.State())
		return
	}
	n.emitVisible(runhandle.Idle())
}

// StartRun begins a new run for key in response to userMessage. existingRunID,
// when non-empty, is used instead of minting a fresh run id via createRun
// (spec §4.4.1 step 2). initialState, when non-nil, is deep-merged one
// level into the cached aguiState before the run opens (step 5).
func (n *Notifier) StartRun(ctx context.Context, key conversation.ThreadKey, userMessage string, existingRunID string, initialState map[string]any) error {
	n.mu.Lock()
	if n.starting {
		n.mu.Unlock()
		return ErrConcurrentStart
	}
	n.starting = true
	n.mu.Unlock()
	defer func() {
		n.mu.Lock()
		n.starting = false
		n.mu.Unlock()
	}()

	runCtx, cancel := context.WithCancel(ctx)

	runID := existingRunID
	if runID == "" {
		var resp transport.CreateRunResponse
		endpoint := fmt.Sprintf(n.endpoint, key.RoomID, key.ThreadID)
		if err := n.transport.Post(runCtx, endpoint, map[string]any{"threadId": key.ThreadID}, &resp, 30*time.Second); err != nil {
			cancel()
			return n.failStart(key, err)
		}
		runID = resp.RunID
	}

	userMessageID := ident.NewUserMessageID()
	userMsg := conversation.NewTextMessage(userMessageID, conversation.UserRoleUser, userMessage, "", n.now())

	cached, _ := n.cache.Get(key)
	aguiStateAtStart := cached.AguiState
	if aguiStateAtStart == nil {
		aguiStateAtStart = map[string]any{}
	}
	mergedState := deepMergeOneLevel(aguiStateAtStart, initialState)

	wireMessages := toWireMessages(cached.Messages, userMsg)
	endpoint := fmt.Sprintf(n.endpoint, key.RoomID, key.ThreadID) + "/" + runID

	stream, err := n.transport.RunAgent(runCtx, endpoint, transport.RunInput{
		ThreadID: key.ThreadID,
		RunID:    runID,
		Messages: wireMessages,
		State:    mergedState,
	})
	if err != nil {
		cancel()
		return n.failStart(key, err)
	}

	conv := conversation.New(key.ThreadID)
	conv.Messages = append(conv.Messages, userMsg)
	conv.AguiState = cached.AguiState
	if conv.AguiState == nil {
		conv.AguiState = map[string]any{}
	}
	conv.Status = conversation.RunningStatus(runID)

	handle := runhandle.New(runCtx, cancel, key, runID, subscriptionAdapter{stream}, userMessageID, aguiStateAtStart, 0)
	handle.SetState(runhandle.Running(conv))

	n.reg.RegisterRun(handle)

	n.mu.Lock()
	if n.hasViewed && n.viewedKey == key {
		n.currentHandle = handle
	}
	n.mu.Unlock()

	if n.isViewed(key) {
		n.emitVisible(handle.State())
	}

	go n.driveRun(handle, stream, streaming.Awaiting())
	return nil
}

func (n *Notifier) failStart(key conversation.ThreadKey, err error) error {
	result := runhandle.CompletionResult{Kind: runhandle.CompletionFailed, Reason: err.Error()}
	if te := (*transport.Error)(nil); errors.As(err, &te) && te.Kind == transport.ErrCancelled {
		result = runhandle.CompletionResult{Kind: runhandle.CompletionCancelled, Reason: "cancelled during start"}
	}
	n.reg.NotifyCompletion(key, result)
	return err
}

// driveRun pumps events off stream through the reducer until the stream
// ends or the run reaches a terminal state (spec §4.4.2, §4.4.3).
func (n *Notifier) driveRun(handle *runhandle.Handle, stream transport.EventStream, ss streaming.State) {
	conv := handle.State().Conversation

	for {
		if handle.Cancelled() {
			return
		}
		ev, err := stream.Recv()
		if err != nil {
			break
		}
		conv, ss = reducer.Process(conv, ss, ev, n.now)
		if n.afterReduce(handle, conv) {
			return
		}
	}

	// Stream ended (EOF) without an explicit terminal event; conv.Status
	// is still Running. Apply the same pending-tool-calls check onDone
	// would apply to a reducer-driven RunFinished.
	n.onDone(handle, conv)
}

// afterReduce applies spec §4.4.2: assign the new conversation to the
// handle, update the visible state if this is the viewed handle, and
// route terminal transitions appropriately. A reducer-driven Completed
// transition (RunFinished) still has to pass through onDone's pending-
// tool-calls check (spec §4.4.3) before it is accepted as a final
// Success — RunFinished ends this leg of the stream, not necessarily the
// whole turn, when tool calls are still pending. Failed/Cancelled are
// unambiguous and complete immediately.
func (n *Notifier) afterReduce(handle *runhandle.Handle, conv conversation.Conversation) bool {
	switch conv.Status.Kind {
	case conversation.StatusFailed, conversation.StatusCancelled:
		n.completeHandle(handle, conv, completionFromStatus(conv.Status))
		return true
	case conversation.StatusCompleted:
		n.onDone(handle, conv)
		return true
	default:
		handle.SetState(runhandle.Running(conv))
		if n.isViewed(handle.Key) {
			n.emitVisible(handle.State())
		}
		return false
	}
}

func completionFromStatus(status conversation.Status) runhandle.CompletionResult {
	switch status.Kind {
	case conversation.StatusFailed:
		return runhandle.CompletionResult{Kind: runhandle.CompletionFailed, Reason: status.FailureMsg}
	case conversation.StatusCancelled:
		return runhandle.CompletionResult{Kind: runhandle.CompletionCancelled, Reason: status.CancelReason}
	default:
		return runhandle.CompletionResult{Kind: runhandle.CompletionSuccess}
	}
}

// completeHandle performs the citation-correlation + registry completion
// shared by every terminal transition (spec §4.4.3, §4.4.7).
func (n *Notifier) completeHandle(handle *runhandle.Handle, conv conversation.Conversation, result runhandle.CompletionResult) {
	refs := citation.Extract(handle.PreviousAguiState, conv.AguiState)
	if len(refs) > 0 {
		if conv.MessageStates == nil {
			conv.MessageStates = map[string]conversation.MessageState{}
		}
		conv.MessageStates[handle.UserMessageID] = conversation.MessageState{
			UserMessageID:    handle.UserMessageID,
			SourceReferences: refs,
			RunID:            handle.RunID,
		}
	}

	handle.SetState(runhandle.Completed(conv, result))
	n.reg.CompleteRun(handle, conv, result)
	// Every terminal transition releases the handle's resources, not just
	// the cancel path: once Completed/Failed/Cancelled there is nothing
	// left for the subscription or cancel token to do.
	handle.Dispose()

	viewed := n.isViewed(handle.Key)
	if viewed {
		n.mu.Lock()
		if n.currentHandle == handle {
			n.currentHandle = nil
		}
		n.mu.Unlock()
		n.emitVisible(handle.State())
	} else if result.Kind != runhandle.CompletionCancelled && n.onBackground != nil {
		n.onBackground(handle.Key, result)
	}
}

// onDone implements spec §4.4.3: a stream that ends with the handle still
// Running and pending tool calls present transitions to ExecutingTools and
// kicks off tool execution; otherwise it completes as Success.
func (n *Notifier) onDone(handle *runhandle.Handle, conv conversation.Conversation) {
	if handle.Cancelled() {
		return
	}
	pending := conv.PendingToolCalls()
	if len(pending) == 0 {
		n.completeHandle(handle, conv, runhandle.CompletionResult{Kind: runhandle.CompletionSuccess})
		return
	}

	executing := make([]conversation.ToolCallInfo, len(conv.ToolCalls))
	copy(executing, conv.ToolCalls)
	for i := range executing {
		if executing[i].Status == conversation.ToolCallPending {
			executing[i] = executing[i].MarkExecuting()
		}
	}
	conv.ToolCalls = executing
	// The stream leg that just ended isn't the whole turn: tool results
	// still need to come back through a continuation run, so the
	// conversation's own status stays Running rather than the Completed
	// value a RunFinished event may have just produced.
	conv.Status = conversation.RunningStatus(handle.RunID)

	handle.SetState(runhandle.ExecutingTools(conv, conv.ToolCalls))
	if n.isViewed(handle.Key) {
		n.emitVisible(handle.State())
	}

	n.executeToolsAndContinue(handle, conv, handle.Depth)
}

// executeToolsAndContinue implements spec §4.4.4.
func (n *Notifier) executeToolsAndContinue(handle *runhandle.Handle, conv conversation.Conversation, depth int) {
	if depth >= n.maxToolDepth {
		conv = conv.ClearToolCalls()
		n.completeHandle(handle, conv, runhandle.CompletionResult{Kind: runhandle.CompletionFailed, Reason: "Tool execution depth limit exceeded"})
		return
	}

	pending := make([]conversation.ToolCallInfo, len(conv.ToolCalls))
	copy(pending, conv.ToolCalls)

	results := n.executeParallel(handle.Context(), pending)
	for i, r := range results {
		pending[i] = r
	}
	conv.ToolCalls = pending

	if handle.Cancelled() {
		return
	}
	if n.reg.GetHandle(handle.Key) != handle {
		return
	}

	toolMsg := conversation.NewToolCallMessage(ident.NewToolCallMessageID(), conv.ToolCalls, n.now())
	conv.Messages = append(conv.Messages, toolMsg)
	conv = conv.ClearToolCalls()

	endpoint := fmt.Sprintf(n.endpoint, handle.Key.RoomID, handle.Key.ThreadID)
	var resp transport.CreateRunResponse
	if err := n.transport.Post(handle.Context(), endpoint, map[string]any{"threadId": handle.Key.ThreadID}, &resp, 30*time.Second); err != nil {
		if handle.Cancelled() || n.reg.GetHandle(handle.Key) != handle {
			return
		}
		n.completeHandle(handle, conv, runhandle.CompletionResult{Kind: runhandle.CompletionFailed, Reason: err.Error()})
		return
	}
	if handle.Cancelled() || n.reg.GetHandle(handle.Key) != handle {
		return
	}

	wireMessages := toWireMessages(conv.Messages, conversation.Message{})
	streamEndpoint := endpoint + "/" + resp.RunID
	nextStream, err := n.transport.RunAgent(handle.Context(), streamEndpoint, transport.RunInput{
		ThreadID: handle.Key.ThreadID,
		RunID:    resp.RunID,
		Messages: wireMessages,
		State:    conv.AguiState,
	})
	if err != nil {
		if handle.Cancelled() || n.reg.GetHandle(handle.Key) != handle {
			return
		}
		n.completeHandle(handle, conv, runhandle.CompletionResult{Kind: runhandle.CompletionFailed, Reason: err.Error()})
		return
	}

	continuationCtx, cancel := context.WithCancel(context.Background())
	conv.Status = conversation.RunningStatus(resp.RunID)
	newHandle := runhandle.New(continuationCtx, cancel, handle.Key, resp.RunID, subscriptionAdapter{nextStream}, handle.UserMessageID, handle.PreviousAguiState, depth+1)
	newHandle.SetState(runhandle.Running(conv))

	if !n.reg.ReplaceRun(handle, newHandle) {
		newHandle.Dispose()
		return
	}

	n.mu.Lock()
	if n.currentHandle == handle {
		n.currentHandle = newHandle
	}
	n.mu.Unlock()

	if n.isViewed(handle.Key) {
		n.emitVisible(newHandle.State())
	}

	go n.driveRun(newHandle, nextStream, streaming.Awaiting())
}

// executeParallel runs each pending tool call through the tool registry
// with bounded concurrency, grounded on core_tool_scheduler.go's
// semaphore-bounded goroutine fan-out. A single tool's failure never
// fails the others (spec §4.4.4 step 2).
func (n *Notifier) executeParallel(ctx context.Context, pending []conversation.ToolCallInfo) []conversation.ToolCallInfo {
	out := make([]conversation.ToolCallInfo, len(pending))
	sem := make(chan struct{}, ToolParallelism)
	var wg sync.WaitGroup

	for i, tc := range pending {
		i, tc := i, tc
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				out[i] = tc.MarkFailed("tool execution aborted: run cancelled")
				return
			}
			out[i] = n.executeOne(ctx, tc)
		}()
	}
	wg.Wait()
	return out
}

func (n *Notifier) executeOne(ctx context.Context, tc conversation.ToolCallInfo) conversation.ToolCallInfo {
	def, lookupErr := n.toolset.Lookup(tc.Name)
	n.mu.Lock()
	gate := n.approval
	n.mu.Unlock()
	if lookupErr == nil && def.Def.RequiresApproval && gate != nil {
		ok, err := gate.Approve(ctx, tools.CallInfo{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments}, def.Def)
		if err != nil {
			return tc.MarkFailed(err.Error())
		}
		if !ok {
			return tc.MarkFailed("tool call denied by approval gate")
		}
	}

	result, err := n.toolset.Execute(ctx, tools.CallInfo{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
	if err != nil {
		return tc.MarkFailed(err.Error())
	}
	return tc.MarkCompleted(result)
}

// CancelRun implements spec §4.4.5's two-phase cancellation: the handle is
// marked Cancelled and completed through the registry before its
// subscription/cancel token is disposed (completeHandle disposes last).
// This ordering keeps onDone, if it races in from the in-flight stream,
// from observing a not-yet-removed handle and mislabeling the run a
// Success: by the time dispose fires (and stream.Recv starts erroring),
// the registry has already recorded Cancelled.
func (n *Notifier) CancelRun(key conversation.ThreadKey) {
	handle := n.reg.GetHandle(key)
	if handle == nil {
		return
	}
	conv := handle.State().Conversation
	conv.Status = conversation.CancelledStatus("Cancelled by user")
	result := runhandle.CompletionResult{Kind: runhandle.CompletionCancelled, Reason: "Cancelled by user"}

	n.completeHandle(handle, conv, result)
}

// subscriptionAdapter lets an EventStream satisfy runhandle.Subscription
// without runhandle importing the transport package.
type subscriptionAdapter struct {
	stream transport.EventStream
}

func (s subscriptionAdapter) Close() { s.stream.Close() }

// deepMergeOneLevel implements spec §4.4.1 step 5: for each top-level key
// in override, if both base and override hold a map there, merge one
// level deep with override winning on conflict; otherwise override
// replaces wholesale. base is never mutated.
func deepMergeOneLevel(base any, override map[string]any) any {
	if len(override) == 0 {
		return base
	}
	baseMap, ok := base.(map[string]any)
	if !ok {
		baseMap = map[string]any{}
	}
	merged := make(map[string]any, len(baseMap)+len(override))
	for k, v := range baseMap {
		merged[k] = v
	}
	for k, v := range override {
		if baseSub, ok := merged[k].(map[string]any); ok {
			if overrideSub, ok := v.(map[string]any); ok {
				sub := make(map[string]any, len(baseSub)+len(overrideSub))
				for sk, sv := range baseSub {
					sub[sk] = sv
				}
				for sk, sv := range overrideSub {
					sub[sk] = sv
				}
				merged[k] = sub
				continue
			}
		}
		merged[k] = v
	}
	return merged
}

func toWireMessages(history []conversation.Message, extra conversation.Message) []transport.WireMessage {
	out := make([]transport.WireMessage, 0, len(history)+1)
	for _, m := range history {
		out = append(out, wireOf(m))
	}
	if extra.ID != "" {
		out = append(out, wireOf(extra))
	}
	return out
}

func wireOf(m conversation.Message) transport.WireMessage {
	role := string(m.User)
	text := m.Text
	if m.Kind == conversation.MessageKindToolCall {
		role = "assistant"
	}
	return transport.WireMessage{ID: m.ID, Role: role, Text: text}
}
