package notifier

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/aguicore/runtime/internal/conversation"
	"github.com/aguicore/runtime/internal/events"
	"github.com/aguicore/runtime/internal/historycache/memcache"
	"github.com/aguicore/runtime/internal/registry"
	"github.com/aguicore/runtime/internal/runhandle"
	"github.com/aguicore/runtime/internal/tools"
	"github.com/aguicore/runtime/internal/transport"
)

// fakeStream replays a fixed event script then, once exhausted, blocks
// until Close is called (modeling a live but idle stream) so tests
// exercising cancellation mid-run aren't racing a spontaneous EOF.
type fakeStream struct {
	mu     sync.Mutex
	events []events.Event
	idx    int
	closed bool
	doneCh chan struct{}
}

func newFakeStream(events []events.Event) *fakeStream {
	return &fakeStream{events: events, doneCh: make(chan struct{})}
}

func (s *fakeStream) Recv() (events.Event, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return events.Event{}, io.EOF
	}
	if s.idx < len(s.events) {
		ev := s.events[s.idx]
		s.idx++
		s.mu.Unlock()
		return ev, nil
	}
	s.mu.Unlock()
	<-s.doneCh
	return events.Event{}, io.EOF
}

func (s *fakeStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.doneCh)
}

// fakeTransport hands out scripted streams keyed by call order.
type fakeTransport struct {
	mu      sync.Mutex
	scripts [][]events.Event
	calls   int
	runIDs  []string
}

func (t *fakeTransport) Post(ctx context.Context, endpoint string, body any, out any, timeout time.Duration) error {
	if resp, ok := out.(*transport.CreateRunResponse); ok {
		t.mu.Lock()
		id := "run_auto"
		if len(t.runIDs) > 0 {
			id = t.runIDs[0]
			t.runIDs = t.runIDs[1:]
		}
		t.mu.Unlock()
		resp.RunID = id
	}
	return nil
}

func (t *fakeTransport) RunAgent(ctx context.Context, endpoint string, input transport.RunInput) (transport.EventStream, error) {
	t.mu.Lock()
	idx := t.calls
	t.calls++
	t.mu.Unlock()
	if idx >= len(t.scripts) {
		return newFakeStream(nil), nil
	}
	return newFakeStream(t.scripts[idx]), nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func TestStartRunHappyPathCompletesSuccess(t *testing.T) {
	tr := &fakeTransport{scripts: [][]events.Event{
		{
			{Type: events.TypeRunStarted, RunID: "run_1"},
			{Type: events.TypeTextMessageStart, MessageID: "m1", Role: "assistant"},
			{Type: events.TypeTextMessageContent, MessageID: "m1", Delta: "hi"},
			{Type: events.TypeTextMessageEnd, MessageID: "m1"},
			{Type: events.TypeRunFinished},
		},
	}}
	reg := registry.New(nil)
	cache := memcache.New()

	var states []runhandle.ActiveRunState
	var mu sync.Mutex
	n := New(Options{
		Transport: tr,
		Registry:  reg,
		Cache:     cache,
		Tools:     tools.Empty(),
		OnState: func(s runhandle.ActiveRunState) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		},
	})

	key := conversation.NewThreadKey("", "room1", "thread1")
	n.View(key)

	if err := n.StartRun(context.Background(), key, "hello", "", nil); err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, s := range states {
			if s.Kind == runhandle.StateCompleted {
				return true
			}
		}
		return false
	})

	mu.Lock()
	defer mu.Unlock()
	final := states[len(states)-1]
	if final.Kind != runhandle.StateCompleted {
		t.Fatalf("expected terminal Completed state, got %v", final.Kind)
	}
	if final.Completion.Kind != runhandle.CompletionSuccess {
		t.Fatalf("expected Success, got %v", final.Completion.Kind)
	}
	if len(final.Conversation.Messages) != 2 {
		t.Fatalf("unexpected messages: %#v", final.Conversation.Messages)
	}
	if final.Conversation.Messages[0].User != conversation.UserRoleUser || final.Conversation.Messages[0].Text != "hello" {
		t.Fatalf("expected first message to be the user's own turn, got %#v", final.Conversation.Messages[0])
	}
	if final.Conversation.Messages[1].User != conversation.UserRoleAssistant || final.Conversation.Messages[1].Text != "hi" {
		t.Fatalf("expected second message to be the assistant reply, got %#v", final.Conversation.Messages[1])
	}
}

func TestStartRunConcurrentGuard(t *testing.T) {
	tr := &fakeTransport{scripts: [][]events.Event{{{Type: events.TypeRunFinished}}}}
	n := New(Options{
		Transport: tr,
		Registry:  registry.New(nil),
		Cache:     memcache.New(),
		Tools:     tools.Empty(),
	})

	n.mu.Lock()
	n.starting = true
	n.mu.Unlock()

	key := conversation.NewThreadKey("", "r", "t")
	if err := n.StartRun(context.Background(), key, "hi", "", nil); err != ErrConcurrentStart {
		t.Fatalf("expected ErrConcurrentStart, got %v", err)
	}
}

func TestPendingToolCallsTriggerExecuteAndContinue(t *testing.T) {
	tr := &fakeTransport{
		runIDs: []string{"run_1", "run_2"},
		scripts: [][]events.Event{
			{
				{Type: events.TypeToolCallStart, ToolCallID: "tc1", Name: "echo"},
				{Type: events.TypeToolCallArgs, ToolCallID: "tc1", Delta: `{"msg":"hi"}`},
				{Type: events.TypeToolCallEnd, ToolCallID: "tc1"},
				{Type: events.TypeRunFinished},
			},
			{
				{Type: events.TypeTextMessageStart, MessageID: "m2", Role: "assistant"},
				{Type: events.TypeTextMessageContent, MessageID: "m2", Delta: "done"},
				{Type: events.TypeTextMessageEnd, MessageID: "m2"},
				{Type: events.TypeRunFinished},
			},
		},
	}

	reg := tools.Empty()
	reg, err := reg.Register(tools.ToolDef{Name: "echo", Source: "builtin", Priority: 1}, tools.ExecutorFunc(
		func(ctx context.Context, toolCallID, name, rawArgs string) (string, error) {
			return "echoed:" + rawArgs, nil
		}))
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	var states []runhandle.ActiveRunState
	var mu sync.Mutex
	n := New(Options{
		Transport: tr,
		Registry:  registry.New(nil),
		Cache:     memcache.New(),
		Tools:     reg,
		OnState: func(s runhandle.ActiveRunState) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		},
	})

	key := conversation.NewThreadKey("", "room", "thread")
	n.View(key)
	if err := n.StartRun(context.Background(), key, "go", "", nil); err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, s := range states {
			if s.Kind == runhandle.StateCompleted {
				return true
			}
		}
		return false
	})

	mu.Lock()
	defer mu.Unlock()
	var sawExecuting bool
	for _, s := range states {
		if s.Kind == runhandle.StateExecutingTools {
			sawExecuting = true
		}
	}
	if !sawExecuting {
		t.Fatalf("expected an ExecutingTools projection, got %#v", states)
	}

	final := states[len(states)-1]
	var foundToolMsg bool
	for _, m := range final.Conversation.Messages {
		if m.Kind == conversation.MessageKindToolCall {
			foundToolMsg = true
			if len(m.ToolCalls) != 1 || m.ToolCalls[0].Result != `echoed:{"msg":"hi"}` {
				t.Fatalf("unexpected tool call result: %#v", m.ToolCalls)
			}
		}
	}
	if !foundToolMsg {
		t.Fatalf("expected a synthesized tool-call message in %#v", final.Conversation.Messages)
	}
}

func TestCancelRunMarksCancelledNotSuccess(t *testing.T) {
	tr := &fakeTransport{scripts: [][]events.Event{{
		{Type: events.TypeRunStarted, RunID: "run_1"},
	}}}
	reg := registry.New(nil)
	n := New(Options{
		Transport: tr,
		Registry:  reg,
		Cache:     memcache.New(),
		Tools:     tools.Empty(),
	})

	lifecycle, unsub := reg.Subscribe()
	defer unsub()

	key := conversation.NewThreadKey("", "r", "t")
	n.View(key)
	if err := n.StartRun(context.Background(), key, "hi", "", nil); err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	waitFor(t, func() bool { return reg.GetHandle(key) != nil })

	n.CancelRun(key)

	handle := reg.GetHandle(key)
	if handle != nil {
		t.Fatalf("expected handle removed from registry after cancel")
	}

	for {
		select {
		case ev := <-lifecycle:
			if ev.Kind != registry.LifecycleRunCompleted {
				continue
			}
			if ev.Result.Kind != runhandle.CompletionCancelled {
				t.Fatalf("expected run completed as cancelled, got %#v", ev.Result)
			}
			return
		case <-time.After(time.Second):
			t.Fatalf("no run-completed lifecycle event after cancel")
		}
	}
}
