// Package native implements transport.Transport by driving an
// anthropic-sdk-go streaming call directly and translating its content
// block events into AG-UI wire events, bypassing a separate AG-UI server.
//
// Grounded on the teacher's anthropicProvider.StreamTurn
// (internal/ai/native_runtime.go): client.Messages.NewStreaming,
// msg.Accumulate, and the ContentBlockStart/Delta/Stop switch over
// anthropic.TextDelta/InputJSONDelta/ThinkingDelta. There the accumulated
// result feeds a provider-agnostic StreamEvent callback; here the same
// accumulation loop feeds AG-UI events.Event values onto a channel so the
// rest of the core never knows it isn't talking to a real AG-UI server.
package native

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"

	"github.com/aguicore/runtime/internal/events"
	"github.com/aguicore/runtime/internal/transport"
)

type Transport struct {
	client anthropic.Client
}

func New(client anthropic.Client) *Transport {
	return &Transport{client: client}
}

// Post has no meaning for the native transport: createRun/thread listing
// are AG-UI-server concerns this adapter bypasses entirely. Callers using
// the native transport must synthesize run ids locally (see
// SPEC_FULL.md §4.A) rather than calling Post.
func (t *Transport) Post(ctx context.Context, endpoint string, body any, out any, timeout time.Duration) error {
	return fmt.Errorf("native transport: Post is not supported for endpoint %q", endpoint)
}

func (t *Transport) RunAgent(ctx context.Context, endpoint string, input transport.RunInput) (transport.EventStream, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	out := make(chan events.Event, 64)
	errc := make(chan error, 1)

	s := &stream{out: out, errc: errc, cancel: cancel}

	go s.run(streamCtx, t.client, input)
	return s, nil
}

type stream struct {
	out    chan events.Event
	errc   chan error
	cancel context.CancelFunc
	closed atomic.Bool
}

func (s *stream) Recv() (events.Event, error) {
	ev, ok := <-s.out
	if ok {
		return ev, nil
	}
	select {
	case err := <-s.errc:
		if err != nil {
			return events.Event{}, err
		}
	default:
	}
	return events.Event{}, errStreamDone
}

func (s *stream) Close() {
	if s.closed.CompareAndSwap(false, true) {
		s.cancel()
	}
}

var errStreamDone = fmt.Errorf("native: stream closed")

func (s *stream) run(ctx context.Context, client anthropic.Client, input transport.RunInput) {
	defer close(s.out)

	messageID := input.RunID + "_m1"
	toolCallIDByIndex := map[int64]string{}
	textStarted := false
	thinkingStarted := false

	emit := func(ev events.Event) {
		select {
		case s.out <- ev:
		case <-ctx.Done():
		}
	}

	emit(events.Event{Type: events.TypeRunStarted, ThreadID: input.ThreadID, RunID: input.RunID})

	params := anthropic.MessageNewParams{
		Messages: buildMessages(input.Messages),
	}

	msgStream := client.Messages.NewStreaming(ctx, params)
	msg := anthropic.Message{}

	for msgStream.Next() {
		if ctx.Err() != nil {
			break
		}
		event := msgStream.Current()
		if err := msg.Accumulate(event); err != nil {
			s.errc <- err
			emit(events.Event{Type: events.TypeRunError, Message: err.Error()})
			return
		}

		switch variant := event.AsAny().(type) {
		case anthropic.ContentBlockStartEvent:
			if strings.TrimSpace(variant.ContentBlock.Type) == "tool_use" {
				callID := strings.TrimSpace(variant.ContentBlock.ID)
				toolCallIDByIndex[variant.Index] = callID
				emit(events.Event{Type: events.TypeToolCallStart, ToolCallID: callID, Name: strings.TrimSpace(variant.ContentBlock.Name)})
			}

		case anthropic.ContentBlockDeltaEvent:
			switch delta := variant.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if delta.Text == "" {
					continue
				}
				if !textStarted {
					textStarted = true
					emit(events.Event{Type: events.TypeTextMessageStart, MessageID: messageID, Role: "assistant"})
				}
				emit(events.Event{Type: events.TypeTextMessageContent, MessageID: messageID, Delta: delta.Text})
			case anthropic.InputJSONDelta:
				if delta.PartialJSON == "" {
					continue
				}
				if callID, ok := toolCallIDByIndex[variant.Index]; ok {
					emit(events.Event{Type: events.TypeToolCallArgs, ToolCallID: callID, Delta: delta.PartialJSON})
				}
			case anthropic.ThinkingDelta:
				if strings.TrimSpace(delta.Thinking) == "" {
					continue
				}
				if !thinkingStarted {
					thinkingStarted = true
					emit(events.Event{Type: events.TypeThinkingTextMessageStart})
				}
				emit(events.Event{Type: events.TypeThinkingTextMessageContent, Delta: delta.Thinking})
			}

		case anthropic.ContentBlockStopEvent:
			if callID, ok := toolCallIDByIndex[variant.Index]; ok {
				emit(events.Event{Type: events.TypeToolCallEnd, ToolCallID: callID})
				delete(toolCallIDByIndex, variant.Index)
			}
		}
	}

	if thinkingStarted {
		emit(events.Event{Type: events.TypeThinkingTextMessageEnd})
	}
	if textStarted {
		emit(events.Event{Type: events.TypeTextMessageEnd, MessageID: messageID})
	}

	if err := msgStream.Err(); err != nil {
		s.errc <- err
		emit(events.Event{Type: events.TypeRunError, Message: err.Error()})
		return
	}
	emit(events.Event{Type: events.TypeRunFinished, ThreadID: input.ThreadID, RunID: input.RunID})
}

func buildMessages(wire []transport.WireMessage) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(wire))
	for _, m := range wire {
		if m.Text == "" {
			continue
		}
		switch strings.ToLower(m.Role) {
		case "assistant":
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Text)))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Text)))
		}
	}
	return out
}

// marshalArgs is retained for callers that need to re-serialize
// accumulated tool-call input outside the streaming loop (e.g. logging).
func marshalArgs(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
