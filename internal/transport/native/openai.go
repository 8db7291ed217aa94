// OpenAI variant of the native transport: drives the Responses streaming
// API directly instead of going through an AG-UI server.
//
// Grounded on the teacher's openAIProvider.StreamTurn
// (internal/ai/native_runtime.go): client.Responses.NewStreaming plus the
// response.output_item.added / response.function_call_arguments.delta|done
// / response.output_text.delta event-type switch and the itemID-keyed
// partialCall accumulator. Translated here into the same AG-UI events.Event
// values the Anthropic variant emits, so the rest of the core is agnostic
// to which model provider is behind the native transport.
package native

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/openai/openai-go"
	oresponses "github.com/openai/openai-go/responses"
	oshared "github.com/openai/openai-go/shared"

	"github.com/aguicore/runtime/internal/events"
	"github.com/aguicore/runtime/internal/transport"
)

// OpenAITransport implements transport.Transport over the Responses
// streaming API. Model selection is fixed at construction, matching the
// teacher's one-provider-per-TurnRequest.Model split.
type OpenAITransport struct {
	client openai.Client
	model  string
}

func NewOpenAI(client openai.Client, model string) *OpenAITransport {
	return &OpenAITransport{client: client, model: strings.TrimSpace(model)}
}

func (t *OpenAITransport) Post(ctx context.Context, endpoint string, body any, out any, timeout time.Duration) error {
	return fmt.Errorf("native transport: Post is not supported for endpoint %q", endpoint)
}

func (t *OpenAITransport) RunAgent(ctx context.Context, endpoint string, input transport.RunInput) (transport.EventStream, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	out := make(chan events.Event, 64)
	errc := make(chan error, 1)

	s := &stream{out: out, errc: errc, cancel: cancel}

	go s.runOpenAI(streamCtx, t.client, t.model, input)
	return s, nil
}

// partialCall tracks one in-flight function_call output item, keyed by
// item id, mirroring the teacher's partialCall/getPartial bookkeeping.
type partialCall struct {
	callID  string
	name    string
	args    strings.Builder
	started bool
	ended   bool
}

func (s *stream) runOpenAI(ctx context.Context, client openai.Client, model string, input transport.RunInput) {
	defer close(s.out)

	messageID := input.RunID + "_m1"
	textStarted := false
	partials := map[string]*partialCall{}

	emit := func(ev events.Event) {
		select {
		case s.out <- ev:
		case <-ctx.Done():
		}
	}

	getPartial := func(itemID string) *partialCall {
		itemID = strings.TrimSpace(itemID)
		if itemID == "" {
			return nil
		}
		if pc, ok := partials[itemID]; ok {
			return pc
		}
		pc := &partialCall{callID: itemID}
		partials[itemID] = pc
		return pc
	}

	emitStart := func(pc *partialCall) {
		if pc == nil || pc.started {
			return
		}
		pc.started = true
		emit(events.Event{Type: events.TypeToolCallStart, ToolCallID: pc.callID, Name: pc.name})
	}
	emitDelta := func(pc *partialCall, delta string) {
		if pc == nil || delta == "" {
			return
		}
		emitStart(pc)
		pc.args.WriteString(delta)
		emit(events.Event{Type: events.TypeToolCallArgs, ToolCallID: pc.callID, Delta: delta})
	}
	emitEnd := func(pc *partialCall) {
		if pc == nil || pc.ended {
			return
		}
		pc.ended = true
		emitStart(pc)
		emit(events.Event{Type: events.TypeToolCallEnd, ToolCallID: pc.callID})
	}

	emit(events.Event{Type: events.TypeRunStarted, ThreadID: input.ThreadID, RunID: input.RunID})

	inputItems := buildOpenAIInput(input.Messages)
	if len(inputItems) == 0 {
		inputItems = append(inputItems, oresponses.ResponseInputItemParamOfMessage("Continue.", oresponses.EasyInputMessageRoleUser))
	}
	params := oresponses.ResponseNewParams{
		Model: oshared.ResponsesModel(model),
		Input: oresponses.ResponseNewParamsInputUnion{OfInputItemList: inputItems},
	}

	rstream := client.Responses.NewStreaming(ctx, params)
	for rstream.Next() {
		if ctx.Err() != nil {
			break
		}
		event := rstream.Current()
		switch strings.TrimSpace(event.Type) {
		case "response.output_text.delta":
			delta := event.Delta.OfString
			if delta == "" {
				continue
			}
			if !textStarted {
				textStarted = true
				emit(events.Event{Type: events.TypeTextMessageStart, MessageID: messageID, Role: "assistant"})
			}
			emit(events.Event{Type: events.TypeTextMessageContent, MessageID: messageID, Delta: delta})

		case "response.output_item.added":
			item := event.Item
			if strings.TrimSpace(item.Type) != "function_call" {
				continue
			}
			pc := getPartial(item.ID)
			if cid := strings.TrimSpace(item.CallID); cid != "" {
				pc.callID = cid
			}
			if name := strings.TrimSpace(item.Name); name != "" {
				pc.name = name
			}
			emitStart(pc)
			if raw := strings.TrimSpace(item.Arguments); raw != "" {
				emitDelta(pc, raw)
			}

		case "response.function_call_arguments.delta":
			emitDelta(getPartial(event.ItemID), event.Delta.OfString)

		case "response.function_call_arguments.done":
			emitEnd(getPartial(event.ItemID))

		case "response.output_item.done":
			item := event.Item
			if strings.TrimSpace(item.Type) != "function_call" {
				continue
			}
			emitEnd(getPartial(item.ID))
		}
	}

	if textStarted {
		emit(events.Event{Type: events.TypeTextMessageEnd, MessageID: messageID})
	}

	if err := rstream.Err(); err != nil {
		s.errc <- err
		emit(events.Event{Type: events.TypeRunError, Message: err.Error()})
		return
	}
	emit(events.Event{Type: events.TypeRunFinished, ThreadID: input.ThreadID, RunID: input.RunID})
}

func buildOpenAIInput(wire []transport.WireMessage) oresponses.ResponseInputParam {
	items := make(oresponses.ResponseInputParam, 0, len(wire))
	for _, m := range wire {
		if m.Text == "" {
			continue
		}
		role := oresponses.EasyInputMessageRoleUser
		if strings.ToLower(m.Role) == "assistant" {
			role = oresponses.EasyInputMessageRoleAssistant
		}
		items = append(items, oresponses.ResponseInputItemParamOfMessage(m.Text, role))
	}
	return items
}
