// Package reducer implements the pure event processor: the single function
// that folds one AG-UI event into a (Conversation, StreamingState) pair.
package reducer

import (
	"time"

	"github.com/aguicore/runtime/internal/conversation"
	"github.com/aguicore/runtime/internal/events"
	"github.com/aguicore/runtime/internal/jsonpatch"
	"github.com/aguicore/runtime/internal/streaming"
)

// Clock lets callers stamp finalized messages deterministically in tests;
// production code passes time.Now.
type Clock func() time.Time

// Process applies one event to (conversation, streamState) and returns the
// resulting pair. It is deterministic and pure: concurrent invocation on
// disjoint (conversation, streamState) pairs is safe, and on shared input it
// never mutates conv or ss in place (see conversation.Conversation.Clone).
func Process(conv conversation.Conversation, ss streaming.State, ev events.Event, now Clock) (conversation.Conversation, streaming.State) {
	if now == nil {
		now = time.Now
	}
	conv = conv.Clone()

	switch ev.Type {
	case events.TypeRunStarted:
		conv.Status = conversation.RunningStatus(ev.RunID)

	case events.TypeRunFinished:
		conv.Status = conversation.CompletedStatus()

	case events.TypeRunError:
		conv.Status = conversation.FailedStatus(ev.Message)

	case events.TypeStepStarted, events.TypeStepFinished:
		// no-op on conversation; no activity hint carried by step events.

	case events.TypeTextMessageStart:
		user := events.MapRole(ev.Role)
		ss = ss.StartText(ev.MessageID, mapUser(user))

	case events.TypeTextMessageContent:
		if ev.Delta == "" {
			break
		}
		ss = ss.AppendTextDelta(ev.MessageID, ev.Delta)

	case events.TypeTextMessageEnd:
		matched, thinkingText, text, user, next := ss.EndText(ev.MessageID)
		if matched {
			conv.Messages = append(conv.Messages, conversation.NewTextMessage(ev.MessageID, user, text, thinkingText, now()))
		}
		ss = next

	case events.TypeThinkingTextMessageStart:
		ss = ss.StartThinking()

	case events.TypeThinkingTextMessageContent:
		if ev.Delta == "" {
			break
		}
		ss = ss.AppendThinkingDelta(ev.Delta)

	case events.TypeThinkingTextMessageEnd:
		ss = ss.EndThinking()

	case events.TypeToolCallStart:
		conv.ToolCalls = append(conv.ToolCalls, conversation.ToolCallInfo{
			ID:     ev.ToolCallID,
			Name:   ev.Name,
			Status: conversation.ToolCallStreaming,
		})
		ss = ss.WithToolCallActivity(ev.Name)

	case events.TypeToolCallArgs:
		if ev.Delta == "" {
			break
		}
		idx := conv.FindToolCall(ev.ToolCallID)
		if idx < 0 || conv.ToolCalls[idx].Status != conversation.ToolCallStreaming {
			break
		}
		conv.ToolCalls[idx].Arguments += ev.Delta

	case events.TypeToolCallEnd:
		idx := conv.FindToolCall(ev.ToolCallID)
		if idx < 0 {
			break
		}
		conv.ToolCalls[idx] = conv.ToolCalls[idx].AdvanceToEnd()

	case events.TypeToolCallResult:
		// Server-initiated results are out of scope for the client-side
		// tool-execution loop; passthrough only, no state change.

	case events.TypeStateSnapshot:
		conv.AguiState = ev.Snapshot

	case events.TypeStateDelta:
		result := jsonpatch.ApplyAll(conv.AguiState, toPatchOps(ev.Patches))
		if result.Success {
			conv.AguiState = result.State
		}
		// On failure the engine guarantees state=previous; conv.AguiState
		// is left untouched either way.

	case events.TypeMessagesSnapshot,
		events.TypeActivitySnapshot,
		events.TypeActivityDelta,
		events.TypeCustom,
		events.TypeUnknown:
		// passthrough: conversation and streaming unchanged.

	default:
		// Unrecognized known-package constant added without a reducer
		// branch: treat as passthrough rather than panic.
	}

	return conv, ss
}

func mapUser(r events.Role) conversation.MessageUser {
	switch r {
	case events.RoleUser:
		return conversation.UserRoleUser
	case events.RoleSystem:
		return conversation.UserRoleSystem
	default:
		return conversation.UserRoleAssistant
	}
}

func toPatchOps(ops []events.PatchOp) []jsonpatch.Operation {
	out := make([]jsonpatch.Operation, len(ops))
	for i, op := range ops {
		out[i] = jsonpatch.Operation{
			Op:    op.Op,
			Path:  op.Path,
			From:  op.From,
			Value: op.Value,
		}
	}
	return out
}
