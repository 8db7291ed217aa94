// Package streaming holds the transient per-active-run text/thinking
// accumulation state the reducer threads alongside the Conversation.
package streaming

import "github.com/aguicore/runtime/internal/conversation"

type ActivityKind string

const (
	ActivityNone     ActivityKind = ""
	ActivityThinking ActivityKind = "thinking"
	ActivityToolCall ActivityKind = "tool_call"
)

// Activity is the transient UI hint accumulated across a run (spec §3.5).
// It never affects reducer correctness.
type Activity struct {
	Kind         ActivityKind
	AllToolNames map[string]struct{}
}

func NoActivity() Activity { return Activity{Kind: ActivityNone} }

func ThinkingActivity() Activity { return Activity{Kind: ActivityThinking} }

// WithToolName returns an updated ToolCallActivity with name added to the
// accumulated set, creating the set if this is the first tool call seen.
func (a Activity) WithToolName(name string) Activity {
	names := make(map[string]struct{}, len(a.AllToolNames)+1)
	for n := range a.AllToolNames {
		names[n] = struct{}{}
	}
	if name != "" {
		names[name] = struct{}{}
	}
	return Activity{Kind: ActivityToolCall, AllToolNames: names}
}

type Kind string

const (
	KindAwaitingText  Kind = "awaiting_text"
	KindTextStreaming Kind = "text_streaming"
)

// State is the StreamingState variant from spec §3.5. Only the fields for
// the active Kind are meaningful.
type State struct {
	Kind Kind

	// AwaitingText fields.
	CurrentActivity Activity

	// Shared by both variants.
	BufferedThinkingText string
	IsThinkingStreaming  bool

	// TextStreaming-only fields.
	MessageID string
	User      conversation.MessageUser
	Text      string
}

// Awaiting is the initial/reset streaming state for a run.
func Awaiting() State {
	return State{Kind: KindAwaitingText, CurrentActivity: NoActivity()}
}

// StartText transitions AwaitingText into TextStreaming, carrying any
// buffered thinking text into the new message (spec §4.1 TextMessageStart).
func (s State) StartText(messageID string, user conversation.MessageUser) State {
	return State{
		Kind:                 KindTextStreaming,
		MessageID:            messageID,
		User:                 user,
		Text:                 "",
		BufferedThinkingText: s.BufferedThinkingText,
		IsThinkingStreaming:  s.IsThinkingStreaming,
	}
}

// AppendTextDelta appends delta to the streaming text if s is TextStreaming
// for messageID; otherwise returns s unchanged (ignored per spec §4.1).
func (s State) AppendTextDelta(messageID, delta string) State {
	if s.Kind != KindTextStreaming || s.MessageID != messageID {
		return s
	}
	s.Text += delta
	return s
}

// EndText reports whether s is TextStreaming for messageID (the caller uses
// this to decide whether to finalize a TextMessage) and returns the reset
// AwaitingText state to use afterward.
func (s State) EndText(messageID string) (matched bool, thinkingText string, text string, user conversation.MessageUser, next State) {
	if s.Kind != KindTextStreaming || s.MessageID != messageID {
		return false, "", "", "", s
	}
	return true, s.BufferedThinkingText, s.Text, s.User, Awaiting()
}

// StartThinking sets isThinkingStreaming and the ThinkingActivity hint;
// valid in either variant (spec §4.1 ThinkingTextMessageStart).
func (s State) StartThinking() State {
	s.IsThinkingStreaming = true
	if s.Kind == KindAwaitingText {
		s.CurrentActivity = ThinkingActivity()
	}
	return s
}

// AppendThinkingDelta appends to the buffered thinking text, valid in
// either variant.
func (s State) AppendThinkingDelta(delta string) State {
	s.BufferedThinkingText += delta
	return s
}

// EndThinking clears isThinkingStreaming; buffered text survives and is
// later carried into the next TextStreaming (spec §4.1).
func (s State) EndThinking() State {
	s.IsThinkingStreaming = false
	return s
}

// WithToolCallActivity records a tool name into the accumulated activity
// hint. Valid in AwaitingText (spec §3.5 — activity lives alongside the
// awaiting variant's currentActivity field).
func (s State) WithToolCallActivity(name string) State {
	if s.Kind == KindAwaitingText {
		s.CurrentActivity = s.CurrentActivity.WithToolName(name)
	}
	return s
}
