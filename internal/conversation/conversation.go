// Package conversation holds the per-thread transcript the reducer folds
// events into: messages, in-flight tool calls, the shared aguiState
// document, and per-user-message metadata.
package conversation

import "time"

type ThreadKey struct {
	ServerID string
	RoomID   string
	ThreadID string
}

// NewThreadKey defaults ServerID to "default" for single-server deployments.
func NewThreadKey(serverID, roomID, threadID string) ThreadKey {
	if serverID == "" {
		serverID = "default"
	}
	return ThreadKey{ServerID: serverID, RoomID: roomID, ThreadID: threadID}
}

type StatusKind string

const (
	StatusIdle      StatusKind = "idle"
	StatusRunning   StatusKind = "running"
	StatusCompleted StatusKind = "completed"
	StatusFailed    StatusKind = "failed"
	StatusCancelled StatusKind = "cancelled"
)

// Status is the run-status variant on Conversation (spec §3.2). Only the
// field relevant to Kind is meaningful.
type Status struct {
	Kind        StatusKind
	RunID       string // Running
	FailureMsg  string // Failed
	CancelReason string // Cancelled
}

func IdleStatus() Status                  { return Status{Kind: StatusIdle} }
func RunningStatus(runID string) Status   { return Status{Kind: StatusRunning, RunID: runID} }
func CompletedStatus() Status             { return Status{Kind: StatusCompleted} }
func FailedStatus(msg string) Status      { return Status{Kind: StatusFailed, FailureMsg: msg} }
func CancelledStatus(reason string) Status {
	return Status{Kind: StatusCancelled, CancelReason: reason}
}

type MessageUser string

const (
	UserRoleUser      MessageUser = "user"
	UserRoleAssistant MessageUser = "assistant"
	UserRoleSystem    MessageUser = "system"
)

// MessageKind discriminates the Message variants (spec §3.3).
type MessageKind string

const (
	MessageKindText     MessageKind = "text"
	MessageKindToolCall MessageKind = "tool_call"
)

// Message is the tagged union of TextMessage and ToolCallMessage. Exactly
// one of the variant-specific field groups is populated, selected by Kind.
type Message struct {
	Kind MessageKind

	ID        string
	CreatedAt time.Time

	// TextMessage fields.
	User         MessageUser
	Text         string
	ThinkingText string

	// ToolCallMessage fields. User is always UserRoleAssistant.
	ToolCalls []ToolCallInfo
}

func NewTextMessage(id string, user MessageUser, text, thinkingText string, createdAt time.Time) Message {
	return Message{
		Kind:         MessageKindText,
		ID:           id,
		User:         user,
		Text:         text,
		ThinkingText: thinkingText,
		CreatedAt:    createdAt,
	}
}

// NewToolCallMessage requires every entry in toolCalls to already be in a
// terminal status (completed or failed); callers are responsible for that
// invariant (spec §3.3) since the constructor itself stays pure.
func NewToolCallMessage(id string, toolCalls []ToolCallInfo, createdAt time.Time) Message {
	cp := make([]ToolCallInfo, len(toolCalls))
	copy(cp, toolCalls)
	return Message{
		Kind:      MessageKindToolCall,
		ID:        id,
		User:      UserRoleAssistant,
		ToolCalls: cp,
		CreatedAt: createdAt,
	}
}

type ToolCallStatus string

const (
	ToolCallStreaming ToolCallStatus = "streaming"
	ToolCallPending   ToolCallStatus = "pending"
	ToolCallExecuting ToolCallStatus = "executing"
	ToolCallCompleted ToolCallStatus = "completed"
	ToolCallFailed    ToolCallStatus = "failed"
)

// IsTerminal reports whether status can no longer be advanced by the state
// machine in spec §3.4.
func (s ToolCallStatus) IsTerminal() bool {
	return s == ToolCallCompleted || s == ToolCallFailed
}

// ToolCallInfo tracks one tool invocation through streaming -> pending ->
// executing -> {completed, failed}. Terminal states are never downgraded.
type ToolCallInfo struct {
	ID        string
	Name      string
	Arguments string
	Result    string
	HasResult bool
	Status    ToolCallStatus
}

// AdvanceToEnd applies the ToolCallEnd transition: streaming -> pending.
// Any other current status is left untouched (spec §3.4: "never downgrade
// a tool that is already pending, executing, completed, or failed").
func (t ToolCallInfo) AdvanceToEnd() ToolCallInfo {
	if t.Status == ToolCallStreaming {
		t.Status = ToolCallPending
	}
	return t
}

// MarkExecuting moves a pending tool call into executing. No-op otherwise.
func (t ToolCallInfo) MarkExecuting() ToolCallInfo {
	if t.Status == ToolCallPending {
		t.Status = ToolCallExecuting
	}
	return t
}

func (t ToolCallInfo) MarkCompleted(result string) ToolCallInfo {
	if t.Status.IsTerminal() {
		return t
	}
	t.Status = ToolCallCompleted
	t.Result = result
	t.HasResult = true
	return t
}

func (t ToolCallInfo) MarkFailed(errMsg string) ToolCallInfo {
	if t.Status.IsTerminal() {
		return t
	}
	t.Status = ToolCallFailed
	t.Result = errMsg
	t.HasResult = true
	return t
}

// MessageState correlates per-user-message metadata: citations discovered
// during the run and the run that produced them (spec §3.2, §4.4.7).
type MessageState struct {
	UserMessageID    string
	SourceReferences []SourceReference
	RunID            string
}

// SourceReference is one citation/source reference surfaced by the
// schema-firewalled extractor.
type SourceReference struct {
	URL   string
	Title string
}

// Conversation is the per-thread transcript. aguiState is held as a plain
// value (map[string]any tree) — callers must treat it as immutable and
// replace rather than mutate in place, per spec §3.2's "pure value, no
// aliasing" invariant.
type Conversation struct {
	ThreadID      string
	Messages      []Message
	ToolCalls     []ToolCallInfo
	AguiState     any
	MessageStates map[string]MessageState
	Status        Status
}

// New returns an empty idle conversation for threadID.
func New(threadID string) Conversation {
	return Conversation{
		ThreadID:      threadID,
		Messages:      nil,
		ToolCalls:     nil,
		AguiState:     map[string]any{},
		MessageStates: map[string]MessageState{},
		Status:        IdleStatus(),
	}
}

// Clone returns a conversation with its own top-level Messages, ToolCalls
// and MessageStates containers, so callers can treat every reducer step as
// producing a fresh value per spec §4.1's purity requirement. The copy is
// shallow below that: AguiState and each message's ToolCalls slice are
// shared with the receiver.
func (c Conversation) Clone() Conversation {
	out := c
	if c.Messages != nil {
		out.Messages = append([]Message(nil), c.Messages...)
	}
	if c.ToolCalls != nil {
		out.ToolCalls = append([]ToolCallInfo(nil), c.ToolCalls...)
	}
	if c.MessageStates != nil {
		ms := make(map[string]MessageState, len(c.MessageStates))
		for k, v := range c.MessageStates {
			ms[k] = v
		}
		out.MessageStates = ms
	}
	return out
}

// FindToolCall returns the index of the tool call with the given id, or -1.
func (c Conversation) FindToolCall(id string) int {
	for i := range c.ToolCalls {
		if c.ToolCalls[i].ID == id {
			return i
		}
	}
	return -1
}

// PendingToolCalls returns the subset of ToolCalls currently in pending
// status, preserving order.
func (c Conversation) PendingToolCalls() []ToolCallInfo {
	var out []ToolCallInfo
	for _, tc := range c.ToolCalls {
		if tc.Status == ToolCallPending {
			out = append(out, tc)
		}
	}
	return out
}

// ClearToolCalls empties the transient tool-call slice, used once entries
// have been consumed into a ToolCallMessage (spec §3.2).
func (c Conversation) ClearToolCalls() Conversation {
	c.ToolCalls = nil
	return c
}
