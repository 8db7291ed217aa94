package events

import (
	"encoding/json"
	"fmt"
)

// wireEvent is the on-the-wire shape. Keeping it distinct from Event lets
// DecodeJSON degrade missing required fields gracefully (spec.md §6.2)
// before producing the public Event value.
type wireEvent struct {
	Type       string    `json:"type"`
	ThreadID   string    `json:"threadId"`
	RunID      string    `json:"runId"`
	MessageID  string    `json:"messageId"`
	ToolCallID string    `json:"toolCallId"`
	StepName   string    `json:"stepName"`
	Role       string    `json:"role"`
	Delta      string    `json:"delta"`
	Name       string    `json:"name"`
	Message    string    `json:"message"`
	Code       string    `json:"code"`
	Content    string    `json:"content"`
	Snapshot   any       `json:"snapshot"`
	Patches    []PatchOp `json:"patches"`
	DeltaType  string    `json:"delta_type"`
	DeltaPath  string    `json:"delta_path"`
	DeltaValue any       `json:"delta_value"`
	Messages   any       `json:"messages"`
	Activity   any       `json:"activity"`
	Custom     any       `json:"custom"`
}

var knownTypes = map[string]Type{
	string(TypeRunStarted):                 TypeRunStarted,
	string(TypeRunFinished):                TypeRunFinished,
	string(TypeRunError):                   TypeRunError,
	string(TypeStepStarted):                TypeStepStarted,
	string(TypeStepFinished):               TypeStepFinished,
	string(TypeTextMessageStart):           TypeTextMessageStart,
	string(TypeTextMessageContent):         TypeTextMessageContent,
	string(TypeTextMessageEnd):             TypeTextMessageEnd,
	string(TypeThinkingTextMessageStart):   TypeThinkingTextMessageStart,
	string(TypeThinkingTextMessageContent): TypeThinkingTextMessageContent,
	string(TypeThinkingTextMessageEnd):     TypeThinkingTextMessageEnd,
	string(TypeToolCallStart):              TypeToolCallStart,
	string(TypeToolCallArgs):               TypeToolCallArgs,
	string(TypeToolCallEnd):                TypeToolCallEnd,
	string(TypeToolCallResult):             TypeToolCallResult,
	string(TypeStateSnapshot):              TypeStateSnapshot,
	string(TypeStateDelta):                 TypeStateDelta,
	string(TypeActivitySnapshot):           TypeActivitySnapshot,
	string(TypeActivityDelta):              TypeActivityDelta,
	string(TypeMessagesSnapshot):           TypeMessagesSnapshot,
	string(TypeCustom):                     TypeCustom,
}

// DecodeJSON parses one wire event. Unknown "type" values yield
// TypeUnknown{RawType, RawJSON} rather than an error (spec.md §6.2); missing
// fields on known types degrade to zero values, never an error. Input that
// is not valid JSON returns an error (the httpsse stream turns that into a
// TypeUnknown event).
func DecodeJSON(raw []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return Event{}, fmt.Errorf("events: malformed json: %w", err)
	}

	t, ok := knownTypes[w.Type]
	if !ok {
		cp := make([]byte, len(raw))
		copy(cp, raw)
		return Event{Type: TypeUnknown, RawType: w.Type, RawJSON: cp}, nil
	}

	ev := Event{
		Type:       t,
		ThreadID:   w.ThreadID,
		RunID:      w.RunID,
		MessageID:  w.MessageID,
		ToolCallID: w.ToolCallID,
		StepName:   w.StepName,
		Role:       w.Role,
		Delta:      w.Delta,
		Name:       w.Name,
		Message:    w.Message,
		Code:       w.Code,
		Content:    w.Content,
		Snapshot:   w.Snapshot,
		Patches:    w.Patches,
		DeltaType:  w.DeltaType,
		DeltaPath:  w.DeltaPath,
		DeltaValue: w.DeltaValue,
		Messages:   w.Messages,
		Activity:   w.Activity,
		Custom:     w.Custom,
	}

	if t == TypeRunError && ev.Message == "" {
		ev.Message = "Unknown error"
	}

	if t == TypeStateDelta {
		ev.Patches = normalizeDelta(ev)
	}

	return ev, nil
}

// normalizeDelta folds the legacy flat delta_type/delta_path/delta_value
// form into the canonical array-of-ops form (spec.md §4.2), leaving an
// already-canonical Patches slice untouched.
func normalizeDelta(ev Event) []PatchOp {
	if len(ev.Patches) > 0 {
		return ev.Patches
	}
	if ev.DeltaType == "" && ev.DeltaPath == "" {
		return ev.Patches
	}
	return []PatchOp{{
		Op:    ev.DeltaType,
		Path:  ev.DeltaPath,
		Value: ev.DeltaValue,
	}}
}

// EncodeJSON renders an event back to its wire form. For TypeUnknown it
// returns the original captured payload byte-for-byte, which together with
// DecodeJSON satisfies the decode-encode round-trip bijection required by
// spec.md §6.2.
func EncodeJSON(ev Event) ([]byte, error) {
	if ev.Type == TypeUnknown {
		return ev.RawJSON, nil
	}
	// Event's own tags carry omitempty, so fields the input lacked stay absent.
	w := Event{
		Type:       ev.Type,
		ThreadID:   ev.ThreadID,
		RunID:      ev.RunID,
		MessageID:  ev.MessageID,
		ToolCallID: ev.ToolCallID,
		StepName:   ev.StepName,
		Role:       ev.Role,
		Delta:      ev.Delta,
		Name:       ev.Name,
		Message:    ev.Message,
		Code:       ev.Code,
		Content:    ev.Content,
		Snapshot:   ev.Snapshot,
		Patches:    ev.Patches,
		DeltaType:  ev.DeltaType,
		DeltaPath:  ev.DeltaPath,
		DeltaValue: ev.DeltaValue,
		Messages:   ev.Messages,
		Activity:   ev.Activity,
		Custom:     ev.Custom,
	}
	return json.Marshal(w)
}
