// Package tools implements the persistent client-tool registry: a
// toolName -> ClientTool map with copy-on-write registration, priority/
// source conflict resolution, and schema-validated execution.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
)

var ErrNotFound = errors.New("tools: not found")

// sourceRank orders conflict resolution when two tools register under the
// same name with equal priority.
var sourceRank = map[string]int{
	"builtin": 4,
	"mcp":     3,
	"skill":   2,
	"local":   1,
}

// Executor runs one tool call and returns its raw string result.
type Executor interface {
	Execute(ctx context.Context, toolCallID, name, rawArgs string) (string, error)
}

// ExecutorFunc adapts a plain function to Executor.
type ExecutorFunc func(ctx context.Context, toolCallID, name, rawArgs string) (string, error)

func (f ExecutorFunc) Execute(ctx context.Context, toolCallID, name, rawArgs string) (string, error) {
	return f(ctx, toolCallID, name, rawArgs)
}

// ToolDef is a tool's definition: name, schema, and registration metadata
// used to resolve conflicts between sources offering the same tool name.
type ToolDef struct {
	Name        string
	Description string
	Schema      *jsonschema.Schema
	Source      string // "builtin", "mcp", "skill", "local"
	Priority    int

	// RequiresApproval marks a tool whose execution must be gated by an
	// ApprovalGate before the notifier dispatches it (SPEC_FULL §3.A).
	RequiresApproval bool
}

// ClientTool pairs a definition with its executor.
type ClientTool struct {
	Def      ToolDef
	Executor Executor
}

// CallInfo is the minimal shape Registry.Execute needs from a pending tool
// call; the notifier builds one from a conversation.ToolCallInfo's ID, Name
// and Arguments.
type CallInfo struct {
	ID        string
	Name      string
	Arguments string
}

// Registry is a persistent (copy-on-write) toolName -> ClientTool map.
// Register returns a new Registry value; the receiver is never mutated, so
// a Registry can be shared freely across goroutines and composed by
// multiple sources (builtin, mcp, skill) without locking.
type Registry struct {
	tools map[string]ClientTool
}

// Empty returns a Registry with no tools registered.
func Empty() Registry {
	return Registry{tools: map[string]ClientTool{}}
}

// Register returns a new Registry with tool added, resolving conflicts by
// priority then source rank (grounded on the teacher's shouldReplaceTool).
// Equal priority and rank between distinct sources is a registration
// error; re-registering the exact same source+name silently keeps the
// incumbent rather than erroring, since redundant re-registration from the
// same source is routine (e.g. reconnecting an MCP server).
func (r Registry) Register(tool ToolDef, executor Executor) (Registry, error) {
	name := strings.TrimSpace(tool.Name)
	if name == "" {
		return r, errors.New("tools: tool name is required")
	}
	if executor == nil {
		return r, fmt.Errorf("tools: tool %q missing executor", name)
	}
	tool.Name = name
	tool.Source = strings.ToLower(strings.TrimSpace(tool.Source))
	if tool.Source == "" {
		tool.Source = "local"
	}

	next := r.clone()
	if existing, ok := next.tools[name]; ok {
		replace, err := shouldReplace(existing.Def, tool)
		if err != nil {
			return r, err
		}
		if !replace {
			return next, nil
		}
	}
	next.tools[name] = ClientTool{Def: tool, Executor: executor}
	return next, nil
}

func shouldReplace(existing, candidate ToolDef) (bool, error) {
	if candidate.Priority > existing.Priority {
		return true, nil
	}
	if candidate.Priority < existing.Priority {
		return false, nil
	}
	if candidate.Source == existing.Source {
		return false, nil
	}
	existingRank := sourceRank[existing.Source]
	candidateRank := sourceRank[candidate.Source]
	if candidateRank > existingRank {
		return true, nil
	}
	if candidateRank < existingRank {
		return false, nil
	}
	return false, fmt.Errorf("tools: conflicting registration for %q with equal priority and source rank", existing.Name)
}

// Unregister returns a new Registry with name removed (no-op if absent).
func (r Registry) Unregister(name string) Registry {
	next := r.clone()
	delete(next.tools, strings.TrimSpace(name))
	return next
}

func (r Registry) clone() Registry {
	out := make(map[string]ClientTool, len(r.tools)+1)
	for k, v := range r.tools {
		out[k] = v
	}
	return Registry{tools: out}
}

// Lookup returns the tool registered under name, or ErrNotFound.
func (r Registry) Lookup(name string) (ClientTool, error) {
	t, ok := r.tools[strings.TrimSpace(name)]
	if !ok {
		return ClientTool{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return t, nil
}

func (r Registry) Contains(name string) bool {
	_, ok := r.tools[strings.TrimSpace(name)]
	return ok
}

// Snapshot returns every registered ToolDef, ordered by descending
// priority then name, matching the teacher's Snapshot ordering.
func (r Registry) Snapshot() []ToolDef {
	out := make([]ToolDef, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.Def)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority == out[j].Priority {
			return out[i].Name < out[j].Name
		}
		return out[i].Priority > out[j].Priority
	})
	return out
}

// Execute delegates to the named tool's executor with the raw-JSON
// arguments, returning the raw string result. A NotFound failure is
// reported to the caller as an ordinary error — the notifier treats it as
// a per-tool failure, never a fatal run error (spec §4.3).
func (r Registry) Execute(ctx context.Context, call CallInfo) (string, error) {
	tool, err := r.Lookup(call.Name)
	if err != nil {
		return "", err
	}
	if err := validateArgs(tool.Def, call.Arguments); err != nil {
		return "", fmt.Errorf("tools: invalid arguments for %q: %w", call.Name, err)
	}
	return tool.Executor.Execute(ctx, call.ID, call.Name, call.Arguments)
}

// validateArgs checks rawArgs (a JSON object string) against the tool's
// jsonschema.Schema, when one is set. Grounded on the teacher's
// validateToolArgs/matchesSchemaType: required-field presence and a
// permissive per-field type check, not full schema validation.
func validateArgs(def ToolDef, rawArgs string) error {
	if def.Schema == nil {
		return nil
	}
	args := map[string]any{}
	if strings.TrimSpace(rawArgs) != "" {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			return fmt.Errorf("arguments are not a JSON object: %w", err)
		}
	}
	for _, name := range def.Schema.Required {
		if _, ok := args[name]; !ok {
			return fmt.Errorf("missing required field: %s", name)
		}
	}
	for key, val := range args {
		prop, ok := def.Schema.Properties[key]
		if !ok || prop == nil || prop.Type == "" {
			continue
		}
		if !matchesSchemaType(prop.Type, val) {
			return fmt.Errorf("invalid type for %s: expected %s", key, prop.Type)
		}
	}
	return nil
}

func matchesSchemaType(typeName string, v any) bool {
	switch strings.ToLower(strings.TrimSpace(typeName)) {
	case "string":
		_, ok := v.(string)
		return ok
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "integer", "number":
		switch v.(type) {
		case float64, float32, int, int64:
			return true
		default:
			return false
		}
	case "object":
		t := reflect.TypeOf(v)
		return t != nil && t.Kind() == reflect.Map
	case "array":
		t := reflect.TypeOf(v)
		return t != nil && (t.Kind() == reflect.Slice || t.Kind() == reflect.Array)
	default:
		return true
	}
}

// ApprovalGate is consulted before a RequiresApproval tool is dispatched
// (SPEC_FULL §3.A). Implementations decide synchronously or block on a
// side channel (UI prompt, policy lookup); the notifier treats a denial
// the same as a tool execution failure.
type ApprovalGate interface {
	Approve(ctx context.Context, call CallInfo, def ToolDef) (bool, error)
}
