package tools

import (
	"context"
	"testing"

	"github.com/google/jsonschema-go/jsonschema"
)

func echoExecutor(result string) Executor {
	return ExecutorFunc(func(ctx context.Context, toolCallID, name, rawArgs string) (string, error) {
		return result, nil
	})
}

func TestRegisterLookupExecute(t *testing.T) {
	t.Parallel()

	reg := Empty()
	reg, err := reg.Register(ToolDef{Name: "get_secret_number", Source: "builtin"}, echoExecutor("42"))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !reg.Contains("get_secret_number") {
		t.Fatalf("expected tool to be registered")
	}
	result, err := reg.Execute(context.Background(), CallInfo{ID: "tc1", Name: "get_secret_number", Arguments: `{"name":"alice"}`})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result != "42" {
		t.Fatalf("result = %q, want 42", result)
	}
}

func TestExecuteUnknownToolReturnsNotFound(t *testing.T) {
	t.Parallel()

	reg := Empty()
	_, err := reg.Execute(context.Background(), CallInfo{Name: "nope"})
	if err == nil {
		t.Fatalf("expected not found error")
	}
}

func TestRegisterIsPersistent(t *testing.T) {
	t.Parallel()

	base := Empty()
	withTool, err := base.Register(ToolDef{Name: "a"}, echoExecutor("x"))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if base.Contains("a") {
		t.Fatalf("base registry mutated by Register")
	}
	if !withTool.Contains("a") {
		t.Fatalf("returned registry missing tool")
	}
}

func TestHigherPriorityReplaces(t *testing.T) {
	t.Parallel()

	reg := Empty()
	reg, _ = reg.Register(ToolDef{Name: "a", Priority: 1, Source: "mcp"}, echoExecutor("low"))
	reg, err := reg.Register(ToolDef{Name: "a", Priority: 5, Source: "mcp"}, echoExecutor("high"))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	tool, _ := reg.Lookup("a")
	got, _ := tool.Executor.Execute(context.Background(), "", "a", "")
	if got != "high" {
		t.Fatalf("expected higher priority to win, got %q", got)
	}
}

func TestLowerSourceRankDoesNotReplace(t *testing.T) {
	t.Parallel()

	reg := Empty()
	reg, _ = reg.Register(ToolDef{Name: "a", Priority: 1, Source: "builtin"}, echoExecutor("builtin"))
	reg, err := reg.Register(ToolDef{Name: "a", Priority: 1, Source: "skill"}, echoExecutor("skill"))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	tool, _ := reg.Lookup("a")
	got, _ := tool.Executor.Execute(context.Background(), "", "a", "")
	if got != "builtin" {
		t.Fatalf("expected builtin to remain, got %q", got)
	}
}

func TestEqualPriorityAndRankConflicts(t *testing.T) {
	t.Parallel()

	reg := Empty()
	reg, _ = reg.Register(ToolDef{Name: "a", Priority: 1, Source: "mcp1"}, echoExecutor("first"))
	_, err := reg.Register(ToolDef{Name: "a", Priority: 1, Source: "mcp2"}, echoExecutor("second"))
	if err == nil {
		t.Fatalf("expected conflict error")
	}
}

func TestValidateArgsRejectsMissingRequiredField(t *testing.T) {
	t.Parallel()

	reg := Empty()
	reg, _ = reg.Register(ToolDef{
		Name: "a",
		Schema: &jsonschema.Schema{
			Type:     "object",
			Required: []string{"name"},
			Properties: map[string]*jsonschema.Schema{
				"name": {Type: "string"},
			},
		},
	}, echoExecutor("ok"))

	_, err := reg.Execute(context.Background(), CallInfo{Name: "a", Arguments: `{}`})
	if err == nil {
		t.Fatalf("expected validation error for missing required field")
	}
}
