package builtin

import (
	"context"
	"encoding/json"
	"testing"
)

func TestHostStatsExecuteReturnsValidJSON(t *testing.T) {
	result, err := HostStatsExecutor{}.Execute(context.Background(), "tc1", "host_stats", "")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var decoded hostStatsResult
	if err := json.Unmarshal([]byte(result), &decoded); err != nil {
		t.Fatalf("result is not valid JSON: %v (%s)", err, result)
	}
	if decoded.Platform == "" {
		t.Fatalf("expected a non-empty platform field")
	}
}

func TestHostStatsDefRequiresNoArguments(t *testing.T) {
	if HostStatsDef.Name != "host_stats" {
		t.Fatalf("unexpected tool name: %q", HostStatsDef.Name)
	}
	if HostStatsDef.Schema == nil || len(HostStatsDef.Schema.Required) != 0 {
		t.Fatalf("expected an object schema with no required fields")
	}
}
