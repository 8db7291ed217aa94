package jsonpatch

import (
	"reflect"
	"testing"
)

func mustJSON(m map[string]any) map[string]any { return m }

func TestApplyAll_ReplacePreservesStateOnFailure(t *testing.T) {
	t.Parallel()

	state := mustJSON(map[string]any{"count": float64(0), "name": "alice"})
	patches := []Operation{
		{Op: "replace", Path: "/count", Value: float64(1)},
		{Op: "replace", Path: "/missing/x", Value: float64(2)},
		{Op: "replace", Path: "/name", Value: "bob"},
	}
	res := ApplyAll(state, patches)
	if res.Success {
		t.Fatalf("expected failure")
	}
	want := map[string]any{"count": float64(1), "name": "alice"}
	got, ok := res.State.(map[string]any)
	if !ok || !reflect.DeepEqual(got, want) {
		t.Fatalf("state = %#v, want %#v", res.State, want)
	}

	// original input must be untouched
	if state["count"] != float64(0) {
		t.Fatalf("input state mutated: %#v", state)
	}
}

func TestApply_AddAppendToArray(t *testing.T) {
	t.Parallel()

	state := map[string]any{"items": []any{"a", "b"}}
	res := Apply(state, Operation{Op: "add", Path: "/items/-", Value: "c"})
	if !res.Success {
		t.Fatalf("apply failed: %v", res.Error)
	}
	got := res.State.(map[string]any)["items"].([]any)
	want := []any{"a", "b", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v want %#v", got, want)
	}
}

func TestApply_AddInsertAtIndexShifts(t *testing.T) {
	t.Parallel()

	state := map[string]any{"items": []any{"a", "c"}}
	res := Apply(state, Operation{Op: "add", Path: "/items/1", Value: "b"})
	if !res.Success {
		t.Fatalf("apply failed: %v", res.Error)
	}
	got := res.State.(map[string]any)["items"].([]any)
	want := []any{"a", "b", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v want %#v", got, want)
	}
}

func TestApply_RemoveShiftsIndices(t *testing.T) {
	t.Parallel()

	state := map[string]any{"items": []any{"a", "b", "c"}}
	res := Apply(state, Operation{Op: "remove", Path: "/items/1"})
	if !res.Success {
		t.Fatalf("apply failed: %v", res.Error)
	}
	got := res.State.(map[string]any)["items"].([]any)
	want := []any{"a", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v want %#v", got, want)
	}
}

func TestApply_ReplaceNonExistentTargetFails(t *testing.T) {
	t.Parallel()

	state := map[string]any{"a": float64(1)}
	res := Apply(state, Operation{Op: "replace", Path: "/b", Value: float64(2)})
	if res.Success {
		t.Fatalf("expected failure replacing nonexistent key")
	}
	if !reflect.DeepEqual(res.State, state) {
		t.Fatalf("state changed on failure: %#v", res.State)
	}
}

func TestApply_RemoveOutOfRangeArrayIndexFails(t *testing.T) {
	t.Parallel()

	state := map[string]any{"items": []any{"a"}}
	res := Apply(state, Operation{Op: "remove", Path: "/items/5"})
	if res.Success {
		t.Fatalf("expected failure")
	}
}

func TestApply_MoveRequiresFrom(t *testing.T) {
	t.Parallel()

	state := map[string]any{"a": float64(1)}
	res := Apply(state, Operation{Op: "move", Path: "/b"})
	if res.Success {
		t.Fatalf("expected failure: move without from")
	}
}

func TestApply_MoveRelocatesValue(t *testing.T) {
	t.Parallel()

	state := map[string]any{"a": float64(1)}
	res := Apply(state, Operation{Op: "move", From: "/a", Path: "/b"})
	if !res.Success {
		t.Fatalf("apply failed: %v", res.Error)
	}
	got := res.State.(map[string]any)
	if _, ok := got["a"]; ok {
		t.Fatalf("source key still present: %#v", got)
	}
	if got["b"] != float64(1) {
		t.Fatalf("dest value = %#v, want 1", got["b"])
	}
}

func TestApply_CopyDuplicatesWithoutAliasing(t *testing.T) {
	t.Parallel()

	state := map[string]any{"a": map[string]any{"x": float64(1)}}
	res := Apply(state, Operation{Op: "copy", From: "/a", Path: "/b"})
	if !res.Success {
		t.Fatalf("apply failed: %v", res.Error)
	}
	got := res.State.(map[string]any)
	bMap := got["b"].(map[string]any)
	bMap["x"] = float64(99)
	aMap := got["a"].(map[string]any)
	if aMap["x"] != float64(1) {
		t.Fatalf("copy aliased source: a.x = %#v", aMap["x"])
	}
}

func TestApply_TestPassesAndFails(t *testing.T) {
	t.Parallel()

	state := map[string]any{"a": float64(1)}
	if res := Apply(state, Operation{Op: "test", Path: "/a", Value: float64(1)}); !res.Success {
		t.Fatalf("expected test to pass: %v", res.Error)
	}
	if res := Apply(state, Operation{Op: "test", Path: "/a", Value: float64(2)}); res.Success {
		t.Fatalf("expected test to fail")
	}
}

func TestApply_UnknownOpFails(t *testing.T) {
	t.Parallel()

	res := Apply(map[string]any{}, Operation{Op: "frobnicate", Path: "/a"})
	if res.Success {
		t.Fatalf("expected failure for unknown op")
	}
}

func TestApplyContinuing_PreservesLastGoodStateAcrossFailures(t *testing.T) {
	t.Parallel()

	state := map[string]any{"count": float64(0)}
	patches := []Operation{
		{Op: "replace", Path: "/count", Value: float64(1)},
		{Op: "replace", Path: "/missing", Value: float64(9)},
		{Op: "add", Path: "/count", Value: float64(2)},
	}
	next, results := ApplyContinuing(state, patches)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if !results[0].Success || results[1].Success || !results[2].Success {
		t.Fatalf("unexpected per-op outcomes: %#v", results)
	}
	got := next.(map[string]any)
	if got["count"] != float64(2) {
		t.Fatalf("count = %#v, want 2", got["count"])
	}
}

func TestApplyAll_SequentialEqualsBatchConcatenation(t *testing.T) {
	t.Parallel()

	state := map[string]any{"a": float64(1), "b": float64(2)}
	p1 := []Operation{{Op: "replace", Path: "/a", Value: float64(10)}}
	p2 := []Operation{{Op: "replace", Path: "/b", Value: float64(20)}}

	seq := ApplyAll(state, p1)
	if !seq.Success {
		t.Fatalf("p1 failed: %v", seq.Error)
	}
	seq = ApplyAll(seq.State, p2)
	if !seq.Success {
		t.Fatalf("p2 failed: %v", seq.Error)
	}

	combined := append(append([]Operation{}, p1...), p2...)
	batch := ApplyAll(state, combined)
	if !batch.Success {
		t.Fatalf("batch failed: %v", batch.Error)
	}

	if !reflect.DeepEqual(seq.State, batch.State) {
		t.Fatalf("sequential %#v != batch %#v", seq.State, batch.State)
	}
}

func TestApply_SnapshotEquivalentToEmptyPatch(t *testing.T) {
	t.Parallel()

	state := map[string]any{"a": float64(1)}
	res := ApplyAll(state, nil)
	if !res.Success {
		t.Fatalf("empty patch list should succeed")
	}
	if !reflect.DeepEqual(res.State, state) {
		t.Fatalf("empty patch changed state: %#v", res.State)
	}
}
