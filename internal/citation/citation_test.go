package citation

import "testing"

func TestExtractSurfacesOnlyNewSources(t *testing.T) {
	t.Parallel()

	before := map[string]any{
		"sources": []any{
			map[string]any{"url": "https://a.example", "title": "A"},
		},
	}
	after := map[string]any{
		"sources": []any{
			map[string]any{"url": "https://a.example", "title": "A"},
			map[string]any{"url": "https://b.example", "title": "B"},
		},
	}
	refs := Extract(before, after)
	if len(refs) != 1 || refs[0].URL != "https://b.example" {
		t.Fatalf("unexpected refs: %#v", refs)
	}
}

func TestExtractDiscardsMalformedEntries(t *testing.T) {
	t.Parallel()

	after := map[string]any{
		"sources": []any{
			"not-an-object",
			map[string]any{"title": "missing url"},
			map[string]any{"url": 42, "title": "wrong type"},
			map[string]any{"url": "https://ok.example"},
		},
	}
	refs := Extract(nil, after)
	if len(refs) != 1 || refs[0].URL != "https://ok.example" {
		t.Fatalf("expected only the well-formed entry, got %#v", refs)
	}
}

func TestExtractNoSourcesKeyYieldsEmpty(t *testing.T) {
	t.Parallel()

	refs := Extract(nil, map[string]any{"other": true})
	if len(refs) != 0 {
		t.Fatalf("expected no refs, got %#v", refs)
	}
}
