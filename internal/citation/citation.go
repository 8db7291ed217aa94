// Package citation diffs the aguiState document across a run's lifetime to
// surface newly introduced source references, discarding anything
// malformed rather than failing the run (spec §4.4.7).
//
// No teacher file implements this directly; it is built using the same
// "walk a JSON tree defensively, discard on any type mismatch" discipline
// as the teacher's validateToolArgs/matchesSchemaType
// (internal/ai/core_tool_scheduler.go), reading via tidwall/gjson instead
// of type-switching decoded maps by hand.
package citation

import (
	"encoding/json"

	"github.com/aguicore/runtime/internal/conversation"
	"github.com/tidwall/gjson"
)

// sourcesPath is the well-known location of the citation list inside
// aguiState: {"sources": [{"url": "...", "title": "..."}, ...]}.
const sourcesPath = "sources"

// Extract diffs before and after aguiState values and returns the source
// references present in after but not in before. Malformed entries (not an
// object, missing/non-string url) are silently discarded — the schema
// firewall never surfaces an extraction failure (spec §4.4.7).
func Extract(before, after any) []conversation.SourceReference {
	beforeSet := collect(before)
	afterRefs := extractOrdered(after)

	out := make([]conversation.SourceReference, 0, len(afterRefs))
	for _, ref := range afterRefs {
		if _, seen := beforeSet[ref.URL]; seen {
			continue
		}
		out = append(out, ref)
	}
	return out
}

func collect(state any) map[string]struct{} {
	set := map[string]struct{}{}
	for _, ref := range extractOrdered(state) {
		set[ref.URL] = struct{}{}
	}
	return set
}

func extractOrdered(state any) []conversation.SourceReference {
	raw, err := json.Marshal(state)
	if err != nil {
		return nil
	}
	result := gjson.GetBytes(raw, sourcesPath)
	if !result.IsArray() {
		return nil
	}

	var out []conversation.SourceReference
	result.ForEach(func(_, entry gjson.Result) bool {
		if !entry.IsObject() {
			return true // skip malformed entry, keep walking
		}
		url := entry.Get("url")
		if url.Type != gjson.String || url.Str == "" {
			return true
		}
		title := entry.Get("title").String()
		out = append(out, conversation.SourceReference{URL: url.Str, Title: title})
		return true
	})
	return out
}
