// Package historycache defines ThreadHistory and the Cache interface
// consulted by startRun to prime a new run with prior context, and
// written back on run completion via a merge that preserves existing
// messageStates (spec §4.6).
package historycache

import (
	"time"

	"github.com/aguicore/runtime/internal/conversation"
)

// ThreadHistory is the persisted snapshot of a thread's conversation,
// independent of any particular run.
type ThreadHistory struct {
	Messages      []conversation.Message
	AguiState     any
	MessageStates map[string]conversation.MessageState
	UpdatedAt     time.Time
}

// Cache is the thread-history persistence interface. Reads may be
// concurrent; writes are single-writer per spec §4.6.
type Cache interface {
	// Get returns the cached history for key, or (ThreadHistory{}, false)
	// if none exists yet.
	Get(key conversation.ThreadKey) (ThreadHistory, bool)

	// Merge folds a newly terminated conversation into the cached entry
	// for key: messages are appended (cached prefix + new messages, no
	// duplication/reordering per spec §8 property 8), aguiState is
	// replaced with the terminated run's final value, and messageStates
	// are merged key-by-key (new entries win on conflict).
	Merge(key conversation.ThreadKey, conv conversation.Conversation, now time.Time) error

	// Touch records that key was observed active at now, for idle-sweep
	// eviction bookkeeping. Implementations that don't evict may no-op.
	Touch(key conversation.ThreadKey, now time.Time)

	// Close releases any held resources (file handles, DB connections,
	// the cron scheduler).
	Close() error
}

// MergeHistory implements the shared merge algorithm used by both the
// in-memory and SQLite-backed caches: cached prefix + run's new messages
// (no duplication or reordering), aguiState replaced with the run's final
// value, messageStates merged with the new run's entries winning on
// conflict (spec §4.6, §8 property 8).
func MergeHistory(existing ThreadHistory, conv conversation.Conversation, now time.Time) ThreadHistory {
	merged := ThreadHistory{
		Messages:      append(append([]conversation.Message(nil), existing.Messages...), conv.Messages...),
		AguiState:     conv.AguiState,
		MessageStates: make(map[string]conversation.MessageState, len(existing.MessageStates)+len(conv.MessageStates)),
		UpdatedAt:     now,
	}
	for k, v := range existing.MessageStates {
		merged.MessageStates[k] = v
	}
	for k, v := range conv.MessageStates {
		merged.MessageStates[k] = v
	}
	return merged
}
