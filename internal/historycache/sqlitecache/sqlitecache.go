// Package sqlitecache is the SQLite-backed historycache.Cache. Grounded on
// the teacher's threadstore.Store (internal/ai/threadstore/store.go):
// sql.Open("sqlite", path) with the modernc.org/sqlite pure-Go driver, WAL
// journaling, and a single-connection pool to avoid SQLITE_BUSY under the
// cache's single-writer discipline.
//
// Idle eviction is swept on a robfig/cron schedule rather than the
// teacher's one-timer-per-thread-actor approach (internal/ai/thread_actor.go),
// since the cache has no per-thread actor to own a timer — see
// HyphaGroup-oubliette/internal/schedule/cron.go for the cron.New/AddFunc
// pattern this follows.
package sqlitecache

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aguicore/runtime/internal/conversation"
	"github.com/aguicore/runtime/internal/historycache"
	"github.com/robfig/cron/v3"
	_ "modernc.org/sqlite"
)

type Cache struct {
	db  *sql.DB
	cr  *cron.Cron
	idleMaxAge time.Duration
}

// Options configures the idle-eviction sweep. A zero Schedule disables the
// sweep entirely (rows are kept forever).
type Options struct {
	Schedule  string // cron expression, e.g. "@every 10m"
	IdleMaxAge time.Duration
}

func Open(path string, opts Options) (*Cache, error) {
	p := filepath.Clean(strings.TrimSpace(path))
	if p == "" {
		return nil, errors.New("sqlitecache: missing db path")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	c := &Cache{db: db, idleMaxAge: opts.IdleMaxAge}
	if strings.TrimSpace(opts.Schedule) != "" && opts.IdleMaxAge > 0 {
		cr := cron.New()
		if _, err := cr.AddFunc(opts.Schedule, c.sweepIdle); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlitecache: invalid sweep schedule: %w", err)
		}
		cr.Start()
		c.cr = cr
	}
	return c, nil
}

func initSchema(db *sql.DB) error {
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return fmt.Errorf("pragma journal_mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=3000;`); err != nil {
		return fmt.Errorf("pragma busy_timeout: %w", err)
	}
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS thread_history (
	server_id TEXT NOT NULL,
	room_id TEXT NOT NULL,
	thread_id TEXT NOT NULL,
	messages_json TEXT NOT NULL,
	agui_state_json TEXT NOT NULL,
	message_states_json TEXT NOT NULL,
	updated_at_unix_ms INTEGER NOT NULL,
	last_seen_unix_ms INTEGER NOT NULL,
	PRIMARY KEY (server_id, room_id, thread_id)
);`)
	if err != nil {
		return fmt.Errorf("create thread_history: %w", err)
	}
	return nil
}

func (c *Cache) Get(key conversation.ThreadKey) (historycache.ThreadHistory, bool) {
	row := c.db.QueryRow(`SELECT messages_json, agui_state_json, message_states_json, updated_at_unix_ms
		FROM thread_history WHERE server_id = ? AND room_id = ? AND thread_id = ?`,
		key.ServerID, key.RoomID, key.ThreadID)

	var messagesJSON, stateJSON, statesJSON string
	var updatedAtMs int64
	if err := row.Scan(&messagesJSON, &stateJSON, &statesJSON, &updatedAtMs); err != nil {
		return historycache.ThreadHistory{}, false
	}

	var messages []conversation.Message
	if err := json.Unmarshal([]byte(messagesJSON), &messages); err != nil {
		return historycache.ThreadHistory{}, false
	}
	var state any
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		return historycache.ThreadHistory{}, false
	}
	var states map[string]conversation.MessageState
	if err := json.Unmarshal([]byte(statesJSON), &states); err != nil {
		return historycache.ThreadHistory{}, false
	}

	return historycache.ThreadHistory{
		Messages:      messages,
		AguiState:     state,
		MessageStates: states,
		UpdatedAt:     time.UnixMilli(updatedAtMs).UTC(),
	}, true
}

func (c *Cache) Merge(key conversation.ThreadKey, conv conversation.Conversation, now time.Time) error {
	existing, _ := c.Get(key)
	merged := historycache.MergeHistory(existing, conv, now)

	messagesJSON, err := json.Marshal(merged.Messages)
	if err != nil {
		return err
	}
	stateJSON, err := json.Marshal(merged.AguiState)
	if err != nil {
		return err
	}
	statesJSON, err := json.Marshal(merged.MessageStates)
	if err != nil {
		return err
	}

	_, err = c.db.Exec(`
INSERT INTO thread_history (server_id, room_id, thread_id, messages_json, agui_state_json, message_states_json, updated_at_unix_ms, last_seen_unix_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(server_id, room_id, thread_id) DO UPDATE SET
	messages_json = excluded.messages_json,
	agui_state_json = excluded.agui_state_json,
	message_states_json = excluded.message_states_json,
	updated_at_unix_ms = excluded.updated_at_unix_ms,
	last_seen_unix_ms = excluded.last_seen_unix_ms`,
		key.ServerID, key.RoomID, key.ThreadID,
		string(messagesJSON), string(stateJSON), string(statesJSON),
		now.UnixMilli(), now.UnixMilli())
	return err
}

func (c *Cache) Touch(key conversation.ThreadKey, now time.Time) {
	_, _ = c.db.Exec(`UPDATE thread_history SET last_seen_unix_ms = ? WHERE server_id = ? AND room_id = ? AND thread_id = ?`,
		now.UnixMilli(), key.ServerID, key.RoomID, key.ThreadID)
}

func (c *Cache) sweepIdle() {
	if c.idleMaxAge <= 0 {
		return
	}
	cutoff := time.Now().Add(-c.idleMaxAge).UnixMilli()
	_, _ = c.db.Exec(`DELETE FROM thread_history WHERE last_seen_unix_ms < ?`, cutoff)
}

func (c *Cache) Close() error {
	if c.cr != nil {
		c.cr.Stop()
	}
	return c.db.Close()
}
