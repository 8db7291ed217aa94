// Package memcache is an in-memory historycache.Cache, used for tests and
// single-process embedding. Grounded on the in-memory run-store idiom seen
// across the pack (e.g. goadesign-goa-ai's runtime/agent/run/inmem):
// a mutex-guarded map with no external dependency.
package memcache

import (
	"sync"
	"time"

	"github.com/aguicore/runtime/internal/conversation"
	"github.com/aguicore/runtime/internal/historycache"
)

type entry struct {
	history  historycache.ThreadHistory
	lastSeen time.Time
}

type Cache struct {
	mu      sync.Mutex
	entries map[conversation.ThreadKey]entry
}

func New() *Cache {
	return &Cache{entries: map[conversation.ThreadKey]entry{}}
}

func (c *Cache) Get(key conversation.ThreadKey) (historycache.ThreadHistory, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return historycache.ThreadHistory{}, false
	}
	return e.history, true
}

func (c *Cache) Merge(key conversation.ThreadKey, conv conversation.Conversation, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	existing := c.entries[key].history
	c.entries[key] = entry{history: historycache.MergeHistory(existing, conv, now), lastSeen: now}
	return nil
}

func (c *Cache) Touch(key conversation.ThreadKey, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entries[key]
	e.lastSeen = now
	c.entries[key] = e
}

// EvictIdleSince removes every entry whose last Touch/Merge predates
// cutoff, returning the number evicted. This cache runs no sweep of its
// own and cmd does not schedule one; entries are evicted only when a
// caller invokes this.
func (c *Cache) EvictIdleSince(cutoff time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if e.lastSeen.Before(cutoff) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

func (c *Cache) Close() error { return nil }
