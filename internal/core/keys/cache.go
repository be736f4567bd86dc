// Package keys keeps an in-memory copy of project credentials, refreshed
// periodically from the store.
package keys

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cyclops-relay/cyclops/internal/core"
)

// Cache maps project ids to their keys. Safe for concurrent use.
type Cache struct {
	mu          sync.RWMutex
	keys        map[string]core.ProjectKey
	lastRefresh time.Time
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{keys: make(map[string]core.ProjectKey)}
}

// Upsert adds or replaces entries. Entries absent from keys are kept.
func (c *Cache) Upsert(keys []core.ProjectKey) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	applied := 0
	for _, key := range keys {
		id := strings.TrimSpace(key.ProjectID)
		if id == "" {
			continue
		}
		key.ProjectID = id
		c.keys[id] = key
		applied++
	}
	return applied
}

// MarkRefreshed records the time of a successful bulk read.
func (c *Cache) MarkRefreshed(at time.Time) {
	c.mu.Lock()
	c.lastRefresh = at
	c.mu.Unlock()
}

// Get returns the keys for a project.
func (c *Cache) Get(projectID string) (core.ProjectKey, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok := c.keys[projectID]
	return key, ok
}

// Len returns the number of cached projects.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.keys)
}

// Snapshot returns every cached key ordered by project id.
func (c *Cache) Snapshot() []core.ProjectKey {
	c.mu.RLock()
	out := make([]core.ProjectKey, 0, len(c.keys))
	for _, key := range c.keys {
		out = append(out, key)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ProjectID < out[j].ProjectID })
	return out
}

// LastRefresh reports when the cache was last refreshed successfully.
// The zero time means never.
func (c *Cache) LastRefresh() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastRefresh
}
