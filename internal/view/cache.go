package view

import (
	"sync"
	"time"

	"github.com/catalogops/metasync/internal/entity"
)

// viewCache keeps the last good reconciled view per entity type.
//
// The cache is owned by the Service instance, never module-level state.
// TTL is checked on read: a fresh hit short-circuits a refetch, while an
// expired entry is still available as a stale fallback when the remote
// catalog is unreachable.
type viewCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[entity.Type]cacheEntry
}

type cacheEntry struct {
	view     *View
	loadedAt time.Time
}

func newViewCache(ttl time.Duration) *viewCache {
	return &viewCache{
		ttl:     ttl,
		entries: make(map[entity.Type]cacheEntry),
	}
}

// fresh returns the cached view when it is within TTL.
func (c *viewCache) fresh(t entity.Type) (*View, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[t]
	if !ok {
		return nil, false
	}
	if c.ttl > 0 && time.Since(e.loadedAt) > c.ttl {
		return nil, false
	}
	return e.view, true
}

// lastGood returns the most recent cached view regardless of TTL.
// Used as the stale-but-available fallback after a fetch failure.
func (c *viewCache) lastGood(t entity.Type) (*View, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[t]
	if !ok {
		return nil, false
	}
	return e.view, true
}

// put stores a freshly loaded view.
func (c *viewCache) put(t entity.Type, v *View) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[t] = cacheEntry{view: v, loadedAt: v.LoadedAt}
}

// invalidate drops the cached view for one entity type, forcing the next
// read to reload. Called after actions mutate either side.
func (c *viewCache) invalidate(t entity.Type) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, t)
}
