package dag

import (
	"sync"
	"time"

	"github.com/lprior-repo/oya-sub008/internal/idempotency"
)

// ResultCache is an LRU-with-TTL cache of bead execution results keyed by
// idempotency key, so a RetryBead action with unchanged inputs can short
// circuit re-execution.
type ResultCache struct {
	mu      sync.Mutex
	entries map[idempotency.Key]*cacheEntry
	maxSize int
	ttl     time.Duration
}

type cacheEntry struct {
	result   any
	expires  time.Time
	lastUsed time.Time
}

// NewResultCache constructs a cache bounded at maxSize entries, each valid
// for ttl since insertion.
func NewResultCache(maxSize int, ttl time.Duration) *ResultCache {
	return &ResultCache{
		entries: make(map[idempotency.Key]*cacheEntry),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

// Get returns the cached result for key if present and unexpired.
func (c *ResultCache) Get(key idempotency.Key) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expires) {
		return nil, false
	}
	e.lastUsed = time.Now()
	return e.result, true
}

// Put records result under key, evicting the least-recently-used entry if
// the cache is at capacity.
func (c *ResultCache) Put(key idempotency.Key, result any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}
	now := time.Now()
	c.entries[key] = &cacheEntry{result: result, expires: now.Add(c.ttl), lastUsed: now}
}

func (c *ResultCache) evictOldest() {
	var oldestKey idempotency.Key
	var oldestTime time.Time
	for k, e := range c.entries {
		if oldestKey == "" || e.lastUsed.Before(oldestTime) {
			oldestKey, oldestTime = k, e.lastUsed
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
