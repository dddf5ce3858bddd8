// Package cache provides a small process-local read cache for hot
// aggregate queries (poll listings, admin stats, user lookups).
//
// It trades freshness for read-load reduction: entries expire lazily on
// read after a per-entry TTL, and mutation paths clear the keys they
// affect. It is not shared across processes, so every instance has its
// own staleness window.
package cache

import (
	"strings"
	"sync"
	"time"
)

type entry struct {
	value      interface{}
	insertedAt time.Time
	ttl        time.Duration
}

// Cache is a bounded key/value store with per-entry TTL. When the map is
// at capacity the oldest-inserted entry is evicted before insert; this is
// approximate FIFO, not LRU, and is good enough for a handful of hot
// aggregate keys.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]entry
	maxEntries int
	now        func() time.Time // overridable in tests
}

// New creates a cache holding at most maxEntries entries.
func New(maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = 100
	}
	return &Cache{
		entries:    make(map[string]entry),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get returns the cached value for key, or false when the key is absent
// or its TTL has elapsed. Expired entries are removed on read; there is
// no background sweeper.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.insertedAt) >= e.ttl {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

// Set inserts or overwrites key with value for ttl. At capacity, the
// oldest-inserted entry is evicted first.
func (c *Cache) Set(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}
	c.entries[key] = entry{value: value, insertedAt: c.now(), ttl: ttl}
}

// Clear removes all entries whose key contains pattern as a substring,
// or every entry when pattern is empty.
func (c *Cache) Clear(pattern string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if pattern == "" {
		c.entries = make(map[string]entry)
		return
	}
	for k := range c.entries {
		if strings.Contains(k, pattern) {
			delete(c.entries, k)
		}
	}
}

// Len returns the current entry count, expired entries included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	for k, e := range c.entries {
		if oldestKey == "" || e.insertedAt.Before(oldestAt) {
			oldestKey = k
			oldestAt = e.insertedAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
