package queryexec

import (
	"sync"
	"time"
)

// CacheOptions controls whether/how a call to Execute participates in
// the result cache.
type CacheOptions struct {
	Key      Fingerprint // explicit override; empty means derive from template+params
	TTL      time.Duration
	Disabled bool
}

type cacheEntry struct {
	value     any
	expiresAt time.Time
	inserted  time.Time
}

// ResultCache is a bounded, TTL-expiring, insertion-order-evicting
// cache for query results, keyed by Fingerprint.
type ResultCache struct {
	mu         sync.Mutex
	maxEntries int
	entries    map[Fingerprint]*cacheEntry
	order      []Fingerprint // insertion order, oldest first
	clock      func() time.Time
}

// NewResultCache creates a cache bounded to maxEntries.
func NewResultCache(maxEntries int) *ResultCache {
	return &ResultCache{maxEntries: maxEntries, entries: make(map[Fingerprint]*cacheEntry), clock: time.Now}
}

// Get returns the cached value for key if present and unexpired.
func (c *ResultCache) Get(key Fingerprint) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.clock().After(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

// Put inserts value under key with the given ttl. When the cache is
// at maxEntries, the oldest-by-insertion entry is evicted first.
func (c *ResultCache) Put(key Fingerprint, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock()
	if _, exists := c.entries[key]; !exists {
		if c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
			c.evictOldestLocked()
		}
		c.order = append(c.order, key)
	}
	c.entries[key] = &cacheEntry{value: value, expiresAt: now.Add(ttl), inserted: now}
}

func (c *ResultCache) evictOldestLocked() {
	for len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		if _, ok := c.entries[oldest]; ok {
			delete(c.entries, oldest)
			return
		}
	}
}

// Invalidate removes a key (e.g. after a write that affects it).
func (c *ResultCache) Invalidate(key Fingerprint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len reports the current entry count.
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
