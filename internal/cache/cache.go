// Package cache implements a generic TTL-bounded, capacity-bounded result
// cache backed by hashicorp/golang-lru.
//
// Eviction is true least-recently-used: a Get refreshes an entry's recency.
// Freshness is per entry, not per cache, so one cache can hold values with
// different volatilities (prices at 30s, contract handles at 30m). Expired
// entries are purged lazily on access, not by a background sweeper.
//
// State is process-local. Horizontally scaled deployments get independent
// caches per instance.
package cache

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type entry[V any] struct {
	value    V
	cachedAt time.Time
	ttl      time.Duration
}

func (e entry[V]) expired(now time.Time) bool {
	return now.Sub(e.cachedAt) >= e.ttl
}

// Cache is a TTL + LRU bounded key/value store. Safe for concurrent use.
type Cache[V any] struct {
	store *lru.Cache[string, entry[V]]
	now   func() time.Time
}

// New creates a cache holding at most capacity entries. When full, the least
// recently used entry is evicted to make room.
func New[V any](capacity int) (*Cache[V], error) {
	store, err := lru.New[string, entry[V]](capacity)
	if err != nil {
		return nil, err
	}
	return &Cache[V]{store: store, now: time.Now}, nil
}

// Get returns the value for key if present and fresh. A stale entry is
// removed and reported as a miss.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V

	e, ok := c.store.Get(key)
	if !ok {
		return zero, false
	}
	if e.expired(c.now()) {
		c.store.Remove(key)
		return zero, false
	}
	return e.value, true
}

// Set stores value under key with the given freshness window.
// A non-positive ttl means the value is never served.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	c.store.Add(key, entry[V]{value: value, cachedAt: c.now(), ttl: ttl})
}

// Remove drops key from the cache.
func (c *Cache[V]) Remove(key string) {
	c.store.Remove(key)
}

// Len returns the number of stored entries, including not-yet-purged
// stale ones.
func (c *Cache[V]) Len() int {
	return c.store.Len()
}

// Purge empties the cache.
func (c *Cache[V]) Purge() {
	c.store.Purge()
}
