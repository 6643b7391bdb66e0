// Package cache provides a small TTL cache for derived lookups (chat
// metadata, encrypted identifiers). It is injected explicitly into the
// components that need it rather than held as ambient process state.
package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTL is a concurrency-safe cache whose entries expire after a fixed
// duration.
type TTL[V any] struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]entry[V]
	now     func() time.Time
}

func NewTTL[V any](ttl time.Duration) *TTL[V] {
	return &TTL[V]{
		ttl:     ttl,
		entries: make(map[string]entry[V]),
		now:     time.Now,
	}
}

// Get returns the cached value for key if present and unexpired.
func (c *TTL[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Put stores value under key for the cache's TTL.
func (c *TTL[V]) Put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[V]{value: value, expiresAt: c.now().Add(c.ttl)}
}

// Delete drops key, e.g. after a permanent error invalidated the value.
func (c *TTL[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Wrap returns the cached value for key, calling fetch and caching its
// result on a miss. Fetch errors are returned uncached.
func (c *TTL[V]) Wrap(key string, fetch func() (V, error)) (V, error) {
	if value, ok := c.Get(key); ok {
		return value, nil
	}
	value, err := fetch()
	if err != nil {
		var zero V
		return zero, err
	}
	c.Put(key, value)
	return value, nil
}
