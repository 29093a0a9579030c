// Package cache provides the process-local TTL cache used in front of
// database lookups. Entries are never coherently invalidated key-by-key;
// writers clear the whole cache and accept a brief burst of store reads.
package cache

import (
	"sync"
	"time"
)

// entry pairs a cached value with its expiry deadline.
type entry[V any] struct {
	value    V
	expireAt time.Time
}

// TTL is a mutex-guarded map cache with a fixed per-entry lifetime.
// The zero value is not usable; construct with New.
type TTL[V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]entry[V]
}

// New constructs a TTL cache whose entries live for the given duration.
func New[V any](ttl time.Duration) *TTL[V] {
	return &TTL[V]{
		ttl:     ttl,
		entries: make(map[string]entry[V]),
	}
}

// Get returns the cached value for key and whether it is still fresh.
func (c *TTL[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.entries[key]
	if !ok || time.Now().After(item.expireAt) {
		var zero V
		delete(c.entries, key)
		return zero, false
	}
	return item.value, true
}

// Set stores value under key with a fresh lifetime.
func (c *TTL[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[V]{value: value, expireAt: time.Now().Add(c.ttl)}
}

// Clear drops every entry. Called after any write to the backing store.
func (c *TTL[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry[V])
}

// Len returns the number of entries currently held, fresh or not.
func (c *TTL[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
