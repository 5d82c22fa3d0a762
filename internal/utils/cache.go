package utils

import (
	"sync"
	"time"
)

// TTLCache is a small thread-safe map whose entries expire after a fixed TTL.
type TTLCache[K comparable, V any] struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	data map[K]entry[V]
}

type entry[V any] struct {
	v  V
	at time.Time
}

// NewTTLCache creates a new cache with the given TTL. If ttl <= 0, it defaults to 1h.
func NewTTLCache[K comparable, V any](ttl time.Duration) *TTLCache[K, V] {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TTLCache[K, V]{ttl: ttl, now: time.Now, data: make(map[K]entry[V])}
}

// Get returns the cached value if it exists and hasn't expired.
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.data[key]
	if !ok {
		var zero V
		return zero, false
	}
	if c.now().Sub(e.at) > c.ttl {
		delete(c.data, key)
		var zero V
		return zero, false
	}
	return e.v, true
}

// Take returns the value like Get and removes it.
func (c *TTLCache[K, V]) Take(key K) (V, bool) {
	v, ok := c.Get(key)
	if ok {
		c.Delete(key)
	}
	return v, ok
}

// Set stores the value with the current timestamp.
func (c *TTLCache[K, V]) Set(key K, v V) {
	c.mu.Lock()
	c.data[key] = entry[V]{v: v, at: c.now()}
	c.mu.Unlock()
}

// Delete removes key if present.
func (c *TTLCache[K, V]) Delete(key K) {
	c.mu.Lock()
	delete(c.data, key)
	c.mu.Unlock()
}

// SetTTL updates the cache TTL for subsequent get checks.
func (c *TTLCache[K, V]) SetTTL(ttl time.Duration) {
	if ttl <= 0 {
		ttl = time.Hour
	}
	c.mu.Lock()
	c.ttl = ttl
	c.mu.Unlock()
}
