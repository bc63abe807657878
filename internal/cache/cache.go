// Package cache provides a size-bounded in-memory store whose entries expire
// after a fixed age. Expiry is checked on read against an injected clock, and
// the least recently used entry is evicted once capacity is reached.
package cache

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// Store is the get/set/expire contract used by process-wide caches.
type Store[K comparable, V any] interface {
	Get(key K) (V, bool)
	Set(key K, value V)
	Delete(key K)
	Len() int
}

type entry[V any] struct {
	value    V
	storedAt time.Time
}

// TTL is a Store backed by an LRU with per-entry age limits.
type TTL[K comparable, V any] struct {
	mu    sync.Mutex
	lru   *lru.Cache[K, entry[V]]
	ttl   time.Duration
	clock Clock
}

// NewTTL builds a TTL store holding at most size entries, each for at most ttl.
// A non-positive ttl disables expiry.
func NewTTL[K comparable, V any](size int, ttl time.Duration, clock Clock) (*TTL[K, V], error) {
	if size <= 0 {
		return nil, fmt.Errorf("cache size must be > 0")
	}
	if clock == nil {
		return nil, fmt.Errorf("cache clock is required")
	}
	l, err := lru.New[K, entry[V]](size)
	if err != nil {
		return nil, fmt.Errorf("build lru: %w", err)
	}
	return &TTL[K, V]{lru: l, ttl: ttl, clock: clock}, nil
}

// Get returns the value for key when it exists and has not expired.
func (c *TTL[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero V
	e, ok := c.lru.Get(key)
	if !ok {
		return zero, false
	}
	if c.ttl > 0 && c.clock.Now().Sub(e.storedAt) >= c.ttl {
		c.lru.Remove(key)
		return zero, false
	}
	return e.value, true
}

// Set stores value under key and restarts its age.
func (c *TTL[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, entry[V]{value: value, storedAt: c.clock.Now()})
}

// Delete removes key.
func (c *TTL[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(key)
}

// Len reports the number of stored entries, expired or not.
func (c *TTL[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
