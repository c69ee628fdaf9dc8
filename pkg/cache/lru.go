// Package cache provides the bounded caches used by quadstore.
//
// LRU keeps at most a fixed number of entries and drops the least recently
// used one when full. It is safe for concurrent use and records hit/miss
// statistics.
//
// Usage:
//
//	c := cache.NewLRU[string, *Snapshot](256)
//
//	if snap, ok := c.Get(key); ok {
//		return snap // Cache hit
//	}
//
//	snap := build(key)
//	c.Put(key, snap)
package cache

import (
	"sync"
	"sync/atomic"

	"github.com/golang/groupcache/lru"
)

// LRU is a thread-safe least-recently-used cache.
//
// Capacity is a soft bound on the number of distinct keys: callers must not
// rely on a particular eviction order beyond "cold keys eventually go".
type LRU[K comparable, V any] struct {
	mu      sync.Mutex
	maxSize int
	cache   *lru.Cache
	enabled bool

	// Statistics
	hits      uint64
	misses    uint64
	evictions uint64
}

// NewLRU creates a cache holding at most maxSize entries. A non-positive
// maxSize defaults to 256.
func NewLRU[K comparable, V any](maxSize int) *LRU[K, V] {
	if maxSize <= 0 {
		maxSize = 256
	}
	c := &LRU[K, V]{
		maxSize: maxSize,
		cache:   lru.New(maxSize),
		enabled: true,
	}
	c.cache.OnEvicted = func(lru.Key, interface{}) {
		atomic.AddUint64(&c.evictions, 1)
	}
	return c
}

// Get returns the cached value for key and marks it recently used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	if !c.enabled {
		atomic.AddUint64(&c.misses, 1)
		return zero, false
	}
	v, ok := c.cache.Get(key)
	if !ok {
		atomic.AddUint64(&c.misses, 1)
		return zero, false
	}
	atomic.AddUint64(&c.hits, 1)
	return v.(V), true
}

// Put stores value under key, evicting the oldest entry when full.
func (c *LRU[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled {
		return
	}
	c.cache.Add(key, value)
}

// Remove drops key and reports whether it was cached. Explicit removals are
// not counted as evictions or lookups.
func (c *LRU[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.cache.Get(key); !ok {
		return false
	}
	c.withoutEvictionCount(func() { c.cache.Remove(key) })
	return true
}

// Clear drops every entry.
func (c *LRU[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.withoutEvictionCount(c.cache.Clear)
}

// Len returns the number of cached entries.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Len()
}

// SetEnabled enables or disables the cache. Disabling drops every entry.
func (c *LRU[K, V]) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.enabled = enabled
	if !enabled {
		c.withoutEvictionCount(c.cache.Clear)
	}
}

// Stats returns cache statistics.
func (c *LRU[K, V]) Stats() Stats {
	hits := atomic.LoadUint64(&c.hits)
	misses := atomic.LoadUint64(&c.misses)

	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	return Stats{
		Size:      c.Len(),
		MaxSize:   c.maxSize,
		Hits:      hits,
		Misses:    misses,
		Evictions: atomic.LoadUint64(&c.evictions),
		HitRate:   hitRate,
	}
}

// Stats holds cache performance statistics.
type Stats struct {
	Size      int     // Current number of entries
	MaxSize   int     // Maximum capacity
	Hits      uint64  // Number of cache hits
	Misses    uint64  // Number of cache misses
	Evictions uint64  // Entries dropped for capacity
	HitRate   float64 // Hit rate percentage (0-100)
}

// withoutEvictionCount runs fn with the eviction hook detached.
// Caller must hold the lock.
func (c *LRU[K, V]) withoutEvictionCount(fn func()) {
	hook := c.cache.OnEvicted
	c.cache.OnEvicted = nil
	fn()
	c.cache.OnEvicted = hook
}
