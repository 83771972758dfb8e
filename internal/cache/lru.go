// Package cache implements the tiered cache engine: a bounded LRU primitive
// with per-entry TTL, a two-tier composition with read promotion, and a
// refresh-ahead wrapper that serves stale values while revalidating in the
// background.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// entry is one cached key/value pair. A zero expiresAt means no TTL.
type entry[K comparable, V any] struct {
	key        K
	value      V
	insertedAt time.Time
	expiresAt  time.Time
}

func (e *entry[K, V]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// LRU is a bounded key/value cache. Capacity is a max entry count, not a
// byte size. Recency order is touch order: a Put or a non-expired Get moves
// the entry to the most-recent position. Expired entries are treated as
// absent for both reads and recency, and are dropped at read time.
type LRU[K comparable, V any] struct {
	mu         sync.Mutex
	capacity   int
	defaultTTL time.Duration
	order      *list.List // front = least recently used
	items      map[K]*list.Element
	clock      func() time.Time

	hits        uint64
	misses      uint64
	evictions   uint64
	expirations uint64
}

// NewLRU creates a cache bounded to capacity entries. defaultTTL applies to
// Put; zero means entries never expire. Capacity must be at least 1.
func NewLRU[K comparable, V any](capacity int, defaultTTL time.Duration) *LRU[K, V] {
	if capacity < 1 {
		capacity = 1
	}
	return &LRU[K, V]{
		capacity:   capacity,
		defaultTTL: defaultTTL,
		order:      list.New(),
		items:      make(map[K]*list.Element),
		clock:      time.Now,
	}
}

// Get returns the value for key, or false on a miss. An expired entry is a
// miss: it is removed and does not refresh recency.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.items[key]
	if !ok {
		c.misses++
		return zero, false
	}
	ent := el.Value.(*entry[K, V])
	if ent.expired(c.clock()) {
		c.removeElement(el)
		c.expirations++
		c.misses++
		return zero, false
	}
	c.order.MoveToBack(el)
	c.hits++
	return ent.value, true
}

// Put stores value under key with the default TTL, overwriting any existing
// entry, then evicts least-recently-used entries until the size bound holds.
func (c *LRU[K, V]) Put(key K, value V) {
	c.PutTTL(key, value, c.defaultTTL)
}

// PutTTL is Put with an explicit TTL for this entry. A zero ttl disables
// expiry for the entry.
func (c *LRU[K, V]) PutTTL(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock()
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = now.Add(ttl)
	}

	if el, ok := c.items[key]; ok {
		ent := el.Value.(*entry[K, V])
		ent.value = value
		ent.insertedAt = now
		ent.expiresAt = expiresAt
		c.order.MoveToBack(el)
		return
	}

	el := c.order.PushBack(&entry[K, V]{
		key:        key,
		value:      value,
		insertedAt: now,
		expiresAt:  expiresAt,
	})
	c.items[key] = el
	c.evictOverflow()
}

// Remove deletes key and returns its value if a non-expired entry was
// present.
func (c *LRU[K, V]) Remove(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.items[key]
	if !ok {
		return zero, false
	}
	ent := el.Value.(*entry[K, V])
	c.removeElement(el)
	if ent.expired(c.clock()) {
		c.expirations++
		return zero, false
	}
	return ent.value, true
}

// Clear drops every entry.
func (c *LRU[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.items = make(map[K]*list.Element)
}

// Len returns the current entry count, including not-yet-collected expired
// entries.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Cap returns the current capacity bound.
func (c *LRU[K, V]) Cap() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capacity
}

// SetCapacity changes the bound and immediately evicts down to it. A shrink
// can overflow by more than one entry, so eviction loops until the bound
// holds again.
func (c *LRU[K, V]) SetCapacity(capacity int) {
	if capacity < 1 {
		capacity = 1
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.capacity = capacity
	c.evictOverflow()
}

// Stats returns a point-in-time counter snapshot.
func (c *LRU[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Size:        len(c.items),
		Capacity:    c.capacity,
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		Expirations: c.expirations,
	}
}

// getWithTime is Get plus the entry's insertion time, for staleness checks
// by the refresh-ahead wrapper.
func (c *LRU[K, V]) getWithTime(key K) (V, time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.items[key]
	if !ok {
		c.misses++
		return zero, time.Time{}, false
	}
	ent := el.Value.(*entry[K, V])
	if ent.expired(c.clock()) {
		c.removeElement(el)
		c.expirations++
		c.misses++
		return zero, time.Time{}, false
	}
	c.order.MoveToBack(el)
	c.hits++
	return ent.value, ent.insertedAt, true
}

// evictOverflow removes least-recently-used entries until size fits the
// capacity. Callers must hold mu.
func (c *LRU[K, V]) evictOverflow() {
	for len(c.items) > c.capacity {
		el := c.order.Front()
		if el == nil {
			return
		}
		c.removeElement(el)
		c.evictions++
	}
}

// removeElement unlinks an entry. Callers must hold mu.
func (c *LRU[K, V]) removeElement(el *list.Element) {
	ent := el.Value.(*entry[K, V])
	c.order.Remove(el)
	delete(c.items, ent.key)
}

// Stats describes one tier's counters.
type Stats struct {
	Size        int
	Capacity    int
	Hits        uint64
	Misses      uint64
	Evictions   uint64
	Expirations uint64
}
