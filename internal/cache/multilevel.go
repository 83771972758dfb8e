package cache

import "time"

// MultiLevel composes a small fast tier over a larger slow tier. Reads check
// the fast tier first and promote slow-tier hits into the fast tier; writes go
// through to both tiers with each tier's own TTL. The two capacities are
// configured independently; no size proportionality is enforced.
type MultiLevel[K comparable, V any] struct {
	fast    *LRU[K, V]
	slow    *LRU[K, V]
	fastTTL time.Duration
	slowTTL time.Duration
}

// NewMultiLevel builds a two-tier cache. TTLs of zero disable expiry for the
// respective tier.
func NewMultiLevel[K comparable, V any](fastCap, slowCap int, fastTTL, slowTTL time.Duration) *MultiLevel[K, V] {
	return &MultiLevel[K, V]{
		fast:    NewLRU[K, V](fastCap, fastTTL),
		slow:    NewLRU[K, V](slowCap, slowTTL),
		fastTTL: fastTTL,
		slowTTL: slowTTL,
	}
}

// Get checks the fast tier, then the slow tier. A slow-tier hit is promoted
// into the fast tier with the fast tier's TTL before it is returned.
func (m *MultiLevel[K, V]) Get(key K) (V, bool) {
	if v, ok := m.fast.Get(key); ok {
		return v, true
	}
	v, ok := m.slow.Get(key)
	if !ok {
		var zero V
		return zero, false
	}
	m.fast.PutTTL(key, v, m.fastTTL)
	return v, true
}

// Put writes to both tiers with their respective TTLs.
func (m *MultiLevel[K, V]) Put(key K, value V) {
	m.fast.PutTTL(key, value, m.fastTTL)
	m.slow.PutTTL(key, value, m.slowTTL)
}

// Delete removes key from both tiers.
func (m *MultiLevel[K, V]) Delete(key K) {
	m.fast.Remove(key)
	m.slow.Remove(key)
}

// Clear drops every entry in both tiers.
func (m *MultiLevel[K, V]) Clear() {
	m.fast.Clear()
	m.slow.Clear()
}

// Resize adjusts both tier capacities, evicting immediately on shrink. The
// adaptive controller drives this when the runtime degrades.
func (m *MultiLevel[K, V]) Resize(fastCap, slowCap int) {
	m.fast.SetCapacity(fastCap)
	m.slow.SetCapacity(slowCap)
}

// FastStats returns the fast tier's counters.
func (m *MultiLevel[K, V]) FastStats() Stats { return m.fast.Stats() }

// SlowStats returns the slow tier's counters.
func (m *MultiLevel[K, V]) SlowStats() Stats { return m.slow.Stats() }
