package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var log = slog.Default()

// Fetcher loads the value for a key, typically over the network. A fetch
// error propagates to the caller of a cold Get; background refresh errors are
// logged and counted but never surfaced.
type Fetcher[K comparable, V any] func(ctx context.Context, key K) (V, error)

// Recorder receives cache refresh events. The metrics collector implements
// it; a nil Recorder disables reporting.
type Recorder interface {
	RecordRefresh()
	RecordRefreshFailure()
}

// RefreshableConfig configures a Refreshable cache.
type RefreshableConfig struct {
	Capacity int
	// TTL is the hard expiry for stored values.
	TTL time.Duration
	// RefreshThreshold is the soft expiry: a hit older than this triggers a
	// background refresh while the stale value is still served. Must be
	// shorter than TTL.
	RefreshThreshold time.Duration
	// Recorder observes refresh outcomes. Optional.
	Recorder Recorder
}

// Refreshable wraps a single LRU tier with refresh-ahead reads: values past
// the refresh threshold are served immediately while a detached refresh runs,
// and cold keys block on a fetch that concurrent callers share.
type Refreshable[K comparable, V any] struct {
	lru   *LRU[K, V]
	fetch Fetcher[K, V]
	cfg   RefreshableConfig

	mu         sync.Mutex
	inflight   map[K]*fetchCall[V]
	refreshing map[K]struct{}

	refreshes       uint64
	refreshFailures uint64
}

// fetchCall is one shared in-flight fetch. value and err are valid after
// done is closed.
type fetchCall[V any] struct {
	done  chan struct{}
	value V
	err   error
}

// NewRefreshable builds a refresh-ahead cache around fetch.
func NewRefreshable[K comparable, V any](cfg RefreshableConfig, fetch Fetcher[K, V]) (*Refreshable[K, V], error) {
	if fetch == nil {
		return nil, errors.New("fetcher is required")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("ttl must be positive")
	}
	if cfg.RefreshThreshold <= 0 || cfg.RefreshThreshold >= cfg.TTL {
		return nil, errors.New("refresh threshold must be positive and below ttl")
	}
	return &Refreshable[K, V]{
		lru:        NewLRU[K, V](cfg.Capacity, cfg.TTL),
		fetch:      fetch,
		cfg:        cfg,
		inflight:   make(map[K]*fetchCall[V]),
		refreshing: make(map[K]struct{}),
	}, nil
}

// Get returns the cached value for key, fetching on a cold miss. A warm value
// older than the refresh threshold is returned immediately and refreshed in
// the background; the caller never waits on a refresh. Concurrent cold Gets
// for the same key share one fetch and all receive its value or its failure.
func (c *Refreshable[K, V]) Get(ctx context.Context, key K) (V, error) {
	if value, insertedAt, ok := c.lru.getWithTime(key); ok {
		if time.Since(insertedAt) > c.cfg.RefreshThreshold {
			c.maybeRefresh(key)
		}
		return value, nil
	}

	c.mu.Lock()
	if call, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		return c.await(ctx, call)
	}
	call := &fetchCall[V]{done: make(chan struct{})}
	c.inflight[key] = call
	c.mu.Unlock()

	value, err := c.fetch(ctx, key)
	if err == nil {
		c.lru.PutTTL(key, value, c.cfg.TTL)
	}
	call.value, call.err = value, err

	c.mu.Lock()
	delete(c.inflight, key)
	c.mu.Unlock()
	close(call.done)

	return value, err
}

// Invalidate drops key so the next Get fetches fresh.
func (c *Refreshable[K, V]) Invalidate(key K) {
	c.lru.Remove(key)
}

// Clear drops every cached value. In-flight fetches are unaffected.
func (c *Refreshable[K, V]) Clear() {
	c.lru.Clear()
}

// Resize adjusts the tier capacity, evicting immediately on shrink.
func (c *Refreshable[K, V]) Resize(capacity int) {
	c.lru.SetCapacity(capacity)
}

// Stats returns tier counters plus refresh outcomes.
func (c *Refreshable[K, V]) Stats() RefreshStats {
	c.mu.Lock()
	refreshes, failures := c.refreshes, c.refreshFailures
	c.mu.Unlock()
	return RefreshStats{
		Tier:            c.lru.Stats(),
		Refreshes:       refreshes,
		RefreshFailures: failures,
	}
}

// await blocks on a shared fetch until it settles or the caller's context is
// done. Abandoning the wait does not stop the fetch; late joiners still get
// its result.
func (c *Refreshable[K, V]) await(ctx context.Context, call *fetchCall[V]) (V, error) {
	select {
	case <-call.done:
		return call.value, call.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// maybeRefresh starts a detached refresh for key unless one is already
// running. Refresh failures leave the stale value in place.
func (c *Refreshable[K, V]) maybeRefresh(key K) {
	c.mu.Lock()
	if _, busy := c.refreshing[key]; busy {
		c.mu.Unlock()
		return
	}
	c.refreshing[key] = struct{}{}
	c.mu.Unlock()

	go func() {
		value, err := c.fetch(context.Background(), key)

		c.mu.Lock()
		delete(c.refreshing, key)
		if err != nil {
			c.refreshFailures++
		} else {
			c.refreshes++
		}
		c.mu.Unlock()

		if err != nil {
			log.Warn("background refresh failed", "error", err)
			if c.cfg.Recorder != nil {
				c.cfg.Recorder.RecordRefreshFailure()
			}
			return
		}
		c.lru.PutTTL(key, value, c.cfg.TTL)
		if c.cfg.Recorder != nil {
			c.cfg.Recorder.RecordRefresh()
		}
	}()
}

// RefreshStats describes a refresh-ahead cache.
type RefreshStats struct {
	Tier            Stats
	Refreshes       uint64
	RefreshFailures uint64
}
