package scheduler

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/appcelera/pacer/pkg/types"
)

// responseCache is the scheduler's GET-only response store. Unlike the tiered
// cache it is deliberately dumb: fixed TTL, fixed capacity, oldest-inserted
// evicted first, no recency tracking. A hit short-circuits admission, retry,
// and dedup entirely.
type responseCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	entries  map[string]*cachedResponse
	order    []string // insertion order, oldest first
}

type cachedResponse struct {
	resp     *types.Response
	storedAt time.Time
}

func newResponseCache(capacity int, ttl time.Duration) *responseCache {
	if capacity < 1 {
		capacity = 1
	}
	return &responseCache{
		capacity: capacity,
		ttl:      ttl,
		entries:  make(map[string]*cachedResponse),
	}
}

// get returns the cached response for key, or nil on a miss or expiry.
func (c *responseCache) get(key string) *types.Response {
	c.mu.Lock()
	defer c.mu.Unlock()

	cached, ok := c.entries[key]
	if !ok {
		return nil
	}
	if time.Since(cached.storedAt) > c.ttl {
		delete(c.entries, key)
		c.removeFromOrder(key)
		return nil
	}
	return cached.resp
}

// put stores resp under key, evicting the oldest insertion at capacity.
func (c *responseCache) put(key string, resp *types.Response) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		c.entries[key] = &cachedResponse{resp: resp, storedAt: time.Now()}
		return
	}
	if len(c.entries) >= c.capacity && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[key] = &cachedResponse{resp: resp, storedAt: time.Now()}
	c.order = append(c.order, key)
}

// clear drops every cached response.
func (c *responseCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cachedResponse)
	c.order = nil
}

func (c *responseCache) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// cacheKey derives the response-cache key for req: the caller-supplied
// CacheKey when present, otherwise method plus URI with sorted query params
// so equivalent requests share an entry.
func cacheKey(req *types.Request) string {
	if req.CacheKey != "" {
		return req.CacheKey
	}
	var b strings.Builder
	b.WriteString(req.Method)
	b.WriteByte(' ')
	b.WriteString(req.Path)
	if len(req.Query) > 0 {
		keys := make([]string, 0, len(req.Query))
		for k := range req.Query {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sep := byte('?')
		for _, k := range keys {
			b.WriteByte(sep)
			sep = '&'
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(req.Query[k])
		}
	}
	return b.String()
}
