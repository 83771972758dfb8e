// Package types defines the core domain models shared by the pacer runtime
// components: request descriptors, responses, priorities, and the runtime
// performance configuration snapshot.
package types

import (
	"time"
)

// Priority orders pending requests in the scheduler. Higher values are
// admitted first; PriorityCritical bypasses the concurrency budget entirely.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// String returns the lowercase name used in logs and config files.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Request describes one outbound call handed to the scheduler. The scheduler
// owns its lifecycle: queued or executed immediately, resolved exactly once,
// then discarded.
type Request struct {
	// ID is a caller-supplied cancellation handle. If empty the scheduler
	// assigns one before execution.
	ID string

	Method string
	Path   string
	Query  map[string]string
	Header map[string]string
	Body   []byte

	Priority Priority

	// DedupKey, when non-empty, coalesces concurrent logically-identical
	// requests into a single physical execution.
	DedupKey string

	// CacheKey overrides the default method+URI response-cache key.
	CacheKey string
}

// Response is the transport-level result of an executed request.
type Response struct {
	Status int
	Header map[string]string
	Body   []byte
}

// OK reports whether the response carries a success status.
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}

// PerformanceConfig is the process-wide resource budget shared by the worker
// pool, caches, and scheduler. It is immutable: the adaptive controller
// replaces the whole snapshot instead of mutating fields, so readers never
// observe a half-updated configuration.
type PerformanceConfig struct {
	FastCacheCapacity     int
	SlowCacheCapacity     int
	MaxConcurrentRequests int
	TargetFrameBudget     time.Duration
	MonitoringEnabled     bool
	AggressiveReclaim     bool
}

// TargetFPS derives the frame-rate target implied by the frame budget.
func (c *PerformanceConfig) TargetFPS() float64 {
	if c.TargetFrameBudget <= 0 {
		return 0
	}
	return float64(time.Second) / float64(c.TargetFrameBudget)
}
