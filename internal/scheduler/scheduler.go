// ============================================================================
// Pacer Request Scheduler
// ============================================================================
//
// Package: internal/scheduler
// File: scheduler.go
// Functionality: bounded, prioritized execution of outbound requests
//
// Core responsibilities:
//   1. admit requests under a live concurrency budget (critical bypasses it)
//   2. queue the rest FIFO per priority band, highest band drained first
//   3. retry retryable statuses with exponential backoff
//   4. coalesce concurrent identical requests onto one execution
//   5. serve repeat GETs from a small response cache
//   6. settle every Schedule call exactly once, including on Cancel,
//      CancelAll, and Close
//
// The budget is re-read from the adaptive controller's configuration
// snapshot at each admission decision, so a downgrade takes effect on the
// next admission without interrupting in-flight work.
//
// ============================================================================

// Package scheduler admits outbound requests under a concurrency budget with
// strict priority ordering, retry with exponential backoff, deduplication of
// concurrent identical requests, and a GET response cache. It is
// transport-agnostic: the actual network call is an injected Transport.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/appcelera/pacer/pkg/types"
)

var log = slog.Default()

// Transport performs the actual network call for a request descriptor.
// Connection-level timeouts are the transport's concern; the scheduler
// surfaces them as types.ErrTimeout without retrying.
type Transport interface {
	Do(ctx context.Context, req *types.Request) (*types.Response, error)
}

// ConfigSource supplies the current performance configuration snapshot. The
// adaptive controller implements it; the scheduler re-reads it at every
// admission decision instead of being reconfigured in place.
type ConfigSource interface {
	Config() *types.PerformanceConfig
}

// Recorder receives scheduler events. The metrics collector implements it;
// nil disables reporting.
type Recorder interface {
	RecordRequestCompleted(d time.Duration)
	RecordRequestFailed()
	RecordRequestCancelled()
	RecordRetry()
	RecordDeduped()
	RecordResponseCacheHit()
}

// Config tunes a Scheduler. Zero fields fall back to defaults.
type Config struct {
	// MaxConcurrent bounds in-flight requests when no ConfigSource is set.
	MaxConcurrent int
	// MaxRetries bounds re-issues of a request with a retryable status.
	MaxRetries int
	// RetryDelay is the base backoff delay; retry n waits RetryDelay * 2^n.
	RetryDelay time.Duration
	// RetryableStatuses is the status set that triggers a retry.
	RetryableStatuses []int
	// DedupCap bounds the in-flight dedup map; above it the map is cleared
	// wholesale. Dedup correctness needs a bound, not exact eviction.
	DedupCap int
	// ResponseCacheSize and ResponseCacheTTL tune the GET response cache.
	ResponseCacheSize int
	ResponseCacheTTL  time.Duration

	ConfigSource ConfigSource
	Recorder     Recorder
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.MaxConcurrent <= 0 {
		out.MaxConcurrent = 4
	}
	if out.MaxRetries <= 0 {
		out.MaxRetries = 3
	}
	if out.RetryDelay <= 0 {
		out.RetryDelay = 300 * time.Millisecond
	}
	if out.RetryableStatuses == nil {
		out.RetryableStatuses = []int{408, 429, 500, 502, 503, 504}
	}
	if out.DedupCap <= 0 {
		out.DedupCap = 256
	}
	if out.ResponseCacheSize <= 0 {
		out.ResponseCacheSize = 128
	}
	if out.ResponseCacheTTL <= 0 {
		out.ResponseCacheTTL = time.Minute
	}
	return out
}

// execution is one shared physical execution for a dedup key. resp and err
// are valid after done is closed.
type execution struct {
	done chan struct{}
	resp *types.Response
	err  error
}

// cancelHandle identifies one in-flight execution in the cancels map. The
// wrapper gives registrations an identity, so when two concurrent requests
// reuse an ID the earlier execution's cleanup cannot drop the later one's
// handle.
type cancelHandle struct {
	cancel context.CancelFunc
}

// Scheduler bounds, orders, retries, deduplicates, and caches outbound
// requests. Every Schedule call settles exactly once, including on Cancel,
// CancelAll, and Close.
type Scheduler struct {
	transport Transport
	cfg       Config
	retryable map[int]struct{}
	respCache *responseCache

	mu       sync.Mutex
	queues   priorityQueues
	active   int
	inflight map[string]*execution
	cancels  map[string]*cancelHandle
	closed   bool
}

// New creates a scheduler around transport.
func New(transport Transport, cfg Config) (*Scheduler, error) {
	if transport == nil {
		return nil, errors.New("transport is required")
	}
	cfg = cfg.withDefaults()
	retryable := make(map[int]struct{}, len(cfg.RetryableStatuses))
	for _, status := range cfg.RetryableStatuses {
		retryable[status] = struct{}{}
	}
	return &Scheduler{
		transport: transport,
		cfg:       cfg,
		retryable: retryable,
		respCache: newResponseCache(cfg.ResponseCacheSize, cfg.ResponseCacheTTL),
		inflight:  make(map[string]*execution),
		cancels:   make(map[string]*cancelHandle),
	}, nil
}

// Schedule resolves req with a response or a typed failure. Critical
// requests execute immediately; others run when the concurrency budget
// allows, queueing FIFO within their priority band otherwise. A GET hit in
// the response cache short-circuits admission, retry, and dedup.
func (s *Scheduler) Schedule(ctx context.Context, req *types.Request) (*types.Response, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, types.ErrDisposed
	}
	s.mu.Unlock()

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Method == "" {
		req.Method = "GET"
	}

	if req.Method == "GET" {
		if resp := s.respCache.get(cacheKey(req)); resp != nil {
			if s.cfg.Recorder != nil {
				s.cfg.Recorder.RecordResponseCacheHit()
			}
			return resp, nil
		}
	}

	if req.DedupKey == "" {
		return s.admitAndRun(ctx, req)
	}

	s.mu.Lock()
	if exec, ok := s.inflight[req.DedupKey]; ok {
		s.mu.Unlock()
		if s.cfg.Recorder != nil {
			s.cfg.Recorder.RecordDeduped()
		}
		select {
		case <-exec.done:
			return exec.resp, exec.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if len(s.inflight) >= s.cfg.DedupCap {
		// Wholesale clear keeps the map bounded. Executions evicted here
		// still settle their own waiters; they only lose dedup linkage.
		s.inflight = make(map[string]*execution)
	}
	exec := &execution{done: make(chan struct{})}
	s.inflight[req.DedupKey] = exec
	s.mu.Unlock()

	resp, err := s.admitAndRun(ctx, req)
	exec.resp, exec.err = resp, err

	s.mu.Lock()
	if s.inflight[req.DedupKey] == exec {
		delete(s.inflight, req.DedupKey)
	}
	s.mu.Unlock()
	close(exec.done)

	return resp, err
}

// Cancel settles the request with the given id: a queued request is removed
// and resolved with types.ErrCancelled, an in-flight one has its execution
// context cancelled. Reports whether a request was found.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	if p := s.queues.removeByID(id); p != nil {
		close(p.cancelled)
		s.mu.Unlock()
		if s.cfg.Recorder != nil {
			s.cfg.Recorder.RecordRequestCancelled()
		}
		return true
	}
	h, ok := s.cancels[id]
	s.mu.Unlock()
	if !ok {
		return false
	}
	h.cancel()
	return true
}

// CancelAll drains every queued request and cancels every in-flight
// execution. All outstanding Schedule calls settle with types.ErrCancelled.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	drained := s.queues.drain()
	for _, p := range drained {
		close(p.cancelled)
	}
	cancels := make([]*cancelHandle, 0, len(s.cancels))
	for _, h := range s.cancels {
		cancels = append(cancels, h)
	}
	s.mu.Unlock()

	for _, h := range cancels {
		h.cancel()
	}
	if s.cfg.Recorder != nil {
		for range drained {
			s.cfg.Recorder.RecordRequestCancelled()
		}
	}
	if len(drained) > 0 || len(cancels) > 0 {
		log.Info("cancelled outstanding requests", "queued", len(drained), "in_flight", len(cancels))
	}
}

// Close cancels all outstanding work and rejects subsequent Schedule calls
// with types.ErrDisposed. Idempotent.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.CancelAll()
}

// InvalidateResponses drops the GET response cache.
func (s *Scheduler) InvalidateResponses() {
	s.respCache.clear()
}

// Stats returns a point-in-time view of scheduler load.
func (s *Scheduler) Stats() SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SchedulerStats{
		Active:   s.active,
		Queued:   s.queues.size(),
		InFlight: len(s.inflight),
	}
}

// admitAndRun applies the admission policy, then executes with retry.
func (s *Scheduler) admitAndRun(ctx context.Context, req *types.Request) (*types.Response, error) {
	counted := false
	if req.Priority != types.PriorityCritical {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, types.ErrDisposed
		}
		if s.active < s.maxConcurrent() {
			s.active++
			counted = true
			s.mu.Unlock()
		} else {
			p := newPending(req)
			s.queues.push(p)
			s.mu.Unlock()

			if err := s.awaitAdmission(ctx, p); err != nil {
				return nil, err
			}
			counted = true
		}
	}

	resp, err := s.execute(ctx, req)
	if counted {
		s.release()
	}
	return resp, err
}

// awaitAdmission blocks until p is admitted, cancelled, or the caller's
// context ends. A context abort after admission releases the granted slot.
func (s *Scheduler) awaitAdmission(ctx context.Context, p *pending) error {
	select {
	case <-p.admit:
		return nil
	case <-p.cancelled:
		return types.ErrCancelled
	case <-ctx.Done():
		s.mu.Lock()
		if s.queues.remove(p) {
			s.mu.Unlock()
			return ctx.Err()
		}
		s.mu.Unlock()
		// Settled concurrently: either cancelled or already admitted.
		select {
		case <-p.cancelled:
			return types.ErrCancelled
		case <-p.admit:
			s.release()
			return ctx.Err()
		}
	}
}

// release frees one budget slot and admits from the highest non-empty band.
func (s *Scheduler) release() {
	s.mu.Lock()
	s.active--
	s.dispatchLocked()
	s.mu.Unlock()
}

// dispatchLocked admits queued requests while the budget allows. The budget
// is re-read here so an adaptive downgrade takes effect on the next
// admission, never by interrupting in-flight work. Callers must hold mu.
func (s *Scheduler) dispatchLocked() {
	for s.active < s.maxConcurrent() {
		p := s.queues.pop()
		if p == nil {
			return
		}
		s.active++
		close(p.admit)
	}
}

// maxConcurrent reads the live budget from the config source when present.
func (s *Scheduler) maxConcurrent() int {
	if s.cfg.ConfigSource != nil {
		if cfg := s.cfg.ConfigSource.Config(); cfg != nil && cfg.MaxConcurrentRequests > 0 {
			return cfg.MaxConcurrentRequests
		}
	}
	return s.cfg.MaxConcurrent
}

// execute issues req through the transport, retrying retryable statuses with
// exponential backoff and registering a cancel handle for the request id.
func (s *Scheduler) execute(ctx context.Context, req *types.Request) (*types.Response, error) {
	execCtx, cancel := context.WithCancel(ctx)
	h := &cancelHandle{cancel: cancel}
	s.mu.Lock()
	s.cancels[req.ID] = h
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		// A concurrent request reusing this ID may have replaced the
		// registration; only remove our own handle.
		if s.cancels[req.ID] == h {
			delete(s.cancels, req.ID)
		}
		s.mu.Unlock()
		cancel()
	}()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.RetryDelay
	bo.RandomizationFactor = 0
	bo.Multiplier = 2
	bo.MaxInterval = time.Minute
	bo.MaxElapsedTime = 0
	bo.Reset()

	start := time.Now()
	attempt := 0
	for {
		resp, err := s.transport.Do(execCtx, req)
		if err != nil {
			return nil, s.settleError(err)
		}

		if _, retryable := s.retryable[resp.Status]; retryable {
			if attempt >= s.cfg.MaxRetries {
				if s.cfg.Recorder != nil {
					s.cfg.Recorder.RecordRequestFailed()
				}
				return nil, &types.RetryExhaustedError{LastStatus: resp.Status, Attempts: attempt}
			}
			delay := bo.NextBackOff()
			if s.cfg.Recorder != nil {
				s.cfg.Recorder.RecordRetry()
			}
			log.Debug("retrying request",
				"id", req.ID,
				"status", resp.Status,
				"attempt", attempt+1,
				"delay", delay)
			select {
			case <-time.After(delay):
			case <-execCtx.Done():
				return nil, s.settleError(execCtx.Err())
			}
			attempt++
			continue
		}

		if req.Method == "GET" && resp.Status == 200 {
			s.respCache.put(cacheKey(req), resp)
		}
		if s.cfg.Recorder != nil {
			s.cfg.Recorder.RecordRequestCompleted(time.Since(start))
		}
		return resp, nil
	}
}

// settleError maps a transport or context failure onto the caller-facing
// taxonomy: ErrCancelled, ErrTimeout, or TransportError.
func (s *Scheduler) settleError(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		if s.cfg.Recorder != nil {
			s.cfg.Recorder.RecordRequestCancelled()
		}
		return types.ErrCancelled
	case errors.Is(err, context.DeadlineExceeded):
		if s.cfg.Recorder != nil {
			s.cfg.Recorder.RecordRequestFailed()
		}
		return types.ErrTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		if s.cfg.Recorder != nil {
			s.cfg.Recorder.RecordRequestFailed()
		}
		return types.ErrTimeout
	}
	if s.cfg.Recorder != nil {
		s.cfg.Recorder.RecordRequestFailed()
	}
	return &types.TransportError{Err: err}
}

// SchedulerStats is a point-in-time load snapshot.
type SchedulerStats struct {
	Active   int
	Queued   int
	InFlight int
}
