// Package runtime wires the resource-management components into one
// explicitly constructed root object: worker pools, tiered caches, the
// request scheduler, and the adaptive performance controller. Nothing here is
// a process-wide singleton; the host application owns the Runtime and passes
// it down.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/appcelera/pacer/internal/adaptive"
	"github.com/appcelera/pacer/internal/cache"
	"github.com/appcelera/pacer/internal/config"
	"github.com/appcelera/pacer/internal/metrics"
	"github.com/appcelera/pacer/internal/scheduler"
	"github.com/appcelera/pacer/pkg/types"
)

var log = slog.Default()

// statsInterval is how often gauges and lazily observed configuration are
// refreshed.
const statsInterval = time.Second

// Disposable is anything the runtime tears down on Close, typically worker
// pools created by the host.
type Disposable interface {
	Dispose()
}

// Runtime is the application-level container for the resource-management
// components. Construct with New, start the background loops with Start, and
// release everything with Close.
type Runtime struct {
	cfg        *config.Config
	collector  *metrics.Collector
	detector   *adaptive.Detector
	controller *adaptive.Controller
	scheduler  *scheduler.Scheduler
	data       *cache.MultiLevel[string, []byte]
	remote     *cache.Refreshable[string, []byte]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	managed     []Disposable
	started     bool
	closed      bool
	lastApplied *types.PerformanceConfig
}

// New builds a runtime from cfg around the injected transport.
func New(cfg *config.Config, transport scheduler.Transport) (*Runtime, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if transport == nil {
		return nil, errors.New("transport is required")
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector()
	}

	detector := adaptive.NewDetector(adaptive.DetectorConfig{
		WindowSize:    cfg.Adaptive.WindowSize,
		CheckInterval: cfg.CheckInterval(),
		MinFPS:        cfg.Adaptive.MinFPS,
	})
	controller := adaptive.NewController(detector)
	if cfg.Adaptive.Enabled {
		controller.EnableAdaptiveMode(cfg.Adaptive.OlderDevice)
	}

	schedCfg := scheduler.Config{
		MaxConcurrent:      cfg.Scheduler.MaxConcurrent,
		MaxRetries:         cfg.Scheduler.MaxRetries,
		RetryDelay:         cfg.RetryDelay(),
		RetryableStatuses:  cfg.Scheduler.RetryableStatuses,
		DedupCap:           cfg.Scheduler.DedupCap,
		ResponseCacheSize:  cfg.Scheduler.ResponseCacheSize,
		ResponseCacheTTL:   cfg.ResponseCacheTTL(),
		ConfigSource:       controller,
	}
	if collector != nil {
		schedCfg.Recorder = collector
	}
	sched, err := scheduler.New(transport, schedCfg)
	if err != nil {
		return nil, fmt.Errorf("build scheduler: %w", err)
	}

	data := cache.NewMultiLevel[string, []byte](
		cfg.Cache.FastCapacity, cfg.Cache.SlowCapacity,
		cfg.FastTTL(), cfg.SlowTTL(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	r := &Runtime{
		cfg:        cfg,
		collector:  collector,
		detector:   detector,
		controller: controller,
		scheduler:  sched,
		data:       data,
		ctx:        ctx,
		cancel:     cancel,
	}

	remoteCfg := cache.RefreshableConfig{
		Capacity:         cfg.Cache.SlowCapacity,
		TTL:              cfg.SlowTTL(),
		RefreshThreshold: cfg.SlowTTL() / 2,
	}
	if collector != nil {
		remoteCfg.Recorder = collector
	}
	remote, err := cache.NewRefreshable[string, []byte](remoteCfg, r.fetchRemote)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build remote cache: %w", err)
	}
	r.remote = remote

	return r, nil
}

// Start launches the adaptation and stats loops. Idempotent.
func (r *Runtime) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.closed {
		return
	}
	r.started = true

	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		r.controller.Run(r.ctx, r.cfg.CheckInterval())
	}()
	go r.statsLoop()

	log.Info("runtime started",
		"max_concurrent", r.cfg.Scheduler.MaxConcurrent,
		"fast_cache", r.cfg.Cache.FastCapacity,
		"slow_cache", r.cfg.Cache.SlowCapacity,
		"adaptive", r.cfg.Adaptive.Enabled)
}

// Close stops the loops, closes the scheduler (settling every outstanding
// request), and disposes managed pools. Idempotent.
func (r *Runtime) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	managed := r.managed
	r.managed = nil
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
	r.scheduler.Close()
	for _, d := range managed {
		d.Dispose()
	}
	log.Info("runtime stopped")
}

// Manage registers d for disposal on Close. Worker pools are generic over
// their job types, so the host constructs them and hands them here for
// lifecycle ownership.
func (r *Runtime) Manage(d Disposable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		d.Dispose()
		return
	}
	r.managed = append(r.managed, d)
}

// Scheduler returns the request scheduler.
func (r *Runtime) Scheduler() *scheduler.Scheduler { return r.scheduler }

// Controller returns the adaptive performance controller.
func (r *Runtime) Controller() *adaptive.Controller { return r.controller }

// Metrics returns the collector, or nil when metrics are disabled.
func (r *Runtime) Metrics() *metrics.Collector { return r.collector }

// Data returns the two-tier cache for derived values.
func (r *Runtime) Data() *cache.MultiLevel[string, []byte] { return r.data }

// RecordFrame feeds one frame duration from the host render loop into the
// degradation detector and the metrics collector.
func (r *Runtime) RecordFrame(d time.Duration) {
	r.detector.RecordFrame(d)
	if r.collector != nil {
		r.collector.RecordFrame(d)
	}
}

// RecordMemory feeds one heap-usage sample into the detector.
func (r *Runtime) RecordMemory(bytes uint64) {
	r.detector.RecordMemory(bytes)
}

// FetchCached resolves a GET for path through the refresh-ahead cache: warm
// values return immediately (revalidating in the background past the soft
// threshold), cold keys fetch through the scheduler with coalescing.
func (r *Runtime) FetchCached(ctx context.Context, path string) ([]byte, error) {
	return r.remote.Get(ctx, path)
}

// InvalidateFetched drops the cached value for path.
func (r *Runtime) InvalidateFetched(path string) {
	r.remote.Invalidate(path)
}

// fetchRemote is the remote cache's fetcher: a normal-priority GET through
// the scheduler, deduplicated per path.
func (r *Runtime) fetchRemote(ctx context.Context, path string) ([]byte, error) {
	resp, err := r.scheduler.Schedule(ctx, &types.Request{
		Method:   "GET",
		Path:     path,
		Priority: types.PriorityNormal,
		DedupKey: "fetch:" + path,
	})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", path, resp.Status)
	}
	return resp.Body, nil
}

// statsLoop periodically publishes gauges and applies the current
// configuration snapshot to the caches. Capacity changes land here rather
// than being pushed mid-operation: configuration is observed, not forced.
func (r *Runtime) statsLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			log.Info("stats loop stopped")
			return
		case <-ticker.C:
			r.applyConfig()
			r.publishStats()
		}
	}
}

// applyConfig resizes the caches when the controller has swapped in a new
// snapshot since the last tick.
func (r *Runtime) applyConfig() {
	snapshot := r.controller.Config()

	r.mu.Lock()
	changed := snapshot != r.lastApplied
	r.lastApplied = snapshot
	r.mu.Unlock()
	if !changed {
		return
	}

	r.data.Resize(snapshot.FastCacheCapacity, snapshot.SlowCacheCapacity)
	r.remote.Resize(snapshot.SlowCacheCapacity)
	if snapshot.AggressiveReclaim {
		r.scheduler.InvalidateResponses()
	}
	log.Info("applied configuration snapshot",
		"fast_capacity", snapshot.FastCacheCapacity,
		"slow_capacity", snapshot.SlowCacheCapacity,
		"max_concurrent", snapshot.MaxConcurrentRequests)
}

func (r *Runtime) publishStats() {
	if r.collector == nil {
		return
	}
	load := r.scheduler.Stats()
	r.collector.UpdateSchedulerLoad(load.Active, load.Queued)

	fast := r.data.FastStats()
	slow := r.data.SlowStats()
	remote := r.remote.Stats().Tier
	r.collector.UpdateCacheTier("fast", fast.Size, fast.Capacity)
	r.collector.UpdateCacheTier("slow", slow.Size, slow.Capacity)
	r.collector.UpdateCacheTier("remote", remote.Size, remote.Capacity)

	r.collector.SetDegraded(r.controller.Degraded())
}
