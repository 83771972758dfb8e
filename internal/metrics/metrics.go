// Package metrics collects and exposes Prometheus metrics for the runtime:
// job throughput, request scheduling, cache effectiveness, and frame-latency
// health.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns the runtime's metric instruments. It satisfies the Recorder
// interfaces of the workerpool, cache, and scheduler packages, so a single
// instance is wired through the whole runtime.
type Collector struct {
	registry *prometheus.Registry

	// worker pool
	jobsCompleted prometheus.Counter
	jobsFailed    prometheus.Counter
	jobLatency    prometheus.Histogram

	// scheduler
	requestsCompleted prometheus.Counter
	requestsFailed    prometheus.Counter
	requestsCancelled prometheus.Counter
	requestsRetried   prometheus.Counter
	requestsDeduped   prometheus.Counter
	responseCacheHits prometheus.Counter
	requestLatency    prometheus.Histogram
	requestsActive    prometheus.Gauge
	requestsQueued    prometheus.Gauge

	// cache
	cacheRefreshes       prometheus.Counter
	cacheRefreshFailures prometheus.Counter
	cacheSize            *prometheus.GaugeVec
	cacheCapacity        *prometheus.GaugeVec

	// adaptive
	frameLatency prometheus.Histogram
	degraded     prometheus.Gauge
}

// NewCollector creates and registers all instruments on a private registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		jobsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pacer_jobs_completed_total",
			Help: "Total number of worker pool jobs completed successfully",
		}),
		jobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pacer_jobs_failed_total",
			Help: "Total number of worker pool jobs that failed",
		}),
		jobLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pacer_job_latency_seconds",
			Help:    "Worker pool job execution latency in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		requestsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pacer_requests_completed_total",
			Help: "Total number of scheduled requests completed",
		}),
		requestsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pacer_requests_failed_total",
			Help: "Total number of scheduled requests that failed",
		}),
		requestsCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pacer_requests_cancelled_total",
			Help: "Total number of requests cancelled before or during execution",
		}),
		requestsRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pacer_requests_retried_total",
			Help: "Total number of request retry attempts",
		}),
		requestsDeduped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pacer_requests_deduped_total",
			Help: "Total number of requests coalesced onto an in-flight execution",
		}),
		responseCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pacer_response_cache_hits_total",
			Help: "Total number of requests served from the response cache",
		}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pacer_request_latency_seconds",
			Help:    "Scheduled request latency in seconds, including retries",
			Buckets: prometheus.DefBuckets,
		}),
		requestsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pacer_requests_active",
			Help: "Current number of in-flight requests",
		}),
		requestsQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pacer_requests_queued",
			Help: "Current number of requests waiting for admission",
		}),
		cacheRefreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pacer_cache_refreshes_total",
			Help: "Total number of successful background cache refreshes",
		}),
		cacheRefreshFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pacer_cache_refresh_failures_total",
			Help: "Total number of background cache refreshes that failed",
		}),
		cacheSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pacer_cache_entries",
			Help: "Current entry count per cache tier",
		}, []string{"tier"}),
		cacheCapacity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pacer_cache_capacity",
			Help: "Current capacity bound per cache tier",
		}, []string{"tier"}),
		frameLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pacer_frame_latency_seconds",
			Help:    "Host frame render latency in seconds",
			Buckets: []float64{0.004, 0.008, 0.016, 0.025, 0.033, 0.05, 0.1, 0.25},
		}),
		degraded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pacer_degraded",
			Help: "1 when the degraded configuration preset is active",
		}),
	}

	c.registry.MustRegister(
		c.jobsCompleted, c.jobsFailed, c.jobLatency,
		c.requestsCompleted, c.requestsFailed, c.requestsCancelled,
		c.requestsRetried, c.requestsDeduped, c.responseCacheHits,
		c.requestLatency, c.requestsActive, c.requestsQueued,
		c.cacheRefreshes, c.cacheRefreshFailures, c.cacheSize, c.cacheCapacity,
		c.frameLatency, c.degraded,
	)
	return c
}

// RecordJobCompleted records one successful worker pool job.
func (c *Collector) RecordJobCompleted(d time.Duration) {
	c.jobsCompleted.Inc()
	c.jobLatency.Observe(d.Seconds())
}

// RecordJobFailed records one failed worker pool job.
func (c *Collector) RecordJobFailed() {
	c.jobsFailed.Inc()
}

// RecordRequestCompleted records one completed request with its total
// latency, retries included.
func (c *Collector) RecordRequestCompleted(d time.Duration) {
	c.requestsCompleted.Inc()
	c.requestLatency.Observe(d.Seconds())
}

// RecordRequestFailed records a terminally failed request.
func (c *Collector) RecordRequestFailed() {
	c.requestsFailed.Inc()
}

// RecordRequestCancelled records a cancelled request.
func (c *Collector) RecordRequestCancelled() {
	c.requestsCancelled.Inc()
}

// RecordRetry records one retry attempt.
func (c *Collector) RecordRetry() {
	c.requestsRetried.Inc()
}

// RecordDeduped records a request coalesced onto an in-flight execution.
func (c *Collector) RecordDeduped() {
	c.requestsDeduped.Inc()
}

// RecordResponseCacheHit records a request served from the response cache.
func (c *Collector) RecordResponseCacheHit() {
	c.responseCacheHits.Inc()
}

// RecordRefresh records a successful background cache refresh.
func (c *Collector) RecordRefresh() {
	c.cacheRefreshes.Inc()
}

// RecordRefreshFailure records a swallowed background refresh failure so
// persistent refresh trouble stays visible to operators.
func (c *Collector) RecordRefreshFailure() {
	c.cacheRefreshFailures.Inc()
}

// RecordFrame records one host frame duration.
func (c *Collector) RecordFrame(d time.Duration) {
	c.frameLatency.Observe(d.Seconds())
}

// SetDegraded publishes whether the degraded preset is active.
func (c *Collector) SetDegraded(degraded bool) {
	if degraded {
		c.degraded.Set(1)
	} else {
		c.degraded.Set(0)
	}
}

// UpdateSchedulerLoad publishes current scheduler occupancy.
func (c *Collector) UpdateSchedulerLoad(active, queued int) {
	c.requestsActive.Set(float64(active))
	c.requestsQueued.Set(float64(queued))
}

// UpdateCacheTier publishes one tier's size and capacity.
func (c *Collector) UpdateCacheTier(tier string, size, capacity int) {
	c.cacheSize.WithLabelValues(tier).Set(float64(size))
	c.cacheCapacity.WithLabelValues(tier).Set(float64(capacity))
}

// Handler returns the scrape handler for this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// StartServer exposes the collector on /metrics. Blocks until the listener
// fails.
func StartServer(port int, c *Collector) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	addr := fmt.Sprintf(":%d", port)
	return http.ListenAndServe(addr, mux)
}
