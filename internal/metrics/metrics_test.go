package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCounters(t *testing.T) {
	c := NewCollector()

	c.RecordJobCompleted(5 * time.Millisecond)
	c.RecordJobCompleted(5 * time.Millisecond)
	c.RecordJobFailed()
	c.RecordRequestCompleted(20 * time.Millisecond)
	c.RecordRequestFailed()
	c.RecordRequestCancelled()
	c.RecordRetry()
	c.RecordDeduped()
	c.RecordResponseCacheHit()
	c.RecordRefresh()
	c.RecordRefreshFailure()

	assert.Equal(t, 2.0, testutil.ToFloat64(c.jobsCompleted))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobsFailed))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.requestsCompleted))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.requestsFailed))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.requestsCancelled))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.requestsRetried))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.requestsDeduped))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.responseCacheHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cacheRefreshes))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cacheRefreshFailures))
}

func TestCollectorGauges(t *testing.T) {
	c := NewCollector()

	c.UpdateSchedulerLoad(3, 7)
	assert.Equal(t, 3.0, testutil.ToFloat64(c.requestsActive))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.requestsQueued))

	c.UpdateCacheTier("fast", 42, 100)
	assert.Equal(t, 42.0, testutil.ToFloat64(c.cacheSize.WithLabelValues("fast")))
	assert.Equal(t, 100.0, testutil.ToFloat64(c.cacheCapacity.WithLabelValues("fast")))

	c.SetDegraded(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.degraded))
	c.SetDegraded(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.degraded))
}

func TestCollectorIsolatedRegistries(t *testing.T) {
	// Two collectors must not clash: each owns a private registry.
	a := NewCollector()
	b := NewCollector()
	a.RecordJobFailed()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.jobsFailed))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.jobsFailed))
}

func TestCollectorScrapeEndpoint(t *testing.T) {
	c := NewCollector()
	c.RecordFrame(16 * time.Millisecond)
	c.SetDegraded(true)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "pacer_frame_latency_seconds")
	assert.Contains(t, string(body), "pacer_degraded 1")
}
