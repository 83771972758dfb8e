// ============================================================================
// Throughput Integration Test Suite
// ============================================================================
//
// Package: test/integration
// File: throughput_test.go
// Functionality: system-level throughput measurement
//
// Test Objectives:
//   1. verify request throughput under a full concurrency budget
//   2. verify worker pool job throughput
//
// Performance Baseline:
//   Theoretical request throughput:
//   - budget 6 × 1000ms / ~10ms average transport latency = ~600 req/s
//   - considering scheduling overhead, target is 50 req/s
//
// Notes:
//   - results are affected by system load; CI may be slower than local
//
// ============================================================================

package integration

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/appcelera/pacer/internal/config"
	"github.com/appcelera/pacer/internal/runtime"
	"github.com/appcelera/pacer/internal/workerpool"
	"github.com/appcelera/pacer/pkg/types"
)

func TestSystemThroughput(t *testing.T) {
	cfg := config.Default()
	cfg.Metrics.Enabled = false

	tr := &simTransport{}
	r, err := runtime.New(cfg, tr)
	require.NoError(t, err)
	defer r.Close()
	r.Start()

	const totalRequests = 200

	start := time.Now()
	var wg sync.WaitGroup
	var failed int
	var mu sync.Mutex
	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := r.Scheduler().Schedule(context.Background(), &types.Request{
				Path:   fmt.Sprintf("/v1/load/%d", i),
				Method: "POST",
			})
			if err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)

	completed := totalRequests - failed
	throughput := float64(completed) / elapsed.Seconds()

	t.Logf("=== Request Throughput Results ===")
	t.Logf("Total requests: %d", totalRequests)
	t.Logf("Completed: %d, failed: %d", completed, failed)
	t.Logf("Elapsed: %v", elapsed)
	t.Logf("Throughput: %.2f req/s", throughput)
	t.Logf("==================================")

	require.Zero(t, failed)
	if throughput < 50 {
		t.Errorf("throughput %.2f req/s is below the 50 req/s target", throughput)
	}
}

func TestJobThroughput(t *testing.T) {
	pool := workerpool.New(8, func(ctx context.Context, n int) (int, error) {
		// Small CPU-bound busy loop.
		sum := 0
		for i := 0; i < 10_000; i++ {
			sum += i % (n + 1)
		}
		return sum, nil
	}, nil)
	defer pool.Dispose()

	const totalJobs = 1000

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < totalJobs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = pool.Submit(context.Background(), i)
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)

	stats := pool.Stats()
	t.Logf("=== Job Throughput Results ===")
	t.Logf("Jobs executed: %d, failed: %d", stats.Executed, stats.Failed)
	t.Logf("Elapsed: %v", elapsed)
	t.Logf("Throughput: %.2f jobs/s", float64(stats.Executed)/elapsed.Seconds())
	t.Logf("==============================")

	require.Equal(t, uint64(totalJobs), stats.Executed)
	require.Zero(t, stats.Failed)
}

func BenchmarkScheduledRequests(b *testing.B) {
	cfg := config.Default()
	cfg.Metrics.Enabled = false

	r, err := runtime.New(cfg, &simTransport{})
	require.NoError(b, err)
	defer r.Close()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			i++
			_, _ = r.Scheduler().Schedule(context.Background(), &types.Request{
				Path:   fmt.Sprintf("/bench/%d", i),
				Method: "POST",
			})
		}
	})
}
