package workerpool

// ============================================================================
// Worker Pool Tests
// Purpose: verify lazy start, round-robin execution, panic containment, and
// that Dispose settles every outstanding submit.
// ============================================================================

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appcelera/pacer/pkg/types"
)

func doubler(ctx context.Context, n int) (int, error) {
	return n * 2, nil
}

func TestPoolExecutesTransform(t *testing.T) {
	p := New(4, doubler, nil)
	defer p.Dispose()

	v, err := p.Submit(context.Background(), 21)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestPoolLazyStart(t *testing.T) {
	p := New(2, doubler, nil)
	defer p.Dispose()

	assert.False(t, p.Started(), "workers must not start before the first submit")

	_, err := p.Submit(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, p.Started())
}

func TestPoolTransformError(t *testing.T) {
	failing := func(ctx context.Context, n int) (int, error) {
		return 0, errors.New("bad input")
	}
	p := New(2, failing, nil)
	defer p.Dispose()

	_, err := p.Submit(context.Background(), 1)
	assert.ErrorContains(t, err, "bad input")

	stats := p.Stats()
	assert.Equal(t, uint64(1), stats.Executed)
	assert.Equal(t, uint64(1), stats.Failed)
}

// TestPoolConcurrentSubmits floods the pool from many goroutines and checks
// every job settles with its own result.
func TestPoolConcurrentSubmits(t *testing.T) {
	p := New(4, doubler, nil)
	defer p.Dispose()

	const jobs = 64
	var wg sync.WaitGroup
	var bad atomic.Int64
	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			v, err := p.Submit(context.Background(), n)
			if err != nil || v != n*2 {
				bad.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Zero(t, bad.Load())
	assert.Equal(t, uint64(jobs), p.Stats().Executed)
}

// TestPoolRoundRobinNoStealing blocks slot 0 with a slow job and verifies
// the next submit runs on slot 1 while a third, assigned back to slot 0,
// stays queued behind the slow job instead of being stolen.
func TestPoolRoundRobinNoStealing(t *testing.T) {
	release := make(chan struct{})
	transform := func(ctx context.Context, n int) (int, error) {
		if n == 0 {
			select {
			case <-release:
			case <-ctx.Done():
			}
		}
		return n, nil
	}
	p := New(2, transform, nil)
	defer p.Dispose()

	slowDone := make(chan struct{})
	go func() {
		p.Submit(context.Background(), 0) // slot 0, blocks
		close(slowDone)
	}()
	time.Sleep(20 * time.Millisecond)

	// Slot 1 is free, so this completes despite the blocked slot.
	v, err := p.Submit(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	// Back to slot 0: queued behind the slow job, not stolen by slot 1.
	stuckDone := make(chan struct{})
	go func() {
		p.Submit(context.Background(), 2)
		close(stuckDone)
	}()
	select {
	case <-stuckDone:
		t.Fatal("job assigned to the blocked slot ran on another worker")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	<-slowDone
	select {
	case <-stuckDone:
	case <-time.After(time.Second):
		t.Fatal("queued job did not run after its slot freed up")
	}
}

func TestPoolPanicBecomesExecutionError(t *testing.T) {
	panicky := func(ctx context.Context, n int) (int, error) {
		panic("transform exploded")
	}
	p := New(2, panicky, nil)
	defer p.Dispose()

	_, err := p.Submit(context.Background(), 1)
	require.Error(t, err)

	var execErr *types.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "transform exploded", execErr.Cause)
	assert.NotEmpty(t, execErr.Stack)
	assert.LessOrEqual(t, len(execErr.Stack), 10, "stack must be truncated")

	found := false
	for _, frame := range execErr.Stack {
		if strings.Contains(frame, "pool_test") {
			found = true
		}
	}
	assert.True(t, found, "stack should point at the panicking transform")
}

func TestPoolSurvivesPanic(t *testing.T) {
	count := 0
	flaky := func(ctx context.Context, n int) (int, error) {
		count++
		if n < 0 {
			panic(n)
		}
		return n, nil
	}
	p := New(1, flaky, nil)
	defer p.Dispose()

	_, err := p.Submit(context.Background(), -1)
	require.Error(t, err)

	// The slot keeps serving after a panic.
	v, err := p.Submit(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

// TestPoolDisposeSettlesPendingSubmits blocks the single slot with a slow
// job, piles more submits behind it, then disposes; everything must settle.
func TestPoolDisposeSettlesPendingSubmits(t *testing.T) {
	release := make(chan struct{})
	slow := func(ctx context.Context, n int) (int, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return n, nil
	}
	p := New(1, slow, nil)

	const waiters = 8
	errs := make(chan error, waiters)
	for i := 0; i < waiters; i++ {
		go func(n int) {
			_, err := p.Submit(context.Background(), n)
			errs <- err
		}(i)
	}
	time.Sleep(50 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		p.Dispose()
		close(done)
	}()

	// The job already running may settle with its result; every queued one
	// must settle with ErrDisposed. Nothing may hang.
	for i := 0; i < waiters; i++ {
		select {
		case err := <-errs:
			if err != nil {
				assert.ErrorIs(t, err, types.ErrDisposed)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("submit did not settle after dispose")
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispose did not return")
	}
	close(release)
}

func TestPoolSubmitAfterDispose(t *testing.T) {
	p := New(2, doubler, nil)
	p.Dispose()

	_, err := p.Submit(context.Background(), 1)
	assert.ErrorIs(t, err, types.ErrDisposed)
}

func TestPoolDisposeIdempotent(t *testing.T) {
	p := New(2, doubler, nil)
	_, err := p.Submit(context.Background(), 1)
	require.NoError(t, err)

	p.Dispose()
	p.Dispose()
}

func TestPoolDisposeWithoutStart(t *testing.T) {
	p := New(2, doubler, nil)
	p.Dispose() // never started, must not hang
	assert.False(t, p.Started())
}

func TestPoolCallerContextCancellation(t *testing.T) {
	slow := func(ctx context.Context, n int) (int, error) {
		select {
		case <-time.After(5 * time.Second):
		case <-ctx.Done():
		}
		return n, nil
	}
	p := New(1, slow, nil)
	defer p.Dispose()

	// Occupy the slot, then submit with a short deadline.
	go p.Submit(context.Background(), 1)
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := p.Submit(ctx, 2)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPoolWorkersFloor(t *testing.T) {
	p := New(0, doubler, nil)
	defer p.Dispose()
	assert.Equal(t, 1, p.Workers())
}
