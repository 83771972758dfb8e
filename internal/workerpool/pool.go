// ============================================================================
// Pacer Worker Pool
// ============================================================================
//
// Package: internal/workerpool
// File: pool.go
// Functionality: background execution of a fixed transform on N worker slots
//
// Core responsibilities:
//   1. start workers lazily on the first submit
//   2. assign jobs round-robin across per-slot queues (no work stealing)
//   3. settle every submit exactly once: result, typed panic failure,
//      ErrDisposed, or the caller's context error
//   4. convert transform panics into ExecutionError with a truncated stack
//   5. dispose idempotently, cancelling the shared context token
//
// Cancellation is cooperative: the transform receives a context it may poll,
// and nothing preempts a running job.
//
// ============================================================================

// Package workerpool runs CPU-bound transforms off the caller's goroutine on
// a fixed set of background workers. Each worker owns its own queue and jobs
// are assigned round-robin, so one slow job can delay its slot but never
// blocks the whole pool.
package workerpool

import (
	"context"
	"sync"
	"time"

	"github.com/appcelera/pacer/pkg/types"
)

// slotQueueDepth bounds each slot's private queue.
const slotQueueDepth = 16

// Transform is the pure function a pool executes. It must be side-effect-free
// with respect to caller state. The context is the pool's cancellation token:
// it is cancelled on Dispose, and a transform that ignores it runs to
// completion. A panic inside the transform surfaces as *types.ExecutionError.
type Transform[I, O any] func(ctx context.Context, input I) (O, error)

// Recorder receives job completion events. The metrics collector implements
// it; nil disables reporting.
type Recorder interface {
	RecordJobCompleted(d time.Duration)
	RecordJobFailed()
}

type outcome[O any] struct {
	value O
	err   error
}

type job[I, O any] struct {
	input  I
	result chan outcome[O] // buffered, settled exactly once
}

type slot[I, O any] struct {
	id   int
	jobs chan job[I, O]
}

// Pool executes a fixed transform on n background workers. Workers start
// lazily on the first Submit. Every Submit settles exactly once: with the
// transform's result, with types.ErrDisposed on teardown, or with the
// caller's context error if the caller stops waiting.
type Pool[I, O any] struct {
	transform Transform[I, O]
	slots     []*slot[I, O]
	recorder  Recorder

	ctx    context.Context // cancellation token handed to transforms
	cancel context.CancelFunc
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu       sync.Mutex
	next     int
	started  bool
	disposed bool

	executed uint64
	failed   uint64
}

// New creates a pool of workers slots around transform. rec may be nil.
func New[I, O any](workers int, transform Transform[I, O], rec Recorder) *Pool[I, O] {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool[I, O]{
		transform: transform,
		slots:     make([]*slot[I, O], workers),
		recorder:  rec,
		ctx:       ctx,
		cancel:    cancel,
		stopCh:    make(chan struct{}),
	}
	for i := range p.slots {
		p.slots[i] = &slot[I, O]{id: i, jobs: make(chan job[I, O], slotQueueDepth)}
	}
	return p
}

// Submit runs input through the pool's transform on the next round-robin slot
// and blocks until the job settles. Safe for concurrent use; each call gets
// an independent completion.
func (p *Pool[I, O]) Submit(ctx context.Context, input I) (O, error) {
	var zero O

	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return zero, types.ErrDisposed
	}
	if !p.started {
		p.startLocked()
	}
	s := p.slots[p.next%len(p.slots)]
	p.next++
	p.mu.Unlock()

	j := job[I, O]{input: input, result: make(chan outcome[O], 1)}

	select {
	case s.jobs <- j:
	case <-p.stopCh:
		return zero, types.ErrDisposed
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	select {
	case out := <-j.result:
		return out.value, out.err
	case <-p.stopCh:
		return zero, types.ErrDisposed
	case <-ctx.Done():
		// The caller stops waiting; the job still runs to completion in
		// its slot. Cancellation is cooperative, not preemptive.
		return zero, ctx.Err()
	}
}

// Dispose terminates the workers and settles every not-yet-settled Submit
// with types.ErrDisposed. Idempotent. An in-flight submit is
// cancellable-on-dispose, not guaranteed-to-run.
func (p *Pool[I, O]) Dispose() {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return
	}
	p.disposed = true
	started := p.started
	p.mu.Unlock()

	p.cancel()
	close(p.stopCh)
	if started {
		p.wg.Wait()
	}
}

// Workers returns the slot count.
func (p *Pool[I, O]) Workers() int {
	return len(p.slots)
}

// Started reports whether the workers have been spun up.
func (p *Pool[I, O]) Started() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}

// Stats returns execution counters.
func (p *Pool[I, O]) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Workers:  len(p.slots),
		Executed: p.executed,
		Failed:   p.failed,
	}
}

// startLocked spins up one goroutine per slot. Callers must hold mu.
func (p *Pool[I, O]) startLocked() {
	for _, s := range p.slots {
		p.wg.Add(1)
		go p.run(s)
	}
	p.started = true
}

// run is a slot's main loop: execute queued jobs until the pool stops.
func (p *Pool[I, O]) run(s *slot[I, O]) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case j := <-s.jobs:
			start := time.Now()
			out := p.execute(j.input)
			j.result <- out

			p.mu.Lock()
			p.executed++
			if out.err != nil {
				p.failed++
			}
			p.mu.Unlock()

			if p.recorder != nil {
				if out.err != nil {
					p.recorder.RecordJobFailed()
				} else {
					p.recorder.RecordJobCompleted(time.Since(start))
				}
			}
		}
	}
}

// execute runs the transform, converting a panic into a typed execution
// error with a truncated stack instead of losing the job.
func (p *Pool[I, O]) execute(input I) (out outcome[O]) {
	defer func() {
		if r := recover(); r != nil {
			out = outcome[O]{err: &types.ExecutionError{
				Cause: r,
				Stack: capturedStack(),
			}}
		}
	}()
	value, err := p.transform(p.ctx, input)
	return outcome[O]{value: value, err: err}
}

// PoolStats describes a pool's execution counters.
type PoolStats struct {
	Workers  int
	Executed uint64
	Failed   uint64
}
