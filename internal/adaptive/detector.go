// ============================================================================
// Pacer Degradation Detector
// ============================================================================
//
// Package: internal/adaptive
// File: detector.go
// Functionality: rolling-window detection of sustained low frame rate
//
// Core responsibilities:
//   1. keep bounded ring windows of frame-latency and heap samples
//   2. evaluate the window mean against the FPS floor once per interval
//   3. hold a one-way degraded flag cleared only by an explicit Reset
//   4. derive recommended actions (shrink caches, reduce concurrency,
//      aggressive reclaim) for the controller and for diagnostics
//
// The flag is deliberately sticky: the detector reacts once and the owner
// decides when conditions justify re-arming via Reset.
//
// ============================================================================

// Package adaptive monitors rendering health and drives the shared
// performance configuration. A bounded rolling window of frame-latency
// samples feeds a degradation detector; when sustained low frame rate is
// detected, the controller swaps the runtime's configuration snapshot for a
// more conservative preset.
package adaptive

import (
	"sync"
	"time"
)

// Defaults for the degradation detector.
const (
	defaultWindowSize       = 120
	defaultMemoryWindowSize = 32
	defaultCheckInterval    = 2 * time.Second
	defaultMinFPS           = 40.0
)

// Action is a recommended reaction to degraded runtime health.
type Action string

const (
	ActionShrinkCaches      Action = "shrink_caches"
	ActionReduceConcurrency Action = "reduce_concurrency"
	ActionAggressiveReclaim Action = "aggressive_reclaim"
)

// DetectorConfig tunes a Detector. Zero fields fall back to defaults.
type DetectorConfig struct {
	// WindowSize is the number of frame samples kept; older samples are
	// overwritten, bounding memory.
	WindowSize int
	// MemoryWindowSize bounds the heap-usage sample window.
	MemoryWindowSize int
	// CheckInterval is how often a recorded frame triggers an evaluation.
	CheckInterval time.Duration
	// MinFPS is the floor below which the window mean marks degradation.
	MinFPS float64
	// MemoryThreshold, when non-zero, recommends aggressive reclaim once
	// the mean sampled heap usage exceeds it.
	MemoryThreshold uint64
}

func (c *DetectorConfig) withDefaults() DetectorConfig {
	out := *c
	if out.WindowSize <= 0 {
		out.WindowSize = defaultWindowSize
	}
	if out.MemoryWindowSize <= 0 {
		out.MemoryWindowSize = defaultMemoryWindowSize
	}
	if out.CheckInterval <= 0 {
		out.CheckInterval = defaultCheckInterval
	}
	if out.MinFPS <= 0 {
		out.MinFPS = defaultMinFPS
	}
	return out
}

// Detector keeps bounded rolling windows of frame latency and heap usage and
// derives a one-way degraded flag. The flag is cleared only by an explicit
// Reset: the detector's job is to react once and let the owner decide when
// to re-evaluate.
type Detector struct {
	cfg DetectorConfig

	mu         sync.Mutex
	frames     []time.Duration
	frameNext  int
	frameCount int
	memory     []uint64
	memNext    int
	memCount   int
	degraded   bool
	lastCheck  time.Time
}

// NewDetector creates a detector with bounded sample windows.
func NewDetector(cfg DetectorConfig) *Detector {
	cfg = cfg.withDefaults()
	return &Detector{
		cfg:    cfg,
		frames: make([]time.Duration, cfg.WindowSize),
		memory: make([]uint64, cfg.MemoryWindowSize),
		// The first periodic evaluation waits out a full check interval so a
		// transient startup jank never trips the one-way flag off a
		// near-empty window.
		lastCheck: time.Now(),
	}
}

// RecordFrame stores one frame duration pushed by the host render loop and,
// at most once per check interval, evaluates the window.
func (d *Detector) RecordFrame(frame time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.frames[d.frameNext] = frame
	d.frameNext = (d.frameNext + 1) % len(d.frames)
	if d.frameCount < len(d.frames) {
		d.frameCount++
	}

	now := time.Now()
	if now.Sub(d.lastCheck) >= d.cfg.CheckInterval {
		d.lastCheck = now
		d.evaluateLocked()
	}
}

// RecordMemory stores one heap-usage sample.
func (d *Detector) RecordMemory(bytes uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.memory[d.memNext] = bytes
	d.memNext = (d.memNext + 1) % len(d.memory)
	if d.memCount < len(d.memory) {
		d.memCount++
	}
}

// Check forces an immediate window evaluation, independent of the check
// interval, and reports the degraded flag.
func (d *Detector) Check() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastCheck = time.Now()
	d.evaluateLocked()
	return d.degraded
}

// Degraded reports the one-way degradation flag.
func (d *Detector) Degraded() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.degraded
}

// Reset clears the flag and both sample windows.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.degraded = false
	d.frameCount = 0
	d.frameNext = 0
	d.memCount = 0
	d.memNext = 0
	d.lastCheck = time.Now()
}

// State returns a snapshot of the current window and derived
// recommendations.
func (d *Detector) State() DegradationState {
	d.mu.Lock()
	defer d.mu.Unlock()

	state := DegradationState{
		Degraded:     d.degraded,
		FrameSamples: d.frameCount,
		MeanFrame:    d.meanFrameLocked(),
		MeanMemory:   d.meanMemoryLocked(),
	}
	if state.MeanFrame > 0 {
		state.FPS = float64(time.Second) / float64(state.MeanFrame)
	}
	if d.degraded {
		state.Actions = append(state.Actions, ActionShrinkCaches, ActionReduceConcurrency)
	}
	if d.cfg.MemoryThreshold > 0 && state.MeanMemory > d.cfg.MemoryThreshold {
		state.Actions = append(state.Actions, ActionAggressiveReclaim)
	}
	return state
}

// evaluateLocked marks degradation when the window mean implies a frame rate
// below the floor. The flag is one-way. Callers must hold mu.
func (d *Detector) evaluateLocked() {
	mean := d.meanFrameLocked()
	if mean <= 0 {
		return
	}
	fps := float64(time.Second) / float64(mean)
	if fps < d.cfg.MinFPS {
		d.degraded = true
	}
}

func (d *Detector) meanFrameLocked() time.Duration {
	if d.frameCount == 0 {
		return 0
	}
	var sum time.Duration
	for i := 0; i < d.frameCount; i++ {
		sum += d.frames[i]
	}
	return sum / time.Duration(d.frameCount)
}

func (d *Detector) meanMemoryLocked() uint64 {
	if d.memCount == 0 {
		return 0
	}
	var sum uint64
	for i := 0; i < d.memCount; i++ {
		sum += d.memory[i]
	}
	return sum / uint64(d.memCount)
}

// DegradationState is a read-only snapshot of detector health.
type DegradationState struct {
	Degraded     bool
	FrameSamples int
	MeanFrame    time.Duration
	FPS          float64
	MeanMemory   uint64
	Actions      []Action
}
