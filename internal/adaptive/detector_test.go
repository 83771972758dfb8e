package adaptive

// ============================================================================
// Degradation Detector Tests
// Purpose: verify the bounded sample window, the mean-FPS threshold, and the
// one-way degraded flag.
// ============================================================================

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordFrames(d *Detector, frame time.Duration, n int) {
	for i := 0; i < n; i++ {
		d.RecordFrame(frame)
	}
}

func TestDetectorHealthyFramesStayClean(t *testing.T) {
	d := NewDetector(DetectorConfig{WindowSize: 10})
	recordFrames(d, 16*time.Millisecond, 10) // ~62 FPS

	assert.False(t, d.Check())
	assert.False(t, d.Degraded())
}

func TestDetectorSlowFramesMarkDegraded(t *testing.T) {
	d := NewDetector(DetectorConfig{WindowSize: 10, MinFPS: 40})
	recordFrames(d, 50*time.Millisecond, 10) // 20 FPS

	assert.True(t, d.Check())
	assert.True(t, d.Degraded())
}

func TestDetectorEmptyWindowNeverDegrades(t *testing.T) {
	d := NewDetector(DetectorConfig{})
	assert.False(t, d.Check())
}

func TestDetectorThresholdBoundary(t *testing.T) {
	// 25ms frames are exactly 40 FPS, which is not below the floor.
	d := NewDetector(DetectorConfig{WindowSize: 4, MinFPS: 40})
	recordFrames(d, 25*time.Millisecond, 4)
	assert.False(t, d.Check())

	// One tick over the budget tips the mean under the floor.
	d2 := NewDetector(DetectorConfig{WindowSize: 4, MinFPS: 40})
	recordFrames(d2, 26*time.Millisecond, 4)
	assert.True(t, d2.Check())
}

// TestDetectorWindowIsBounded overfills the window and verifies old samples
// roll off instead of accumulating.
func TestDetectorWindowIsBounded(t *testing.T) {
	d := NewDetector(DetectorConfig{WindowSize: 8, MinFPS: 40})

	// A long burst of terrible frames, then a full window of good ones.
	recordFrames(d, 100*time.Millisecond, 100)
	d.Reset()
	recordFrames(d, 10*time.Millisecond, 8)

	state := d.State()
	assert.Equal(t, 8, state.FrameSamples, "sample count caps at the window size")
	assert.Equal(t, 10*time.Millisecond, state.MeanFrame)
	assert.False(t, d.Check())
}

func TestDetectorRollingMean(t *testing.T) {
	d := NewDetector(DetectorConfig{WindowSize: 4, MinFPS: 40})

	// Fill with slow frames, then roll the whole window over with fast ones.
	recordFrames(d, 80*time.Millisecond, 4)
	recordFrames(d, 10*time.Millisecond, 4)

	state := d.State()
	assert.Equal(t, 10*time.Millisecond, state.MeanFrame, "old samples overwritten in place")
}

// TestDetectorFlagIsOneWay degrades, then feeds perfect frames; only Reset
// may clear the flag.
func TestDetectorFlagIsOneWay(t *testing.T) {
	d := NewDetector(DetectorConfig{WindowSize: 4, MinFPS: 40})
	recordFrames(d, 100*time.Millisecond, 4)
	require.True(t, d.Check())

	recordFrames(d, 5*time.Millisecond, 4)
	assert.True(t, d.Check(), "recovery in the window must not clear the flag")
	assert.True(t, d.Degraded())

	d.Reset()
	assert.False(t, d.Degraded())
	assert.Equal(t, 0, d.State().FrameSamples)
}

func TestDetectorStateActions(t *testing.T) {
	d := NewDetector(DetectorConfig{WindowSize: 4, MinFPS: 40, MemoryThreshold: 1 << 20})
	recordFrames(d, 100*time.Millisecond, 4)
	d.Check()
	d.RecordMemory(4 << 20)

	state := d.State()
	assert.True(t, state.Degraded)
	assert.Contains(t, state.Actions, ActionShrinkCaches)
	assert.Contains(t, state.Actions, ActionReduceConcurrency)
	assert.Contains(t, state.Actions, ActionAggressiveReclaim)
	assert.InDelta(t, 10.0, state.FPS, 0.5)
}

func TestDetectorMemoryWindowBounded(t *testing.T) {
	d := NewDetector(DetectorConfig{MemoryWindowSize: 4})
	for i := 0; i < 20; i++ {
		d.RecordMemory(1 << 20)
	}
	d.RecordMemory(5 << 20)

	// Mean over the last 4 samples only.
	state := d.State()
	assert.Equal(t, uint64(2<<20), state.MeanMemory)
}

func TestDetectorCheckIntervalThrottlesEvaluation(t *testing.T) {
	d := NewDetector(DetectorConfig{WindowSize: 4, MinFPS: 40, CheckInterval: time.Hour})

	// Slow frames pile up, but no interval has elapsed since construction,
	// so nothing is evaluated until forced.
	recordFrames(d, 100*time.Millisecond, 4)
	assert.False(t, d.Degraded(), "interval not elapsed, no evaluation")

	assert.True(t, d.Check(), "forced check evaluates regardless of interval")
}

// TestDetectorIgnoresSingleStartupJank verifies one slow launch frame cannot
// trip the one-way flag: the first evaluation waits for a full interval, by
// which point the window mean is healthy again.
func TestDetectorIgnoresSingleStartupJank(t *testing.T) {
	d := NewDetector(DetectorConfig{WindowSize: 120, MinFPS: 40})

	d.RecordFrame(30 * time.Millisecond) // ~33 FPS launch jank
	assert.False(t, d.Degraded(), "a single frame never fills an interval")

	recordFrames(d, 10*time.Millisecond, 119)
	assert.False(t, d.Check(), "window mean is healthy despite the jank")
	assert.False(t, d.Degraded())
}

func TestDetectorResetRestartsCheckInterval(t *testing.T) {
	d := NewDetector(DetectorConfig{WindowSize: 4, MinFPS: 40, CheckInterval: time.Hour})
	recordFrames(d, 100*time.Millisecond, 4)
	require.True(t, d.Check())

	d.Reset()

	// After a reset the interval starts over: new slow frames wait for a
	// full interval again instead of evaluating on the next sample.
	recordFrames(d, 100*time.Millisecond, 4)
	assert.False(t, d.Degraded())
}
