package adaptive

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/appcelera/pacer/pkg/types"
)

var log = slog.Default()

// DefaultConfig is the preset for a healthy runtime.
func DefaultConfig() *types.PerformanceConfig {
	return &types.PerformanceConfig{
		FastCacheCapacity:     100,
		SlowCacheCapacity:     500,
		MaxConcurrentRequests: 6,
		TargetFrameBudget:     16 * time.Millisecond,
		MonitoringEnabled:     true,
	}
}

// OlderDeviceConfig is the conservative starting preset for hardware known
// to be slow before any degradation is observed.
func OlderDeviceConfig() *types.PerformanceConfig {
	return &types.PerformanceConfig{
		FastCacheCapacity:     50,
		SlowCacheCapacity:     200,
		MaxConcurrentRequests: 3,
		TargetFrameBudget:     33 * time.Millisecond,
		MonitoringEnabled:     true,
	}
}

// DegradedConfig is the preset applied once sustained low frame rate is
// detected.
func DegradedConfig() *types.PerformanceConfig {
	return &types.PerformanceConfig{
		FastCacheCapacity:     25,
		SlowCacheCapacity:     100,
		MaxConcurrentRequests: 2,
		TargetFrameBudget:     33 * time.Millisecond,
		MonitoringEnabled:     true,
		AggressiveReclaim:     true,
	}
}

// Controller holds the current performance configuration and downgrades it
// when the detector reports degradation. The policy is a coarse two-level
// switch rather than continuous tuning: the consumers are cheap to
// reconfigure but expensive to thrash.
//
// The snapshot is replaced wholesale through an atomic pointer, never
// mutated, so concurrent readers always see a consistent configuration.
type Controller struct {
	detector *Detector
	config   atomic.Pointer[types.PerformanceConfig]
	adaptive atomic.Bool
	degraded atomic.Bool
}

// NewController creates a controller over detector, starting from
// DefaultConfig.
func NewController(detector *Detector) *Controller {
	c := &Controller{detector: detector}
	c.config.Store(DefaultConfig())
	return c
}

// Config returns the current configuration snapshot. Never nil. Consumers
// re-read it lazily at their next operation; the controller never reaches
// into running components.
func (c *Controller) Config() *types.PerformanceConfig {
	return c.config.Load()
}

// Detector exposes the underlying degradation detector for sample pushes.
func (c *Controller) Detector() *Detector {
	return c.detector
}

// EnableAdaptiveMode arms AdjustForPerformance. For an older device the
// starting preset is already conservative.
func (c *Controller) EnableAdaptiveMode(isOlderDevice bool) {
	c.adaptive.Store(true)
	if isOlderDevice {
		c.config.Store(OlderDeviceConfig())
		log.Info("adaptive mode enabled with older-device preset")
		return
	}
	log.Info("adaptive mode enabled")
}

// AdjustForPerformance swaps in the degraded preset when adaptive mode is on
// and the detector reports degradation. Reports whether a downgrade
// happened on this call.
func (c *Controller) AdjustForPerformance() bool {
	if !c.adaptive.Load() || c.detector == nil || !c.detector.Degraded() {
		return false
	}
	if c.degraded.Swap(true) {
		return false
	}
	c.config.Store(DegradedConfig())
	state := c.detector.State()
	log.Warn("performance degraded, applying conservative configuration",
		"mean_frame", state.MeanFrame,
		"fps", state.FPS)
	return true
}

// Degraded reports whether the degraded preset is active.
func (c *Controller) Degraded() bool {
	return c.degraded.Load()
}

// Reset restores the default preset and clears the detector, re-arming a
// future downgrade.
func (c *Controller) Reset() {
	c.degraded.Store(false)
	c.config.Store(DefaultConfig())
	if c.detector != nil {
		c.detector.Reset()
	}
}

// Run periodically evaluates the detector and applies adaptation until ctx
// ends. Hosts that prefer to drive adaptation from their own loop can skip
// Run and call AdjustForPerformance directly.
func (c *Controller) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("adaptation loop stopped")
			return
		case <-ticker.C:
			if c.detector != nil {
				c.detector.Check()
			}
			c.AdjustForPerformance()
		}
	}
}
