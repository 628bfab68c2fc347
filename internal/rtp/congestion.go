package rtp

import "time"

// congestionController is a threshold-based AIMD bitrate controller: loss
// or RTT above their thresholds cut the target bitrate multiplicatively,
// and a stable link grows it multiplicatively no more than once per
// increaseInterval. There is no teacher equivalent for this; it follows the
// congestion controller shipped alongside this stack's original Rust
// implementation.
type congestionController struct {
	currentBps uint32
	minBps     uint32
	maxBps     uint32

	lastUpdate time.Time

	lossThreshold float32
	rttThreshold  time.Duration

	increaseInterval time.Duration
	increaseFactor   float64
	decreaseFactor   float64

	onUpdate func(bps uint32)
}

const (
	defaultLossThreshold    = 0.1
	defaultRTTThresholdMs   = 300
	defaultIncreaseInterval = 2 * time.Second
	defaultIncreaseFactor   = 1.05
	defaultDecreaseFactor   = 0.85
)

func newCongestionController(initialBps, minBps, maxBps uint32, onUpdate func(bps uint32)) *congestionController {
	return &congestionController{
		currentBps:       initialBps,
		minBps:           minBps,
		maxBps:           maxBps,
		lastUpdate:       time.Now(),
		lossThreshold:    defaultLossThreshold,
		rttThreshold:     defaultRTTThresholdMs * time.Millisecond,
		increaseInterval: defaultIncreaseInterval,
		increaseFactor:   defaultIncreaseFactor,
		decreaseFactor:   defaultDecreaseFactor,
		onUpdate:         onUpdate,
	}
}

// onNetworkMetrics applies one (fractionLost, rtt) observation, in priority
// order: excess loss beats excess RTT beats the periodic increase. The
// result is clamped to [minBps, maxBps]; onUpdate fires only when the
// bitrate actually changes.
func (c *congestionController) onNetworkMetrics(fractionLost float32, rtt time.Duration) {
	now := time.Now()
	target := c.currentBps

	switch {
	case fractionLost > c.lossThreshold:
		target = uint32(float64(target) * c.decreaseFactor)
	case rtt > c.rttThreshold:
		target = uint32(float64(target) * c.decreaseFactor)
	case now.Sub(c.lastUpdate) >= c.increaseInterval:
		target = uint32(float64(target) * c.increaseFactor)
	}

	if target < c.minBps {
		target = c.minBps
	}
	if target > c.maxBps {
		target = c.maxBps
	}

	if target != c.currentBps {
		c.currentBps = target
		c.lastUpdate = now
		if c.onUpdate != nil {
			c.onUpdate(target)
		}
	}
}

// onRemoteEstimate applies a REMB (receiver estimated max bitrate) report
// from the far end. REMB only constrains the ceiling, so it's ignored
// unless it's lower than the current target; it's clamped the same as
// onNetworkMetrics and fires onUpdate only when the bitrate changes.
func (c *congestionController) onRemoteEstimate(estimatedBps uint32) {
	if estimatedBps >= c.currentBps {
		return
	}
	target := estimatedBps
	if target < c.minBps {
		target = c.minBps
	}
	if target > c.maxBps {
		target = c.maxBps
	}

	if target != c.currentBps {
		c.currentBps = target
		c.lastUpdate = time.Now()
		if c.onUpdate != nil {
			c.onUpdate(target)
		}
	}
}
