package rtp

import (
	"testing"
	"time"
)

func TestCongestionControllerDecreasesOnLoss(t *testing.T) {
	var updated uint32
	c := newCongestionController(1000, 100, 2000, func(bps uint32) { updated = bps })

	c.onNetworkMetrics(0.5, 10*time.Millisecond) // well above default loss threshold
	if updated == 0 {
		t.Fatal("expected a bitrate update on high loss")
	}
	if updated >= 1000 {
		t.Errorf("expected bitrate to decrease, got %d", updated)
	}
}

func TestCongestionControllerDecreasesOnHighRTT(t *testing.T) {
	var updated uint32
	c := newCongestionController(1000, 100, 2000, func(bps uint32) { updated = bps })

	c.onNetworkMetrics(0, time.Second) // no loss, but RTT far above threshold
	if updated >= 1000 {
		t.Errorf("expected bitrate to decrease on high RTT, got %d", updated)
	}
}

func TestCongestionControllerClampsToMax(t *testing.T) {
	var updated uint32
	c := newCongestionController(1000, 100, 1050, func(bps uint32) { updated = bps })
	c.lastUpdate = time.Now().Add(-time.Hour) // force the increase branch

	c.onNetworkMetrics(0, 0)
	if updated > 1050 {
		t.Errorf("bitrate should be clamped to max, got %d", updated)
	}
}

func TestCongestionControllerNoChangeWhenStableAndRecent(t *testing.T) {
	var calls int
	c := newCongestionController(1000, 100, 2000, func(bps uint32) { calls++ })

	c.onNetworkMetrics(0, 0) // stable, but increaseInterval has not elapsed
	if calls != 0 {
		t.Errorf("expected no update immediately after construction, got %d calls", calls)
	}
}
