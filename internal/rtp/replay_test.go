package rtp

import "testing"

func TestReplayWindowAcceptsInOrder(t *testing.T) {
	var w replayWindow
	for i := uint64(0); i < 10; i++ {
		if w.isReplay(i) {
			t.Fatalf("index %d should not be a replay", i)
		}
		w.record(i)
	}
}

func TestReplayWindowRejectsDuplicate(t *testing.T) {
	var w replayWindow
	w.record(5)
	if !w.isReplay(5) {
		t.Error("duplicate index should be flagged as replay")
	}
}

func TestReplayWindowAcceptsOutOfOrderWithinWindow(t *testing.T) {
	var w replayWindow
	w.record(10)
	if w.isReplay(8) {
		t.Error("index within the window should not be a replay")
	}
	w.record(8)
	if !w.isReplay(8) {
		t.Error("index should be a replay once recorded")
	}
}

func TestReplayWindowRejectsTooOld(t *testing.T) {
	var w replayWindow
	w.record(1000)
	if !w.isReplay(1000 - replayWindowSize) {
		t.Error("index older than the window should be flagged as replay")
	}
}

func TestReplayWindowSlidesForward(t *testing.T) {
	var w replayWindow
	w.record(0)
	w.record(200) // far beyond window size, bitmap should reset
	if w.isReplay(199) {
		t.Error("unseen index inside the new window should not be a replay")
	}
	if !w.isReplay(0) {
		t.Error("index far outside the new window should be a replay")
	}
}
