package rtp

import "testing"

func TestReceptionTrackerBaseAndHighest(t *testing.T) {
	var tr receptionTracker
	tr.onPacket(100, 0, 0)
	tr.onPacket(101, 90000, 90000)
	tr.onPacket(103, 180000, 180000) // one packet lost (102)

	report := tr.buildReport(0x1234)
	if report.LastReceived != 103 {
		t.Errorf("LastReceived = %d, want 103", report.LastReceived)
	}
	// expected_total = 103-100+1 = 4, received = 3, so 1 lost.
	if report.TotalLost != 1 {
		t.Errorf("TotalLost = %d, want 1", report.TotalLost)
	}
	if report.FractionLost <= 0 {
		t.Errorf("FractionLost = %f, want > 0", report.FractionLost)
	}
}

func TestReceptionTrackerJitterAccumulates(t *testing.T) {
	var tr receptionTracker
	tr.onPacket(1, 0, 1000)
	tr.onPacket(2, 1000, 3000) // transit jumps from 1000 to 2000
	if tr.jitter == 0 {
		t.Error("expected nonzero jitter after a transit-time change")
	}
}

func TestReceptionTrackerZeroIntervalNoLoss(t *testing.T) {
	var tr receptionTracker
	tr.onPacket(1, 0, 0)
	report := tr.buildReport(1)
	if report.TotalLost != 0 || report.FractionLost != 0 {
		t.Errorf("expected no loss on a single in-order packet, got %+v", report)
	}
}
