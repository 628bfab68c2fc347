package rtp

import "testing"

func TestTransmissionTrackerStoresRemoteCounters(t *testing.T) {
	var tr transmissionTracker
	tr.onReportBlock(rtcpReport{
		FractionLost: 0.5,
		TotalLost:    3,
		LastReceived: 42,
		Jitter:       7,
	})

	if tr.remoteFractionLost != 0.5 || tr.remoteCumLost != 3 || tr.remoteHighestSeq != 42 || tr.remoteJitter != 7 {
		t.Errorf("unexpected tracker state: %+v", tr)
	}
}

func TestTransmissionTrackerComputesRTT(t *testing.T) {
	var tr transmissionTracker
	secs, frac := ntpNow()
	tr.markSenderReportSent(secs, frac)

	lsr := ntpCompact(secs, frac)
	tr.onReportBlock(rtcpReport{
		LastSenderReportTimestamp: lsr,
		LastSenderReportDelay:     1 << 15, // 0.5s in 1/65536s units
	})

	if !tr.haveRTT {
		t.Fatal("expected RTT to be computed once LSR matches")
	}
}

func TestTransmissionTrackerSkipsRTTWithoutMatchingLSR(t *testing.T) {
	var tr transmissionTracker
	tr.onReportBlock(rtcpReport{
		LastSenderReportTimestamp: 1234,
		LastSenderReportDelay:     5678,
	})
	if tr.haveRTT {
		t.Error("RTT should not be computed without a prior matching SR")
	}
}
