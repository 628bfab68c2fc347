package rtp

// transmissionTracker maintains RFC 3550 Appendix A.3-style statistics about
// one outbound SSRC, derived from the Receiver/Sender Report blocks the
// remote peer sends back about it: the remote's view of our loss and
// jitter, and the round-trip time computed from LSR/DLSR.
type transmissionTracker struct {
	haveLastSR     bool
	lastSRCompact  uint32

	remoteFractionLost float32
	remoteCumLost      int
	remoteHighestSeq   uint32
	remoteJitter       uint32

	haveRTT bool
	rttMs   uint32
}

// markSenderReportSent records the NTP timestamp of an SR we are about to
// emit, so a later report block referencing it (via LSR) can be matched.
func (t *transmissionTracker) markSenderReportSent(ntpMSW, ntpLSW uint32) {
	t.lastSRCompact = ntpCompact(ntpMSW, ntpLSW)
	t.haveLastSR = true
}

// onReportBlock consumes one report block the remote peer sent describing
// our outbound stream, updating the remote-observed counters and, when
// possible, the round-trip time estimate.
func (t *transmissionTracker) onReportBlock(report rtcpReport) {
	t.remoteFractionLost = report.FractionLost
	t.remoteCumLost = report.TotalLost
	t.remoteHighestSeq = report.LastReceived
	t.remoteJitter = report.Jitter

	lsr := report.LastSenderReportTimestamp
	dlsr := report.LastSenderReportDelay
	if lsr == 0 || dlsr == 0 || !t.haveLastSR || lsr != t.lastSRCompact {
		return
	}

	nowSecs, nowFrac := ntpNow()
	arrival := ntpCompact(nowSecs, nowFrac)
	rttUnits := arrival - lsr - dlsr

	// Convert from 1/65536 s units to milliseconds.
	t.rttMs = uint32((uint64(rttUnits) * 1000) >> 16)
	t.haveRTT = true
}
