package rtp

// receptionTracker maintains RFC 3550 Appendix A-style reception statistics
// for one inbound SSRC: jitter, cumulative/interval loss, and the SR timing
// needed to fill the LSR/DLSR fields of our own Receiver Reports.
type receptionTracker struct {
	haveBase      bool
	baseExtSeq    uint32
	highestExtSeq uint32
	uniqueCount   uint32
	expectedPrev  uint32
	receivedPrev  uint32

	jitter       uint32
	haveTransit  bool
	lastTransit  uint32

	haveLastSR         bool
	lastSRCompact      uint32
	lastSRArrivalCompact uint32
}

// onPacket records one uniquely-received (post-replay-check) RTP packet.
// arrivalRTPUnits is the local arrival time expressed in the stream's RTP
// clock units.
func (t *receptionTracker) onPacket(extSeq uint32, rtpTimestamp uint32, arrivalRTPUnits uint32) {
	if !t.haveBase {
		t.baseExtSeq = extSeq
		t.haveBase = true
	}
	if extSeq > t.highestExtSeq {
		t.highestExtSeq = extSeq
	}
	t.uniqueCount++

	transit := arrivalRTPUnits - rtpTimestamp
	if t.haveTransit {
		d := absDiffUint32(transit, t.lastTransit)
		// jitter += (d - jitter) / 16, saturating so jitter never goes negative.
		if d >= t.jitter {
			t.jitter += (d - t.jitter) / 16
		} else {
			t.jitter -= (t.jitter - d) / 16
		}
	}
	t.lastTransit = transit
	t.haveTransit = true
}

// onSenderReport records the timing of an inbound Sender Report so that the
// next Receiver Report can fill in LSR/DLSR.
func (t *receptionTracker) onSenderReport(ntpMSW, ntpLSW uint32) {
	t.lastSRCompact = ntpCompact(ntpMSW, ntpLSW)
	nowSecs, nowFrac := ntpNow()
	t.lastSRArrivalCompact = ntpCompact(nowSecs, nowFrac)
	t.haveLastSR = true
}

// buildReport synthesizes one RTCP report block for ssrc from the
// accumulated state, and resets the interval counters.
func (t *receptionTracker) buildReport(ssrc uint32) rtcpReport {
	expectedTotal := t.highestExtSeq - t.baseExtSeq + 1
	cumulativeLost := int32(expectedTotal) - int32(t.uniqueCount)

	expDelta := expectedTotal - t.expectedPrev
	recDelta := t.uniqueCount - t.receivedPrev
	var lostDelta uint32
	if expDelta > recDelta {
		lostDelta = expDelta - recDelta
	}
	var fractionLost float32
	if expDelta != 0 {
		fractionLost = float32(lostDelta) / float32(expDelta)
	}

	t.expectedPrev = expectedTotal
	t.receivedPrev = t.uniqueCount

	var lsr, dlsr uint32
	if t.haveLastSR {
		lsr = t.lastSRCompact
		nowSecs, nowFrac := ntpNow()
		dlsr = ntpCompact(nowSecs, nowFrac) - t.lastSRArrivalCompact
	}

	return rtcpReport{
		Source:                    ssrc,
		FractionLost:              fractionLost,
		TotalLost:                 int(cumulativeLost),
		LastReceived:              t.highestExtSeq,
		Jitter:                    t.jitter,
		LastSenderReportTimestamp: lsr,
		LastSenderReportDelay:     dlsr,
	}
}

func absDiffUint32(a, b uint32) uint32 {
	if a >= b {
		return a - b
	}
	return b - a
}
