package rtp

import "time"

// ntpEpochOffset is the number of seconds between the NTP epoch (1900-01-01)
// and the Unix epoch (1970-01-01).
const ntpEpochOffset = 2208988800

// ntpNow returns the current time as a 64-bit NTP timestamp split into its
// 32-bit seconds and fractional-second halves.
func ntpNow() (secs, frac uint32) {
	now := time.Now()
	secs = uint32(now.Unix() + ntpEpochOffset)
	frac = uint32((uint64(now.Nanosecond()) << 32) / 1e9)
	return
}

// ntpCompact collapses a 64-bit NTP timestamp into the 32-bit "compact" form
// used by the LSR/DLSR fields of RTCP Sender/Receiver Reports.
// See https://tools.ietf.org/html/rfc3550#section-4
func ntpCompact(secs, frac uint32) uint32 {
	return (secs << 16) | (frac >> 16)
}
