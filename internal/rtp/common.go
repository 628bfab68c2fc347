package rtp

// common.go contains generic logic that is common between RTP and RTCP (i.e.
// the data protocol and the control protocol).

import (
	"encoding/binary"
	"fmt"
)

const (
	// RFC 3550 defines RTP version 2.
	rtpVersion = 2
)

type errBadVersion byte

func (e errBadVersion) Error() string {
	return fmt.Sprintf("invalid RTP version: %d", byte(e))
}

// errTooShort indicates a buffer ended before the fixed RTP header did.
type errTooShort struct{ remaining, needed int }

func (e errTooShort) Error() string {
	return fmt.Sprintf("RTP packet too short: %d bytes remaining, %d needed", e.remaining, e.needed)
}

// errCsrcCountMismatch indicates the CC field names more CSRC identifiers
// than the buffer has room for.
type errCsrcCountMismatch struct{ declared, remaining int }

func (e errCsrcCountMismatch) Error() string {
	return fmt.Sprintf("RTP CSRC count %d exceeds %d remaining bytes", e.declared, e.remaining)
}

// errExtensionTooShort indicates the X bit is set but the declared header
// extension doesn't fit in the remaining buffer.
type errExtensionTooShort struct{ remaining, needed int }

func (e errExtensionTooShort) Error() string {
	return fmt.Sprintf("RTP extension too short: %d bytes remaining, %d needed", e.remaining, e.needed)
}

// errPaddingTooShort indicates the P bit is set but the declared padding
// count exceeds what remains of the payload.
type errPaddingTooShort struct{ declared, remaining int }

func (e errPaddingTooShort) Error() string {
	return fmt.Sprintf("RTP padding count %d exceeds %d remaining payload bytes", e.declared, e.remaining)
}

// Demultiplex RTP/RTCP. See https://tools.ietf.org/html/rfc5761#section-4.
func identifyPacket(buf []byte) (rtcp bool, ssrc uint32, err error) {
	if len(buf) < 8 {
		err = fmt.Errorf("short RTP/RTCP packet: %02x", buf)
		return
	}
	packetType := buf[1]
	if 192 <= packetType && packetType <= 223 {
		rtcp = true
		ssrc = binary.BigEndian.Uint32(buf[4:8])
	} else {
		if len(buf) < 12 {
			err = fmt.Errorf("short RTP packet: %02x", buf)
			return
		}
		rtcp = false
		ssrc = binary.BigEndian.Uint32(buf[8:12])
	}
	return
}
