// Package ice describes the connectivity-check collaborator that a Session
// depends on without implementing: STUN binding requests/responses and
// candidate gathering live outside this module's scope, but the transport
// loop still needs somewhere to hand off STUN-shaped bytes and a transport to
// send/receive on once a candidate pair is selected.
package ice

import "net"

// Endpoint is the net.Conn-shaped result of a completed connectivity check:
// a usable datagram transport to the remote peer, plus whatever's needed to
// keep it alive.
type Endpoint interface {
	Send(b []byte) error
	Recv(b []byte) (int, error)
	RemoteAddr() net.Addr
	Close() error
}

// ChecklistState is the terminal result of ICE connectivity checks for one
// candidate pair.
type ChecklistState int

const (
	ChecklistRunning ChecklistState = iota
	ChecklistSucceeded
	ChecklistFailed
)

// IsSTUN reports whether the first bytes of a packet look like a STUN
// message, per the demultiplexing rule in RFC 7983: the two most
// significant bits of the first byte are 0 for STUN (vs. 0b10 for RTP/RTCP).
// Any first byte in 0-63 matches, which includes the DTLS content types
// 20-63, so DTLS has to be ruled out before this check.
func IsSTUN(b []byte) bool {
	return len(b) >= 1 && b[0]&0xc0 == 0
}
