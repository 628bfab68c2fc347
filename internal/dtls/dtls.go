// Package dtls describes the key-exchange collaborator a Session depends on
// without implementing: the DTLS-SRTP handshake itself (certificates,
// record layer, ClientHello/ServerHello) is out of this module's scope, but
// the transport loop still needs to classify DTLS-shaped bytes during
// bring-up and the resulting keying material has to land somewhere typed.
package dtls

// KeyExchanger produces the SRTP master key/salt pairs for each direction
// once a handshake completes, the same shape as a teacher's
// ExportKeyingMaterial call against an established DTLS connection.
type KeyExchanger interface {
	// Handshake blocks until the exchange completes (or fails) and returns
	// the exported keying material.
	Handshake() (*Keys, error)
}

// Keys holds the SRTP master key/salt pairs derived from a completed DTLS
// handshake, one pair per direction.
type Keys struct {
	ReadKey   []byte
	ReadSalt  []byte
	WriteKey  []byte
	WriteSalt []byte
}

// IsDTLS reports whether the first byte of a packet falls in the DTLS
// content-type range used by the RFC 7983 demultiplexing rule (19 < b < 64).
func IsDTLS(b []byte) bool {
	return len(b) >= 1 && b[0] > 19 && b[0] < 64
}
