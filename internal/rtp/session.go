package rtp

import (
	"io"
	"math/rand"
	"net"
	"time"

	"github.com/lanikai/rtcmedia/internal/dtls"
	"github.com/lanikai/rtcmedia/internal/ice"
)

type SessionOptions struct {
	// SRTP master key material.
	ReadKey   []byte
	ReadSalt  []byte
	WriteKey  []byte
	WriteSalt []byte

	// Maximum size of outgoing packets, factoring in MTU and protocol overhead.
	MaxPacketSize int

	// Initial/min/max bitrate for the congestion controller, in bits per
	// second. The controller is disabled unless MinBitrate and MaxBitrate
	// are both non-zero.
	InitialBitrate uint32
	MinBitrate     uint32
	MaxBitrate     uint32

	// OnBitrateUpdate is invoked whenever the congestion controller changes
	// its target bitrate.
	OnBitrateUpdate func(bps uint32)

	// OnSTUN, when set, receives every datagram classified as STUN (the
	// ICE keepalive/connectivity-check traffic multiplexed onto the same
	// endpoint, per RFC 7983). The slice is a fresh copy that the callee may
	// keep.
	OnSTUN func(b []byte)

	// OnDTLS, when set, receives every datagram classified as DTLS (the
	// handshake traffic multiplexed onto the same endpoint, per RFC 7983).
	// The slice is a fresh copy that the callee may keep.
	OnDTLS func(b []byte)
}

const (
	// It's hard to find authoritative information, but according to a popular
	// StackOverflow answer, a 512-byte UDP payload is generally considered safe
	// (https://stackoverflow.com/a/1099359/11194515).
	defaultMaxPacketSize = 512

	// RTCP report interval, randomized by +/-50% to avoid synchronized bursts
	// across sessions.
	rtcpReportInterval = time.Second
)

// A Session represents an established RTP/RTCP connection to a remote peer. It
// contains one or more streams, each represented by their own SSRC.
type Session struct {
	SessionOptions

	conn net.Conn

	// RTP streams in this session, keyed by SSRC. Every stream appears twice in
	// the map, once for the local SSRC and once for the remote SSRC.
	streams map[uint32]*Stream

	// SRTP cryptographic contexts.
	readContext  *cryptoContext
	writeContext *cryptoContext

	congestion *congestionController

	closed chan struct{}
}

func NewSession(conn net.Conn, opts SessionOptions) *Session {
	if opts.MaxPacketSize == 0 {
		opts.MaxPacketSize = defaultMaxPacketSize
	}

	s := new(Session)
	s.SessionOptions = opts
	s.conn = conn
	s.streams = make(map[uint32]*Stream)
	s.closed = make(chan struct{})
	if opts.ReadKey != nil && opts.ReadSalt != nil {
		s.readContext = newCryptoContext(opts.ReadKey, opts.ReadSalt)
	}
	if opts.WriteKey != nil && opts.WriteSalt != nil {
		s.writeContext = newCryptoContext(opts.WriteKey, opts.WriteSalt)
	}
	if opts.MinBitrate > 0 && opts.MaxBitrate > 0 {
		initial := opts.InitialBitrate
		if initial == 0 {
			initial = opts.MinBitrate
		}
		s.congestion = newCongestionController(initial, opts.MinBitrate, opts.MaxBitrate, opts.OnBitrateUpdate)
	}

	go s.readLoop()
	go s.rtcpScheduleLoop()
	return s
}

func (s *Session) Close() error {
	close(s.closed)
	return s.conn.Close()
}

// InstallSRTP (re)keys the session's SRTP contexts and propagates the new
// contexts to every stream already added. Safe to call once a key exchange
// completes, even after streams have been created.
func (s *Session) InstallSRTP(readKey, readSalt, writeKey, writeSalt []byte) {
	if readKey != nil && readSalt != nil {
		s.readContext = newCryptoContext(readKey, readSalt)
	}
	if writeKey != nil && writeSalt != nil {
		s.writeContext = newCryptoContext(writeKey, writeSalt)
	}

	seen := make(map[*Stream]bool, len(s.streams))
	for _, stream := range s.streams {
		if seen[stream] {
			continue
		}
		seen[stream] = true

		if stream.rtpOut != nil {
			stream.rtpOut.crypto = s.writeContext
		}
		if stream.rtpIn != nil {
			stream.rtpIn.crypto = s.readContext
		}
		if stream.rtcpOut != nil {
			stream.rtcpOut.crypto = s.writeContext
		}
		if stream.rtcpIn != nil {
			stream.rtcpIn.crypto = s.readContext
		}
	}
}

func (s *Session) AddStream(opts StreamOptions) *Stream {
	if opts.MaxPacketSize == 0 {
		opts.MaxPacketSize = s.MaxPacketSize
	}
	stream := newStream(s, opts)
	s.streams[stream.LocalSSRC] = stream
	s.streams[stream.RemoteSSRC] = stream
	return stream
}

func (s *Session) RemoveStream(stream *Stream) {
	delete(s.streams, stream.LocalSSRC)
	delete(s.streams, stream.RemoteSSRC)
}

// Returns on read error or when the session is closed.
func (s *Session) readLoop() {
	buf := make([]byte, 65536)
	for {
		n, err := s.conn.Read(buf)
		if err != nil {
			if err == io.EOF {
				log.Debug("read RTP: EOF")
			} else {
				log.Error("read RTP: %v", err)
			}
			return
		}

		pkt := buf[0:n]

		// Demultiplex STUN/DTLS/RTP per RFC 7983 section 7 before treating
		// the datagram as RTP/RTCP. DTLS's byte range (20-63) overlaps
		// STUN's (0-63 with the top two bits zero), so DTLS must be
		// checked first.
		if dtls.IsDTLS(pkt) {
			if s.OnDTLS != nil {
				cp := append([]byte(nil), pkt...)
				s.OnDTLS(cp)
			}
			continue
		}
		if ice.IsSTUN(pkt) {
			if s.OnSTUN != nil {
				cp := append([]byte(nil), pkt...)
				s.OnSTUN(cp)
			}
			continue
		}

		isRTCP, ssrc, err := identifyPacket(pkt)
		if err != nil {
			log.Error("read RTP: %v", err)
			continue
		}

		stream := s.streams[ssrc]
		if stream == nil {
			log.Debug("read RTP: unknown SSRC %02x", ssrc)
			continue
		}

		if isRTCP {
			if err := stream.rtcpIn.readPacket(pkt); err != nil {
				log.Error("read RTCP: %v", err)
			}
		} else {
			if err := stream.rtpIn.readPacket(pkt); err != nil {
				log.Error("read RTP: %v", err)
			}
		}
	}
}

// rtcpScheduleLoop periodically emits a Receiver Report (or Sender Report,
// for streams that have sent data) for every stream in the session.
func (s *Session) rtcpScheduleLoop() {
	for {
		select {
		case <-s.closed:
			return
		case <-time.After(jitterInterval(rtcpReportInterval)):
		}

		seen := make(map[*Stream]bool, len(s.streams))
		for _, stream := range s.streams {
			if seen[stream] {
				continue
			}
			seen[stream] = true

			var err error
			if stream.rtpOut != nil && stream.rtpOut.count > 0 {
				err = stream.sendSenderReport()
			} else {
				err = stream.sendReceiverReport()
			}
			if err != nil {
				log.Debug("RTCP report: %v", err)
			}
		}
	}
}

// jitterInterval randomizes base by +/-50%, to avoid RTCP transmissions from
// many sessions becoming synchronized.
func jitterInterval(base time.Duration) time.Duration {
	half := float64(base) / 2
	return time.Duration(half + rand.Float64()*float64(base))
}
