// Package rtcmedia implements the media transport half of a WebRTC peer:
// RTP/RTCP framing, SRTP protection, H.264 packetization, and a
// threshold-based congestion controller, sitting on top of a connectivity
// transport and key exchange supplied by the caller.
package rtcmedia

import (
	"fmt"
	"math/rand"
	"net"

	"github.com/lanikai/rtcmedia/internal/logging"
	"github.com/lanikai/rtcmedia/internal/rtp"
	"github.com/lanikai/rtcmedia/internal/sdp"
)

var log = logging.DefaultLogger.WithTag("rtcmedia")

// TrackHandle identifies one track added to a Session: the SSRC it was
// assigned and the payload type number it will be sent with.
type TrackHandle struct {
	SSRC        uint32
	PayloadType byte
}

// SessionConfig configures a new Session.
type SessionConfig struct {
	// Endpoint is the established datagram transport to the remote peer,
	// typically the result of an ICE connectivity check (see internal/ice).
	Endpoint net.Conn

	// MaxPacketSize bounds outgoing RTP/RTCP packets; 0 selects a
	// conservative default.
	MaxPacketSize int

	// InitialBitrate/MinBitrate/MaxBitrate configure the congestion
	// controller, in bits per second. The controller is disabled unless
	// Min/Max are both set.
	InitialBitrate uint32
	MinBitrate     uint32
	MaxBitrate     uint32

	// OnBitrateUpdate is invoked whenever the congestion controller revises
	// its target bitrate, so the caller's encoder can react.
	OnBitrateUpdate func(bps uint32)

	// OnSTUN and OnDTLS, when set, receive datagrams classified off the
	// same Endpoint as STUN connectivity checks or DTLS handshake traffic,
	// rather than RTP/RTCP, so the caller's ICE agent and key exchange can
	// share the one socket with this session.
	OnSTUN func(b []byte)
	OnDTLS func(b []byte)
}

// Keys holds one direction's SRTP master key and salt.
type Keys struct {
	Key  []byte
	Salt []byte
}

// Session is the façade that owns the
// transport endpoint, the outbound/inbound track tables, the SRTP contexts,
// and the congestion controller, and exposes the handful of operations a
// caller needs to drive a WebRTC media session.
type Session struct {
	inner *rtp.Session

	outbound map[uint32]*rtp.Stream
	inbound  map[uint32]*rtp.Stream

	codecs map[byte]rtp.PayloadType

	// H.264 sprop-parameter-sets (SPS/PPS), decoded from each payload
	// type's fmtp string by OnRemoteSDP, keyed by payload type number.
	parameterSets map[byte][][]byte

	nextSSRC func() uint32
}

// NewSession creates a Session bound to cfg.Endpoint. SRTP is not installed
// yet; call InstallSRTP once the key exchange completes.
func NewSession(cfg SessionConfig) *Session {
	s := &Session{
		outbound:      make(map[uint32]*rtp.Stream),
		inbound:       make(map[uint32]*rtp.Stream),
		codecs:        make(map[byte]rtp.PayloadType),
		parameterSets: make(map[byte][][]byte),
		nextSSRC:      rand.Uint32,
	}
	s.inner = rtp.NewSession(cfg.Endpoint, rtp.SessionOptions{
		MaxPacketSize:   cfg.MaxPacketSize,
		InitialBitrate:  cfg.InitialBitrate,
		MinBitrate:      cfg.MinBitrate,
		MaxBitrate:      cfg.MaxBitrate,
		OnBitrateUpdate: cfg.OnBitrateUpdate,
		OnSTUN:          cfg.OnSTUN,
		OnDTLS:          cfg.OnDTLS,
	})
	return s
}

// InstallSRTP rekeys the session's SRTP contexts. It must be called before
// any AddOutboundTrack/OnRemoteSDP traffic is expected to be protected.
func (s *Session) InstallSRTP(outbound, inbound Keys) {
	s.inner.InstallSRTP(inbound.Key, inbound.Salt, outbound.Key, outbound.Salt)
}

// OnRemoteSDP records the negotiated payload-type table (produced by
// internal/sdp.CodecMap from the remote SDP). The table is only stored:
// AddInboundTrack and AddOutboundTrack use the payload type their caller
// passes and do not consult it. For H.264 payload types, it also decodes the fmtp
// sprop-parameter-sets so the caller's decoder can be primed with the SPS/
// PPS before the first access unit arrives.
func (s *Session) OnRemoteSDP(codecs map[byte]rtp.PayloadType) {
	for number, pt := range codecs {
		s.codecs[number] = pt

		if pt.Name == "H264" && pt.Format != "" {
			fmtp, err := sdp.DecodeH264FormatParameters(pt.Format)
			if err != nil {
				log.Debug("decode fmtp for payload type %d: %v", number, err)
				continue
			}
			if len(fmtp.SpropParameterSets) > 0 {
				s.parameterSets[number] = fmtp.SpropParameterSets
			}
		}
	}
}

// ParameterSets returns the H.264 sprop-parameter-sets (SPS/PPS NAL units)
// negotiated for payload type pt, or nil if none were present in the
// remote SDP's fmtp attribute.
func (s *Session) ParameterSets(pt byte) [][]byte {
	return s.parameterSets[pt]
}

// AddOutboundTrack creates a new outbound stream for the given payload
// type, assigning it a random SSRC, and returns a handle for submitting
// frames to it.
func (s *Session) AddOutboundTrack(pt rtp.PayloadType) (TrackHandle, error) {
	if pt.Number > 127 {
		return TrackHandle{}, fmt.Errorf("invalid payload type number: %d", pt.Number)
	}

	ssrc := s.nextSSRC()
	stream := s.inner.AddStream(rtp.StreamOptions{
		LocalSSRC:    ssrc,
		LocalCNAME:   fmt.Sprintf("rtcmedia-%08x", ssrc),
		Direction:    "sendonly",
		PayloadTypes: map[byte]rtp.PayloadType{pt.Number: pt},
	})
	s.outbound[ssrc] = stream

	return TrackHandle{SSRC: ssrc, PayloadType: pt.Number}, nil
}

// AddInboundTrack registers an expected inbound stream from remoteSSRC,
// invoking onAccessUnit (H.264) or onFrame (passthrough codecs) as payloads
// are reassembled.
func (s *Session) AddInboundTrack(remoteSSRC uint32, pt rtp.PayloadType, onAccessUnit func([]byte), onFrame func([]byte)) TrackHandle {
	stream := s.inner.AddStream(rtp.StreamOptions{
		RemoteSSRC:   remoteSSRC,
		Direction:    "recvonly",
		PayloadTypes: map[byte]rtp.PayloadType{pt.Number: pt},
	})
	stream.OnAccessUnit = onAccessUnit
	stream.OnAudioFrame = onFrame
	s.inbound[remoteSSRC] = stream
	return TrackHandle{SSRC: remoteSSRC, PayloadType: pt.Number}
}

// SubmitFrame sends one encoded frame on the given track. For H.264 tracks
// the frame must be one Annex-B access unit; any other frame is sent as a
// single marked packet. For PCMU tracks the frame is linear 16-bit PCM and
// is companded to μ-law first; for other codecs it is sent verbatim.
func (s *Session) SubmitFrame(h TrackHandle, encoded []byte, timestampTicks uint32) error {
	stream, ok := s.outbound[h.SSRC]
	if !ok {
		return fmt.Errorf("unknown outbound SSRC %08x", h.SSRC)
	}

	if pt, ok := stream.PayloadTypes[h.PayloadType]; ok && pt.Name == "H264" {
		return stream.SendAccessUnit(encoded, timestampTicks)
	}
	return stream.SendFrame(encoded, timestampTicks)
}

// KeyframeRequested reports whether the remote peer has asked, via PLI,
// that the next frame submitted on h be a keyframe.
func (s *Session) KeyframeRequested(h TrackHandle) bool {
	stream, ok := s.outbound[h.SSRC]
	if !ok {
		return false
	}
	return stream.KeyframeRequested()
}

// Stalled reports whether no RTP or RTCP traffic has arrived on h's stream
// within the keepalive timeout.
func (s *Session) Stalled(h TrackHandle) bool {
	if stream, ok := s.inbound[h.SSRC]; ok {
		return stream.Stalled()
	}
	if stream, ok := s.outbound[h.SSRC]; ok {
		return stream.Stalled()
	}
	return false
}

// DroppedPackets returns the number of inbound packets discarded on h's
// stream due to a parse, authentication, or decrypt failure.
func (s *Session) DroppedPackets(h TrackHandle) uint64 {
	if stream, ok := s.inbound[h.SSRC]; ok {
		return stream.DroppedPackets()
	}
	if stream, ok := s.outbound[h.SSRC]; ok {
		return stream.DroppedPackets()
	}
	return 0
}

// Close tears down the transport and all streams.
func (s *Session) Close() error {
	for _, stream := range s.outbound {
		stream.Close()
	}
	for _, stream := range s.inbound {
		stream.Close()
	}
	return s.inner.Close()
}
