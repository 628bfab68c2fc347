package rtp

import (
	"sync/atomic"
	"time"

	"github.com/lanikai/rtcmedia/internal/media"
)

// Payload type description, as provided via SDP.
type PayloadType struct {
	// Payload type number (<= 127) assigned by the SDP `rtpmap` attribute.
	Number uint8

	// Encoding name, from the SDP `rtpmap` attribute (e.g. "H264").
	Name string

	// Clock rate in Hz, from the SDP `rtpmap` attribute (e.g. 90000).
	ClockRate int

	// Codec-specific format parameters, from the SDP `fmtp` attribute.
	Format string

	// Supported feedback RTCP options, from the SDP `rtcp-fb` attributes.
	FeedbackOptions []string
}

type StreamOptions struct {
	LocalSSRC  uint32
	LocalCNAME string

	RemoteSSRC  uint32
	RemoteCNAME string

	// sendonly, recvonly, or sendrecv
	Direction string

	// Negotiated payload types, keyed by 7-bit dynamic payload type number.
	PayloadTypes map[byte]PayloadType

	// Maximum size of outgoing packets, factoring in MTU and protocol overhead.
	MaxPacketSize int
}

// isH264 reports whether any negotiated payload type names the H.264 codec.
func (o *StreamOptions) isH264() bool {
	for _, pt := range o.PayloadTypes {
		if pt.Name == "H264" {
			return true
		}
	}
	return false
}

// isPCMU reports whether any negotiated payload type names the PCMU
// (G.711 μ-law) codec.
func (o *StreamOptions) isPCMU() bool {
	for _, pt := range o.PayloadTypes {
		if pt.Name == "PCMU" {
			return true
		}
	}
	return false
}

// A Stream is one bidirectional RTP/RTCP flow, identified by a local and a
// remote SSRC, within a Session.
type Stream struct {
	StreamOptions

	session *Session

	// RTP state for outgoing data.
	rtpOut *rtpWriter

	// RTP state for incoming data.
	rtpIn *rtpReader

	// RTCP state for outgoing control packets.
	rtcpOut *rtcpWriter

	// RTCP state for incoming control packets.
	rtcpIn *rtcpReader

	reception    receptionTracker
	transmission transmissionTracker

	depacketizer *h264Depacketizer

	// audioEncoder/audioDecoder handle PCMU (G.711 μ-law) conversion
	// between the linear PCM a caller submits/receives and the companded
	// wire format; nil for H.264 streams and any other passthrough codec.
	audioEncoder media.Encoder
	audioDecoder media.Decoder

	// OnAccessUnit, when set, is invoked with each reassembled H.264 access
	// unit as it completes. Must not block.
	OnAccessUnit func(accessUnit []byte)

	// OnAudioFrame, when set, is invoked with each received non-H.264
	// payload, decoded to linear 16-bit PCM when PCMU was negotiated and
	// passed through verbatim otherwise.
	OnAudioFrame func(frame []byte)

	// keyframeRequested is set by an inbound PLI and cleared by the next
	// outbound access unit, which is then encoded as a keyframe by the
	// caller.
	keyframeRequested int32

	// lastActivity is the UnixNano time of the most recently processed
	// inbound RTP or RTCP packet, used to detect a stalled remote peer.
	lastActivity int64
}

// keepaliveStallTimeout is how long a stream can go without any inbound
// traffic before Stalled reports true.
const keepaliveStallTimeout = 5 * time.Second

func newStream(session *Session, opts StreamOptions) *Stream {
	s := new(Stream)
	s.StreamOptions = opts
	s.session = session

	if opts.Direction == "sendonly" || opts.Direction == "sendrecv" {
		s.rtpOut = newRTPWriter(session.conn, opts.LocalSSRC, session.writeContext)
		if opts.isPCMU() {
			s.audioEncoder = media.NewPCMUEncoder()
		}
	}
	if opts.Direction == "recvonly" || opts.Direction == "sendrecv" {
		s.rtpIn = newRTPReader(opts.RemoteSSRC, session.readContext)
		s.rtpIn.handler = s.handleRTP
		if opts.isH264() {
			s.depacketizer = new(h264Depacketizer)
		}
		if opts.isPCMU() {
			s.audioDecoder = media.NewPCMUDecoder()
		}
	}
	s.rtcpOut = newRTCPWriter(session.conn, opts.LocalSSRC, session.writeContext)
	s.rtcpIn = newRTCPReader(opts.RemoteSSRC, session.readContext)
	s.rtcpIn.handler = s.handleRTCP

	return s
}

func (s *Stream) Close() error {
	s.sendGoodbye("stream closed")
	s.rtpOut = nil
	s.rtpIn = nil
	if s.audioEncoder != nil {
		s.audioEncoder.Close()
	}
	if s.audioDecoder != nil {
		s.audioDecoder.Close()
	}
	return nil
}

// SendAccessUnit packetizes one H.264 Annex-B access unit and writes its
// RTP payload chunks, clearing any pending keyframe request.
func (s *Stream) SendAccessUnit(accessUnit []byte, timestamp uint32) error {
	mtu := s.MaxPacketSize
	if mtu == 0 {
		mtu = defaultMaxPacketSize
	}
	chunks, err := packetizeH264(accessUnit, mtu-rtpHeaderSize)
	if err != nil {
		return err
	}

	atomic.StoreInt32(&s.keyframeRequested, 0)

	payloadType := s.payloadTypeNumber()
	for _, chunk := range chunks {
		if err := s.rtpOut.writePacket(payloadType, chunk.marker, timestamp, chunk.bytes); err != nil {
			return err
		}
	}
	return nil
}

// SendFrame packetizes one audio frame as a single marked RTP packet. When
// the stream negotiated PCMU, payload is linear 16-bit PCM and is companded
// to μ-law before it's sent; otherwise payload is written verbatim.
func (s *Stream) SendFrame(payload []byte, timestamp uint32) error {
	if s.audioEncoder != nil {
		encoded, err := s.audioEncoder.Encode(payload)
		if err != nil {
			return err
		}
		payload = encoded
	}
	return s.rtpOut.writePacket(s.payloadTypeNumber(), true, timestamp, payload)
}

// KeyframeRequested reports whether the remote peer has asked (via PLI) for
// a keyframe since the last access unit was sent.
func (s *Stream) KeyframeRequested() bool {
	return atomic.LoadInt32(&s.keyframeRequested) != 0
}

func (s *Stream) payloadTypeNumber() byte {
	for number := range s.PayloadTypes {
		return number
	}
	return 0
}

// handleRTP is installed as rtpIn's packet handler. It feeds the reception
// tracker, and for H.264 streams reassembles access units and delivers
// completed ones to OnAccessUnit. index is this packet's own extended
// sequence number, as returned by updateIndex, not the stream's most
// recently advanced one.
func (s *Stream) handleRTP(hdr rtpHeader, payload []byte, index uint64) error {
	atomic.StoreInt64(&s.lastActivity, time.Now().UnixNano())
	now := time.Now()
	clockRate := uint64(s.clockRate())
	arrival := uint32(uint64(now.Unix())*clockRate + uint64(now.Nanosecond())*clockRate/uint64(time.Second))
	s.reception.onPacket(uint32(index), hdr.timestamp, arrival)

	if s.depacketizer == nil {
		if s.OnAudioFrame != nil {
			if s.audioDecoder != nil {
				decoded, err := s.audioDecoder.Decode(payload)
				if err != nil {
					log.Debug("PCMU decode: %v", err)
					return nil
				}
				payload = decoded
			}
			s.OnAudioFrame(payload)
		}
		return nil
	}

	accessUnit, ok, err := s.depacketizer.handlePacket(hdr, payload)
	if err != nil {
		log.Debug("H.264 depacketize: %v", err)
		return nil
	}
	if ok && s.OnAccessUnit != nil {
		s.OnAccessUnit(accessUnit)
	}
	return nil
}

func (s *Stream) clockRate() int {
	for _, pt := range s.PayloadTypes {
		if pt.ClockRate > 0 {
			return pt.ClockRate
		}
	}
	return 90000
}

// handleRTCP is installed as rtcpIn's packet handler, dispatching each
// decoded RTCP packet within a compound to the relevant tracker or flag.
func (s *Stream) handleRTCP(p rtcpPacket) error {
	atomic.StoreInt64(&s.lastActivity, time.Now().UnixNano())

	switch pkt := p.(type) {
	case *rtcpSenderReport:
		s.reception.onSenderReport(uint32(pkt.ntpTimestamp>>32), uint32(pkt.ntpTimestamp))
		s.consumeReports(pkt.reports)
	case *rtcpReceiverReport:
		s.consumeReports(pkt.reports)
	case *pliFeedbackMessage:
		atomic.StoreInt32(&s.keyframeRequested, 1)
	case *rembFeedbackMessage:
		if s.session.congestion != nil {
			s.session.congestion.onRemoteEstimate(uint32(pkt.getEstimatedBitrate()))
		}
	case *rtcpGoodbye:
		log.Debug("received RTCP BYE from %08x", pkt.ssrc)
	case *rtcpApp:
		log.Debug("received RTCP APP %q (subtype %d) from %08x", pkt.name, pkt.subtype, pkt.ssrc)
	}
	return nil
}

// Stalled reports whether more than the keepalive timeout has passed since
// the last inbound RTP or RTCP packet of this stream. A stream that has not
// received any packet yet is not reported as stalled.
func (s *Stream) Stalled() bool {
	last := atomic.LoadInt64(&s.lastActivity)
	if last == 0 {
		return false
	}
	return time.Since(time.Unix(0, last)) > keepaliveStallTimeout
}

// DroppedPackets returns the number of inbound RTP/RTCP packets discarded
// due to a parse, authentication, or decrypt error.
func (s *Stream) DroppedPackets() uint64 {
	var n uint64
	if s.rtpIn != nil {
		n += s.rtpIn.dropCount
	}
	if s.rtcpIn != nil {
		n += s.rtcpIn.dropCount
	}
	return n
}

// consumeReports feeds the transmission tracker with any report block that
// describes our local SSRC, which is how the session learns what the remote
// peer observed about our outbound stream.
func (s *Stream) consumeReports(reports []rtcpReport) {
	for _, r := range reports {
		if r.Source == s.LocalSSRC {
			s.transmission.onReportBlock(r)
			if s.session.congestion != nil {
				rtt := time.Duration(s.transmission.rttMs) * time.Millisecond
				s.session.congestion.onNetworkMetrics(r.FractionLost, rtt)
			}
		}
	}
}

func (s *Stream) sendSenderReport() error {
	secs, frac := ntpNow()
	ntp := uint64(secs)<<32 | uint64(frac)
	s.transmission.markSenderReportSent(secs, frac)

	sr := &rtcpSenderReport{
		sender:       s.LocalSSRC,
		ntpTimestamp: ntp,
		rtpTimestamp: uint32(s.rtpOut.count),
		packetCount:  uint32(s.rtpOut.count),
		totalBytes:   uint32(s.rtpOut.totalBytes),
	}
	sdes := &rtcpSourceDescription{
		ssrc:  s.LocalSSRC,
		cname: s.LocalCNAME,
	}
	return s.rtcpOut.writePacket(sr, sdes)
}

func (s *Stream) sendReceiverReport() error {
	rr := &rtcpReceiverReport{
		receiver: s.LocalSSRC,
		reports:  []rtcpReport{s.reception.buildReport(s.RemoteSSRC)},
	}
	sdes := &rtcpSourceDescription{
		ssrc:  s.LocalSSRC,
		cname: s.LocalCNAME,
	}
	return s.rtcpOut.writePacket(rr, sdes)
}

// Send RTCP Goodbye packet to inform the remote peer that we're leaving.
func (s *Stream) sendGoodbye(reason string) error {
	rr := &rtcpReceiverReport{
		receiver: s.LocalSSRC,
	}
	sdes := &rtcpSourceDescription{
		ssrc:  s.LocalSSRC,
		cname: s.LocalCNAME,
	}
	bye := &rtcpGoodbye{
		ssrc:   s.LocalSSRC,
		reason: reason,
	}
	return s.rtcpOut.writePacket(rr, sdes, bye)
}
