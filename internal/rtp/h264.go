package rtp

// RTP packetization of H.264 video streams.
// See [RFC 6184](https://tools.ietf.org/html/rfc6184).

import (
	errors "golang.org/x/xerrors"

	"github.com/lanikai/rtcmedia/internal/packet"
)

const (
	// NAL unit types. See https://tools.ietf.org/html/rfc6184#section-5.2
	naluTypeSEI    = 6
	naluTypeSPS    = 7
	naluTypePPS    = 8
	naluTypeSTAP_A = 24
	naluTypeFU_A   = 28

	naluTypeMaxSingle = 23
)

var (
	errFragmentOutOfOrder = errors.New("FU-A fragment out of order")
	errUnknownNalType     = errors.New("unknown NAL unit type")
)

// payloadChunk is one RTP payload emitted by the H.264 packetizer, along with
// the marker bit that should be set on its RTP header.
type payloadChunk struct {
	bytes  []byte
	marker bool
}

// packetizeH264 splits one Annex-B access unit into a sequence of RTP
// payload chunks. Each NAL unit that fits within mtu becomes a single-NAL
// packet; larger NAL units are split into FU-A fragments. The marker bit is
// true on exactly the last chunk of the access unit.
func packetizeH264(accessUnit []byte, mtu int) ([]payloadChunk, error) {
	nalus, err := splitAnnexB(accessUnit)
	if err != nil {
		return nil, err
	}

	var chunks []payloadChunk
	for i, nalu := range nalus {
		if len(nalu) == 0 {
			continue
		}
		isLastNALU := i == len(nalus)-1

		if len(nalu) <= mtu {
			chunks = append(chunks, payloadChunk{bytes: nalu, marker: isLastNALU})
			continue
		}

		chunks = append(chunks, fragmentFUA(nalu, mtu, isLastNALU)...)
	}
	return chunks, nil
}

// fragmentFUA splits one oversized NAL unit into FU-A fragments.
// See https://tools.ietf.org/html/rfc6184#section-5.8
func fragmentFUA(nalu []byte, mtu int, markLast bool) []payloadChunk {
	indicator := nalu[0]&0xe0 | naluTypeFU_A
	naluType := nalu[0] & 0x1f

	body := nalu[1:]
	chunkSize := mtu - 2
	var chunks []payloadChunk
	for i := 0; i < len(body); i += chunkSize {
		end := i + chunkSize
		last := end >= len(body)
		if last {
			end = len(body)
		}

		var header byte = naluType
		if i == 0 {
			header |= 0x80 // S
		}
		if last {
			header |= 0x40 // E
		}

		payload := make([]byte, 2+end-i)
		payload[0] = indicator
		payload[1] = header
		copy(payload[2:], body[i:end])

		chunks = append(chunks, payloadChunk{
			bytes:  payload,
			marker: last && markLast,
		})
	}
	return chunks
}

// splitAnnexB scans buf for Annex-B start codes (00 00 00 01 or 00 00 01)
// and returns the NAL units between them, in order.
func splitAnnexB(buf []byte) ([][]byte, error) {
	var nalus [][]byte
	i := 0
	start := -1
	for i < len(buf) {
		n, ok := startCodeLenAt(buf, i)
		if !ok {
			i++
			continue
		}
		if start >= 0 {
			nalus = append(nalus, buf[start:i])
		}
		i += n
		start = i
	}
	if start >= 0 {
		nalus = append(nalus, buf[start:])
	}
	return nalus, nil
}

// startCodeLenAt returns the length of the Annex-B start code beginning at
// buf[i], if any. The 4-byte form is checked first since it is a superset of
// the 3-byte form's trailing bytes.
func startCodeLenAt(buf []byte, i int) (int, bool) {
	if i+4 <= len(buf) && buf[i] == 0 && buf[i+1] == 0 && buf[i+2] == 0 && buf[i+3] == 1 {
		return 4, true
	}
	if i+3 <= len(buf) && buf[i] == 0 && buf[i+1] == 0 && buf[i+2] == 1 {
		return 3, true
	}
	return 0, false
}

// h264Depacketizer reassembles RTP payloads carrying H.264 NAL units (single
// NAL, STAP-A, and FU-A per RFC 6184) into Annex-B access units. One instance
// is maintained per inbound SSRC.
type h264Depacketizer struct {
	// Annex-B accumulator for the access unit currently being assembled.
	accessUnit []byte

	// RTP timestamp of the access unit currently being assembled.
	timestamp uint32
	haveAU    bool

	// In-progress FU-A reassembly buffer.
	fuBuf       []byte
	fuTimestamp uint32
	fuLastSeq   uint16
}

// handlePacket processes one received RTP payload. When the packet carries
// the final fragment of an access unit (marker bit set), it returns the
// complete Annex-B access unit and ok=true.
func (d *h264Depacketizer) handlePacket(hdr rtpHeader, payload []byte) (accessUnit []byte, ok bool, err error) {
	if len(payload) == 0 {
		return nil, false, nil
	}

	if d.haveAU && hdr.timestamp != d.timestamp {
		// A new access unit began before the previous one's marker arrived.
		d.reset()
	}
	if !d.haveAU {
		d.timestamp = hdr.timestamp
		d.haveAU = true
	}

	naluType := payload[0] & 0x1f
	switch {
	case naluType >= 1 && naluType <= naluTypeMaxSingle:
		d.appendNALU(payload)

	case naluType == naluTypeSTAP_A:
		nalus, serr := splitSTAP(payload)
		if serr != nil {
			d.reset()
			return nil, false, serr
		}
		for _, nalu := range nalus {
			d.appendNALU(nalu)
		}

	case naluType == naluTypeFU_A:
		if len(payload) < 2 {
			d.reset()
			return nil, false, errUnknownNalType
		}
		indicator := payload[0]
		header := payload[1]
		start := header&0x80 != 0
		end := header&0x40 != 0
		origType := header & 0x1f

		if start {
			d.fuBuf = append([]byte{indicator&0xe0 | origType}, payload[2:]...)
			d.fuTimestamp = hdr.timestamp
			d.fuLastSeq = hdr.sequence
		} else {
			if d.fuBuf == nil || hdr.timestamp != d.fuTimestamp || hdr.sequence != d.fuLastSeq+1 {
				d.fuBuf = nil
				d.reset()
				return nil, false, errFragmentOutOfOrder
			}
			d.fuBuf = append(d.fuBuf, payload[2:]...)
			d.fuLastSeq = hdr.sequence
		}

		if end && d.fuBuf != nil {
			d.appendNALU(d.fuBuf)
			d.fuBuf = nil
		}

	default:
		d.reset()
		return nil, false, errUnknownNalType
	}

	if hdr.marker {
		accessUnit = d.accessUnit
		d.accessUnit = nil
		d.haveAU = false
		return accessUnit, true, nil
	}
	return nil, false, nil
}

func (d *h264Depacketizer) appendNALU(nalu []byte) {
	d.accessUnit = append(d.accessUnit, 0, 0, 0, 1)
	d.accessUnit = append(d.accessUnit, nalu...)
}

func (d *h264Depacketizer) reset() {
	d.accessUnit = nil
	d.haveAU = false
	d.fuBuf = nil
}

// See https://tools.ietf.org/html/rfc6184#section-5.7.1
func appendSTAP(stap, nalu []byte) []byte {
	if len(stap) == 0 {
		// Initialize NALU of type STAP-A, with F and NRI set to 0.
		stap = append(stap, naluTypeSTAP_A)
	}

	n := len(nalu)
	stap = append(stap, byte(n>>8), byte(n))
	stap = append(stap, nalu...)

	// STAP-A forbidden bit is bitwise-OR of all forbidden bits.
	stap[0] |= nalu[0] & 0x80

	// STAP-A NRI value is maximum of all NRI values.
	nri := nalu[0] & 0x60
	stapNRI := stap[0] & 0x60
	if nri > stapNRI {
		stap[0] = (stap[0] &^ 0x60) | nri
	}

	return stap
}

// Split a STAP-A packet into individual NAL units.
func splitSTAP(buf []byte) ([][]byte, error) {
	var nalus [][]byte
	p := packet.NewReader(buf)
	p.Skip(1)
	for p.Remaining() > 0 {
		if err := p.CheckRemaining(2); err != nil {
			return nil, err
		}
		n := p.ReadUint16()
		if err := p.CheckRemaining(int(n)); err != nil {
			return nil, err
		}
		nalus = append(nalus, p.ReadSlice(int(n)))
	}
	return nalus, nil
}
