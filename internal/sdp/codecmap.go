package sdp

import (
	"strconv"
	"strings"

	"github.com/lanikai/rtcmedia/internal/rtp"
)

// CodecMap bridges a negotiated SDP media section into the payload-type
// table a Session needs: rtpmap supplies the number/name/clock-rate, fmtp
// supplies the codec-specific format string, and rtcp-fb supplies the
// feedback options.
func CodecMap(m *Media) map[byte]rtp.PayloadType {
	codecs := make(map[byte]rtp.PayloadType)

	for _, attr := range m.Attributes {
		switch attr.Key {
		case "rtpmap":
			number, pt, ok := parseRtpmap(attr.Value)
			if !ok {
				continue
			}
			codecs[number] = pt
		}
	}

	for _, attr := range m.Attributes {
		fields := strings.SplitN(attr.Value, " ", 2)
		if len(fields) == 0 {
			continue
		}
		number, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		pt, ok := codecs[byte(number)]
		if !ok {
			continue
		}

		switch attr.Key {
		case "fmtp":
			if len(fields) == 2 {
				pt.Format = fields[1]
			}
		case "rtcp-fb":
			if len(fields) == 2 {
				pt.FeedbackOptions = append(pt.FeedbackOptions, fields[1])
			}
		}
		codecs[byte(number)] = pt
	}

	return codecs
}

// parseRtpmap parses one `a=rtpmap:<number> <name>/<clock-rate>[/<params>]`
// attribute value (the part after the colon).
func parseRtpmap(value string) (number byte, pt rtp.PayloadType, ok bool) {
	fields := strings.SplitN(value, " ", 2)
	if len(fields) != 2 {
		return 0, pt, false
	}

	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, pt, false
	}

	encoding := strings.Split(fields[1], "/")
	if len(encoding) < 2 {
		return 0, pt, false
	}
	clockRate, err := strconv.Atoi(encoding[1])
	if err != nil {
		return 0, pt, false
	}

	pt.Number = uint8(n)
	pt.Name = encoding[0]
	pt.ClockRate = clockRate
	return byte(n), pt, true
}
