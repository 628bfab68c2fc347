// Package fixture provides file-backed H.264 access unit sources for tests
// and demos. It is not part of the production media pipeline.
package fixture

import (
	"io"
	"os"
	"time"

	"github.com/nareix/joy4/av"
	"github.com/nareix/joy4/codec/h264parser"
	"github.com/nareix/joy4/format/mp4"
	errors "golang.org/x/xerrors"

	"github.com/lanikai/rtcmedia/internal/logging"
	"github.com/lanikai/rtcmedia/internal/media"
)

var log = logging.DefaultLogger.WithTag("fixture")

// H264File demuxes an MP4 container and yields its video track as whole
// Annex-B access units, looping back to the start on EOF.
type H264File struct {
	file    *os.File
	demuxer *mp4.Demuxer
	idx     int8
	info    av.VideoCodecData

	media.Flow
}

var _ media.H264Source = (*H264File)(nil)

// OpenH264File opens filename and identifies its H.264 video stream.
func OpenH264File(filename string) (*H264File, error) {
	log.Info("Opening fixture %s", filename)
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}

	demuxer := mp4.NewDemuxer(file)
	streams, err := demuxer.Streams()
	if err != nil {
		file.Close()
		return nil, err
	}

	var info av.VideoCodecData
	var idx int8 = -1
	for i, stream := range streams {
		if stream.Type() == av.H264 {
			info = stream.(av.VideoCodecData)
			idx = int8(i)
			log.Info("%v stream: %dx%d", info.Type(), info.Width(), info.Height())
		}
	}
	if info == nil {
		file.Close()
		return nil, errors.New("no H.264 video stream found in fixture")
	}

	f := &H264File{
		file:    file,
		demuxer: demuxer,
		idx:     idx,
		info:    info,
	}
	f.Flow.Start = f.readLoop
	return f, nil
}

func (f *H264File) Codec() string { return f.info.Type().String() }
func (f *H264File) Width() int    { return f.info.Width() }
func (f *H264File) Height() int   { return f.info.Height() }

func (f *H264File) Close() error {
	f.Flow.Shutdown(nil)
	return f.file.Close()
}

// ReadAccessUnit reads the next access unit synchronously, bypassing the
// Flow broadcaster. At the end of the file it seeks back to the start and
// continues. Used by cmd/rtcmediad, which is the single reader.
func (f *H264File) ReadAccessUnit() ([]byte, error) {
	pkt, err := f.demuxer.ReadPacket()
	if err == io.EOF {
		if serr := f.demuxer.SeekToTime(0); serr != nil {
			return nil, serr
		}
		pkt, err = f.demuxer.ReadPacket()
	}
	if err != nil {
		return nil, err
	}
	if pkt.Idx != f.idx {
		return []byte{}, nil
	}
	return accessUnitBytes(f.info, pkt), nil
}

// readLoop paces access units out to Flow receivers according to the MP4
// packet timestamps, looping the file indefinitely.
func (f *H264File) readLoop() {
	var lastPkt *av.Packet
	var lastTime time.Time

	for {
		pkt, err := f.demuxer.ReadPacket()
		if err == io.EOF {
			if serr := f.demuxer.SeekToTime(0); serr != nil {
				log.Error("fixture: seek to start failed: %v", serr)
				return
			}
			lastPkt = nil
			continue
		} else if err != nil {
			log.Error("fixture: read packet failed: %v", err)
			return
		}
		if pkt.Idx != f.idx {
			continue
		}

		if lastPkt != nil && pkt.Time > lastPkt.Time {
			lastTime = lastTime.Add(pkt.Time - lastPkt.Time)
			time.Sleep(time.Until(lastTime))
		} else {
			lastTime = time.Now()
		}
		lastPkt = &pkt

		au := accessUnitBytes(f.info, &pkt)
		if err := f.Flow.PutBuffer(au, nil); err != nil {
			log.Warn("fixture: put buffer failed: %v", err)
		}
	}
}

// accessUnitBytes converts a joy4 length-prefixed H.264 packet into an
// Annex-B access unit, prefixing SPS/PPS before key frames.
func accessUnitBytes(info av.VideoCodecData, pkt *av.Packet) []byte {
	const startCode = "\x00\x00\x00\x01"

	data := pkt.Data
	if len(data) >= 4 {
		data = data[4:]
	}

	var au []byte
	if pkt.IsKeyFrame {
		if h264, ok := info.(h264parser.CodecData); ok {
			au = append(au, startCode...)
			au = append(au, h264.SPS()...)
			au = append(au, startCode...)
			au = append(au, h264.PPS()...)
		}
	}
	au = append(au, startCode...)
	au = append(au, data...)
	return au
}
