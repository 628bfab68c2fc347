package main

import (
	"net"
	"os"
	"os/signal"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/lanikai/rtcmedia"
	"github.com/lanikai/rtcmedia/internal/logging"
	"github.com/lanikai/rtcmedia/internal/media/fixture"
	"github.com/lanikai/rtcmedia/internal/rtp"
	"github.com/lanikai/rtcmedia/internal/sdp"
)

var log = logging.DefaultLogger.WithTag("main")

// loadRemoteSDP parses the remote peer's SDP answer and feeds its
// negotiated video payload types into session, which records them and
// decodes any H.264 sprop-parameter-sets (see Session.ParameterSets).
func loadRemoteSDP(session *rtcmedia.Session, path string) error {
	text, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	answer, err := sdp.ParseSession(string(text))
	if err != nil {
		return err
	}
	m := answer.MediaByType("video")
	if m == nil {
		return nil
	}
	session.OnRemoteSDP(sdp.CodecMap(m))
	return nil
}

// This binary has no ICE/DTLS bring-up of its own: connectivity and key
// exchange are supplied by internal/ice and internal/dtls collaborators in a
// full deployment. Standalone, it streams one file's worth of H.264 access
// units over a plain UDP socket to --remote, which is enough to exercise the
// packetizer, RTCP scheduler, and congestion controller end to end.
func main() {
	flag.Parse()

	if flagHelp {
		help()
		os.Exit(0)
	}
	if flagVersion {
		version()
		os.Exit(0)
	}
	if flagInput == "" || flagRemote == "" {
		help()
		os.Exit(1)
	}

	source, err := fixture.OpenH264File(flagInput)
	if err != nil {
		log.Fatal("open input: ", err)
	}
	defer source.Close()
	log.Info("Streaming %dx%d %s from %s to %s", source.Width(), source.Height(), source.Codec(), flagListen, flagRemote)

	localAddr, err := net.ResolveUDPAddr("udp", flagListen)
	if err != nil {
		log.Fatal("resolve listen address: ", err)
	}
	remoteAddr, err := net.ResolveUDPAddr("udp", flagRemote)
	if err != nil {
		log.Fatal("resolve remote address: ", err)
	}
	conn, err := net.DialUDP("udp", localAddr, remoteAddr)
	if err != nil {
		log.Fatal("dial: ", err)
	}
	defer conn.Close()

	session := rtcmedia.NewSession(rtcmedia.SessionConfig{
		Endpoint:       conn,
		InitialBitrate: uint32(flagBitrate) * 1000,
		MinBitrate:     uint32(flagMinBitrate) * 1000,
		MaxBitrate:     uint32(flagMaxBitrate) * 1000,
		OnBitrateUpdate: func(bps uint32) {
			log.Info("congestion controller: target bitrate now %d bps", bps)
		},
	})
	defer session.Close()

	if flagSDPFile != "" {
		if err := loadRemoteSDP(session, flagSDPFile); err != nil {
			log.Error("load remote SDP: %v", err)
		}
	}

	track, err := session.AddOutboundTrack(rtp.PayloadType{
		Number:    96,
		Name:      "H264",
		ClockRate: 90000,
	})
	if err != nil {
		log.Fatal("add outbound track: ", err)
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	const frameInterval = time.Second / 30
	var timestamp uint32
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-interrupt:
			log.Info("shutting down")
			return
		case <-ticker.C:
			au, err := source.ReadAccessUnit()
			if err != nil {
				log.Error("read access unit: %v", err)
				continue
			}
			if len(au) == 0 {
				continue
			}
			if err := session.SubmitFrame(track, au, timestamp); err != nil {
				log.Error("submit frame: %v", err)
			}
			timestamp += uint32(90000 / 30)
		}
	}
}
