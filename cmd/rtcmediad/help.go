package main

import (
	"fmt"

	"github.com/fatih/color"
	flag "github.com/spf13/pflag"
)

var (
	flagListen     string
	flagRemote     string
	flagSDPFile    string
	flagInput      string
	flagBitrate    int
	flagMinBitrate int
	flagMaxBitrate int
	flagHelp       bool
	flagVersion    bool
)

func init() {
	flag.StringVarP(&flagListen, "listen", "l", ":5004", "Local UDP address to bind the media transport to")
	flag.StringVarP(&flagRemote, "remote", "r", "", "Remote UDP address to send media to (host:port)")
	flag.StringVarP(&flagSDPFile, "sdp", "s", "", "Remote SDP answer file, for negotiated payload types")
	flag.StringVarP(&flagInput, "input", "i", "", "MP4 file with an H.264 video track to stream")
	flag.IntVarP(&flagBitrate, "bitrate", "b", 1000, "Initial video bitrate, in kbps")
	flag.IntVarP(&flagMinBitrate, "min-bitrate", "", 250, "Minimum video bitrate, in kbps")
	flag.IntVarP(&flagMaxBitrate, "max-bitrate", "", 4000, "Maximum video bitrate, in kbps")

	flag.BoolVarP(&flagHelp, "help", "h", false, "Print usage information and exit")
	flag.BoolVarP(&flagVersion, "version", "v", false, "Print version information and exit")
}

const helpString = `Standalone RTP/SRTP media transport daemon

Usage: rtcmediad [OPTION]...

Network:
  -l, --listen=ADDR       Local UDP address to bind (default: :5004)
  -r, --remote=ADDR       Remote UDP address to send media to
  -s, --sdp=FILE          Remote SDP answer file, for negotiated payload types

Video source:
  -i, --input=FILE        H.264/MP4 file to stream
  -b, --bitrate=NUM       Initial video bitrate, in kbps (default: 1000)
      --min-bitrate=NUM   Minimum video bitrate, in kbps (default: 250)
      --max-bitrate=NUM   Maximum video bitrate, in kbps (default: 4000)

Miscellaneous:
  -h, --help              Prints this help message and exits
  -v, --version           Prints version information and exits`

// Help information is printed; the caller decides whether to exit
func help() {
	b := color.New(color.FgCyan, color.Bold)
	b.Println("rtcmediad")
	fmt.Println(helpString)
}

const buildVersion = "dev"

func version() {
	fmt.Println("rtcmediad " + buildVersion)
}
