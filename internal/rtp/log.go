package rtp

import "github.com/lanikai/rtcmedia/internal/logging"

var log = logging.DefaultLogger.WithTag("rtp")
