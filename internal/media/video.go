package media

// VideoSource is the interface for video capture/injection sources.
type VideoSource interface {
	Source

	Codec() string

	Width() int
	Height() int
}

// H264Source is a VideoSource that yields whole H.264 access units in Annex-B
// form (start-code-delimited NAL units belonging to one coded picture).
type H264Source interface {
	VideoSource

	// ReadAccessUnit reads one whole access unit. A call that yields no
	// access unit returns an empty byte slice and a nil error.
	//
	// The returned slice is valid only until the next call to
	// ReadAccessUnit().
	ReadAccessUnit() ([]byte, error)
}
