package media

// AudioSource is the interface for audio capture/injection sources (e.g.
// microphone, file, or a synthetic test tone).
type AudioSource interface {
	Source

	Codec() string

	SampleRate() int
	BytesPerSample() int

	// Configure reconfigures the source's sample rate, channel count, and
	// sample format. Returns an error if called after the source has already
	// started producing buffers.
	Configure(rate, channels, format int) error
}
