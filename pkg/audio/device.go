package audio

import "context"

// StreamConfig describes a mono stream opened on a [Device].
type StreamConfig struct {
	// SampleRate in Hz.
	SampleRate int

	// BlockSamples is the preferred number of samples per driver callback
	// (capture) or per hardware period (playback). Zero lets the backend
	// choose.
	BlockSamples int
}

// BlockFunc receives one block of captured samples. It is invoked from the
// driver's real-time context: it must not block and must not retain samples
// after returning unless it owns them.
type BlockFunc func(samples []float32)

// Stream is an open capture stream. Close stops the driver callbacks; once
// Close returns, the stream's BlockFunc is never invoked again.
type Stream interface {
	Close() error
}

// OutputStream is an open playback stream.
type OutputStream interface {
	// Write blocks until the hardware has accepted every sample. Writing after
	// Close returns an error.
	Write(samples []float32) error

	// SampleRate reports the rate the device actually plays at.
	SampleRate() int

	// Close stops playback and releases the device. Calling Close more than
	// once is safe.
	Close() error
}

// Device is an audio backend with one input and one output endpoint.
//
// Implementations must be safe for concurrent use; the arbiter and the
// playback pipeline call into the same Device from different goroutines.
type Device interface {
	// OpenInput starts capturing and delivers blocks to fn until the returned
	// Stream is closed.
	OpenInput(ctx context.Context, cfg StreamConfig, fn BlockFunc) (Stream, error)

	// OpenOutput opens the default playback endpoint.
	OpenOutput(ctx context.Context, cfg StreamConfig) (OutputStream, error)

	// Close releases the backend. Streams must be closed first.
	Close() error
}
