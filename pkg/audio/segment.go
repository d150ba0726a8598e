package audio

import "sync/atomic"

// Segment is a finite, non-restartable stream of synthesized speech. Chunks
// arrive incrementally so playback can start before synthesis finishes.
type Segment struct {
	// Chunks delivers mono float32 chunks at SampleRate. The producer closes
	// it when synthesis ends or fails; after it closes, check [Segment.Err].
	Chunks <-chan []float32

	// SampleRate is the declared source rate of every chunk (e.g. 24000).
	SampleRate int

	streamErr atomic.Pointer[error]
}

// NewSegment wraps a chunk channel produced at sampleRate.
func NewSegment(chunks <-chan []float32, sampleRate int) *Segment {
	return &Segment{Chunks: chunks, SampleRate: sampleRate}
}

// SegmentFromSamples returns a Segment that yields samples in chunks of at
// most chunkSize samples. The channel is filled and closed before return.
func SegmentFromSamples(samples []float32, sampleRate, chunkSize int) *Segment {
	if chunkSize <= 0 {
		chunkSize = len(samples)
	}
	n := 0
	if chunkSize > 0 {
		n = (len(samples) + chunkSize - 1) / chunkSize
	}
	ch := make(chan []float32, n)
	for off := 0; off < len(samples); off += chunkSize {
		end := min(off+chunkSize, len(samples))
		ch <- samples[off:end]
	}
	close(ch)
	return NewSegment(ch, sampleRate)
}

// Err returns the error that caused Chunks to close early, or nil if the
// stream completed cleanly.
func (s *Segment) Err() error {
	if p := s.streamErr.Load(); p != nil {
		return *p
	}
	return nil
}

// SetStreamErr records a mid-stream error. Producers call it before closing
// Chunks so the consumer can tell a clean end from a failure.
func (s *Segment) SetStreamErr(err error) {
	s.streamErr.Store(&err)
}
