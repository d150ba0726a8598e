package framebuf

import (
	"context"
	"errors"
	"io"

	"github.com/MrWong99/waketurn/pkg/audio"
)

// FrameSamples returns round(frameMs/1000 * sampleRate), the sample count of
// one analysis frame.
func FrameSamples(frameMs float64, sampleRate int) int {
	return audio.SamplesFor(frameMs, sampleRate)
}

// Accumulator reframes the blocks of a [Buffer] into fixed-size frames.
// Samples beyond the requested size are carried into the next call. It is
// not safe for concurrent use; exactly one consumer owns it.
type Accumulator struct {
	buf     *Buffer
	pending []float32
	seq     uint64
	eof     bool
}

// NewAccumulator returns an Accumulator reading from b.
func NewAccumulator(b *Buffer) *Accumulator {
	return &Accumulator{buf: b}
}

// SampleRate returns the rate of the underlying buffer.
func (a *Accumulator) SampleRate() int { return a.buf.SampleRate() }

// PullFrame returns a frame of exactly n samples. It waits for more blocks
// as needed; on cancellation the buffered samples are kept for the next call.
//
// After the buffer is closed, the remaining samples (fewer than n) are
// returned once as a short frame, followed by io.EOF.
func (a *Accumulator) PullFrame(ctx context.Context, n int) (audio.Frame, error) {
	if n <= 0 {
		return audio.Frame{}, errors.New("framebuf: frame size must be positive")
	}
	for len(a.pending) < n && !a.eof {
		blk, err := a.buf.Next(ctx)
		if errors.Is(err, io.EOF) {
			a.eof = true
			break
		}
		if err != nil {
			return audio.Frame{}, err
		}
		a.pending = append(a.pending, blk.Samples...)
	}

	take := min(n, len(a.pending))
	if take == 0 {
		return audio.Frame{}, io.EOF
	}
	out := make([]float32, take)
	copy(out, a.pending)
	m := copy(a.pending, a.pending[take:])
	a.pending = a.pending[:m]

	f := audio.Frame{Samples: out, SampleRate: a.buf.SampleRate(), Seq: a.seq}
	a.seq++
	return f, nil
}

// Buffered returns the number of carried-over samples.
func (a *Accumulator) Buffered() int { return len(a.pending) }
