// Package framebuf bridges a real-time audio driver callback to a single
// cooperative consumer.
//
// [Buffer] is the bounded queue between the two: [Buffer.Push] is safe to call
// from the driver thread (never blocks, O(1), drops the incoming block when
// full). [Accumulator] sits on the consumer side and reframes the
// variable-length driver blocks into fixed-size analysis frames without
// losing or duplicating samples.
package framebuf

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/waketurn/pkg/audio"
)

// DefaultCapacity is the number of blocks a Buffer holds when no capacity is
// given. At 20 ms driver periods this is a little over a second of audio.
const DefaultCapacity = 64

// Buffer is a bounded FIFO of audio blocks with a drop-newest overflow
// policy. One producer (the device callback) and one consumer at a time.
type Buffer struct {
	ch         chan audio.Frame
	sampleRate int
	onDrop     func()

	seq     atomic.Uint64
	dropped atomic.Uint64

	closed    atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

// Option configures a [Buffer].
type Option func(*Buffer)

// WithDropHook registers fn to be called, from the producer's context,
// every time a block is dropped. fn must not block.
func WithDropHook(fn func()) Option {
	return func(b *Buffer) { b.onDrop = fn }
}

// New returns a Buffer holding at most capacity blocks of audio sampled at
// sampleRate. A non-positive capacity selects [DefaultCapacity].
func New(capacity, sampleRate int, opts ...Option) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	b := &Buffer{
		ch:         make(chan audio.Frame, capacity),
		sampleRate: sampleRate,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Push enqueues one block. It never blocks: when the buffer is full the
// block is dropped and counted. Pushing after Close is a no-op. Push takes
// ownership of samples.
func (b *Buffer) Push(samples []float32) {
	if b.closed.Load() || len(samples) == 0 {
		return
	}
	f := audio.Frame{Samples: samples, SampleRate: b.sampleRate}
	select {
	case b.ch <- f:
	default:
		b.dropped.Add(1)
		if b.onDrop != nil {
			b.onDrop()
		}
	}
}

// Next returns the oldest queued block. It blocks until a block is available,
// ctx is done, or the buffer is closed and drained (io.EOF).
func (b *Buffer) Next(ctx context.Context) (audio.Frame, error) {
	select {
	case f := <-b.ch:
		return b.stamp(f), nil
	case <-ctx.Done():
		return audio.Frame{}, ctx.Err()
	case <-b.done:
		select {
		case f := <-b.ch:
			return b.stamp(f), nil
		default:
			return audio.Frame{}, io.EOF
		}
	}
}

// stamp assigns sequence numbers on the consumer side so dropped blocks
// never consume one.
func (b *Buffer) stamp(f audio.Frame) audio.Frame {
	f.Seq = b.seq.Add(1) - 1
	return f
}

// Close marks the end of the stream. Blocks already queued are still
// returned by Next before io.EOF. Safe to call more than once.
func (b *Buffer) Close() {
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		close(b.done)
	})
}

// Dropped returns how many blocks were discarded because the buffer was full.
func (b *Buffer) Dropped() uint64 { return b.dropped.Load() }

// Len returns the number of queued blocks.
func (b *Buffer) Len() int { return len(b.ch) }

// Cap returns the capacity in blocks.
func (b *Buffer) Cap() int { return cap(b.ch) }

// SampleRate returns the rate stamped on every block.
func (b *Buffer) SampleRate() int { return b.sampleRate }
