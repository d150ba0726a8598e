// Package playback writes synthesized speech to the output device.
//
// A [Pipeline] owns one output stream, opened on first use. Each chunk of a
// [audio.Segment] is resampled to the device rate and written with a blocking
// call, so the hardware paces the producer and no queue sits between them.
// Whole segments are serialized: a filler phrase and the reply never
// interleave.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/waketurn/pkg/audio"
)

// ErrClosed is returned by Play after Close.
var ErrClosed = errors.New("playback: pipeline closed")

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithChunkHook registers fn to be called after every chunk written, with
// the number of device-rate samples. It runs on the playing goroutine.
func WithChunkHook(fn func(samples int)) Option {
	return func(p *Pipeline) { p.onChunk = fn }
}

// Pipeline plays segments on a single output stream.
// All methods are safe for concurrent use.
type Pipeline struct {
	device  audio.Device
	cfg     audio.StreamConfig
	onChunk func(int)

	mu     sync.Mutex
	out    audio.OutputStream
	closed bool
}

// New returns a Pipeline that opens its output on device with cfg. A zero
// cfg.SampleRate asks for the rate of the first segment played.
func New(device audio.Device, cfg audio.StreamConfig, opts ...Option) *Pipeline {
	p := &Pipeline{device: device, cfg: cfg}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Play writes seg to the device and returns once every chunk was accepted
// by the hardware. Concurrent calls queue behind each other.
//
// Cancellation is checked between chunks; a chunk is never cut short. When
// Play stops early the rest of the segment is drained in the background so
// its producer can exit. A write failure closes the stream; the next Play
// reopens it.
func (p *Pipeline) Play(ctx context.Context, seg *audio.Segment) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		go audio.Drain(seg.Chunks)
		return ErrClosed
	}
	out, err := p.outputLocked(ctx, seg.SampleRate)
	if err != nil {
		go audio.Drain(seg.Chunks)
		return fmt.Errorf("playback: %w", err)
	}

	for {
		var (
			chunk []float32
			ok    bool
		)
		select {
		case <-ctx.Done():
			go audio.Drain(seg.Chunks)
			return ctx.Err()
		case chunk, ok = <-seg.Chunks:
		}
		if !ok {
			break
		}
		if len(chunk) == 0 {
			continue
		}
		pcm := audio.Resample(chunk, seg.SampleRate, out.SampleRate())
		if err := out.Write(pcm); err != nil {
			go audio.Drain(seg.Chunks)
			p.resetLocked()
			return fmt.Errorf("playback: write: %w", err)
		}
		if p.onChunk != nil {
			p.onChunk(len(pcm))
		}
	}

	if err := seg.Err(); err != nil {
		return fmt.Errorf("playback: segment: %w", err)
	}
	return nil
}

// SampleRate returns the rate of the open output stream, or zero when none
// is open yet.
func (p *Pipeline) SampleRate() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.out == nil {
		return 0
	}
	return p.out.SampleRate()
}

// Close waits for the segment in progress and closes the output stream.
// It is safe to call more than once.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.out == nil {
		return nil
	}
	err := p.out.Close()
	p.out = nil
	if err != nil {
		return fmt.Errorf("playback: close: %w", err)
	}
	return nil
}

func (p *Pipeline) outputLocked(ctx context.Context, segRate int) (audio.OutputStream, error) {
	if p.out != nil {
		return p.out, nil
	}
	cfg := p.cfg
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = segRate
	}
	out, err := p.device.OpenOutput(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open output: %w", err)
	}
	if out.SampleRate() != cfg.SampleRate {
		slog.Info("playback: device rate differs from requested", "requested", cfg.SampleRate, "actual", out.SampleRate())
	}
	p.out = out
	return out, nil
}

func (p *Pipeline) resetLocked() {
	if p.out == nil {
		return
	}
	if err := p.out.Close(); err != nil {
		slog.Warn("playback: close after write failure", "err", err)
	}
	p.out = nil
}
