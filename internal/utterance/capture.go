// Package utterance records one spoken utterance and decides when it ended,
// using a chunk-level RMS energy heuristic.
package utterance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/MrWong99/waketurn/pkg/audio"
)

// Defaults for [Config].
const (
	DefaultMaxDuration      = 12 * time.Second
	DefaultChunkDuration    = 30 * time.Millisecond
	DefaultSilenceDuration  = 600 * time.Millisecond
	DefaultMinDuration      = 500 * time.Millisecond
	DefaultSilenceThreshold = 0.01
)

// Config holds the end-of-speech parameters.
type Config struct {
	// MaxDuration is the hard cap on captured audio.
	MaxDuration time.Duration

	// ChunkDuration is the analysis unit for the RMS test.
	ChunkDuration time.Duration

	// SilenceDuration of consecutive quiet chunks ends the capture.
	SilenceDuration time.Duration

	// SilenceThreshold is the RMS below which a chunk counts as quiet.
	SilenceThreshold float64

	// MinDuration must be exceeded before silence may end the capture.
	MinDuration time.Duration
}

// DefaultConfig returns the standard parameters.
func DefaultConfig() Config {
	return Config{
		MaxDuration:      DefaultMaxDuration,
		ChunkDuration:    DefaultChunkDuration,
		SilenceDuration:  DefaultSilenceDuration,
		SilenceThreshold: DefaultSilenceThreshold,
		MinDuration:      DefaultMinDuration,
	}
}

// Validate reports parameter combinations that cannot work.
func (c Config) Validate() error {
	var errs []error
	if c.MaxDuration <= 0 {
		errs = append(errs, errors.New("max duration must be positive"))
	}
	if c.ChunkDuration <= 0 {
		errs = append(errs, errors.New("chunk duration must be positive"))
	}
	if c.SilenceDuration < 0 || c.MinDuration < 0 {
		errs = append(errs, errors.New("silence and min durations must not be negative"))
	}
	if c.SilenceThreshold < 0 {
		errs = append(errs, errors.New("silence threshold must not be negative"))
	}
	return errors.Join(errs...)
}

// StopReason says why a capture ended.
type StopReason int

const (
	// StopSilence means enough trailing silence followed the minimum duration.
	StopSilence StopReason = iota

	// StopMaxDuration means the hard cap was reached.
	StopMaxDuration

	// StopEndOfStream means the input stream closed first.
	StopEndOfStream
)

// String returns the reason name.
func (r StopReason) String() string {
	switch r {
	case StopSilence:
		return "silence"
	case StopMaxDuration:
		return "max_duration"
	case StopEndOfStream:
		return "end_of_stream"
	default:
		return "unknown"
	}
}

// Result is a finished capture.
type Result struct {
	// Samples is never empty: a capture that collected nothing holds a
	// single zero sample.
	Samples    []float32
	SampleRate int
	Reason     StopReason
}

// Duration returns the captured audio length.
func (r Result) Duration() time.Duration {
	if r.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(r.Samples)) * time.Second / time.Duration(r.SampleRate)
}

// Source yields fixed-size frames at a fixed rate.
type Source interface {
	PullFrame(ctx context.Context, n int) (audio.Frame, error)
	SampleRate() int
}

// Capture records utterances with a fixed configuration. It holds no
// per-capture state and may be reused.
type Capture struct {
	cfg Config
}

// New returns a Capture using cfg.
func New(cfg Config) *Capture {
	return &Capture{cfg: cfg}
}

// Config returns the capture parameters.
func (c *Capture) Config() Config { return c.cfg }

// Record pulls chunks from src until speech ends, the hard cap is reached,
// or the stream closes. All durations are counted in samples, and the last
// chunk is shortened so the result never exceeds MaxDuration.
//
// Cancellation and source errors abort the capture and discard the audio.
func (c *Capture) Record(ctx context.Context, src Source) (Result, error) {
	rate := src.SampleRate()
	if rate <= 0 {
		return Result{}, fmt.Errorf("utterance: invalid sample rate %d", rate)
	}
	chunkN := max(1, samples(c.cfg.ChunkDuration, rate))
	maxN := samples(c.cfg.MaxDuration, rate)
	silenceN := samples(c.cfg.SilenceDuration, rate)
	minN := samples(c.cfg.MinDuration, rate)

	var (
		buf    []float32
		silent int
		reason = StopMaxDuration
	)
	for len(buf) < maxN {
		want := min(chunkN, maxN-len(buf))
		frame, err := src.PullFrame(ctx, want)
		if errors.Is(err, io.EOF) {
			reason = StopEndOfStream
			break
		}
		if err != nil {
			return Result{}, fmt.Errorf("utterance: record: %w", err)
		}

		if audio.RMS(frame.Samples) < c.cfg.SilenceThreshold {
			silent++
		} else {
			silent = 0
		}
		buf = append(buf, frame.Samples...)

		if silent*chunkN >= silenceN && len(buf) > minN {
			reason = StopSilence
			break
		}
	}

	if len(buf) == 0 {
		buf = []float32{0}
	}
	return Result{Samples: buf, SampleRate: rate, Reason: reason}, nil
}

func samples(d time.Duration, rate int) int {
	return audio.SamplesFor(float64(d)/float64(time.Millisecond), rate)
}
