package wake

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/MrWong99/waketurn/pkg/audio"
)

// FrameSource yields fixed-size frames. [framebuf.Accumulator] satisfies it.
type FrameSource interface {
	PullFrame(ctx context.Context, n int) (audio.Frame, error)
}

// Detector runs a [Trigger] over a frame source and latches wake events.
//
// The event is a one-slot latch: firing sets it (a second fire while set is
// absorbed), [Detector.Wait] blocks until it is set and clears it. An event
// raised while nobody is waiting is delivered to the next Wait.
type Detector struct {
	trigger      Trigger
	frameSamples int
	now          func() time.Time
	observe      func(Trigger, Decision)

	event chan struct{}
}

// Option configures a [Detector].
type Option func(*Detector)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

// WithObserver registers fn to see every per-frame decision, e.g. for
// metrics. fn runs on the detector goroutine and must be fast.
func WithObserver(fn func(Trigger, Decision)) Option {
	return func(d *Detector) { d.observe = fn }
}

// NewDetector returns a Detector that pulls frames of frameSamples samples
// and feeds them to t.
func NewDetector(t Trigger, frameSamples int, opts ...Option) *Detector {
	d := &Detector{
		trigger:      t,
		frameSamples: frameSamples,
		now:          time.Now,
		event:        make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Trigger returns the trigger this detector runs.
func (d *Detector) Trigger() Trigger { return d.trigger }

// FrameSamples returns the analysis frame size.
func (d *Detector) FrameSamples() int { return d.frameSamples }

// Run consumes frames from src until ctx is cancelled or the source ends.
// It resets the trigger's transient state on entry. Cancellation returns
// ctx.Err(); end of stream returns nil.
func (d *Detector) Run(ctx context.Context, src FrameSource) error {
	d.trigger.Reset()
	for {
		frame, err := src.PullFrame(ctx, d.frameSamples)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		dec := d.trigger.Observe(frame, d.now())
		if d.observe != nil {
			d.observe(d.trigger, dec)
		}
		if dec.Suppressed {
			slog.Debug("wake: trigger suppressed by cooldown", "trigger", d.trigger.Name(), "score", dec.Score)
		}
		if dec.Fired {
			slog.Info("wake: triggered", "trigger", d.trigger.Name(), "score", dec.Score, "seq", frame.Seq)
			d.Signal()
		}
	}
}

// Signal latches a wake event. It never blocks.
func (d *Detector) Signal() {
	select {
	case d.event <- struct{}{}:
	default:
	}
}

// Wait blocks until a wake event is latched, then clears it.
func (d *Detector) Wait(ctx context.Context) error {
	select {
	case <-d.event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending reports whether an event is latched.
func (d *Detector) Pending() bool { return len(d.event) > 0 }
