// Package arbiter owns the physical input device and hands it to exactly one
// consumer at a time: the long-running wake listener or a short utterance
// capture.
//
// Ownership moves through a small state machine:
//
//	Unowned ──Resume──▶ WakeListening ──Pause──▶ Unowned
//	Unowned ──Capture──▶ Capturing ──(fn returns)──▶ Unowned
//
// Every transition out of an owning state closes the owner's stream before
// the next owner may open one. Pause cancels the listener task and waits for
// it to exit before the stream is closed, so the driver never feeds a buffer
// nobody drains.
package arbiter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/waketurn/internal/framebuf"
	"github.com/MrWong99/waketurn/internal/wake"
	"github.com/MrWong99/waketurn/pkg/audio"
)

var (
	// ErrBusy is returned when the requested transition conflicts with the
	// current owner.
	ErrBusy = errors.New("arbiter: input device busy")

	// ErrClosed is returned by every transition after Close.
	ErrClosed = errors.New("arbiter: closed")
)

// State is the current owner of the input device.
type State int

const (
	// Unowned means no stream is open.
	Unowned State = iota

	// WakeListening means the wake detector owns the device.
	WakeListening

	// Capturing means an utterance capture owns the device.
	Capturing
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Unowned:
		return "unowned"
	case WakeListening:
		return "wake_listening"
	case Capturing:
		return "capturing"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Config holds the stream parameters used for every owner.
type Config struct {
	// SampleRate of the input stream in Hz.
	SampleRate int

	// BlockSamples is the preferred driver period. Zero lets the backend
	// choose.
	BlockSamples int

	// BufferBlocks bounds the frame buffer between driver and consumer.
	BufferBlocks int

	// OnDrop, when set, is called from the driver context whenever a block
	// is dropped because the consumer fell behind.
	OnDrop func()
}

// CaptureFunc consumes frames from acc while the capture owns the device.
type CaptureFunc func(ctx context.Context, acc *framebuf.Accumulator) error

// Arbiter grants exclusive input-device ownership. All methods are safe for
// concurrent use.
type Arbiter struct {
	device   audio.Device
	detector *wake.Detector
	cfg      Config

	mu     sync.Mutex
	state  State
	closed bool

	// Listener resources; valid while state == WakeListening.
	stream audio.Stream
	buf    *framebuf.Buffer
	cancel context.CancelFunc
	done   chan struct{}

	armed atomic.Bool
	tasks atomic.Int32
}

// New returns an Unowned Arbiter that runs detector whenever it is resumed.
func New(device audio.Device, detector *wake.Detector, cfg Config) *Arbiter {
	return &Arbiter{device: device, detector: detector, cfg: cfg}
}

// State returns the current owner.
func (a *Arbiter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Armed reports whether the wake listener is running and accepting events.
func (a *Arbiter) Armed() bool { return a.armed.Load() }

// Tasks returns the number of live listener goroutines. It is at most one.
func (a *Arbiter) Tasks() int { return int(a.tasks.Load()) }

// Detector returns the wake detector run by the listener.
func (a *Arbiter) Detector() *wake.Detector { return a.detector }

// Resume opens the input stream, starts a fresh listener task and marks the
// arbiter armed. Resuming while already listening is a no-op; resuming
// during a capture returns [ErrBusy]. On failure the arbiter stays Unowned.
func (a *Arbiter) Resume(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch {
	case a.closed:
		return ErrClosed
	case a.state == WakeListening:
		return nil
	case a.state == Capturing:
		return ErrBusy
	}

	buf, stream, err := a.open(ctx)
	if err != nil {
		return fmt.Errorf("arbiter: resume: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	acc := framebuf.NewAccumulator(buf)
	a.tasks.Add(1)
	go func() {
		defer close(done)
		defer a.tasks.Add(-1)
		if err := a.detector.Run(runCtx, acc); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("arbiter: wake listener stopped", "err", err)
		}
	}()

	a.stream, a.buf, a.cancel, a.done = stream, buf, cancel, done
	a.state = WakeListening
	a.armed.Store(true)
	slog.Debug("arbiter: wake listening", "sample_rate", a.cfg.SampleRate)
	return nil
}

// Pause disarms the listener, cancels its task, waits for the task to exit
// and only then closes the input stream. Pausing when not listening is a
// no-op. The arbiter is Unowned when Pause returns, even if closing the
// stream failed.
func (a *Arbiter) Pause(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pauseLocked()
}

func (a *Arbiter) pauseLocked() error {
	if a.state != WakeListening {
		return nil
	}
	a.armed.Store(false)
	a.cancel()
	<-a.done

	err := a.stream.Close()
	a.buf.Close()
	a.stream, a.buf, a.cancel, a.done = nil, nil, nil, nil
	a.state = Unowned
	slog.Debug("arbiter: wake listener paused")
	if err != nil {
		return fmt.Errorf("arbiter: pause: close stream: %w", err)
	}
	return nil
}

// Wait blocks until the wake detector latches an event.
func (a *Arbiter) Wait(ctx context.Context) error {
	return a.detector.Wait(ctx)
}

// Capture opens a dedicated input stream, runs fn with a frame accumulator
// over it and closes the stream when fn returns. It is only permitted while
// Unowned; otherwise it returns [ErrBusy]. The error from fn is returned
// unchanged; device errors are wrapped.
func (a *Arbiter) Capture(ctx context.Context, fn CaptureFunc) error {
	a.mu.Lock()
	switch {
	case a.closed:
		a.mu.Unlock()
		return ErrClosed
	case a.state != Unowned:
		a.mu.Unlock()
		return ErrBusy
	}
	a.state = Capturing
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.state = Unowned
		a.mu.Unlock()
	}()

	buf, stream, err := a.open(ctx)
	if err != nil {
		return fmt.Errorf("arbiter: capture: %w", err)
	}
	slog.Debug("arbiter: capturing")

	runErr := fn(ctx, framebuf.NewAccumulator(buf))

	closeErr := stream.Close()
	buf.Close()
	if runErr != nil {
		return runErr
	}
	if closeErr != nil {
		return fmt.Errorf("arbiter: capture: close stream: %w", closeErr)
	}
	return nil
}

// Close pauses the listener and refuses further transitions. A capture in
// progress finishes on its own.
func (a *Arbiter) Close(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	return a.pauseLocked()
}

func (a *Arbiter) open(ctx context.Context) (*framebuf.Buffer, audio.Stream, error) {
	var opts []framebuf.Option
	if a.cfg.OnDrop != nil {
		opts = append(opts, framebuf.WithDropHook(a.cfg.OnDrop))
	}
	buf := framebuf.New(a.cfg.BufferBlocks, a.cfg.SampleRate, opts...)
	stream, err := a.device.OpenInput(ctx, audio.StreamConfig{
		SampleRate:   a.cfg.SampleRate,
		BlockSamples: a.cfg.BlockSamples,
	}, buf.Push)
	if err != nil {
		buf.Close()
		return nil, nil, fmt.Errorf("open input: %w", err)
	}
	return buf, stream, nil
}
