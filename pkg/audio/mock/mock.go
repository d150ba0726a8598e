// Package mock provides an in-memory [audio.Device] for unit tests.
//
// The mock never touches real hardware. Tests drive capture by calling
// [InputStream.Emit] (or [Device.Emit] for every open input) and inspect
// playback through [OutputStream.Samples].
//
// Typical usage:
//
//	dev := &mock.Device{}
//	stream, _ := dev.OpenInput(ctx, audio.StreamConfig{SampleRate: 16000}, buf.Push)
//	dev.Emit(make([]float32, 320))
//	_ = stream.Close()
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/waketurn/pkg/audio"
)

// ErrClosed is returned by writes on a closed output stream.
var ErrClosed = errors.New("mock: stream closed")

// Device is a mock implementation of [audio.Device].
// Set the exported fields before use; inspect the accessor methods after.
type Device struct {
	mu sync.Mutex

	// OpenInputErr, when non-nil, is returned by OpenInput.
	OpenInputErr error

	// OpenOutputErr, when non-nil, is returned by OpenOutput.
	OpenOutputErr error

	// OutputRate overrides the playback rate reported by output streams.
	// Zero means the requested rate.
	OutputRate int

	// WriteDelay is slept inside every OutputStream.Write to emulate a
	// hardware period.
	WriteDelay time.Duration

	inputs  []*InputStream
	outputs []*OutputStream
	closed  bool
}

var _ audio.Device = (*Device)(nil)

// OpenInput implements [audio.Device].
func (d *Device) OpenInput(_ context.Context, cfg audio.StreamConfig, fn audio.BlockFunc) (audio.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.OpenInputErr != nil {
		return nil, d.OpenInputErr
	}
	s := &InputStream{cfg: cfg, fn: fn}
	d.inputs = append(d.inputs, s)
	return s, nil
}

// OpenOutput implements [audio.Device].
func (d *Device) OpenOutput(_ context.Context, cfg audio.StreamConfig) (audio.OutputStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.OpenOutputErr != nil {
		return nil, d.OpenOutputErr
	}
	rate := cfg.SampleRate
	if d.OutputRate > 0 {
		rate = d.OutputRate
	}
	s := &OutputStream{rate: rate, delay: d.WriteDelay}
	d.outputs = append(d.outputs, s)
	return s, nil
}

// Close implements [audio.Device].
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Closed reports whether Close was called.
func (d *Device) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Inputs returns every input stream opened so far, in order.
func (d *Device) Inputs() []*InputStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*InputStream(nil), d.inputs...)
}

// OpenInputs returns how many input streams are currently open.
func (d *Device) OpenInputs() int {
	n := 0
	for _, s := range d.Inputs() {
		if !s.Closed() {
			n++
		}
	}
	return n
}

// Outputs returns every output stream opened so far, in order.
func (d *Device) Outputs() []*OutputStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*OutputStream(nil), d.outputs...)
}

// Emit delivers samples to every open input stream and reports how many
// streams received them.
func (d *Device) Emit(samples []float32) int {
	n := 0
	for _, s := range d.Inputs() {
		if s.Emit(samples) {
			n++
		}
	}
	return n
}

// ─── InputStream ──────────────────────────────────────────────────────────────

// InputStream is a capture stream returned by [Device.OpenInput].
type InputStream struct {
	cfg audio.StreamConfig

	mu     sync.Mutex
	fn     audio.BlockFunc
	closed bool
	blocks int
}

// Config returns the configuration the stream was opened with.
func (s *InputStream) Config() audio.StreamConfig { return s.cfg }

// Emit invokes the stream's callback with a copy of samples, the way a
// driver hands over a fresh buffer. It returns false once the stream is
// closed.
func (s *InputStream) Emit(samples []float32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.blocks++
	s.fn(append([]float32(nil), samples...))
	return true
}

// Blocks returns how many blocks were delivered.
func (s *InputStream) Blocks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blocks
}

// Close implements [audio.Stream].
func (s *InputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *InputStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ─── OutputStream ─────────────────────────────────────────────────────────────

// OutputStream is a playback stream returned by [Device.OpenOutput].
type OutputStream struct {
	rate  int
	delay time.Duration

	mu     sync.Mutex
	writes [][]float32
	closed bool
}

// Write implements [audio.OutputStream].
func (s *OutputStream) Write(samples []float32) error {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.writes = append(s.writes, append([]float32(nil), samples...))
	return nil
}

// SampleRate implements [audio.OutputStream].
func (s *OutputStream) SampleRate() int { return s.rate }

// Close implements [audio.OutputStream].
func (s *OutputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *OutputStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Writes returns a copy of every written chunk, in order.
func (s *OutputStream) Writes() [][]float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]float32, len(s.writes))
	copy(out, s.writes)
	return out
}

// Samples returns all written samples concatenated.
func (s *OutputStream) Samples() []float32 {
	var out []float32
	for _, w := range s.Writes() {
		out = append(out, w...)
	}
	return out
}
