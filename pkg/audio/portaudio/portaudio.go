//go:build portaudio

// Package portaudio implements [audio.Device] on top of the PortAudio C
// library. Build with -tags portaudio; the library must be installed.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/waketurn/pkg/audio"
)

const defaultBlock = 512

// ErrStreamClosed is returned by writes on a closed output stream.
var ErrStreamClosed = errors.New("portaudio: stream closed")

var (
	_ audio.Device       = (*Device)(nil)
	_ audio.OutputStream = (*outputStream)(nil)
)

// Device owns the PortAudio library initialisation.
type Device struct {
	closeOnce sync.Once
}

// New initialises PortAudio.
func New() (*Device, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	return &Device{}, nil
}

// OpenInput implements [audio.Device] with a callback stream on the default
// input device.
func (d *Device) OpenInput(_ context.Context, cfg audio.StreamConfig, fn audio.BlockFunc) (audio.Stream, error) {
	block := cfg.BlockSamples
	if block <= 0 {
		block = defaultBlock
	}
	stream, err := pa.OpenDefaultStream(1, 0, float64(cfg.SampleRate), block, func(in []float32) {
		// PortAudio reuses in between callbacks.
		fn(append([]float32(nil), in...))
	})
	if err != nil {
		return nil, fmt.Errorf("portaudio: open input: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("portaudio: start input: %w", err)
	}
	return &inputStream{stream: stream}, nil
}

// OpenOutput implements [audio.Device] with a blocking stream on the default
// output device.
func (d *Device) OpenOutput(_ context.Context, cfg audio.StreamConfig) (audio.OutputStream, error) {
	block := cfg.BlockSamples
	if block <= 0 {
		block = defaultBlock
	}
	s := &outputStream{buf: make([]float32, block), rate: cfg.SampleRate}
	stream, err := pa.OpenDefaultStream(0, 1, float64(cfg.SampleRate), block, &s.buf)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open output: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("portaudio: start output: %w", err)
	}
	s.stream = stream
	return s, nil
}

// Close terminates PortAudio. All streams must be closed first.
func (d *Device) Close() error {
	var err error
	d.closeOnce.Do(func() { err = pa.Terminate() })
	if err != nil {
		return fmt.Errorf("portaudio: terminate: %w", err)
	}
	return nil
}

type inputStream struct {
	stream    *pa.Stream
	closeOnce sync.Once
}

// Close stops the stream, which waits for the running callback, and then
// closes it.
func (s *inputStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = errors.Join(s.stream.Stop(), s.stream.Close())
	})
	if err != nil {
		return fmt.Errorf("portaudio: close input: %w", err)
	}
	return nil
}

type outputStream struct {
	stream *pa.Stream
	rate   int

	mu     sync.Mutex
	buf    []float32
	closed bool
}

// Write copies samples into the stream buffer one period at a time; each
// pa.Stream.Write blocks until PortAudio has room for the period.
func (s *outputStream) Write(samples []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(samples) > 0 {
		if s.closed {
			return ErrStreamClosed
		}
		n := copy(s.buf, samples)
		clear(s.buf[n:])
		samples = samples[n:]
		if err := s.stream.Write(); err != nil {
			return fmt.Errorf("portaudio: write: %w", err)
		}
	}
	return nil
}

func (s *outputStream) SampleRate() int { return s.rate }

func (s *outputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := errors.Join(s.stream.Stop(), s.stream.Close()); err != nil {
		return fmt.Errorf("portaudio: close output: %w", err)
	}
	return nil
}
