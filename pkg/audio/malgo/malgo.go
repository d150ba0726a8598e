// Package malgo implements [audio.Device] on top of miniaudio through
// github.com/gen2brain/malgo. It is the default backend: miniaudio is
// vendored by the binding, so no system audio library is needed at build
// time.
//
// Capture delivers float32 blocks straight from the driver callback. Playback
// is a blocking hand-off: [OutputStream.Write] parks the caller until the
// driver callback has copied every sample into hardware buffers, so the
// device period is the only output buffering.
package malgo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	ma "github.com/gen2brain/malgo"

	"github.com/MrWong99/waketurn/pkg/audio"
)

// ErrStreamClosed is returned by writes on a closed output stream.
var ErrStreamClosed = errors.New("malgo: stream closed")

// Compile-time interface assertions.
var (
	_ audio.Device       = (*Device)(nil)
	_ audio.Stream       = (*inputStream)(nil)
	_ audio.OutputStream = (*outputStream)(nil)
)

// Device is a miniaudio context shared by all streams it opens.
type Device struct {
	ctx *ma.AllocatedContext

	closeOnce sync.Once
}

// New initialises a miniaudio context with the platform's default backends.
func New() (*Device, error) {
	ctx, err := ma.InitContext(nil, ma.ContextConfig{}, func(msg string) {
		slog.Debug("malgo", "msg", msg)
	})
	if err != nil {
		return nil, fmt.Errorf("malgo: init context: %w", err)
	}
	return &Device{ctx: ctx}, nil
}

// OpenInput implements [audio.Device].
func (d *Device) OpenInput(_ context.Context, cfg audio.StreamConfig, fn audio.BlockFunc) (audio.Stream, error) {
	devCfg := ma.DefaultDeviceConfig(ma.Capture)
	devCfg.SampleRate = uint32(cfg.SampleRate)
	devCfg.Capture.Format = ma.FormatF32
	devCfg.Capture.Channels = 1
	if cfg.BlockSamples > 0 {
		devCfg.PeriodSizeInFrames = uint32(cfg.BlockSamples)
	}
	devCfg.Alsa.NoMMap = 1

	s := &inputStream{}
	callbacks := ma.DeviceCallbacks{
		Data: func(_, in []byte, _ uint32) {
			if len(in) == 0 || s.closed.Load() {
				return
			}
			fn(audio.BytesToFloat32(in))
		},
	}

	dev, err := ma.InitDevice(d.ctx.Context, devCfg, callbacks)
	if err != nil {
		return nil, fmt.Errorf("malgo: init capture device: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, fmt.Errorf("malgo: start capture device: %w", err)
	}
	s.dev = dev
	slog.Debug("malgo: capture started", "sample_rate", dev.SampleRate())
	return s, nil
}

// OpenOutput implements [audio.Device].
func (d *Device) OpenOutput(_ context.Context, cfg audio.StreamConfig) (audio.OutputStream, error) {
	devCfg := ma.DefaultDeviceConfig(ma.Playback)
	devCfg.SampleRate = uint32(cfg.SampleRate)
	devCfg.Playback.Format = ma.FormatF32
	devCfg.Playback.Channels = 1
	if cfg.BlockSamples > 0 {
		devCfg.PeriodSizeInFrames = uint32(cfg.BlockSamples)
	}

	s := &outputStream{handoff: newHandoff()}
	callbacks := ma.DeviceCallbacks{
		Data: func(out, _ []byte, _ uint32) { s.fill(out) },
	}

	dev, err := ma.InitDevice(d.ctx.Context, devCfg, callbacks)
	if err != nil {
		return nil, fmt.Errorf("malgo: init playback device: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, fmt.Errorf("malgo: start playback device: %w", err)
	}
	s.dev = dev
	s.rate = int(dev.SampleRate())
	slog.Debug("malgo: playback started", "sample_rate", s.rate)
	return s, nil
}

// Close implements [audio.Device]. All streams must be closed first.
func (d *Device) Close() error {
	var err error
	d.closeOnce.Do(func() {
		err = d.ctx.Uninit()
		d.ctx.Free()
	})
	if err != nil {
		return fmt.Errorf("malgo: uninit context: %w", err)
	}
	return nil
}

// ─── capture ──────────────────────────────────────────────────────────────────

type inputStream struct {
	dev       *ma.Device
	closed    atomic.Bool
	closeOnce sync.Once
}

// Close stops the device, which waits for an in-flight callback to return,
// then releases it.
func (s *inputStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		err = s.dev.Stop()
		s.dev.Uninit()
	})
	if err != nil {
		return fmt.Errorf("malgo: stop capture device: %w", err)
	}
	return nil
}

// ─── playback ─────────────────────────────────────────────────────────────────

type outputStream struct {
	*handoff
	dev  *ma.Device
	rate int

	closeOnce sync.Once
}

// Write blocks until the driver has consumed samples.
func (s *outputStream) Write(samples []float32) error { return s.write(samples) }

func (s *outputStream) SampleRate() int { return s.rate }

func (s *outputStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.shut()
		err = s.dev.Stop()
		s.dev.Uninit()
	})
	if err != nil {
		return fmt.Errorf("malgo: stop playback device: %w", err)
	}
	return nil
}
