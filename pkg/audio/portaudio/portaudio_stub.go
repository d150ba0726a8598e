//go:build !portaudio

package portaudio

import (
	"context"
	"errors"

	"github.com/MrWong99/waketurn/pkg/audio"
)

// ErrUnavailable is returned when the binary was built without PortAudio.
var ErrUnavailable = errors.New("portaudio: backend not available: rebuild with -tags portaudio")

var _ audio.Device = (*Device)(nil)

// Device is a placeholder that cannot be constructed without PortAudio.
type Device struct{}

// New always fails in builds without the portaudio tag.
func New() (*Device, error) {
	return nil, ErrUnavailable
}

func (d *Device) OpenInput(context.Context, audio.StreamConfig, audio.BlockFunc) (audio.Stream, error) {
	return nil, ErrUnavailable
}

func (d *Device) OpenOutput(context.Context, audio.StreamConfig) (audio.OutputStream, error) {
	return nil, ErrUnavailable
}

func (d *Device) Close() error { return nil }
