// Package stub provides an offline TTS provider that answers every request
// with a short sine tone.
package stub

import (
	"context"
	"math"
	"time"

	"github.com/MrWong99/waketurn/pkg/audio"
	"github.com/MrWong99/waketurn/pkg/provider/tts"
)

// Tone defaults.
const (
	DefaultSampleRate = 16000
	DefaultFrequency  = 440.0
	DefaultAmplitude  = 0.1
	DefaultDuration   = 500 * time.Millisecond

	chunkSamples = 320
)

var _ tts.Provider = (*Provider)(nil)

// Provider synthesizes a fixed tone regardless of the text.
type Provider struct {
	SampleRate int
	Frequency  float64
	Amplitude  float64
	Duration   time.Duration
}

// New returns a Provider with the default tone.
func New() *Provider {
	return &Provider{
		SampleRate: DefaultSampleRate,
		Frequency:  DefaultFrequency,
		Amplitude:  DefaultAmplitude,
		Duration:   DefaultDuration,
	}
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, _ string) (*audio.Segment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return audio.SegmentFromSamples(Tone(p.SampleRate, p.Frequency, p.Amplitude, p.Duration), p.SampleRate, chunkSamples), nil
}

// Tone renders a sine wave of the given frequency and peak amplitude.
func Tone(sampleRate int, freq, amp float64, d time.Duration) []float32 {
	n := int(d.Seconds() * float64(sampleRate))
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amp * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
	}
	return out
}
