package resilience

import (
	"context"

	"github.com/MrWong99/waketurn/pkg/provider/stt"
)

// STTFallback is an [stt.Provider] that fails over across recognizers.
type STTFallback struct {
	*FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred
// backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	if cfg.Kind == "" {
		cfg.Kind = "stt"
	}
	return &STTFallback{NewFallbackGroup(primary, primaryName, cfg)}
}

// Transcribe implements [stt.Provider]. An empty transcript is a success
// and does not fail over.
func (f *STTFallback) Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	return ExecuteWithResult(ctx, f.FallbackGroup, func(ctx context.Context, p stt.Provider) (string, error) {
		return p.Transcribe(ctx, samples, sampleRate)
	})
}
