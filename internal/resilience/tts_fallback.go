package resilience

import (
	"context"

	"github.com/MrWong99/waketurn/pkg/audio"
	"github.com/MrWong99/waketurn/pkg/provider/tts"
)

// TTSFallback is a [tts.Provider] that fails over across synthesizers.
//
// Only stream setup is covered: once a backend has returned a segment,
// errors while it streams surface through [audio.Segment.Err] and are the
// caller's to handle.
type TTSFallback struct {
	*FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred
// backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	if cfg.Kind == "" {
		cfg.Kind = "tts"
	}
	return &TTSFallback{NewFallbackGroup(primary, primaryName, cfg)}
}

// Synthesize implements [tts.Provider].
func (f *TTSFallback) Synthesize(ctx context.Context, text string) (*audio.Segment, error) {
	return ExecuteWithResult(ctx, f.FallbackGroup, func(ctx context.Context, p tts.Provider) (*audio.Segment, error) {
		return p.Synthesize(ctx, text)
	})
}
