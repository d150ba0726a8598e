// Package stub provides an offline STT provider that always hears the same
// phrase. It keeps the full turn loop runnable without network access.
package stub

import (
	"context"

	"github.com/MrWong99/waketurn/pkg/provider/stt"
)

// DefaultPhrase is returned when no phrase is configured.
const DefaultPhrase = "what time is it"

var _ stt.Provider = (*Provider)(nil)

// Provider returns Phrase for every utterance.
type Provider struct {
	Phrase string
}

// New returns a stub that answers with phrase, or [DefaultPhrase] if empty.
func New(phrase string) *Provider {
	if phrase == "" {
		phrase = DefaultPhrase
	}
	return &Provider{Phrase: phrase}
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, _ []float32, _ int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return p.Phrase, nil
}
