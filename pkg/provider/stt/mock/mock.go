// Package mock provides a test double for the stt.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Text: "hello"}
//	text, _ := p.Transcribe(ctx, samples, 16000)
//	calls := p.Calls()
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/waketurn/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Samples is a copy of the audio passed in.
	Samples []float32
	// SampleRate is the declared rate.
	SampleRate int
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Text is returned by Transcribe.
	Text string

	// Err, if non-nil, is returned by Transcribe instead of Text.
	Err error

	calls []TranscribeCall
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)

// Transcribe records the call and returns Text, Err.
func (p *Provider) Transcribe(_ context.Context, samples []float32, sampleRate int) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, TranscribeCall{
		Samples:    append([]float32(nil), samples...),
		SampleRate: sampleRate,
	})
	if p.Err != nil {
		return "", p.Err
	}
	return p.Text, nil
}

// Calls returns a copy of all recorded calls. Thread-safe.
func (p *Provider) Calls() []TranscribeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]TranscribeCall(nil), p.calls...)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = nil
}
