// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to feed controlled audio chunks to the playback path and to
// verify which texts were sent to the TTS backend.
//
// Example:
//
//	p := &mock.Provider{
//	    Chunks:     [][]float32{make([]float32, 320), make([]float32, 320)},
//	    SampleRate: 16000,
//	}
//	seg, _ := p.Synthesize(ctx, "hello")
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/waketurn/pkg/audio"
	"github.com/MrWong99/waketurn/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Text is the text passed to Synthesize.
	Text string
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Chunks are emitted, in order, on every returned segment.
	Chunks [][]float32

	// SampleRate is the declared segment rate. Zero means 16000.
	SampleRate int

	// Err, if non-nil, is returned from Synthesize instead of a segment.
	Err error

	// StreamErr, if non-nil, is attached to the segment after all Chunks
	// were emitted, emulating a mid-stream failure.
	StreamErr error

	calls []SynthesizeCall
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)

// Synthesize records the call and returns a segment carrying Chunks.
func (p *Provider) Synthesize(ctx context.Context, text string) (*audio.Segment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, SynthesizeCall{Ctx: ctx, Text: text})
	if p.Err != nil {
		return nil, p.Err
	}
	rate := p.SampleRate
	if rate == 0 {
		rate = 16000
	}
	ch := make(chan []float32, len(p.Chunks))
	for _, c := range p.Chunks {
		ch <- append([]float32(nil), c...)
	}
	seg := audio.NewSegment(ch, rate)
	if p.StreamErr != nil {
		seg.SetStreamErr(p.StreamErr)
	}
	close(ch)
	return seg, nil
}

// Calls returns a copy of all recorded calls. Thread-safe.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]SynthesizeCall(nil), p.calls...)
}

// Texts returns the text of every recorded call, in order.
func (p *Provider) Texts() []string {
	calls := p.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Text
	}
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = nil
}
