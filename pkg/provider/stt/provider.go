// Package stt defines the Provider interface for Speech-to-Text backends.
//
// A provider turns one finished utterance into text. The call is a batch
// request: the utterance has already been recorded and trimmed, so there is
// no streaming session to manage. An empty result means the provider heard
// no speech; callers treat that as a normal outcome, not an error.
//
// Implementations must be safe for concurrent use.
package stt

import "context"

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe recognises the speech in samples (mono float32 in [-1, 1]
	// at sampleRate Hz). It returns the recognised text, or "" when nothing
	// intelligible was said.
	//
	// Returns an error if the backend cannot be reached, rejects the audio,
	// or ctx is cancelled.
	Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error)
}

// Func adapts an ordinary function to [Provider].
type Func func(ctx context.Context, samples []float32, sampleRate int) (string, error)

// Transcribe implements [Provider].
func (f Func) Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	return f(ctx, samples, sampleRate)
}
