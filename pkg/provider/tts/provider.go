// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider turns one reply into an [audio.Segment]: a lazy, finite
// stream of mono float32 chunks at a declared source rate. The caller hands
// the segment to the playback pipeline, which resamples each chunk to the
// device rate as it arrives, so playback can begin before synthesis ends.
//
// Implementations must be safe for concurrent use. The filler and the reply
// may synthesize at the same time.
package tts

import (
	"context"

	"github.com/MrWong99/waketurn/pkg/audio"
)

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize starts synthesis of text and returns the segment as soon
	// as the stream is established. The implementation closes
	// Segment.Chunks when synthesis completes, fails, or ctx is cancelled;
	// a mid-stream failure is reported through Segment.Err after the close.
	//
	// A non-nil error means the stream could not be started at all.
	Synthesize(ctx context.Context, text string) (*audio.Segment, error)
}

// Func adapts a plain function to the Provider interface.
type Func func(ctx context.Context, text string) (*audio.Segment, error)

// Synthesize implements Provider.
func (f Func) Synthesize(ctx context.Context, text string) (*audio.Segment, error) {
	return f(ctx, text)
}
