// Building this file needs libwhisper.a and whisper.h on LIBRARY_PATH and
// C_INCLUDE_PATH.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/waketurn/pkg/audio"
	"github.com/MrWong99/waketurn/pkg/provider/stt"
)

// modelSampleRate is the only rate whisper models accept.
const modelSampleRate = 16000

// minSamples is the shortest input whisper.cpp decodes reliably (one
// second). Shorter utterances are padded with trailing silence.
const minSamples = modelSampleRate

var _ stt.Provider = (*NativeProvider)(nil)

// NativeProvider transcribes in-process. The model is loaded once; every
// call gets a fresh inference context.
type NativeProvider struct {
	model    whisperlib.Model
	language string

	// whisper.cpp saturates all cores per inference; one at a time.
	mu sync.Mutex
}

// NativeOption configures a [NativeProvider].
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the spoken language. Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// NewNative loads the whisper.cpp model at modelPath. The caller must call
// Close when the provider is no longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &NativeProvider{
		model:    model,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model.
func (p *NativeProvider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Transcribe implements stt.Provider. Audio at other rates is resampled to
// 16 kHz first.
func (p *NativeProvider) Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("whisper: %w", err)
	}
	if sampleRate <= 0 {
		return "", fmt.Errorf("whisper: invalid sample rate %d", sampleRate)
	}
	samples = padTo(audio.Resample(samples, sampleRate, modelSampleRate), minSamples)

	p.mu.Lock()
	defer p.mu.Unlock()

	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(p.language); err != nil {
		slog.Warn("whisper: unsupported language, model default used", "language", p.language, "err", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var sb strings.Builder
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		sb.WriteString(segment.Text)
		sb.WriteByte(' ')
	}
	return Clean(sb.String()), nil
}

// padTo returns samples extended with zeros to at least n samples.
func padTo(samples []float32, n int) []float32 {
	if len(samples) >= n {
		return samples
	}
	out := make([]float32, n)
	copy(out, samples)
	return out
}
