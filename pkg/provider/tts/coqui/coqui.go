// Package coqui provides a TTS provider backed by a locally running Coqui
// TTS server, for fully offline speech.
//
// Two API modes are supported:
//
//   - APIModeStandard (default): the standard Coqui TTS server
//     (ghcr.io/coqui-ai/tts-cpu), GET /api/tts with query parameters.
//   - APIModeXTTS: the Coqui XTTS v2 API server, POST /tts_to_audio/ with a
//     JSON body and a reference speaker.
//
// Both servers answer one WAV file per request. Synthesize therefore splits
// the reply into sentences and keeps a few requests in flight so the first
// sentence can play while the rest are rendered.
//
// Typical usage:
//
//	p, _ := coqui.New("http://localhost:5002", coqui.WithSpeaker("p225"))
//	seg, err := p.Synthesize(ctx, "Uhh. Mmkay. Fine.")
package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/MrWong99/waketurn/pkg/audio"
	"github.com/MrWong99/waketurn/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

const (
	defaultLanguage = "en"
	defaultTimeout  = 30 * time.Second
	xttsEndpoint    = "/tts_to_audio/"
	apiTTSEndpoint  = "/api/tts"

	// sentenceLookahead bounds concurrent synthesis requests.
	sentenceLookahead = 3

	// chunkSamples is the size of emitted chunks.
	chunkSamples = 2048
)

// APIMode selects which Coqui server API the provider targets.
type APIMode string

const (
	// APIModeXTTS targets the XTTS v2 API server. A speaker is required.
	APIModeXTTS APIMode = "xtts"

	// APIModeStandard targets the standard Coqui TTS server.
	APIModeStandard APIMode = "standard"
)

// Option is a functional option for configuring a Coqui Provider.
type Option func(*Provider)

// WithLanguage sets the language code sent to the server. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// WithAPIMode sets the server API mode.
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) { p.apiMode = mode }
}

// WithSpeaker selects the speaker: a speaker_id for multi-speaker standard
// models, or the reference speaker name for XTTS.
func WithSpeaker(id string) Option {
	return func(p *Provider) { p.speaker = id }
}

// WithOutputSampleRate fixes the declared segment rate; every sentence is
// resampled to it. Zero uses the rate of the first sentence.
func WithOutputSampleRate(rate int) Option {
	return func(p *Provider) { p.outputRate = rate }
}

// Provider implements tts.Provider backed by a Coqui TTS server.
type Provider struct {
	serverURL  string
	language   string
	speaker    string
	httpClient *http.Client
	apiMode    APIMode
	outputRate int
}

// New creates a Provider that targets the server at serverURL
// (e.g. "http://localhost:5002").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		apiMode:    APIModeStandard,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	switch p.apiMode {
	case APIModeStandard:
	case APIModeXTTS:
		if p.speaker == "" {
			return nil, errors.New("coqui: XTTS mode requires a speaker")
		}
	default:
		return nil, fmt.Errorf("coqui: unknown API mode %q", p.apiMode)
	}
	return p, nil
}

// rendered is one synthesized sentence.
type rendered struct {
	samples []float32
	rate    int
	err     error
}

// Synthesize implements tts.Provider. It blocks until the first sentence is
// rendered so the segment can declare its rate.
func (p *Provider) Synthesize(ctx context.Context, text string) (*audio.Segment, error) {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		rate := p.outputRate
		if rate == 0 {
			rate = 22050
		}
		return audio.SegmentFromSamples(nil, rate, chunkSamples), nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	futures := make([]chan rendered, len(sentences))
	for i := range futures {
		futures[i] = make(chan rendered, 1)
	}
	slots := make(chan struct{}, sentenceLookahead)
	go func() {
		for i, s := range sentences {
			select {
			case slots <- struct{}{}:
			case <-runCtx.Done():
				return
			}
			go func() {
				samples, rate, err := p.render(runCtx, s)
				futures[i] <- rendered{samples, rate, err}
			}()
		}
	}()

	next := func(i int) rendered {
		// The slot is missing only if dispatch stopped on cancellation.
		defer func() {
			select {
			case <-slots:
			default:
			}
		}()
		select {
		case r := <-futures[i]:
			return r
		case <-runCtx.Done():
			return rendered{err: runCtx.Err()}
		}
	}

	first := next(0)
	if first.err != nil {
		cancel()
		return nil, first.err
	}
	rate := p.outputRate
	if rate == 0 {
		rate = first.rate
	}

	ch := make(chan []float32, 8)
	seg := audio.NewSegment(ch, rate)
	go func() {
		defer close(ch)
		defer cancel()
		r := first
		for i := 0; ; {
			if err := emit(runCtx, ch, audio.Resample(r.samples, r.rate, rate)); err != nil {
				seg.SetStreamErr(err)
				return
			}
			if i++; i == len(sentences) {
				return
			}
			if r = next(i); r.err != nil {
				seg.SetStreamErr(r.err)
				return
			}
		}
	}()
	return seg, nil
}

func emit(ctx context.Context, out chan<- []float32, samples []float32) error {
	for len(samples) > 0 {
		n := min(chunkSamples, len(samples))
		select {
		case out <- samples[:n]:
		case <-ctx.Done():
			return ctx.Err()
		}
		samples = samples[n:]
	}
	return nil
}

// render synthesizes one sentence and decodes the WAV response.
func (p *Provider) render(ctx context.Context, sentence string) ([]float32, int, error) {
	req, err := p.newRequest(ctx, sentence)
	if err != nil {
		return nil, 0, fmt.Errorf("coqui: create tts request: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("coqui: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("coqui: %s %s returned status %d", req.Method, req.URL.Path, resp.StatusCode)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("coqui: read WAV response: %w", err)
	}
	samples, rate, err := audio.DecodeWAV(wav)
	if err != nil {
		return nil, 0, fmt.Errorf("coqui: %w", err)
	}
	return samples, rate, nil
}

func (p *Provider) newRequest(ctx context.Context, sentence string) (*http.Request, error) {
	if p.apiMode == APIModeXTTS {
		body, err := json.Marshal(map[string]string{
			"text":        sentence,
			"speaker_wav": p.speaker,
			"language":    p.language,
		})
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+xttsEndpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}

	params := url.Values{}
	params.Set("text", sentence)
	if p.speaker != "" {
		params.Set("speaker_id", p.speaker)
	}
	if p.language != "" {
		params.Set("language_id", p.language)
	}
	return http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+apiTTSEndpoint+"?"+params.Encode(), nil)
}

// splitSentences splits on '.', '!' or '?' followed by whitespace or the end
// of the text. Empty pieces are dropped.
func splitSentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '!', '?':
			if i+1 < len(text) && !unicode.IsSpace(rune(text[i+1])) {
				continue
			}
			if s := strings.TrimSpace(text[start : i+1]); s != "" {
				out = append(out, s)
			}
			start = i + 1
		}
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}
