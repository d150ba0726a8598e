// Package openai provides a TTS provider backed by the OpenAI speech API.
// Audio is requested as raw 24 kHz 16-bit PCM and streamed to the caller
// chunk by chunk as the HTTP body arrives.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/waketurn/pkg/audio"
	"github.com/MrWong99/waketurn/pkg/provider/tts"
)

const (
	// DefaultModel is the speech model used when none is configured.
	DefaultModel = oai.SpeechModelGPT4oMiniTTS
	// DefaultVoice is the voice used when none is configured.
	DefaultVoice = "alloy"
	// SampleRate is the fixed rate of the API's pcm response format.
	SampleRate = 24000

	// chunkBytes is 100 ms of 16-bit mono PCM at SampleRate.
	chunkBytes = SampleRate / 10 * 2
)

var _ tts.Provider = (*Provider)(nil)

// Provider implements tts.Provider using the OpenAI API.
type Provider struct {
	client       oai.Client
	model        string
	voice        string
	instructions string
	speed        float64
}

type config struct {
	baseURL      string
	timeout      time.Duration
	voice        string
	instructions string
	speed        float64
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout bounds each request including the audio body.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithVoice selects the speaking voice (e.g. "alloy", "sage").
func WithVoice(voice string) Option {
	return func(c *config) { c.voice = voice }
}

// WithInstructions steers delivery, e.g. "bored, robotic, sarcastic".
// Ignored by tts-1 and tts-1-hd.
func WithInstructions(s string) Option {
	return func(c *config) { c.instructions = s }
}

// WithSpeed sets the speaking rate (0.25 to 4.0).
func WithSpeed(speed float64) Option {
	return func(c *config) { c.speed = speed }
}

// New constructs an OpenAI TTS Provider. An empty model selects
// [DefaultModel].
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	cfg := &config{voice: DefaultVoice}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.speed != 0 && (cfg.speed < 0.25 || cfg.speed > 4) {
		return nil, fmt.Errorf("openai: speed %v out of range [0.25, 4]", cfg.speed)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	return &Provider{
		client:       oai.NewClient(reqOpts...),
		model:        model,
		voice:        cfg.voice,
		instructions: cfg.instructions,
		speed:        cfg.speed,
	}, nil
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string) (*audio.Segment, error) {
	params := oai.AudioSpeechNewParams{
		Input:          text,
		Model:          p.model,
		Voice:          oai.AudioSpeechNewParamsVoice(p.voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	}
	if p.instructions != "" {
		params.Instructions = oai.String(p.instructions)
	}
	if p.speed != 0 {
		params.Speed = oai.Float(p.speed)
	}

	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: speech: %w", err)
	}

	ch := make(chan []float32, 8)
	seg := audio.NewSegment(ch, SampleRate)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		if err := streamPCM(ctx, resp.Body, ch); err != nil {
			seg.SetStreamErr(fmt.Errorf("openai: speech stream: %w", err))
		}
	}()
	return seg, nil
}

// streamPCM reads 16-bit PCM from r and emits float chunks of chunkBytes.
// A trailing odd byte is discarded.
func streamPCM(ctx context.Context, r io.Reader, out chan<- []float32) error {
	buf := make([]byte, chunkBytes)
	for {
		n, err := io.ReadFull(r, buf)
		if even := n &^ 1; even > 0 {
			select {
			case out <- audio.PCM16ToFloat32(buf[:even]):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return nil
		default:
			return err
		}
	}
}
