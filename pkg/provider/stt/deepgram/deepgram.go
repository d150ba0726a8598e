// Package deepgram provides a Deepgram-backed STT provider using the Deepgram
// live WebSocket API. The finished utterance is streamed as linear16 PCM,
// followed by a CloseStream message; the final transcripts Deepgram sends
// back before closing the socket are joined into the result.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/waketurn/pkg/audio"
	"github.com/MrWong99/waketurn/pkg/provider/stt"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "en"

	// sendChunkSamples is the PCM payload per binary message (100 ms at 16 kHz).
	sendChunkSamples = 1600
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithKeywords boosts recognition of uncommon words such as the assistant's
// name. Each entry uses Deepgram's "word:boost" form, e.g. "Karen:5".
func WithKeywords(keywords ...string) Option {
	return func(p *Provider) {
		p.keywords = append(p.keywords, keywords...)
	}
}

// WithEndpoint overrides the WebSocket endpoint, mainly for tests.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// Provider implements stt.Provider backed by the Deepgram live API.
type Provider struct {
	apiKey   string
	model    string
	language string
	keywords []string
	endpoint string
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
		endpoint: deepgramEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	if sampleRate <= 0 {
		return "", fmt.Errorf("deepgram: invalid sample rate %d", sampleRate)
	}
	wsURL, err := p.buildURL(sampleRate)
	if err != nil {
		return "", fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return "", fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()

	// Reading and writing run concurrently so Deepgram never stalls on a
	// full send window while results queue up.
	type result struct {
		text string
		err  error
	}
	readDone := make(chan result, 1)
	go func() {
		text, err := readFinals(ctx, conn)
		readDone <- result{text, err}
	}()

	if err := p.send(ctx, conn, samples); err != nil {
		conn.Close(websocket.StatusInternalError, "send failed")
		<-readDone
		return "", err
	}

	r := <-readDone
	if r.err != nil {
		return "", r.err
	}
	conn.Close(websocket.StatusNormalClosure, "")
	return r.text, nil
}

func (p *Provider) send(ctx context.Context, conn *websocket.Conn, samples []float32) error {
	for off := 0; off < len(samples); off += sendChunkSamples {
		end := min(off+sendChunkSamples, len(samples))
		if err := conn.Write(ctx, websocket.MessageBinary, audio.Float32ToPCM16(samples[off:end])); err != nil {
			return fmt.Errorf("deepgram: send audio: %w", err)
		}
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return fmt.Errorf("deepgram: close stream: %w", err)
	}
	return nil
}

// readFinals collects final transcripts until Deepgram closes the socket.
func readFinals(ctx context.Context, conn *websocket.Conn) (string, error) {
	var parts []string
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return strings.Join(parts, " "), nil
			}
			if ctx.Err() != nil {
				return "", fmt.Errorf("deepgram: %w", ctx.Err())
			}
			return "", fmt.Errorf("deepgram: read: %w", err)
		}
		if text, final, ok := parseDeepgramResponse(msg); ok && final && text != "" {
			parts = append(parts, text)
		}
	}
}

// buildURL constructs the Deepgram endpoint URL for one utterance.
func (p *Provider) buildURL(sampleRate int) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", p.language)
	q.Set("punctuate", "true")
	q.Set("encoding", "linear16")
	q.Set("channels", "1")
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	for _, kw := range p.keywords {
		q.Add("keywords", kw)
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// parseDeepgramResponse extracts the top transcript from a Results message.
// ok is false for any other message type.
func parseDeepgramResponse(data []byte) (text string, final, ok bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", false, false
	}
	if resp.Type != "Results" || len(resp.Channel.Alternatives) == 0 {
		return "", false, false
	}
	return strings.TrimSpace(resp.Channel.Alternatives[0].Transcript), resp.IsFinal, true
}
