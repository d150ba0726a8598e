// Package whisper transcribes utterances with whisper.cpp.
//
// [Provider] uploads each utterance as a 16-bit mono WAV to a running
// whisper-server (POST /inference). [NativeProvider] runs the model
// in-process through the CGO bindings. Both strip whisper's non-speech
// annotations, so silence or noise yields "".
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/waketurn/pkg/audio"
	"github.com/MrWong99/waketurn/pkg/provider/stt"
)

const (
	defaultLanguage = "en"
	defaultTimeout  = 30 * time.Second

	// errorSnippet bounds how much of a failed response body ends up in the
	// returned error.
	errorSnippet = 256
)

var _ stt.Provider = (*Provider)(nil)

// Option configures a [Provider].
type Option func(*Provider)

// WithModel names the model the server should use ("base.en", "small").
// Empty keeps whatever the server was started with.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the spoken language. Defaults to "en"; "auto" lets the
// server detect it.
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithHTTPClient replaces the default client, which times out after 30 s.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider transcribes through a whisper.cpp HTTP server.
type Provider struct {
	endpoint   string
	model      string
	language   string
	httpClient *http.Client
}

// New returns a Provider for the server at serverURL, e.g.
// "http://localhost:8080".
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		endpoint:   strings.TrimRight(serverURL, "/") + "/inference",
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements [stt.Provider].
func (p *Provider) Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	if sampleRate <= 0 {
		return "", fmt.Errorf("whisper: invalid sample rate %d", sampleRate)
	}
	body, contentType, err := p.form(audio.EncodeWAVFloat(samples, sampleRate))
	if err != nil {
		return "", fmt.Errorf("whisper: build form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: inference request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, errorSnippet))
		return "", fmt.Errorf("whisper: server returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("whisper: decode response: %w", err)
	}
	return Clean(result.Text), nil
}

// form encodes the multipart upload whisper-server expects.
func (p *Provider) form(wav []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fw, err := mw.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(wav); err != nil {
		return nil, "", err
	}
	fields := [][2]string{
		{"response_format", "json"},
		{"language", p.language},
		{"model", p.model},
	}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}
