// Package elevenlabs provides an ElevenLabs-backed TTS provider using the
// ElevenLabs stream-input WebSocket API. Raw PCM is requested so chunks can
// be handed to the playback pipeline without decoding.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/waketurn/pkg/audio"
	"github.com/MrWong99/waketurn/pkg/provider/tts"
)

const (
	defaultEndpoint  = "wss://api.elevenlabs.io/v1/text-to-speech"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "pcm_16000"
)

var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithOutputFormat sets the PCM output format, e.g. "pcm_16000" or
// "pcm_24000". Only pcm_* formats are accepted.
func WithOutputFormat(format string) Option {
	return func(p *Provider) {
		p.outputFormat = format
	}
}

// WithVoiceSettings overrides stability and similarity boost.
func WithVoiceSettings(stability, similarity float64) Option {
	return func(p *Provider) {
		p.settings = voiceSettings{Stability: stability, SimilarityBoost: similarity}
	}
}

// WithEndpoint overrides the WebSocket base URL, mainly for tests.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = strings.TrimRight(endpoint, "/")
	}
}

// Provider implements tts.Provider backed by the ElevenLabs streaming API.
type Provider struct {
	apiKey       string
	voiceID      string
	model        string
	outputFormat string
	sampleRate   int
	settings     voiceSettings
	endpoint     string
}

// New creates a new ElevenLabs Provider speaking with voiceID.
func New(apiKey, voiceID string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	if voiceID == "" {
		return nil, errors.New("elevenlabs: voiceID must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		voiceID:      voiceID,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		settings:     voiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
		endpoint:     defaultEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	rate, err := formatRate(p.outputFormat)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: %w", err)
	}
	p.sampleRate = rate
	return p, nil
}

// SampleRate returns the rate of every synthesized chunk.
func (p *Provider) SampleRate() int { return p.sampleRate }

// formatRate extracts the sample rate from a "pcm_<rate>" format name.
func formatRate(format string) (int, error) {
	raw, ok := strings.CutPrefix(format, "pcm_")
	if !ok {
		return 0, fmt.Errorf("unsupported output format %q (want pcm_<rate>)", format)
	}
	rate, err := strconv.Atoi(raw)
	if err != nil || rate <= 0 {
		return 0, fmt.Errorf("invalid output format %q", format)
	}
	return rate, nil
}

// ---- WebSocket message types ----

// textMessage is the JSON payload sent for the reply text and the final flush.
type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// audioResponse is the JSON message received from ElevenLabs.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded PCM
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Synthesize implements tts.Provider. The connection is opened and the full
// text sent before returning; audio is read in the background.
func (p *Provider) Synthesize(ctx context.Context, text string) (*audio.Segment, error) {
	conn, _, err := websocket.Dial(ctx, p.streamURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}

	// Begin-of-input carries auth and settings; ElevenLabs needs a single
	// space as its text. The reply follows, then an empty flush.
	msgs := []textMessage{
		{Text: " ", VoiceSettings: &p.settings, XiAPIKey: p.apiKey},
		{Text: strings.TrimSpace(text) + " "},
		{Text: ""},
	}
	for _, m := range msgs {
		data, _ := json.Marshal(m)
		if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
			conn.CloseNow()
			return nil, fmt.Errorf("elevenlabs: send text: %w", err)
		}
	}

	ch := make(chan []float32, 64)
	seg := audio.NewSegment(ch, p.sampleRate)
	go func() {
		defer close(ch)
		defer conn.CloseNow()
		if err := readAudio(ctx, conn, ch); err != nil {
			seg.SetStreamErr(err)
			return
		}
		conn.Close(websocket.StatusNormalClosure, "done")
	}()
	return seg, nil
}

// readAudio forwards decoded PCM until the final message or a close.
func readAudio(ctx context.Context, conn *websocket.Conn, out chan<- []float32) error {
	var carry []byte
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("elevenlabs: read: %w", err)
		}
		var resp audioResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}
		if resp.Error != "" {
			return fmt.Errorf("elevenlabs: server error: %s", resp.Error)
		}
		if resp.Audio != "" {
			pcm, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err != nil {
				return fmt.Errorf("elevenlabs: decode audio: %w", err)
			}
			pcm = append(carry, pcm...)
			even := len(pcm) &^ 1
			carry = append([]byte(nil), pcm[even:]...)
			if even > 0 {
				select {
				case out <- audio.PCM16ToFloat32(pcm[:even]):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
		if resp.IsFinal {
			return nil
		}
	}
}

// streamURL constructs the stream-input URL for the configured voice.
func (p *Provider) streamURL() string {
	q := url.Values{}
	q.Set("model_id", p.model)
	q.Set("output_format", p.outputFormat)
	return fmt.Sprintf("%s/%s/stream-input?%s", p.endpoint, url.PathEscape(p.voiceID), q.Encode())
}
