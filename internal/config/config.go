// Package config provides the configuration schema, loader, hot-reload
// watcher and provider registry for waketurn.
package config

import (
	"time"

	"github.com/MrWong99/waketurn/internal/dialog"
	"github.com/MrWong99/waketurn/internal/filler"
	"github.com/MrWong99/waketurn/internal/netwatch"
	"github.com/MrWong99/waketurn/internal/utterance"
	"github.com/MrWong99/waketurn/internal/wake"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration. Load it with [Load] or
// [LoadFromReader]; both apply defaults and validate.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Audio     AudioConfig     `yaml:"audio"`
	Wake      WakeConfig      `yaml:"wake"`
	Capture   CaptureConfig   `yaml:"capture"`
	Filler    FillerConfig    `yaml:"filler"`
	Network   NetworkConfig   `yaml:"network"`
	Providers ProvidersConfig `yaml:"providers"`
	Persona   PersonaConfig   `yaml:"persona"`
	History   HistoryConfig   `yaml:"history"`
}

// ServerConfig holds the status server and logging settings.
type ServerConfig struct {
	// ListenAddr is the status server address (e.g. ":8080"). Empty
	// disables the server.
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`

	// TLS, when set, serves HTTPS.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds PEM file paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// AudioConfig selects the sound backend and stream parameters.
type AudioConfig struct {
	// Backend is a registered audio backend: malgo, portaudio or mock.
	Backend string `yaml:"backend"`

	// SampleRate of the input stream. Default 16000.
	SampleRate int `yaml:"sample_rate"`

	// PlaybackRate of the output stream. Zero uses SampleRate.
	PlaybackRate int `yaml:"playback_rate"`

	// BlockMs is the preferred driver period. Default 20.
	BlockMs int `yaml:"block_ms"`

	// BufferBlocks bounds the capture queue. Default 64.
	BufferBlocks int `yaml:"buffer_blocks"`
}

// BlockSamples converts BlockMs to samples at SampleRate.
func (a AudioConfig) BlockSamples() int {
	return a.SampleRate * a.BlockMs / 1000
}

// OutputRate returns the effective playback rate.
func (a AudioConfig) OutputRate() int {
	if a.PlaybackRate > 0 {
		return a.PlaybackRate
	}
	return a.SampleRate
}

// WakeConfig tunes the wake detector.
type WakeConfig struct {
	Threshold     float64       `yaml:"threshold"`
	TriggerLevel  int           `yaml:"trigger_level"`
	Cooldown      time.Duration `yaml:"cooldown"`
	FrameMs       int           `yaml:"frame_ms"`
	DummyInterval time.Duration `yaml:"dummy_interval"`

	// Models lists the openWakeWord model files. Missing or unloadable
	// models fall back to the fixed-interval trigger.
	Models WakeModels `yaml:"models"`

	// ONNXLibrary is the ONNX Runtime shared library path.
	ONNXLibrary string `yaml:"onnx_library"`

	// Manual enables push-to-talk through POST /wake.
	Manual bool `yaml:"manual"`
}

// WakeModels are the openWakeWord model paths.
type WakeModels struct {
	Melspectrogram string   `yaml:"melspectrogram"`
	Embedding      string   `yaml:"embedding"`
	Wakewords      []string `yaml:"wakewords"`
}

// Configured reports whether enough model paths are set to try loading.
func (m WakeModels) Configured() bool {
	return m.Melspectrogram != "" && m.Embedding != "" && len(m.Wakewords) > 0
}

// TriggerConfig converts the section for [wake.NewTrigger].
func (w WakeConfig) TriggerConfig(manual *wake.ManualTrigger) wake.TriggerConfig {
	return wake.TriggerConfig{
		Debounce: wake.DebounceConfig{
			Threshold:    w.Threshold,
			TriggerLevel: w.TriggerLevel,
			Cooldown:     w.Cooldown,
		},
		DummyInterval: w.DummyInterval,
		Manual:        manual,
	}
}

// CaptureConfig tunes end-of-utterance detection.
type CaptureConfig struct {
	MaxDuration      time.Duration `yaml:"max_duration"`
	ChunkDuration    time.Duration `yaml:"chunk"`
	SilenceDuration  time.Duration `yaml:"silence"`
	SilenceThreshold float64       `yaml:"threshold"`
	MinDuration      time.Duration `yaml:"min"`
}

// Utterance converts the section to an [utterance.Config].
func (c CaptureConfig) Utterance() utterance.Config {
	return utterance.Config{
		MaxDuration:      c.MaxDuration,
		ChunkDuration:    c.ChunkDuration,
		SilenceDuration:  c.SilenceDuration,
		SilenceThreshold: c.SilenceThreshold,
		MinDuration:      c.MinDuration,
	}
}

// FillerConfig tunes the thinking-gap interjections.
type FillerConfig struct {
	// Enabled defaults to true when omitted.
	Enabled *bool         `yaml:"enabled"`
	Min     time.Duration `yaml:"min"`
	Max     time.Duration `yaml:"max"`
	Phrases []string      `yaml:"phrases"`
}

// IsEnabled reports whether the filler should run.
func (f FillerConfig) IsEnabled() bool {
	return f.Enabled == nil || *f.Enabled
}

// Scheduler converts the section to a [filler.Config].
func (f FillerConfig) Scheduler() filler.Config {
	return filler.Config{
		MinDelay: f.Min,
		MaxDelay: f.Max,
		Phrases:  append([]string(nil), f.Phrases...),
	}
}

// NetworkConfig selects the reachability probe.
type NetworkConfig struct {
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port"`
	Timeout       time.Duration `yaml:"timeout"`
	RetryInterval time.Duration `yaml:"retry_interval"`

	// Disabled skips the probe entirely, for offline stub setups.
	Disabled bool `yaml:"disabled"`
}

// Probe converts the section to a [netwatch.Config].
func (n NetworkConfig) Probe() netwatch.Config {
	return netwatch.Config{
		Host:          n.Host,
		Port:          n.Port,
		Timeout:       n.Timeout,
		RetryInterval: n.RetryInterval,
	}
}

// ProvidersConfig selects the speech and language backends.
type ProvidersConfig struct {
	LLM ProviderEntry `yaml:"llm"`
	STT ProviderEntry `yaml:"stt"`
	TTS ProviderEntry `yaml:"tts"`

	// CircuitBreaker tunes the per-backend breakers used when fallbacks
	// are configured.
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig mirrors the resilience breaker knobs.
type CircuitBreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// ProviderEntry configures one backend. Name selects the factory in the
// [Registry]. API keys may be written as ${ENV_VAR}.
type ProviderEntry struct {
	Name    string `yaml:"name"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`

	// Options holds backend-specific values (voice, language, ...).
	Options map[string]any `yaml:"options"`

	// Fallbacks are tried in order when this backend fails. They may not
	// have fallbacks of their own.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// Option returns Options[key] as a string, or def when absent.
func (e ProviderEntry) Option(key, def string) string {
	if v, ok := e.Options[key].(string); ok && v != "" {
		return v
	}
	return def
}

// FloatOption returns Options[key] as a float64, or def when absent.
func (e ProviderEntry) FloatOption(key string, def float64) float64 {
	switch v := e.Options[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

// PersonaConfig overrides the assistant's persona.
type PersonaConfig struct {
	Name         string `yaml:"name"`
	SystemPrompt string `yaml:"system_prompt"`
	MaxHistory   int    `yaml:"max_history"`
}

// Persona converts the section, falling back to [dialog.Karen] for empty
// fields.
func (p PersonaConfig) Persona() dialog.Persona {
	out := dialog.Karen
	if p.Name != "" {
		out.Name = p.Name
	}
	if p.SystemPrompt != "" {
		out.SystemPrompt = p.SystemPrompt
	}
	return out
}

// HistoryConfig selects the turn history store.
type HistoryConfig struct {
	// PostgresDSN, when set, persists records in PostgreSQL. Otherwise an
	// in-memory ring is used.
	PostgresDSN string `yaml:"postgres_dsn"`

	// Capacity bounds the in-memory ring.
	Capacity int `yaml:"capacity"`
}
