package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/waketurn/internal/dialog"
	"github.com/MrWong99/waketurn/internal/filler"
	"github.com/MrWong99/waketurn/internal/history"
	"github.com/MrWong99/waketurn/internal/netwatch"
	"github.com/MrWong99/waketurn/internal/utterance"
	"github.com/MrWong99/waketurn/internal/wake"
)

// Wake defaults.
const (
	DefaultWakeThreshold    = 0.5
	DefaultWakeTriggerLevel = 3
	DefaultWakeCooldown     = 2 * time.Second
	DefaultWakeFrameMs      = 80
)

// Audio defaults.
const (
	DefaultSampleRate   = 16000
	DefaultBlockMs      = 20
	DefaultBufferBlocks = 64
	DefaultAudioBackend = "malgo"
)

// StubProvider is the offline backend used when a provider section is
// left empty.
const StubProvider = "stub"

// ValidProviderNames lists known names per provider kind. [Validate] warns
// about names not listed here; they may still be registered by a build.
var ValidProviderNames = map[string][]string{
	"llm":   {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile", "stub"},
	"stt":   {"openai", "whisper", "whisper-native", "deepgram", "stub"},
	"tts":   {"openai", "elevenlabs", "coqui", "stub"},
	"audio": {"malgo", "portaudio", "mock"},
}

// Load reads, expands, defaults and validates the YAML file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r. ${VAR} references are
// replaced with environment values before decoding; unknown keys are
// rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(ExpandEnv(data)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnv replaces every ${NAME} in data with the value of the NAME
// environment variable. Bare $NAME is left alone so prompts may contain
// dollar signs.
func ExpandEnv(data []byte) []byte {
	return envRef.ReplaceAllFunc(data, func(m []byte) []byte {
		name := envRef.FindSubmatch(m)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// ApplyDefaults fills zero-valued fields.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	a := &cfg.Audio
	if a.Backend == "" {
		a.Backend = DefaultAudioBackend
	}
	if a.SampleRate == 0 {
		a.SampleRate = DefaultSampleRate
	}
	if a.BlockMs == 0 {
		a.BlockMs = DefaultBlockMs
	}
	if a.BufferBlocks == 0 {
		a.BufferBlocks = DefaultBufferBlocks
	}

	w := &cfg.Wake
	if w.Threshold == 0 {
		w.Threshold = DefaultWakeThreshold
	}
	if w.TriggerLevel == 0 {
		w.TriggerLevel = DefaultWakeTriggerLevel
	}
	if w.Cooldown == 0 {
		w.Cooldown = DefaultWakeCooldown
	}
	if w.FrameMs == 0 {
		w.FrameMs = DefaultWakeFrameMs
	}
	if w.DummyInterval == 0 {
		w.DummyInterval = wake.DefaultDummyInterval
	}

	c := &cfg.Capture
	if c.MaxDuration == 0 {
		c.MaxDuration = utterance.DefaultMaxDuration
	}
	if c.ChunkDuration == 0 {
		c.ChunkDuration = utterance.DefaultChunkDuration
	}
	if c.SilenceDuration == 0 {
		c.SilenceDuration = utterance.DefaultSilenceDuration
	}
	if c.SilenceThreshold == 0 {
		c.SilenceThreshold = utterance.DefaultSilenceThreshold
	}
	if c.MinDuration == 0 {
		c.MinDuration = utterance.DefaultMinDuration
	}

	f := &cfg.Filler
	if f.Min == 0 {
		f.Min = filler.DefaultMinDelay
	}
	if f.Max == 0 {
		f.Max = filler.DefaultMaxDelay
	}
	if len(f.Phrases) == 0 {
		f.Phrases = append([]string(nil), filler.DefaultPhrases...)
	}

	n := &cfg.Network
	if n.Host == "" {
		n.Host = netwatch.DefaultHost
	}
	if n.Port == 0 {
		n.Port = netwatch.DefaultPort
	}
	if n.Timeout == 0 {
		n.Timeout = netwatch.DefaultTimeout
	}
	if n.RetryInterval == 0 {
		n.RetryInterval = netwatch.DefaultRetryInterval
	}

	for _, e := range []*ProviderEntry{&cfg.Providers.LLM, &cfg.Providers.STT, &cfg.Providers.TTS} {
		if e.Name == "" {
			e.Name = StubProvider
		}
	}

	if cfg.Persona.MaxHistory == 0 {
		cfg.Persona.MaxHistory = dialog.DefaultMaxHistory
	}
	if cfg.History.Capacity == 0 {
		cfg.History.Capacity = history.DefaultCapacity
	}
}

// Validate checks cfg for values that cannot work and returns every problem
// joined into one error. Unknown provider names only log a warning.
func Validate(cfg *Config) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		add("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel)
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		add("server.tls requires both cert_file and key_file")
	}

	if cfg.Audio.SampleRate <= 0 {
		add("audio.sample_rate must be positive")
	}
	if cfg.Audio.PlaybackRate < 0 {
		add("audio.playback_rate must not be negative")
	}
	if cfg.Audio.BlockMs < 0 || cfg.Audio.BufferBlocks <= 0 {
		add("audio.block_ms must not be negative and audio.buffer_blocks must be positive")
	}
	warnUnknown("audio", cfg.Audio.Backend)

	w := cfg.Wake
	if w.Threshold <= 0 || w.Threshold > 1 {
		add("wake.threshold %.2f is out of range (0, 1]", w.Threshold)
	}
	if w.TriggerLevel < 1 {
		add("wake.trigger_level must be at least 1")
	}
	if w.Cooldown < 0 || w.DummyInterval < 0 {
		add("wake.cooldown and wake.dummy_interval must not be negative")
	}
	if w.FrameMs <= 0 {
		add("wake.frame_ms must be positive")
	}

	if err := cfg.Capture.Utterance().Validate(); err != nil {
		add("capture: %w", err)
	}
	if cfg.Filler.IsEnabled() {
		if err := cfg.Filler.Scheduler().Validate(); err != nil {
			add("filler: %w", err)
		}
	}
	if !cfg.Network.Disabled {
		if cfg.Network.Port <= 0 || cfg.Network.Port > 65535 {
			add("network.port %d is out of range", cfg.Network.Port)
		}
		if cfg.Network.Timeout <= 0 {
			add("network.timeout must be positive")
		}
	}

	for kind, e := range map[string]ProviderEntry{
		"llm": cfg.Providers.LLM,
		"stt": cfg.Providers.STT,
		"tts": cfg.Providers.TTS,
	} {
		warnUnknown(kind, e.Name)
		for i, fb := range e.Fallbacks {
			if fb.Name == "" {
				add("providers.%s.fallbacks[%d].name is required", kind, i)
			}
			if len(fb.Fallbacks) > 0 {
				add("providers.%s.fallbacks[%d] may not declare fallbacks", kind, i)
			}
			warnUnknown(kind, fb.Name)
		}
	}

	if cfg.Persona.MaxHistory < 0 {
		add("persona.max_history must not be negative")
	}
	if cfg.History.Capacity < 0 {
		add("history.capacity must not be negative")
	}

	return errors.Join(errs...)
}

func warnUnknown(kind, name string) {
	if name == "" || slices.Contains(ValidProviderNames[kind], name) {
		return
	}
	slog.Warn("config: unknown provider name, may be a typo or a third-party backend",
		"kind", kind, "name", name, "known", ValidProviderNames[kind])
}
