// Command waketurn is the voice assistant: it waits for the wake phrase,
// records one utterance, answers it and goes back to listening.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/waketurn/internal/app"
	"github.com/MrWong99/waketurn/internal/config"
	"github.com/MrWong99/waketurn/internal/observe"
	"github.com/MrWong99/waketurn/pkg/audio"
	"github.com/MrWong99/waketurn/pkg/audio/malgo"
	audiomock "github.com/MrWong99/waketurn/pkg/audio/mock"
	"github.com/MrWong99/waketurn/pkg/audio/portaudio"
	"github.com/MrWong99/waketurn/pkg/provider/llm"
	"github.com/MrWong99/waketurn/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/waketurn/pkg/provider/llm/openai"
	llmstub "github.com/MrWong99/waketurn/pkg/provider/llm/stub"
	"github.com/MrWong99/waketurn/pkg/provider/stt"
	"github.com/MrWong99/waketurn/pkg/provider/stt/deepgram"
	oastt "github.com/MrWong99/waketurn/pkg/provider/stt/openai"
	sttstub "github.com/MrWong99/waketurn/pkg/provider/stt/stub"
	"github.com/MrWong99/waketurn/pkg/provider/stt/whisper"
	"github.com/MrWong99/waketurn/pkg/provider/tts"
	"github.com/MrWong99/waketurn/pkg/provider/tts/coqui"
	"github.com/MrWong99/waketurn/pkg/provider/tts/elevenlabs"
	oatts "github.com/MrWong99/waketurn/pkg/provider/tts/openai"
	ttsstub "github.com/MrWong99/waketurn/pkg/provider/tts/stub"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "waketurn.yaml", "path to the YAML configuration file; empty runs on built-in defaults")
	watch := flag.Duration("watch", config.DefaultWatchInterval, "config reload polling interval; 0 disables reloading")
	flag.Parse()

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	// ── Load configuration ────────────────────────────────────────────────────
	var (
		cfg     *config.Config
		watcher *config.Watcher
		err     error
		target  *app.App
	)
	switch {
	case *configPath == "":
		cfg, err = config.LoadFromReader(strings.NewReader(""))
	case *watch > 0:
		watcher, err = config.NewWatcher(*configPath, func(prev, next *config.Config) {
			// Run only starts polling once target is set.
			target.ApplyConfig(prev, next)
		}, config.WithInterval(*watch))
		if err == nil {
			cfg = watcher.Current()
		}
	default:
		cfg, err = config.Load(*configPath)
	}
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "waketurn: config file %q not found; pass -config \"\" to run on defaults\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "waketurn: %v\n", err)
		}
		return 1
	}
	level.Set(app.SlogLevel(cfg.Server.LogLevel))

	slog.Info("waketurn starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		Attributes: []attribute.KeyValue{
			observe.Attr("waketurn.audio_backend", cfg.Audio.Backend),
			observe.Attr("waketurn.persona", cfg.Persona.Persona().Name),
		},
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := app.BuildProviders(cfg, reg, observe.DefaultMetrics())
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	opts := []app.Option{app.WithLevelVar(&level)}
	if watcher != nil {
		opts = append(opts, app.WithWatcher(watcher))
	}
	application, err := app.New(ctx, cfg, providers, opts...)
	if err != nil {
		_ = providers.Close()
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	target = application

	slog.Info("ready, say the wake phrase; press Ctrl+C to shut down")

	code := 0
	if err := application.Run(ctx); err != nil {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return code
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in backend factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Audio ─────────────────────────────────────────────────────────────────
	reg.RegisterAudio("malgo", func(config.ProviderEntry) (audio.Device, error) { return malgo.New() })
	reg.RegisterAudio("portaudio", func(config.ProviderEntry) (audio.Device, error) { return portaudio.New() })
	reg.RegisterAudio("mock", func(config.ProviderEntry) (audio.Device, error) { return &audiomock.Device{}, nil })

	// ── LLM ───────────────────────────────────────────────────────────────────
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if org := entry.Option("organization", ""); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	// Every other hosted or local backend goes through any-llm-go: optional
	// APIKey plus optional BaseURL.
	for _, name := range anyllm.Backends() {
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(name, entry.Model, opts...)
		})
	}

	reg.RegisterLLM("stub", func(config.ProviderEntry) (llm.Provider, error) { return llmstub.Provider{}, nil })

	// ── STT ───────────────────────────────────────────────────────────────────
	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []oastt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oastt.WithBaseURL(entry.BaseURL))
		}
		if lang := entry.Option("language", ""); lang != "" {
			opts = append(opts, oastt.WithLanguage(lang))
		}
		return oastt.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := entry.Option("language", ""); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = entry.Option("model_path", "")
		}
		var opts []whisper.NativeOption
		if lang := entry.Option("language", ""); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := entry.Option("language", ""); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if kw := entry.Option("keywords", ""); kw != "" {
			opts = append(opts, deepgram.WithKeywords(strings.Split(kw, ",")...))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("stub", func(entry config.ProviderEntry) (stt.Provider, error) {
		return sttstub.New(entry.Option("phrase", "")), nil
	})

	// ── TTS ───────────────────────────────────────────────────────────────────
	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []oatts.Option
		if entry.BaseURL != "" {
			opts = append(opts, oatts.WithBaseURL(entry.BaseURL))
		}
		if voice := entry.Option("voice", ""); voice != "" {
			opts = append(opts, oatts.WithVoice(voice))
		}
		if instr := entry.Option("instructions", ""); instr != "" {
			opts = append(opts, oatts.WithInstructions(instr))
		}
		if speed := entry.FloatOption("speed", 0); speed > 0 {
			opts = append(opts, oatts.WithSpeed(speed))
		}
		return oatts.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if f := entry.Option("output_format", ""); f != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(f))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithEndpoint(entry.BaseURL))
		}
		if st := entry.FloatOption("stability", -1); st >= 0 {
			opts = append(opts, elevenlabs.WithVoiceSettings(st, entry.FloatOption("similarity", 0.75)))
		}
		return elevenlabs.New(entry.APIKey, entry.Option("voice_id", ""), opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := entry.Option("language", ""); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := entry.Option("api_mode", ""); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if speaker := entry.Option("speaker", ""); speaker != "" {
			opts = append(opts, coqui.WithSpeaker(speaker))
		}
		if rate := entry.FloatOption("sample_rate", 0); rate > 0 {
			opts = append(opts, coqui.WithOutputSampleRate(int(rate)))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	reg.RegisterTTS("stub", func(config.ProviderEntry) (tts.Provider, error) { return ttsstub.New(), nil })

	for _, kind := range []string{"audio", "llm", "stt", "tts"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        waketurn — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Audio", cfg.Audio.Backend)
	printRow("LLM", providerLabel(cfg.Providers.LLM))
	printRow("STT", providerLabel(cfg.Providers.STT))
	printRow("TTS", providerLabel(cfg.Providers.TTS))
	wakeMode := "interval"
	if cfg.Wake.Models.Configured() {
		wakeMode = fmt.Sprintf("%d model(s)", len(cfg.Wake.Models.Wakewords))
	}
	if cfg.Wake.Manual {
		wakeMode += " + manual"
	}
	printRow("Wake", wakeMode)
	printRow("Persona", cfg.Persona.Persona().Name)
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func providerLabel(e config.ProviderEntry) string {
	label := e.Name
	if e.Model != "" {
		label += " / " + e.Model
	}
	if n := len(e.Fallbacks); n > 0 {
		label += fmt.Sprintf(" (+%d)", n)
	}
	return label
}

func printRow(kind, value string) {
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:18]) + "…"
	}
	fmt.Printf("║  %-12s   : %-19s ║\n", kind, value)
}
