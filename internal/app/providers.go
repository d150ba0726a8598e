package app

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/MrWong99/waketurn/internal/config"
	"github.com/MrWong99/waketurn/internal/health"
	"github.com/MrWong99/waketurn/internal/observe"
	"github.com/MrWong99/waketurn/internal/resilience"
	"github.com/MrWong99/waketurn/pkg/audio"
	"github.com/MrWong99/waketurn/pkg/provider/llm"
	"github.com/MrWong99/waketurn/pkg/provider/stt"
	"github.com/MrWong99/waketurn/pkg/provider/tts"
)

// Providers holds one value per backend slot. BuildProviders fills it from
// the registry; tests may construct it directly.
type Providers struct {
	LLM   llm.Provider
	STT   stt.Provider
	TTS   tts.Provider
	Audio audio.Device

	// Checks are readiness probes contributed by fallback groups.
	Checks []health.Checker

	closers []io.Closer
}

// Close releases every backend that holds native resources.
func (p *Providers) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	p.closers = nil
	return errors.Join(errs...)
}

func (p *Providers) track(v any) {
	if c, ok := v.(io.Closer); ok {
		p.closers = append(p.closers, c)
	}
}

// BuildProviders instantiates the backends named in cfg. A slot with
// fallbacks is wrapped in the matching resilience fallback so a failing
// primary hands over to the next backend. A fallback that cannot be
// created is logged and skipped; a failing primary is an error.
func BuildProviders(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (_ *Providers, err error) {
	ps := &Providers{}
	defer func() {
		if err != nil {
			_ = ps.Close()
		}
	}()

	fb := func(kind string) resilience.FallbackConfig {
		cb := cfg.Providers.CircuitBreaker
		return resilience.FallbackConfig{
			CircuitBreaker: resilience.CircuitBreakerConfig{
				MaxFailures:  cb.MaxFailures,
				ResetTimeout: cb.ResetTimeout,
				HalfOpenMax:  cb.HalfOpenMax,
			},
			Kind:    kind,
			Metrics: m,
		}
	}

	if ps.Audio, err = reg.CreateAudio(cfg.Audio.Backend); err != nil {
		return nil, fmt.Errorf("app: audio backend: %w", err)
	}
	ps.track(ps.Audio)
	slog.Info("provider created", "kind", "audio", "name", cfg.Audio.Backend)

	// LLM
	entry := cfg.Providers.LLM
	primaryLLM, err := create(ps, "llm", entry, reg.CreateLLM)
	if err != nil {
		return nil, err
	}
	ps.LLM = primaryLLM
	if len(entry.Fallbacks) > 0 {
		group := resilience.NewLLMFallback(primaryLLM, entry.Name, fb("llm"))
		for _, f := range entry.Fallbacks {
			if p, ferr := create(ps, "llm", f, reg.CreateLLM); ferr == nil {
				group.AddFallback(f.Name, p)
			}
		}
		ps.LLM = group
		ps.Checks = append(ps.Checks, health.Checker{Name: "llm", Check: group.Check})
	}

	// STT
	entry = cfg.Providers.STT
	primarySTT, err := create(ps, "stt", entry, reg.CreateSTT)
	if err != nil {
		return nil, err
	}
	ps.STT = primarySTT
	if len(entry.Fallbacks) > 0 {
		group := resilience.NewSTTFallback(primarySTT, entry.Name, fb("stt"))
		for _, f := range entry.Fallbacks {
			if p, ferr := create(ps, "stt", f, reg.CreateSTT); ferr == nil {
				group.AddFallback(f.Name, p)
			}
		}
		ps.STT = group
		ps.Checks = append(ps.Checks, health.Checker{Name: "stt", Check: group.Check})
	}

	// TTS
	entry = cfg.Providers.TTS
	primaryTTS, err := create(ps, "tts", entry, reg.CreateTTS)
	if err != nil {
		return nil, err
	}
	ps.TTS = primaryTTS
	if len(entry.Fallbacks) > 0 {
		group := resilience.NewTTSFallback(primaryTTS, entry.Name, fb("tts"))
		for _, f := range entry.Fallbacks {
			if p, ferr := create(ps, "tts", f, reg.CreateTTS); ferr == nil {
				group.AddFallback(f.Name, p)
			}
		}
		ps.TTS = group
		ps.Checks = append(ps.Checks, health.Checker{Name: "tts", Check: group.Check})
	}

	return ps, nil
}

// create builds one backend. Errors are logged here so skipped fallbacks
// still leave a trace.
func create[T any](ps *Providers, kind string, entry config.ProviderEntry, fn func(config.ProviderEntry) (T, error)) (T, error) {
	p, err := fn(entry)
	if err != nil {
		slog.Warn("provider unavailable", "kind", kind, "name", entry.Name, "err", err)
		var zero T
		return zero, fmt.Errorf("app: %s provider %q: %w", kind, entry.Name, err)
	}
	ps.track(p)
	slog.Info("provider created", "kind", kind, "name", entry.Name, "model", entry.Model)
	return p, nil
}
