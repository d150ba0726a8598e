// Package app wires all waketurn subsystems into a running assistant.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the turn loop alongside the status server and
// the config watcher, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithHistoryStore,
// WithScorers, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/waketurn/internal/arbiter"
	"github.com/MrWong99/waketurn/internal/config"
	"github.com/MrWong99/waketurn/internal/dialog"
	"github.com/MrWong99/waketurn/internal/filler"
	"github.com/MrWong99/waketurn/internal/framebuf"
	"github.com/MrWong99/waketurn/internal/health"
	"github.com/MrWong99/waketurn/internal/history"
	"github.com/MrWong99/waketurn/internal/history/postgres"
	"github.com/MrWong99/waketurn/internal/netwatch"
	"github.com/MrWong99/waketurn/internal/observe"
	"github.com/MrWong99/waketurn/internal/playback"
	"github.com/MrWong99/waketurn/internal/turn"
	"github.com/MrWong99/waketurn/internal/ui"
	"github.com/MrWong99/waketurn/internal/utterance"
	"github.com/MrWong99/waketurn/internal/wake"
	"github.com/MrWong99/waketurn/internal/wake/oww"
	"github.com/MrWong99/waketurn/pkg/audio"
)

// dropReportInterval is how often presentation drops are folded into the
// metrics counter.
const dropReportInterval = 5 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics
	levelVar  *slog.LevelVar
	console   io.Writer
	watcher   *config.Watcher

	// Subsystems, initialised in New and torn down in Shutdown.
	history    history.Store
	feed       *ui.Feed
	sink       *ui.Async
	manual     *wake.ManualTrigger
	scorers    []wake.Scorer
	detector   *wake.Detector
	arbiter    *arbiter.Arbiter
	player     *playback.Pipeline
	responder  *dialog.Responder
	probe      *netwatch.Probe
	controller *turn.Controller
	health     *health.Handler
	server     *http.Server

	// closers are called in order during Shutdown.
	closers []func(context.Context) error

	mu       sync.Mutex
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithHistoryStore injects a turn history store instead of creating one
// from config.
func WithHistoryStore(s history.Store) Option {
	return func(a *App) { a.history = s }
}

// WithMetrics replaces [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar lets config reloads change the log level.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = v }
}

// WithConsole sets where the console sink writes. Default: stdout.
func WithConsole(w io.Writer) Option {
	return func(a *App) { a.console = w }
}

// WithScorers skips loading the ONNX wake models and uses scorers instead.
// An empty slice selects the fixed-interval trigger.
func WithScorers(scorers ...wake.Scorer) Option {
	return func(a *App) {
		if scorers == nil {
			scorers = []wake.Scorer{}
		}
		a.scorers = scorers
	}
}

// WithWatcher makes Run poll w and apply every reload.
func WithWatcher(w *config.Watcher) Option {
	return func(a *App) { a.watcher = w }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers come
// from [BuildProviders] (or a test) and are closed on Shutdown.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Audio == nil || providers.LLM == nil ||
		providers.STT == nil || providers.TTS == nil {
		return nil, errors.New("app: audio, llm, stt and tts providers are required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		console:   os.Stdout,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. History ───────────────────────────────────────────────────────
	if err := a.initHistory(ctx); err != nil {
		return nil, fmt.Errorf("app: init history: %w", err)
	}

	// ── 2. Presentation ──────────────────────────────────────────────────
	a.feed = ui.NewFeed()
	persona := cfg.Persona.Persona()
	a.sink = ui.NewAsync(ui.Multi{ui.NewConsole(a.console, persona.Name), a.feed}, ui.DefaultQueueSize)
	a.closers = append(a.closers, func(context.Context) error {
		a.sink.Close()
		return nil
	})

	// ── 3. Wake detection and device arbitration ─────────────────────────
	a.initWake()
	a.arbiter = arbiter.New(providers.Audio, a.detector, arbiter.Config{
		SampleRate:   cfg.Audio.SampleRate,
		BlockSamples: cfg.Audio.BlockSamples(),
		BufferBlocks: cfg.Audio.BufferBlocks,
		OnDrop: func() {
			a.metrics.FramesDropped.Add(context.Background(), 1)
		},
	})
	a.closers = append(a.closers, a.arbiter.Close)

	// ── 4. Output ────────────────────────────────────────────────────────
	a.player = playback.New(providers.Audio, audio.StreamConfig{SampleRate: cfg.Audio.OutputRate()})
	a.closers = append(a.closers, func(context.Context) error { return a.player.Close() })

	// ── 5. Dialog ────────────────────────────────────────────────────────
	responder, err := dialog.New(providers.LLM,
		dialog.WithPersona(persona),
		dialog.WithMaxHistory(cfg.Persona.MaxHistory),
	)
	if err != nil {
		return nil, fmt.Errorf("app: init dialog: %w", err)
	}
	a.responder = responder

	// ── 6. Turn dependencies ─────────────────────────────────────────────
	deps := turn.Deps{
		Listener:  a.arbiter,
		Recorder:  utterance.New(cfg.Capture.Utterance()),
		STT:       providers.STT,
		Responder: a.responder,
		TTS:       providers.TTS,
		Player:    a.player,
		Sink:      a.sink,
		History:   a.history,
		Metrics:   a.metrics,
	}
	if f := a.newFiller(cfg); f != nil {
		deps.Filler = f
	}
	if !cfg.Network.Disabled {
		a.probe = netwatch.New(cfg.Network.Probe())
		deps.Network = a.probe
	}

	// ── 7. Turn loop ─────────────────────────────────────────────────────
	a.controller, err = turn.New(deps, turn.WithRetryInterval(cfg.Network.RetryInterval))
	if err != nil {
		return nil, fmt.Errorf("app: init turn loop: %w", err)
	}

	// ── 8. Status server ─────────────────────────────────────────────────
	a.health = health.New(a.checkers())
	if cfg.Server.ListenAddr != "" {
		a.server = &http.Server{
			Addr:              cfg.Server.ListenAddr,
			Handler:           a.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initHistory uses the injected store, PostgreSQL when a DSN is set, or an
// in-memory ring.
func (a *App) initHistory(ctx context.Context) error {
	if a.history != nil {
		return nil
	}
	dsn := a.cfg.History.PostgresDSN
	if dsn == "" {
		a.history = history.NewMemory(a.cfg.History.Capacity)
		return nil
	}
	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		return err
	}
	a.history = store
	a.closers = append(a.closers, func(context.Context) error {
		store.Close()
		return nil
	})
	return nil
}

// initWake loads the wake models, if any, and builds the detector. Missing
// or broken models, or an audio format they cannot score, fall back to the
// fixed-interval trigger.
func (a *App) initWake() {
	w := a.cfg.Wake
	if w.Manual {
		a.manual = &wake.ManualTrigger{}
	}
	frame := framebuf.FrameSamples(float64(w.FrameMs), a.cfg.Audio.SampleRate)
	if a.scorers == nil && w.Models.Configured() {
		a.loadWakeModels(frame)
	}

	trigger := wake.NewTrigger(w.TriggerConfig(a.manual), a.scorers)
	a.detector = wake.NewDetector(trigger, frame,
		wake.WithObserver(func(t wake.Trigger, d wake.Decision) {
			a.metrics.RecordWake(context.Background(), t.Name(), d.Score, d.Fired, d.Suppressed)
		}),
	)
}

// loadWakeModels sets a.scorers from the configured openWakeWord models.
// Failures are logged and leave a.scorers nil.
func (a *App) loadWakeModels(frame int) {
	w := a.cfg.Wake
	if err := oww.CheckFormat(a.cfg.Audio.SampleRate, frame); err != nil {
		slog.Warn("wake: models need 16 kHz audio and 80 ms frames, using interval trigger",
			"sample_rate", a.cfg.Audio.SampleRate, "frame_ms", w.FrameMs, "err", err)
		return
	}
	pipe, err := oww.Load(oww.Config{
		Library:        w.ONNXLibrary,
		Melspectrogram: w.Models.Melspectrogram,
		Embedding:      w.Models.Embedding,
		Wakewords:      w.Models.Wakewords,
	})
	if err != nil {
		slog.Warn("wake: could not load models", "err", err)
		return
	}
	a.scorers = pipe.Scorers()
	a.closers = append(a.closers, func(context.Context) error { return pipe.Close() })
}

// newFiller returns nil when the filler is disabled. The returned value is
// a typed turn.Filler so a disabled filler is a true nil interface.
func (a *App) newFiller(cfg *config.Config) turn.Filler {
	if !cfg.Filler.IsEnabled() {
		return nil
	}
	return filler.New(cfg.Filler.Scheduler(), a.providers.TTS, a.player,
		filler.WithDisplay(fillerDisplay{sink: a.sink, metrics: a.metrics}))
}

// fillerDisplay shows filler phrases and counts them.
type fillerDisplay struct {
	sink    ui.Sink
	metrics *observe.Metrics
}

func (d fillerDisplay) ShowAssistant(text string) {
	d.metrics.FillerPhrases.Add(context.Background(), 1)
	d.sink.ShowAssistant(text)
}

// checkers lists the readiness probes.
func (a *App) checkers() []health.Checker {
	checks := []health.Checker{{
		Name: "listener",
		Check: func(context.Context) error {
			if a.arbiter.Armed() || a.controller.Busy() {
				return nil
			}
			return fmt.Errorf("wake listener not armed (state %s)", a.arbiter.State())
		},
	}}
	if a.probe != nil {
		checks = append(checks, health.Checker{Name: "network", Check: a.probe.Check})
	}
	return append(checks, a.providers.Checks...)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Controller returns the turn loop.
func (a *App) Controller() *turn.Controller { return a.controller }

// Arbiter returns the input device arbiter.
func (a *App) Arbiter() *arbiter.Arbiter { return a.arbiter }

// Responder returns the dialog responder.
func (a *App) Responder() *dialog.Responder { return a.responder }

// History returns the turn history store.
func (a *App) History() history.Store { return a.history }

// Detector returns the wake detector.
func (a *App) Detector() *wake.Detector { return a.detector }

// Feed returns the WebSocket event feed.
func (a *App) Feed() *ui.Feed { return a.feed }

// Config returns the config currently in effect.
func (a *App) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the turn loop, the status server and, when configured, the
// config watcher, and blocks until ctx is cancelled or one of them fails.
// Cancellation is not an error.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.controller.Run(gctx) })
	g.Go(func() error { a.reportDrops(gctx); return nil })

	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}

	if a.server != nil {
		g.Go(func() error {
			slog.Info("status server listening", "addr", a.server.Addr)
			var err error
			if tls := a.cfg.Server.TLS; tls != nil {
				err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
			} else {
				err = a.server.ListenAndServe()
			}
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("app: status server: %w", err)
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 5*time.Second)
			defer cancel()
			return a.server.Shutdown(sctx)
		})
	}

	slog.Info("app running", "persona", a.responder.Persona().Name)
	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// reportDrops folds the presentation queue's drop count into metrics.
func (a *App) reportDrops(ctx context.Context) {
	ticker := time.NewTicker(dropReportInterval)
	defer ticker.Stop()
	var last uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.sink.Dropped(); n > last {
				a.metrics.UIEventsDropped.Add(ctx, int64(n-last))
				last = n
			}
		}
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](ctx); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		if err := a.providers.Close(); err != nil {
			slog.Warn("provider close error", "err", err)
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
