// Package filler masks response latency with short spoken interjections.
//
// While the assistant is thinking, a [Scheduler] sleeps a random delay,
// speaks one random phrase through the shared playback pipeline and repeats.
// Stopping is phrase-granular: a phrase already playing finishes before
// [Scheduler.Stop] returns, so the reply never starts over a half-spoken
// filler.
package filler

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/MrWong99/waketurn/pkg/audio"
)

// Defaults for [Config].
const (
	DefaultMinDelay = 2500 * time.Millisecond
	DefaultMaxDelay = 4 * time.Second
)

// DefaultPhrases are the interjections used when none are configured.
var DefaultPhrases = []string{
	"mhmm…",
	"mmmmmm",
	"uhhhh",
	"hold on…",
	"one moment…",
}

// DisplayPrefix marks filler text on the presentation sink.
const DisplayPrefix = "[thinking] "

// Synthesizer turns a phrase into speech.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (*audio.Segment, error)
}

// Player plays a segment to completion.
type Player interface {
	Play(ctx context.Context, seg *audio.Segment) error
}

// Display shows a phrase to the user.
type Display interface {
	ShowAssistant(text string)
}

// Config holds the filler timing and phrase set.
type Config struct {
	// MinDelay and MaxDelay bound the uniformly drawn pause before each
	// phrase.
	MinDelay time.Duration
	MaxDelay time.Duration

	// Phrases are drawn uniformly.
	Phrases []string
}

// DefaultConfig returns the standard filler configuration.
func DefaultConfig() Config {
	return Config{
		MinDelay: DefaultMinDelay,
		MaxDelay: DefaultMaxDelay,
		Phrases:  append([]string(nil), DefaultPhrases...),
	}
}

// Validate reports an unusable configuration.
func (c Config) Validate() error {
	var errs []error
	if c.MinDelay < 0 {
		errs = append(errs, errors.New("min delay must not be negative"))
	}
	if c.MaxDelay < c.MinDelay {
		errs = append(errs, errors.New("max delay must not be below min delay"))
	}
	if len(c.Phrases) == 0 {
		errs = append(errs, errors.New("at least one phrase is required"))
	}
	return errors.Join(errs...)
}

// Option configures a [Scheduler].
type Option func(*Scheduler)

// WithRand injects the random source used for delays and phrase choice.
func WithRand(r *rand.Rand) Option {
	return func(s *Scheduler) { s.rnd = r }
}

// WithDisplay sets where phrases are shown before they are spoken.
func WithDisplay(d Display) Option {
	return func(s *Scheduler) { s.display = d }
}

// Scheduler runs the filler loop. A Scheduler can be started and stopped
// repeatedly; at most one loop runs at a time.
type Scheduler struct {
	cfg     Config
	tts     Synthesizer
	player  Player
	display Display

	rmu sync.Mutex
	rnd *rand.Rand

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a stopped Scheduler.
func New(cfg Config, tts Synthesizer, player Player, opts ...Option) *Scheduler {
	s := &Scheduler{cfg: cfg, tts: tts, player: player}
	for _, opt := range opts {
		opt(s)
	}
	if s.rnd == nil {
		s.rnd = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return s
}

// Start launches the loop. Phrases are spoken under ctx, so cancelling ctx
// aborts playback; Stop does not. Starting a running Scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil || len(s.cfg.Phrases) == 0 {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel, s.done = cancel, done
	go func() {
		defer close(done)
		s.loop(ctx, loopCtx)
	}()
}

// Stop cancels the loop and waits for it to exit, including any phrase
// being spoken. Stopping a stopped Scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if done == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done != nil
}

func (s *Scheduler) loop(speakCtx, loopCtx context.Context) {
	for {
		timer := time.NewTimer(s.delay())
		select {
		case <-loopCtx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if loopCtx.Err() != nil {
			return
		}

		phrase := s.phrase()
		if s.display != nil {
			s.display.ShowAssistant(DisplayPrefix + phrase)
		}
		if err := s.speak(speakCtx, phrase); err != nil {
			if speakCtx.Err() != nil {
				return
			}
			slog.Warn("filler: speak failed", "phrase", phrase, "err", err)
		}
	}
}

func (s *Scheduler) speak(ctx context.Context, phrase string) error {
	seg, err := s.tts.Synthesize(ctx, phrase)
	if err != nil {
		return err
	}
	return s.player.Play(ctx, seg)
}

func (s *Scheduler) delay() time.Duration {
	span := s.cfg.MaxDelay - s.cfg.MinDelay
	if span <= 0 {
		return s.cfg.MinDelay
	}
	s.rmu.Lock()
	defer s.rmu.Unlock()
	return s.cfg.MinDelay + time.Duration(s.rnd.Int64N(int64(span)+1))
}

func (s *Scheduler) phrase() string {
	s.rmu.Lock()
	defer s.rmu.Unlock()
	return s.cfg.Phrases[s.rnd.IntN(len(s.cfg.Phrases))]
}
