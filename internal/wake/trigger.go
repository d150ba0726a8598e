// Package wake turns a stream of audio frames into discrete wake events.
//
// A [Trigger] decides, frame by frame, whether the wake phrase was heard.
// There are three variants of that one capability: [Debouncer] scores frames
// with one or more [Scorer] models and debounces the result, [IntervalTrigger]
// fires on a fixed wall-clock interval when no model is available, and
// [ManualTrigger] fires on an explicit push-to-talk request. [Detector] runs
// a Trigger over a frame source and exposes a level-triggered, auto-reset
// [Detector.Wait].
package wake

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/waketurn/pkg/audio"
)

// Scorer maps one analysis frame to a wake-phrase probability in [0, 1].
type Scorer interface {
	Name() string
	Score(frame []float32) (float64, error)
}

// Decision is the outcome of observing a single frame.
type Decision struct {
	// Score is the frame score (max over scorers). Zero for triggers that do
	// not score audio.
	Score float64

	// Streak is the debounce streak after this frame.
	Streak int

	// Fired is true when this frame produced a wake event.
	Fired bool

	// Suppressed is true when the streak reached the trigger level inside
	// the cooldown window.
	Suppressed bool
}

// Trigger decides per frame whether a wake event fires.
// Implementations are driven by one goroutine at a time.
type Trigger interface {
	// Name identifies the variant in logs and metrics.
	Name() string

	// Observe processes one frame captured at now.
	Observe(frame audio.Frame, now time.Time) Decision

	// Reset clears transient per-stream state. It is called each time a new
	// listening task starts. Cooldown bookkeeping survives Reset.
	Reset()
}

// ─── Debouncer ────────────────────────────────────────────────────────────────

// DebounceConfig holds the debounce parameters.
type DebounceConfig struct {
	// Threshold is the score at or above which a frame counts as a hit.
	Threshold float64

	// TriggerLevel is the streak needed to fire.
	TriggerLevel int

	// Cooldown is the minimum time between two accepted triggers.
	Cooldown time.Duration
}

// DebounceState is the mutable debounce bookkeeping.
type DebounceState struct {
	Streak      int
	LastTrigger time.Time
	Cooldown    time.Duration
}

// Debouncer fires when enough recent frames score above the threshold.
//
// Per frame: a hit increments the streak, a miss decrements it (never below
// zero). At streak >= TriggerLevel the cooldown is checked; either way the
// streak goes back to zero, and the event only fires when the cooldown has
// elapsed since the last accepted trigger.
type Debouncer struct {
	cfg     DebounceConfig
	scorers []Scorer

	mu    sync.Mutex
	state DebounceState
}

var _ Trigger = (*Debouncer)(nil)

// NewDebouncer returns a Debouncer over scorers. A TriggerLevel below 1 is
// raised to 1.
func NewDebouncer(cfg DebounceConfig, scorers ...Scorer) *Debouncer {
	if cfg.TriggerLevel < 1 {
		cfg.TriggerLevel = 1
	}
	return &Debouncer{
		cfg:     cfg,
		scorers: scorers,
		state:   DebounceState{Cooldown: cfg.Cooldown},
	}
}

// Name implements [Trigger].
func (d *Debouncer) Name() string { return "debounce" }

// Observe implements [Trigger]. A scorer that fails is skipped for this frame.
func (d *Debouncer) Observe(frame audio.Frame, now time.Time) Decision {
	score := 0.0
	for _, s := range d.scorers {
		v, err := s.Score(frame.Samples)
		if err != nil {
			slog.Warn("wake: scorer failed", "scorer", s.Name(), "err", err)
			continue
		}
		score = max(score, v)
	}
	return d.Step(score, now)
}

// Step applies one already-computed score to the debounce state.
func (d *Debouncer) Step(score float64, now time.Time) Decision {
	d.mu.Lock()
	defer d.mu.Unlock()

	st := &d.state
	if score >= d.cfg.Threshold {
		st.Streak++
	} else if st.Streak > 0 {
		st.Streak--
	}

	dec := Decision{Score: score}
	if st.Streak >= d.cfg.TriggerLevel {
		if st.LastTrigger.IsZero() || now.Sub(st.LastTrigger) >= st.Cooldown {
			st.LastTrigger = now
			dec.Fired = true
		} else {
			dec.Suppressed = true
		}
		st.Streak = 0
	}
	dec.Streak = st.Streak
	return dec
}

// Reset implements [Trigger]. It clears the streak but keeps the last
// trigger time so the cooldown spans listening sessions.
func (d *Debouncer) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state.Streak = 0
}

// State returns a snapshot of the debounce state.
func (d *Debouncer) State() DebounceState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// ─── IntervalTrigger ──────────────────────────────────────────────────────────

// IntervalTrigger is the no-model fallback: it ignores audio and fires every
// Interval of wall-clock time, measured from the first frame after Reset.
type IntervalTrigger struct {
	Interval time.Duration

	mu     sync.Mutex
	anchor time.Time
}

var _ Trigger = (*IntervalTrigger)(nil)

// NewIntervalTrigger returns an IntervalTrigger firing every interval.
func NewIntervalTrigger(interval time.Duration) *IntervalTrigger {
	return &IntervalTrigger{Interval: interval}
}

// Name implements [Trigger].
func (t *IntervalTrigger) Name() string { return "interval" }

// Observe implements [Trigger].
func (t *IntervalTrigger) Observe(_ audio.Frame, now time.Time) Decision {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.anchor.IsZero() {
		t.anchor = now
		return Decision{}
	}
	if now.Sub(t.anchor) >= t.Interval {
		t.anchor = now
		return Decision{Fired: true}
	}
	return Decision{}
}

// Reset implements [Trigger].
func (t *IntervalTrigger) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.anchor = time.Time{}
}

// ─── ManualTrigger ────────────────────────────────────────────────────────────

// ManualTrigger fires on the first frame observed after Press. Presses made
// while nothing is listening are kept until the next listening session.
type ManualTrigger struct {
	pressed atomic.Bool
}

var _ Trigger = (*ManualTrigger)(nil)

// Press requests a wake event.
func (t *ManualTrigger) Press() { t.pressed.Store(true) }

// Name implements [Trigger].
func (t *ManualTrigger) Name() string { return "manual" }

// Observe implements [Trigger].
func (t *ManualTrigger) Observe(audio.Frame, time.Time) Decision {
	return Decision{Fired: t.pressed.Swap(false)}
}

// Reset implements [Trigger]. Pending presses survive.
func (t *ManualTrigger) Reset() {}

// ─── AnyTrigger ───────────────────────────────────────────────────────────────

// AnyTrigger fires when any of its members fires. Every member observes
// every frame.
type AnyTrigger []Trigger

var _ Trigger = AnyTrigger(nil)

// Name implements [Trigger].
func (a AnyTrigger) Name() string {
	name := ""
	for i, t := range a {
		if i > 0 {
			name += "+"
		}
		name += t.Name()
	}
	return name
}

// Observe implements [Trigger]. Score and Streak come from the first member
// that reports a non-zero score.
func (a AnyTrigger) Observe(frame audio.Frame, now time.Time) Decision {
	var out Decision
	for _, t := range a {
		d := t.Observe(frame, now)
		out.Fired = out.Fired || d.Fired
		out.Suppressed = out.Suppressed || d.Suppressed
		if out.Score == 0 && d.Score != 0 {
			out.Score = d.Score
			out.Streak = d.Streak
		}
	}
	return out
}

// Reset implements [Trigger].
func (a AnyTrigger) Reset() {
	for _, t := range a {
		t.Reset()
	}
}
