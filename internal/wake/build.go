package wake

import (
	"log/slog"
	"time"
)

// DefaultDummyInterval is the fallback firing interval when no scorer
// models are available.
const DefaultDummyInterval = 10 * time.Second

// TriggerConfig selects and parameterises the trigger variant.
type TriggerConfig struct {
	Debounce DebounceConfig

	// DummyInterval is used by the fallback [IntervalTrigger].
	DummyInterval time.Duration

	// Manual, if non-nil, is combined with the selected variant so
	// push-to-talk works alongside it.
	Manual *ManualTrigger
}

// NewTrigger returns a [Debouncer] over scorers, or an [IntervalTrigger] when
// scorers is empty. Missing models are never fatal.
func NewTrigger(cfg TriggerConfig, scorers []Scorer) Trigger {
	var t Trigger
	if len(scorers) == 0 {
		interval := cfg.DummyInterval
		if interval <= 0 {
			interval = DefaultDummyInterval
		}
		slog.Warn("wake: no scorer models available, using fixed-interval trigger", "interval", interval)
		t = NewIntervalTrigger(interval)
	} else {
		names := make([]string, len(scorers))
		for i, s := range scorers {
			names[i] = s.Name()
		}
		slog.Info("wake: scorer models loaded", "models", names,
			"threshold", cfg.Debounce.Threshold,
			"trigger_level", cfg.Debounce.TriggerLevel,
			"cooldown", cfg.Debounce.Cooldown,
		)
		t = NewDebouncer(cfg.Debounce, scorers...)
	}
	if cfg.Manual != nil {
		return AnyTrigger{t, cfg.Manual}
	}
	return t
}
