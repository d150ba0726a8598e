package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MrWong99/waketurn/internal/observe"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] failed or
// had an open breaker.
var ErrAllFailed = errors.New("resilience: all providers failed")

// FallbackConfig configures a [FallbackGroup].
type FallbackConfig struct {
	// CircuitBreaker is the template for every entry's breaker; Name is
	// overwritten with the entry name.
	CircuitBreaker CircuitBreakerConfig

	// Kind labels metrics and logs, e.g. "stt".
	Kind string

	// Metrics, when set, receives per-provider request and error counts.
	Metrics *observe.Metrics
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// EntryStatus is the breaker state of one group entry.
type EntryStatus struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

// FallbackGroup tries a primary and then each fallback, in registration
// order, until one succeeds. Entries whose breaker is open are skipped.
//
// Entries must be added before the group is shared between goroutines.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a group with primary as its first entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends an entry tried after all earlier ones.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   fallback,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Len returns the number of entries.
func (fg *FallbackGroup[T]) Len() int { return len(fg.entries) }

// Primary returns the first entry.
func (fg *FallbackGroup[T]) Primary() T { return fg.entries[0].value }

// Status reports every entry's breaker state.
func (fg *FallbackGroup[T]) Status() []EntryStatus {
	out := make([]EntryStatus, len(fg.entries))
	for i := range fg.entries {
		out[i] = EntryStatus{Name: fg.entries[i].name, State: fg.entries[i].breaker.State().String()}
	}
	return out
}

// Check returns an error when no entry would currently accept a call. It is
// meant for readiness probes.
func (fg *FallbackGroup[T]) Check(context.Context) error {
	var open []string
	for i := range fg.entries {
		if fg.entries[i].breaker.State() != StateOpen {
			return nil
		}
		open = append(open, fg.entries[i].name)
	}
	return fmt.Errorf("%s: all breakers open (%s)", fg.kind(), strings.Join(open, ", "))
}

func (fg *FallbackGroup[T]) kind() string {
	if fg.cfg.Kind == "" {
		return "provider"
	}
	return fg.cfg.Kind
}

// Execute calls fn with each entry until one returns nil. It stops early,
// without trying further entries, once ctx is done. When every entry fails
// the error wraps [ErrAllFailed] and each entry's error.
func (fg *FallbackGroup[T]) Execute(ctx context.Context, fn func(context.Context, T) error) error {
	var errs []error
	for i := range fg.entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		entry := &fg.entries[i]
		err := entry.breaker.Execute(func() error {
			return fn(ctx, entry.value)
		})
		fg.record(ctx, entry.name, err)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		errs = append(errs, fmt.Errorf("%s: %w", entry.name, err))
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("resilience: skipping provider, circuit open", "kind", fg.kind(), "provider", entry.name)
		} else if i < len(fg.entries)-1 {
			slog.Warn("resilience: provider failed, trying next", "kind", fg.kind(), "provider", entry.name, "err", err)
		}
	}
	return fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}

func (fg *FallbackGroup[T]) record(ctx context.Context, name string, err error) {
	if fg.cfg.Metrics == nil {
		return
	}
	status := "ok"
	switch {
	case errors.Is(err, ErrCircuitOpen):
		status = "skipped"
	case err != nil:
		status = "error"
		fg.cfg.Metrics.RecordProviderError(ctx, name, fg.kind())
	}
	fg.cfg.Metrics.RecordProviderRequest(ctx, name, fg.kind(), status)
}

// ExecuteWithResult is [FallbackGroup.Execute] for calls that return a
// value. It is a function because methods cannot have type parameters.
func ExecuteWithResult[T, R any](ctx context.Context, fg *FallbackGroup[T], fn func(context.Context, T) (R, error)) (R, error) {
	var result R
	err := fg.Execute(ctx, func(ctx context.Context, v T) error {
		r, err := fn(ctx, v)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		var zero R
		return zero, err
	}
	return result, nil
}
