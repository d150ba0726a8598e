// Package resilience keeps a turn going when a speech or language backend
// misbehaves.
//
// [CircuitBreaker] is a three-state breaker (closed → open → half-open) that
// stops hammering a backend after repeated failures. [FallbackGroup] puts a
// breaker in front of every configured backend of one kind and walks them in
// order until one answers. [STTFallback], [LLMFallback] and [TTSFallback]
// expose such a group through the ordinary provider interfaces.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// rejects calls.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// has elapsed.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through. Enough
	// successes close the breaker; any failure re-opens it.
	StateHalfOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels log lines and state-change callbacks.
	Name string

	// MaxFailures is the number of consecutive failures that opens a closed
	// breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before probing.
	// Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of probe calls allowed, and successes
	// required, in the half-open state. Default: 3.
	HalfOpenMax int

	// IsFailure decides whether an error counts against the backend.
	// Default: every error except context cancellation, which is the
	// caller giving up rather than the backend failing.
	IsFailure func(error) bool

	// OnStateChange is called, outside the breaker lock, after every
	// transition.
	OnStateChange func(name string, from, to State)

	// Now replaces time.Now.
	Now func() time.Time
}

func defaultIsFailure(err error) bool {
	return !errors.Is(err, context.Canceled)
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu              sync.Mutex
	state           State
	consecutiveFail int
	lastFailure     time.Time
	halfOpenCalls   int
	halfOpenOK      int
}

// NewCircuitBreaker creates a closed [CircuitBreaker]. Zero-value config
// fields are replaced with defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = defaultIsFailure
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{cfg: cfg}
}

// Name returns the configured label.
func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

// Execute runs fn if the breaker allows it and returns fn's error. While
// open, or once the half-open probe budget is spent, it returns
// [ErrCircuitOpen] without calling fn.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	from := cb.state
	if cb.state == StateOpen {
		if cb.cfg.Now().Sub(cb.lastFailure) < cb.cfg.ResetTimeout {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.halfOpenCalls, cb.halfOpenOK = 0, 0
	}
	entered := cb.state
	if entered == StateHalfOpen && cb.halfOpenCalls >= cb.cfg.HalfOpenMax {
		cb.mu.Unlock()
		cb.notify(from, entered)
		return ErrCircuitOpen
	}
	probing := entered == StateHalfOpen
	if probing {
		cb.halfOpenCalls++
	}
	cb.mu.Unlock()
	cb.notify(from, entered)

	err := fn()

	cb.mu.Lock()
	from = cb.state
	switch {
	case err != nil && cb.cfg.IsFailure(err):
		cb.recordFailure(probing)
	case err == nil:
		cb.recordSuccess(probing)
	default:
		// Not the backend's fault; give the probe slot back.
		if probing {
			cb.halfOpenCalls--
		}
	}
	to := cb.state
	cb.mu.Unlock()
	cb.notify(from, to)
	return err
}

// recordFailure must be called with cb.mu held.
func (cb *CircuitBreaker) recordFailure(probing bool) {
	cb.lastFailure = cb.cfg.Now()
	if probing {
		cb.state = StateOpen
		cb.consecutiveFail = cb.cfg.MaxFailures
		return
	}
	cb.consecutiveFail++
	if cb.consecutiveFail >= cb.cfg.MaxFailures {
		cb.state = StateOpen
	}
}

// recordSuccess must be called with cb.mu held.
func (cb *CircuitBreaker) recordSuccess(probing bool) {
	if !probing {
		cb.consecutiveFail = 0
		return
	}
	cb.halfOpenOK++
	if cb.halfOpenOK >= cb.cfg.HalfOpenMax {
		cb.state = StateClosed
		cb.consecutiveFail = 0
		cb.halfOpenCalls, cb.halfOpenOK = 0, 0
	}
}

func (cb *CircuitBreaker) notify(from, to State) {
	if from == to {
		return
	}
	lvl := slog.LevelInfo
	if to == StateOpen {
		lvl = slog.LevelWarn
	}
	slog.Log(context.Background(), lvl, "resilience: circuit breaker state change",
		"name", cb.cfg.Name, "from", from.String(), "to", to.String())
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, from, to)
	}
}

// State returns the current [State]. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.cfg.Now().Sub(cb.lastFailure) >= cb.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker closed and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.state = StateClosed
	cb.consecutiveFail = 0
	cb.halfOpenCalls, cb.halfOpenOK = 0, 0
	cb.mu.Unlock()
	cb.notify(from, StateClosed)
}
