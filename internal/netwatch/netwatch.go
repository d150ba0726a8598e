// Package netwatch checks internet reachability with a short TCP dial.
package netwatch

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync/atomic"
	"time"
)

// Defaults for [Config].
const (
	DefaultHost          = "1.1.1.1"
	DefaultPort          = 53
	DefaultTimeout       = 600 * time.Millisecond
	DefaultRetryInterval = time.Second
)

// Config selects the probe target.
type Config struct {
	Host    string
	Port    int
	Timeout time.Duration

	// RetryInterval is how long callers wait before probing again after a
	// failure.
	RetryInterval time.Duration
}

// DefaultConfig probes Cloudflare DNS over TCP.
func DefaultConfig() Config {
	return Config{
		Host:          DefaultHost,
		Port:          DefaultPort,
		Timeout:       DefaultTimeout,
		RetryInterval: DefaultRetryInterval,
	}
}

// DialFunc opens a connection; it matches [net.Dialer.DialContext].
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Probe reports reachability of a single TCP endpoint. The last result is
// cached for readiness checks.
type Probe struct {
	cfg  Config
	dial DialFunc
	last atomic.Int32 // 0 unknown, 1 up, 2 down
}

// Option configures a [Probe].
type Option func(*Probe)

// WithDialer replaces the network dialer, mainly for tests.
func WithDialer(fn DialFunc) Option {
	return func(p *Probe) { p.dial = fn }
}

// New returns a Probe for cfg.
func New(cfg Config, opts ...Option) *Probe {
	p := &Probe{cfg: cfg}
	for _, opt := range opts {
		opt(p)
	}
	if p.dial == nil {
		var d net.Dialer
		p.dial = d.DialContext
	}
	return p
}

// RetryInterval returns the configured back-off between failed probes.
func (p *Probe) RetryInterval() time.Duration { return p.cfg.RetryInterval }

// Addr returns the probed host:port.
func (p *Probe) Addr() string {
	return net.JoinHostPort(p.cfg.Host, strconv.Itoa(p.cfg.Port))
}

// OK dials the target within the configured timeout and reports success.
// It never returns an error; any failure counts as unreachable.
func (p *Probe) OK(ctx context.Context) bool {
	return p.Check(ctx) == nil
}

// Check is OK with the failure reason. It satisfies the health checker
// signature.
func (p *Probe) Check(ctx context.Context) error {
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}
	conn, err := p.dial(ctx, "tcp", p.Addr())
	if err != nil {
		p.record(false)
		return fmt.Errorf("netwatch: dial %s: %w", p.Addr(), err)
	}
	_ = conn.Close()
	p.record(true)
	return nil
}

// Last returns the cached result of the most recent probe and whether any
// probe has run.
func (p *Probe) Last() (up, known bool) {
	switch p.last.Load() {
	case 1:
		return true, true
	case 2:
		return false, true
	default:
		return false, false
	}
}

func (p *Probe) record(up bool) {
	v := int32(2)
	if up {
		v = 1
	}
	if prev := p.last.Swap(v); prev != v && prev != 0 {
		slog.Info("netwatch: reachability changed", "addr", p.Addr(), "up", up)
	}
}
