package netwatch_test

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/MrWong99/waketurn/internal/netwatch"
)

func TestProbe_ReachableListener(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	p := netwatch.New(netwatch.Config{Host: "127.0.0.1", Port: addr.Port, Timeout: time.Second})
	if !p.OK(context.Background()) {
		t.Fatal("OK() = false for a listening socket")
	}
	if up, known := p.Last(); !up || !known {
		t.Errorf("Last() = %v, %v; want true, true", up, known)
	}
}

func TestProbe_DialFailure(t *testing.T) {
	t.Parallel()

	dialErr := errors.New("unreachable")
	p := netwatch.New(netwatch.DefaultConfig(), netwatch.WithDialer(func(context.Context, string, string) (net.Conn, error) {
		return nil, dialErr
	}))

	if p.OK(context.Background()) {
		t.Fatal("OK() = true for a failing dialer")
	}
	if err := p.Check(context.Background()); !errors.Is(err, dialErr) {
		t.Errorf("Check() = %v, want wrapped dial error", err)
	}
	if up, known := p.Last(); up || !known {
		t.Errorf("Last() = %v, %v; want false, true", up, known)
	}
}

func TestProbe_TimeoutApplied(t *testing.T) {
	t.Parallel()

	cfg := netwatch.DefaultConfig()
	cfg.Timeout = 20 * time.Millisecond
	p := netwatch.New(cfg, netwatch.WithDialer(func(ctx context.Context, _, _ string) (net.Conn, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))

	start := time.Now()
	if p.OK(context.Background()) {
		t.Fatal("OK() = true for a hanging dialer")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("probe took %v, want about the 20ms timeout", elapsed)
	}
}

func TestProbe_Defaults(t *testing.T) {
	t.Parallel()

	p := netwatch.New(netwatch.DefaultConfig())
	if got := p.Addr(); got != "1.1.1.1:53" {
		t.Errorf("Addr() = %q, want 1.1.1.1:53", got)
	}
	if got := p.RetryInterval(); got != time.Second {
		t.Errorf("RetryInterval() = %v, want 1s", got)
	}
	if _, known := p.Last(); known {
		t.Error("Last() known before any probe")
	}
}
