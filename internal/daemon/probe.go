package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/roach88/sysmst/internal/logcheck"
)

// ErrExited is returned by a probe when the daemon exits while it waits.
var ErrExited = errors.New("daemon: exited during startup")

// Prober decides when a freshly launched daemon is ready to be inspected.
type Prober interface {
	Ready(ctx context.Context, h *Handle) error
}

// DelayProbe waits a fixed interval. It is the fallback when the daemon
// exposes no readiness signal. It returns early, without error, when the
// daemon exits; the process-table check reports that case.
type DelayProbe struct {
	Delay time.Duration
}

func (p DelayProbe) Ready(ctx context.Context, h *Handle) error {
	timer := time.NewTimer(p.Delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	case <-h.Exited():
	}
	return nil
}

// SocketProbe dials the daemon's control socket until it accepts a
// connection.
type SocketProbe struct {
	Network  string
	Addr     string
	Timeout  time.Duration
	Interval time.Duration
}

// ParseAddr splits "unix:/path" or "tcp:host:port" into network and address.
// A bare path is taken as a unix socket.
func ParseAddr(s string) (network, addr string, err error) {
	if s == "" {
		return "", "", errors.New("daemon: empty control address")
	}
	if strings.HasPrefix(s, "/") {
		return "unix", s, nil
	}
	network, addr, ok := strings.Cut(s, ":")
	if !ok || addr == "" {
		return "", "", fmt.Errorf("daemon: bad control address %q", s)
	}
	switch network {
	case "unix", "tcp", "tcp4", "tcp6":
		return network, addr, nil
	default:
		return "", "", fmt.Errorf("daemon: unsupported network %q in %q", network, s)
	}
}

func (p SocketProbe) Ready(ctx context.Context, h *Handle) error {
	interval := p.Interval
	if interval == 0 {
		interval = 100 * time.Millisecond
	}
	deadline := time.NewTimer(p.Timeout)
	defer deadline.Stop()

	var d net.Dialer
	var lastErr error
	for {
		dialCtx, cancel := context.WithTimeout(ctx, interval)
		conn, err := d.DialContext(dialCtx, p.Network, p.Addr)
		cancel()
		if err == nil {
			conn.Close()
			return nil
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.Exited():
			return ErrExited
		case <-deadline.C:
			return fmt.Errorf("daemon: control socket %s not ready after %s: %w", p.Addr, p.Timeout, lastErr)
		case <-time.After(interval):
		}
	}
}

// LogProbe waits until the daemon log matches Pattern.
type LogProbe struct {
	Path    string
	Pattern string
	Timeout time.Duration
}

func (p LogProbe) Ready(ctx context.Context, h *Handle) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	exited := make(chan struct{})
	go func() {
		select {
		case <-h.Exited():
			close(exited)
			cancel()
		case <-ctx.Done():
		}
	}()

	err := logcheck.WaitFor(ctx, p.Path, p.Timeout, p.Pattern)
	if err != nil && errors.Is(err, context.Canceled) {
		select {
		case <-exited:
			// the daemon may have logged the pattern on its way out
			if logcheck.Check(p.Path, p.Pattern) == nil {
				return nil
			}
			return ErrExited
		default:
		}
	}
	return err
}
