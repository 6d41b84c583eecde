// Package daemon installs, launches and verifies the sysmaster daemon.
//
// Run is the whole start sequence: install unit files, launch the daemon
// detached with its output appended to the log, wait for readiness, then
// confirm in the process table that the recorded pid is still the daemon.
// On success the log is truncated so later log checks start clean. On
// failure the log is returned verbatim in a *StartError.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/roach88/sysmst/internal/config"
	"github.com/roach88/sysmst/internal/logging"
)

// ErrNotRunning is the cause in a StartError when the process table has no
// live daemon with the recorded pid.
var ErrNotRunning = errors.New("daemon: not running after startup")

// StartError reports a failed start. Log holds the captured daemon output.
type StartError struct {
	PID int
	Log string
	Err error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("daemon: start failed (pid %d): %v", e.PID, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// Handle identifies one launched daemon. It is not reused across restarts.
type Handle struct {
	PID     int
	Name    string
	Started time.Time
	LogPath string

	exited chan struct{}
	err    error
}

// Exited is closed once the daemon process has been reaped.
func (h *Handle) Exited() <-chan struct{} { return h.exited }

// Running reports whether the process has not yet been reaped.
func (h *Handle) Running() bool {
	select {
	case <-h.exited:
		return false
	default:
		return true
	}
}

// ExitErr returns the wait error once the process has exited.
func (h *Handle) ExitErr() error {
	if h.Running() {
		return nil
	}
	return h.err
}

// Controller runs the daemon start sequence.
type Controller struct {
	cfg    config.Config
	logger *slog.Logger

	// Prober decides readiness. See ProberFor.
	Prober Prober

	// Procs confirms liveness after readiness.
	Procs ProcessTable
}

// New returns a controller for cfg. The prober is chosen by ProberFor and
// the process table is /proc.
func New(cfg config.Config, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Controller{
		cfg:    cfg,
		logger: logger,
		Prober: ProberFor(cfg),
		Procs:  NewProcFS(),
	}
}

// ProberFor picks the strongest readiness signal cfg offers: a log pattern,
// then a control socket, then the fixed grace period.
func ProberFor(cfg config.Config) Prober {
	if cfg.ReadyPattern != "" {
		return LogProbe{Path: cfg.LogPath, Pattern: cfg.ReadyPattern, Timeout: cfg.ReadyTimeout}
	}
	if cfg.ControlAddr != "" {
		if network, addr, err := ParseAddr(cfg.ControlAddr); err == nil {
			return SocketProbe{Network: network, Addr: addr, Timeout: cfg.ReadyTimeout}
		}
	}
	return DelayProbe{Delay: cfg.GracePeriod}
}

// Run installs units, starts the daemon and waits until it is confirmed
// running. Install and launch errors are returned as is; every later
// failure is a *StartError carrying the daemon log.
func (c *Controller) Run(ctx context.Context) (*Handle, error) {
	if _, err := c.InstallUnits(); err != nil {
		return nil, err
	}

	h, err := c.Start(ctx)
	if err != nil {
		return nil, err
	}

	if err := c.Prober.Ready(ctx, h); err != nil {
		return nil, c.fail(h, err)
	}
	if err := c.confirm(h); err != nil {
		return nil, c.fail(h, err)
	}

	if err := os.Truncate(h.LogPath, 0); err != nil {
		c.logger.Warn("could not clear daemon log", "path", h.LogPath, "error", err)
	}
	c.logger.Info("daemon running", "pid", h.PID, "name", h.Name)
	return h, nil
}

// Start launches the daemon binary with no arguments in its own process
// group, appending stdout and stderr to the log path.
func (c *Controller) Start(ctx context.Context) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(c.cfg.LogPath), 0o755); err != nil {
		return nil, fmt.Errorf("daemon: create log dir: %w", err)
	}
	// Truncate so the log holds this launch only. O_APPEND keeps the later
	// os.Truncate effective while the child writes.
	logFile, err := os.OpenFile(c.cfg.LogPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("daemon: open log: %w", err)
	}
	// the child holds its own descriptor
	defer logFile.Close()

	// Not CommandContext: the daemon outlives the call that started it.
	cmd := exec.Command(c.cfg.DaemonBinary)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("daemon: start %s: %w", c.cfg.DaemonBinary, err)
	}

	h := &Handle{
		PID:     cmd.Process.Pid,
		Name:    c.cfg.DaemonName,
		Started: time.Now(),
		LogPath: c.cfg.LogPath,
		exited:  make(chan struct{}),
	}
	go func() {
		h.err = cmd.Wait()
		close(h.exited)
	}()

	c.logger.Debug("daemon launched", "pid", h.PID, "binary", c.cfg.DaemonBinary, "log", h.LogPath)
	return h, nil
}

// Stop sends SIGTERM to the daemon's process group and waits up to timeout
// for it to exit, then sends SIGKILL.
func (c *Controller) Stop(h *Handle, timeout time.Duration) error {
	if !h.Running() {
		return nil
	}
	if err := unix.Kill(-h.PID, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("daemon: signal %d: %w", h.PID, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-h.exited:
		c.logger.Info("daemon stopped", "pid", h.PID)
		return nil
	case <-timer.C:
	}

	c.logger.Warn("daemon ignored SIGTERM, killing", "pid", h.PID, "timeout", timeout)
	return c.kill(h)
}

// DumpLog returns the captured daemon log verbatim.
func (c *Controller) DumpLog() (string, error) {
	data, err := os.ReadFile(c.cfg.LogPath)
	if err != nil {
		return "", fmt.Errorf("daemon: read log: %w", err)
	}
	return string(data), nil
}

func (c *Controller) confirm(h *Handle) error {
	p, err := c.Procs.Lookup(h.PID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotRunning, err)
	}
	if !p.Matches(h.Name) {
		return fmt.Errorf("%w: pid %d is %q (state %s), want %q", ErrNotRunning, h.PID, p.Comm, p.State, h.Name)
	}
	return nil
}

func (c *Controller) fail(h *Handle, cause error) error {
	log, err := c.DumpLog()
	if err != nil {
		c.logger.Warn("daemon log unavailable", "error", err)
	}
	if h.Running() {
		c.logger.Error("daemon failed to start", "pid", h.PID, "error", cause)
	} else {
		c.logger.Error("daemon failed to start", "pid", h.PID, "error", cause, "exit", h.ExitErr())
	}
	c.logger.Error("daemon log " + h.LogPath + ":\n" + strings.TrimRight(log, "\n"))

	if h.Running() {
		if err := c.kill(h); err != nil {
			c.logger.Warn("could not kill daemon", "pid", h.PID, "error", err)
		}
	}
	return &StartError{PID: h.PID, Log: log, Err: cause}
}

func (c *Controller) kill(h *Handle) error {
	if err := unix.Kill(-h.PID, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("daemon: kill %d: %w", h.PID, err)
	}
	select {
	case <-h.exited:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("daemon: pid %d did not exit after SIGKILL", h.PID)
	}
}
