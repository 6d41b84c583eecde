// Package sctl wraps the sysmaster control CLI.
package sctl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Action is a unit lifecycle command understood by sctl.
type Action string

const (
	ActionStatus  Action = "status"
	ActionStart   Action = "start"
	ActionStop    Action = "stop"
	ActionRestart Action = "restart"
	ActionReload  Action = "reload"
)

// ParseAction validates an action name.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionStatus, ActionStart, ActionStop, ActionRestart, ActionReload:
		return a, nil
	default:
		return "", fmt.Errorf("sctl: unknown action %q", s)
	}
}

// DefaultTimeout bounds a single sctl invocation.
const DefaultTimeout = 30 * time.Second

// Client runs sctl as a subprocess.
type Client struct {
	// Binary is the sctl executable (looked up in PATH when not absolute).
	Binary string

	// Timeout bounds each invocation. Zero means DefaultTimeout.
	Timeout time.Duration
}

// NewClient returns a client for the given binary.
func NewClient(binary string) *Client {
	return &Client{Binary: binary, Timeout: DefaultTimeout}
}

// CommandError is returned when sctl exits non-zero. Output holds the
// combined stdout and stderr.
type CommandError struct {
	Args   []string
	Output string
	Err    error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("sctl: %s: %s: %v", strings.Join(e.Args, " "), strings.TrimSpace(e.Output), e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// Status returns the output of `sctl status <unit>`. The output is returned
// even when sctl exits non-zero, since status of a failed or missing unit
// still prints the fields callers look for.
func (c *Client) Status(ctx context.Context, unit string) (string, error) {
	return c.Run(ctx, ActionStatus, unit)
}

// Start runs `sctl start <unit>`.
func (c *Client) Start(ctx context.Context, unit string) error {
	_, err := c.Run(ctx, ActionStart, unit)
	return err
}

// Stop runs `sctl stop <unit>`.
func (c *Client) Stop(ctx context.Context, unit string) error {
	_, err := c.Run(ctx, ActionStop, unit)
	return err
}

// Restart runs `sctl restart <unit>`.
func (c *Client) Restart(ctx context.Context, unit string) error {
	_, err := c.Run(ctx, ActionRestart, unit)
	return err
}

// Reload runs `sctl reload <unit>`.
func (c *Client) Reload(ctx context.Context, unit string) error {
	_, err := c.Run(ctx, ActionReload, unit)
	return err
}

// Run executes `sctl <action> <unit>` and returns the combined output.
func (c *Client) Run(ctx context.Context, action Action, unit string) (string, error) {
	if unit == "" {
		return "", errors.New("sctl: unit name is required")
	}

	timeout := c.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{string(action), unit}
	cmd := exec.CommandContext(ctx, c.Binary, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		return out.String(), &CommandError{Args: args, Output: out.String(), Err: err}
	}
	return out.String(), nil
}

// IsAvailable reports whether the sctl binary can be found.
func (c *Client) IsAvailable() bool {
	_, err := exec.LookPath(c.Binary)
	return err == nil
}
