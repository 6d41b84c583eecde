package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/sysmst/internal/daemon"
	"github.com/roach88/sysmst/internal/expect"
	"github.com/roach88/sysmst/internal/logging"
	"github.com/roach88/sysmst/internal/poll"
	"github.com/roach88/sysmst/internal/sctl"
)

// DaemonRunner starts and stops the daemon under test.
// *daemon.Controller implements it.
type DaemonRunner interface {
	Run(ctx context.Context) (*daemon.Handle, error)
	Stop(h *daemon.Handle, timeout time.Duration) error
}

// Control runs sctl actions. *sctl.Client implements it.
type Control interface {
	Run(ctx context.Context, action sctl.Action, unit string) (string, error)
}

// Deps are the collaborators a scenario runs against.
type Deps struct {
	// Daemon is required when the scenario sets daemon: true.
	Daemon DaemonRunner

	// Control runs setup actions. Required when the scenario has setup steps.
	Control Control

	// Poller answers unit_status, unit_load and pid_count assertions.
	Poller *poll.Poller

	// Run receives every failure. A fresh run is created when nil.
	Run *expect.Run

	// LogPath is the default file for log_contains assertions.
	LogPath string

	// StopTimeout bounds daemon shutdown at the end of the scenario.
	StopTimeout time.Duration

	Logger *slog.Logger
}

// Harness executes one scenario.
type Harness struct {
	deps    Deps
	run     *expect.Run
	poller  *poll.Poller
	logPath string
	logger  *slog.Logger
}

// ErrMissingDep is returned when a scenario needs a collaborator that Deps
// does not provide.
var ErrMissingDep = errors.New("harness: missing dependency")

// Run executes a scenario and returns the result.
//
// Execution flow:
// 1. Start the daemon when the scenario asks for it (a start failure ends the run)
// 2. Execute setup actions in order
// 3. Evaluate every assertion; failures are recorded, never fatal
// 4. Stop the daemon if this run started it
//
// The returned error is reserved for scenarios that cannot run at all.
func Run(ctx context.Context, scenario *Scenario, deps Deps) (*Result, error) {
	h, err := newHarness(scenario, deps)
	if err != nil {
		return nil, err
	}

	result := NewResult()
	start := h.run.Failures()

	if scenario.Daemon {
		handle, err := deps.Daemon.Run(ctx)
		result.AddTrace(KindDaemon, "start", "", err == nil)
		if err != nil {
			h.run.Fail(err.Error())
			h.collect(result, start, func(f expect.Failure) string { return "daemon: " + f.Message })
			result.Failures = h.run.Failures() - start
			return result, nil
		}
		defer func() {
			if err := deps.Daemon.Stop(handle, deps.StopTimeout); err != nil {
				h.logger.Warn("daemon stop failed", "error", err)
			}
		}()
	}

	h.executeSetup(ctx, scenario.Setup, result)

	for i, a := range scenario.Assertions {
		before := h.run.Failures()
		ok := h.evaluateAssertion(ctx, a)
		result.AddTrace(KindAssert, a.Type, a.Unit, ok)
		h.collect(result, before, func(f expect.Failure) string {
			return newAssertionError(i, a, f).Error()
		})
		h.logger.Debug("assertion evaluated", "index", i, "type", a.Type, "ok", ok)
	}

	result.Failures = h.run.Failures() - start
	return result, nil
}

func newHarness(scenario *Scenario, deps Deps) (*Harness, error) {
	if scenario == nil {
		return nil, errors.New("harness: nil scenario")
	}
	if scenario.Daemon && deps.Daemon == nil {
		return nil, fmt.Errorf("%w: scenario %s starts the daemon", ErrMissingDep, scenario.Name)
	}
	if len(scenario.Setup) > 0 && deps.Control == nil {
		return nil, fmt.Errorf("%w: scenario %s has setup actions", ErrMissingDep, scenario.Name)
	}
	for _, a := range scenario.Assertions {
		switch a.Type {
		case AssertUnitStatus, AssertUnitLoad, AssertPIDCount:
			if deps.Poller == nil {
				return nil, fmt.Errorf("%w: %s needs a poller", ErrMissingDep, a.Type)
			}
		}
	}

	logger := deps.Logger
	if logger == nil {
		// Suppress logs unless the caller asks for them
		logger = logging.Discard()
	}
	run := deps.Run
	if run == nil {
		run = expect.NewRun(logger)
	}
	return &Harness{
		deps:    deps,
		run:     run,
		poller:  deps.Poller,
		logPath: deps.LogPath,
		logger:  logger,
	}, nil
}

// executeSetup runs all setup steps. A failing step is recorded and the
// remaining steps still run.
func (h *Harness) executeSetup(ctx context.Context, setup []ActionStep, result *Result) {
	for i, step := range setup {
		before := h.run.Failures()
		action, err := sctl.ParseAction(step.Action)
		if err == nil {
			_, err = h.deps.Control.Run(ctx, action, step.Unit)
		}
		if err != nil {
			h.run.Fail(fmt.Sprintf("%s %s: %v", step.Action, step.Unit, err))
		}
		result.AddTrace(KindSetup, step.Action, step.Unit, err == nil)
		h.collect(result, before, func(f expect.Failure) string {
			return fmt.Sprintf("setup[%d]: %s", i, f.Message)
		})

		h.logger.Info("setup step completed",
			"step", i,
			"action", step.Action,
			"unit", step.Unit,
			"ok", err == nil,
		)
	}
}

// collect turns failures recorded since before into result errors.
func (h *Harness) collect(result *Result, before int, format func(expect.Failure) string) {
	recs := h.run.Records()
	for _, f := range recs[min(before, len(recs)):] {
		result.AddError(format(f))
	}
}
