package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/sysmst/internal/daemon"
	"github.com/roach88/sysmst/internal/expect"
	"github.com/roach88/sysmst/internal/logcheck"
	"github.com/roach88/sysmst/internal/poll"
	"github.com/roach88/sysmst/internal/sctl"
)

// newPoller builds a poller over the configured sctl binary.
func newPoller(opts *RootOptions) *poll.Poller {
	client := sctl.NewClient(opts.Config.ControlBinary)
	if !client.IsAvailable() {
		opts.Logger.Warn("control binary not found, status queries will fail", "binary", client.Binary)
	}
	p := poll.New(client, opts.Logger)
	p.Attempts = opts.Config.PollAttempts
	p.Interval = opts.Config.PollInterval
	return p
}

// NewRunDaemonCommand creates the run-daemon command.
func NewRunDaemonCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		unitsDir     string
		grace        time.Duration
		readyPattern string
		controlAddr  string
	)

	cmd := &cobra.Command{
		Use:   "run-daemon",
		Short: "Install units, start sysmaster and confirm it is running",
		Long: `Copy the unit files into the daemon lib path, launch the daemon in the
background with its output in the log file, wait until it is ready and
confirm it in the process table. On success the log is cleared and the pid
is printed. On failure the daemon log is written to stderr and one failure
is counted.

Readiness is detected from --ready-pattern in the log, else by dialing
--control-addr, else by waiting --grace.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := rootOpts.Config
			if cmd.Flags().Changed("units-dir") {
				cfg.UnitsDir = unitsDir
			}
			if cmd.Flags().Changed("grace") {
				cfg.GracePeriod = grace
			}
			if cmd.Flags().Changed("ready-pattern") {
				cfg.ReadyPattern = readyPattern
			}
			if cmd.Flags().Changed("control-addr") {
				cfg.ControlAddr = controlAddr
			}

			run, st, err := openRun(rootOpts)
			if err != nil {
				return err
			}
			defer st.Close()

			ctrl := daemon.New(cfg, rootOpts.Logger)
			h, err := ctrl.Run(cmd.Context())
			if err != nil {
				var startErr *daemon.StartError
				if !errors.As(err, &startErr) {
					rootOpts.Logger.Error("daemon did not start", "error", err)
				}
				run.Fail(err.Error())
				return WrapExitError(ExitFailure, "run-daemon", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), h.PID)
			return nil
		},
	}

	cmd.Flags().StringVar(&unitsDir, "units-dir", "", "directory holding the unit files to install")
	cmd.Flags().DurationVar(&grace, "grace", 0, "fixed wait after launch when no readiness signal is set")
	cmd.Flags().StringVar(&readyPattern, "ready-pattern", "", "log pattern that signals readiness")
	cmd.Flags().StringVar(&controlAddr, "control-addr", "", "control socket to dial for readiness (unix:/path or tcp:host:port)")
	return cmd
}

// NewCheckLogCommand creates the check-log command.
func NewCheckLogCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check-log <file> <pattern>...",
		Short: "Require every pattern to match the log",
		Long: `Strip NUL bytes from the file and require every pattern to match at
least once. Patterns are regular expressions; ^ and $ anchor at line
boundaries. The first missing pattern is reported. Calling it without
patterns is a counted failure.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			run, st, err := openRun(rootOpts)
			if err != nil {
				return err
			}
			defer st.Close()
			return checkResult(logcheck.Verify(run, args[0], args[1:]...))
		},
	}
}

// NewCheckStatusCommand creates the check-status command.
func NewCheckStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return newStateCommand(rootOpts, "check-status", poll.LabelActive, (*poll.Poller).CheckStatus)
}

// NewCheckLoadCommand creates the check-load command.
func NewCheckLoadCommand(rootOpts *RootOptions) *cobra.Command {
	return newStateCommand(rootOpts, "check-load", poll.LabelLoaded, (*poll.Poller).CheckLoad)
}

type stateCheck func(p *poll.Poller, ctx context.Context, run *expect.Run, unit, expected string) bool

func newStateCommand(rootOpts *RootOptions, name, label string, check stateCheck) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <unit> <state>",
		Short: "Poll sctl status until the unit's " + label + " state matches",
		Long: fmt.Sprintf(`Run "sctl status <unit>" and compare the word after %q with state,
retrying with a pause in between. After the last attempt one failure is
counted and the last status output is logged.`, label),
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			run, st, err := openRun(rootOpts)
			if err != nil {
				return err
			}
			defer st.Close()
			return checkResult(check(newPoller(rootOpts), cmd.Context(), run, args[0], args[1]))
		},
	}
}

// NewGetPidsCommand creates the get-pids command.
func NewGetPidsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get-pids <unit>",
		Short: "Print the pids listed in the unit's PID: section",
		Long: `Run "sctl status <unit>" once and print the process ids of the PID:
section, one per line. Nothing is counted.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			pids, err := newPoller(rootOpts).GetPids(cmd.Context(), args[0])
			if err != nil {
				return WrapExitError(ExitFailure, "get-pids", err)
			}
			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			if rootOpts.Format == "json" {
				if pids == nil {
					pids = []int{}
				}
				return out.Success(pids)
			}
			for _, pid := range pids {
				fmt.Fprintln(cmd.OutOrStdout(), pid)
			}
			return nil
		},
	}
}
