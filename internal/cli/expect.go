package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/roach88/sysmst/internal/expect"
	"github.com/roach88/sysmst/internal/store"
)

// errCheckFailed is the ExitFailure cause for a check that did not hold.
// The diagnostic itself has already been logged.
var errCheckFailed = errors.New("check failed")

// openRun opens the journal and returns a run that persists its failures
// under the current run id, located at the script caller when one is given.
// The caller closes the store.
func openRun(opts *RootOptions) (*expect.Run, *store.Store, error) {
	st, err := store.Open(opts.Config.JournalPath)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	runOpts := []expect.Option{expect.WithID(opts.RunID), expect.WithJournal(st)}
	if opts.CallSite != nil {
		runOpts = append(runOpts, expect.WithCaller(*opts.CallSite))
	}
	return expect.NewRun(opts.Logger, runOpts...), st, nil
}

// checkResult maps a check outcome to the CLI exit convention.
func checkResult(ok bool) error {
	if ok {
		return nil
	}
	return WrapExitError(ExitFailure, "sysmst", errCheckFailed)
}

// NewBeginCommand creates the begin command.
func NewBeginCommand(rootOpts *RootOptions) *cobra.Command {
	var fresh bool

	cmd := &cobra.Command{
		Use:   "begin",
		Short: "Start a test run with a zero failure counter",
		Long: `Start a test run. Failures previously journaled under the run id are
cleared. The run id is printed so a script can export it:

  export SYSMST_RUN_ID=$(sysmst begin --new)`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if fresh && !cmd.Flags().Changed("run-id") {
				rootOpts.RunID = uuid.NewString()
			}
			st, err := store.Open(rootOpts.Config.JournalPath)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open journal", err)
			}
			defer st.Close()

			if err := st.BeginRun(cmd.Context(), rootOpts.RunID); err != nil {
				return WrapExitError(ExitCommandError, "failed to begin run", err)
			}
			rootOpts.Logger.Debug("run started", "run", rootOpts.RunID, "journal", rootOpts.Config.JournalPath)
			fmt.Fprintln(cmd.OutOrStdout(), rootOpts.RunID)
			return nil
		},
	}
	cmd.Flags().BoolVar(&fresh, "new", false, "generate a new random run id")
	return cmd
}

// NewExpectCommand creates the expect command.
func NewExpectCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "expect <eq|ne|gt|ge|lt|le|str_eq> <actual> <expected> [message...]",
		Short: "Compare two values, counting a failure if the relation does not hold",
		Long: `Compare actual with expected.

Numeric operators need integer operands. str_eq compares exactly, with no
numeric coercion. Both operands are required: a missing or malformed
operand is a usage error (exit 2) and is not counted.

Examples:
  sysmst expect eq "$(pidof sysmaster | wc -w)" 1 "one sysmaster"
  sysmst expect str_eq "$state" active`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExpect(rootOpts, args)
		},
	}
}

func runExpect(opts *RootOptions, args []string) error {
	if len(args) == 0 {
		return NewExitError(ExitCommandError, "missing operator")
	}
	op, err := expect.ParseOp(args[0])
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid operator", err)
	}
	if len(args) < 3 {
		return WrapExitError(ExitCommandError, fmt.Sprintf("%s needs actual and expected", op), expect.ErrMissingOperand)
	}
	msg := strings.Join(args[3:], " ")

	var actual, expected int64
	if op != expect.OpStringEqual {
		if actual, err = expect.ParseOperand(args[1]); err != nil {
			return WrapExitError(ExitCommandError, "actual", err)
		}
		if expected, err = expect.ParseOperand(args[2]); err != nil {
			return WrapExitError(ExitCommandError, "expected", err)
		}
	}

	run, st, err := openRun(opts)
	if err != nil {
		return err
	}
	defer st.Close()

	if op == expect.OpStringEqual {
		return checkResult(run.StringEqual(args[1], args[2], msg))
	}
	return checkResult(run.Compare(op, actual, expected, msg))
}

// NewFailCommand creates the fail command.
func NewFailCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "fail <message...>",
		Short: "Count an unconditional failure",
		Long: `Count a failure without a comparison, e.g. when a command the test
depends on exited non-zero:

  sctl start foo.service || sysmst fail "sctl start foo.service"`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			run, st, err := openRun(rootOpts)
			if err != nil {
				return err
			}
			defer st.Close()
			return checkResult(run.Fail(strings.Join(args, " ")))
		},
	}
}

// SummaryResult is the JSON payload of the summary command.
type SummaryResult struct {
	RunID    string           `json:"run_id"`
	Failures int              `json:"failures"`
	Records  []SummaryFailure `json:"records"`
}

// SummaryFailure is one journaled failure.
type SummaryFailure struct {
	Seq      int64  `json:"seq"`
	Op       string `json:"op"`
	Actual   string `json:"actual,omitempty"`
	Expected string `json:"expected,omitempty"`
	Message  string `json:"message,omitempty"`
	At       string `json:"at,omitempty"`
}

// NewSummaryCommand creates the summary command.
func NewSummaryCommand(rootOpts *RootOptions) *cobra.Command {
	var count bool

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Report the failure counter of the run",
		Long: `Print every failure journaled for the run and exit 1 if there was any.

This is the pass/fail verdict a test driver reads at the end of a run.
With --count only the counter is printed:

  failures=$(sysmst summary --count)`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSummary(cmd.Context(), rootOpts, cmd, count)
		},
	}
	cmd.Flags().BoolVar(&count, "count", false, "print only the failure counter")
	return cmd
}

func runSummary(ctx context.Context, opts *RootOptions, cmd *cobra.Command, countOnly bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	st, err := store.Open(opts.Config.JournalPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer st.Close()

	begun, err := st.HasRun(ctx, opts.RunID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	}
	if !begun {
		opts.Logger.Warn("run was never started with sysmst begin", "run", opts.RunID)
	}

	if countOnly {
		n, err := st.CountFailures(ctx, opts.RunID)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read journal", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), n)
		if n > 0 {
			return NewExitError(ExitFailure, fmt.Sprintf("%d failure(s)", n))
		}
		return nil
	}

	failures, err := st.ListFailures(ctx, opts.RunID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	}

	result := SummaryResult{RunID: opts.RunID, Failures: len(failures), Records: make([]SummaryFailure, 0, len(failures))}
	for _, f := range failures {
		at := ""
		if f.File != "" {
			at = fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
		}
		result.Records = append(result.Records, SummaryFailure{
			Seq: f.Seq, Op: f.Op, Actual: f.Actual, Expected: f.Expected, Message: f.Message, At: at,
		})
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if opts.Format == "json" {
		if err := out.Success(result); err != nil {
			return err
		}
	} else {
		w := cmd.OutOrStdout()
		for _, r := range result.Records {
			fmt.Fprintf(w, "  #%d %s", r.Seq, r.Op)
			if r.Actual != "" || r.Expected != "" {
				fmt.Fprintf(w, " actual=%s expected=%s", r.Actual, r.Expected)
			}
			if r.Message != "" {
				fmt.Fprintf(w, " %s", r.Message)
			}
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "Run %s: %d failure(s)\n", result.RunID, result.Failures)
	}

	if result.Failures > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d failure(s)", result.Failures))
	}
	return nil
}
