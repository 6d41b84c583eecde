package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/sysmst/internal/config"
	"github.com/roach88/sysmst/internal/expect"
	"github.com/roach88/sysmst/internal/logging"
)

// DefaultRunID is used when neither --run-id nor SYSMST_RUN_ID is set.
const DefaultRunID = "default"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format      string // "json" | "text"
	ConfigPath  string
	LogLevel    string
	Color       string
	RunID       string
	JournalPath string
	Caller      string

	// CallSite is parsed from Caller; nil reports the Go call site.
	CallSite *expect.CallSite

	// Resolved in PersistentPreRunE.
	Config config.Config
	Logger *slog.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// Build-time version information, set through SetVersionInfo.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// SetVersionInfo records the build metadata shown by --version.
func SetVersionInfo(v, c, d string) {
	version, commit, date = v, c, d
}

// NewRootCommand creates the root command for the sysmst CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sysmst",
		Short: "sysmst - sysmaster integration test support",
		Long: `Drive and verify the sysmaster daemon from shell integration tests.

Every failed check increments the failure counter of the current run,
kept in a SQLite journal so that separate invocations share it. Start a
run with "sysmst begin", make checks, and finish with "sysmst summary".

Failures are reported at --caller / $SYSMST_CALLER when set, e.g.

  sysmst_expect() { SYSMST_CALLER="${BASH_SOURCE[1]}:${BASH_LINENO[0]}" sysmst expect "$@"; }

Exit codes:
  0 - Check passed
  1 - Check failed (counted)
  2 - Usage or command error (not counted)`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return opts.resolve(cmd)
		},
	}

	// Global flags
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", os.Getenv("SYSMST_CONFIG"), "path to YAML config file")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.Color, "color", "", "color level tags (auto|always|never)")
	cmd.PersistentFlags().StringVar(&opts.RunID, "run-id", "", "test run id (default $SYSMST_RUN_ID)")
	cmd.PersistentFlags().StringVar(&opts.JournalPath, "journal", "", "failure journal database")
	cmd.PersistentFlags().StringVar(&opts.Caller, "caller", "", `script location reported for failures, file:line (default $SYSMST_CALLER)`)

	// Add subcommands
	cmd.AddCommand(NewBeginCommand(opts))
	cmd.AddCommand(NewExpectCommand(opts))
	cmd.AddCommand(NewFailCommand(opts))
	cmd.AddCommand(NewSummaryCommand(opts))
	cmd.AddCommand(NewRunDaemonCommand(opts))
	cmd.AddCommand(NewCheckLogCommand(opts))
	cmd.AddCommand(NewCheckStatusCommand(opts))
	cmd.AddCommand(NewCheckLoadCommand(opts))
	cmd.AddCommand(NewGetPidsCommand(opts))
	cmd.AddCommand(NewScenarioCommand(opts))
	cmd.AddCommand(NewPathsCommand(opts))

	return cmd
}

// Execute runs the CLI with os.Args and reports a returned error on stderr,
// or as a JSON error document on stdout when --format json is set. Failed
// checks have already been logged and are not repeated. Errors that carry no
// exit code are usage errors.
func Execute() error {
	opts := &RootOptions{}
	cmd := newRootCommand(opts)
	err := cmd.Execute()
	if err == nil || errors.Is(err, errCheckFailed) {
		return err
	}
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		// argument and flag errors from cobra
		err = WrapExitError(ExitCommandError, "usage", err)
	}

	if opts.Format == "json" {
		out := &OutputFormatter{Format: "json", Writer: cmd.OutOrStdout()}
		_ = out.Error(ErrorCode(GetExitCode(err)), err.Error())
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "sysmst: %v\n", err)
	return err
}

// resolve layers defaults, the config file, SYSMST_* variables and flags,
// then builds the logger on stderr.
func (o *RootOptions) resolve(cmd *cobra.Command) error {
	cfg := config.Default()
	if o.ConfigPath != "" {
		loaded, err := config.Load(o.ConfigPath)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load config", err)
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(); err != nil {
		return WrapExitError(ExitCommandError, "invalid environment", err)
	}

	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
	if o.Color != "" {
		cfg.Color = o.Color
	}
	if o.JournalPath != "" {
		cfg.JournalPath = o.JournalPath
	}
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid config", err)
	}

	color, err := logging.ParseColor(cfg.Color)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid color", err)
	}

	if o.Caller == "" {
		o.Caller = os.Getenv("SYSMST_CALLER")
	}
	if o.Caller != "" {
		cs, err := expect.ParseCallSite(o.Caller)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid caller", err)
		}
		o.CallSite = &cs
	}

	if o.RunID == "" {
		o.RunID = os.Getenv("SYSMST_RUN_ID")
	}
	if o.RunID == "" {
		o.RunID = DefaultRunID
	}

	o.Config = cfg
	o.Logger = logging.New(cmd.ErrOrStderr(), logging.Options{
		Level: logging.ParseLevel(cfg.LogLevel),
		Color: color,
	})
	return nil
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
