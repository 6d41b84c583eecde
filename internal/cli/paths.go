package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// PathsResult is the JSON payload of the paths command.
type PathsResult struct {
	LibPath          string `json:"lib_path"`
	EtcPath          string `json:"etc_path"`
	LogPath          string `json:"log_path"`
	ReliabSwitchPath string `json:"reliab_switch_path"`
	ReliabSwitchFile string `json:"reliab_switch_file"`
	JournalPath      string `json:"journal_path"`
}

// NewPathsCommand creates the paths command.
func NewPathsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Print the resolved filesystem paths as shell assignments",
		Long: `Print the daemon paths after config file and environment overrides,
one VAR='value' line each, for use from shell tests:

  eval "$(sysmst paths)"
  touch "$SYSMST_RELIAB_SWITCH_FILE"`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := rootOpts.Config
			res := PathsResult{
				LibPath:          cfg.LibPath,
				EtcPath:          cfg.EtcPath,
				LogPath:          cfg.LogPath,
				ReliabSwitchPath: cfg.ReliabSwitchPath,
				ReliabSwitchFile: cfg.ReliabSwitchFile(),
				JournalPath:      cfg.JournalPath,
			}
			if rootOpts.Format == "json" {
				out := &OutputFormatter{Format: "json", Writer: cmd.OutOrStdout()}
				return out.Success(res)
			}

			w := cmd.OutOrStdout()
			for _, kv := range [][2]string{
				{"SYSMST_LIB_PATH", res.LibPath},
				{"SYSMST_ETC_PATH", res.EtcPath},
				{"SYSMST_LOG", res.LogPath},
				{"SYSMST_RELIAB_SWITCH_PATH", res.ReliabSwitchPath},
				{"SYSMST_RELIAB_SWITCH_FILE", res.ReliabSwitchFile},
				{"SYSMST_JOURNAL", res.JournalPath},
			} {
				fmt.Fprintf(w, "%s=%s\n", kv[0], shellQuote(kv[1]))
			}
			return nil
		},
	}
}

// shellQuote wraps s in single quotes for POSIX sh.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
