package cli

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cliEnv isolates a CLI invocation from the caller's environment and
// points it at a private journal.
type cliEnv struct {
	t       *testing.T
	dir     string
	journal string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	for _, key := range []string{
		"SYSMST_CONFIG", "SYSMST_RUN_ID", "SYSMST_SCTL", "SYSMST_LOG", "SYSMST_JOURNAL",
		"SYSMST_LOG_LEVEL", "SYSMST_LIB_PATH", "SYSMST_ETC_PATH", "SYSMST_DAEMON_BINARY",
		"SYSMST_DAEMON_NAME", "SYSMST_UNITS_DIR", "SYSMST_CONTROL_ADDR", "SYSMST_READY_PATTERN",
		"SYSMST_GRACE_PERIOD", "SYSMST_READY_TIMEOUT", "SYSMST_POLL_ATTEMPTS", "SYSMST_CALLER",
	} {
		t.Setenv(key, "")
	}
	t.Setenv("SYSMST_COLOR", "never")
	t.Setenv("SYSMST_POLL_INTERVAL", "1ms")
	return &cliEnv{t: t, dir: dir, journal: filepath.Join(dir, "journal.db")}
}

// exec runs the root command with args and returns stdout, stderr and the
// returned error.
func (e *cliEnv) exec(args ...string) (string, string, error) {
	e.t.Helper()
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(append([]string{"--journal", e.journal}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "sysmst", cmd.Use)
	assert.Contains(t, cmd.Long, "failure counter")
	assert.Contains(t, cmd.Version, "dev")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{
		"begin", "expect", "fail", "summary",
		"run-daemon", "check-log", "check-status", "check-load", "get-pids",
		"scenario", "paths",
	}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	for _, name := range []string{"config", "log-level", "color", "run-id", "journal", "caller"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
}

func TestRunDaemonCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	runCmd, _, err := cmd.Find([]string{"run-daemon"})
	require.NoError(t, err)

	for _, name := range []string{"units-dir", "grace", "ready-pattern", "control-addr"} {
		assert.NotNil(t, runCmd.Flags().Lookup(name), name)
	}
}

func TestScenarioCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	scenarioCmd, _, err := cmd.Find([]string{"scenario"})
	require.NoError(t, err)

	update := scenarioCmd.Flags().Lookup("update")
	require.NotNil(t, update)
	assert.Equal(t, "false", update.DefValue)
	assert.NotNil(t, scenarioCmd.Flags().Lookup("filter"))
}

func TestInvalidFormat(t *testing.T) {
	env := newCLIEnv(t)
	_, _, err := env.exec("--format", "yaml", "summary")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid format")
}

func TestInvalidConfigFile(t *testing.T) {
	env := newCLIEnv(t)
	_, _, err := env.exec("--config", filepath.Join(env.dir, "absent.yaml"), "summary")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRunIDResolution(t *testing.T) {
	env := newCLIEnv(t)

	out, _, err := env.exec("begin")
	require.NoError(t, err)
	assert.Equal(t, DefaultRunID+"\n", out)

	t.Setenv("SYSMST_RUN_ID", "from-env")
	out, _, err = env.exec("begin")
	require.NoError(t, err)
	assert.Equal(t, "from-env\n", out)

	out, _, err = env.exec("--run-id", "from-flag", "begin")
	require.NoError(t, err)
	assert.Equal(t, "from-flag\n", out)
}
