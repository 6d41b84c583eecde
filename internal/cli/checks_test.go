package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sysmst/internal/testutil"
)

// fakeSctlScript answers "status <unit>" for a small set of units and
// accepts every other action.
const fakeSctlScript = `if [ "$1" != status ]; then exit 0; fi
case "$2" in
  base.target)
    printf 'base.target - Basic System\n   Loaded: loaded\n   Active: active (running)\n' ;;
  foo.service)
    printf 'foo.service\n   Loaded: loaded\n   Active: active (running)\n   PID: 100 foo\n        101 foo-worker\n' ;;
  *)
    printf '%s\n   Loaded: not-found\n' "$2"; exit 1 ;;
esac`

func (e *cliEnv) withFakeSctl() {
	e.t.Helper()
	e.t.Setenv("SYSMST_SCTL", testutil.WriteScript(e.t, e.dir, "sctl", fakeSctlScript))
}

func TestCheckStatus(t *testing.T) {
	env := newCLIEnv(t)
	env.withFakeSctl()

	_, _, err := env.exec("check-status", "base.target", "active")
	require.NoError(t, err)

	_, stderr, err := env.exec("check-status", "base.target", "inactive")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stderr, "Active: active (running)", "last status output is logged")

	_, _, err = env.exec("summary")
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestCheckLoad_FromFailedQuery(t *testing.T) {
	env := newCLIEnv(t)
	env.withFakeSctl()

	_, _, err := env.exec("check-load", "missing.service", "not-found")
	require.NoError(t, err)

	_, _, err = env.exec("check-load", "base.target", "loaded")
	require.NoError(t, err)
}

func TestCheckStatus_RequiresTwoArgs(t *testing.T) {
	env := newCLIEnv(t)
	env.withFakeSctl()

	_, _, err := env.exec("check-status", "base.target")
	require.Error(t, err)

	_, _, err = env.exec("summary")
	assert.NoError(t, err)
}

func TestGetPids(t *testing.T) {
	env := newCLIEnv(t)
	env.withFakeSctl()

	out, _, err := env.exec("get-pids", "foo.service")
	require.NoError(t, err)
	assert.Equal(t, "100\n101\n", out)

	out, _, err = env.exec("get-pids", "base.target")
	require.NoError(t, err)
	assert.Empty(t, out)

	_, _, err = env.exec("summary")
	assert.NoError(t, err, "get-pids never counts")
}

func TestGetPids_JSON(t *testing.T) {
	env := newCLIEnv(t)
	env.withFakeSctl()

	out, _, err := env.exec("--format", "json", "get-pids", "base.target")
	require.NoError(t, err)

	var resp struct {
		Status string `json:"status"`
		Data   []int  `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
	assert.Empty(t, resp.Data)
}

func TestCheckLog(t *testing.T) {
	env := newCLIEnv(t)
	log := testutil.WriteFile(t, env.dir, "sysmaster.log", "\x00\x00ready\nstarted base.target\n")

	_, _, err := env.exec("check-log", log, "^ready$", `base\.target`)
	require.NoError(t, err)

	_, stderr, err := env.exec("check-log", log, "^ready$", "shutdown")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stderr, "shutdown")

	_, _, err = env.exec("check-log", log)
	assert.Equal(t, ExitFailure, GetExitCode(err), "no patterns is a counted failure")

	out, _, err := env.exec("summary")
	require.Error(t, err)
	assert.Contains(t, out, "2 failure(s)")
}

func TestRunDaemon_MissingBinaryIsCounted(t *testing.T) {
	env := newCLIEnv(t)
	t.Setenv("SYSMST_DAEMON_BINARY", env.dir+"/no-such-sysmaster")
	t.Setenv("SYSMST_LOG", env.dir+"/sysmaster.log")
	t.Setenv("SYSMST_LIB_PATH", env.dir)
	units := env.dir + "/units"
	testutil.WriteFile(t, units, "base.target", "[Unit]\n")

	_, stderr, err := env.exec("run-daemon", "--grace", "10ms", "--units-dir", units)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stderr, "daemon did not start")
	assert.Contains(t, stderr, "no-such-sysmaster")

	out, _, _ := env.exec("summary")
	assert.Contains(t, out, "1 failure(s)")
}

func TestRunDaemon_WithoutUnitsDirIsCounted(t *testing.T) {
	env := newCLIEnv(t)
	t.Setenv("SYSMST_LIB_PATH", env.dir)
	t.Setenv("SYSMST_LOG", env.dir+"/sysmaster.log")

	_, stderr, err := env.exec("run-daemon", "--grace", "10ms")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stderr, "units dir is not set")

	out, _, _ := env.exec("summary")
	assert.Contains(t, out, "1 failure(s)")
}
