package logcheck

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sysmst/internal/expect"
)

func writeLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sysmaster.log")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCheck_AllPatternsWithNullBytes(t *testing.T) {
	path := writeLog(t, "\x00\x00ready\n\x00listening\x00\nother\n\x00\x00\x00")

	err := Check(path, "^ready$", "^listening$")
	assert.NoError(t, err)
}

func TestCheck_NullBytesSplitAWord(t *testing.T) {
	path := writeLog(t, "rea\x00\x00dy\n")
	assert.NoError(t, Check(path, "^ready$"))
}

func TestCheck_MissingPattern(t *testing.T) {
	path := writeLog(t, "ready\nshutting down\n")

	err := Check(path, "^ready$", "^listening$")
	require.Error(t, err)

	var missing *MissingPatternError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "^listening$", missing.Pattern)
	assert.Equal(t, path, missing.Path)
	assert.Contains(t, err.Error(), "^listening$")
	assert.Contains(t, err.Error(), path)
}

func TestCheck_FirstMissingPatternWins(t *testing.T) {
	path := writeLog(t, "ready\n")

	err := Check(path, "^a$", "^ready$", "^b$")
	var missing *MissingPatternError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "^a$", missing.Pattern)
}

func TestCheck_NoPatternsDoesNotOpenFile(t *testing.T) {
	// The path does not exist; a read attempt would produce a different error.
	err := Check(filepath.Join(t.TempDir(), "absent.log"))
	assert.ErrorIs(t, err, ErrNoPatterns)
}

func TestCheck_UnreadableFile(t *testing.T) {
	err := Check(filepath.Join(t.TempDir(), "absent.log"), "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCheck_InvalidPattern(t *testing.T) {
	path := writeLog(t, "ready\n")

	err := Check(path, "ready", "(unclosed")
	var perr *PatternError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "(unclosed", perr.Pattern)
}

func TestCheck_CaseSensitive(t *testing.T) {
	path := writeLog(t, "Ready\n")
	assert.Error(t, Check(path, "^ready$"))
	assert.NoError(t, Check(path, "^Ready$"))
}

func TestCheck_ExtendedRegex(t *testing.T) {
	path := writeLog(t, "unit base.target changed: inactive -> active\n")

	assert.NoError(t, Check(path, `base\.target changed: (inactive|failed) -> active`))
	assert.NoError(t, Check(path, `changed: [a-z]+ -> [a-z]+$`))
}

func TestStripNull(t *testing.T) {
	assert.Equal(t, []byte("ab"), StripNull([]byte("\x00a\x00\x00b\x00")))
	assert.Empty(t, StripNull([]byte{0, 0, 0}))
}

func TestVerify(t *testing.T) {
	path := writeLog(t, "ready\n")
	run := expect.NewRun(nil)

	assert.True(t, Verify(run, path, "^ready$"))
	assert.Equal(t, 0, run.Failures())

	_, _, line, _ := runtime.Caller(0)
	assert.False(t, Verify(run, path, "^listening$"))
	assert.False(t, Verify(run, path))
	assert.False(t, Verify(run, filepath.Join(t.TempDir(), "absent"), "x"))

	// one failure per failed check, hard or soft
	assert.Equal(t, 3, run.Failures())
	recs := run.Records()
	assert.Equal(t, line+1, recs[0].At.Line)
	assert.Contains(t, recs[0].Message, "^listening$")
	assert.Contains(t, recs[1].Message, "no patterns")
}

func TestWaitFor_AlreadyPresent(t *testing.T) {
	path := writeLog(t, "ready\n")
	err := WaitFor(context.Background(), path, time.Second, "^ready$")
	assert.NoError(t, err)
}

func TestWaitFor_AppearsLater(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sysmaster.log")

	go func() {
		time.Sleep(50 * time.Millisecond)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return
		}
		defer f.Close()
		f.WriteString("booting\n")
		time.Sleep(20 * time.Millisecond)
		f.WriteString("\x00\x00ready\n")
	}()

	err := WaitFor(context.Background(), path, 5*time.Second, "^booting$", "^ready$")
	assert.NoError(t, err)
}

func TestWaitFor_Timeout(t *testing.T) {
	path := writeLog(t, "booting\n")

	start := time.Now()
	err := WaitFor(context.Background(), path, 100*time.Millisecond, "^ready$")
	require.Error(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)

	var missing *MissingPatternError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "^ready$", missing.Pattern)
}

func TestWaitFor_ContextCancelled(t *testing.T) {
	path := writeLog(t, "booting\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WaitFor(ctx, path, time.Minute, "^ready$")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWaitFor_NoPatterns(t *testing.T) {
	err := WaitFor(context.Background(), "/nonexistent/log", time.Second)
	assert.ErrorIs(t, err, ErrNoPatterns)
}
