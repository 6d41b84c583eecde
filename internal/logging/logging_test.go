package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelTags(t *testing.T) {
	tests := []struct {
		name string
		log  func(*slog.Logger)
		tag  string
		msg  string
	}{
		{"info", func(l *slog.Logger) { l.Info("daemon started") }, `INFO `, "daemon started"},
		{"warn", func(l *slog.Logger) { l.Warn("retrying") }, `WARN `, "retrying"},
		{"error", func(l *slog.Logger) { l.Error("gone") }, `ERROR`, "gone"},
		{"debug", func(l *slog.Logger) { l.Debug("probe") }, `DEBUG`, "probe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := New(&buf, Options{Level: slog.LevelDebug})
			tt.log(logger)
			assert.Regexp(t, `^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2} \[`+tt.tag+`\] `+tt.msg+`\n$`, buf.String())
		})
	}
}

func TestAttrsRendered(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, Options{}).With("component", "poll")
	logger.Info("state mismatch", "unit", "base.target", "attempt", 2, "got", "in active")

	out := buf.String()
	assert.Contains(t, out, "[INFO ] state mismatch component=poll unit=base.target attempt=2 got=\"in active\"")
	assert.True(t, strings.HasSuffix(out, "\n"))
	assert.Equal(t, 1, strings.Count(out, "\n"))
}

func TestGroups(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, Options{}).WithGroup("daemon")
	logger.Info("launched", "pid", 42)

	assert.Contains(t, buf.String(), "launched daemon.pid=42")
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, Options{Level: slog.LevelWarn})
	logger.Info("hidden")
	logger.Debug("hidden")
	logger.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestColor(t *testing.T) {
	t.Run("never colors a buffer by default", func(t *testing.T) {
		var buf bytes.Buffer
		New(&buf, Options{}).Error("boom")
		assert.NotContains(t, buf.String(), "\x1b[")
	})

	t.Run("always colors warn and error only", func(t *testing.T) {
		var buf bytes.Buffer
		logger := New(&buf, Options{Color: ColorAlways})
		logger.Info("plain")
		logger.Warn("careful")
		logger.Error("boom")

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Len(t, lines, 3)
		assert.NotContains(t, lines[0], "\x1b[")
		assert.Contains(t, lines[1], "\x1b[")
		assert.Contains(t, lines[2], "\x1b[")
	})

	t.Run("never", func(t *testing.T) {
		var buf bytes.Buffer
		New(&buf, Options{Color: ColorNever}).Warn("careful")
		assert.Contains(t, buf.String(), "[WARN ] careful")
	})
}

func TestHandle_UsesNowForZeroTime(t *testing.T) {
	var buf bytes.Buffer
	fixed := time.Date(2026, 10, 19, 8, 30, 0, 0, time.Local)
	h := NewHandler(&buf, Options{Now: func() time.Time { return fixed }})

	r := slog.NewRecord(time.Time{}, slog.LevelInfo, "tick", 0)
	require.NoError(t, h.Handle(context.Background(), r))
	assert.Equal(t, "2026-10-19 08:30:00 [INFO ] tick\n", buf.String())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestHandle_PropagatesWriteError(t *testing.T) {
	h := NewHandler(failingWriter{}, Options{})
	r := slog.NewRecord(time.Now(), slog.LevelInfo, "x", 0)
	assert.EqualError(t, h.Handle(context.Background(), r), "disk full")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("info"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestParseColor(t *testing.T) {
	for in, want := range map[string]ColorMode{"": ColorAuto, "auto": ColorAuto, "always": ColorAlways, "NEVER": ColorNever} {
		got, err := ParseColor(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseColor("rainbow")
	require.Error(t, err)
}
