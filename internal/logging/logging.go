// Package logging renders harness log lines for humans reading test output.
//
// Each record becomes one line:
//
//	2026-10-19 14:03:27 [WARN ] unit not active yet unit=base.target attempt=2
//
// The level tag is fixed-width. WARN and ERROR tags are colored when the
// destination is a terminal (or when color is forced). Records are flushed
// before Handle returns so that output is visible ahead of any process-table
// or file check that follows it.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

// TimeFormat is the timestamp layout prefixed to every line.
const TimeFormat = "2006-01-02 15:04:05"

// ColorMode selects when level tags are colored.
type ColorMode int

const (
	ColorAuto ColorMode = iota
	ColorAlways
	ColorNever
)

// ParseColor parses auto, always or never.
func ParseColor(s string) (ColorMode, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return ColorAuto, nil
	case "always":
		return ColorAlways, nil
	case "never":
		return ColorNever, nil
	default:
		return ColorAuto, fmt.Errorf("logging: invalid color mode %q: must be auto, always or never", s)
	}
}

// ParseLevel maps debug, info, warn and error to slog levels. Unknown values
// yield info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Options configures New.
type Options struct {
	Level slog.Leveler
	Color ColorMode

	// Now overrides the clock; used by tests.
	Now func() time.Time
}

// New returns a logger writing harness lines to w.
func New(w io.Writer, opts Options) *slog.Logger {
	return slog.New(NewHandler(w, opts))
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// syncer is implemented by *os.File.
type syncer interface {
	Sync() error
}

// Handler is a slog.Handler producing timestamped, level-tagged lines.
type Handler struct {
	mu    *sync.Mutex
	w     io.Writer
	level slog.Leveler
	now   func() time.Time

	warnStyle  lipgloss.Style
	errorStyle lipgloss.Style
	colored    bool

	attrs  []slog.Attr
	groups []string
}

// NewHandler builds a Handler. A nil Level means info.
func NewHandler(w io.Writer, opts Options) *Handler {
	level := opts.Level
	if level == nil {
		level = slog.LevelInfo
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	colored := useColor(w, opts.Color)
	renderer := lipgloss.NewRenderer(w)
	if colored {
		renderer.SetColorProfile(termenv.ANSI)
	} else {
		renderer.SetColorProfile(termenv.Ascii)
	}

	return &Handler{
		mu:         &sync.Mutex{},
		w:          w,
		level:      level,
		now:        now,
		warnStyle:  renderer.NewStyle().Foreground(lipgloss.Color("3")),
		errorStyle: renderer.NewStyle().Foreground(lipgloss.Color("1")),
		colored:    colored,
	}
}

func useColor(w io.Writer, mode ColorMode) bool {
	switch mode {
	case ColorAlways:
		return true
	case ColorNever:
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Enabled implements slog.Handler.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle implements slog.Handler.
func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	var buf strings.Builder

	ts := r.Time
	if ts.IsZero() {
		ts = h.now()
	}
	buf.WriteString(ts.Local().Format(TimeFormat))
	buf.WriteString(" [")
	buf.WriteString(h.tag(r.Level))
	buf.WriteString("] ")
	buf.WriteString(r.Message)

	prefix := strings.Join(h.groups, ".")
	for _, a := range h.attrs {
		writeAttr(&buf, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&buf, prefix, a)
		return true
	})
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, err := io.WriteString(h.w, buf.String()); err != nil {
		return err
	}
	if s, ok := h.w.(syncer); ok {
		// Sync on a terminal or pipe returns EINVAL; nothing to flush there.
		_ = s.Sync()
	}
	return nil
}

// tag renders the fixed-width level tag.
func (h *Handler) tag(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return h.errorStyle.Render("ERROR")
	case level >= slog.LevelWarn:
		return h.warnStyle.Render("WARN ")
	case level >= slog.LevelInfo:
		return "INFO "
	default:
		return "DEBUG"
	}
}

func writeAttr(buf *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if prefix != "" {
		key = prefix + "." + key
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			writeAttr(buf, key, ga)
		}
		return
	}
	buf.WriteByte(' ')
	buf.WriteString(key)
	buf.WriteByte('=')
	buf.WriteString(quoteIfNeeded(a.Value.String()))
}

func quoteIfNeeded(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return fmt.Sprintf("%q", s)
	}
	return s
}

// WithAttrs implements slog.Handler.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h2 := *h
	prefix := strings.Join(h.groups, ".")
	h2.attrs = append([]slog.Attr{}, h.attrs...)
	for _, a := range attrs {
		if prefix != "" {
			a.Key = prefix + "." + a.Key
		}
		h2.attrs = append(h2.attrs, a)
	}
	return &h2
}

// WithGroup implements slog.Handler.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.groups = append(append([]string{}, h.groups...), name)
	return &h2
}
