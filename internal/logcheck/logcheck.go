// Package logcheck verifies that a daemon log contains required lines.
//
// The daemon pre-allocates its log buffer and zero-pads it, so the file may
// contain runs of NUL bytes. They are stripped before matching.
//
// Patterns are RE2 regular expressions in multi-line mode: ^ and $ anchor at
// line boundaries, as they do for grep. All patterns must match (conjunction);
// they are tried in the order given and the first one that is missing stops
// the check.
package logcheck

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/roach88/sysmst/internal/expect"
)

// ErrNoPatterns is returned when a check is asked for without patterns.
var ErrNoPatterns = errors.New("logcheck: no patterns given")

// MissingPatternError reports the first pattern that did not match.
type MissingPatternError struct {
	Path    string
	Pattern string
}

func (e *MissingPatternError) Error() string {
	return fmt.Sprintf("logcheck: pattern %q not found in %s", e.Pattern, e.Path)
}

// PatternError wraps a pattern that does not compile.
type PatternError struct {
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("logcheck: invalid pattern %q: %v", e.Pattern, e.Err)
}

func (e *PatternError) Unwrap() error { return e.Err }

// StripNull removes every NUL byte from data.
func StripNull(data []byte) []byte {
	return bytes.ReplaceAll(data, []byte{0}, nil)
}

// Compile compiles patterns in order. The first invalid pattern is reported.
func Compile(patterns ...string) ([]*regexp.Regexp, error) {
	if len(patterns) == 0 {
		return nil, ErrNoPatterns
	}
	res := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?m)" + p)
		if err != nil {
			return nil, &PatternError{Pattern: p, Err: err}
		}
		res = append(res, re)
	}
	return res, nil
}

// Match checks compiled patterns against content that is already stripped.
// It returns the first pattern that does not match, or "".
func Match(content []byte, res []*regexp.Regexp) string {
	for _, re := range res {
		if !re.Match(content) {
			// strip the multi-line prefix added by Compile
			return re.String()[len("(?m)"):]
		}
	}
	return ""
}

// Check reads path and requires every pattern to match at least once.
// With no patterns it fails without opening the file.
func Check(path string, patterns ...string) error {
	res, err := Compile(patterns...)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("logcheck: read %s: %w", path, err)
	}

	if missing := Match(StripNull(data), res); missing != "" {
		return &MissingPatternError{Path: path, Pattern: missing}
	}
	return nil
}

// Verify runs Check and reports a failure to run when it does not pass.
// Exactly one failure is reported per call, whatever the cause.
func Verify(run *expect.Run, path string, patterns ...string) bool {
	if err := Check(path, patterns...); err != nil {
		return run.FailDepth(1, err.Error())
	}
	return true
}

// WaitFor blocks until every pattern matches the file at path, the timeout
// expires, or ctx is done. The file need not exist yet. The file is re-read on
// every write or create event in its directory.
func WaitFor(ctx context.Context, path string, timeout time.Duration, patterns ...string) error {
	res, err := Compile(patterns...)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("logcheck: create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory so a log created or truncated after we start is seen.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("logcheck: watch %s: %w", filepath.Dir(path), err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	missing := ""
	check := func() bool {
		data, err := os.ReadFile(path)
		if err != nil {
			missing = patterns[0]
			return false
		}
		missing = Match(StripNull(data), res)
		return missing == ""
	}

	// The patterns may already be there.
	if check() {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return fmt.Errorf("logcheck: timed out after %s: %w", timeout, &MissingPatternError{Path: path, Pattern: missing})
		case event, ok := <-watcher.Events:
			if !ok {
				return errors.New("logcheck: watcher closed")
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if check() {
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("logcheck: watcher closed")
			}
			return fmt.Errorf("logcheck: watch %s: %w", path, err)
		}
	}
}
