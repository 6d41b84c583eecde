// Package poll inspects unit state through the daemon's control CLI.
//
// Unit state converges asynchronously after a start or stop, so status and
// load checks retry a bounded number of times with a fixed pause before they
// report a failure. PID lookup is a single snapshot.
package poll

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/sysmst/internal/expect"
	"github.com/roach88/sysmst/internal/logging"
)

// Field labels in `sctl status` output.
const (
	LabelActive = "Active:"
	LabelLoaded = "Loaded:"
	LabelPID    = "PID:"
)

// Defaults for the retry loop.
const (
	DefaultAttempts = 3
	DefaultInterval = time.Second
)

// StatusSource answers a status query for a unit. The output must be
// returned even when the query itself reports an error, since the status of
// a failed or missing unit still carries the fields being checked.
type StatusSource interface {
	Status(ctx context.Context, unit string) (string, error)
}

// Snapshot is what one status query revealed. It is never cached.
type Snapshot struct {
	Raw   string
	Field string
	PIDs  []int
	Err   error
}

// Poller runs state checks against a StatusSource.
type Poller struct {
	Source   StatusSource
	Attempts int
	Interval time.Duration
	Sleep    func(time.Duration)
	Logger   *slog.Logger
}

// New returns a Poller with the default attempts, interval and sleep.
func New(src StatusSource, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Poller{
		Source:   src,
		Attempts: DefaultAttempts,
		Interval: DefaultInterval,
		Sleep:    time.Sleep,
		Logger:   logger,
	}
}

// CheckStatus expects the unit's Active: state to be expected.
func (p *Poller) CheckStatus(ctx context.Context, run *expect.Run, unit, expected string) bool {
	return p.check(ctx, run, unit, LabelActive, expected)
}

// CheckLoad expects the unit's Loaded: state to be expected.
func (p *Poller) CheckLoad(ctx context.Context, run *expect.Run, unit, expected string) bool {
	return p.check(ctx, run, unit, LabelLoaded, expected)
}

// Snapshot takes one status query and parses the field named by label.
func (p *Poller) Snapshot(ctx context.Context, unit, label string) Snapshot {
	out, err := p.Source.Status(ctx, unit)
	field, _ := ParseField(out, label)
	return Snapshot{Raw: out, Field: field, PIDs: ParsePIDs(out), Err: err}
}

// GetPids returns the process ids listed in the unit's PID: section. A
// unit without a PID: section has no processes. The query error is only
// returned when the query produced no output at all.
func (p *Poller) GetPids(ctx context.Context, unit string) ([]int, error) {
	snap := p.Snapshot(ctx, unit, LabelPID)
	if snap.Raw == "" && snap.Err != nil {
		return nil, fmt.Errorf("poll: status %s: %w", unit, snap.Err)
	}
	return snap.PIDs, nil
}

func (p *Poller) check(ctx context.Context, run *expect.Run, unit, label, expected string) bool {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	var last Snapshot
	for i := 1; i <= attempts; i++ {
		if err := ctx.Err(); err != nil {
			last.Err = err
			break
		}
		last = p.Snapshot(ctx, unit, label)
		if MatchWord(last.Field, expected) {
			return true
		}
		p.Logger.Debug("unit state mismatch",
			"unit", unit, "field", label, "want", expected, "got", last.Field, "attempt", i)
		if i < attempts {
			sleep(p.Interval)
		}
	}

	p.Logger.Error("sctl status output", "unit", unit, "output", strings.TrimSpace(last.Raw))
	msg := fmt.Sprintf("%s %s %q, want %q after %d attempts", unit, label, last.Field, expected, attempts)
	if last.Err != nil {
		msg += ": " + last.Err.Error()
	}
	// depth 2: check and its exported wrapper
	return run.FailDepth(2, msg)
}

// ParseField returns the token following label on the first line that
// contains label.
func ParseField(output, label string) (string, bool) {
	for _, line := range strings.Split(output, "\n") {
		idx := strings.Index(line, label)
		if idx < 0 {
			continue
		}
		fields := strings.Fields(line[idx+len(label):])
		if len(fields) == 0 {
			return "", true
		}
		return fields[0], true
	}
	return "", false
}

// MatchWord reports whether word occurs in text as a whole word, the way
// grep -w matches: the characters on either side of the occurrence, if any,
// must not be letters, digits or underscores.
func MatchWord(text, word string) bool {
	if word == "" {
		return false
	}
	for from := 0; from <= len(text)-len(word); {
		idx := strings.Index(text[from:], word)
		if idx < 0 {
			return false
		}
		start := from + idx
		end := start + len(word)
		if (start == 0 || !isWordByte(text[start-1])) && (end == len(text) || !isWordByte(text[end])) {
			return true
		}
		from = start + 1
	}
	return false
}

func isWordByte(b byte) bool {
	return b == '_' ||
		('0' <= b && b <= '9') ||
		('a' <= b && b <= 'z') ||
		('A' <= b && b <= 'Z')
}

// ParsePIDs extracts process ids from the PID: section of status output.
// From the marker to the end of output, the first whitespace-separated
// column of each line is taken; the text after the marker on its own line
// counts as a line. Non-numeric columns are skipped.
func ParsePIDs(output string) []int {
	idx := strings.Index(output, LabelPID)
	if idx < 0 {
		return nil
	}
	var pids []int
	for _, line := range strings.Split(output[idx+len(LabelPID):], "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		pid, err := strconv.Atoi(fields[0])
		if err != nil || pid <= 0 {
			continue
		}
		pids = append(pids, pid)
	}
	return pids
}
