// Package expect implements non-fatal expectations for daemon integration
// tests.
//
// A Run owns the failure counter of one test run. Every comparator returns
// true when it holds and has no side effect. When it does not hold, the
// counter goes up by exactly one, one diagnostic line is logged naming the
// operator, both operands, the message and the call site, and false is
// returned. The caller decides whether to carry on.
//
//	run := expect.NewRun(logger)
//	run.Equal(int64(len(pids)), 2, "foo.service should have two processes")
//	run.StringEqual(state, "active")
//	if run.Failures() > 0 { ... }
package expect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/roach88/sysmst/internal/logging"
	"github.com/roach88/sysmst/internal/store"
)

// Op names an expectation operator.
type Op string

const (
	OpEqual          Op = "eq"
	OpNotEqual       Op = "ne"
	OpGreater        Op = "gt"
	OpGreaterOrEqual Op = "ge"
	OpLess           Op = "lt"
	OpLessOrEqual    Op = "le"
	OpStringEqual    Op = "str_eq"
	OpFail           Op = "fail"
)

// symbol is the relation printed in diagnostics.
func (o Op) symbol() string {
	switch o {
	case OpEqual, OpStringEqual:
		return "=="
	case OpNotEqual:
		return "!="
	case OpGreater:
		return ">"
	case OpGreaterOrEqual:
		return ">="
	case OpLess:
		return "<"
	case OpLessOrEqual:
		return "<="
	default:
		return ""
	}
}

// ParseOp maps a CLI operator name to an Op.
func ParseOp(s string) (Op, error) {
	switch op := Op(s); op {
	case OpEqual, OpNotEqual, OpGreater, OpGreaterOrEqual, OpLess, OpLessOrEqual, OpStringEqual:
		return op, nil
	default:
		return "", fmt.Errorf("unknown operator %q", s)
	}
}

// Operand errors are usage errors: they never touch the failure counter.
var (
	ErrMissingOperand = errors.New("missing operand")
	ErrBadOperand     = errors.New("operand is not an integer")
)

// ParseOperand parses a numeric operand given as text.
func ParseOperand(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrMissingOperand
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadOperand, s)
	}
	return n, nil
}

// CallSite locates the statement that made a failing expectation.
type CallSite struct {
	File string
	Line int
	Func string
}

// ParseCallSite parses "file:line" as written by a shell script, e.g.
// "${BASH_SOURCE[0]}:${LINENO}". The line must be a positive integer.
func ParseCallSite(s string) (CallSite, error) {
	i := strings.LastIndex(s, ":")
	if i <= 0 {
		return CallSite{}, fmt.Errorf("call site %q: want file:line", s)
	}
	file, line := s[:i], s[i+1:]
	n, err := strconv.Atoi(line)
	if err != nil || n <= 0 {
		return CallSite{}, fmt.Errorf("call site %q: bad line number", s)
	}
	return CallSite{File: file, Line: n}, nil
}

func (c CallSite) String() string {
	if c.File == "" {
		return "unknown"
	}
	return fmt.Sprintf("%s:%d", filepath.Base(c.File), c.Line)
}

// Failure is the record kept for each failed expectation.
type Failure struct {
	Seq      int
	Op       Op
	Actual   string
	Expected string
	Message  string
	At       CallSite
}

// Journal persists failures beyond the life of the process.
// *store.Store implements it.
type Journal interface {
	RecordFailure(ctx context.Context, f store.Failure) error
}

// Run is the failure counter and diagnostics sink for one test run.
// Runs are independent; nothing is shared between them.
type Run struct {
	id       string
	logger   *slog.Logger
	journal  Journal
	caller   *CallSite
	failures atomic.Int64

	mu      sync.Mutex
	records []Failure
}

// Option configures a Run.
type Option func(*Run)

// WithID sets the run id. By default a random UUID is used.
func WithID(id string) Option {
	return func(r *Run) { r.id = id }
}

// WithCaller reports every failure at cs instead of the Go caller. The CLI
// uses it to point diagnostics at the calling shell script line.
func WithCaller(cs CallSite) Option {
	return func(r *Run) { r.caller = &cs }
}

// WithJournal persists every failure to j.
func WithJournal(j Journal) Option {
	return func(r *Run) { r.journal = j }
}

// NewRun starts a run with a zero failure counter. A nil logger discards.
func NewRun(logger *slog.Logger, opts ...Option) *Run {
	if logger == nil {
		logger = logging.Discard()
	}
	r := &Run{logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	if r.id == "" {
		r.id = uuid.NewString()
	}
	return r
}

// ID returns the run id.
func (r *Run) ID() string { return r.id }

// Failures returns the failure counter.
func (r *Run) Failures() int { return int(r.failures.Load()) }

// Passed reports whether no expectation has failed.
func (r *Run) Passed() bool { return r.Failures() == 0 }

// Records returns a copy of the failures recorded so far.
func (r *Run) Records() []Failure {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Failure(nil), r.records...)
}

// Equal expects actual == expected.
func (r *Run) Equal(actual, expected int64, msg ...string) bool {
	return r.compare(OpEqual, actual == expected, actual, expected, msg)
}

// NotEqual expects actual != expected.
func (r *Run) NotEqual(actual, expected int64, msg ...string) bool {
	return r.compare(OpNotEqual, actual != expected, actual, expected, msg)
}

// Greater expects actual > expected.
func (r *Run) Greater(actual, expected int64, msg ...string) bool {
	return r.compare(OpGreater, actual > expected, actual, expected, msg)
}

// GreaterOrEqual expects actual >= expected.
func (r *Run) GreaterOrEqual(actual, expected int64, msg ...string) bool {
	return r.compare(OpGreaterOrEqual, actual >= expected, actual, expected, msg)
}

// Less expects actual < expected.
func (r *Run) Less(actual, expected int64, msg ...string) bool {
	return r.compare(OpLess, actual < expected, actual, expected, msg)
}

// LessOrEqual expects actual <= expected.
func (r *Run) LessOrEqual(actual, expected int64, msg ...string) bool {
	return r.compare(OpLessOrEqual, actual <= expected, actual, expected, msg)
}

// Compare evaluates a numeric operator chosen at run time (the CLI path).
// An Op outside the numeric set is recorded as a failure.
func (r *Run) Compare(op Op, actual, expected int64, msg ...string) bool {
	var ok bool
	switch op {
	case OpEqual:
		ok = actual == expected
	case OpNotEqual:
		ok = actual != expected
	case OpGreater:
		ok = actual > expected
	case OpGreaterOrEqual:
		ok = actual >= expected
	case OpLess:
		ok = actual < expected
	case OpLessOrEqual:
		ok = actual <= expected
	}
	return r.compare(op, ok, actual, expected, msg)
}

// StringEqual expects two strings to be identical. No numeric coercion:
// "1" and "01" differ.
func (r *Run) StringEqual(actual, expected string, msg ...string) bool {
	if actual == expected {
		return true
	}
	r.record(0, OpStringEqual, strconv.Quote(actual), strconv.Quote(expected), joinMsg(msg))
	return false
}

// Fail reports a failure unconditionally, e.g. when a command that a check
// depends on exited non-zero. It always returns false.
func (r *Run) Fail(msg string) bool {
	r.record(0, OpFail, "", "", msg)
	return false
}

// FailDepth is Fail for helpers: depth 1 reports the helper's caller
// instead of the helper.
func (r *Run) FailDepth(depth int, msg string) bool {
	r.record(depth, OpFail, "", "", msg)
	return false
}

func (r *Run) compare(op Op, ok bool, actual, expected int64, msg []string) bool {
	if ok {
		return true
	}
	r.record(1, op, strconv.FormatInt(actual, 10), strconv.FormatInt(expected, 10), joinMsg(msg))
	return false
}

// record increments the counter and emits the diagnostic. extra counts the
// frames between the exported method and record beyond the first.
func (r *Run) record(extra int, op Op, actual, expected, msg string) {
	// 0 callSite, 1 record, 2 exported method, 3 its caller
	at := callSite(3 + extra)
	if r.caller != nil {
		at = *r.caller
	}
	n := r.failures.Add(1)

	f := Failure{Seq: int(n), Op: op, Actual: actual, Expected: expected, Message: msg, At: at}
	r.mu.Lock()
	r.records = append(r.records, f)
	r.mu.Unlock()

	if op == OpFail {
		r.logger.Error("expectation failed: "+msg, "op", string(op), "at", at.String())
	} else {
		r.logger.Error(fmt.Sprintf("expectation failed: %s %s %s", actual, op.symbol(), expected),
			"op", string(op),
			"actual", actual,
			"expected", expected,
			"msg", msg,
			"at", at.String(),
		)
	}

	if r.journal == nil {
		return
	}
	err := r.journal.RecordFailure(context.Background(), store.Failure{
		RunID:    r.id,
		Op:       string(op),
		Actual:   actual,
		Expected: expected,
		Message:  msg,
		File:     at.File,
		Line:     at.Line,
	})
	if err != nil {
		r.logger.Warn("failure not journaled", "run", r.id, "error", err)
	}
}

func callSite(skip int) CallSite {
	pc, file, line, ok := runtime.Caller(skip)
	if !ok {
		return CallSite{}
	}
	cs := CallSite{File: file, Line: line}
	if fn := runtime.FuncForPC(pc); fn != nil {
		cs.Func = fn.Name()
	}
	return cs
}

func joinMsg(msg []string) string {
	return strings.Join(msg, " ")
}
