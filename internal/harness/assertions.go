package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/sysmst/internal/expect"
	"github.com/roach88/sysmst/internal/logcheck"
)

// AssertionError describes one failure recorded while evaluating an
// assertion.
type AssertionError struct {
	Index    int    // Position in the scenario's assertion list
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
	Message  string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "assertions[%d] %s failed", e.Index, e.Type)
	if e.Expected != "" || e.Actual != "" {
		fmt.Fprintf(&buf, ": expected %s, actual %s", e.Expected, e.Actual)
	}
	if e.Message != "" {
		fmt.Fprintf(&buf, ": %s", e.Message)
	}
	return buf.String()
}

// newAssertionError converts an expectation record into an AssertionError.
func newAssertionError(index int, a Assertion, f expect.Failure) *AssertionError {
	return &AssertionError{
		Index:    index,
		Type:     a.Type,
		Expected: f.Expected,
		Actual:   f.Actual,
		Message:  f.Message,
	}
}

// evaluateAssertion runs one assertion against the run. Failures are
// recorded on the run; the return value says whether it held.
func (h *Harness) evaluateAssertion(ctx context.Context, a Assertion) bool {
	switch a.Type {
	case AssertUnitStatus:
		return h.poller.CheckStatus(ctx, h.run, a.Unit, a.State)
	case AssertUnitLoad:
		return h.poller.CheckLoad(ctx, h.run, a.Unit, a.State)
	case AssertLogContains:
		path := a.Path
		if path == "" {
			path = h.logPath
		}
		return logcheck.Verify(h.run, path, a.Patterns...)
	case AssertPIDCount:
		pids, err := h.poller.GetPids(ctx, a.Unit)
		if err != nil {
			return h.run.Fail(err.Error())
		}
		msg := a.Message
		if msg == "" {
			msg = "process count of " + a.Unit
		}
		return h.run.Equal(int64(len(pids)), int64(a.Count), msg)
	case AssertExpectEq:
		if a.Actual == nil || a.Expected == nil {
			return h.run.Fail("expect_eq needs both actual and expected")
		}
		return h.run.Equal(*a.Actual, *a.Expected, a.Message)
	default:
		return h.run.Fail(fmt.Sprintf("unknown assertion type %q", a.Type))
	}
}
