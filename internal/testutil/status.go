package testutil

import (
	"context"
	"sync"
)

// StatusReply is one scripted answer to a status query.
type StatusReply struct {
	Output string
	Err    error
}

// ScriptedStatus answers status queries from a fixed script.
//
// Replies are returned in order; once the script is exhausted the last reply
// repeats. An empty script answers "" with no error. The unit of every query
// is recorded so tests can check what was asked.
//
// Implements poll.StatusSource.
type ScriptedStatus struct {
	mu      sync.Mutex
	replies []StatusReply
	units   []string
}

// NewScriptedStatus creates a source that returns outputs in sequence.
func NewScriptedStatus(outputs ...string) *ScriptedStatus {
	s := &ScriptedStatus{}
	for _, out := range outputs {
		s.replies = append(s.replies, StatusReply{Output: out})
	}
	return s
}

// Then appends a reply to the script and returns s for chaining.
func (s *ScriptedStatus) Then(output string, err error) *ScriptedStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, StatusReply{Output: output, Err: err})
	return s
}

// Status returns the next scripted reply.
func (s *ScriptedStatus) Status(_ context.Context, unit string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := len(s.units)
	s.units = append(s.units, unit)
	if len(s.replies) == 0 {
		return "", nil
	}
	if i >= len(s.replies) {
		i = len(s.replies) - 1
	}
	r := s.replies[i]
	return r.Output, r.Err
}

// Calls returns the number of queries made so far.
func (s *ScriptedStatus) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.units)
}

// Units returns the unit named by each query, in order.
func (s *ScriptedStatus) Units() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.units...)
}
