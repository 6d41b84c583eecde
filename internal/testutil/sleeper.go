package testutil

import (
	"sync"
	"time"
)

// FakeSleeper records requested pauses instead of sleeping.
//
// Tests inject Sleep wherever production code takes a sleep function, then
// inspect Calls to verify the number and length of pauses.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FakeSleeper struct {
	mu    sync.Mutex
	calls []time.Duration
}

// NewFakeSleeper creates a sleeper with no recorded calls.
func NewFakeSleeper() *FakeSleeper {
	return &FakeSleeper{}
}

// Sleep records d and returns immediately.
func (s *FakeSleeper) Sleep(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, d)
}

// Calls returns a copy of every recorded duration, in order.
func (s *FakeSleeper) Calls() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.calls...)
}

// Total returns the sum of all recorded durations.
func (s *FakeSleeper) Total() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total time.Duration
	for _, d := range s.calls {
		total += d
	}
	return total
}

// Reset forgets all recorded calls.
func (s *FakeSleeper) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}
