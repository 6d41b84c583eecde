package store

import (
	"path/filepath"
	"testing"
	"time"
)

// createTestStore creates a new file-backed journal for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// fixedNow pins the journal clock so recorded_at is predictable.
func fixedNow(s *Store, ts time.Time) {
	s.now = func() time.Time { return ts }
}

// createTestFailure creates a failure with minimal required fields.
func createTestFailure(runID, op string) Failure {
	return Failure{
		RunID:    runID,
		Op:       op,
		Actual:   "1",
		Expected: "2",
		Message:  "values differ",
		File:     "basic_test.go",
		Line:     17,
	}
}
