package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added runs table
const currentSchemaVersion = 1

// Store is the failure journal.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Failure is one journaled expectation failure.
type Failure struct {
	Seq        int64
	RunID      string
	Op         string
	Actual     string
	Expected   string
	Message    string
	File       string
	Line       int
	RecordedAt time.Time
}

// Open creates or opens the journal at path. ":memory:" gives a private
// in-process journal.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention between CLI processes
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to journal: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// BeginRun registers runID and clears any failures previously journaled
// under it. Called once, before the first expectation of a run.
func (s *Store) BeginRun(ctx context.Context, runID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin run: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM failures WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("begin run: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, started_at) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET started_at = excluded.started_at
	`, runID, s.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("begin run: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("begin run: %w", err)
	}
	return nil
}

// RecordFailure appends a failure. Seq and RecordedAt are assigned here.
func (s *Store) RecordFailure(ctx context.Context, f Failure) error {
	if f.RunID == "" {
		return fmt.Errorf("record failure: run id is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO failures (run_id, op, actual, expected, message, file, line, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		f.RunID,
		f.Op,
		f.Actual,
		f.Expected,
		f.Message,
		f.File,
		f.Line,
		s.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	return nil
}

// CountFailures returns the failure counter of a run.
func (s *Store) CountFailures(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM failures WHERE run_id = ?`, runID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count failures: %w", err)
	}
	return n, nil
}

// ListFailures returns a run's failures in the order they were recorded.
// Returns an empty slice (not nil) if the run has none.
func (s *Store) ListFailures(ctx context.Context, runID string) ([]Failure, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, run_id, op, actual, expected, message, file, line, recorded_at
		FROM failures
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list failures: %w", err)
	}
	defer rows.Close()

	failures := []Failure{}
	for rows.Next() {
		var f Failure
		var recorded string
		if err := rows.Scan(&f.Seq, &f.RunID, &f.Op, &f.Actual, &f.Expected, &f.Message, &f.File, &f.Line, &recorded); err != nil {
			return nil, fmt.Errorf("scan failure: %w", err)
		}
		if f.RecordedAt, err = time.Parse(time.RFC3339Nano, recorded); err != nil {
			return nil, fmt.Errorf("parse recorded_at %q: %w", recorded, err)
		}
		failures = append(failures, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate failures: %w", err)
	}
	return failures, nil
}

// HasRun reports whether BeginRun was called for runID.
func (s *Store) HasRun(ctx context.Context, runID string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE id = ?`, runID).Scan(&n); err != nil {
		return false, fmt.Errorf("lookup run: %w", err)
	}
	return n > 0, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 backfills the runs table for journals written before it
// existed, so HasRun answers true for runs that already have failures.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		INSERT OR IGNORE INTO runs (id, started_at)
		SELECT run_id, MIN(recorded_at) FROM failures GROUP BY run_id
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
