// Package store provides the SQLite-backed failure journal for sysmst runs.
//
// Shell test scripts call the sysmst CLI once per assertion, so the failure
// counter of a run cannot live in a single process. The journal keeps one
// row per failed expectation keyed by run id; the counter is the row count.
//
// # Invariants
//
//   - Append-only: failures are never updated. A run's count only grows.
//   - Deterministic order: reads use ORDER BY seq ASC.
//   - Reset happens only through BeginRun, before any expectation of a run.
//
// # Database Configuration
//
//   - WAL mode: concurrent readers while a CLI process appends
//   - synchronous=NORMAL
//   - busy_timeout=5000: concurrent CLI processes wait instead of failing
//   - single connection per process
package store
