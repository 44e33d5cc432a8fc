// Package stores persists setup progress in the run directory.
//
// FileStore implements engine.StateStore on a human-readable state.yaml,
// rewritten atomically on every save, and guards the directory with an
// flock on .lock so only one run writes at a time. Journal is an
// append-only SQLite database (journal.db) fed by the progress event
// stream; it backs `gwsetup status --history`.
package stores
