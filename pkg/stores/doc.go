// Package stores persists pipeline runs and their trace events.
//
// SQLiteStore keeps an archive of runs in SQLite (WAL mode, foreign keys on)
// with schema migrations embedded in the binary. TraceArchive plugs the
// store into a run as a trace sink, so every event the executor emits is
// written alongside the run's final status.
package stores
