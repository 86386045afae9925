// Package migrate converts the legacy single-file run store into the
// partitioned artifact repository.
//
// The legacy store is one JSON object mapping run ids to loosely shaped
// records. Migration is safe to re-run: records already present in the
// repository are counted as skipped, never overwritten. Every live run is
// preceded by a timestamped backup of the legacy file, which Rollback can
// restore. Verify re-reads both stores and cross-checks the fields that
// decide how a run is treated downstream.
//
// Operations are journaled when a Journal is wired in; Status reports the
// most recent entry.
package migrate
