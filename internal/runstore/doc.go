// Package runstore provides the date-partitioned, write-once repository for
// run artifacts.
//
// # Layout
//
//	root/<YYYY-MM-DD>/<run_id>.json                      primary artifact, written once
//	root/<YYYY-MM-DD>/<run_id>_advisory_<advisory>.json  one per distinct advisory, append-only
//	root/<YYYY-MM-DD>/<run_id>_explanation.json          the only mutable overlay
//	root/.locks/                                         advisory lock files
//
// # Guarantees
//
//   - Put never overwrites: a second Put for the same run id fails with
//     artifact.ErrImmutabilityViolation, whichever partition holds the first.
//   - Writes land via temp file + link/rename, so readers never observe a
//     partially written file.
//   - Mutations are serialised per logical path (in-process mutex plus an
//     flock on a lock file); different run ids never contend.
//   - Reads always go to disk; there is no in-process cache.
//   - A corrupt file is logged and skipped by scans; it never aborts a
//     listing.
package runstore
