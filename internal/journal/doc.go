// Package journal records migration operations in an append-only SQLite
// log so that status reporting can show what was run, when, and with what
// outcome.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//
// Entries are ordered by the autoincrement seq column, never by timestamp.
// Entry details are stored as canonical JSON.
package journal
