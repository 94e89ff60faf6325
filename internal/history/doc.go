// Package history records door events in the local SQLite event log.
//
// Every lock report, door transition, command and button press can be
// written here so an operator can answer "what did the door do at 3am"
// without a time-series stack. The log is optional: with no database
// path configured the daemons run without it.
//
// The package has two layers:
//
//   - Repository (SQLiteRepository): synchronous CRUD over the
//     door_events table.
//   - Recorder: a non-blocking queue in front of a Repository, so the
//     coordinator's event loop never waits on disk.
//
// Retention is enforced by periodic Prune calls from the owning daemon,
// driven by database.retention_days.
package history
