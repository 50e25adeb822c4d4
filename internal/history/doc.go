// Package history keeps a SQLite journal of ticks that selected an item.
//
// The journal is audit only. Discovery and settlement never read it; the
// pipeline tree stays the single source of truth for progress. Writes retry
// briefly on SQLITE_BUSY since a status command may be reading concurrently.
package history
