// Package lock provides the single-flight guard for controller ticks.
//
// FileLock creates a sentinel holding the owner PID with an atomic
// create-if-absent. A second tick that finds the sentinel checks whether the
// PID is alive: a live holder means "already running" and the tick exits
// without touching the filesystem; a dead holder's sentinel is reclaimed under
// a gofrs/flock guard. The snapshot of the in-flight work item is written
// atomically and survives until the item settles.
//
// Memory is the in-process implementation used by tests.
package lock
