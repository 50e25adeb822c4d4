// Package logs reads the controller log file for the CLI: the last lines of
// the file, optionally narrowed to one tick, and a polling follow mode that
// survives log rotation.
package logs
