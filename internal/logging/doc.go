// Package logging assembles structured slog loggers and formatting helpers used
// across voiceprep components.
//
// It owns the console and JSON handlers, the rotating log file (size and age
// based, gzip compressed), and context-aware helpers that tag records with the
// tick id, stage, and work item key. A no-op logger is provided for tests and
// wiring code that cannot fail.
//
// Prefer these constructors over hand-rolled slog setup so every component
// emits records with the same shape.
package logging
