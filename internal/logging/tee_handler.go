package logging

import (
	"context"
	"errors"
	"log/slog"
)

// teeHandler writes one record to several sinks, typically the console and
// the rotating log file. Each sink keeps its own level.
type teeHandler struct {
	sinks []slog.Handler
}

// newTee drops nil sinks. With nothing left it discards records; a single
// sink is returned unwrapped.
func newTee(sinks ...slog.Handler) slog.Handler {
	var kept []slog.Handler
	for _, sink := range sinks {
		if sink != nil {
			kept = append(kept, sink)
		}
	}
	switch len(kept) {
	case 0:
		return NoopHandler{}
	case 1:
		return kept[0]
	}
	return &teeHandler{sinks: kept}
}

func (t *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, sink := range t.sinks {
		if sink.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle gives every sink its own copy of the record, since a handler may
// retain or modify the attrs it receives. Sink failures are joined.
func (t *teeHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, sink := range t.sinks {
		if !sink.Enabled(ctx, record.Level) {
			continue
		}
		if err := sink.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return t.derive(func(sink slog.Handler) slog.Handler { return sink.WithAttrs(attrs) })
}

func (t *teeHandler) WithGroup(name string) slog.Handler {
	return t.derive(func(sink slog.Handler) slog.Handler { return sink.WithGroup(name) })
}

func (t *teeHandler) derive(fn func(slog.Handler) slog.Handler) slog.Handler {
	next := make([]slog.Handler, len(t.sinks))
	for i, sink := range t.sinks {
		next[i] = fn(sink)
	}
	return &teeHandler{sinks: next}
}
