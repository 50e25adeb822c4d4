package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestTeeCollapsesTrivialInputs(t *testing.T) {
	if _, ok := newTee(nil, nil).(NoopHandler); !ok {
		t.Fatal("expected NoopHandler when every handler is nil")
	}
	var buf bytes.Buffer
	inner := slog.NewTextHandler(&buf, nil)
	if got := newTee(nil, inner); got != inner {
		t.Fatalf("expected the lone handler to be returned as-is, got %T", got)
	}
}

func TestTeeRespectsPerHandlerLevels(t *testing.T) {
	var console, file bytes.Buffer
	quiet := slog.NewTextHandler(&console, &slog.HandlerOptions{Level: slog.LevelWarn})
	verbose := slog.NewTextHandler(&file, &slog.HandlerOptions{Level: slog.LevelDebug})

	logger := slog.New(newTee(quiet, verbose))
	logger.Debug("scan skipped entry", "entry", ".hidden")
	logger.Warn("worker exited", "exit_code", 2)

	if strings.Contains(console.String(), "scan skipped entry") {
		t.Fatalf("warn-level handler received debug record: %q", console.String())
	}
	if !strings.Contains(console.String(), "worker exited") {
		t.Fatalf("warn-level handler missed warning: %q", console.String())
	}
	for _, want := range []string{"scan skipped entry", "worker exited"} {
		if !strings.Contains(file.String(), want) {
			t.Fatalf("debug-level handler missing %q: %q", want, file.String())
		}
	}
	if !newTee(quiet, verbose).Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("expected tee enabled when any handler accepts the level")
	}
}

func TestTeeWithAttrsReachesAllHandlers(t *testing.T) {
	var a, b bytes.Buffer
	h := newTee(slog.NewTextHandler(&a, nil), slog.NewTextHandler(&b, nil))
	slog.New(h).With("tick_id", "t-1").WithGroup("worker").Info("line", "image", "uvr5")

	for _, out := range []string{a.String(), b.String()} {
		if !strings.Contains(out, "tick_id=t-1") || !strings.Contains(out, "worker.image=uvr5") {
			t.Fatalf("expected attrs and group on every handler, got %q", out)
		}
	}
}

type failingSink struct {
	slog.Handler
	err error
}

func (f failingSink) Handle(context.Context, slog.Record) error { return f.err }

func TestTeeKeepsWritingAfterSinkFailure(t *testing.T) {
	var file bytes.Buffer
	diskFull := errors.New("disk full")
	console := failingSink{Handler: slog.NewTextHandler(&bytes.Buffer{}, nil), err: diskFull}

	h := newTee(console, slog.NewTextHandler(&file, nil))
	err := h.Handle(context.Background(), slog.NewRecord(time.Now(), slog.LevelInfo, "tick finished", 0))
	if !errors.Is(err, diskFull) {
		t.Fatalf("Handle error = %v, want %v", err, diskFull)
	}
	if !strings.Contains(file.String(), "tick finished") {
		t.Fatalf("second sink skipped after first failed: %q", file.String())
	}
}
