package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"voiceprep/internal/config"
)

// LogFileName is the name of the rotating log file inside the log directory.
const LogFileName = "voiceprep.log"

// Options describes logger construction parameters.
type Options struct {
	Level       string
	Format      string
	Console     io.Writer
	File        *FileOptions
	Development bool
}

// FileOptions configures the rotating log file. Zero values fall back to the
// lumberjack defaults except Path, which is required.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// New constructs a slog logger using the provided options. Console output uses
// the requested format; the log file, when configured, always receives the
// same records through its own handler so rotation never interleaves with
// terminal output.
func New(opts Options) (*slog.Logger, error) {
	level := parseLevel(opts.Level)
	levelVar := new(slog.LevelVar)
	levelVar.Set(level)

	addSource := opts.Development || level <= slog.LevelDebug

	format := strings.ToLower(strings.TrimSpace(opts.Format))
	if format == "" {
		format = "console"
	}
	if format != "console" && format != "json" {
		return nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
	}

	console := opts.Console
	if console == nil {
		console = os.Stdout
	}

	handlers := []slog.Handler{newFormatHandler(format, console, levelVar, addSource)}
	if opts.File != nil && strings.TrimSpace(opts.File.Path) != "" {
		writer, err := openRotatingFile(*opts.File)
		if err != nil {
			return nil, err
		}
		handlers = append(handlers, newFormatHandler(format, writer, levelVar, addSource))
	}

	return slog.New(newTee(handlers...)), nil
}

// NewFromConfig creates a logger using application config defaults. The log
// file is placed in paths.log_dir and rotated per the [logging] section.
func NewFromConfig(cfg *config.Config) (*slog.Logger, error) {
	return NewFromConfigTo(cfg, nil)
}

// NewFromConfigTo is NewFromConfig with console output sent to w instead of
// stdout.
func NewFromConfigTo(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	if cfg == nil {
		return New(Options{Level: "info", Format: "console", Console: w})
	}

	opts := Options{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Console: w,
	}
	if cfg.Paths.LogDir != "" {
		opts.File = &FileOptions{
			Path:       filepath.Join(cfg.Paths.LogDir, LogFileName),
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
			Compress:   cfg.Logging.Compress,
		}
	}
	return New(opts)
}

func newFormatHandler(format string, w io.Writer, lvl *slog.LevelVar, addSource bool) slog.Handler {
	if format == "json" {
		return newJSONHandler(w, lvl, addSource)
	}
	return newPrettyHandler(w, lvl, addSource)
}

func openRotatingFile(opts FileOptions) (io.Writer, error) {
	path := strings.TrimSpace(opts.Path)
	if err := ensureLogDir(path); err != nil {
		return nil, fmt.Errorf("ensure log directory: %w", err)
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
		LocalTime:  true,
	}, nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func ensureLogDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
