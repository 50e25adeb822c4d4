package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one journaled tick that selected an item.
type Entry struct {
	TickID     string
	StartedAt  time.Time
	FinishedAt time.Time
	Stage      string
	Character  string
	Item       string
	Outcome    string
	Resumed    bool
	Attempts   int
	Device     string
	ExitCode   int
	Message    string
}

// Duration is the wall time of the tick.
func (e Entry) Duration() time.Duration {
	return e.FinishedAt.Sub(e.StartedAt)
}

// Store is the SQLite tick journal.
type Store struct {
	db   *sql.DB
	path string
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Open initializes or connects to the journal database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// Record appends e to the journal.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if strings.TrimSpace(e.TickID) == "" {
		return errors.New("history entry requires a tick id")
	}
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `INSERT INTO ticks
			(tick_id, started_at, finished_at, stage, character, item, outcome, resumed, attempts, device, exit_code, message)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.TickID,
			formatTime(e.StartedAt),
			formatTime(e.FinishedAt),
			e.Stage,
			e.Character,
			e.Item,
			e.Outcome,
			boolToInt(e.Resumed),
			e.Attempts,
			e.Device,
			e.ExitCode,
			e.Message,
		)
		return err
	})
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.query(ctx, selectColumns+" ORDER BY started_at DESC, id DESC LIMIT ?", limit)
}

// ForItem returns every entry of one item, oldest first.
func (s *Store) ForItem(ctx context.Context, character, item string) ([]Entry, error) {
	return s.query(ctx, selectColumns+" WHERE character = ? AND item = ? ORDER BY started_at, id", character, item)
}

// OutcomeCounts tallies entries by outcome.
func (s *Store) OutcomeCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT outcome, COUNT(1) FROM ticks GROUP BY outcome")
	if err != nil {
		return nil, fmt.Errorf("count outcomes: %w", err)
	}
	defer rows.Close()
	counts := make(map[string]int)
	for rows.Next() {
		var (
			outcome string
			count   int
		)
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, fmt.Errorf("scan outcome count: %w", err)
		}
		counts[outcome] = count
	}
	return counts, rows.Err()
}

const selectColumns = `SELECT tick_id, started_at, finished_at, stage, character, item, outcome,
	resumed, attempts, device, exit_code, message FROM ticks`

func (s *Store) query(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                 Entry
			started, finished string
			resumed           int
		)
		if err := rows.Scan(&e.TickID, &started, &finished, &e.Stage, &e.Character, &e.Item, &e.Outcome,
			&resumed, &e.Attempts, &e.Device, &e.ExitCode, &e.Message); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		if e.StartedAt, err = parseTimeString(started); err != nil {
			return nil, fmt.Errorf("parse started_at %q: %w", started, err)
		}
		if e.FinishedAt, err = parseTimeString(finished); err != nil {
			return nil, fmt.Errorf("parse finished_at %q: %w", finished, err)
		}
		e.Resumed = resumed != 0
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

// timeLayout keeps a fixed width so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	return time.Parse(time.RFC3339Nano, value)
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
