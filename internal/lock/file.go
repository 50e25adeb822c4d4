package lock

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"

	"voiceprep/internal/fileutil"
	"voiceprep/internal/layout"
	"voiceprep/internal/logging"
	"voiceprep/internal/workitem"
)

// DefaultGracePeriod is how long an unreadable sentinel is assumed to belong
// to a tick that is still writing it.
const DefaultGracePeriod = 30 * time.Second

// FileLock implements SingleFlight with a PID sentinel and a JSON snapshot.
type FileLock struct {
	layout   layout.Layout
	sentinel string
	snapshot string
	logger   *slog.Logger

	pid   int
	grace time.Duration
	alive func(pid int) bool
	now   func() time.Time

	held bool
}

// Option customizes a FileLock.
type Option func(*FileLock)

// WithGracePeriod overrides DefaultGracePeriod.
func WithGracePeriod(d time.Duration) Option {
	return func(l *FileLock) { l.grace = d }
}

// WithLiveness replaces the PID liveness probe.
func WithLiveness(fn func(pid int) bool) Option {
	return func(l *FileLock) {
		if fn != nil {
			l.alive = fn
		}
	}
}

// WithClock replaces the time source used for grace and corrupt-file names.
func WithClock(fn func() time.Time) Option {
	return func(l *FileLock) {
		if fn != nil {
			l.now = fn
		}
	}
}

// NewFileLock returns a lock using the sentinel and snapshot paths.
func NewFileLock(l layout.Layout, sentinel, snapshot string, logger *slog.Logger, opts ...Option) *FileLock {
	fl := &FileLock{
		layout:   l,
		sentinel: sentinel,
		snapshot: snapshot,
		logger:   logging.NewComponentLogger(logger, "lock"),
		pid:      os.Getpid(),
		grace:    DefaultGracePeriod,
		alive:    processAlive,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(fl)
	}
	return fl
}

// TryAcquire creates the sentinel if absent. An existing sentinel whose
// holder is alive, or which is unreadable but recent, leaves the filesystem
// untouched and returns false. A sentinel left by a dead process is reclaimed.
func (l *FileLock) TryAcquire(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if l.held {
		return true, nil
	}
	ok, err := l.create()
	if err != nil || ok {
		return ok, err
	}

	holder, err := l.Holder()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// Released between our create and read; the next tick will get it.
			return false, nil
		}
		return false, err
	}
	if holder.Alive || (holder.PID == 0 && l.now().Sub(holder.Since) < l.grace) {
		l.logger.Debug("lock held by another tick",
			logging.Int("holder_pid", holder.PID),
			logging.String("sentinel", l.sentinel),
		)
		return false, nil
	}
	return l.reclaim(holder)
}

func (l *FileLock) create() (bool, error) {
	f, err := os.OpenFile(l.sentinel, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("create lock sentinel: %w", err)
	}
	_, werr := f.WriteString(strconv.Itoa(l.pid) + "\n")
	serr := f.Sync()
	cerr := f.Close()
	if err := errors.Join(werr, serr, cerr); err != nil {
		_ = os.Remove(l.sentinel)
		return false, fmt.Errorf("write lock sentinel: %w", err)
	}
	l.held = true
	return true, nil
}

// reclaim removes a stale sentinel under an advisory guard so two ticks that
// both observe the same dead holder cannot both take over.
func (l *FileLock) reclaim(stale Holder) (bool, error) {
	guard := flock.New(l.sentinel + ".guard")
	locked, err := guard.TryLock()
	if err != nil {
		return false, fmt.Errorf("lock guard: %w", err)
	}
	if !locked {
		return false, nil
	}
	defer func() { _ = guard.Unlock() }()

	current, err := l.Holder()
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return false, err
	case current.PID != stale.PID || current.Alive:
		return false, nil
	default:
		if err := os.Remove(l.sentinel); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return false, fmt.Errorf("remove stale sentinel: %w", err)
		}
	}

	logging.WarnWithContext(l.logger, "reclaimed stale lock sentinel", "lock_reclaimed",
		logging.Int("stale_pid", stale.PID),
		logging.String("sentinel", l.sentinel),
		logging.String(logging.FieldErrorHint, "a previous tick exited without releasing the lock"),
		logging.String(logging.FieldImpact, "the in-flight item, if any, is resumed"),
	)
	return l.create()
}

// Release removes the sentinel if this lock created it.
func (l *FileLock) Release() error {
	if !l.held {
		return nil
	}
	l.held = false
	holder, err := l.Holder()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if holder.PID != l.pid {
		l.logger.Warn("lock sentinel owned by another process at release",
			logging.Int("holder_pid", holder.PID),
		)
		return nil
	}
	if err := os.Remove(l.sentinel); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove lock sentinel: %w", err)
	}
	return nil
}

// Holder describes the process named in the sentinel.
type Holder struct {
	PID   int
	Alive bool
	Since time.Time
}

// Holder reads the sentinel. PID is zero when the content is unreadable.
func (l *FileLock) Holder() (Holder, error) {
	info, err := os.Stat(l.sentinel)
	if err != nil {
		return Holder{}, err
	}
	data, err := os.ReadFile(l.sentinel)
	if err != nil {
		return Holder{}, err
	}
	h := Holder{Since: info.ModTime()}
	if pid, perr := strconv.Atoi(strings.TrimSpace(string(data))); perr == nil && pid > 0 {
		h.PID = pid
		h.Alive = l.alive(pid)
	}
	return h, nil
}

// PendingSnapshot loads the persisted item. An undecodable snapshot is moved
// aside and logged so the next tick can proceed with discovery.
func (l *FileLock) PendingSnapshot(ctx context.Context) (*workitem.WorkItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(l.snapshot)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	item, err := workitem.Unmarshal(l.layout, data)
	if err == nil {
		return item, nil
	}

	aside := fmt.Sprintf("%s.corrupt-%s", l.snapshot, l.now().UTC().Format("20060102T150405Z"))
	if rerr := os.Rename(l.snapshot, aside); rerr != nil {
		return nil, fmt.Errorf("move corrupt snapshot aside: %w", rerr)
	}
	logging.ErrorWithContext(l.logger, "snapshot unreadable; moved aside", "snapshot_corrupt",
		logging.Error(err),
		logging.String("moved_to", aside),
		logging.String(logging.FieldErrorHint, "inspect the moved file; the item will be rediscovered from the tree"),
	)
	return nil, nil
}

// Persist writes the item atomically.
func (l *FileLock) Persist(item *workitem.WorkItem) error {
	data, err := workitem.Marshal(item)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(l.snapshot), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	if err := fileutil.WriteFileAtomic(l.snapshot, data, 0o644); err != nil {
		return fmt.Errorf("persist snapshot: %w", err)
	}
	return nil
}

// ClearSnapshot deletes the snapshot; a missing snapshot is not an error.
func (l *FileLock) ClearSnapshot() error {
	if err := os.Remove(l.snapshot); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("clear snapshot: %w", err)
	}
	return fileutil.SyncDir(filepath.Dir(l.snapshot))
}

// processAlive reports whether pid names a running process. EPERM means the
// process exists under another user.
func processAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
