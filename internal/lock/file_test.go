package lock_test

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"voiceprep/internal/layout"
	"voiceprep/internal/lock"
	"voiceprep/internal/stages"
	"voiceprep/internal/workitem"
)

type fixture struct {
	root     string
	layout   layout.Layout
	sentinel string
	snapshot string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	root := t.TempDir()
	pipeline := filepath.Join(root, "train")
	if err := os.MkdirAll(pipeline, 0o755); err != nil {
		t.Fatal(err)
	}
	l, err := layout.New(root, "/data", pipeline)
	if err != nil {
		t.Fatal(err)
	}
	return fixture{
		root:     root,
		layout:   l,
		sentinel: filepath.Join(pipeline, ".tick.lock"),
		snapshot: filepath.Join(pipeline, ".task.json"),
	}
}

func (f fixture) lock(opts ...lock.Option) *lock.FileLock {
	return lock.NewFileLock(f.layout, f.sentinel, f.snapshot, nil, opts...)
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestAcquireReleaseCycle(t *testing.T) {
	f := newFixture(t)
	l := f.lock()
	ok, err := l.TryAcquire(context.Background())
	if err != nil || !ok {
		t.Fatalf("TryAcquire = %v, %v", ok, err)
	}
	data, err := os.ReadFile(f.sentinel)
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(string(data)) != strconv.Itoa(os.Getpid()) {
		t.Fatalf("sentinel should hold our pid, got %q", data)
	}
	if err := l.Release(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(f.sentinel); !os.IsNotExist(err) {
		t.Fatal("sentinel should be removed on release")
	}
	if ok, _ := f.lock().TryAcquire(context.Background()); !ok {
		t.Fatal("expected lock to be acquirable after release")
	}
}

func TestLiveHolderBlocksWithoutMutation(t *testing.T) {
	f := newFixture(t)
	// A sentinel naming this test process is a live holder.
	if err := os.WriteFile(f.sentinel, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	item, err := workitem.New(f.layout, stages.Dereverb, "F003", "4", f.layout.Artifact("F003", "4", stages.VocalFile))
	if err != nil {
		t.Fatal(err)
	}
	if err := f.lock().Persist(item); err != nil {
		t.Fatal(err)
	}
	before := listDir(t, filepath.Dir(f.sentinel))
	snapBefore, _ := os.ReadFile(f.snapshot)

	ok, err := f.lock().TryAcquire(context.Background())
	if err != nil || ok {
		t.Fatalf("expected lock held, got %v, %v", ok, err)
	}

	after := listDir(t, filepath.Dir(f.sentinel))
	if strings.Join(before, ",") != strings.Join(after, ",") {
		t.Fatalf("directory changed: %v -> %v", before, after)
	}
	snapAfter, _ := os.ReadFile(f.snapshot)
	if string(snapBefore) != string(snapAfter) {
		t.Fatal("snapshot must be untouched when the lock is held")
	}
}

func TestDeadHolderIsReclaimed(t *testing.T) {
	f := newFixture(t)
	if err := os.WriteFile(f.sentinel, []byte("999999\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	l := f.lock(lock.WithLiveness(func(pid int) bool { return pid == os.Getpid() }))
	ok, err := l.TryAcquire(context.Background())
	if err != nil || !ok {
		t.Fatalf("expected stale sentinel to be reclaimed, got %v, %v", ok, err)
	}
	holder, err := l.Holder()
	if err != nil {
		t.Fatal(err)
	}
	if holder.PID != os.Getpid() {
		t.Fatalf("expected our pid after reclaim, got %d", holder.PID)
	}
}

func TestUnreadableSentinelRespectsGrace(t *testing.T) {
	f := newFixture(t)
	if err := os.WriteFile(f.sentinel, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	fresh := f.lock(lock.WithClock(func() time.Time { return now }), lock.WithGracePeriod(time.Minute))
	if ok, _ := fresh.TryAcquire(context.Background()); ok {
		t.Fatal("recent unreadable sentinel should count as held")
	}
	later := f.lock(lock.WithClock(func() time.Time { return now.Add(2 * time.Minute) }), lock.WithGracePeriod(time.Minute))
	if ok, err := later.TryAcquire(context.Background()); err != nil || !ok {
		t.Fatalf("expired unreadable sentinel should be reclaimed, got %v, %v", ok, err)
	}
}

func TestSnapshotPersistAndResume(t *testing.T) {
	f := newFixture(t)
	l := f.lock()
	if item, err := l.PendingSnapshot(context.Background()); err != nil || item != nil {
		t.Fatalf("expected no snapshot, got %v, %v", item, err)
	}
	fresh, err := workitem.New(f.layout, stages.Dereverb, "F003", "4", f.layout.Artifact("F003", "4", stages.VocalFile))
	if err != nil {
		t.Fatal(err)
	}
	fresh.Attempts = 1
	if err := l.Persist(fresh); err != nil {
		t.Fatal(err)
	}
	resumed, err := l.PendingSnapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if resumed == nil || !resumed.InProcess {
		t.Fatalf("expected in-process resumed item, got %+v", resumed)
	}
	if resumed.VocalDir != filepath.Join(f.root, "train", "input", "F003", "4", "vocal") {
		t.Fatalf("unexpected resumed vocal dir %q", resumed.VocalDir)
	}
	if resumed.Attempts != 1 {
		t.Fatalf("attempts lost: %d", resumed.Attempts)
	}
	if err := l.ClearSnapshot(); err != nil {
		t.Fatal(err)
	}
	if err := l.ClearSnapshot(); err != nil {
		t.Fatalf("second clear should be a no-op: %v", err)
	}
}

func TestCorruptSnapshotIsMovedAside(t *testing.T) {
	f := newFixture(t)
	if err := os.WriteFile(f.snapshot, []byte("{truncated"), 0o644); err != nil {
		t.Fatal(err)
	}
	fixed := time.Date(2026, 5, 1, 8, 30, 0, 0, time.UTC)
	l := f.lock(lock.WithClock(func() time.Time { return fixed }))
	item, err := l.PendingSnapshot(context.Background())
	if err != nil || item != nil {
		t.Fatalf("expected nil item and nil error, got %v, %v", item, err)
	}
	if _, err := os.Stat(f.snapshot); !os.IsNotExist(err) {
		t.Fatal("corrupt snapshot should no longer be at the original path")
	}
	aside := f.snapshot + ".corrupt-20260501T083000Z"
	if data, err := os.ReadFile(aside); err != nil || string(data) != "{truncated" {
		t.Fatalf("expected corrupt snapshot preserved at %s: %v", aside, err)
	}
}
