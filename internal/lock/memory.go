package lock

import (
	"context"
	"sync"

	"voiceprep/internal/layout"
	"voiceprep/internal/workitem"
)

// Memory is an in-process SingleFlight for tests. The snapshot round-trips
// through the same encoding as FileLock.
type Memory struct {
	layout layout.Layout

	mu       sync.Mutex
	held     bool
	external bool
	snapshot []byte

	// Persists counts successful Persist calls.
	Persists int
}

// NewMemory returns an unlocked Memory with no snapshot.
func NewMemory(l layout.Layout) *Memory {
	return &Memory{layout: l}
}

// HoldExternally simulates another live tick owning the lock.
func (m *Memory) HoldExternally(held bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.external = held
}

// Held reports whether this Memory is currently acquired.
func (m *Memory) Held() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.held
}

func (m *Memory) TryAcquire(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.external || m.held {
		return false, nil
	}
	m.held = true
	return true, nil
}

func (m *Memory) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.held = false
	return nil
}

func (m *Memory) PendingSnapshot(ctx context.Context) (*workitem.WorkItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	data := m.snapshot
	m.mu.Unlock()
	if data == nil {
		return nil, nil
	}
	return workitem.Unmarshal(m.layout, data)
}

func (m *Memory) Persist(item *workitem.WorkItem) error {
	data, err := workitem.Marshal(item)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot = data
	m.Persists++
	return nil
}

func (m *Memory) ClearSnapshot() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot = nil
	return nil
}

// SnapshotBytes returns the raw persisted snapshot, or nil.
func (m *Memory) SnapshotBytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.snapshot...)
}
