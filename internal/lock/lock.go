package lock

import (
	"context"

	"voiceprep/internal/workitem"
)

// SingleFlight guarantees at most one tick runs at a time and carries the
// in-flight work item across ticks.
//
// The sentinel lives for one tick. The snapshot lives from dispatch until the
// item settles, so a tick that starts after a crash resumes the same item.
type SingleFlight interface {
	// TryAcquire returns false without side effects when another live tick
	// holds the lock.
	TryAcquire(ctx context.Context) (bool, error)
	Release() error
	// PendingSnapshot returns the persisted in-flight item, or nil.
	PendingSnapshot(ctx context.Context) (*workitem.WorkItem, error)
	Persist(item *workitem.WorkItem) error
	ClearSnapshot() error
}
