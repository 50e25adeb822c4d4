package workflow

import (
	"time"

	"voiceprep/internal/workitem"
)

// Outcome classifies how a tick ended.
type Outcome string

const (
	OutcomeLockHeld     Outcome = "lock_held"
	OutcomeIdle         Outcome = "idle"
	OutcomeBusy         Outcome = "busy"
	OutcomeSucceeded    Outcome = "succeeded"
	OutcomeWorkerFailed Outcome = "worker_failed"
	OutcomeNotSettled   Outcome = "not_settled"
	OutcomeHeld         Outcome = "held"
	OutcomeTimedOut     Outcome = "timed_out"
	OutcomeError        Outcome = "error"
)

// Alarm reports whether the outcome should fail the process. Worker failures
// and missing output are routine and retried by later ticks.
func (o Outcome) Alarm() bool {
	return o == OutcomeTimedOut || o == OutcomeError
}

// Report summarizes one tick.
type Report struct {
	TickID     string
	Outcome    Outcome
	Item       *workitem.WorkItem
	Resumed    bool
	Attempts   int
	Device     string
	ExitCode   int
	Tail       []string
	Message    string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration is the wall time of the tick.
func (r Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
