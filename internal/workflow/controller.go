package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"voiceprep/internal/discovery"
	"voiceprep/internal/history"
	"voiceprep/internal/lock"
	"voiceprep/internal/logging"
	"voiceprep/internal/reconcile"
	"voiceprep/internal/services"
	"voiceprep/internal/stages"
	"voiceprep/internal/worker"
	"voiceprep/internal/workitem"
)

// Finder returns the next eligible work item, or nil.
type Finder interface {
	FindNext(ctx context.Context) (*workitem.WorkItem, error)
}

// Runner dispatches work items to stage workers.
type Runner interface {
	Image(stage stages.Stage) string
	Busy(ctx context.Context, image string) (bool, error)
	Run(ctx context.Context, item *workitem.WorkItem) (worker.Result, error)
}

// Settler prepares scratch space and settles worker output. Completed
// reports a stage whose output already sits at its destination.
type Settler interface {
	Prepare(item *workitem.WorkItem) error
	Settle(ctx context.Context, item *workitem.WorkItem) (reconcile.Result, error)
	Completed(ctx context.Context, item *workitem.WorkItem) (reconcile.Result, bool, error)
}

// Journal records ticks that selected an item.
type Journal interface {
	Record(ctx context.Context, entry history.Entry) error
}

// Option configures a Controller.
type Option func(*Controller)

// WithJournal enables the tick journal.
func WithJournal(j Journal) Option {
	return func(c *Controller) { c.journal = j }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithTickIDs overrides tick id generation.
func WithTickIDs(next func() string) Option {
	return func(c *Controller) {
		if next != nil {
			c.newID = next
		}
	}
}

// Controller runs ticks: acquire the lock, pick one item, dispatch it and
// settle its output.
type Controller struct {
	lock        lock.SingleFlight
	finder      Finder
	runner      Runner
	settler     Settler
	journal     Journal
	maxAttempts int
	logger      *slog.Logger
	now         func() time.Time
	newID       func() string
}

// New constructs a Controller. maxAttempts bounds dispatches of one stage for
// one item before the item is held.
func New(l lock.SingleFlight, finder Finder, runner Runner, settler Settler, maxAttempts int, logger *slog.Logger, opts ...Option) *Controller {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	c := &Controller{
		lock:        l,
		finder:      finder,
		runner:      runner,
		settler:     settler,
		maxAttempts: maxAttempts,
		logger:      logging.NewComponentLogger(logger, "workflow"),
		now:         time.Now,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Tick runs one controller invocation. The lock is released on every path,
// including panics, which are recovered into an error. The returned error is
// non-nil exactly when the outcome is an alarm.
func (c *Controller) Tick(ctx context.Context) (report Report, err error) {
	report = Report{TickID: c.newID(), StartedAt: c.now()}
	ctx = services.WithTickID(ctx, report.TickID)

	acquired, err := c.lock.TryAcquire(ctx)
	if err != nil {
		report.Outcome = OutcomeError
		err = fmt.Errorf("acquire lock: %w", err)
		c.finish(ctx, &report, err)
		return report, err
	}
	if !acquired {
		report.Outcome = OutcomeLockHeld
		report.Message = "another tick is running"
		c.finish(ctx, &report, nil)
		return report, nil
	}

	defer func() {
		if releaseErr := c.lock.Release(); releaseErr != nil {
			logging.ErrorWithContext(logging.WithContext(ctx, c.logger), "failed to release lock", "lock_release_failed",
				logging.Error(releaseErr),
				logging.String(logging.FieldErrorHint, "remove the lock file once no tick is running"),
			)
			if err == nil {
				report.Outcome = OutcomeError
				err = fmt.Errorf("release lock: %w", releaseErr)
			}
		}
	}()
	defer func() {
		if recovered := recover(); recovered != nil {
			report.Outcome = OutcomeError
			err = fmt.Errorf("tick panicked: %v", recovered)
			c.logger.Error("tick panicked",
				logging.String("panic", fmt.Sprint(recovered)),
				logging.String("stack", string(debug.Stack())),
			)
			c.finish(ctx, &report, err)
		}
	}()

	err = c.run(ctx, &report)
	if err != nil && !report.Outcome.Alarm() {
		report.Outcome = OutcomeError
	}
	c.finish(ctx, &report, err)
	return report, err
}

func (c *Controller) run(ctx context.Context, report *Report) error {
	item, err := c.lock.PendingSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	if item != nil {
		report.Resumed = true
	} else {
		item, err = c.finder.FindNext(ctx)
		if err != nil {
			return fmt.Errorf("discover work: %w", err)
		}
		if item == nil {
			report.Outcome = OutcomeIdle
			report.Message = "nothing eligible"
			return nil
		}
	}
	report.Item = item
	report.Attempts = item.Attempts

	ctx = services.WithStage(ctx, string(item.Stage))
	ctx = services.WithItemKey(ctx, item.ItemKey())
	logger := logging.WithContext(ctx, c.logger)

	image := c.runner.Image(item.Stage)
	busy, err := c.runner.Busy(ctx, image)
	if err != nil {
		logging.WarnWithContext(logger, "worker busy check failed", "busy_check_failed",
			logging.Error(err),
			logging.String(logging.FieldWorker, image),
			logging.String(logging.FieldErrorHint, "check that the container runtime is reachable"),
			logging.String(logging.FieldImpact, "tick skipped, retried on the next tick"),
		)
		report.Outcome = OutcomeBusy
		report.Message = "busy check failed: " + err.Error()
		return nil
	}
	if busy {
		report.Outcome = OutcomeBusy
		report.Message = image + " is already running"
		return nil
	}

	if item.InProcess {
		done, err := c.completed(ctx, item, report)
		if err != nil || done {
			return err
		}
		settled, err := c.settle(ctx, item, report)
		if err != nil || settled {
			return err
		}
		logger.Info("no output from earlier dispatch, dispatching again")
	}

	item.Attempts++
	item.TickID = report.TickID
	item.DispatchedAt = c.now()
	report.Attempts = item.Attempts
	if err := c.lock.Persist(item); err != nil {
		return fmt.Errorf("persist snapshot: %w", err)
	}
	if err := c.settler.Prepare(item); err != nil {
		return fmt.Errorf("prepare scratch dirs: %w", err)
	}

	logger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String(logging.FieldWorker, image),
		logging.Int("attempt", item.Attempts),
		logging.Bool("resumed", report.Resumed),
		logging.String("source", item.SourcePath),
	)
	result, runErr := c.runner.Run(ctx, item)
	report.Device = result.Device.ID
	report.ExitCode = result.ExitCode
	report.Tail = result.Tail

	switch {
	case runErr == nil:
	case errors.Is(runErr, services.ErrTimeout):
		report.Outcome = OutcomeTimedOut
		report.Message = runErr.Error()
		logTail(logger, "worker timed out", "worker_timeout", runErr, result.Tail)
		return runErr
	case ctx.Err() != nil:
		return runErr
	case errors.Is(runErr, services.ErrExternalTool):
		report.Outcome = OutcomeWorkerFailed
		report.Message = runErr.Error()
		logTail(logger, "worker failed", "worker_failed", runErr, result.Tail)
		return c.holdIfExhausted(ctx, item, report)
	default:
		return runErr
	}

	settled, err := c.settle(ctx, item, report)
	if err != nil || settled {
		return err
	}
	return c.holdIfExhausted(ctx, item, report)
}

// completed finishes a resumed item whose stage output was settled by a tick
// that died before clearing the snapshot.
func (c *Controller) completed(ctx context.Context, item *workitem.WorkItem, report *Report) (bool, error) {
	result, done, err := c.settler.Completed(ctx, item)
	if err != nil {
		return false, fmt.Errorf("check settled output: %w", err)
	}
	if !done {
		return false, nil
	}
	return true, c.succeed(report, result)
}

// settle reports true when the item settled and the snapshot was cleared.
// Missing output, or output that cannot be published, yields false with
// OutcomeNotSettled recorded so the attempt counts toward a hold.
func (c *Controller) settle(ctx context.Context, item *workitem.WorkItem, report *Report) (bool, error) {
	result, err := c.settler.Settle(ctx, item)
	switch {
	case errors.Is(err, services.ErrNotFound):
		report.Outcome = OutcomeNotSettled
		report.Message = err.Error()
		return false, nil
	case errors.Is(err, services.ErrValidation):
		report.Outcome = OutcomeNotSettled
		report.Message = err.Error()
		logging.WarnWithContext(logging.WithContext(ctx, c.logger), "stage output could not be published", "settle_rejected",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "inspect the item directory"),
			logging.String(logging.FieldImpact, "counts as a failed attempt"),
		)
		return false, nil
	case err != nil:
		return false, fmt.Errorf("settle: %w", err)
	}
	return true, c.succeed(report, result)
}

func (c *Controller) succeed(report *Report, result reconcile.Result) error {
	if err := c.lock.ClearSnapshot(); err != nil {
		return fmt.Errorf("clear snapshot after settlement: %w", err)
	}
	report.Outcome = OutcomeSucceeded
	report.Message = "settled " + result.Destination
	if result.Recovered {
		report.Message += " (completed interrupted settlement)"
	}
	return nil
}

// holdIfExhausted parks the item once it has used every attempt so discovery
// moves on to other work.
func (c *Controller) holdIfExhausted(ctx context.Context, item *workitem.WorkItem, report *Report) error {
	if item.Attempts < c.maxAttempts {
		return nil
	}
	reason := fmt.Sprintf("%s after %d attempts: %s", report.Outcome, item.Attempts, report.Message)
	if err := discovery.WriteHold(item.ItemDir, item.Stage, reason, c.now()); err != nil {
		return fmt.Errorf("write hold marker: %w", err)
	}
	if err := c.lock.ClearSnapshot(); err != nil {
		return fmt.Errorf("clear snapshot of held item: %w", err)
	}
	logging.WarnWithContext(logging.WithContext(ctx, c.logger), "item held", "item_held",
		logging.Int("attempts", item.Attempts),
		logging.String("last_outcome", string(report.Outcome)),
		logging.String(logging.FieldErrorHint, "fix the cause, then run voiceprep release "+item.Character+" "+item.Item),
		logging.String(logging.FieldImpact, "item skipped until released"),
	)
	report.Outcome = OutcomeHeld
	report.Message = reason
	return nil
}

func (c *Controller) finish(ctx context.Context, report *Report, err error) {
	report.FinishedAt = c.now()
	if err != nil && report.Message == "" {
		report.Message = err.Error()
	}
	if report.Item != nil {
		c.record(ctx, report)
	}
	c.summarize(ctx, report, err)
}

func (c *Controller) record(ctx context.Context, report *Report) {
	if c.journal == nil {
		return
	}
	item := report.Item
	entry := history.Entry{
		TickID:     report.TickID,
		StartedAt:  report.StartedAt,
		FinishedAt: report.FinishedAt,
		Stage:      string(item.Stage),
		Character:  item.Character,
		Item:       item.Item,
		Outcome:    string(report.Outcome),
		Resumed:    report.Resumed,
		Attempts:   report.Attempts,
		Device:     report.Device,
		ExitCode:   report.ExitCode,
		Message:    report.Message,
	}
	// The tick's own context may already be cancelled.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := c.journal.Record(recordCtx, entry); err != nil {
		logging.WarnWithContext(c.logger, "failed to journal tick", "journal_write_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "history omits this tick"),
		)
	}
}

func (c *Controller) summarize(ctx context.Context, report *Report, err error) {
	logger := logging.WithContext(ctx, c.logger)
	attrs := []logging.Attr{
		logging.String(logging.FieldOutcome, string(report.Outcome)),
		logging.Duration("duration", report.Duration().Round(time.Millisecond)),
	}
	if item := report.Item; item != nil {
		attrs = append(attrs, logging.Stage(string(item.Stage)))
		attrs = append(attrs, logging.Item(item.Character, item.Item)...)
		attrs = append(attrs,
			logging.Int("attempts", report.Attempts),
			logging.Bool("resumed", report.Resumed),
		)
	}
	if report.Device != "" {
		attrs = append(attrs, logging.String(logging.FieldDevice, report.Device))
	}
	if report.Message != "" {
		attrs = append(attrs, logging.String("detail", report.Message))
	}

	msg := summaryMessage(report)
	switch {
	case err != nil:
		logging.ErrorWithContext(logger, msg, "tick_failed", append(attrs, logging.Error(err))...)
	case report.Outcome == OutcomeWorkerFailed || report.Outcome == OutcomeNotSettled || report.Outcome == OutcomeHeld:
		logging.WarnWithContext(logger, msg, "tick_summary", attrs...)
	default:
		logger.Info(msg, logging.Args(append(attrs, logging.String(logging.FieldEventType, "tick_summary"))...)...)
	}
}

func summaryMessage(report *Report) string {
	switch report.Outcome {
	case OutcomeLockHeld:
		return "tick skipped: lock held"
	case OutcomeIdle:
		return "tick skipped: nothing eligible"
	case OutcomeBusy:
		return "tick skipped: worker busy"
	}
	if report.Item == nil {
		return "tick " + strings.ReplaceAll(string(report.Outcome), "_", " ")
	}
	return fmt.Sprintf("%s stage for %s: %s", report.Item.Stage.Label(), report.Item.ItemKey(),
		strings.ReplaceAll(string(report.Outcome), "_", " "))
}

func logTail(logger *slog.Logger, msg, eventType string, err error, tail []string) {
	logging.ErrorWithContext(logger, msg, eventType,
		logging.Error(err),
		logging.String("output_tail", strings.Join(tail, "\n")),
		logging.String(logging.FieldErrorHint, "inspect the worker output above"),
	)
}
