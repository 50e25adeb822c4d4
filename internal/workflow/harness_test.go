package workflow_test

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"voiceprep/internal/artifact"
	"voiceprep/internal/config"
	"voiceprep/internal/devices"
	"voiceprep/internal/discovery"
	"voiceprep/internal/history"
	"voiceprep/internal/layout"
	"voiceprep/internal/lock"
	"voiceprep/internal/logging"
	"voiceprep/internal/reconcile"
	"voiceprep/internal/stages"
	"voiceprep/internal/testsupport"
	"voiceprep/internal/worker"
	"voiceprep/internal/workflow"
	"voiceprep/internal/workitem"
)

type exitError struct{ code int }

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }
func (e exitError) ExitCode() int { return e.code }

type memoryJournal struct {
	mu      sync.Mutex
	entries []history.Entry
}

func (j *memoryJournal) Record(_ context.Context, e history.Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, e)
	return nil
}

func (j *memoryJournal) Entries() []history.Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return slices.Clone(j.entries)
}

type countingFinder struct {
	inner workflow.Finder
	calls int
}

func (f *countingFinder) FindNext(ctx context.Context) (*workitem.WorkItem, error) {
	f.calls++
	return f.inner.FindNext(ctx)
}

type noDevices struct{}

func (noDevices) Query(context.Context) ([]devices.Info, []error, error) { return nil, nil, nil }

// workerFunc simulates the container for one "run" invocation.
type workerFunc func(ctx context.Context, t *testing.T, l layout.Layout, args []string) error

type harness struct {
	t          *testing.T
	cfg        *config.Config
	layout     layout.Layout
	lock       *lock.Memory
	exec       *testsupport.StubExecutor
	finder     *countingFinder
	journal    *memoryJournal
	controller *workflow.Controller

	mu      sync.Mutex
	worker  workerFunc
	running []string
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	maxAttempts int
	workerOpts  []worker.Option
}

func withMaxAttempts(n int) harnessOption {
	return func(c *harnessConfig) { c.maxAttempts = n }
}

func withWorkerOptions(opts ...worker.Option) harnessOption {
	return func(c *harnessConfig) { c.workerOpts = append(c.workerOpts, opts...) }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	hc := harnessConfig{maxAttempts: 3}
	for _, opt := range opts {
		opt(&hc)
	}
	cfg := testsupport.NewConfig(t, testsupport.WithMaxAttempts(hc.maxAttempts))
	l, err := layout.New(cfg.Paths.DataRoot, cfg.Paths.ContainerRoot, cfg.Paths.PipelineRoot)
	if err != nil {
		t.Fatalf("layout: %v", err)
	}

	h := &harness{t: t, cfg: cfg, layout: l, lock: lock.NewMemory(l), journal: &memoryJournal{}}
	h.worker = producesOutput
	h.exec = &testsupport.StubExecutor{Handler: h.handle}

	catalog := stages.Default()
	checker := artifact.NewChecker(testsupport.FakeAudio{})
	logger := logging.NewNop()
	h.finder = &countingFinder{inner: discovery.New(l, catalog, checker, logger)}
	selector := devices.NewSelector(noDevices{}, cfg.Devices.HalfPrecisionMinCapability, logger)
	dispatcher := worker.New(cfg, catalog, selector, logger, append([]worker.Option{worker.WithExecutor(h.exec)}, hc.workerOpts...)...)
	reconciler := reconcile.New(catalog, checker, logger)

	ids := 0
	h.controller = workflow.New(h.lock, h.finder, dispatcher, reconciler, cfg.Workflow.MaxAttempts, logger,
		workflow.WithJournal(h.journal),
		workflow.WithTickIDs(func() string {
			ids++
			return fmt.Sprintf("tick-%d", ids)
		}),
	)
	return h
}

func (h *harness) setWorker(fn workerFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.worker = fn
}

func (h *harness) setRunning(images ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.running = images
}

func (h *harness) handle(ctx context.Context, binary string, args []string, onLine func(string)) error {
	h.mu.Lock()
	fn, running := h.worker, h.running
	h.mu.Unlock()
	switch args[0] {
	case "ps":
		for _, image := range running {
			if slices.Contains(args, "ancestor="+image) {
				onLine(image)
			}
		}
		return nil
	case "run":
		onLine("worker starting")
		if fn == nil {
			return nil
		}
		return fn(ctx, h.t, h.layout, args)
	default:
		return nil
	}
}

func (h *harness) tick() (workflow.Report, error) {
	h.t.Helper()
	report, err := h.controller.Tick(context.Background())
	if h.lock.Held() {
		h.t.Fatalf("lock still held after tick with outcome %s", report.Outcome)
	}
	return report, err
}

func (h *harness) runs() int {
	return len(h.exec.CallsWith("run"))
}

func (h *harness) snapshot() *workitem.WorkItem {
	h.t.Helper()
	item, err := h.lock.PendingSnapshot(context.Background())
	if err != nil {
		h.t.Fatalf("PendingSnapshot: %v", err)
	}
	return item
}

func hostArg(t *testing.T, l layout.Layout, args []string, flag string) string {
	t.Helper()
	value, ok := testsupport.ArgValue(args, flag)
	if !ok {
		t.Fatalf("missing %s in %v", flag, args)
	}
	host, err := l.ToHost(value)
	if err != nil {
		t.Fatalf("map %s: %v", value, err)
	}
	return host
}

// producesOutput writes the artifact each worker image would produce.
func producesOutput(_ context.Context, t *testing.T, l layout.Layout, args []string) error {
	if out, ok := testsupport.ArgValue(args, "--output_file"); ok {
		host, err := l.ToHost(out)
		if err != nil {
			return err
		}
		testsupport.WriteFile(t, host, "0001.wav|F001|YUE|text\n")
		return nil
	}
	taskType, _ := testsupport.ArgValue(args, "--task_type")
	vocal := hostArg(t, l, args, "--vocal_dir")
	source, _ := testsupport.ArgValue(args, "--file_path")
	base := path.Base(source)
	switch taskType {
	case "extract":
		testsupport.WriteAudio(t, filepath.Join(vocal, "uvr"), base+".reformatted_vocals.wav")
	case "dereverb":
		testsupport.WriteAudio(t, vocal, base+"_main_vocal.wav")
	case "deecho":
		testsupport.WriteAudio(t, vocal, base+"_10.wav")
	case "slice":
		testsupport.WriteAudio(t, vocal, "0001.wav")
		testsupport.WriteAudio(t, vocal, "0002.wav")
	}
	return nil
}

func failsWith(code int) workerFunc {
	return func(context.Context, *testing.T, layout.Layout, []string) error { return exitError{code: code} }
}

func producesNothing(context.Context, *testing.T, layout.Layout, []string) error { return nil }

func hangs(ctx context.Context, _ *testing.T, _ layout.Layout, _ []string) error {
	<-ctx.Done()
	return ctx.Err()
}
