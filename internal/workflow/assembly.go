package workflow

import (
	"fmt"
	"log/slog"

	"voiceprep/internal/artifact"
	"voiceprep/internal/config"
	"voiceprep/internal/devices"
	"voiceprep/internal/discovery"
	"voiceprep/internal/history"
	"voiceprep/internal/layout"
	"voiceprep/internal/lock"
	"voiceprep/internal/logging"
	"voiceprep/internal/media/ffprobe"
	"voiceprep/internal/reconcile"
	"voiceprep/internal/stages"
	"voiceprep/internal/worker"
)

// Assembly is the set of production components built from one configuration.
// Commands other than tick use the individual components read-only.
type Assembly struct {
	Config     *config.Config
	Layout     layout.Layout
	Catalog    stages.Catalog
	Lock       *lock.FileLock
	Discovery  *discovery.Discovery
	Selector   *devices.Selector
	Dispatcher *worker.Dispatcher
	Reconciler *reconcile.Reconciler
	History    *history.Store
	Controller *Controller
}

// AssembleOption customizes the production wiring, mostly for tests.
type AssembleOption func(*assembleOptions)

type assembleOptions struct {
	prober    artifact.AudioProber
	querier   devices.Querier
	workerOp  []worker.Option
	noJournal bool
}

// WithAudioProber replaces ffprobe.
func WithAudioProber(p artifact.AudioProber) AssembleOption {
	return func(o *assembleOptions) { o.prober = p }
}

// WithDeviceQuerier replaces the nvidia-smi query.
func WithDeviceQuerier(q devices.Querier) AssembleOption {
	return func(o *assembleOptions) { o.querier = q }
}

// WithWorkerOptions forwards options to the dispatcher.
func WithWorkerOptions(opts ...worker.Option) AssembleOption {
	return func(o *assembleOptions) { o.workerOp = append(o.workerOp, opts...) }
}

// WithoutJournal skips opening the history database.
func WithoutJournal() AssembleOption {
	return func(o *assembleOptions) { o.noJournal = true }
}

// Assemble wires the production components. A history database that cannot
// be opened is logged and the controller runs without a journal.
func Assemble(cfg *config.Config, logger *slog.Logger, opts ...AssembleOption) (*Assembly, error) {
	options := assembleOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	l, err := layout.New(cfg.Paths.DataRoot, cfg.Paths.ContainerRoot, cfg.Paths.PipelineRoot)
	if err != nil {
		return nil, fmt.Errorf("build layout: %w", err)
	}
	if options.prober == nil {
		options.prober = ffprobe.NewProber(cfg.FFprobeBinary())
	}
	if options.querier == nil {
		options.querier = devices.NewSMIQuerier(cfg.Devices.QueryBinary)
	}

	catalog := stages.Default()
	checker := artifact.NewChecker(options.prober)
	a := &Assembly{
		Config:     cfg,
		Layout:     l,
		Catalog:    catalog,
		Lock:       lock.NewFileLock(l, cfg.Paths.LockFile, cfg.Paths.SnapshotFile, logger),
		Discovery:  discovery.New(l, catalog, checker, logger),
		Selector:   devices.NewSelector(options.querier, cfg.Devices.HalfPrecisionMinCapability, logger),
		Reconciler: reconcile.New(catalog, checker, logger),
	}
	a.Dispatcher = worker.New(cfg, catalog, a.Selector, logger, options.workerOp...)

	var controllerOpts []Option
	if !options.noJournal {
		store, err := history.Open(cfg.Paths.HistoryDB)
		if err != nil {
			logging.WarnWithContext(logger, "history journal unavailable", "history_open_failed",
				logging.Error(err),
				logging.String("path", cfg.Paths.HistoryDB),
				logging.String(logging.FieldImpact, "ticks are not journaled"),
			)
		} else {
			a.History = store
			controllerOpts = append(controllerOpts, WithJournal(store))
		}
	}
	a.Controller = New(a.Lock, a.Discovery, a.Dispatcher, a.Reconciler, cfg.Workflow.MaxAttempts, logger, controllerOpts...)
	return a, nil
}

// Close releases the history database.
func (a *Assembly) Close() error {
	if a == nil || a.History == nil {
		return nil
	}
	return a.History.Close()
}
