package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"voiceprep/internal/config"
	"voiceprep/internal/devices"
	"voiceprep/internal/logging"
	"voiceprep/internal/services"
	"voiceprep/internal/stages"
	"voiceprep/internal/workitem"
)

// TranscriptName is the file the transcription worker writes into the vocal
// directory.
const TranscriptName = "transcript.list"

const killTimeout = 30 * time.Second

// DeviceSelector picks the device for one dispatch.
type DeviceSelector interface {
	SelectBest(ctx context.Context) devices.Choice
}

// Result describes one finished dispatch.
type Result struct {
	Stage     stages.Stage
	Image     string
	Container string
	Device    devices.Choice
	ExitCode  int
	Tail      []string
	Duration  time.Duration
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(d *Dispatcher) {
		if exec != nil {
			d.exec = exec
		}
	}
}

// WithTimeout overrides the configured worker timeout. Zero disables it.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		d.timeout = timeout
	}
}

// Dispatcher runs stage workers in containers.
type Dispatcher struct {
	cfg       *config.Config
	catalog   stages.Catalog
	selector  DeviceSelector
	exec      Executor
	logger    *slog.Logger
	runtime   string
	timeout   time.Duration
	tailLines int
}

// New constructs a Dispatcher from configuration.
func New(cfg *config.Config, catalog stages.Catalog, selector DeviceSelector, logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		cfg:       cfg,
		catalog:   catalog,
		selector:  selector,
		exec:      commandExecutor{},
		logger:    logging.NewComponentLogger(logger, "worker"),
		runtime:   cfg.RuntimeBinary(),
		timeout:   time.Duration(cfg.Worker.TimeoutMinutes) * time.Minute,
		tailLines: cfg.Worker.OutputTailLines,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.tailLines <= 0 {
		d.tailLines = 40
	}
	return d
}

// Image returns the worker image configured for stage.
func (d *Dispatcher) Image(stage stages.Stage) string {
	return d.cfg.StageWorker(stage).Image
}

// Busy reports whether a container started from image is running.
func (d *Dispatcher) Busy(ctx context.Context, image string) (bool, error) {
	var running []string
	args := []string{"ps", "--filter", "ancestor=" + image, "--format", "{{.Image}}"}
	err := d.exec.Run(ctx, d.runtime, args, func(line string) {
		if line = strings.TrimSpace(line); line != "" {
			running = append(running, line)
		}
	})
	if err != nil {
		return false, services.Wrap(services.ErrExternalTool, "worker", "busy check", image, err)
	}
	return len(running) > 0, nil
}

// Run dispatches item to its stage worker and blocks until the container
// exits. A non-zero exit returns an error marked services.ErrExternalTool; a
// timeout kills the container and returns an error marked services.ErrTimeout.
func (d *Dispatcher) Run(ctx context.Context, item *workitem.WorkItem) (Result, error) {
	def, err := d.catalog.Lookup(item.Stage)
	if err != nil {
		return Result{}, services.Wrap(services.ErrConfiguration, "worker", "lookup stage", string(item.Stage), err)
	}
	image := d.Image(item.Stage)
	if image == "" {
		return Result{}, services.Wrap(services.ErrConfiguration, "worker", "resolve image", "no image for stage "+string(item.Stage), nil)
	}

	choice := devices.Choice{ID: "cpu", Index: -1}
	if d.selector != nil {
		choice = d.selector.SelectBest(ctx)
	}

	name := containerName(item.TickID)
	args := d.runArgs(def, item, image, name, choice)
	result := Result{Stage: item.Stage, Image: image, Container: name, Device: choice}

	logger := logging.WithContext(ctx, d.logger).With(
		logging.String(logging.FieldWorker, image),
		logging.String(logging.FieldDevice, choice.ID),
	)
	logger.Info("worker started",
		logging.String("container", name),
		logging.Bool("half", choice.Half),
		logging.String("source", item.ContainerSource),
	)
	logger.Debug("worker command", logging.String("args", strings.Join(args, " ")))

	runCtx := ctx
	cancel := func() {}
	if d.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, d.timeout)
	}
	defer cancel()

	tail := newTail(d.tailLines)
	started := time.Now()
	runErr := d.exec.Run(runCtx, d.runtime, args, func(line string) {
		tail.add(line)
		logger.Info(line)
	})
	result.Duration = time.Since(started)
	result.Tail = tail.lines()

	if runErr == nil {
		logger.Info("worker finished", logging.Duration("duration", result.Duration.Round(time.Second)))
		return result, nil
	}

	result.ExitCode = exitCode(runErr)
	if runCtx.Err() != nil {
		d.kill(name, logger)
		if ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			result.ExitCode = -1
			return result, services.Wrap(services.ErrTimeout, "worker", "run "+string(item.Stage),
				fmt.Sprintf("no exit after %s", d.timeout), runErr)
		}
		return result, ctx.Err()
	}
	return result, services.Wrap(services.ErrExternalTool, "worker", "run "+string(item.Stage),
		fmt.Sprintf("%s exited with code %d", image, result.ExitCode), runErr)
}

func (d *Dispatcher) kill(name string, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), killTimeout)
	defer cancel()
	if err := d.exec.Run(ctx, d.runtime, []string{"kill", name}, nil); err != nil {
		logging.WarnWithContext(logger, "failed to kill worker container", "worker_kill_failed",
			logging.Error(err),
			logging.String("container", name),
			logging.String(logging.FieldErrorHint, "stop the container manually with the runtime CLI"),
			logging.String(logging.FieldImpact, "the worker may still be using the device"),
		)
		return
	}
	logger.Warn("worker container killed", logging.String("container", name))
}

func (d *Dispatcher) runArgs(def stages.Definition, item *workitem.WorkItem, image, name string, choice devices.Choice) []string {
	args := []string{
		"run", "--rm",
		"--name", name,
		"--label", "voiceprep.stage=" + string(def.Stage),
	}
	if !choice.CPU() {
		args = append(args, "--gpus", "device="+strconv.Itoa(choice.Index))
	}
	args = append(args, "-v", d.cfg.Paths.DataRoot+":"+d.cfg.Paths.ContainerRoot)
	args = append(args, d.cfg.Worker.ExtraArgs...)
	args = append(args, image)
	return append(args, d.stageArgs(def, item, choice)...)
}

func (d *Dispatcher) stageArgs(def stages.Definition, item *workitem.WorkItem, choice devices.Choice) []string {
	switch def.Args {
	case stages.ArgsTranscriber:
		precision := "float32"
		if choice.Half {
			precision = "float16"
		}
		return []string{
			"--input_dir", item.ContainerSliceDir,
			"--output_file", path.Join(item.ContainerVocalDir, TranscriptName),
			"--language", d.cfg.Transcribe.Language,
			"--model_size", d.cfg.Transcribe.ModelSize,
			"--precision", precision,
		}
	default:
		args := []string{
			"--task_type", def.TaskType,
			"--file_path", item.ContainerSource,
			"--vocal_dir", item.ContainerVocalDir,
			"--inst_dir", item.ContainerInstrumentDir,
		}
		if model := d.cfg.StageWorker(def.Stage).Model; model != "" {
			args = append(args, "--model_name", model)
		}
		return append(args, "--is_half", strconv.FormatBool(choice.Half))
	}
}

func containerName(tickID string) string {
	if tickID == "" {
		tickID = uuid.NewString()
	}
	return "voiceprep-" + tickID
}

func exitCode(err error) int {
	var coded interface{ ExitCode() int }
	if errors.As(err, &coded) {
		return coded.ExitCode()
	}
	return -1
}

type tailBuffer struct {
	max  int
	buf  []string
	next int
	full bool
}

func newTail(max int) *tailBuffer {
	return &tailBuffer{max: max, buf: make([]string, 0, max)}
}

func (t *tailBuffer) add(line string) {
	if len(t.buf) < t.max {
		t.buf = append(t.buf, line)
		return
	}
	t.buf[t.next] = line
	t.next = (t.next + 1) % t.max
	t.full = true
}

func (t *tailBuffer) lines() []string {
	if !t.full {
		return append([]string(nil), t.buf...)
	}
	out := make([]string, 0, t.max)
	out = append(out, t.buf[t.next:]...)
	return append(out, t.buf[:t.next]...)
}
