package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"voiceprep/internal/artifact"
	"voiceprep/internal/fileutil"
	"voiceprep/internal/logging"
	"voiceprep/internal/services"
	"voiceprep/internal/stages"
	"voiceprep/internal/workitem"
)

// Result describes a settled stage.
type Result struct {
	Stage       stages.Stage
	Destination string
	// Moved lists the host paths the matched outputs were moved to.
	Moved []string
	// Rejected lists matches that failed validation and were left in place.
	Rejected []string
	// Relocated is the new path of the raw source, set only for extract.
	Relocated string
	// Recovered is set when an earlier interrupted settlement was completed
	// instead of moving fresh worker output.
	Recovered bool
}

// Reconciler moves validated worker output into the item directory.
type Reconciler struct {
	catalog stages.Catalog
	checker *artifact.Checker
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithClock overrides the time source used to name set-aside directories.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		if now != nil {
			r.now = now
		}
	}
}

// New constructs a Reconciler.
func New(catalog stages.Catalog, checker *artifact.Checker, logger *slog.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		catalog: catalog,
		checker: checker,
		logger:  logging.NewComponentLogger(logger, "reconcile"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Prepare empties the scratch directories of item and removes any staging
// directory left by an earlier attempt, so only output of the coming dispatch
// can be settled.
func (r *Reconciler) Prepare(item *workitem.WorkItem) error {
	def, err := r.catalog.Lookup(item.Stage)
	if err != nil {
		return err
	}
	for _, dir := range []string{item.VocalDir, item.InstrumentDir} {
		if err := fileutil.ResetDir(dir); err != nil {
			return services.Wrap(services.ErrTransient, "reconcile", "prepare", "reset scratch dir", err)
		}
	}
	if err := os.RemoveAll(stagingDir(item, def)); err != nil {
		return services.Wrap(services.ErrTransient, "reconcile", "prepare", "remove staging dir", err)
	}
	return nil
}

// Settle looks for the stage output in the item's vocal directory, validates
// it and moves it to the stage destination. It returns an error marked
// services.ErrNotFound when nothing valid is present; a second Settle after a
// successful one therefore reports not found without touching the tree.
func (r *Reconciler) Settle(ctx context.Context, item *workitem.WorkItem) (Result, error) {
	def, err := r.catalog.Lookup(item.Stage)
	if err != nil {
		return Result{}, services.Wrap(services.ErrConfiguration, "reconcile", "lookup stage", string(item.Stage), err)
	}
	logger := logging.WithContext(ctx, r.logger)
	result := Result{Stage: item.Stage, Destination: filepath.Join(item.ItemDir, def.Destination)}

	matches, err := r.matches(item.VocalDir, def.OutputGlob)
	if err != nil {
		return result, services.Wrap(services.ErrValidation, "reconcile", "match outputs", def.OutputGlob, err)
	}

	switch def.Collect {
	case stages.CollectAll:
		err = r.collectAll(ctx, logger, def, item, matches, &result)
	default:
		err = r.collectFirst(ctx, logger, def, item, matches, &result)
	}
	if err != nil {
		return result, err
	}

	if def.RelocateSource {
		relocated, err := r.relocateSource(item)
		if err != nil {
			return result, err
		}
		result.Relocated = relocated
	}
	logger.Info("stage settled",
		logging.String("destination", result.Destination),
		logging.Int("moved", len(result.Moved)),
		logging.Bool("recovered", result.Recovered),
	)
	return result, nil
}

// Completed reports whether the stage output of item already sits valid at its
// destination, as it does after a settlement whose snapshot was never cleared.
// A raw source still waiting to be relocated is moved on the way.
func (r *Reconciler) Completed(ctx context.Context, item *workitem.WorkItem) (Result, bool, error) {
	def, err := r.catalog.Lookup(item.Stage)
	if err != nil {
		return Result{}, false, services.Wrap(services.ErrConfiguration, "reconcile", "lookup stage", string(item.Stage), err)
	}
	result := Result{Stage: item.Stage, Destination: filepath.Join(item.ItemDir, def.Destination)}
	ok, err := r.checker.Valid(ctx, result.Destination, def.Output.Kind)
	if err != nil || !ok {
		return result, false, err
	}
	if def.RelocateSource {
		relocated, err := r.relocateSource(item)
		if err != nil {
			return result, false, err
		}
		result.Relocated = relocated
	}
	result.Recovered = true
	logging.WithContext(ctx, r.logger).Info("stage output already settled",
		logging.String("destination", result.Destination),
		logging.Bool("relocated", result.Relocated != ""),
	)
	return result, true, nil
}

func (r *Reconciler) collectFirst(ctx context.Context, logger *slog.Logger, def stages.Definition, item *workitem.WorkItem, matches []string, result *Result) error {
	for _, match := range matches {
		ok, err := r.checker.Valid(ctx, match, def.Output.Kind)
		if err != nil {
			return err
		}
		if !ok {
			r.reject(logger, match, result)
			continue
		}
		if err := os.MkdirAll(item.ItemDir, 0o755); err != nil {
			return services.Wrap(services.ErrTransient, "reconcile", "create item dir", item.ItemDir, err)
		}
		if err := fileutil.MoveFile(match, result.Destination); err != nil {
			return services.Wrap(services.ErrTransient, "reconcile", "move output", match, err)
		}
		result.Moved = []string{result.Destination}
		return nil
	}

	// Extract moves two files; a crash between them leaves the destination
	// settled and the raw source still in the character directory.
	if def.RelocateSource && len(result.Rejected) == 0 && sourcePending(item) {
		ok, err := r.checker.Valid(ctx, result.Destination, def.Output.Kind)
		if err != nil {
			return err
		}
		if ok {
			result.Recovered = true
			return nil
		}
	}
	return r.notFound(logger, def, item, result)
}

func (r *Reconciler) collectAll(ctx context.Context, logger *slog.Logger, def stages.Definition, item *workitem.WorkItem, matches []string, result *Result) error {
	staging := stagingDir(item, def)
	if len(matches) > 0 {
		if err := os.MkdirAll(staging, 0o755); err != nil {
			return services.Wrap(services.ErrTransient, "reconcile", "create staging dir", staging, err)
		}
	}
	for _, match := range matches {
		ok, err := r.checker.Valid(ctx, match, stages.KindAudioFile)
		if err != nil {
			return err
		}
		if !ok {
			r.reject(logger, match, result)
			continue
		}
		if err := fileutil.MoveFile(match, filepath.Join(staging, filepath.Base(match))); err != nil {
			return services.Wrap(services.ErrTransient, "reconcile", "stage output", match, err)
		}
	}

	// The staging directory may also hold files from a settlement that was
	// interrupted before the final rename.
	staged, err := r.checker.CountAudio(ctx, staging, 0)
	if err != nil {
		return err
	}
	if staged == 0 {
		_ = os.Remove(staging)
		return r.notFound(logger, def, item, result)
	}

	if err := r.clearDestination(ctx, logger, result.Destination); err != nil {
		return err
	}
	if err := os.Rename(staging, result.Destination); err != nil {
		return services.Wrap(services.ErrTransient, "reconcile", "publish outputs", staging, err)
	}
	if err := fileutil.SyncDir(item.ItemDir); err != nil {
		return services.Wrap(services.ErrTransient, "reconcile", "sync item dir", item.ItemDir, err)
	}
	files, err := artifact.AudioFiles(result.Destination)
	if err != nil {
		return services.Wrap(services.ErrTransient, "reconcile", "list outputs", result.Destination, err)
	}
	result.Moved = files
	return nil
}

// clearDestination makes room for the staging directory. An empty destination
// is removed. One holding no valid audio is renamed to a hidden sibling and
// kept for inspection. One that already holds valid audio is never replaced.
func (r *Reconciler) clearDestination(ctx context.Context, logger *slog.Logger, dest string) error {
	entries, err := os.ReadDir(dest)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil
	case err != nil:
		return services.Wrap(services.ErrValidation, "reconcile", "inspect destination", dest, err)
	case len(entries) == 0:
		if err := os.Remove(dest); err != nil {
			return services.Wrap(services.ErrTransient, "reconcile", "remove empty destination", dest, err)
		}
		return nil
	}

	valid, err := r.checker.CountAudio(ctx, dest, 1)
	if err != nil {
		return err
	}
	if valid > 0 {
		return services.Wrap(services.ErrValidation, "reconcile", "publish outputs",
			fmt.Sprintf("destination %s already holds valid audio", dest), nil)
	}

	aside := rejectedName(dest, r.now())
	if err := os.Rename(dest, aside); err != nil {
		return services.Wrap(services.ErrTransient, "reconcile", "set aside destination", dest, err)
	}
	logging.WarnWithContext(logger, "destination held no valid audio and was set aside", "destination_rejected",
		logging.String("path", dest),
		logging.String("moved_to", aside),
		logging.Int("entries", len(entries)),
		logging.String(logging.FieldErrorHint, "inspect the set-aside directory and delete it when done"),
	)
	return nil
}

// rejectedName returns an unused hidden sibling of dest such as
// .slice.rejected-20260102T150405Z.
func rejectedName(dest string, now time.Time) string {
	base := filepath.Join(filepath.Dir(dest), "."+filepath.Base(dest)+".rejected-"+now.UTC().Format("20060102T150405Z"))
	candidate := base
	for n := 2; ; n++ {
		if _, err := os.Lstat(candidate); err != nil {
			return candidate
		}
		candidate = fmt.Sprintf("%s-%d", base, n)
	}
}

func (r *Reconciler) relocateSource(item *workitem.WorkItem) (string, error) {
	if !sourcePending(item) {
		return "", nil
	}
	dest := filepath.Join(item.ItemDir, stages.OriginalFilePrefix+filepath.Ext(item.SourcePath))
	if err := fileutil.MoveFile(item.SourcePath, dest); err != nil {
		return "", services.Wrap(services.ErrTransient, "reconcile", "relocate source", item.SourcePath, err)
	}
	r.logger.Info("raw source relocated", logging.String("path", dest))
	return dest, nil
}

// sourcePending reports whether the raw source still sits directly in the
// character directory.
func sourcePending(item *workitem.WorkItem) bool {
	if filepath.Dir(item.SourcePath) != item.CharacterDir {
		return false
	}
	info, err := os.Stat(item.SourcePath)
	return err == nil && info.Mode().IsRegular()
}

func (r *Reconciler) reject(logger *slog.Logger, match string, result *Result) {
	result.Rejected = append(result.Rejected, match)
	logging.ErrorWithContext(logger, "worker output failed validation", "artifact_invalid",
		logging.String("path", match),
		logging.String(logging.FieldErrorHint, "inspect or remove the file; it is left in place"),
	)
}

func (r *Reconciler) notFound(logger *slog.Logger, def stages.Definition, item *workitem.WorkItem, result *Result) error {
	logging.WarnWithContext(logger, "stage output not found", "output_missing",
		logging.String("pattern", def.OutputGlob),
		logging.String("dir", item.VocalDir),
		logging.Int("rejected", len(result.Rejected)),
		logging.String(logging.FieldImpact, "item stays eligible for this stage"),
	)
	return services.Wrap(services.ErrNotFound, "reconcile", "settle "+string(item.Stage),
		fmt.Sprintf("no valid %s under %s", def.OutputGlob, item.VocalDir), nil)
}

// matches returns the regular, non-hidden files below dir matching pattern as
// sorted host paths. A missing dir yields no matches.
func (r *Reconciler) matches(dir, pattern string) ([]string, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, nil
	}
	rel, err := doublestar.Glob(os.DirFS(dir), pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rel))
	for _, name := range rel {
		if hidden(name) {
			continue
		}
		out = append(out, filepath.Join(dir, filepath.FromSlash(name)))
	}
	sort.Strings(out)
	return out, nil
}

func hidden(rel string) bool {
	for _, part := range strings.Split(rel, "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}

func stagingDir(item *workitem.WorkItem, def stages.Definition) string {
	return filepath.Join(item.ItemDir, "."+def.Destination+".staging")
}
