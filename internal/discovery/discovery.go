package discovery

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"voiceprep/internal/artifact"
	"voiceprep/internal/layout"
	"voiceprep/internal/logging"
	"voiceprep/internal/services"
	"voiceprep/internal/stages"
	"voiceprep/internal/workitem"
)

// Discovery derives pending work from the pipeline tree.
type Discovery struct {
	layout  layout.Layout
	catalog stages.Catalog
	checker *artifact.Checker
	logger  *slog.Logger
}

// New constructs a Discovery.
func New(l layout.Layout, catalog stages.Catalog, checker *artifact.Checker, logger *slog.Logger) *Discovery {
	return &Discovery{
		layout:  l,
		catalog: catalog,
		checker: checker,
		logger:  logging.NewComponentLogger(logger, "discovery"),
	}
}

// FindNext returns the first eligible work item in priority order, or nil when
// nothing is eligible. Unreadable directories and invalid files are treated as
// not ready; only cancellation and an unusable audio prober are returned as
// errors.
func (d *Discovery) FindNext(ctx context.Context) (*workitem.WorkItem, error) {
	items, err := d.Pending(ctx, 1)
	if err != nil || len(items) == 0 {
		return nil, err
	}
	return items[0], nil
}

// Pending returns up to limit eligible items in the order FindNext would
// return them. A limit <= 0 returns every eligible item.
func (d *Discovery) Pending(ctx context.Context, limit int) ([]*workitem.WorkItem, error) {
	characters := d.listDir(d.layout.InputDir(), true)
	var found []*workitem.WorkItem
	for _, def := range d.catalog.All() {
		for _, character := range characters {
			for _, candidate := range d.candidates(def, character) {
				if err := ctx.Err(); err != nil {
					return found, err
				}
				item, err := d.evaluate(ctx, def, character, candidate)
				if err != nil {
					return found, err
				}
				if item == nil {
					continue
				}
				found = append(found, item)
				if limit > 0 && len(found) >= limit {
					return found, nil
				}
			}
		}
	}
	return found, nil
}

// candidates lists raw files for stages consuming raw sources and item
// directories otherwise.
func (d *Discovery) candidates(def stages.Definition, character string) []string {
	return d.listDir(d.layout.CharacterDir(character), !def.UsesRawSource())
}

// listDir returns the visible, validly named entries of dir of the requested
// type in lexicographic order.
func (d *Discovery) listDir(dir string, wantDirs bool) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		d.logger.Debug("directory not readable", logging.String("path", dir), logging.Error(err))
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if layout.ValidName(name) != nil {
			continue
		}
		isDir := entry.IsDir()
		if !isDir && !entry.Type().IsRegular() {
			continue
		}
		if isDir != wantDirs {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (d *Discovery) evaluate(ctx context.Context, def stages.Definition, character, candidate string) (*workitem.WorkItem, error) {
	item := candidate
	var source string
	if def.UsesRawSource() {
		source = filepath.Join(d.layout.CharacterDir(character), candidate)
		item = strings.TrimSuffix(candidate, filepath.Ext(candidate))
		if layout.ValidName(item) != nil {
			return nil, nil
		}
	} else {
		source = d.layout.Artifact(character, item, def.Input.Name)
	}

	if Held(d.layout.ItemDir(character, item), def.Stage) {
		d.logger.Debug("item held", logging.Stage(string(def.Stage)), logging.String(logging.FieldItemKey, character+"/"+item))
		return nil, nil
	}

	inputKind := def.Input.Kind
	if def.UsesRawSource() {
		inputKind = stages.KindAudioFile
	}
	ready, err := d.check(ctx, source, inputKind)
	if err != nil || !ready {
		return nil, err
	}
	done, err := d.check(ctx, d.layout.Artifact(character, item, def.Output.Name), def.Output.Kind)
	if err != nil || done {
		return nil, err
	}

	return workitem.New(d.layout, def.Stage, character, item, source)
}

func (d *Discovery) check(ctx context.Context, path string, kind stages.Kind) (bool, error) {
	ok, err := d.checker.Valid(ctx, path, kind)
	if err == nil {
		return ok, nil
	}
	if ctx.Err() != nil || errors.Is(err, services.ErrConfiguration) {
		return false, err
	}
	d.logger.Debug("artifact check failed", logging.String("path", path), logging.Error(err))
	return false, nil
}
