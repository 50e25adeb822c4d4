package discovery

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"voiceprep/internal/fileutil"
	"voiceprep/internal/layout"
	"voiceprep/internal/stages"
)

const holdPrefix = ".hold-"

// Hold is an item parked for one stage after exhausting its dispatch attempts.
type Hold struct {
	Character string
	Item      string
	Stage     stages.Stage
	Path      string
	Reason    string
}

// HoldPath returns the marker path for stage inside itemDir.
func HoldPath(itemDir string, stage stages.Stage) string {
	return filepath.Join(itemDir, holdPrefix+string(stage))
}

// Held reports whether stage is held for the item at itemDir.
func Held(itemDir string, stage stages.Stage) bool {
	_, err := os.Lstat(HoldPath(itemDir, stage))
	return err == nil
}

// WriteHold parks the item at itemDir for stage. The item directory is created
// when missing since an extract item may not have one yet.
func WriteHold(itemDir string, stage stages.Stage, reason string, now time.Time) error {
	if err := os.MkdirAll(itemDir, 0o755); err != nil {
		return fmt.Errorf("create item dir: %w", err)
	}
	content := fmt.Sprintf("%s %s\n", now.UTC().Format(time.RFC3339), strings.TrimSpace(reason))
	return fileutil.WriteFileAtomic(HoldPath(itemDir, stage), []byte(content), 0o644)
}

// ListHolds returns every hold marker in the tree ordered by character, item
// and stage.
func ListHolds(l layout.Layout) ([]Hold, error) {
	pattern := filepath.Join(l.InputDir(), "*", "*", holdPrefix+"*")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	holds := make([]Hold, 0, len(matches))
	for _, match := range matches {
		stage, err := stages.Parse(strings.TrimPrefix(filepath.Base(match), holdPrefix))
		if err != nil {
			continue
		}
		itemDir := filepath.Dir(match)
		reason, _ := os.ReadFile(match)
		holds = append(holds, Hold{
			Character: filepath.Base(filepath.Dir(itemDir)),
			Item:      filepath.Base(itemDir),
			Stage:     stage,
			Path:      match,
			Reason:    strings.TrimSpace(string(reason)),
		})
	}
	return holds, nil
}

// Release removes the hold markers of one item. When stage is empty every
// stage is released. It returns the stages that were held.
func Release(l layout.Layout, character, item string, stage stages.Stage) ([]stages.Stage, error) {
	if err := layout.ValidName(character); err != nil {
		return nil, fmt.Errorf("character: %w", err)
	}
	if err := layout.ValidName(item); err != nil {
		return nil, fmt.Errorf("item: %w", err)
	}
	targets := stages.Order()
	if stage != "" {
		targets = []stages.Stage{stage}
	}
	itemDir := l.ItemDir(character, item)
	var released []stages.Stage
	for _, target := range targets {
		err := os.Remove(HoldPath(itemDir, target))
		switch {
		case err == nil:
			released = append(released, target)
		case errors.Is(err, fs.ErrNotExist):
		default:
			return released, fmt.Errorf("remove hold for %s: %w", target, err)
		}
	}
	return released, nil
}
