package workitem

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"voiceprep/internal/layout"
	"voiceprep/internal/stages"
)

// WorkItem is the unit the controller dispatches: one item of one character
// waiting for one stage. Paths other than SourcePath are derived from the
// identity and the layout and are recomputed whenever an item is rebuilt.
type WorkItem struct {
	Stage      stages.Stage
	Character  string
	Item       string
	SourcePath string

	CharacterDir  string
	ItemDir       string
	VocalDir      string
	InstrumentDir string
	SliceDir      string

	ContainerSource        string
	ContainerItemDir       string
	ContainerVocalDir      string
	ContainerInstrumentDir string
	ContainerSliceDir      string

	// Attempts counts dispatches of this stage for this item.
	Attempts     int
	TickID       string
	DispatchedAt time.Time

	// InProcess is set only on items restored from a snapshot.
	InProcess bool
}

// New builds a WorkItem and derives its paths. It performs no filesystem
// access.
func New(l layout.Layout, stage stages.Stage, character, item, source string) (*WorkItem, error) {
	if _, err := stages.Parse(string(stage)); err != nil {
		return nil, err
	}
	if err := layout.ValidName(character); err != nil {
		return nil, fmt.Errorf("character: %w", err)
	}
	if err := layout.ValidName(item); err != nil {
		return nil, fmt.Errorf("item: %w", err)
	}
	if !filepath.IsAbs(source) {
		return nil, fmt.Errorf("source path %q must be absolute", source)
	}

	w := &WorkItem{
		Stage:         stage,
		Character:     character,
		Item:          item,
		SourcePath:    filepath.Clean(source),
		CharacterDir:  l.CharacterDir(character),
		ItemDir:       l.ItemDir(character, item),
		VocalDir:      l.VocalDir(character, item),
		InstrumentDir: l.InstrumentDir(character, item),
		SliceDir:      l.SliceDir(character, item),
	}

	var err error
	for _, pair := range []struct {
		host string
		dst  *string
	}{
		{w.SourcePath, &w.ContainerSource},
		{w.ItemDir, &w.ContainerItemDir},
		{w.VocalDir, &w.ContainerVocalDir},
		{w.InstrumentDir, &w.ContainerInstrumentDir},
		{w.SliceDir, &w.ContainerSliceDir},
	} {
		if *pair.dst, err = l.ToContainer(pair.host); err != nil {
			return nil, fmt.Errorf("map %s into container: %w", pair.host, err)
		}
	}
	return w, nil
}

// Key identifies the item and stage in logs and the tick journal.
func (w *WorkItem) Key() string {
	return w.Character + "/" + w.Item + "/" + string(w.Stage)
}

// ItemKey identifies the item without its stage.
func (w *WorkItem) ItemKey() string {
	return w.Character + "/" + w.Item
}

// snapshot is the persisted form. Derived paths are written for operators
// reading the file but are ignored on load.
type snapshot struct {
	Stage        string    `json:"stage"`
	Character    string    `json:"character"`
	Item         string    `json:"item"`
	SourcePath   string    `json:"source_path"`
	Attempts     int       `json:"attempts"`
	TickID       string    `json:"tick_id,omitempty"`
	DispatchedAt time.Time `json:"dispatched_at,omitzero"`
	Derived      derived   `json:"derived"`
}

type derived struct {
	ItemDir           string `json:"item_dir"`
	VocalDir          string `json:"vocal_dir"`
	InstrumentDir     string `json:"inst_dir"`
	ContainerSource   string `json:"container_source"`
	ContainerVocalDir string `json:"container_vocal_dir"`
}

// Marshal encodes the item for the snapshot file.
func Marshal(w *WorkItem) ([]byte, error) {
	if w == nil {
		return nil, fmt.Errorf("marshal work item: nil item")
	}
	snap := snapshot{
		Stage:        string(w.Stage),
		Character:    w.Character,
		Item:         w.Item,
		SourcePath:   w.SourcePath,
		Attempts:     w.Attempts,
		TickID:       w.TickID,
		DispatchedAt: w.DispatchedAt.UTC(),
		Derived: derived{
			ItemDir:           w.ItemDir,
			VocalDir:          w.VocalDir,
			InstrumentDir:     w.InstrumentDir,
			ContainerSource:   w.ContainerSource,
			ContainerVocalDir: w.ContainerVocalDir,
		},
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal work item: %w", err)
	}
	return append(data, '\n'), nil
}

// Unmarshal decodes a snapshot and rebuilds the item against the current
// layout. The returned item has InProcess set.
func Unmarshal(l layout.Layout, data []byte) (*WorkItem, error) {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	stage, err := stages.Parse(snap.Stage)
	if err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	w, err := New(l, stage, snap.Character, snap.Item, snap.SourcePath)
	if err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	w.Attempts = snap.Attempts
	w.TickID = snap.TickID
	w.DispatchedAt = snap.DispatchedAt
	w.InProcess = true
	return w, nil
}
