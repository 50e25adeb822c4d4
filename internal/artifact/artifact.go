package artifact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"voiceprep/internal/stages"
)

// AudioProber decides whether a single file is decodable audio.
type AudioProber interface {
	IsAudio(ctx context.Context, path string) (bool, error)
}

// Checker validates pipeline artifacts by kind.
type Checker struct {
	audio AudioProber
}

// NewChecker returns a Checker that probes audio files with audio.
func NewChecker(audio AudioProber) *Checker {
	return &Checker{audio: audio}
}

// Valid reports whether path holds a valid artifact of the given kind. Missing
// or malformed artifacts yield false with a nil error; errors are reserved for
// context cancellation and a prober that cannot run.
func (c *Checker) Valid(ctx context.Context, path string, kind stages.Kind) (bool, error) {
	switch kind {
	case stages.KindAudioFile:
		return c.audio.IsAudio(ctx, path)
	case stages.KindAudioDir:
		n, err := c.CountAudio(ctx, path, 1)
		return n > 0, err
	case stages.KindText:
		info, err := os.Stat(path)
		if err != nil {
			return false, nil
		}
		return info.Mode().IsRegular() && info.Size() > 0, nil
	default:
		return false, fmt.Errorf("unknown artifact kind %s", kind)
	}
}

// CountAudio counts valid *.wav files directly inside dir, stopping once limit
// valid files are seen (limit <= 0 counts all). Hidden files are ignored.
func (c *Checker) CountAudio(ctx context.Context, dir string, limit int) (int, error) {
	files, err := AudioFiles(dir)
	if err != nil {
		return 0, nil
	}
	count := 0
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		ok, err := c.audio.IsAudio(ctx, path)
		if err != nil {
			return count, err
		}
		if ok {
			count++
			if limit > 0 && count >= limit {
				break
			}
		}
	}
	return count, nil
}

// AudioFiles lists the non-hidden *.wav regular files directly inside dir in
// lexicographic order.
func AudioFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") || !entry.Type().IsRegular() {
			continue
		}
		if !strings.EqualFold(filepath.Ext(name), ".wav") {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	sort.Strings(files)
	return files, nil
}
