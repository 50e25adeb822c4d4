package testsupport

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
)

// AudioMagic prefixes every file FakeAudio accepts as decodable audio.
const AudioMagic = "RIFF\x24\x00\x00\x00WAVE"

// WriteFile writes content to path, creating parent directories, and returns
// path.
func WriteFile(t testing.TB, path, content string) string {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// WriteAudio writes a file FakeAudio treats as valid audio and returns its path.
func WriteAudio(t testing.TB, dir, name string) string {
	t.Helper()
	return WriteFile(t, filepath.Join(dir, name), AudioMagic+"fmt data")
}

// FakeAudio validates audio by content instead of running ffprobe: a regular
// file is audio when it starts with AudioMagic.
type FakeAudio struct{}

func (FakeAudio) IsAudio(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() || info.Size() == 0 {
		return false, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false, nil
	}
	return bytes.HasPrefix(data, []byte(AudioMagic)), nil
}
