package artifact_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"voiceprep/internal/artifact"
	"voiceprep/internal/stages"
	"voiceprep/internal/testsupport"
)

func TestValidByKind(t *testing.T) {
	dir := t.TempDir()
	checker := artifact.NewChecker(testsupport.FakeAudio{})
	ctx := context.Background()

	good := testsupport.WriteAudio(t, dir, "vocal.wav")
	bad := testsupport.WriteFile(t, filepath.Join(dir, "main_vocal.wav"), "garbage")
	transcript := testsupport.WriteFile(t, filepath.Join(dir, "transcript.list"), "a.wav|F003|YUE|hello\n")
	emptyText := testsupport.WriteFile(t, filepath.Join(dir, "empty.list"), "")

	sliceDir := filepath.Join(dir, "slice")
	testsupport.WriteFile(t, filepath.Join(sliceDir, "junk.wav"), "garbage")
	testsupport.WriteAudio(t, sliceDir, "0001.wav")

	emptySlice := filepath.Join(dir, "empty-slice")
	if err := os.MkdirAll(emptySlice, 0o755); err != nil {
		t.Fatal(err)
	}
	testsupport.WriteAudio(t, emptySlice, ".hidden.wav")

	cases := []struct {
		path string
		kind stages.Kind
		want bool
	}{
		{good, stages.KindAudioFile, true},
		{bad, stages.KindAudioFile, false},
		{filepath.Join(dir, "missing.wav"), stages.KindAudioFile, false},
		{transcript, stages.KindText, true},
		{emptyText, stages.KindText, false},
		{sliceDir, stages.KindText, false},
		{sliceDir, stages.KindAudioDir, true},
		{emptySlice, stages.KindAudioDir, false},
		{filepath.Join(dir, "nope"), stages.KindAudioDir, false},
	}
	for _, tc := range cases {
		got, err := checker.Valid(ctx, tc.path, tc.kind)
		if err != nil {
			t.Fatalf("Valid(%s, %s) error: %v", tc.path, tc.kind, err)
		}
		if got != tc.want {
			t.Fatalf("Valid(%s, %s) = %v, want %v", tc.path, tc.kind, got, tc.want)
		}
	}
}

func TestCountAudioHonoursLimit(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"c.wav", "a.wav", "b.WAV", "notes.txt"} {
		testsupport.WriteAudio(t, dir, name)
	}
	checker := artifact.NewChecker(testsupport.FakeAudio{})
	all, err := checker.CountAudio(context.Background(), dir, 0)
	if err != nil || all != 3 {
		t.Fatalf("CountAudio(all) = %d, %v", all, err)
	}
	one, err := checker.CountAudio(context.Background(), dir, 1)
	if err != nil || one != 1 {
		t.Fatalf("CountAudio(1) = %d, %v", one, err)
	}
	files, err := artifact.AudioFiles(dir)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(files[0]) != "a.wav" || filepath.Base(files[2]) != "c.wav" {
		t.Fatalf("expected lexicographic order, got %v", files)
	}
}
