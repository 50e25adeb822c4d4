package deps

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestCheckBinariesResolvesPath(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	if err := os.WriteFile(present, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}

	results := CheckBinaries([]Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
	})
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if !results[0].Available || results[0].Path != present || results[0].Detail != "" {
		t.Fatalf("unexpected status for present binary: %#v", results[0])
	}
	if results[1].Available || results[1].Detail == "" || results[1].Command != "clearly-not-present-binary" {
		t.Fatalf("unexpected status for missing binary: %#v", results[1])
	}
}

func TestCheckBinariesUnconfigured(t *testing.T) {
	lookPath := func(string) (string, error) {
		t.Fatal("unconfigured commands must not be looked up")
		return "", errors.New("not found")
	}
	results := CheckBinariesWith(lookPath, []Requirement{{Name: "Runtime", Command: "  ", Optional: true}})
	if len(results) != 1 || results[0].Available || results[0].Detail != "command not configured" || !results[0].Optional {
		t.Fatalf("unexpected result: %#v", results)
	}
}

func TestCheckBinariesWithKeepsOrder(t *testing.T) {
	lookPath := func(file string) (string, error) {
		if file == "docker" {
			return "/usr/bin/docker", nil
		}
		return "", errors.New("not found")
	}
	results := CheckBinariesWith(lookPath, []Requirement{
		{Name: "Container runtime", Command: "docker"},
		{Name: "nvidia-smi", Command: "nvidia-smi", Optional: true},
	})
	if results[0].Path != "/usr/bin/docker" || results[1].Available || !results[1].Optional {
		t.Fatalf("unexpected results: %#v", results)
	}
}
