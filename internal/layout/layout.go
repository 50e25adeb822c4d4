package layout

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

const (
	InputDirName      = "input"
	VocalDirName      = "vocal"
	InstrumentDirName = "inst"
	SliceDirName      = "slice"
)

// Layout maps the pipeline tree between the host and the worker containers.
// The host data root is mounted at the container root; the pipeline root lies
// somewhere inside the host data root.
type Layout struct {
	hostRoot      string
	containerRoot string
	pipelineRoot  string
}

// New validates and cleans the three roots.
func New(hostRoot, containerRoot, pipelineRoot string) (Layout, error) {
	if !filepath.IsAbs(hostRoot) {
		return Layout{}, fmt.Errorf("host root %q must be absolute", hostRoot)
	}
	if !path.IsAbs(containerRoot) {
		return Layout{}, fmt.Errorf("container root %q must be absolute", containerRoot)
	}
	if !filepath.IsAbs(pipelineRoot) {
		return Layout{}, fmt.Errorf("pipeline root %q must be absolute", pipelineRoot)
	}
	l := Layout{
		hostRoot:      filepath.Clean(hostRoot),
		containerRoot: path.Clean(containerRoot),
		pipelineRoot:  filepath.Clean(pipelineRoot),
	}
	if _, err := relativeTo(l.hostRoot, l.pipelineRoot); err != nil {
		return Layout{}, fmt.Errorf("pipeline root: %w", err)
	}
	return l, nil
}

func (l Layout) HostRoot() string      { return l.hostRoot }
func (l Layout) ContainerRoot() string { return l.containerRoot }
func (l Layout) PipelineRoot() string  { return l.pipelineRoot }

// InputDir is the directory holding one subdirectory per character.
func (l Layout) InputDir() string {
	return filepath.Join(l.pipelineRoot, InputDirName)
}

// CharacterDir holds the raw source files of a character and its item
// directories.
func (l Layout) CharacterDir(character string) string {
	return filepath.Join(l.InputDir(), character)
}

func (l Layout) ItemDir(character, item string) string {
	return filepath.Join(l.CharacterDir(character), item)
}

// VocalDir is the scratch directory workers write separated vocals into.
func (l Layout) VocalDir(character, item string) string {
	return filepath.Join(l.ItemDir(character, item), VocalDirName)
}

// InstrumentDir is the scratch directory for separated accompaniment.
func (l Layout) InstrumentDir(character, item string) string {
	return filepath.Join(l.ItemDir(character, item), InstrumentDirName)
}

func (l Layout) SliceDir(character, item string) string {
	return filepath.Join(l.ItemDir(character, item), SliceDirName)
}

// Artifact returns the path of a named artifact inside an item directory.
func (l Layout) Artifact(character, item, name string) string {
	return filepath.Join(l.ItemDir(character, item), name)
}

// ToContainer translates a host path under the host root into the path the
// worker sees. Paths outside the host root are rejected rather than passed
// through, so a worker never receives a path it cannot open.
func (l Layout) ToContainer(hostPath string) (string, error) {
	rel, err := relativeTo(l.hostRoot, filepath.Clean(hostPath))
	if err != nil {
		return "", err
	}
	if rel == "." {
		return l.containerRoot, nil
	}
	return path.Join(l.containerRoot, filepath.ToSlash(rel)), nil
}

// ToHost is the inverse of ToContainer.
func (l Layout) ToHost(containerPath string) (string, error) {
	cleaned := path.Clean(containerPath)
	if cleaned == l.containerRoot {
		return l.hostRoot, nil
	}
	prefix := l.containerRoot
	if prefix != "/" {
		prefix += "/"
	}
	if !strings.HasPrefix(cleaned, prefix) {
		return "", fmt.Errorf("%q is outside container root %q", containerPath, l.containerRoot)
	}
	return filepath.Join(l.hostRoot, filepath.FromSlash(strings.TrimPrefix(cleaned, prefix))), nil
}

func relativeTo(root, target string) (string, error) {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return "", fmt.Errorf("%q is not under %q: %w", target, root, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%q is outside %q", target, root)
	}
	return rel, nil
}

// ErrInvalidName is returned by ValidName.
var ErrInvalidName = errors.New("invalid name")

// ValidName accepts a single path component usable as a character or item
// name: non-empty, not hidden, and free of separators.
func ValidName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("%w: %q is hidden", ErrInvalidName, name)
	case strings.ContainsAny(name, `/\`), strings.ContainsRune(name, 0):
		return fmt.Errorf("%w: %q contains a separator", ErrInvalidName, name)
	}
	return nil
}
