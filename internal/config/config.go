package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"voiceprep/internal/stages"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains the directory layout shared by the controller and the workers.
type Paths struct {
	DataRoot      string `toml:"data_root"`
	PipelineRoot  string `toml:"pipeline_root"`
	ContainerRoot string `toml:"container_root"`
	LogDir        string `toml:"log_dir"`
	LockFile      string `toml:"lock_file"`
	SnapshotFile  string `toml:"snapshot_file"`
	HistoryDB     string `toml:"history_db"`
}

// StageWorker names the container image and model used for one stage.
type StageWorker struct {
	Image string `toml:"image"`
	Model string `toml:"model"`
}

// Worker contains container invocation settings.
type Worker struct {
	Runtime         string      `toml:"runtime"`
	TimeoutMinutes  int         `toml:"timeout_minutes"`
	OutputTailLines int         `toml:"output_tail_lines"`
	ExtraArgs       []string    `toml:"extra_args"`
	Extract         StageWorker `toml:"extract"`
	Dereverb        StageWorker `toml:"dereverb"`
	Deecho          StageWorker `toml:"deecho"`
	Slice           StageWorker `toml:"slice"`
	Transcribe      StageWorker `toml:"transcribe"`
}

// Transcribe contains recognizer options forwarded to the transcription worker.
type Transcribe struct {
	Language  string `toml:"language"`
	ModelSize string `toml:"model_size"`
}

// Devices contains accelerator discovery settings.
type Devices struct {
	QueryBinary                string  `toml:"query_binary"`
	HalfPrecisionMinCapability float64 `toml:"half_precision_min_capability"`
}

// Audio contains audio validation settings.
type Audio struct {
	FFprobeBinary string `toml:"ffprobe_binary"`
}

// Workflow contains tick policy knobs.
type Workflow struct {
	MaxAttempts int `toml:"max_attempts"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format     string `toml:"format"`
	Level      string `toml:"level"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// Config encapsulates all configuration values for voiceprep.
//
// Configuration sections by subsystem:
//   - Paths: host data root, pipeline tree, container mount point, lock files
//   - Worker: container runtime, timeout and per-stage images
//   - Transcribe: recognizer language and model size
//   - Devices: accelerator query binary and precision threshold
//   - Audio: ffprobe binary used to validate artifacts
//   - Workflow: retry bound before an item is held
//   - Logging: log format, level, and rotation
type Config struct {
	Paths      Paths      `toml:"paths"`
	Worker     Worker     `toml:"worker"`
	Transcribe Transcribe `toml:"transcribe"`
	Devices    Devices    `toml:"devices"`
	Audio      Audio      `toml:"audio"`
	Workflow   Workflow   `toml:"workflow"`
	Logging    Logging    `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("voiceprep.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories the controller writes to on every
// tick. The data root itself is expected to exist.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Paths.PipelineRoot,
		c.Paths.LogDir,
		filepath.Dir(c.Paths.LockFile),
		filepath.Dir(c.Paths.SnapshotFile),
		filepath.Dir(c.Paths.HistoryDB),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// StageWorker returns the worker settings for the given stage.
func (c *Config) StageWorker(stage stages.Stage) StageWorker {
	switch stage {
	case stages.Extract:
		return c.Worker.Extract
	case stages.Dereverb:
		return c.Worker.Dereverb
	case stages.Deecho:
		return c.Worker.Deecho
	case stages.Slice:
		return c.Worker.Slice
	case stages.Transcribe:
		return c.Worker.Transcribe
	default:
		return StageWorker{}
	}
}

// Images returns the distinct worker images across all stages in stage order.
func (c *Config) Images() []string {
	seen := make(map[string]struct{})
	var images []string
	for _, stage := range stages.Order() {
		image := c.StageWorker(stage).Image
		if image == "" {
			continue
		}
		if _, ok := seen[image]; ok {
			continue
		}
		seen[image] = struct{}{}
		images = append(images, image)
	}
	return images
}

// FFprobeBinary returns the ffprobe executable name used for audio validation.
func (c *Config) FFprobeBinary() string {
	if c.Audio.FFprobeBinary == "" {
		return defaultFFprobeBinary
	}
	return c.Audio.FFprobeBinary
}

// RuntimeBinary returns the container runtime executable.
func (c *Config) RuntimeBinary() string {
	if c.Worker.Runtime == "" {
		return defaultWorkerRuntime
	}
	return c.Worker.Runtime
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
