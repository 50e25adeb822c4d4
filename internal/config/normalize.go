package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeWorker()
	c.normalizeTranscribe()
	c.normalizeDevices()
	c.normalizeLogging()
	if c.Workflow.MaxAttempts <= 0 {
		c.Workflow.MaxAttempts = defaultMaxAttempts
	}
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataRoot, err = expandPath(c.Paths.DataRoot); err != nil {
		return fmt.Errorf("paths.data_root: %w", err)
	}
	if strings.TrimSpace(c.Paths.PipelineRoot) == "" && c.Paths.DataRoot != "" {
		c.Paths.PipelineRoot = filepath.Join(c.Paths.DataRoot, defaultPipelineDirName)
	}
	if c.Paths.PipelineRoot, err = expandPath(c.Paths.PipelineRoot); err != nil {
		return fmt.Errorf("paths.pipeline_root: %w", err)
	}

	c.Paths.ContainerRoot = strings.TrimSpace(c.Paths.ContainerRoot)
	if c.Paths.ContainerRoot == "" {
		c.Paths.ContainerRoot = defaultContainerRoot
	}
	// Container paths are never expanded against the host working directory.
	c.Paths.ContainerRoot = filepath.Clean(c.Paths.ContainerRoot)

	derived := []struct {
		field    string
		value    *string
		fallback string
	}{
		{"paths.log_dir", &c.Paths.LogDir, filepath.Join(c.Paths.PipelineRoot, defaultLogDirName)},
		{"paths.lock_file", &c.Paths.LockFile, filepath.Join(c.Paths.PipelineRoot, defaultLockFileName)},
		{"paths.snapshot_file", &c.Paths.SnapshotFile, filepath.Join(c.Paths.PipelineRoot, defaultSnapshotFileName)},
	}
	for _, d := range derived {
		if strings.TrimSpace(*d.value) == "" && c.Paths.PipelineRoot != "" {
			*d.value = d.fallback
		}
		if *d.value, err = expandPath(*d.value); err != nil {
			return fmt.Errorf("%s: %w", d.field, err)
		}
	}
	if strings.TrimSpace(c.Paths.HistoryDB) == "" && c.Paths.LogDir != "" {
		c.Paths.HistoryDB = filepath.Join(c.Paths.LogDir, defaultHistoryDBName)
	}
	if c.Paths.HistoryDB, err = expandPath(c.Paths.HistoryDB); err != nil {
		return fmt.Errorf("paths.history_db: %w", err)
	}
	return nil
}

func (c *Config) normalizeWorker() {
	c.Worker.Runtime = strings.TrimSpace(c.Worker.Runtime)
	if c.Worker.Runtime == "" {
		c.Worker.Runtime = defaultWorkerRuntime
	}
	if c.Worker.TimeoutMinutes < 0 {
		c.Worker.TimeoutMinutes = 0
	}
	if c.Worker.OutputTailLines <= 0 {
		c.Worker.OutputTailLines = defaultWorkerOutputTailLines
	}
	args := c.Worker.ExtraArgs[:0]
	for _, arg := range c.Worker.ExtraArgs {
		if arg = strings.TrimSpace(arg); arg != "" {
			args = append(args, arg)
		}
	}
	c.Worker.ExtraArgs = args
	for _, sw := range []*StageWorker{
		&c.Worker.Extract,
		&c.Worker.Dereverb,
		&c.Worker.Deecho,
		&c.Worker.Slice,
		&c.Worker.Transcribe,
	} {
		sw.Image = strings.TrimSpace(sw.Image)
		sw.Model = strings.TrimSpace(sw.Model)
	}
}

func (c *Config) normalizeTranscribe() {
	c.Transcribe.Language = strings.ToLower(strings.TrimSpace(c.Transcribe.Language))
	if c.Transcribe.Language == "" {
		c.Transcribe.Language = defaultTranscribeLanguage
	}
	c.Transcribe.ModelSize = strings.ToLower(strings.TrimSpace(c.Transcribe.ModelSize))
	if c.Transcribe.ModelSize == "" {
		c.Transcribe.ModelSize = defaultTranscribeModelSize
	}
}

func (c *Config) normalizeDevices() {
	c.Devices.QueryBinary = strings.TrimSpace(c.Devices.QueryBinary)
	if c.Devices.QueryBinary == "" {
		c.Devices.QueryBinary = defaultDeviceQueryBinary
	}
	c.Audio.FFprobeBinary = strings.TrimSpace(c.Audio.FFprobeBinary)
	if c.Audio.FFprobeBinary == "" {
		c.Audio.FFprobeBinary = defaultFFprobeBinary
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = defaultLogMaxSizeMB
	}
	if c.Logging.MaxBackups < 0 {
		c.Logging.MaxBackups = 0
	}
	if c.Logging.MaxAgeDays < 0 {
		c.Logging.MaxAgeDays = 0
	}
}
