package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hay-kot/criterio"
)

var validLogLevels = map[string]struct{}{
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

var validModelSizes = map[string]struct{}{
	"small":  {},
	"medium": {},
	"large":  {},
}

// Validate ensures the configuration is usable. Every problem is reported as a
// field error so operators see all of them in one pass.
func (c *Config) Validate() error {
	return criterio.ValidateStruct(
		c.validatePaths(),
		c.validateWorker(),
		c.validateTranscribe(),
		c.validateDevices(),
		c.validateWorkflow(),
		c.validateLogging(),
	)
}

func (c *Config) validatePaths() error {
	var errs criterio.FieldErrorsBuilder
	if c.Paths.DataRoot == "" {
		errs = errs.Append("paths.data_root", errors.New("must be set"))
	}
	if c.Paths.PipelineRoot == "" {
		errs = errs.Append("paths.pipeline_root", errors.New("must be set"))
	} else if c.Paths.DataRoot != "" && !within(c.Paths.DataRoot, c.Paths.PipelineRoot) {
		errs = errs.Append("paths.pipeline_root", fmt.Errorf("%s is not inside paths.data_root %s", c.Paths.PipelineRoot, c.Paths.DataRoot))
	}
	if c.Paths.LockFile != "" && c.Paths.LockFile == c.Paths.SnapshotFile {
		errs = errs.Append("paths.snapshot_file", errors.New("must differ from paths.lock_file"))
	}
	return criterio.ValidateStruct(
		errs.ToError(),
		criterio.Run("paths.container_root", c.Paths.ContainerRoot, absolutePath),
	)
}

func (c *Config) validateWorker() error {
	var errs criterio.FieldErrorsBuilder
	if c.Worker.TimeoutMinutes < 0 {
		errs = errs.Append("worker.timeout_minutes", errors.New("must not be negative"))
	}
	for _, sw := range []struct {
		field string
		image string
	}{
		{"worker.extract.image", c.Worker.Extract.Image},
		{"worker.dereverb.image", c.Worker.Dereverb.Image},
		{"worker.deecho.image", c.Worker.Deecho.Image},
		{"worker.slice.image", c.Worker.Slice.Image},
		{"worker.transcribe.image", c.Worker.Transcribe.Image},
	} {
		if sw.image == "" {
			errs = errs.Append(sw.field, errors.New("must be set"))
		}
	}
	if len(c.Worker.ExtraArgs) > 0 && !strings.HasPrefix(c.Worker.ExtraArgs[0], "-") {
		errs = errs.Append("worker.extra_args", fmt.Errorf("first entry %q must be a flag", c.Worker.ExtraArgs[0]))
	}
	return errs.ToError()
}

func (c *Config) validateTranscribe() error {
	if _, ok := validModelSizes[c.Transcribe.ModelSize]; !ok {
		return criterio.NewFieldErrors("transcribe.model_size", fmt.Errorf("unsupported value %q", c.Transcribe.ModelSize))
	}
	return nil
}

func (c *Config) validateDevices() error {
	if c.Devices.HalfPrecisionMinCapability < 0 {
		return criterio.NewFieldErrors("devices.half_precision_min_capability", errors.New("must not be negative"))
	}
	return nil
}

func (c *Config) validateLogging() error {
	var errs criterio.FieldErrorsBuilder
	if _, ok := validLogLevels[c.Logging.Level]; !ok {
		errs = errs.Append("logging.level", fmt.Errorf("unsupported value %q", c.Logging.Level))
	}
	return errs.ToError()
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.MaxAttempts <= 0 {
		return criterio.NewFieldErrors("workflow.max_attempts", errors.New("must be positive"))
	}
	return nil
}

func absolutePath(path string) error {
	if !filepath.IsAbs(path) {
		return fmt.Errorf("must be absolute, got %q", path)
	}
	return nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
