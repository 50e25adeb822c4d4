package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"voiceprep/internal/config"
	"voiceprep/internal/logging"
	"voiceprep/internal/preflight"
	"voiceprep/internal/workflow"
)

type commandContext struct {
	configFlag   string
	logLevelFlag string

	// assembleOpts and commandRunner replace production wiring in tests.
	assembleOpts  []workflow.AssembleOption
	commandRunner preflight.CommandRunner

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext() *commandContext {
	return &commandContext{}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, _, err := config.Load(strings.TrimSpace(c.configFlag))
		if err != nil {
			c.configErr = err
			return
		}
		if level := strings.TrimSpace(c.logLevelFlag); level != "" {
			cfg.Logging.Level = level
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// logger writes console records to w and file records under paths.log_dir.
func (c *commandContext) logger(w io.Writer) (*slog.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewFromConfigTo(cfg, w)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return logger, nil
}

// withAssembly wires the pipeline for one command and closes it afterwards.
func (c *commandContext) withAssembly(cmd *cobra.Command, fn func(*workflow.Assembly) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := c.logger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	assembly, err := workflow.Assemble(cfg, logger, c.assembleOpts...)
	if err != nil {
		return err
	}
	defer assembly.Close()
	return fn(assembly)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
