package preflight

import (
	"context"

	"voiceprep/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	// Optional checks are reported but do not fail doctor.
	Optional bool
	Detail   string
}

// RunAll executes the directory and container checks for cfg. Binary
// availability is reported separately by CheckSystemDeps.
func RunAll(ctx context.Context, cfg *config.Config, run CommandRunner) []Result {
	if cfg == nil {
		return nil
	}
	if run == nil {
		run = runCommand
	}

	results := []Result{
		CheckDirectoryAccess("Data root", cfg.Paths.DataRoot),
		CheckDirectoryAccess("Pipeline root", cfg.Paths.PipelineRoot),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}

	runtime := CheckRuntime(ctx, run, cfg.RuntimeBinary())
	results = append(results, runtime)
	if !runtime.Passed {
		return results
	}
	for _, image := range cfg.Images() {
		results = append(results, CheckImage(ctx, run, cfg.RuntimeBinary(), image))
	}
	return results
}

// Failed reports whether any required check failed.
func Failed(results []Result) bool {
	for _, r := range results {
		if !r.Passed && !r.Optional {
			return true
		}
	}
	return false
}
