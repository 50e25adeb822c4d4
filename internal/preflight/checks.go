package preflight

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"voiceprep/internal/config"
	"voiceprep/internal/deps"
)

const runtimeCheckTimeout = 10 * time.Second

// CommandRunner runs a binary and returns its combined output.
type CommandRunner func(ctx context.Context, binary string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, binary string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, binary, args...).CombinedOutput()
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckRuntime verifies the container runtime daemon answers.
func CheckRuntime(ctx context.Context, run CommandRunner, binary string) Result {
	const name = "Container runtime"
	checkCtx, cancel := context.WithTimeout(ctx, runtimeCheckTimeout)
	defer cancel()

	out, err := run(checkCtx, binary, "version", "--format", "{{.Server.Version}}")
	if err != nil {
		return Result{Name: name, Detail: summarizeRunError(binary, out, err)}
	}
	version := strings.TrimSpace(string(out))
	if version == "" {
		version = "unknown version"
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s server %s", binary, version)}
}

// CheckImage verifies a worker image is present locally.
func CheckImage(ctx context.Context, run CommandRunner, binary, image string) Result {
	name := "Image " + image
	checkCtx, cancel := context.WithTimeout(ctx, runtimeCheckTimeout)
	defer cancel()

	if _, err := run(checkCtx, binary, "image", "inspect", "--format", "{{.Id}}", image); err != nil {
		return Result{Name: name, Detail: "not found locally (build or pull it before the next tick)"}
	}
	return Result{Name: name, Passed: true, Detail: "present"}
}

// CheckSystemDeps evaluates the external binaries the controller executes.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	requirements := []deps.Requirement{
		{
			Name:        "Container runtime",
			Command:     cfg.RuntimeBinary(),
			Description: "Required to run stage workers",
		},
		{
			Name:        "FFprobe",
			Command:     cfg.FFprobeBinary(),
			Description: "Required to validate audio artifacts",
		},
		{
			Name:        "nvidia-smi",
			Command:     cfg.Devices.QueryBinary,
			Description: "Accelerator discovery; workers fall back to cpu without it",
			Optional:    true,
		},
	}
	return deps.CheckBinaries(requirements)
}

func summarizeRunError(binary string, out []byte, err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("%s did not answer within %s", binary, runtimeCheckTimeout)
	}
	if errors.Is(err, exec.ErrNotFound) {
		return fmt.Sprintf("binary %q not found", binary)
	}
	if msg := strings.TrimSpace(string(out)); msg != "" {
		if i := strings.IndexByte(msg, '\n'); i > 0 {
			msg = msg[:i]
		}
		return msg
	}
	return err.Error()
}
