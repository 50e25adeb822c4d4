package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"testing"

	"voiceprep/internal/config"
	"voiceprep/internal/devices"
	"voiceprep/internal/layout"
	"voiceprep/internal/testsupport"
	"voiceprep/internal/worker"
	"voiceprep/internal/workflow"
)

type fakeDevices []devices.Info

func (f fakeDevices) Query(context.Context) ([]devices.Info, []error, error) {
	return append([]devices.Info(nil), f...), nil, nil
}

type cliTestEnv struct {
	cfg        *config.Config
	layout     layout.Layout
	configPath string
	exec       *testsupport.StubExecutor
	devices    fakeDevices
	runner     func(ctx context.Context, binary string, args ...string) ([]byte, error)
	workerOpts []worker.Option
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	base := testsupport.BaseDir(cfg)
	t.Setenv("HOME", filepath.Join(base, "home"))

	l, err := layout.New(cfg.Paths.DataRoot, cfg.Paths.ContainerRoot, cfg.Paths.PipelineRoot)
	if err != nil {
		t.Fatalf("layout.New: %v", err)
	}

	env := &cliTestEnv{
		cfg:        cfg,
		layout:     l,
		configPath: filepath.Join(base, "voiceprep.toml"),
		runner: func(ctx context.Context, binary string, args ...string) ([]byte, error) {
			return []byte("24.0.7\n"), nil
		},
	}
	env.exec = &testsupport.StubExecutor{Handler: env.separate(t)}
	writeTestConfig(t, env.configPath, cfg)
	return env
}

// separate answers "ps" with nothing running and writes the extract output
// for "run".
func (e *cliTestEnv) separate(t *testing.T) func(ctx context.Context, binary string, args []string, onLine func(string)) error {
	return func(ctx context.Context, binary string, args []string, onLine func(string)) error {
		if len(args) == 0 || args[0] != "run" {
			return nil
		}
		vocal, _ := testsupport.ArgValue(args, "--vocal_dir")
		source, _ := testsupport.ArgValue(args, "--file_path")
		host, err := e.layout.ToHost(vocal)
		if err != nil {
			return err
		}
		onLine("separating " + source)
		testsupport.WriteAudio(t, host, path.Base(source)+".reformatted_vocals.wav")
		return nil
	}
}

func runCLI(t *testing.T, env *cliTestEnv, args ...string) (string, string, error) {
	t.Helper()
	ctx := newCommandContext()
	ctx.assembleOpts = []workflow.AssembleOption{
		workflow.WithAudioProber(testsupport.FakeAudio{}),
		workflow.WithDeviceQuerier(env.devices),
		workflow.WithWorkerOptions(append([]worker.Option{worker.WithExecutor(env.exec)}, env.workerOpts...)...),
	}
	ctx.commandRunner = env.runner

	cmd := newRootCommandWith(ctx)
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", env.configPath}, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content := fmt.Sprintf("[paths]\ndata_root = %q\npipeline_root = %q\n\n[logging]\nlevel = \"warn\"\n",
		cfg.Paths.DataRoot,
		cfg.Paths.PipelineRoot,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
