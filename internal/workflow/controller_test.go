package workflow_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"voiceprep/internal/discovery"
	"voiceprep/internal/lock"
	"voiceprep/internal/logging"
	"voiceprep/internal/reconcile"
	"voiceprep/internal/services"
	"voiceprep/internal/stages"
	"voiceprep/internal/testsupport"
	"voiceprep/internal/worker"
	"voiceprep/internal/workflow"
	"voiceprep/internal/workitem"
)

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestTickIdle(t *testing.T) {
	h := newHarness(t)
	report, err := h.tick()
	if err != nil || report.Outcome != workflow.OutcomeIdle {
		t.Fatalf("Tick = %s, %v; want idle", report.Outcome, err)
	}
	if len(h.journal.Entries()) != 0 {
		t.Fatal("idle ticks are not journaled")
	}
}

func TestTickLockHeldMakesNoChanges(t *testing.T) {
	h := newHarness(t)
	raw := testsupport.WriteAudio(t, h.layout.CharacterDir("F001"), "1.wav")
	h.lock.HoldExternally(true)

	report, err := h.controller.Tick(context.Background())
	if err != nil || report.Outcome != workflow.OutcomeLockHeld {
		t.Fatalf("Tick = %s, %v; want lock_held", report.Outcome, err)
	}
	if h.finder.calls != 0 || len(h.exec.Calls()) != 0 || h.lock.Persists != 0 {
		t.Fatal("lock_held tick must not discover, dispatch or persist")
	}
	if !exists(raw) || exists(h.layout.ItemDir("F001", "1")) {
		t.Fatal("lock_held tick touched the tree")
	}
}

func TestTickRunsExtractEndToEnd(t *testing.T) {
	h := newHarness(t)
	testsupport.WriteAudio(t, h.layout.CharacterDir("F001"), "1.ogg")

	report, err := h.tick()
	if err != nil || report.Outcome != workflow.OutcomeSucceeded {
		t.Fatalf("Tick = %s, %v (%s); want succeeded", report.Outcome, err, report.Message)
	}
	if report.Item.Key() != "F001/1/extract" || report.Attempts != 1 || report.Device != "cpu" {
		t.Fatalf("unexpected report: %+v", report)
	}
	if !exists(h.layout.Artifact("F001", "1", stages.VocalFile)) {
		t.Fatal("vocal.wav not settled")
	}
	if !exists(h.layout.Artifact("F001", "1", "original.ogg")) {
		t.Fatal("raw source not relocated")
	}
	if h.snapshot() != nil {
		t.Fatal("snapshot must be cleared after settlement")
	}
	if h.lock.Persists != 1 {
		t.Fatalf("snapshot persisted %d times, want 1 before dispatch", h.lock.Persists)
	}
	entries := h.journal.Entries()
	if len(entries) != 1 || entries[0].Outcome != "succeeded" || entries[0].TickID != report.TickID {
		t.Fatalf("unexpected journal: %+v", entries)
	}
}

func TestTicksDriveItemThroughEveryStage(t *testing.T) {
	h := newHarness(t)
	testsupport.WriteAudio(t, h.layout.CharacterDir("F001"), "1.wav")

	want := []stages.Stage{stages.Extract, stages.Dereverb, stages.Deecho, stages.Slice, stages.Transcribe}
	for _, stage := range want {
		report, err := h.tick()
		if err != nil || report.Outcome != workflow.OutcomeSucceeded || report.Item.Stage != stage {
			t.Fatalf("stage %s: Tick = %s, %v (%s)", stage, report.Outcome, err, report.Message)
		}
	}
	if report, _ := h.tick(); report.Outcome != workflow.OutcomeIdle {
		t.Fatalf("finished pipeline should be idle, got %s", report.Outcome)
	}
	if !exists(h.layout.Artifact("F001", "1", stages.TranscriptFile)) {
		t.Fatal("transcript missing")
	}
	if n, _ := os.ReadDir(h.layout.SliceDir("F001", "1")); len(n) != 2 {
		t.Fatalf("expected 2 slices, got %d", len(n))
	}
}

func resumeSnapshot(t *testing.T, h *harness, stage stages.Stage, character, item, sourceName string, attempts int) {
	t.Helper()
	source := testsupport.WriteAudio(t, h.layout.ItemDir(character, item), sourceName)
	w, err := workitem.New(h.layout, stage, character, item, source)
	if err != nil {
		t.Fatalf("workitem: %v", err)
	}
	w.Attempts = attempts
	if err := h.lock.Persist(w); err != nil {
		t.Fatalf("Persist: %v", err)
	}
}

func TestTickResumesSnapshotWithoutDiscovery(t *testing.T) {
	h := newHarness(t)
	// An extract-eligible item exists, but the snapshot wins.
	testsupport.WriteAudio(t, h.layout.CharacterDir("F001"), "1.wav")
	resumeSnapshot(t, h, stages.Dereverb, "F003", "4", stages.VocalFile, 1)

	report, err := h.tick()
	if err != nil || report.Outcome != workflow.OutcomeSucceeded {
		t.Fatalf("Tick = %s, %v (%s)", report.Outcome, err, report.Message)
	}
	if h.finder.calls != 0 {
		t.Fatal("discovery must not run while a snapshot is pending")
	}
	if !report.Resumed || report.Item.Key() != "F003/4/dereverb" || report.Attempts != 2 {
		t.Fatalf("unexpected report: %+v", report)
	}
	want := filepath.Join(h.cfg.Paths.PipelineRoot, "input", "F003", "4", "vocal")
	if report.Item.VocalDir != want {
		t.Fatalf("resumed vocal dir = %s, want %s", report.Item.VocalDir, want)
	}
	fresh, err := workitem.New(h.layout, stages.Dereverb, "F003", "4", report.Item.SourcePath)
	if err != nil {
		t.Fatal(err)
	}
	if fresh.ContainerVocalDir != report.Item.ContainerVocalDir || fresh.ContainerSource != report.Item.ContainerSource {
		t.Fatal("resumed item derived different paths than a fresh one")
	}
}

func TestTickResumeSettlesFinishedWorkerWithoutRedispatch(t *testing.T) {
	h := newHarness(t)
	resumeSnapshot(t, h, stages.Deecho, "F001", "1", stages.MainVocalFile, 1)
	// The worker finished before the previous controller died.
	testsupport.WriteAudio(t, h.layout.VocalDir("F001", "1"), "main_vocal.wav_10.wav")

	report, err := h.tick()
	if err != nil || report.Outcome != workflow.OutcomeSucceeded {
		t.Fatalf("Tick = %s, %v", report.Outcome, err)
	}
	if h.runs() != 0 {
		t.Fatal("finished worker must not be dispatched again")
	}
	if !exists(h.layout.Artifact("F001", "1", stages.DeechoedVocalFile)) || h.snapshot() != nil {
		t.Fatal("resume did not settle and clear the snapshot")
	}
}

func TestTickResumeAfterSettlementDoesNotDispatchAgain(t *testing.T) {
	cases := []struct {
		stage  stages.Stage
		source func(t *testing.T, h *harness) string
		output func(t *testing.T, h *harness)
		next   stages.Stage
	}{
		{
			stage:  stages.Extract,
			source: func(t *testing.T, h *harness) string { return filepath.Join(h.layout.CharacterDir("F001"), "1.wav") },
			output: func(t *testing.T, h *harness) {
				testsupport.WriteAudio(t, h.layout.ItemDir("F001", "1"), stages.VocalFile)
				testsupport.WriteAudio(t, h.layout.ItemDir("F001", "1"), "original.wav")
			},
			next: stages.Dereverb,
		},
		{
			stage: stages.Dereverb,
			source: func(t *testing.T, h *harness) string {
				return testsupport.WriteAudio(t, h.layout.ItemDir("F001", "1"), stages.VocalFile)
			},
			output: func(t *testing.T, h *harness) { testsupport.WriteAudio(t, h.layout.ItemDir("F001", "1"), stages.MainVocalFile) },
			next:   stages.Deecho,
		},
		{
			stage: stages.Deecho,
			source: func(t *testing.T, h *harness) string {
				return testsupport.WriteAudio(t, h.layout.ItemDir("F001", "1"), stages.MainVocalFile)
			},
			output: func(t *testing.T, h *harness) {
				testsupport.WriteAudio(t, h.layout.ItemDir("F001", "1"), stages.DeechoedVocalFile)
			},
			next: stages.Slice,
		},
		{
			stage: stages.Slice,
			source: func(t *testing.T, h *harness) string {
				return testsupport.WriteAudio(t, h.layout.ItemDir("F001", "1"), stages.DeechoedVocalFile)
			},
			output: func(t *testing.T, h *harness) { testsupport.WriteAudio(t, h.layout.SliceDir("F001", "1"), "0001.wav") },
			next:   stages.Transcribe,
		},
		{
			stage:  stages.Transcribe,
			source: func(t *testing.T, h *harness) string { return h.layout.SliceDir("F001", "1") },
			output: func(t *testing.T, h *harness) {
				testsupport.WriteAudio(t, h.layout.SliceDir("F001", "1"), "0001.wav")
				testsupport.WriteFile(t, h.layout.Artifact("F001", "1", stages.TranscriptFile), "0001.wav|F001|YUE|hi\n")
			},
		},
	}
	for _, tc := range cases {
		t.Run(string(tc.stage), func(t *testing.T) {
			h := newHarness(t, withMaxAttempts(1))
			w, err := workitem.New(h.layout, tc.stage, "F001", "1", tc.source(t, h))
			if err != nil {
				t.Fatalf("workitem: %v", err)
			}
			w.Attempts = 1
			if err := h.lock.Persist(w); err != nil {
				t.Fatalf("Persist: %v", err)
			}
			// The earlier tick settled the output, then died before clearing
			// the snapshot.
			tc.output(t, h)

			report, err := h.tick()
			if err != nil || report.Outcome != workflow.OutcomeSucceeded || !report.Resumed {
				t.Fatalf("Tick = %s, %v (%s); want resumed success", report.Outcome, err, report.Message)
			}
			if h.runs() != 0 {
				t.Fatalf("settled stage dispatched %d times", h.runs())
			}
			if h.snapshot() != nil {
				t.Fatal("snapshot must be cleared")
			}
			if discovery.Held(h.layout.ItemDir("F001", "1"), tc.stage) {
				t.Fatal("settled stage must not be held")
			}

			next, err := h.tick()
			if tc.next == "" {
				if err != nil || next.Outcome != workflow.OutcomeIdle {
					t.Fatalf("next tick = %s, %v; want idle", next.Outcome, err)
				}
				return
			}
			if err != nil || next.Outcome != workflow.OutcomeSucceeded || next.Item.Stage != tc.next {
				t.Fatalf("next tick = %s, %v; want %s to succeed", next.Outcome, err, tc.next)
			}
		})
	}
}

func TestTickSetsAsideInvalidSliceDirAndMovesOn(t *testing.T) {
	h := newHarness(t)
	testsupport.WriteAudio(t, h.layout.ItemDir("F001", "1"), stages.DeechoedVocalFile)
	testsupport.WriteFile(t, filepath.Join(h.layout.SliceDir("F001", "1"), "0001.wav"), "")
	testsupport.WriteAudio(t, h.layout.SliceDir("F009", "9"), "0001.wav")

	var keys []string
	for i := 0; i < 5; i++ {
		report, err := h.tick()
		if err != nil || report.Outcome.Alarm() {
			t.Fatalf("tick %d = %s, %v (%s)", i+1, report.Outcome, err, report.Message)
		}
		if report.Outcome == workflow.OutcomeIdle {
			break
		}
		if report.Outcome != workflow.OutcomeSucceeded {
			t.Fatalf("tick %d = %s (%s)", i+1, report.Outcome, report.Message)
		}
		keys = append(keys, report.Item.Key())
	}
	want := []string{"F001/1/slice", "F001/1/transcribe", "F009/9/transcribe"}
	if !slices.Equal(keys, want) {
		t.Fatalf("ticks handled %v, want %v", keys, want)
	}
	if n, _ := os.ReadDir(h.layout.SliceDir("F001", "1")); len(n) != 2 {
		t.Fatalf("expected 2 published slices, got %d", len(n))
	}
	aside, err := filepath.Glob(filepath.Join(h.layout.ItemDir("F001", "1"), ".slice.rejected-*", "0001.wav"))
	if err != nil || len(aside) != 1 {
		t.Fatalf("invalid slice dir was not kept aside: %v, %v", aside, err)
	}
}

func TestTickWorkerFailureKeepsSnapshot(t *testing.T) {
	h := newHarness(t)
	h.setWorker(failsWith(137))
	testsupport.WriteAudio(t, h.layout.CharacterDir("F001"), "1.wav")

	report, err := h.tick()
	if err != nil {
		t.Fatalf("worker failure is not an alarm: %v", err)
	}
	if report.Outcome != workflow.OutcomeWorkerFailed || report.ExitCode != 137 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(report.Tail) == 0 || report.Tail[0] != "worker starting" {
		t.Fatalf("tail = %v", report.Tail)
	}
	snap := h.snapshot()
	if snap == nil || snap.Attempts != 1 || snap.Key() != "F001/1/extract" {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestTickNotSettledKeepsSnapshot(t *testing.T) {
	h := newHarness(t)
	h.setWorker(producesNothing)
	testsupport.WriteAudio(t, h.layout.CharacterDir("F002"), "2.wav")

	report, err := h.tick()
	if err != nil || report.Outcome != workflow.OutcomeNotSettled {
		t.Fatalf("Tick = %s, %v", report.Outcome, err)
	}
	if h.snapshot() == nil {
		t.Fatal("snapshot must survive a tick that did not settle")
	}
	if !exists(filepath.Join(h.layout.CharacterDir("F002"), "2.wav")) {
		t.Fatal("raw source moved without settlement")
	}
}

func TestTickHoldsItemAfterMaxAttempts(t *testing.T) {
	h := newHarness(t, withMaxAttempts(2))
	h.setWorker(failsWith(1))
	testsupport.WriteAudio(t, h.layout.CharacterDir("F001"), "1.wav")

	first, _ := h.tick()
	if first.Outcome != workflow.OutcomeWorkerFailed {
		t.Fatalf("first tick = %s", first.Outcome)
	}
	second, err := h.tick()
	if err != nil || second.Outcome != workflow.OutcomeHeld || !second.Resumed {
		t.Fatalf("second tick = %+v, %v", second, err)
	}
	if !discovery.Held(h.layout.ItemDir("F001", "1"), stages.Extract) {
		t.Fatal("hold marker missing")
	}
	if h.snapshot() != nil {
		t.Fatal("held item must not stay in the snapshot")
	}
	if third, _ := h.tick(); third.Outcome != workflow.OutcomeIdle {
		t.Fatalf("held item must be skipped, got %s", third.Outcome)
	}
	if h.runs() != 2 {
		t.Fatalf("dispatched %d times, want 2", h.runs())
	}
}

func TestTickTimeoutIsAlarmAndKeepsSnapshot(t *testing.T) {
	h := newHarness(t, withWorkerOptions(worker.WithTimeout(20*time.Millisecond)))
	h.setWorker(hangs)
	testsupport.WriteAudio(t, h.layout.CharacterDir("F001"), "1.wav")

	report, err := h.tick()
	if !errors.Is(err, services.ErrTimeout) || report.Outcome != workflow.OutcomeTimedOut {
		t.Fatalf("Tick = %s, %v; want timed_out", report.Outcome, err)
	}
	if h.snapshot() == nil {
		t.Fatal("timeout must leave the snapshot for the next tick")
	}
	if len(h.exec.CallsWith("kill")) != 1 {
		t.Fatal("timed out container was not killed")
	}
}

func TestTickSkipsWhenImageBusy(t *testing.T) {
	h := newHarness(t)
	h.setRunning("uvr5")
	testsupport.WriteAudio(t, h.layout.CharacterDir("F001"), "1.wav")

	report, err := h.tick()
	if err != nil || report.Outcome != workflow.OutcomeBusy {
		t.Fatalf("Tick = %s, %v; want busy", report.Outcome, err)
	}
	if h.runs() != 0 || h.lock.Persists != 0 {
		t.Fatal("busy tick must not dispatch or persist")
	}
}

type panickingRunner struct{ workflow.Runner }

func (panickingRunner) Image(stages.Stage) string { return "uvr5" }
func (panickingRunner) Busy(context.Context, string) (bool, error) {
	panic("runtime exploded")
}

func TestTickRecoversPanicAndReleasesLock(t *testing.T) {
	h := newHarness(t)
	testsupport.WriteAudio(t, h.layout.CharacterDir("F001"), "1.wav")
	mem := lock.NewMemory(h.layout)
	reconciler := reconcile.New(stages.Default(), nil, logging.NewNop())
	controller := workflow.New(mem, h.finder, panickingRunner{}, reconciler, 3, logging.NewNop())

	report, err := controller.Tick(context.Background())
	if err == nil || report.Outcome != workflow.OutcomeError {
		t.Fatalf("Tick = %s, %v; want error", report.Outcome, err)
	}
	if mem.Held() {
		t.Fatal("lock must be released after a panic")
	}
}
