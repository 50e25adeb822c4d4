package devices_test

import (
	"context"
	"errors"
	"testing"

	"voiceprep/internal/devices"
)

type fakeQuerier struct {
	infos []devices.Info
	rows  []error
	err   error
}

func (f fakeQuerier) Query(context.Context) ([]devices.Info, []error, error) {
	return append([]devices.Info(nil), f.infos...), f.rows, f.err
}

func TestSelectBestPrefersFreeMemoryThenCapability(t *testing.T) {
	q := fakeQuerier{infos: []devices.Info{
		{Index: 0, FreeBytes: 4 << 30, Capability: 8.6},
		{Index: 1, FreeBytes: 10 << 30, Capability: 6.1},
		{Index: 2, FreeBytes: 10 << 30, Capability: 7.5},
	}}
	choice := devices.NewSelector(q, 7.0, nil).SelectBest(context.Background())
	if choice.ID != "cuda:2" || choice.Index != 2 {
		t.Fatalf("unexpected choice %+v", choice)
	}
	if !choice.Half {
		t.Fatal("capability 7.5 should run in half precision")
	}
	if choice.CPU() {
		t.Fatal("expected accelerator choice")
	}
}

func TestSelectBestTieBreaksByIndex(t *testing.T) {
	q := fakeQuerier{infos: []devices.Info{
		{Index: 3, FreeBytes: 8 << 30, Capability: 7.0},
		{Index: 1, FreeBytes: 8 << 30, Capability: 7.0},
	}}
	sel := devices.NewSelector(q, 7.0, nil)
	for range 5 {
		if choice := sel.SelectBest(context.Background()); choice.Index != 1 {
			t.Fatalf("expected deterministic lower index, got %+v", choice)
		}
	}
}

func TestSelectBestFallsBackToCPU(t *testing.T) {
	cases := map[string]devices.Querier{
		"query error":  fakeQuerier{err: errors.New("driver not loaded")},
		"no devices":   fakeQuerier{},
		"all rows bad": fakeQuerier{rows: []error{errors.New("row 1: index \"x\"")}},
	}
	for name, q := range cases {
		choice := devices.NewSelector(q, 7.0, nil).SelectBest(context.Background())
		if choice.ID != "cpu" || choice.Half || !choice.CPU() {
			t.Fatalf("%s: expected cpu full precision, got %+v", name, choice)
		}
	}
	if choice := devices.NewSelector(nil, 7.0, nil).SelectBest(context.Background()); choice.ID != "cpu" {
		t.Fatalf("nil querier should select cpu, got %+v", choice)
	}
}

func TestOldDeviceRunsFullPrecision(t *testing.T) {
	q := fakeQuerier{infos: []devices.Info{{Index: 0, FreeBytes: 1 << 30, Capability: 6.1}}}
	choice := devices.NewSelector(q, 7.0, nil).SelectBest(context.Background())
	if choice.Half {
		t.Fatalf("capability 6.1 must not use half precision: %+v", choice)
	}
}

func TestParseSMI(t *testing.T) {
	out := []byte("0, 20480, 24576, 8.6\n1, bogus, 24576, 8.6\n2, 1024, 8192, 6.1\n3, 1, 2\n")
	infos, errs := devices.ParseSMI(out)
	if len(infos) != 2 {
		t.Fatalf("expected 2 good rows, got %+v", infos)
	}
	if len(errs) != 2 {
		t.Fatalf("expected 2 row errors, got %v", errs)
	}
	if infos[0].FreeBytes != 20480<<20 || infos[0].TotalBytes != 24576<<20 {
		t.Fatalf("unexpected memory conversion %+v", infos[0])
	}
	if infos[1].Index != 2 || infos[1].Capability != 6.1 {
		t.Fatalf("unexpected second row %+v", infos[1])
	}
}

func TestSMIQuerierUsesRunner(t *testing.T) {
	var gotArgs []string
	q := &devices.SMIQuerier{
		Binary: "nvidia-smi",
		Run: func(_ context.Context, binary string, args ...string) ([]byte, error) {
			gotArgs = args
			return []byte("0, 100, 200, 7.0\n"), nil
		},
	}
	infos, rowErrs, err := q.Query(context.Background())
	if err != nil || len(rowErrs) != 0 || len(infos) != 1 {
		t.Fatalf("Query = %+v, %v, %v", infos, rowErrs, err)
	}
	if len(gotArgs) != 2 || gotArgs[1] != "--format=csv,noheader,nounits" {
		t.Fatalf("unexpected args %v", gotArgs)
	}
}
