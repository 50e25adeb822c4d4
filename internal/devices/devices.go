package devices

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	"voiceprep/internal/logging"
)

const mib = 1 << 20

// Info is one accelerator reading.
type Info struct {
	Index      int
	FreeBytes  uint64
	TotalBytes uint64
	Capability float64
	Half       bool
}

// Choice is the device a dispatch binds to.
type Choice struct {
	// ID is "cuda:N" or "cpu".
	ID    string
	Index int
	Half  bool
	Info  *Info
}

// CPU reports whether no accelerator was selected.
func (c Choice) CPU() bool { return c.Info == nil }

// Querier returns raw accelerator rows. Rows that fail to parse are returned
// as per-row errors alongside the good rows.
type Querier interface {
	Query(ctx context.Context) ([]Info, []error, error)
}

// Selector ranks accelerators and picks the best one for a dispatch.
type Selector struct {
	querier       Querier
	minCapability float64
	logger        *slog.Logger
}

// NewSelector returns a Selector. Devices at or above minCapability run in
// half precision.
func NewSelector(q Querier, minCapability float64, logger *slog.Logger) *Selector {
	return &Selector{
		querier:       q,
		minCapability: minCapability,
		logger:        logging.NewComponentLogger(logger, "devices"),
	}
}

// SelectBest returns the device with the most free memory, then the highest
// capability, then the lowest index. Any failure to enumerate devices falls
// back to CPU in full precision; it never returns an error.
func (s *Selector) SelectBest(ctx context.Context) Choice {
	infos, err := s.Devices(ctx)
	if err != nil {
		logging.WarnWithContext(s.logger, "accelerator query failed; using cpu", "device_query_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "worker runs on cpu in full precision"),
			logging.String(logging.FieldErrorHint, "check the accelerator driver and query binary"),
		)
		return cpuChoice()
	}
	if len(infos) == 0 {
		s.logger.Info("no accelerators found; using cpu")
		return cpuChoice()
	}
	best := infos[0]
	return Choice{
		ID:    fmt.Sprintf("cuda:%d", best.Index),
		Index: best.Index,
		Half:  best.Half,
		Info:  &best,
	}
}

// Devices returns every usable accelerator in rank order.
func (s *Selector) Devices(ctx context.Context) ([]Info, error) {
	if s.querier == nil {
		return nil, nil
	}
	infos, rowErrs, err := s.querier.Query(ctx)
	if err != nil {
		return nil, err
	}
	for _, rowErr := range rowErrs {
		s.logger.Warn("skipping unreadable accelerator", logging.Error(rowErr))
	}
	for i := range infos {
		infos[i].Half = infos[i].Capability >= s.minCapability
	}
	Rank(infos)
	return infos, nil
}

// Rank orders devices best first.
func Rank(infos []Info) {
	sort.SliceStable(infos, func(i, j int) bool {
		a, b := infos[i], infos[j]
		if a.FreeBytes != b.FreeBytes {
			return a.FreeBytes > b.FreeBytes
		}
		if a.Capability != b.Capability {
			return a.Capability > b.Capability
		}
		return a.Index < b.Index
	})
}

func cpuChoice() Choice {
	return Choice{ID: "cpu", Index: -1}
}

// CommandRunner runs a binary and returns its standard output.
type CommandRunner func(ctx context.Context, binary string, args ...string) ([]byte, error)

// SMIQuerier reads devices from nvidia-smi.
type SMIQuerier struct {
	Binary string
	Run    CommandRunner
}

// NewSMIQuerier returns a querier running binary (nvidia-smi when empty).
func NewSMIQuerier(binary string) *SMIQuerier {
	if strings.TrimSpace(binary) == "" {
		binary = "nvidia-smi"
	}
	return &SMIQuerier{Binary: binary, Run: runCommand}
}

var smiArgs = []string{
	"--query-gpu=index,memory.free,memory.total,compute_cap",
	"--format=csv,noheader,nounits",
}

func (q *SMIQuerier) Query(ctx context.Context) ([]Info, []error, error) {
	run := q.Run
	if run == nil {
		run = runCommand
	}
	out, err := run(ctx, q.Binary, smiArgs...)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", q.Binary, err)
	}
	infos, rowErrs := ParseSMI(out)
	return infos, rowErrs, nil
}

// ParseSMI parses `index, free MiB, total MiB, capability` rows.
func ParseSMI(data []byte) ([]Info, []error) {
	reader := csv.NewReader(strings.NewReader(string(data)))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var (
		infos []Info
		errs  []error
	)
	for line := 1; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("row %d: %w", line, err))
			continue
		}
		info, err := parseRow(record)
		if err != nil {
			errs = append(errs, fmt.Errorf("row %d: %w", line, err))
			continue
		}
		infos = append(infos, info)
	}
	return infos, errs
}

func parseRow(record []string) (Info, error) {
	if len(record) != 4 {
		return Info{}, fmt.Errorf("expected 4 fields, got %d", len(record))
	}
	for i := range record {
		record[i] = strings.TrimSpace(record[i])
	}
	index, err := strconv.Atoi(record[0])
	if err != nil || index < 0 {
		return Info{}, fmt.Errorf("index %q", record[0])
	}
	free, err := strconv.ParseUint(record[1], 10, 64)
	if err != nil {
		return Info{}, fmt.Errorf("memory.free %q", record[1])
	}
	total, err := strconv.ParseUint(record[2], 10, 64)
	if err != nil {
		return Info{}, fmt.Errorf("memory.total %q", record[2])
	}
	capability, err := strconv.ParseFloat(record[3], 64)
	if err != nil {
		return Info{}, fmt.Errorf("compute_cap %q", record[3])
	}
	return Info{
		Index:      index,
		FreeBytes:  free * mib,
		TotalBytes: total * mib,
		Capability: capability,
	}, nil
}

func runCommand(ctx context.Context, binary string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, err
	}
	return out, nil
}
