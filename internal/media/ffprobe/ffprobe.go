package ffprobe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"voiceprep/internal/services"
)

// Result represents the parsed output from an ffprobe inspection.
type Result struct {
	Streams []Stream `json:"streams"`
	Format  Format   `json:"format"`
}

// Stream describes a single stream in the media container.
type Stream struct {
	Index      int    `json:"index"`
	CodecName  string `json:"codec_name"`
	CodecType  string `json:"codec_type"`
	Duration   string `json:"duration"`
	SampleRate string `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

// Format captures container-level metadata extracted by ffprobe.
type Format struct {
	Filename   string `json:"filename"`
	NBStreams  int    `json:"nb_streams"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	FormatName string `json:"format_name"`
}

// Inspect executes ffprobe against the provided path and decodes the JSON response.
func Inspect(ctx context.Context, binary string, path string) (Result, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffprobe"
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return Result{}, errors.New("ffprobe inspect: empty path")
	}

	cmd := exec.CommandContext(ctx, binary, "-v", "error", "-hide_banner", "-show_format", "-show_streams", "-of", "json", "--", path)
	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Result{}, fmt.Errorf("ffprobe inspect: %w: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return Result{}, fmt.Errorf("ffprobe inspect: %w", err)
	}
	return Parse(output)
}

// Parse decodes ffprobe JSON output.
func Parse(data []byte) (Result, error) {
	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		return Result{}, fmt.Errorf("ffprobe parse: %w", err)
	}
	return result, nil
}

// AudioStreamCount returns the number of audio streams discovered.
func (r Result) AudioStreamCount() int {
	count := 0
	for _, stream := range r.Streams {
		if strings.EqualFold(stream.CodecType, "audio") {
			count++
		}
	}
	return count
}

// DurationSeconds returns the container duration in seconds, 0 when
// unavailable and NaN when unparsable.
func (r Result) DurationSeconds() float64 {
	return parseFloat(r.Format.Duration)
}

func parseFloat(value string) float64 {
	cleaned := strings.TrimSpace(value)
	if cleaned == "" {
		return 0
	}
	if parsed, err := strconv.ParseFloat(cleaned, 64); err == nil {
		return parsed
	}
	return math.NaN()
}

// InspectFunc matches Inspect and lets tests replace the ffprobe process.
type InspectFunc func(ctx context.Context, binary, path string) (Result, error)

// Prober decides whether a file is a decodable audio file.
type Prober struct {
	binary  string
	inspect InspectFunc
}

// NewProber returns a Prober that runs binary.
func NewProber(binary string) *Prober {
	return &Prober{binary: binary, inspect: Inspect}
}

// WithInspectFunc overrides how files are inspected.
func (p *Prober) WithInspectFunc(fn InspectFunc) *Prober {
	clone := *p
	if fn != nil {
		clone.inspect = fn
	}
	return &clone
}

// IsAudio reports whether path is a non-empty regular file that ffprobe
// decodes with at least one audio stream. A missing, empty, or corrupt file is
// reported as false with a nil error. Errors are returned only when the
// context ends or the ffprobe binary itself cannot be run.
func (p *Prober) IsAudio(ctx context.Context, path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() || info.Size() == 0 {
		return false, nil
	}
	result, err := p.inspect(ctx, p.binary, path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		if errors.Is(err, exec.ErrNotFound) {
			return false, services.Wrap(services.ErrConfiguration, "ffprobe", "inspect", "binary not found", err)
		}
		return false, nil
	}
	if result.AudioStreamCount() == 0 {
		return false, nil
	}
	if d := result.DurationSeconds(); math.IsNaN(d) || d < 0 {
		return false, nil
	}
	return true, nil
}
