package stages

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Stage names one step of the pipeline.
type Stage string

const (
	Extract    Stage = "extract"
	Dereverb   Stage = "dereverb"
	Deecho     Stage = "deecho"
	Slice      Stage = "slice"
	Transcribe Stage = "transcribe"
)

// Label returns the display form of the stage name.
func (s Stage) Label() string {
	return cases.Title(language.Und).String(string(s))
}

func (s Stage) String() string { return string(s) }

// Order returns every stage in pipeline order.
func Order() []Stage {
	return []Stage{Extract, Dereverb, Deecho, Slice, Transcribe}
}

// Parse resolves a stage name, ignoring case and surrounding whitespace.
func Parse(value string) (Stage, error) {
	candidate := Stage(strings.ToLower(strings.TrimSpace(value)))
	for _, s := range Order() {
		if s == candidate {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown stage %q", value)
}

// Kind describes how an artifact is validated.
type Kind int

const (
	// KindAudioFile is a single decodable audio file.
	KindAudioFile Kind = iota
	// KindAudioDir is a directory holding at least one decodable *.wav file.
	KindAudioDir
	// KindText is a non-empty regular file.
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindAudioFile:
		return "audio"
	case KindAudioDir:
		return "audio-dir"
	case KindText:
		return "text"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Artifact names a file or directory inside an item directory.
type Artifact struct {
	Name string
	Kind Kind
}

// Collect selects how matched worker outputs are moved.
type Collect int

const (
	// CollectFirst moves the first valid match onto the destination.
	CollectFirst Collect = iota
	// CollectAll moves every valid match into the destination directory.
	CollectAll
)

// ArgStyle selects the worker command-line contract.
type ArgStyle int

const (
	ArgsSeparator ArgStyle = iota
	ArgsTranscriber
)

// Definition is the static description of one stage.
type Definition struct {
	Stage Stage
	Order int
	// Input is empty-named for extract, whose input is a raw file in the
	// character directory rather than an artifact inside an item directory.
	Input          Artifact
	Output         Artifact
	OutputGlob     string
	Destination    string
	Collect        Collect
	RelocateSource bool
	Args           ArgStyle
	TaskType       string
}

// UsesRawSource reports whether the stage consumes a raw input file.
func (d Definition) UsesRawSource() bool {
	return d.Input.Name == ""
}

const (
	VocalFile          = "vocal.wav"
	MainVocalFile      = "main_vocal.wav"
	DeechoedVocalFile  = "vocal_main_vocal.wav"
	SliceDirName       = "slice"
	TranscriptFile     = "transcript.list"
	OriginalFilePrefix = "original"
)
