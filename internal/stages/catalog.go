package stages

import "fmt"

// Catalog is the immutable ordered stage table. The zero value is empty; use
// Default.
type Catalog struct {
	defs []Definition
}

// Default returns the built-in five stage catalog.
func Default() Catalog {
	defs := []Definition{
		{
			Stage:          Extract,
			Output:         Artifact{Name: VocalFile, Kind: KindAudioFile},
			OutputGlob:     "**/*.reformatted_vocals.wav",
			Destination:    VocalFile,
			Collect:        CollectFirst,
			RelocateSource: true,
			Args:           ArgsSeparator,
			TaskType:       "extract",
		},
		{
			Stage:       Dereverb,
			Input:       Artifact{Name: VocalFile, Kind: KindAudioFile},
			Output:      Artifact{Name: MainVocalFile, Kind: KindAudioFile},
			OutputGlob:  "**/*.wav_main_vocal.wav",
			Destination: MainVocalFile,
			Collect:     CollectFirst,
			Args:        ArgsSeparator,
			TaskType:    "dereverb",
		},
		{
			Stage:       Deecho,
			Input:       Artifact{Name: MainVocalFile, Kind: KindAudioFile},
			Output:      Artifact{Name: DeechoedVocalFile, Kind: KindAudioFile},
			OutputGlob:  "**/*.wav_10.wav",
			Destination: DeechoedVocalFile,
			Collect:     CollectFirst,
			Args:        ArgsSeparator,
			TaskType:    "deecho",
		},
		{
			Stage:       Slice,
			Input:       Artifact{Name: DeechoedVocalFile, Kind: KindAudioFile},
			Output:      Artifact{Name: SliceDirName, Kind: KindAudioDir},
			OutputGlob:  "*.wav",
			Destination: SliceDirName,
			Collect:     CollectAll,
			Args:        ArgsSeparator,
			TaskType:    "slice",
		},
		{
			Stage:       Transcribe,
			Input:       Artifact{Name: SliceDirName, Kind: KindAudioDir},
			Output:      Artifact{Name: TranscriptFile, Kind: KindText},
			OutputGlob:  "*.list",
			Destination: TranscriptFile,
			Collect:     CollectFirst,
			Args:        ArgsTranscriber,
			TaskType:    "transcribe",
		},
	}
	for i := range defs {
		defs[i].Order = i
	}
	return Catalog{defs: defs}
}

// All returns a copy of the definitions in priority order.
func (c Catalog) All() []Definition {
	return append([]Definition(nil), c.defs...)
}

// Lookup returns the definition for stage.
func (c Catalog) Lookup(stage Stage) (Definition, error) {
	for _, def := range c.defs {
		if def.Stage == stage {
			return def, nil
		}
	}
	return Definition{}, fmt.Errorf("stage %q not in catalog", stage)
}

// Len reports the number of stages.
func (c Catalog) Len() int { return len(c.defs) }
