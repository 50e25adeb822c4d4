package config

const (
	defaultConfigPath                 = "~/.config/voiceprep/config.toml"
	defaultDataRoot                   = "/mnt/data/misc/tts"
	defaultContainerRoot              = "/data"
	defaultPipelineDirName            = "train"
	defaultLogDirName                 = "log"
	defaultLockFileName               = ".tick.lock"
	defaultSnapshotFileName           = ".task.json"
	defaultHistoryDBName              = "history.db"
	defaultWorkerRuntime              = "docker"
	defaultWorkerTimeoutMinutes       = 120
	defaultWorkerOutputTailLines      = 40
	defaultSeparatorImage             = "uvr5"
	defaultSlicerImage                = "voiceprep-slicer"
	defaultTranscriberImage           = "funasr"
	defaultExtractModel               = "model_bs_roformer_ep_317_sdr_12.9755"
	defaultDereverbModel              = "onnx_dereverb"
	defaultDeechoModel                = "VR-DeEchoAggressive"
	defaultTranscribeLanguage         = "yue"
	defaultTranscribeModelSize        = "large"
	defaultDeviceQueryBinary          = "nvidia-smi"
	defaultHalfPrecisionMinCapability = 7.0
	defaultFFprobeBinary              = "ffprobe"
	defaultMaxAttempts                = 3
	defaultLogFormat                  = "console"
	defaultLogLevel                   = "info"
	defaultLogMaxSizeMB               = 50
	defaultLogMaxBackups              = 12
	defaultLogMaxAgeDays              = 90
)

// Default returns a Config populated with repository defaults. Paths derived
// from the data root (pipeline root, log dir, lock and snapshot files) are left
// empty and filled in by normalization so an overridden data_root carries them.
func Default() Config {
	return Config{
		Paths: Paths{
			DataRoot:      defaultDataRoot,
			ContainerRoot: defaultContainerRoot,
		},
		Worker: Worker{
			Runtime:         defaultWorkerRuntime,
			TimeoutMinutes:  defaultWorkerTimeoutMinutes,
			OutputTailLines: defaultWorkerOutputTailLines,
			Extract:         StageWorker{Image: defaultSeparatorImage, Model: defaultExtractModel},
			Dereverb:        StageWorker{Image: defaultSeparatorImage, Model: defaultDereverbModel},
			Deecho:          StageWorker{Image: defaultSeparatorImage, Model: defaultDeechoModel},
			Slice:           StageWorker{Image: defaultSlicerImage},
			Transcribe:      StageWorker{Image: defaultTranscriberImage},
		},
		Transcribe: Transcribe{
			Language:  defaultTranscribeLanguage,
			ModelSize: defaultTranscribeModelSize,
		},
		Devices: Devices{
			QueryBinary:                defaultDeviceQueryBinary,
			HalfPrecisionMinCapability: defaultHalfPrecisionMinCapability,
		},
		Audio: Audio{
			FFprobeBinary: defaultFFprobeBinary,
		},
		Workflow: Workflow{
			MaxAttempts: defaultMaxAttempts,
		},
		Logging: Logging{
			Format:     defaultLogFormat,
			Level:      defaultLogLevel,
			MaxSizeMB:  defaultLogMaxSizeMB,
			MaxBackups: defaultLogMaxBackups,
			MaxAgeDays: defaultLogMaxAgeDays,
			Compress:   true,
		},
	}
}
