package config

const (
	defaultAddr            = ":7777"
	defaultCORSOrigin      = "*"
	defaultDataDir         = "~/.local/share/latentwalk"
	defaultOutputDir       = "~/.local/share/latentwalk/outputs"
	defaultMaxConcurrent   = 2
	defaultLogTail         = 200
	defaultMaxSeconds      = 120
	defaultMaxFPS          = 60
	defaultMaxResolution   = 1024
	defaultMaxAnchors      = 64
	defaultRetention       = "24h"
	defaultMaxRetained     = 500
	defaultJanitorInterval = "5m"
	defaultGenerator       = "procedural"
	defaultLatentDim       = 128
	defaultRemoteTimeout   = "30s"
	defaultMaxAttempts     = 1
	defaultWorkers         = 1
	defaultSharpenFilter   = "kernel"
	defaultVideoFormat     = "mp4"
	defaultFFmpegBinary    = "ffmpeg"
	defaultCRF             = 18
	defaultPreset          = "medium"
	defaultPreviewQuality  = 80
	defaultRedisChannel    = "latentwalk:events"
	defaultLogLevel        = "info"
	defaultLogFormat       = "console"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Server: Server{
			Addr:       defaultAddr,
			CORSOrigin: defaultCORSOrigin,
		},
		Paths: Paths{
			DataDir:   defaultDataDir,
			OutputDir: defaultOutputDir,
		},
		Jobs: Jobs{
			MaxConcurrent:   defaultMaxConcurrent,
			LogTail:         defaultLogTail,
			MaxSeconds:      defaultMaxSeconds,
			MaxFPS:          defaultMaxFPS,
			MaxResolution:   defaultMaxResolution,
			MaxAnchors:      defaultMaxAnchors,
			Retention:       defaultRetention,
			MaxRetained:     defaultMaxRetained,
			JanitorInterval: defaultJanitorInterval,
		},
		Synthesis: Synthesis{
			Generator:     defaultGenerator,
			LatentDim:     defaultLatentDim,
			RemoteTimeout: defaultRemoteTimeout,
			MaxAttempts:   defaultMaxAttempts,
			Workers:       defaultWorkers,
			SharpenFilter: defaultSharpenFilter,
		},
		Video: Video{
			Format:       defaultVideoFormat,
			FFmpegBinary: defaultFFmpegBinary,
			CRF:          defaultCRF,
			Preset:       defaultPreset,
		},
		Preview: Preview{
			Enabled: true,
			Quality: defaultPreviewQuality,
		},
		Events: Events{
			RedisChannel: defaultRedisChannel,
		},
		Logging: Logging{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
	}
}
