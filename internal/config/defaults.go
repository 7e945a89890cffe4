package config

const (
	defaultOutputDir          = "~/transcripts"
	defaultWorkspaceDir       = "~/.local/share/scribe/jobs"
	defaultLogDir             = "~/.local/share/scribe/logs"
	defaultAPIBind            = "127.0.0.1:7519"
	defaultCookiesPath        = "~/.config/scribe/cookies.txt"
	defaultDeepgramBaseURL    = "https://api.deepgram.com/v1"
	defaultDeepgramModel      = "nova-3"
	defaultDeepgramLanguage   = "en"
	defaultChunkThresholdHrs  = 2.0
	defaultChunkSeconds       = 3600
	defaultOverlapSeconds     = 2
	defaultMinChunkSeconds    = 300
	defaultQueuePollInterval  = 5
	defaultErrorRetryInterval = 10
	defaultMaxAutoRetries     = 1
	defaultNtfyTimeout        = 10
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultLogMaxSizeMB       = 50
	defaultLogMaxBackups      = 5
	defaultLogRetentionDays   = 60
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			OutputDir:    defaultOutputDir,
			WorkspaceDir: defaultWorkspaceDir,
			LogDir:       defaultLogDir,
			APIBind:      defaultAPIBind,
		},
		Cookies: Cookies{
			Path: defaultCookiesPath,
		},
		Deepgram: Deepgram{
			BaseURL:  defaultDeepgramBaseURL,
			Model:    defaultDeepgramModel,
			Language: defaultDeepgramLanguage,
		},
		Chunking: Chunking{
			ThresholdHours:  defaultChunkThresholdHrs,
			ChunkSeconds:    defaultChunkSeconds,
			OverlapSeconds:  defaultOverlapSeconds,
			MinChunkSeconds: defaultMinChunkSeconds,
		},
		Workflow: Workflow{
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			MaxAutoRetries:     defaultMaxAutoRetries,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNtfyTimeout,
			Completion:     true,
			Errors:         true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			MaxSizeMB:     defaultLogMaxSizeMB,
			MaxBackups:    defaultLogMaxBackups,
			RetentionDays: defaultLogRetentionDays,
		},
		YtDlpBin:   "yt-dlp",
		FfmpegBin:  "ffmpeg",
		FfprobeBin: "ffprobe",
	}
}
