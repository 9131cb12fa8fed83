package config

// Store backend selectors.
const (
	StoreBackendS3    = "s3"
	StoreBackendLocal = "local"
)

// Stage provider selectors. "null" disables a stage by passing audio
// through unchanged (or emitting an empty result for analysis stages).
const (
	ProviderFFmpeg = "ffmpeg"
	ProviderSilero = "silero"
	ProviderSherpa = "sherpa-onnx"
	ProviderRemote = "remote"
	ProviderNull   = "null"
	ProviderAFFTDN = "afftdn"
)

const (
	defaultDataDir              = "~/.local/share/audiobatch"
	defaultStagingDir           = "~/.local/share/audiobatch/staging"
	defaultLogDir               = "~/.local/share/audiobatch/logs"
	defaultAPIBind              = "127.0.0.1:8732"
	defaultStoreBackend         = StoreBackendLocal
	defaultStoreLocalDir        = "~/.local/share/audiobatch/store"
	defaultStoreRegion          = "auto"
	defaultPresignExpiryMinutes = 60
	defaultMaxUploadMiB         = 512
	defaultMaxAudioMiB          = 256
	defaultMaxAttachmentMiB     = 32
	defaultMaxAttachments       = 16
	defaultWorkers              = 2
	defaultMaxRetries           = 3
	defaultRetryBaseSeconds     = 30
	defaultStageTimeoutSeconds  = 900
	defaultTargetSampleRate     = 16000
	defaultTargetChannels       = 1
	defaultVADPaddingMillis     = 200
	defaultASRLanguage          = "en"
	defaultJanitorInterval      = 300
	defaultStuckAgeMinutes      = 30
	defaultNotifyTimeout        = 10
	defaultQueuePollInterval    = 5
	defaultErrorRetryInterval   = 10
	defaultLeaseSeconds         = 120
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:    defaultDataDir,
			StagingDir: defaultStagingDir,
			LogDir:     defaultLogDir,
			APIBind:    defaultAPIBind,
		},
		Auth: Auth{
			Tokens: map[string]string{},
		},
		Store: Store{
			Backend:              defaultStoreBackend,
			Region:               defaultStoreRegion,
			LocalDir:             defaultStoreLocalDir,
			PresignExpiryMinutes: defaultPresignExpiryMinutes,
		},
		Ingest: Ingest{
			MaxUploadMiB:     defaultMaxUploadMiB,
			MaxAudioMiB:      defaultMaxAudioMiB,
			MaxAttachmentMiB: defaultMaxAttachmentMiB,
			MaxAttachments:   defaultMaxAttachments,
		},
		Pipeline: Pipeline{
			Workers:             defaultWorkers,
			MaxRetries:          defaultMaxRetries,
			RetryBaseSeconds:    defaultRetryBaseSeconds,
			StageTimeoutSeconds: defaultStageTimeoutSeconds,
			TargetSampleRate:    defaultTargetSampleRate,
			TargetChannels:      defaultTargetChannels,
			VADProvider:         ProviderNull,
			VADPaddingMillis:    defaultVADPaddingMillis,
			DenoiseProvider:     ProviderNull,
			ASRProvider:         ProviderNull,
			ASRLanguage:         defaultASRLanguage,
			EmotionProvider:     ProviderNull,
		},
		Janitor: Janitor{
			IntervalSeconds: defaultJanitorInterval,
			StuckAgeMinutes: defaultStuckAgeMinutes,
		},
		Notify: Notify{
			RequestTimeout: defaultNotifyTimeout,
			Completed:      true,
			Failed:         true,
		},
		Workflow: Workflow{
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			LeaseSeconds:       defaultLeaseSeconds,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
