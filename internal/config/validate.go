package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateIngest(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateJanitor(); err != nil {
		return err
	}
	if err := c.validateNotify(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Backend {
	case StoreBackendS3:
		if c.Store.Endpoint == "" {
			return errors.New("store.endpoint must be set when store.backend is \"s3\"")
		}
		if c.Store.Bucket == "" {
			return errors.New("store.bucket must be set when store.backend is \"s3\"")
		}
		if c.Store.AccessKey == "" || c.Store.SecretKey == "" {
			return errors.New("store.access_key and store.secret_key must be set when store.backend is \"s3\" (or via AUDIOBATCH_STORE_ACCESS_KEY / AUDIOBATCH_STORE_SECRET_KEY)")
		}
	case StoreBackendLocal:
		if c.Store.LocalDir == "" {
			return errors.New("store.local_dir must be set when store.backend is \"local\"")
		}
	default:
		return fmt.Errorf("store.backend must be %q or %q, got %q", StoreBackendS3, StoreBackendLocal, c.Store.Backend)
	}
	return nil
}

func (c *Config) validateIngest() error {
	if err := ensurePositiveMap(map[string]int{
		"ingest.max_upload_mib":     c.Ingest.MaxUploadMiB,
		"ingest.max_audio_mib":      c.Ingest.MaxAudioMiB,
		"ingest.max_attachment_mib": c.Ingest.MaxAttachmentMiB,
	}); err != nil {
		return err
	}
	if c.Ingest.MaxAttachments < 0 {
		return errors.New("ingest.max_attachments must not be negative")
	}
	if c.Ingest.MaxAudioMiB > c.Ingest.MaxUploadMiB {
		return errors.New("ingest.max_audio_mib must not exceed ingest.max_upload_mib")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if err := ensurePositiveMap(map[string]int{
		"pipeline.workers":               c.Pipeline.Workers,
		"pipeline.retry_base_seconds":    c.Pipeline.RetryBaseSeconds,
		"pipeline.stage_timeout_seconds": c.Pipeline.StageTimeoutSeconds,
		"pipeline.target_sample_rate":    c.Pipeline.TargetSampleRate,
		"pipeline.target_channels":       c.Pipeline.TargetChannels,
	}); err != nil {
		return err
	}
	if c.Pipeline.MaxRetries < 0 {
		return errors.New("pipeline.max_retries must not be negative")
	}
	if c.Pipeline.VADPaddingMillis < 0 {
		return errors.New("pipeline.vad_padding_millis must not be negative")
	}
	if err := ensureProvider("pipeline.vad_provider", c.Pipeline.VADProvider, ProviderSilero, ProviderNull); err != nil {
		return err
	}
	if c.Pipeline.VADProvider == ProviderSilero && strings.TrimSpace(c.Pipeline.VADModelPath) == "" {
		return errors.New("pipeline.vad_model_path must be set when pipeline.vad_provider is \"silero\"")
	}
	if err := ensureProvider("pipeline.denoise_provider", c.Pipeline.DenoiseProvider, ProviderAFFTDN, ProviderNull); err != nil {
		return err
	}
	if err := ensureProvider("pipeline.asr_provider", c.Pipeline.ASRProvider, ProviderSherpa, ProviderRemote, ProviderNull); err != nil {
		return err
	}
	if c.Pipeline.ASRProvider == ProviderSherpa && strings.TrimSpace(c.Pipeline.ASRModelDir) == "" {
		return errors.New("pipeline.asr_model_dir must be set when pipeline.asr_provider is \"sherpa-onnx\"")
	}
	if c.Pipeline.ASRProvider == ProviderRemote && strings.TrimSpace(c.Pipeline.ASREndpoint) == "" {
		return errors.New("pipeline.asr_endpoint must be set when pipeline.asr_provider is \"remote\"")
	}
	if err := ensureProvider("pipeline.emotion_provider", c.Pipeline.EmotionProvider, ProviderRemote, ProviderNull); err != nil {
		return err
	}
	if c.Pipeline.EmotionProvider == ProviderRemote && strings.TrimSpace(c.Pipeline.EmotionEndpoint) == "" {
		return errors.New("pipeline.emotion_endpoint must be set when pipeline.emotion_provider is \"remote\"")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.queue_poll_interval":  c.Workflow.QueuePollInterval,
		"workflow.error_retry_interval": c.Workflow.ErrorRetryInterval,
		"workflow.lease_seconds":        c.Workflow.LeaseSeconds,
	}); err != nil {
		return err
	}
	if c.Workflow.LeaseSeconds <= c.Workflow.QueuePollInterval {
		return errors.New("workflow.lease_seconds must be greater than workflow.queue_poll_interval")
	}
	return nil
}

func (c *Config) validateJanitor() error {
	return ensurePositiveMap(map[string]int{
		"janitor.interval_seconds":  c.Janitor.IntervalSeconds,
		"janitor.stuck_age_minutes": c.Janitor.StuckAgeMinutes,
	})
}

func (c *Config) validateNotify() error {
	if !c.Notify.Enabled {
		return nil
	}
	if c.Notify.TopicURL == "" {
		return errors.New("notify.topic_url must be set when notify.enabled is true (or via AUDIOBATCH_NTFY_TOPIC)")
	}
	if c.Notify.RequestTimeout <= 0 {
		return errors.New("notify.request_timeout must be positive (seconds)")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be \"console\" or \"json\", got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", c.Logging.Level)
	}
	return nil
}

func ensureProvider(key, value string, allowed ...string) error {
	for _, candidate := range allowed {
		if value == candidate {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s; got %q", key, strings.Join(allowed, ", "), value)
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
