package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeAuth()
	if err := c.normalizeStore(); err != nil {
		return err
	}
	if err := c.normalizePipeline(); err != nil {
		return err
	}
	c.normalizeNotify()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StagingDir) == "" {
		c.Paths.StagingDir = defaultStagingDir
	}
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return fmt.Errorf("paths.staging_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	return nil
}

func (c *Config) normalizeAuth() {
	if c.Auth.Tokens == nil {
		c.Auth.Tokens = map[string]string{}
	}
	tokens := make(map[string]string, len(c.Auth.Tokens))
	for token, owner := range c.Auth.Tokens {
		token = strings.TrimSpace(token)
		owner = strings.TrimSpace(owner)
		if token == "" || owner == "" {
			continue
		}
		tokens[token] = owner
	}
	c.Auth.Tokens = tokens

	c.Auth.InternalSecret = strings.TrimSpace(c.Auth.InternalSecret)
	if c.Auth.InternalSecret == "" {
		if value, ok := os.LookupEnv("AUDIOBATCH_INTERNAL_SECRET"); ok {
			c.Auth.InternalSecret = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeStore() error {
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	if c.Store.Backend == "" {
		c.Store.Backend = defaultStoreBackend
	}
	c.Store.Endpoint = strings.TrimSpace(c.Store.Endpoint)
	c.Store.Bucket = strings.TrimSpace(c.Store.Bucket)
	c.Store.Region = strings.TrimSpace(c.Store.Region)
	if c.Store.Region == "" {
		c.Store.Region = defaultStoreRegion
	}
	c.Store.AccessKey = strings.TrimSpace(c.Store.AccessKey)
	if c.Store.AccessKey == "" {
		if value, ok := os.LookupEnv("AUDIOBATCH_STORE_ACCESS_KEY"); ok {
			c.Store.AccessKey = strings.TrimSpace(value)
		}
	}
	c.Store.SecretKey = strings.TrimSpace(c.Store.SecretKey)
	if c.Store.SecretKey == "" {
		if value, ok := os.LookupEnv("AUDIOBATCH_STORE_SECRET_KEY"); ok {
			c.Store.SecretKey = strings.TrimSpace(value)
		}
	}
	if strings.TrimSpace(c.Store.LocalDir) == "" {
		c.Store.LocalDir = defaultStoreLocalDir
	}
	var err error
	if c.Store.LocalDir, err = expandPath(c.Store.LocalDir); err != nil {
		return fmt.Errorf("store.local_dir: %w", err)
	}
	if c.Store.PresignExpiryMinutes <= 0 {
		c.Store.PresignExpiryMinutes = defaultPresignExpiryMinutes
	}
	return nil
}

func (c *Config) normalizePipeline() error {
	c.Pipeline.VADProvider = normalizeProvider(c.Pipeline.VADProvider)
	c.Pipeline.DenoiseProvider = normalizeProvider(c.Pipeline.DenoiseProvider)
	c.Pipeline.ASRProvider = normalizeProvider(c.Pipeline.ASRProvider)
	c.Pipeline.EmotionProvider = normalizeProvider(c.Pipeline.EmotionProvider)

	var err error
	if strings.TrimSpace(c.Pipeline.VADModelPath) != "" {
		if c.Pipeline.VADModelPath, err = expandPath(c.Pipeline.VADModelPath); err != nil {
			return fmt.Errorf("pipeline.vad_model_path: %w", err)
		}
	}
	if strings.TrimSpace(c.Pipeline.ASRModelDir) != "" {
		if c.Pipeline.ASRModelDir, err = expandPath(c.Pipeline.ASRModelDir); err != nil {
			return fmt.Errorf("pipeline.asr_model_dir: %w", err)
		}
	}
	c.Pipeline.ASRLanguage = strings.ToLower(strings.TrimSpace(c.Pipeline.ASRLanguage))
	if c.Pipeline.ASRLanguage == "" {
		c.Pipeline.ASRLanguage = defaultASRLanguage
	}
	c.Pipeline.ASREndpoint = strings.TrimSpace(c.Pipeline.ASREndpoint)
	c.Pipeline.ASRAPIKey = strings.TrimSpace(c.Pipeline.ASRAPIKey)
	if c.Pipeline.ASRAPIKey == "" {
		if value, ok := os.LookupEnv("AUDIOBATCH_ASR_API_KEY"); ok {
			c.Pipeline.ASRAPIKey = strings.TrimSpace(value)
		}
	}
	c.Pipeline.EmotionEndpoint = strings.TrimSpace(c.Pipeline.EmotionEndpoint)
	return nil
}

func normalizeProvider(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return ProviderNull
	}
	return normalized
}

func (c *Config) normalizeNotify() {
	c.Notify.TopicURL = strings.TrimSpace(c.Notify.TopicURL)
	if c.Notify.TopicURL == "" {
		if value, ok := os.LookupEnv("AUDIOBATCH_NTFY_TOPIC"); ok {
			c.Notify.TopicURL = strings.TrimSpace(value)
		}
	}
	if c.Notify.RequestTimeout <= 0 {
		c.Notify.RequestTimeout = defaultNotifyTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
