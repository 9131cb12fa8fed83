package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir    string `toml:"data_dir"`
	StagingDir string `toml:"staging_dir"`
	LogDir     string `toml:"log_dir"`
	APIBind    string `toml:"api_bind"`
}

// Auth contains upload credentials and the internal shared secret.
type Auth struct {
	// Tokens maps bearer tokens to owner identifiers. Every upload and
	// query request must present one of these tokens.
	Tokens map[string]string `toml:"tokens"`
	// InternalSecret authorizes callbacks on the /internal endpoints.
	InternalSecret string `toml:"internal_secret"`
}

// Store contains artifact storage configuration. Backend selects between
// an S3-compatible bucket and a local filesystem directory.
type Store struct {
	Backend              string `toml:"backend"`
	Endpoint             string `toml:"endpoint"`
	Region               string `toml:"region"`
	Bucket               string `toml:"bucket"`
	AccessKey            string `toml:"access_key"`
	SecretKey            string `toml:"secret_key"`
	UseSSL               bool   `toml:"use_ssl"`
	LocalDir             string `toml:"local_dir"`
	PresignExpiryMinutes int    `toml:"presign_expiry_minutes"`
}

// Ingest contains upload validation limits.
type Ingest struct {
	MaxUploadMiB     int `toml:"max_upload_mib"`
	MaxAudioMiB      int `toml:"max_audio_mib"`
	MaxAttachmentMiB int `toml:"max_attachment_mib"`
	MaxAttachments   int `toml:"max_attachments"`
}

// Pipeline contains processing stage configuration.
type Pipeline struct {
	Workers             int    `toml:"workers"`
	MaxRetries          int    `toml:"max_retries"`
	RetryBaseSeconds    int    `toml:"retry_base_seconds"`
	StageTimeoutSeconds int    `toml:"stage_timeout_seconds"`
	TargetSampleRate    int    `toml:"target_sample_rate"`
	TargetChannels      int    `toml:"target_channels"`
	VADProvider         string `toml:"vad_provider"`
	VADModelPath        string `toml:"vad_model_path"`
	VADPaddingMillis    int    `toml:"vad_padding_millis"`
	DenoiseProvider     string `toml:"denoise_provider"`
	ASRProvider         string `toml:"asr_provider"`
	ASRModelDir         string `toml:"asr_model_dir"`
	ASRLanguage         string `toml:"asr_language"`
	ASREndpoint         string `toml:"asr_endpoint"`
	ASRAPIKey           string `toml:"asr_api_key"`
	EmotionProvider     string `toml:"emotion_provider"`
	EmotionEndpoint     string `toml:"emotion_endpoint"`
}

// Janitor contains configuration for the stuck-batch sweeper.
type Janitor struct {
	IntervalSeconds int `toml:"interval_seconds"`
	StuckAgeMinutes int `toml:"stuck_age_minutes"`
}

// Notify contains configuration for ntfy completion events.
type Notify struct {
	Enabled        bool   `toml:"enabled"`
	TopicURL       string `toml:"topic_url"`
	RequestTimeout int    `toml:"request_timeout"`
	Completed      bool   `toml:"completed"`
	Failed         bool   `toml:"failed"`
}

// Workflow contains configuration for daemon timing and intervals.
type Workflow struct {
	QueuePollInterval  int `toml:"queue_poll_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
	LeaseSeconds       int `toml:"lease_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for the daemon and CLI.
//
// Configuration sections by subsystem:
//   - Paths: data/staging/log directories and API bind address
//   - Auth: upload bearer tokens and the internal callback secret
//   - Store: S3-compatible or local artifact storage
//   - Ingest: upload validation limits
//   - Pipeline: worker pool size, retry policy, stage providers
//   - Janitor: stuck-batch sweep interval and age threshold
//   - Notify: ntfy completion event settings
//   - Workflow: queue polling intervals and lease duration
//   - Logging: log format and level
type Config struct {
	Paths    Paths    `toml:"paths"`
	Auth     Auth     `toml:"auth"`
	Store    Store    `toml:"store"`
	Ingest   Ingest   `toml:"ingest"`
	Pipeline Pipeline `toml:"pipeline"`
	Janitor  Janitor  `toml:"janitor"`
	Notify   Notify   `toml:"notify"`
	Workflow Workflow `toml:"workflow"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/audiobatch/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath("~/.config/audiobatch/config.toml")
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("audiobatch.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
// The local artifact store directory is created on a best-effort basis so
// the daemon can run when external storage is temporarily unavailable.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.StagingDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if c.Store.Backend == StoreBackendLocal && strings.TrimSpace(c.Store.LocalDir) != "" {
		// Best-effort to avoid failing config load when storage is offline.
		_ = os.MkdirAll(c.Store.LocalDir, 0o755)
	}
	return nil
}

// IndexPath returns the location of the SQLite batch index database.
func (c *Config) IndexPath() string {
	return filepath.Join(c.Paths.DataDir, "index.db")
}

// QueuePath returns the location of the SQLite job queue database.
func (c *Config) QueuePath() string {
	return filepath.Join(c.Paths.DataDir, "queue.db")
}

// LockPath returns the location of the daemon lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "audiobatchd.lock")
}

// FFmpegBinary returns the ffmpeg executable name used for transcode and trim.
func (c *Config) FFmpegBinary() string {
	return "ffmpeg"
}

// FFprobeBinary returns the ffprobe executable name used for audio validation.
func (c *Config) FFprobeBinary() string {
	return "ffprobe"
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// SampleConfig returns the embedded annotated sample configuration file.
func SampleConfig() string {
	return sampleConfig
}

// WriteSample writes the sample configuration to path, refusing to overwrite
// an existing file.
func WriteSample(path string) (string, error) {
	expanded, err := expandPath(path)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(expanded); err == nil {
		return "", fmt.Errorf("config file already exists at %s", expanded)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("stat config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return "", fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(expanded, []byte(sampleConfig), 0o644); err != nil {
		return "", fmt.Errorf("write sample config: %w", err)
	}
	return expanded, nil
}
