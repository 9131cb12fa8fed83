package testsupport

import (
	"path/filepath"
	"testing"

	"audiobatch/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.StagingDir = filepath.Join(base, "staging")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Auth.Tokens = map[string]string{"test-token": "owner-1"}
	cfg.Auth.InternalSecret = "internal-secret"
	cfg.Store.Backend = config.StoreBackendLocal
	cfg.Store.LocalDir = filepath.Join(base, "store")
	cfg.Pipeline.Workers = 1
	cfg.Pipeline.MaxRetries = 2
	cfg.Pipeline.RetryBaseSeconds = 1
	cfg.Pipeline.StageTimeoutSeconds = 30
	cfg.Pipeline.VADProvider = config.ProviderNull
	cfg.Pipeline.DenoiseProvider = config.ProviderNull
	cfg.Pipeline.ASRProvider = config.ProviderNull
	cfg.Pipeline.EmotionProvider = config.ProviderNull
	cfg.Workflow.QueuePollInterval = 1
	cfg.Workflow.ErrorRetryInterval = 1
	cfg.Workflow.LeaseSeconds = 60

	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return &cfg
}

// WithTokens replaces the auth token map on the test config.
func WithTokens(tokens map[string]string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Auth.Tokens = tokens
	}
}
