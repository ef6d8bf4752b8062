package testsupport

import (
	"path/filepath"
	"testing"

	"taskbeat/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with a unique temp data directory per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.API.Bind = "127.0.0.1:0"
	cfgVal.Logging.RetentionDays = 0

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithQueueName overrides the queue name on the test config.
func WithQueueName(name string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Queue.Name = name
	}
}

// WithQuotas replaces the claim quotas on the test config.
func WithQuotas(quotas ...config.PollQuota) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Queue.PollQuotas = quotas
	}
}

// WithEager turns on synchronous processing of delayed entries.
func WithEager() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Tasks.AlwaysEager = true
	}
}

// WithAPIToken sets the bearer token required by the API server.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.API.Token = token
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
