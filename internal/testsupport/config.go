package testsupport

import (
	"path/filepath"
	"testing"

	"strato/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StateDir = filepath.Join(base, "state")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.MetricsBind = "127.0.0.1:0"

	for _, opt := range opts {
		opt(&cfg)
	}

	return &cfg
}

// WithInlineLimit overrides the payload inline size limit on the test config.
func WithInlineLimit(limit int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Stager.InlineLimitBytes = limit
	}
}

// WithDeployCommand overrides the deploy apply command on the test config.
func WithDeployCommand(command ...string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Deploy.Command = command
	}
}
