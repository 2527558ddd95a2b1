package testsupport

import (
	"path/filepath"
	"testing"

	"grawlix/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with a unique temp output directory
// per test. It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.Output.Directory = filepath.Join(t.TempDir(), "library")
	cfg.Output.Template = "{title}"

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithTemplate overrides the output template on the test config.
func WithTemplate(template string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Output.Template = template
	}
}
