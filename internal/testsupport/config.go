package testsupport

import (
	"path/filepath"
	"testing"

	"conveyor/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.LLM.APIKey = "test"
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.ItemSpoolDir = filepath.Join(base, "items")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Paths.StreamBind = "127.0.0.1:0"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}

	return builder.cfg
}

// WithLLMKey sets the LLM API key on the test config.
func WithLLMKey(key string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.LLM.APIKey = key
	}
}

// WithLLMBaseURL points the LLM client at the given endpoint, usually an
// httptest server.
func WithLLMBaseURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.LLM.BaseURL = url
	}
}

// WithWorkers overrides the worker pool size on the test config.
func WithWorkers(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Engine.Workers = n
	}
}

// WithAPIToken requires a bearer token on the daemon HTTP API.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.APIToken = token
	}
}

// WithJobPlan overrides the default submission plan on the test config.
func WithJobPlan(plan ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Engine.JobPlan = plan
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
