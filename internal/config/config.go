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

// Paths contains directory, bind address, and API access configuration.
type Paths struct {
	DataDir      string `toml:"data_dir"`
	LogDir       string `toml:"log_dir"`
	ItemSpoolDir string `toml:"item_spool_dir"`
	APIBind      string `toml:"api_bind"`
	APIToken     string `toml:"api_token"`
	StreamBind   string `toml:"stream_bind"`
}

// Engine contains scheduler and worker pool tuning.
type Engine struct {
	Workers           int      `toml:"workers"`
	IdlePollInterval  int      `toml:"idle_poll_interval"`
	DefaultMaxRetries int      `toml:"default_max_retries"`
	JobPlan           []string `toml:"job_plan"`
	SendTimeout       int      `toml:"send_timeout"`
}

// LLM contains shared LLM connection settings used by the job handlers.
type LLM struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	Referer        string `toml:"referer"`
	Title          string `toml:"title"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic         string `toml:"ntfy_topic"`
	RequestTimeout    int    `toml:"request_timeout"`
	PipelineCompleted bool   `toml:"pipeline_completed"`
	PipelineFailed    bool   `toml:"pipeline_failed"`
	PipelineCancelled bool   `toml:"pipeline_cancelled"`
	EngineLifecycle   bool   `toml:"engine_lifecycle"`
	Errors            bool   `toml:"errors"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for Conveyor.
//
// Configuration sections by subsystem:
//   - Paths: data/log/spool directories plus API and stream bind addresses
//   - Engine: worker pool size, polling, retry budget, submission plan
//   - LLM: shared LLM connection settings for the job handlers
//   - Notifications: ntfy push notification settings
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Engine        Engine        `toml:"engine"`
	LLM           LLM           `toml:"llm"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/conveyor/config.toml")
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

	defaultPath, err := expandPath("~/.config/conveyor/config.toml")
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("conveyor.toml")
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
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir, c.Paths.ItemSpoolDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// SocketPath returns the daemon control socket location inside the data directory.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.DataDir, "conveyord.sock")
}

// LockPath returns the daemon single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "conveyord.lock")
}

// HistoryPath returns the history database location inside the data directory.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.Paths.DataDir, "history.db")
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

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	sample := sampleConfig

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// LLMConfig contains common LLM settings consumed by the llm client.
type LLMConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	Referer        string
	Title          string
	TimeoutSeconds int
}

// GetLLM returns the shared LLM connection settings.
func (c *Config) GetLLM() LLMConfig {
	return LLMConfig{
		APIKey:         strings.TrimSpace(c.LLM.APIKey),
		BaseURL:        strings.TrimSpace(c.LLM.BaseURL),
		Model:          strings.TrimSpace(c.LLM.Model),
		Referer:        strings.TrimSpace(c.LLM.Referer),
		Title:          strings.TrimSpace(c.LLM.Title),
		TimeoutSeconds: c.LLM.TimeoutSeconds,
	}
}
