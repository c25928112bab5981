package config

import (
	"errors"
	"fmt"
	"strings"
)

// knownJobTypes mirrors the job types the scheduler accepts in a plan.
var knownJobTypes = map[string]struct{}{
	"analysis":       {},
	"extraction":     {},
	"categorization": {},
	"batch":          {},
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateEngine(); err != nil {
		return err
	}
	if err := c.validateLLM(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateEngine() error {
	if err := ensurePositiveMap(map[string]int{
		"engine.workers":            c.Engine.Workers,
		"engine.idle_poll_interval": c.Engine.IdlePollInterval,
		"engine.send_timeout":       c.Engine.SendTimeout,
	}); err != nil {
		return err
	}
	if c.Engine.DefaultMaxRetries < 0 {
		return errors.New("engine.default_max_retries must be >= 0")
	}
	if len(c.Engine.JobPlan) == 0 {
		return errors.New("engine.job_plan must include at least one job type")
	}
	for _, entry := range c.Engine.JobPlan {
		if _, ok := knownJobTypes[entry]; !ok {
			return fmt.Errorf("engine.job_plan contains unknown job type %q", entry)
		}
	}
	return nil
}

func (c *Config) validateLLM() error {
	if c.LLM.APIKey == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/conveyor/config.toml"
		}
		return fmt.Errorf("llm.api_key is required. Set OPENROUTER_API_KEY env var or edit %s (create with 'conveyor config init')", defaultPath)
	}
	if strings.TrimSpace(c.LLM.BaseURL) == "" {
		return errors.New("llm.base_url must be set")
	}
	if strings.TrimSpace(c.LLM.Model) == "" {
		return errors.New("llm.model must be set")
	}
	if c.LLM.TimeoutSeconds <= 0 {
		return errors.New("llm.timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
