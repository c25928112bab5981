package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"conveyor/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	configCmd.AddCommand(newConfigInitCommand())
	configCmd.AddCommand(newConfigShowCommand(ctx))

	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Create a sample configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(targetPath)
			if target == "" {
				defaultPath, err := config.DefaultConfigPath()
				if err != nil {
					return fmt.Errorf("determine default config path: %w", err)
				}
				target = defaultPath
			} else {
				expanded, err := config.ExpandPath(target)
				if err != nil {
					return fmt.Errorf("resolve config path: %w", err)
				}
				target = expanded
			}

			dir := filepath.Dir(target)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create config directory %q: %w", dir, err)
			}

			if !overwrite {
				if _, err := os.Stat(target); err == nil {
					return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
				} else if err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("check config path: %w", err)
				}
			}

			if err := config.CreateSample(target); err != nil {
				return fmt.Errorf("create sample config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintln(out, "Edit the file to set llm.api_key (or export OPENROUTER_API_KEY) before starting the daemon.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite existing configuration if present")
	return cmd
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "show",
		Short:       "Show the effective configuration",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var flagPath string
			if ctx.configFlag != nil {
				flagPath = strings.TrimSpace(*ctx.configFlag)
			}
			cfg, path, exists, err := config.Load(flagPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config path: %s\n", path)
			if !exists {
				fmt.Fprintln(out, "Config file did not exist; defaults are shown")
			}
			fmt.Fprintln(out)

			rows := [][]string{
				{"paths.data_dir", cfg.Paths.DataDir},
				{"paths.log_dir", cfg.Paths.LogDir},
				{"paths.item_spool_dir", cfg.Paths.ItemSpoolDir},
				{"paths.api_bind", orDisabled(cfg.Paths.APIBind)},
				{"paths.stream_bind", orDisabled(cfg.Paths.StreamBind)},
				{"engine.workers", strconv.Itoa(cfg.Engine.Workers)},
				{"engine.idle_poll_interval", strconv.Itoa(cfg.Engine.IdlePollInterval)},
				{"engine.default_max_retries", strconv.Itoa(cfg.Engine.DefaultMaxRetries)},
				{"engine.job_plan", strings.Join(cfg.Engine.JobPlan, ", ")},
				{"llm.base_url", cfg.LLM.BaseURL},
				{"llm.model", cfg.LLM.Model},
				{"llm.api_key", maskSecret(cfg.LLM.APIKey)},
				{"notifications.ntfy_topic", orDisabled(cfg.Notifications.NtfyTopic)},
				{"logging.level", cfg.Logging.Level},
				{"logging.format", cfg.Logging.Format},
				{"logging.retention_days", strconv.Itoa(cfg.Logging.RetentionDays)},
			}
			fmt.Fprintln(out, renderTable([]string{"Key", "Value"}, rows, []columnAlignment{alignLeft, alignLeft}))
			return nil
		},
	}
}

func orDisabled(value string) string {
	if strings.TrimSpace(value) == "" {
		return "(disabled)"
	}
	return value
}

func maskSecret(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "(not set)"
	}
	if len(value) <= 4 {
		return "****"
	}
	return "****" + value[len(value)-4:]
}
