package preflight

import (
	"context"

	"conveyor/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
// Directory and LLM checks always run; the ntfy check only runs when a
// topic is configured.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	results = append(results, CheckDirectoryAccess("Data directory", cfg.Paths.DataDir))
	results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))
	results = append(results, CheckDirectoryAccess("Item spool directory", cfg.Paths.ItemSpoolDir))

	results = append(results, CheckLLM(ctx, "LLM API", cfg.GetLLM()))

	if cfg.Notifications.NtfyTopic != "" {
		results = append(results, CheckNtfy(ctx, cfg.Notifications.NtfyTopic))
	}

	return results
}

// AllPassed reports whether every result passed.
func AllPassed(results []Result) bool {
	for _, result := range results {
		if !result.Passed {
			return false
		}
	}
	return true
}
