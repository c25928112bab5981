package preflight

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"conveyor/internal/config"
)

// CheckNtfyFromConfig evaluates notification status from config and connectivity.
func CheckNtfyFromConfig(cfg *config.Config) Result {
	const name = "Notifications"

	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	if strings.TrimSpace(cfg.Notifications.NtfyTopic) == "" {
		return Result{Name: name, Passed: true, Detail: "Disabled"}
	}
	check := CheckNtfy(context.Background(), cfg.Notifications.NtfyTopic)
	if check.Passed {
		return Result{Name: name, Passed: true, Detail: check.Detail}
	}
	return Result{Name: name, Detail: check.Detail}
}

// SpoolProbe reports the current item spool snapshot.
type SpoolProbe struct {
	Dir        string
	ItemCount  int
	TotalBytes int64
}

// ProbeSpool counts work item files currently staged in the spool directory.
func ProbeSpool(dir string) SpoolProbe {
	dir = strings.TrimSpace(dir)
	probe := SpoolProbe{Dir: dir}
	if dir == "" {
		return probe
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return probe
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".txt" {
			continue
		}
		probe.ItemCount++
		if info, err := entry.Info(); err == nil {
			probe.TotalBytes += info.Size()
		}
	}
	return probe
}

// SpoolDetail renders a display-friendly summary for status UIs.
func (p SpoolProbe) SpoolDetail() string {
	if p.Dir == "" {
		return "No spool directory configured"
	}
	if p.ItemCount == 0 {
		return "Spool empty"
	}
	return fmt.Sprintf("%d item(s) staged (%s)", p.ItemCount, formatBytes(p.TotalBytes))
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
