package handlers

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"conveyor/internal/config"
	"conveyor/internal/services"
)

// ItemSource resolves a work item reference to its content. The scheduler
// never sees item content; only handlers fetch it, right before processing.
type ItemSource interface {
	Fetch(ctx context.Context, ref string) (string, error)
}

// SpoolSource reads items from the configured spool directory, one text file
// per reference.
type SpoolSource struct {
	dir string
}

// NewSpoolSource returns a source backed by the configured item spool.
func NewSpoolSource(cfg *config.Config) *SpoolSource {
	return &SpoolSource{dir: cfg.Paths.ItemSpoolDir}
}

// Fetch reads <spool>/<ref>.txt. References never traverse outside the spool.
func (s *SpoolSource) Fetch(ctx context.Context, ref string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name, err := sanitizeRef(ref)
	if err != nil {
		return "", err
	}

	path := filepath.Join(s.dir, name+".txt")
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", services.Wrap(services.ErrNotFound, "spool", "fetch item", fmt.Sprintf("no item file for ref %q", ref), nil)
	}
	if err != nil {
		return "", fmt.Errorf("read item %s: %w", ref, err)
	}

	content := strings.TrimSpace(string(data))
	if content == "" {
		return "", services.Wrap(services.ErrValidation, "spool", "fetch item", fmt.Sprintf("item %q is empty", ref), nil)
	}
	return content, nil
}

func sanitizeRef(ref string) (string, error) {
	trimmed := strings.TrimSpace(ref)
	if trimmed == "" {
		return "", services.Wrap(services.ErrValidation, "spool", "fetch item", "item ref is empty", nil)
	}
	if strings.ContainsAny(trimmed, `/\`) || strings.Contains(trimmed, "..") {
		return "", services.Wrap(services.ErrValidation, "spool", "fetch item", fmt.Sprintf("item ref %q must not contain path separators", ref), nil)
	}
	return trimmed, nil
}
