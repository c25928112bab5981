package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"conveyor/internal/config"
)

// WriteItem places item content into the spool directory under the given
// reference so handlers can fetch it during tests.
func WriteItem(t testing.TB, cfg *config.Config, ref, content string) string {
	t.Helper()

	path := filepath.Join(cfg.Paths.ItemSpoolDir, ref+".txt")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
