package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConfigInitCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	tmp := t.TempDir()
	target := filepath.Join(tmp, "config.toml")
	out, _, err := runCLI(t, []string{"config", "init", "--path", target}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration to "+target)

	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	_, _, err = runCLI(t, []string{"config", "init", "--path", target}, env.socketPath, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected overwrite guard, got %v", err)
	}

	out, _, err = runCLI(t, []string{"config", "init", "--path", target, "--overwrite"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
}

func TestConfigShowCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"config", "show"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	requireContains(t, out, "Config path: "+env.configPath)
	requireContains(t, out, "engine.workers")
	requireContains(t, out, "llm.api_key")
	requireContains(t, out, "****")

	t.Setenv("OPENROUTER_API_KEY", "env-key-1234")
	missing := filepath.Join(t.TempDir(), "nope.toml")
	out, _, err = runCLI(t, []string{"config", "show"}, env.socketPath, missing)
	if err != nil {
		t.Fatalf("config show defaults: %v", err)
	}
	requireContains(t, out, "Config file did not exist; defaults are shown")
}
