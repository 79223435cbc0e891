package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCommandRegistration(t *testing.T) {
	want := []string{
		"run", "status", "dashboard", "rollback",
		"compliance-monitor", "boundary-monitor",
		"experiment", "safe-integrate",
	}

	registered := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		registered[cmd.Name()] = true
	}
	for _, name := range want {
		if !registered[name] {
			t.Errorf("command %s not registered", name)
		}
	}
}

func TestLoadSettingsDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := loadSettings()
	if err != nil {
		t.Fatalf("loadSettings failed: %v", err)
	}
	if cfg.Agent.MaxRestarts != 5 {
		t.Errorf("MaxRestarts = %d, want default 5", cfg.Agent.MaxRestarts)
	}
	if cfg.Monitor.CompletenessRatio != 0.8 {
		t.Errorf("CompletenessRatio = %v, want default 0.8", cfg.Monitor.CompletenessRatio)
	}
}

func TestLoadSettingsProjectConfig(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	if err := os.MkdirAll(filepath.Join(dir, ".convoy"), 0o755); err != nil {
		t.Fatal(err)
	}
	data := []byte("agent:\n  max_restarts: 2\n")
	if err := os.WriteFile(filepath.Join(dir, ".convoy", "config.yaml"), data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadSettings()
	if err != nil {
		t.Fatalf("loadSettings failed: %v", err)
	}
	if cfg.Agent.MaxRestarts != 2 {
		t.Errorf("MaxRestarts = %d, want 2 from project config", cfg.Agent.MaxRestarts)
	}
}
