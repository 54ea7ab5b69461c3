package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.UseSubprocess || !cfg.UseWorktrees || cfg.Trunk != "main" {
		t.Fatalf("defaults = %+v", cfg)
	}
	if cfg.MergeStrategy != "merge" || cfg.Branching != "flat" {
		t.Fatalf("defaults = %+v", cfg)
	}
}

func TestLoadFileOverrides(t *testing.T) {
	dir := t.TempDir()
	content := `
merge_strategy = "squash"
branching = "epic"
trunk = "develop"
timeout = 120
keep_worktrees = true
`
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MergeStrategy != "squash" || cfg.Branching != "epic" || cfg.Trunk != "develop" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Timeout != 120 || !cfg.KeepWorktrees {
		t.Fatalf("cfg = %+v", cfg)
	}
	// Untouched keys keep defaults.
	if !cfg.Sandbox || cfg.AgentCommand != "claude" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte("tiemout = 5\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("Load with typo key = %v, want ErrInvalidValue", err)
	}
}

func TestLoadRejectsBadEnums(t *testing.T) {
	for _, content := range []string{
		"merge_strategy = \"cherry\"\n",
		"branching = \"spiral\"\n",
		"timeout = -1\n",
		"auto_pr = true\n", // no provider
	} {
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(dir); !errors.Is(err, ErrInvalidValue) {
			t.Fatalf("Load(%q) = %v, want ErrInvalidValue", content, err)
		}
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SAILING_MERGE_STRATEGY", "rebase")
	t.Setenv("SAILING_SANDBOX", "0")
	t.Setenv("SAILING_TIMEOUT", "42")
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MergeStrategy != "rebase" || cfg.Sandbox || cfg.Timeout != 42 {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
}

func TestWriteStarterParses(t *testing.T) {
	dir := t.TempDir()
	if err := WriteStarter(dir); err != nil {
		t.Fatalf("WriteStarter: %v", err)
	}
	if _, err := Load(dir); err != nil {
		t.Fatalf("starter config does not load: %v", err)
	}
	// Existing file is not clobbered.
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte("trunk = \"develop\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := WriteStarter(dir); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Trunk != "develop" {
		t.Fatal("WriteStarter clobbered an existing config")
	}
}
