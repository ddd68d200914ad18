package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Default()

	if cfg.Loop.MaxIterations != 15 {
		t.Errorf("MaxIterations = %d, want 15", cfg.Loop.MaxIterations)
	}
	if cfg.Loop.MutationThreshold != 0.8 {
		t.Errorf("MutationThreshold = %v, want 0.8", cfg.Loop.MutationThreshold)
	}
	if cfg.Loop.FlakyRuns != 3 {
		t.Errorf("FlakyRuns = %d, want 3", cfg.Loop.FlakyRuns)
	}
	if cfg.General.StateDir != ".verify-orch" {
		t.Errorf("StateDir = %q, want .verify-orch", cfg.General.StateDir)
	}
	if cfg.Claude.Command != "claude" {
		t.Errorf("Claude.Command = %q, want claude", cfg.Claude.Command)
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")

	content := `
[general]
workspace = "/test/project"

[loop]
max_iterations = 5
mutation_threshold = 0.9
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.General.Workspace != "/test/project" {
		t.Errorf("Workspace = %q, want /test/project", cfg.General.Workspace)
	}
	if cfg.Loop.MaxIterations != 5 {
		t.Errorf("MaxIterations = %d, want 5", cfg.Loop.MaxIterations)
	}
	if cfg.Loop.MutationThreshold != 0.9 {
		t.Errorf("MutationThreshold = %v, want 0.9", cfg.Loop.MutationThreshold)
	}
	// Unset sections keep their defaults
	if cfg.Loop.FlakyRuns != 3 {
		t.Errorf("FlakyRuns = %d, want default 3", cfg.Loop.FlakyRuns)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Loop.MaxIterations != 15 {
		t.Errorf("MaxIterations = %d, want default 15", cfg.Loop.MaxIterations)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"zero iterations", func(c *Config) { c.Loop.MaxIterations = 0 }, true},
		{"negative threshold", func(c *Config) { c.Loop.MutationThreshold = -0.1 }, true},
		{"threshold above one", func(c *Config) { c.Loop.MutationThreshold = 1.5 }, true},
		{"single flaky run", func(c *Config) { c.Loop.FlakyRuns = 1 }, true},
		{"threshold at bounds", func(c *Config) { c.Loop.MutationThreshold = 1.0 }, false},
	}

	for _, tt := range tests {
		cfg := Default()
		tt.mutate(cfg)
		err := cfg.Validate()
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: Validate() error = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()

	tests := []struct {
		input string
		want  string
	}{
		{"~/test", filepath.Join(home, "test")},
		{"/absolute/path", "/absolute/path"},
		{"relative", "relative"},
	}

	for _, tt := range tests {
		got := ExpandPath(tt.input)
		if got != tt.want {
			t.Errorf("ExpandPath(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestFindLocalConfig(t *testing.T) {
	root := t.TempDir()
	subdir := filepath.Join(root, "sub", "dir")
	if err := os.MkdirAll(subdir, 0755); err != nil {
		t.Fatal(err)
	}

	localConfig := filepath.Join(root, LocalConfigName)
	if err := os.WriteFile(localConfig, []byte("[loop]\nmax_iterations = 7"), 0644); err != nil {
		t.Fatal(err)
	}

	origDir, _ := os.Getwd()
	defer os.Chdir(origDir)

	if err := os.Chdir(subdir); err != nil {
		t.Fatal(err)
	}

	found := FindLocalConfig()
	// Resolve symlinks: on some systems TempDir is behind a symlink
	wantInfo, _ := os.Stat(localConfig)
	gotInfo, err := os.Stat(found)
	if err != nil {
		t.Fatalf("FindLocalConfig() = %q, stat failed: %v", found, err)
	}
	if !os.SameFile(wantInfo, gotInfo) {
		t.Errorf("FindLocalConfig() = %q, want %q", found, localConfig)
	}
}
