package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration
type Config struct {
	General  GeneralConfig  `toml:"general"`
	Loop     LoopConfig     `toml:"loop"`
	Claude   ClaudeConfig   `toml:"claude"`
	Evaluate EvaluateConfig `toml:"evaluate"`
}

// GeneralConfig holds workspace settings
type GeneralConfig struct {
	Workspace string `toml:"workspace"` // project directory the loop operates on
	StateDir  string `toml:"state_dir"` // relative to workspace, holds db/log/artifacts
}

// LoopConfig holds loop defaults, overridable per run from the CLI
type LoopConfig struct {
	MaxIterations     int     `toml:"max_iterations"`
	MutationThreshold float64 `toml:"mutation_threshold"`
	FlakyRuns         int     `toml:"flaky_runs"`
	Language          string  `toml:"language"`
	TestScope         string  `toml:"test_scope"`
}

// ClaudeConfig holds settings for the worker subprocesses
type ClaudeConfig struct {
	Command string `toml:"command"` // worker executable, defaults to "claude"
	Model   string `toml:"model"`
}

// EvaluateConfig holds verdict-pipeline tuning
type EvaluateConfig struct {
	MaxMutants  int    `toml:"max_mutants"`  // cap on generated mutants per review
	TestCommand string `toml:"test_command"` // override for the language's test command
}

// Default returns a Config with sensible defaults
func Default() *Config {
	return &Config{
		General: GeneralConfig{
			Workspace: "",
			StateDir:  ".verify-orch",
		},
		Loop: LoopConfig{
			MaxIterations:     15,
			MutationThreshold: 0.8,
			FlakyRuns:         3,
			Language:          "go",
			TestScope:         "unit",
		},
		Claude: ClaudeConfig{
			Command: "claude",
		},
		Evaluate: EvaluateConfig{
			MaxMutants: 50,
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.General.Workspace = ExpandPath(cfg.General.Workspace)

	return cfg, cfg.Validate()
}

// Validate checks that configured values are usable
func (c *Config) Validate() error {
	if c.Loop.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be >= 1, got %d", c.Loop.MaxIterations)
	}
	if c.Loop.MutationThreshold < 0 || c.Loop.MutationThreshold > 1 {
		return fmt.Errorf("mutation_threshold must be in [0,1], got %v", c.Loop.MutationThreshold)
	}
	if c.Loop.FlakyRuns < 2 {
		return fmt.Errorf("flaky_runs must be >= 2, got %d", c.Loop.FlakyRuns)
	}
	return nil
}

// StateDir returns the absolute state directory for the given workspace
func (c *Config) StateDirPath(workspace string) string {
	return filepath.Join(workspace, c.General.StateDir)
}

// LocalConfigName is the project-local config filename searched for by
// LoadWithLocalFallback.
const LocalConfigName = ".verify-orch.toml"

// FindLocalConfig walks up from the current directory looking for a
// project-local config file. Returns "" if none is found.
func FindLocalConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, LocalConfigName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// LoadWithLocalFallback loads the explicit path if given, otherwise a
// project-local config, otherwise the user config, otherwise defaults.
func LoadWithLocalFallback(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}
	if local := FindLocalConfig(); local != "" {
		return Load(local)
	}
	return Load(DefaultConfigPath())
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "verify-orch", "config.toml")
}
