// Package config handles configuration loading and management for maestro.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config holds all configuration for maestro.
type Config struct {
	Agent      AgentConfig              `mapstructure:"agent"`
	Teams      TeamsConfig              `mapstructure:"teams"`
	Worktree   WorktreeConfig           `mapstructure:"worktree"`
	Defaults   DefaultsConfig           `mapstructure:"defaults"`
	GMProjects map[string]ProjectPreset `mapstructure:"gm_projects"`
}

// ProjectPreset is a named, reusable project definition that 'maestro run'
// can launch by name.
type ProjectPreset struct {
	ProjectName  string        `mapstructure:"project_name"`
	BuildCommand string        `mapstructure:"build_command"`
	TestCommand  string        `mapstructure:"test_command"`
	Agents       []PresetAgent `mapstructure:"agents"`
}

// PresetAgent is one team assignment inside a project preset.
type PresetAgent struct {
	Team string `mapstructure:"team"`
	Task string `mapstructure:"task"`
}

// AgentConfig holds settings for the agent backend subprocess.
type AgentConfig struct {
	// Command is the backend invocation; the task prompt is appended as
	// the final argument.
	Command []string `mapstructure:"command"`
	// APIKey is the Anthropic API key passed through to the backend.
	APIKey string `mapstructure:"api_key"`
}

// TeamsConfig holds team template settings.
type TeamsConfig struct {
	// File is the teams YAML file, resolved relative to the repository
	// root when not absolute.
	File string `mapstructure:"file"`
}

// WorktreeConfig holds worktree layout settings.
type WorktreeConfig struct {
	Subdir       string `mapstructure:"subdir"`
	BranchPrefix string `mapstructure:"branch_prefix"`
}

// DefaultsConfig holds default commands for GM projects that omit them.
type DefaultsConfig struct {
	BuildCommand string `mapstructure:"build_command"`
	TestCommand  string `mapstructure:"test_command"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY)
// 2. Project config (.maestro.yaml in current directory or parent)
// 3. User config (~/.config/maestro/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	// Project config takes precedence over the user config.
	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("")
	v.BindEnv("agent.api_key", "ANTHROPIC_API_KEY")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Agent.APIKey = expandEnv(cfg.Agent.APIKey)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Agent.APIKey = expandEnv(cfg.Agent.APIKey)

	return cfg, nil
}

// Save writes the current configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(userConfigDir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(configPath)

	v.Set("agent.command", cfg.Agent.Command)
	v.Set("agent.api_key", cfg.Agent.APIKey)
	v.Set("teams.file", cfg.Teams.File)
	v.Set("worktree.subdir", cfg.Worktree.Subdir)
	v.Set("worktree.branch_prefix", cfg.Worktree.BranchPrefix)
	v.Set("defaults.build_command", cfg.Defaults.BuildCommand)
	v.Set("defaults.test_command", cfg.Defaults.TestCommand)

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// TeamsPath resolves the teams file against the repository root.
func (c *Config) TeamsPath(repoPath string) string {
	if filepath.IsAbs(c.Teams.File) {
		return c.Teams.File
	}
	return filepath.Join(repoPath, c.Teams.File)
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("agent.command", []string{"claude", "--print", "-p"})
	v.SetDefault("agent.api_key", "")

	v.SetDefault("teams.file", filepath.Join(".maestro", "teams.yaml"))

	v.SetDefault("worktree.subdir", ".worktrees")
	v.SetDefault("worktree.branch_prefix", "team")

	v.SetDefault("defaults.build_command", "")
	v.SetDefault("defaults.test_command", "")
}

// getUserConfigDir returns the XDG config directory for maestro.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "maestro")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "maestro")
	}
	return filepath.Join(home, ".config", "maestro")
}

// findProjectConfig searches for .maestro.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".maestro.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Command: []string{"claude", "--print", "-p"},
			APIKey:  "",
		},
		Teams: TeamsConfig{
			File: filepath.Join(".maestro", "teams.yaml"),
		},
		Worktree: WorktreeConfig{
			Subdir:       ".worktrees",
			BranchPrefix: "team",
		},
		Defaults: DefaultsConfig{},
	}
}
