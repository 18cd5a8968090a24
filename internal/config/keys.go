package config

import (
	"errors"
	"os"
	"strings"
)

// ErrNoAPIKey is returned when neither the environment nor the config
// carries a usable key.
var ErrNoAPIKey = errors.New("no API key configured")

// KeySource says where an API key was resolved from.
type KeySource string

const (
	KeySourceEnv    KeySource = "environment"
	KeySourceConfig KeySource = "config_file"
)

// ResolveAPIKey returns the key handed to the agent backend and its
// source. ANTHROPIC_API_KEY in the environment takes precedence over
// agent.api_key in the config; maestro itself never calls the API.
func ResolveAPIKey(cfg *Config) (string, KeySource, error) {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		return key, KeySourceEnv, nil
	}
	if cfg != nil {
		key := os.ExpandEnv(cfg.Agent.APIKey)
		if key != "" && !strings.HasPrefix(key, "${") {
			return key, KeySourceConfig, nil
		}
	}
	return "", "", ErrNoAPIKey
}

// MaskAPIKey shortens a key for display, keeping the prefix and the
// last four characters.
func MaskAPIKey(key string) string {
	if key == "" {
		return "(not set)"
	}
	if len(key) <= 15 {
		return "***"
	}
	return key[:7] + "..." + key[len(key)-4:]
}
