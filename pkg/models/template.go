// Package models defines the shared record types exchanged between the
// CLI, the GM pipeline, and the team launcher.
package models

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultTeammateTimeout is the per-teammate wall-clock budget in
// seconds when a template omits one.
const DefaultTeammateTimeout = 300

// Teammate is one member of a team template.
type Teammate struct {
	Name           string `yaml:"name" json:"name"`
	Role           string `yaml:"role" json:"role"`
	TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// TeamTemplate describes a named team an agent session can run as.
type TeamTemplate struct {
	Name        string     `yaml:"name" json:"name"`
	Description string     `yaml:"description" json:"description"`
	Teammates   []Teammate `yaml:"teammates" json:"teammates"`
}

// Validate checks the template for required fields and fills in default
// timeouts.
func (t *TeamTemplate) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("template missing name")
	}
	if len(t.Teammates) == 0 {
		return fmt.Errorf("template %q has no teammates", t.Name)
	}
	for i := range t.Teammates {
		if t.Teammates[i].Name == "" {
			return fmt.Errorf("template %q: teammate %d missing name", t.Name, i)
		}
		if t.Teammates[i].TimeoutSeconds <= 0 {
			t.Teammates[i].TimeoutSeconds = DefaultTeammateTimeout
		}
	}
	return nil
}

// TimeoutSeconds returns the session wall-clock budget: the maximum of
// the teammates' individual timeouts.
func (t *TeamTemplate) TimeoutSeconds() int {
	max := DefaultTeammateTimeout
	for _, tm := range t.Teammates {
		if tm.TimeoutSeconds > max {
			max = tm.TimeoutSeconds
		}
	}
	return max
}

// teamsFile is the on-disk shape of a teams YAML file.
type teamsFile struct {
	Teams []TeamTemplate `yaml:"teams"`
}

// LoadTemplates reads team templates from a YAML file.
func LoadTemplates(path string) (map[string]*TeamTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read teams file: %w", err)
	}

	var file teamsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse teams file %s: %w", path, err)
	}

	templates := make(map[string]*TeamTemplate, len(file.Teams))
	for i := range file.Teams {
		t := &file.Teams[i]
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("teams file %s: %w", path, err)
		}
		if _, dup := templates[t.Name]; dup {
			return nil, fmt.Errorf("teams file %s: duplicate template %q", path, t.Name)
		}
		templates[t.Name] = t
	}
	return templates, nil
}
