package models

import "fmt"

// AgentAssignment pairs a team template with the task it should work on.
type AgentAssignment struct {
	Team string `yaml:"team" json:"team"`
	Task string `yaml:"task" json:"task"`
}

// LaunchRequest is the full description of a GM project launch.
type LaunchRequest struct {
	ProjectName  string            `yaml:"project_name" json:"project_name"`
	RepoPath     string            `yaml:"repo_path" json:"repo_path"`
	BuildCommand string            `yaml:"build_command" json:"build_command"`
	TestCommand  string            `yaml:"test_command" json:"test_command"`
	Agents       []AgentAssignment `yaml:"agents" json:"agents"`
}

// Validate checks the request for required fields.
func (r *LaunchRequest) Validate() error {
	if r.ProjectName == "" {
		return fmt.Errorf("launch request missing project_name")
	}
	if r.RepoPath == "" {
		return fmt.Errorf("launch request missing repo_path")
	}
	if len(r.Agents) == 0 {
		return fmt.Errorf("launch request has no agents")
	}
	for i, a := range r.Agents {
		if a.Team == "" {
			return fmt.Errorf("agent %d missing team", i)
		}
		if a.Task == "" {
			return fmt.Errorf("agent %d missing task", i)
		}
	}
	return nil
}
