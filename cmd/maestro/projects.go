package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/maestro/internal/state"
)

var projectsRepo string
var projectsLimit int

var projectsCmd = &cobra.Command{
	Use:   "projects [project-id]",
	Short: "List projects or show one in detail",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runProjects,
}

func init() {
	projectsCmd.Flags().StringVar(&projectsRepo, "repo", "", "Repository path (defaults to the current directory)")
	projectsCmd.Flags().IntVar(&projectsLimit, "limit", 20, "Maximum projects to list")
}

// resolveRepo returns an absolute repository path, defaulting to the
// current directory.
func resolveRepo(repo string) (string, error) {
	if repo == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("get working directory: %w", err)
		}
		repo = cwd
	}
	abs, err := filepath.Abs(repo)
	if err != nil {
		return "", fmt.Errorf("resolve repo path: %w", err)
	}
	return abs, nil
}

// openProjectDB opens and migrates the project-local database.
func openProjectDB(repo string) (*state.DB, error) {
	db, err := state.OpenProject(repo)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

func runProjects(cmd *cobra.Command, args []string) error {
	repo, err := resolveRepo(projectsRepo)
	if err != nil {
		return err
	}
	db, err := openProjectDB(repo)
	if err != nil {
		return err
	}
	defer db.Close()

	if len(args) == 1 {
		return showProject(db, args[0])
	}

	projects, err := db.ListGMProjects(projectsLimit, 0)
	if err != nil {
		return err
	}
	if len(projects) == 0 {
		fmt.Println("No projects. Run 'maestro run' to start one.")
		return nil
	}

	for _, p := range projects {
		fmt.Printf("%s  %-10s  %-20s  %d/%d merged  (%s ago)\n",
			p.ProjectID, phaseLabel(p.Phase), p.Name,
			p.MergedCount, p.AgentCount,
			formatDuration(time.Since(p.StartedAt)))
	}
	return nil
}

func showProject(db *state.DB, projectID string) error {
	p, err := db.GetGMProject(projectID)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("project %s not found", projectID)
	}

	fmt.Printf("Project %s: %s\n", p.ProjectID, p.Name)
	fmt.Printf("  Repo: %s\n", p.RepoPath)
	fmt.Printf("  Phase: %s\n", phaseLabel(p.Phase))
	if p.ErrorMessage != "" {
		fmt.Printf("  Error: %s\n", p.ErrorMessage)
	}
	fmt.Printf("  Agents: %d (%d completed, %d failed, %d merged)\n",
		p.AgentCount, p.CompletedCount, p.FailedCount, p.MergedCount)
	if len(p.MergeOrder) > 0 {
		fmt.Printf("  Merge order: %s\n", strings.Join(p.MergeOrder, ", "))
	}
	if p.CurrentMerge != "" {
		fmt.Printf("  Currently merging: %s\n", p.CurrentMerge)
	}
	if p.BuildCommand != "" {
		fmt.Printf("  Build: %s (%d attempts)\n", p.BuildCommand, p.BuildAttempts)
	}
	if p.TestCommand != "" {
		fmt.Printf("  Test: %s (%d attempts)\n", p.TestCommand, p.TestAttempts)
	}
	fmt.Printf("  Started: %s ago\n", formatDuration(time.Since(p.StartedAt)))
	if p.CompletedAt != nil {
		fmt.Printf("  Finished: %s ago\n", formatDuration(time.Since(*p.CompletedAt)))
	}

	sessions, err := db.ListAgentSessions(projectID)
	if err != nil {
		return err
	}
	if len(sessions) > 0 {
		fmt.Println("  Sessions:")
		for _, s := range sessions {
			line := fmt.Sprintf("    %s  %-10s  %s", s.SessionID, s.Status, s.TeamName)
			if s.MergeResult != state.MergeUnset {
				line += fmt.Sprintf("  [%s]", s.MergeResult)
			}
			fmt.Println(line)
		}
	}
	return nil
}

func phaseLabel(p state.Phase) string {
	switch p {
	case state.PhaseCompleted:
		return color.GreenString(string(p))
	case state.PhaseFailed:
		return color.RedString(string(p))
	default:
		return color.CyanString(string(p))
	}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		if m > 0 {
			return fmt.Sprintf("%dh%dm", h, m)
		}
		return fmt.Sprintf("%dh", h)
	}
	days := int(d.Hours()) / 24
	return fmt.Sprintf("%dd", days)
}
