package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/maestro/internal/state"
	"github.com/ShayCichocki/maestro/internal/worktree"
)

var sessionsRepo string
var sessionsProject string

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect agent sessions and their worktrees",
	RunE:  runSessionsList,
}

var sessionsDiffCmd = &cobra.Command{
	Use:   "diff <session-id>",
	Short: "Show a session's full diff against its merge base",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSessionWorktrees(args[0], func(wt worktree.Provider, s *state.AgentSession) error {
			d, err := wt.Diff(s.SessionID)
			if err != nil {
				return err
			}
			fmt.Print(d.Patch)
			return nil
		})
	},
}

var sessionsStatCmd = &cobra.Command{
	Use:   "stat <session-id>",
	Short: "Show a session's diffstat",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSessionWorktrees(args[0], func(wt worktree.Provider, s *state.AgentSession) error {
			st, err := wt.Stat(s.SessionID)
			if err != nil {
				return err
			}
			fmt.Print(st.Summary)
			return nil
		})
	},
}

var sessionsDiscardCmd = &cobra.Command{
	Use:   "discard <session-id>",
	Short: "Remove a session's worktree and branch",
	Long: `Remove the worktree and branch of a session whose work is not
wanted. The session row stays in the database for the record.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSessionWorktrees(args[0], func(wt worktree.Provider, s *state.AgentSession) error {
			if s.MergeResult.Merged() {
				return fmt.Errorf("session %s already merged, refusing to discard", s.SessionID)
			}
			if err := wt.Remove(s.SessionID); err != nil {
				return err
			}
			fmt.Printf("Discarded %s (%s)\n", s.SessionID, s.Branch)
			return nil
		})
	},
}

func init() {
	sessionsCmd.PersistentFlags().StringVar(&sessionsRepo, "repo", "", "Repository path (defaults to the current directory)")
	sessionsCmd.Flags().StringVar(&sessionsProject, "project", "", "Project ID (defaults to the most recent project)")
	sessionsCmd.AddCommand(sessionsDiffCmd)
	sessionsCmd.AddCommand(sessionsStatCmd)
	sessionsCmd.AddCommand(sessionsDiscardCmd)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	repo, err := resolveRepo(sessionsRepo)
	if err != nil {
		return err
	}
	db, err := openProjectDB(repo)
	if err != nil {
		return err
	}
	defer db.Close()

	projectID := sessionsProject
	if projectID == "" {
		recent, err := db.ListGMProjects(1, 0)
		if err != nil {
			return err
		}
		if len(recent) == 0 {
			fmt.Println("No projects. Run 'maestro run' to start one.")
			return nil
		}
		projectID = recent[0].ProjectID
	}

	sessions, err := db.ListAgentSessions(projectID)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Printf("No sessions for project %s.\n", projectID)
		return nil
	}

	fmt.Printf("Sessions of project %s:\n", projectID)
	for _, s := range sessions {
		line := fmt.Sprintf("  %s  %-10s  %-12s  %d files", s.SessionID, s.Status, s.TeamName, len(s.FilesChanged))
		if s.MergeResult != state.MergeUnset {
			line += fmt.Sprintf("  [%s]", s.MergeResult)
		}
		if s.CompletedAt != nil {
			line += fmt.Sprintf("  (%s)", formatDuration(s.CompletedAt.Sub(s.StartedAt)))
		} else {
			line += fmt.Sprintf("  (running %s)", formatDuration(time.Since(s.StartedAt)))
		}
		fmt.Println(line)
	}
	return nil
}

// withSessionWorktrees loads the session and hands it to fn together
// with a worktree manager for its repository.
func withSessionWorktrees(sessionID string, fn func(worktree.Provider, *state.AgentSession) error) error {
	repo, err := resolveRepo(sessionsRepo)
	if err != nil {
		return err
	}
	db, err := openProjectDB(repo)
	if err != nil {
		return err
	}
	defer db.Close()

	s, err := db.GetAgentSession(sessionID)
	if err != nil {
		return err
	}
	if s == nil {
		return fmt.Errorf("session %s not found", sessionID)
	}

	wt := worktree.NewManager(repo, cfg.Worktree.Subdir, cfg.Worktree.BranchPrefix)
	return fn(wt, s)
}
