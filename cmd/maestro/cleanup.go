package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/maestro/internal/worktree"
)

var cleanupRepo string
var cleanupWorktrees bool

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Fail interrupted projects and optionally prune worktrees",
	Long: `Pipelines do not survive process restarts. Cleanup marks every
project left in a non-terminal phase as failed ("interrupted"), cancels
its sessions, and rejects its pending decisions.

With --worktrees it also removes worktrees whose work already merged,
plus orphaned worktrees with no session row. Unmerged work is kept so
'maestro retry' can still reach it.`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().StringVar(&cleanupRepo, "repo", "", "Repository path (defaults to the current directory)")
	cleanupCmd.Flags().BoolVar(&cleanupWorktrees, "worktrees", false, "Also remove worktrees of finished, unmerged sessions")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	repo, err := resolveRepo(cleanupRepo)
	if err != nil {
		return err
	}
	db, err := openProjectDB(repo)
	if err != nil {
		return err
	}
	defer db.Close()

	interrupted, err := db.CheckInterrupted()
	if err != nil {
		return err
	}
	if len(interrupted) == 0 {
		fmt.Println("No interrupted projects.")
	} else {
		for _, p := range interrupted {
			color.Yellow("Interrupted: %s (%s, phase %s, %d sessions)",
				p.ProjectID, p.Name, p.Phase, p.Sessions)
		}
		if err := db.MarkInterrupted(); err != nil {
			return err
		}
		fmt.Printf("Marked %d project(s) as failed.\n", len(interrupted))
	}

	if !cleanupWorktrees {
		return nil
	}

	wt := worktree.NewManager(repo, cfg.Worktree.Subdir, cfg.Worktree.BranchPrefix)
	trees, err := wt.List()
	if err != nil {
		return err
	}

	removed := 0
	for _, tree := range trees {
		s, err := db.GetAgentSession(tree.SessionID)
		if err != nil {
			return err
		}
		if s != nil && !s.MergeResult.Merged() {
			continue
		}
		if err := wt.Remove(tree.SessionID); err != nil {
			color.Red("  failed to remove %s: %v", tree.SessionID, err)
			continue
		}
		fmt.Printf("  removed worktree %s\n", tree.SessionID)
		removed++
	}
	fmt.Printf("Removed %d worktree(s).\n", removed)
	return nil
}
