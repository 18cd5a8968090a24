package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cancelRepo string

var cancelCmd = &cobra.Command{
	Use:   "cancel <project-id>",
	Short: "Cancel a project whose pipeline process is gone",
	Long: `Mark a non-terminal project as failed ("cancelled"), cancel its
sessions, and reject its pending decisions.

This is for projects whose 'maestro run' process died or was abandoned.
A live run is cancelled with Ctrl-C in its own terminal.`,
	Args: cobra.ExactArgs(1),
	RunE: runCancel,
}

func init() {
	cancelCmd.Flags().StringVar(&cancelRepo, "repo", "", "Repository path (defaults to the current directory)")
}

func runCancel(cmd *cobra.Command, args []string) error {
	repo, err := resolveRepo(cancelRepo)
	if err != nil {
		return err
	}
	db, err := openProjectDB(repo)
	if err != nil {
		return err
	}
	defer db.Close()

	projectID := args[0]
	if err := db.CancelProject(projectID); err != nil {
		return err
	}
	fmt.Printf("Cancelled project %s\n", projectID)
	return nil
}
