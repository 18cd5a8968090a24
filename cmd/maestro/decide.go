package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/maestro/internal/state"
)

var decideRepo string

var decideCmd = &cobra.Command{
	Use:   "decide [decision-id] [approve|reject]",
	Short: "List or answer pending decisions",
	Long: `Without arguments, lists every pending decision. With a decision
ID and an action, answers it.

Decisions are resolved through the shared database, so a pipeline
waiting in another process picks the answer up within a few seconds.`,
	Args: cobra.RangeArgs(0, 2),
	RunE: runDecide,
}

func init() {
	decideCmd.Flags().StringVar(&decideRepo, "repo", "", "Repository path (defaults to the current directory)")
}

func runDecide(cmd *cobra.Command, args []string) error {
	repo, err := resolveRepo(decideRepo)
	if err != nil {
		return err
	}
	db, err := openProjectDB(repo)
	if err != nil {
		return err
	}
	defer db.Close()

	if len(args) == 0 {
		return listPendingDecisions(db)
	}
	if len(args) != 2 {
		return fmt.Errorf("usage: maestro decide <decision-id> <approve|reject>")
	}

	decisionID := args[0]
	var status state.DecisionStatus
	switch args[1] {
	case "approve":
		status = state.DecisionApproved
	case "reject":
		status = state.DecisionRejected
	default:
		return fmt.Errorf("unknown action %q, want approve or reject", args[1])
	}

	resolved, err := db.ResolveDecision(decisionID, status, time.Now())
	if err != nil {
		return err
	}
	if !resolved {
		return fmt.Errorf("decision %s is not pending", decisionID)
	}
	fmt.Printf("Decision %s %s\n", decisionID, status)
	return nil
}

func listPendingDecisions(db *state.DB) error {
	pending, err := db.ListPendingDecisions("")
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		fmt.Println("No pending decisions.")
		return nil
	}

	for _, d := range pending {
		color.Yellow("%s  [%s]  project %s", d.DecisionID, d.Kind, d.ProjectID)
		fmt.Printf("  %s\n", d.Description)
		if d.ProposedAction != "" {
			fmt.Printf("  proposed: %s\n", d.ProposedAction)
		}
		if d.Context != "" {
			fmt.Println(indent(d.Context, "  | "))
		}
		fmt.Printf("  answer with: maestro decide %s approve|reject\n\n", d.DecisionID)
	}
	return nil
}
