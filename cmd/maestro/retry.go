package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/maestro/internal/agent"
	"github.com/ShayCichocki/maestro/internal/decision"
	"github.com/ShayCichocki/maestro/internal/exec"
	"github.com/ShayCichocki/maestro/internal/gm"
	"github.com/ShayCichocki/maestro/internal/hub"
	"github.com/ShayCichocki/maestro/internal/state"
	"github.com/ShayCichocki/maestro/pkg/models"
)

var retryRepo string
var retryYes bool

var retryCmd = &cobra.Command{
	Use:   "retry <project-id>",
	Short: "Re-run the merge and build phases of a failed project",
	Long: `Retry a failed project without re-running its agents.

Sessions that already merged stay merged; previously skipped or failed
merges are attempted again, then the build and test commands run as
usual. Only failed projects can be retried.`,
	Args: cobra.ExactArgs(1),
	RunE: runRetry,
}

func init() {
	retryCmd.Flags().StringVar(&retryRepo, "repo", "", "Repository path (defaults to the current directory)")
	retryCmd.Flags().BoolVar(&retryYes, "yes", false, "Approve every repair decision automatically")
}

func runRetry(cmd *cobra.Command, args []string) error {
	if err := CheckBackendCLI(); err != nil {
		return err
	}
	projectID := args[0]

	repo, err := resolveRepo(retryRepo)
	if err != nil {
		return err
	}

	db, err := state.OpenProject(repo)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	// The retry path never launches agents, so a missing teams file is
	// not an error here.
	templates, err := models.LoadTemplates(cfg.TeamsPath(repo))
	if err != nil {
		templates = map[string]*models.TeamTemplate{}
	}

	events := hub.New()
	defer events.Close()
	gate := decision.NewGate(db, events)
	backend := agent.NewCommandBackend(cfg.Agent.Command)

	m := gm.NewManager(db, events, gate, backend, exec.NewRunner(), templates)
	m.ConfigureWorktrees(cfg.Worktree.Subdir, cfg.Worktree.BranchPrefix)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sub := events.Subscribe(hub.ChannelGM)
	go printGMEvents(sub, gate, retryYes)

	if err := m.Retry(ctx, projectID); err != nil {
		return err
	}
	fmt.Printf("Retrying project %s\n", projectID)

	go func() {
		<-ctx.Done()
		m.Cancel(projectID)
	}()

	m.Wait(projectID)
	return reportOutcome(db, projectID)
}
