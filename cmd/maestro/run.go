package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/maestro/internal/agent"
	"github.com/ShayCichocki/maestro/internal/decision"
	"github.com/ShayCichocki/maestro/internal/exec"
	"github.com/ShayCichocki/maestro/internal/gm"
	"github.com/ShayCichocki/maestro/internal/hub"
	"github.com/ShayCichocki/maestro/internal/state"
	"github.com/ShayCichocki/maestro/pkg/models"
)

var (
	runName   string
	runRepo   string
	runTeams  []string
	runFile   string
	runPreset string
	runBuild  string
	runTest   string
	runYes    bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Launch agent teams and merge their work",
	Long: `Launch a project: spawn one agent session per --team assignment,
wait for all of them, merge their branches in overlap order, then run
the build and test commands until they pass.

Assignments use the form <template>:<task>, where <template> is a team
defined in the teams file:

  maestro run --name auth-rework \
    --team backend:"add refresh token rotation" \
    --team docs:"document the new token flow" \
    --build "make build" --test "make test"

A full request can also be loaded from YAML, or from a named preset
under gm_projects in the maestro config:

  maestro run --file request.yaml
  maestro run --preset nightly-refactor

Merge conflicts and build failures pause the pipeline on a decision.
Answer them from another terminal with 'maestro decide', or pass --yes
to approve every repair automatically.`,
	RunE: runProject,
}

func init() {
	runCmd.Flags().StringVar(&runName, "name", "", "Project name (defaults to the repo directory name)")
	runCmd.Flags().StringVar(&runRepo, "repo", "", "Repository path (defaults to the current directory)")
	runCmd.Flags().StringArrayVar(&runTeams, "team", nil, "Agent assignment as <template>:<task> (repeatable)")
	runCmd.Flags().StringVar(&runFile, "file", "", "Load the launch request from a YAML file")
	runCmd.Flags().StringVar(&runPreset, "preset", "", "Load the launch request from a named gm_projects preset")
	runCmd.Flags().StringVar(&runBuild, "build", "", "Build command to run after merging")
	runCmd.Flags().StringVar(&runTest, "test", "", "Test command to run after building")
	runCmd.Flags().BoolVar(&runYes, "yes", false, "Approve every repair decision automatically")
}

func runProject(cmd *cobra.Command, args []string) error {
	if err := CheckBackendCLI(); err != nil {
		return err
	}

	req, err := buildLaunchRequest()
	if err != nil {
		return err
	}

	db, err := state.OpenProject(req.RepoPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	templates, err := models.LoadTemplates(cfg.TeamsPath(req.RepoPath))
	if err != nil {
		return err
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
	go printGMEvents(sub, gate, runYes)

	projectID, err := m.LaunchProject(ctx, req)
	if err != nil {
		return err
	}
	fmt.Printf("Launched project %s (%d agents)\n", projectID, len(req.Agents))

	// Ctrl-C cancels the project; the pipeline tears its sessions down.
	go func() {
		<-ctx.Done()
		m.Cancel(projectID)
	}()

	m.Wait(projectID)
	return reportOutcome(db, projectID)
}

// buildLaunchRequest assembles the request from --file or flags, with
// config defaults filled in.
func buildLaunchRequest() (*models.LaunchRequest, error) {
	req := &models.LaunchRequest{}

	if runPreset != "" {
		preset, ok := cfg.GMProjects[runPreset]
		if !ok {
			return nil, fmt.Errorf("unknown preset %q, known: %s", runPreset, strings.Join(presetNames(), ", "))
		}
		req.ProjectName = preset.ProjectName
		if req.ProjectName == "" {
			req.ProjectName = runPreset
		}
		req.BuildCommand = preset.BuildCommand
		req.TestCommand = preset.TestCommand
		for _, a := range preset.Agents {
			req.Agents = append(req.Agents, models.AgentAssignment{Team: a.Team, Task: a.Task})
		}
	}

	if runFile != "" {
		data, err := os.ReadFile(runFile)
		if err != nil {
			return nil, fmt.Errorf("read request file: %w", err)
		}
		if err := yaml.Unmarshal(data, req); err != nil {
			return nil, fmt.Errorf("parse request file %s: %w", runFile, err)
		}
	}

	if runName != "" {
		req.ProjectName = runName
	}
	if runRepo != "" {
		req.RepoPath = runRepo
	}
	if runBuild != "" {
		req.BuildCommand = runBuild
	}
	if runTest != "" {
		req.TestCommand = runTest
	}
	for _, spec := range runTeams {
		team, task, ok := strings.Cut(spec, ":")
		if !ok || team == "" || task == "" {
			return nil, fmt.Errorf("invalid --team %q, want <template>:<task>", spec)
		}
		req.Agents = append(req.Agents, models.AgentAssignment{Team: team, Task: task})
	}

	if req.RepoPath == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("get working directory: %w", err)
		}
		req.RepoPath = cwd
	}
	abs, err := filepath.Abs(req.RepoPath)
	if err != nil {
		return nil, fmt.Errorf("resolve repo path: %w", err)
	}
	req.RepoPath = abs

	if req.ProjectName == "" {
		req.ProjectName = filepath.Base(req.RepoPath)
	}
	if req.BuildCommand == "" {
		req.BuildCommand = cfg.Defaults.BuildCommand
	}
	if req.TestCommand == "" {
		req.TestCommand = cfg.Defaults.TestCommand
	}

	return req, req.Validate()
}

func presetNames() []string {
	names := make([]string, 0, len(cfg.GMProjects))
	for name := range cfg.GMProjects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// printGMEvents renders the project's event stream on stderr, keeping
// stdout free for the launch and outcome lines. With autoApprove it
// also answers every decision in-process.
func printGMEvents(sub *hub.Subscription, gate *decision.Gate, autoApprove bool) {
	out := color.Error
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)
	cyan := color.New(color.FgCyan)

	for ev := range sub.Events() {
		switch e := ev.(type) {
		case hub.Ping:
			sub.Pong()
		case hub.PhaseChange:
			cyan.Fprintf(out, "==> %s\n", e.Phase)
		case hub.AgentLaunched:
			fmt.Fprintf(out, "  launched %s (%s)\n", e.SessionID, e.TeamName)
		case hub.AgentCompleted:
			if e.Status == string(state.SessionCompleted) {
				green.Fprintf(out, "  agent %s completed\n", e.SessionID)
			} else {
				red.Fprintf(out, "  agent %s %s\n", e.SessionID, e.Status)
			}
		case hub.MergeOrderDetermined:
			fmt.Fprintf(out, "  merge order: %s\n", strings.Join(e.MergeOrder, ", "))
		case hub.MergeStarted:
			fmt.Fprintf(out, "  merging %s\n", e.SessionID)
		case hub.MergeConflict:
			yellow.Fprintf(out, "  conflict in %s: %s\n", e.SessionID, strings.Join(e.ConflictedFiles, ", "))
		case hub.ConflictResolved:
			green.Fprintf(out, "  conflict in %s resolved\n", e.SessionID)
		case hub.MergeCompleted:
			if e.Skipped {
				yellow.Fprintf(out, "  %s skipped (%s)\n", e.SessionID, e.Result)
			} else {
				green.Fprintf(out, "  %s merged (%s)\n", e.SessionID, e.Result)
			}
		case hub.BuildResult:
			printCommandResult("build", e.Success, e.OutputTail)
		case hub.TestResult:
			printCommandResult("test", e.Success, e.OutputTail)
		case hub.BuildFixAttempt:
			yellow.Fprintf(out, "  build repair attempt %d\n", e.Attempt)
		case hub.TestFixAttempt:
			yellow.Fprintf(out, "  test repair attempt %d\n", e.Attempt)
		case hub.DecisionRequired:
			if autoApprove {
				gate.Resolve(e.DecisionID, decision.ActionApprove)
				yellow.Fprintf(out, "  auto-approved: %s\n", e.Description)
				continue
			}
			yellow.Fprintf(out, "  DECISION %s: %s\n", e.DecisionID, e.Description)
			yellow.Fprintf(out, "    proposed: %s\n", e.ProposedAction)
			yellow.Fprintf(out, "    answer with: maestro decide %s approve|reject\n", e.DecisionID)
		case hub.DecisionResolved:
			fmt.Fprintf(out, "  decision %s: %s\n", e.DecisionID, e.Action)
		}
	}
}

func printCommandResult(kind string, success bool, tail string) {
	if success {
		color.New(color.FgGreen).Fprintf(color.Error, "  %s passed\n", kind)
		return
	}
	color.New(color.FgRed).Fprintf(color.Error, "  %s failed\n", kind)
	if tail != "" {
		fmt.Fprintln(color.Error, indent(tail, "    "))
	}
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}

// reportOutcome prints the terminal project state and maps it to the
// process exit status.
func reportOutcome(db *state.DB, projectID string) error {
	proj, err := db.GetGMProject(projectID)
	if err != nil {
		return fmt.Errorf("load project: %w", err)
	}
	if proj == nil {
		return fmt.Errorf("project %s not found", projectID)
	}

	fmt.Println()
	if proj.Phase == state.PhaseCompleted {
		color.Green("Project %s completed: %d/%d agents merged",
			projectID, proj.MergedCount, proj.AgentCount)
		return nil
	}
	return fmt.Errorf("project %s failed: %s", projectID, proj.ErrorMessage)
}
