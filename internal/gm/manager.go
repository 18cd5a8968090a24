// Package gm implements the general-manager pipeline: it launches a set
// of agent teams against one repository, waits for them to finish,
// merges their branches in a conflict-minimising order, and drives the
// build/test/repair loop until the project completes or fails.
package gm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ShayCichocki/maestro/internal/agent"
	"github.com/ShayCichocki/maestro/internal/decision"
	"github.com/ShayCichocki/maestro/internal/exec"
	"github.com/ShayCichocki/maestro/internal/hub"
	"github.com/ShayCichocki/maestro/internal/launcher"
	"github.com/ShayCichocki/maestro/internal/state"
	"github.com/ShayCichocki/maestro/internal/worktree"
	"github.com/ShayCichocki/maestro/pkg/models"
)

// Manager owns the process-wide pipeline registry and the per-repo
// merge locks. One Manager serves many concurrent projects.
type Manager struct {
	store     state.Store
	events    *hub.Hub
	gate      *decision.Gate
	backend   agent.Backend
	shell     exec.CommandRunner
	templates map[string]*models.TeamTemplate
	locks     *repoLocks

	// Factories, overridable in tests.
	newWorktrees func(repoPath string) worktree.Provider
	newLauncher  func(wt worktree.Provider) launcher.Launcher

	mu        sync.Mutex
	pipelines map[string]*pipeline
}

// NewManager wires a Manager from the process singletons.
func NewManager(store state.Store, events *hub.Hub, gate *decision.Gate, backend agent.Backend, shell exec.CommandRunner, templates map[string]*models.TeamTemplate) *Manager {
	m := &Manager{
		store:     store,
		events:    events,
		gate:      gate,
		backend:   backend,
		shell:     shell,
		templates: templates,
		locks:     newRepoLocks(),
		pipelines: make(map[string]*pipeline),
	}
	m.newWorktrees = func(repoPath string) worktree.Provider {
		return worktree.NewManager(repoPath, "", "")
	}
	m.newLauncher = func(wt worktree.Provider) launcher.Launcher {
		return launcher.New(store, events, wt, backend, templates)
	}
	return m
}

// ConfigureWorktrees overrides the worktree layout for new pipelines.
func (m *Manager) ConfigureWorktrees(subdir, branchPrefix string) {
	m.newWorktrees = func(repoPath string) worktree.Provider {
		return worktree.NewManager(repoPath, subdir, branchPrefix)
	}
}

// LaunchProject validates the request, records the project, and starts
// its pipeline. Returns the new project ID immediately; use Wait to
// block until the pipeline reaches a terminal phase.
func (m *Manager) LaunchProject(ctx context.Context, req *models.LaunchRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	for _, a := range req.Agents {
		if _, ok := m.templates[a.Team]; !ok {
			return "", fmt.Errorf("%w: %q", launcher.ErrTemplateNotFound, a.Team)
		}
	}

	projectID := models.NewID()
	err := m.store.CreateGMProject(&state.GMProject{
		ProjectID:    projectID,
		Name:         req.ProjectName,
		RepoPath:     req.RepoPath,
		BuildCommand: req.BuildCommand,
		TestCommand:  req.TestCommand,
		Phase:        state.PhaseLaunching,
		AgentCount:   len(req.Agents),
		StartedAt:    time.Now(),
	})
	if err != nil {
		return "", fmt.Errorf("record project: %w", err)
	}

	m.events.Publish(hub.ChannelGM, hub.ProjectStarted{
		ProjectID:   projectID,
		ProjectName: req.ProjectName,
	})

	p := m.newPipeline(ctx, projectID, req, false)
	go p.run()
	return projectID, nil
}

// Retry re-runs the merge/build/test tail of a failed project:
// previously skipped or failed merges are attempted again, then the
// build and test phases run as usual.
func (m *Manager) Retry(ctx context.Context, projectID string) error {
	proj, err := m.store.GetGMProject(projectID)
	if err != nil {
		return fmt.Errorf("load project: %w", err)
	}
	if proj == nil {
		return fmt.Errorf("project %s not found", projectID)
	}
	if proj.Phase != state.PhaseFailed {
		return fmt.Errorf("project %s is %s, only failed projects can be retried", projectID, proj.Phase)
	}

	req := &models.LaunchRequest{
		ProjectName:  proj.Name,
		RepoPath:     proj.RepoPath,
		BuildCommand: proj.BuildCommand,
		TestCommand:  proj.TestCommand,
	}
	p := m.newPipeline(ctx, projectID, req, true)
	go p.run()
	return nil
}

// Cancel requests cancellation of a running project: every non-terminal
// session is cancelled, pending decisions are rejected, and the project
// ends as failed with error "cancelled". No-op for unknown projects.
func (m *Manager) Cancel(projectID string) {
	m.mu.Lock()
	p, ok := m.pipelines[projectID]
	m.mu.Unlock()
	if !ok {
		return
	}
	p.cancel()
}

// CancelAll cancels every running project. Invoked on shutdown.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	running := make([]*pipeline, 0, len(m.pipelines))
	for _, p := range m.pipelines {
		running = append(running, p)
	}
	m.mu.Unlock()

	for _, p := range running {
		p.cancel()
	}
	for _, p := range running {
		<-p.done
	}
}

// Wait blocks until the project's pipeline finishes. Returns
// immediately for unknown or already-finished projects.
func (m *Manager) Wait(projectID string) {
	m.mu.Lock()
	p, ok := m.pipelines[projectID]
	m.mu.Unlock()
	if !ok {
		return
	}
	<-p.done
}

func (m *Manager) newPipeline(ctx context.Context, projectID string, req *models.LaunchRequest, retry bool) *pipeline {
	ctx, cancel := context.WithCancel(ctx)
	wt := m.newWorktrees(req.RepoPath)
	p := &pipeline{
		m:         m,
		projectID: projectID,
		req:       req,
		worktrees: wt,
		launcher:  m.newLauncher(wt),
		retry:     retry,
		dbg:       NewDebugLoggerForRepo(req.RepoPath),
		ctx:       ctx,
		ctxCancel: cancel,
		done:      make(chan struct{}),
	}

	m.mu.Lock()
	m.pipelines[projectID] = p
	m.mu.Unlock()
	return p
}

func (m *Manager) removePipeline(projectID string) {
	m.mu.Lock()
	delete(m.pipelines, projectID)
	m.mu.Unlock()
}
