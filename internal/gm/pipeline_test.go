package gm

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ShayCichocki/maestro/internal/agent"
	"github.com/ShayCichocki/maestro/internal/decision"
	"github.com/ShayCichocki/maestro/internal/hub"
	"github.com/ShayCichocki/maestro/internal/launcher"
	"github.com/ShayCichocki/maestro/internal/state"
	"github.com/ShayCichocki/maestro/internal/worktree"
	"github.com/ShayCichocki/maestro/pkg/models"
)

// scriptedSession tells the fake launcher what each launch produces.
type scriptedSession struct {
	status state.SessionStatus
	files  []string
}

// fakeLauncher records sessions straight into the store with scripted
// terminal states instead of spawning processes.
type fakeLauncher struct {
	db     *state.DB
	script []scriptedSession

	mu sync.Mutex
	n  int
}

func (f *fakeLauncher) Launch(ctx context.Context, projectID, team, task string) (string, error) {
	f.mu.Lock()
	idx := f.n
	f.n++
	f.mu.Unlock()

	s := f.script[idx]
	sid := fmt.Sprintf("s%d", idx+1)
	started := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(idx) * time.Second)
	row := &state.AgentSession{
		SessionID:    sid,
		ProjectID:    projectID,
		TeamName:     team,
		Task:         task,
		Branch:       "team/" + sid,
		Status:       s.status,
		FilesChanged: s.files,
		StartedAt:    started,
	}
	if s.status.Terminal() {
		completed := started.Add(time.Minute)
		row.CompletedAt = &completed
	}
	if err := f.db.CreateAgentSession(row); err != nil {
		return "", err
	}
	return sid, nil
}

func (f *fakeLauncher) Cancel(sessionID string) {
	now := time.Now()
	f.db.UpdateAgentSessionStatus(sessionID, state.SessionCancelled, &now)
}

func (f *fakeLauncher) CancelAll() {
	f.mu.Lock()
	n := f.n
	f.mu.Unlock()
	now := time.Now()
	for i := 1; i <= n; i++ {
		sid := fmt.Sprintf("s%d", i)
		s, err := f.db.GetAgentSession(sid)
		if err != nil || s == nil || s.Status.Terminal() {
			continue
		}
		f.db.UpdateAgentSessionStatus(sid, state.SessionCancelled, &now)
	}
}

func (f *fakeLauncher) Wait(sessionID string) {}

var _ launcher.Launcher = (*fakeLauncher)(nil)

// fakeWorktrees scripts merge outcomes per session.
type fakeWorktrees struct {
	repo         string
	conflicts    map[string][]string
	resolveWorks bool

	mu      sync.Mutex
	merged  []string
	aborted int
}

func (f *fakeWorktrees) Merge(sessionID, message string) (*worktree.MergeResult, error) {
	if files, ok := f.conflicts[sessionID]; ok {
		return &worktree.MergeResult{Success: false, Output: "CONFLICT", ConflictedFiles: files}, nil
	}
	f.mu.Lock()
	f.merged = append(f.merged, sessionID)
	f.mu.Unlock()
	return &worktree.MergeResult{Success: true, Output: "Merge made"}, nil
}

func (f *fakeWorktrees) AbortMerge() error {
	f.mu.Lock()
	f.aborted++
	f.mu.Unlock()
	return nil
}

func (f *fakeWorktrees) HasConflicts() (bool, error) { return !f.resolveWorks, nil }
func (f *fakeWorktrees) FinishMerge() error          { return nil }

func (f *fakeWorktrees) Create(sessionID string) (*worktree.Worktree, error) {
	return &worktree.Worktree{SessionID: sessionID}, nil
}
func (f *fakeWorktrees) List() ([]*worktree.Worktree, error)   { return nil, nil }
func (f *fakeWorktrees) Diff(string) (*worktree.Diff, error)   { return nil, nil }
func (f *fakeWorktrees) Stat(string) (*worktree.Stat, error)   { return nil, nil }
func (f *fakeWorktrees) FilesChanged(string) ([]string, error) { return nil, nil }
func (f *fakeWorktrees) Remove(string) error                   { return nil }
func (f *fakeWorktrees) AutoCommit(string, string) (bool, error) {
	return false, nil
}
func (f *fakeWorktrees) BranchName(sessionID string) string   { return "team/" + sessionID }
func (f *fakeWorktrees) WorktreePath(sessionID string) string { return "" }
func (f *fakeWorktrees) RepoPath() string                     { return f.repo }

var _ worktree.Provider = (*fakeWorktrees)(nil)

// fakeShell pops scripted results per invocation.
type fakeShell struct {
	mu      sync.Mutex
	results []error
	calls   []string
}

func (f *fakeShell) RunShell(ctx context.Context, workDir, command string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, command)
	if len(f.results) == 0 {
		return "", nil
	}
	err := f.results[0]
	f.results = f.results[1:]
	if err != nil {
		return "error: boom\n", err
	}
	return "ok\n", nil
}

// fakeBackend records repair prompts.
type fakeBackend struct {
	mu      sync.Mutex
	prompts []string
}

func (f *fakeBackend) Start(ctx context.Context, dir, prompt string, extraEnv []string) (agent.Process, error) {
	return nil, errors.New("not used")
}

func (f *fakeBackend) RunOnce(ctx context.Context, dir, prompt string, timeout time.Duration) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	return "done", nil
}

type fixture struct {
	m       *Manager
	db      *state.DB
	events  *hub.Hub
	gate    *decision.Gate
	shell   *fakeShell
	backend *fakeBackend
	wt      *fakeWorktrees
}

func setupManager(t *testing.T, script []scriptedSession, wt *fakeWorktrees, shell *fakeShell) *fixture {
	t.Helper()
	db, err := state.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	events := hub.New()
	t.Cleanup(events.Close)

	gate := decision.NewGate(db, events)
	backend := &fakeBackend{}
	templates := map[string]*models.TeamTemplate{
		"backend": {Name: "backend", Teammates: []models.Teammate{{Name: "builder", Role: "implement"}}},
	}

	m := NewManager(db, events, gate, backend, shell, templates)
	m.newWorktrees = func(string) worktree.Provider { return wt }
	fl := &fakeLauncher{db: db, script: script}
	m.newLauncher = func(worktree.Provider) launcher.Launcher { return fl }

	return &fixture{m: m, db: db, events: events, gate: gate, shell: shell, backend: backend, wt: wt}
}

// autoResolve answers every decision_required with the given action.
func autoResolve(t *testing.T, f *fixture, action decision.Action) {
	t.Helper()
	sub := f.events.Subscribe(hub.ChannelGM)
	go func() {
		for ev := range sub.Events() {
			switch e := ev.(type) {
			case hub.Ping:
				sub.Pong()
			case hub.DecisionRequired:
				f.gate.Resolve(e.DecisionID, action)
			}
		}
	}()
}

func launchRequest(repo string) *models.LaunchRequest {
	return &models.LaunchRequest{
		ProjectName: "demo",
		RepoPath:    repo,
		Agents: []models.AgentAssignment{
			{Team: "backend", Task: "part one"},
			{Team: "backend", Task: "part two"},
		},
	}
}

func TestPipeline_HappyPath(t *testing.T) {
	wt := &fakeWorktrees{repo: "/repo"}
	shell := &fakeShell{}
	f := setupManager(t, []scriptedSession{
		{status: state.SessionCompleted, files: []string{"src/x.go"}},
		{status: state.SessionCompleted, files: []string{"src/y.go"}},
	}, wt, shell)

	sub := f.events.Subscribe(hub.ChannelGM)
	var phases []string
	var phasesMu sync.Mutex
	go func() {
		for ev := range sub.Events() {
			switch e := ev.(type) {
			case hub.Ping:
				sub.Pong()
			case hub.PhaseChange:
				phasesMu.Lock()
				phases = append(phases, e.Phase)
				phasesMu.Unlock()
			}
		}
	}()

	req := launchRequest("/repo")
	req.BuildCommand = "make build"
	req.TestCommand = "make test"

	pid, err := f.m.LaunchProject(context.Background(), req)
	if err != nil {
		t.Fatalf("LaunchProject failed: %v", err)
	}
	f.m.Wait(pid)

	proj, _ := f.db.GetGMProject(pid)
	if proj.Phase != state.PhaseCompleted {
		t.Fatalf("Phase = %q (%s), want completed", proj.Phase, proj.ErrorMessage)
	}
	if proj.MergedCount != 2 {
		t.Errorf("MergedCount = %d, want 2", proj.MergedCount)
	}
	if proj.CompletedCount != 2 || proj.FailedCount != 0 {
		t.Errorf("counts = %d/%d, want 2/0", proj.CompletedCount, proj.FailedCount)
	}
	if len(proj.MergeOrder) != 2 {
		t.Errorf("MergeOrder = %v", proj.MergeOrder)
	}
	if proj.BuildAttempts != 1 || proj.TestAttempts != 1 {
		t.Errorf("attempts = %d/%d, want 1/1", proj.BuildAttempts, proj.TestAttempts)
	}
	if proj.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}

	sessions, _ := f.db.ListAgentSessions(pid)
	for _, s := range sessions {
		if s.MergeResult != state.MergeMerged {
			t.Errorf("session %s MergeResult = %q, want merged", s.SessionID, s.MergeResult)
		}
	}

	if len(shell.calls) != 2 {
		t.Errorf("shell calls = %v, want build then test", shell.calls)
	}

	// Give the event goroutine a beat to drain, then check phase order.
	time.Sleep(50 * time.Millisecond)
	phasesMu.Lock()
	defer phasesMu.Unlock()
	want := []string{"waiting", "analyzing", "merging", "building", "testing", "completed"}
	if len(phases) != len(want) {
		t.Fatalf("phases = %v, want %v", phases, want)
	}
	for i := range want {
		if phases[i] != want[i] {
			t.Fatalf("phases = %v, want %v", phases, want)
		}
	}
}

func TestPipeline_ConflictApproved(t *testing.T) {
	wt := &fakeWorktrees{
		repo:         "/repo",
		conflicts:    map[string][]string{"s2": {"src/x.go"}},
		resolveWorks: true,
	}
	f := setupManager(t, []scriptedSession{
		{status: state.SessionCompleted, files: []string{"src/x.go"}},
		{status: state.SessionCompleted, files: []string{"src/x.go", "src/y.go"}},
	}, wt, &fakeShell{})
	autoResolve(t, f, decision.ActionApprove)

	pid, err := f.m.LaunchProject(context.Background(), launchRequest("/repo"))
	if err != nil {
		t.Fatalf("LaunchProject failed: %v", err)
	}
	f.m.Wait(pid)

	proj, _ := f.db.GetGMProject(pid)
	if proj.Phase != state.PhaseCompleted {
		t.Fatalf("Phase = %q (%s), want completed", proj.Phase, proj.ErrorMessage)
	}
	if proj.MergedCount != 2 {
		t.Errorf("MergedCount = %d, want 2", proj.MergedCount)
	}

	s2, _ := f.db.GetAgentSession("s2")
	if s2.MergeResult != state.MergeResolved {
		t.Errorf("s2 MergeResult = %q, want merged_resolved", s2.MergeResult)
	}
	s1, _ := f.db.GetAgentSession("s1")
	if s1.MergeResult != state.MergeMerged {
		t.Errorf("s1 MergeResult = %q, want merged", s1.MergeResult)
	}

	// The repair agent ran against the host checkout.
	f.backend.mu.Lock()
	defer f.backend.mu.Unlock()
	if len(f.backend.prompts) != 1 || !strings.Contains(f.backend.prompts[0], "src/x.go") {
		t.Errorf("repair prompts = %v", f.backend.prompts)
	}
}

func TestPipeline_ConflictRejected(t *testing.T) {
	wt := &fakeWorktrees{
		repo:      "/repo",
		conflicts: map[string][]string{"s2": {"src/x.go"}},
	}
	f := setupManager(t, []scriptedSession{
		{status: state.SessionCompleted, files: []string{"src/x.go"}},
		{status: state.SessionCompleted, files: []string{"src/x.go", "src/y.go"}},
	}, wt, &fakeShell{})
	autoResolve(t, f, decision.ActionReject)

	pid, err := f.m.LaunchProject(context.Background(), launchRequest("/repo"))
	if err != nil {
		t.Fatalf("LaunchProject failed: %v", err)
	}
	f.m.Wait(pid)

	proj, _ := f.db.GetGMProject(pid)
	if proj.Phase != state.PhaseCompleted {
		t.Fatalf("Phase = %q (%s), want completed", proj.Phase, proj.ErrorMessage)
	}
	if proj.MergedCount != 1 {
		t.Errorf("MergedCount = %d, want 1", proj.MergedCount)
	}

	s2, _ := f.db.GetAgentSession("s2")
	if s2.MergeResult != state.MergeSkipped {
		t.Errorf("s2 MergeResult = %q, want skipped", s2.MergeResult)
	}
	if wt.aborted != 1 {
		t.Errorf("aborted = %d, want 1", wt.aborted)
	}
}

func TestPipeline_BuildFailsThenFixed(t *testing.T) {
	wt := &fakeWorktrees{repo: "/repo"}
	shell := &fakeShell{results: []error{errors.New("exit status 2"), nil}}
	f := setupManager(t, []scriptedSession{
		{status: state.SessionCompleted, files: []string{"src/x.go"}},
	}, wt, shell)
	autoResolve(t, f, decision.ActionApprove)

	req := launchRequest("/repo")
	req.Agents = req.Agents[:1]
	req.BuildCommand = "make build"

	pid, err := f.m.LaunchProject(context.Background(), req)
	if err != nil {
		t.Fatalf("LaunchProject failed: %v", err)
	}
	f.m.Wait(pid)

	proj, _ := f.db.GetGMProject(pid)
	if proj.Phase != state.PhaseCompleted {
		t.Fatalf("Phase = %q (%s), want completed", proj.Phase, proj.ErrorMessage)
	}
	if proj.BuildAttempts != 2 {
		t.Errorf("BuildAttempts = %d, want 2", proj.BuildAttempts)
	}

	f.backend.mu.Lock()
	defer f.backend.mu.Unlock()
	if len(f.backend.prompts) != 1 || !strings.Contains(f.backend.prompts[0], "make build") {
		t.Errorf("repair prompts = %v", f.backend.prompts)
	}
}

func TestPipeline_BuildRejected(t *testing.T) {
	wt := &fakeWorktrees{repo: "/repo"}
	shell := &fakeShell{results: []error{errors.New("exit status 2")}}
	f := setupManager(t, []scriptedSession{
		{status: state.SessionCompleted, files: []string{"src/x.go"}},
	}, wt, shell)
	autoResolve(t, f, decision.ActionReject)

	req := launchRequest("/repo")
	req.Agents = req.Agents[:1]
	req.BuildCommand = "make build"

	pid, err := f.m.LaunchProject(context.Background(), req)
	if err != nil {
		t.Fatalf("LaunchProject failed: %v", err)
	}
	f.m.Wait(pid)

	proj, _ := f.db.GetGMProject(pid)
	if proj.Phase != state.PhaseFailed {
		t.Fatalf("Phase = %q, want failed", proj.Phase)
	}
	if !strings.Contains(proj.ErrorMessage, "build failed") {
		t.Errorf("ErrorMessage = %q", proj.ErrorMessage)
	}
}

func TestPipeline_CancelDuringWaiting(t *testing.T) {
	wt := &fakeWorktrees{repo: "/repo"}
	f := setupManager(t, []scriptedSession{
		{status: state.SessionRunning},
		{status: state.SessionRunning},
	}, wt, &fakeShell{})

	pid, err := f.m.LaunchProject(context.Background(), launchRequest("/repo"))
	if err != nil {
		t.Fatalf("LaunchProject failed: %v", err)
	}

	// Wait until the pipeline reaches waiting, then cancel.
	deadline := time.Now().Add(2 * time.Second)
	for {
		proj, _ := f.db.GetGMProject(pid)
		if proj != nil && proj.Phase == state.PhaseWaiting {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("pipeline never reached waiting")
		}
		time.Sleep(10 * time.Millisecond)
	}

	f.m.Cancel(pid)
	f.m.Wait(pid)

	proj, _ := f.db.GetGMProject(pid)
	if proj.Phase != state.PhaseFailed {
		t.Fatalf("Phase = %q, want failed", proj.Phase)
	}
	if proj.ErrorMessage != "cancelled" {
		t.Errorf("ErrorMessage = %q, want cancelled", proj.ErrorMessage)
	}

	sessions, _ := f.db.ListAgentSessions(pid)
	for _, s := range sessions {
		if s.Status != state.SessionCancelled {
			t.Errorf("session %s Status = %q, want cancelled", s.SessionID, s.Status)
		}
	}
}

func TestLaunchProject_UnknownTemplate(t *testing.T) {
	f := setupManager(t, nil, &fakeWorktrees{repo: "/repo"}, &fakeShell{})

	req := launchRequest("/repo")
	req.Agents[0].Team = "nope"

	if _, err := f.m.LaunchProject(context.Background(), req); !errors.Is(err, launcher.ErrTemplateNotFound) {
		t.Fatalf("err = %v, want ErrTemplateNotFound", err)
	}
}

func TestRetry_RerunsSkippedMerges(t *testing.T) {
	wt := &fakeWorktrees{repo: "/repo"}
	shell := &fakeShell{}
	f := setupManager(t, nil, wt, shell)

	// Seed a failed project with one merged and one skipped session.
	now := time.Now()
	if err := f.db.CreateGMProject(&state.GMProject{
		ProjectID: "p1", Name: "demo", RepoPath: "/repo",
		Phase: state.PhaseFailed, AgentCount: 2, StartedAt: now,
	}); err != nil {
		t.Fatalf("seed project: %v", err)
	}
	for i, mr := range []state.MergeResult{state.MergeMerged, state.MergeSkipped} {
		sid := fmt.Sprintf("s%d", i+1)
		completed := now
		if err := f.db.CreateAgentSession(&state.AgentSession{
			SessionID: sid, ProjectID: "p1", TeamName: "backend",
			Status: state.SessionCompleted, MergeResult: mr,
			StartedAt: now, CompletedAt: &completed,
		}); err != nil {
			t.Fatalf("seed session: %v", err)
		}
	}

	if err := f.m.Retry(context.Background(), "p1"); err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	f.m.Wait("p1")

	proj, _ := f.db.GetGMProject("p1")
	if proj.Phase != state.PhaseCompleted {
		t.Fatalf("Phase = %q (%s), want completed", proj.Phase, proj.ErrorMessage)
	}

	// Only the skipped session was re-merged.
	if len(wt.merged) != 1 || wt.merged[0] != "s2" {
		t.Errorf("merged = %v, want [s2]", wt.merged)
	}
	s2, _ := f.db.GetAgentSession("s2")
	if s2.MergeResult != state.MergeMerged {
		t.Errorf("s2 MergeResult = %q, want merged", s2.MergeResult)
	}

	// The counter covers s1's earlier merge as well as this run's.
	if proj.MergedCount != 2 {
		t.Errorf("MergedCount = %d, want 2", proj.MergedCount)
	}
}

func TestRetry_OnlyFailedProjects(t *testing.T) {
	f := setupManager(t, nil, &fakeWorktrees{repo: "/repo"}, &fakeShell{})

	if err := f.db.CreateGMProject(&state.GMProject{
		ProjectID: "p1", Name: "demo", RepoPath: "/repo",
		Phase: state.PhaseCompleted, StartedAt: time.Now(),
	}); err != nil {
		t.Fatalf("seed project: %v", err)
	}

	if err := f.m.Retry(context.Background(), "p1"); err == nil {
		t.Fatal("expected error retrying a completed project")
	}
}
