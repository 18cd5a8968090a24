// Package launcher supervises one agent subprocess per session: spawn
// in an isolated worktree, stream output, enforce timeouts and resource
// safety, then commit and record whatever the agent produced.
package launcher

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ShayCichocki/maestro/internal/agent"
	"github.com/ShayCichocki/maestro/internal/hub"
	"github.com/ShayCichocki/maestro/internal/state"
	"github.com/ShayCichocki/maestro/internal/worktree"
	"github.com/ShayCichocki/maestro/pkg/models"
)

// ErrTemplateNotFound is returned when a launch names an unknown team.
var ErrTemplateNotFound = fmt.Errorf("team template not found")

const (
	// envAgentTeams marks the subprocess as a maestro-launched team.
	envAgentTeams = "MAESTRO_AGENT_TEAMS=1"
	// stopGrace is the delay between graceful stop and hard kill.
	stopGrace = 10 * time.Second
	// ringCapacity bounds the retained output lines per session.
	ringCapacity = 1000
	// scanBufferSize bounds a single output line.
	scanBufferSize = 1024 * 1024
)

// Launcher is the interface the GM pipeline drives sessions through.
type Launcher interface {
	Launch(ctx context.Context, projectID, team, task string) (string, error)
	Cancel(sessionID string)
	CancelAll()
	Wait(sessionID string)
}

// SessionStore is the slice of the state store the launcher writes to.
type SessionStore interface {
	CreateAgentSession(s *state.AgentSession) error
	UpdateAgentSessionStatus(sessionID string, status state.SessionStatus, completedAt *time.Time) error
	UpdateAgentSessionFiles(sessionID string, files []string) error
	UpdateAgentSessionResultFile(sessionID, filename string) error
	CreateTeammateTask(t *state.TeammateTask) error
	ListTeammateTasks(sessionID string) ([]*state.TeammateTask, error)
	UpdateTeammateTaskStatus(id int64, status state.TaskStatus, output, errMsg string, completedAt *time.Time) error
}

// TeamLauncher runs agent sessions against one repository.
type TeamLauncher struct {
	store     SessionStore
	events    *hub.Hub
	worktrees worktree.Provider
	backend   agent.Backend
	templates map[string]*models.TeamTemplate

	grace      time.Duration
	resultsDir string

	mu      sync.Mutex
	running map[string]*session
}

type session struct {
	id        string
	proc      agent.Process
	done      chan struct{}
	cancelled atomic.Bool
}

// New creates a TeamLauncher. Result artifacts are written under
// <repo>/.maestro/results.
func New(store SessionStore, events *hub.Hub, worktrees worktree.Provider, backend agent.Backend, templates map[string]*models.TeamTemplate) *TeamLauncher {
	return &TeamLauncher{
		store:      store,
		events:     events,
		worktrees:  worktrees,
		backend:    backend,
		templates:  templates,
		grace:      stopGrace,
		resultsDir: filepath.Join(worktrees.RepoPath(), ".maestro", "results"),
		running:    make(map[string]*session),
	}
}

// Launch starts one agent session and returns its session ID. A failed
// subprocess spawn still yields a session ID: the session is recorded
// as failed and excluded from later pipeline phases.
func (l *TeamLauncher) Launch(ctx context.Context, projectID, team, task string) (string, error) {
	tmpl, ok := l.templates[team]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrTemplateNotFound, team)
	}

	sessionID := models.NewID()
	wt, err := l.worktrees.Create(sessionID)
	if err != nil {
		return "", fmt.Errorf("create worktree: %w", err)
	}

	now := time.Now()
	row := &state.AgentSession{
		SessionID:    sessionID,
		ProjectID:    projectID,
		TeamName:     team,
		Task:         task,
		Branch:       wt.Branch,
		WorktreePath: wt.Path,
		Status:       state.SessionRunning,
		StartedAt:    now,
	}
	if err := l.store.CreateAgentSession(row); err != nil {
		l.worktrees.Remove(sessionID)
		return "", fmt.Errorf("record session: %w", err)
	}
	for _, tm := range tmpl.Teammates {
		tt := &state.TeammateTask{
			SessionID: sessionID,
			Teammate:  tm.Name,
			Role:      tm.Role,
			Status:    state.TaskRunning,
			StartedAt: &now,
		}
		if err := l.store.CreateTeammateTask(tt); err != nil {
			return "", fmt.Errorf("record teammate task: %w", err)
		}
	}

	proc, err := l.backend.Start(ctx, wt.Path, buildPrompt(tmpl, task), l.sessionEnv())
	if err != nil {
		completed := time.Now()
		l.store.UpdateAgentSessionStatus(sessionID, state.SessionFailed, &completed)
		l.finishTasks(sessionID, state.TaskFailed, "", err.Error())
		l.events.Publish(hub.ChannelTeams, hub.TeamProgress{
			SessionID: sessionID,
			Event:     "completed",
			Status:    string(state.SessionFailed),
			ExitCode:  -1,
		})
		return sessionID, nil
	}

	sess := &session{id: sessionID, proc: proc, done: make(chan struct{})}
	l.mu.Lock()
	l.running[sessionID] = sess
	l.mu.Unlock()

	go l.supervise(sess, tmpl, task)
	return sessionID, nil
}

// Cancel gracefully stops a session's process group, hard-killing after
// the grace period. Safe to call on unknown or finished sessions.
func (l *TeamLauncher) Cancel(sessionID string) {
	l.mu.Lock()
	sess, ok := l.running[sessionID]
	l.mu.Unlock()
	if !ok {
		return
	}
	sess.cancelled.Store(true)
	sess.proc.Stop(l.grace)
}

// CancelAll cancels every running session and waits for their
// supervisors to finish. Invoked on shutdown.
func (l *TeamLauncher) CancelAll() {
	l.mu.Lock()
	sessions := make([]*session, 0, len(l.running))
	for _, s := range l.running {
		sessions = append(sessions, s)
	}
	l.mu.Unlock()

	for _, s := range sessions {
		s.cancelled.Store(true)
		s.proc.Stop(l.grace)
	}
	for _, s := range sessions {
		<-s.done
	}
}

// Wait blocks until the session's supervisor finishes. Returns
// immediately for unknown sessions.
func (l *TeamLauncher) Wait(sessionID string) {
	l.mu.Lock()
	sess, ok := l.running[sessionID]
	l.mu.Unlock()
	if !ok {
		return
	}
	<-sess.done
}

// supervise drains the process streams, enforces the timeout and the
// resource watchdog, and finalises the session row on exit.
func (l *TeamLauncher) supervise(sess *session, tmpl *models.TeamTemplate, task string) {
	defer close(sess.done)

	ring := newLineRing(ringCapacity)
	wd := newWatchdog()
	trip := make(chan string, 1)

	var drains sync.WaitGroup
	drain := func(r io.Reader, stream string) {
		defer drains.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), scanBufferSize)
		for scanner.Scan() {
			line := scanner.Text()
			ring.Append(line)
			l.events.Publish(hub.ChannelTeams, hub.TeamProgress{
				SessionID: sess.id,
				Event:     stream,
				Data:      line,
			})
			if pat, tripped := wd.Observe(line); tripped {
				select {
				case trip <- pat:
				default:
				}
			}
		}
	}
	drains.Add(2)
	go drain(sess.proc.Stdout(), "stdout")
	go drain(sess.proc.Stderr(), "stderr")

	timeout := time.Duration(tmpl.TimeoutSeconds()) * time.Second
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	waitDone := make(chan error, 1)
	go func() { waitDone <- sess.proc.Wait() }()

	var reason string
	var exitErr error
	select {
	case exitErr = <-waitDone:
	case pat := <-trip:
		reason = "resource_exhaustion: " + pat
		l.events.Publish(hub.ChannelTeams, hub.TeamProgress{
			SessionID: sess.id,
			Event:     "resource_error",
			Data:      pat,
		})
		sess.proc.Stop(l.grace)
		exitErr = <-waitDone
	case <-timer.C:
		reason = "session_timeout"
		sess.proc.Stop(l.grace)
		exitErr = <-waitDone
	}
	drains.Wait()

	l.finalize(sess, task, ring, reason, exitErr)
}

func (l *TeamLauncher) finalize(sess *session, task string, ring *lineRing, reason string, exitErr error) {
	exitCode := agent.ExitCode(exitErr)

	status := state.SessionCompleted
	event := "completed"
	switch {
	case sess.cancelled.Load():
		status = state.SessionCancelled
		event = "cancelled"
		if reason == "" {
			reason = "cancelled"
		}
	case reason != "" || exitErr != nil:
		status = state.SessionFailed
	}

	l.worktrees.AutoCommit(sess.id, fmt.Sprintf("maestro: auto-commit session %s", sess.id))

	files, err := l.worktrees.FilesChanged(sess.id)
	if err == nil {
		l.store.UpdateAgentSessionFiles(sess.id, files)
	}

	// Per-worktree build output is never merged; reclaim the space.
	os.RemoveAll(filepath.Join(l.worktrees.WorktreePath(sess.id), "target"))

	if name, err := l.writeResult(sess.id, task, status, exitCode, reason, files, ring.Lines()); err == nil {
		l.store.UpdateAgentSessionResultFile(sess.id, name)
	}

	completed := time.Now()
	l.store.UpdateAgentSessionStatus(sess.id, status, &completed)

	taskStatus := state.TaskCompleted
	if status != state.SessionCompleted {
		taskStatus = state.TaskFailed
	}
	l.finishTasks(sess.id, taskStatus, "", reason)

	l.mu.Lock()
	delete(l.running, sess.id)
	l.mu.Unlock()

	l.events.Publish(hub.ChannelTeams, hub.TeamProgress{
		SessionID: sess.id,
		Event:     event,
		Status:    string(status),
		ExitCode:  exitCode,
	})
}

func (l *TeamLauncher) finishTasks(sessionID string, status state.TaskStatus, output, errMsg string) {
	tasks, err := l.store.ListTeammateTasks(sessionID)
	if err != nil {
		return
	}
	now := time.Now()
	for _, t := range tasks {
		if t.Status == state.TaskCompleted || t.Status == state.TaskFailed {
			continue
		}
		l.store.UpdateTeammateTaskStatus(t.ID, status, output, errMsg, &now)
	}
}

// sessionResult is the shape of the teams-<session_id>.json artifact.
type sessionResult struct {
	SessionID    string   `json:"session_id"`
	Task         string   `json:"task"`
	Status       string   `json:"status"`
	ExitCode     int      `json:"exit_code"`
	Reason       string   `json:"reason,omitempty"`
	FilesChanged []string `json:"files_changed"`
	Output       []string `json:"output"`
	CompletedAt  string   `json:"completed_at"`
}

func (l *TeamLauncher) writeResult(sessionID, task string, status state.SessionStatus, exitCode int, reason string, files, output []string) (string, error) {
	if err := os.MkdirAll(l.resultsDir, 0755); err != nil {
		return "", fmt.Errorf("create results dir: %w", err)
	}

	result := sessionResult{
		SessionID:    sessionID,
		Task:         task,
		Status:       string(status),
		ExitCode:     exitCode,
		Reason:       reason,
		FilesChanged: files,
		Output:       output,
		CompletedAt:  time.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal result: %w", err)
	}

	name := fmt.Sprintf("teams-%s.json", sessionID)
	if err := os.WriteFile(filepath.Join(l.resultsDir, name), data, 0644); err != nil {
		return "", fmt.Errorf("write result: %w", err)
	}
	return name, nil
}

// sessionEnv is the extra environment handed to every agent process.
// When the repo is a Cargo project, all sessions share one target
// directory so each worktree does not rebuild the world.
func (l *TeamLauncher) sessionEnv() []string {
	env := []string{envAgentTeams}
	repo := l.worktrees.RepoPath()
	if _, err := os.Stat(filepath.Join(repo, "Cargo.toml")); err == nil {
		env = append(env, "CARGO_TARGET_DIR="+filepath.Join(repo, "target"))
	}
	return env
}

// buildPrompt renders the task prompt handed to the backend.
func buildPrompt(tmpl *models.TeamTemplate, task string) string {
	prompt := fmt.Sprintf("You are the %q team.", tmpl.Name)
	if tmpl.Description != "" {
		prompt += " " + tmpl.Description + "."
	}
	for _, tm := range tmpl.Teammates {
		prompt += fmt.Sprintf("\nTeammate %s: %s.", tm.Name, tm.Role)
	}
	prompt += "\n\nTask:\n" + task
	prompt += "\n\nWork in the current directory and commit your changes when done."
	return prompt
}

var _ Launcher = (*TeamLauncher)(nil)
