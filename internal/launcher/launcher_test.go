package launcher

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ShayCichocki/maestro/internal/agent"
	"github.com/ShayCichocki/maestro/internal/hub"
	"github.com/ShayCichocki/maestro/internal/state"
	"github.com/ShayCichocki/maestro/internal/worktree"
	"github.com/ShayCichocki/maestro/pkg/models"
)

// fakeProvider implements worktree.Provider backed by temp directories.
type fakeProvider struct {
	repo    string
	changed []string
}

func (f *fakeProvider) Create(sessionID string) (*worktree.Worktree, error) {
	path := f.WorktreePath(sessionID)
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, err
	}
	return &worktree.Worktree{
		Path:      path,
		Branch:    f.BranchName(sessionID),
		SessionID: sessionID,
	}, nil
}

func (f *fakeProvider) List() ([]*worktree.Worktree, error)       { return nil, nil }
func (f *fakeProvider) Diff(string) (*worktree.Diff, error)       { return nil, nil }
func (f *fakeProvider) Stat(string) (*worktree.Stat, error)       { return nil, nil }
func (f *fakeProvider) FilesChanged(string) ([]string, error)     { return f.changed, nil }
func (f *fakeProvider) Merge(string, string) (*worktree.MergeResult, error) {
	return &worktree.MergeResult{Success: true}, nil
}
func (f *fakeProvider) AbortMerge() error               { return nil }
func (f *fakeProvider) HasConflicts() (bool, error)     { return false, nil }
func (f *fakeProvider) FinishMerge() error              { return nil }
func (f *fakeProvider) Remove(string) error             { return nil }
func (f *fakeProvider) AutoCommit(string, string) (bool, error) { return true, nil }
func (f *fakeProvider) BranchName(sessionID string) string      { return "team/" + sessionID }
func (f *fakeProvider) WorktreePath(sessionID string) string {
	return filepath.Join(f.repo, ".worktrees", sessionID)
}
func (f *fakeProvider) RepoPath() string { return f.repo }

var _ worktree.Provider = (*fakeProvider)(nil)

// fakeBackend hands out scripted processes.
type fakeBackend struct {
	startErr error
	next     func() *fakeProcess
	started  atomic.Int32
}

func (b *fakeBackend) Start(ctx context.Context, dir, prompt string, extraEnv []string) (agent.Process, error) {
	if b.startErr != nil {
		return nil, b.startErr
	}
	b.started.Add(1)
	return b.next(), nil
}

func (b *fakeBackend) RunOnce(ctx context.Context, dir, prompt string, timeout time.Duration) (string, error) {
	return "", nil
}

// fakeProcess streams fixed stdout/stderr content and exits when both
// streams are drained or when stopped.
type fakeProcess struct {
	stdout   io.Reader
	stderr   io.Reader
	exitErr  error
	block    bool
	stopped  atomic.Bool
	exitOnce chan struct{}
}

func newFakeProcess(stdout, stderr string, exitErr error, block bool) *fakeProcess {
	return &fakeProcess{
		stdout:   strings.NewReader(stdout),
		stderr:   strings.NewReader(stderr),
		exitErr:  exitErr,
		block:    block,
		exitOnce: make(chan struct{}),
	}
}

func (p *fakeProcess) Stdout() io.Reader { return p.stdout }
func (p *fakeProcess) Stderr() io.Reader { return p.stderr }
func (p *fakeProcess) PID() int          { return 12345 }

func (p *fakeProcess) Wait() error {
	if p.block {
		<-p.exitOnce
		return errors.New("signal: killed")
	}
	return p.exitErr
}

func (p *fakeProcess) Stop(grace time.Duration) {
	if p.stopped.CompareAndSwap(false, true) {
		close(p.exitOnce)
	}
}

func setupLauncher(t *testing.T, backend agent.Backend) (*TeamLauncher, *state.DB, *hub.Hub, *fakeProvider) {
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

	provider := &fakeProvider{repo: t.TempDir(), changed: []string{"main.go"}}
	templates := map[string]*models.TeamTemplate{
		"backend": {
			Name: "backend",
			Teammates: []models.Teammate{
				{Name: "builder", Role: "implement", TimeoutSeconds: 30},
			},
		},
	}

	l := New(db, events, provider, backend, templates)
	l.grace = 50 * time.Millisecond
	return l, db, events, provider
}

func TestLaunch_UnknownTemplate(t *testing.T) {
	l, _, _, _ := setupLauncher(t, &fakeBackend{})

	_, err := l.Launch(context.Background(), "p1", "nope", "do stuff")
	if !errors.Is(err, ErrTemplateNotFound) {
		t.Fatalf("err = %v, want ErrTemplateNotFound", err)
	}
}

func TestLaunch_HappyPath(t *testing.T) {
	backend := &fakeBackend{
		next: func() *fakeProcess {
			return newFakeProcess("working\ndone\n", "", nil, false)
		},
	}
	l, db, events, provider := setupLauncher(t, backend)

	sub := events.Subscribe(hub.ChannelTeams)

	sid, err := l.Launch(context.Background(), "p1", "backend", "add endpoint")
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	l.Wait(sid)

	sess, err := db.GetAgentSession(sid)
	if err != nil || sess == nil {
		t.Fatalf("session not recorded: %v", err)
	}
	if sess.Status != state.SessionCompleted {
		t.Errorf("Status = %q, want completed", sess.Status)
	}
	if sess.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}
	if len(sess.FilesChanged) != 1 || sess.FilesChanged[0] != "main.go" {
		t.Errorf("FilesChanged = %v", sess.FilesChanged)
	}
	if sess.Branch != "team/"+sid {
		t.Errorf("Branch = %q", sess.Branch)
	}

	// Teammate task finalised.
	tasks, _ := db.ListTeammateTasks(sid)
	if len(tasks) != 1 || tasks[0].Status != state.TaskCompleted {
		t.Errorf("tasks = %+v", tasks)
	}

	// Result artifact exists and is recorded on the row.
	if sess.ResultFile == "" {
		t.Fatal("ResultFile not recorded")
	}
	data, err := os.ReadFile(filepath.Join(provider.repo, ".maestro", "results", sess.ResultFile))
	if err != nil {
		t.Fatalf("read result artifact: %v", err)
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("artifact is not JSON: %v", err)
	}
	if result["status"] != "completed" {
		t.Errorf("artifact status = %v", result["status"])
	}

	// Stream lines and terminal event arrive on the teams channel.
	var sawStdout, sawCompleted bool
	deadline := time.After(time.Second)
	for !sawCompleted {
		select {
		case ev := <-sub.Events():
			tp, ok := ev.(hub.TeamProgress)
			if !ok {
				continue
			}
			switch tp.Event {
			case "stdout":
				sawStdout = true
			case "completed":
				sawCompleted = true
				if tp.ExitCode != 0 {
					t.Errorf("ExitCode = %d, want 0", tp.ExitCode)
				}
			}
		case <-deadline:
			t.Fatal("terminal event never arrived")
		}
	}
	if !sawStdout {
		t.Error("no stdout line published")
	}
}

func TestLaunch_SpawnFailureMarksSessionFailed(t *testing.T) {
	backend := &fakeBackend{startErr: errors.New("exec: not found")}
	l, db, _, _ := setupLauncher(t, backend)

	sid, err := l.Launch(context.Background(), "p1", "backend", "add endpoint")
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}

	sess, _ := db.GetAgentSession(sid)
	if sess.Status != state.SessionFailed {
		t.Errorf("Status = %q, want failed", sess.Status)
	}
	tasks, _ := db.ListTeammateTasks(sid)
	if len(tasks) != 1 || tasks[0].Status != state.TaskFailed {
		t.Errorf("tasks = %+v", tasks)
	}
}

func TestLaunch_ResourceWatchdogKills(t *testing.T) {
	stderr := "warm up\nNo space left on device\nstill going\nwrite failed: No space left on device\n"
	backend := &fakeBackend{
		next: func() *fakeProcess {
			return newFakeProcess("", stderr, nil, true)
		},
	}
	l, db, events, _ := setupLauncher(t, backend)

	sub := events.Subscribe(hub.ChannelTeams)

	sid, err := l.Launch(context.Background(), "p1", "backend", "task")
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	l.Wait(sid)

	sess, _ := db.GetAgentSession(sid)
	if sess.Status != state.SessionFailed {
		t.Errorf("Status = %q, want failed", sess.Status)
	}

	var sawResourceError bool
	deadline := time.After(time.Second)
	for !sawResourceError {
		select {
		case ev := <-sub.Events():
			if tp, ok := ev.(hub.TeamProgress); ok && tp.Event == "resource_error" {
				sawResourceError = true
			}
		case <-deadline:
			t.Fatal("resource_error event never published")
		}
	}
}

func TestCancel(t *testing.T) {
	backend := &fakeBackend{
		next: func() *fakeProcess {
			return newFakeProcess("", "", nil, true)
		},
	}
	l, db, _, _ := setupLauncher(t, backend)

	sid, err := l.Launch(context.Background(), "p1", "backend", "task")
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}

	l.Cancel(sid)
	l.Wait(sid)

	sess, _ := db.GetAgentSession(sid)
	if sess.Status != state.SessionCancelled {
		t.Errorf("Status = %q, want cancelled", sess.Status)
	}

	// Idempotent on a finished session.
	l.Cancel(sid)
}

func TestCancelAll(t *testing.T) {
	backend := &fakeBackend{
		next: func() *fakeProcess {
			return newFakeProcess("", "", nil, true)
		},
	}
	l, db, _, _ := setupLauncher(t, backend)

	var sids []string
	for i := 0; i < 3; i++ {
		sid, err := l.Launch(context.Background(), "p1", "backend", "task")
		if err != nil {
			t.Fatalf("Launch failed: %v", err)
		}
		sids = append(sids, sid)
	}

	l.CancelAll()

	for _, sid := range sids {
		sess, _ := db.GetAgentSession(sid)
		if sess.Status != state.SessionCancelled {
			t.Errorf("session %s Status = %q, want cancelled", sid, sess.Status)
		}
	}
}

func TestSessionEnv_CargoSharing(t *testing.T) {
	l, _, _, provider := setupLauncher(t, &fakeBackend{})

	env := l.sessionEnv()
	for _, e := range env {
		if strings.HasPrefix(e, "CARGO_TARGET_DIR=") {
			t.Fatalf("CARGO_TARGET_DIR set without Cargo.toml: %v", env)
		}
	}

	if err := os.WriteFile(filepath.Join(provider.repo, "Cargo.toml"), []byte("[package]\n"), 0644); err != nil {
		t.Fatalf("write Cargo.toml: %v", err)
	}
	env = l.sessionEnv()
	var found bool
	for _, e := range env {
		if e == "CARGO_TARGET_DIR="+filepath.Join(provider.repo, "target") {
			found = true
		}
	}
	if !found {
		t.Errorf("CARGO_TARGET_DIR missing: %v", env)
	}
}
