// Package worktree manages linked git worktrees that isolate agent sessions.
// Each session gets its own branch created from the repository HEAD and a
// worktree attached under a fixed subdirectory of the repo.
package worktree

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ShayCichocki/maestro/internal/git"
)

// ErrWorktreeExists is returned by Create when the session already has a
// branch or worktree directory.
var ErrWorktreeExists = errors.New("worktree already exists")

// DefaultSubdir is the repo-relative directory worktrees are created under.
const DefaultSubdir = ".worktrees"

// DefaultBranchPrefix is the prefix for session branches.
const DefaultBranchPrefix = "team"

// Worktree describes one linked worktree attached to the repository.
type Worktree struct {
	Path      string // Absolute path to the worktree directory
	Branch    string // Branch checked out in the worktree
	Head      string // Commit the worktree HEAD points at
	SessionID string // Session that owns the worktree
}

// MergeResult holds the outcome of merging a session branch into the
// current checkout.
type MergeResult struct {
	Success         bool
	Output          string
	ConflictedFiles []string
}

// Diff holds a unified diff of a session's work against its merge base.
type Diff struct {
	Patch      string
	BaseCommit string
}

// Stat holds a diffstat summary plus the set of changed paths.
type Stat struct {
	Summary    string
	Files      []string
	BaseCommit string
}

// Provider defines the worktree operations the pipeline depends on.
type Provider interface {
	Create(sessionID string) (*Worktree, error)
	List() ([]*Worktree, error)
	Diff(sessionID string) (*Diff, error)
	Stat(sessionID string) (*Stat, error)
	FilesChanged(sessionID string) ([]string, error)
	Merge(sessionID, message string) (*MergeResult, error)
	AbortMerge() error
	HasConflicts() (bool, error)
	FinishMerge() error
	Remove(sessionID string) error
	AutoCommit(sessionID, message string) (bool, error)
	BranchName(sessionID string) string
	WorktreePath(sessionID string) string
	RepoPath() string
}

// Verify Manager implements Provider at compile time.
var _ Provider = (*Manager)(nil)

// Manager handles worktree lifecycle for one repository.
type Manager struct {
	repoPath     string
	subdir       string
	branchPrefix string
	git          git.Runner
	newRunner    func(path string) git.Runner
	mu           sync.Mutex
}

// NewManager creates a Manager for the repository at repoPath.
// Empty subdir and branchPrefix fall back to the defaults.
func NewManager(repoPath, subdir, branchPrefix string) *Manager {
	if subdir == "" {
		subdir = DefaultSubdir
	}
	if branchPrefix == "" {
		branchPrefix = DefaultBranchPrefix
	}
	return &Manager{
		repoPath:     repoPath,
		subdir:       subdir,
		branchPrefix: branchPrefix,
		git:          git.NewRunner(repoPath),
		newRunner:    func(path string) git.Runner { return git.NewRunner(path) },
	}
}

// NewManagerWithRunner creates a Manager with custom git runners (for testing).
// newRunner produces a runner rooted at an arbitrary worktree path.
func NewManagerWithRunner(repoPath, subdir, branchPrefix string, runner git.Runner, newRunner func(path string) git.Runner) *Manager {
	m := NewManager(repoPath, subdir, branchPrefix)
	m.git = runner
	if newRunner != nil {
		m.newRunner = newRunner
	}
	return m
}

// BranchName returns the branch owned by the session.
func (m *Manager) BranchName(sessionID string) string {
	return m.branchPrefix + "/" + sessionID
}

// WorktreePath returns the worktree directory owned by the session.
func (m *Manager) WorktreePath(sessionID string) string {
	return filepath.Join(m.repoPath, m.subdir, sessionID)
}

// RepoPath returns the path of the managed repository.
func (m *Manager) RepoPath() string {
	return m.repoPath
}

// Create makes a new branch from the current HEAD and attaches a worktree
// for the session. It fails with ErrWorktreeExists if the branch or the
// worktree directory already exists.
func (m *Manager) Create(sessionID string) (*Worktree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	branch := m.BranchName(sessionID)
	path := m.WorktreePath(sessionID)

	exists, err := m.git.BranchExists(branch)
	if err != nil {
		return nil, fmt.Errorf("check branch: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("branch %s: %w", branch, ErrWorktreeExists)
	}
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("path %s: %w", path, ErrWorktreeExists)
	}

	if err := m.git.CreateBranchAt(branch, "HEAD"); err != nil {
		return nil, fmt.Errorf("create branch: %w", err)
	}
	if err := m.git.WorktreeAdd(path, branch); err != nil {
		// Roll back the branch so a retry can start clean.
		_ = m.git.DeleteBranch(branch)
		return nil, fmt.Errorf("create worktree: %w", err)
	}

	return &Worktree{Path: path, Branch: branch, SessionID: sessionID}, nil
}

// List returns the session worktrees currently attached to the repository.
// Worktrees whose branch does not carry the session prefix (including the
// main checkout) are excluded.
func (m *Manager) List() ([]*Worktree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out, err := m.git.WorktreeListPorcelain()
	if err != nil {
		return nil, fmt.Errorf("list worktrees: %w", err)
	}
	return m.parsePorcelain(out)
}

// parsePorcelain parses 'git worktree list --porcelain' output.
func (m *Manager) parsePorcelain(out string) ([]*Worktree, error) {
	var worktrees []*Worktree
	var current *Worktree

	flush := func() {
		if current == nil {
			return
		}
		if strings.HasPrefix(current.Branch, m.branchPrefix+"/") {
			current.SessionID = strings.TrimPrefix(current.Branch, m.branchPrefix+"/")
			worktrees = append(worktrees, current)
		}
		current = nil
	}

	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "worktree "):
			flush()
			current = &Worktree{Path: strings.TrimPrefix(line, "worktree ")}
		case strings.HasPrefix(line, "HEAD ") && current != nil:
			current.Head = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch ") && current != nil:
			ref := strings.TrimPrefix(line, "branch ")
			current.Branch = strings.TrimPrefix(ref, "refs/heads/")
		}
	}
	flush()

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("parse worktree list: %w", err)
	}
	return worktrees, nil
}

// Diff returns the unified diff of the session's work against the merge
// base of HEAD and the session branch. Uncommitted changes in the worktree
// are included: untracked files are registered with an intent-to-add entry
// for the duration of the diff.
func (m *Manager) Diff(sessionID string) (*Diff, error) {
	base, wt, err := m.diffContext(sessionID)
	if err != nil {
		return nil, err
	}

	_, _ = wt.Run("add", "-N", ".")
	defer func() { _, _ = wt.Run("reset", "-q") }()

	patch, err := wt.Run("diff", base)
	if err != nil {
		return nil, fmt.Errorf("diff worktree: %w", err)
	}
	return &Diff{Patch: patch, BaseCommit: base}, nil
}

// Stat returns a diffstat summary and the set of changed paths for the
// session, including uncommitted changes.
func (m *Manager) Stat(sessionID string) (*Stat, error) {
	base, wt, err := m.diffContext(sessionID)
	if err != nil {
		return nil, err
	}

	_, _ = wt.Run("add", "-N", ".")
	defer func() { _, _ = wt.Run("reset", "-q") }()

	summary, err := wt.Run("diff", "--stat", base)
	if err != nil {
		return nil, fmt.Errorf("diffstat worktree: %w", err)
	}
	names, err := wt.Run("diff", "--name-only", base)
	if err != nil {
		return nil, fmt.Errorf("changed files: %w", err)
	}
	var files []string
	if names != "" {
		files = strings.Split(names, "\n")
	}
	return &Stat{Summary: summary, Files: files, BaseCommit: base}, nil
}

// FilesChanged returns the repository-relative paths the session changed,
// committed or not.
func (m *Manager) FilesChanged(sessionID string) ([]string, error) {
	st, err := m.Stat(sessionID)
	if err != nil {
		return nil, err
	}
	return st.Files, nil
}

// diffContext resolves the merge base and a runner rooted in the worktree.
func (m *Manager) diffContext(sessionID string) (string, git.Runner, error) {
	branch := m.BranchName(sessionID)
	base, err := m.git.MergeBase("HEAD", branch)
	if err != nil {
		return "", nil, fmt.Errorf("merge base: %w", err)
	}
	return base, m.newRunner(m.WorktreePath(sessionID)), nil
}

// Merge applies the session branch into the current checkout with --no-ff.
// On conflict the merge is left in place (markers intact) and the
// conflicted files are reported; the caller decides whether to resolve or
// abort.
func (m *Manager) Merge(sessionID, message string) (*MergeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	branch := m.BranchName(sessionID)
	if message == "" {
		message = fmt.Sprintf("Merge session %s", sessionID)
	}

	out, err := m.git.MergeNoFF(branch, message)
	if err == nil {
		return &MergeResult{Success: true, Output: out}, nil
	}

	conflicted, _ := m.git.ConflictedFiles()
	return &MergeResult{Success: false, Output: out, ConflictedFiles: conflicted}, nil
}

// AbortMerge restores the checkout after a conflicted merge.
func (m *Manager) AbortMerge() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.git.MergeAbort(); err != nil {
		return fmt.Errorf("abort merge: %w", err)
	}
	return nil
}

// HasConflicts reports whether the checkout has unresolved conflicts.
func (m *Manager) HasConflicts() (bool, error) {
	return m.git.HasConflicts()
}

// FinishMerge commits a resolved merge that was left uncommitted, using
// the prepared merge message. A clean checkout is a no-op.
func (m *Manager) FinishMerge() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dirty, err := m.git.HasChanges()
	if err != nil {
		return fmt.Errorf("repo status: %w", err)
	}
	if !dirty {
		return nil
	}
	if err := m.git.AddAll(); err != nil {
		return fmt.Errorf("stage resolution: %w", err)
	}
	if err := m.git.CommitNoEdit(); err != nil {
		return fmt.Errorf("commit resolution: %w", err)
	}
	return nil
}

// Remove force-removes the session worktree and deletes its branch.
// Idempotent: a missing worktree or branch is not an error.
func (m *Manager) Remove(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := m.WorktreePath(sessionID)
	if err := m.git.WorktreeRemoveForce(path); err != nil {
		// The worktree may already be gone; fall back to removing the
		// directory directly in case git lost track of it.
		_ = os.RemoveAll(path)
	}
	_ = m.git.DeleteBranch(m.BranchName(sessionID))
	_ = m.git.WorktreePrune()
	return nil
}

// AutoCommit stages and commits any uncommitted changes in the session
// worktree. Returns whether a commit was made.
func (m *Manager) AutoCommit(sessionID, message string) (bool, error) {
	wt := m.newRunner(m.WorktreePath(sessionID))

	dirty, err := wt.HasChanges()
	if err != nil {
		return false, fmt.Errorf("worktree status: %w", err)
	}
	if !dirty {
		return false, nil
	}
	if err := wt.AddAll(); err != nil {
		return false, fmt.Errorf("stage changes: %w", err)
	}
	if err := wt.Commit(message); err != nil {
		return false, fmt.Errorf("commit changes: %w", err)
	}
	return true, nil
}
