// Package git provides an interface for git operations.
package git

// BranchOperations defines the interface for git branch operations.
type BranchOperations interface {
	// CurrentBranch returns the name of the current branch.
	CurrentBranch() (string, error)
	// CreateBranchAt creates a new branch pointing at the given ref.
	CreateBranchAt(name, ref string) error
	// BranchExists returns true if the branch exists.
	BranchExists(name string) (bool, error)
	// DeleteBranch force-deletes the specified branch.
	DeleteBranch(name string) error
}

// DiffOperations defines the interface for git diff and status operations.
type DiffOperations interface {
	// Status returns the output of git status --porcelain.
	Status() (string, error)
	// HasChanges returns true if there are uncommitted changes.
	HasChanges() (bool, error)
	// DiffBetween returns the diff between two refs.
	DiffBetween(ref1, ref2 string) (string, error)
	// DiffStatBetween returns the --stat summary between two refs.
	DiffStatBetween(ref1, ref2 string) (string, error)
	// ChangedFilesBetween returns files changed between two refs.
	ChangedFilesBetween(ref1, ref2 string) ([]string, error)
	// ConflictedFiles returns a list of files with unmerged changes.
	ConflictedFiles() ([]string, error)
}

// CommitOperations defines the interface for git staging and commit operations.
type CommitOperations interface {
	// AddAll stages every change in the working tree.
	AddAll() error
	// Commit creates a new commit with the given message.
	Commit(message string) error
	// CommitNoEdit concludes an in-progress merge with the default message.
	CommitNoEdit() error
}

// MergeOperations defines the interface for git merge operations.
type MergeOperations interface {
	// MergeNoFF merges the branch with --no-ff and the given commit message.
	// The combined git output is returned even when the merge fails so the
	// caller can inspect conflict details.
	MergeNoFF(branch, message string) (string, error)
	// MergeAbort aborts an in-progress merge.
	MergeAbort() error
	// MergeBase returns the common ancestor of two refs.
	MergeBase(ref1, ref2 string) (string, error)
	// HasConflicts returns true if there are merge conflicts.
	HasConflicts() (bool, error)
}

// WorktreeOperations defines the interface for git worktree operations.
type WorktreeOperations interface {
	// WorktreeAdd creates a new worktree at the given path for the branch.
	WorktreeAdd(path, branch string) error
	// WorktreeRemoveForce removes the worktree at the given path, discarding
	// any uncommitted changes.
	WorktreeRemoveForce(path string) error
	// WorktreeListPorcelain returns the raw porcelain output for parsing.
	WorktreeListPorcelain() (string, error)
	// WorktreePrune removes stale worktree entries.
	WorktreePrune() error
}

// Runner defines the complete interface for git operations.
// Consumers should prefer the focused interfaces when possible.
type Runner interface {
	BranchOperations
	DiffOperations
	CommitOperations
	MergeOperations
	WorktreeOperations
	// Run executes an arbitrary git command with the given arguments.
	Run(args ...string) (string, error)
}
