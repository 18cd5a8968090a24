package gm

import (
	"context"
	"sync"
)

// repoLocks serialises the merge/build/test phases per repository path.
// Two projects may run their agents concurrently against the same repo,
// but only one of them may mutate the host checkout at a time.
type repoLocks struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func newRepoLocks() *repoLocks {
	return &repoLocks{locks: make(map[string]chan struct{})}
}

// Acquire blocks until the repo lock is free or ctx is cancelled. The
// returned release function must be called exactly once.
func (r *repoLocks) Acquire(ctx context.Context, repoPath string) (func(), error) {
	r.mu.Lock()
	sem, ok := r.locks[repoPath]
	if !ok {
		sem = make(chan struct{}, 1)
		r.locks[repoPath] = sem
	}
	r.mu.Unlock()

	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
