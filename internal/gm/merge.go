package gm

import (
	"fmt"
	"strings"
	"time"

	"github.com/ShayCichocki/maestro/internal/hub"
	"github.com/ShayCichocki/maestro/internal/state"
	"github.com/ShayCichocki/maestro/pkg/models"
)

// repairTimeout bounds a single repair-agent invocation.
const repairTimeout = 15 * time.Minute

// mergeAll merges the ordered session branches into the host checkout,
// one at a time. Conflicts go through the decision gate; everything
// else that fails is skipped, never fatal.
func (p *pipeline) mergeAll(order []*state.AgentSession) error {
	// merged_count spans the whole project; sessions merged before a
	// retry count too, so seed it from the store.
	sessions, err := p.m.store.ListAgentSessions(p.projectID)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	merged := 0
	for _, s := range sessions {
		if s.MergeResult.Merged() {
			merged++
		}
	}
	for i, s := range order {
		if p.cancelled() {
			return p.ctx.Err()
		}

		p.m.events.Publish(hub.ChannelGM, hub.MergeStarted{
			ProjectID: p.projectID,
			SessionID: s.SessionID,
			Index:     i,
		})
		current := s.SessionID
		p.m.store.UpdateGMProjectProgress(p.projectID, state.GMProgress{CurrentMerge: &current})

		result, err := p.mergeOne(s, i)
		if err != nil {
			return err
		}
		if result.Merged() {
			merged++
			p.m.store.UpdateGMProjectProgress(p.projectID, state.GMProgress{MergedCount: &merged})
		}
	}

	none := ""
	p.m.store.UpdateGMProjectProgress(p.projectID, state.GMProgress{CurrentMerge: &none})
	return nil
}

// mergeOne attempts one session merge and records its outcome. Only
// cancellation propagates as an error.
func (p *pipeline) mergeOne(s *state.AgentSession, index int) (state.MergeResult, error) {
	message := fmt.Sprintf("Merge %s (%s)", s.TeamName, s.SessionID)
	res, err := p.worktrees.Merge(s.SessionID, message)
	if err != nil {
		p.log("error", fmt.Sprintf("merge %s: %v", s.SessionID, err))
		return p.recordMerge(s, index, state.MergeFailed, true), nil
	}

	if res.Success {
		return p.recordMerge(s, index, state.MergeMerged, false), nil
	}

	if len(res.ConflictedFiles) == 0 {
		// Not a content conflict; restore the checkout and move on.
		p.worktrees.AbortMerge()
		p.log("error", fmt.Sprintf("merge %s failed: %s", s.SessionID, res.Output))
		return p.recordMerge(s, index, state.MergeFailed, true), nil
	}

	p.m.events.Publish(hub.ChannelGM, hub.MergeConflict{
		ProjectID:       p.projectID,
		SessionID:       s.SessionID,
		ConflictedFiles: res.ConflictedFiles,
		Error:           res.Output,
	})

	status, err := p.m.gate.Request(p.ctx, &state.Decision{
		DecisionID:     models.NewID(),
		ProjectID:      p.projectID,
		Kind:           state.DecisionMergeConflict,
		Description:    fmt.Sprintf("Merge conflict merging session %s (%s)", s.SessionID, s.TeamName),
		ProposedAction: "run a repair agent to resolve the conflicts and commit",
		Context:        strings.Join(res.ConflictedFiles, "\n"),
	})
	if err != nil {
		p.worktrees.AbortMerge()
		return "", err
	}

	if status == state.DecisionApproved {
		if err := p.resolveConflict(s, res.ConflictedFiles); err == nil {
			p.m.events.Publish(hub.ChannelGM, hub.ConflictResolved{
				ProjectID: p.projectID,
				SessionID: s.SessionID,
			})
			return p.recordMerge(s, index, state.MergeResolved, false), nil
		} else {
			p.log("error", fmt.Sprintf("conflict resolution for %s: %v", s.SessionID, err))
		}
	}

	p.worktrees.AbortMerge()
	return p.recordMerge(s, index, state.MergeSkipped, true), nil
}

// recordMerge persists the per-session outcome and publishes the
// terminal merge event.
func (p *pipeline) recordMerge(s *state.AgentSession, index int, result state.MergeResult, skipped bool) state.MergeResult {
	p.dbg.Log("project %s: merge %s -> %s (skipped=%v)", p.projectID, s.SessionID, result, skipped)
	p.m.store.UpdateAgentSessionMerge(s.SessionID, index, result)
	p.m.events.Publish(hub.ChannelGM, hub.MergeCompleted{
		ProjectID: p.projectID,
		SessionID: s.SessionID,
		Skipped:   skipped,
		Result:    string(result),
	})
	return result
}

// resolveConflict runs the repair agent on the host checkout, which
// still holds the conflict markers, then verifies the resolution and
// commits it if the agent left it staged.
func (p *pipeline) resolveConflict(s *state.AgentSession, files []string) error {
	prompt := conflictPrompt(s, files)
	if _, err := p.m.backend.RunOnce(p.ctx, p.req.RepoPath, prompt, repairTimeout); err != nil {
		return fmt.Errorf("repair agent: %w", err)
	}

	conflicted, err := p.worktrees.HasConflicts()
	if err != nil {
		return fmt.Errorf("verify resolution: %w", err)
	}
	if conflicted {
		return fmt.Errorf("conflicts remain after repair agent")
	}
	if err := p.worktrees.FinishMerge(); err != nil {
		return fmt.Errorf("commit resolution: %w", err)
	}
	return nil
}

func conflictPrompt(s *state.AgentSession, files []string) string {
	return fmt.Sprintf(
		"A git merge of branch %s stopped on conflicts. Resolve the conflict "+
			"markers in the following files, keeping the intent of both sides, "+
			"then stage and commit the merge:\n%s",
		s.Branch, strings.Join(files, "\n"))
}
