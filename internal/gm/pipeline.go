package gm

import (
	"context"
	"fmt"
	"time"

	"github.com/ShayCichocki/maestro/internal/hub"
	"github.com/ShayCichocki/maestro/internal/launcher"
	"github.com/ShayCichocki/maestro/internal/state"
	"github.com/ShayCichocki/maestro/internal/worktree"
	"github.com/ShayCichocki/maestro/pkg/models"
)

// pollInterval is the store re-read cadence while waiting on sessions.
const pollInterval = 5 * time.Second

// pipeline drives one project through the phase graph. A single
// goroutine owns all pipeline state; other goroutines only cancel.
type pipeline struct {
	m         *Manager
	projectID string
	req       *models.LaunchRequest
	worktrees worktree.Provider
	launcher  launcher.Launcher
	retry     bool

	sessions []string
	dbg      *DebugLogger

	ctx       context.Context
	ctxCancel context.CancelFunc
	done      chan struct{}
}

// cancel aborts the pipeline. Sessions and pending decisions are torn
// down by the run loop when it observes the cancellation.
func (p *pipeline) cancel() {
	p.ctxCancel()
}

func (p *pipeline) cancelled() bool {
	return p.ctx.Err() != nil
}

func (p *pipeline) run() {
	defer close(p.done)
	defer p.m.removePipeline(p.projectID)
	defer p.ctxCancel()
	defer p.dbg.Close()

	p.dbg.Log("project %s: pipeline started (retry=%v)", p.projectID, p.retry)
	if err := p.runPhases(); err != nil {
		reason := "cancelled"
		if !p.cancelled() {
			reason = err.Error()
		}
		p.fail(reason)
		return
	}
	p.complete()
}

func (p *pipeline) runPhases() error {
	if !p.retry {
		if err := p.launchAgents(); err != nil {
			return err
		}

		if err := p.setPhase(state.PhaseWaiting); err != nil {
			return err
		}
		if err := p.waitForSessions(); err != nil {
			return err
		}

		if err := p.setPhase(state.PhaseAnalyzing); err != nil {
			return err
		}
	}

	order, err := p.analyze()
	if err != nil {
		return err
	}

	// One project at a time may mutate the host checkout.
	release, err := p.m.locks.Acquire(p.ctx, p.req.RepoPath)
	if err != nil {
		return err
	}
	defer release()

	if err := p.setPhase(state.PhaseMerging); err != nil {
		return err
	}
	if err := p.mergeAll(order); err != nil {
		return err
	}

	if p.req.BuildCommand != "" {
		if err := p.setPhase(state.PhaseBuilding); err != nil {
			return err
		}
		if err := p.runCommandPhase(phaseBuild); err != nil {
			return err
		}
	}
	if p.req.TestCommand != "" {
		if err := p.setPhase(state.PhaseTesting); err != nil {
			return err
		}
		if err := p.runCommandPhase(phaseTest); err != nil {
			return err
		}
	}
	return nil
}

// launchAgents starts every configured agent. A failed launch is
// logged and the agent excluded; the pipeline proceeds with whatever
// launched.
func (p *pipeline) launchAgents() error {
	for _, a := range p.req.Agents {
		if p.cancelled() {
			return p.ctx.Err()
		}
		sid, err := p.launcher.Launch(p.ctx, p.projectID, a.Team, a.Task)
		if err != nil {
			p.log("error", fmt.Sprintf("launch team %s: %v", a.Team, err))
			continue
		}
		p.sessions = append(p.sessions, sid)
		p.m.events.Publish(hub.ChannelGM, hub.AgentLaunched{
			ProjectID: p.projectID,
			SessionID: sid,
			TeamName:  a.Team,
		})
	}
	return nil
}

// waitForSessions blocks until every tracked session is terminal,
// publishing agent_completed per session and keeping the project's
// completion counters current. Wakeups come from the teams channel
// with a store poll as backstop.
func (p *pipeline) waitForSessions() error {
	if len(p.sessions) == 0 {
		return nil
	}

	tracked := make(map[string]bool, len(p.sessions))
	for _, sid := range p.sessions {
		tracked[sid] = true
	}
	terminal := make(map[string]bool)

	sub := p.m.events.Subscribe(hub.ChannelTeams)
	defer p.m.events.Unsubscribe(sub)

	sweep := func() (bool, error) {
		sessions, err := p.m.store.ListAgentSessions(p.projectID)
		if err != nil {
			return false, fmt.Errorf("list sessions: %w", err)
		}
		completed, failed := 0, 0
		for _, s := range sessions {
			if !tracked[s.SessionID] || !s.Status.Terminal() {
				continue
			}
			if s.Status == state.SessionCompleted {
				completed++
			} else {
				failed++
			}
			if !terminal[s.SessionID] {
				terminal[s.SessionID] = true
				p.m.events.Publish(hub.ChannelGM, hub.AgentCompleted{
					ProjectID: p.projectID,
					SessionID: s.SessionID,
					Status:    string(s.Status),
				})
			}
		}
		p.m.store.UpdateGMProjectProgress(p.projectID, state.GMProgress{
			CompletedCount: &completed,
			FailedCount:    &failed,
		})
		return len(terminal) == len(p.sessions), nil
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	events := sub.Events()
	for {
		if done, err := sweep(); err != nil || done {
			return err
		}
		select {
		case <-p.ctx.Done():
			return p.ctx.Err()
		case ev, ok := <-events:
			if !ok {
				// Evicted by the heartbeat; fall back to polling.
				events = nil
				continue
			}
			switch e := ev.(type) {
			case hub.Ping:
				sub.Pong()
			case hub.TeamProgress:
				if !tracked[e.SessionID] {
					continue
				}
				// Terminal events trigger an immediate sweep.
			}
		case <-ticker.C:
		}
	}
}

// analyze computes and persists the merge order. On retry the stored
// order is reused, filtered to sessions that have not merged yet.
func (p *pipeline) analyze() ([]*state.AgentSession, error) {
	sessions, err := p.m.store.ListAgentSessions(p.projectID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	if p.retry {
		var remaining []*state.AgentSession
		for _, s := range sessions {
			if s.Status == state.SessionCompleted && !s.MergeResult.Merged() {
				remaining = append(remaining, s)
			}
		}
		return ComputeMergeOrder(remaining), nil
	}

	var successful []*state.AgentSession
	for _, s := range sessions {
		if s.Status == state.SessionCompleted {
			successful = append(successful, s)
		}
	}

	order := ComputeMergeOrder(successful)
	ids := make([]string, len(order))
	for i, s := range order {
		ids[i] = s.SessionID
	}
	err = p.m.store.UpdateGMProjectProgress(p.projectID, state.GMProgress{MergeOrder: ids})
	if err != nil {
		return nil, fmt.Errorf("persist merge order: %w", err)
	}
	p.m.events.Publish(hub.ChannelGM, hub.MergeOrderDetermined{
		ProjectID:  p.projectID,
		MergeOrder: ids,
	})
	return order, nil
}

// setPhase makes the transition durable, then publishes it. Observers
// never see a phase the store does not already hold.
func (p *pipeline) setPhase(phase state.Phase) error {
	if err := p.m.store.UpdateGMProjectPhase(p.projectID, phase, "", nil); err != nil {
		return fmt.Errorf("persist phase %s: %w", phase, err)
	}
	p.dbg.Log("project %s: phase -> %s", p.projectID, phase)
	p.m.events.Publish(hub.ChannelGM, hub.PhaseChange{
		ProjectID: p.projectID,
		Phase:     string(phase),
	})
	return nil
}

func (p *pipeline) complete() {
	p.dbg.Log("project %s: completed", p.projectID)
	now := time.Now()
	p.m.store.UpdateGMProjectPhase(p.projectID, state.PhaseCompleted, "", &now)
	p.m.events.Publish(hub.ChannelGM, hub.PhaseChange{
		ProjectID: p.projectID,
		Phase:     string(state.PhaseCompleted),
	})
	p.m.events.Publish(hub.ChannelGM, hub.ProjectCompleted{ProjectID: p.projectID})
	p.log("info", "project completed")
}

// fail tears the project down: cancels its sessions, rejects pending
// decisions, and records the terminal phase.
func (p *pipeline) fail(reason string) {
	p.dbg.Log("project %s: failed: %s", p.projectID, reason)
	p.launcher.CancelAll()
	if err := p.m.gate.RejectAllPending(p.projectID); err != nil {
		p.log("error", fmt.Sprintf("reject pending decisions: %v", err))
	}

	now := time.Now()
	p.m.store.UpdateGMProjectPhase(p.projectID, state.PhaseFailed, reason, &now)
	p.m.events.Publish(hub.ChannelGM, hub.PhaseChange{
		ProjectID: p.projectID,
		Phase:     string(state.PhaseFailed),
	})
	p.m.events.Publish(hub.ChannelGM, hub.ProjectFailed{
		ProjectID: p.projectID,
		Reason:    reason,
	})
	p.log("error", "project failed: "+reason)
}

// log writes to the durable log table and mirrors onto the logs channel.
func (p *pipeline) log(level, message string) {
	p.m.store.AppendLog(level, message, "gm:"+p.projectID)
	p.m.events.Publish(hub.ChannelLogs, hub.LogLine{
		Level:   level,
		Message: message,
		Source:  "gm:" + p.projectID,
	})
}
