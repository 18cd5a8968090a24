// Package decision implements the approval gate: the pipeline registers
// a pending decision and blocks until an operator approves or rejects
// it. Resolution is atomic and idempotent; exactly one waiter is woken.
package decision

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ShayCichocki/maestro/internal/hub"
	"github.com/ShayCichocki/maestro/internal/state"
)

// Action is an operator's answer to a pending decision.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// pollInterval is how often a waiter re-reads the store, so decisions
// resolved by another process (the CLI writing directly to the database)
// are still observed.
const pollInterval = 5 * time.Second

// Gate registers pending decisions and blocks waiters on them.
type Gate struct {
	store  state.DecisionStore
	events *hub.Hub

	mu      sync.Mutex
	waiters map[string]chan state.DecisionStatus
}

// NewGate creates a decision gate backed by the given store and hub.
func NewGate(store state.DecisionStore, events *hub.Hub) *Gate {
	return &Gate{
		store:   store,
		events:  events,
		waiters: make(map[string]chan state.DecisionStatus),
	}
}

// Request persists a pending decision, publishes decision_required, and
// blocks until the decision resolves or ctx is cancelled. Returns the
// final status.
func (g *Gate) Request(ctx context.Context, d *state.Decision) (state.DecisionStatus, error) {
	d.Status = state.DecisionPending
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	if err := g.store.CreateDecision(d); err != nil {
		return "", fmt.Errorf("register decision: %w", err)
	}

	ch := make(chan state.DecisionStatus, 1)
	g.mu.Lock()
	g.waiters[d.DecisionID] = ch
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		delete(g.waiters, d.DecisionID)
		g.mu.Unlock()
	}()

	g.events.Publish(hub.ChannelGM, hub.DecisionRequired{
		ProjectID:      d.ProjectID,
		DecisionID:     d.DecisionID,
		DecisionType:   string(d.Kind),
		Description:    d.Description,
		ProposedAction: d.ProposedAction,
		Context:        d.Context,
	})

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case status := <-ch:
			return status, nil
		case <-ticker.C:
			stored, err := g.store.GetDecision(d.DecisionID)
			if err != nil {
				return "", fmt.Errorf("poll decision: %w", err)
			}
			if stored != nil && stored.Status != state.DecisionPending {
				return stored.Status, nil
			}
		}
	}
}

// Resolve answers a pending decision. The first resolve wins and wakes
// the waiter; later calls are no-ops and report resolved=false.
func (g *Gate) Resolve(decisionID string, action Action) (bool, error) {
	status := state.DecisionRejected
	if action == ActionApprove {
		status = state.DecisionApproved
	}

	resolved, err := g.store.ResolveDecision(decisionID, status, time.Now())
	if err != nil {
		return false, fmt.Errorf("resolve decision: %w", err)
	}
	if !resolved {
		return false, nil
	}

	g.mu.Lock()
	ch, ok := g.waiters[decisionID]
	if ok {
		delete(g.waiters, decisionID)
	}
	g.mu.Unlock()
	if ok {
		ch <- status
	}

	d, err := g.store.GetDecision(decisionID)
	if err == nil && d != nil {
		g.events.Publish(hub.ChannelGM, hub.DecisionResolved{
			ProjectID:  d.ProjectID,
			DecisionID: decisionID,
			Action:     string(action),
		})
	}
	return true, nil
}

// PendingFor lists pending decisions for a project. An empty projectID
// lists all pending decisions.
func (g *Gate) PendingFor(projectID string) ([]*state.Decision, error) {
	return g.store.ListPendingDecisions(projectID)
}

// RejectAllPending rejects every pending decision of a project. Used
// when a project is cancelled so no waiter hangs forever.
func (g *Gate) RejectAllPending(projectID string) error {
	pending, err := g.store.ListPendingDecisions(projectID)
	if err != nil {
		return fmt.Errorf("list pending decisions: %w", err)
	}
	for _, d := range pending {
		if _, err := g.Resolve(d.DecisionID, ActionReject); err != nil {
			return err
		}
	}
	return nil
}
