package state

import (
	"fmt"
	"time"
)

// InterruptedProject describes a project found in a non-terminal phase
// on startup.
type InterruptedProject struct {
	ProjectID string
	Name      string
	Phase     Phase
	Sessions  int
}

// CheckInterrupted returns the projects left in a non-terminal phase by a
// previous run. Pipelines do not survive process restarts, so any such
// project was interrupted.
func (db *DB) CheckInterrupted() ([]*InterruptedProject, error) {
	projects, err := db.ListUnfinishedGMProjects()
	if err != nil {
		return nil, fmt.Errorf("check interrupted: %w", err)
	}

	var interrupted []*InterruptedProject
	for _, p := range projects {
		sessions, err := db.ListAgentSessions(p.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("check interrupted: %w", err)
		}
		interrupted = append(interrupted, &InterruptedProject{
			ProjectID: p.ProjectID,
			Name:      p.Name,
			Phase:     p.Phase,
			Sessions:  len(sessions),
		})
	}
	return interrupted, nil
}

// CancelProject moves one non-terminal project to failed with error
// "cancelled", cancelling its sessions and rejecting its pending
// decisions. Used by the CLI for projects whose pipeline process is
// gone; a live pipeline is cancelled through its own manager instead.
func (db *DB) CancelProject(projectID string) error {
	p, err := db.GetGMProject(projectID)
	if err != nil {
		return fmt.Errorf("cancel project: %w", err)
	}
	if p == nil {
		return fmt.Errorf("project %s not found", projectID)
	}
	if p.Phase.Terminal() {
		return fmt.Errorf("project %s is already %s", projectID, p.Phase)
	}

	now := time.Now()
	sessions, err := db.ListAgentSessions(projectID)
	if err != nil {
		return fmt.Errorf("cancel project: %w", err)
	}
	for _, s := range sessions {
		if s.Status.Terminal() {
			continue
		}
		if err := db.UpdateAgentSessionStatus(s.SessionID, SessionCancelled, &now); err != nil {
			return fmt.Errorf("cancel session %s: %w", s.SessionID, err)
		}
	}

	pending, err := db.ListPendingDecisions(projectID)
	if err != nil {
		return fmt.Errorf("cancel project: %w", err)
	}
	for _, d := range pending {
		if _, err := db.ResolveDecision(d.DecisionID, DecisionRejected, now); err != nil {
			return fmt.Errorf("reject decision %s: %w", d.DecisionID, err)
		}
	}

	return db.UpdateGMProjectPhase(projectID, PhaseFailed, "cancelled", &now)
}

// MarkInterrupted moves every non-terminal project to failed with an
// "interrupted" error, cancels its non-terminal sessions, and rejects
// its pending decisions. Called once on startup before new work begins.
func (db *DB) MarkInterrupted() error {
	projects, err := db.ListUnfinishedGMProjects()
	if err != nil {
		return fmt.Errorf("mark interrupted: %w", err)
	}

	now := time.Now()
	for _, p := range projects {
		sessions, err := db.ListAgentSessions(p.ProjectID)
		if err != nil {
			return fmt.Errorf("mark interrupted: %w", err)
		}
		for _, s := range sessions {
			if s.Status.Terminal() {
				continue
			}
			if err := db.UpdateAgentSessionStatus(s.SessionID, SessionCancelled, &now); err != nil {
				return fmt.Errorf("cancel session %s: %w", s.SessionID, err)
			}
		}

		pending, err := db.ListPendingDecisions(p.ProjectID)
		if err != nil {
			return fmt.Errorf("mark interrupted: %w", err)
		}
		for _, d := range pending {
			if _, err := db.ResolveDecision(d.DecisionID, DecisionRejected, now); err != nil {
				return fmt.Errorf("reject decision %s: %w", d.DecisionID, err)
			}
		}

		if err := db.UpdateGMProjectPhase(p.ProjectID, PhaseFailed, "interrupted", &now); err != nil {
			return fmt.Errorf("fail project %s: %w", p.ProjectID, err)
		}
	}
	return nil
}
