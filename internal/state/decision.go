package state

import (
	"database/sql"
	"fmt"
	"time"
)

// DecisionStatus represents the lifecycle state of a decision.
type DecisionStatus string

const (
	DecisionPending  DecisionStatus = "pending"
	DecisionApproved DecisionStatus = "approved"
	DecisionRejected DecisionStatus = "rejected"
)

// DecisionKind classifies what the pipeline is asking about.
type DecisionKind string

const (
	DecisionMergeConflict DecisionKind = "merge_conflict"
	DecisionBuildFailure  DecisionKind = "build_failure"
	DecisionTestFailure   DecisionKind = "test_failure"
)

// Decision is a blocking question raised by a pipeline and answered by
// an operator.
type Decision struct {
	DecisionID     string         `json:"decision_id"`
	ProjectID      string         `json:"project_id"`
	Kind           DecisionKind   `json:"kind"`
	Description    string         `json:"description"`
	ProposedAction string         `json:"proposed_action"`
	Context        string         `json:"context"`
	Status         DecisionStatus `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
	ResolvedAt     *time.Time     `json:"resolved_at"`
}

// CreateDecision inserts a new pending decision row.
func (db *DB) CreateDecision(d *Decision) error {
	_, err := db.Exec(`
		INSERT INTO gm_decisions
			(decision_id, project_id, kind, description, proposed_action, context, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, d.DecisionID, d.ProjectID, string(d.Kind), d.Description, d.ProposedAction,
		d.Context, string(d.Status), formatTime(d.CreatedAt))
	if err != nil {
		return fmt.Errorf("create decision: %w", err)
	}
	return nil
}

// GetDecision retrieves a decision by ID. Returns nil when not found.
func (db *DB) GetDecision(decisionID string) (*Decision, error) {
	row := db.QueryRow(decisionSelect+` WHERE decision_id = ?`, decisionID)
	d, err := scanDecision(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get decision: %w", err)
	}
	return d, nil
}

// ListPendingDecisions returns pending decisions, oldest first. An empty
// projectID lists pending decisions across all projects.
func (db *DB) ListPendingDecisions(projectID string) ([]*Decision, error) {
	query := decisionSelect + ` WHERE status = 'pending'`
	args := []any{}
	if projectID != "" {
		query += ` AND project_id = ?`
		args = append(args, projectID)
	}
	query += ` ORDER BY created_at, decision_id`

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pending decisions: %w", err)
	}
	defer rows.Close()

	var decisions []*Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}

// ResolveDecision atomically transitions a decision from pending to the
// given status. Returns false when the decision was already resolved or
// does not exist, so a second resolve is a no-op.
func (db *DB) ResolveDecision(decisionID string, status DecisionStatus, resolvedAt time.Time) (bool, error) {
	res, err := db.Exec(`
		UPDATE gm_decisions SET status = ?, resolved_at = ?
		WHERE decision_id = ? AND status = 'pending'
	`, string(status), formatTime(resolvedAt), decisionID)
	if err != nil {
		return false, fmt.Errorf("resolve decision: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("resolve decision: %w", err)
	}
	return n == 1, nil
}

const decisionSelect = `
	SELECT decision_id, project_id, kind, description, proposed_action, context,
	       status, created_at, resolved_at
	FROM gm_decisions`

func scanDecision(row rowScanner) (*Decision, error) {
	var d Decision
	var kind, status string
	var desc, action, ctx sql.NullString
	var createdAt string
	var resolvedAt sql.NullString

	err := row.Scan(&d.DecisionID, &d.ProjectID, &kind, &desc, &action, &ctx,
		&status, &createdAt, &resolvedAt)
	if err != nil {
		return nil, err
	}

	d.Kind = DecisionKind(kind)
	d.Status = DecisionStatus(status)
	d.Description = desc.String
	d.ProposedAction = action.String
	d.Context = ctx.String
	d.CreatedAt, _ = parseTime(createdAt)
	d.ResolvedAt = parseNullableTime(resolvedAt)
	return &d, nil
}
