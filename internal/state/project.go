package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Phase represents a GM project's pipeline phase.
type Phase string

const (
	PhaseLaunching Phase = "launching"
	PhaseWaiting   Phase = "waiting"
	PhaseAnalyzing Phase = "analyzing"
	PhaseMerging   Phase = "merging"
	PhaseBuilding  Phase = "building"
	PhaseTesting   Phase = "testing"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
)

// Terminal reports whether the phase is a terminal one.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// GMProject represents one pipeline instance.
type GMProject struct {
	ProjectID      string     `json:"project_id"`
	Name           string     `json:"name"`
	RepoPath       string     `json:"repo_path"`
	BuildCommand   string     `json:"build_command"`
	TestCommand    string     `json:"test_command"`
	Phase          Phase      `json:"phase"`
	AgentCount     int        `json:"agent_count"`
	CompletedCount int        `json:"completed_count"`
	FailedCount    int        `json:"failed_count"`
	MergedCount    int        `json:"merged_count"`
	MergeOrder     []string   `json:"merge_order"`
	CurrentMerge   string     `json:"current_merge"`
	BuildAttempts  int        `json:"build_attempts"`
	TestAttempts   int        `json:"test_attempts"`
	ErrorMessage   string     `json:"error_message"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at"`
}

// CreateGMProject inserts a new project row.
func (db *DB) CreateGMProject(p *GMProject) error {
	order, err := json.Marshal(p.MergeOrder)
	if err != nil {
		return fmt.Errorf("marshal merge_order: %w", err)
	}
	_, err = db.Exec(`
		INSERT INTO gm_projects
			(project_id, name, repo_path, build_command, test_command, phase,
			 agent_count, merged_count, merge_order, build_attempts, test_attempts, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ProjectID, p.Name, p.RepoPath, p.BuildCommand, p.TestCommand, string(p.Phase),
		p.AgentCount, p.MergedCount, string(order), p.BuildAttempts, p.TestAttempts,
		formatTime(p.StartedAt))
	if err != nil {
		return fmt.Errorf("create gm project: %w", err)
	}
	return nil
}

// GetGMProject retrieves a project by ID. Returns nil when not found.
func (db *DB) GetGMProject(projectID string) (*GMProject, error) {
	row := db.QueryRow(gmProjectSelect+` WHERE project_id = ?`, projectID)
	p, err := scanGMProject(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get gm project: %w", err)
	}
	return p, nil
}

// ListGMProjects returns projects ordered by started_at descending.
func (db *DB) ListGMProjects(limit, offset int) ([]*GMProject, error) {
	rows, err := db.Query(gmProjectSelect+`
		ORDER BY started_at DESC LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list gm projects: %w", err)
	}
	defer rows.Close()

	var projects []*GMProject
	for rows.Next() {
		p, err := scanGMProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan gm project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// ListUnfinishedGMProjects returns projects still in a non-terminal phase.
// Used on startup to mark interrupted work.
func (db *DB) ListUnfinishedGMProjects() ([]*GMProject, error) {
	rows, err := db.Query(gmProjectSelect + ` WHERE phase NOT IN ('completed', 'failed')`)
	if err != nil {
		return nil, fmt.Errorf("list unfinished gm projects: %w", err)
	}
	defer rows.Close()

	var projects []*GMProject
	for rows.Next() {
		p, err := scanGMProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan gm project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// UpdateGMProjectPhase transitions the project phase. error_message and
// completed_at are written for terminal phases.
func (db *DB) UpdateGMProjectPhase(projectID string, phase Phase, errorMessage string, completedAt *time.Time) error {
	var err error
	if completedAt != nil {
		_, err = db.Exec(`
			UPDATE gm_projects SET phase = ?, error_message = ?, completed_at = ? WHERE project_id = ?
		`, string(phase), errorMessage, formatTime(*completedAt), projectID)
	} else {
		_, err = db.Exec(`
			UPDATE gm_projects SET phase = ?, error_message = ? WHERE project_id = ?
		`, string(phase), errorMessage, projectID)
	}
	if err != nil {
		return fmt.Errorf("update gm project phase: %w", err)
	}
	return nil
}

// GMProgress carries partial progress updates for a project. Nil fields
// are left untouched.
type GMProgress struct {
	CompletedCount *int
	FailedCount    *int
	MergedCount    *int
	MergeOrder     []string
	CurrentMerge   *string
	BuildAttempts  *int
	TestAttempts   *int
}

// UpdateGMProjectProgress applies a partial progress update.
func (db *DB) UpdateGMProjectProgress(projectID string, progress GMProgress) error {
	sets := []string{}
	args := []any{}
	appendSet := func(col string, val any) {
		sets = append(sets, col+" = ?")
		args = append(args, val)
	}

	if progress.CompletedCount != nil {
		appendSet("completed_count", *progress.CompletedCount)
	}
	if progress.FailedCount != nil {
		appendSet("failed_count", *progress.FailedCount)
	}
	if progress.MergedCount != nil {
		appendSet("merged_count", *progress.MergedCount)
	}
	if progress.MergeOrder != nil {
		data, err := json.Marshal(progress.MergeOrder)
		if err != nil {
			return fmt.Errorf("marshal merge_order: %w", err)
		}
		appendSet("merge_order", string(data))
	}
	if progress.CurrentMerge != nil {
		appendSet("current_merge", *progress.CurrentMerge)
	}
	if progress.BuildAttempts != nil {
		appendSet("build_attempts", *progress.BuildAttempts)
	}
	if progress.TestAttempts != nil {
		appendSet("test_attempts", *progress.TestAttempts)
	}
	if len(sets) == 0 {
		return nil
	}

	query := "UPDATE gm_projects SET "
	for i, s := range sets {
		if i > 0 {
			query += ", "
		}
		query += s
	}
	query += " WHERE project_id = ?"
	args = append(args, projectID)

	if _, err := db.Exec(query, args...); err != nil {
		return fmt.Errorf("update gm project progress: %w", err)
	}
	return nil
}

const gmProjectSelect = `
	SELECT project_id, name, repo_path, build_command, test_command, phase,
	       agent_count, completed_count, failed_count, merged_count, merge_order,
	       current_merge, build_attempts, test_attempts, error_message,
	       started_at, completed_at
	FROM gm_projects`

func scanGMProject(row rowScanner) (*GMProject, error) {
	var p GMProject
	var phase string
	var buildCmd, testCmd, order, current, errMsg sql.NullString
	var startedAt string
	var completedAt sql.NullString

	err := row.Scan(&p.ProjectID, &p.Name, &p.RepoPath, &buildCmd, &testCmd, &phase,
		&p.AgentCount, &p.CompletedCount, &p.FailedCount, &p.MergedCount, &order,
		&current, &p.BuildAttempts, &p.TestAttempts, &errMsg, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	p.BuildCommand = buildCmd.String
	p.TestCommand = testCmd.String
	p.Phase = Phase(phase)
	p.CurrentMerge = current.String
	p.ErrorMessage = errMsg.String
	if order.Valid && order.String != "" {
		if err := json.Unmarshal([]byte(order.String), &p.MergeOrder); err != nil {
			return nil, fmt.Errorf("unmarshal merge_order: %w", err)
		}
	}
	p.StartedAt, _ = parseTime(startedAt)
	p.CompletedAt = parseNullableTime(completedAt)
	return &p, nil
}
