package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// SessionStatus represents the status of an agent session.
type SessionStatus string

const (
	SessionPending   SessionStatus = "pending"
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionCancelled SessionStatus = "cancelled"
)

// Terminal reports whether the status is a terminal one.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed || s == SessionCancelled
}

// MergeResult represents the merge outcome recorded for a session.
type MergeResult string

const (
	MergeUnset    MergeResult = ""
	MergeMerged   MergeResult = "merged"
	MergeResolved MergeResult = "merged_resolved"
	MergeSkipped  MergeResult = "skipped"
	MergeFailed   MergeResult = "failed"
)

// Merged reports whether the result landed on the mainline.
func (r MergeResult) Merged() bool {
	return r == MergeMerged || r == MergeResolved
}

// AgentSession represents one teammate running on one isolated branch.
type AgentSession struct {
	SessionID       string        `json:"session_id"`
	ProjectID       string        `json:"project_id"`
	TeamName        string        `json:"team_name"`
	Task            string        `json:"task"`
	Branch          string        `json:"branch"`
	WorktreePath    string        `json:"worktree_path"`
	Status          SessionStatus `json:"status"`
	FilesChanged    []string      `json:"files_changed"`
	MergeResult     MergeResult   `json:"merge_result"`
	MergeOrderIndex int           `json:"merge_order_index"`
	ResultFile      string        `json:"result_file"`
	StartedAt       time.Time     `json:"started_at"`
	CompletedAt     *time.Time    `json:"completed_at"`
}

// CreateAgentSession inserts a new agent session row.
func (db *DB) CreateAgentSession(s *AgentSession) error {
	files, err := json.Marshal(s.FilesChanged)
	if err != nil {
		return fmt.Errorf("marshal files_changed: %w", err)
	}
	_, err = db.Exec(`
		INSERT INTO agent_sessions
			(session_id, project_id, team_name, task, branch, worktree_path,
			 status, files_changed, merge_result, merge_order_index, result_file, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.SessionID, s.ProjectID, s.TeamName, s.Task, s.Branch, s.WorktreePath,
		string(s.Status), string(files), string(s.MergeResult), s.MergeOrderIndex,
		s.ResultFile, formatTime(s.StartedAt))
	if err != nil {
		return fmt.Errorf("create agent session: %w", err)
	}
	return nil
}

// GetAgentSession retrieves a session by ID. Returns nil when not found.
func (db *DB) GetAgentSession(sessionID string) (*AgentSession, error) {
	row := db.QueryRow(`
		SELECT session_id, project_id, team_name, task, branch, worktree_path,
		       status, files_changed, merge_result, merge_order_index, result_file,
		       started_at, completed_at
		FROM agent_sessions WHERE session_id = ?
	`, sessionID)

	s, err := scanAgentSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agent session: %w", err)
	}
	return s, nil
}

// ListAgentSessions returns the sessions belonging to a project ordered by
// started_at ascending.
func (db *DB) ListAgentSessions(projectID string) ([]*AgentSession, error) {
	rows, err := db.Query(`
		SELECT session_id, project_id, team_name, task, branch, worktree_path,
		       status, files_changed, merge_result, merge_order_index, result_file,
		       started_at, completed_at
		FROM agent_sessions WHERE project_id = ? ORDER BY started_at, session_id
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list agent sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*AgentSession
	for rows.Next() {
		s, err := scanAgentSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// UpdateAgentSessionStatus sets the status and, for terminal transitions,
// the completion time.
func (db *DB) UpdateAgentSessionStatus(sessionID string, status SessionStatus, completedAt *time.Time) error {
	var err error
	if completedAt != nil {
		_, err = db.Exec(`
			UPDATE agent_sessions SET status = ?, completed_at = ? WHERE session_id = ?
		`, string(status), formatTime(*completedAt), sessionID)
	} else {
		_, err = db.Exec(`
			UPDATE agent_sessions SET status = ? WHERE session_id = ?
		`, string(status), sessionID)
	}
	if err != nil {
		return fmt.Errorf("update agent session status: %w", err)
	}
	return nil
}

// UpdateAgentSessionFiles records the finalised set of changed files.
func (db *DB) UpdateAgentSessionFiles(sessionID string, files []string) error {
	data, err := json.Marshal(files)
	if err != nil {
		return fmt.Errorf("marshal files_changed: %w", err)
	}
	_, err = db.Exec(`
		UPDATE agent_sessions SET files_changed = ? WHERE session_id = ?
	`, string(data), sessionID)
	if err != nil {
		return fmt.Errorf("update agent session files: %w", err)
	}
	return nil
}

// UpdateAgentSessionMerge records the merge outcome for a session.
func (db *DB) UpdateAgentSessionMerge(sessionID string, index int, result MergeResult) error {
	_, err := db.Exec(`
		UPDATE agent_sessions SET merge_order_index = ?, merge_result = ? WHERE session_id = ?
	`, index, string(result), sessionID)
	if err != nil {
		return fmt.Errorf("update agent session merge: %w", err)
	}
	return nil
}

// UpdateAgentSessionResultFile records the result artifact filename.
func (db *DB) UpdateAgentSessionResultFile(sessionID, filename string) error {
	_, err := db.Exec(`
		UPDATE agent_sessions SET result_file = ? WHERE session_id = ?
	`, filename, sessionID)
	if err != nil {
		return fmt.Errorf("update agent session result file: %w", err)
	}
	return nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scanning.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgentSession(row rowScanner) (*AgentSession, error) {
	var s AgentSession
	var status, mergeResult string
	var files, task, branch, wtPath, resultFile sql.NullString
	var index sql.NullInt64
	var startedAt string
	var completedAt sql.NullString

	err := row.Scan(&s.SessionID, &s.ProjectID, &s.TeamName, &task, &branch, &wtPath,
		&status, &files, &mergeResult, &index, &resultFile, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	s.Task = task.String
	s.Branch = branch.String
	s.WorktreePath = wtPath.String
	s.ResultFile = resultFile.String
	s.Status = SessionStatus(status)
	s.MergeResult = MergeResult(mergeResult)
	s.MergeOrderIndex = int(index.Int64)
	if files.Valid && files.String != "" {
		if err := json.Unmarshal([]byte(files.String), &s.FilesChanged); err != nil {
			return nil, fmt.Errorf("unmarshal files_changed: %w", err)
		}
	}
	s.StartedAt, _ = parseTime(startedAt)
	s.CompletedAt = parseNullableTime(completedAt)
	return &s, nil
}
