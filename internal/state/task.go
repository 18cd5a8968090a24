package state

import (
	"database/sql"
	"fmt"
	"time"
)

// TaskStatus represents the status of a teammate task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// TeammateTask represents one unit of work inside a session. Tasks are
// owned by exactly one session and cascade-deleted with it.
type TeammateTask struct {
	ID          int64      `json:"id"`
	SessionID   string     `json:"session_id"`
	Teammate    string     `json:"teammate"`
	Role        string     `json:"role"`
	Status      TaskStatus `json:"status"`
	Output      string     `json:"output"`
	Error       string     `json:"error"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

// CreateTeammateTask inserts a new teammate task row and fills in its ID.
func (db *DB) CreateTeammateTask(t *TeammateTask) error {
	var startedAt, completedAt any
	if t.StartedAt != nil {
		startedAt = formatTime(*t.StartedAt)
	}
	if t.CompletedAt != nil {
		completedAt = formatTime(*t.CompletedAt)
	}
	res, err := db.Exec(`
		INSERT INTO teammate_tasks
			(session_id, teammate, role, status, output, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, t.SessionID, t.Teammate, t.Role, string(t.Status), t.Output, t.Error, startedAt, completedAt)
	if err != nil {
		return fmt.Errorf("create teammate task: %w", err)
	}
	t.ID, _ = res.LastInsertId()
	return nil
}

// ListTeammateTasks returns a session's tasks in insertion order.
func (db *DB) ListTeammateTasks(sessionID string) ([]*TeammateTask, error) {
	rows, err := db.Query(`
		SELECT id, session_id, teammate, role, status, output, error, started_at, completed_at
		FROM teammate_tasks WHERE session_id = ? ORDER BY id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list teammate tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*TeammateTask
	for rows.Next() {
		var t TeammateTask
		var role, output, errMsg sql.NullString
		var status string
		var startedAt, completedAt sql.NullString
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Teammate, &role, &status,
			&output, &errMsg, &startedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan teammate task: %w", err)
		}
		t.Role = role.String
		t.Status = TaskStatus(status)
		t.Output = output.String
		t.Error = errMsg.String
		t.StartedAt = parseNullableTime(startedAt)
		t.CompletedAt = parseNullableTime(completedAt)
		tasks = append(tasks, &t)
	}
	return tasks, rows.Err()
}

// UpdateTeammateTaskStatus updates a task's status and terminal fields.
func (db *DB) UpdateTeammateTaskStatus(id int64, status TaskStatus, output, errMsg string, completedAt *time.Time) error {
	var completed any
	if completedAt != nil {
		completed = formatTime(*completedAt)
	}
	_, err := db.Exec(`
		UPDATE teammate_tasks SET status = ?, output = ?, error = ?, completed_at = ? WHERE id = ?
	`, string(status), output, errMsg, completed, id)
	if err != nil {
		return fmt.Errorf("update teammate task: %w", err)
	}
	return nil
}
