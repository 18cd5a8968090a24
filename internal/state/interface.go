package state

import (
	"io"
	"time"
)

// SessionStore handles agent session persistence operations.
type SessionStore interface {
	CreateAgentSession(s *AgentSession) error
	GetAgentSession(sessionID string) (*AgentSession, error)
	ListAgentSessions(projectID string) ([]*AgentSession, error)
	UpdateAgentSessionStatus(sessionID string, status SessionStatus, completedAt *time.Time) error
	UpdateAgentSessionFiles(sessionID string, files []string) error
	UpdateAgentSessionMerge(sessionID string, index int, result MergeResult) error
	UpdateAgentSessionResultFile(sessionID, filename string) error
}

// TaskStore handles teammate task persistence operations.
type TaskStore interface {
	CreateTeammateTask(t *TeammateTask) error
	ListTeammateTasks(sessionID string) ([]*TeammateTask, error)
	UpdateTeammateTaskStatus(id int64, status TaskStatus, output, errMsg string, completedAt *time.Time) error
}

// ProjectStore handles GM project persistence operations.
type ProjectStore interface {
	CreateGMProject(p *GMProject) error
	GetGMProject(projectID string) (*GMProject, error)
	ListGMProjects(limit, offset int) ([]*GMProject, error)
	ListUnfinishedGMProjects() ([]*GMProject, error)
	UpdateGMProjectPhase(projectID string, phase Phase, errorMessage string, completedAt *time.Time) error
	UpdateGMProjectProgress(projectID string, progress GMProgress) error
}

// DecisionStore handles decision persistence operations.
type DecisionStore interface {
	CreateDecision(d *Decision) error
	GetDecision(decisionID string) (*Decision, error)
	ListPendingDecisions(projectID string) ([]*Decision, error)
	ResolveDecision(decisionID string, status DecisionStatus, resolvedAt time.Time) (bool, error)
}

// LogStore handles structured log persistence.
type LogStore interface {
	AppendLog(level, message, source string) error
	ListLogs(limit int) ([]*LogEntry, error)
}

// Migrator handles database schema migrations.
type Migrator interface {
	Migrate() error
}

// Store defines the full persistence surface. The pipeline and CLI work
// against this interface rather than the concrete SQLite implementation.
// It composes focused sub-interfaces for better modularity.
type Store interface {
	io.Closer
	Migrator
	SessionStore
	TaskStore
	ProjectStore
	DecisionStore
	LogStore
}

// Compile-time verification that DB implements all interfaces.
var (
	_ Store         = (*DB)(nil)
	_ Migrator      = (*DB)(nil)
	_ SessionStore  = (*DB)(nil)
	_ TaskStore     = (*DB)(nil)
	_ ProjectStore  = (*DB)(nil)
	_ DecisionStore = (*DB)(nil)
	_ LogStore      = (*DB)(nil)
)
