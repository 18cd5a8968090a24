package hub

import (
	"encoding/json"
	"fmt"
)

// Event is a typed payload delivered on a hub channel. Each concrete
// event carries a stable type discriminator for wire encoding.
type Event interface {
	EventType() string
}

// Ping is the heartbeat probe. Subscribers must call Pong on receipt.
type Ping struct{}

func (Ping) EventType() string { return "ping" }

// LogLine is published on the logs channel.
type LogLine struct {
	Level   string `json:"level"`
	Message string `json:"message"`
	Source  string `json:"source"`
}

func (LogLine) EventType() string { return "log" }

// StatusUpdate is published on the status channel.
type StatusUpdate struct {
	ProjectID string `json:"project_id"`
	Phase     string `json:"phase"`
	Message   string `json:"message"`
}

func (StatusUpdate) EventType() string { return "status_update" }

// TeamProgress is published on the teams channel for every stdout or
// stderr line and for session termination.
type TeamProgress struct {
	SessionID string `json:"session_id"`
	Event     string `json:"event"` // stdout, stderr, completed, cancelled
	Data      string `json:"data,omitempty"`
	Status    string `json:"status,omitempty"`
	ExitCode  int    `json:"exit_code,omitempty"`
}

func (TeamProgress) EventType() string { return "team_progress" }

// Events published on the gm channel, one per pipeline transition.

type ProjectStarted struct {
	ProjectID   string `json:"project_id"`
	ProjectName string `json:"project_name"`
}

func (ProjectStarted) EventType() string { return "project_started" }

type PhaseChange struct {
	ProjectID string `json:"project_id"`
	Phase     string `json:"phase"`
}

func (PhaseChange) EventType() string { return "phase_change" }

type AgentLaunched struct {
	ProjectID string `json:"project_id"`
	SessionID string `json:"session_id"`
	TeamName  string `json:"team_name"`
}

func (AgentLaunched) EventType() string { return "agent_launched" }

type AgentCompleted struct {
	ProjectID string `json:"project_id"`
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

func (AgentCompleted) EventType() string { return "agent_completed" }

type MergeOrderDetermined struct {
	ProjectID  string   `json:"project_id"`
	MergeOrder []string `json:"merge_order"`
}

func (MergeOrderDetermined) EventType() string { return "merge_order_determined" }

type MergeStarted struct {
	ProjectID string `json:"project_id"`
	SessionID string `json:"session_id"`
	Index     int    `json:"index"`
}

func (MergeStarted) EventType() string { return "merge_started" }

type MergeConflict struct {
	ProjectID       string   `json:"project_id"`
	SessionID       string   `json:"session_id"`
	ConflictedFiles []string `json:"conflicted_files"`
	Error           string   `json:"error"`
}

func (MergeConflict) EventType() string { return "merge_conflict" }

type MergeCompleted struct {
	ProjectID string `json:"project_id"`
	SessionID string `json:"session_id"`
	Skipped   bool   `json:"skipped"`
	Result    string `json:"result"`
}

func (MergeCompleted) EventType() string { return "merge_completed" }

type ConflictResolved struct {
	ProjectID string `json:"project_id"`
	SessionID string `json:"session_id"`
}

func (ConflictResolved) EventType() string { return "conflict_resolved" }

type BuildStarted struct {
	ProjectID string `json:"project_id"`
}

func (BuildStarted) EventType() string { return "build_started" }

type BuildResult struct {
	ProjectID  string `json:"project_id"`
	Success    bool   `json:"success"`
	OutputTail string `json:"output_tail"`
}

func (BuildResult) EventType() string { return "build_result" }

type BuildFixAttempt struct {
	ProjectID string `json:"project_id"`
	Attempt   int    `json:"attempt"`
}

func (BuildFixAttempt) EventType() string { return "build_fix_attempt" }

type TestStarted struct {
	ProjectID string `json:"project_id"`
}

func (TestStarted) EventType() string { return "test_started" }

type TestResult struct {
	ProjectID  string `json:"project_id"`
	Success    bool   `json:"success"`
	OutputTail string `json:"output_tail"`
}

func (TestResult) EventType() string { return "test_result" }

type TestFixAttempt struct {
	ProjectID string `json:"project_id"`
	Attempt   int    `json:"attempt"`
}

func (TestFixAttempt) EventType() string { return "test_fix_attempt" }

type DecisionRequired struct {
	ProjectID      string `json:"project_id"`
	DecisionID     string `json:"decision_id"`
	DecisionType   string `json:"decision_type"`
	Description    string `json:"description"`
	ProposedAction string `json:"proposed_action"`
	Context        string `json:"context"`
}

func (DecisionRequired) EventType() string { return "decision_required" }

type DecisionResolved struct {
	ProjectID  string `json:"project_id"`
	DecisionID string `json:"decision_id"`
	Action     string `json:"action"`
}

func (DecisionResolved) EventType() string { return "decision_resolved" }

type ProjectCompleted struct {
	ProjectID string `json:"project_id"`
}

func (ProjectCompleted) EventType() string { return "project_completed" }

type ProjectFailed struct {
	ProjectID string `json:"project_id"`
	Reason    string `json:"reason"`
}

func (ProjectFailed) EventType() string { return "project_failed" }

// Marshal encodes an event as a JSON object with a "type" discriminator
// merged alongside the payload fields. Used by external transports.
func Marshal(e Event) ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event payload: %w", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("remarshal event payload: %w", err)
	}
	if fields == nil {
		fields = map[string]any{}
	}
	fields["type"] = e.EventType()
	return json.Marshal(fields)
}
