// Package models defines the core domain types for crewd.
package models

import "time"

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusAssigned  TaskStatus = "assigned"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Terminal reports whether the status is a terminal state.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// SessionStatus represents the liveness state of an agent session.
type SessionStatus string

const (
	SessionStatusActive       SessionStatus = "active"
	SessionStatusIdle         SessionStatus = "idle"
	SessionStatusDisconnected SessionStatus = "disconnected"
)

// FileLock represents exclusive ownership of one named resource.
// The resource key is conventionally a file path but may be any opaque string.
type FileLock struct {
	ResourceKey    string            `json:"resource_key"`
	OwnerAgentID   string            `json:"owner_agent_id"`
	OwnerAgentType string            `json:"owner_agent_type"`
	SessionID      string            `json:"session_id,omitempty"`
	AcquiredAt     time.Time         `json:"acquired_at"`
	ExpiresAt      time.Time         `json:"expires_at"`
	Reason         string            `json:"reason,omitempty"`
	Context        map[string]string `json:"context,omitempty"`
}

// Task represents a unit of work in the queue.
type Task struct {
	TaskID        string     `json:"task_id"`
	TaskType      string     `json:"task_type"`
	Description   string     `json:"description"`
	InputPayload  string     `json:"input_payload,omitempty"`
	Priority      int        `json:"priority"` // lower = more urgent
	DependsOn     []string   `json:"depends_on,omitempty"`
	Status        TaskStatus `json:"status"`
	AssignedTo    string     `json:"assigned_to,omitempty"`
	AssignedAt    *time.Time `json:"assigned_at,omitempty"`
	AttemptCount  int        `json:"attempt_count"`
	MaxAttempts   int        `json:"max_attempts"`
	ResultPayload string     `json:"result_payload,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	Deadline      *time.Time `json:"deadline,omitempty"` // advisory only, never enforced
}

// AgentSession is the liveness and identity record for one running agent instance.
type AgentSession struct {
	SessionID     string        `json:"session_id"`
	AgentID       string        `json:"agent_id"`
	AgentType     string        `json:"agent_type"`
	Capabilities  []string      `json:"capabilities,omitempty"`
	Status        SessionStatus `json:"status"`
	CurrentTask   string        `json:"current_task,omitempty"`
	LastHeartbeat time.Time     `json:"last_heartbeat"`
	StartedAt     time.Time     `json:"started_at"`
	EndedAt       *time.Time    `json:"ended_at,omitempty"`
}

// HasCapability reports whether the session advertises the named capability.
func (s *AgentSession) HasCapability(capability string) bool {
	for _, c := range s.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// HandoffDocument is a durable note written by an agent for a future session.
// Handoffs are append-only; "most recent" is derived by created_at ordering.
type HandoffDocument struct {
	HandoffID     string    `json:"handoff_id"`
	AgentName     string    `json:"agent_name"`
	SessionID     string    `json:"session_id,omitempty"`
	Summary       string    `json:"summary"`
	CompletedWork []string  `json:"completed_work,omitempty"`
	InProgress    []string  `json:"in_progress,omitempty"`
	Decisions     []string  `json:"decisions,omitempty"`
	NextSteps     []string  `json:"next_steps,omitempty"`
	RelevantFiles []string  `json:"relevant_files,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// AuditEntry records one state-mutating coordination action.
type AuditEntry struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	InputsHash string    `json:"inputs_hash"`
	Outcome    string    `json:"outcome"`
	SubjectID  string    `json:"subject_id,omitempty"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
