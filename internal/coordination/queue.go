package coordination

import (
	"context"
	"time"

	"github.com/fentz26/crewd/internal/audit"
	"github.com/fentz26/crewd/internal/authz"
	"github.com/fentz26/crewd/internal/models"
	"github.com/fentz26/crewd/internal/store"
	"github.com/google/uuid"
)

const (
	// DefaultPriority is used by transports when a submission omits priority.
	DefaultPriority = 5
	// DefaultMaxAttempts bounds retries of one logical unit of work.
	DefaultMaxAttempts = 3
	// CancelledErrorCode is the reserved error code identifying
	// orchestrator-initiated cancellation, so a cancel is observable through
	// the same read path as any other failure.
	CancelledErrorCode = "cancelled_by_orchestrator"
)

// ClaimStatus discriminates the outcome of a claim attempt.
type ClaimStatus string

const (
	ClaimAssigned ClaimStatus = "assigned"
	ClaimNoWork   ClaimStatus = "no_work_available"
)

// ClaimResult is the discriminated result of WorkQueue.Claim. Task is set
// only when Status is ClaimAssigned.
type ClaimResult struct {
	Status ClaimStatus  `json:"status"`
	Task   *models.Task `json:"task,omitempty"`
}

// WorkQueue provides priority- and dependency-ordered task assignment with
// exactly-once claim semantics.
type WorkQueue struct {
	deps
	store *store.Store
}

// NewWorkQueue creates a work queue over the store.
func NewWorkQueue(s *store.Store, aw *audit.Writer, policy authz.Policy) *WorkQueue {
	return &WorkQueue{deps: deps{audit: aw, policy: policy}, store: s}
}

// SubmitRequest describes a new task. Priority 0 is valid (most urgent);
// transports apply DefaultPriority when the field is omitted.
type SubmitRequest struct {
	TaskType     string     `json:"task_type"`
	Description  string     `json:"description"`
	InputPayload string     `json:"input_payload,omitempty"`
	Priority     int        `json:"priority"`
	DependsOn    []string   `json:"depends_on,omitempty"`
	MaxAttempts  int        `json:"max_attempts,omitempty"`
	Deadline     *time.Time `json:"deadline,omitempty"`
}

// Submit creates a new pending task. Unknown dependency ids and dependency
// cycles are rejected at submission time with nothing created; the failure
// modes surface as store.ErrUnknownDependency and store.ErrDependencyCycle.
func (q *WorkQueue) Submit(ctx context.Context, caller Caller, req SubmitRequest) (*models.Task, error) {
	if req.TaskType == "" {
		return nil, ErrMissingTaskType
	}
	if !q.permitted(ctx, "task.submit", caller, req.TaskType) {
		return nil, ErrPermissionDenied
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	task := &models.Task{
		TaskID:       uuid.New().String(),
		TaskType:     req.TaskType,
		Description:  req.Description,
		InputPayload: req.InputPayload,
		Priority:     req.Priority,
		DependsOn:    req.DependsOn,
		Status:       models.TaskStatusPending,
		MaxAttempts:  maxAttempts,
		CreatedAt:    time.Now().UTC(),
		Deadline:     req.Deadline,
	}

	if err := q.store.CreateTask(task); err != nil {
		return nil, err
	}

	q.record("task.submit", map[string]interface{}{"task_type": req.TaskType, "priority": req.Priority, "depends_on": req.DependsOn}, "success", task.TaskID, "")
	return task, nil
}

// Claim atomically assigns the best eligible pending task to the caller, or
// reports that no work is available. Two concurrent callers never receive the
// same task; an empty queue is a normal result, not an error.
func (q *WorkQueue) Claim(ctx context.Context, caller Caller, allowedTaskTypes []string) (*ClaimResult, error) {
	if caller.AgentID == "" {
		return nil, ErrMissingAgentID
	}
	if !q.permitted(ctx, "task.claim", caller, "") {
		return nil, ErrPermissionDenied
	}

	task, err := q.store.ClaimNextTask(caller.AgentID, allowedTaskTypes)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return &ClaimResult{Status: ClaimNoWork}, nil
	}

	q.record("task.claim", map[string]string{"task_id": task.TaskID, "agent_id": caller.AgentID}, "success", task.TaskID, "")
	return &ClaimResult{Status: ClaimAssigned, Task: task}, nil
}

// Start reports that the assigned agent has begun executing the task.
func (q *WorkQueue) Start(ctx context.Context, caller Caller, taskID string) error {
	if caller.AgentID == "" {
		return ErrMissingAgentID
	}
	if !q.permitted(ctx, "task.start", caller, taskID) {
		return ErrPermissionDenied
	}
	if err := q.store.StartTask(taskID, caller.AgentID); err != nil {
		return err
	}
	q.record("task.start", map[string]string{"task_id": taskID, "agent_id": caller.AgentID}, "success", taskID, "")
	return nil
}

// Complete reports the outcome of an assigned or running task. Only the
// assigned agent may report; a mismatched caller is rejected with
// store.ErrNotTaskOwner and the task left unchanged. Unblocking of dependent
// tasks is evaluated lazily at claim time, so a successful completion needs
// no further action here. The queue never auto-resubmits: when a failed
// task's attempt_count is below max_attempts, resubmission is the caller's
// decision.
func (q *WorkQueue) Complete(ctx context.Context, caller Caller, taskID string, success bool, resultPayload, errorMessage string) error {
	if caller.AgentID == "" {
		return ErrMissingAgentID
	}
	if !q.permitted(ctx, "task.complete", caller, taskID) {
		return ErrPermissionDenied
	}

	status := models.TaskStatusCompleted
	outcome := "success"
	if !success {
		status = models.TaskStatusFailed
		outcome = "failed"
	}

	if err := q.store.FinishTask(taskID, caller.AgentID, status, resultPayload, errorMessage); err != nil {
		return err
	}
	q.record("task.complete", map[string]interface{}{"task_id": taskID, "agent_id": caller.AgentID, "success": success}, outcome, taskID, errorMessage)
	return nil
}

// Cancel is the orchestrator-initiated cancellation path. It shares the
// failure code path, with the reserved CancelledErrorCode prefixed to the
// reason; unlike Complete it carries no ownership requirement. Dependents of
// a cancelled task stay pending indefinitely; cascading cancellation is the
// caller's explicit responsibility.
func (q *WorkQueue) Cancel(ctx context.Context, caller Caller, taskID, reason string) error {
	if !q.permitted(ctx, "task.cancel", caller, taskID) {
		return ErrPermissionDenied
	}

	msg := CancelledErrorCode
	if reason != "" {
		msg += ": " + reason
	}
	if err := q.store.CancelTask(taskID, msg); err != nil {
		return err
	}
	q.record("task.cancel", map[string]string{"task_id": taskID, "reason": reason}, "cancelled", taskID, reason)
	return nil
}

// Get returns a read-only snapshot of a task, or nil when it does not exist.
func (q *WorkQueue) Get(ctx context.Context, taskID string) (*models.Task, error) {
	return q.store.GetTask(taskID)
}

// List returns tasks, optionally filtered by status.
func (q *WorkQueue) List(ctx context.Context, status string) ([]models.Task, error) {
	return q.store.ListTasks(status)
}
