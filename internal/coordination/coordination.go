// Package coordination implements the crewd coordination core: exclusive
// resource locking, a priority- and dependency-ordered work queue with
// exactly-once claiming, an agent liveness registry with dead-agent
// reclamation, and an append-only session handoff store.
//
// All four services are stateless over the durable store; they hold no
// cross-call in-memory state, so any number of coordinator processes can run
// concurrently with identical behavior. No operation blocks waiting for a
// resource: every call returns immediately with either success or a
// definitive negative result, and waiting or retry is the caller's concern.
package coordination

import (
	"context"
	"errors"

	"github.com/fentz26/crewd/internal/audit"
	"github.com/fentz26/crewd/internal/authz"
)

// Caller identifies the agent making a coordination call. Identity is
// threaded explicitly through every operation rather than read from process
// environment, so multiple simulated agents can share one process.
type Caller struct {
	AgentID   string `json:"agent_id"`
	AgentType string `json:"agent_type"`
	SessionID string `json:"session_id,omitempty"`
}

// Sentinel errors for coordination operations. Contention outcomes (lock
// conflicts, empty queue) are not errors; they are discriminated results.
var (
	ErrPermissionDenied = errors.New("operation not permitted for caller")
	ErrAgentNotFound    = errors.New("agent session not found")
	ErrMissingAgentID   = errors.New("agent id is required")
	ErrMissingResource  = errors.New("resource key is required")
	ErrMissingTaskType  = errors.New("task type is required")
	ErrMissingSummary   = errors.New("handoff summary is required")
)

// deps bundles the collaborators shared by all four services.
type deps struct {
	audit  *audit.Writer
	policy authz.Policy
}

func (d *deps) permitted(ctx context.Context, operation string, caller Caller, resource string) bool {
	if d.policy == nil {
		return true
	}
	return d.policy.IsPermitted(ctx, operation, caller.AgentID, resource)
}

// record writes an audit entry, ignoring failures so auditing never blocks
// the action it describes.
func (d *deps) record(action string, inputs interface{}, outcome, subjectID, details string) {
	if d.audit == nil {
		return
	}
	d.audit.Record(action, inputs, outcome, subjectID, details)
}
