package coordination

import (
	"context"
	"fmt"
	"time"

	"github.com/fentz26/crewd/internal/audit"
	"github.com/fentz26/crewd/internal/authz"
	"github.com/fentz26/crewd/internal/models"
	"github.com/fentz26/crewd/internal/store"
	"github.com/google/uuid"
)

// DefaultStaleThreshold is how long an agent may go without a heartbeat
// before the sweep declares it dead. Chosen to tolerate long-running single
// operations, such as a multi-minute test suite, without requiring the agent
// to interleave heartbeats into its work.
const DefaultStaleThreshold = 15 * time.Minute

// AgentRegistry tracks agent session liveness and capabilities, and reclaims
// resources held by dead agents.
type AgentRegistry struct {
	deps
	store *store.Store
	locks *LockManager
}

// NewAgentRegistry creates a registry over the store. The lock manager is
// the target of the dead-agent cascade, the only cross-service call in the
// core.
func NewAgentRegistry(s *store.Store, locks *LockManager, aw *audit.Writer, policy authz.Policy) *AgentRegistry {
	return &AgentRegistry{deps: deps{audit: aw, policy: policy}, store: s, locks: locks}
}

// RegisterRequest carries the optional attributes of a registration.
type RegisterRequest struct {
	Capabilities []string `json:"capabilities,omitempty"`
	CurrentTask  string   `json:"current_task,omitempty"`
}

// Register creates or refreshes the caller's session record, marking it
// active with a fresh heartbeat. When the caller carries no session id a new
// one is generated.
func (r *AgentRegistry) Register(ctx context.Context, caller Caller, req RegisterRequest) (*models.AgentSession, error) {
	if caller.AgentID == "" {
		return nil, ErrMissingAgentID
	}
	if !r.permitted(ctx, "agent.register", caller, caller.AgentID) {
		return nil, ErrPermissionDenied
	}

	sessionID := caller.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	now := time.Now().UTC()
	session := &models.AgentSession{
		SessionID:     sessionID,
		AgentID:       caller.AgentID,
		AgentType:     caller.AgentType,
		Capabilities:  req.Capabilities,
		Status:        models.SessionStatusActive,
		CurrentTask:   req.CurrentTask,
		LastHeartbeat: now,
		StartedAt:     now,
	}
	if err := r.store.UpsertSession(session); err != nil {
		return nil, err
	}

	r.record("agent.register", map[string]interface{}{"agent_id": caller.AgentID, "agent_type": caller.AgentType, "capabilities": req.Capabilities}, "success", sessionID, "")
	return session, nil
}

// Heartbeat refreshes the liveness timestamp of a session. Unknown or
// already-disconnected sessions report ErrAgentNotFound; a dead agent must
// re-register rather than resurrect a swept session.
func (r *AgentRegistry) Heartbeat(ctx context.Context, sessionID string) error {
	ok, err := r.store.TouchSession(sessionID, time.Now().UTC())
	if err != nil {
		return err
	}
	if !ok {
		return ErrAgentNotFound
	}
	return nil
}

// Discover returns sessions filtered by capability and status. With no
// status filter the listing covers active sessions only; disconnected
// history must be requested explicitly. Read-only.
func (r *AgentRegistry) Discover(ctx context.Context, capability string, status models.SessionStatus) ([]models.AgentSession, error) {
	if status == "" {
		status = models.SessionStatusActive
	}
	return r.store.ListSessions(status, capability)
}

// SweepDeadAgents reclaims every active session whose heartbeat is older
// than staleThreshold: the session is marked disconnected, then the agent's
// locks are force-released. Mark-then-release is deliberately two steps
// rather than one transaction across both stores; the release is idempotent,
// so a sweep interrupted between the steps is repaired by the next sweep.
// Returns the number of agents reclaimed.
func (r *AgentRegistry) SweepDeadAgents(ctx context.Context, staleThreshold time.Duration) (int, error) {
	if staleThreshold <= 0 {
		staleThreshold = DefaultStaleThreshold
	}
	cutoff := time.Now().UTC().Add(-staleThreshold)

	stale, err := r.store.StaleActiveSessions(cutoff)
	if err != nil {
		return 0, err
	}

	reclaimed := 0
	for _, session := range stale {
		ok, err := r.store.DisconnectSession(session.SessionID, time.Now().UTC())
		if err != nil {
			return reclaimed, err
		}
		if !ok {
			continue
		}
		released, err := r.locks.ForceReleaseAllForAgent(ctx, session.AgentID)
		if err != nil {
			return reclaimed, err
		}
		reclaimed++
		r.record("agent.sweep", map[string]string{"agent_id": session.AgentID, "session_id": session.SessionID}, "disconnected", session.SessionID,
			pluralLocks(released))
	}
	return reclaimed, nil
}

// EndSession is the graceful shutdown path: the caller marks its own session
// disconnected and releases its locks. Ending an already-ended session is a
// no-op.
func (r *AgentRegistry) EndSession(ctx context.Context, caller Caller, sessionID string) error {
	if caller.AgentID == "" {
		return ErrMissingAgentID
	}
	if !r.permitted(ctx, "agent.end_session", caller, sessionID) {
		return ErrPermissionDenied
	}

	session, err := r.store.GetSession(sessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return ErrAgentNotFound
	}

	if _, err := r.store.DisconnectSession(sessionID, time.Now().UTC()); err != nil {
		return err
	}
	if _, err := r.locks.ForceReleaseAllForAgent(ctx, session.AgentID); err != nil {
		return err
	}
	r.record("agent.end_session", map[string]string{"agent_id": session.AgentID, "session_id": sessionID}, "success", sessionID, "")
	return nil
}

func pluralLocks(n int) string {
	if n == 1 {
		return "released 1 lock"
	}
	return fmt.Sprintf("released %d locks", n)
}
