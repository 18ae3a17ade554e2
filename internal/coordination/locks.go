package coordination

import (
	"context"
	"time"

	"github.com/fentz26/crewd/internal/audit"
	"github.com/fentz26/crewd/internal/authz"
	"github.com/fentz26/crewd/internal/models"
	"github.com/fentz26/crewd/internal/store"
)

// DefaultLockTTL bounds how long an abandoned lock can block other agents.
const DefaultLockTTL = 10 * time.Minute

// AcquireStatus discriminates the outcome of an acquire attempt.
type AcquireStatus string

const (
	AcquireAcquired  AcquireStatus = "acquired"
	AcquireRefreshed AcquireStatus = "refreshed"
	AcquireConflict  AcquireStatus = "conflict"
)

// AcquireResult is the discriminated result of LockManager.Acquire. On
// conflict, Owner and ExpiresAt describe the current holder so the caller can
// decide to wait or work elsewhere.
type AcquireResult struct {
	Status    AcquireStatus    `json:"status"`
	Lock      *models.FileLock `json:"lock,omitempty"`
	Owner     string           `json:"owner,omitempty"`
	ExpiresAt time.Time        `json:"expires_at,omitempty"`
}

// ReleaseStatus discriminates the outcome of a release attempt.
type ReleaseStatus string

const (
	ReleaseReleased ReleaseStatus = "released"
	ReleaseNotOwner ReleaseStatus = "not_owner"
	ReleaseNotFound ReleaseStatus = "not_found"
)

// LockManager provides exclusive, TTL-bounded resource locks.
type LockManager struct {
	deps
	store      *store.Store
	defaultTTL time.Duration
}

// NewLockManager creates a lock manager over the store. A nil policy permits
// every call.
func NewLockManager(s *store.Store, aw *audit.Writer, policy authz.Policy) *LockManager {
	return &LockManager{deps: deps{audit: aw, policy: policy}, store: s, defaultTTL: DefaultLockTTL}
}

// SetDefaultTTL overrides the TTL applied when an acquire call omits one.
func (m *LockManager) SetDefaultTTL(ttl time.Duration) {
	if ttl > 0 {
		m.defaultTTL = ttl
	}
}

// AcquireRequest carries the optional attributes of an acquire call. TTL is
// a pointer so an explicit zero is distinguishable from an omitted one: nil
// gets the default, an explicit 0 produces a lock that is already expired for
// the next caller.
type AcquireRequest struct {
	Reason  string            `json:"reason,omitempty"`
	TTL     *time.Duration    `json:"ttl,omitempty"`
	Context map[string]string `json:"context,omitempty"`
}

// Acquire attempts to take the exclusive lock on a resource. A conflict is a
// normal negative result the caller must branch on, never an error; only
// storage failure returns an error.
func (m *LockManager) Acquire(ctx context.Context, caller Caller, resourceKey string, req AcquireRequest) (*AcquireResult, error) {
	if caller.AgentID == "" {
		return nil, ErrMissingAgentID
	}
	if resourceKey == "" {
		return nil, ErrMissingResource
	}
	if !m.permitted(ctx, "lock.acquire", caller, resourceKey) {
		return nil, ErrPermissionDenied
	}

	ttl := m.defaultTTL
	if req.TTL != nil {
		ttl = *req.TTL
	}

	lock := &models.FileLock{
		ResourceKey:    resourceKey,
		OwnerAgentID:   caller.AgentID,
		OwnerAgentType: caller.AgentType,
		SessionID:      caller.SessionID,
		Reason:         req.Reason,
		Context:        req.Context,
	}

	acq, err := m.store.AcquireLock(lock, ttl)
	if err != nil {
		return nil, err
	}

	switch {
	case acq.Conflict != nil:
		return &AcquireResult{
			Status:    AcquireConflict,
			Owner:     acq.Conflict.OwnerAgentID,
			ExpiresAt: acq.Conflict.ExpiresAt,
		}, nil
	case acq.Refreshed:
		m.record("lock.refresh", map[string]string{"resource_key": resourceKey, "agent_id": caller.AgentID}, "success", resourceKey, "")
		return &AcquireResult{Status: AcquireRefreshed, Lock: acq.Lock}, nil
	default:
		m.record("lock.acquire", map[string]string{"resource_key": resourceKey, "agent_id": caller.AgentID}, "success", resourceKey, req.Reason)
		return &AcquireResult{Status: AcquireAcquired, Lock: acq.Lock}, nil
	}
}

// Release removes the caller's lock on a resource. Only the recorded owner
// may release; a non-owner attempt fails closed with nothing removed.
func (m *LockManager) Release(ctx context.Context, caller Caller, resourceKey string) (ReleaseStatus, error) {
	if caller.AgentID == "" {
		return ReleaseNotFound, ErrMissingAgentID
	}
	if resourceKey == "" {
		return ReleaseNotFound, ErrMissingResource
	}
	if !m.permitted(ctx, "lock.release", caller, resourceKey) {
		return ReleaseNotFound, ErrPermissionDenied
	}

	outcome, err := m.store.ReleaseLock(resourceKey, caller.AgentID)
	if err != nil {
		return ReleaseNotFound, err
	}
	switch outcome {
	case store.ReleaseDone:
		m.record("lock.release", map[string]string{"resource_key": resourceKey, "agent_id": caller.AgentID}, "success", resourceKey, "")
		return ReleaseReleased, nil
	case store.ReleaseNotOwner:
		return ReleaseNotOwner, nil
	default:
		return ReleaseNotFound, nil
	}
}

// Check returns the live locks for the given resource keys, or every live
// lock when no keys are given. Read-only apart from the lazy-expiry cleanup,
// so stale entries never leak into the result.
func (m *LockManager) Check(ctx context.Context, resourceKeys []string) ([]models.FileLock, error) {
	return m.store.ListLocks(resourceKeys)
}

// ForceReleaseAllForAgent deletes every lock owned by the agent regardless
// of expiry and returns the count removed. It is idempotent: releasing an
// already-released lock is a no-op, not an error. Used by the dead-agent
// sweep and the graceful session-end path.
func (m *LockManager) ForceReleaseAllForAgent(ctx context.Context, agentID string) (int, error) {
	if agentID == "" {
		return 0, ErrMissingAgentID
	}
	n, err := m.store.ForceReleaseLocksForAgent(agentID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.record("lock.force_release", map[string]string{"agent_id": agentID}, "success", agentID, "")
	}
	return n, nil
}
