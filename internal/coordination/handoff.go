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

// HandoffStore durably preserves session context for future sessions of the
// same or a different agent. Documents are immutable once written; there is
// no update or delete operation by design.
type HandoffStore struct {
	deps
	store *store.Store
}

// NewHandoffStore creates a handoff store over the store.
func NewHandoffStore(s *store.Store, aw *audit.Writer, policy authz.Policy) *HandoffStore {
	return &HandoffStore{deps: deps{audit: aw, policy: policy}, store: s}
}

// WriteRequest describes a new handoff document. Summary is required; the
// structured lists are optional.
type WriteRequest struct {
	AgentName     string   `json:"agent_name"`
	SessionID     string   `json:"session_id,omitempty"`
	Summary       string   `json:"summary"`
	CompletedWork []string `json:"completed_work,omitempty"`
	InProgress    []string `json:"in_progress,omitempty"`
	Decisions     []string `json:"decisions,omitempty"`
	NextSteps     []string `json:"next_steps,omitempty"`
	RelevantFiles []string `json:"relevant_files,omitempty"`
}

// Write appends a new immutable handoff document.
func (h *HandoffStore) Write(ctx context.Context, caller Caller, req WriteRequest) (*models.HandoffDocument, error) {
	if req.AgentName == "" {
		return nil, ErrMissingAgentID
	}
	if req.Summary == "" {
		return nil, ErrMissingSummary
	}
	if !h.permitted(ctx, "handoff.write", caller, req.AgentName) {
		return nil, ErrPermissionDenied
	}

	doc := &models.HandoffDocument{
		HandoffID:     uuid.New().String(),
		AgentName:     req.AgentName,
		SessionID:     req.SessionID,
		Summary:       req.Summary,
		CompletedWork: req.CompletedWork,
		InProgress:    req.InProgress,
		Decisions:     req.Decisions,
		NextSteps:     req.NextSteps,
		RelevantFiles: req.RelevantFiles,
		CreatedAt:     time.Now().UTC(),
	}
	if err := h.store.CreateHandoff(doc); err != nil {
		return nil, err
	}

	h.record("handoff.write", map[string]string{"agent_name": req.AgentName, "session_id": req.SessionID}, "success", doc.HandoffID, "")
	return doc, nil
}

// Read returns the limit most recent handoff documents, newest first,
// optionally filtered by agent name. No matching documents is an empty list,
// never an error.
func (h *HandoffStore) Read(ctx context.Context, agentName string, limit int) ([]models.HandoffDocument, error) {
	if limit <= 0 {
		limit = 1
	}
	docs, err := h.store.ListHandoffs(agentName, limit)
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []models.HandoffDocument{}
	}
	return docs, nil
}
