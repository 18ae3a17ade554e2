package store

import (
	"database/sql"
	"fmt"

	"github.com/fentz26/crewd/internal/models"
)

// CreateHandoff appends a handoff document. Handoffs are never updated or
// deleted; a mistaken handoff is corrected by writing a new one.
func (s *Store) CreateHandoff(h *models.HandoffDocument) error {
	_, err := s.db.Exec(
		`INSERT INTO handoffs (handoff_id, agent_name, session_id, summary, completed_work, in_progress,
		 decisions, next_steps, relevant_files, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.HandoffID, h.AgentName, nullString(h.SessionID), h.Summary,
		marshalList(h.CompletedWork), marshalList(h.InProgress), marshalList(h.Decisions),
		marshalList(h.NextSteps), marshalList(h.RelevantFiles), h.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert handoff: %w", err)
	}
	return nil
}

// ListHandoffs returns the most recent handoff documents ordered by
// created_at descending, optionally filtered by agent name. An empty result
// is a normal outcome, never an error.
func (s *Store) ListHandoffs(agentName string, limit int) ([]models.HandoffDocument, error) {
	query := `SELECT handoff_id, agent_name, session_id, summary, completed_work, in_progress,
		decisions, next_steps, relevant_files, created_at FROM handoffs`
	var args []interface{}
	if agentName != "" {
		query += ` WHERE agent_name = ?`
		args = append(args, agentName)
	}
	// rowid tie-break keeps ordering stable for documents written within the
	// same timestamp granularity.
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query handoffs: %w", err)
	}
	defer rows.Close()

	var docs []models.HandoffDocument
	for rows.Next() {
		var doc models.HandoffDocument
		var sessionID, completed, inProgress, decisions, nextSteps, relevantFiles sql.NullString
		if err := rows.Scan(&doc.HandoffID, &doc.AgentName, &sessionID, &doc.Summary,
			&completed, &inProgress, &decisions, &nextSteps, &relevantFiles, &doc.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan handoff: %w", err)
		}
		if sessionID.Valid {
			doc.SessionID = sessionID.String
		}
		doc.CompletedWork = unmarshalList(completed)
		doc.InProgress = unmarshalList(inProgress)
		doc.Decisions = unmarshalList(decisions)
		doc.NextSteps = unmarshalList(nextSteps)
		doc.RelevantFiles = unmarshalList(relevantFiles)
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}
