package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fentz26/crewd/internal/models"
)

const sessionColumns = `session_id, agent_id, agent_type, capabilities, status, current_task,
	last_heartbeat, started_at, ended_at`

// UpsertSession creates a session row, or refreshes an existing one in place.
// Session history is append-only: rows are never deleted, only marked ended.
func (s *Store) UpsertSession(session *models.AgentSession) error {
	_, err := s.db.Exec(
		`INSERT INTO agent_sessions (session_id, agent_id, agent_type, capabilities, status, current_task, last_heartbeat, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
			agent_id = excluded.agent_id,
			agent_type = excluded.agent_type,
			capabilities = excluded.capabilities,
			status = excluded.status,
			current_task = excluded.current_task,
			last_heartbeat = excluded.last_heartbeat,
			ended_at = NULL`,
		session.SessionID, session.AgentID, session.AgentType, marshalList(session.Capabilities),
		session.Status, nullString(session.CurrentTask), session.LastHeartbeat, session.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by id, or nil when unknown.
func (s *Store) GetSession(sessionID string) (*models.AgentSession, error) {
	session := &models.AgentSession{}
	row := s.db.QueryRow(`SELECT `+sessionColumns+` FROM agent_sessions WHERE session_id = ?`, sessionID)
	if err := scanSessionRow(row, session); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return session, nil
}

// TouchSession refreshes last_heartbeat for a live session. Returns false
// when the session is unknown or already disconnected.
func (s *Store) TouchSession(sessionID string, now time.Time) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE agent_sessions SET last_heartbeat = ? WHERE session_id = ? AND status != ?`,
		now, sessionID, models.SessionStatusDisconnected,
	)
	if err != nil {
		return false, fmt.Errorf("touch session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check rows affected: %w", err)
	}
	return n > 0, nil
}

// ListSessions returns sessions filtered by status and capability. Status is
// filtered in SQL; capabilities are stored as a JSON list, so that filter is
// applied after scanning.
func (s *Store) ListSessions(status models.SessionStatus, capability string) ([]models.AgentSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM agent_sessions`
	var args []interface{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY last_heartbeat DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.AgentSession
	for rows.Next() {
		var session models.AgentSession
		if err := scanSessionRow(rows, &session); err != nil {
			return nil, err
		}
		if capability != "" && !session.HasCapability(capability) {
			continue
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// StaleActiveSessions returns active sessions whose last heartbeat is older
// than the cutoff.
func (s *Store) StaleActiveSessions(cutoff time.Time) ([]models.AgentSession, error) {
	rows, err := s.db.Query(
		`SELECT `+sessionColumns+` FROM agent_sessions WHERE status = ? AND last_heartbeat < ?`,
		models.SessionStatusActive, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("query stale sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.AgentSession
	for rows.Next() {
		var session models.AgentSession
		if err := scanSessionRow(rows, &session); err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// DisconnectSession marks a session disconnected with an end timestamp.
// Returns false when the session is unknown or already disconnected, so a
// repeated sweep over the same session is a no-op.
func (s *Store) DisconnectSession(sessionID string, endedAt time.Time) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE agent_sessions SET status = ?, ended_at = ? WHERE session_id = ? AND status != ?`,
		models.SessionStatusDisconnected, endedAt, sessionID, models.SessionStatusDisconnected,
	)
	if err != nil {
		return false, fmt.Errorf("disconnect session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check rows affected: %w", err)
	}
	return n > 0, nil
}

func scanSessionRow(r rowScanner, session *models.AgentSession) error {
	var capabilities, currentTask sql.NullString
	var endedAt sql.NullTime

	err := r.Scan(&session.SessionID, &session.AgentID, &session.AgentType, &capabilities,
		&session.Status, &currentTask, &session.LastHeartbeat, &session.StartedAt, &endedAt)
	if err != nil {
		return fmt.Errorf("scan session: %w", err)
	}

	session.Capabilities = unmarshalList(capabilities)
	if currentTask.Valid {
		session.CurrentTask = currentTask.String
	}
	if endedAt.Valid {
		t := endedAt.Time
		session.EndedAt = &t
	}
	return nil
}
