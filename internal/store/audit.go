package store

import (
	"database/sql"
	"fmt"

	"github.com/fentz26/crewd/internal/models"
)

// AppendAudit writes one audit log entry.
func (s *Store) AppendAudit(entry *models.AuditEntry) error {
	_, err := s.db.Exec(
		`INSERT INTO audit_log (id, action, inputs_hash, outcome, subject_id, details, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Action, entry.InputsHash, entry.Outcome,
		nullString(entry.SubjectID), nullString(entry.Details), entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// ListAudit returns the most recent audit entries, newest first.
func (s *Store) ListAudit(limit int) ([]models.AuditEntry, error) {
	rows, err := s.db.Query(
		`SELECT id, action, inputs_hash, outcome, subject_id, details, timestamp
		 FROM audit_log ORDER BY timestamp DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		var subjectID, details sql.NullString
		if err := rows.Scan(&e.ID, &e.Action, &e.InputsHash, &e.Outcome, &subjectID, &details, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if subjectID.Valid {
			e.SubjectID = subjectID.String
		}
		if details.Valid {
			e.Details = details.String
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
