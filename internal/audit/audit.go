// Package audit records coordination actions for later inspection.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/fentz26/crewd/internal/models"
	"github.com/fentz26/crewd/internal/store"
	"github.com/google/uuid"
)

// Writer appends audit entries for state-mutating coordination actions.
type Writer struct {
	store *store.Store
}

// NewWriter creates a new audit writer.
func NewWriter(s *store.Store) *Writer {
	return &Writer{store: s}
}

// Record writes an audit entry for a state-mutating action. Audit failures
// are returned but never block the action they describe; callers ignore the
// error by convention.
func (w *Writer) Record(action string, inputs interface{}, outcome, subjectID, details string) (*models.AuditEntry, error) {
	entry := &models.AuditEntry{
		ID:         uuid.New().String(),
		Action:     action,
		InputsHash: hashInputs(inputs),
		Outcome:    outcome,
		SubjectID:  subjectID,
		Details:    details,
		Timestamp:  time.Now().UTC(),
	}
	if err := w.store.AppendAudit(entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// hashInputs creates a SHA256 hash of the inputs for reproducibility.
func hashInputs(inputs interface{}) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
