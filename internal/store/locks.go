package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fentz26/crewd/internal/models"
)

// LockAcquisition is the outcome of an atomic acquire attempt.
// Exactly one of Lock (acquired or refreshed) or Conflict is set.
type LockAcquisition struct {
	Lock      *models.FileLock
	Refreshed bool
	Conflict  *models.FileLock
}

// AcquireLock attempts to acquire an exclusive lock on a resource atomically.
// Inside a single transaction it removes any expired row for the key, then
// inserts a new row. If a live row already exists it is resolved in place:
// the same owner gets its expiry extended, any other owner gets a conflict
// describing the current holder. The conflict resolution is re-checked under
// the same transaction as the insert so a race between the lazy-expiry delete
// and a competing acquire cannot produce two winners.
func (s *Store) AcquireLock(lock *models.FileLock, ttl time.Duration) (*LockAcquisition, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	// Lazy expiry for this key
	if _, err := tx.Exec(`DELETE FROM locks WHERE resource_key = ? AND expires_at <= ?`, lock.ResourceKey, now); err != nil {
		return nil, fmt.Errorf("clean expired locks: %w", err)
	}

	existing, err := scanLockTx(tx, lock.ResourceKey, now)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return s.resolveHeldLock(tx, existing, lock.OwnerAgentID, now, ttl)
	}

	lock.AcquiredAt = now
	lock.ExpiresAt = now.Add(ttl)

	var ctxJSON sql.NullString
	if len(lock.Context) > 0 {
		data, _ := json.Marshal(lock.Context)
		ctxJSON = sql.NullString{String: string(data), Valid: true}
	}

	_, err = tx.Exec(
		`INSERT INTO locks (resource_key, owner_agent_id, owner_agent_type, session_id, acquired_at, expires_at, reason, context)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		lock.ResourceKey, lock.OwnerAgentID, lock.OwnerAgentType, nullString(lock.SessionID),
		lock.AcquiredAt, lock.ExpiresAt, nullString(lock.Reason), ctxJSON,
	)
	if err != nil {
		// UNIQUE violation means a competing acquire won between the delete
		// and our insert; resolve against the winning row in the same tx.
		if strings.Contains(err.Error(), "UNIQUE constraint") || strings.Contains(err.Error(), "unique constraint") {
			winner, serr := scanLockTx(tx, lock.ResourceKey, now)
			if serr != nil {
				return nil, serr
			}
			if winner != nil {
				return s.resolveHeldLock(tx, winner, lock.OwnerAgentID, now, ttl)
			}
		}
		return nil, fmt.Errorf("insert lock: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return &LockAcquisition{Lock: lock}, nil
}

// resolveHeldLock decides refresh-vs-conflict for a live row under the same
// transaction as the acquire attempt.
func (s *Store) resolveHeldLock(tx *sql.Tx, held *models.FileLock, callerID string, now time.Time, ttl time.Duration) (*LockAcquisition, error) {
	if held.OwnerAgentID != callerID {
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit transaction: %w", err)
		}
		return &LockAcquisition{Conflict: held}, nil
	}

	held.ExpiresAt = now.Add(ttl)
	if _, err := tx.Exec(
		`UPDATE locks SET expires_at = ? WHERE resource_key = ? AND owner_agent_id = ?`,
		held.ExpiresAt, held.ResourceKey, callerID,
	); err != nil {
		return nil, fmt.Errorf("refresh lock: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return &LockAcquisition{Lock: held, Refreshed: true}, nil
}

// ReleaseOutcome is the result of a release attempt.
type ReleaseOutcome int

const (
	ReleaseDone ReleaseOutcome = iota
	ReleaseNotOwner
	ReleaseNotFound
)

// ReleaseLock deletes the lock row for a resource if, and only if, the caller
// is the recorded owner. Expired rows are removed first, so releasing an
// already-expired lock reports not found.
func (s *Store) ReleaseLock(resourceKey, ownerAgentID string) (ReleaseOutcome, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return ReleaseNotFound, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err := tx.Exec(`DELETE FROM locks WHERE resource_key = ? AND expires_at <= ?`, resourceKey, now); err != nil {
		return ReleaseNotFound, fmt.Errorf("clean expired locks: %w", err)
	}

	held, err := scanLockTx(tx, resourceKey, now)
	if err != nil {
		return ReleaseNotFound, err
	}
	if held == nil {
		return ReleaseNotFound, tx.Commit()
	}
	if held.OwnerAgentID != ownerAgentID {
		// Fail closed: a non-owner never mutates lock state.
		return ReleaseNotOwner, tx.Commit()
	}

	if _, err := tx.Exec(`DELETE FROM locks WHERE resource_key = ?`, resourceKey); err != nil {
		return ReleaseNotFound, fmt.Errorf("delete lock: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return ReleaseNotFound, fmt.Errorf("commit transaction: %w", err)
	}
	return ReleaseDone, nil
}

// ListLocks returns live lock rows, optionally filtered by resource keys.
// Expired rows are purged first so stale entries never leak into the result.
func (s *Store) ListLocks(resourceKeys []string) ([]models.FileLock, error) {
	now := time.Now().UTC()
	if _, err := s.db.Exec(`DELETE FROM locks WHERE expires_at <= ?`, now); err != nil {
		return nil, fmt.Errorf("clean expired locks: %w", err)
	}

	query := `SELECT resource_key, owner_agent_id, owner_agent_type, session_id, acquired_at, expires_at, reason, context FROM locks`
	var args []interface{}
	if len(resourceKeys) > 0 {
		placeholders := strings.Repeat("?,", len(resourceKeys))
		query += ` WHERE resource_key IN (` + placeholders[:len(placeholders)-1] + `)`
		for _, k := range resourceKeys {
			args = append(args, k)
		}
	}
	query += ` ORDER BY resource_key`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query locks: %w", err)
	}
	defer rows.Close()

	var locks []models.FileLock
	for rows.Next() {
		lock, err := scanLockRow(rows)
		if err != nil {
			return nil, err
		}
		locks = append(locks, *lock)
	}
	return locks, rows.Err()
}

// ForceReleaseLocksForAgent deletes every lock row owned by the agent
// regardless of expiry and returns the number of rows removed. Used by the
// dead-agent sweep; safe to call repeatedly (a second call removes nothing).
func (s *Store) ForceReleaseLocksForAgent(agentID string) (int, error) {
	res, err := s.db.Exec(`DELETE FROM locks WHERE owner_agent_id = ?`, agentID)
	if err != nil {
		return 0, fmt.Errorf("force release locks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}
	return int(n), nil
}

// PurgeExpiredLocks removes every expired lock row and returns the count.
func (s *Store) PurgeExpiredLocks() (int, error) {
	res, err := s.db.Exec(`DELETE FROM locks WHERE expires_at <= ?`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("purge expired locks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLockRow(r rowScanner) (*models.FileLock, error) {
	lock := &models.FileLock{}
	var sessionID, reason, ctxJSON sql.NullString

	err := r.Scan(&lock.ResourceKey, &lock.OwnerAgentID, &lock.OwnerAgentType, &sessionID,
		&lock.AcquiredAt, &lock.ExpiresAt, &reason, &ctxJSON)
	if err != nil {
		return nil, fmt.Errorf("scan lock: %w", err)
	}
	if sessionID.Valid {
		lock.SessionID = sessionID.String
	}
	if reason.Valid {
		lock.Reason = reason.String
	}
	if ctxJSON.Valid && ctxJSON.String != "" {
		json.Unmarshal([]byte(ctxJSON.String), &lock.Context)
	}
	return lock, nil
}

// scanLockTx reads the live lock row for a key inside a transaction.
func scanLockTx(tx *sql.Tx, resourceKey string, now time.Time) (*models.FileLock, error) {
	row := tx.QueryRow(
		`SELECT resource_key, owner_agent_id, owner_agent_type, session_id, acquired_at, expires_at, reason, context
		 FROM locks WHERE resource_key = ? AND expires_at > ?`,
		resourceKey, now,
	)
	lock, err := scanLockRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return lock, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
