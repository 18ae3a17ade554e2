// Package store provides SQLite-backed persistence for crewd.
//
// Every atomic coordination operation is expressed as a single transaction
// against this store. The database is opened with one writer connection, so
// SQLite serializes mutating transactions and two concurrent callers racing
// on the same row always produce one winner.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store provides access to the crewd SQLite database.
type Store struct {
	db *sql.DB
}

// New creates a new Store and runs migrations.
func New(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Open with WAL mode for better concurrency
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS locks (
		resource_key TEXT PRIMARY KEY,
		owner_agent_id TEXT NOT NULL,
		owner_agent_type TEXT NOT NULL,
		session_id TEXT,
		acquired_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		reason TEXT,
		context TEXT
	);

	CREATE TABLE IF NOT EXISTS tasks (
		task_id TEXT PRIMARY KEY,
		task_type TEXT NOT NULL,
		description TEXT,
		input_payload TEXT,
		priority INTEGER NOT NULL DEFAULT 5,
		depends_on TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		assigned_to TEXT,
		assigned_at DATETIME,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL DEFAULT 3,
		result_payload TEXT,
		error_message TEXT,
		created_at DATETIME NOT NULL,
		deadline DATETIME
	);

	CREATE TABLE IF NOT EXISTS task_deps (
		task_id TEXT NOT NULL,
		depends_on_id TEXT NOT NULL,
		PRIMARY KEY (task_id, depends_on_id),
		FOREIGN KEY (task_id) REFERENCES tasks(task_id)
	);

	CREATE TABLE IF NOT EXISTS agent_sessions (
		session_id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		agent_type TEXT NOT NULL,
		capabilities TEXT,
		status TEXT NOT NULL DEFAULT 'active',
		current_task TEXT,
		last_heartbeat DATETIME NOT NULL,
		started_at DATETIME NOT NULL,
		ended_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS handoffs (
		handoff_id TEXT PRIMARY KEY,
		agent_name TEXT NOT NULL,
		session_id TEXT,
		summary TEXT NOT NULL,
		completed_work TEXT,
		in_progress TEXT,
		decisions TEXT,
		next_steps TEXT,
		relevant_files TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		inputs_hash TEXT NOT NULL,
		outcome TEXT NOT NULL,
		subject_id TEXT,
		details TEXT,
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_locks_owner ON locks(owner_agent_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	CREATE INDEX IF NOT EXISTS idx_tasks_claim ON tasks(status, priority, created_at);
	CREATE INDEX IF NOT EXISTS idx_task_deps_task ON task_deps(task_id);
	CREATE INDEX IF NOT EXISTS idx_sessions_agent ON agent_sessions(agent_id);
	CREATE INDEX IF NOT EXISTS idx_sessions_liveness ON agent_sessions(status, last_heartbeat);
	CREATE INDEX IF NOT EXISTS idx_handoffs_agent ON handoffs(agent_name, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// marshalList serializes a string list for a TEXT column. Empty lists are
// stored as NULL so optional fields round-trip as absent.
func marshalList(items []string) sql.NullString {
	if len(items) == 0 {
		return sql.NullString{}
	}
	data, _ := json.Marshal(items)
	return sql.NullString{String: string(data), Valid: true}
}

// unmarshalList deserializes a TEXT column written by marshalList.
func unmarshalList(col sql.NullString) []string {
	if !col.Valid || col.String == "" {
		return nil
	}
	var items []string
	if err := json.Unmarshal([]byte(col.String), &items); err != nil {
		return nil
	}
	return items
}
