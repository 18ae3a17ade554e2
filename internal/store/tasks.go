package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fentz26/crewd/internal/models"
)

// Validation and ownership errors surfaced by task operations.
var (
	ErrUnknownDependency = errors.New("unknown dependency task id")
	ErrDependencyCycle   = errors.New("dependency cycle detected")
	ErrTaskNotFound      = errors.New("task not found")
	ErrNotTaskOwner      = errors.New("task not assigned to this agent")
	ErrTaskNotActive     = errors.New("task is not in an active state")
)

const taskColumns = `task_id, task_type, description, input_payload, priority, depends_on, status,
	assigned_to, assigned_at, attempt_count, max_attempts, result_payload, error_message, created_at, deadline`

// CreateTask inserts a new pending task and its dependency edges in one
// transaction. Every dependency id must name an existing task, and the new
// dependency set must not close a cycle; either violation rejects the whole
// submission with nothing created.
func (s *Store) CreateTask(task *models.Task) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, dep := range task.DependsOn {
		var exists int
		err := tx.QueryRow(`SELECT 1 FROM tasks WHERE task_id = ?`, dep).Scan(&exists)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: %s", ErrUnknownDependency, dep)
		}
		if err != nil {
			return fmt.Errorf("check dependency: %w", err)
		}
	}

	if err := checkNoCycle(tx, task.TaskID, task.DependsOn); err != nil {
		return err
	}

	_, err = tx.Exec(
		`INSERT INTO tasks (task_id, task_type, description, input_payload, priority, depends_on, status,
		 attempt_count, max_attempts, created_at, deadline)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.TaskID, task.TaskType, task.Description, nullString(task.InputPayload), task.Priority,
		marshalList(task.DependsOn), task.Status, task.AttemptCount, task.MaxAttempts,
		task.CreatedAt, nullTime(task.Deadline),
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}

	for _, dep := range task.DependsOn {
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO task_deps (task_id, depends_on_id) VALUES (?, ?)`,
			task.TaskID, dep,
		); err != nil {
			return fmt.Errorf("insert dependency edge: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// checkNoCycle walks dependency edges from each named dependency and rejects
// the submission if the new task's own id is reachable.
func checkNoCycle(tx *sql.Tx, newTaskID string, deps []string) error {
	visited := make(map[string]bool)
	frontier := append([]string(nil), deps...)

	for len(frontier) > 0 {
		id := frontier[len(frontier)-1]
		frontier = frontier[:len(frontier)-1]
		if id == newTaskID {
			return ErrDependencyCycle
		}
		if visited[id] {
			continue
		}
		visited[id] = true

		rows, err := tx.Query(`SELECT depends_on_id FROM task_deps WHERE task_id = ?`, id)
		if err != nil {
			return fmt.Errorf("walk dependency edges: %w", err)
		}
		for rows.Next() {
			var next string
			if err := rows.Scan(&next); err != nil {
				rows.Close()
				return fmt.Errorf("scan dependency edge: %w", err)
			}
			frontier = append(frontier, next)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("walk dependency edges: %w", err)
		}
		rows.Close()
	}
	return nil
}

// ClaimNextTask atomically assigns the best eligible pending task to the
// agent and returns it, or nil when no task is claimable. Eligibility:
// status pending, task type in allowedTypes (when given), and every
// dependency completed. Selection order is lowest priority value, then
// earliest created_at. The select and the guarded update run in one
// transaction; a rows-affected check re-verifies the pending status so a row
// taken by a competing claim is skipped rather than double-assigned.
func (s *Store) ClaimNextTask(agentID string, allowedTypes []string) (*models.Task, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	query := `SELECT ` + taskColumns + ` FROM tasks t
		WHERE t.status = 'pending'
		AND NOT EXISTS (
			SELECT 1 FROM task_deps d
			LEFT JOIN tasks p ON p.task_id = d.depends_on_id
			WHERE d.task_id = t.task_id AND (p.task_id IS NULL OR p.status != 'completed')
		)`
	var args []interface{}
	if len(allowedTypes) > 0 {
		placeholders := strings.Repeat("?,", len(allowedTypes))
		query += ` AND t.task_type IN (` + placeholders[:len(placeholders)-1] + `)`
		for _, tt := range allowedTypes {
			args = append(args, tt)
		}
	}
	query += ` ORDER BY t.priority ASC, t.created_at ASC LIMIT 1`

	// Retry the selection a few times: a candidate that loses its pending
	// status between select and update is skipped, never double-assigned.
	for attempt := 0; attempt < 3; attempt++ {
		task, err := queryTaskTx(tx, query, args...)
		if err != nil {
			return nil, err
		}
		if task == nil {
			return nil, tx.Commit()
		}

		res, err := tx.Exec(
			`UPDATE tasks SET status = ?, assigned_to = ?, assigned_at = ?, attempt_count = attempt_count + 1
			 WHERE task_id = ? AND status = 'pending'`,
			models.TaskStatusAssigned, agentID, now, task.TaskID,
		)
		if err != nil {
			return nil, fmt.Errorf("assign task: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("check rows affected: %w", err)
		}
		if n == 0 {
			continue
		}

		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit transaction: %w", err)
		}

		task.Status = models.TaskStatusAssigned
		task.AssignedTo = agentID
		task.AssignedAt = &now
		task.AttemptCount++
		return task, nil
	}

	return nil, tx.Commit()
}

// GetTask retrieves a task by id, or nil when it does not exist. Read-only;
// never mutates ownership.
func (s *Store) GetTask(taskID string) (*models.Task, error) {
	task := &models.Task{}
	row := s.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE task_id = ?`, taskID)
	if err := scanTaskRow(row, task); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return task, nil
}

// ListTasks returns all tasks, optionally filtered by status, newest first.
func (s *Store) ListTasks(status string) ([]models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var args []interface{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		var task models.Task
		if err := scanTaskRow(rows, &task); err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// StartTask flips an assigned task to running. Only the assigned agent may
// report the transition.
func (s *Store) StartTask(taskID, agentID string) error {
	return s.transitionTask(taskID, agentID, []models.TaskStatus{models.TaskStatusAssigned},
		models.TaskStatusRunning, "", "")
}

// FinishTask moves an assigned or running task to a terminal state. Only the
// assigned agent may report completion or failure; the transition and the
// result payload are written in one transaction.
func (s *Store) FinishTask(taskID, agentID string, status models.TaskStatus, resultPayload, errorMessage string) error {
	return s.transitionTask(taskID, agentID,
		[]models.TaskStatus{models.TaskStatusAssigned, models.TaskStatusRunning},
		status, resultPayload, errorMessage)
}

func (s *Store) transitionTask(taskID, agentID string, from []models.TaskStatus, to models.TaskStatus, resultPayload, errorMessage string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var status models.TaskStatus
	var assignedTo sql.NullString
	err = tx.QueryRow(`SELECT status, assigned_to FROM tasks WHERE task_id = ?`, taskID).Scan(&status, &assignedTo)
	if err == sql.ErrNoRows {
		return ErrTaskNotFound
	}
	if err != nil {
		return fmt.Errorf("query task: %w", err)
	}
	if !assignedTo.Valid || assignedTo.String != agentID {
		return ErrNotTaskOwner
	}
	allowed := false
	for _, f := range from {
		if status == f {
			allowed = true
		}
	}
	if !allowed {
		return ErrTaskNotActive
	}

	if _, err := tx.Exec(
		`UPDATE tasks SET status = ?, result_payload = ?, error_message = ? WHERE task_id = ?`,
		to, nullString(resultPayload), nullString(errorMessage), taskID,
	); err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// CancelTask moves a non-terminal task to cancelled with the given error
// message. Cancellation is orchestrator-initiated, so no ownership check.
func (s *Store) CancelTask(taskID, errorMessage string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var status models.TaskStatus
	err = tx.QueryRow(`SELECT status FROM tasks WHERE task_id = ?`, taskID).Scan(&status)
	if err == sql.ErrNoRows {
		return ErrTaskNotFound
	}
	if err != nil {
		return fmt.Errorf("query task: %w", err)
	}
	if status.Terminal() {
		return ErrTaskNotActive
	}

	if _, err := tx.Exec(
		`UPDATE tasks SET status = ?, error_message = ? WHERE task_id = ?`,
		models.TaskStatusCancelled, errorMessage, taskID,
	); err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func queryTaskTx(tx *sql.Tx, query string, args ...interface{}) (*models.Task, error) {
	task := &models.Task{}
	row := tx.QueryRow(query, args...)
	if err := scanTaskRow(row, task); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return task, nil
}

func scanTaskRow(r rowScanner, task *models.Task) error {
	var inputPayload, dependsOn, assignedTo, resultPayload, errorMessage sql.NullString
	var assignedAt, deadline sql.NullTime

	err := r.Scan(&task.TaskID, &task.TaskType, &task.Description, &inputPayload, &task.Priority,
		&dependsOn, &task.Status, &assignedTo, &assignedAt, &task.AttemptCount, &task.MaxAttempts,
		&resultPayload, &errorMessage, &task.CreatedAt, &deadline)
	if err != nil {
		return fmt.Errorf("scan task: %w", err)
	}

	if inputPayload.Valid {
		task.InputPayload = inputPayload.String
	}
	task.DependsOn = unmarshalList(dependsOn)
	if assignedTo.Valid {
		task.AssignedTo = assignedTo.String
	}
	if assignedAt.Valid {
		t := assignedAt.Time
		task.AssignedAt = &t
	}
	if resultPayload.Valid {
		task.ResultPayload = resultPayload.String
	}
	if errorMessage.Valid {
		task.ErrorMessage = errorMessage.String
	}
	if deadline.Valid {
		t := deadline.Time
		task.Deadline = &t
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
