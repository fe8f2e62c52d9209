package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"reverie/internal/logging"
	"reverie/internal/types"
)

// =============================================================================
// TASK PERSISTENCE
// =============================================================================

// CreateTask persists a new task. Missing ID, status, and timestamps are
// filled in; the initial status defaults to pending.
func (s *Store) CreateTask(ctx context.Context, t *types.Task) error {
	if t == nil {
		return fmt.Errorf("store: nil task")
	}
	if t.Name == "" {
		return fmt.Errorf("store: task requires a name")
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = types.TaskPending
	}
	if !t.Status.Valid() {
		return fmt.Errorf("store: invalid task status %q", t.Status)
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, room_id, name, worker_name, status, metadata, result, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.RoomID, t.Name, t.WorkerName, string(t.Status),
		marshalMap(t.Metadata), marshalMap(t.Result),
		t.CreatedAt.UnixNano(), t.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	logging.Tasks("Created task %s (%s, worker=%s)", t.ID, t.Name, t.WorkerName)
	return nil
}

// Task returns a task by ID.
func (s *Store) Task(ctx context.Context, id string) (*types.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, room_id, name, worker_name, status, metadata, result, created_at, updated_at
		FROM tasks WHERE id = ?`, id)

	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task %s: %w", id, err)
	}
	return t, nil
}

// UpdateTask overwrites a task's mutable fields. The task queue owns the
// status machine; the store only checks that the row exists and that the
// status value is one of the known states.
func (s *Store) UpdateTask(ctx context.Context, t *types.Task) error {
	if t == nil || t.ID == "" {
		return fmt.Errorf("store: task update requires an ID")
	}
	if !t.Status.Valid() {
		return fmt.Errorf("store: invalid task status %q", t.Status)
	}
	t.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET room_id = ?, name = ?, worker_name = ?, status = ?, metadata = ?, result = ?, updated_at = ?
		WHERE id = ?`,
		t.RoomID, t.Name, t.WorkerName, string(t.Status),
		marshalMap(t.Metadata), marshalMap(t.Result),
		t.UpdatedAt.UnixNano(), t.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update task %s: %w", t.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("task %s: %w", t.ID, ErrNotFound)
	}

	logging.TasksDebug("Updated task %s (status=%s)", t.ID, t.Status)
	return nil
}

// TasksByStatus lists tasks in the given status, oldest first.
func (s *Store) TasksByStatus(ctx context.Context, status types.TaskStatus, limit int) ([]*types.Task, error) {
	if limit <= 0 {
		limit = s.queryLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_id, name, worker_name, status, metadata, result, created_at, updated_at
		FROM tasks WHERE status = ? ORDER BY created_at ASC LIMIT ?`,
		string(status), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// TasksByRoom lists a room's tasks, newest first.
func (s *Store) TasksByRoom(ctx context.Context, roomID string, limit int) ([]*types.Task, error) {
	if limit <= 0 {
		limit = s.queryLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_id, name, worker_name, status, metadata, result, created_at, updated_at
		FROM tasks WHERE room_id = ? ORDER BY created_at DESC LIMIT ?`,
		roomID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list room tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

func collectTasks(rows *sql.Rows) ([]*types.Task, error) {
	var out []*types.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			logging.Get(logging.CategoryStore).Warn("Skipping undecodable task row: %v", err)
			continue
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTask(row rowScanner) (*types.Task, error) {
	var t types.Task
	var status, metaJSON, resultJSON string
	var createdAt, updatedAt int64

	if err := row.Scan(&t.ID, &t.RoomID, &t.Name, &t.WorkerName, &status, &metaJSON, &resultJSON, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	t.Status = types.TaskStatus(status)
	if metaJSON != "" && metaJSON != "{}" {
		if err := json.Unmarshal([]byte(metaJSON), &t.Metadata); err != nil {
			logging.StoreDebug("Undecodable task metadata for %s: %v", t.ID, err)
		}
	}
	if resultJSON != "" && resultJSON != "{}" {
		if err := json.Unmarshal([]byte(resultJSON), &t.Result); err != nil {
			logging.StoreDebug("Undecodable task result for %s: %v", t.ID, err)
		}
	}
	t.CreatedAt = time.Unix(0, createdAt).UTC()
	t.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &t, nil
}
