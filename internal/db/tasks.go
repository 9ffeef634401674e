package db

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cloud-shuttle/fieldsync/pkg/types"
)

const taskColumns = `id, task_key, assigned_to, start_ms, properties, updated_at`

// Find returns the tasks matching filter ordered by start time
func (s *Store) Find(ctx context.Context, filter types.TaskFilter) ([]*types.Task, error) {
	where, args := taskWhere(filter)
	rows, err := s.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks`+where+` ORDER BY start_ms ASC, id ASC`, args...)
	if err != nil {
		return nil, wrapDBError("finding tasks", err)
	}
	defer rows.Close()

	var tasks []*types.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, wrapDBError("scanning task", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("iterating tasks", err)
	}
	return tasks, nil
}

// FindOne returns the first task matching filter, or nil when none does
func (s *Store) FindOne(ctx context.Context, filter types.TaskFilter) (*types.Task, error) {
	where, args := taskWhere(filter)
	row := s.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks`+where+` ORDER BY start_ms ASC, id ASC LIMIT 1`, args...)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapDBError("finding task", err)
	}
	return task, nil
}

// Insert stores a new task and returns its storage id. Task identifiers are unique.
func (s *Store) Insert(ctx context.Context, task *types.Task) (int64, error) {
	props, err := json.Marshal(task.Properties)
	if err != nil {
		return 0, fmt.Errorf("encoding properties of %s: %w", task.TaskID, err)
	}
	now := time.Now().Unix()

	res, err := s.DB.ExecContext(ctx, `
		INSERT INTO tasks (task_key, assigned_to, start_ms, properties, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, task.TaskID, task.AssignedTo, task.Start, string(props), now)
	if err != nil {
		return 0, wrapDBError("inserting task "+task.TaskID, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, wrapDBError("reading task id", err)
	}
	task.StorageID = id
	task.UpdatedAt = now
	return id, nil
}

// UpdateByID replaces the stored record with the given storage id and
// returns the number of rows changed
func (s *Store) UpdateByID(ctx context.Context, id int64, task *types.Task) (int64, error) {
	props, err := json.Marshal(task.Properties)
	if err != nil {
		return 0, fmt.Errorf("encoding properties of %s: %w", task.TaskID, err)
	}
	now := time.Now().Unix()

	res, err := s.DB.ExecContext(ctx, `
		UPDATE tasks
		SET task_key = ?, assigned_to = ?, start_ms = ?, properties = ?, updated_at = ?
		WHERE id = ?
	`, task.TaskID, task.AssignedTo, task.Start, string(props), now, id)
	if err != nil {
		return 0, wrapDBError("updating task "+task.TaskID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapDBError("reading affected rows", err)
	}
	task.UpdatedAt = now
	return n, nil
}

// Remove deletes the tasks matching filter and returns how many were removed.
// An empty filter is refused.
func (s *Store) Remove(ctx context.Context, filter types.TaskFilter) (int64, error) {
	if filter.Empty() {
		return 0, fmt.Errorf("removing tasks: refusing empty filter")
	}
	where, args := taskWhere(filter)
	res, err := s.DB.ExecContext(ctx, `DELETE FROM tasks`+where, args...)
	if err != nil {
		return 0, wrapDBError("removing tasks", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapDBError("reading affected rows", err)
	}
	return n, nil
}

func taskWhere(f types.TaskFilter) (string, []any) {
	var clauses []string
	var args []any

	if f.TaskID != "" {
		clauses = append(clauses, "task_key = ?")
		args = append(args, f.TaskID)
	}
	if len(f.EngineerIDs) > 0 {
		clauses = append(clauses, "assigned_to IN ("+placeholders(len(f.EngineerIDs))+")")
		for _, id := range f.EngineerIDs {
			args = append(args, id)
		}
	}
	if f.StartFrom != nil {
		clauses = append(clauses, "start_ms >= ?")
		args = append(args, *f.StartFrom)
	}
	if f.StartBefore != nil {
		clauses = append(clauses, "start_ms < ?")
		args = append(args, *f.StartBefore)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*types.Task, error) {
	var (
		task  types.Task
		props string
	)
	if err := row.Scan(&task.StorageID, &task.TaskID, &task.AssignedTo, &task.Start, &props, &task.UpdatedAt); err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(props)))
	dec.UseNumber()
	if err := dec.Decode(&task.Properties); err != nil {
		return nil, fmt.Errorf("decoding properties of %s: %w", task.TaskID, err)
	}
	if task.Properties == nil {
		task.Properties = map[string]any{}
	}
	return &task, nil
}
