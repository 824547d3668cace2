package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/conductorhq/core/internal/store"
	"github.com/conductorhq/core/pkg/models"
)

// CreateTask inserts a new Task or Goal row (Goal is Kind == goal in the
// same table, per the polymorphic-entity decision in the design notes).
func (s *Store) CreateTask(ctx context.Context, t *models.Task) error {
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	metadata, err := json.Marshal(t.Metadata)
	if err != nil {
		return fmt.Errorf("postgres: marshal task metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, kind, parent_id, goal_id, source, title, description, status, priority, order_index, created_at, updated_at, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, t.ID, string(t.Kind), nullString(t.ParentID), nullString(t.GoalID), string(t.Source), t.Title, t.Description,
		string(t.Status), t.Priority, t.OrderIndex, t.CreatedAt, t.UpdatedAt, metadata)
	if err != nil {
		return fmt.Errorf("postgres: create task: %w", err)
	}
	return nil
}

// GetTask fetches a task or goal by ID.
func (s *Store) GetTask(ctx context.Context, id string) (*models.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, parent_id, goal_id, source, title, description, status, priority, order_index, created_at, updated_at, metadata
		FROM tasks WHERE id = $1
	`, id)
	return scanTask(row)
}

// UpdateTaskStatus transitions a task's lifecycle status.
func (s *Store) UpdateTaskStatus(ctx context.Context, id string, status models.TaskStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = $2, updated_at = $3 WHERE id = $1
	`, id, string(status), time.Now())
	if err != nil {
		return fmt.Errorf("postgres: update task status: %w", err)
	}
	return checkRowsAffected(res)
}

// NextPendingTask returns the highest-priority pending task, applying the
// master-first / priority-desc / created-at-asc ordering at the SQL level
// so it matches models.Task.Less exactly.
func (s *Store) NextPendingTask(ctx context.Context) (*models.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, parent_id, goal_id, source, title, description, status, priority, order_index, created_at, updated_at, metadata
		FROM tasks
		WHERE status = $1
		ORDER BY (source = $2) DESC, priority DESC, created_at ASC
		LIMIT 1
	`, string(models.TaskPending), string(models.TaskSourceMaster))
	t, err := scanTask(row)
	if err == store.ErrNotFound {
		return nil, nil
	}
	return t, err
}

// ChildTasks returns every task whose ParentID matches parentID.
func (s *Store) ChildTasks(ctx context.Context, parentID string) ([]*models.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, parent_id, goal_id, source, title, description, status, priority, order_index, created_at, updated_at, metadata
		FROM tasks WHERE parent_id = $1 ORDER BY order_index ASC
	`, parentID)
	if err != nil {
		return nil, fmt.Errorf("postgres: child tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// ListTasksByGoal returns every task linked to goalID.
func (s *Store) ListTasksByGoal(ctx context.Context, goalID string) ([]*models.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, parent_id, goal_id, source, title, description, status, priority, order_index, created_at, updated_at, metadata
		FROM tasks WHERE goal_id = $1 ORDER BY order_index ASC
	`, goalID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list tasks by goal: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

func scanTasks(rows *sql.Rows) ([]*models.Task, error) {
	var out []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTask(row rowScanner) (*models.Task, error) {
	var (
		t                models.Task
		kind             string
		parentID         sql.NullString
		goalID           sql.NullString
		source           string
		status           string
		metadata         []byte
	)
	err := row.Scan(&t.ID, &kind, &parentID, &goalID, &source, &t.Title, &t.Description, &status,
		&t.Priority, &t.OrderIndex, &t.CreatedAt, &t.UpdatedAt, &metadata)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan task: %w", err)
	}
	t.Kind = models.TaskKind(kind)
	t.ParentID = parentID.String
	t.GoalID = goalID.String
	t.Source = models.TaskSource(source)
	t.Status = models.TaskStatus(status)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal task metadata: %w", err)
		}
	}
	return &t, nil
}
