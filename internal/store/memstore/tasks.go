package memstore

import (
	"context"
	"time"

	"github.com/conductorhq/core/internal/store"
	"github.com/conductorhq/core/pkg/models"
)

func (s *Store) CreateTask(ctx context.Context, t *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	clone := *t
	s.tasks[t.ID] = &clone
	return nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	clone := *t
	return &clone, nil
}

func (s *Store) UpdateTaskStatus(ctx context.Context, id string, status models.TaskStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return store.ErrNotFound
	}
	t.Status = status
	t.UpdatedAt = time.Now()
	return nil
}

func (s *Store) NextPendingTask(ctx context.Context) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *models.Task
	for _, t := range s.tasks {
		if t.Status != models.TaskPending {
			continue
		}
		if best == nil || t.Less(best) {
			best = t
		}
	}
	if best == nil {
		return nil, nil
	}
	clone := *best
	return &clone, nil
}

func (s *Store) ChildTasks(ctx context.Context, parentID string) ([]*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Task
	for _, t := range s.tasks {
		if t.ParentID == parentID {
			clone := *t
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (s *Store) ListTasksByGoal(ctx context.Context, goalID string) ([]*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Task
	for _, t := range s.tasks {
		if t.GoalID == goalID {
			clone := *t
			out = append(out, &clone)
		}
	}
	return out, nil
}
