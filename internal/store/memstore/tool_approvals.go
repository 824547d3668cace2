package memstore

import (
	"context"
	"time"

	"github.com/conductorhq/core/internal/store"
	"github.com/conductorhq/core/pkg/models"
)

func (s *Store) CreateToolApproval(ctx context.Context, ta *models.ToolApproval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ta.CreatedAt.IsZero() {
		ta.CreatedAt = time.Now()
	}
	clone := *ta
	s.toolApprovals[ta.ID] = &clone
	return nil
}

func (s *Store) GetToolApproval(ctx context.Context, id string) (*models.ToolApproval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ta, ok := s.toolApprovals[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	clone := *ta
	return &clone, nil
}

func (s *Store) ResolveToolApproval(ctx context.Context, id string, status models.ToolApprovalStatus) (*models.ToolApproval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ta, ok := s.toolApprovals[id]
	if !ok || ta.Status != models.ToolApprovalPending {
		return nil, store.ErrConflict
	}
	ta.Status = status
	clone := *ta
	return &clone, nil
}

func (s *Store) ExpireToolApprovals(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, ta := range s.toolApprovals {
		if ta.Status == models.ToolApprovalPending && ta.ExpiresAt.Before(before) {
			ta.Status = models.ToolApprovalExpired
			n++
		}
	}
	return n, nil
}
