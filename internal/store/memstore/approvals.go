package memstore

import (
	"context"
	"time"

	"github.com/conductorhq/core/internal/store"
	"github.com/conductorhq/core/pkg/models"
)

func (s *Store) CreateApproval(ctx context.Context, a *models.Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	clone := *a
	s.approvals[a.ID] = &clone
	return nil
}

func (s *Store) GetApproval(ctx context.Context, id string) (*models.Approval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.approvals[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	clone := *a
	return &clone, nil
}

func (s *Store) PendingApprovalForThread(ctx context.Context, threadID string) (*models.Approval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.approvals {
		if a.ThreadID == threadID && a.Status == models.ApprovalPending {
			clone := *a
			return &clone, nil
		}
	}
	return nil, nil
}

func (s *Store) ResolveApproval(ctx context.Context, id string, status models.ApprovalStatus) (*models.Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.approvals[id]
	if !ok || a.Status != models.ApprovalPending {
		return nil, store.ErrConflict
	}
	now := time.Now()
	a.Status = status
	a.ResolvedAt = &now
	clone := *a
	return &clone, nil
}

func (s *Store) ExpireApprovals(ctx context.Context, before time.Time) ([]*models.Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var expired []*models.Approval
	for _, a := range s.approvals {
		if a.Status == models.ApprovalPending && a.ExpiresAt.Before(before) {
			a.Status = models.ApprovalExpired
			a.ResolvedAt = &now
			clone := *a
			expired = append(expired, &clone)
		}
	}
	return expired, nil
}
