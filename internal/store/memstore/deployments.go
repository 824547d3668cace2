package memstore

import (
	"context"
	"time"

	"github.com/conductorhq/core/internal/store"
	"github.com/conductorhq/core/pkg/models"
)

func (s *Store) CreateDeployment(ctx context.Context, d *models.Deployment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.StartedAt.IsZero() {
		d.StartedAt = time.Now()
	}
	clone := *d
	s.deployments[d.ID] = &clone
	return nil
}

func (s *Store) GetDeployment(ctx context.Context, id string) (*models.Deployment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.deployments[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	clone := *d
	return &clone, nil
}

func (s *Store) UpdateDeploymentStatus(ctx context.Context, id string, fromStatus, toStatus models.DeploymentStatus, report map[string]any, rollbackReason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deployments[id]
	if !ok || d.Status != fromStatus {
		return store.ErrConflict
	}
	d.Status = toStatus
	d.Report = report
	d.RollbackReason = rollbackReason
	if toStatus.IsTerminal() {
		now := time.Now()
		d.FinishedAt = &now
	}
	return nil
}

func (s *Store) ActiveDeployment(ctx context.Context, branch string) (*models.Deployment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.deployments {
		if d.Branch == branch && !d.Status.IsTerminal() {
			clone := *d
			return &clone, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) LatestHealthyDeployment(ctx context.Context, branch string) (*models.Deployment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *models.Deployment
	for _, d := range s.deployments {
		if d.Branch != branch || d.Status != models.DeployHealthy {
			continue
		}
		if latest == nil || (d.FinishedAt != nil && latest.FinishedAt != nil && d.FinishedAt.After(*latest.FinishedAt)) {
			latest = d
		}
	}
	if latest == nil {
		return nil, store.ErrNotFound
	}
	clone := *latest
	return &clone, nil
}
