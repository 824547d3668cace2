package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/conductorhq/core/internal/store"
	"github.com/conductorhq/core/pkg/models"
)

func (s *Store) CreateArtifact(ctx context.Context, a *models.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	clone := *a
	s.artifacts[a.ID] = &clone
	return nil
}

func (s *Store) GetArtifact(ctx context.Context, id string) (*models.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.artifacts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	clone := *a
	return &clone, nil
}

func (s *Store) UpdateArtifactStatus(ctx context.Context, id string, status models.ArtifactStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.artifacts[id]
	if !ok {
		return store.ErrNotFound
	}
	a.Status = status
	a.Error = errMsg
	a.UpdatedAt = time.Now()
	return nil
}

func (s *Store) IncrementArtifactAttempts(ctx context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.artifacts[id]
	if !ok {
		return 0, store.ErrNotFound
	}
	a.AttemptCount++
	a.UpdatedAt = time.Now()
	return a.AttemptCount, nil
}

func (s *Store) PendingArtifacts(ctx context.Context, limit int) ([]*models.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Artifact
	for _, a := range s.artifacts {
		if a.Status == models.ArtifactPending {
			clone := *a
			out = append(out, &clone)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) ArtifactsForMessage(ctx context.Context, messageID string) ([]*models.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Artifact
	for _, a := range s.artifacts {
		if a.MessageID == messageID {
			clone := *a
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) PruneArtifacts(ctx context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var pruned int64
	for id, a := range s.artifacts {
		if (a.Status == models.ArtifactDone || a.Status == models.ArtifactFailed) && a.UpdatedAt.Before(cutoff) {
			delete(s.artifacts, id)
			pruned++
		}
	}
	return pruned, nil
}
