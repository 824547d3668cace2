package memstore

import (
	"context"
	"time"

	"github.com/conductorhq/core/internal/store"
	"github.com/conductorhq/core/pkg/models"
)

func (s *Store) PutMemory(ctx context.Context, m *models.AgentMemory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if existing, ok := s.memory[m.Key]; ok {
		m.CreatedAt = existing.CreatedAt
	} else {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	clone := *m
	s.memory[m.Key] = &clone
	return nil
}

func (s *Store) GetMemory(ctx context.Context, key string) (*models.AgentMemory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.memory[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	clone := *m
	return &clone, nil
}

func (s *Store) ListMemory(ctx context.Context, category string) ([]*models.AgentMemory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.AgentMemory
	for _, m := range s.memory {
		if category == "" || m.Category == category {
			clone := *m
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (s *Store) DeleteMemory(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.memory, key)
	return nil
}
