package memstore

import (
	"context"
	"time"

	"github.com/conductorhq/core/internal/store"
	"github.com/conductorhq/core/pkg/models"
)

func (s *Store) UpsertThread(ctx context.Context, platform, externalChatID, chatType, title string) (*models.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := threadKey(platform, externalChatID)
	if id, ok := s.threadsByKey[key]; ok {
		t := s.threads[id]
		t.Title = title
		t.ChatType = chatType
		t.UpdatedAt = time.Now()
		clone := *t
		return &clone, nil
	}

	now := time.Now()
	t := &models.Thread{
		ID:             newID(),
		Platform:       platform,
		ExternalChatID: externalChatID,
		ChatType:       chatType,
		Title:          title,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.threads[t.ID] = t
	s.threadsByKey[key] = t.ID
	clone := *t
	return &clone, nil
}

func (s *Store) GetThread(ctx context.Context, id string) (*models.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threads[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	clone := *t
	return &clone, nil
}
