package memstore

import (
	"context"
	"time"

	"github.com/conductorhq/core/internal/store"
	"github.com/conductorhq/core/pkg/models"
)

func (s *Store) InsertMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ExternalMessageID != "" {
		for _, id := range s.messagesOrder {
			existing := s.messages[id]
			if existing.ThreadID == msg.ThreadID && existing.ExternalMessageID == msg.ExternalMessageID {
				clone := *existing
				return &clone, nil
			}
		}
	}

	clone := *msg
	if clone.ID == "" {
		clone.ID = newID()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	s.messages[clone.ID] = &clone
	s.messagesOrder = append(s.messagesOrder, clone.ID)
	out := clone
	return &out, nil
}

func (s *Store) MarkEdited(ctx context.Context, threadID, externalID, newText string, editedAt time.Time) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.messagesOrder {
		m := s.messages[id]
		if m.ThreadID == threadID && m.ExternalMessageID == externalID {
			m.Text = newText
			at := editedAt
			m.EditedAt = &at
			clone := *m
			return &clone, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) RecentMessages(ctx context.Context, threadID string, limit int) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.Message
	for _, id := range s.messagesOrder {
		m := s.messages[id]
		if m.ThreadID == threadID {
			clone := *m
			matched = append(matched, &clone)
		}
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched, nil
}
