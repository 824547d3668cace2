package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/conductorhq/core/internal/store"
	"github.com/conductorhq/core/pkg/models"
)

// UpsertThread inserts a thread for (platform, externalChatID) or returns
// the existing row, bumping its title/updated_at when it already exists.
func (s *Store) UpsertThread(ctx context.Context, platform, externalChatID, chatType, title string) (*models.Thread, error) {
	now := time.Now()
	id := uuid.NewString()

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO threads (id, platform, external_chat_id, chat_type, title, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (platform, external_chat_id) DO UPDATE
			SET title = EXCLUDED.title, chat_type = EXCLUDED.chat_type, updated_at = $6
		RETURNING id, platform, external_chat_id, chat_type, title, created_at, updated_at, metadata
	`, id, platform, externalChatID, chatType, title, now)

	return scanThread(row)
}

// GetThread fetches a thread by ID.
func (s *Store) GetThread(ctx context.Context, id string) (*models.Thread, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, platform, external_chat_id, chat_type, title, created_at, updated_at, metadata
		FROM threads WHERE id = $1
	`, id)
	t, err := scanThread(row)
	if err == store.ErrNotFound {
		return nil, store.ErrNotFound
	}
	return t, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanThread(row rowScanner) (*models.Thread, error) {
	var (
		t        models.Thread
		title    sql.NullString
		metadata []byte
	)
	err := row.Scan(&t.ID, &t.Platform, &t.ExternalChatID, &t.ChatType, &title, &t.CreatedAt, &t.UpdatedAt, &metadata)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan thread: %w", err)
	}
	t.Title = title.String
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal thread metadata: %w", err)
		}
	}
	return &t, nil
}
