package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/conductorhq/core/internal/store"
	"github.com/conductorhq/core/pkg/models"
)

// InsertMessage inserts a message, or returns the existing row untouched
// when (ThreadID, ExternalID) already exists, so ingest retries are
// idempotent rather than erroring.
func (s *Store) InsertMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO messages (id, thread_id, external_message_id, role, author_id, text, raw_payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (thread_id, external_message_id) WHERE external_message_id <> '' DO UPDATE SET external_message_id = messages.external_message_id
		RETURNING id, thread_id, external_message_id, role, author_id, text, edited_at, raw_payload, created_at
	`, msg.ID, msg.ThreadID, msg.ExternalMessageID, string(msg.Role), msg.AuthorID, msg.Text, msg.RawPayload, msg.CreatedAt)

	return scanMessage(row)
}

// MarkEdited records an edited_message update against the original
// external ID, leaving the row's creation history intact.
func (s *Store) MarkEdited(ctx context.Context, threadID, externalID, newText string, editedAt time.Time) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE messages SET text = $3, edited_at = $4
		WHERE thread_id = $1 AND external_message_id = $2
		RETURNING id, thread_id, external_message_id, role, author_id, text, edited_at, raw_payload, created_at
	`, threadID, externalID, newText, editedAt)

	m, err := scanMessage(row)
	if err == store.ErrNotFound {
		return nil, fmt.Errorf("postgres: mark edited: %w", store.ErrNotFound)
	}
	return m, err
}

// RecentMessages returns the last `limit` messages of a thread in
// chronological order, used to build the executor's context window.
func (s *Store) RecentMessages(ctx context.Context, threadID string, limit int) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, thread_id, external_message_id, role, author_id, text, edited_at, raw_payload, created_at
		FROM (
			SELECT id, thread_id, external_message_id, role, author_id, text, edited_at, raw_payload, created_at
			FROM messages WHERE thread_id = $1
			ORDER BY created_at DESC LIMIT $2
		) recent
		ORDER BY created_at ASC
	`, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: recent messages: %w", err)
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var (
		m          models.Message
		role       string
		externalID sql.NullString
		authorID   sql.NullString
		editedAt   sql.NullTime
		raw        []byte
	)
	err := row.Scan(&m.ID, &m.ThreadID, &externalID, &role, &authorID, &m.Text, &editedAt, &raw, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan message: %w", err)
	}
	m.ExternalMessageID = externalID.String
	m.AuthorID = authorID.String
	m.Role = models.Role(role)
	m.EditedAt = timePtr(editedAt)
	m.RawPayload = raw
	return &m, nil
}
