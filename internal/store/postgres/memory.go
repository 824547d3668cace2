package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/conductorhq/core/internal/store"
	"github.com/conductorhq/core/pkg/models"
)

// PutMemory inserts or overwrites a memory entry by key.
func (s *Store) PutMemory(ctx context.Context, m *models.AgentMemory) error {
	now := time.Now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	metadata, err := json.Marshal(m.Metadata)
	if err != nil {
		return fmt.Errorf("postgres: marshal memory metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agent_memory (key, value, category, created_at, updated_at, metadata)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, category = EXCLUDED.category,
			updated_at = EXCLUDED.updated_at, metadata = EXCLUDED.metadata
	`, m.Key, m.Value, nullString(m.Category), m.CreatedAt, m.UpdatedAt, metadata)
	if err != nil {
		return fmt.Errorf("postgres: put memory: %w", err)
	}
	return nil
}

// GetMemory fetches a memory entry by key.
func (s *Store) GetMemory(ctx context.Context, key string) (*models.AgentMemory, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT key, value, category, created_at, updated_at, metadata FROM agent_memory WHERE key = $1
	`, key)
	return scanMemory(row)
}

// ListMemory returns every memory entry, optionally filtered by category.
func (s *Store) ListMemory(ctx context.Context, category string) ([]*models.AgentMemory, error) {
	query := `SELECT key, value, category, created_at, updated_at, metadata FROM agent_memory`
	args := []any{}
	if category != "" {
		query += ` WHERE category = $1`
		args = append(args, category)
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list memory: %w", err)
	}
	defer rows.Close()

	var out []*models.AgentMemory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteMemory removes a memory entry by key.
func (s *Store) DeleteMemory(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM agent_memory WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("postgres: delete memory: %w", err)
	}
	return nil
}

func scanMemory(row rowScanner) (*models.AgentMemory, error) {
	var (
		m        models.AgentMemory
		category sql.NullString
		metadata []byte
	)
	err := row.Scan(&m.Key, &m.Value, &category, &m.CreatedAt, &m.UpdatedAt, &metadata)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan memory: %w", err)
	}
	m.Category = category.String
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &m.Metadata); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal memory metadata: %w", err)
		}
	}
	return &m, nil
}
