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

// CreateArtifact inserts a new artifact row in status pending.
func (s *Store) CreateArtifact(ctx context.Context, a *models.Artifact) error {
	content, err := json.Marshal(a.Content)
	if err != nil {
		return fmt.Errorf("postgres: marshal artifact content: %w", err)
	}
	now := time.Now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO artifacts (id, message_id, kind, content, uri, status, attempt_count, error_message, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, a.ID, a.MessageID, string(a.Kind), content, nullString(a.URI), string(a.Status), a.AttemptCount, nullString(a.Error), a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create artifact: %w", err)
	}
	return nil
}

// GetArtifact fetches an artifact by ID.
func (s *Store) GetArtifact(ctx context.Context, id string) (*models.Artifact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, message_id, kind, content, uri, status, attempt_count, error_message, created_at, updated_at
		FROM artifacts WHERE id = $1
	`, id)
	return scanArtifact(row)
}

// UpdateArtifactStatus transitions an artifact's status and records an
// error message, clearing it when the new status is not failed.
func (s *Store) UpdateArtifactStatus(ctx context.Context, id string, status models.ArtifactStatus, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE artifacts SET status = $2, error_message = $3, updated_at = $4 WHERE id = $1
	`, id, string(status), nullString(errMsg), time.Now())
	if err != nil {
		return fmt.Errorf("postgres: update artifact status: %w", err)
	}
	return checkRowsAffected(res)
}

// IncrementArtifactAttempts bumps attempt_count and returns the new value.
func (s *Store) IncrementArtifactAttempts(ctx context.Context, id string) (int, error) {
	var attempts int
	err := s.db.QueryRowContext(ctx, `
		UPDATE artifacts SET attempt_count = attempt_count + 1, updated_at = $2
		WHERE id = $1 RETURNING attempt_count
	`, id, time.Now()).Scan(&attempts)
	if err == sql.ErrNoRows {
		return 0, store.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: increment artifact attempts: %w", err)
	}
	return attempts, nil
}

// PendingArtifacts returns artifacts awaiting processing, oldest first.
func (s *Store) PendingArtifacts(ctx context.Context, limit int) ([]*models.Artifact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message_id, kind, content, uri, status, attempt_count, error_message, created_at, updated_at
		FROM artifacts WHERE status = $1 ORDER BY created_at ASC LIMIT $2
	`, string(models.ArtifactPending), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: pending artifacts: %w", err)
	}
	defer rows.Close()

	var out []*models.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// PruneArtifacts deletes terminal (done/failed) artifacts older than the
// retention window, returning the number removed.
func (s *Store) PruneArtifacts(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM artifacts
		WHERE status IN ($1, $2) AND updated_at < $3
	`, string(models.ArtifactDone), string(models.ArtifactFailed), time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("postgres: prune artifacts: %w", err)
	}
	return res.RowsAffected()
}

// ArtifactsForMessage returns every artifact attached to messageID, oldest
// first.
func (s *Store) ArtifactsForMessage(ctx context.Context, messageID string) ([]*models.Artifact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message_id, kind, content, uri, status, attempt_count, error_message, created_at, updated_at
		FROM artifacts WHERE message_id = $1 ORDER BY created_at ASC
	`, messageID)
	if err != nil {
		return nil, fmt.Errorf("postgres: artifacts for message: %w", err)
	}
	defer rows.Close()

	var out []*models.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanArtifact(row rowScanner) (*models.Artifact, error) {
	var (
		a         models.Artifact
		kind      string
		content   []byte
		uri       sql.NullString
		status    string
		errMsg    sql.NullString
	)
	err := row.Scan(&a.ID, &a.MessageID, &kind, &content, &uri, &status, &a.AttemptCount, &errMsg, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan artifact: %w", err)
	}
	a.Kind = models.ArtifactKind(kind)
	a.Status = models.ArtifactStatus(status)
	a.URI = uri.String
	a.Error = errMsg.String
	if len(content) > 0 {
		if err := json.Unmarshal(content, &a.Content); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal artifact content: %w", err)
		}
	}
	return &a, nil
}

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
