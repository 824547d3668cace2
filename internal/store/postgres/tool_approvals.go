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

// CreateToolApproval inserts a new pending gated-tool approval request.
func (s *Store) CreateToolApproval(ctx context.Context, ta *models.ToolApproval) error {
	input, err := json.Marshal(ta.Input)
	if err != nil {
		return fmt.Errorf("postgres: marshal tool approval input: %w", err)
	}
	if ta.CreatedAt.IsZero() {
		ta.CreatedAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tool_approvals (id, tool_name, input, reasoning, created_at, expires_at, status, response)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, ta.ID, ta.ToolName, input, nullString(ta.Reasoning), ta.CreatedAt, ta.ExpiresAt, string(ta.Status), nullString(ta.Response))
	if err != nil {
		return fmt.Errorf("postgres: create tool approval: %w", err)
	}
	return nil
}

// GetToolApproval fetches a gated-tool approval request by ID.
func (s *Store) GetToolApproval(ctx context.Context, id string) (*models.ToolApproval, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tool_name, input, reasoning, created_at, expires_at, status, response
		FROM tool_approvals WHERE id = $1
	`, id)
	return scanToolApproval(row)
}

// ResolveToolApproval transitions a pending tool approval, guarded on it
// still being pending.
func (s *Store) ResolveToolApproval(ctx context.Context, id string, status models.ToolApprovalStatus) (*models.ToolApproval, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE tool_approvals SET status = $2
		WHERE id = $1 AND status = $3
		RETURNING id, tool_name, input, reasoning, created_at, expires_at, status, response
	`, id, string(status), string(models.ToolApprovalPending))

	ta, err := scanToolApproval(row)
	if err == store.ErrNotFound {
		return nil, store.ErrConflict
	}
	return ta, err
}

// ExpireToolApprovals marks every pending tool approval created before
// `before` as expired.
func (s *Store) ExpireToolApprovals(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tool_approvals SET status = $1
		WHERE status = $2 AND expires_at < $3
	`, string(models.ToolApprovalExpired), string(models.ToolApprovalPending), before)
	if err != nil {
		return 0, fmt.Errorf("postgres: expire tool approvals: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func scanToolApproval(row rowScanner) (*models.ToolApproval, error) {
	var (
		ta        models.ToolApproval
		input     []byte
		reasoning sql.NullString
		status    string
		response  sql.NullString
	)
	err := row.Scan(&ta.ID, &ta.ToolName, &input, &reasoning, &ta.CreatedAt, &ta.ExpiresAt, &status, &response)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan tool approval: %w", err)
	}
	ta.Reasoning = reasoning.String
	ta.Status = models.ToolApprovalStatus(status)
	ta.Response = response.String
	if len(input) > 0 {
		if err := json.Unmarshal(input, &ta.Input); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal tool approval input: %w", err)
		}
	}
	return &ta, nil
}
