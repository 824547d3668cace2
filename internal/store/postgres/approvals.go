package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/conductorhq/core/internal/store"
	"github.com/conductorhq/core/pkg/models"
)

// CreateApproval inserts a new pending approval. Callers are responsible
// for having called SupersedeQueued / checked PendingApprovalForThread
// first; the single-pending-per-thread invariant is enforced by the
// caller's sequencing, not a DB constraint, mirroring the teacher's
// application-level approval manager rather than a trigger.
func (s *Store) CreateApproval(ctx context.Context, a *models.Approval) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO approvals (id, thread_id, job_id, proposal_text, control_message_id, status, created_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, a.ID, a.ThreadID, a.JobID, a.ProposalText, nullString(a.ControlMessageID), string(a.Status), a.CreatedAt, a.ExpiresAt)
	if err != nil {
		return fmt.Errorf("postgres: create approval: %w", err)
	}
	return nil
}

// GetApproval fetches an approval by ID.
func (s *Store) GetApproval(ctx context.Context, id string) (*models.Approval, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, thread_id, job_id, proposal_text, control_message_id, status, created_at, expires_at, resolved_at, resolver_id
		FROM approvals WHERE id = $1
	`, id)
	return scanApproval(row)
}

// PendingApprovalForThread returns the single pending approval on a
// thread, if any.
func (s *Store) PendingApprovalForThread(ctx context.Context, threadID string) (*models.Approval, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, thread_id, job_id, proposal_text, control_message_id, status, created_at, expires_at, resolved_at, resolver_id
		FROM approvals WHERE thread_id = $1 AND status = $2
	`, threadID, string(models.ApprovalPending))
	a, err := scanApproval(row)
	if err == store.ErrNotFound {
		return nil, nil
	}
	return a, err
}

// ResolveApproval transitions a pending approval to status, guarded on it
// still being pending; resolving an already-resolved approval returns
// ErrConflict so callers can treat it as a no-op / race loser.
func (s *Store) ResolveApproval(ctx context.Context, id string, status models.ApprovalStatus) (*models.Approval, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE approvals SET status = $2, resolved_at = $3
		WHERE id = $1 AND status = $4
		RETURNING id, thread_id, job_id, proposal_text, control_message_id, status, created_at, expires_at, resolved_at, resolver_id
	`, id, string(status), time.Now(), string(models.ApprovalPending))

	a, err := scanApproval(row)
	if err == store.ErrNotFound {
		return nil, store.ErrConflict
	}
	return a, err
}

// ExpireApprovals marks every pending approval created before `before` as
// expired, returning the rows that changed so the caller can cascade-fail
// their owning jobs.
func (s *Store) ExpireApprovals(ctx context.Context, before time.Time) ([]*models.Approval, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE approvals SET status = $1, resolved_at = $2
		WHERE status = $3 AND expires_at < $4
		RETURNING id, thread_id, job_id, proposal_text, control_message_id, status, created_at, expires_at, resolved_at, resolver_id
	`, string(models.ApprovalExpired), time.Now(), string(models.ApprovalPending), before)
	if err != nil {
		return nil, fmt.Errorf("postgres: expire approvals: %w", err)
	}
	defer rows.Close()

	var out []*models.Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanApproval(row rowScanner) (*models.Approval, error) {
	var (
		a                models.Approval
		status           string
		controlMessageID sql.NullString
		resolvedAt       sql.NullTime
		resolverID       sql.NullString
	)
	err := row.Scan(&a.ID, &a.ThreadID, &a.JobID, &a.ProposalText, &controlMessageID, &status,
		&a.CreatedAt, &a.ExpiresAt, &resolvedAt, &resolverID)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan approval: %w", err)
	}
	a.Status = models.ApprovalStatus(status)
	a.ControlMessageID = controlMessageID.String
	a.ResolvedAt = timePtr(resolvedAt)
	a.ResolverID = resolverID.String
	return &a, nil
}
