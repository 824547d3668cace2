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

// CreateDeployment inserts a new deployment attempt in status building.
func (s *Store) CreateDeployment(ctx context.Context, d *models.Deployment) error {
	if d.StartedAt.IsZero() {
		d.StartedAt = time.Now()
	}
	report, err := json.Marshal(d.Report)
	if err != nil {
		return fmt.Errorf("postgres: marshal deployment report: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO deployments (id, commit_id, branch, status, started_at, finished_at, report, rollback_reason)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, d.ID, d.CommitID, d.Branch, string(d.Status), d.StartedAt, nullTime(d.FinishedAt), report, nullString(d.RollbackReason))
	if err != nil {
		return fmt.Errorf("postgres: create deployment: %w", err)
	}
	return nil
}

// GetDeployment fetches a deployment by ID.
func (s *Store) GetDeployment(ctx context.Context, id string) (*models.Deployment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, commit_id, branch, status, started_at, finished_at, report, rollback_reason
		FROM deployments WHERE id = $1
	`, id)
	return scanDeployment(row)
}

// UpdateDeploymentStatus applies a guarded status transition, matching
// the verify-then-promote-or-rollback state machine.
func (s *Store) UpdateDeploymentStatus(ctx context.Context, id string, fromStatus, toStatus models.DeploymentStatus, report map[string]any, rollbackReason string) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("postgres: marshal deployment report: %w", err)
	}
	var finishedAt sql.NullTime
	if toStatus.IsTerminal() {
		finishedAt = sql.NullTime{Time: time.Now(), Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE deployments
		SET status = $3, report = $4, rollback_reason = $5, finished_at = COALESCE($6, finished_at)
		WHERE id = $1 AND status = $2
	`, id, string(fromStatus), string(toStatus), reportJSON, nullString(rollbackReason), finishedAt)
	if err != nil {
		return fmt.Errorf("postgres: update deployment status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrConflict
	}
	return nil
}

// ActiveDeployment returns the non-terminal deployment on branch, if any.
func (s *Store) ActiveDeployment(ctx context.Context, branch string) (*models.Deployment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, commit_id, branch, status, started_at, finished_at, report, rollback_reason
		FROM deployments
		WHERE branch = $1 AND status NOT IN ($2, $3, $4)
		ORDER BY started_at DESC LIMIT 1
	`, branch, string(models.DeployHealthy), string(models.DeployRolledBack), string(models.DeployFailed))
	return scanDeployment(row)
}

// LatestHealthyDeployment returns the most recent healthy deployment on a
// branch, used as the rollback target.
func (s *Store) LatestHealthyDeployment(ctx context.Context, branch string) (*models.Deployment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, commit_id, branch, status, started_at, finished_at, report, rollback_reason
		FROM deployments
		WHERE branch = $1 AND status = $2
		ORDER BY finished_at DESC LIMIT 1
	`, branch, string(models.DeployHealthy))
	return scanDeployment(row)
}

func scanDeployment(row rowScanner) (*models.Deployment, error) {
	var (
		d              models.Deployment
		status         string
		finishedAt     sql.NullTime
		report         []byte
		rollbackReason sql.NullString
	)
	err := row.Scan(&d.ID, &d.CommitID, &d.Branch, &status, &d.StartedAt, &finishedAt, &report, &rollbackReason)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan deployment: %w", err)
	}
	d.Status = models.DeploymentStatus(status)
	d.FinishedAt = timePtr(finishedAt)
	d.RollbackReason = rollbackReason.String
	if len(report) > 0 {
		if err := json.Unmarshal(report, &d.Report); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal deployment report: %w", err)
		}
	}
	return &d, nil
}
