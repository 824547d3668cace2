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

// CreateJob inserts a new reactive job in status queued.
func (s *Store) CreateJob(ctx context.Context, job *models.ReactiveJob) error {
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("postgres: marshal job payload: %w", err)
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reactive_jobs (id, thread_id, trigger_message_id, mode, status, payload, attempts, confirmed, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, job.ID, job.ThreadID, job.TriggerMessageID, string(job.Mode), string(job.Status), payload, job.Attempts, job.Confirmed, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create job: %w", err)
	}
	return nil
}

// GetJob fetches a reactive job by ID.
func (s *Store) GetJob(ctx context.Context, id string) (*models.ReactiveJob, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, thread_id, trigger_message_id, mode, status, payload, classification,
		       approval_id, result, error_message, attempts, confirmed, created_at, started_at, finished_at
		FROM reactive_jobs WHERE id = $1
	`, id)
	return scanJob(row)
}

// ClaimNextJob selects the oldest queued job not locked by a concurrent
// claimant, marks it running, and returns it. It returns (nil, nil) when
// the queue is empty, the row-level equivalent of the teacher's
// channel-based dispatch but safe across multiple worker processes.
func (s *Store) ClaimNextJob(ctx context.Context, workerID string) (*models.ReactiveJob, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin claim: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT id FROM reactive_jobs
		WHERE status = $1
		ORDER BY created_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`, string(models.JobQueued))

	var id string
	if err := row.Scan(&id); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("postgres: select queued job: %w", err)
	}

	now := time.Now()
	claimRow := tx.QueryRowContext(ctx, `
		UPDATE reactive_jobs SET status = $2, started_at = $3
		WHERE id = $1
		RETURNING id, thread_id, trigger_message_id, mode, status, payload, classification,
		          approval_id, result, error_message, attempts, confirmed, created_at, started_at, finished_at
	`, id, string(models.JobRunning), now)

	job, err := scanJob(claimRow)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("postgres: commit claim: %w", err)
	}
	return job, nil
}

// UpdateJobStatus applies a guarded status transition: the row must still
// be in fromStatus or ErrConflict is returned and nothing changes.
func (s *Store) UpdateJobStatus(ctx context.Context, id string, fromStatus, toStatus models.JobStatus, result map[string]any, errMsg string) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("postgres: marshal job result: %w", err)
	}

	var finishedAt sql.NullTime
	if toStatus.IsTerminal() {
		finishedAt = sql.NullTime{Time: time.Now(), Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE reactive_jobs
		SET status = $3, result = $4, error_message = $5, finished_at = COALESCE($6, finished_at)
		WHERE id = $1 AND status = $2
	`, id, string(fromStatus), string(toStatus), resultJSON, nullString(errMsg), finishedAt)
	if err != nil {
		return fmt.Errorf("postgres: update job status: %w", err)
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

// SetJobClassification persists the classifier's verdict on a job.
func (s *Store) SetJobClassification(ctx context.Context, id string, c *models.Classification) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("postgres: marshal classification: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE reactive_jobs SET classification = $2 WHERE id = $1`, id, data)
	if err != nil {
		return fmt.Errorf("postgres: set classification: %w", err)
	}
	return checkRowsAffected(res)
}

// SetJobApproval links a job to its Approval row.
func (s *Store) SetJobApproval(ctx context.Context, id, approvalID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE reactive_jobs SET approval_id = $2 WHERE id = $1`, id, approvalID)
	if err != nil {
		return fmt.Errorf("postgres: set job approval: %w", err)
	}
	return checkRowsAffected(res)
}

// SupersedeQueued marks every non-terminal job on a thread superseded
// except keepID, implementing the newer-trigger-wins invariant.
func (s *Store) SupersedeQueued(ctx context.Context, threadID, keepID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE reactive_jobs
		SET status = $4, finished_at = $3
		WHERE thread_id = $1 AND id <> $2 AND status IN ($5, $6)
	`, threadID, keepID, time.Now(), string(models.JobSuperseded), string(models.JobQueued), string(models.JobAwaitingApproval))
	if err != nil {
		return 0, fmt.Errorf("postgres: supersede queued: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// StaleRunningJobs returns jobs the reaper considers abandoned: stuck in
// running longer than the grace period.
func (s *Store) StaleRunningJobs(ctx context.Context, olderThan time.Duration) ([]*models.ReactiveJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, thread_id, trigger_message_id, mode, status, payload, classification,
		       approval_id, result, error_message, attempts, confirmed, created_at, started_at, finished_at
		FROM reactive_jobs
		WHERE status = $1 AND started_at < $2
	`, string(models.JobRunning), time.Now().Add(-olderThan))
	if err != nil {
		return nil, fmt.Errorf("postgres: stale running jobs: %w", err)
	}
	defer rows.Close()

	var out []*models.ReactiveJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// IncrementJobAttempts bumps the attempt counter and returns the new value.
func (s *Store) IncrementJobAttempts(ctx context.Context, id string) (int, error) {
	var attempts int
	err := s.db.QueryRowContext(ctx, `
		UPDATE reactive_jobs SET attempts = attempts + 1 WHERE id = $1 RETURNING attempts
	`, id).Scan(&attempts)
	if err == sql.ErrNoRows {
		return 0, store.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: increment job attempts: %w", err)
	}
	return attempts, nil
}

func scanJob(row rowScanner) (*models.ReactiveJob, error) {
	var (
		j                  models.ReactiveJob
		mode, status       string
		payload            []byte
		classification     []byte
		approvalID         sql.NullString
		result             []byte
		errMsg             sql.NullString
		startedAt          sql.NullTime
		finishedAt         sql.NullTime
	)
	err := row.Scan(&j.ID, &j.ThreadID, &j.TriggerMessageID, &mode, &status, &payload, &classification,
		&approvalID, &result, &errMsg, &j.Attempts, &j.Confirmed, &j.CreatedAt, &startedAt, &finishedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan job: %w", err)
	}
	j.Mode = models.JobMode(mode)
	j.Status = models.JobStatus(status)
	j.ApprovalID = approvalID.String
	j.Error = errMsg.String
	j.StartedAt = timePtr(startedAt)
	j.FinishedAt = timePtr(finishedAt)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &j.Payload); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal job payload: %w", err)
		}
	}
	if len(classification) > 0 {
		var c models.Classification
		if err := json.Unmarshal(classification, &c); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal classification: %w", err)
		}
		j.Classification = &c
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &j.Result); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal job result: %w", err)
		}
	}
	return &j, nil
}
