package worker

import (
	"context"
	"errors"
	"time"

	"github.com/conductorhq/core/internal/store"
	"github.com/conductorhq/core/pkg/models"
)

// reaperLoop periodically requeues jobs a crashed worker left running past
// D_e + grace, failing them once they exceed MaxJobAttempts (spec §4.3,
// §5 "running job exceeding started_at + D_e + grace is a crash suspect").
func (p *Pool) reaperLoop(ctx context.Context) {
	staleAfter := p.cfg.ExecutorDeadline + p.cfg.ReaperGrace
	ticker := time.NewTicker(p.cfg.ReaperInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.reapOnce(ctx, staleAfter)
		}
	}
}

func (p *Pool) reapOnce(ctx context.Context, staleAfter time.Duration) {
	stale, err := p.jobs.StaleRunningJobs(ctx, staleAfter)
	if err != nil {
		p.logger.Error(ctx, "reaper: list stale running jobs failed", "error", err)
		return
	}
	for _, job := range stale {
		attempts, err := p.jobs.IncrementJobAttempts(ctx, job.ID)
		if err != nil {
			p.logger.Error(ctx, "reaper: increment attempts failed", "job_id", job.ID, "error", err)
			continue
		}
		var updateErr error
		if attempts < p.cfg.MaxJobAttempts {
			updateErr = p.jobs.UpdateJobStatus(ctx, job.ID, models.JobRunning, models.JobQueued, nil, "reaped: worker crash suspected")
		} else {
			updateErr = p.jobs.UpdateJobStatus(ctx, job.ID, models.JobRunning, models.JobFailed, nil, "max_attempts_exceeded")
		}
		if updateErr != nil && !errors.Is(updateErr, store.ErrConflict) {
			p.logger.Error(ctx, "reaper: update job status failed", "job_id", job.ID, "error", updateErr)
		}
	}
}
