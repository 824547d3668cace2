package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	cenkaltibackoff "github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/conductorhq/core/internal/platform"
	"github.com/conductorhq/core/internal/store"
	"github.com/conductorhq/core/pkg/models"
)

// runClassify is the classify dispatch arm (spec §4.3). Transient classifier
// failures are retried by requeuing the job up to MaxJobAttempts rather than
// blocking the worker, so a flaky provider never pins a worker loop.
func (p *Pool) runClassify(ctx context.Context, job *models.ReactiveJob) error {
	history, err := p.recentContext(ctx, job.ThreadID)
	if err != nil {
		return fmt.Errorf("worker: load context: %w", err)
	}

	cctx, cancel := withDeadline(ctx, p.cfg.ClassifierDeadline)
	defer cancel()

	result, err := p.classifyBreaker.Execute(func() (platform.ClassifyResult, error) {
		return p.model.Classify(cctx, platform.ClassifyRequest{Messages: history, Deadline: deadlineOf(cctx)})
	})
	if err != nil {
		return p.retryOrFailClassify(ctx, job, err)
	}

	classification := &models.Classification{
		Intent:            result.Intent,
		Summary:           result.Summary,
		Plan:              result.Plan,
		NeedsConfirmation: result.NeedsConfirmation,
		Confidence:        result.Confidence,
	}
	if err := p.jobs.SetJobClassification(ctx, job.ID, classification); err != nil {
		return fmt.Errorf("worker: persist classification: %w", err)
	}
	p.recordLedger(ctx, models.ScopeReactive, p.cfg.ClassifierModel, result.Usage, map[string]any{"job_id": job.ID, "thread_id": job.ThreadID})

	next := &models.ReactiveJob{
		ID:               uuid.NewString(),
		ThreadID:         job.ThreadID,
		TriggerMessageID: job.TriggerMessageID,
		Classification:   classification,
		Status:           models.JobQueued,
	}
	if !classification.NeedsConfirmation && classification.Intent == "chat" {
		next.Mode = models.JobModeAnswer
	} else {
		next.Mode = models.JobModeExecute
	}
	if err := p.jobs.CreateJob(ctx, next); err != nil {
		return fmt.Errorf("worker: enqueue %s job: %w", next.Mode, err)
	}

	return p.jobs.UpdateJobStatus(ctx, job.ID, models.JobRunning, models.JobDone, map[string]any{"next_job_id": next.ID}, "")
}

func (p *Pool) retryOrFailClassify(ctx context.Context, job *models.ReactiveJob, causeErr error) error {
	attempts, err := p.jobs.IncrementJobAttempts(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("worker: increment attempts: %w", err)
	}
	if attempts < p.cfg.MaxJobAttempts {
		if err := p.jobs.UpdateJobStatus(ctx, job.ID, models.JobRunning, models.JobQueued, nil, causeErr.Error()); err != nil && !errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("worker: requeue classify job: %w", err)
		}
		// Give the classifier provider a breather scaled to how many times
		// this job has already failed, instead of hammering it every
		// PollInterval on a transient failure. The job itself is already
		// requeued, so a shutdown mid-sleep must not be reported as a
		// dispatch failure.
		sleepWithContext(ctx, classifyRetryDelay(attempts))
		return nil
	}
	return p.jobs.UpdateJobStatus(ctx, job.ID, models.JobRunning, models.JobFailed, nil, causeErr.Error())
}

// classifyRetryDelay fast-forwards a cenkalti/backoff/v4 ExponentialBackOff
// to the interval it would have reached after `attempts` failures, giving
// the requeue a structured, capped exponential delay rather than a single
// fixed pause.
func classifyRetryDelay(attempts int) time.Duration {
	eb := cenkaltibackoff.NewExponentialBackOff()
	eb.InitialInterval = 500 * time.Millisecond
	eb.MaxInterval = 30 * time.Second
	eb.MaxElapsedTime = 0 // uncapped; p.cfg.MaxJobAttempts is what actually bounds retries
	eb.Reset()

	var d time.Duration
	for i := 0; i < attempts; i++ {
		d = eb.NextBackOff()
	}
	return d
}

func sleepWithContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
