// Package approval implements the Approval Coordinator (spec §4.4): at most
// one pending Approval per thread, and guaranteed resolution either by
// callback, supersession, or expiry.
//
// Nothing here blocks a goroutine on a human's response. request_approval
// stores the Approval and returns; the job it belongs to sits in
// awaiting_approval until a later callback, supersession, or the expiry
// sweep resumes it — the store-then-return-then-resume pattern spec §9
// calls out in place of the teacher's in-process channel wait
// (internal/agent.ApprovalChecker blocks a goroutine on a pendingStore
// entry; a multi-process worker pool cannot share that goroutine).
package approval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/conductorhq/core/internal/backoff"
	"github.com/conductorhq/core/internal/platform"
	"github.com/conductorhq/core/internal/store"
	"github.com/conductorhq/core/pkg/models"
)

// ErrNotAnApprovalTag is returned by ParseTag when the callback tag does not
// have the "approval:<id>" shape the Coordinator owns.
var ErrNotAnApprovalTag = errors.New("approval: callback tag is not an approval tag")

const tagPrefix = "approval:"

// Tag renders the opaque control tag a chat adapter must echo back.
func Tag(approvalID string) string {
	return tagPrefix + approvalID
}

// ParseTag extracts the approval id from a callback tag.
func ParseTag(tag string) (string, error) {
	if !strings.HasPrefix(tag, tagPrefix) {
		return "", ErrNotAnApprovalTag
	}
	id := strings.TrimPrefix(tag, tagPrefix)
	if id == "" {
		return "", ErrNotAnApprovalTag
	}
	return id, nil
}

// Coordinator implements request_approval, handle_callback,
// supersede_for_thread and expire_due exactly as spec.md §4.4 describes
// them.
type Coordinator struct {
	jobs        store.JobStore
	approvals   store.ApprovalStore
	chat        platform.ChatAdapter
	timeout     time.Duration
	redis       *redis.Client
	wakeChannel string
}

// Config configures a Coordinator.
type Config struct {
	// Timeout is T_approval (spec §6.4 approval_timeout_seconds, default 3600s).
	Timeout time.Duration

	// Redis and WakeChannel are optional. When set, every approval
	// resolution (callback, supersession, or expiry) publishes the
	// approval's id to WakeChannel so a gated-tool poll waiting on the same
	// channel (internal/toolgate.Gate) wakes early instead of on its next
	// tick (spec §10.2).
	Redis       *redis.Client
	WakeChannel string
}

// New constructs a Coordinator.
func New(jobs store.JobStore, approvals store.ApprovalStore, chat platform.ChatAdapter, cfg Config) *Coordinator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Hour
	}
	if cfg.Redis != nil && cfg.WakeChannel == "" {
		cfg.WakeChannel = "conductor:approval:wake"
	}
	return &Coordinator{jobs: jobs, approvals: approvals, chat: chat, timeout: cfg.Timeout, redis: cfg.Redis, wakeChannel: cfg.WakeChannel}
}

// publishWake notifies any subscriber that an approval resolved. Best
// effort: a publish failure is logged by the caller context, never fatal to
// the resolution itself.
func (c *Coordinator) publishWake(ctx context.Context, approvalID string) {
	if c.redis == nil {
		return
	}
	c.redis.Publish(ctx, c.wakeChannel, approvalID)
}

// RequestApproval renders a proposal from the job's classification, sends
// the outbound control message, creates the pending Approval, and
// transitions the job to awaiting_approval (spec §4.4 request_approval).
func (c *Coordinator) RequestApproval(ctx context.Context, job *models.ReactiveJob, chatExternalID string) (*models.Approval, error) {
	proposal := proposalText(job)

	approvalID := uuid.NewString()
	controlMessageID, err := c.chat.SendMessageWithControl(ctx, chatExternalID, proposal, platform.Control{
		Label: "Approve",
		Tag:   Tag(approvalID),
	})
	if err != nil {
		return nil, fmt.Errorf("approval: send control message: %w", err)
	}

	now := time.Now()
	a := &models.Approval{
		ID:               approvalID,
		ThreadID:         job.ThreadID,
		JobID:            job.ID,
		ProposalText:     proposal,
		ControlMessageID: controlMessageID,
		Status:           models.ApprovalPending,
		CreatedAt:        now,
		ExpiresAt:        now.Add(c.timeout),
	}
	if err := c.approvals.CreateApproval(ctx, a); err != nil {
		return nil, fmt.Errorf("approval: create approval: %w", err)
	}

	if err := c.jobs.SetJobApproval(ctx, job.ID, a.ID); err != nil {
		return nil, fmt.Errorf("approval: link job: %w", err)
	}
	if err := c.jobs.UpdateJobStatus(ctx, job.ID, models.JobRunning, models.JobAwaitingApproval, nil, ""); err != nil {
		return nil, fmt.Errorf("approval: transition job to awaiting_approval: %w", err)
	}
	return a, nil
}

// HandleCallback resolves the Approval named by event's callback tag.
// Duplicate callbacks (an already-resolved approval) are treated as no-ops
// per the spec's "duplicate callbacks are no-ops" invariant.
func (c *Coordinator) HandleCallback(ctx context.Context, event models.Event) error {
	if event.Callback == nil {
		return fmt.Errorf("approval: event has no callback")
	}
	id, err := ParseTag(event.Callback.Tag)
	if err != nil {
		return err
	}

	status := models.ApprovalRejected
	if isApproveData(event.Callback.Data) {
		status = models.ApprovalApproved
	}

	resolved, err := c.approvals.ResolveApproval(ctx, id, status)
	if errors.Is(err, store.ErrConflict) {
		// Already resolved (resolved, expired, or superseded) by a prior
		// callback or the expiry sweep; acknowledge and return.
		return nil
	}
	if err != nil {
		return fmt.Errorf("approval: resolve approval %s: %w", id, err)
	}
	c.publishWake(ctx, resolved.ID)

	if err := c.chat.EditOrAnnotate(ctx, resolved.ControlMessageID, approvalResolutionText(status)); err != nil {
		return fmt.Errorf("approval: annotate control message: %w", err)
	}

	job, err := c.jobs.GetJob(ctx, resolved.JobID)
	if err != nil {
		return fmt.Errorf("approval: load job %s: %w", resolved.JobID, err)
	}

	if status == models.ApprovalRejected {
		return c.jobs.UpdateJobStatus(ctx, job.ID, models.JobAwaitingApproval, models.JobCanceled, nil, "approval_rejected")
	}

	next := &models.ReactiveJob{
		ID:               uuid.NewString(),
		ThreadID:         job.ThreadID,
		TriggerMessageID: job.TriggerMessageID,
		Mode:             models.JobModeExecute,
		Status:           models.JobQueued,
		Classification:   job.Classification,
		Confirmed:        true,
	}
	if err := c.jobs.CreateJob(ctx, next); err != nil {
		return fmt.Errorf("approval: enqueue confirmed execute job: %w", err)
	}
	return c.jobs.UpdateJobStatus(ctx, job.ID, models.JobAwaitingApproval, models.JobDone, map[string]any{"next_job_id": next.ID}, "")
}

// SupersedeForThread cancels every pending approval on threadID and the jobs
// that own them, so a newer trigger message's classify job can own the next
// approval slot (spec §4.4 supersede_for_thread). Called by C2 before
// enqueueing the classify job for newMessageID.
func (c *Coordinator) SupersedeForThread(ctx context.Context, threadID string) (*models.Approval, error) {
	pending, err := c.approvals.PendingApprovalForThread(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("approval: find pending approval: %w", err)
	}
	if pending == nil {
		return nil, nil
	}

	resolved, err := c.approvals.ResolveApproval(ctx, pending.ID, models.ApprovalSuperseded)
	if errors.Is(err, store.ErrConflict) {
		// Lost the race to a callback or the expiry sweep; nothing to supersede.
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("approval: supersede approval %s: %w", pending.ID, err)
	}
	c.publishWake(ctx, resolved.ID)

	if err := c.jobs.UpdateJobStatus(ctx, resolved.JobID, models.JobAwaitingApproval, models.JobSuperseded, nil, ""); err != nil && !errors.Is(err, store.ErrConflict) {
		return nil, fmt.Errorf("approval: supersede owning job %s: %w", resolved.JobID, err)
	}
	return resolved, nil
}

// ExpireDue fails every pending approval whose expires_at has passed and
// cascades the failure onto each approval's owning job (spec §4.4
// expire_due). It is meant to run on a ticker no coarser than every 60s.
func (c *Coordinator) ExpireDue(ctx context.Context) (int, error) {
	expired, err := c.approvals.ExpireApprovals(ctx, time.Now())
	if err != nil {
		return 0, fmt.Errorf("approval: expire approvals: %w", err)
	}
	for _, a := range expired {
		if err := c.jobs.UpdateJobStatus(ctx, a.JobID, models.JobAwaitingApproval, models.JobFailed, nil, "approval_expired"); err != nil && !errors.Is(err, store.ErrConflict) {
			return 0, fmt.Errorf("approval: fail owning job %s: %w", a.JobID, err)
		}
		c.publishWake(ctx, a.ID)
	}
	return len(expired), nil
}

// RunExpirySweep calls ExpireDue on a fixed interval until ctx is canceled.
// A sweep that errors backs off with jitter before the next attempt instead
// of hammering the Store every interval; a successful sweep resets the
// backoff immediately back to the normal interval.
func (c *Coordinator) RunExpirySweep(ctx context.Context, interval time.Duration, onError func(error)) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	failures := 0
	timer := time.NewTimer(interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if _, err := c.ExpireDue(ctx); err != nil {
			failures++
			if onError != nil {
				onError(err)
			}
			timer.Reset(backoff.ComputeBackoff(backoff.ConservativePolicy(), failures))
			continue
		}
		failures = 0
		timer.Reset(interval)
	}
}

func proposalText(job *models.ReactiveJob) string {
	if job.Classification == nil {
		return "The assistant wants to take an action on this thread. Approve?"
	}
	if job.Classification.Plan != "" {
		return job.Classification.Plan
	}
	return job.Classification.Summary
}

func approvalResolutionText(status models.ApprovalStatus) string {
	if status == models.ApprovalApproved {
		return "Approved."
	}
	return "Declined."
}

// isApproveData treats an empty or "approve"/"yes" payload as an approval
// and anything else as a rejection; platforms with a single actionable
// control (spec §6.1) route both outcomes through the same tag, so the
// accompanying data disambiguates.
func isApproveData(data string) bool {
	switch strings.ToLower(strings.TrimSpace(data)) {
	case "", "approve", "approved", "yes":
		return true
	default:
		return false
	}
}
