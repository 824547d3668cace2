// Package worker implements the Reactive Worker Pool (spec §4.3): N
// cooperative loops that claim queued jobs and dispatch them through the
// classify/execute/answer state machine, plus a reaper that requeues jobs
// abandoned by a crashed worker.
package worker

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/conductorhq/core/internal/approval"
	"github.com/conductorhq/core/internal/ledger"
	obs "github.com/conductorhq/core/internal/obs"
	"github.com/conductorhq/core/internal/platform"
	"github.com/conductorhq/core/internal/store"
	"github.com/conductorhq/core/internal/toolgate"
	"github.com/conductorhq/core/pkg/models"
)

// Config configures a Pool.
type Config struct {
	Workers            int
	ContextWindow      int
	ClassifierDeadline time.Duration
	ExecutorDeadline   time.Duration
	PollInterval       time.Duration
	ReaperGrace        time.Duration
	ReaperInterval     time.Duration
	MaxJobAttempts     int

	// Provider/ClassifierModel/ExecutorModel label outbound LedgerEntry
	// rows; the ModelAdapter port itself is provider-agnostic (spec §6.2).
	Provider        string
	ClassifierModel string
	ExecutorModel   string
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.ContextWindow <= 0 {
		c.ContextWindow = 30
	}
	if c.ClassifierDeadline <= 0 {
		c.ClassifierDeadline = 30 * time.Second
	}
	if c.ExecutorDeadline <= 0 {
		c.ExecutorDeadline = 120 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	if c.ReaperGrace <= 0 {
		c.ReaperGrace = 30 * time.Second
	}
	if c.ReaperInterval <= 0 {
		c.ReaperInterval = 15 * time.Second
	}
	if c.MaxJobAttempts <= 0 {
		c.MaxJobAttempts = 3
	}
	return c
}

// Pool is the Reactive Worker Pool (C3).
type Pool struct {
	jobs      store.JobStore
	threads   store.ThreadStore
	messages  store.MessageStore
	artifacts store.ArtifactStore
	model     platform.ModelAdapter
	chat      platform.ChatAdapter
	gate      *toolgate.Gate
	approvals *approval.Coordinator
	ledger    *ledger.Ledger
	logger    *obs.Logger
	cfg       Config

	classifyBreaker *gobreaker.CircuitBreaker[platform.ClassifyResult]
	executeBreaker  *gobreaker.CircuitBreaker[executeOutcome]
}

// New constructs a Pool. logger may be nil, in which case a discard logger
// is used.
func New(jobs store.JobStore, threads store.ThreadStore, messages store.MessageStore, artifacts store.ArtifactStore, model platform.ModelAdapter, chat platform.ChatAdapter, gate *toolgate.Gate, approvals *approval.Coordinator, led *ledger.Ledger, logger *obs.Logger, cfg Config) *Pool {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = obs.NewLogger(obs.LogConfig{Level: "error", Format: "json", Output: io.Discard})
	}
	return &Pool{
		jobs:      jobs,
		threads:   threads,
		messages:  messages,
		artifacts: artifacts,
		model:     model,
		chat:      chat,
		gate:      gate,
		approvals: approvals,
		ledger:    led,
		logger:    logger,
		cfg:       cfg,
		classifyBreaker: gobreaker.NewCircuitBreaker[platform.ClassifyResult](gobreaker.Settings{
			Name:        "classifier",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 5 },
		}),
		executeBreaker: gobreaker.NewCircuitBreaker[executeOutcome](gobreaker.Settings{
			Name:        "executor",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     time.Minute,
			ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 5 },
		}),
	}
}

// Run starts Workers cooperative loops and a reaper goroutine, blocking
// until ctx is canceled. Every loop and the reaper respond to cancellation
// within one poll/reaper interval (spec §5 "graceful shutdown").
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		workerID := workerIDFor(i)
		go func() {
			defer wg.Done()
			p.loop(ctx, workerID)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.reaperLoop(ctx)
	}()
	wg.Wait()
}

func (p *Pool) loop(ctx context.Context, workerID string) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(ctx, workerID)
		}
	}
}

func (p *Pool) pollOnce(ctx context.Context, workerID string) {
	job, err := p.jobs.ClaimNextJob(ctx, workerID)
	if err != nil {
		p.logger.Error(ctx, "claim next job failed", "worker_id", workerID, "error", err)
		return
	}
	if job == nil {
		return
	}
	if err := p.safeDispatch(ctx, job); err != nil {
		p.logger.Error(ctx, "job dispatch failed", "job_id", job.ID, "mode", job.Mode, "error", err)
		_ = p.jobs.UpdateJobStatus(ctx, job.ID, models.JobRunning, models.JobFailed, nil, err.Error())
	}
}

// safeDispatch recovers a panic inside dispatch and reports it as an
// ordinary error, so a single misbehaving job fails instead of killing the
// worker goroutine (spec §7 "unexpected panics in a worker must be caught
// so the pool continues").
func (p *Pool) safeDispatch(ctx context.Context, job *models.ReactiveJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error(ctx, "job dispatch panicked", "job_id", job.ID, "mode", job.Mode, "panic", r)
			err = fmt.Errorf("job dispatch panicked: %v", r)
		}
	}()
	return p.dispatch(ctx, job)
}

func (p *Pool) dispatch(ctx context.Context, job *models.ReactiveJob) error {
	switch job.Mode {
	case models.JobModeClassify:
		return p.runClassify(ctx, job)
	case models.JobModeExecute:
		return p.runExecute(ctx, job)
	case models.JobModeAnswer:
		return p.runAnswer(ctx, job)
	default:
		return p.jobs.UpdateJobStatus(ctx, job.ID, models.JobRunning, models.JobFailed, nil, "unknown job mode")
	}
}

// recentContext loads the thread's recent message history and inlines each
// message's done artifacts onto it, so a classifier/executor call sees
// attachment results alongside the turn that produced them (spec §4.3).
func (p *Pool) recentContext(ctx context.Context, threadID string) ([]*models.Message, error) {
	history, err := p.messages.RecentMessages(ctx, threadID, p.cfg.ContextWindow)
	if err != nil {
		return nil, err
	}
	for _, msg := range history {
		artifacts, err := p.artifacts.ArtifactsForMessage(ctx, msg.ID)
		if err != nil {
			return nil, fmt.Errorf("worker: load artifacts for message %s: %w", msg.ID, err)
		}
		for _, a := range artifacts {
			if a.Status == models.ArtifactDone {
				msg.Artifacts = append(msg.Artifacts, a)
			}
		}
	}
	return history, nil
}

func (p *Pool) recordLedger(ctx context.Context, scope models.LedgerScope, model string, usage platform.ToolUsage, meta map[string]any) {
	_, err := p.ledger.Record(ctx, scope, p.cfg.Provider, model, ledger.Usage{InputTokens: usage.InputTokens, OutputTokens: usage.OutputTokens}, meta)
	if err != nil {
		p.logger.Error(ctx, "ledger record failed", "error", err)
	}
}

func workerIDFor(i int) string {
	return "reactive-worker-" + strconv.Itoa(i)
}

// withDeadline bounds a classifier/executor call (spec §4.3 D_c, D_e).
func withDeadline(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d)
}
