// Package scheduler implements the Proactive Scheduler (spec §4.6): a
// single-instance loop that spends the self-directed token budget on the
// task backlog, throttled by how much of the daily budget remains.
package scheduler

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/conductorhq/core/internal/backoff"
	"github.com/conductorhq/core/internal/ledger"
	obs "github.com/conductorhq/core/internal/obs"
	"github.com/conductorhq/core/internal/platform"
	"github.com/conductorhq/core/internal/store"
	"github.com/conductorhq/core/internal/toolgate"
)

// ErrLockLost is returned by a Locker when another instance has taken over
// the lock (this instance's lease lapsed before it renewed).
var ErrLockLost = errors.New("scheduler: leader lock lost")

// Config configures a Scheduler.
type Config struct {
	MinInterval       time.Duration
	MaxInterval       time.Duration
	MaxToolIterations int
	LockRetryInterval time.Duration
	DailyTokenLimit   int64
	ContextWindow     int // how many sibling tasks to fold into the compact context

	// MasterChatID, if set, receives a notice whenever a master-sourced
	// task is decomposed instead of completed (spec §4.6 "Master is
	// notified if the task is master-sourced").
	MasterChatID string

	Provider      string
	ExecutorModel string
}

func (c Config) withDefaults() Config {
	if c.MinInterval <= 0 {
		c.MinInterval = 60 * time.Second
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = time.Hour
	}
	if c.MaxToolIterations <= 0 {
		c.MaxToolIterations = 5
	}
	if c.LockRetryInterval <= 0 {
		c.LockRetryInterval = 5 * time.Second
	}
	if c.ContextWindow <= 0 {
		c.ContextWindow = 10
	}
	return c
}

// Scheduler is the Proactive Scheduler (C6).
type Scheduler struct {
	tasks   store.TaskStore
	memory  store.MemoryStore
	model   platform.ModelAdapter
	chat    platform.ChatAdapter
	gate    *toolgate.Gate
	ledger  *ledger.Ledger
	lock    Locker
	logger  *obs.Logger
	cfg     Config
}

// New constructs a Scheduler. lock may be nil, in which case a NoopLocker is
// used (appropriate when only one instance is ever deployed). chat may be
// nil if MasterChatID is never set. logger may be nil.
func New(tasks store.TaskStore, memory store.MemoryStore, model platform.ModelAdapter, chat platform.ChatAdapter, gate *toolgate.Gate, led *ledger.Ledger, lock Locker, logger *obs.Logger, cfg Config) *Scheduler {
	cfg = cfg.withDefaults()
	if lock == nil {
		lock = NoopLocker{}
	}
	if logger == nil {
		logger = obs.NewLogger(obs.LogConfig{Level: "error", Format: "json", Output: io.Discard})
	}
	return &Scheduler{
		tasks:  tasks,
		memory: memory,
		model:  model,
		chat:   chat,
		gate:   gate,
		ledger: led,
		lock:   lock,
		logger: logger,
		cfg:    cfg,
	}
}

// Run acquires the leader lock and then cycles until ctx is canceled. It
// returns nil on a clean shutdown and a non-nil error only if the lock could
// never be acquired before ctx was canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.acquireLock(ctx) {
		return ctx.Err()
	}
	defer func() {
		if err := s.lock.Release(context.Background()); err != nil {
			s.logger.Error(ctx, "scheduler: release lock failed", "error", err)
		}
	}()

	renewCtx, stopRenew := context.WithCancel(ctx)
	defer stopRenew()
	go s.renewLoop(renewCtx)

	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := s.runCycle(ctx); err != nil {
			s.logger.Error(ctx, "scheduler: cycle failed", "error", err)
		}
		sleepDur := s.nextSleep(ctx)
		if !s.sleepInterruptible(ctx, sleepDur) {
			return nil
		}
	}
}

func (s *Scheduler) acquireLock(ctx context.Context) bool {
	ticker := time.NewTicker(s.cfg.LockRetryInterval)
	defer ticker.Stop()
	for {
		ok, err := s.lock.TryAcquire(ctx)
		if err != nil {
			s.logger.Error(ctx, "scheduler: acquire lock failed", "error", err)
		} else if ok {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) renewLoop(ctx context.Context) {
	interval := s.cfg.LockRetryInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.lock.Renew(ctx); err != nil {
				s.logger.Error(ctx, "scheduler: renew lock failed", "error", err)
			}
		}
	}
}

// nextSleep computes the throttle before the next cycle from the
// budget-adaptive table in spec §4.6, clamped to [MinInterval, MaxInterval].
func (s *Scheduler) nextSleep(ctx context.Context) time.Duration {
	status, err := s.ledger.BudgetStatus(ctx, time.Now(), s.cfg.DailyTokenLimit)
	if err != nil {
		s.logger.Error(ctx, "scheduler: budget status failed", "error", err)
		return s.cfg.MinInterval
	}
	return sleepForRatio(status.UsageRatio, s.cfg)
}

func sleepForRatio(ratio float64, cfg Config) time.Duration {
	if ratio >= 1.0 {
		return untilNextUTCMidnight(time.Now())
	}
	var d time.Duration
	switch {
	case ratio >= 0.75:
		d = time.Hour
	case ratio >= 0.50:
		d = 15 * time.Minute
	case ratio >= 0.25:
		d = 5 * time.Minute
	default:
		d = time.Minute
	}
	if d < cfg.MinInterval {
		d = cfg.MinInterval
	}
	if cfg.MaxInterval > 0 && d > cfg.MaxInterval {
		d = cfg.MaxInterval
	}
	return jitterSleep(d, cfg)
}

// jitterSleep adds up to 10% positive jitter to a throttle interval so that
// every scheduler instance contending for the leader lock doesn't wake on
// the exact same tick. Reuses the jittered-backoff helper the rest of this
// module already depends on for retry delays, here with Factor 1 so the
// base interval itself never grows across calls.
func jitterSleep(d time.Duration, cfg Config) time.Duration {
	jittered := backoff.ComputeBackoff(backoff.BackoffPolicy{
		InitialMs: float64(d.Milliseconds()),
		MaxMs:     float64(d.Milliseconds()) * 1.1,
		Factor:    1,
		Jitter:    0.1,
	}, 1)
	if cfg.MaxInterval > 0 && jittered > cfg.MaxInterval {
		jittered = cfg.MaxInterval
	}
	return jittered
}

func untilNextUTCMidnight(now time.Time) time.Duration {
	now = now.UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	return midnight.Sub(now)
}

// sleepInterruptible sleeps for d or until ctx is canceled, returning false
// in the latter case so the caller can shut down immediately.
func (s *Scheduler) sleepInterruptible(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
