package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/conductorhq/core/internal/store"
	"github.com/conductorhq/core/pkg/models"
)

func (s *Store) CreateJob(ctx context.Context, job *models.ReactiveJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	clone := *job
	s.jobs[job.ID] = &clone
	return nil
}

func (s *Store) GetJob(ctx context.Context, id string) (*models.ReactiveJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	clone := *j
	return &clone, nil
}

// ClaimNextJob is a single-process analogue of the Postgres SKIP LOCKED
// query: under the store's own mutex there is no concurrent claimant to
// skip, so it simply picks the oldest queued job.
func (s *Store) ClaimNextJob(ctx context.Context, workerID string) (*models.ReactiveJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []*models.ReactiveJob
	for _, j := range s.jobs {
		if j.Status == models.JobQueued {
			candidates = append(candidates, j)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, k int) bool {
		return candidates[i].CreatedAt.Before(candidates[k].CreatedAt)
	})
	j := candidates[0]
	now := time.Now()
	j.Status = models.JobRunning
	j.StartedAt = &now
	clone := *j
	return &clone, nil
}

func (s *Store) UpdateJobStatus(ctx context.Context, id string, fromStatus, toStatus models.JobStatus, result map[string]any, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Status != fromStatus {
		return store.ErrConflict
	}
	j.Status = toStatus
	j.Result = result
	j.Error = errMsg
	if toStatus.IsTerminal() {
		now := time.Now()
		j.FinishedAt = &now
	}
	return nil
}

func (s *Store) SetJobClassification(ctx context.Context, id string, c *models.Classification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	j.Classification = c
	return nil
}

func (s *Store) SetJobApproval(ctx context.Context, id, approvalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	j.ApprovalID = approvalID
	return nil
}

func (s *Store) SupersedeQueued(ctx context.Context, threadID, keepID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var n int
	for _, j := range s.jobs {
		if j.ThreadID != threadID || j.ID == keepID {
			continue
		}
		if j.Status == models.JobQueued || j.Status == models.JobAwaitingApproval {
			j.Status = models.JobSuperseded
			j.FinishedAt = &now
			n++
		}
	}
	return n, nil
}

func (s *Store) StaleRunningJobs(ctx context.Context, olderThan time.Duration) ([]*models.ReactiveJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cutoff := time.Now().Add(-olderThan)
	var out []*models.ReactiveJob
	for _, j := range s.jobs {
		if j.Status == models.JobRunning && j.StartedAt != nil && j.StartedAt.Before(cutoff) {
			clone := *j
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (s *Store) IncrementJobAttempts(ctx context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return 0, store.ErrNotFound
	}
	j.Attempts++
	return j.Attempts, nil
}
