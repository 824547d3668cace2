// Package store defines the persistence contracts for every entity the
// orchestration core manages. Concrete implementations live in the
// postgres and memstore subpackages; callers depend on these interfaces
// only, the way the teacher's storage package separates interfaces from
// its cockroach/memory backends.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/conductorhq/core/pkg/models"
)

// Sentinel errors returned by every implementation, wrapped with %w so
// callers can errors.Is against them regardless of backend.
var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
	// ErrConflict is returned when an optimistic status guard fails: the
	// row was not in the expected state when the caller tried to transition it.
	ErrConflict = errors.New("store: conflict")
)

// ThreadStore persists conversation threads, keyed by the natural
// (Platform, ExternalChatID) pair.
type ThreadStore interface {
	UpsertThread(ctx context.Context, platform, externalChatID, chatType, title string) (*models.Thread, error)
	GetThread(ctx context.Context, id string) (*models.Thread, error)
}

// MessageStore persists the message history of a thread.
type MessageStore interface {
	// InsertMessage is a no-op returning the existing row (not ErrAlreadyExists)
	// when a message with the same (ThreadID, ExternalID) already exists, so
	// ingest retries stay idempotent.
	InsertMessage(ctx context.Context, msg *models.Message) (*models.Message, error)
	MarkEdited(ctx context.Context, threadID, externalID, newText string, editedAt time.Time) (*models.Message, error)
	RecentMessages(ctx context.Context, threadID string, limit int) ([]*models.Message, error)
}

// ArtifactStore persists attachment metadata and retry state.
type ArtifactStore interface {
	CreateArtifact(ctx context.Context, a *models.Artifact) error
	GetArtifact(ctx context.Context, id string) (*models.Artifact, error)
	UpdateArtifactStatus(ctx context.Context, id string, status models.ArtifactStatus, errMsg string) error
	IncrementArtifactAttempts(ctx context.Context, id string) (int, error)
	PendingArtifacts(ctx context.Context, limit int) ([]*models.Artifact, error)
	PruneArtifacts(ctx context.Context, olderThan time.Duration) (int64, error)
	// ArtifactsForMessage returns every artifact attached to a message,
	// oldest first, so callers building model context can inline done
	// artifacts alongside the message they were attached to (spec §4.3).
	ArtifactsForMessage(ctx context.Context, messageID string) ([]*models.Artifact, error)
}

// JobStore persists reactive jobs and implements the claim-and-skip
// dispatch primitive the worker pool polls.
type JobStore interface {
	CreateJob(ctx context.Context, job *models.ReactiveJob) error
	GetJob(ctx context.Context, id string) (*models.ReactiveJob, error)
	// ClaimNextJob atomically selects and marks running the oldest queued
	// job not locked by another worker, or (nil, nil) if none is available.
	ClaimNextJob(ctx context.Context, workerID string) (*models.ReactiveJob, error)
	// UpdateJobStatus applies status with an optimistic guard on fromStatus;
	// ErrConflict is returned if the row has since moved to a different status.
	UpdateJobStatus(ctx context.Context, id string, fromStatus, toStatus models.JobStatus, result map[string]any, errMsg string) error
	SetJobClassification(ctx context.Context, id string, c *models.Classification) error
	// SetJobApproval links a job to the Approval the Approval Coordinator
	// created for it.
	SetJobApproval(ctx context.Context, id, approvalID string) error
	// SupersedeQueued marks every queued/awaiting_approval job on the thread
	// superseded except keepID, returning how many rows changed.
	SupersedeQueued(ctx context.Context, threadID, keepID string) (int, error)
	// StaleRunningJobs returns jobs stuck in running past the grace period,
	// for the reaper to requeue or fail.
	StaleRunningJobs(ctx context.Context, olderThan time.Duration) ([]*models.ReactiveJob, error)
	IncrementJobAttempts(ctx context.Context, id string) (int, error)
}

// ApprovalStore persists master-facing confirmation requests.
type ApprovalStore interface {
	CreateApproval(ctx context.Context, a *models.Approval) error
	GetApproval(ctx context.Context, id string) (*models.Approval, error)
	// PendingApprovalForThread returns the single pending approval on a
	// thread, or (nil, nil) if there is none, enforcing the one-pending
	// invariant at read time.
	PendingApprovalForThread(ctx context.Context, threadID string) (*models.Approval, error)
	// ResolveApproval transitions a pending approval to approved/denied,
	// guarded on it still being pending.
	ResolveApproval(ctx context.Context, id string, status models.ApprovalStatus) (*models.Approval, error)
	// ExpireApprovals transitions every pending approval created before
	// `before` to expired, returning the rows that changed so the caller
	// can cascade-fail their owning jobs.
	ExpireApprovals(ctx context.Context, before time.Time) ([]*models.Approval, error)
}

// ToolApprovalStore persists gated-tool confirmation requests raised
// mid-execution by the Tool Registry & Gate.
type ToolApprovalStore interface {
	CreateToolApproval(ctx context.Context, ta *models.ToolApproval) error
	GetToolApproval(ctx context.Context, id string) (*models.ToolApproval, error)
	ResolveToolApproval(ctx context.Context, id string, status models.ToolApprovalStatus) (*models.ToolApproval, error)
	ExpireToolApprovals(ctx context.Context, before time.Time) (int, error)
}

// LedgerStore persists the append-only token ledger.
type LedgerStore interface {
	AppendLedgerEntry(ctx context.Context, e *models.LedgerEntry) error
	// SumTokens returns total tokens recorded for scope between [since, until).
	SumTokens(ctx context.Context, scope models.LedgerScope, since, until time.Time) (int64, error)
}

// DeploymentStore persists deployment attempts.
type DeploymentStore interface {
	CreateDeployment(ctx context.Context, d *models.Deployment) error
	GetDeployment(ctx context.Context, id string) (*models.Deployment, error)
	UpdateDeploymentStatus(ctx context.Context, id string, fromStatus, toStatus models.DeploymentStatus, report map[string]any, rollbackReason string) error
	LatestHealthyDeployment(ctx context.Context, branch string) (*models.Deployment, error)
	// ActiveDeployment returns the non-terminal deployment on branch, if
	// any (ErrNotFound otherwise), so Start can reject a concurrent attempt
	// (spec §4.8 "rejects if another non-terminal exists").
	ActiveDeployment(ctx context.Context, branch string) (*models.Deployment, error)
}

// MemoryStore persists the proactive loop's durable key/value notes.
type MemoryStore interface {
	PutMemory(ctx context.Context, m *models.AgentMemory) error
	GetMemory(ctx context.Context, key string) (*models.AgentMemory, error)
	ListMemory(ctx context.Context, category string) ([]*models.AgentMemory, error)
	DeleteMemory(ctx context.Context, key string) error
}

// TaskStore persists the Task/Goal backlog (Goal is Task with Kind == goal).
type TaskStore interface {
	CreateTask(ctx context.Context, t *models.Task) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	UpdateTaskStatus(ctx context.Context, id string, status models.TaskStatus) error
	// NextPendingTask returns the highest-priority pending task per the
	// master-first/priority/creation-order rule, or (nil, nil) if the
	// backlog is empty.
	NextPendingTask(ctx context.Context) (*models.Task, error)
	ChildTasks(ctx context.Context, parentID string) ([]*models.Task, error)
	ListTasksByGoal(ctx context.Context, goalID string) ([]*models.Task, error)
}

// Store aggregates every sub-store the orchestration core depends on,
// mirroring the teacher's StoreSet grouping pattern.
type Store interface {
	ThreadStore
	MessageStore
	ArtifactStore
	JobStore
	ApprovalStore
	ToolApprovalStore
	LedgerStore
	DeploymentStore
	MemoryStore
	TaskStore

	Close() error
}
