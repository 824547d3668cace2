// Package memstore is an in-memory implementation of the store package's
// interfaces, used by component tests the way the teacher's jobs.MemoryStore
// backs tests for internal/jobs without a database.
package memstore

import (
	"sync"

	"github.com/google/uuid"

	"github.com/conductorhq/core/internal/store"
	"github.com/conductorhq/core/pkg/models"
)

// Store is a mutex-guarded in-memory Store. Every getter returns a deep
// copy so callers cannot mutate state behind the lock.
type Store struct {
	mu sync.RWMutex

	threads       map[string]*models.Thread
	threadsByKey  map[string]string // platform|externalChatID -> id
	messages      map[string]*models.Message
	messagesOrder []string
	artifacts     map[string]*models.Artifact
	jobs          map[string]*models.ReactiveJob
	approvals     map[string]*models.Approval
	toolApprovals map[string]*models.ToolApproval
	ledger        []*models.LedgerEntry
	deployments   map[string]*models.Deployment
	memory        map[string]*models.AgentMemory
	tasks         map[string]*models.Task
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		threads:       make(map[string]*models.Thread),
		threadsByKey:  make(map[string]string),
		messages:      make(map[string]*models.Message),
		artifacts:     make(map[string]*models.Artifact),
		jobs:          make(map[string]*models.ReactiveJob),
		approvals:     make(map[string]*models.Approval),
		toolApprovals: make(map[string]*models.ToolApproval),
		deployments:   make(map[string]*models.Deployment),
		memory:        make(map[string]*models.AgentMemory),
		tasks:         make(map[string]*models.Task),
	}
}

// Close is a no-op; nothing to release.
func (s *Store) Close() error { return nil }

var _ store.Store = (*Store)(nil)

func newID() string { return uuid.NewString() }

func threadKey(platform, externalChatID string) string {
	return platform + "|" + externalChatID
}
