package models

import "time"

// DeploymentStatus is the state machine for a promotion attempt.
// building -> testing -> deploying -> healthy on success; any step may fail;
// post-deploying verification failure moves to rolled_back.
type DeploymentStatus string

const (
	DeployBuilding   DeploymentStatus = "building"
	DeployTesting    DeploymentStatus = "testing"
	DeployDeploying  DeploymentStatus = "deploying"
	DeployHealthy    DeploymentStatus = "healthy"
	DeployRolledBack DeploymentStatus = "rolled_back"
	DeployFailed     DeploymentStatus = "failed"
)

// IsTerminal reports whether the deployment has reached a final state.
func (s DeploymentStatus) IsTerminal() bool {
	switch s {
	case DeployHealthy, DeployRolledBack, DeployFailed:
		return true
	default:
		return false
	}
}

// Deployment is one attempt to promote a commit, with verify-then-promote-
// or-rollback semantics.
type Deployment struct {
	ID             string           `json:"id"`
	CommitID       string           `json:"commit_id"`
	Branch         string           `json:"branch"`
	Status         DeploymentStatus `json:"status"`
	StartedAt      time.Time        `json:"started_at"`
	FinishedAt     *time.Time       `json:"finished_at,omitempty"`
	Report         map[string]any   `json:"report,omitempty"`
	RollbackReason string           `json:"rollback_reason,omitempty"`
}
