// Package deploy implements the Deployment Controller (spec §4.8):
// verify-then-promote-or-rollback state machine for a single promotion
// attempt at a time.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	obs "github.com/conductorhq/core/internal/obs"
	"github.com/conductorhq/core/internal/store"
	"github.com/conductorhq/core/pkg/models"
)

// ErrDeploymentInProgress is returned by Start when a non-terminal
// deployment already exists.
var ErrDeploymentInProgress = errors.New("deploy: a deployment is already in progress")

// HealthProbe is the out-of-scope health check a real binding performs
// against the freshly deployed target (spec §4.8 verify "runs a health
// probe"). It reports whether the target is healthy and an optional
// structured report to attach to the Deployment.
type HealthProbe interface {
	Check(ctx context.Context) (healthy bool, report map[string]any, err error)
}

// HealthProbeFunc adapts a function to a HealthProbe.
type HealthProbeFunc func(ctx context.Context) (bool, map[string]any, error)

func (f HealthProbeFunc) Check(ctx context.Context) (bool, map[string]any, error) { return f(ctx) }

// Config configures a Controller.
type Config struct {
	HealthTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.HealthTimeout <= 0 {
		c.HealthTimeout = 60 * time.Second
	}
	return c
}

// Controller is the Deployment Controller (C8).
type Controller struct {
	deployments store.DeploymentStore
	probe       HealthProbe
	logger      *obs.Logger
	cfg         Config
}

// New constructs a Controller. logger may be nil.
func New(deployments store.DeploymentStore, probe HealthProbe, logger *obs.Logger, cfg Config) *Controller {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = obs.NewLogger(obs.LogConfig{Level: "error", Format: "json", Output: io.Discard})
	}
	return &Controller{deployments: deployments, probe: probe, logger: logger, cfg: cfg}
}

// Start creates a Deployment in building, rejecting if another non-terminal
// deployment is in flight (spec §4.8).
func (c *Controller) Start(ctx context.Context, commitID, branch, trigger string) (*models.Deployment, error) {
	if _, err := c.deployments.ActiveDeployment(ctx, branch); err == nil {
		return nil, ErrDeploymentInProgress
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("deploy: check active deployment: %w", err)
	}

	d := &models.Deployment{
		ID:        uuid.NewString(),
		CommitID:  commitID,
		Branch:    branch,
		Status:    models.DeployBuilding,
		StartedAt: time.Now(),
		Report:    map[string]any{"trigger": trigger},
	}
	if err := c.deployments.CreateDeployment(ctx, d); err != nil {
		return nil, fmt.Errorf("deploy: create deployment: %w", err)
	}
	return d, nil
}

// Advance performs a guarded transition, merging reportDelta into the
// Deployment's report.
func (c *Controller) Advance(ctx context.Context, id string, from, to models.DeploymentStatus, reportDelta map[string]any) error {
	if err := c.deployments.UpdateDeploymentStatus(ctx, id, from, to, reportDelta, ""); err != nil {
		return fmt.Errorf("deploy: advance %s->%s: %w", from, to, err)
	}
	return nil
}

// Verify runs the health probe against a deployment in `deploying` and
// either promotes it to healthy or rolls it back (spec §4.8 verify).
func (c *Controller) Verify(ctx context.Context, id string) (*models.Deployment, error) {
	pctx, cancel := context.WithTimeout(ctx, c.cfg.HealthTimeout)
	defer cancel()
	healthy, report, err := c.probe.Check(pctx)
	if err != nil {
		c.logger.Error(ctx, "deploy: health probe errored", "deployment_id", id, "error", err)
		if rbErr := c.Rollback(ctx, id, fmt.Sprintf("health probe error: %v", err)); rbErr != nil {
			return nil, rbErr
		}
		return c.deployments.GetDeployment(ctx, id)
	}
	if !healthy {
		if rbErr := c.Rollback(ctx, id, "health probe reported unhealthy"); rbErr != nil {
			return nil, rbErr
		}
		return c.deployments.GetDeployment(ctx, id)
	}

	if err := c.deployments.UpdateDeploymentStatus(ctx, id, models.DeployDeploying, models.DeployHealthy, report, ""); err != nil {
		return nil, fmt.Errorf("deploy: promote to healthy: %w", err)
	}
	return c.deployments.GetDeployment(ctx, id)
}

// Rollback transitions a deployment to rolled_back. The prior healthy
// snapshot pointer the spec refers to is LatestHealthyDeployment itself —
// it advances automatically once the rolled-back attempt is no longer the
// newest healthy row, so there is nothing else to restore here.
func (c *Controller) Rollback(ctx context.Context, id, reason string) error {
	d, err := c.deployments.GetDeployment(ctx, id)
	if err != nil {
		return fmt.Errorf("deploy: get deployment: %w", err)
	}
	if err := c.deployments.UpdateDeploymentStatus(ctx, id, d.Status, models.DeployRolledBack, nil, reason); err != nil {
		return fmt.Errorf("deploy: rollback: %w", err)
	}
	c.logger.Warn(ctx, "deploy: rolled back", "deployment_id", id, "reason", reason)
	return nil
}

// LatestHealthy returns the most recent healthy Deployment for branch, the
// rollback target.
func (c *Controller) LatestHealthy(ctx context.Context, branch string) (*models.Deployment, error) {
	return c.deployments.LatestHealthyDeployment(ctx, branch)
}
