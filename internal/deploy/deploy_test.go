package deploy

import (
	"context"
	"errors"
	"testing"

	"github.com/conductorhq/core/internal/store/memstore"
	"github.com/conductorhq/core/pkg/models"
)

func healthyProbe(report map[string]any) HealthProbeFunc {
	return func(ctx context.Context) (bool, map[string]any, error) { return true, report, nil }
}

func unhealthyProbe() HealthProbeFunc {
	return func(ctx context.Context) (bool, map[string]any, error) { return false, nil, nil }
}

func TestStart_RejectsConcurrentNonTerminalDeployment(t *testing.T) {
	st := memstore.New()
	c := New(st, healthyProbe(nil), nil, Config{})
	ctx := context.Background()

	if _, err := c.Start(ctx, "sha1", "main", "push"); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if _, err := c.Start(ctx, "sha2", "main", "push"); !errors.Is(err, ErrDeploymentInProgress) {
		t.Fatalf("second Start error = %v, want ErrDeploymentInProgress", err)
	}
}

func TestFullHappyPath_PromotesToHealthy(t *testing.T) {
	st := memstore.New()
	c := New(st, healthyProbe(map[string]any{"latency_ms": 42}), nil, Config{})
	ctx := context.Background()

	d, err := c.Start(ctx, "sha1", "main", "push")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Advance(ctx, d.ID, models.DeployBuilding, models.DeployTesting, nil); err != nil {
		t.Fatalf("advance to testing: %v", err)
	}
	if err := c.Advance(ctx, d.ID, models.DeployTesting, models.DeployDeploying, nil); err != nil {
		t.Fatalf("advance to deploying: %v", err)
	}

	got, err := c.Verify(ctx, d.ID)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got.Status != models.DeployHealthy {
		t.Fatalf("status = %s, want healthy", got.Status)
	}

	latest, err := c.LatestHealthy(ctx, "main")
	if err != nil {
		t.Fatalf("LatestHealthy: %v", err)
	}
	if latest.ID != d.ID {
		t.Fatalf("latest healthy id = %s, want %s", latest.ID, d.ID)
	}
}

func TestVerify_UnhealthyProbeRollsBack(t *testing.T) {
	st := memstore.New()
	c := New(st, unhealthyProbe(), nil, Config{})
	ctx := context.Background()

	d, err := c.Start(ctx, "sha1", "main", "push")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	_ = c.Advance(ctx, d.ID, models.DeployBuilding, models.DeployTesting, nil)
	_ = c.Advance(ctx, d.ID, models.DeployTesting, models.DeployDeploying, nil)

	got, err := c.Verify(ctx, d.ID)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got.Status != models.DeployRolledBack {
		t.Fatalf("status = %s, want rolled_back", got.Status)
	}
	if got.RollbackReason == "" {
		t.Fatalf("expected a rollback reason to be recorded")
	}
}

func TestAdvance_RejectsMismatchedFromStatus(t *testing.T) {
	st := memstore.New()
	c := New(st, healthyProbe(nil), nil, Config{})
	ctx := context.Background()

	d, err := c.Start(ctx, "sha1", "main", "push")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Advance(ctx, d.ID, models.DeployDeploying, models.DeployHealthy, nil); err == nil {
		t.Fatalf("expected guarded transition to fail from wrong source status")
	}
}

func TestStart_AllowsNewDeploymentAfterPriorTerminal(t *testing.T) {
	st := memstore.New()
	c := New(st, healthyProbe(nil), nil, Config{})
	ctx := context.Background()

	d, err := c.Start(ctx, "sha1", "main", "push")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	_ = c.Advance(ctx, d.ID, models.DeployBuilding, models.DeployTesting, nil)
	_ = c.Advance(ctx, d.ID, models.DeployTesting, models.DeployDeploying, nil)
	if _, err := c.Verify(ctx, d.ID); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	if _, err := c.Start(ctx, "sha2", "main", "push"); err != nil {
		t.Fatalf("Start after terminal deployment: %v", err)
	}
}
