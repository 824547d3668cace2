package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/conductorhq/core/internal/store/memstore"
	"github.com/conductorhq/core/pkg/models"
)

func TestCost_Estimate(t *testing.T) {
	cost := Cost{Input: 3.0, Output: 15.0}
	got := cost.Estimate(Usage{InputTokens: 1000, OutputTokens: 500})
	// (1000*3 + 500*15) / 1e6 = (3000+7500)/1e6 = 0.0105
	want := 0.0105
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Estimate() = %v, want %v", got, want)
	}
}

func TestRecord_AppendsAndRounds(t *testing.T) {
	l := New(memstore.New(), Config{})
	entry, err := l.Record(context.Background(), models.ScopeReactive, "anthropic", "default", Usage{InputTokens: 7, OutputTokens: 3}, nil)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if entry.TokensTotal != 10 {
		t.Fatalf("TokensTotal = %d, want 10", entry.TokensTotal)
	}
}

func TestBudgetStatus_MatchesSummedLedger(t *testing.T) {
	s := memstore.New()
	l := New(s, Config{})
	ctx := context.Background()
	day := time.Now().UTC()

	if _, err := l.Record(ctx, models.ScopeProactive, "anthropic", "default", Usage{InputTokens: 3_000_000, OutputTokens: 500_000}, nil); err != nil {
		t.Fatalf("Record: %v", err)
	}

	status, err := l.BudgetStatus(ctx, day, 7_000_000)
	if err != nil {
		t.Fatalf("BudgetStatus: %v", err)
	}
	if status.Used != 3_500_000 {
		t.Fatalf("Used = %d, want 3500000", status.Used)
	}
	if status.UsageRatio != 0.5 {
		t.Fatalf("UsageRatio = %v, want 0.5", status.UsageRatio)
	}
}

func TestWarnHook_FiresOverThresholdReactiveOnly(t *testing.T) {
	l := New(memstore.New(), Config{WarnThreshold: 100})
	var fired int
	l.OnWarn(func(e *models.LedgerEntry) { fired++ })

	ctx := context.Background()
	if _, err := l.Record(ctx, models.ScopeReactive, "anthropic", "default", Usage{InputTokens: 200}, nil); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if fired != 1 {
		t.Fatalf("warn hook fired %d times, want 1", fired)
	}

	// Proactive-scope records never trigger the reactive warn hook.
	if _, err := l.Record(ctx, models.ScopeProactive, "anthropic", "default", Usage{InputTokens: 200}, nil); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if fired != 1 {
		t.Fatalf("warn hook fired %d times after proactive record, want still 1", fired)
	}
}
