// Package ledger implements the Token Ledger & Budget (spec §4.5): an
// append-only record of per-call token usage and the daily proactive-budget
// query that drives the scheduler's adaptive sleep.
//
// This is a generalization of the teacher's internal/usage package: the
// Usage/Cost/pricing-table shape carries over almost unchanged, but the
// in-process Tracker is replaced by a Store-backed Ledger so budget accuracy
// (spec §8.6) is a property of the Store, not a process-local cache that
// would drift across restarts or multiple worker processes.
package ledger

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/conductorhq/core/internal/store"
	"github.com/conductorhq/core/pkg/models"
)

// Usage carries the token counts reported by a single Model Adapter call.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Total returns the combined token count.
func (u Usage) Total() int64 {
	return u.InputTokens + u.OutputTokens
}

// Cost is a per-million-token pricing entry, keyed by provider+model in the
// Pricing table below.
type Cost struct {
	Input  float64 // USD per million input tokens
	Output float64 // USD per million output tokens
}

// Estimate computes the dollar cost of usage at this rate, rounded to 1e-6
// per spec §4.5 ("rounding of cost to 1e-6 is mandatory to keep sums stable").
func (c Cost) Estimate(u Usage) float64 {
	raw := float64(u.InputTokens)*c.Input/1_000_000 + float64(u.OutputTokens)*c.Output/1_000_000
	return math.Round(raw*1e6) / 1e6
}

// Pricing is a provider/model -> Cost lookup table. Unknown models return
// the zero Cost (cost 0), never an error: pricing gaps must not block
// ledger writes.
type Pricing map[string]map[string]Cost

// DefaultPricing returns a small built-in table covering the providers the
// example pack most commonly wires (Anthropic/OpenAI-shaped names); callers
// extend or replace it via Config.
func DefaultPricing() Pricing {
	return Pricing{
		"anthropic": {
			"default": {Input: 3.0, Output: 15.0},
		},
		"openai": {
			"default": {Input: 2.5, Output: 10.0},
		},
	}
}

// Lookup returns the Cost for provider+model, falling back to the
// provider's "default" entry, then the zero Cost.
func (p Pricing) Lookup(provider, model string) Cost {
	byModel, ok := p[provider]
	if !ok {
		return Cost{}
	}
	if c, ok := byModel[model]; ok {
		return c
	}
	return byModel["default"]
}

// WarnHook is invoked when a reactive-scope record exceeds the configured
// warn threshold (spec §4.5 warn_if_reactive_over), grounded on the
// teacher's callback-registration style (SetApprovalRequiredHandler, etc).
type WarnHook func(entry *models.LedgerEntry)

// Ledger records token usage and answers budget queries, backed entirely by
// the Store's append-only LedgerStore.
type Ledger struct {
	store         store.LedgerStore
	pricing       Pricing
	warnThreshold int64
	warnHooks     []WarnHook
}

// Config configures a Ledger.
type Config struct {
	Pricing       Pricing
	WarnThreshold int64 // default 100_000, spec §4.5
}

// New constructs a Ledger backed by s.
func New(s store.LedgerStore, cfg Config) *Ledger {
	if cfg.Pricing == nil {
		cfg.Pricing = DefaultPricing()
	}
	if cfg.WarnThreshold <= 0 {
		cfg.WarnThreshold = 100_000
	}
	return &Ledger{store: s, pricing: cfg.Pricing, warnThreshold: cfg.WarnThreshold}
}

// OnWarn registers a hook invoked whenever a reactive-scope Record call
// exceeds WarnThreshold tokens. Hooks are called synchronously, in
// registration order, after the row is durably appended.
func (l *Ledger) OnWarn(hook WarnHook) {
	l.warnHooks = append(l.warnHooks, hook)
}

// Record appends a LedgerEntry for a single provider call (spec §4.5
// record). Cost is computed from the pricing table unless the caller already
// knows it (cost is still rounded to 1e-6 either way).
func (l *Ledger) Record(ctx context.Context, scope models.LedgerScope, provider, model string, u Usage, meta map[string]any) (*models.LedgerEntry, error) {
	cost := l.pricing.Lookup(provider, model).Estimate(u)
	entry := &models.LedgerEntry{
		Scope:     scope,
		Provider:  provider,
		Model:     model,
		TokensIn:  u.InputTokens,
		TokensOut: u.OutputTokens,
		Cost:      cost,
		CreatedAt: time.Now().UTC(),
		Meta:      meta,
	}
	entry.Normalize()

	if err := l.store.AppendLedgerEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("ledger: record: %w", err)
	}

	if scope == models.ScopeReactive && entry.TokensTotal > l.warnThreshold {
		for _, h := range l.warnHooks {
			h(entry)
		}
	}
	return entry, nil
}

// BudgetStatus returns the proactive-scope usage for the UTC calendar day
// containing `day`, against dailyLimit (spec §4.5 budget_status).
func (l *Ledger) BudgetStatus(ctx context.Context, day time.Time, dailyLimit int64) (models.BudgetStatus, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	used, err := l.store.SumTokens(ctx, models.ScopeProactive, start, end)
	if err != nil {
		return models.BudgetStatus{}, fmt.Errorf("ledger: budget status: %w", err)
	}

	remaining := dailyLimit - used
	if remaining < 0 {
		remaining = 0
	}
	var ratio float64
	if dailyLimit > 0 {
		ratio = float64(used) / float64(dailyLimit)
	}
	return models.BudgetStatus{Used: used, Remaining: remaining, UsageRatio: ratio}, nil
}
