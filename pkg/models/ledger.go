package models

import "time"

// LedgerScope separates reactive (unbounded) from proactive (budgeted)
// token usage.
type LedgerScope string

const (
	ScopeReactive  LedgerScope = "reactive"
	ScopeProactive LedgerScope = "proactive"
)

// LedgerEntry is an append-only token-accounting record. TokensTotal is
// always derived as TokensIn + TokensOut; callers must not set it directly.
type LedgerEntry struct {
	ID          string         `json:"id"`
	Scope       LedgerScope    `json:"scope"`
	Provider    string         `json:"provider"`
	Model       string         `json:"model"`
	TokensIn    int64          `json:"tokens_in"`
	TokensOut   int64          `json:"tokens_out"`
	TokensTotal int64          `json:"tokens_total"`
	Cost        float64        `json:"cost"`
	CreatedAt   time.Time      `json:"created_at"`
	Meta        map[string]any `json:"meta,omitempty"` // job_id, thread_id references
}

// Normalize recomputes the derived TokensTotal field.
func (e *LedgerEntry) Normalize() {
	e.TokensTotal = e.TokensIn + e.TokensOut
}

// BudgetStatus is the result of a daily proactive-budget query.
type BudgetStatus struct {
	Used       int64   `json:"used"`
	Remaining  int64   `json:"remaining"`
	UsageRatio float64 `json:"usage_ratio"`
}
