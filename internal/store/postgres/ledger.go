package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/conductorhq/core/pkg/models"
)

// AppendLedgerEntry inserts a new, immutable token accounting record.
func (s *Store) AppendLedgerEntry(ctx context.Context, e *models.LedgerEntry) error {
	e.Normalize()
	meta, err := json.Marshal(e.Meta)
	if err != nil {
		return fmt.Errorf("postgres: marshal ledger meta: %w", err)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, scope, provider, model, tokens_in, tokens_out, tokens_total, cost, created_at, meta)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, e.ID, string(e.Scope), e.Provider, e.Model, e.TokensIn, e.TokensOut, e.TokensTotal, e.Cost, e.CreatedAt, meta)
	if err != nil {
		return fmt.Errorf("postgres: append ledger entry: %w", err)
	}
	return nil
}

// SumTokens totals tokens_total for scope within [since, until).
func (s *Store) SumTokens(ctx context.Context, scope models.LedgerScope, since, until time.Time) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(tokens_total), 0) FROM ledger_entries
		WHERE scope = $1 AND created_at >= $2 AND created_at < $3
	`, string(scope), since, until).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("postgres: sum tokens: %w", err)
	}
	return total, nil
}
