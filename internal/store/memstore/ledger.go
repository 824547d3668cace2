package memstore

import (
	"context"
	"time"

	"github.com/conductorhq/core/pkg/models"
)

func (s *Store) AppendLedgerEntry(ctx context.Context, e *models.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.Normalize()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	clone := *e
	s.ledger = append(s.ledger, &clone)
	return nil
}

func (s *Store) SumTokens(ctx context.Context, scope models.LedgerScope, since, until time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int64
	for _, e := range s.ledger {
		if e.Scope == scope && !e.CreatedAt.Before(since) && e.CreatedAt.Before(until) {
			total += e.TokensTotal
		}
	}
	return total, nil
}
