// Package history gathers the transaction baselines fraud scoring
// depends on.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/pesaguard/pesaguard/internal/domain"
)

// Snapshot is the historical context for one transaction at the moment
// it is scored.
type Snapshot struct {
	Business *domain.BusinessStatistics
	Customer *domain.CustomerStatistics
}

// Aggregator reads scoring baselines from the repository. A failed read
// surfaces as an error rather than an empty snapshot so that callers
// never score against a silently-missing history.
type Aggregator struct {
	repo         domain.Repository
	window       time.Duration
	roundAmounts []float64
	queryTimeout time.Duration
}

// NewAggregator creates a history aggregator.
func NewAggregator(repo domain.Repository, cfg domain.ScoringConfig) *Aggregator {
	window := cfg.VelocityWindow
	if window <= 0 {
		window = 5 * time.Minute
	}
	timeout := cfg.HistoryTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Aggregator{
		repo:         repo,
		window:       window,
		roundAmounts: cfg.RoundAmounts,
		queryTimeout: timeout,
	}
}

// Gather reads the business and customer baselines for a transaction.
// The transaction itself is excluded from lifetime and round-number
// counts; the velocity count covers everything in the window including
// the transaction being scored.
func (a *Aggregator) Gather(ctx context.Context, tx *domain.Transaction) (*Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, a.queryTimeout)
	defer cancel()

	business, err := a.repo.BusinessStatistics(ctx, tx.BusinessID)
	if err != nil {
		return nil, fmt.Errorf("failed to gather business baseline: %w", err)
	}

	customer, err := a.repo.CustomerStatistics(ctx, domain.CustomerStatsQuery{
		BusinessID:   tx.BusinessID,
		MSISDN:       tx.MSISDN,
		ExcludeTxID:  tx.ID,
		Window:       a.window,
		Now:          tx.TransTime,
		RoundAmounts: a.roundAmounts,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to gather customer history: %w", err)
	}

	return &Snapshot{
		Business: business,
		Customer: customer,
	}, nil
}
