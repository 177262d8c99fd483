// Package snapshot persists end-of-batch portfolio snapshots from the stored
// valuation, giving the history tables one row per (portfolio, date).
package snapshot

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/vantage/internal/analytics"
	"github.com/aristath/vantage/internal/analytics/valuation"
)

// ValuationSource reads stored portfolio valuations.
type ValuationSource interface {
	GetValuation(portfolioID, date string) (valuation.Valuation, bool, error)
}

// Engine writes valuation snapshots.
type Engine struct {
	valuations ValuationSource
	repo       *Repository
	log        zerolog.Logger
}

// NewEngine creates a snapshot engine.
func NewEngine(valuations ValuationSource, repo *Repository, log zerolog.Logger) *Engine {
	return &Engine{
		valuations: valuations,
		repo:       repo,
		log:        log.With().Str("engine", "snapshot").Logger(),
	}
}

// Name identifies the engine in job records.
func (e *Engine) Name() string { return "snapshot" }

// Critical reports whether a failure fails the whole portfolio.
func (e *Engine) Critical() bool { return false }

// Execute copies the date's valuation into the snapshot history. Valuation is
// a critical engine, so a missing row here is a real fault, not a skip.
func (e *Engine) Execute(ctx context.Context, portfolioID, date string) (analytics.Result, error) {
	val, found, err := e.valuations.GetValuation(portfolioID, date)
	if err != nil {
		return analytics.Result{}, fmt.Errorf("failed to read valuation: %w", err)
	}
	if !found {
		return analytics.Result{}, fmt.Errorf("no valuation stored for %s on %s", portfolioID, date)
	}

	storage, err := e.repo.StoreSnapshot(val)
	if err != nil {
		return analytics.Result{}, fmt.Errorf("failed to store snapshot: %w", err)
	}

	quality := analytics.DataQuality{
		Flag:              analytics.FlagOK,
		PositionsAnalyzed: val.PublicCount,
		PositionsTotal:    val.PositionCount,
		PositionsSkipped:  val.PositionCount - val.PublicCount,
	}

	e.log.Info().
		Str("portfolio", val.PortfolioID).
		Str("date", date).
		Float64("total_value", val.TotalValue).
		Msg("Snapshot stored")

	return analytics.Complete(nil, nil, nil, storage, quality), nil
}
