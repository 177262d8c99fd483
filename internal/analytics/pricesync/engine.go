// Package pricesync warms the price cache for a portfolio's public symbols
// and the factor proxy catalog ahead of the calculation engines. It is the
// first and a critical step of each portfolio's batch sequence: exhausted
// fetch retries here fail the portfolio rather than let every downstream
// engine limp through the same outage.
package pricesync

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/vantage/internal/analytics"
	"github.com/aristath/vantage/internal/domain"
)

// PositionSource supplies the positions of a portfolio.
type PositionSource interface {
	GetByPortfolio(portfolioID string) ([]domain.Position, error)
}

// PriceProvider supplies daily price series.
type PriceProvider interface {
	GetDailyHistory(ctx context.Context, symbol string, from, to time.Time) (domain.PriceSeries, error)
}

// Engine prefetches price history into the cache.
type Engine struct {
	positions    PositionSource
	prices       PriceProvider
	lookbackDays int
	log          zerolog.Logger
}

// NewEngine creates a price sync engine.
func NewEngine(positions PositionSource, prices PriceProvider, lookbackDays int, log zerolog.Logger) *Engine {
	return &Engine{
		positions:    positions,
		prices:       prices,
		lookbackDays: lookbackDays,
		log:          log.With().Str("engine", "price_sync").Logger(),
	}
}

// Name identifies the engine in job records.
func (e *Engine) Name() string { return "price_sync" }

// Critical reports whether a failure fails the whole portfolio.
func (e *Engine) Critical() bool { return true }

// Execute fetches history for every eligible symbol and factor proxy. Symbols
// with no data are normal; a fetch error after retries is not.
func (e *Engine) Execute(ctx context.Context, portfolioID, date string) (analytics.Result, error) {
	positions, err := e.positions.GetByPortfolio(portfolioID)
	if err != nil {
		return analytics.Result{}, fmt.Errorf("failed to load positions: %w", err)
	}

	to, err := time.Parse("2006-01-02", date)
	if err != nil {
		return analytics.Result{}, fmt.Errorf("invalid calculation date %q: %w", date, err)
	}
	from := to.AddDate(0, 0, -(e.lookbackDays*7/5 + 10))

	symbols := make([]string, 0, len(positions)+len(analytics.FactorProxies()))
	for _, pos := range positions {
		if pos.IsQuantEligible() {
			symbols = append(symbols, pos.Symbol)
		}
	}
	for _, proxy := range analytics.FactorProxies() {
		symbols = append(symbols, proxy.Symbol)
	}

	synced := 0
	maxDays := 0
	for _, symbol := range symbols {
		series, err := e.prices.GetDailyHistory(ctx, symbol, from, to)
		if err != nil {
			return analytics.Result{}, fmt.Errorf("price sync failed on %s: %w", symbol, err)
		}
		if series.Len() > 0 {
			synced++
			if series.Len() > maxDays {
				maxDays = series.Len()
			}
		}
	}

	quality := analytics.DataQuality{
		Flag:              analytics.FlagOK,
		PositionsAnalyzed: synced,
		PositionsTotal:    len(symbols),
		PositionsSkipped:  len(symbols) - synced,
		DataDays:          maxDays,
	}

	e.log.Info().
		Str("portfolio", portfolioID).
		Int("symbols", len(symbols)).
		Int("synced", synced).
		Msg("Price sync complete")

	return analytics.Complete(nil, nil, nil, analytics.StorageOutcome{}, quality), nil
}
