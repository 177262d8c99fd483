// Package stress evaluates the fixed scenario catalog against a portfolio's
// stored factor exposures. It never regresses anything itself: no exposures
// for the date means a skipped result, not a zero-impact one.
package stress

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/vantage/internal/analytics"
	"github.com/aristath/vantage/internal/analytics/valuation"
)

// ExposureSource reads stored factor exposures.
type ExposureSource interface {
	GetPortfolioBetas(portfolioID, date string) (map[string]float64, error)
	GetRunQuality(portfolioID, date string) (analytics.DataQuality, bool, error)
}

// ValuationSource reads stored portfolio valuations.
type ValuationSource interface {
	GetValuation(portfolioID, date string) (valuation.Valuation, bool, error)
}

// Impact is one scenario's dollar effect on the portfolio.
type Impact struct {
	Category     string  `json:"category"`
	Name         string  `json:"name"`
	ImpactAmount float64 `json:"impact_amount"`
	ImpactPct    float64 `json:"impact_pct"`
}

// Engine evaluates stress scenarios.
type Engine struct {
	exposures  ExposureSource
	valuations ValuationSource
	repo       *Repository
	log        zerolog.Logger
}

// NewEngine creates a stress engine.
func NewEngine(exposures ExposureSource, valuations ValuationSource, repo *Repository, log zerolog.Logger) *Engine {
	return &Engine{
		exposures:  exposures,
		valuations: valuations,
		repo:       repo,
		log:        log.With().Str("engine", "stress").Logger(),
	}
}

// Name identifies the engine in job records.
func (e *Engine) Name() string { return "stress" }

// Critical reports whether a failure fails the whole portfolio.
func (e *Engine) Critical() bool { return false }

// Execute applies every scenario to the portfolio's dollar factor exposures.
// Impacts are ordered by (category, name) via the catalog. A skip persists
// nothing: stale or absent exposures must not read back as zero risk.
func (e *Engine) Execute(ctx context.Context, portfolioID, date string) (analytics.Result, error) {
	betas, err := e.exposures.GetPortfolioBetas(portfolioID, date)
	if err != nil {
		return analytics.Result{}, fmt.Errorf("failed to read factor exposures: %w", err)
	}

	quality, _, err := e.exposures.GetRunQuality(portfolioID, date)
	if err != nil {
		return analytics.Result{}, fmt.Errorf("failed to read exposure quality: %w", err)
	}

	if len(betas) == 0 {
		return analytics.Skipped(analytics.FlagNoFactorExposures,
			"no factor exposures stored for this date", quality.PositionsTotal), nil
	}

	val, found, err := e.valuations.GetValuation(portfolioID, date)
	if err != nil {
		return analytics.Result{}, fmt.Errorf("failed to read valuation: %w", err)
	}
	if !found {
		return analytics.Result{}, fmt.Errorf("no valuation stored for %s on %s", portfolioID, date)
	}

	// Exposures cover public positions only; dollar exposure scales off the
	// public sleeve, not the whole book.
	baseValue := val.PublicValue

	impacts := make([]Impact, 0, len(analytics.Scenarios()))
	for _, scenario := range analytics.Scenarios() {
		var amount float64
		for factor, shock := range scenario.Shocks {
			amount += betas[factor] * baseValue * shock
		}

		pct := 0.0
		if baseValue > 0 {
			pct = amount / baseValue
		}
		impacts = append(impacts, Impact{
			Category:     scenario.Category,
			Name:         scenario.Name,
			ImpactAmount: amount,
			ImpactPct:    pct,
		})
	}

	storage, err := e.repo.StoreImpacts(portfolioID, date, impacts)
	if err != nil {
		return analytics.Result{}, fmt.Errorf("failed to store stress impacts: %w", err)
	}

	result := analytics.Complete(betas, nil, nil, storage, quality)

	e.log.Info().
		Str("portfolio", portfolioID).
		Str("date", date).
		Int("scenarios", len(impacts)).
		Msg("Stress scenarios evaluated")

	return result, nil
}
