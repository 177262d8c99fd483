// Package valuation implements the portfolio valuation and aggregation engine:
// per-position market values, weights, and portfolio totals, enriched with
// basic technical indicators for public positions. Valuation is a critical
// engine; downstream snapshots depend on its output.
package valuation

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/vantage/internal/analytics"
	"github.com/aristath/vantage/internal/domain"
	"github.com/aristath/vantage/pkg/formulas"
)

const (
	rsiPeriod = 14
	smaPeriod = 20
	// Calendar window fetched for indicator enrichment.
	enrichmentLookbackDays = 90
)

// PositionSource supplies the positions of a portfolio.
type PositionSource interface {
	GetByPortfolio(portfolioID string) ([]domain.Position, error)
}

// PriceProvider supplies daily price series for indicator enrichment and live
// quotes for positions imported without a price.
type PriceProvider interface {
	GetDailyHistory(ctx context.Context, symbol string, from, to time.Time) (domain.PriceSeries, error)
	GetCurrentPrice(ctx context.Context, symbol string) (float64, bool, error)
}

// PositionValuation is one position's share of the portfolio, with optional
// indicator enrichment for public positions.
type PositionValuation struct {
	Symbol      string   `json:"symbol"`
	MarketValue float64  `json:"market_value"`
	Weight      float64  `json:"weight"`
	RSI14       *float64 `json:"rsi_14,omitempty"`
	SMA20       *float64 `json:"sma_20,omitempty"`
	AboveSMA    *bool    `json:"above_sma,omitempty"`
}

// Valuation is the aggregated result for one portfolio and date.
type Valuation struct {
	PortfolioID   string              `json:"portfolio_id"`
	Date          string              `json:"date"`
	TotalValue    float64             `json:"total_value"`
	PublicValue   float64             `json:"public_value"`
	PrivateValue  float64             `json:"private_value"`
	PositionCount int                 `json:"position_count"`
	PublicCount   int                 `json:"public_count"`
	Positions     []PositionValuation `json:"positions"`
}

// Engine computes and persists portfolio valuations.
type Engine struct {
	positions PositionSource
	prices    PriceProvider
	repo      *Repository
	log       zerolog.Logger
}

// NewEngine creates a valuation engine.
func NewEngine(positions PositionSource, prices PriceProvider, repo *Repository, log zerolog.Logger) *Engine {
	return &Engine{
		positions: positions,
		prices:    prices,
		repo:      repo,
		log:       log.With().Str("engine", "valuation").Logger(),
	}
}

// Name identifies the engine in job records.
func (e *Engine) Name() string { return "valuation" }

// Critical reports whether a failure fails the whole portfolio.
func (e *Engine) Critical() bool { return true }

// Execute values the portfolio. An empty portfolio is a trivially complete
// valuation with zero totals, not a skip: downstream snapshots still want the
// row.
func (e *Engine) Execute(ctx context.Context, portfolioID, date string) (analytics.Result, error) {
	positions, err := e.positions.GetByPortfolio(portfolioID)
	if err != nil {
		return analytics.Result{}, fmt.Errorf("failed to load positions: %w", err)
	}

	valuation := Valuation{
		PortfolioID:   analytics.NormalizeID(portfolioID),
		Date:          date,
		PositionCount: len(positions),
	}

	for _, pos := range positions {
		mv := pos.MarketValue
		if mv == 0 && pos.Quantity != 0 {
			mv = pos.Quantity * pos.CurrentPrice
		}
		if mv == 0 && pos.Quantity != 0 && pos.IsQuantEligible() {
			// Imported without a price: fall back to a live quote.
			price, ok, err := e.prices.GetCurrentPrice(ctx, pos.Symbol)
			if err != nil {
				e.log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("Live quote lookup failed")
			} else if ok {
				mv = pos.Quantity * price
			}
		}

		pv := PositionValuation{
			Symbol:      analytics.NormalizeSymbol(pos.Symbol),
			MarketValue: mv,
		}

		valuation.TotalValue += mv
		if pos.IsQuantEligible() {
			valuation.PublicValue += mv
			valuation.PublicCount++
			e.enrich(ctx, &pv, date)
		} else {
			valuation.PrivateValue += mv
		}

		valuation.Positions = append(valuation.Positions, pv)
	}

	if valuation.TotalValue > 0 {
		for i := range valuation.Positions {
			valuation.Positions[i].Weight = valuation.Positions[i].MarketValue / valuation.TotalValue
		}
	}

	storage, err := e.repo.StoreValuation(valuation)
	if err != nil {
		return analytics.Result{}, fmt.Errorf("failed to store valuation: %w", err)
	}

	quality := analytics.DataQuality{
		Flag:              analytics.FlagOK,
		PositionsAnalyzed: valuation.PublicCount,
		PositionsTotal:    len(positions),
		PositionsSkipped:  len(positions) - valuation.PublicCount,
	}

	e.log.Info().
		Str("portfolio", valuation.PortfolioID).
		Str("date", date).
		Float64("total_value", valuation.TotalValue).
		Int("positions", valuation.PositionCount).
		Msg("Valuation stored")

	return analytics.Complete(nil, nil, nil, storage, quality), nil
}

// enrich attaches RSI/SMA indicators from recent price history. Enrichment is
// best-effort: fetch problems or short history leave the fields nil.
func (e *Engine) enrich(ctx context.Context, pv *PositionValuation, date string) {
	to, err := time.Parse("2006-01-02", date)
	if err != nil {
		return
	}
	from := to.AddDate(0, 0, -enrichmentLookbackDays)

	series, err := e.prices.GetDailyHistory(ctx, pv.Symbol, from, to)
	if err != nil || series.Len() == 0 {
		return
	}

	closes := make([]float64, 0, series.Len())
	for _, p := range series.Points {
		closes = append(closes, p.Close)
	}

	pv.RSI14 = formulas.CalculateRSI(closes, rsiPeriod)
	pv.SMA20 = formulas.CalculateSMA(closes, smaPeriod)
	if pv.SMA20 != nil {
		above := closes[len(closes)-1] > *pv.SMA20
		pv.AboveSMA = &above
	}
}
