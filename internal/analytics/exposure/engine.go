// Package exposure implements the factor exposure regression engine. Each
// eligible position's daily returns are regressed on the factor proxy
// catalog's returns over an aligned lookback window; position betas are
// aggregated to portfolio betas weighted by market value.
package exposure

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/vantage/internal/analytics"
	"github.com/aristath/vantage/internal/domain"
	"github.com/aristath/vantage/pkg/formulas"
)

// PositionSource supplies the positions of a portfolio.
type PositionSource interface {
	GetByPortfolio(portfolioID string) ([]domain.Position, error)
}

// PriceProvider supplies daily price series for symbols and factor proxies.
type PriceProvider interface {
	GetDailyHistory(ctx context.Context, symbol string, from, to time.Time) (domain.PriceSeries, error)
}

// Engine runs the factor exposure regression for one portfolio and date.
type Engine struct {
	positions         PositionSource
	prices            PriceProvider
	repo              *Repository
	lookbackDays      int
	minRegressionDays int
	log               zerolog.Logger
}

// NewEngine creates a factor exposure engine.
func NewEngine(
	positions PositionSource,
	prices PriceProvider,
	repo *Repository,
	lookbackDays, minRegressionDays int,
	log zerolog.Logger,
) *Engine {
	return &Engine{
		positions:         positions,
		prices:            prices,
		repo:              repo,
		lookbackDays:      lookbackDays,
		minRegressionDays: minRegressionDays,
		log:               log.With().Str("engine", "factor_exposure").Logger(),
	}
}

// Name identifies the engine in job records.
func (e *Engine) Name() string { return "factor_exposure" }

// Critical reports whether a failure fails the whole portfolio.
func (e *Engine) Critical() bool { return false }

// positionReturns couples a position with its dated daily returns.
type positionReturns struct {
	position domain.Position
	returns  map[string]float64
}

// Execute runs the regression. Data insufficiency always resolves to a
// skipped result, never an error; errors are reserved for unrecoverable
// faults such as a total fetch failure on the factor proxies.
func (e *Engine) Execute(ctx context.Context, portfolioID, date string) (analytics.Result, error) {
	positions, err := e.positions.GetByPortfolio(portfolioID)
	if err != nil {
		return analytics.Result{}, fmt.Errorf("failed to load positions: %w", err)
	}

	total := len(positions)
	from, to, err := lookbackWindow(date, e.lookbackDays)
	if err != nil {
		return analytics.Result{}, err
	}

	// Drop non-eligible positions, then positions that cannot produce a
	// return series (fewer than 2 observable days).
	var analyzed []positionReturns
	for _, pos := range positions {
		if !pos.IsQuantEligible() {
			continue
		}
		series, err := e.prices.GetDailyHistory(ctx, pos.Symbol, from, to)
		if err != nil {
			// A single position's fetch failure degrades quality, it does
			// not abort the regression.
			e.log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("Price fetch failed, excluding position")
			continue
		}
		if series.Len() < 2 {
			continue
		}
		analyzed = append(analyzed, positionReturns{position: pos, returns: series.DailyReturns()})
	}

	if len(analyzed) == 0 {
		result := analytics.Skipped(analytics.FlagNoPublicPositions, "no public positions with sufficient history", total)
		storage, err := e.repo.StoreResult(portfolioID, date, result)
		if err != nil {
			return analytics.Result{}, fmt.Errorf("failed to store skip result: %w", err)
		}
		result.Storage = storage
		return result, nil
	}

	// Factor proxy returns. A proxy without data is dropped from the model;
	// losing every proxy is unrecoverable.
	proxies := analytics.FactorProxies()
	var factors []string
	var factorReturns []map[string]float64
	for _, proxy := range proxies {
		series, err := e.prices.GetDailyHistory(ctx, proxy.Symbol, from, to)
		if err != nil {
			return analytics.Result{}, fmt.Errorf("failed to fetch factor proxy %s: %w", proxy.Symbol, err)
		}
		if series.Len() < 2 {
			e.log.Warn().Str("factor", proxy.Factor).Str("symbol", proxy.Symbol).Msg("Factor proxy has no usable history, dropping")
			continue
		}
		factors = append(factors, proxy.Factor)
		factorReturns = append(factorReturns, series.DailyReturns())
	}
	if len(factors) == 0 {
		return analytics.Result{}, fmt.Errorf("no factor proxy has usable history for %s", date)
	}

	// Dates where every factor proxy has a return.
	proxyDates := intersectKeys(factorReturns)

	positionBetas := make(map[string]map[string]float64)
	regressionStats := make(map[string]analytics.RegressionStats)
	minAlignedDays := 0
	var weights []float64
	var weightedBetas []map[string]float64

	for _, pr := range analyzed {
		aligned := alignDates(pr.returns, proxyDates)
		// Regression is infeasible below factors+2 observations.
		if len(aligned) < len(factors)+2 {
			continue
		}

		y := make([]float64, len(aligned))
		regressors := make([][]float64, len(factors))
		for j := range regressors {
			regressors[j] = make([]float64, len(aligned))
		}
		for i, d := range aligned {
			y[i] = pr.returns[d]
			for j := range factors {
				regressors[j][i] = factorReturns[j][d]
			}
		}

		ols, err := formulas.OLS(y, regressors)
		if err != nil {
			e.log.Warn().Err(err).Str("symbol", pr.position.Symbol).Msg("Regression failed, excluding position")
			continue
		}

		symbol := analytics.NormalizeSymbol(pr.position.Symbol)
		betas := make(map[string]float64, len(factors))
		for j, factor := range factors {
			betas[factor] = ols.Coefficients[j]
		}
		positionBetas[symbol] = betas
		regressionStats[symbol] = analytics.RegressionStats{
			RSquared:     ols.RSquared,
			Observations: ols.Observations,
		}

		weights = append(weights, pr.position.MarketValue)
		weightedBetas = append(weightedBetas, betas)

		if minAlignedDays == 0 || len(aligned) < minAlignedDays {
			minAlignedDays = len(aligned)
		}
	}

	if len(positionBetas) == 0 {
		result := analytics.Skipped(analytics.FlagNoPublicPositions, "no position had enough aligned history to regress", total)
		storage, err := e.repo.StoreResult(portfolioID, date, result)
		if err != nil {
			return analytics.Result{}, fmt.Errorf("failed to store skip result: %w", err)
		}
		result.Storage = storage
		return result, nil
	}

	factorBetas := aggregateBetas(factors, weightedBetas, weights)

	quality := analytics.DataQuality{
		Flag:              analytics.FlagOK,
		PositionsAnalyzed: len(positionBetas),
		PositionsTotal:    total,
		PositionsSkipped:  total - len(positionBetas),
		DataDays:          minAlignedDays,
	}
	if minAlignedDays < e.minRegressionDays {
		// Confidence downgrade, not a skip: betas are still computed.
		quality.Flag = analytics.FlagLimitedHistory
		quality.Message = fmt.Sprintf("aligned window of %d days is below the %d day minimum", minAlignedDays, e.minRegressionDays)
	}

	result := analytics.Complete(factorBetas, positionBetas, regressionStats, analytics.StorageOutcome{}, quality)
	storage, err := e.repo.StoreResult(portfolioID, date, result)
	if err != nil {
		return analytics.Result{}, fmt.Errorf("failed to store factor exposures: %w", err)
	}
	result.Storage = storage

	e.log.Info().
		Str("portfolio", portfolioID).
		Str("date", date).
		Int("analyzed", quality.PositionsAnalyzed).
		Int("data_days", quality.DataDays).
		Str("flag", quality.Flag).
		Msg("Factor exposures computed")

	return result, nil
}

// lookbackWindow converts a trading-day lookback into a calendar window
// ending at the calculation date.
func lookbackWindow(date string, tradingDays int) (time.Time, time.Time, error) {
	to, err := time.Parse("2006-01-02", date)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid calculation date %q: %w", date, err)
	}
	// ~5 trading days per 7 calendar days, plus slack for holidays.
	calendarDays := tradingDays*7/5 + 10
	return to.AddDate(0, 0, -calendarDays), to, nil
}

// intersectKeys returns the dates present in every map.
func intersectKeys(maps []map[string]float64) map[string]bool {
	if len(maps) == 0 {
		return map[string]bool{}
	}
	out := make(map[string]bool, len(maps[0]))
	for d := range maps[0] {
		out[d] = true
	}
	for _, m := range maps[1:] {
		for d := range out {
			if _, ok := m[d]; !ok {
				delete(out, d)
			}
		}
	}
	return out
}

// alignDates returns the sorted dates present both in the position's returns
// and in every proxy's returns.
func alignDates(returns map[string]float64, proxyDates map[string]bool) []string {
	var out []string
	for d := range returns {
		if proxyDates[d] {
			out = append(out, d)
		}
	}
	sort.Strings(out)
	return out
}

// aggregateBetas computes market-value-weighted portfolio betas.
func aggregateBetas(factors []string, betas []map[string]float64, weights []float64) map[string]float64 {
	var totalWeight float64
	for _, w := range weights {
		totalWeight += w
	}

	out := make(map[string]float64, len(factors))
	for _, factor := range factors {
		var sum float64
		for i, b := range betas {
			w := weights[i]
			if totalWeight > 0 {
				w /= totalWeight
			} else {
				w = 1.0 / float64(len(betas))
			}
			sum += w * b[factor]
		}
		out[factor] = sum
	}
	return out
}
