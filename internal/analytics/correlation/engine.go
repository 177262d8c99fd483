// Package correlation implements pairwise return correlations and the
// portfolio diversification score. Pairs without enough overlapping history
// are omitted rather than guessed at; a portfolio with fewer than two usable
// positions skips entirely, recording only a quality row.
package correlation

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

// PriceProvider supplies daily price series.
type PriceProvider interface {
	GetDailyHistory(ctx context.Context, symbol string, from, to time.Time) (domain.PriceSeries, error)
}

// Pair is one computed pairwise correlation. SymbolA < SymbolB always.
type Pair struct {
	SymbolA     string  `json:"symbol_a"`
	SymbolB     string  `json:"symbol_b"`
	Correlation float64 `json:"correlation"`
	OverlapDays int     `json:"overlap_days"`
}

// Engine computes pairwise correlations and the diversification score.
type Engine struct {
	positions          PositionSource
	prices             PriceProvider
	repo               *Repository
	lookbackDays       int
	minPairOverlapDays int
	log                zerolog.Logger
}

// NewEngine creates a correlation engine.
func NewEngine(
	positions PositionSource,
	prices PriceProvider,
	repo *Repository,
	lookbackDays, minPairOverlapDays int,
	log zerolog.Logger,
) *Engine {
	return &Engine{
		positions:          positions,
		prices:             prices,
		repo:               repo,
		lookbackDays:       lookbackDays,
		minPairOverlapDays: minPairOverlapDays,
		log:                log.With().Str("engine", "correlation").Logger(),
	}
}

// Name identifies the engine in job records.
func (e *Engine) Name() string { return "correlation" }

// Critical reports whether a failure fails the whole portfolio.
func (e *Engine) Critical() bool { return false }

type analyzedPosition struct {
	symbol      string
	marketValue float64
	returns     map[string]float64
}

// Execute computes correlations. Skips persist a quality row and nothing
// else, the same policy every engine follows.
func (e *Engine) Execute(ctx context.Context, portfolioID, date string) (analytics.Result, error) {
	positions, err := e.positions.GetByPortfolio(portfolioID)
	if err != nil {
		return analytics.Result{}, fmt.Errorf("failed to load positions: %w", err)
	}

	total := len(positions)
	to, err := time.Parse("2006-01-02", date)
	if err != nil {
		return analytics.Result{}, fmt.Errorf("invalid calculation date %q: %w", date, err)
	}
	from := to.AddDate(0, 0, -(e.lookbackDays*7/5 + 10))

	var analyzed []analyzedPosition
	for _, pos := range positions {
		if !pos.IsQuantEligible() {
			continue
		}
		series, err := e.prices.GetDailyHistory(ctx, pos.Symbol, from, to)
		if err != nil {
			e.log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("Price fetch failed, excluding position")
			continue
		}
		if series.Len() < 2 {
			continue
		}
		analyzed = append(analyzed, analyzedPosition{
			symbol:      analytics.NormalizeSymbol(pos.Symbol),
			marketValue: pos.MarketValue,
			returns:     series.DailyReturns(),
		})
	}

	if len(analyzed) == 0 {
		return e.skip(portfolioID, date, analytics.FlagNoPublicPositions,
			"no public positions with usable price history", total)
	}
	if len(analyzed) == 1 {
		// One usable position: every pair is missing its other half.
		return e.skip(portfolioID, date, analytics.FlagNoPriceOverlap,
			fmt.Sprintf("only %s has usable history, nothing to correlate it with", analyzed[0].symbol), total)
	}

	sort.Slice(analyzed, func(i, j int) bool { return analyzed[i].symbol < analyzed[j].symbol })

	pairs, minOverlap := e.computePairs(analyzed)
	if len(pairs) == 0 {
		return e.skip(portfolioID, date, analytics.FlagNoPriceOverlap,
			fmt.Sprintf("no position pair shares %d overlapping days", e.minPairOverlapDays), total)
	}

	score := diversificationScore(analyzed, pairs)

	quality := analytics.DataQuality{
		Flag:              analytics.FlagOK,
		PositionsAnalyzed: len(analyzed),
		PositionsTotal:    total,
		PositionsSkipped:  total - len(analyzed),
		DataDays:          minOverlap,
	}
	if minOverlap < e.minPairOverlapDays*2 {
		quality.Flag = analytics.FlagLimitedHistory
		quality.Message = fmt.Sprintf("thinnest pair overlap is %d days", minOverlap)
	}

	storage, err := e.repo.StoreResult(portfolioID, date, pairs, score, quality)
	if err != nil {
		return analytics.Result{}, fmt.Errorf("failed to store correlations: %w", err)
	}

	e.log.Info().
		Str("portfolio", portfolioID).
		Str("date", date).
		Int("pairs", len(pairs)).
		Float64("diversification", score).
		Msg("Correlations computed")

	return analytics.Complete(nil, nil, nil, storage, quality), nil
}

func (e *Engine) skip(portfolioID, date, flag, message string, total int) (analytics.Result, error) {
	result := analytics.Skipped(flag, message, total)
	storage, err := e.repo.StoreSkip(portfolioID, date, result.Quality)
	if err != nil {
		return analytics.Result{}, fmt.Errorf("failed to store skip result: %w", err)
	}
	result.Storage = storage
	return result, nil
}

// computePairs returns all pairwise correlations meeting the overlap minimum,
// plus the thinnest overlap among them.
func (e *Engine) computePairs(analyzed []analyzedPosition) ([]Pair, int) {
	var pairs []Pair
	minOverlap := 0

	for i := 0; i < len(analyzed); i++ {
		for j := i + 1; j < len(analyzed); j++ {
			a, b := analyzed[i], analyzed[j]

			var dates []string
			for d := range a.returns {
				if _, ok := b.returns[d]; ok {
					dates = append(dates, d)
				}
			}
			if len(dates) < e.minPairOverlapDays {
				continue
			}
			sort.Strings(dates)

			x := make([]float64, len(dates))
			y := make([]float64, len(dates))
			for k, d := range dates {
				x[k] = a.returns[d]
				y[k] = b.returns[d]
			}

			pairs = append(pairs, Pair{
				SymbolA:     a.symbol,
				SymbolB:     b.symbol,
				Correlation: formulas.Correlation(x, y),
				OverlapDays: len(dates),
			})
			if minOverlap == 0 || len(dates) < minOverlap {
				minOverlap = len(dates)
			}
		}
	}

	return pairs, minOverlap
}

// diversificationScore is 1 - sum over pairs of w_i*w_j*|corr_ij| (both
// orderings), clamped to [0,1]. Weights are normalized over analyzed
// positions only.
func diversificationScore(analyzed []analyzedPosition, pairs []Pair) float64 {
	var totalValue float64
	for _, p := range analyzed {
		totalValue += p.marketValue
	}

	weights := make(map[string]float64, len(analyzed))
	for _, p := range analyzed {
		if totalValue > 0 {
			weights[p.symbol] = p.marketValue / totalValue
		} else {
			weights[p.symbol] = 1.0 / float64(len(analyzed))
		}
	}

	var penalty float64
	for _, pair := range pairs {
		contribution := weights[pair.SymbolA] * weights[pair.SymbolB] * abs(pair.Correlation)
		penalty += 2 * contribution
	}

	score := 1 - penalty
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
