package testing

import (
	"fmt"
	"time"

	"github.com/aristath/vantage/internal/domain"
)

// PublicPosition returns a PUBLIC position fixture.
func PublicPosition(portfolioID, symbol string, marketValue float64) domain.Position {
	class := domain.ClassPublic
	return domain.Position{
		PortfolioID:  portfolioID,
		Symbol:       symbol,
		Quantity:     10,
		CurrentPrice: marketValue / 10,
		MarketValue:  marketValue,
		Class:        &class,
		LastUpdated:  time.Now(),
	}
}

// PrivatePosition returns a PRIVATE position fixture.
func PrivatePosition(portfolioID, symbol string, marketValue float64) domain.Position {
	class := domain.ClassPrivate
	return domain.Position{
		PortfolioID:  portfolioID,
		Symbol:       symbol,
		Quantity:     1,
		CurrentPrice: marketValue,
		MarketValue:  marketValue,
		Class:        &class,
		LastUpdated:  time.Now(),
	}
}

// DailySeries builds a price series of n consecutive calendar days ending at
// end, with closes produced by closeAt(i) for day index i (0 = oldest).
func DailySeries(symbol string, end time.Time, n int, closeAt func(i int) float64) domain.PriceSeries {
	series := domain.PriceSeries{Symbol: symbol, Points: make([]domain.PricePoint, 0, n)}
	for i := 0; i < n; i++ {
		day := end.AddDate(0, 0, i-n+1)
		series.Points = append(series.Points, domain.PricePoint{
			Date:  day.Format("2006-01-02"),
			Close: closeAt(i),
		})
	}
	return series
}

// FlatSeries builds a constant-price daily series.
func FlatSeries(symbol string, end time.Time, n int, price float64) domain.PriceSeries {
	return DailySeries(symbol, end, n, func(int) float64 { return price })
}

// TrendSeries builds a series with a constant daily return.
func TrendSeries(symbol string, end time.Time, n int, start, dailyReturn float64) domain.PriceSeries {
	price := start
	return DailySeries(symbol, end, n, func(i int) float64 {
		if i == 0 {
			return start
		}
		price *= 1 + dailyReturn
		return price
	})
}

// SeedPositions inserts positions through the given upsert function, failing
// loudly on error.
func SeedPositions(upsert func(domain.Position) error, positions ...domain.Position) error {
	for _, p := range positions {
		if err := upsert(p); err != nil {
			return fmt.Errorf("failed to seed position %s/%s: %w", p.PortfolioID, p.Symbol, err)
		}
	}
	return nil
}
