package testing

import (
	"context"
	"sync"
	"time"

	"github.com/aristath/vantage/internal/analytics"
	"github.com/aristath/vantage/internal/domain"
)

// MockPositionSource is an in-memory PositionSource for engine tests.
type MockPositionSource struct {
	mu        sync.RWMutex
	positions map[string][]domain.Position
	err       error
}

// NewMockPositionSource creates an empty mock position source.
func NewMockPositionSource() *MockPositionSource {
	return &MockPositionSource{positions: make(map[string][]domain.Position)}
}

// SetPositions replaces the positions of one portfolio.
func (m *MockPositionSource) SetPositions(portfolioID string, positions []domain.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[analytics.NormalizeID(portfolioID)] = positions
}

// SetError makes every read fail with err.
func (m *MockPositionSource) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// GetByPortfolio returns the configured positions.
func (m *MockPositionSource) GetByPortfolio(portfolioID string) ([]domain.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.positions[analytics.NormalizeID(portfolioID)], nil
}

// MockPriceProvider serves canned price series keyed by normalized symbol.
// Symbols without a configured series return an empty series, matching the
// real client's behavior for unknown symbols.
type MockPriceProvider struct {
	mu     sync.RWMutex
	series map[string]domain.PriceSeries
	quotes map[string]float64
	errs   map[string]error
	calls  map[string]int
}

// NewMockPriceProvider creates an empty mock price provider.
func NewMockPriceProvider() *MockPriceProvider {
	return &MockPriceProvider{
		series: make(map[string]domain.PriceSeries),
		quotes: make(map[string]float64),
		errs:   make(map[string]error),
		calls:  make(map[string]int),
	}
}

// SetSeries configures the series returned for a symbol.
func (m *MockPriceProvider) SetSeries(series domain.PriceSeries) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.series[analytics.NormalizeSymbol(series.Symbol)] = series
}

// SetError makes fetches of one symbol fail.
func (m *MockPriceProvider) SetError(symbol string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[analytics.NormalizeSymbol(symbol)] = err
}

// SetQuote configures the live quote returned for a symbol.
func (m *MockPriceProvider) SetQuote(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotes[analytics.NormalizeSymbol(symbol)] = price
}

// GetCurrentPrice returns the configured quote, if any.
func (m *MockPriceProvider) GetCurrentPrice(ctx context.Context, symbol string) (float64, bool, error) {
	symbol = analytics.NormalizeSymbol(symbol)

	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.errs[symbol]; err != nil {
		return 0, false, err
	}
	price, ok := m.quotes[symbol]
	return price, ok, nil
}

// Calls reports how many times a symbol was fetched.
func (m *MockPriceProvider) Calls(symbol string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[analytics.NormalizeSymbol(symbol)]
}

// GetDailyHistory returns the configured series clipped to [from, to].
func (m *MockPriceProvider) GetDailyHistory(ctx context.Context, symbol string, from, to time.Time) (domain.PriceSeries, error) {
	symbol = analytics.NormalizeSymbol(symbol)

	m.mu.Lock()
	m.calls[symbol]++
	err := m.errs[symbol]
	full, ok := m.series[symbol]
	m.mu.Unlock()

	if err != nil {
		return domain.PriceSeries{}, err
	}
	if !ok {
		return domain.PriceSeries{Symbol: symbol}, nil
	}

	fromStr := from.Format("2006-01-02")
	toStr := to.Format("2006-01-02")
	clipped := domain.PriceSeries{Symbol: symbol}
	for _, p := range full.Points {
		if p.Date >= fromStr && p.Date <= toStr {
			clipped.Points = append(clipped.Points, p)
		}
	}
	return clipped, nil
}
