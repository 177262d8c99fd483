// Package marketdata fetches daily price history from the external quote API.
// Responses are cached persistently; when the API is unreachable the client
// falls back to stale cached series rather than failing the whole batch.
package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/vantage/internal/analytics"
	"github.com/aristath/vantage/internal/clientcache"
	"github.com/aristath/vantage/internal/domain"
)

// ErrFetchFailed is returned when the API is unreachable after retries and no
// cached series exists. The orchestrator treats it as a critical per-portfolio
// failure.
var ErrFetchFailed = errors.New("market data fetch failed")

const (
	cacheTable    = "price_history"
	cacheTTL      = 20 * time.Hour // refreshed by the nightly batch
	quoteTable    = "current_prices"
	quoteTTL      = 15 * time.Minute
	maxRetries    = 3
	retryBaseWait = 500 * time.Millisecond
	fetchTimeout  = 15 * time.Second
)

// Client for the market data provider.
type Client struct {
	baseURL   string
	apiKey    string
	client    *http.Client
	cacheRepo *clientcache.Repository
	log       zerolog.Logger
}

// NewClient creates a new market data client. cacheRepo is optional - if nil,
// caching is disabled.
func NewClient(baseURL, apiKey string, cacheRepo *clientcache.Repository, log zerolog.Logger) *Client {
	return &Client{
		baseURL:   baseURL,
		apiKey:    apiKey,
		client:    &http.Client{Timeout: fetchTimeout},
		cacheRepo: cacheRepo,
		log:       log.With().Str("client", "marketdata").Logger(),
	}
}

// apiCandle is the provider's daily history response.
type apiCandle struct {
	Date  string  `json:"date"`
	Close float64 `json:"close"`
}

type apiHistoryResponse struct {
	Symbol  string      `json:"symbol"`
	Candles []apiCandle `json:"candles"`
}

// GetDailyHistory returns the daily price series for a symbol in [from, to].
// A symbol with no data yields an empty series and no error; only exhausted
// retries without any cached fallback produce ErrFetchFailed.
func (c *Client) GetDailyHistory(ctx context.Context, symbol string, from, to time.Time) (domain.PriceSeries, error) {
	symbol = analytics.NormalizeSymbol(symbol)
	cacheKey := fmt.Sprintf("%s:%s:%s", symbol, from.Format("2006-01-02"), to.Format("2006-01-02"))

	if c.cacheRepo != nil {
		var cached domain.PriceSeries
		hit, err := c.cacheRepo.GetIfFresh(cacheTable, cacheKey, &cached)
		if err == nil && hit {
			c.log.Debug().Str("symbol", symbol).Int("days", cached.Len()).Msg("Cache hit")
			return cached, nil
		}
	}

	series, err := c.fetchWithRetry(ctx, symbol, from, to)
	if err != nil {
		// API failed - stale cached series is better than failing the run.
		if c.cacheRepo != nil {
			var stale domain.PriceSeries
			hit, cacheErr := c.cacheRepo.Get(cacheTable, cacheKey, &stale)
			if cacheErr == nil && hit {
				c.log.Warn().Err(err).Str("symbol", symbol).Msg("API failed, using stale cached series")
				return stale, nil
			}
		}
		return domain.PriceSeries{}, fmt.Errorf("%w: %s: %v", ErrFetchFailed, symbol, err)
	}

	if c.cacheRepo != nil {
		if err := c.cacheRepo.Store(cacheTable, cacheKey, series, cacheTTL); err != nil {
			c.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to cache price series")
		}
	}

	return series, nil
}

type apiQuoteResponse struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

// GetCurrentPrice returns the latest quote for a symbol. The bool reports
// whether a quote exists; unknown symbols yield (0, false, nil). Quotes are
// cached with a short TTL, with the same stale fallback as history fetches.
func (c *Client) GetCurrentPrice(ctx context.Context, symbol string) (float64, bool, error) {
	symbol = analytics.NormalizeSymbol(symbol)

	if c.cacheRepo != nil {
		var cached float64
		hit, err := c.cacheRepo.GetIfFresh(quoteTable, symbol, &cached)
		if err == nil && hit {
			c.log.Debug().Str("symbol", symbol).Msg("Quote cache hit")
			return cached, true, nil
		}
	}

	price, found, err := c.quoteWithRetry(ctx, symbol)
	if err != nil {
		if c.cacheRepo != nil {
			var stale float64
			hit, cacheErr := c.cacheRepo.Get(quoteTable, symbol, &stale)
			if cacheErr == nil && hit {
				c.log.Warn().Err(err).Str("symbol", symbol).Msg("API failed, using stale cached quote")
				return stale, true, nil
			}
		}
		return 0, false, fmt.Errorf("%w: %s: %v", ErrFetchFailed, symbol, err)
	}
	if !found {
		return 0, false, nil
	}

	if c.cacheRepo != nil {
		if err := c.cacheRepo.Store(quoteTable, symbol, price, quoteTTL); err != nil {
			c.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to cache quote")
		}
	}

	return price, true, nil
}

func (c *Client) quoteWithRetry(ctx context.Context, symbol string) (float64, bool, error) {
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			wait := retryBaseWait * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return 0, false, ctx.Err()
			}
		}

		price, found, retryable, err := c.quoteOnce(ctx, symbol)
		if err == nil {
			return price, found, nil
		}
		lastErr = err
		if !retryable {
			break
		}
		c.log.Debug().Err(err).Str("symbol", symbol).Int("attempt", attempt+1).Msg("Retrying quote fetch")
	}

	return 0, false, lastErr
}

func (c *Client) quoteOnce(ctx context.Context, symbol string) (float64, bool, bool, error) {
	endpoint := fmt.Sprintf("%s/quote/%s", c.baseURL, url.PathEscape(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, false, false, fmt.Errorf("failed to build request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, false, true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode == http.StatusNotFound:
		return 0, false, false, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return 0, false, true, fmt.Errorf("API returned status %d", resp.StatusCode)
	default:
		return 0, false, false, fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	var payload apiQuoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, false, true, fmt.Errorf("failed to parse response: %w", err)
	}
	if payload.Price <= 0 {
		return 0, false, false, nil
	}

	return payload.Price, true, false, nil
}

// fetchWithRetry calls the API with exponential backoff on transient failures.
func (c *Client) fetchWithRetry(ctx context.Context, symbol string, from, to time.Time) (domain.PriceSeries, error) {
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			wait := retryBaseWait * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return domain.PriceSeries{}, ctx.Err()
			}
		}

		series, retryable, err := c.fetchOnce(ctx, symbol, from, to)
		if err == nil {
			return series, nil
		}
		lastErr = err
		if !retryable {
			break
		}
		c.log.Debug().Err(err).Str("symbol", symbol).Int("attempt", attempt+1).Msg("Retrying price fetch")
	}

	return domain.PriceSeries{}, lastErr
}

// fetchOnce performs a single API call. The bool result reports whether the
// failure is retryable (timeout, rate limit, 5xx).
func (c *Client) fetchOnce(ctx context.Context, symbol string, from, to time.Time) (domain.PriceSeries, bool, error) {
	endpoint := fmt.Sprintf("%s/history/%s", c.baseURL, url.PathEscape(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.PriceSeries{}, false, fmt.Errorf("failed to build request: %w", err)
	}

	q := req.URL.Query()
	q.Set("from", from.Format("2006-01-02"))
	q.Set("to", to.Format("2006-01-02"))
	q.Set("interval", "1d")
	req.URL.RawQuery = q.Encode()
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.PriceSeries{}, true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode == http.StatusNotFound:
		// Unknown symbol: no data is a normal outcome, not an error.
		return domain.PriceSeries{Symbol: symbol}, false, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return domain.PriceSeries{}, true, fmt.Errorf("API returned status %d", resp.StatusCode)
	default:
		return domain.PriceSeries{}, false, fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	var payload apiHistoryResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return domain.PriceSeries{}, true, fmt.Errorf("failed to parse response: %w", err)
	}

	series := domain.PriceSeries{Symbol: symbol, Points: make([]domain.PricePoint, 0, len(payload.Candles))}
	for _, candle := range payload.Candles {
		if candle.Close <= 0 {
			continue
		}
		series.Points = append(series.Points, domain.PricePoint{Date: candle.Date, Close: candle.Close})
	}

	return series, false, nil
}
