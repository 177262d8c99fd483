// Package domain contains the core domain models shared across modules.
// It has no infrastructure dependencies.
package domain

import "time"

// InvestmentClass labels a holding for return-based analysis eligibility.
type InvestmentClass string

const (
	// ClassPublic - exchange-traded, daily price history available.
	ClassPublic InvestmentClass = "PUBLIC"
	// ClassPrivate - non-tradable or feed-less, excluded from quantitative analysis.
	ClassPrivate InvestmentClass = "PRIVATE"
	// ClassOptions - derivative contracts, priced off the underlying.
	ClassOptions InvestmentClass = "OPTIONS"
)

// Position represents a single holding within a portfolio.
// Class is nil until the classification backfill has run; engines must treat
// an unclassified position as ineligible rather than assuming PUBLIC.
type Position struct {
	PortfolioID  string
	Symbol       string
	Quantity     float64
	CurrentPrice float64
	MarketValue  float64
	Class        *InvestmentClass
	LastUpdated  time.Time
}

// IsQuantEligible reports whether the position can participate in
// return-based analysis (factor regression, correlation).
func (p Position) IsQuantEligible() bool {
	return p.Class != nil && *p.Class == ClassPublic
}

// PricePoint is a single daily observation.
type PricePoint struct {
	Date  string  `json:"date" msgpack:"date"` // YYYY-MM-DD
	Close float64 `json:"close" msgpack:"close"`
}

// PriceSeries is an ordered (ascending by date) daily price series for one symbol.
// Series are ephemeral per calculation run; they are owned by the market data
// provider's cache, never by the engines.
type PriceSeries struct {
	Symbol string       `json:"symbol" msgpack:"symbol"`
	Points []PricePoint `json:"points" msgpack:"points"`
}

// Len returns the number of observations.
func (s PriceSeries) Len() int { return len(s.Points) }

// ClosesByDate returns the series as a date -> close lookup.
func (s PriceSeries) ClosesByDate() map[string]float64 {
	out := make(map[string]float64, len(s.Points))
	for _, p := range s.Points {
		out[p.Date] = p.Close
	}
	return out
}

// DailyReturns converts the series into date -> simple daily return.
// The returned map is keyed by the date of the later observation.
func (s PriceSeries) DailyReturns() map[string]float64 {
	out := make(map[string]float64, len(s.Points))
	for i := 1; i < len(s.Points); i++ {
		prev := s.Points[i-1].Close
		if prev == 0 {
			continue
		}
		out[s.Points[i].Date] = (s.Points[i].Close - prev) / prev
	}
	return out
}

// RunStatus is the lifecycle state of a batch run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// JobStatus is the lifecycle state of a single job within a run.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// JobRecord tracks one engine invocation for one portfolio within a run.
type JobRecord struct {
	JobName     string     `json:"job_name"`
	PortfolioID string     `json:"portfolio_id"`
	Status      JobStatus  `json:"status"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// BatchRun is the in-memory record of one batch calculation run.
// It lives only in the run tracker and does not survive a restart.
type BatchRun struct {
	RunID       string      `json:"run_id"`
	StartedAt   time.Time   `json:"started_at"`
	TriggeredBy string      `json:"triggered_by"`
	Jobs        []JobRecord `json:"jobs"`
	Status      RunStatus   `json:"status"`
}
