package analytics

// Quality flags attached to every calculation result.
const (
	FlagOK                = "ok"
	FlagLimitedHistory    = "limited_history"     // computed, but on a short aligned window
	FlagNoPublicPositions = "no_public_positions" // zero quant-eligible positions with usable history
	FlagNoFactorExposures = "no_factor_exposures" // no stored exposures for the date
	FlagNoPriceOverlap    = "no_price_overlap"    // no position pair with enough shared history
)

// DataQuality describes how much data backed a calculation. It is attached to
// every Result regardless of variant.
type DataQuality struct {
	Flag              string `json:"flag"`
	Message           string `json:"message"`
	PositionsAnalyzed int    `json:"positions_analyzed"`
	PositionsTotal    int    `json:"positions_total"`
	PositionsSkipped  int    `json:"positions_skipped"`
	DataDays          int    `json:"data_days"`
}

// RegressionStats summarizes one position's factor regression.
type RegressionStats struct {
	RSquared     float64 `json:"r_squared"`
	Observations int     `json:"observations"`
}

// StorageOutcome counts rows written when a result was persisted.
type StorageOutcome struct {
	PositionRows  int `json:"position_rows"`
	PortfolioRows int `json:"portfolio_rows"`
}

// Result is the uniform outcome of a calculation engine. A skipped result is a
// same-shaped zero-valued result, never an absent one: both variants expose
// the identical field set, so downstream consumers can read any field without
// branching on the variant first. Construct results only through Complete and
// Skipped, which force every field to be populated.
type Result struct {
	Skipped         bool                          `json:"skipped"`
	FactorBetas     map[string]float64            `json:"factor_betas"`
	PositionBetas   map[string]map[string]float64 `json:"position_betas"`
	RegressionStats map[string]RegressionStats    `json:"regression_stats"`
	Storage         StorageOutcome                `json:"storage"`
	Quality         DataQuality                   `json:"data_quality"`
}

// Complete builds a computed result. Nil maps are replaced with allocated
// empty maps so the serialized shape is always identical to a skipped result.
func Complete(
	factorBetas map[string]float64,
	positionBetas map[string]map[string]float64,
	regressionStats map[string]RegressionStats,
	storage StorageOutcome,
	quality DataQuality,
) Result {
	if factorBetas == nil {
		factorBetas = map[string]float64{}
	}
	if positionBetas == nil {
		positionBetas = map[string]map[string]float64{}
	}
	if regressionStats == nil {
		regressionStats = map[string]RegressionStats{}
	}
	if quality.Flag == "" {
		quality.Flag = FlagOK
	}
	return Result{
		Skipped:         false,
		FactorBetas:     factorBetas,
		PositionBetas:   positionBetas,
		RegressionStats: regressionStats,
		Storage:         storage,
		Quality:         quality,
	}
}

// Skipped builds a skip result: zero-valued but fully populated. Data
// insufficiency is an expected outcome, not an error, and must never surface
// as one.
func Skipped(flag, message string, positionsTotal int) Result {
	return Result{
		Skipped:         true,
		FactorBetas:     map[string]float64{},
		PositionBetas:   map[string]map[string]float64{},
		RegressionStats: map[string]RegressionStats{},
		Storage:         StorageOutcome{},
		Quality: DataQuality{
			Flag:              flag,
			Message:           message,
			PositionsAnalyzed: 0,
			PositionsTotal:    positionsTotal,
			PositionsSkipped:  positionsTotal,
			DataDays:          0,
		},
	}
}
