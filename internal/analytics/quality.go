package analytics

import "github.com/aristath/vantage/internal/domain"

// AssessPositions derives a quality record from the portfolio's current
// positions. Read endpoints use it so the quality they report reflects the
// book as it is now, not as it was when the batch last ran.
func AssessPositions(positions []domain.Position) DataQuality {
	quality := DataQuality{
		Flag:           FlagOK,
		PositionsTotal: len(positions),
	}

	for _, pos := range positions {
		if pos.IsQuantEligible() {
			quality.PositionsAnalyzed++
		}
	}
	quality.PositionsSkipped = quality.PositionsTotal - quality.PositionsAnalyzed

	if quality.PositionsAnalyzed == 0 {
		quality.Flag = FlagNoPublicPositions
		quality.Message = "portfolio has no public positions"
	}

	return quality
}
