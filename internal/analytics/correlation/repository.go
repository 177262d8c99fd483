package correlation

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/vantage/internal/analytics"
	"github.com/aristath/vantage/internal/database"
)

// Schema creates the correlation tables.
const Schema = `
CREATE TABLE IF NOT EXISTS position_correlations (
	portfolio_id     TEXT NOT NULL,
	calculation_date TEXT NOT NULL,
	symbol_a         TEXT NOT NULL,
	symbol_b         TEXT NOT NULL,
	correlation      REAL NOT NULL,
	overlap_days     INTEGER NOT NULL,
	PRIMARY KEY (portfolio_id, calculation_date, symbol_a, symbol_b)
);

CREATE TABLE IF NOT EXISTS diversification_scores (
	portfolio_id       TEXT NOT NULL,
	calculation_date   TEXT NOT NULL,
	score              REAL NOT NULL,
	skipped            INTEGER NOT NULL DEFAULT 0,
	flag               TEXT NOT NULL,
	message            TEXT NOT NULL DEFAULT '',
	positions_analyzed INTEGER NOT NULL,
	positions_total    INTEGER NOT NULL,
	positions_skipped  INTEGER NOT NULL,
	data_days          INTEGER NOT NULL,
	created_at         INTEGER NOT NULL,
	PRIMARY KEY (portfolio_id, calculation_date)
);
`

// Repository persists correlation results. Skipped runs keep their quality
// row (pairs cleared, score zeroed) so reads can tell "skipped" from "never
// ran", matching the factor exposure storage policy.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a correlation repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{db: db, log: log.With().Str("repository", "correlation").Logger()}
}

// InitSchema creates the correlation tables if needed.
func (r *Repository) InitSchema() error {
	if _, err := r.db.Exec(Schema); err != nil {
		return fmt.Errorf("failed to initialize correlation schema: %w", err)
	}
	return nil
}

// StoreResult replaces the correlation result for (portfolio, date).
func (r *Repository) StoreResult(portfolioID, date string, pairs []Pair, score float64, quality analytics.DataQuality) (analytics.StorageOutcome, error) {
	portfolioID = analytics.NormalizeID(portfolioID)
	var outcome analytics.StorageOutcome

	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		if _, err := tx.Exec(
			"DELETE FROM position_correlations WHERE portfolio_id = ? AND calculation_date = ?",
			portfolioID, date,
		); err != nil {
			return fmt.Errorf("failed to clear correlations: %w", err)
		}

		for _, pair := range pairs {
			if _, err := tx.Exec(`
				INSERT INTO position_correlations
					(portfolio_id, calculation_date, symbol_a, symbol_b, correlation, overlap_days)
				VALUES (?, ?, ?, ?, ?, ?)`,
				portfolioID, date, pair.SymbolA, pair.SymbolB, pair.Correlation, pair.OverlapDays,
			); err != nil {
				return fmt.Errorf("failed to store correlation %s/%s: %w", pair.SymbolA, pair.SymbolB, err)
			}
			outcome.PositionRows++
		}

		if _, err := tx.Exec(`
			INSERT OR REPLACE INTO diversification_scores
				(portfolio_id, calculation_date, score, skipped, flag, message,
				 positions_analyzed, positions_total, positions_skipped, data_days, created_at)
			VALUES (?, ?, ?, 0, ?, ?, ?, ?, ?, ?, ?)`,
			portfolioID, date, score, quality.Flag, quality.Message,
			quality.PositionsAnalyzed, quality.PositionsTotal, quality.PositionsSkipped,
			quality.DataDays, time.Now().Unix(),
		); err != nil {
			return fmt.Errorf("failed to store diversification score: %w", err)
		}
		outcome.PortfolioRows++

		return nil
	})
	if err != nil {
		return analytics.StorageOutcome{}, err
	}

	return outcome, nil
}

// StoreSkip records a skipped run: previously stored pairs for the date are
// cleared and the quality row is written with a zero score.
func (r *Repository) StoreSkip(portfolioID, date string, quality analytics.DataQuality) (analytics.StorageOutcome, error) {
	portfolioID = analytics.NormalizeID(portfolioID)
	var outcome analytics.StorageOutcome

	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		if _, err := tx.Exec(
			"DELETE FROM position_correlations WHERE portfolio_id = ? AND calculation_date = ?",
			portfolioID, date,
		); err != nil {
			return fmt.Errorf("failed to clear correlations: %w", err)
		}

		if _, err := tx.Exec(`
			INSERT OR REPLACE INTO diversification_scores
				(portfolio_id, calculation_date, score, skipped, flag, message,
				 positions_analyzed, positions_total, positions_skipped, data_days, created_at)
			VALUES (?, ?, 0, 1, ?, ?, ?, ?, ?, ?, ?)`,
			portfolioID, date, quality.Flag, quality.Message,
			quality.PositionsAnalyzed, quality.PositionsTotal, quality.PositionsSkipped,
			quality.DataDays, time.Now().Unix(),
		); err != nil {
			return fmt.Errorf("failed to store skip record: %w", err)
		}
		outcome.PortfolioRows++

		return nil
	})
	if err != nil {
		return analytics.StorageOutcome{}, err
	}

	return outcome, nil
}

// GetPairs returns the stored pairwise correlations for (portfolio, date),
// ordered by symbol pair.
func (r *Repository) GetPairs(portfolioID, date string) ([]Pair, error) {
	portfolioID = analytics.NormalizeID(portfolioID)

	rows, err := r.db.Query(`
		SELECT symbol_a, symbol_b, correlation, overlap_days
		FROM position_correlations
		WHERE portfolio_id = ? AND calculation_date = ?
		ORDER BY symbol_a, symbol_b`,
		portfolioID, date,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query correlations: %w", err)
	}
	defer rows.Close()

	var pairs []Pair
	for rows.Next() {
		var p Pair
		if err := rows.Scan(&p.SymbolA, &p.SymbolB, &p.Correlation, &p.OverlapDays); err != nil {
			return nil, fmt.Errorf("failed to scan correlation: %w", err)
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

// GetDiversification returns the stored diversification score and quality for
// (portfolio, date). The bool reports whether a complete (non-skipped) run
// exists; a skip row still returns its quality record, distinguishable from
// "never ran" by a non-empty flag.
func (r *Repository) GetDiversification(portfolioID, date string) (float64, analytics.DataQuality, bool, error) {
	portfolioID = analytics.NormalizeID(portfolioID)

	var score float64
	var skipped int
	var q analytics.DataQuality
	err := r.db.QueryRow(`
		SELECT score, skipped, flag, message, positions_analyzed, positions_total, positions_skipped, data_days
		FROM diversification_scores
		WHERE portfolio_id = ? AND calculation_date = ?`,
		portfolioID, date,
	).Scan(&score, &skipped, &q.Flag, &q.Message, &q.PositionsAnalyzed, &q.PositionsTotal, &q.PositionsSkipped, &q.DataDays)
	if err == sql.ErrNoRows {
		return 0, analytics.DataQuality{}, false, nil
	}
	if err != nil {
		return 0, analytics.DataQuality{}, false, fmt.Errorf("failed to read diversification score: %w", err)
	}
	if skipped == 1 {
		return 0, q, false, nil
	}
	return score, q, true, nil
}
