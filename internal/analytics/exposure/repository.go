package exposure

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/vantage/internal/analytics"
	"github.com/aristath/vantage/internal/database"
)

// Schema creates the factor exposure tables.
const Schema = `
CREATE TABLE IF NOT EXISTS factor_runs (
	portfolio_id       TEXT NOT NULL,
	calculation_date   TEXT NOT NULL,
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

CREATE TABLE IF NOT EXISTS position_factor_betas (
	portfolio_id     TEXT NOT NULL,
	calculation_date TEXT NOT NULL,
	symbol           TEXT NOT NULL,
	factor           TEXT NOT NULL,
	beta             REAL NOT NULL,
	r_squared        REAL NOT NULL,
	observations     INTEGER NOT NULL,
	PRIMARY KEY (portfolio_id, calculation_date, symbol, factor)
);

CREATE TABLE IF NOT EXISTS portfolio_factor_betas (
	portfolio_id     TEXT NOT NULL,
	calculation_date TEXT NOT NULL,
	factor           TEXT NOT NULL,
	beta             REAL NOT NULL,
	PRIMARY KEY (portfolio_id, calculation_date, factor)
);

CREATE INDEX IF NOT EXISTS idx_position_betas_lookup
	ON position_factor_betas(portfolio_id, calculation_date);
`

// Repository persists factor exposure results.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a factor exposure repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{db: db, log: log.With().Str("repository", "exposure").Logger()}
}

// InitSchema creates the factor exposure tables if needed.
func (r *Repository) InitSchema() error {
	if _, err := r.db.Exec(Schema); err != nil {
		return fmt.Errorf("failed to initialize exposure schema: %w", err)
	}
	return nil
}

// StoreResult writes a run's quality row and, for complete results, its
// position and portfolio betas. Re-running a date replaces the previous
// result. Skipped runs still get a quality row so reads can explain the gap.
func (r *Repository) StoreResult(portfolioID, date string, result analytics.Result) (analytics.StorageOutcome, error) {
	portfolioID = analytics.NormalizeID(portfolioID)
	var outcome analytics.StorageOutcome

	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		for _, table := range []string{"position_factor_betas", "portfolio_factor_betas"} {
			query := fmt.Sprintf("DELETE FROM %s WHERE portfolio_id = ? AND calculation_date = ?", table)
			if _, err := tx.Exec(query, portfolioID, date); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}

		skipped := 0
		if result.Skipped {
			skipped = 1
		}
		q := result.Quality
		_, err := tx.Exec(`
			INSERT OR REPLACE INTO factor_runs
				(portfolio_id, calculation_date, skipped, flag, message,
				 positions_analyzed, positions_total, positions_skipped, data_days, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			portfolioID, date, skipped, q.Flag, q.Message,
			q.PositionsAnalyzed, q.PositionsTotal, q.PositionsSkipped, q.DataDays, time.Now().Unix(),
		)
		if err != nil {
			return fmt.Errorf("failed to store run quality: %w", err)
		}

		if result.Skipped {
			return nil
		}

		for symbol, betas := range result.PositionBetas {
			stats := result.RegressionStats[symbol]
			for factor, beta := range betas {
				_, err := tx.Exec(`
					INSERT INTO position_factor_betas
						(portfolio_id, calculation_date, symbol, factor, beta, r_squared, observations)
					VALUES (?, ?, ?, ?, ?, ?, ?)`,
					portfolioID, date, symbol, factor, beta, stats.RSquared, stats.Observations,
				)
				if err != nil {
					return fmt.Errorf("failed to store position beta %s/%s: %w", symbol, factor, err)
				}
				outcome.PositionRows++
			}
		}

		for factor, beta := range result.FactorBetas {
			_, err := tx.Exec(`
				INSERT INTO portfolio_factor_betas (portfolio_id, calculation_date, factor, beta)
				VALUES (?, ?, ?, ?)`,
				portfolioID, date, factor, beta,
			)
			if err != nil {
				return fmt.Errorf("failed to store portfolio beta %s: %w", factor, err)
			}
			outcome.PortfolioRows++
		}

		return nil
	})
	if err != nil {
		return analytics.StorageOutcome{}, err
	}

	return outcome, nil
}

// GetPortfolioBetas returns the portfolio-level betas for a date, or an empty
// map when the run was skipped or never happened.
func (r *Repository) GetPortfolioBetas(portfolioID, date string) (map[string]float64, error) {
	portfolioID = analytics.NormalizeID(portfolioID)

	rows, err := r.db.Query(`
		SELECT factor, beta FROM portfolio_factor_betas
		WHERE portfolio_id = ? AND calculation_date = ?`,
		portfolioID, date,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query portfolio betas: %w", err)
	}
	defer rows.Close()

	betas := make(map[string]float64)
	for rows.Next() {
		var factor string
		var beta float64
		if err := rows.Scan(&factor, &beta); err != nil {
			return nil, fmt.Errorf("failed to scan portfolio beta: %w", err)
		}
		betas[factor] = beta
	}
	return betas, rows.Err()
}

// GetPositionBetas returns per-symbol betas for a date.
func (r *Repository) GetPositionBetas(portfolioID, date string) (map[string]map[string]float64, error) {
	portfolioID = analytics.NormalizeID(portfolioID)

	rows, err := r.db.Query(`
		SELECT symbol, factor, beta FROM position_factor_betas
		WHERE portfolio_id = ? AND calculation_date = ?`,
		portfolioID, date,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query position betas: %w", err)
	}
	defer rows.Close()

	betas := make(map[string]map[string]float64)
	for rows.Next() {
		var symbol, factor string
		var beta float64
		if err := rows.Scan(&symbol, &factor, &beta); err != nil {
			return nil, fmt.Errorf("failed to scan position beta: %w", err)
		}
		if betas[symbol] == nil {
			betas[symbol] = make(map[string]float64)
		}
		betas[symbol][factor] = beta
	}
	return betas, rows.Err()
}

// GetRunQuality returns the quality record of the latest run on or before the
// given date. The bool reports whether any run exists.
func (r *Repository) GetRunQuality(portfolioID, date string) (analytics.DataQuality, bool, error) {
	portfolioID = analytics.NormalizeID(portfolioID)

	var q analytics.DataQuality
	err := r.db.QueryRow(`
		SELECT flag, message, positions_analyzed, positions_total, positions_skipped, data_days
		FROM factor_runs
		WHERE portfolio_id = ? AND calculation_date <= ?
		ORDER BY calculation_date DESC LIMIT 1`,
		portfolioID, date,
	).Scan(&q.Flag, &q.Message, &q.PositionsAnalyzed, &q.PositionsTotal, &q.PositionsSkipped, &q.DataDays)
	if err == sql.ErrNoRows {
		return analytics.DataQuality{}, false, nil
	}
	if err != nil {
		return analytics.DataQuality{}, false, fmt.Errorf("failed to read run quality: %w", err)
	}
	return q, true, nil
}
