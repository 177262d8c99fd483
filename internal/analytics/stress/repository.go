package stress

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/vantage/internal/analytics"
	"github.com/aristath/vantage/internal/database"
)

// Schema creates the stress result table.
const Schema = `
CREATE TABLE IF NOT EXISTS stress_results (
	portfolio_id     TEXT NOT NULL,
	calculation_date TEXT NOT NULL,
	category         TEXT NOT NULL,
	scenario         TEXT NOT NULL,
	impact_amount    REAL NOT NULL,
	impact_pct       REAL NOT NULL,
	created_at       INTEGER NOT NULL,
	PRIMARY KEY (portfolio_id, calculation_date, category, scenario)
);
`

// Repository persists stress scenario impacts.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a stress repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{db: db, log: log.With().Str("repository", "stress").Logger()}
}

// InitSchema creates the stress table if needed.
func (r *Repository) InitSchema() error {
	if _, err := r.db.Exec(Schema); err != nil {
		return fmt.Errorf("failed to initialize stress schema: %w", err)
	}
	return nil
}

// StoreImpacts replaces the stress results for (portfolio, date).
func (r *Repository) StoreImpacts(portfolioID, date string, impacts []Impact) (analytics.StorageOutcome, error) {
	portfolioID = analytics.NormalizeID(portfolioID)
	var outcome analytics.StorageOutcome

	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		if _, err := tx.Exec(
			"DELETE FROM stress_results WHERE portfolio_id = ? AND calculation_date = ?",
			portfolioID, date,
		); err != nil {
			return fmt.Errorf("failed to clear stress results: %w", err)
		}

		now := time.Now().Unix()
		for _, impact := range impacts {
			if _, err := tx.Exec(`
				INSERT INTO stress_results
					(portfolio_id, calculation_date, category, scenario, impact_amount, impact_pct, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				portfolioID, date, impact.Category, impact.Name, impact.ImpactAmount, impact.ImpactPct, now,
			); err != nil {
				return fmt.Errorf("failed to store stress impact %s/%s: %w", impact.Category, impact.Name, err)
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

// GetImpacts returns the stored impacts for (portfolio, date), ordered by
// (category, scenario).
func (r *Repository) GetImpacts(portfolioID, date string) ([]Impact, error) {
	portfolioID = analytics.NormalizeID(portfolioID)

	rows, err := r.db.Query(`
		SELECT category, scenario, impact_amount, impact_pct
		FROM stress_results
		WHERE portfolio_id = ? AND calculation_date = ?
		ORDER BY category, scenario`,
		portfolioID, date,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query stress results: %w", err)
	}
	defer rows.Close()

	var impacts []Impact
	for rows.Next() {
		var impact Impact
		if err := rows.Scan(&impact.Category, &impact.Name, &impact.ImpactAmount, &impact.ImpactPct); err != nil {
			return nil, fmt.Errorf("failed to scan stress impact: %w", err)
		}
		impacts = append(impacts, impact)
	}
	return impacts, rows.Err()
}
