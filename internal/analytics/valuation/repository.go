package valuation

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/vantage/internal/analytics"
	"github.com/aristath/vantage/internal/database"
)

// Schema creates the valuation tables.
const Schema = `
CREATE TABLE IF NOT EXISTS valuations (
	portfolio_id     TEXT NOT NULL,
	calculation_date TEXT NOT NULL,
	total_value      REAL NOT NULL,
	public_value     REAL NOT NULL,
	private_value    REAL NOT NULL,
	position_count   INTEGER NOT NULL,
	public_count     INTEGER NOT NULL,
	created_at       INTEGER NOT NULL,
	PRIMARY KEY (portfolio_id, calculation_date)
);

CREATE TABLE IF NOT EXISTS valuation_positions (
	portfolio_id     TEXT NOT NULL,
	calculation_date TEXT NOT NULL,
	symbol           TEXT NOT NULL,
	market_value     REAL NOT NULL,
	weight           REAL NOT NULL,
	rsi_14           REAL,
	sma_20           REAL,
	above_sma        INTEGER,
	PRIMARY KEY (portfolio_id, calculation_date, symbol)
);
`

// Repository persists portfolio valuations.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a valuation repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{db: db, log: log.With().Str("repository", "valuation").Logger()}
}

// InitSchema creates the valuation tables if needed.
func (r *Repository) InitSchema() error {
	if _, err := r.db.Exec(Schema); err != nil {
		return fmt.Errorf("failed to initialize valuation schema: %w", err)
	}
	return nil
}

// StoreValuation replaces the valuation for (portfolio, date).
func (r *Repository) StoreValuation(v Valuation) (analytics.StorageOutcome, error) {
	var outcome analytics.StorageOutcome

	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		if _, err := tx.Exec(
			"DELETE FROM valuation_positions WHERE portfolio_id = ? AND calculation_date = ?",
			v.PortfolioID, v.Date,
		); err != nil {
			return fmt.Errorf("failed to clear valuation positions: %w", err)
		}

		if _, err := tx.Exec(`
			INSERT OR REPLACE INTO valuations
				(portfolio_id, calculation_date, total_value, public_value, private_value,
				 position_count, public_count, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			v.PortfolioID, v.Date, v.TotalValue, v.PublicValue, v.PrivateValue,
			v.PositionCount, v.PublicCount, time.Now().Unix(),
		); err != nil {
			return fmt.Errorf("failed to store valuation: %w", err)
		}
		outcome.PortfolioRows++

		for _, pv := range v.Positions {
			var aboveSMA interface{}
			if pv.AboveSMA != nil {
				aboveSMA = boolToInt(*pv.AboveSMA)
			}
			if _, err := tx.Exec(`
				INSERT INTO valuation_positions
					(portfolio_id, calculation_date, symbol, market_value, weight, rsi_14, sma_20, above_sma)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				v.PortfolioID, v.Date, pv.Symbol, pv.MarketValue, pv.Weight, pv.RSI14, pv.SMA20, aboveSMA,
			); err != nil {
				return fmt.Errorf("failed to store valuation position %s: %w", pv.Symbol, err)
			}
			outcome.PositionRows++
		}

		return nil
	})
	if err != nil {
		return analytics.StorageOutcome{}, err
	}

	return outcome, nil
}

// GetValuation returns the stored valuation for (portfolio, date). The bool
// reports whether one exists.
func (r *Repository) GetValuation(portfolioID, date string) (Valuation, bool, error) {
	portfolioID = analytics.NormalizeID(portfolioID)

	var v Valuation
	err := r.db.QueryRow(`
		SELECT portfolio_id, calculation_date, total_value, public_value, private_value,
		       position_count, public_count
		FROM valuations
		WHERE portfolio_id = ? AND calculation_date = ?`,
		portfolioID, date,
	).Scan(&v.PortfolioID, &v.Date, &v.TotalValue, &v.PublicValue, &v.PrivateValue,
		&v.PositionCount, &v.PublicCount)
	if err == sql.ErrNoRows {
		return Valuation{}, false, nil
	}
	if err != nil {
		return Valuation{}, false, fmt.Errorf("failed to read valuation: %w", err)
	}

	rows, err := r.db.Query(`
		SELECT symbol, market_value, weight, rsi_14, sma_20, above_sma
		FROM valuation_positions
		WHERE portfolio_id = ? AND calculation_date = ?
		ORDER BY market_value DESC`,
		portfolioID, date,
	)
	if err != nil {
		return Valuation{}, false, fmt.Errorf("failed to read valuation positions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var pv PositionValuation
		var aboveSMA sql.NullInt64
		if err := rows.Scan(&pv.Symbol, &pv.MarketValue, &pv.Weight, &pv.RSI14, &pv.SMA20, &aboveSMA); err != nil {
			return Valuation{}, false, fmt.Errorf("failed to scan valuation position: %w", err)
		}
		if aboveSMA.Valid {
			above := aboveSMA.Int64 != 0
			pv.AboveSMA = &above
		}
		v.Positions = append(v.Positions, pv)
	}
	if err := rows.Err(); err != nil {
		return Valuation{}, false, err
	}

	return v, true, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
