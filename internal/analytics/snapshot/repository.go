package snapshot

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/vantage/internal/analytics"
	"github.com/aristath/vantage/internal/analytics/valuation"
)

// Schema creates the snapshot history table.
const Schema = `
CREATE TABLE IF NOT EXISTS portfolio_snapshots (
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

CREATE INDEX IF NOT EXISTS idx_snapshots_by_date
	ON portfolio_snapshots(calculation_date);
`

// Snapshot is one row of valuation history.
type Snapshot struct {
	PortfolioID   string  `json:"portfolio_id"`
	Date          string  `json:"date"`
	TotalValue    float64 `json:"total_value"`
	PublicValue   float64 `json:"public_value"`
	PrivateValue  float64 `json:"private_value"`
	PositionCount int     `json:"position_count"`
	PublicCount   int     `json:"public_count"`
}

// Repository persists portfolio snapshots.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a snapshot repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{db: db, log: log.With().Str("repository", "snapshot").Logger()}
}

// InitSchema creates the snapshot table if needed.
func (r *Repository) InitSchema() error {
	if _, err := r.db.Exec(Schema); err != nil {
		return fmt.Errorf("failed to initialize snapshot schema: %w", err)
	}
	return nil
}

// StoreSnapshot upserts the snapshot row for the valuation's (portfolio, date).
func (r *Repository) StoreSnapshot(v valuation.Valuation) (analytics.StorageOutcome, error) {
	_, err := r.db.Exec(`
		INSERT OR REPLACE INTO portfolio_snapshots
			(portfolio_id, calculation_date, total_value, public_value, private_value,
			 position_count, public_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		analytics.NormalizeID(v.PortfolioID), v.Date, v.TotalValue, v.PublicValue, v.PrivateValue,
		v.PositionCount, v.PublicCount, time.Now().Unix(),
	)
	if err != nil {
		return analytics.StorageOutcome{}, fmt.Errorf("failed to store snapshot: %w", err)
	}

	return analytics.StorageOutcome{PortfolioRows: 1}, nil
}

// GetHistory returns a portfolio's snapshots ordered by date ascending,
// capped at limit rows (0 means no cap).
func (r *Repository) GetHistory(portfolioID string, limit int) ([]Snapshot, error) {
	portfolioID = analytics.NormalizeID(portfolioID)

	query := `
		SELECT portfolio_id, calculation_date, total_value, public_value, private_value,
		       position_count, public_count
		FROM portfolio_snapshots
		WHERE portfolio_id = ?
		ORDER BY calculation_date ASC`
	args := []interface{}{portfolioID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []Snapshot
	for rows.Next() {
		var s Snapshot
		if err := rows.Scan(&s.PortfolioID, &s.Date, &s.TotalValue, &s.PublicValue, &s.PrivateValue,
			&s.PositionCount, &s.PublicCount); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snapshots = append(snapshots, s)
	}
	return snapshots, rows.Err()
}
