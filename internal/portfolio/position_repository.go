// Package portfolio provides access to portfolio positions.
package portfolio

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/vantage/internal/analytics"
	"github.com/aristath/vantage/internal/classify"
	"github.com/aristath/vantage/internal/domain"
)

// Schema for the positions table. Positions are created at import and mutated
// only by the classification backfill; the calculation engines read them and
// never delete them.
const Schema = `
CREATE TABLE IF NOT EXISTS positions (
	portfolio_id     TEXT NOT NULL,
	symbol           TEXT NOT NULL,
	quantity         REAL NOT NULL,
	current_price    REAL NOT NULL DEFAULT 0,
	market_value     REAL NOT NULL DEFAULT 0,
	investment_class TEXT,
	last_updated     INTEGER NOT NULL,
	PRIMARY KEY (portfolio_id, symbol)
);
CREATE INDEX IF NOT EXISTS idx_positions_portfolio ON positions(portfolio_id);
`

// PositionRepository handles position database operations.
type PositionRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewPositionRepository creates a new position repository.
func NewPositionRepository(db *sql.DB, log zerolog.Logger) *PositionRepository {
	return &PositionRepository{
		db:  db,
		log: log.With().Str("repo", "position").Logger(),
	}
}

// InitSchema creates the positions table if needed.
func (r *PositionRepository) InitSchema() error {
	if _, err := r.db.Exec(Schema); err != nil {
		return fmt.Errorf("failed to initialize positions schema: %w", err)
	}
	return nil
}

// GetByPortfolio returns all positions for a portfolio.
func (r *PositionRepository) GetByPortfolio(portfolioID string) ([]domain.Position, error) {
	query := `SELECT portfolio_id, symbol, quantity, current_price, market_value,
		investment_class, last_updated
		FROM positions WHERE portfolio_id = ? ORDER BY symbol`

	rows, err := r.db.Query(query, analytics.NormalizeID(portfolioID))
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		pos, err := r.scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, pos)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating positions: %w", err)
	}

	return positions, nil
}

// GetPortfolioIDs returns the distinct portfolio identifiers present.
func (r *PositionRepository) GetPortfolioIDs() ([]string, error) {
	rows, err := r.db.Query(`SELECT DISTINCT portfolio_id FROM positions ORDER BY portfolio_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query portfolio ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan portfolio id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating portfolio ids: %w", err)
	}

	return ids, nil
}

// Upsert inserts or replaces a position.
func (r *PositionRepository) Upsert(pos domain.Position) error {
	var class interface{}
	if pos.Class != nil {
		class = string(*pos.Class)
	}

	_, err := r.db.Exec(`INSERT OR REPLACE INTO positions
		(portfolio_id, symbol, quantity, current_price, market_value, investment_class, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		analytics.NormalizeID(pos.PortfolioID),
		analytics.NormalizeSymbol(pos.Symbol),
		pos.Quantity, pos.CurrentPrice, pos.MarketValue,
		class, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to upsert position: %w", err)
	}
	return nil
}

// BackfillClasses classifies every unclassified position and stores the label.
// Already-classified rows are left untouched: reclassification only happens
// when the ruleset changes, and then via an explicit full reclassify.
func (r *PositionRepository) BackfillClasses() (int, error) {
	rows, err := r.db.Query(`SELECT portfolio_id, symbol FROM positions WHERE investment_class IS NULL`)
	if err != nil {
		return 0, fmt.Errorf("failed to query unclassified positions: %w", err)
	}
	defer rows.Close()

	type key struct{ portfolioID, symbol string }
	var pending []key
	for rows.Next() {
		var k key
		if err := rows.Scan(&k.portfolioID, &k.symbol); err != nil {
			return 0, fmt.Errorf("failed to scan unclassified position: %w", err)
		}
		pending = append(pending, k)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("error iterating unclassified positions: %w", err)
	}

	count := 0
	for _, k := range pending {
		class := classify.Classify(k.symbol)
		_, err := r.db.Exec(`UPDATE positions SET investment_class = ? WHERE portfolio_id = ? AND symbol = ?`,
			string(class), k.portfolioID, k.symbol)
		if err != nil {
			return count, fmt.Errorf("failed to backfill class for %s: %w", k.symbol, err)
		}
		count++
	}

	if count > 0 {
		r.log.Info().Int("classified", count).Msg("Backfilled investment classes")
	}

	return count, nil
}

func (r *PositionRepository) scanPosition(rows *sql.Rows) (domain.Position, error) {
	var pos domain.Position
	var class sql.NullString
	var lastUpdated int64

	if err := rows.Scan(&pos.PortfolioID, &pos.Symbol, &pos.Quantity, &pos.CurrentPrice,
		&pos.MarketValue, &class, &lastUpdated); err != nil {
		return pos, err
	}

	if class.Valid {
		c := domain.InvestmentClass(class.String)
		pos.Class = &c
	}
	pos.LastUpdated = time.Unix(lastUpdated, 0).UTC()

	return pos, nil
}
