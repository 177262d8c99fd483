// Package classify labels holdings as PUBLIC, PRIVATE or OPTIONS from their
// symbol. The label decides eligibility for return-based analysis: PRIVATE
// holdings have no usable price feed and are excluded from regression and
// correlation work.
package classify

import (
	"regexp"
	"strings"

	"github.com/aristath/vantage/internal/domain"
)

// occContractPattern matches OCC-style option contract symbols,
// e.g. AAPL240621C00190000.
var occContractPattern = regexp.MustCompile(`^[A-Z.]{1,6}\d{6}[CP]\d{8}$`)

// privatePatterns is the lexical ruleset for non-tradable holdings.
// Order matters only for readability; any match yields PRIVATE.
var privatePatterns = []*regexp.Regexp{
	// Private equity and venture vehicles
	regexp.MustCompile(`PRIVATE|PVT`),
	regexp.MustCompile(`\bPE\b.*(FUND|LP|III|II|IV|V)`),
	regexp.MustCompile(`VENTURE|\bVC\b|SEED|ANGEL|SERIES [A-F]\b`),
	regexp.MustCompile(`BUYOUT|GROWTH EQUITY`),
	// Hedge funds and unlisted fund structures
	regexp.MustCompile(`HEDGE|\bLP\b$|\bLLC\b$|FUND [IVX]+$`),
	// Unlisted REITs and direct real estate
	regexp.MustCompile(`NON.?TRADED.?REIT|UNLISTED.?REIT`),
	regexp.MustCompile(`REAL.?ESTATE|PROPERTY|RENTAL|\bDUPLEX\b|\bCONDO\b`),
	// Collectibles and hard assets without a feed
	regexp.MustCompile(`COLLECTIBLE|ARTWORK|\bART\b|\bWINE\b|\bWATCH(ES)?\b|\bCARD\b`),
	// Crypto held off-exchange (no daily feed)
	regexp.MustCompile(`CRYPTO.?(WALLET|COLD|PRIVATE)|\bNFT\b`),
	// Cash-like instruments excluded from factor analysis
	regexp.MustCompile(`T.?BILL|TREASURY|\bTBIL\b|\bUST\b`),
	regexp.MustCompile(`MONEY.?MARKET|\bMMF\b|\bCASH\b`),
}

// Classify returns the investment class for a symbol. It is deterministic and
// total: every symbol receives a label, unmatched symbols default to PUBLIC.
// It never errors; an empty symbol classifies as PRIVATE (no feed to fetch).
func Classify(symbol string) domain.InvestmentClass {
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	if normalized == "" {
		return domain.ClassPrivate
	}

	if occContractPattern.MatchString(normalized) {
		return domain.ClassOptions
	}

	for _, p := range privatePatterns {
		if p.MatchString(normalized) {
			return domain.ClassPrivate
		}
	}

	return domain.ClassPublic
}
