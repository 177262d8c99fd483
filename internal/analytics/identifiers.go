// Package analytics holds the shared calculation result contract and the
// fixed catalogs (factor proxies, stress scenarios) used by the engines.
package analytics

import "strings"

// NormalizeSymbol is the single normalization applied to instrument symbols
// at every boundary where a symbol enters a comparison or query. Filtering
// with one form and storing with another produces "false empty" results that
// are indistinguishable from genuine data insufficiency, so every module must
// go through this function.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.Join(strings.Fields(symbol), " "))
}

// NormalizeID normalizes portfolio identifiers for comparisons and queries.
// Same rationale as NormalizeSymbol, but identifiers keep their case-insensitive
// lowercase form.
func NormalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
