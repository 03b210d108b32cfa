// Package refdata defines the canonical reference-data domain: dangerous-goods
// entries, UN/LOCODE locations, the identifier schemes they are coded under,
// and the import/search value types shared by the store and service layers.
package refdata

import "strings"

// IdentifierScheme names an external coding system under which a code is
// defined. A single canonical record may carry codes from multiple schemes,
// but (scheme, code) is globally unique within a record kind.
type IdentifierScheme string

const (
	SchemeUN       IdentifierScheme = "UN"
	SchemeIATA     IdentifierScheme = "IATA"
	SchemeIMDG     IdentifierScheme = "IMDG"
	SchemeADR      IdentifierScheme = "ADR"
	SchemeRID      IdentifierScheme = "RID"
	SchemeICAO     IdentifierScheme = "ICAO"
	SchemeUNLOCODE IdentifierScheme = "UNLOCODE"
	SchemeUIC      IdentifierScheme = "UIC"
	SchemeRNE      IdentifierScheme = "RNE"
)

// goodsSchemes are the schemes accepted for dangerous-goods records.
var goodsSchemes = map[IdentifierScheme]bool{
	SchemeUN:   true,
	SchemeIATA: true,
	SchemeIMDG: true,
	SchemeADR:  true,
	SchemeRID:  true,
	SchemeICAO: true,
}

// locationSchemes are the schemes accepted for location records.
var locationSchemes = map[IdentifierScheme]bool{
	SchemeUNLOCODE: true,
	SchemeUIC:      true,
	SchemeRNE:      true,
	SchemeIATA:     true,
}

// ParseScheme parses a scheme token case-insensitively.
// Returns false for tokens that name no known scheme.
func ParseScheme(s string) (IdentifierScheme, bool) {
	scheme := IdentifierScheme(strings.ToUpper(strings.TrimSpace(s)))
	if goodsSchemes[scheme] || locationSchemes[scheme] {
		return scheme, true
	}
	return "", false
}

// ValidGoodsScheme reports whether a scheme is usable on dangerous-goods records.
func ValidGoodsScheme(s IdentifierScheme) bool { return goodsSchemes[s] }

// ValidLocationScheme reports whether a scheme is usable on location records.
func ValidLocationScheme(s IdentifierScheme) bool { return locationSchemes[s] }

// NormalizeCode normalizes an identifier code or natural-key field:
// trim, then upper-case. Lookups and uniqueness checks operate on the
// normalized form only.
func NormalizeCode(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
