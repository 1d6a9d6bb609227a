// Package symbol implements canonical symbol normalisation and the
// fixed-width time-bucket math shared by every bucketed aggregator.
package symbol

import "strings"

// reservedSuffixes are stripped from OKX-style inst-ids, in the order they
// are checked. Canonical symbols must never contain these substrings as
// part of a base/quote asset name — see ingestmodel.IsReservedSymbol.
var reservedSuffixes = []string{"-SWAP", "-FUTURES", "-PERP"}

// Canonicalize maps a venue-specific symbol or inst-id into the canonical
// upper-case, separator-free form (e.g. "BTCUSDT"). OKX inst-ids of the
// form BASE-QUOTE[-SWAP] collapse to BASEQUOTE.
func Canonicalize(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	for _, suf := range reservedSuffixes {
		s = strings.TrimSuffix(s, suf)
	}
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, "_", "")
	s = strings.ReplaceAll(s, "/", "")
	return s
}
