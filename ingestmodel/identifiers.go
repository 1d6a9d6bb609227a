// Package ingestmodel holds the canonical wire-independent types shared by
// every stage of the ingestion pipeline: identifiers, event metadata,
// per-venue normalised events, and the venue-consolidated aggregate
// envelope. Nothing in this package touches a network or a clock.
package ingestmodel

import "strings"

// MarketType is one of spot, futures, or unknown. unknown is terminal for
// emission: no aggregate may ever be published for it.
type MarketType string

const (
	MarketSpot    MarketType = "spot"
	MarketFutures MarketType = "futures"
	MarketUnknown MarketType = "unknown"
)

// Venue identifies an exchange. The set is open-ended; these are the
// canonical ones this module ships adapters for.
type Venue string

const (
	VenueBinance     Venue = "binance"
	VenueOKX         Venue = "okx"
	VenueBybit       Venue = "bybit"
	VenueHyperliquid Venue = "hyperliquid"
)

// reservedSymbolSubstrings are suffix tokens the OKX-style inst-id collapse
// strips. Per DESIGN.md's resolution of the spec's open question, canonical
// symbols must never contain these substrings — a base asset literally
// named "SWAP" would collide with the suffix-stripping rule and is
// considered out of scope.
var reservedSymbolSubstrings = []string{"SWAP", "FUTURES", "PERP"}

// IsReservedSymbol reports whether a canonical symbol collides with one of
// the reserved suffix tokens stripped during venue symbol normalisation.
func IsReservedSymbol(symbol string) bool {
	upper := strings.ToUpper(symbol)
	for _, tok := range reservedSymbolSubstrings {
		if strings.Contains(upper, tok) {
			return true
		}
	}
	return false
}

// StreamID is a stable per-(venue, marketType) fan-in key, e.g.
// "okx.public.swap" or "binance.futures".
type StreamID string

// SourceKey identifies a (symbol, marketType, streamId) triple — the unit
// aggregators key their latest-value store by.
type SourceKey struct {
	Symbol     string
	MarketType MarketType
	StreamID   StreamID
}

// Metric enumerates the SourceRegistry's aggregate-level observation axes.
type Metric string

const (
	MetricPrice       Metric = "price"
	MetricFlow        Metric = "flow"
	MetricLiquidity   Metric = "liquidity"
	MetricDerivatives Metric = "derivatives"
)

// Feed enumerates the SourceRegistry's raw-observation axes.
type Feed string

const (
	FeedTrades     Feed = "trades"
	FeedOrderbook  Feed = "orderbook"
	FeedOI         Feed = "oi"
	FeedFunding    Feed = "funding"
	FeedMarkPrice  Feed = "markPrice"
	FeedIndexPrice Feed = "indexPrice"
	FeedKlines     Feed = "klines"
)

// SuppressionReason enumerates why an aggregate emission was withheld.
type SuppressionReason string

const (
	ReasonNoCanonicalPrice SuppressionReason = "NO_CANONICAL_PRICE"
	ReasonConfidenceTooLow SuppressionReason = "CONFIDENCE_TOO_LOW"
	ReasonResyncActive     SuppressionReason = "RESYNC_ACTIVE"
	ReasonStaleInput       SuppressionReason = "STALE_INPUT"
	ReasonLagTooHigh       SuppressionReason = "LAG_TOO_HIGH"
	ReasonGapsDetected     SuppressionReason = "GAPS_DETECTED"
)
