package adapters

import "github.com/aspenmd/ingestd/ingestmodel"

// OKXTradeWire is one element of an OKX "trades" channel push's "data" array.
type OKXTradeWire struct {
	InstID  string `json:"instId"`
	TradeID string `json:"tradeId"`
	Px      string `json:"px"`
	Sz      string `json:"sz"`
	Side    string `json:"side"`
	Ts      string `json:"ts"`
}

// OKXTradeRaw maps an OKX trade push element into a canonical TradeRaw.
func OKXTradeRaw(w OKXTradeWire, env ingestmodel.Envelope) ingestmodel.TradeRaw {
	return ingestmodel.TradeRaw{
		Envelope: env,
		TradeID: w.TradeID,
		Price:   w.Px,
		Size:    w.Sz,
		Side:    ingestmodel.NormalizeSide(w.Side),
	}
}

// OKXCandleWire is one element of a "candle1m"-style channel push: an array
// of [ts, o, h, l, c, vol, volCcy, volCcyQuote, confirm].
type OKXCandleWire struct {
	Ts        string
	Open      string
	High      string
	Low       string
	Close     string
	Vol       string
	Confirm   string // "1" once the bar is closed
	Interval  string
}

// OKXKlineRaw maps a closed OKX candle into a canonical KlineRaw. The
// caller must only invoke this once Confirm == "1" (closed bar).
func OKXKlineRaw(w OKXCandleWire, barDurationMs int64, env ingestmodel.Envelope) ingestmodel.KlineRaw {
	open := parseInt64Or(w.Ts, 0)
	return ingestmodel.KlineRaw{
		Envelope:  env,
		Interval:  w.Interval,
		OpenTime:  open,
		CloseTime: open + barDurationMs,
		Open:      w.Open,
		High:      w.High,
		Low:       w.Low,
		Close:     w.Close,
		Volume:    w.Vol,
	}
}

// OKXTickerWire is one element of a "tickers" channel push.
type OKXTickerWire struct {
	InstID string `json:"instId"`
	Last   string `json:"last"`
}

// OKXMarkPriceWire is one element of a "mark-price" channel push.
type OKXMarkPriceWire struct {
	InstID    string `json:"instId"`
	MarkPx    string `json:"markPx"`
}

// OKXIndexTickerWire is one element of an "index-tickers" channel push.
type OKXIndexTickerWire struct {
	InstID  string `json:"instId"`
	IdxPx   string `json:"idxPx"`
}

// OKXTickerRaw composes whichever of last/mark/index price fields are
// available for a tick into a single TickerRaw; nil fields are simply
// omitted since OKX reports these on independent channels.
func OKXTickerRaw(last, mark, index *string, env ingestmodel.Envelope) ingestmodel.TickerRaw {
	return ingestmodel.TickerRaw{Envelope: env, LastPrice: last, MarkPrice: mark, IndexPrice: index}
}

// OKXFundingWire is one element of a "funding-rate" channel push.
type OKXFundingWire struct {
	InstID      string `json:"instId"`
	FundingRate string `json:"fundingRate"`
	NextFundingTime string `json:"nextFundingTime"`
}

// OKXFundingRaw maps an OKX funding-rate push into a canonical FundingRaw.
func OKXFundingRaw(w OKXFundingWire, env ingestmodel.Envelope) ingestmodel.FundingRaw {
	var next *int64
	if v := parseInt64Or(w.NextFundingTime, -1); v >= 0 {
		next = &v
	}
	return ingestmodel.FundingRaw{Envelope: env, Rate: w.FundingRate, NextFundingTime: next}
}

// OKXLiquidationWire is one element of a "liquidation-orders" channel
// push's "details" array.
type OKXLiquidationWire struct {
	Side    string `json:"side"`
	Px      string `json:"bkPx"` // bankruptcy price
	Sz      string `json:"sz"`
}

// OKXLiquidationRaw maps an OKX liquidation detail into a canonical
// LiquidationRaw, using the bankruptcy price as the reported price — per
// DESIGN.md, the reason OKX liquidations carry a confidence trust penalty
// in the liquidation context (see confidence.DefaultTrustRules).
func OKXLiquidationRaw(w OKXLiquidationWire, env ingestmodel.Envelope) ingestmodel.LiquidationRaw {
	side := ingestmodel.NormalizeSide(w.Side)
	var notional *string
	if n, ok := mulDecimalStrings(w.Px, w.Sz); ok {
		notional = &n
	}
	return ingestmodel.LiquidationRaw{Envelope: env, Side: side, Price: w.Px, Size: w.Sz, NotionalUsd: notional}
}

// OKXOIWire is one element of an "open-interest" channel push.
type OKXOIWire struct {
	InstID string `json:"instId"`
	Oi     string `json:"oi"`
	OiCcy  string `json:"oiCcy"`
}

// OKXOIRaw maps an OKX open-interest push into a canonical
// OpenInterestRaw. OKX reports oi in contracts; oiCcy is the base-asset
// equivalent, preferred here since it is directly comparable across venues.
func OKXOIRaw(w OKXOIWire, env ingestmodel.Envelope) ingestmodel.OpenInterestRaw {
	if w.OiCcy != "" {
		return ingestmodel.OpenInterestRaw{Envelope: env, Value: w.OiCcy, Unit: ingestmodel.OIUnitBase}
	}
	return ingestmodel.OpenInterestRaw{Envelope: env, Value: w.Oi, Unit: ingestmodel.OIUnitContracts}
}

// OKXDepthLevelWire is one [price, size, liquidatedOrders, numOrders] quad
// from an OKX order-book push.
type OKXDepthLevelWire struct {
	Price string
	Size  string
}

func okxLevelsRaw(levels []OKXDepthLevelWire) []ingestmodel.PriceLevelRaw {
	out := make([]ingestmodel.PriceLevelRaw, len(levels))
	for i, l := range levels {
		out[i] = ingestmodel.PriceLevelRaw{Price: l.Price, Size: l.Size}
	}
	return out
}

// OKXBookSnapshotWire is a "books" channel push with action "snapshot".
type OKXBookSnapshotWire struct {
	InstID string              `json:"instId"`
	Bids   []OKXDepthLevelWire `json:"bids"`
	Asks   []OKXDepthLevelWire `json:"asks"`
	SeqID  uint64              `json:"seqId"`
}

// OKXSnapshotRaw maps an OKX book snapshot push into a canonical
// OrderbookL2SnapshotRaw, treating seqId as the anchor updateId.
func OKXSnapshotRaw(w OKXBookSnapshotWire, env ingestmodel.Envelope) ingestmodel.OrderbookL2SnapshotRaw {
	return ingestmodel.OrderbookL2SnapshotRaw{
		Envelope: env,
		Bids:     okxLevelsRaw(w.Bids),
		Asks:     okxLevelsRaw(w.Asks),
		UpdateID: w.SeqID,
	}
}

// OKXBookUpdateWire is a "books" channel push with action "update". OKX's
// chain predicate is firstUpdateId == lastUpdateId(prev)+1, the same as
// spot venues generally, carried here as PrevSeqID.
type OKXBookUpdateWire struct {
	InstID    string              `json:"instId"`
	Bids      []OKXDepthLevelWire `json:"bids"`
	Asks      []OKXDepthLevelWire `json:"asks"`
	SeqID     uint64              `json:"seqId"`
	PrevSeqID uint64              `json:"prevSeqId"`
}

// OKXDeltaRaw maps an OKX book update push into a canonical
// OrderbookL2DeltaRaw. FirstUpdateID is prevSeqId+1 and LastUpdateID is
// seqId, so the reconcile FSM's `firstUpdateId == state.lastUpdateId + 1`
// predicate reduces to `prevSeqId == lastSeqId`.
func OKXDeltaRaw(w OKXBookUpdateWire, env ingestmodel.Envelope) ingestmodel.OrderbookL2DeltaRaw {
	return ingestmodel.OrderbookL2DeltaRaw{
		Envelope:      env,
		Bids:          okxLevelsRaw(w.Bids),
		Asks:          okxLevelsRaw(w.Asks),
		FirstUpdateID: w.PrevSeqID + 1,
		LastUpdateID:  w.SeqID,
	}
}

func parseInt64Or(s string, fallback int64) int64 {
	v, ok := parseDecimal(s)
	if !ok {
		return fallback
	}
	return int64(v)
}
