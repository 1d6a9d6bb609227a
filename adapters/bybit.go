package adapters

import "github.com/aspenmd/ingestd/ingestmodel"

// BybitTradeWire is one element of a Bybit v5 "publicTrade" topic's "data"
// array.
type BybitTradeWire struct {
	Symbol string `json:"s"`
	TradeID string `json:"i"`
	Price  string `json:"p"`
	Size   string `json:"v"`
	Side   string `json:"S"` // "Buy" or "Sell"
	Ts     int64  `json:"T"`
}

// BybitTradeRaw maps a Bybit publicTrade element into a canonical TradeRaw.
func BybitTradeRaw(w BybitTradeWire, env ingestmodel.Envelope) ingestmodel.TradeRaw {
	return ingestmodel.TradeRaw{
		Envelope: env,
		TradeID: w.TradeID,
		Price:   w.Price,
		Size:    w.Size,
		Side:    ingestmodel.NormalizeSide(w.Side),
	}
}

// BybitKlineWire is one element of a "kline" topic's "data" array.
type BybitKlineWire struct {
	Start    int64  `json:"start"`
	End      int64  `json:"end"`
	Interval string `json:"interval"`
	Open     string `json:"open"`
	Close    string `json:"close"`
	High     string `json:"high"`
	Low      string `json:"low"`
	Volume   string `json:"volume"`
	Confirm  bool   `json:"confirm"`
}

// BybitKlineRaw maps a closed Bybit kline push into a canonical KlineRaw.
// The caller must only invoke this once Confirm is true.
func BybitKlineRaw(w BybitKlineWire, env ingestmodel.Envelope) ingestmodel.KlineRaw {
	return ingestmodel.KlineRaw{
		Envelope:  env,
		Interval:  w.Interval,
		OpenTime:  w.Start,
		CloseTime: w.End,
		Open:      w.Open,
		High:      w.High,
		Low:       w.Low,
		Close:     w.Close,
		Volume:    w.Volume,
	}
}

// BybitTickerWire is the "tickers" topic's "data" object (linear category).
// Not every field is present on every incremental push; callers only pass
// along the fields they actually observed.
type BybitTickerWire struct {
	Symbol      string  `json:"symbol"`
	LastPrice   *string `json:"lastPrice,omitempty"`
	MarkPrice   *string `json:"markPrice,omitempty"`
	IndexPrice  *string `json:"indexPrice,omitempty"`
	FundingRate *string `json:"fundingRate,omitempty"`
	NextFundingTime *string `json:"nextFundingTime,omitempty"`
}

// BybitTickerRaw maps a Bybit ticker push into a canonical TickerRaw,
// carrying forward only the price fields actually present on this push.
func BybitTickerRaw(w BybitTickerWire, env ingestmodel.Envelope) ingestmodel.TickerRaw {
	return ingestmodel.TickerRaw{Envelope: env, LastPrice: w.LastPrice, MarkPrice: w.MarkPrice, IndexPrice: w.IndexPrice}
}

// BybitFundingRaw maps a Bybit ticker push's embedded funding fields into a
// canonical FundingRaw. Returns ok=false when the push carries no funding
// fields (most ticker deltas don't).
func BybitFundingRaw(w BybitTickerWire, env ingestmodel.Envelope) (ingestmodel.FundingRaw, bool) {
	if w.FundingRate == nil {
		return ingestmodel.FundingRaw{}, false
	}
	var next *int64
	if w.NextFundingTime != nil {
		v := parseInt64Or(*w.NextFundingTime, 0)
		next = &v
	}
	return ingestmodel.FundingRaw{Envelope: env, Rate: *w.FundingRate, NextFundingTime: next}, true
}

// BybitLiquidationWire is the "allLiquidation" topic's "data" array element.
type BybitLiquidationWire struct {
	Symbol string `json:"s"`
	Side   string `json:"S"`
	Size   string `json:"v"`
	Price  string `json:"p"`
	Ts     int64  `json:"T"`
}

// BybitLiquidationRaw maps a Bybit liquidation push into a canonical
// LiquidationRaw. Bybit reports the bankruptcy price here, which is why
// liquidation aggregates sourced from Bybit carry a confidence cap — see
// confidence.DefaultTrustRules.
func BybitLiquidationRaw(w BybitLiquidationWire, env ingestmodel.Envelope) ingestmodel.LiquidationRaw {
	side := ingestmodel.NormalizeSide(w.Side)
	var notional *string
	if n, ok := mulDecimalStrings(w.Price, w.Size); ok {
		notional = &n
	}
	return ingestmodel.LiquidationRaw{Envelope: env, Side: side, Price: w.Price, Size: w.Size, NotionalUsd: notional}
}

// BybitOIWire is a REST open-interest response's "list" array element.
type BybitOIWire struct {
	Symbol       string `json:"symbol"`
	OpenInterest string `json:"openInterest"`
}

// BybitOIRaw maps a Bybit open-interest record into a canonical
// OpenInterestRaw. Bybit reports linear OI in the base asset.
func BybitOIRaw(w BybitOIWire, env ingestmodel.Envelope) ingestmodel.OpenInterestRaw {
	return ingestmodel.OpenInterestRaw{Envelope: env, Value: w.OpenInterest, Unit: ingestmodel.OIUnitBase}
}

// BybitDepthLevelWire is one [price, size] pair from a Bybit orderbook push.
type BybitDepthLevelWire struct {
	Price string
	Size  string
}

func bybitLevelsRaw(levels []BybitDepthLevelWire) []ingestmodel.PriceLevelRaw {
	out := make([]ingestmodel.PriceLevelRaw, len(levels))
	for i, l := range levels {
		out[i] = ingestmodel.PriceLevelRaw{Price: l.Price, Size: l.Size}
	}
	return out
}

// BybitBookWire is an "orderbook.<depth>.<symbol>" topic push, snapshot or
// delta distinguished by the "type" field carried alongside it.
type BybitBookWire struct {
	Symbol string                `json:"s"`
	Bids   []BybitDepthLevelWire `json:"b"`
	Asks   []BybitDepthLevelWire `json:"a"`
	UpdateID uint64              `json:"u"`
	Seq      uint64              `json:"seq"`
}

// BybitSnapshotRaw maps a Bybit book snapshot push into a canonical
// OrderbookL2SnapshotRaw.
func BybitSnapshotRaw(w BybitBookWire, env ingestmodel.Envelope) ingestmodel.OrderbookL2SnapshotRaw {
	return ingestmodel.OrderbookL2SnapshotRaw{
		Envelope: env,
		Bids:     bybitLevelsRaw(w.Bids),
		Asks:     bybitLevelsRaw(w.Asks),
		UpdateID: w.UpdateID,
	}
}

// BybitDeltaRaw maps a Bybit book delta push into a canonical
// OrderbookL2DeltaRaw. Bybit's "u" is a single monotonically increasing
// counter per symbol, so firstUpdateId and lastUpdateId are both set to it;
// the reconcile FSM's chain predicate for non-Binance-futures venues
// (firstUpdateId == state.lastUpdateId+1) does not directly apply to
// Bybit's model, which instead exposes a cross-checked "seq" value — callers
// use Seq to detect gaps, treating any decrease or repeat as out of order.
func BybitDeltaRaw(w BybitBookWire, env ingestmodel.Envelope) ingestmodel.OrderbookL2DeltaRaw {
	return ingestmodel.OrderbookL2DeltaRaw{
		Envelope:      env,
		Bids:          bybitLevelsRaw(w.Bids),
		Asks:          bybitLevelsRaw(w.Asks),
		FirstUpdateID: w.UpdateID,
		LastUpdateID:  w.UpdateID,
	}
}
