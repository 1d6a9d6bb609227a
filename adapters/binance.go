// Package adapters implements RawAdapters: pure functions
// mapping a venue-specific wire payload into the canonical *_raw record.
// Each venue file mirrors the wire shapes decoded with json struct tags;
// nothing here touches a socket or a clock — every timestamp is supplied
// by the caller as an observed value.
package adapters

import "github.com/aspenmd/ingestd/ingestmodel"

// BinanceTradeWire is the combined-stream trade payload ("e":"trade" /
// "aggTrade").
type BinanceTradeWire struct {
	EventType    string `json:"e"`
	EventTime    int64  `json:"E"`
	Symbol       string `json:"s"`
	TradeID      int64  `json:"t"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

// BinanceTradeRaw maps a BinanceTradeWire into a canonical TradeRaw.
// isBuyerMaker true means the buyer was the resting (maker) order, i.e. the
// aggressor sold — side is Sell
func BinanceTradeRaw(w BinanceTradeWire, env ingestmodel.Envelope) ingestmodel.TradeRaw {
	side := ingestmodel.SideBuy
	if w.IsBuyerMaker {
		side = ingestmodel.SideSell
	}
	return ingestmodel.TradeRaw{
		Envelope: env,
		TradeID:  formatInt(w.TradeID),
		Price:    w.Price,
		Size:     w.Quantity,
		Side:     side,
	}
}

// BinanceKlineWire is the "k" sub-object of a Binance kline stream event.
type BinanceKlineWire struct {
	StartTime int64  `json:"t"`
	CloseTime int64  `json:"T"`
	Symbol    string `json:"s"`
	Interval  string `json:"i"`
	Open      string `json:"o"`
	Close     string `json:"c"`
	High      string `json:"h"`
	Low       string `json:"l"`
	Volume    string `json:"v"`
	IsFinal   bool   `json:"x"`
}

// BinanceKlineRaw maps a closed Binance kline into a canonical KlineRaw.
// The caller must only invoke this once IsFinal is true — klines are only
// emitted on close
func BinanceKlineRaw(w BinanceKlineWire, env ingestmodel.Envelope) ingestmodel.KlineRaw {
	return ingestmodel.KlineRaw{
		Envelope:  env,
		Interval:  w.Interval,
		OpenTime:  w.StartTime,
		CloseTime: w.CloseTime,
		Open:      w.Open,
		High:      w.High,
		Low:       w.Low,
		Close:     w.Close,
		Volume:    w.Volume,
	}
}

// BinanceMarkPriceWire is the futures markPriceUpdate stream payload.
type BinanceMarkPriceWire struct {
	EventTime   int64  `json:"E"`
	Symbol      string `json:"s"`
	MarkPrice   string `json:"p"`
	IndexPrice  string `json:"i"`
	FundingRate string `json:"r"`
	NextFunding int64  `json:"T"`
}

// BinanceTickerRaw maps a markPriceUpdate into a canonical TickerRaw
// carrying only the mark/index price mirrors it provides.
func BinanceTickerRaw(w BinanceMarkPriceWire, env ingestmodel.Envelope) ingestmodel.TickerRaw {
	mark := w.MarkPrice
	idx := w.IndexPrice
	return ingestmodel.TickerRaw{Envelope: env, MarkPrice: &mark, IndexPrice: &idx}
}

// BinanceFundingRaw maps a markPriceUpdate's embedded funding fields into a
// canonical FundingRaw.
func BinanceFundingRaw(w BinanceMarkPriceWire, env ingestmodel.Envelope) ingestmodel.FundingRaw {
	next := w.NextFunding
	return ingestmodel.FundingRaw{Envelope: env, Rate: w.FundingRate, NextFundingTime: &next}
}

// BinanceLiquidationWire is the forceOrder stream's embedded "o" object.
type BinanceLiquidationWire struct {
	Symbol         string `json:"s"`
	Side           string `json:"S"`
	Price          string `json:"p"`
	OrigQuantity   string `json:"q"`
	OrderTradeTime int64  `json:"T"`
}

// BinanceLiquidationRaw maps a forceOrder payload into a canonical
// LiquidationRaw, deriving notionalUsd when both fields parse as numbers.
func BinanceLiquidationRaw(w BinanceLiquidationWire, env ingestmodel.Envelope) ingestmodel.LiquidationRaw {
	side := ingestmodel.NormalizeSide(w.Side)
	var notional *string
	if n, ok := mulDecimalStrings(w.Price, w.OrigQuantity); ok {
		notional = &n
	}
	return ingestmodel.LiquidationRaw{
		Envelope:    env,
		Side:        side,
		Price:       w.Price,
		Size:        w.OrigQuantity,
		NotionalUsd: notional,
	}
}

// BinanceOIWire is the REST /fapi/v1/openInterest response — Binance
// futures has no WS open-interest push, so this is only ever populated by
// the REST poller.
type BinanceOIWire struct {
	Symbol         string `json:"symbol"`
	OpenInterest   string `json:"openInterest"`
	Time           int64  `json:"time"`
}

// BinanceOIRaw maps a REST open-interest poll into a canonical
// OpenInterestRaw. Binance reports openInterest in base-asset contracts.
func BinanceOIRaw(w BinanceOIWire, env ingestmodel.Envelope) ingestmodel.OpenInterestRaw {
	return ingestmodel.OpenInterestRaw{Envelope: env, Value: w.OpenInterest, Unit: ingestmodel.OIUnitContracts}
}

// BinanceDepthLevelWire is one [price, quantity] pair from a Binance depth
// payload, decoded elsewhere into this shape.
type BinanceDepthLevelWire struct {
	Price string
	Size  string
}

func toPriceLevelsRaw(levels []BinanceDepthLevelWire) []ingestmodel.PriceLevelRaw {
	out := make([]ingestmodel.PriceLevelRaw, len(levels))
	for i, l := range levels {
		out[i] = ingestmodel.PriceLevelRaw{Price: l.Price, Size: l.Size}
	}
	return out
}

// BinanceDepthSnapshotWire is a REST depth snapshot response.
type BinanceDepthSnapshotWire struct {
	LastUpdateID uint64                  `json:"lastUpdateId"`
	Bids         []BinanceDepthLevelWire `json:"bids"`
	Asks         []BinanceDepthLevelWire `json:"asks"`
}

// BinanceSnapshotRaw maps a REST depth snapshot into a canonical
// OrderbookL2SnapshotRaw.
func BinanceSnapshotRaw(w BinanceDepthSnapshotWire, env ingestmodel.Envelope) ingestmodel.OrderbookL2SnapshotRaw {
	return ingestmodel.OrderbookL2SnapshotRaw{
		Envelope: env,
		Bids:     toPriceLevelsRaw(w.Bids),
		Asks:     toPriceLevelsRaw(w.Asks),
		UpdateID: w.LastUpdateID,
	}
}

// BinanceDepthUpdateWire is a combined-stream depthUpdate event. PrevUpdateID
// ("pu") is only present on futures streams.
type BinanceDepthUpdateWire struct {
	EventTime     int64                   `json:"E"`
	Symbol        string                  `json:"s"`
	FirstUpdateID uint64                  `json:"U"`
	LastUpdateID  uint64                  `json:"u"`
	PrevUpdateID  *uint64                 `json:"pu,omitempty"`
	Bids          []BinanceDepthLevelWire `json:"b"`
	Asks          []BinanceDepthLevelWire `json:"a"`
}

// BinanceDeltaRaw maps a depthUpdate event into a canonical
// OrderbookL2DeltaRaw, preserving the futures pu chain pointer when present.
func BinanceDeltaRaw(w BinanceDepthUpdateWire, env ingestmodel.Envelope) ingestmodel.OrderbookL2DeltaRaw {
	return ingestmodel.OrderbookL2DeltaRaw{
		Envelope:      env,
		Bids:          toPriceLevelsRaw(w.Bids),
		Asks:          toPriceLevelsRaw(w.Asks),
		FirstUpdateID: w.FirstUpdateID,
		LastUpdateID:  w.LastUpdateID,
		PrevUpdateID:  w.PrevUpdateID,
	}
}
