package adapters

import "github.com/aspenmd/ingestd/ingestmodel"

// HyperliquidTradeWire mirrors the "trades" WS subscription's per-fill
// shape as it appears in the raw WS frame.
type HyperliquidTradeWire struct {
	Coin string `json:"coin"`
	Side string `json:"side"` // "B" or "A" (ask/sell)
	Px   string `json:"px"`
	Sz   string `json:"sz"`
	Tid  int64  `json:"tid"`
	Time int64  `json:"time"`
}

// HyperliquidTradeRaw maps a Hyperliquid trade fill into a canonical
// TradeRaw. Hyperliquid's side convention is "B" (bid/buy taker) or "A"
// (ask/sell taker), which NormalizeSide does not recognise directly, so it
// is translated here first.
func HyperliquidTradeRaw(w HyperliquidTradeWire, env ingestmodel.Envelope) ingestmodel.TradeRaw {
	side := ingestmodel.SideUnknown
	switch w.Side {
	case "B":
		side = ingestmodel.SideBuy
	case "A":
		side = ingestmodel.SideSell
	}
	return ingestmodel.TradeRaw{
		Envelope: env,
		TradeID: formatInt(w.Tid),
		Price:   w.Px,
		Size:    w.Sz,
		Side:    side,
	}
}

// HyperliquidCandleWire mirrors the per-candle shape of the "candle" WS
// subscription's raw frame.
type HyperliquidCandleWire struct {
	StartTime int64  `json:"t"`
	EndTime   int64  `json:"T"`
	Interval  string `json:"i"`
	Open      string `json:"o"`
	High      string `json:"h"`
	Low       string `json:"l"`
	Close     string `json:"c"`
	Volume    string `json:"v"`
}

// HyperliquidKlineRaw maps a closed Hyperliquid candle push into a
// canonical KlineRaw. Hyperliquid's candle subscription re-sends the
// current (open) bar on every trade, so the caller must only invoke this
// once the bar's end time has elapsed.
func HyperliquidKlineRaw(w HyperliquidCandleWire, env ingestmodel.Envelope) ingestmodel.KlineRaw {
	return ingestmodel.KlineRaw{
		Envelope:  env,
		Interval:  w.Interval,
		OpenTime:  w.StartTime,
		CloseTime: w.EndTime,
		Open:      w.Open,
		High:      w.High,
		Low:       w.Low,
		Close:     w.Close,
		Volume:    w.Volume,
	}
}

// HyperliquidMidWire is one entry of the "allMids" subscription payload:
// coin -> mid price string.
type HyperliquidMidWire struct {
	Coin string
	Mid  string
}

// HyperliquidTickerRaw maps a Hyperliquid mid-price observation into a
// canonical TickerRaw. Hyperliquid has no separate last-trade tick stream
// for perps; the mid is the closest analogue and is carried as LastPrice.
func HyperliquidTickerRaw(w HyperliquidMidWire, env ingestmodel.Envelope) ingestmodel.TickerRaw {
	mid := w.Mid
	return ingestmodel.TickerRaw{Envelope: env, LastPrice: &mid}
}

// HyperliquidFundingWire mirrors the "activeAssetCtx" subscription's
// funding fields.
type HyperliquidFundingWire struct {
	Coin        string `json:"coin"`
	FundingRate string `json:"funding"`
}

// HyperliquidFundingRaw maps a Hyperliquid asset context push into a
// canonical FundingRaw. Hyperliquid settles funding hourly and does not
// publish a next-funding timestamp on the context push.
func HyperliquidFundingRaw(w HyperliquidFundingWire, env ingestmodel.Envelope) ingestmodel.FundingRaw {
	return ingestmodel.FundingRaw{Envelope: env, Rate: w.FundingRate}
}

// HyperliquidOIWire mirrors the "activeAssetCtx" subscription's open
// interest field, reported in the base asset.
type HyperliquidOIWire struct {
	Coin         string `json:"coin"`
	OpenInterest string `json:"openInterest"`
}

// HyperliquidOIRaw maps a Hyperliquid asset context push's open interest
// into a canonical OpenInterestRaw.
func HyperliquidOIRaw(w HyperliquidOIWire, env ingestmodel.Envelope) ingestmodel.OpenInterestRaw {
	return ingestmodel.OpenInterestRaw{Envelope: env, Value: w.OpenInterest, Unit: ingestmodel.OIUnitBase}
}

// HyperliquidLevelWire is one [price, size] pair from an "l2Book" push.
type HyperliquidLevelWire struct {
	Px string `json:"px"`
	Sz string `json:"sz"`
}

func hyperliquidLevelsRaw(levels []HyperliquidLevelWire) []ingestmodel.PriceLevelRaw {
	out := make([]ingestmodel.PriceLevelRaw, len(levels))
	for i, l := range levels {
		out[i] = ingestmodel.PriceLevelRaw{Price: l.Px, Size: l.Sz}
	}
	return out
}

// HyperliquidBookWire is an "l2Book" subscription push. Hyperliquid
// publishes full snapshots only — there is no incremental delta channel —
// so every push is treated as a fresh snapshot anchored at Time.
type HyperliquidBookWire struct {
	Coin string                 `json:"coin"`
	Bids []HyperliquidLevelWire `json:"bids"`
	Asks []HyperliquidLevelWire `json:"asks"`
	Time int64                  `json:"time"`
}

// HyperliquidSnapshotRaw maps a Hyperliquid l2Book push into a canonical
// OrderbookL2SnapshotRaw, using the observed push time as the update
// anchor since Hyperliquid carries no sequence counter.
func HyperliquidSnapshotRaw(w HyperliquidBookWire, env ingestmodel.Envelope) ingestmodel.OrderbookL2SnapshotRaw {
	return ingestmodel.OrderbookL2SnapshotRaw{
		Envelope: env,
		Bids:     hyperliquidLevelsRaw(w.Bids),
		Asks:     hyperliquidLevelsRaw(w.Asks),
		UpdateID: uint64(w.Time),
	}
}
