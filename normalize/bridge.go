// Package normalize bridges the venue layer's wire-exact "*_raw" events
// onto their canonical counterparts.  calls this the "Other
// handlers" pass: trades are dropped unless price/size/timestamp are all
// finite and positive, klines are only ever seen here already closed (the
// venue layer only emits a kline_raw once IsFinal/Confirm holds), and
// liquidation/funding/OI/ticker values are parsed from their decimal-string
// form into float64. Nothing upstream of this package touches the
// SourceRegistry, so it also performs the ExpectFeed/ObserveFeedSample
// bookkeeping  describes.
package normalize

import (
	"math"

	"github.com/aspenmd/ingestd/adapters"
	"github.com/aspenmd/ingestd/clock"
	"github.com/aspenmd/ingestd/eventbus"
	"github.com/aspenmd/ingestd/ingestmodel"
	"github.com/aspenmd/ingestd/logx"
	"github.com/aspenmd/ingestd/registry"
)

// Bridge owns the raw->canonical subscriptions. Construct one per process
// and call Start once, before any venue client connects.
type Bridge struct {
	bus *eventbus.Bus
	reg *registry.Registry
	clk clock.Clock
}

// NewBridge constructs a Bridge bound to bus/reg. clk is only used to stamp
// TsIngest on derived events that need a fresh observation time distinct
// from the raw event's.
func NewBridge(bus *eventbus.Bus, reg *registry.Registry, clk clock.Clock) *Bridge {
	return &Bridge{bus: bus, reg: reg, clk: clk}
}

// Start subscribes every raw->canonical handler plus the orderbook feed
// observer. Idempotent: the bus's Subscribe is itself idempotent per
// (topic, handler identity).
func (b *Bridge) Start() {
	b.bus.Subscribe(eventbus.TopicTradeRaw, b.onTradeRaw)
	b.bus.Subscribe(eventbus.TopicKlineRaw, b.onKlineRaw)
	b.bus.Subscribe(eventbus.TopicTickerRaw, b.onTickerRaw)
	b.bus.Subscribe(eventbus.TopicOIRaw, b.onOIRaw)
	b.bus.Subscribe(eventbus.TopicFundingRaw, b.onFundingRaw)
	b.bus.Subscribe(eventbus.TopicLiquidationRaw, b.onLiquidationRaw)
	b.bus.Subscribe(eventbus.TopicOrderbookSnapshot, b.onOrderbookSnapshot)
	b.bus.Subscribe(eventbus.TopicOrderbookDelta, b.onOrderbookDelta)
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

func (b *Bridge) drop(streamID ingestmodel.StreamID, reason string) {
	logx.Component("normalize").Debug().
		Str("streamId", string(streamID)).
		Str("reason", reason).
		Msg("dropped raw sample")
}

func (b *Bridge) onTradeRaw(payload any) {
	raw, ok := payload.(ingestmodel.TradeRaw)
	if !ok {
		return
	}
	price, okP := adapters.ParseDecimal(raw.Price)
	size, okS := adapters.ParseDecimal(raw.Size)
	if !okP || !okS || !finite(price) || !finite(size) || price <= 0 || size <= 0 || raw.Meta.TsEvent <= 0 {
		b.drop(raw.StreamID, "invalid_trade_fields")
		return
	}
	b.reg.ObserveFeedSample(raw.Symbol, raw.MarketType, ingestmodel.FeedTrades, string(raw.StreamID), raw.Meta.TsEvent)
	b.bus.Publish(eventbus.TopicTrade, ingestmodel.Trade{
		Envelope: raw.Envelope,
		TradeID:  raw.TradeID,
		Price:    price,
		Size:     size,
		Side:     raw.Side,
	})
}

// onKlineRaw parses a closed kline. The venue layer already guarantees
// IsFinal/Confirm held before publishing kline_raw; this handler only
// re-validates the OHLCV decimals parse and are finite.
func (b *Bridge) onKlineRaw(payload any) {
	raw, ok := payload.(ingestmodel.KlineRaw)
	if !ok {
		return
	}
	open, ok1 := adapters.ParseDecimal(raw.Open)
	high, ok2 := adapters.ParseDecimal(raw.High)
	low, ok3 := adapters.ParseDecimal(raw.Low)
	closeP, ok4 := adapters.ParseDecimal(raw.Close)
	vol, ok5 := adapters.ParseDecimal(raw.Volume)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 || !finite(open) || !finite(high) || !finite(low) || !finite(closeP) || !finite(vol) {
		b.drop(raw.StreamID, "invalid_kline_fields")
		return
	}
	b.reg.ObserveFeedSample(raw.Symbol, raw.MarketType, ingestmodel.FeedKlines, string(raw.StreamID), raw.CloseTime)
	b.bus.Publish(eventbus.TopicKline, ingestmodel.Kline{
		Envelope:  raw.Envelope,
		Interval:  raw.Interval,
		OpenTime:  raw.OpenTime,
		CloseTime: raw.CloseTime,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closeP,
		Volume:    vol,
	})
}

func parsePtr(s *string) *float64 {
	if s == nil {
		return nil
	}
	v, ok := adapters.ParseDecimal(*s)
	if !ok || !finite(v) {
		return nil
	}
	return &v
}

func (b *Bridge) onTickerRaw(payload any) {
	raw, ok := payload.(ingestmodel.TickerRaw)
	if !ok {
		return
	}
	last := parsePtr(raw.LastPrice)
	mark := parsePtr(raw.MarkPrice)
	index := parsePtr(raw.IndexPrice)
	if last == nil && mark == nil && index == nil {
		b.drop(raw.StreamID, "ticker_no_usable_price")
		return
	}
	if mark != nil {
		b.reg.ObserveFeedSample(raw.Symbol, raw.MarketType, ingestmodel.FeedMarkPrice, string(raw.StreamID), raw.Meta.TsEvent)
	}
	if index != nil {
		b.reg.ObserveFeedSample(raw.Symbol, raw.MarketType, ingestmodel.FeedIndexPrice, string(raw.StreamID), raw.Meta.TsEvent)
	}
	b.bus.Publish(eventbus.TopicTicker, ingestmodel.Ticker{
		Envelope:   raw.Envelope,
		LastPrice:  last,
		MarkPrice:  mark,
		IndexPrice: index,
	})
}

func (b *Bridge) onOIRaw(payload any) {
	raw, ok := payload.(ingestmodel.OpenInterestRaw)
	if !ok {
		return
	}
	v, okV := adapters.ParseDecimal(raw.Value)
	if !okV || !finite(v) || v < 0 {
		b.drop(raw.StreamID, "invalid_oi_value")
		return
	}
	b.reg.ObserveFeedSample(raw.Symbol, raw.MarketType, ingestmodel.FeedOI, string(raw.StreamID), raw.Meta.TsEvent)
	b.bus.Publish(eventbus.TopicOI, ingestmodel.OpenInterest{Envelope: raw.Envelope, Value: v, Unit: raw.Unit})
}

func (b *Bridge) onFundingRaw(payload any) {
	raw, ok := payload.(ingestmodel.FundingRaw)
	if !ok {
		return
	}
	rate, okR := adapters.ParseDecimal(raw.Rate)
	if !okR || !finite(rate) {
		b.drop(raw.StreamID, "invalid_funding_rate")
		return
	}
	b.reg.ObserveFeedSample(raw.Symbol, raw.MarketType, ingestmodel.FeedFunding, string(raw.StreamID), raw.Meta.TsEvent)
	b.bus.Publish(eventbus.TopicFunding, ingestmodel.Funding{
		Envelope:        raw.Envelope,
		Rate:            rate,
		NextFundingTime: raw.NextFundingTime,
	})
}

func (b *Bridge) onLiquidationRaw(payload any) {
	raw, ok := payload.(ingestmodel.LiquidationRaw)
	if !ok {
		return
	}
	price, okP := adapters.ParseDecimal(raw.Price)
	size, okS := adapters.ParseDecimal(raw.Size)
	if !okP || !okS || !finite(price) || !finite(size) || price <= 0 || size <= 0 {
		b.drop(raw.StreamID, "invalid_liquidation_fields")
		return
	}
	notional := parsePtr(raw.NotionalUsd)
	b.bus.Publish(eventbus.TopicLiquidation, ingestmodel.Liquidation{
		Envelope:    raw.Envelope,
		Side:        raw.Side,
		Price:       price,
		Size:        size,
		NotionalUsd: notional,
	})
}

// onOrderbookSnapshot/onOrderbookDelta don't re-derive anything — the venue
// layer already publishes these in canonical form, since the reconciler
// parses price levels to float64 before constructing them. This handler
// only performs the registry bookkeeping nothing else does.
func (b *Bridge) onOrderbookSnapshot(payload any) {
	snap, ok := payload.(ingestmodel.OrderbookL2Snapshot)
	if !ok {
		return
	}
	b.reg.ObserveFeedSample(snap.Symbol, snap.MarketType, ingestmodel.FeedOrderbook, string(snap.StreamID), snap.Meta.TsIngest)
}

func (b *Bridge) onOrderbookDelta(payload any) {
	delta, ok := payload.(ingestmodel.OrderbookL2Delta)
	if !ok {
		return
	}
	b.reg.ObserveFeedSample(delta.Symbol, delta.MarketType, ingestmodel.FeedOrderbook, string(delta.StreamID), delta.Meta.TsIngest)
}
