package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aspenmd/ingestd/adapters"
	"github.com/aspenmd/ingestd/clock"
	"github.com/aspenmd/ingestd/eventbus"
	"github.com/aspenmd/ingestd/ingestmodel"
	"github.com/aspenmd/ingestd/registry"
)

// OKX trade mapping end-to-end: the raw OKX wire payload goes through
// adapters.OKXTradeRaw, publishes on market:trade_raw, and the Bridge
// republishes the fully parsed canonical Trade on market:trade with
// symbol/side/price/size/exchangeTs/marketType all carried through.
func TestBridge_OKXTradeMapping(t *testing.T) {
	bus := eventbus.New()
	reg := registry.New()
	b := NewBridge(bus, reg, clock.NewSystem())
	b.Start()

	var got ingestmodel.Trade
	var count int
	bus.Subscribe(eventbus.TopicTrade, func(payload any) {
		got = payload.(ingestmodel.Trade)
		count++
	})

	env := ingestmodel.NewEnvelope("BTCUSDT", ingestmodel.MarketFutures, "okx.public.swap", ingestmodel.EventMeta{
		TsEvent: 1700000000000,
	})
	raw := adapters.OKXTradeRaw(adapters.OKXTradeWire{
		InstID: "BTC-USDT-SWAP", Px: "100", Sz: "1", Side: "buy", Ts: "1700000000000",
	}, env)

	bus.Publish(eventbus.TopicTradeRaw, raw)

	require.Equal(t, 1, count)
	assert.Equal(t, "BTCUSDT", got.Symbol)
	assert.Equal(t, ingestmodel.SideBuy, got.Side)
	assert.Equal(t, 100.0, got.Price)
	assert.Equal(t, 1.0, got.Size)
	assert.Equal(t, int64(1700000000000), got.Meta.TsEvent)
	assert.Equal(t, ingestmodel.MarketFutures, got.MarketType)
}

func TestBridge_DropsTradeWithNonPositivePrice(t *testing.T) {
	bus := eventbus.New()
	reg := registry.New()
	b := NewBridge(bus, reg, clock.NewSystem())
	b.Start()

	var count int
	bus.Subscribe(eventbus.TopicTrade, func(payload any) { count++ })

	env := ingestmodel.NewEnvelope("BTCUSDT", ingestmodel.MarketFutures, "okx.public.swap", ingestmodel.EventMeta{TsEvent: 1})
	raw := ingestmodel.TradeRaw{Envelope: env, Price: "0", Size: "1", Side: ingestmodel.SideBuy}
	bus.Publish(eventbus.TopicTradeRaw, raw)

	assert.Equal(t, 0, count)
}

func TestBridge_DropsTradeWithUnparsablePrice(t *testing.T) {
	bus := eventbus.New()
	reg := registry.New()
	b := NewBridge(bus, reg, clock.NewSystem())
	b.Start()

	var count int
	bus.Subscribe(eventbus.TopicTrade, func(payload any) { count++ })

	env := ingestmodel.NewEnvelope("BTCUSDT", ingestmodel.MarketFutures, "okx.public.swap", ingestmodel.EventMeta{TsEvent: 1})
	raw := ingestmodel.TradeRaw{Envelope: env, Price: "garbage", Size: "1", Side: ingestmodel.SideBuy}
	bus.Publish(eventbus.TopicTradeRaw, raw)

	assert.Equal(t, 0, count)
}

func TestBridge_TickerEmitsNothingWhenNoPriceFieldPresent(t *testing.T) {
	bus := eventbus.New()
	reg := registry.New()
	b := NewBridge(bus, reg, clock.NewSystem())
	b.Start()

	var count int
	bus.Subscribe(eventbus.TopicTicker, func(payload any) { count++ })

	env := ingestmodel.NewEnvelope("BTCUSDT", ingestmodel.MarketFutures, "okx.public.swap", ingestmodel.EventMeta{TsEvent: 1000})
	bus.Publish(eventbus.TopicTickerRaw, ingestmodel.TickerRaw{Envelope: env})

	assert.Equal(t, 0, count)
}

// Complements TestBridge_TickerEmitsNothingWhenNoPriceFieldPresent: once an
// index price shows up on the raw ticker, the Bridge must emit a canonical
// Ticker carrying it (the upstream condition CanonicalPriceAggregator relies
// on to ever select priceTypeUsed=index).
func TestBridge_TickerEmitsWhenIndexPricePresent(t *testing.T) {
	bus := eventbus.New()
	reg := registry.New()
	b := NewBridge(bus, reg, clock.NewSystem())
	b.Start()

	var got ingestmodel.Ticker
	var count int
	bus.Subscribe(eventbus.TopicTicker, func(payload any) {
		got = payload.(ingestmodel.Ticker)
		count++
	})

	idx := "100"
	env := ingestmodel.NewEnvelope("BTCUSDT", ingestmodel.MarketFutures, "s1", ingestmodel.EventMeta{TsEvent: 2000})
	bus.Publish(eventbus.TopicTickerRaw, ingestmodel.TickerRaw{Envelope: env, IndexPrice: &idx})

	require.Equal(t, 1, count)
	require.NotNil(t, got.IndexPrice)
	assert.Equal(t, 100.0, *got.IndexPrice)
}

func TestBridge_LiquidationParsesNotionalUsdFromRaw(t *testing.T) {
	bus := eventbus.New()
	reg := registry.New()
	b := NewBridge(bus, reg, clock.NewSystem())
	b.Start()

	var got ingestmodel.Liquidation
	bus.Subscribe(eventbus.TopicLiquidation, func(payload any) {
		got = payload.(ingestmodel.Liquidation)
	})

	notional := "200"
	env := ingestmodel.NewEnvelope("BTCUSDT", ingestmodel.MarketFutures, "s1", ingestmodel.EventMeta{})
	bus.Publish(eventbus.TopicLiquidationRaw, ingestmodel.LiquidationRaw{
		Envelope: env, Side: ingestmodel.SideSell, Price: "100", Size: "2", NotionalUsd: &notional,
	})

	require.NotNil(t, got.NotionalUsd)
	assert.Equal(t, 200.0, *got.NotionalUsd)
}
