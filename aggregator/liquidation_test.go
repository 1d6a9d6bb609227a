package aggregator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aspenmd/ingestd/clock"
	"github.com/aspenmd/ingestd/config"
	"github.com/aspenmd/ingestd/eventbus"
	"github.com/aspenmd/ingestd/ingestmodel"
	"github.com/aspenmd/ingestd/registry"
)

func liqEvent(streamID, symbolName string, side ingestmodel.TradeSide, price, size float64, notionalUsd *float64, ts int64) ingestmodel.Liquidation {
	return ingestmodel.Liquidation{
		Envelope:    ingestmodel.NewEnvelope(symbolName, ingestmodel.MarketFutures, ingestmodel.StreamID(streamID), ingestmodel.EventMeta{TsEvent: ts}),
		Side:        side,
		Price:       price,
		Size:        size,
		NotionalUsd: notionalUsd,
	}
}

func newLiquidationHarness(t *testing.T) (*eventbus.Bus, *clock.Virtual) {
	t.Helper()
	bus := eventbus.New()
	clk := clock.NewVirtual(time.UnixMilli(0))
	reg := registry.New()
	agg := NewLiquidationAggregator(bus, clk, reg, config.DefaultPolicy())
	agg.Start()
	return bus, clk
}

func TestLiquidationAggregator_ClosesBucketOnlyWhenLaterBucketArrives(t *testing.T) {
	bus, _ := newLiquidationHarness(t)
	var emitted []ingestmodel.LiquidationAgg
	bus.Subscribe(eventbus.TopicLiquidationsAgg, func(p any) {
		emitted = append(emitted, p.(ingestmodel.LiquidationAgg))
	})

	bus.Publish(eventbus.TopicLiquidation, liqEvent("binance.futures", "BTCUSDT", ingestmodel.SideSell, 100, 1, nil, 1000))
	assert.Empty(t, emitted, "first liquidation opens a bucket but doesn't close it")

	bus.Publish(eventbus.TopicLiquidation, liqEvent("binance.futures", "BTCUSDT", ingestmodel.SideSell, 100, 2, nil, 1500))
	assert.Empty(t, emitted, "same bucket, still open")

	bus.Publish(eventbus.TopicLiquidation, liqEvent("binance.futures", "BTCUSDT", ingestmodel.SideSell, 100, 1, nil, 11_000))
	require.Len(t, emitted, 1)
	assert.Equal(t, 3.0, emitted[0].Total)
	assert.Equal(t, 2, emitted[0].Count)
	assert.Equal(t, "base", emitted[0].Unit)
}

func TestLiquidationAggregator_UsesUsdUnitOnlyWhenEveryLiquidationCarriesNotional(t *testing.T) {
	bus, _ := newLiquidationHarness(t)
	var emitted []ingestmodel.LiquidationAgg
	bus.Subscribe(eventbus.TopicLiquidationsAgg, func(p any) {
		emitted = append(emitted, p.(ingestmodel.LiquidationAgg))
	})

	usd1, usd2 := 100.0, 200.0
	bus.Publish(eventbus.TopicLiquidation, liqEvent("binance.futures", "BTCUSDT", ingestmodel.SideSell, 100, 1, &usd1, 1000))
	bus.Publish(eventbus.TopicLiquidation, liqEvent("okx.public.swap", "BTCUSDT", ingestmodel.SideBuy, 100, 2, &usd2, 1200))
	bus.Publish(eventbus.TopicLiquidation, liqEvent("binance.futures", "BTCUSDT", ingestmodel.SideSell, 100, 1, &usd1, 11_000))

	require.Len(t, emitted, 1)
	assert.Equal(t, "usd", emitted[0].Unit)
	assert.Equal(t, 300.0, emitted[0].Total)
}

func TestLiquidationAggregator_FallsBackToBaseUnitWhenAnyLiquidationLacksNotional(t *testing.T) {
	bus, _ := newLiquidationHarness(t)
	var emitted []ingestmodel.LiquidationAgg
	bus.Subscribe(eventbus.TopicLiquidationsAgg, func(p any) {
		emitted = append(emitted, p.(ingestmodel.LiquidationAgg))
	})

	usd1 := 100.0
	bus.Publish(eventbus.TopicLiquidation, liqEvent("binance.futures", "BTCUSDT", ingestmodel.SideSell, 100, 1, &usd1, 1000))
	bus.Publish(eventbus.TopicLiquidation, liqEvent("okx.public.swap", "BTCUSDT", ingestmodel.SideBuy, 100, 2, nil, 1200))
	bus.Publish(eventbus.TopicLiquidation, liqEvent("binance.futures", "BTCUSDT", ingestmodel.SideSell, 100, 1, &usd1, 11_000))

	require.Len(t, emitted, 1)
	assert.Equal(t, "base", emitted[0].Unit)
	assert.Equal(t, 3.0, emitted[0].Total)
}

func TestLiquidationAggregator_KeepsSeparateBucketsPerSymbol(t *testing.T) {
	bus, _ := newLiquidationHarness(t)
	var emitted []ingestmodel.LiquidationAgg
	bus.Subscribe(eventbus.TopicLiquidationsAgg, func(p any) {
		emitted = append(emitted, p.(ingestmodel.LiquidationAgg))
	})

	bus.Publish(eventbus.TopicLiquidation, liqEvent("binance.futures", "BTCUSDT", ingestmodel.SideSell, 100, 1, nil, 1000))
	bus.Publish(eventbus.TopicLiquidation, liqEvent("binance.futures", "ETHUSDT", ingestmodel.SideSell, 50, 1, nil, 1000))
	bus.Publish(eventbus.TopicLiquidation, liqEvent("binance.futures", "BTCUSDT", ingestmodel.SideSell, 100, 1, nil, 11_000))

	require.Len(t, emitted, 1)
	assert.Equal(t, "BTCUSDT", emitted[0].Symbol)
}
