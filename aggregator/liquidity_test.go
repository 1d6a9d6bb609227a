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

func bookSnapshot(streamID, symbolName string, bids, asks []ingestmodel.PriceLevel, ts int64) ingestmodel.OrderbookL2Snapshot {
	return ingestmodel.OrderbookL2Snapshot{
		Envelope: ingestmodel.NewEnvelope(symbolName, ingestmodel.MarketFutures, ingestmodel.StreamID(streamID), ingestmodel.EventMeta{TsEvent: ts, TsIngest: ts}),
		Bids:     bids,
		Asks:     asks,
		UpdateID: 1,
	}
}

func newLiquidityHarness(t *testing.T, minSamples int) (*eventbus.Bus, *clock.Virtual) {
	t.Helper()
	bus := eventbus.New()
	clk := clock.NewVirtual(time.UnixMilli(0))
	reg := registry.New()
	policy := config.DefaultPolicy()
	policy.MinSamples = minSamples
	agg := NewLiquidityAggregator(bus, clk, reg, policy)
	agg.Start()
	return bus, clk
}

func TestLiquidityAggregator_DerivesBestBidAskSpreadAndDepthFromSnapshot(t *testing.T) {
	bus, _ := newLiquidityHarness(t, 1)
	var got ingestmodel.LiquidityAgg
	bus.Subscribe(eventbus.TopicLiquidityAgg, func(p any) { got = p.(ingestmodel.LiquidityAgg) })

	bus.Publish(eventbus.TopicOrderbookSnapshot, bookSnapshot("binance.futures", "BTCUSDT",
		[]ingestmodel.PriceLevel{{Price: 99, Size: 1}, {Price: 98, Size: 2}},
		[]ingestmodel.PriceLevel{{Price: 100, Size: 1}, {Price: 101, Size: 2}},
		1000))

	assert.Equal(t, 99.0, got.BestBid)
	assert.Equal(t, 100.0, got.BestAsk)
	assert.InDelta(t, 1.0, got.Spread, 1e-9)
	assert.Equal(t, 3.0, got.DepthBid)
	assert.Equal(t, 3.0, got.DepthAsk)
}

func TestLiquidityAggregator_AveragesAcrossVenuesWeightedMean(t *testing.T) {
	bus, _ := newLiquidityHarness(t, 2)
	var got ingestmodel.LiquidityAgg
	bus.Subscribe(eventbus.TopicLiquidityAgg, func(p any) { got = p.(ingestmodel.LiquidityAgg) })

	bus.Publish(eventbus.TopicOrderbookSnapshot, bookSnapshot("binance.futures", "BTCUSDT",
		[]ingestmodel.PriceLevel{{Price: 100, Size: 1}}, []ingestmodel.PriceLevel{{Price: 102, Size: 1}}, 1000))
	bus.Publish(eventbus.TopicOrderbookSnapshot, bookSnapshot("okx.public.swap", "BTCUSDT",
		[]ingestmodel.PriceLevel{{Price: 100, Size: 1}}, []ingestmodel.PriceLevel{{Price: 102, Size: 1}}, 1000))

	require.Len(t, got.VenueStatus, 2)
	assert.InDelta(t, 101.0, got.MidPrice, 1e-9)
}

func TestLiquidityAggregator_ResyncFlagsSequenceBrokenOnThatVenue(t *testing.T) {
	bus, _ := newLiquidityHarness(t, 1)
	var got ingestmodel.LiquidityAgg
	bus.Subscribe(eventbus.TopicLiquidityAgg, func(p any) { got = p.(ingestmodel.LiquidityAgg) })

	bus.Publish(eventbus.TopicOrderbookSnapshot, bookSnapshot("binance.futures", "BTCUSDT",
		[]ingestmodel.PriceLevel{{Price: 99, Size: 1}}, []ingestmodel.PriceLevel{{Price: 100, Size: 1}}, 1000))
	assert.False(t, got.QualityFlags["sequenceBroken"])

	bus.Publish(eventbus.TopicResyncRequested, map[string]any{"symbol": "BTCUSDT", "streamId": ingestmodel.StreamID("binance.futures")})
	bus.Publish(eventbus.TopicOrderbookDelta, ingestmodel.OrderbookL2Delta{
		Envelope:      ingestmodel.NewEnvelope("BTCUSDT", ingestmodel.MarketFutures, "binance.futures", ingestmodel.EventMeta{TsEvent: 1100, TsIngest: 1100}),
		Bids:          []ingestmodel.PriceLevel{{Price: 99, Size: 2}},
		FirstUpdateID: 2, LastUpdateID: 2,
	})

	assert.True(t, got.QualityFlags["sequenceBroken"])
	require.Contains(t, got.VenueStatus, ingestmodel.StreamID("binance.futures"))
	assert.True(t, got.VenueStatus["binance.futures"].SequenceBroken)
}

func TestLiquidityAggregator_DisconnectResetsThatVenuesBook(t *testing.T) {
	bus, _ := newLiquidityHarness(t, 1)
	var samples []ingestmodel.LiquidityAgg
	bus.Subscribe(eventbus.TopicLiquidityAgg, func(p any) { samples = append(samples, p.(ingestmodel.LiquidityAgg)) })

	bus.Publish(eventbus.TopicOrderbookSnapshot, bookSnapshot("binance.futures", "BTCUSDT",
		[]ingestmodel.PriceLevel{{Price: 99, Size: 1}}, []ingestmodel.PriceLevel{{Price: 100, Size: 1}}, 1000))
	bus.Publish(eventbus.TopicOrderbookSnapshot, bookSnapshot("okx.public.swap", "BTCUSDT",
		[]ingestmodel.PriceLevel{{Price: 99, Size: 1}}, []ingestmodel.PriceLevel{{Price: 100, Size: 1}}, 1000))
	require.NotEmpty(t, samples)
	require.Len(t, samples[len(samples)-1].VenueStatus, 2)

	bus.Publish(eventbus.TopicDisconnected, "binance")
	bus.Publish(eventbus.TopicOrderbookSnapshot, bookSnapshot("okx.public.swap", "BTCUSDT",
		[]ingestmodel.PriceLevel{{Price: 99, Size: 1}}, []ingestmodel.PriceLevel{{Price: 100, Size: 1}}, 1200))

	last := samples[len(samples)-1]
	assert.Len(t, last.VenueStatus, 1, "binance book reset to empty, should drop out of status once below MinSamples' venue count")
}
