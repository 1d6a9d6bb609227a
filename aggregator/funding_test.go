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

func fundingEvent(streamID string, symbol string, rate float64, tsEvent int64) ingestmodel.Funding {
	return ingestmodel.Funding{
		Envelope: ingestmodel.NewEnvelope(symbol, ingestmodel.MarketFutures, ingestmodel.StreamID(streamID), ingestmodel.EventMeta{TsEvent: tsEvent}),
		Rate:     rate,
	}
}

func newFundingHarness(t *testing.T) (*eventbus.Bus, *clock.Virtual, *FundingAggregator) {
	t.Helper()
	bus := eventbus.New()
	clk := clock.NewVirtual(time.Unix(1_700_000_000, 0))
	reg := registry.New()
	policy := config.DefaultPolicy()
	policy.MinSamples = 2
	agg := NewFundingAggregator(bus, clk, reg, policy)
	agg.Start()
	return bus, clk, agg
}

func TestFundingAggregator_EmitsWeightedMeanOnceMinSamplesReached(t *testing.T) {
	bus, clk, _ := newFundingHarness(t)
	var got ingestmodel.FundingAgg
	bus.Subscribe(eventbus.TopicFundingAgg, func(p any) { got = p.(ingestmodel.FundingAgg) })

	now := clk.NowMs()
	bus.Publish(eventbus.TopicFunding, fundingEvent("binance.futures", "BTCUSDT", 0.0001, now))
	assert.Empty(t, got.SourcesUsed, "should not emit before MinSamples reached")

	bus.Publish(eventbus.TopicFunding, fundingEvent("okx.public.swap", "BTCUSDT", 0.0002, now))
	require.NotNil(t, got.SourcesUsed)
	assert.Len(t, got.SourcesUsed, 2)
	assert.InDelta(t, (0.0001*1.0+0.0002*0.9)/(1.0+0.9), got.Rate, 1e-9)
}

func TestFundingAggregator_FlagsMismatchAboveThreshold(t *testing.T) {
	bus, clk, _ := newFundingHarness(t)
	var got ingestmodel.FundingAgg
	bus.Subscribe(eventbus.TopicFundingAgg, func(p any) { got = p.(ingestmodel.FundingAgg) })

	now := clk.NowMs()
	bus.Publish(eventbus.TopicFunding, fundingEvent("binance.futures", "BTCUSDT", 0.01, now))
	bus.Publish(eventbus.TopicFunding, fundingEvent("okx.public.swap", "BTCUSDT", 0.02, now))

	assert.True(t, got.MismatchDetected)
}
