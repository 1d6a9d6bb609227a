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

func cvdEvent(streamID, symbol string, delta, total float64, ts int64) ingestmodel.Cvd {
	return ingestmodel.Cvd{
		Envelope:     ingestmodel.NewEnvelope(symbol, ingestmodel.MarketFutures, ingestmodel.StreamID(streamID), ingestmodel.EventMeta{TsEvent: ts}),
		CvdDelta:     delta,
		CvdTotal:     total,
		BucketStart:  ts - 60_000,
		BucketEnd:    ts,
		BucketSizeMs: 60_000,
	}
}

func newCvdHarness(t *testing.T, minSamples int) (*eventbus.Bus, *clock.Virtual, *registry.Registry) {
	t.Helper()
	bus := eventbus.New()
	clk := clock.NewVirtual(time.UnixMilli(1_000_000))
	reg := registry.New()
	policy := config.DefaultPolicy()
	policy.MinSamples = minSamples
	agg := NewCvdFuturesAggregator(bus, clk, reg, policy)
	agg.Start()
	return bus, clk, reg
}

func TestCvdAggregator_SuppressesBeforeMinSamplesReached(t *testing.T) {
	bus, clk, reg := newCvdHarness(t, 2)
	var count int
	bus.Subscribe(eventbus.TopicCvdFuturesAgg, func(p any) { count++ })

	now := clk.NowMs()
	bus.Publish(eventbus.TopicCvdFutures, cvdEvent("binance.futures", "BTCUSDT", 10, 100, now))
	assert.Equal(t, 0, count)

	snap := reg.Snapshot(now, "BTCUSDT", ingestmodel.MarketFutures)
	require.Len(t, snap.Metrics, 1)
	assert.Equal(t, 1, snap.Metrics[0].Suppressions[string(ingestmodel.ReasonStaleInput)])
}

func TestCvdAggregator_EmitsWeightedMeanOnceMinSamplesReached(t *testing.T) {
	bus, clk, _ := newCvdHarness(t, 2)
	var got ingestmodel.CvdAgg
	bus.Subscribe(eventbus.TopicCvdFuturesAgg, func(p any) { got = p.(ingestmodel.CvdAgg) })

	now := clk.NowMs()
	bus.Publish(eventbus.TopicCvdFutures, cvdEvent("binance.futures", "BTCUSDT", 10, 100, now))
	bus.Publish(eventbus.TopicCvdFutures, cvdEvent("okx.public.swap", "BTCUSDT", 12, 110, now))

	require.Len(t, got.SourcesUsed, 2)
	assert.Equal(t, "", got.MismatchType)
	assert.InDelta(t, 1.0, got.ConfidencePenalty, 1e-9)
}

func TestCvdAggregator_FlagsSignMismatchWhenVenuesDisagreeOnDirection(t *testing.T) {
	bus, clk, _ := newCvdHarness(t, 2)
	var got ingestmodel.CvdAgg
	bus.Subscribe(eventbus.TopicCvdFuturesAgg, func(p any) { got = p.(ingestmodel.CvdAgg) })

	now := clk.NowMs()
	// First sample per stream seeds the EWMA scale at the sample's own
	// magnitude; both EWMAs are 50, so the scale ratio is 1, the pair stays
	// at +-50 and already trips the sign-agreement check.
	bus.Publish(eventbus.TopicCvdFutures, cvdEvent("binance.futures", "BTCUSDT", 50, 500, now))
	bus.Publish(eventbus.TopicCvdFutures, cvdEvent("okx.public.swap", "BTCUSDT", -50, -500, now))

	assert.Equal(t, "SIGN", got.MismatchType)
	assert.InDelta(t, 0.5, got.ConfidencePenalty, 1e-9)
}

func TestCvdAggregator_ScopesLatestSampleByStreamSoNewerReplacesOlder(t *testing.T) {
	bus, clk, _ := newCvdHarness(t, 2)
	var got ingestmodel.CvdAgg
	bus.Subscribe(eventbus.TopicCvdFuturesAgg, func(p any) { got = p.(ingestmodel.CvdAgg) })

	now := clk.NowMs()
	bus.Publish(eventbus.TopicCvdFutures, cvdEvent("binance.futures", "BTCUSDT", 10, 100, now))
	bus.Publish(eventbus.TopicCvdFutures, cvdEvent("okx.public.swap", "BTCUSDT", 10, 100, now))
	bus.Publish(eventbus.TopicCvdFutures, cvdEvent("binance.futures", "BTCUSDT", 20, 120, now+1))

	require.Len(t, got.SourcesUsed, 2)
	// binance.futures (weight 1.0, delta=20) + okx.public.swap (weight 0.9, delta=10)
	want := (20*1.0 + 10*0.9) / (1.0 + 0.9)
	assert.InDelta(t, want, got.CvdDelta, 1e-9)
}
