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

func newPriceHarness(t *testing.T, minSamples int) (*eventbus.Bus, *clock.Virtual, *registry.Registry) {
	t.Helper()
	bus := eventbus.New()
	clk := clock.NewVirtual(time.UnixMilli(1000))
	reg := registry.New()
	policy := config.DefaultPolicy()
	policy.MinSamples = minSamples
	agg := NewCanonicalPriceAggregator(bus, clk, reg, policy)
	agg.Start()
	return bus, clk, reg
}

func ticker(streamID string, symbol string, ts int64, last, mark, index *float64) ingestmodel.Ticker {
	return ingestmodel.Ticker{
		Envelope:   ingestmodel.NewEnvelope(symbol, ingestmodel.MarketFutures, ingestmodel.StreamID(streamID), ingestmodel.EventMeta{TsEvent: ts}),
		LastPrice:  last,
		MarkPrice:  mark,
		IndexPrice: index,
	}
}

func f(v float64) *float64 { return &v }

// A ticker with no price fields emits nothing and records
// NO_CANONICAL_PRICE; a follow-up ticker carrying an index price emits
// exactly one price_canonical event with priceTypeUsed=index,
// sourcesUsed=[s1], confidence≈1.
func TestCanonicalPriceAggregator_SuppressionThenRecovery(t *testing.T) {
	bus, clk, reg := newPriceHarness(t, 1)
	var emitted []ingestmodel.CanonicalPriceAgg
	bus.Subscribe(eventbus.TopicPriceCanonical, func(p any) {
		emitted = append(emitted, p.(ingestmodel.CanonicalPriceAgg))
	})

	clk.Set(time.UnixMilli(1000))
	bus.Publish(eventbus.TopicTicker, ticker("s1", "BTCUSDT", 1000, nil, nil, nil))
	assert.Empty(t, emitted, "no price field present, nothing should be emitted")

	snap := reg.Snapshot(1000, "BTCUSDT", ingestmodel.MarketFutures)
	require.Len(t, snap.Metrics, 1)
	assert.Equal(t, 1, snap.Metrics[0].Suppressions[string(ingestmodel.ReasonNoCanonicalPrice)])

	clk.Set(time.UnixMilli(2000))
	bus.Publish(eventbus.TopicTicker, ticker("s1", "BTCUSDT", 2000, nil, nil, f(100)))

	require.Len(t, emitted, 1)
	ev := emitted[0]
	assert.Equal(t, "index", ev.PriceTypeUsed)
	assert.Equal(t, []ingestmodel.StreamID{"s1"}, ev.SourcesUsed)
	assert.InDelta(t, 1.0, ev.ConfidenceScore, 1e-9)
	assert.Equal(t, 100.0, ev.Price)
}

func TestCanonicalPriceAggregator_FallsBackToMarkWhenNoIndex(t *testing.T) {
	bus, clk, _ := newPriceHarness(t, 1)
	var got ingestmodel.CanonicalPriceAgg
	bus.Subscribe(eventbus.TopicPriceCanonical, func(p any) { got = p.(ingestmodel.CanonicalPriceAgg) })

	clk.Set(time.UnixMilli(1000))
	bus.Publish(eventbus.TopicTicker, ticker("s1", "BTCUSDT", 1000, nil, f(90), nil))

	assert.Equal(t, "mark", got.PriceTypeUsed)
	assert.Equal(t, "NO_INDEX", got.FallbackReason)
	assert.Equal(t, 90.0, got.Price)
}

func TestCanonicalPriceAggregator_FallsBackToLastWhenNoIndexOrMark(t *testing.T) {
	bus, clk, _ := newPriceHarness(t, 1)
	var got ingestmodel.CanonicalPriceAgg
	bus.Subscribe(eventbus.TopicPriceCanonical, func(p any) { got = p.(ingestmodel.CanonicalPriceAgg) })

	clk.Set(time.UnixMilli(1000))
	bus.Publish(eventbus.TopicTicker, ticker("s1", "BTCUSDT", 1000, f(80), nil, nil))

	assert.Equal(t, "last", got.PriceTypeUsed)
	assert.Equal(t, "NO_MARK", got.FallbackReason)
	assert.Equal(t, 80.0, got.Price)
}

func TestCanonicalPriceAggregator_IndexStaleReasonWhenIndexBelowMinSamples(t *testing.T) {
	// MinSamples=2: one stream reports both index and mark, a second
	// reports only mark. countWithIndex==1 never reaches MinSamples, so
	// the aggregator falls back to mark with fallbackReason=INDEX_STALE
	// (as opposed to NO_INDEX, which is reserved for countWithIndex==0).
	bus, clk, _ := newPriceHarness(t, 2)
	var got ingestmodel.CanonicalPriceAgg
	bus.Subscribe(eventbus.TopicPriceCanonical, func(p any) { got = p.(ingestmodel.CanonicalPriceAgg) })

	clk.Set(time.UnixMilli(1000))
	bus.Publish(eventbus.TopicTicker, ticker("s1", "BTCUSDT", 1000, nil, f(100), f(100)))
	bus.Publish(eventbus.TopicTicker, ticker("s2", "BTCUSDT", 1000, nil, f(101), nil))

	assert.Equal(t, "mark", got.PriceTypeUsed)
	assert.Equal(t, "INDEX_STALE", got.FallbackReason)
}
