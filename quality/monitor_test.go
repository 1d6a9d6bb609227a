package quality

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aspenmd/ingestd/clock"
	"github.com/aspenmd/ingestd/config"
	"github.com/aspenmd/ingestd/eventbus"
	"github.com/aspenmd/ingestd/ingestmodel"
)

func testPolicy() config.Policy {
	p := config.DefaultPolicy()
	p.StartupGraceMs = 0
	p.MinSamples = 1
	p.MismatchWindowMs = 0
	p.TTLMs["price_canonical"] = 1_000
	p.TTLMs["oi_agg"] = 1_000
	return p
}

func priceAgg(symbol string, ts int64, breakdown map[ingestmodel.StreamID]float64) ingestmodel.CanonicalPriceAgg {
	sources := make([]ingestmodel.StreamID, 0, len(breakdown))
	weights := make(map[ingestmodel.StreamID]float64, len(breakdown))
	for id := range breakdown {
		sources = append(sources, id)
		weights[id] = 1.0
	}
	ingestmodel.SortStreamIDs(sources)
	return ingestmodel.CanonicalPriceAgg{
		AggregateBase: ingestmodel.AggregateBase{
			Symbol: symbol, Ts: ts, MarketType: ingestmodel.MarketFutures,
			VenueBreakdown: breakdown, SourcesUsed: sources, WeightsUsed: weights,
			FreshSourcesCount: len(breakdown),
		},
		Price: 100,
	}
}

func TestMonitor_StaleDetection(t *testing.T) {
	bus := eventbus.New()
	clk := clock.NewVirtual(time.Unix(0, 0))
	m := New(bus, clk, testPolicy())
	m.Start()
	defer m.Stop()

	var staleEvents []StaleEvent
	bus.Subscribe(eventbus.TopicDataStale, func(p any) { staleEvents = append(staleEvents, p.(StaleEvent)) })

	bus.Publish(eventbus.TopicPriceCanonical, priceAgg("BTC-USDT", clk.NowMs(), map[ingestmodel.StreamID]float64{
		"binance.futures": 100, "okx.public.swap": 100,
	}))
	require.Empty(t, staleEvents)

	clk.Advance(10 * time.Second)
	bus.Publish(eventbus.TopicPriceCanonical, priceAgg("BTC-USDT", clk.NowMs()-9000, map[ingestmodel.StreamID]float64{
		"binance.futures": 100, "okx.public.swap": 100,
	}))

	require.NotEmpty(t, staleEvents)
	assert.Equal(t, "BTC-USDT", staleEvents[0].Symbol)
}

func TestMonitor_MismatchDetection(t *testing.T) {
	bus := eventbus.New()
	clk := clock.NewVirtual(time.Unix(0, 0))
	m := New(bus, clk, testPolicy())
	m.Start()
	defer m.Stop()

	var mismatchEvents []MismatchEvent
	bus.Subscribe(eventbus.TopicDataMismatch, func(p any) {
		if ev, ok := p.(MismatchEvent); ok {
			mismatchEvents = append(mismatchEvents, ev)
		}
	})

	bus.Publish(eventbus.TopicPriceCanonical, priceAgg("BTC-USDT", clk.NowMs(), map[ingestmodel.StreamID]float64{
		"binance.futures": 100, "okx.public.swap": 150,
	}))

	require.NotEmpty(t, mismatchEvents)
	assert.Greater(t, mismatchEvents[0].Ratio, 0.0)
}

func TestMonitor_NoMismatchWithinThreshold(t *testing.T) {
	bus := eventbus.New()
	clk := clock.NewVirtual(time.Unix(0, 0))
	m := New(bus, clk, testPolicy())
	m.Start()
	defer m.Stop()

	var mismatchEvents []MismatchEvent
	bus.Subscribe(eventbus.TopicDataMismatch, func(p any) {
		if ev, ok := p.(MismatchEvent); ok {
			mismatchEvents = append(mismatchEvents, ev)
		}
	})

	bus.Publish(eventbus.TopicPriceCanonical, priceAgg("BTC-USDT", clk.NowMs(), map[ingestmodel.StreamID]float64{
		"binance.futures": 100.00, "okx.public.swap": 100.01,
	}))

	assert.Empty(t, mismatchEvents)
}

func TestMonitor_RecoveryAfterMismatchClears(t *testing.T) {
	bus := eventbus.New()
	clk := clock.NewVirtual(time.Unix(0, 0))
	m := New(bus, clk, testPolicy())
	m.Start()
	defer m.Stop()

	var recovered []RecoveredEvent
	bus.Subscribe(eventbus.TopicDataSourceRecovered, func(p any) { recovered = append(recovered, p.(RecoveredEvent)) })

	bus.Publish(eventbus.TopicPriceCanonical, priceAgg("BTC-USDT", clk.NowMs(), map[ingestmodel.StreamID]float64{
		"binance.futures": 100, "okx.public.swap": 150,
	}))
	require.Empty(t, recovered)

	bus.Publish(eventbus.TopicPriceCanonical, priceAgg("BTC-USDT", clk.NowMs(), map[ingestmodel.StreamID]float64{
		"binance.futures": 100, "okx.public.swap": 100,
	}))
	require.NotEmpty(t, recovered)
	assert.Equal(t, "BTC-USDT", recovered[0].Symbol)
}

func TestMonitor_ConfidenceRepublishedForEveryAggregate(t *testing.T) {
	bus := eventbus.New()
	clk := clock.NewVirtual(time.Unix(0, 0))
	m := New(bus, clk, testPolicy())
	m.Start()
	defer m.Stop()

	var confidenceEvents []ConfidenceEvent
	bus.Subscribe(eventbus.TopicDataConfidence, func(p any) { confidenceEvents = append(confidenceEvents, p.(ConfidenceEvent)) })

	bus.Publish(eventbus.TopicPriceCanonical, priceAgg("BTC-USDT", clk.NowMs(), map[ingestmodel.StreamID]float64{
		"binance.futures": 100,
	}))

	require.Len(t, confidenceEvents, 1)
	assert.Equal(t, "v1", confidenceEvents[0].Version)
}

func TestMonitor_RawOIStaleness(t *testing.T) {
	bus := eventbus.New()
	clk := clock.NewVirtual(time.Unix(0, 0))
	m := New(bus, clk, testPolicy())
	m.Start()
	defer m.Stop()

	var staleEvents []StaleEvent
	bus.Subscribe(eventbus.TopicDataStale, func(p any) { staleEvents = append(staleEvents, p.(StaleEvent)) })

	oi := ingestmodel.OpenInterestRaw{
		Envelope: ingestmodel.NewEnvelope("BTC-USDT", ingestmodel.MarketFutures, "binance.futures", ingestmodel.EventMeta{TsIngest: clk.NowMs()}),
		Value:    "1000", Unit: ingestmodel.OIUnitUSD,
	}
	bus.Publish(eventbus.TopicOIRaw, oi)

	clk.Advance(10 * time.Second)
	oi.Meta.TsIngest = clk.NowMs() - 9000
	bus.Publish(eventbus.TopicOIRaw, oi)

	require.NotEmpty(t, staleEvents)
	assert.Equal(t, "market:oi_raw", staleEvents[0].Topic)
}

type fakeLiveness struct{ alive bool }

func (f fakeLiveness) IsAlive() bool { return f.alive }

func TestMonitor_HeartbeatReportsVenueLiveness(t *testing.T) {
	bus := eventbus.New()
	clk := clock.NewVirtual(time.Unix(0, 0))
	policy := testPolicy()
	policy.StatusIntervalMs = 5
	m := New(bus, clk, policy)
	m.RegisterVenue("binance", fakeLiveness{alive: true})
	m.RegisterVenue("okx", fakeLiveness{alive: false})
	m.Start()
	defer m.Stop()

	var statuses []StatusEvent
	bus.Subscribe(eventbus.TopicSystemMarketDataStatus, func(p any) { statuses = append(statuses, p.(StatusEvent)) })

	require.Eventually(t, func() bool {
		return len(statuses) > 0
	}, time.Second, 5*time.Millisecond)

	assert.True(t, statuses[0].VenuesAlive["binance"])
	assert.False(t, statuses[0].VenuesAlive["okx"])
}
