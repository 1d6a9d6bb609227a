package aggregator

import (
	"sync"

	"github.com/aspenmd/ingestd/clock"
	"github.com/aspenmd/ingestd/config"
	"github.com/aspenmd/ingestd/confidence"
	"github.com/aspenmd/ingestd/eventbus"
	"github.com/aspenmd/ingestd/ingestmodel"
	"github.com/aspenmd/ingestd/registry"
	"github.com/aspenmd/ingestd/symbol"
)

type liqBucket struct {
	start        int64
	end          int64
	perStreamUsd map[ingestmodel.StreamID]float64
	perStreamBase map[ingestmodel.StreamID]float64
	count        int
	usdCount     int
	lastMeta     ingestmodel.EventMeta
	lastTs       map[ingestmodel.StreamID]int64
}

// LiquidationAggregator consolidates market:liquidation into
// market:liquidations_agg. Liquidations are bucketed by fixed window (the
// liquidations_agg TTL doubles as the bucket width) and a bucket closes
// the moment a liquidation from any venue arrives for a later bucket — the
// same reactive, timer-free bucket-close pattern cvd.Calculator uses.
type LiquidationAggregator struct {
	bus    *eventbus.Bus
	clk    clock.Clock
	reg    *registry.Registry
	policy config.Policy

	mu      sync.Mutex
	buckets map[priceKey]*liqBucket
}

func NewLiquidationAggregator(bus *eventbus.Bus, clk clock.Clock, reg *registry.Registry, policy config.Policy) *LiquidationAggregator {
	return &LiquidationAggregator{bus: bus, clk: clk, reg: reg, policy: policy, buckets: make(map[priceKey]*liqBucket)}
}

func (a *LiquidationAggregator) Start() {
	a.bus.Subscribe(eventbus.TopicLiquidation, a.onLiquidation)
}

func (a *LiquidationAggregator) bucketMs() int64 {
	if ms := a.policy.TTLMs["liquidations_agg"]; ms > 0 {
		return ms
	}
	return 10_000
}

func (a *LiquidationAggregator) onLiquidation(payload any) {
	l, ok := payload.(ingestmodel.Liquidation)
	if !ok {
		return
	}

	bucketMs := a.bucketMs()
	start := symbol.BucketStart(l.Meta.TsEvent, bucketMs)
	k := priceKey{l.Symbol, l.MarketType}

	a.mu.Lock()
	b, exists := a.buckets[k]
	if !exists {
		b = newLiqBucket(start, start+bucketMs)
		a.buckets[k] = b
	} else if b.start != start {
		closed := *b
		a.buckets[k] = newLiqBucket(start, start+bucketMs)
		a.mu.Unlock()
		a.emit(l.Symbol, l.MarketType, &closed)
		a.mu.Lock()
		b = a.buckets[k]
	}
	b.perStreamBase[l.StreamID] += l.Size
	if l.NotionalUsd != nil {
		b.perStreamUsd[l.StreamID] += *l.NotionalUsd
		b.usdCount++
	}
	b.lastTs[l.StreamID] = l.Meta.TsEvent
	b.count++
	b.lastMeta = l.Meta
	a.mu.Unlock()
}

func newLiqBucket(start, end int64) *liqBucket {
	return &liqBucket{
		start: start, end: end,
		perStreamUsd:  make(map[ingestmodel.StreamID]float64),
		perStreamBase: make(map[ingestmodel.StreamID]float64),
		lastTs:        make(map[ingestmodel.StreamID]int64),
	}
}

func (a *LiquidationAggregator) emit(symbolName string, mt ingestmodel.MarketType, b *liqBucket) {
	if b.count == 0 {
		return
	}
	// unit='usd' only when every liquidation in the bucket carried a
	// notionalUsd figure; otherwise fall back to base size.
	useUsd := b.usdCount == b.count
	perStream := b.perStreamBase
	unit := "base"
	if useUsd {
		perStream = b.perStreamUsd
		unit = "usd"
	}

	samples := make([]SourceSample, 0, len(perStream))
	for streamID, total := range perStream {
		samples = append(samples, SourceSample{StreamID: streamID, Ts: b.lastTs[streamID], Value: total, Meta: b.lastMeta})
	}
	_, weightsUsed := WeightedMean(samples, a.policy.WeightByStream)
	var total float64
	for _, s := range samples {
		total += s.Value
	}

	for _, s := range samples {
		a.reg.MarkUsed(symbolName, mt, ingestmodel.MetricFlow, string(s.StreamID), s.Ts)
	}

	base := BuildBase(symbolName, mt, b.end, samples, weightsUsed, false, false, false, false, nil, nil, confidence.TrustContextLiquidation, b.lastMeta)
	a.reg.MarkAggEmitted(symbolName, mt, ingestmodel.MetricFlow, b.end)

	a.bus.Publish(eventbus.TopicLiquidationsAgg, ingestmodel.LiquidationAgg{
		AggregateBase: base,
		Unit:          unit,
		Total:         total,
		Count:         b.count,
		BucketStart:   b.start,
		BucketEnd:     b.end,
		BucketSizeMs:  a.bucketMs(),
	})
}
