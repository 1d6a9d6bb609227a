// Package cvd computes per-venue cumulative volume delta from canonical
// trades: each bucket's signed volume (buy size minus sell size) plus a
// running total that never resets across buckets
package cvd

import (
	"sync"

	"github.com/aspenmd/ingestd/clock"
	"github.com/aspenmd/ingestd/config"
	"github.com/aspenmd/ingestd/eventbus"
	"github.com/aspenmd/ingestd/ingestmodel"
	"github.com/aspenmd/ingestd/symbol"
)

type streamKey struct {
	Symbol     string
	MarketType ingestmodel.MarketType
	StreamID   ingestmodel.StreamID
}

type bucketState struct {
	start int64
	delta float64
}

// Calculator maintains one running CVD total and one open bucket per
// (symbol, marketType, streamId), emitting a Cvd event on the bucket
// rollover triggered by the next trade that falls in a later bucket — the
// same reactive, timer-free close LiquidationAggregator uses.
type Calculator struct {
	bus    *eventbus.Bus
	clk    clock.Clock
	policy config.Policy

	mu      sync.Mutex
	totals  map[streamKey]float64
	buckets map[streamKey]*bucketState
}

func NewCalculator(bus *eventbus.Bus, clk clock.Clock, policy config.Policy) *Calculator {
	return &Calculator{
		bus: bus, clk: clk, policy: policy,
		totals:  make(map[streamKey]float64),
		buckets: make(map[streamKey]*bucketState),
	}
}

func (c *Calculator) Start() {
	c.bus.Subscribe(eventbus.TopicTrade, c.onTrade)
}

func (c *Calculator) bucketMs() int64 {
	if ms := c.policy.CvdBucketMs; ms > 0 {
		return ms
	}
	return 60_000
}

func (c *Calculator) onTrade(payload any) {
	t, ok := payload.(ingestmodel.Trade)
	if !ok || t.Side == ingestmodel.SideUnknown {
		return
	}
	signed := t.Size
	if t.Side == ingestmodel.SideSell {
		signed = -signed
	}

	bucketMs := c.bucketMs()
	start := symbol.BucketStart(t.Meta.TsEvent, bucketMs)
	k := streamKey{t.Symbol, t.MarketType, t.StreamID}

	c.mu.Lock()
	b, exists := c.buckets[k]
	if !exists {
		b = &bucketState{start: start}
		c.buckets[k] = b
	} else if b.start != start {
		closed := *b
		c.buckets[k] = &bucketState{start: start}
		c.totals[k] += closed.delta
		total := c.totals[k]
		c.mu.Unlock()
		c.emit(t, closed, total, bucketMs)
		c.mu.Lock()
		b = c.buckets[k]
	}
	b.delta += signed
	c.mu.Unlock()
}

func (c *Calculator) emit(t ingestmodel.Trade, closed bucketState, total float64, bucketMs int64) {
	topic := eventbus.TopicCvdSpot
	if t.MarketType == ingestmodel.MarketFutures {
		topic = eventbus.TopicCvdFutures
	}
	c.bus.Publish(topic, ingestmodel.Cvd{
		Envelope:     ingestmodel.NewEnvelope(t.Symbol, t.MarketType, t.StreamID, t.Meta),
		CvdDelta:     closed.delta,
		CvdTotal:     total,
		BucketStart:  closed.start,
		BucketEnd:    closed.start + bucketMs,
		BucketSizeMs: bucketMs,
		Unit:         "base",
	})
}
