package aggregator

import (
	"sort"
	"sync"

	"github.com/aspenmd/ingestd/clock"
	"github.com/aspenmd/ingestd/config"
	"github.com/aspenmd/ingestd/confidence"
	"github.com/aspenmd/ingestd/eventbus"
	"github.com/aspenmd/ingestd/ingestmodel"
	"github.com/aspenmd/ingestd/registry"
	"github.com/aspenmd/ingestd/symbol"
)

const liquidityDepthLevels = 10

type sourceBookKey struct {
	Symbol     string
	MarketType ingestmodel.MarketType
	StreamID   ingestmodel.StreamID
}

// LiquidityAggregator independently rebuilds each venue's order book from
// the published canonical snapshot/delta stream (the same bookkeeping a
// VenueClient's own Reconciler does, but here fed from the bus rather than
// the wire), derives per-venue VenueLiquidityStatus, and weighted-averages
// each metric across venues into a market:liquidity_agg event. An event is
// published on every book update; BucketStart/BucketEnd name the window
// that update falls in.
type LiquidityAggregator struct {
	bus    *eventbus.Bus
	clk    clock.Clock
	reg    *registry.Registry
	policy config.Policy

	mu          sync.Mutex
	books       map[sourceBookKey]*ingestmodel.OrderbookState
	lastMeta    map[sourceBookKey]ingestmodel.EventMeta
	bucketStart map[priceKey]int64
}

func NewLiquidityAggregator(bus *eventbus.Bus, clk clock.Clock, reg *registry.Registry, policy config.Policy) *LiquidityAggregator {
	return &LiquidityAggregator{
		bus: bus, clk: clk, reg: reg, policy: policy,
		books:       make(map[sourceBookKey]*ingestmodel.OrderbookState),
		lastMeta:    make(map[sourceBookKey]ingestmodel.EventMeta),
		bucketStart: make(map[priceKey]int64),
	}
}

func (a *LiquidityAggregator) Start() {
	a.bus.Subscribe(eventbus.TopicOrderbookSnapshot, a.onSnapshot)
	a.bus.Subscribe(eventbus.TopicOrderbookDelta, a.onDelta)
	a.bus.Subscribe(eventbus.TopicResyncRequested, a.onResync)
	a.bus.Subscribe(eventbus.TopicDisconnected, a.onDisconnected)
}

func (a *LiquidityAggregator) bookFor(k sourceBookKey) *ingestmodel.OrderbookState {
	b, ok := a.books[k]
	if !ok {
		b = ingestmodel.NewOrderbookState()
		a.books[k] = b
	}
	return b
}

func (a *LiquidityAggregator) onSnapshot(payload any) {
	snap, ok := payload.(ingestmodel.OrderbookL2Snapshot)
	if !ok {
		return
	}
	k := sourceBookKey{snap.Symbol, snap.MarketType, snap.StreamID}
	a.mu.Lock()
	book := a.bookFor(k)
	book.Reset()
	ingestmodel.ApplyLevels(book.Bids, snap.Bids)
	ingestmodel.ApplyLevels(book.Asks, snap.Asks)
	book.Snapshot = ingestmodel.SnapshotPresent
	book.LastUpdateID = snap.UpdateID
	book.Status = ingestmodel.BookOK
	book.SequenceBroken = false
	a.lastMeta[k] = snap.Meta
	a.mu.Unlock()

	a.recompute(snap.Symbol, snap.MarketType, snap.Meta.TsIngest)
}

func (a *LiquidityAggregator) onDelta(payload any) {
	delta, ok := payload.(ingestmodel.OrderbookL2Delta)
	if !ok {
		return
	}
	k := sourceBookKey{delta.Symbol, delta.MarketType, delta.StreamID}
	a.mu.Lock()
	book := a.bookFor(k)
	ingestmodel.ApplyLevels(book.Bids, delta.Bids)
	ingestmodel.ApplyLevels(book.Asks, delta.Asks)
	book.LastUpdateID = delta.LastUpdateID
	book.PrevUpdateID = delta.PrevUpdateID
	a.lastMeta[k] = delta.Meta
	a.mu.Unlock()

	a.recompute(delta.Symbol, delta.MarketType, delta.Meta.TsIngest)
}

func (a *LiquidityAggregator) onResync(payload any) {
	m, ok := payload.(map[string]any)
	if !ok {
		return
	}
	symbolName, _ := m["symbol"].(string)
	streamID, _ := m["streamId"].(ingestmodel.StreamID)
	a.mu.Lock()
	for k, book := range a.books {
		if k.Symbol == symbolName && k.StreamID == streamID {
			book.Status = ingestmodel.BookResyncing
			book.SequenceBroken = true
		}
	}
	a.mu.Unlock()
}

func (a *LiquidityAggregator) onDisconnected(payload any) {
	venue, ok := payload.(string)
	if !ok {
		return
	}
	a.mu.Lock()
	for k, book := range a.books {
		if string(k.StreamID) != "" && venueOf(k.StreamID) == venue {
			book.Reset()
		}
	}
	a.mu.Unlock()
}

// venueOf extracts the leading "<venue>." token a streamId always starts
// with (e.g. "binance.futures" -> "binance").
func venueOf(streamID ingestmodel.StreamID) string {
	s := string(streamID)
	for i, r := range s {
		if r == '.' {
			return s[:i]
		}
	}
	return s
}

func status(book *ingestmodel.OrderbookState) (ingestmodel.VenueLiquidityStatus, bool) {
	if book.Snapshot != ingestmodel.SnapshotPresent || len(book.Bids) == 0 || len(book.Asks) == 0 {
		return ingestmodel.VenueLiquidityStatus{}, false
	}
	bids := sortedPrices(book.Bids, true)
	asks := sortedPrices(book.Asks, false)
	if len(bids) == 0 || len(asks) == 0 {
		return ingestmodel.VenueLiquidityStatus{}, false
	}
	bestBid, bestAsk := bids[0], asks[0]
	depthBid := sumTop(book.Bids, bids, liquidityDepthLevels)
	depthAsk := sumTop(book.Asks, asks, liquidityDepthLevels)
	var imbalance float64
	if depthBid+depthAsk > 0 {
		imbalance = (depthBid - depthAsk) / (depthBid + depthAsk)
	}
	return ingestmodel.VenueLiquidityStatus{
		BestBid: bestBid, BestAsk: bestAsk, Spread: bestAsk - bestBid,
		DepthBid: depthBid, DepthAsk: depthAsk, Imbalance: imbalance,
		MidPrice: (bestBid + bestAsk) / 2, SequenceBroken: book.SequenceBroken,
	}, true
}

func sortedPrices(side map[float64]float64, descending bool) []float64 {
	out := make([]float64, 0, len(side))
	for p := range side {
		out = append(out, p)
	}
	if descending {
		sort.Sort(sort.Reverse(sort.Float64Slice(out)))
	} else {
		sort.Float64s(out)
	}
	return out
}

func sumTop(side map[float64]float64, prices []float64, n int) float64 {
	var sum float64
	for i := 0; i < n && i < len(prices); i++ {
		sum += side[prices[i]]
	}
	return sum
}

func (a *LiquidityAggregator) recompute(symbolName string, mt ingestmodel.MarketType, nowTs int64) {
	bucketMs := a.policy.TTLMs["liquidity_agg"]
	if bucketMs <= 0 {
		bucketMs = 5_000
	}
	start := symbol.BucketStart(nowTs, bucketMs)
	pk := priceKey{symbolName, mt}

	a.mu.Lock()
	prevStart, hadBucket := a.bucketStart[pk]
	a.bucketStart[pk] = start
	bucketChanged := hadBucket && prevStart != start
	a.mu.Unlock()
	_ = bucketChanged // bucket boundary crossing doesn't gate emission here;
	// liquidity is republished on every book update within the bucket, with
	// BucketStart/BucketEnd reflecting the window the snapshot belongs to.

	a.mu.Lock()
	venueStatus := make(map[ingestmodel.StreamID]ingestmodel.VenueLiquidityStatus)
	var samples []SourceSample
	var lastMeta ingestmodel.EventMeta
	for k, book := range a.books {
		if k.Symbol != symbolName || k.MarketType != mt {
			continue
		}
		st, ok := status(book)
		if !ok {
			continue
		}
		venueStatus[k.StreamID] = st
		samples = append(samples, SourceSample{StreamID: k.StreamID, Ts: nowTs, Value: st.MidPrice})
		if meta, ok := a.lastMeta[k]; ok {
			lastMeta = meta
		}
	}
	a.mu.Unlock()

	if len(samples) < a.policy.MinSamples {
		a.reg.Suppress(symbolName, mt, ingestmodel.MetricLiquidity, ingestmodel.ReasonStaleInput)
		return
	}

	mean, weights := WeightedMean(samples, a.policy.WeightByStream)
	mismatch := DetectMismatch(samples)
	for _, s := range samples {
		a.reg.MarkUsed(symbolName, mt, ingestmodel.MetricLiquidity, string(s.StreamID), s.Ts)
	}

	// A stream currently RESYNCING surfaces as qualityFlags.sequenceBroken
	// on the emitted event and feeds the confidence sequenceBroken penalty,
	// LiquidityAggregator contract.
	var sequenceBroken bool
	for _, st := range venueStatus {
		if st.SequenceBroken {
			sequenceBroken = true
			break
		}
	}

	var bestBid, bestAsk, spread, depthBid, depthAsk, imbalance float64
	var sumW float64
	for id, st := range venueStatus {
		w := weights[id]
		bestBid += w * st.BestBid
		bestAsk += w * st.BestAsk
		spread += w * st.Spread
		depthBid += w * st.DepthBid
		depthAsk += w * st.DepthAsk
		imbalance += w * st.Imbalance
		sumW += w
	}
	if sumW > 0 {
		bestBid /= sumW
		bestAsk /= sumW
		spread /= sumW
		depthBid /= sumW
		depthAsk /= sumW
		imbalance /= sumW
	}

	base := BuildBase(symbolName, mt, nowTs, samples, weights, mismatch, false, sequenceBroken, false, nil, nil, confidence.TrustContextTrade, lastMeta)
	a.reg.MarkAggEmitted(symbolName, mt, ingestmodel.MetricLiquidity, nowTs)

	a.bus.Publish(eventbus.TopicLiquidityAgg, ingestmodel.LiquidityAgg{
		AggregateBase: base,
		BestBid:       bestBid, BestAsk: bestAsk, Spread: spread,
		DepthBid: depthBid, DepthAsk: depthAsk, Imbalance: imbalance, MidPrice: mean,
		BucketStart: start, BucketEnd: start + bucketMs,
		VenueStatus: venueStatus,
	})
}
