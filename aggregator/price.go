package aggregator

import (
	"sync"

	"github.com/aspenmd/ingestd/clock"
	"github.com/aspenmd/ingestd/config"
	"github.com/aspenmd/ingestd/confidence"
	"github.com/aspenmd/ingestd/eventbus"
	"github.com/aspenmd/ingestd/ingestmodel"
	"github.com/aspenmd/ingestd/registry"
)

// priceSample keeps all three price types a Ticker may carry, since
// CanonicalPriceAggregator's priority rule (index > mark > last) needs to
// fall back per-source, not just globally.
type priceSample struct {
	StreamID ingestmodel.StreamID
	Ts       int64
	Last     *float64
	Mark     *float64
	Index    *float64
	Meta     ingestmodel.EventMeta
}

// CanonicalPriceAggregator consolidates market:ticker into market:price_canonical,
//: pick the best-available price type across venues in
// priority order (index, then mark, then last), weighted-mean the sources
// that reported that type, and record the fallback reason when the
// preferred type wasn't usable.
type CanonicalPriceAggregator struct {
	bus    *eventbus.Bus
	clk    clock.Clock
	reg    *registry.Registry
	policy config.Policy

	mu      sync.Mutex
	samples map[priceKey]map[ingestmodel.StreamID]priceSample
}

type priceKey struct {
	Symbol     string
	MarketType ingestmodel.MarketType
}

func NewCanonicalPriceAggregator(bus *eventbus.Bus, clk clock.Clock, reg *registry.Registry, policy config.Policy) *CanonicalPriceAggregator {
	return &CanonicalPriceAggregator{
		bus: bus, clk: clk, reg: reg, policy: policy,
		samples: make(map[priceKey]map[ingestmodel.StreamID]priceSample),
	}
}

func (a *CanonicalPriceAggregator) Start() {
	a.bus.Subscribe(eventbus.TopicTicker, a.onTicker)
}

func (a *CanonicalPriceAggregator) onTicker(payload any) {
	t, ok := payload.(ingestmodel.Ticker)
	if !ok {
		return
	}
	k := priceKey{t.Symbol, t.MarketType}
	a.mu.Lock()
	bySource, ok := a.samples[k]
	if !ok {
		bySource = make(map[ingestmodel.StreamID]priceSample)
		a.samples[k] = bySource
	}
	prev, existed := bySource[t.StreamID]
	next := priceSample{StreamID: t.StreamID, Ts: t.Meta.TsEvent, Meta: t.Meta}
	if existed {
		next.Last, next.Mark, next.Index = prev.Last, prev.Mark, prev.Index
	}
	if t.LastPrice != nil {
		next.Last = t.LastPrice
	}
	if t.MarkPrice != nil {
		next.Mark = t.MarkPrice
	}
	if t.IndexPrice != nil {
		next.Index = t.IndexPrice
	}
	bySource[t.StreamID] = next
	a.mu.Unlock()

	a.recompute(t.Symbol, t.MarketType)
}

func (a *CanonicalPriceAggregator) recompute(symbol string, mt ingestmodel.MarketType) {
	ttl := a.policy.TTLMs["price_canonical"]
	now := a.clk.NowMs()

	a.mu.Lock()
	bySource := a.samples[priceKey{symbol, mt}]
	all := make([]priceSample, 0, len(bySource))
	for _, s := range bySource {
		all = append(all, s)
	}
	a.mu.Unlock()

	var fresh []priceSample
	var stale []ingestmodel.StreamID
	for _, s := range all {
		if now-s.Ts <= ttl {
			fresh = append(fresh, s)
		} else {
			stale = append(stale, s.StreamID)
		}
	}

	// Priority order is index > mark > last. fallbackReason
	// names why the preferred type(s) above the chosen one were demoted;
	// fallbackPenalty is the confidence multiplier for the chosen type.
	priceType, fallbackReason := "index", ""
	fallbackPenalty := 1.0
	extract := func(s priceSample) *float64 { return s.Index }
	countWithIndex := countNonNil(fresh, func(s priceSample) *float64 { return s.Index })
	countWithMark := countNonNil(fresh, func(s priceSample) *float64 { return s.Mark })
	countWithLast := countNonNil(fresh, func(s priceSample) *float64 { return s.Last })

	switch {
	case countWithIndex >= a.policy.MinSamples:
		priceType = "index"
		fallbackPenalty = 1.0
		extract = func(s priceSample) *float64 { return s.Index }
	case countWithMark >= a.policy.MinSamples:
		priceType = "mark"
		fallbackPenalty = 0.85
		if countWithIndex == 0 {
			fallbackReason = "NO_INDEX"
		} else {
			fallbackReason = "INDEX_STALE"
		}
		extract = func(s priceSample) *float64 { return s.Mark }
	case countWithLast >= a.policy.MinSamples:
		priceType = "last"
		fallbackPenalty = 0.60
		if countWithMark == 0 {
			fallbackReason = "NO_MARK"
		} else {
			fallbackReason = "MARK_STALE"
		}
		extract = func(s priceSample) *float64 { return s.Last }
	default:
		a.reg.Suppress(symbol, mt, ingestmodel.MetricPrice, ingestmodel.ReasonNoCanonicalPrice)
		return
	}

	var used []SourceSample
	var lastMeta ingestmodel.EventMeta
	for _, s := range fresh {
		v := extract(s)
		if v == nil {
			continue
		}
		used = append(used, SourceSample{StreamID: s.StreamID, Ts: s.Ts, Value: *v, Meta: s.Meta})
		lastMeta = s.Meta
	}
	if len(used) == 0 {
		a.reg.Suppress(symbol, mt, ingestmodel.MetricPrice, ingestmodel.ReasonNoCanonicalPrice)
		return
	}

	mean, weights := WeightedMean(used, a.policy.WeightByStream)
	mismatch := DetectMismatch(used)

	for _, s := range used {
		a.reg.MarkUsed(symbol, mt, ingestmodel.MetricPrice, string(s.StreamID), s.Ts)
	}

	base := BuildBaseWithFallback(symbol, mt, now, used, weights, mismatch, false, false, false, nil, stale, confidence.TrustContextTrade, lastMeta, &fallbackPenalty)
	a.reg.MarkAggEmitted(symbol, mt, ingestmodel.MetricPrice, now)

	a.bus.Publish(eventbus.TopicPriceCanonical, ingestmodel.CanonicalPriceAgg{
		AggregateBase: base, Price: mean, PriceTypeUsed: priceType, FallbackReason: fallbackReason,
	})
}

func countNonNil(samples []priceSample, get func(priceSample) *float64) int {
	n := 0
	for _, s := range samples {
		if get(s) != nil {
			n++
		}
	}
	return n
}

// PriceIndexAggregator consolidates every venue's reported index price
// (when present) into market:price_index via a plain weighted mean — no
// priority fallback, unlike CanonicalPriceAggregator.
type PriceIndexAggregator struct {
	bus    *eventbus.Bus
	clk    clock.Clock
	reg    *registry.Registry
	policy config.Policy
	store  *Store
}

func NewPriceIndexAggregator(bus *eventbus.Bus, clk clock.Clock, reg *registry.Registry, policy config.Policy) *PriceIndexAggregator {
	return &PriceIndexAggregator{bus: bus, clk: clk, reg: reg, policy: policy, store: NewStore()}
}

func (a *PriceIndexAggregator) Start() {
	a.bus.Subscribe(eventbus.TopicTicker, a.onTicker)
}

func (a *PriceIndexAggregator) onTicker(payload any) {
	t, ok := payload.(ingestmodel.Ticker)
	if !ok || t.IndexPrice == nil {
		return
	}
	a.store.Record(t.Symbol, t.MarketType, t.StreamID, t.Meta.TsEvent, *t.IndexPrice, t.Meta)
	a.recompute(t.Symbol, t.MarketType, t.Meta)
}

func (a *PriceIndexAggregator) recompute(symbol string, mt ingestmodel.MarketType, meta ingestmodel.EventMeta) {
	ttl := a.policy.TTLMs["price_index"]
	now := a.clk.NowMs()
	fresh, stale := a.store.Fresh(symbol, mt, now, ttl)
	if len(fresh) < a.policy.MinSamples {
		a.reg.Suppress(symbol, mt, ingestmodel.MetricPrice, ingestmodel.ReasonNoCanonicalPrice)
		return
	}
	mean, weights := WeightedMean(fresh, a.policy.WeightByStream)
	mismatch := DetectMismatch(fresh)
	for _, s := range fresh {
		a.reg.MarkUsed(symbol, mt, ingestmodel.MetricPrice, string(s.StreamID), s.Ts)
	}
	base := BuildBase(symbol, mt, now, fresh, weights, mismatch, false, false, false, nil, stale, confidence.TrustContextTrade, meta)
	a.reg.MarkAggEmitted(symbol, mt, ingestmodel.MetricPrice, now)
	a.bus.Publish(eventbus.TopicPriceIndex, ingestmodel.PriceIndexAgg{AggregateBase: base, Price: mean})
}
