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
)

type oiSample struct {
	StreamID ingestmodel.StreamID
	Ts       int64
	Value    float64
	Unit     ingestmodel.OIUnit
	Meta     ingestmodel.EventMeta
}

type priceSnapshot struct {
	Ts              int64
	ConfidenceScore float64
	Value           float64
}

// OpenInterestAggregator consolidates market:oi into market:oi_agg. Venues
// report OI in different units (contracts, base asset, USD); rather than
// average across incompatible units, the dominant unit group (the one with
// the most fresh sources) is weighted-averaged and the rest are excluded
// from that round rule.
type OpenInterestAggregator struct {
	bus    *eventbus.Bus
	clk    clock.Clock
	reg    *registry.Registry
	policy config.Policy

	mu      sync.Mutex
	samples map[priceKey]map[ingestmodel.StreamID]oiSample
	lastPx  map[priceKey]priceSnapshot
}

func NewOpenInterestAggregator(bus *eventbus.Bus, clk clock.Clock, reg *registry.Registry, policy config.Policy) *OpenInterestAggregator {
	return &OpenInterestAggregator{
		bus: bus, clk: clk, reg: reg, policy: policy,
		samples: make(map[priceKey]map[ingestmodel.StreamID]oiSample),
		lastPx:  make(map[priceKey]priceSnapshot),
	}
}

func (a *OpenInterestAggregator) Start() {
	a.bus.Subscribe(eventbus.TopicOI, a.onOI)
	a.bus.Subscribe(eventbus.TopicPriceCanonical, a.onPrice)
}

func (a *OpenInterestAggregator) onPrice(payload any) {
	p, ok := payload.(ingestmodel.CanonicalPriceAgg)
	if !ok {
		return
	}
	a.mu.Lock()
	a.lastPx[priceKey{p.Symbol, p.MarketType}] = priceSnapshot{Ts: p.Ts, ConfidenceScore: p.ConfidenceScore, Value: p.Price}
	a.mu.Unlock()
}

func (a *OpenInterestAggregator) onOI(payload any) {
	o, ok := payload.(ingestmodel.OpenInterest)
	if !ok {
		return
	}
	k := priceKey{o.Symbol, o.MarketType}
	a.mu.Lock()
	bySource, ok := a.samples[k]
	if !ok {
		bySource = make(map[ingestmodel.StreamID]oiSample)
		a.samples[k] = bySource
	}
	if prev, exists := bySource[o.StreamID]; exists && o.Meta.TsEvent < prev.Ts {
		a.mu.Unlock()
		return
	}
	bySource[o.StreamID] = oiSample{StreamID: o.StreamID, Ts: o.Meta.TsEvent, Value: o.Value, Unit: o.Unit, Meta: o.Meta}
	a.mu.Unlock()

	a.recompute(o.Symbol, o.MarketType)
}

func (a *OpenInterestAggregator) recompute(symbol string, mt ingestmodel.MarketType) {
	ttl := a.policy.TTLMs["oi_agg"]
	now := a.clk.NowMs()

	a.mu.Lock()
	all := make([]oiSample, 0, len(a.samples[priceKey{symbol, mt}]))
	for _, s := range a.samples[priceKey{symbol, mt}] {
		all = append(all, s)
	}
	lastPx, havePx := a.lastPx[priceKey{symbol, mt}]
	a.mu.Unlock()

	byUnit := make(map[ingestmodel.OIUnit][]oiSample)
	var stale []ingestmodel.StreamID
	for _, s := range all {
		if now-s.Ts <= ttl {
			byUnit[s.Unit] = append(byUnit[s.Unit], s)
		} else {
			stale = append(stale, s.StreamID)
		}
	}

	// Dominant group = largest fresh count, tie-broken lexicographically by
	// unit — iterate units in sorted order so map iteration
	// order never decides a tie.
	units := make([]string, 0, len(byUnit))
	for u := range byUnit {
		units = append(units, string(u))
	}
	sort.Strings(units)
	var dominant []oiSample
	var dominantUnit ingestmodel.OIUnit
	for _, u := range units {
		group := byUnit[ingestmodel.OIUnit(u)]
		if len(group) > len(dominant) {
			dominant = group
			dominantUnit = ingestmodel.OIUnit(u)
		}
	}
	if len(dominant) < a.policy.MinSamples {
		a.reg.Suppress(symbol, mt, ingestmodel.MetricDerivatives, ingestmodel.ReasonStaleInput)
		return
	}
	consistentUnits := len(byUnit) == 1

	used := make([]SourceSample, len(dominant))
	var lastMeta ingestmodel.EventMeta
	unit := dominantUnit
	for i, s := range dominant {
		used[i] = SourceSample{StreamID: s.StreamID, Ts: s.Ts, Value: s.Value, Meta: s.Meta}
		lastMeta = s.Meta
	}

	mean, weights := WeightedMean(used, a.policy.WeightByStream)
	mismatch := DetectMismatch(used)
	for _, s := range used {
		a.reg.MarkUsed(symbol, mt, ingestmodel.MetricDerivatives, string(s.StreamID), s.Ts)
	}

	base := BuildBase(symbol, mt, now, used, weights, mismatch, false, false, false, nil, stale, confidence.TrustContextTrade, lastMeta)
	if base.QualityFlags == nil {
		base.QualityFlags = make(map[string]bool)
	}
	base.QualityFlags["consistentUnits"] = consistentUnits
	a.reg.MarkAggEmitted(symbol, mt, ingestmodel.MetricDerivatives, now)

	agg := ingestmodel.OIAgg{AggregateBase: base, Value: mean, Unit: unit}
	if unit == ingestmodel.OIUnitBase && havePx &&
		now-lastPx.Ts <= a.policy.CanonicalTTLMs &&
		lastPx.ConfidenceScore >= a.policy.CanonicalMinConfidence {
		usd := mean * lastPx.Value
		agg.OpenInterestValueUsd = &usd
	}
	a.bus.Publish(eventbus.TopicOIAgg, agg)
}
