package aggregator

import (
	"github.com/aspenmd/ingestd/clock"
	"github.com/aspenmd/ingestd/config"
	"github.com/aspenmd/ingestd/confidence"
	"github.com/aspenmd/ingestd/eventbus"
	"github.com/aspenmd/ingestd/ingestmodel"
	"github.com/aspenmd/ingestd/registry"
)

// FundingAggregator consolidates market:funding into market:funding_agg: a
// plain weighted mean of every fresh venue's funding rate.
type FundingAggregator struct {
	bus    *eventbus.Bus
	clk    clock.Clock
	reg    *registry.Registry
	policy config.Policy
	store  *Store
}

func NewFundingAggregator(bus *eventbus.Bus, clk clock.Clock, reg *registry.Registry, policy config.Policy) *FundingAggregator {
	return &FundingAggregator{bus: bus, clk: clk, reg: reg, policy: policy, store: NewStore()}
}

func (a *FundingAggregator) Start() {
	a.bus.Subscribe(eventbus.TopicFunding, a.onFunding)
}

func (a *FundingAggregator) onFunding(payload any) {
	f, ok := payload.(ingestmodel.Funding)
	if !ok {
		return
	}
	a.store.Record(f.Symbol, f.MarketType, f.StreamID, f.Meta.TsEvent, f.Rate, f.Meta)
	a.recompute(f.Symbol, f.MarketType, f.Meta)
}

func (a *FundingAggregator) recompute(symbol string, mt ingestmodel.MarketType, meta ingestmodel.EventMeta) {
	ttl := a.policy.TTLMs["funding_agg"]
	now := a.clk.NowMs()
	fresh, stale := a.store.Fresh(symbol, mt, now, ttl)
	if len(fresh) < a.policy.MinSamples {
		a.reg.Suppress(symbol, mt, ingestmodel.MetricDerivatives, ingestmodel.ReasonStaleInput)
		return
	}
	mean, weights := WeightedMean(fresh, a.policy.WeightByStream)
	mismatch := DetectMismatch(fresh)
	for _, s := range fresh {
		a.reg.MarkUsed(symbol, mt, ingestmodel.MetricDerivatives, string(s.StreamID), s.Ts)
	}
	base := BuildBase(symbol, mt, now, fresh, weights, mismatch, false, false, false, nil, stale, confidence.TrustContextTrade, meta)
	a.reg.MarkAggEmitted(symbol, mt, ingestmodel.MetricDerivatives, now)
	a.bus.Publish(eventbus.TopicFundingAgg, ingestmodel.FundingAgg{AggregateBase: base, Rate: mean})
}
