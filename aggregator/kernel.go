// Package aggregator implements venue-consolidation kernel:
// a TTL-windowed, weighted, deterministic merge of each metric's latest
// per-venue samples into one CanonicalPrice/PriceIndex/Funding/OI/
// Liquidation/Liquidity/Cvd aggregate event. Every aggregator here shares
// the same Store/WeightedMean/BuildBase building blocks so the weighting,
// staleness, and confidence-scoring rules stay identical across metrics;
// only the per-metric value extraction and aggregate shape differ.
package aggregator

import (
	"sort"
	"sync"

	"github.com/aspenmd/ingestd/confidence"
	"github.com/aspenmd/ingestd/ingestmodel"
)

// SourceSample is one venue's latest observation of a scalar metric.
type SourceSample struct {
	StreamID ingestmodel.StreamID
	Ts       int64
	Value    float64
	Meta     ingestmodel.EventMeta
}

type storeKey struct {
	Symbol     string
	MarketType ingestmodel.MarketType
}

// Store holds the latest sample per (symbol, marketType, streamId) for one
// metric. Each aggregator owns its own Store instance.
type Store struct {
	mu     sync.Mutex
	latest map[storeKey]map[ingestmodel.StreamID]SourceSample
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{latest: make(map[storeKey]map[ingestmodel.StreamID]SourceSample)}
}

// Record replaces the latest sample for (symbol, marketType, streamId).
// Samples only ever move forward: an out-of-order (older ts) sample is
// dropped rather than regressing the stored value.
func (s *Store) Record(symbol string, mt ingestmodel.MarketType, streamID ingestmodel.StreamID, ts int64, value float64, meta ingestmodel.EventMeta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := storeKey{symbol, mt}
	bySource, ok := s.latest[k]
	if !ok {
		bySource = make(map[ingestmodel.StreamID]SourceSample)
		s.latest[k] = bySource
	}
	if prev, exists := bySource[streamID]; exists && ts < prev.Ts {
		return
	}
	bySource[streamID] = SourceSample{StreamID: streamID, Ts: ts, Value: value, Meta: meta}
}

// Fresh returns every sample for (symbol, marketType) whose ts is within
// ttlMs of nowMs, sorted by StreamID, plus the sorted list of streamIds
// dropped for being stale.
func (s *Store) Fresh(symbol string, mt ingestmodel.MarketType, nowMs int64, ttlMs int64) (fresh []SourceSample, stale []ingestmodel.StreamID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bySource := s.latest[storeKey{symbol, mt}]
	for streamID, sample := range bySource {
		if nowMs-sample.Ts <= ttlMs {
			fresh = append(fresh, sample)
		} else {
			stale = append(stale, streamID)
		}
	}
	sort.Slice(fresh, func(i, j int) bool { return fresh[i].StreamID < fresh[j].StreamID })
	sort.Slice(stale, func(i, j int) bool { return stale[i] < stale[j] })
	return fresh, stale
}

// WeightedMean computes the weight-normalised mean of samples, defaulting
// any streamId absent from weights to a weight of 1.0, and returns the
// per-stream weight map actually used (keyed the same way VenueBreakdown
// is, so callers can attach both to the same AggregateBase).
func WeightedMean(samples []SourceSample, weightByStream map[string]float64) (mean float64, weights map[ingestmodel.StreamID]float64) {
	weights = make(map[ingestmodel.StreamID]float64, len(samples))
	var sumW, sumWV float64
	for _, s := range samples {
		w := 1.0
		if weightByStream != nil {
			if v, ok := weightByStream[string(s.StreamID)]; ok {
				w = v
			}
		}
		weights[s.StreamID] = w
		sumW += w
		sumWV += w * s.Value
	}
	if sumW == 0 {
		return 0, weights
	}
	return sumWV / sumW, weights
}

// DetectMismatch implements  item 5's scalar-aggregate
// mismatch rule exactly: (max-min)/min >= 0.1, with min taken over the
// sample values and only evaluated when min > 0 (a non-positive baseline
// can't carry a meaningful relative comparison, so it never flags a
// mismatch here — that case is the quality monitor's absolute-diff
// fallback instead).
func DetectMismatch(samples []SourceSample) bool {
	if len(samples) < 2 {
		return false
	}
	min, max := samples[0].Value, samples[0].Value
	for _, s := range samples[1:] {
		if s.Value < min {
			min = s.Value
		}
		if s.Value > max {
			max = s.Value
		}
	}
	if min <= 0 {
		return false
	}
	return (max-min)/min >= 0.1
}

// BuildBase assembles the AggregateBase fields every aggregate shares:
// venueBreakdown/weightsUsed/sourcesUsed (sorted, invariant-3 compliant),
// freshSourcesCount, staleSourcesDropped, mismatchDetected, and the
// confidence score derived via confidence.Score plus the source-trust
// adjustment table.
func BuildBase(symbol string, mt ingestmodel.MarketType, ts int64, samples []SourceSample, weights map[ingestmodel.StreamID]float64, mismatch bool, gap bool, sequenceBroken bool, lag bool, expectedSources *int, staleDropped []ingestmodel.StreamID, trustContext confidence.TrustContext, meta ingestmodel.EventMeta) ingestmodel.AggregateBase {
	return buildBase(symbol, mt, ts, samples, weights, mismatch, gap, sequenceBroken, lag, expectedSources, staleDropped, trustContext, meta, nil)
}

// BuildBaseWithFallback is BuildBase plus the fallbackPenalty multiplicative
// factor CanonicalPriceAggregator applies (1.0 for index,
// 0.85 for mark, 0.60 for last) — a separate entry point so every other
// aggregator's call sites stay untouched.
func BuildBaseWithFallback(symbol string, mt ingestmodel.MarketType, ts int64, samples []SourceSample, weights map[ingestmodel.StreamID]float64, mismatch bool, gap bool, sequenceBroken bool, lag bool, expectedSources *int, staleDropped []ingestmodel.StreamID, trustContext confidence.TrustContext, meta ingestmodel.EventMeta, fallbackPenalty *float64) ingestmodel.AggregateBase {
	return buildBase(symbol, mt, ts, samples, weights, mismatch, gap, sequenceBroken, lag, expectedSources, staleDropped, trustContext, meta, fallbackPenalty)
}

func buildBase(symbol string, mt ingestmodel.MarketType, ts int64, samples []SourceSample, weights map[ingestmodel.StreamID]float64, mismatch bool, gap bool, sequenceBroken bool, lag bool, expectedSources *int, staleDropped []ingestmodel.StreamID, trustContext confidence.TrustContext, meta ingestmodel.EventMeta, fallbackPenalty *float64) ingestmodel.AggregateBase {
	venueBreakdown := make(map[ingestmodel.StreamID]float64, len(samples))
	sourcesUsed := make([]ingestmodel.StreamID, 0, len(samples))
	streamIDStrs := make([]string, 0, len(samples))
	for _, s := range samples {
		venueBreakdown[s.StreamID] = s.Value
		sourcesUsed = append(sourcesUsed, s.StreamID)
		streamIDStrs = append(streamIDStrs, string(s.StreamID))
	}
	ingestmodel.SortStreamIDs(sourcesUsed)

	staleCount := len(staleDropped)
	trust := confidence.GetSourceTrustAdjustments(trustContext, streamIDStrs)

	in := confidence.Inputs{
		FreshSourcesCount:        len(samples),
		ExpectedSources:          expectedSources,
		StaleSourcesDroppedCount: &staleCount,
		MismatchDetected:         mismatch,
		GapDetected:              gap,
		SequenceBroken:           sequenceBroken,
		LagDetected:              lag,
	}
	if trust.SourcePenalty != 1.0 {
		p := trust.SourcePenalty
		in.SourcePenalty = &p
	}
	if trust.SourceCap != 1.0 {
		c := trust.SourceCap
		in.SourceCap = &c
	}
	if fallbackPenalty != nil {
		in.FallbackPenalty = fallbackPenalty
	}
	result := confidence.Score(in)

	// qualityFlags carries every boolean confidence.Score consulted, so
	// QualityMonitor can re-derive the score later purely from this map
	// without
	// reaching back into the aggregator's internal state.
	qualityFlags := map[string]bool{
		"mismatchDetected": mismatch,
		"gapDetected":      gap,
		"sequenceBroken":   sequenceBroken,
		"lagDetected":      lag,
	}
	for _, r := range trust.Reasons {
		qualityFlags[r] = true
	}

	return ingestmodel.AggregateBase{
		Symbol:              symbol,
		Ts:                  ts,
		MarketType:          mt,
		VenueBreakdown:      venueBreakdown,
		SourcesUsed:         sourcesUsed,
		WeightsUsed:         weights,
		FreshSourcesCount:   len(samples),
		StaleSourcesDropped: ingestmodel.SortStreamIDs(append([]ingestmodel.StreamID(nil), staleDropped...)),
		MismatchDetected:    mismatch,
		ConfidenceScore:     result.Score,
		QualityFlags:        qualityFlags,
		Provider:            "ingestd",
		Meta:                meta,
	}
}
