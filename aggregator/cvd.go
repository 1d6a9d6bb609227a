package aggregator

import (
	"math"
	"sort"
	"sync"

	"github.com/aspenmd/ingestd/clock"
	"github.com/aspenmd/ingestd/config"
	"github.com/aspenmd/ingestd/confidence"
	"github.com/aspenmd/ingestd/eventbus"
	"github.com/aspenmd/ingestd/ingestmodel"
	"github.com/aspenmd/ingestd/registry"
)

type cvdSample struct {
	StreamID     ingestmodel.StreamID
	Ts           int64
	Delta        float64
	Total        float64
	BucketStart  int64
	BucketEnd    int64
	BucketSizeMs int64
	Meta         ingestmodel.EventMeta
}

// cvdScale is each stream's EWMA of |cvdDelta| magnitude, used to bring
// venues with very different trading volume onto a comparable scale before
// checking sign agreement and dispersion across them.
type cvdScale struct {
	ewma float64
	init bool
}

// CvdAggregator cross-venue consolidates per-stream cvd.Calculator output
// into a bucket-closed market:cvd_*_agg event. Mismatch detection here
// ("mismatch-v1") is deliberately richer than the scalar aggregators'
// Dispersion check: venues disagreeing on the *sign* of flow (one shows net
// buying, another net selling) is a stronger signal than magnitude spread
// alone, so sign agreement is scored independently and both penalties are
// folded into VenueBreakdown/QualityFlags via BuildBase's mismatch flag.
type CvdAggregator struct {
	bus    *eventbus.Bus
	clk    clock.Clock
	reg    *registry.Registry
	policy config.Policy

	mu      sync.Mutex
	latest  map[priceKey]map[ingestmodel.StreamID]cvdSample
	scales  map[ingestmodel.StreamID]*cvdScale
	spot    bool
}

func newCvdAggregator(bus *eventbus.Bus, clk clock.Clock, reg *registry.Registry, policy config.Policy, spot bool) *CvdAggregator {
	return &CvdAggregator{
		bus: bus, clk: clk, reg: reg, policy: policy, spot: spot,
		latest: make(map[priceKey]map[ingestmodel.StreamID]cvdSample),
		scales: make(map[ingestmodel.StreamID]*cvdScale),
	}
}

// NewCvdSpotAggregator consolidates market:cvd_spot into market:cvd_spot_agg.
func NewCvdSpotAggregator(bus *eventbus.Bus, clk clock.Clock, reg *registry.Registry, policy config.Policy) *CvdAggregator {
	return newCvdAggregator(bus, clk, reg, policy, true)
}

// NewCvdFuturesAggregator consolidates market:cvd_futures into
// market:cvd_futures_agg.
func NewCvdFuturesAggregator(bus *eventbus.Bus, clk clock.Clock, reg *registry.Registry, policy config.Policy) *CvdAggregator {
	return newCvdAggregator(bus, clk, reg, policy, false)
}

func (a *CvdAggregator) Start() {
	if a.spot {
		a.bus.Subscribe(eventbus.TopicCvdSpot, a.onCvd)
	} else {
		a.bus.Subscribe(eventbus.TopicCvdFutures, a.onCvd)
	}
}

func (a *CvdAggregator) onCvd(payload any) {
	c, ok := payload.(ingestmodel.Cvd)
	if !ok {
		return
	}
	k := priceKey{c.Symbol, c.MarketType}

	a.mu.Lock()
	bySource, ok := a.latest[k]
	if !ok {
		bySource = make(map[ingestmodel.StreamID]cvdSample)
		a.latest[k] = bySource
	}
	bySource[c.StreamID] = cvdSample{
		StreamID: c.StreamID, Ts: c.Meta.TsEvent, Delta: c.CvdDelta, Total: c.CvdTotal,
		BucketStart: c.BucketStart, BucketEnd: c.BucketEnd, BucketSizeMs: c.BucketSizeMs, Meta: c.Meta,
	}

	scale, ok := a.scales[c.StreamID]
	if !ok {
		scale = &cvdScale{}
		a.scales[c.StreamID] = scale
	}
	abs := math.Abs(c.CvdDelta)
	alpha := a.policy.CvdEwmaAlpha
	if !scale.init {
		scale.ewma = abs
		scale.init = true
	} else {
		scale.ewma = alpha*abs + (1-alpha)*scale.ewma
	}
	a.mu.Unlock()

	a.recompute(c.Symbol, c.MarketType, c.Meta)
}

func (a *CvdAggregator) recompute(symbolName string, mt ingestmodel.MarketType, meta ingestmodel.EventMeta) {
	ttl := a.policy.TTLMs["cvd_agg"]
	now := a.clk.NowMs()

	a.mu.Lock()
	bySource := a.latest[priceKey{symbolName, mt}]
	var samples []SourceSample
	var totalSamples []SourceSample
	var stale []ingestmodel.StreamID
	scaled := make(map[ingestmodel.StreamID]float64)
	var bucketStart, bucketEnd, bucketSizeMs int64
	var freshEwmas []float64
	for _, s := range bySource {
		if now-s.Ts > ttl {
			stale = append(stale, s.StreamID)
			continue
		}
		samples = append(samples, SourceSample{StreamID: s.StreamID, Ts: s.Ts, Value: s.Delta, Meta: s.Meta})
		totalSamples = append(totalSamples, SourceSample{StreamID: s.StreamID, Ts: s.Ts, Value: s.Total, Meta: s.Meta})
		bucketStart, bucketEnd, bucketSizeMs = s.BucketStart, s.BucketEnd, s.BucketSizeMs
		if scale := a.scales[s.StreamID]; scale != nil && scale.ewma > 0 {
			freshEwmas = append(freshEwmas, scale.ewma)
		}
	}
	medianEwma := medianOf(freshEwmas)
	for _, s := range samples {
		scale := a.scales[s.StreamID]
		ratio := 1.0
		if scale != nil && scale.ewma > 0 && medianEwma > 0 {
			ratio = clampScale(medianEwma/scale.ewma, a.policy.CvdMinScale, a.policy.CvdMaxScale)
		}
		scaled[s.StreamID] = s.Value * ratio
	}
	a.mu.Unlock()

	if len(samples) < a.policy.MinSamples {
		a.reg.Suppress(symbolName, mt, ingestmodel.MetricFlow, ingestmodel.ReasonStaleInput)
		return
	}

	mean, weights := WeightedMean(samples, a.policy.WeightByStream)
	totalMean, _ := WeightedMean(totalSamples, a.policy.WeightByStream)
	mismatchType, confidencePenalty := evaluateCvdMismatchV1(scaled, a.policy)
	mismatch := mismatchType != ""

	for _, s := range samples {
		a.reg.MarkUsed(symbolName, mt, ingestmodel.MetricFlow, string(s.StreamID), s.Ts)
	}

	fallback := confidencePenalty
	base := BuildBaseWithFallback(symbolName, mt, now, samples, weights, mismatch, false, false, false, nil, stale, confidence.TrustContextTrade, meta, &fallback)
	if mismatchType != "" {
		base.QualityFlags["CVD_MISMATCH_"+mismatchType] = true
	}
	a.reg.MarkAggEmitted(symbolName, mt, ingestmodel.MetricFlow, now)

	topic := eventbus.TopicCvdSpotAgg
	if !a.spot {
		topic = eventbus.TopicCvdFuturesAgg
	}
	a.bus.Publish(topic, ingestmodel.CvdAgg{
		AggregateBase: base, CvdDelta: mean, CvdTotal: totalMean,
		BucketStart: bucketStart, BucketEnd: bucketEnd, BucketSizeMs: bucketSizeMs,
		MismatchType: mismatchType, ConfidencePenalty: confidencePenalty,
	})
}

// evaluateCvdMismatchV1 is the mismatch-v1 detector: scaled per-venue
// deltas are first checked for sign agreement, then — only when sign
// agreement holds or too few venues clear the noise floor to judge sign —
// for robust (median/MAD) dispersion.
// Returns the mismatch type ("SIGN"/"DISPERSION"/"") and the confidence
// multiplier to fold in as a fallbackPenalty-shaped factor.
func evaluateCvdMismatchV1(scaled map[ingestmodel.StreamID]float64, policy config.Policy) (mismatchType string, confidencePenalty float64) {
	vals := make([]float64, 0, len(scaled))
	for _, v := range scaled {
		vals = append(vals, v)
	}

	var cleared []float64
	var pos, neg int
	for _, v := range vals {
		if math.Abs(v) < policy.CvdMinAbsScaled {
			continue
		}
		cleared = append(cleared, v)
		if v > 0 {
			pos++
		} else if v < 0 {
			neg++
		}
	}

	if len(cleared) >= 2 {
		majority := pos
		if neg > majority {
			majority = neg
		}
		agreement := float64(majority) / float64(len(cleared))
		if agreement < policy.CvdSignAgreementThreshold {
			return "SIGN", policy.CvdPenaltySign
		}
	}

	median := medianOf(vals)
	mad := medianAbsoluteDeviation(vals, median)
	var maxAbsZ float64
	if mad > 0 {
		for _, v := range vals {
			z := math.Abs(v-median) / mad
			if z > maxAbsZ {
				maxAbsZ = z
			}
		}
	}
	var ratio float64
	absMedian := math.Abs(median)
	if absMedian > policy.MismatchBaselineEpsilon {
		var maxAbs float64
		for _, v := range vals {
			a := math.Abs(v)
			if a > maxAbs {
				maxAbs = a
			}
		}
		ratio = maxAbs / absMedian
	}

	if maxAbsZ >= policy.CvdZThresh || ratio >= policy.CvdRatioThresh {
		severity := severityFraction(maxAbsZ, policy.CvdZThresh, policy.CvdZMax, ratio, policy.CvdRatioThresh, policy.CvdRatioMax)
		penalty := 1 - severity*(1-policy.CvdPenaltyDispersion)
		return "DISPERSION", penalty
	}

	return "", 1.0
}

// severityFraction interpolates how far past whichever threshold (z-score
// or ratio) was actually tripped the observation sits, clamped to [0,1].
func severityFraction(maxAbsZ, zThresh, zMax, ratio, ratioThresh, ratioMax float64) float64 {
	var sevZ, sevRatio float64
	if zMax > zThresh {
		sevZ = (maxAbsZ - zThresh) / (zMax - zThresh)
	}
	if ratioMax > ratioThresh {
		sevRatio = (ratio - ratioThresh) / (ratioMax - ratioThresh)
	}
	sev := sevZ
	if sevRatio > sev {
		sev = sevRatio
	}
	if sev < 0 {
		sev = 0
	}
	if sev > 1 {
		sev = 1
	}
	return sev
}

func medianOf(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

func medianAbsoluteDeviation(vals []float64, median float64) float64 {
	devs := make([]float64, len(vals))
	for i, v := range vals {
		devs[i] = math.Abs(v - median)
	}
	return medianOf(devs)
}

func clampScale(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

