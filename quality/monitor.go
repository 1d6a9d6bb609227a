// Package quality implements QualityMonitor: it watches every aggregated
// event (plus raw OI) for staleness and cross-venue mismatch,
// flags/unflags degraded keys, republishes a re-derived confidence score
// per aggregate, and owns the system:market_data_status heartbeat.
package quality

import (
	"sort"
	"sync"
	"time"

	"github.com/aspenmd/ingestd/clock"
	"github.com/aspenmd/ingestd/config"
	"github.com/aspenmd/ingestd/confidence"
	"github.com/aspenmd/ingestd/eventbus"
	"github.com/aspenmd/ingestd/ingestmodel"
	"github.com/aspenmd/ingestd/logx"
	"github.com/aspenmd/ingestd/metrics"
)

// StaleEvent is published on data:stale.
type StaleEvent struct {
	Topic       string               `json:"topic"`
	Symbol      string               `json:"symbol"`
	MarketType  ingestmodel.MarketType `json:"marketType"`
	LastTs      int64                `json:"lastTs"`
	NowTs       int64                `json:"nowTs"`
	ThresholdMs int64                `json:"thresholdMs"`
}

// MismatchEvent is published on data:mismatch.
type MismatchEvent struct {
	Topic          string                             `json:"topic"`
	Symbol         string                             `json:"symbol"`
	MarketType     ingestmodel.MarketType             `json:"marketType"`
	Min            float64                            `json:"min"`
	Max            float64                            `json:"max"`
	Baseline       float64                            `json:"baseline"`
	Ratio          float64                            `json:"ratio"`
	Mode           string                             `json:"mode"` // "absolute" | "relative"
	VenueBreakdown map[ingestmodel.StreamID]float64   `json:"venueBreakdown"`
}

// SuppressedDiagnostic is published in place of a MismatchEvent when a
// comparison can't be made safely (e.g. OI unit groups don't line up).
type SuppressedDiagnostic struct {
	Topic      string                 `json:"topic"`
	Symbol     string                 `json:"symbol"`
	MarketType ingestmodel.MarketType `json:"marketType"`
	Reason     string                 `json:"reason"`
}

// RecoveredEvent is published on data:sourceRecovered.
type RecoveredEvent struct {
	Topic       string                 `json:"topic"`
	Symbol      string                 `json:"symbol"`
	MarketType  ingestmodel.MarketType `json:"marketType"`
	LastErrorTs int64                  `json:"lastErrorTs"`
	NowTs       int64                  `json:"nowTs"`
}

// ConfidenceEvent is published on data:confidence: the score re-derived
// purely from the aggregate's own qualityFlags/freshSourcesCount/
// staleSourcesDropped fields, independent of the aggregator's internal
// state.
type ConfidenceEvent struct {
	Topic   string                 `json:"topic"`
	Symbol  string                 `json:"symbol"`
	Score   float64                `json:"score"`
	Version string                 `json:"version"`
	Trace   []confidence.PenaltyStep `json:"trace"`
}

// StatusEvent is published periodically on system:market_data_status.
type StatusEvent struct {
	NowTs        int64           `json:"nowTs"`
	VenuesAlive  map[string]bool `json:"venuesAlive"`
	DegradedKeys []string        `json:"degradedKeys"`
}

// Liveness is the minimal surface a venue client exposes for the
// system:market_data_status heartbeat (venue.Client satisfies it without
// this package importing venue).
type Liveness interface {
	IsAlive() bool
}

type keyState struct {
	lastTs         int64
	firstTs        int64
	sampleCount    int
	degraded       bool
	degradedReason string
	mismatchSince  int64
	lastErrorTs    int64
	lastLoggedTs   int64
}

type aggregateMeta struct {
	topicName    string
	expectedMsKey string
}

var aggregateTopics = map[eventbus.Topic]aggregateMeta{
	eventbus.TopicPriceCanonical:  {"market:price_canonical", "price_canonical"},
	eventbus.TopicPriceIndex:      {"market:price_index", "price_index"},
	eventbus.TopicFundingAgg:      {"market:funding_agg", "funding_agg"},
	eventbus.TopicOIAgg:           {"market:oi_agg", "oi_agg"},
	eventbus.TopicLiquidationsAgg: {"market:liquidations_agg", "liquidations_agg"},
	eventbus.TopicLiquidityAgg:    {"market:liquidity_agg", "liquidity_agg"},
	eventbus.TopicCvdSpotAgg:      {"market:cvd_spot_agg", "cvd_agg"},
	eventbus.TopicCvdFuturesAgg:   {"market:cvd_futures_agg", "cvd_agg"},
}

// Monitor is the QualityMonitor singleton. New constructs an independent
// instance; production wiring keeps exactly one.
type Monitor struct {
	bus    *eventbus.Bus
	clk    clock.Clock
	policy config.Policy

	mu     sync.Mutex
	states map[string]*keyState

	venuesMu sync.Mutex
	venues   map[string]Liveness

	stop chan struct{}
	wg   sync.WaitGroup
}

// New constructs a Monitor. Call Start to subscribe and begin the
// heartbeat loop.
func New(bus *eventbus.Bus, clk clock.Clock, policy config.Policy) *Monitor {
	return &Monitor{
		bus:    bus,
		clk:    clk,
		policy: policy,
		states: make(map[string]*keyState),
		venues: make(map[string]Liveness),
		stop:   make(chan struct{}),
	}
}

// RegisterVenue adds a venue connection to the system:market_data_status
// heartbeat roll call, keyed by a human label (e.g. "binance", "okx").
func (m *Monitor) RegisterVenue(label string, v Liveness) {
	m.venuesMu.Lock()
	defer m.venuesMu.Unlock()
	m.venues[label] = v
}

// Start subscribes to every aggregate topic plus raw OI, and starts the
// status heartbeat loop.
func (m *Monitor) Start() {
	for topic, meta := range aggregateTopics {
		t, mt := topic, meta
		m.bus.Subscribe(t, func(payload any) { m.onAggregate(string(t), mt.expectedMsKey, payload) })
	}
	m.bus.Subscribe(eventbus.TopicOIRaw, m.onRawOI)

	m.wg.Add(1)
	go m.heartbeatLoop()
}

// Stop halts the heartbeat loop.
func (m *Monitor) Stop() {
	close(m.stop)
	m.wg.Wait()
}

func (m *Monitor) heartbeatLoop() {
	defer m.wg.Done()
	interval := time.Duration(m.policy.StatusIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 15 * time.Second
	}
	for {
		select {
		case <-m.stop:
			return
		case <-m.clk.After(interval):
			m.publishStatus()
		}
	}
}

func (m *Monitor) publishStatus() {
	m.venuesMu.Lock()
	alive := make(map[string]bool, len(m.venues))
	for label, v := range m.venues {
		alive[label] = v.IsAlive()
	}
	m.venuesMu.Unlock()

	m.mu.Lock()
	var degraded []string
	for key, st := range m.states {
		if st.degraded {
			degraded = append(degraded, key)
		}
	}
	m.mu.Unlock()
	sort.Strings(degraded)

	m.bus.Publish(eventbus.TopicSystemMarketDataStatus, StatusEvent{
		NowTs:        m.clk.NowMs(),
		VenuesAlive:  alive,
		DegradedKeys: degraded,
	})
}

func stateKey(topic, symbol string, mt ingestmodel.MarketType) string {
	return topic + "|" + symbol + "|" + string(mt)
}

func (m *Monitor) stateFor(key string) *keyState {
	st, ok := m.states[key]
	if !ok {
		st = &keyState{firstTs: m.clk.NowMs()}
		m.states[key] = st
	}
	return st
}

// onAggregate handles every *_agg topic uniformly: staleness check (using
// the aggregate's own AggregateBase.Ts), mismatch check over VenueBreakdown
// (OI gets its own variant with a separate threshold and suppressed
// reasons), confidence re-derivation, and
// recovery transition.
func (m *Monitor) onAggregate(topic, ttlKey string, payload any) {
	base, ok := extractBase(payload)
	if !ok {
		return
	}

	key := stateKey(topic, base.Symbol, base.MarketType)
	now := m.clk.NowMs()

	m.mu.Lock()
	st := m.stateFor(key)
	st.sampleCount++
	st.lastTs = base.Ts

	expectedMs := m.policy.TTLMs[ttlKey]
	threshold := m.policy.StaleThreshold(expectedMs).Milliseconds()
	startupGraceElapsed := now-st.firstTs >= m.policy.StartupGraceMs
	minSamplesReached := st.sampleCount >= m.policy.MinSamples

	wasDegraded := st.degraded
	stale := false
	if startupGraceElapsed && minSamplesReached && expectedMs > 0 && now-st.lastTs > threshold {
		stale = true
		if !wasDegraded {
			metrics.QualityDegradedTotal.WithLabelValues(topic, "stale").Inc()
		}
		st.degraded = true
		st.degradedReason = "stale"
		st.lastErrorTs = now
		m.throttledLog(st, now, func() {
			logx.Component("quality").Warn().Str("topic", topic).Str("symbol", base.Symbol).
				Int64("lastTs", st.lastTs).Int64("nowTs", now).Msg("data stale")
		})
	}

	mismatch, suppressedReason := m.evaluateMismatch(topic, base, now, st)

	if !stale && !mismatch {
		if wasDegraded {
			m.bus.Publish(eventbus.TopicDataSourceRecovered, RecoveredEvent{
				Topic: topic, Symbol: base.Symbol, MarketType: base.MarketType,
				LastErrorTs: st.lastErrorTs, NowTs: now,
			})
		}
		st.degraded = false
		st.degradedReason = ""
	}
	m.mu.Unlock()

	if stale {
		m.bus.Publish(eventbus.TopicDataStale, StaleEvent{
			Topic: topic, Symbol: base.Symbol, MarketType: base.MarketType,
			LastTs: st.lastTs, NowTs: now, ThresholdMs: threshold,
		})
	}
	if suppressedReason != "" {
		m.bus.Publish(eventbus.TopicDataMismatch, SuppressedDiagnostic{
			Topic: topic, Symbol: base.Symbol, MarketType: base.MarketType, Reason: suppressedReason,
		})
	}

	m.publishConfidence(topic, base)
}

// evaluateMismatch runs the non-OI generic dispersion check, or the
// OI-specific unit-aware variant for market:oi_agg. Must be called with
// m.mu held; st is mutated in place.
func (m *Monitor) evaluateMismatch(topic string, base ingestmodel.AggregateBase, now int64, st *keyState) (mismatchFired bool, suppressedReason string) {
	if topic == "market:oi_agg" {
		return m.evaluateOIMismatch(base, now, st)
	}

	min, max, baseline, ok := dispersionMinMax(base.VenueBreakdown)
	if !ok {
		st.mismatchSince = 0
		return false, ""
	}

	ratio, mode := mismatchRatio(min, max, baseline, m.policy.MismatchBaselineEpsilon)
	if ratio <= m.policy.MismatchRatioThreshold {
		st.mismatchSince = 0
		return false, ""
	}

	if st.mismatchSince == 0 {
		st.mismatchSince = now
	}
	if now-st.mismatchSince < m.policy.MismatchWindowMs {
		return false, ""
	}

	if !st.degraded {
		metrics.QualityDegradedTotal.WithLabelValues(topic, "mismatch").Inc()
	}
	st.degraded = true
	st.degradedReason = "mismatch"
	st.lastErrorTs = now
	m.throttledLog(st, now, func() {
		logx.Component("quality").Warn().Str("topic", topic).Str("symbol", base.Symbol).
			Float64("ratio", ratio).Msg("venue mismatch detected")
	})

	m.bus.Publish(eventbus.TopicDataMismatch, MismatchEvent{
		Topic: topic, Symbol: base.Symbol, MarketType: base.MarketType,
		Min: min, Max: max, Baseline: baseline, Ratio: ratio, Mode: mode,
		VenueBreakdown: base.VenueBreakdown,
	})
	return true, ""
}

// evaluateOIMismatch runs the OI mismatch check over the aggregate's
// VenueBreakdown: with fewer than two venues, or fewer than two positive
// finite values, it returns a suppressed reason instead of a mismatch;
// otherwise it compares every positive value. It does not look at units:
// the aggregate's Unit is not consulted, contracts-unit breakdowns are
// compared like any other, and there is no USD-over-base preference.
func (m *Monitor) evaluateOIMismatch(base ingestmodel.AggregateBase, now int64, st *keyState) (bool, string) {
	if len(base.VenueBreakdown) < 2 {
		st.mismatchSince = 0
		return false, "OI_INSUFFICIENT_COMPARABLE_VENUES"
	}

	min, max, baseline, ok := dispersionMinMax(base.VenueBreakdown)
	if !ok {
		st.mismatchSince = 0
		return false, "OI_NO_COMPARABLE_UNIT_GROUP"
	}

	ratio, mode := mismatchRatio(min, max, baseline, m.policy.MismatchBaselineEpsilon)
	if ratio <= m.policy.OIMismatchRatioThreshold {
		st.mismatchSince = 0
		return false, ""
	}
	if st.mismatchSince == 0 {
		st.mismatchSince = now
	}
	if now-st.mismatchSince < m.policy.MismatchWindowMs {
		return false, ""
	}

	st.degraded = true
	st.degradedReason = "mismatch"
	st.lastErrorTs = now

	m.bus.Publish(eventbus.TopicDataMismatch, MismatchEvent{
		Topic: "market:oi_agg", Symbol: base.Symbol, MarketType: base.MarketType,
		Min: min, Max: max, Baseline: baseline, Ratio: ratio, Mode: mode,
		VenueBreakdown: base.VenueBreakdown,
	})
	return true, ""
}

// dispersionMinMax returns (min, max, baseline) over finite positive values
// in breakdown, requiring at least 2 qualifying entries. baseline is the
// mean of the qualifying values — the aggregate's own consolidated center,
// not a single venue's reading.
func dispersionMinMax(breakdown map[ingestmodel.StreamID]float64) (min, max, baseline float64, ok bool) {
	var values []float64
	for _, v := range breakdown {
		if v > 0 && !isInfOrNaN(v) {
			values = append(values, v)
		}
	}
	if len(values) < 2 {
		return 0, 0, 0, false
	}
	min, max = values[0], values[0]
	var sum float64
	for _, v := range values {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		sum += v
	}
	return min, max, sum / float64(len(values)), true
}

func isInfOrNaN(v float64) bool {
	return v != v || v > 1e308 || v < -1e308
}

func mismatchRatio(min, max, baseline, epsilon float64) (ratio float64, mode string) {
	diff := max - min
	absBaseline := baseline
	if absBaseline < 0 {
		absBaseline = -absBaseline
	}
	if absBaseline < epsilon {
		return diff, "absolute"
	}
	return diff / absBaseline, "relative"
}

// throttledLog calls fn if logThrottleMs has elapsed since the last log for
// st. Must be called with m.mu held.
func (m *Monitor) throttledLog(st *keyState, now int64, fn func()) {
	if now-st.lastLoggedTs < m.policy.LogThrottleMs {
		return
	}
	st.lastLoggedTs = now
	fn()
}

// publishConfidence re-derives a confidence score from base's own
// qualityFlags/freshSourcesCount/staleSourcesDropped — independent of
// whatever internal state the aggregator used — and republishes it on
// data:confidence last bullet.
func (m *Monitor) publishConfidence(topic string, base ingestmodel.AggregateBase) {
	staleCount := len(base.StaleSourcesDropped)
	in := confidence.Inputs{
		FreshSourcesCount:        base.FreshSourcesCount,
		StaleSourcesDroppedCount: &staleCount,
		MismatchDetected:         base.QualityFlags["mismatchDetected"],
		GapDetected:              base.QualityFlags["gapDetected"],
		SequenceBroken:           base.QualityFlags["sequenceBroken"],
		LagDetected:              base.QualityFlags["lagDetected"],
		OutlierDetected:          base.QualityFlags["outlierDetected"],
	}
	result := confidence.Score(in)
	m.bus.Publish(eventbus.TopicDataConfidence, ConfidenceEvent{
		Topic: topic, Symbol: base.Symbol, Score: result.Score, Version: result.Version, Trace: result.Trace,
	})
}

// onRawOI tracks per-stream staleness of the raw OI feed independent of the
// oi_agg aggregate —  subscribes to "every aggregated event and
// raw OI" explicitly, since a single venue's OI feed can go stale without
// the aggregate itself (fed by other venues) showing it.
func (m *Monitor) onRawOI(payload any) {
	raw, ok := payload.(ingestmodel.OpenInterestRaw)
	if !ok {
		return
	}
	key := stateKey("market:oi_raw/"+string(raw.StreamID), raw.Symbol, raw.MarketType)
	now := m.clk.NowMs()

	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.stateFor(key)
	st.sampleCount++
	st.lastTs = raw.Meta.TsIngest

	expectedMs := m.policy.TTLMs["oi_agg"]
	threshold := m.policy.StaleThreshold(expectedMs).Milliseconds()
	if now-st.firstTs < m.policy.StartupGraceMs || st.sampleCount < m.policy.MinSamples || expectedMs <= 0 {
		return
	}
	if now-st.lastTs <= threshold {
		if st.degraded {
			m.bus.Publish(eventbus.TopicDataSourceRecovered, RecoveredEvent{
				Topic: "market:oi_raw", Symbol: raw.Symbol, MarketType: raw.MarketType,
				LastErrorTs: st.lastErrorTs, NowTs: now,
			})
		}
		st.degraded = false
		return
	}

	st.degraded = true
	st.degradedReason = "stale"
	st.lastErrorTs = now
	m.throttledLog(st, now, func() {
		logx.Component("quality").Warn().Str("streamId", string(raw.StreamID)).Str("symbol", raw.Symbol).Msg("raw OI feed stale")
	})
	m.bus.Publish(eventbus.TopicDataStale, StaleEvent{
		Topic: "market:oi_raw", Symbol: raw.Symbol, MarketType: raw.MarketType,
		LastTs: st.lastTs, NowTs: now, ThresholdMs: threshold,
	})
}

// extractBase pulls the shared AggregateBase out of any *_agg payload type.
func extractBase(payload any) (ingestmodel.AggregateBase, bool) {
	switch v := payload.(type) {
	case ingestmodel.CanonicalPriceAgg:
		return v.AggregateBase, true
	case ingestmodel.PriceIndexAgg:
		return v.AggregateBase, true
	case ingestmodel.FundingAgg:
		return v.AggregateBase, true
	case ingestmodel.OIAgg:
		return v.AggregateBase, true
	case ingestmodel.LiquidationAgg:
		return v.AggregateBase, true
	case ingestmodel.LiquidityAgg:
		return v.AggregateBase, true
	case ingestmodel.CvdAgg:
		return v.AggregateBase, true
	default:
		return ingestmodel.AggregateBase{}, false
	}
}
