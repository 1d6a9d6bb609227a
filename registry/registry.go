// Package registry implements the SourceRegistry: the process-wide
// observability ledger of expected, used, and suppressed sources
//. It is a singleton by convention — New constructs an
// independent instance so tests never share state with production wiring.
package registry

import (
	"sort"
	"sync"

	"github.com/aspenmd/ingestd/ingestmodel"
)

// SuppressionReason mirrors ingestmodel.SuppressionReason; re-exported here
// so callers that only need the registry don't have to import ingestmodel.
type SuppressionReason = ingestmodel.SuppressionReason

// Metric and Feed mirror ingestmodel's enums.
type Metric = ingestmodel.Metric
type Feed = ingestmodel.Feed

type metricKey struct {
	Symbol     string
	MarketType ingestmodel.MarketType
	Metric     Metric
}

type feedKey struct {
	Symbol     string
	MarketType ingestmodel.MarketType
	Feed       Feed
}

type metricEntry struct {
	expected map[string]struct{}
	used     map[string]struct{}
	lastTs   int64
	suppress map[SuppressionReason]int
}

type feedEntry struct {
	expected      map[string]struct{}
	used          map[string]struct{}
	lastTs        int64
	lastObserved  map[string]int64 // streamId -> last observed raw ts
	nonMonotonic  map[string]struct{}
}

// Registry is the SourceRegistry. All mutating methods are safe for
// concurrent use, though in production the dispatcher only ever calls them
// from the single-threaded event bus.
type Registry struct {
	mu      sync.Mutex
	metrics map[metricKey]*metricEntry
	feeds   map[feedKey]*feedEntry
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{
		metrics: make(map[metricKey]*metricEntry),
		feeds:   make(map[feedKey]*feedEntry),
	}
}

func (r *Registry) metricEntryFor(symbol string, mt ingestmodel.MarketType, metric Metric) *metricEntry {
	k := metricKey{symbol, mt, metric}
	e, ok := r.metrics[k]
	if !ok {
		e = &metricEntry{
			expected: make(map[string]struct{}),
			used:     make(map[string]struct{}),
			suppress: make(map[SuppressionReason]int),
		}
		r.metrics[k] = e
	}
	return e
}

func (r *Registry) feedEntryFor(symbol string, mt ingestmodel.MarketType, feed Feed) *feedEntry {
	k := feedKey{symbol, mt, feed}
	e, ok := r.feeds[k]
	if !ok {
		e = &feedEntry{
			expected:     make(map[string]struct{}),
			used:         make(map[string]struct{}),
			lastObserved: make(map[string]int64),
			nonMonotonic: make(map[string]struct{}),
		}
		r.feeds[k] = e
	}
	return e
}

// ExpectSource declares a streamId as an expected contributor for a metric.
// VenueClients call this once per subscription, before any data arrives.
func (r *Registry) ExpectSource(symbol string, mt ingestmodel.MarketType, metric Metric, streamID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metricEntryFor(symbol, mt, metric).expected[streamID] = struct{}{}
}

// ExpectFeed declares a streamId as an expected contributor for a feed.
func (r *Registry) ExpectFeed(symbol string, mt ingestmodel.MarketType, feed Feed, streamID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.feedEntryFor(symbol, mt, feed).expected[streamID] = struct{}{}
}

// MarkUsed records that streamId actually contributed to an aggregate for
// metric at the given aggregate ts.
func (r *Registry) MarkUsed(symbol string, mt ingestmodel.MarketType, metric Metric, streamID string, ts int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.metricEntryFor(symbol, mt, metric)
	e.used[streamID] = struct{}{}
	if ts > e.lastTs {
		e.lastTs = ts
	}
}

// MarkAggEmitted records the emission ts for a metric regardless of which
// sources contributed —  step 7.
func (r *Registry) MarkAggEmitted(symbol string, mt ingestmodel.MarketType, metric Metric, ts int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.metricEntryFor(symbol, mt, metric)
	if ts > e.lastTs {
		e.lastTs = ts
	}
}

// Suppress increments the suppression counter for reason on a metric key.
func (r *Registry) Suppress(symbol string, mt ingestmodel.MarketType, metric Metric, reason SuppressionReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.metricEntryFor(symbol, mt, metric)
	e.suppress[reason]++
}

// ObserveFeedSample records a raw sample's ts for a feed/stream, flagging
// the stream non-monotonic () if ts regresses. Klines are
// excluded by callers — they legitimately re-emit on bucket close.
func (r *Registry) ObserveFeedSample(symbol string, mt ingestmodel.MarketType, feed Feed, streamID string, ts int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.feedEntryFor(symbol, mt, feed)
	e.used[streamID] = struct{}{}
	if last, ok := e.lastObserved[streamID]; ok && ts < last {
		e.nonMonotonic[streamID] = struct{}{}
	}
	if ts > e.lastObserved[streamID] {
		e.lastObserved[streamID] = ts
	}
	if ts > e.lastTs {
		e.lastTs = ts
	}
}

// MetricSnapshot is one entry of Snapshot's deterministic output.
type MetricSnapshot struct {
	Metric        Metric           `json:"metric"`
	Expected      []string         `json:"expected"`
	Used          []string         `json:"used"`
	LastEmittedTs int64            `json:"lastEmittedTs"`
	Suppressions  map[string]int   `json:"suppressions"`
}

// FeedSnapshot is one entry of Snapshot's deterministic output.
type FeedSnapshot struct {
	Feed         Feed     `json:"feed"`
	Expected     []string `json:"expected"`
	Used         []string `json:"used"`
	LastTs       int64    `json:"lastTs"`
	NonMonotonic []string `json:"nonMonotonic"`
}

// Snapshot is the deterministic structure returned by Registry.Snapshot.
type Snapshot struct {
	NowTs      int64            `json:"nowTs"`
	Symbol     string           `json:"symbol"`
	MarketType ingestmodel.MarketType `json:"marketType"`
	Metrics    []MetricSnapshot `json:"metrics"`
	Feeds      []FeedSnapshot   `json:"feeds"`
}

func sortedSet(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Snapshot returns a deterministic (sorted) view of every metric and feed
// tracked for (symbol, marketType)
func (r *Registry) Snapshot(nowTs int64, symbol string, mt ingestmodel.MarketType) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := Snapshot{NowTs: nowTs, Symbol: symbol, MarketType: mt}

	metricKeys := make([]metricKey, 0)
	for k := range r.metrics {
		if k.Symbol == symbol && k.MarketType == mt {
			metricKeys = append(metricKeys, k)
		}
	}
	sort.Slice(metricKeys, func(i, j int) bool { return metricKeys[i].Metric < metricKeys[j].Metric })
	for _, k := range metricKeys {
		e := r.metrics[k]
		suppress := make(map[string]int, len(e.suppress))
		for reason, n := range e.suppress {
			suppress[string(reason)] = n
		}
		snap.Metrics = append(snap.Metrics, MetricSnapshot{
			Metric:        k.Metric,
			Expected:      sortedSet(e.expected),
			Used:          sortedSet(e.used),
			LastEmittedTs: e.lastTs,
			Suppressions:  suppress,
		})
	}

	feedKeys := make([]feedKey, 0)
	for k := range r.feeds {
		if k.Symbol == symbol && k.MarketType == mt {
			feedKeys = append(feedKeys, k)
		}
	}
	sort.Slice(feedKeys, func(i, j int) bool { return feedKeys[i].Feed < feedKeys[j].Feed })
	for _, k := range feedKeys {
		e := r.feeds[k]
		nonMono := make([]string, 0, len(e.nonMonotonic))
		for s := range e.nonMonotonic {
			nonMono = append(nonMono, s)
		}
		sort.Strings(nonMono)
		snap.Feeds = append(snap.Feeds, FeedSnapshot{
			Feed:         k.Feed,
			Expected:     sortedSet(e.expected),
			Used:         sortedSet(e.used),
			LastTs:       e.lastTs,
			NonMonotonic: nonMono,
		})
	}

	return snap
}
