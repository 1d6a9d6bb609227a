package ingestmodel

import "sort"

// AggregateBase is the envelope every venue-consolidated event shares.
// VenueBreakdown/WeightsUsed are keyed by StreamID; because encoding/json
// sorts map keys on marshal, and SourcesUsed/StaleSourcesDropped are always
// stored pre-sorted (see SortStreamIDs), every field here serialises in a
// deterministic, byte-stable order without further effort.
type AggregateBase struct {
	Symbol              string             `json:"symbol"`
	Ts                  int64              `json:"ts"`
	MarketType          MarketType         `json:"marketType"`
	VenueBreakdown      map[StreamID]float64 `json:"venueBreakdown"`
	SourcesUsed         []StreamID         `json:"sourcesUsed"`
	WeightsUsed         map[StreamID]float64 `json:"weightsUsed"`
	FreshSourcesCount   int                `json:"freshSourcesCount"`
	StaleSourcesDropped []StreamID         `json:"staleSourcesDropped"`
	MismatchDetected    bool               `json:"mismatchDetected"`
	ConfidenceScore     float64            `json:"confidenceScore"`
	QualityFlags        map[string]bool    `json:"qualityFlags,omitempty"`
	Provider            string             `json:"provider"`
	Meta                EventMeta          `json:"meta"`
}

// SortStreamIDs sorts a slice of StreamID ascending in place and returns it.
func SortStreamIDs(ids []StreamID) []StreamID {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Valid reports whether sourcesUsed is non-empty, sorted ascending,
// duplicate-free, and every entry keys VenueBreakdown and WeightsUsed.
func (a AggregateBase) Valid() bool {
	if len(a.SourcesUsed) == 0 {
		return false
	}
	seen := make(map[StreamID]struct{}, len(a.SourcesUsed))
	for i, id := range a.SourcesUsed {
		if i > 0 && a.SourcesUsed[i-1] >= id {
			return false
		}
		if _, dup := seen[id]; dup {
			return false
		}
		seen[id] = struct{}{}
		if _, ok := a.VenueBreakdown[id]; !ok {
			return false
		}
		if _, ok := a.WeightsUsed[id]; !ok {
			return false
		}
	}
	return true
}

// CanonicalPriceAgg is the priority-selected (index > mark > last) venue
// price consolidation.
type CanonicalPriceAgg struct {
	AggregateBase
	Price          float64 `json:"price"`
	PriceTypeUsed  string  `json:"priceTypeUsed"`
	FallbackReason string  `json:"fallbackReason,omitempty"`
}

// PriceIndexAgg is the plain weighted consolidation of reported index prices.
type PriceIndexAgg struct {
	AggregateBase
	Price float64 `json:"price"`
}

// FundingAgg is the weighted consolidation of venue funding rates.
type FundingAgg struct {
	AggregateBase
	Rate float64 `json:"rate"`
}

// OIAgg is the dominant-unit-group open interest consolidation.
type OIAgg struct {
	AggregateBase
	Value               float64  `json:"value"`
	Unit                OIUnit   `json:"unit"`
	OpenInterestValueUsd *float64 `json:"openInterestValueUsd,omitempty"`
}

// LiquidationAgg is one bucket-closed consolidation of forced liquidations.
type LiquidationAgg struct {
	AggregateBase
	Unit         string `json:"unit"`
	Total        float64 `json:"total"`
	Count        int     `json:"count"`
	BucketStart  int64   `json:"bucketStartTs"`
	BucketEnd    int64   `json:"bucketEndTs"`
	BucketSizeMs int64   `json:"bucketSizeMs"`
}

// VenueLiquidityStatus is the per-stream snapshot folded into LiquidityAgg.
type VenueLiquidityStatus struct {
	BestBid         float64 `json:"bestBid"`
	BestAsk         float64 `json:"bestAsk"`
	Spread          float64 `json:"spread"`
	DepthBid        float64 `json:"depthBid"`
	DepthAsk        float64 `json:"depthAsk"`
	Imbalance       float64 `json:"imbalance"`
	MidPrice        float64 `json:"midPrice"`
	SequenceBroken  bool    `json:"sequenceBroken"`
}

// LiquidityAgg is one weighted order-book liquidity consolidation,
// published on each book update and tagged with its bucket window.
type LiquidityAgg struct {
	AggregateBase
	BestBid      float64                          `json:"bestBid"`
	BestAsk      float64                          `json:"bestAsk"`
	Spread       float64                          `json:"spread"`
	DepthBid     float64                          `json:"depthBid"`
	DepthAsk     float64                          `json:"depthAsk"`
	Imbalance    float64                          `json:"imbalance"`
	MidPrice     float64                          `json:"midPrice"`
	BucketStart  int64                            `json:"bucketStartTs"`
	BucketEnd    int64                            `json:"bucketEndTs"`
	VenueStatus  map[StreamID]VenueLiquidityStatus `json:"venueStatus"`
}

// CvdAgg is the cross-venue weighted consolidation of CVD buckets, plus the
// mismatch-v1 diagnostic.
type CvdAgg struct {
	AggregateBase
	CvdDelta          float64 `json:"cvdDelta"`
	CvdTotal          float64 `json:"cvdTotal"`
	BucketStart       int64   `json:"bucketStartTs"`
	BucketEnd         int64   `json:"bucketEndTs"`
	BucketSizeMs      int64   `json:"bucketSizeMs"`
	MismatchType      string  `json:"mismatchType,omitempty"`
	ConfidencePenalty float64 `json:"confidencePenalty,omitempty"`
}
