// Package confidence implements the pure, versioned confidence score
// and the source-trust adjustment table. Nothing here
// touches a clock, a network, or global state — every function is a pure
// transform of its inputs, which is what makes invariant 4 in 
// ("computeConfidenceScore is invariant under input key order") trivial to
// satisfy: struct fields have no order to begin with.
package confidence

import "sort"

// FormulaVersion identifies the confidence formula revision implemented
// here. There has only ever been v1.
const FormulaVersion = "v1"

// Inputs mirrors ConfidenceInputs exactly. All fields besides
// FreshSourcesCount are optional; a nil pointer means "not observed",
// distinct from a zero value.
type Inputs struct {
	FreshSourcesCount       int
	ExpectedSources         *int
	StaleSourcesDroppedCount *int
	MismatchDetected        bool
	GapDetected             bool
	SequenceBroken          bool
	LagDetected             bool
	OutlierDetected         bool
	FallbackPenalty         *float64
	SourcePenalty           *float64
	SourceCap               *float64
}

// PenaltyStep records one multiplicative factor applied while computing a
// score, in application order — useful for debugging and for the
// data:confidence re-derivation the QualityMonitor performs.
type PenaltyStep struct {
	Name   string
	Factor float64
}

// Result is the output of Score: the final clamped score and the ordered
// trace of every penalty applied.
type Result struct {
	Score   float64
	Version string
	Trace   []PenaltyStep
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Score computes the confidence score for in fixed
// penalty order: mismatch -> gap -> sequenceBroken -> lag -> outlier ->
// fallbackPenalty -> sourcePenalty -> sourceCap.
func Score(in Inputs) Result {
	var base float64
	switch {
	case in.ExpectedSources != nil && *in.ExpectedSources > 0:
		base = clamp01(float64(in.FreshSourcesCount) / float64(*in.ExpectedSources))
	case in.StaleSourcesDroppedCount != nil:
		total := in.FreshSourcesCount + *in.StaleSourcesDroppedCount
		if total > 0 {
			base = clamp01(float64(in.FreshSourcesCount) / float64(total))
		}
	default:
		base = 0
	}

	score := base
	trace := []PenaltyStep{{Name: "base", Factor: base}}

	apply := func(name string, cond bool, factor float64) {
		if !cond {
			return
		}
		score *= factor
		trace = append(trace, PenaltyStep{Name: name, Factor: factor})
	}

	apply("mismatchDetected", in.MismatchDetected, 0.5)
	apply("gapDetected", in.GapDetected, 0.7)
	apply("sequenceBroken", in.SequenceBroken, 0.5)
	apply("lagDetected", in.LagDetected, 0.8)
	apply("outlierDetected", in.OutlierDetected, 0.8)

	if in.FallbackPenalty != nil {
		apply("fallbackPenalty", true, clamp01(*in.FallbackPenalty))
	}
	if in.SourcePenalty != nil {
		apply("sourcePenalty", true, clamp01(*in.SourcePenalty))
	}

	score = clamp01(score)

	if in.SourceCap != nil {
		cap := clamp01(*in.SourceCap)
		if score > cap {
			score = cap
		}
		trace = append(trace, PenaltyStep{Name: "sourceCap", Factor: cap})
	}

	return Result{Score: clamp01(score), Version: FormulaVersion, Trace: trace}
}

// SortedTraceNames returns the applied-step names in the order recorded —
// a convenience for tests asserting the fixed penalty order held.
func SortedTraceNames(r Result) []string {
	names := make([]string, len(r.Trace))
	for i, s := range r.Trace {
		names[i] = s.Name
	}
	return names
}

// sortedReasons is a small helper kept distinct from sort.Strings so the
// intent at call sites (ensuring invariant 7's sorted reasons) reads
// clearly.
func sortedReasons(reasons []string) []string {
	out := append([]string(nil), reasons...)
	sort.Strings(out)
	return out
}
