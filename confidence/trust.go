package confidence

import "regexp"

// TrustContext scopes a trust rule to a category of aggregate.
type TrustContext string

const (
	TrustContextLiquidation TrustContext = "liquidation"
	TrustContextTrade       TrustContext = "trade"
)

// TrustRule is one row of the compile-time trust table: a context plus a
// streamId pattern, and the penalty/cap/reason it contributes when matched.
// A zero Penalty/Cap means "no adjustment" (treated as 1.0, the identity).
type TrustRule struct {
	Context TrustContext
	Pattern *regexp.Regexp
	Penalty float64 // 0 means unset -> treated as 1.0
	Cap     float64 // 0 means unset -> treated as 1.0
	Reason  string
}

// DefaultTrustRules are the compile-time defaults for the venues this
// module ships adapters for. config.Policy carries no trust settings, so
// this table is not overridden at runtime.
var DefaultTrustRules = []TrustRule{
	{
		Context: TrustContextLiquidation,
		Pattern: regexp.MustCompile(`^okx\.`),
		Penalty: 0.9,
		Reason:  "OKX_LIQUIDATIONS_LIMITED",
	},
	{
		Context: TrustContextLiquidation,
		Pattern: regexp.MustCompile(`^bybit\.`),
		Cap:     0.7,
		Reason:  "BYBIT_BANKRUPTCY_PRICE",
	},
}

// TrustAdjustments is the composed result of matching every rule that
// applies to a set of streamIds in a given context.
type TrustAdjustments struct {
	SourcePenalty float64
	SourceCap     float64
	Reasons       []string
}

// GetSourceTrustAdjustments composes every DefaultTrustRules entry (plus
// any extra rules supplied) whose Context matches and whose Pattern matches
// at least one streamId: penalties multiply, caps take
// the minimum, and reasons are returned sorted ascending. The result is
// invariant under the order of streamIds (invariant 7 in ).
func GetSourceTrustAdjustments(context TrustContext, streamIDs []string, extra ...TrustRule) TrustAdjustments {
	rules := append(append([]TrustRule(nil), DefaultTrustRules...), extra...)

	penalty := 1.0
	cap := 1.0
	var reasons []string

	for _, rule := range rules {
		if rule.Context != context {
			continue
		}
		matched := false
		for _, sid := range streamIDs {
			if rule.Pattern.MatchString(sid) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		if rule.Penalty != 0 {
			penalty *= rule.Penalty
		}
		if rule.Cap != 0 && rule.Cap < cap {
			cap = rule.Cap
		}
		if rule.Reason != "" {
			reasons = append(reasons, rule.Reason)
		}
	}

	return TrustAdjustments{
		SourcePenalty: penalty,
		SourceCap:     cap,
		Reasons:       sortedReasons(reasons),
	}
}
