package adapters

import (
	"math/big"
	"strconv"
)

// formatInt renders an int64 id as a string, matching the *_raw
// convention of keeping identifiers as exact strings.
func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}

// mulDecimalStrings multiplies two decimal strings at arbitrary precision
// and returns the product rendered in plain decimal form, used for deriving
// notionalUsd = price * size without the rounding a float64 parse would
// introduce on either operand.
func mulDecimalStrings(a, b string) (string, bool) {
	af, ok := new(big.Float).SetPrec(256).SetString(a)
	if !ok {
		return "", false
	}
	bf, ok := new(big.Float).SetPrec(256).SetString(b)
	if !ok {
		return "", false
	}
	product := new(big.Float).SetPrec(256).Mul(af, bf)
	return product.Text('f', -1), true
}

// parseDecimal parses a wire decimal string into a float64 for canonical
// (non-raw) events. Returns 0, false on parse failure.
func parseDecimal(s string) (float64, bool) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ParseDecimal is the exported form of parseDecimal, used by packages
// downstream of adapters (normalize, cvd, aggregator) that parse the same
// wire-exact decimal strings into float64.
func ParseDecimal(s string) (float64, bool) { return parseDecimal(s) }
