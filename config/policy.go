package config

import (
	"os"
	"strconv"
	"time"
)

// Policy holds every tunable the ingestion/aggregation pipeline consults at
// runtime: TTLs, weights, staleness thresholds, CVD mismatch-v1 tuning, and
// reconnection backoff. It layers environment overrides on top of
// compiled-in defaults (see DefaultPolicy, and LoadPolicy for the BOT_/OKX_
// env vars).
type Policy struct {
	// TTL per aggregate metric, milliseconds.
	TTLMs map[string]int64

	// Weight per streamId, used by the weighted-mean aggregator kernel.
	WeightByStream map[string]float64

	StaleMultiplier   float64
	LogThrottleMs     int64
	StartupGraceMs    int64
	MinSamples        int

	MismatchWindowMs       int64
	MismatchBaselineEpsilon float64
	MismatchRatioThreshold float64

	OIMismatchBaselineStrategy string // "bybit" or "median"
	OIMismatchRatioThreshold   float64

	// CanonicalTTLMs/CanonicalMinConfidence gate whether OpenInterestAggregator
	// may convert a base-unit OI figure to USD using the last canonical price
	// (: "if fresh ... and confidenceScore >= canonicalMinConfidence").
	CanonicalTTLMs         int64
	CanonicalMinConfidence float64

	StatusIntervalMs int64

	CvdBucketMs      int64
	CvdEwmaAlpha     float64
	CvdMinScale      float64
	CvdMaxScale      float64
	CvdMinAbsScaled  float64
	CvdSignAgreementThreshold float64
	CvdZThresh       float64
	CvdZMax          float64
	CvdRatioThresh   float64
	CvdRatioMax      float64
	CvdPenaltySign   float64
	CvdPenaltyDispersion float64

	ReconnectBaseMs    int64
	ReconnectMaxMs     int64
	BackoffResetMs     int64
	ReconnectJitterSeed string

	OKXEnableKlines       bool
	OKXResyncMinGapCount  int
	OKXResyncPendingMaxMs int64

	JournalDir          string
	JournalFlushIntervalMs int64
	JournalMaxBatchSize    int

	HistoryDBPath string

	CvdDebug bool
}

// DefaultPolicy returns the compiled-in defaults this module ships, prior
// to any environment override.
func DefaultPolicy() Policy {
	return Policy{
		TTLMs: map[string]int64{
			"price_canonical":  5_000,
			"price_index":      5_000,
			"funding_agg":      60_000,
			"oi_agg":           30_000,
			"liquidations_agg": 10_000,
			"liquidity_agg":    5_000,
			"cvd_agg":          60_000,
		},
		WeightByStream: map[string]float64{
			"binance.futures": 1.0,
			"binance.spot":    1.0,
			"okx.public.swap": 0.9,
			"okx.public.spot": 0.9,
			"bybit.public.linear.v5": 0.9,
			"bybit.public.spot.v5":   0.9,
			"hyperliquid.public.perp": 0.8,
		},
		StaleMultiplier: 3.0,
		LogThrottleMs:   30_000,
		StartupGraceMs:  10_000,
		MinSamples:      1,

		MismatchWindowMs:        5_000,
		MismatchBaselineEpsilon: 1e-8,
		MismatchRatioThreshold:  0.002,

		OIMismatchBaselineStrategy: "bybit",
		OIMismatchRatioThreshold:   0.01,

		CanonicalTTLMs:         5_000,
		CanonicalMinConfidence: 0.5,

		StatusIntervalMs: 15_000,

		CvdBucketMs:               60_000,
		CvdEwmaAlpha:              0.2,
		CvdMinScale:               0.25,
		CvdMaxScale:               4.0,
		CvdMinAbsScaled:           1e-6,
		CvdSignAgreementThreshold: 0.6,
		CvdZThresh:                3.5,
		CvdZMax:                   8.0,
		CvdRatioThresh:            3.0,
		CvdRatioMax:               8.0,
		CvdPenaltySign:            0.5,
		CvdPenaltyDispersion:      0.6,

		ReconnectBaseMs:     1_000,
		ReconnectMaxMs:      60_000,
		BackoffResetMs:      120_000,
		ReconnectJitterSeed: "ingestd",

		OKXEnableKlines:       true,
		OKXResyncMinGapCount:  1,
		OKXResyncPendingMaxMs: 5_000,

		JournalDir:             "./data/journal",
		JournalFlushIntervalMs: 1_000,
		JournalMaxBatchSize:    500,

		HistoryDBPath: "./data/history.sqlite",

		CvdDebug: false,
	}
}

func envString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// LoadPolicy layers the environment variables named in  on top of
// DefaultPolicy. Called once at startup, after LoadConfig.
func LoadPolicy() Policy {
	p := DefaultPolicy()
	p.JournalDir = envString("BOT_JOURNAL_DIR", p.JournalDir)
	p.HistoryDBPath = envString("BOT_HISTORY_DB_PATH", p.HistoryDBPath)
	p.CvdDebug = envBool("BOT_CVD_DEBUG", p.CvdDebug)
	p.OKXEnableKlines = envBool("OKX_ENABLE_KLINES", p.OKXEnableKlines)
	p.OKXResyncMinGapCount = envInt("OKX_RESYNC_MIN_GAP_COUNT", p.OKXResyncMinGapCount)
	p.OKXResyncPendingMaxMs = envInt64("OKX_RESYNC_PENDING_MAX_MS", p.OKXResyncPendingMaxMs)

	p.CvdBucketMs = envInt64("BOT_CVD_BUCKET_MS", p.CvdBucketMs)
	p.CvdEwmaAlpha = envFloat("BOT_CVD_MISMATCH_EWMA_ALPHA", p.CvdEwmaAlpha)
	p.CvdMinScale = envFloat("BOT_CVD_MISMATCH_MIN_SCALE", p.CvdMinScale)
	p.CvdMaxScale = envFloat("BOT_CVD_MISMATCH_MAX_SCALE", p.CvdMaxScale)
	p.CvdMinAbsScaled = envFloat("BOT_CVD_MISMATCH_MIN_ABS_SCALED", p.CvdMinAbsScaled)
	p.CvdSignAgreementThreshold = envFloat("BOT_CVD_MISMATCH_SIGN_AGREEMENT_THRESHOLD", p.CvdSignAgreementThreshold)
	p.CvdZThresh = envFloat("BOT_CVD_MISMATCH_Z_THRESH", p.CvdZThresh)
	p.CvdZMax = envFloat("BOT_CVD_MISMATCH_Z_MAX", p.CvdZMax)
	p.CvdRatioThresh = envFloat("BOT_CVD_MISMATCH_RATIO_THRESH", p.CvdRatioThresh)
	p.CvdRatioMax = envFloat("BOT_CVD_MISMATCH_RATIO_MAX", p.CvdRatioMax)
	p.CvdPenaltySign = envFloat("BOT_CVD_MISMATCH_PENALTY_SIGN", p.CvdPenaltySign)
	p.CvdPenaltyDispersion = envFloat("BOT_CVD_MISMATCH_PENALTY_DISPERSION", p.CvdPenaltyDispersion)

	return p
}

func envFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// StaleThreshold computes staleThresholdMs for a given
// expectedIntervalMs.
func (p Policy) StaleThreshold(expectedIntervalMs int64) time.Duration {
	threshold := float64(expectedIntervalMs) * p.StaleMultiplier
	if threshold < float64(expectedIntervalMs) {
		threshold = float64(expectedIntervalMs)
	}
	return time.Duration(threshold) * time.Millisecond
}
