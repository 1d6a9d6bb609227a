// Package metrics exposes the Prometheus gauges/counters this module
// publishes via prometheus/client_golang: HTTP, venue websocket/poller
// health, and market-data lag.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================================
// Admin HTTP API metrics
// ============================================================================

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestd_http_requests_total",
			Help: "Total number of admin API HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingestd_http_request_duration_seconds",
			Help:    "Admin API HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ingestd_http_requests_in_flight",
			Help: "Number of admin API HTTP requests currently being processed",
		},
	)

	AuthJWTValidationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestd_auth_jwt_validation_total",
			Help: "Total number of admin API JWT validation attempts",
		},
		[]string{"status"}, // "success", "failed", "expired"
	)
)

// ============================================================================
// Venue connection / poller metrics
// ============================================================================

var (
	WSConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestd_ws_connections_total",
			Help: "Total number of venue WebSocket connection attempts",
		},
		[]string{"venue", "status"}, // status: "success", "failed"
	)

	WSDisconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestd_ws_disconnects_total",
			Help: "Total number of venue WebSocket disconnections",
		},
		[]string{"venue", "reason"}, // "error", "timeout", "server_close"
	)

	WSReconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestd_ws_reconnects_total",
			Help: "Total number of venue WebSocket reconnection attempts",
		},
		[]string{"venue"},
	)

	WSMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestd_ws_messages_total",
			Help: "Total number of venue WebSocket messages received",
		},
		[]string{"venue"},
	)

	WSActiveConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ingestd_ws_active_connections",
			Help: "Number of active venue WebSocket connections",
		},
		[]string{"venue"},
	)

	MarketDataLag = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ingestd_market_data_lag_seconds",
			Help: "tsIngest - tsEvent lag in seconds, per symbol",
		},
		[]string{"symbol"},
	)

	SubscribedSymbols = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ingestd_subscribed_symbols",
			Help: "Number of distinct symbols currently subscribed across venues",
		},
	)

	ExchangeAPIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestd_exchange_api_requests_total",
			Help: "Total number of exchange REST API requests (poller + snapshot fetch)",
		},
		[]string{"venue", "endpoint", "status"},
	)

	ExchangeAPIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingestd_exchange_api_request_duration_seconds",
			Help:    "Exchange REST API request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
		},
		[]string{"venue", "endpoint"},
	)

	ExchangeRateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestd_exchange_rate_limit_hits_total",
			Help: "Total number of exchange API rate limit hits",
		},
		[]string{"venue"},
	)
)

// ============================================================================
// Pipeline metrics
// ============================================================================

var (
	AggregateEmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestd_aggregate_emitted_total",
			Help: "Total number of venue-consolidated aggregate events emitted",
		},
		[]string{"topic", "symbol"},
	)

	AggregateSuppressedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestd_aggregate_suppressed_total",
			Help: "Total number of aggregate emissions suppressed, by reason",
		},
		[]string{"metric", "reason"},
	)

	QualityDegradedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestd_quality_degraded_total",
			Help: "Total number of data:stale/data:mismatch degradation transitions",
		},
		[]string{"topic", "reason"},
	)

	JournalWriteErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestd_journal_write_errors_total",
			Help: "Total number of journal batch flush failures",
		},
		[]string{"stream_id"},
	)
)

// ============================================================================
// Process metadata
// ============================================================================

var (
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ingestd_app_info",
			Help: "Application build information",
		},
		[]string{"version", "go_version"},
	)

	AppStartTime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ingestd_app_start_timestamp_seconds",
			Help: "Application start timestamp in seconds",
		},
	)
)
