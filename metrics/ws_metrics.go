package metrics

// WSMetricsRecorder records connection lifecycle metrics for one venue's
// WebSocket client.
type WSMetricsRecorder struct {
	Venue string // "binance", "okx", "bybit", "hyperliquid"
}

// NewWSMetricsRecorder constructs a recorder scoped to one venue.
func NewWSMetricsRecorder(venue string) *WSMetricsRecorder {
	return &WSMetricsRecorder{Venue: venue}
}

// RecordConnection records a connect attempt outcome.
func (r *WSMetricsRecorder) RecordConnection(success bool) {
	status := "success"
	if !success {
		status = "failed"
	}
	WSConnectionsTotal.WithLabelValues(r.Venue, status).Inc()
	if success {
		WSActiveConnections.WithLabelValues(r.Venue).Inc()
	}
}

// RecordDisconnect records a connection teardown.
func (r *WSMetricsRecorder) RecordDisconnect(reason string) {
	WSDisconnectsTotal.WithLabelValues(r.Venue, reason).Inc()
	WSActiveConnections.WithLabelValues(r.Venue).Dec()
}

// RecordReconnect records a reconnect attempt.
func (r *WSMetricsRecorder) RecordReconnect() {
	WSReconnectsTotal.WithLabelValues(r.Venue).Inc()
}

// RecordMessage records one inbound WS frame.
func (r *WSMetricsRecorder) RecordMessage() {
	WSMessagesTotal.WithLabelValues(r.Venue).Inc()
}

// RecordMarketDataLag reports tsIngest-tsEvent lag in seconds. Callers pass
// nowMs explicitly (from the injected clock) rather than this package
// reading the wall clock itself.
func RecordMarketDataLag(symbol string, eventTsMs, nowMs int64) {
	lag := float64(nowMs-eventTsMs) / 1000.0
	if lag >= 0 && lag < 60 {
		MarketDataLag.WithLabelValues(symbol).Set(lag)
	}
}

// SetSubscribedSymbols sets the current distinct-subscribed-symbol gauge.
func SetSubscribedSymbols(count int) {
	SubscribedSymbols.Set(float64(count))
}
