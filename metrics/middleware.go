package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// GinMiddleware collects HTTP metrics for every admin API request. Route
// paths use gin's FullPath (the registered pattern, e.g. "/v1/sources"),
// which is already low-cardinality — no manual path normalisation needed.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()
		HTTPRequestsInFlight.Inc()
		defer HTTPRequestsInFlight.Dec()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method

		HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// RecordJWTValidation records one admin API JWT validation outcome.
func RecordJWTValidation(status string) {
	AuthJWTValidationTotal.WithLabelValues(status).Inc()
}
