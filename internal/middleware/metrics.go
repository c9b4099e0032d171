package middleware

import (
	"time"

	"kiro-gateway/internal/monitoring"

	"github.com/gin-gonic/gin"
)

// Metrics is an HTTP middleware that tracks per-route request counters and
// latency, plus an in-flight gauge.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		monitoring.HTTPInFlight.Inc()
		c.Next()
		monitoring.HTTPInFlight.Dec()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		monitoring.ObserveHTTP(path, c.Writer.Status(), start)
	}
}
