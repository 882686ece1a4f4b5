package middleware

import (
	"time"

	"github.com/frostdev-ops/pma-alert-engine/internal/core/metrics"
	"github.com/gin-gonic/gin"
)

// MetricsMiddleware creates middleware for collecting HTTP metrics. Paths
// are recorded by route template to keep label cardinality bounded.
func MetricsMiddleware(collector metrics.MetricsCollector) gin.HandlerFunc {
	collector = metrics.OrNop(collector)
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		collector.RecordHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
