package middleware

import (
	"time"

	"github.com/frostdev-ops/pma-alert-engine/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// LoggingMiddleware logs every request. Successful requests are folded
// into periodic summaries by the batch logger.
func LoggingMiddleware(batch *logger.BatchLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		batch.LogRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start), logrus.Fields{
			"client_ip":     c.ClientIP(),
			"user_agent":    c.Request.UserAgent(),
			"request_id":    c.GetString("request_id"),
			"error_message": c.Errors.ByType(gin.ErrorTypeAny).String(),
		})
	}
}
