package handlers

import (
	"net/http"

	"github.com/frostdev-ops/pma-alert-engine/pkg/version"
	"github.com/gin-gonic/gin"
)

// Health runs the registered component checks. An unhealthy component
// turns the response into a 503.
func (h *Handlers) Health(c *gin.Context) {
	report := h.health.GetOverallHealth(c.Request.Context())

	body := gin.H{
		"status":         report.Status,
		"message":        report.Message,
		"service":        "pma-alert-engine",
		"version":        version.GetBuildInfo(),
		"components":     report.Components,
		"scheduled":      h.engine.ScheduledRules(),
		"timestamp":      report.Timestamp,
		"check_duration": report.Duration.String(),
	}
	if h.hub != nil {
		body["websocket"] = h.hub.GetStats()
	}

	status := http.StatusOK
	if report.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, body)
}

// Jobs lists the periodic jobs and their next run.
func (h *Handlers) Jobs(c *gin.Context) {
	if h.jobs == nil {
		c.JSON(http.StatusOK, gin.H{"success": true, "data": []interface{}{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": h.jobs.Jobs()})
}
