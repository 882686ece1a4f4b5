package handlers

import (
	"strings"

	"github.com/frostdev-ops/pma-alert-engine/internal/core/alerting"
	"github.com/frostdev-ops/pma-alert-engine/pkg/utils"
	"github.com/gin-gonic/gin"
)

// ListAlerts lists alerts newest first. status takes a comma separated list.
func (h *Handlers) ListAlerts(c *gin.Context) {
	filter := alerting.AlertFilter{
		WorkspaceID: c.Query("workspace_id"),
		RuleID:      c.Query("rule_id"),
		Limit:       queryInt(c, "limit", 100),
	}
	if v := c.Query("status"); v != "" {
		for _, s := range strings.Split(v, ",") {
			status := alerting.AlertStatus(strings.TrimSpace(s))
			switch status {
			case alerting.StatusOpen, alerting.StatusAcknowledged, alerting.StatusResolved:
				filter.Statuses = append(filter.Statuses, status)
			default:
				badRequest(c, "unknown status "+string(status))
				return
			}
		}
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	alerts, err := h.engine.Alerts(ctx, filter)
	if err != nil {
		h.fail(c, err, "Failed to list alerts")
		return
	}
	utils.SendSuccessWithMeta(c, alerts, gin.H{"count": len(alerts)})
}

func (h *Handlers) GetAlert(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	alert, err := h.engine.Alert(ctx, c.Param("id"))
	if err != nil {
		h.fail(c, err, "Failed to get alert")
		return
	}
	utils.SendSuccess(c, alert)
}

type acknowledgeRequest struct {
	By    string `json:"by" binding:"required"`
	Notes string `json:"notes"`
}

// AcknowledgeAlert moves an open alert to acknowledged. Any other state is
// a 409.
func (h *Handlers) AcknowledgeAlert(c *gin.Context) {
	var req acknowledgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	alert, err := h.engine.Acknowledge(ctx, c.Param("id"), req.By, req.Notes)
	if err != nil {
		h.fail(c, err, "Failed to acknowledge alert")
		return
	}
	utils.SendSuccess(c, alert)
}

type resolveRequest struct {
	By           string `json:"by" binding:"required"`
	Notes        string `json:"notes"`
	PermanentFix bool   `json:"permanent_fix"`
}

func (h *Handlers) ResolveAlert(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	alert, err := h.engine.Resolve(ctx, c.Param("id"), req.By, req.Notes, req.PermanentFix)
	if err != nil {
		h.fail(c, err, "Failed to resolve alert")
		return
	}
	utils.SendSuccess(c, alert)
}

// AlertDeliveries returns the delivery ledger of an alert.
func (h *Handlers) AlertDeliveries(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	attempts, err := h.engine.Deliveries(ctx, c.Param("id"))
	if err != nil {
		h.fail(c, err, "Failed to list deliveries")
		return
	}
	utils.SendSuccessWithMeta(c, attempts, gin.H{"count": len(attempts)})
}

func (h *Handlers) AlertEscalations(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	timers, err := h.engine.Escalations(ctx, c.Param("id"))
	if err != nil {
		h.fail(c, err, "Failed to list escalations")
		return
	}
	utils.SendSuccessWithMeta(c, timers, gin.H{"count": len(timers)})
}
