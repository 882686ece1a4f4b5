package handlers

import (
	"github.com/frostdev-ops/pma-alert-engine/internal/core/alerting"
	"github.com/frostdev-ops/pma-alert-engine/pkg/utils"
	"github.com/gin-gonic/gin"
)

func (h *Handlers) ListSuppressions(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	suppressions, err := h.engine.Suppressions(ctx, c.Query("workspace_id"))
	if err != nil {
		h.fail(c, err, "Failed to list suppressions")
		return
	}
	utils.SendSuccessWithMeta(c, suppressions, gin.H{"count": len(suppressions)})
}

func (h *Handlers) GetSuppression(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	s, err := h.engine.Suppression(ctx, c.Param("id"))
	if err != nil {
		h.fail(c, err, "Failed to get suppression")
		return
	}
	utils.SendSuccess(c, s)
}

func (h *Handlers) CreateSuppression(c *gin.Context) {
	var s alerting.SuppressionRule
	if err := c.ShouldBindJSON(&s); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	saved, err := h.engine.SaveSuppression(ctx, &s)
	if err != nil {
		h.fail(c, err, "Failed to create suppression")
		return
	}
	utils.SendCreated(c, saved)
}

func (h *Handlers) UpdateSuppression(c *gin.Context) {
	var s alerting.SuppressionRule
	if err := c.ShouldBindJSON(&s); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	existing, err := h.engine.Suppression(ctx, c.Param("id"))
	if err != nil {
		h.fail(c, err, "Failed to get suppression")
		return
	}
	s.ID = existing.ID
	s.CreatedAt = existing.CreatedAt

	saved, err := h.engine.SaveSuppression(ctx, &s)
	if err != nil {
		h.fail(c, err, "Failed to update suppression")
		return
	}
	utils.SendSuccess(c, saved)
}

func (h *Handlers) DeleteSuppression(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.engine.DeleteSuppression(ctx, c.Param("id")); err != nil {
		h.fail(c, err, "Failed to delete suppression")
		return
	}
	utils.SendSuccess(c, gin.H{"deleted": c.Param("id")})
}

// SuppressionAudit lists suppressed triggers, newest first.
func (h *Handlers) SuppressionAudit(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	audit, err := h.engine.SuppressionAudit(ctx, c.Query("workspace_id"), c.Query("rule_id"), queryInt(c, "limit", 100))
	if err != nil {
		h.fail(c, err, "Failed to list suppression audit")
		return
	}
	utils.SendSuccessWithMeta(c, audit, gin.H{"count": len(audit)})
}
