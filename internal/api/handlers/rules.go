package handlers

import (
	"context"
	"strconv"

	"github.com/frostdev-ops/pma-alert-engine/internal/core/alerting"
	"github.com/frostdev-ops/pma-alert-engine/pkg/utils"
	"github.com/gin-gonic/gin"
)

// ListRules lists rules, optionally by workspace_id, active and degraded.
func (h *Handlers) ListRules(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	filter := alerting.RuleFilter{
		WorkspaceID: c.Query("workspace_id"),
		ActiveOnly:  c.Query("active") == "true",
	}
	if v := c.Query("degraded"); v != "" {
		degraded, err := strconv.ParseBool(v)
		if err != nil {
			badRequest(c, "degraded must be true or false")
			return
		}
		filter.Degraded = &degraded
	}

	rules, err := h.engine.Rules(ctx, filter)
	if err != nil {
		h.fail(c, err, "Failed to list rules")
		return
	}
	utils.SendSuccessWithMeta(c, rules, gin.H{"count": len(rules)})
}

func (h *Handlers) GetRule(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	rule, err := h.engine.Rule(ctx, c.Param("id"))
	if err != nil {
		h.fail(c, err, "Failed to get rule")
		return
	}
	utils.SendSuccess(c, rule)
}

// CreateRule validates and stores a new rule. An invalid condition is a 400
// listing every problem.
func (h *Handlers) CreateRule(c *gin.Context) {
	var rule alerting.AlertRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	if rule.ID != "" {
		if _, err := h.engine.Rule(ctx, rule.ID); err == nil {
			badRequest(c, "rule "+rule.ID+" already exists")
			return
		}
	}
	saved, err := h.engine.SaveRule(ctx, &rule)
	if err != nil {
		h.fail(c, err, "Failed to create rule")
		return
	}
	utils.SendCreated(c, saved)
}

// UpdateRule replaces a rule. Saving resets its health.
func (h *Handlers) UpdateRule(c *gin.Context) {
	var rule alerting.AlertRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	existing, err := h.engine.Rule(ctx, c.Param("id"))
	if err != nil {
		h.fail(c, err, "Failed to get rule")
		return
	}
	rule.ID = existing.ID
	rule.CreatedAt = existing.CreatedAt

	saved, err := h.engine.SaveRule(ctx, &rule)
	if err != nil {
		h.fail(c, err, "Failed to update rule")
		return
	}
	utils.SendSuccess(c, saved)
}

func (h *Handlers) DeleteRule(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.engine.DeleteRule(ctx, c.Param("id")); err != nil {
		h.fail(c, err, "Failed to delete rule")
		return
	}
	utils.SendSuccess(c, gin.H{"deleted": c.Param("id")})
}

// EvaluateRule runs the rule now. A rule already being evaluated is a 409.
func (h *Handlers) EvaluateRule(c *gin.Context) {
	ev, err := h.engine.EvaluateNow(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err, "Failed to evaluate rule")
		return
	}
	utils.SendSuccess(c, ev)
}

type testConditionRequest struct {
	WorkspaceID string             `json:"workspace_id"`
	Condition   alerting.Condition `json:"condition"`
	Points      []alerting.Point   `json:"points"`
}

// TestCondition evaluates a condition against the given points, or against
// the metric source when none are given. Nothing is stored. An invalid
// condition is answered with valid=false and the problems found.
func (h *Handlers) TestCondition(c *gin.Context) {
	var req testConditionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	if len(req.Points) == 0 && req.WorkspaceID == "" {
		badRequest(c, "workspace_id is required when no points are given")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	result, err := h.engine.TestCondition(ctx, req.Condition, req.WorkspaceID, req.Points)
	if err != nil {
		h.fail(c, err, "Failed to test condition")
		return
	}
	utils.SendSuccess(c, result)
}
