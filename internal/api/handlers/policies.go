package handlers

import (
	"github.com/frostdev-ops/pma-alert-engine/internal/core/alerting"
	"github.com/frostdev-ops/pma-alert-engine/pkg/utils"
	"github.com/gin-gonic/gin"
)

func (h *Handlers) ListPolicies(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	policies, err := h.engine.Policies(ctx, c.Query("workspace_id"))
	if err != nil {
		h.fail(c, err, "Failed to list escalation policies")
		return
	}
	utils.SendSuccessWithMeta(c, policies, gin.H{"count": len(policies)})
}

func (h *Handlers) GetPolicy(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	policy, err := h.engine.Policy(ctx, c.Param("id"))
	if err != nil {
		h.fail(c, err, "Failed to get escalation policy")
		return
	}
	utils.SendSuccess(c, policy)
}

func (h *Handlers) CreatePolicy(c *gin.Context) {
	var policy alerting.EscalationPolicy
	if err := c.ShouldBindJSON(&policy); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	saved, err := h.engine.SavePolicy(ctx, &policy)
	if err != nil {
		h.fail(c, err, "Failed to create escalation policy")
		return
	}
	utils.SendCreated(c, saved)
}

// UpdatePolicy replaces a policy. Timers already scheduled keep the levels
// they were created with; the policy is re-read when each one fires.
func (h *Handlers) UpdatePolicy(c *gin.Context) {
	var policy alerting.EscalationPolicy
	if err := c.ShouldBindJSON(&policy); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	existing, err := h.engine.Policy(ctx, c.Param("id"))
	if err != nil {
		h.fail(c, err, "Failed to get escalation policy")
		return
	}
	policy.ID = existing.ID
	policy.CreatedAt = existing.CreatedAt

	saved, err := h.engine.SavePolicy(ctx, &policy)
	if err != nil {
		h.fail(c, err, "Failed to update escalation policy")
		return
	}
	utils.SendSuccess(c, saved)
}

func (h *Handlers) DeletePolicy(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.engine.DeletePolicy(ctx, c.Param("id")); err != nil {
		h.fail(c, err, "Failed to delete escalation policy")
		return
	}
	utils.SendSuccess(c, gin.H{"deleted": c.Param("id")})
}
