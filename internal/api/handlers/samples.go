package handlers

import (
	"net/http"

	"github.com/frostdev-ops/pma-alert-engine/internal/core/alerting"
	"github.com/frostdev-ops/pma-alert-engine/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type ingestRequest struct {
	WorkspaceID string            `json:"workspace_id" binding:"required"`
	Metric      string            `json:"metric" binding:"required"`
	Labels      map[string]string `json:"labels"`
	Points      []alerting.Point  `json:"points" binding:"required,min=1"`
}

// IngestSamples stores pushed samples for the store-backed metric source.
func (h *Handlers) IngestSamples(c *gin.Context) {
	if h.samples == nil {
		utils.SendError(c, http.StatusNotImplemented, "sample ingestion is not enabled")
		return
	}

	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.samples.Ingest(ctx, req.WorkspaceID, req.Metric, req.Labels, req.Points); err != nil {
		h.fail(c, err, "Failed to ingest samples")
		return
	}
	h.logger.WithFields(logrus.Fields{
		"workspace_id": req.WorkspaceID,
		"metric":       req.Metric,
		"points":       len(req.Points),
	}).Debug("Samples ingested")
	c.JSON(http.StatusAccepted, utils.Response{Success: true, Data: gin.H{"accepted": len(req.Points)}})
}
