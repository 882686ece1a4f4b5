package handlers

import (
	"net/http"

	"github.com/frostdev-ops/pma-alert-engine/internal/websocket"
	"github.com/frostdev-ops/pma-alert-engine/pkg/utils"
	"github.com/gin-gonic/gin"
)

// WebSocket upgrades the connection onto the event hub.
func (h *Handlers) WebSocket(c *gin.Context) {
	if h.hub == nil {
		utils.SendError(c, http.StatusServiceUnavailable, "websocket is disabled")
		return
	}
	websocket.HandleWebSocket(h.hub, c.Writer, c.Request)
}

func (h *Handlers) WebSocketStats(c *gin.Context) {
	if h.hub == nil {
		utils.SendError(c, http.StatusServiceUnavailable, "websocket is disabled")
		return
	}
	utils.SendSuccess(c, h.hub.GetStats())
}
