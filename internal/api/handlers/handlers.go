// Package handlers implements the REST API over the alert engine.
package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/frostdev-ops/pma-alert-engine/internal/core/alerting"
	"github.com/frostdev-ops/pma-alert-engine/internal/core/engine"
	"github.com/frostdev-ops/pma-alert-engine/internal/core/jobs"
	"github.com/frostdev-ops/pma-alert-engine/internal/core/metrics"
	"github.com/frostdev-ops/pma-alert-engine/internal/websocket"
	"github.com/frostdev-ops/pma-alert-engine/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// requestTimeout bounds store-backed handlers. Evaluation requests use the
// scheduler's evaluation timeout instead.
const requestTimeout = 10 * time.Second

// SampleIngester stores pushed metric samples.
type SampleIngester interface {
	Ingest(ctx context.Context, workspaceID, metric string, labels map[string]string, points []alerting.Point) error
}

// Handlers holds all HTTP handlers and their dependencies
type Handlers struct {
	engine  *engine.Engine
	samples SampleIngester
	hub     *websocket.Hub
	jobs    *jobs.Runner
	health  *metrics.HealthChecker
	logger  *logrus.Logger
}

// Deps are the collaborators of the handlers. Samples, Hub, Jobs and Health
// are optional.
type Deps struct {
	Engine  *engine.Engine
	Samples SampleIngester
	Hub     *websocket.Hub
	Jobs    *jobs.Runner
	Health  *metrics.HealthChecker
	Logger  *logrus.Logger
}

func NewHandlers(deps Deps) *Handlers {
	health := deps.Health
	if health == nil {
		health = metrics.NewHealthChecker(5 * time.Second)
	}
	return &Handlers{
		engine:  deps.Engine,
		samples: deps.Samples,
		hub:     deps.Hub,
		jobs:    deps.Jobs,
		health:  health,
		logger:  deps.Logger,
	}
}

func requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), requestTimeout)
}

// fail renders err. The error middleware logs it with msg attached.
func (h *Handlers) fail(c *gin.Context, err error, msg string) {
	c.Error(err).SetMeta(msg)
	utils.SendAppError(c, err)
}

func badRequest(c *gin.Context, msg string) {
	utils.SendError(c, http.StatusBadRequest, msg)
}

func queryInt(c *gin.Context, key string, def int) int {
	if v, err := strconv.Atoi(c.Query(key)); err == nil && v > 0 {
		return v
	}
	return def
}
