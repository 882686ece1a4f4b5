package api

import (
	"net/http"

	"github.com/frostdev-ops/pma-alert-engine/internal/api/handlers"
	"github.com/frostdev-ops/pma-alert-engine/internal/api/middleware"
	"github.com/frostdev-ops/pma-alert-engine/internal/config"
	"github.com/frostdev-ops/pma-alert-engine/internal/core/metrics"
	"github.com/frostdev-ops/pma-alert-engine/pkg/logger"
	"github.com/frostdev-ops/pma-alert-engine/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// RouterOptions carries the optional pieces of the HTTP surface.
type RouterOptions struct {
	Collector metrics.MetricsCollector
	// Gatherer backs the metrics endpoint. Nil disables it.
	Gatherer prometheus.Gatherer
	Batch    *logger.BatchLogger
}

// NewRouter creates and configures the main HTTP router
func NewRouter(cfg *config.Config, h *handlers.Handlers, log *logrus.Logger, opts RouterOptions) *gin.Engine {
	switch cfg.Server.Mode {
	case "production":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()

	batch := opts.Batch
	if batch == nil {
		batch = logger.NewBatchLogger(log, 50)
	}

	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.ErrorResponseMiddleware(log))
	router.Use(middleware.LoggingMiddleware(batch))
	if cfg.Security.EnableCORS {
		router.Use(middleware.CORSMiddleware(cfg.Security))
	}
	router.Use(middleware.MetricsMiddleware(metrics.OrNop(opts.Collector)))

	router.GET("/health", h.Health)
	if opts.Gatherer != nil && cfg.Monitoring.Prometheus.Enabled {
		path := cfg.Monitoring.Prometheus.Path
		if path == "" {
			path = "/metrics"
		}
		router.GET(path, gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}
	if cfg.WebSocket.Enabled {
		router.GET("/ws", h.WebSocket)
	}

	api := router.Group("/api/v1")
	{
		api.GET("/status", h.Health)
		api.GET("/jobs", h.Jobs)
		api.GET("/ws/stats", h.WebSocketStats)

		rules := api.Group("/rules")
		{
			rules.GET("", h.ListRules)
			rules.POST("", h.CreateRule)
			rules.GET("/:id", h.GetRule)
			rules.PUT("/:id", h.UpdateRule)
			rules.DELETE("/:id", h.DeleteRule)
			rules.POST("/:id/evaluate", h.EvaluateRule)
		}

		api.POST("/conditions/test", h.TestCondition)

		alerts := api.Group("/alerts")
		{
			alerts.GET("", h.ListAlerts)
			alerts.GET("/:id", h.GetAlert)
			alerts.POST("/:id/acknowledge", h.AcknowledgeAlert)
			alerts.POST("/:id/resolve", h.ResolveAlert)
			alerts.GET("/:id/deliveries", h.AlertDeliveries)
			alerts.GET("/:id/escalations", h.AlertEscalations)
		}

		policies := api.Group("/policies")
		{
			policies.GET("", h.ListPolicies)
			policies.POST("", h.CreatePolicy)
			policies.GET("/:id", h.GetPolicy)
			policies.PUT("/:id", h.UpdatePolicy)
			policies.DELETE("/:id", h.DeletePolicy)
		}

		suppressions := api.Group("/suppressions")
		{
			suppressions.GET("", h.ListSuppressions)
			suppressions.POST("", h.CreateSuppression)
			suppressions.GET("/audit", h.SuppressionAudit)
			suppressions.GET("/:id", h.GetSuppression)
			suppressions.PUT("/:id", h.UpdateSuppression)
			suppressions.DELETE("/:id", h.DeleteSuppression)
		}

		api.POST("/samples", h.IngestSamples)
	}

	router.NoRoute(func(c *gin.Context) {
		utils.SendError(c, http.StatusNotFound, "Route not found")
	})

	return router
}
