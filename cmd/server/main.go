package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/frostdev-ops/pma-alert-engine/internal/adapters/notify"
	"github.com/frostdev-ops/pma-alert-engine/internal/api"
	"github.com/frostdev-ops/pma-alert-engine/internal/api/handlers"
	"github.com/frostdev-ops/pma-alert-engine/internal/config"
	"github.com/frostdev-ops/pma-alert-engine/internal/core/alerting"
	"github.com/frostdev-ops/pma-alert-engine/internal/core/dispatch"
	"github.com/frostdev-ops/pma-alert-engine/internal/core/engine"
	"github.com/frostdev-ops/pma-alert-engine/internal/core/escalation"
	"github.com/frostdev-ops/pma-alert-engine/internal/core/jobs"
	"github.com/frostdev-ops/pma-alert-engine/internal/core/lifecycle"
	"github.com/frostdev-ops/pma-alert-engine/internal/core/metrics"
	"github.com/frostdev-ops/pma-alert-engine/internal/core/metricsource"
	"github.com/frostdev-ops/pma-alert-engine/internal/core/retention"
	"github.com/frostdev-ops/pma-alert-engine/internal/core/scheduler"
	"github.com/frostdev-ops/pma-alert-engine/internal/core/seed"
	"github.com/frostdev-ops/pma-alert-engine/internal/database"
	"github.com/frostdev-ops/pma-alert-engine/internal/websocket"
	apperrors "github.com/frostdev-ops/pma-alert-engine/pkg/errors"
	"github.com/frostdev-ops/pma-alert-engine/pkg/logger"
	"github.com/frostdev-ops/pma-alert-engine/pkg/version"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	log.WithFields(logrus.Fields{
		"version": version.GetVersion(),
		"mode":    cfg.Server.Mode,
	}).Info("Starting alert engine")

	db, err := database.Initialize(cfg.Database)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize database")
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(db, log); err != nil {
			log.WithError(err).Fatal("Failed to run migrations")
		}
	}

	repos := database.NewRepositories(db, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source, err := metricsource.New(cfg.MetricSource, repos.Samples, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to create metric source")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	var collector metrics.MetricsCollector = metrics.NopCollector{}
	if cfg.Monitoring.Prometheus.Enabled {
		collector = metrics.NewPrometheusCollector(&metrics.MetricsConfig{
			Enabled: true,
			Prefix:  cfg.Monitoring.Prometheus.Prefix,
		}, registry)
	}

	health := metrics.NewHealthChecker(5 * time.Second)
	health.RegisterCheck("database", func(ctx context.Context) metrics.HealthStatus {
		details := database.HealthStatus(ctx, db)
		status := metrics.NewHealthStatus("healthy", "database reachable")
		if details["connection"] != "healthy" {
			status = metrics.NewHealthStatus("unhealthy", fmt.Sprint(details["error"]))
		}
		return status.WithDetail("pool", details["pool"])
	})

	if prom, ok := source.(*metricsource.PrometheusSource); ok {
		health.RegisterCheck("prometheus", func(context.Context) metrics.HealthStatus {
			state := prom.Breaker().State()
			status := metrics.NewHealthStatus("healthy", "circuit "+state.String())
			if state != apperrors.StateClosed {
				status = metrics.NewHealthStatus("degraded", "circuit "+state.String())
			}
			return status.WithDetail("breaker", prom.Breaker().GetMetrics())
		})
	}

	leaser, err := newLeaser(ctx, cfg, health, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to create evaluation leaser")
	}

	var publisher alerting.EventPublisher = alerting.NopPublisher{}
	var hub *websocket.Hub
	if cfg.WebSocket.Enabled {
		hub = websocket.NewHub(websocket.SettingsFromConfig(cfg.WebSocket), collector, log)
		go hub.Run(ctx)
		publisher = hub
	}

	eng := engine.New(engine.Stores{
		Rules:        repos.Rules,
		Alerts:       repos.Alerts,
		Escalations:  repos.Escalations,
		Deliveries:   repos.Deliveries,
		Suppressions: repos.Suppressions,
	}, source, notify.FromConfig(cfg.Channels, log), leaser, publisher, collector, log, engineConfig(cfg))

	if err := eng.Start(ctx); err != nil {
		log.WithError(err).Fatal("Failed to start engine")
	}
	health.RegisterCheck("scheduler", func(context.Context) metrics.HealthStatus {
		return metrics.NewHealthStatus("healthy", "scheduler running").WithDetail("rules", eng.ScheduledRules())
	})

	runner := jobs.NewRunner(log)
	if err := runner.Add("escalation-sweep", cfg.Engine.Escalation.SweepSchedule, eng.SweepJob(ctx)); err != nil {
		log.WithError(err).Fatal("Failed to schedule escalation sweep")
	}
	cleaner := retention.NewCleaner(repos.Escalations, repos.Samples, retention.Config{
		TimerMaxAge:  config.Duration(cfg.Engine.Retention.TimerMaxAge, 0),
		SampleMaxAge: config.Duration(cfg.Engine.Retention.SampleMaxAge, 0),
	}, log)
	if err := runner.Add("retention", cfg.Engine.Retention.Schedule, cleaner.Job(ctx)); err != nil {
		log.WithError(err).Fatal("Failed to schedule retention")
	}
	if err := runner.Start(); err != nil {
		log.WithError(err).Fatal("Failed to start job runner")
	}

	if cfg.Seed.File != "" {
		if _, err := seed.LoadAndApply(ctx, eng, cfg.Seed.File, log); err != nil {
			log.WithError(err).Fatal("Failed to load seed file")
		}
		if cfg.Seed.Watch {
			go func() {
				debounce := config.Duration(cfg.Seed.Debounce, seed.DefaultDebounce)
				if err := seed.Watch(ctx, eng, cfg.Seed.File, debounce, log); err != nil {
					log.WithError(err).Error("Seed file watcher stopped")
				}
			}()
		}
	}

	batch := logger.NewBatchLogger(log, 50)
	h := handlers.NewHandlers(handlers.Deps{
		Engine:  eng,
		Samples: metricsource.NewStoreSource(repos.Samples),
		Hub:     hub,
		Jobs:    runner,
		Health:  health,
		Logger:  log,
	})
	router := api.NewRouter(cfg, h, log, api.RouterOptions{
		Collector: collector,
		Gatherer:  registry,
		Batch:     batch,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infof("Alert engine listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.WithField("signal", sig.String()).Info("Shutting down alert engine")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}
	if err := runner.Stop(); err != nil {
		log.WithError(err).Warn("Jobs did not stop cleanly")
	}
	eng.Stop()
	cancel()
	batch.FlushPending()

	log.Info("Alert engine stopped")
}

func engineConfig(cfg *config.Config) engine.Config {
	s := cfg.Engine.Scheduler
	e := cfg.Engine.Escalation
	d := cfg.Engine.Dispatcher

	owner, _ := os.Hostname()
	owner = fmt.Sprintf("%s-%d", owner, os.Getpid())

	return engine.Config{
		Scheduler: scheduler.Config{
			MaxWorkers:                s.MaxWorkers,
			MaxConcurrentPerWorkspace: s.MaxConcurrentPerWorkspace,
			DegradedAfterFailures:     s.DegradedAfterFailures,
			RuleRefreshInterval:       config.Duration(s.RuleRefreshInterval, time.Minute),
			EvaluationTimeout:         config.Duration(s.EvaluationTimeout, 30*time.Second),
		},
		Lifecycle: lifecycle.Config{
			ClearEvaluations: cfg.Engine.Lifecycle.AutoResolveClearEvaluations,
			CASRetries:       cfg.Engine.Lifecycle.CASRetries,
		},
		Escalation: escalation.Config{
			ClaimTTL:    config.Duration(e.ClaimTTL, 5*time.Minute),
			BatchSize:   e.BatchSize,
			MaxParallel: e.MaxParallel,
			Owner:       owner,
		},
		Dispatch: dispatch.Config{
			MaxAttempts:   d.MaxAttempts,
			Backoff:       time.Duration(d.BackoffSeconds * float64(time.Second)),
			BackoffFactor: d.BackoffFactor,
			MaxBackoff:    config.Duration(d.MaxBackoff, 5*time.Minute),
			SendTimeout:   config.Duration(d.SendTimeout, 10*time.Second),
		},
		LookbackSlack: config.Duration(s.LookbackSlack, time.Minute),
	}
}

// newLeaser returns the redis leaser when configured so that several engine
// processes can share one database.
func newLeaser(ctx context.Context, cfg *config.Config, health *metrics.HealthChecker, log *logrus.Logger) (scheduler.Leaser, error) {
	if cfg.Engine.Scheduler.LeaseBackend != "redis" {
		return scheduler.NewLocalLeaser(), nil
	}

	client, err := scheduler.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, err
	}
	health.RegisterCheck("redis", func(ctx context.Context) metrics.HealthStatus {
		if err := client.Ping(ctx).Err(); err != nil {
			return metrics.NewHealthStatus("unhealthy", err.Error())
		}
		return metrics.NewHealthStatus("healthy", "redis reachable")
	})
	log.WithField("addr", cfg.Redis.Addr).Info("Using redis evaluation leases")
	return scheduler.NewRedisLeaser(client, cfg.Redis.Prefix, config.Duration(cfg.Engine.Scheduler.LeaseTTL, 2*time.Minute), log), nil
}
