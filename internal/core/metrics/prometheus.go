package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector implements MetricsCollector using Prometheus metrics
type PrometheusCollector struct {
	config *MetricsConfig

	// HTTP Metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// WebSocket Metrics
	websocketConnections prometheus.Gauge

	// Evaluation Metrics
	evaluationsTotal   *prometheus.CounterVec
	evaluationDuration prometheus.Histogram
	overlapSkips       prometheus.Counter
	degradedRules      prometheus.Gauge

	// Alert Metrics
	alertTransitions *prometheus.CounterVec
	suppressions     *prometheus.CounterVec
	escalations      *prometheus.CounterVec

	// Delivery Metrics
	notificationAttempts *prometheus.CounterVec
	deliveryLatency      *prometheus.HistogramVec
}

var _ MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheusCollector registers the engine metrics with reg. A nil
// registerer uses the default Prometheus registry.
func NewPrometheusCollector(config *MetricsConfig, reg prometheus.Registerer) *PrometheusCollector {
	if config == nil {
		config = &MetricsConfig{
			Enabled: true,
			Prefix:  "alert_engine",
		}
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	prefix := config.Prefix
	factory := promauto.With(reg)

	collector := &PrometheusCollector{config: config}

	collector.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	collector.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    prefix + "_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	collector.websocketConnections = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: prefix + "_websocket_connections",
			Help: "Number of connected event stream clients",
		},
	)

	collector.evaluationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_evaluations_total",
			Help: "Rule evaluations by result",
		},
		[]string{"result"},
	)

	collector.evaluationDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    prefix + "_evaluation_duration_seconds",
			Help:    "Time spent fetching and evaluating one rule",
			Buckets: prometheus.DefBuckets,
		},
	)

	collector.overlapSkips = factory.NewCounter(
		prometheus.CounterOpts{
			Name: prefix + "_evaluation_overlap_skips_total",
			Help: "Ticks skipped because the previous evaluation was still running",
		},
	)

	collector.degradedRules = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: prefix + "_degraded_rules",
			Help: "Number of rules currently marked degraded",
		},
	)

	collector.alertTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_alert_transitions_total",
			Help: "Alert state transitions by target status",
		},
		[]string{"status"},
	)

	collector.suppressions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_suppressions_total",
			Help: "Suppressed triggers by suppression type",
		},
		[]string{"type"},
	)

	collector.escalations = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_escalations_fired_total",
			Help: "Escalation levels fired",
		},
		[]string{"level"},
	)

	collector.notificationAttempts = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_notification_attempts_total",
			Help: "Notification attempts by channel and status",
		},
		[]string{"channel", "status"},
	)

	collector.deliveryLatency = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    prefix + "_delivery_latency_seconds",
			Help:    "Channel adapter send latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"channel"},
	)

	return collector
}

func (p *PrometheusCollector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	p.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	p.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func (p *PrometheusCollector) RecordEvaluation(result string, duration time.Duration) {
	p.evaluationsTotal.WithLabelValues(result).Inc()
	p.evaluationDuration.Observe(duration.Seconds())
}

func (p *PrometheusCollector) RecordOverlapSkip() {
	p.overlapSkips.Inc()
}

func (p *PrometheusCollector) SetDegradedRules(count int) {
	p.degradedRules.Set(float64(count))
}

func (p *PrometheusCollector) RecordAlertTransition(status string) {
	p.alertTransitions.WithLabelValues(status).Inc()
}

func (p *PrometheusCollector) RecordSuppression(suppressionType string) {
	p.suppressions.WithLabelValues(suppressionType).Inc()
}

func (p *PrometheusCollector) RecordNotificationAttempt(channel, status string, latency time.Duration) {
	p.notificationAttempts.WithLabelValues(channel, status).Inc()
	p.deliveryLatency.WithLabelValues(channel).Observe(latency.Seconds())
}

func (p *PrometheusCollector) RecordEscalation(level int) {
	p.escalations.WithLabelValues(strconv.Itoa(level)).Inc()
}

func (p *PrometheusCollector) RecordWebSocketConnection(action string) {
	switch action {
	case "connect":
		p.websocketConnections.Inc()
	case "disconnect":
		p.websocketConnections.Dec()
	}
}
