// Package metricsource provides the MetricSource implementations the engine
// reads series from: a Prometheus compatible HTTP API and the engine's own
// metric_samples table.
package metricsource

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/frostdev-ops/pma-alert-engine/internal/config"
	"github.com/frostdev-ops/pma-alert-engine/internal/core/alerting"
	"github.com/frostdev-ops/pma-alert-engine/internal/database/sqlite"
	"github.com/sirupsen/logrus"
)

// New builds the source selected by cfg.Type.
func New(cfg config.MetricSourceConfig, samples *sqlite.SampleRepository, log *logrus.Logger) (alerting.MetricSource, error) {
	switch cfg.Type {
	case "", "store":
		return NewStoreSource(samples), nil
	case "prometheus":
		return NewPrometheusSource(PrometheusConfig{
			URL:             cfg.Prometheus.URL,
			Timeout:         config.Duration(cfg.Prometheus.Timeout, 10*time.Second),
			Step:            config.Duration(cfg.Prometheus.Step, 15*time.Second),
			WorkspaceLabel:  cfg.Prometheus.WorkspaceLabel,
			BreakerFailures: cfg.Prometheus.BreakerFailures,
			BreakerReset:    config.Duration(cfg.Prometheus.BreakerReset, 30*time.Second),
		}, log)
	default:
		return nil, fmt.Errorf("unknown metric source type %q", cfg.Type)
	}
}

// normalize keeps one series per label set. Non-finite samples such as
// Prometheus stale markers are dropped, points are sorted by time and
// series left without points are removed. Series are ordered by labels.
func normalize(metric string, series []alerting.TimeSeries) []alerting.TimeSeries {
	out := make([]alerting.TimeSeries, 0, len(series))
	for _, s := range series {
		ts := alerting.TimeSeries{Metric: metric, Labels: s.Labels}
		for _, p := range s.Points {
			if math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
				continue
			}
			ts.Points = append(ts.Points, p)
		}
		if len(ts.Points) == 0 {
			continue
		}
		sort.Slice(ts.Points, func(i, j int) bool { return ts.Points[i].Timestamp.Before(ts.Points[j].Timestamp) })
		out = append(out, ts)
	}
	sort.SliceStable(out, func(i, j int) bool { return labelKey(out[i].Labels) < labelKey(out[j].Labels) })
	return out
}

func labelKey(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
		b.WriteByte(',')
	}
	return b.String()
}
