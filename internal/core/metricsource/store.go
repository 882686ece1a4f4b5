package metricsource

import (
	"context"
	"fmt"
	"time"

	"github.com/frostdev-ops/pma-alert-engine/internal/core/alerting"
	"github.com/frostdev-ops/pma-alert-engine/internal/database/models"
	"github.com/frostdev-ops/pma-alert-engine/internal/database/sqlite"
)

// StoreSource reads series from the metric_samples table filled through the
// samples API.
type StoreSource struct {
	samples *sqlite.SampleRepository
	now     func() time.Time
}

func NewStoreSource(samples *sqlite.SampleRepository) *StoreSource {
	return &StoreSource{samples: samples, now: time.Now}
}

// Query returns the stored samples of metric in the trailing window grouped
// by label set.
func (s *StoreSource) Query(ctx context.Context, metric, workspaceID string, window time.Duration) ([]alerting.TimeSeries, error) {
	rows, err := s.samples.QuerySamples(ctx, workspaceID, metric, s.now().Add(-window))
	if err != nil {
		return nil, err
	}

	byLabels := make(map[string]*alerting.TimeSeries)
	var order []string
	for _, row := range rows {
		ts, ok := byLabels[row.Labels]
		if !ok {
			labels, err := row.LabelMap()
			if err != nil {
				return nil, fmt.Errorf("decode sample labels: %w", err)
			}
			ts = &alerting.TimeSeries{Metric: metric, Labels: labels}
			byLabels[row.Labels] = ts
			order = append(order, row.Labels)
		}
		ts.Points = append(ts.Points, alerting.Point{Timestamp: models.FromMillis(row.Timestamp), Value: row.Value})
	}

	series := make([]alerting.TimeSeries, 0, len(order))
	for _, key := range order {
		series = append(series, *byLabels[key])
	}
	return normalize(metric, series), nil
}

// Ingest stores points for metric in workspaceID.
func (s *StoreSource) Ingest(ctx context.Context, workspaceID, metric string, labels map[string]string, points []alerting.Point) error {
	return s.samples.InsertSamples(ctx, workspaceID, metric, labels, points)
}
