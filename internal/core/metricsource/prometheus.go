package metricsource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/frostdev-ops/pma-alert-engine/internal/core/alerting"
	apperrors "github.com/frostdev-ops/pma-alert-engine/pkg/errors"
	"github.com/prometheus/common/model"
	"github.com/sirupsen/logrus"
)

var metricName = regexp.MustCompile(`^[a-zA-Z_:][a-zA-Z0-9_:]*$`)

// PrometheusConfig configures PrometheusSource.
type PrometheusConfig struct {
	URL            string
	Timeout        time.Duration
	Step           time.Duration
	WorkspaceLabel string
	// BreakerFailures consecutive failed queries open the circuit for
	// BreakerReset. Zero values use the breaker defaults.
	BreakerFailures int
	BreakerReset    time.Duration
}

// PrometheusSource reads series through the query_range API.
type PrometheusSource struct {
	base    *url.URL
	cfg     PrometheusConfig
	client  *http.Client
	breaker *apperrors.CircuitBreaker
	log     *logrus.Logger
}

func NewPrometheusSource(cfg PrometheusConfig, log *logrus.Logger) (*PrometheusSource, error) {
	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid prometheus url %q", cfg.URL)
	}
	if cfg.WorkspaceLabel == "" {
		cfg.WorkspaceLabel = "workspace"
	}
	if cfg.Step <= 0 {
		cfg.Step = 15 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &PrometheusSource{
		base:   base,
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		breaker: apperrors.NewCircuitBreaker(apperrors.CircuitBreakerConfig{
			Name:         "prometheus",
			MaxFailures:  cfg.BreakerFailures,
			ResetTimeout: cfg.BreakerReset,
			Logger:       log,
		}),
		log: log,
	}, nil
}

type queryRangeResponse struct {
	Status    string `json:"status"`
	ErrorType string `json:"errorType,omitempty"`
	Error     string `json:"error,omitempty"`
	Data      struct {
		ResultType string       `json:"resultType"`
		Result     model.Matrix `json:"result"`
	} `json:"data"`
}

// Selector is the PromQL selector used for metric in workspaceID.
func (p *PrometheusSource) Selector(metric, workspaceID string) (string, error) {
	if !metricName.MatchString(metric) {
		return "", fmt.Errorf("invalid metric name %q", metric)
	}
	if workspaceID == "" {
		return metric, nil
	}
	return fmt.Sprintf("%s{%s=%s}", metric, p.cfg.WorkspaceLabel, strconv.Quote(workspaceID)), nil
}

// Query fetches metric over the trailing window, one series per label set.
// While the circuit is open queries fail without reaching the server.
func (p *PrometheusSource) Query(ctx context.Context, metric, workspaceID string, window time.Duration) ([]alerting.TimeSeries, error) {
	query, err := p.Selector(metric, workspaceID)
	if err != nil {
		return nil, err
	}

	var series []alerting.TimeSeries
	err = p.breaker.Execute(ctx, func(ctx context.Context) error {
		var fetchErr error
		series, fetchErr = p.queryRange(ctx, metric, query, window)
		return fetchErr
	})
	if err != nil {
		return nil, err
	}

	p.log.WithFields(logrus.Fields{
		"metric":       metric,
		"workspace_id": workspaceID,
		"series":       len(series),
	}).Debug("Fetched series from prometheus")

	return normalize(metric, series), nil
}

// Breaker exposes the circuit state for health reporting.
func (p *PrometheusSource) Breaker() *apperrors.CircuitBreaker {
	return p.breaker
}

func (p *PrometheusSource) queryRange(ctx context.Context, metric, query string, window time.Duration) ([]alerting.TimeSeries, error) {
	end := time.Now()
	start := end.Add(-window)
	params := url.Values{}
	params.Set("query", query)
	params.Set("start", strconv.FormatFloat(float64(start.UnixMilli())/1000, 'f', 3, 64))
	params.Set("end", strconv.FormatFloat(float64(end.UnixMilli())/1000, 'f', 3, 64))
	params.Set("step", strconv.FormatFloat(p.cfg.Step.Seconds(), 'f', -1, 64))

	endpoint := p.base.String() + "/api/v1/query_range?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build query_range request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query_range %s: %w", metric, err)
	}
	defer resp.Body.Close()

	var decoded queryRangeResponse
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if json.Unmarshal(body, &decoded) == nil && decoded.Error != "" {
			return nil, fmt.Errorf("query_range %s returned %d: %s: %s", metric, resp.StatusCode, decoded.ErrorType, decoded.Error)
		}
		return nil, fmt.Errorf("query_range %s returned %d: %s", metric, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode query_range response: %w", err)
	}
	if decoded.Status != "success" {
		return nil, fmt.Errorf("query_range %s failed: %s", metric, decoded.Error)
	}

	series := make([]alerting.TimeSeries, 0, len(decoded.Data.Result))
	for _, stream := range decoded.Data.Result {
		ts := alerting.TimeSeries{Metric: metric, Labels: labelsOf(stream.Metric)}
		for _, v := range stream.Values {
			ts.Points = append(ts.Points, alerting.Point{
				Timestamp: v.Timestamp.Time().UTC(),
				Value:     float64(v.Value),
			})
		}
		series = append(series, ts)
	}
	return series, nil
}

func labelsOf(m model.Metric) map[string]string {
	labels := make(map[string]string, len(m))
	for k, v := range m {
		if k == model.MetricNameLabel {
			continue
		}
		labels[string(k)] = string(v)
	}
	if len(labels) == 0 {
		return nil
	}
	return labels
}
