package engine

import (
	"context"
	"time"

	"github.com/frostdev-ops/pma-alert-engine/internal/core/alerting"
	"github.com/frostdev-ops/pma-alert-engine/internal/core/conditions"
	"github.com/frostdev-ops/pma-alert-engine/internal/core/lifecycle"
	"github.com/frostdev-ops/pma-alert-engine/internal/core/metrics"
	"github.com/frostdev-ops/pma-alert-engine/internal/core/suppression"
	apperrors "github.com/frostdev-ops/pma-alert-engine/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Evaluation is the record of one pass of a rule through the pipeline.
type Evaluation struct {
	RuleID      string       `json:"rule_id"`
	EvaluatedAt time.Time    `json:"evaluated_at"`
	Dimensions  []*Dimension `json:"dimensions"`
}

// Dimension is the outcome for one label set of the rule's metric.
type Dimension struct {
	Verdict     alerting.Verdict          `json:"verdict"`
	Fingerprint string                    `json:"fingerprint"`
	Labels      map[string]string         `json:"labels,omitempty"`
	Points      int                       `json:"points"`
	Suppressed  bool                      `json:"suppressed"`
	Suppression *alerting.SuppressionRule `json:"suppression,omitempty"`
	Action      lifecycle.Action          `json:"action"`
	Alert       *alerting.Alert           `json:"alert,omitempty"`
}

// Pipeline runs fetch, evaluate, suppress and apply for one rule.
type Pipeline struct {
	source    alerting.MetricSource
	filter    *suppression.Filter
	lifecycle *lifecycle.Manager
	metrics   metrics.MetricsCollector
	log       *logrus.Logger
	slack     time.Duration
}

func NewPipeline(source alerting.MetricSource, filter *suppression.Filter, manager *lifecycle.Manager, collector metrics.MetricsCollector, log *logrus.Logger, lookbackSlack time.Duration) *Pipeline {
	return &Pipeline{
		source:    source,
		filter:    filter,
		lifecycle: manager,
		metrics:   metrics.OrNop(collector),
		log:       log,
		slack:     lookbackSlack,
	}
}

// RunRule implements scheduler.Runner.
func (p *Pipeline) RunRule(ctx context.Context, rule *alerting.AlertRule, now time.Time) error {
	_, err := p.Evaluate(ctx, rule, now)
	return err
}

// Evaluate passes rule through the pipeline once. Every series the source
// returns is its own dimension with its own fingerprint; with no series a
// single insufficient_data dimension carrying the rule labels is reported.
// A failed dimension does not stop the others, the first error is returned
// after all of them ran.
func (p *Pipeline) Evaluate(ctx context.Context, rule *alerting.AlertRule, now time.Time) (*Evaluation, error) {
	start := time.Now()
	series, err := p.source.Query(ctx, rule.Metric(), rule.WorkspaceID, rule.Condition.Lookback(p.slack))
	if err != nil {
		p.metrics.RecordEvaluation(metrics.ResultError, time.Since(start))
		return nil, apperrors.NewEvaluationError(rule.ID, "fetch", err)
	}
	if len(series) == 0 {
		series = []alerting.TimeSeries{{Metric: rule.Metric()}}
	}

	ev := &Evaluation{RuleID: rule.ID, EvaluatedAt: now}
	var firstErr error
	for _, ts := range series {
		dim, err := p.evaluateDimension(ctx, rule, ts, now, start)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		ev.Dimensions = append(ev.Dimensions, dim)
	}
	if firstErr != nil {
		return ev, firstErr
	}
	return ev, nil
}

// evaluateDimension runs one series through evaluation, suppression and the
// state machine. Suppression applies to triggered verdicts only and stops
// before any alert state is touched.
func (p *Pipeline) evaluateDimension(ctx context.Context, rule *alerting.AlertRule, ts alerting.TimeSeries, now, start time.Time) (*Dimension, error) {
	dim := &Dimension{Points: len(ts.Points), Action: lifecycle.ActionNone}

	verdict, err := conditions.Evaluate(rule.Condition, ts.Points)
	if err != nil {
		p.metrics.RecordEvaluation(metrics.ResultError, time.Since(start))
		return nil, apperrors.NewEvaluationError(rule.ID, "evaluate", err)
	}
	dim.Verdict = verdict
	dim.Labels = dimensionLabels(rule.Labels, ts.Labels)
	dim.Fingerprint = alerting.Fingerprint(rule.ID, dim.Labels)

	if verdict.Triggered {
		decision := p.filter.ShouldSuppress(ctx, suppression.Trigger{
			Rule:        rule,
			Verdict:     verdict,
			Fingerprint: dim.Fingerprint,
			Labels:      dim.Labels,
		}, now)
		if decision.Suppressed {
			dim.Suppressed = true
			dim.Suppression = decision.Suppression
			p.metrics.RecordEvaluation(metrics.ResultSuppressed, time.Since(start))
			return dim, nil
		}
	}

	outcome, err := p.lifecycle.Apply(ctx, rule, verdict, dim.Fingerprint, dim.Labels, now)
	if err != nil {
		p.metrics.RecordEvaluation(metrics.ResultError, time.Since(start))
		return nil, apperrors.NewEvaluationError(rule.ID, "lifecycle", err)
	}
	dim.Action = outcome.Action
	dim.Alert = outcome.Alert

	p.metrics.RecordEvaluation(resultOf(verdict), time.Since(start))
	p.log.WithFields(logrus.Fields{
		"rule_id":     rule.ID,
		"fingerprint": dim.Fingerprint,
		"triggered":   verdict.Triggered,
		"reason":      verdict.Reason,
		"value":       verdict.ObservedValue,
		"action":      outcome.Action,
	}).Debug("Rule evaluated")
	return dim, nil
}

// dimensionLabels overlays the series labels on the rule's labels.
func dimensionLabels(ruleLabels, seriesLabels map[string]string) map[string]string {
	if len(seriesLabels) == 0 {
		return ruleLabels
	}
	out := make(map[string]string, len(ruleLabels)+len(seriesLabels))
	for k, v := range ruleLabels {
		out[k] = v
	}
	for k, v := range seriesLabels {
		out[k] = v
	}
	return out
}

func resultOf(v alerting.Verdict) string {
	switch {
	case v.Reason == alerting.ReasonInsufficientData:
		return metrics.ResultInsufficient
	case v.Triggered:
		return metrics.ResultTriggered
	default:
		return metrics.ResultClear
	}
}
