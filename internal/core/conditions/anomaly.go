package conditions

import (
	"math"

	"github.com/frostdev-ops/pma-alert-engine/internal/core/alerting"
)

// MinBaselinePoints is the fewest baseline samples an anomaly verdict needs.
const MinBaselinePoints = 3

// ReasonZeroVariance is reported when the baseline is flat and no z-score
// can be computed.
const ReasonZeroVariance = "zero_variance"

type anomalyEvaluator struct {
	params alerting.AnomalyCondition
}

// Evaluate splits the series into a baseline window and the trailing
// deviation window. Every point of the deviation window must reach the
// sensitivity for the verdict to trigger.
func (e *anomalyEvaluator) Evaluate(points []alerting.Point) alerting.Verdict {
	points = ordered(points)
	if len(points) == 0 {
		return insufficient(points)
	}

	last := points[len(points)-1]
	devStart := last.Timestamp.Add(-e.params.MinDeviationDuration.Std())
	baselineStart := devStart.Add(-e.params.EffectiveBaseline())

	var baseline, recent []alerting.Point
	for _, p := range points {
		switch {
		case p.Timestamp.Before(baselineStart):
		case p.Timestamp.Before(devStart):
			baseline = append(baseline, p)
		default:
			recent = append(recent, p)
		}
	}
	if e.params.MinDeviationDuration == 0 {
		// Only the newest point is judged; anything else at the same
		// timestamp belongs to the baseline.
		baseline = append(baseline, recent[:len(recent)-1]...)
		recent = recent[len(recent)-1:]
	}
	if len(baseline) < MinBaselinePoints {
		return insufficient(points)
	}

	values := valuesOf(baseline)
	mu := mean(values)
	sigma := stddev(values, mu)
	if sigma == 0 {
		return alerting.Verdict{ObservedValue: last.Value, Reason: ReasonZeroVariance}
	}

	sustained := true
	for _, p := range recent {
		if math.Abs((p.Value-mu)/sigma) < e.params.Sensitivity {
			sustained = false
			break
		}
	}

	z := (last.Value - mu) / sigma
	verdict := alerting.Verdict{
		ObservedValue: last.Value,
		SeverityScore: math.Abs(z),
		Severity:      SeverityForZ(z),
		Reason:        alerting.ReasonWithinBounds,
	}
	if sustained {
		verdict.Triggered = true
		verdict.Reason = alerting.ReasonBreached
	}
	return verdict
}
