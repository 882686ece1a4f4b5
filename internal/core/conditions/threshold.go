package conditions

import (
	"math"

	"github.com/frostdev-ops/pma-alert-engine/internal/core/alerting"
)

type thresholdEvaluator struct {
	params alerting.ThresholdCondition
}

// Evaluate triggers only when every point of the trailing window breaches.
// The series must reach back to the start of the window, otherwise a short
// burst would look like a sustained breach.
func (e *thresholdEvaluator) Evaluate(points []alerting.Point) alerting.Verdict {
	points = ordered(points)
	if len(points) == 0 {
		return insufficient(points)
	}

	last := points[len(points)-1]
	start := last.Timestamp.Add(-e.params.Duration.Std())
	if points[0].Timestamp.After(start) {
		return insufficient(points)
	}

	verdict := alerting.Verdict{
		ObservedValue: last.Value,
		SeverityScore: math.Abs(last.Value - e.params.Value),
		Reason:        alerting.ReasonWithinBounds,
	}
	for _, p := range since(points, start) {
		if !Compare(p.Value, e.params.Operator, e.params.Value) {
			return verdict
		}
	}

	verdict.Triggered = true
	verdict.Reason = alerting.ReasonBreached
	return verdict
}
