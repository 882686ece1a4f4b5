package conditions

import (
	"math"

	"github.com/frostdev-ops/pma-alert-engine/internal/core/alerting"
)

type changeEvaluator struct {
	params alerting.ChangeCondition
}

func (e *changeEvaluator) Evaluate(points []alerting.Point) alerting.Verdict {
	points = ordered(points)
	if len(points) == 0 {
		return insufficient(points)
	}

	end := points[len(points)-1].Timestamp
	window := e.params.EffectiveWindow()
	period := e.params.ComparisonPeriod.Std()

	current := between(points, end.Add(-window), end)
	previousEnd := end.Add(-period)
	previous := between(points, previousEnd.Add(-window), previousEnd)
	if len(current) == 0 || len(previous) == 0 {
		return insufficient(points)
	}

	cur := mean(valuesOf(current))
	prev := mean(valuesOf(previous))

	var delta float64
	switch e.params.ChangeType {
	case alerting.ChangePercent:
		if prev == 0 {
			if cur == 0 {
				return alerting.Verdict{ObservedValue: cur, Reason: alerting.ReasonWithinBounds}
			}
			return alerting.Verdict{ObservedValue: cur, Reason: alerting.ReasonZeroBaseline}
		}
		delta = (cur - prev) / math.Abs(prev) * 100
	default:
		delta = cur - prev
	}

	verdict := alerting.Verdict{
		ObservedValue: cur,
		SeverityScore: math.Abs(delta),
		Reason:        alerting.ReasonWithinBounds,
	}
	if math.Abs(delta) >= e.params.Threshold {
		verdict.Triggered = true
		verdict.Reason = alerting.ReasonBreached
	}
	return verdict
}
