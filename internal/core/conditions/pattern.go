package conditions

import (
	"time"

	"github.com/frostdev-ops/pma-alert-engine/internal/core/alerting"
)

type patternEvaluator struct {
	params alerting.PatternCondition
}

func (e *patternEvaluator) Evaluate(points []alerting.Point) alerting.Verdict {
	points = ordered(points)
	if len(points) == 0 {
		return insufficient(points)
	}

	last := points[len(points)-1]
	start := last.Timestamp.Add(-e.params.Window.Std())
	if points[0].Timestamp.After(start) {
		return insufficient(points)
	}

	values := valuesOf(since(points, start))
	if e.params.Buckets > 0 {
		values = bucketSums(since(points, start), start, e.params.Window.Std(), e.params.Buckets)
	}

	var occurrences, needed int
	switch e.params.Kind {
	case alerting.PatternIncreasing:
		needed = e.params.MinOccurrences + 1
		occurrences = trailingRun(values, func(prev, next float64) bool { return next > prev })
	case alerting.PatternDecreasing:
		needed = e.params.MinOccurrences + 1
		occurrences = trailingRun(values, func(prev, next float64) bool { return next < prev })
	case alerting.PatternSpikes:
		needed = e.params.MinOccurrences + 2
		occurrences = spikes(values)
	}
	if len(values) < needed {
		return insufficient(points)
	}

	verdict := alerting.Verdict{
		ObservedValue: last.Value,
		SeverityScore: float64(occurrences),
		Reason:        alerting.ReasonWithinBounds,
	}
	if occurrences >= e.params.MinOccurrences {
		verdict.Triggered = true
		verdict.Reason = alerting.ReasonBreached
	}
	return verdict
}

// trailingRun counts consecutive steps ending at the newest value for which
// step(prev, next) holds.
func trailingRun(values []float64, step func(prev, next float64) bool) int {
	run := 0
	for i := len(values) - 1; i > 0; i-- {
		if !step(values[i-1], values[i]) {
			break
		}
		run++
	}
	return run
}

// spikes counts values more than two standard deviations above the mean.
func spikes(values []float64) int {
	mu := mean(values)
	sigma := stddev(values, mu)
	if sigma == 0 {
		return 0
	}
	count := 0
	for _, v := range values {
		if v > mu+2*sigma {
			count++
		}
	}
	return count
}

// bucketSums sums points into n equal sub-windows of [start, start+window].
func bucketSums(points []alerting.Point, start time.Time, window time.Duration, n int) []float64 {
	sums := make([]float64, n)
	size := window / time.Duration(n)
	if size <= 0 {
		size = 1
	}
	for _, p := range points {
		i := int(p.Timestamp.Sub(start) / size)
		if i >= n {
			i = n - 1
		}
		if i < 0 {
			i = 0
		}
		sums[i] += p.Value
	}
	return sums
}
