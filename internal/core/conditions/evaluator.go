// Package conditions implements the pure condition evaluators: threshold,
// change, anomaly (z-score) and pattern. Evaluators never perform I/O and
// never return errors for missing data; they report insufficient_data in
// the verdict instead.
package conditions

import (
	"math"
	"sort"
	"time"

	"github.com/frostdev-ops/pma-alert-engine/internal/core/alerting"
)

// Evaluator maps an ordered series to a verdict.
type Evaluator interface {
	Evaluate(points []alerting.Point) alerting.Verdict
}

// New validates cond and returns the evaluator for its variant.
func New(cond alerting.Condition) (Evaluator, error) {
	if err := cond.Validate(); err != nil {
		return nil, err
	}
	switch cond.Type {
	case alerting.ConditionThreshold:
		return &thresholdEvaluator{params: *cond.Threshold}, nil
	case alerting.ConditionChange:
		return &changeEvaluator{params: *cond.Change}, nil
	case alerting.ConditionAnomaly:
		return &anomalyEvaluator{params: *cond.Anomaly}, nil
	default:
		return &patternEvaluator{params: *cond.Pattern}, nil
	}
}

// Evaluate is a convenience wrapper around New and Evaluate.
func Evaluate(cond alerting.Condition, points []alerting.Point) (alerting.Verdict, error) {
	evaluator, err := New(cond)
	if err != nil {
		return alerting.Verdict{}, err
	}
	return evaluator.Evaluate(points), nil
}

// Compare applies op to value and threshold. A non-finite value never
// satisfies any operator.
func Compare(value float64, op alerting.Operator, threshold float64) bool {
	if !finite(value) {
		return false
	}
	switch op {
	case alerting.OpGreater:
		return value > threshold
	case alerting.OpLess:
		return value < threshold
	case alerting.OpGreaterEqual:
		return value >= threshold
	case alerting.OpLessEqual:
		return value <= threshold
	case alerting.OpEqual:
		return value == threshold
	case alerting.OpNotEqual:
		return value != threshold
	}
	return false
}

// SeverityForZ maps |z| onto the anomaly severity bands.
func SeverityForZ(z float64) alerting.Severity {
	z = math.Abs(z)
	switch {
	case z >= 4.0:
		return alerting.SeverityCritical
	case z >= 3.0:
		return alerting.SeverityHigh
	case z >= 2.5:
		return alerting.SeverityMedium
	case z >= 2.0:
		return alerting.SeverityLow
	default:
		return alerting.SeverityNone
	}
}

func insufficient(points []alerting.Point) alerting.Verdict {
	v := alerting.Verdict{Reason: alerting.ReasonInsufficientData}
	if n := len(points); n > 0 {
		v.ObservedValue = points[n-1].Value
	}
	return v
}

// ordered returns the finite points sorted by timestamp without touching
// the input. NaN and infinite samples are dropped.
func ordered(points []alerting.Point) []alerting.Point {
	out, copied := points, false
	for _, p := range points {
		if !finite(p.Value) {
			out, copied = make([]alerting.Point, 0, len(points)), true
			for _, q := range points {
				if finite(q.Value) {
					out = append(out, q)
				}
			}
			break
		}
	}

	less := func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) }
	if sort.SliceIsSorted(out, less) {
		return out
	}
	if !copied {
		out = append([]alerting.Point(nil), out...)
	}
	sort.SliceStable(out, less)
	return out
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// since returns the suffix of points with timestamp >= start.
func since(points []alerting.Point, start time.Time) []alerting.Point {
	i := sort.Search(len(points), func(i int) bool { return !points[i].Timestamp.Before(start) })
	return points[i:]
}

// between returns points with from < timestamp <= to.
func between(points []alerting.Point, from, to time.Time) []alerting.Point {
	var out []alerting.Point
	for _, p := range points {
		if p.Timestamp.After(from) && !p.Timestamp.After(to) {
			out = append(out, p)
		}
	}
	return out
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// stddev is the population standard deviation.
func stddev(values []float64, mu float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sq float64
	for _, v := range values {
		d := v - mu
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values)))
}

func valuesOf(points []alerting.Point) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Value
	}
	return out
}
