package alerting

import (
	"time"

	apperrors "github.com/frostdev-ops/pma-alert-engine/pkg/errors"
)

// ConditionType tags the Condition union.
type ConditionType string

const (
	ConditionThreshold ConditionType = "threshold"
	ConditionChange    ConditionType = "change"
	ConditionAnomaly   ConditionType = "anomaly"
	ConditionPattern   ConditionType = "pattern"
)

// Operator is a threshold comparison.
type Operator string

const (
	OpGreater      Operator = ">"
	OpLess         Operator = "<"
	OpGreaterEqual Operator = ">="
	OpLessEqual    Operator = "<="
	OpEqual        Operator = "=="
	OpNotEqual     Operator = "!="
)

// Valid reports whether op is a supported comparison.
func (op Operator) Valid() bool {
	switch op {
	case OpGreater, OpLess, OpGreaterEqual, OpLessEqual, OpEqual, OpNotEqual:
		return true
	}
	return false
}

// ChangeType selects how a change delta is computed.
type ChangeType string

const (
	ChangePercent  ChangeType = "percent"
	ChangeAbsolute ChangeType = "absolute"
)

// PatternKind names a windowed heuristic.
type PatternKind string

const (
	// PatternIncreasing matches consecutive strictly increasing steps.
	PatternIncreasing PatternKind = "increasing"
	// PatternDecreasing matches consecutive strictly decreasing steps.
	PatternDecreasing PatternKind = "decreasing"
	// PatternSpikes counts points more than two standard deviations above
	// the window mean.
	PatternSpikes PatternKind = "spikes"
)

// Condition is a tagged union over the four evaluator variants. Exactly the
// variant named by Type must be set.
type Condition struct {
	Type      ConditionType       `json:"type" yaml:"type"`
	Threshold *ThresholdCondition `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	Change    *ChangeCondition    `json:"change,omitempty" yaml:"change,omitempty"`
	Anomaly   *AnomalyCondition   `json:"anomaly,omitempty" yaml:"anomaly,omitempty"`
	Pattern   *PatternCondition   `json:"pattern,omitempty" yaml:"pattern,omitempty"`
}

// ThresholdCondition triggers when every point in the trailing Duration
// satisfies Operator against Value.
type ThresholdCondition struct {
	Metric   string   `json:"metric" yaml:"metric"`
	Operator Operator `json:"operator" yaml:"operator"`
	Value    float64  `json:"value" yaml:"value"`
	Duration Duration `json:"duration" yaml:"duration"`
}

// ChangeCondition compares the mean of the current Window with the mean of
// a same-length window ComparisonPeriod earlier. Window defaults to
// ComparisonPeriod.
type ChangeCondition struct {
	Metric           string     `json:"metric" yaml:"metric"`
	ChangeType       ChangeType `json:"change_type" yaml:"change_type"`
	Threshold        float64    `json:"threshold" yaml:"threshold"`
	ComparisonPeriod Duration   `json:"comparison_period" yaml:"comparison_period"`
	Window           Duration   `json:"window,omitempty" yaml:"window,omitempty"`
}

// EffectiveWindow returns Window, or ComparisonPeriod when unset.
func (c *ChangeCondition) EffectiveWindow() time.Duration {
	if c.Window > 0 {
		return c.Window.Std()
	}
	return c.ComparisonPeriod.Std()
}

// DefaultAnomalyBaseline is the rolling window used when Baseline is unset.
const DefaultAnomalyBaseline = time.Hour

// AnomalyCondition triggers when |z| >= Sensitivity for every point in the
// trailing MinDeviationDuration. Mean and standard deviation are computed
// over the Baseline window preceding it.
type AnomalyCondition struct {
	Metric               string   `json:"metric" yaml:"metric"`
	Sensitivity          float64  `json:"sensitivity" yaml:"sensitivity"`
	MinDeviationDuration Duration `json:"min_deviation_duration" yaml:"min_deviation_duration"`
	Baseline             Duration `json:"baseline,omitempty" yaml:"baseline,omitempty"`
}

// EffectiveBaseline returns Baseline or DefaultAnomalyBaseline.
func (c *AnomalyCondition) EffectiveBaseline() time.Duration {
	if c.Baseline > 0 {
		return c.Baseline.Std()
	}
	return DefaultAnomalyBaseline
}

// PatternCondition matches Kind over the trailing Window. When Buckets is
// set, points are summed into that many equal sub-windows first.
type PatternCondition struct {
	Metric         string      `json:"metric" yaml:"metric"`
	Kind           PatternKind `json:"pattern_kind" yaml:"pattern_kind"`
	Window         Duration    `json:"window" yaml:"window"`
	MinOccurrences int         `json:"min_occurrences" yaml:"min_occurrences"`
	Buckets        int         `json:"buckets,omitempty" yaml:"buckets,omitempty"`
}

// Metric returns the metric named by the active variant.
func (c Condition) Metric() string {
	switch c.Type {
	case ConditionThreshold:
		if c.Threshold != nil {
			return c.Threshold.Metric
		}
	case ConditionChange:
		if c.Change != nil {
			return c.Change.Metric
		}
	case ConditionAnomaly:
		if c.Anomaly != nil {
			return c.Anomaly.Metric
		}
	case ConditionPattern:
		if c.Pattern != nil {
			return c.Pattern.Metric
		}
	}
	return ""
}

// Lookback is how much history the condition needs, plus slack so the
// fetched series reaches back past the start of its window.
func (c Condition) Lookback(slack time.Duration) time.Duration {
	var window time.Duration
	switch c.Type {
	case ConditionThreshold:
		if c.Threshold != nil {
			window = c.Threshold.Duration.Std()
		}
	case ConditionChange:
		if c.Change != nil {
			window = c.Change.EffectiveWindow() + c.Change.ComparisonPeriod.Std()
		}
	case ConditionAnomaly:
		if c.Anomaly != nil {
			window = c.Anomaly.EffectiveBaseline() + c.Anomaly.MinDeviationDuration.Std()
		}
	case ConditionPattern:
		if c.Pattern != nil {
			window = c.Pattern.Window.Std()
		}
	}
	return window + slack
}

// Validate checks that exactly the tagged variant is set and well formed.
func (c Condition) Validate() error {
	problems := apperrors.NewConfigProblems("condition")

	set := 0
	for _, present := range []bool{c.Threshold != nil, c.Change != nil, c.Anomaly != nil, c.Pattern != nil} {
		if present {
			set++
		}
	}
	if set > 1 {
		problems.Addf("exactly one condition variant may be set, got %d", set)
	}

	switch c.Type {
	case ConditionThreshold:
		t := c.Threshold
		if t == nil {
			problems.Addf("threshold parameters are required")
			break
		}
		if t.Metric == "" {
			problems.Addf("threshold.metric is required")
		}
		if !t.Operator.Valid() {
			problems.Addf("threshold.operator %q is not one of >, <, >=, <=, ==, !=", t.Operator)
		}
		if t.Duration < 0 {
			problems.Addf("threshold.duration must not be negative")
		}
	case ConditionChange:
		ch := c.Change
		if ch == nil {
			problems.Addf("change parameters are required")
			break
		}
		if ch.Metric == "" {
			problems.Addf("change.metric is required")
		}
		if ch.ChangeType != ChangePercent && ch.ChangeType != ChangeAbsolute {
			problems.Addf("change.change_type %q must be percent or absolute", ch.ChangeType)
		}
		if ch.Threshold <= 0 {
			problems.Addf("change.threshold must be greater than 0")
		}
		if ch.ComparisonPeriod <= 0 {
			problems.Addf("change.comparison_period must be greater than 0")
		}
		if ch.Window < 0 {
			problems.Addf("change.window must not be negative")
		}
	case ConditionAnomaly:
		a := c.Anomaly
		if a == nil {
			problems.Addf("anomaly parameters are required")
			break
		}
		if a.Metric == "" {
			problems.Addf("anomaly.metric is required")
		}
		if a.Sensitivity <= 0 {
			problems.Addf("anomaly.sensitivity must be greater than 0")
		}
		if a.MinDeviationDuration < 0 {
			problems.Addf("anomaly.min_deviation_duration must not be negative")
		}
		if a.Baseline < 0 {
			problems.Addf("anomaly.baseline must not be negative")
		}
	case ConditionPattern:
		p := c.Pattern
		if p == nil {
			problems.Addf("pattern parameters are required")
			break
		}
		if p.Metric == "" {
			problems.Addf("pattern.metric is required")
		}
		switch p.Kind {
		case PatternIncreasing, PatternDecreasing, PatternSpikes:
		default:
			problems.Addf("pattern.pattern_kind %q must be increasing, decreasing or spikes", p.Kind)
		}
		if p.Window <= 0 {
			problems.Addf("pattern.window must be greater than 0")
		}
		if p.MinOccurrences < 1 {
			problems.Addf("pattern.min_occurrences must be at least 1")
		}
		if p.Buckets < 0 {
			problems.Addf("pattern.buckets must not be negative")
		}
	default:
		problems.Addf("condition.type %q must be threshold, change, anomaly or pattern", c.Type)
	}

	return problems.Err()
}
