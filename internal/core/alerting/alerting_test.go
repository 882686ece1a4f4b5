package alerting

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	apperrors "github.com/frostdev-ops/pma-alert-engine/pkg/errors"
)

func validRule() *AlertRule {
	return &AlertRule{
		ID:          "rule-1",
		WorkspaceID: "ws-1",
		Name:        "error rate",
		Severity:    SeverityHigh,
		Condition: Condition{
			Type: ConditionThreshold,
			Threshold: &ThresholdCondition{
				Metric:   "error_rate",
				Operator: OpGreater,
				Value:    0.05,
				Duration: Minutes(5),
			},
		},
		CheckInterval: Minutes(1),
		Cooldown:      Minutes(60),
		Active:        true,
	}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("rule-1", map[string]string{"host": "a", "region": "eu"})
	b := Fingerprint("rule-1", map[string]string{"region": "eu", "host": "a"})
	c := Fingerprint("rule-2", map[string]string{"host": "a", "region": "eu"})
	d := Fingerprint("rule-1", map[string]string{"host": "b", "region": "eu"})

	assert.Equal(t, a, b, "label order must not change the fingerprint")
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
	assert.Len(t, a, 32)
	assert.Equal(t, Fingerprint("rule-1", nil), Fingerprint("rule-1", map[string]string{}))
}

func TestRuleValidate(t *testing.T) {
	require.NoError(t, validRule().Validate())

	tests := []struct {
		name    string
		mutate  func(r *AlertRule)
		problem string
	}{
		{"missing name", func(r *AlertRule) { r.Name = "" }, "name is required"},
		{"bad severity", func(r *AlertRule) { r.Severity = "urgent" }, "severity"},
		{"none severity", func(r *AlertRule) { r.Severity = SeverityNone }, "severity"},
		{"short interval", func(r *AlertRule) { r.CheckInterval = Duration(time.Second) }, "check_interval"},
		{"bad operator", func(r *AlertRule) { r.Condition.Threshold.Operator = "=>" }, "threshold.operator"},
		{"missing variant", func(r *AlertRule) { r.Condition.Threshold = nil }, "threshold parameters"},
		{"unknown type", func(r *AlertRule) { r.Condition.Type = "forecast" }, "condition.type"},
		{"channels without recipients", func(r *AlertRule) { r.NotificationChannels = []ChannelType{ChannelEmail} }, "recipients"},
		{"unknown channel", func(r *AlertRule) { r.NotificationChannels = []ChannelType{"fax"}; r.Recipients = []string{"x"} }, "fax"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := validRule()
			tt.mutate(rule)
			err := rule.Validate()
			require.Error(t, err)

			var cfgErr *apperrors.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Contains(t, err.Error(), tt.problem)
		})
	}
}

func TestConditionValidateVariants(t *testing.T) {
	tests := []struct {
		name  string
		cond  Condition
		valid bool
	}{
		{"change ok", Condition{Type: ConditionChange, Change: &ChangeCondition{Metric: "m", ChangeType: ChangePercent, Threshold: 20, ComparisonPeriod: Minutes(60)}}, true},
		{"change bad type", Condition{Type: ConditionChange, Change: &ChangeCondition{Metric: "m", ChangeType: "ratio", Threshold: 20, ComparisonPeriod: Minutes(60)}}, false},
		{"anomaly ok", Condition{Type: ConditionAnomaly, Anomaly: &AnomalyCondition{Metric: "m", Sensitivity: 2.5}}, true},
		{"anomaly zero sensitivity", Condition{Type: ConditionAnomaly, Anomaly: &AnomalyCondition{Metric: "m"}}, false},
		{"pattern ok", Condition{Type: ConditionPattern, Pattern: &PatternCondition{Metric: "m", Kind: PatternIncreasing, Window: Minutes(10), MinOccurrences: 3}}, true},
		{"pattern bad kind", Condition{Type: ConditionPattern, Pattern: &PatternCondition{Metric: "m", Kind: "sawtooth", Window: Minutes(10), MinOccurrences: 3}}, false},
		{"two variants", Condition{
			Type:      ConditionAnomaly,
			Anomaly:   &AnomalyCondition{Metric: "m", Sensitivity: 2},
			Threshold: &ThresholdCondition{Metric: "m", Operator: OpGreater},
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cond.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestConditionLookback(t *testing.T) {
	slack := time.Minute
	threshold := validRule().Condition
	assert.Equal(t, 6*time.Minute, threshold.Lookback(slack))

	change := Condition{Type: ConditionChange, Change: &ChangeCondition{Metric: "m", ComparisonPeriod: Minutes(60), Window: Minutes(10)}}
	assert.Equal(t, 71*time.Minute, change.Lookback(slack))

	anomaly := Condition{Type: ConditionAnomaly, Anomaly: &AnomalyCondition{Metric: "m", Sensitivity: 3, MinDeviationDuration: Minutes(5)}}
	assert.Equal(t, time.Hour+6*time.Minute, anomaly.Lookback(slack))
}

func TestPolicyValidate(t *testing.T) {
	policy := &EscalationPolicy{
		Name: "ops",
		Levels: []EscalationLevel{
			{Level: 0, DelayMinutes: 0, Channels: []ChannelType{ChannelEmail}, Recipients: []string{"ops@example.com"}},
			{Level: 1, DelayMinutes: 15, Channels: []ChannelType{ChannelSlack, ChannelSMS}, Recipients: []string{"#ops"}},
		},
	}
	require.NoError(t, policy.Validate())

	policy.Levels[1].DelayMinutes = 0
	assert.ErrorContains(t, policy.Validate(), "must be greater than level 0")

	policy.Levels[1].DelayMinutes = 15
	policy.Levels[1].Level = 2
	assert.ErrorContains(t, policy.Validate(), "consecutively")
}

func TestSuppressionValidate(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	ok := []*SuppressionRule{
		{Type: SuppressionTypeMaintenance, StartsAt: &start, EndsAt: &end, Reason: "upgrade"},
		{Type: SuppressionTypeMaintenance, Schedule: "0 2 * * 0", Duration: Minutes(120), Reason: "weekly patching"},
		{Type: SuppressionTypeRule, Match: SuppressionMatch{RuleID: "rule-1"}, Reason: "noisy"},
		{Type: SuppressionTypePattern, Match: SuppressionMatch{Severity: SeverityLow, MetricType: "disk.*"}, Reason: "low disk noise"},
	}
	for _, s := range ok {
		assert.NoError(t, s.Validate(), s.Reason)
	}

	bad := []*SuppressionRule{
		{Type: SuppressionTypeMaintenance, Reason: "no window"},
		{Type: SuppressionTypeMaintenance, Schedule: "not a cron", Duration: Minutes(5), Reason: "bad cron"},
		{Type: SuppressionTypeMaintenance, StartsAt: &end, EndsAt: &start, Reason: "inverted"},
		{Type: SuppressionTypeRule, Reason: "no rule id"},
		{Type: SuppressionTypePattern, Reason: "matches everything"},
		{Type: SuppressionTypePattern, Match: SuppressionMatch{MetricType: "[disk"}, Reason: "bad glob"},
		{Type: "forever", Reason: "unknown"},
	}
	for _, s := range bad {
		assert.Error(t, s.Validate(), s.Reason)
	}
}

func TestLevelTargets(t *testing.T) {
	level := EscalationLevel{
		Level:      1,
		Channels:   []ChannelType{ChannelSlack, ChannelSMS},
		Recipients: []string{"oncall", "sms:+15550100", "slack:#ops", "https://hooks.example.com/x"},
	}

	targets := level.Targets()
	assert.ElementsMatch(t, []Target{
		{Channel: ChannelSlack, Recipient: "oncall"},
		{Channel: ChannelSlack, Recipient: "#ops"},
		{Channel: ChannelSlack, Recipient: "https://hooks.example.com/x"},
		{Channel: ChannelSMS, Recipient: "oncall"},
		{Channel: ChannelSMS, Recipient: "+15550100"},
		{Channel: ChannelSMS, Recipient: "https://hooks.example.com/x"},
	}, targets)
}

func TestDurationEncoding(t *testing.T) {
	var rule struct {
		Interval Duration `json:"interval" yaml:"interval"`
	}

	require.NoError(t, json.Unmarshal([]byte(`{"interval":"90s"}`), &rule))
	assert.Equal(t, 90*time.Second, rule.Interval.Std())

	require.NoError(t, yaml.Unmarshal([]byte("interval: 15m\n"), &rule))
	assert.Equal(t, 15*time.Minute, rule.Interval.Std())

	out, err := json.Marshal(rule)
	require.NoError(t, err)
	assert.JSONEq(t, `{"interval":"15m0s"}`, string(out))

	assert.Error(t, json.Unmarshal([]byte(`{"interval":"soon"}`), &rule))
}
