package alerting

import (
	"fmt"
	"time"
)

// Severity is the alert severity taxonomy.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityNone:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// Rank orders severities from none (0) to critical (4).
func (s Severity) Rank() int {
	return severityRank[s]
}

// AlertStatus is the lifecycle state of an alert instance.
type AlertStatus string

const (
	StatusOpen         AlertStatus = "open"
	StatusAcknowledged AlertStatus = "acknowledged"
	StatusResolved     AlertStatus = "resolved"
)

// Active reports whether the status counts towards the single-active-alert
// constraint.
func (s AlertStatus) Active() bool {
	return s == StatusOpen || s == StatusAcknowledged
}

// ChannelType identifies a notification transport.
type ChannelType string

const (
	ChannelEmail   ChannelType = "email"
	ChannelSlack   ChannelType = "slack"
	ChannelWebhook ChannelType = "webhook"
	ChannelSMS     ChannelType = "sms"
	ChannelPager   ChannelType = "pager"
)

// KnownChannels lists every transport the engine ships an adapter for.
var KnownChannels = []ChannelType{ChannelEmail, ChannelSlack, ChannelWebhook, ChannelSMS, ChannelPager}

// Valid reports whether c is a known channel type.
func (c ChannelType) Valid() bool {
	for _, known := range KnownChannels {
		if c == known {
			return true
		}
	}
	return false
}

// AlertRule is a monitoring rule evaluated on its own check interval.
type AlertRule struct {
	ID                   string            `json:"id" yaml:"id"`
	WorkspaceID          string            `json:"workspace_id" yaml:"workspace_id"`
	Name                 string            `json:"name" yaml:"name"`
	Description          string            `json:"description,omitempty" yaml:"description,omitempty"`
	Condition            Condition         `json:"condition" yaml:"condition"`
	Severity             Severity          `json:"severity" yaml:"severity"`
	CheckInterval        Duration          `json:"check_interval" yaml:"check_interval"`
	Cooldown             Duration          `json:"cooldown" yaml:"cooldown"`
	EscalationPolicyID   string            `json:"escalation_policy_id,omitempty" yaml:"escalation_policy_id,omitempty"`
	Active               bool              `json:"active" yaml:"active"`
	AutoResolve          bool              `json:"auto_resolve" yaml:"auto_resolve"`
	NotificationChannels []ChannelType     `json:"notification_channels,omitempty" yaml:"notification_channels,omitempty"`
	Recipients           []string          `json:"recipients,omitempty" yaml:"recipients,omitempty"`
	Labels               map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`

	// Health, maintained by the scheduler.
	ConsecutiveFailures int        `json:"consecutive_failures" yaml:"-"`
	Degraded            bool       `json:"degraded" yaml:"-"`
	LastError           string     `json:"last_error,omitempty" yaml:"-"`
	LastEvaluatedAt     *time.Time `json:"last_evaluated_at,omitempty" yaml:"-"`

	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// Metric returns the metric the rule's condition reads.
func (r *AlertRule) Metric() string {
	return r.Condition.Metric()
}

// EscalationLevel is one tier of an escalation policy.
type EscalationLevel struct {
	Level        int           `json:"level" yaml:"level"`
	DelayMinutes int           `json:"delay_minutes" yaml:"delay_minutes"`
	Channels     []ChannelType `json:"channels" yaml:"channels"`
	Recipients   []string      `json:"recipients" yaml:"recipients"`
}

// Delay returns the level delay relative to the alert open time.
func (l EscalationLevel) Delay() time.Duration {
	return time.Duration(l.DelayMinutes) * time.Minute
}

// EscalationPolicy is an ordered list of levels.
type EscalationPolicy struct {
	ID          string            `json:"id" yaml:"id"`
	WorkspaceID string            `json:"workspace_id" yaml:"workspace_id"`
	Name        string            `json:"name" yaml:"name"`
	Levels      []EscalationLevel `json:"levels" yaml:"levels"`
	CreatedAt   time.Time         `json:"created_at" yaml:"-"`
	UpdatedAt   time.Time         `json:"updated_at" yaml:"-"`
}

// Level returns the level numbered n.
func (p *EscalationPolicy) Level(n int) (EscalationLevel, bool) {
	for _, level := range p.Levels {
		if level.Level == n {
			return level, true
		}
	}
	return EscalationLevel{}, false
}

// DefaultPolicy builds the single-level policy used by rules that name no
// escalation policy.
func DefaultPolicy(rule *AlertRule) *EscalationPolicy {
	return &EscalationPolicy{
		ID:          "default:" + rule.ID,
		WorkspaceID: rule.WorkspaceID,
		Name:        rule.Name + " (default)",
		Levels: []EscalationLevel{{
			Level:      0,
			Channels:   rule.NotificationChannels,
			Recipients: rule.Recipients,
		}},
	}
}

// Alert is one instance of a triggered rule for a fingerprint.
type Alert struct {
	ID                 string            `json:"id"`
	RuleID             string            `json:"rule_id"`
	WorkspaceID        string            `json:"workspace_id"`
	Fingerprint        string            `json:"fingerprint"`
	Labels             map[string]string `json:"labels,omitempty"`
	Status             AlertStatus       `json:"status"`
	Severity           Severity          `json:"severity"`
	Message            string            `json:"message"`
	OpenedAt           time.Time         `json:"opened_at"`
	AcknowledgedAt     *time.Time        `json:"acknowledged_at,omitempty"`
	AcknowledgedBy     string            `json:"acknowledged_by,omitempty"`
	AcknowledgeNotes   string            `json:"acknowledge_notes,omitempty"`
	ResolvedAt         *time.Time        `json:"resolved_at,omitempty"`
	ResolvedBy         string            `json:"resolved_by,omitempty"`
	ResolutionNotes    string            `json:"resolution_notes,omitempty"`
	PermanentFix       bool              `json:"permanent_fix"`
	EscalationLevel    int               `json:"current_escalation_level"`
	LastEvaluatedValue float64           `json:"last_evaluated_value"`
	LastEvaluatedAt    time.Time         `json:"last_evaluated_at"`
	ClearEvaluations   int               `json:"clear_evaluations"`
	Version            int64             `json:"version"`
}

// SuppressionType orders suppression evaluation.
type SuppressionType string

const (
	SuppressionTypeMaintenance SuppressionType = "maintenance"
	SuppressionTypeRule        SuppressionType = "rule"
	SuppressionTypePattern     SuppressionType = "pattern"
)

// SuppressionMatch selects the triggers a suppression applies to. Empty
// fields match anything. MetricType is a glob over the metric name.
type SuppressionMatch struct {
	RuleID     string            `json:"rule_id,omitempty" yaml:"rule_id,omitempty"`
	Severity   Severity          `json:"severity,omitempty" yaml:"severity,omitempty"`
	MetricType string            `json:"metric_type,omitempty" yaml:"metric_type,omitempty"`
	Labels     map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
}

// SuppressionRule silences matching triggers. A maintenance window is either
// a fixed [StartsAt, EndsAt] range or a cron Schedule that opens a window of
// Duration at each activation.
type SuppressionRule struct {
	ID          string           `json:"id" yaml:"id"`
	WorkspaceID string           `json:"workspace_id" yaml:"workspace_id"`
	Type        SuppressionType  `json:"type" yaml:"type"`
	Match       SuppressionMatch `json:"match" yaml:"match"`
	StartsAt    *time.Time       `json:"starts_at,omitempty" yaml:"starts_at,omitempty"`
	EndsAt      *time.Time       `json:"ends_at,omitempty" yaml:"ends_at,omitempty"`
	Schedule    string           `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	Duration    Duration         `json:"duration,omitempty" yaml:"duration,omitempty"`
	Reason      string           `json:"reason" yaml:"reason"`
	Enabled     bool             `json:"enabled" yaml:"enabled"`
	CreatedAt   time.Time        `json:"created_at" yaml:"-"`
}

// SuppressionAudit records a suppressed trigger.
type SuppressionAudit struct {
	ID              string            `json:"id"`
	RuleID          string            `json:"rule_id"`
	WorkspaceID     string            `json:"workspace_id"`
	SuppressionID   string            `json:"suppression_id"`
	SuppressionType SuppressionType   `json:"suppression_type"`
	Reason          string            `json:"reason"`
	Fingerprint     string            `json:"fingerprint"`
	Labels          map[string]string `json:"labels,omitempty"`
	ObservedValue   float64           `json:"observed_value"`
	Severity        Severity          `json:"severity"`
	CreatedAt       time.Time         `json:"created_at"`
}

// AttemptStatus is the state of one delivery attempt.
type AttemptStatus string

const (
	AttemptPending AttemptStatus = "pending"
	AttemptSent    AttemptStatus = "sent"
	AttemptFailed  AttemptStatus = "failed"
)

// NotificationAttempt is one entry of the delivery ledger.
type NotificationAttempt struct {
	ID              string        `json:"id"`
	AlertID         string        `json:"alert_id"`
	EscalationLevel int           `json:"escalation_level"`
	Channel         ChannelType   `json:"channel"`
	Recipient       string        `json:"recipient"`
	AttemptNumber   int           `json:"attempt_number"`
	Status          AttemptStatus `json:"status"`
	ResponseCode    int           `json:"response_code"`
	LatencyMs       int64         `json:"latency_ms"`
	Error           string        `json:"error,omitempty"`
	Terminal        bool          `json:"terminal"`
	Timestamp       time.Time     `json:"timestamp"`
}

// TimerStatus is the state of a durable escalation timer.
type TimerStatus string

const (
	TimerPending   TimerStatus = "pending"
	TimerClaimed   TimerStatus = "claimed"
	TimerFired     TimerStatus = "fired"
	TimerSkipped   TimerStatus = "skipped"
	TimerCancelled TimerStatus = "cancelled"
)

// EscalationTimer is a persisted (alert, level, due_at) record.
type EscalationTimer struct {
	ID        string      `json:"id"`
	AlertID   string      `json:"alert_id"`
	PolicyID  string      `json:"policy_id"`
	Level     int         `json:"level"`
	DueAt     time.Time   `json:"due_at"`
	Status    TimerStatus `json:"status"`
	ClaimedBy string      `json:"claimed_by,omitempty"`
	ClaimedAt *time.Time  `json:"claimed_at,omitempty"`
	FiredAt   *time.Time  `json:"fired_at,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// Point is one sample of a time series.
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// TimeSeries is an ordered sample sequence for one label set.
type TimeSeries struct {
	Metric string            `json:"metric"`
	Labels map[string]string `json:"labels,omitempty"`
	Points []Point           `json:"points"`
}

// Last returns the newest point.
func (ts *TimeSeries) Last() (Point, bool) {
	if ts == nil || len(ts.Points) == 0 {
		return Point{}, false
	}
	return ts.Points[len(ts.Points)-1], true
}

// Verdict reasons.
const (
	ReasonInsufficientData = "insufficient_data"
	ReasonBreached         = "breached"
	ReasonWithinBounds     = "within_bounds"
	ReasonZeroBaseline     = "zero_baseline"
)

// Verdict is the outcome of a condition evaluation. Severity is only set by
// evaluators that derive it from the data; otherwise the rule's base
// severity applies.
type Verdict struct {
	Triggered     bool     `json:"triggered"`
	ObservedValue float64  `json:"observed_value"`
	SeverityScore float64  `json:"severity_score"`
	Severity      Severity `json:"severity,omitempty"`
	Reason        string   `json:"reason"`
}

// Message is the rendered notification handed to channel adapters.
type Message struct {
	AlertID     string            `json:"alert_id"`
	RuleID      string            `json:"rule_id"`
	RuleName    string            `json:"rule_name"`
	WorkspaceID string            `json:"workspace_id"`
	Status      AlertStatus       `json:"status"`
	Severity    Severity          `json:"severity"`
	Level       int               `json:"level"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Value       float64           `json:"value"`
	Labels      map[string]string `json:"labels,omitempty"`
	OpenedAt    time.Time         `json:"opened_at"`
}

// NewMessage renders the notification for alert at level.
func NewMessage(alert *Alert, ruleName string, level int) Message {
	title := fmt.Sprintf("[%s] %s", alert.Severity, ruleName)
	if level > 0 {
		title = fmt.Sprintf("%s (escalation level %d)", title, level)
	}
	return Message{
		AlertID:     alert.ID,
		RuleID:      alert.RuleID,
		RuleName:    ruleName,
		WorkspaceID: alert.WorkspaceID,
		Status:      alert.Status,
		Severity:    alert.Severity,
		Level:       level,
		Title:       title,
		Body:        alert.Message,
		Value:       alert.LastEvaluatedValue,
		Labels:      alert.Labels,
		OpenedAt:    alert.OpenedAt,
	}
}

// EventType classifies engine events.
type EventType string

const (
	EventOpened             EventType = "alert_opened"
	EventUpdated            EventType = "alert_updated"
	EventAcknowledged       EventType = "alert_acknowledged"
	EventResolved           EventType = "alert_resolved"
	EventEscalated          EventType = "alert_escalated"
	EventSuppressed         EventType = "alert_suppressed"
	EventNotificationFailed EventType = "notification_failed"
	EventRuleDegraded       EventType = "rule_degraded"
)

// Event is published for every alert transition and notable engine action.
type Event struct {
	Type      EventType              `json:"type"`
	RuleID    string                 `json:"rule_id,omitempty"`
	AlertID   string                 `json:"alert_id,omitempty"`
	Alert     *Alert                 `json:"alert,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// EffectiveSeverity is the verdict's derived severity, or the rule's base
// severity when the evaluator did not derive one.
func EffectiveSeverity(rule *AlertRule, verdict Verdict) Severity {
	if verdict.Severity != "" && verdict.Severity != SeverityNone {
		return verdict.Severity
	}
	return rule.Severity
}
