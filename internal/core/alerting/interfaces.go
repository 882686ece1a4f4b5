package alerting

import (
	"context"
	"time"
)

// MetricSource fetches the trailing window of a metric for a workspace. The
// result holds one series per label set; each one is a separate alert
// dimension.
type MetricSource interface {
	Query(ctx context.Context, metric, workspaceID string, window time.Duration) ([]TimeSeries, error)
}

// RuleFilter narrows rule listings.
type RuleFilter struct {
	WorkspaceID string
	ActiveOnly  bool
	Degraded    *bool
}

// RuleStore persists rules, escalation policies and rule health.
type RuleStore interface {
	GetRule(ctx context.Context, id string) (*AlertRule, error)
	ListRules(ctx context.Context, filter RuleFilter) ([]*AlertRule, error)
	SaveRule(ctx context.Context, rule *AlertRule) error
	DeleteRule(ctx context.Context, id string) error
	// RecordRuleFailure increments the consecutive failure counter and marks
	// the rule degraded once it reaches degradedAfter. It returns the new
	// counter and whether the rule is now degraded.
	RecordRuleFailure(ctx context.Context, id, message string, degradedAfter int, at time.Time) (int, bool, error)
	RecordRuleSuccess(ctx context.Context, id string, at time.Time) error

	GetPolicy(ctx context.Context, id string) (*EscalationPolicy, error)
	ListPolicies(ctx context.Context, workspaceID string) ([]*EscalationPolicy, error)
	SavePolicy(ctx context.Context, policy *EscalationPolicy) error
	DeletePolicy(ctx context.Context, id string) error
}

// AlertFilter narrows alert listings.
type AlertFilter struct {
	WorkspaceID string
	RuleID      string
	Statuses    []AlertStatus
	Limit       int
}

// AlertStore persists alert instances. CreateIfAbsent and CompareAndSwap are
// the only write paths for lifecycle state.
type AlertStore interface {
	// CreateIfAbsent inserts alert unless an open or acknowledged alert
	// already exists for its (rule_id, fingerprint). When one exists it is
	// returned with created=false.
	CreateIfAbsent(ctx context.Context, alert *Alert) (existing *Alert, created bool, err error)
	GetAlert(ctx context.Context, id string) (*Alert, error)
	GetActiveAlert(ctx context.Context, ruleID, fingerprint string) (*Alert, error)
	GetLatestResolved(ctx context.Context, ruleID, fingerprint string) (*Alert, error)
	ListAlerts(ctx context.Context, filter AlertFilter) ([]*Alert, error)
	// CompareAndSwap writes alert if the stored version still equals
	// alert.Version and bumps the version. A lost race returns a
	// ConcurrencyConflict.
	CompareAndSwap(ctx context.Context, alert *Alert) error
	// RaiseEscalationLevel sets the level only if the alert is open and the
	// stored level does not exceed it. It reports whether the row changed.
	RaiseEscalationLevel(ctx context.Context, alertID string, level int) (bool, error)
}

// EscalationStore persists escalation timers.
type EscalationStore interface {
	InsertTimers(ctx context.Context, timers []*EscalationTimer) error
	// DueTimers returns pending timers due at or before now, and claimed
	// timers whose claim is older than staleBefore.
	DueTimers(ctx context.Context, now, staleBefore time.Time, limit int) ([]*EscalationTimer, error)
	// ClaimTimer moves timer to claimed if its status and claim time are
	// unchanged since it was read. It reports whether this caller won.
	ClaimTimer(ctx context.Context, timer *EscalationTimer, owner string, at time.Time) (bool, error)
	FinishTimer(ctx context.Context, id string, status TimerStatus, at time.Time) error
	CancelTimers(ctx context.Context, alertID string, at time.Time) (int, error)
	ListTimers(ctx context.Context, alertID string) ([]*EscalationTimer, error)
	PurgeTimers(ctx context.Context, olderThan time.Time) (int, error)
}

// DeliveryLedger records every notification attempt.
type DeliveryLedger interface {
	RecordAttempt(ctx context.Context, attempt *NotificationAttempt) error
	UpdateAttempt(ctx context.Context, attempt *NotificationAttempt) error
	ListAttempts(ctx context.Context, alertID string) ([]*NotificationAttempt, error)
}

// SuppressionStore persists suppression rules and their audit trail.
type SuppressionStore interface {
	ListSuppressions(ctx context.Context, workspaceID string) ([]*SuppressionRule, error)
	GetSuppression(ctx context.Context, id string) (*SuppressionRule, error)
	SaveSuppression(ctx context.Context, rule *SuppressionRule) error
	DeleteSuppression(ctx context.Context, id string) error
	RecordAudit(ctx context.Context, audit *SuppressionAudit) error
	ListAudit(ctx context.Context, workspaceID, ruleID string, limit int) ([]*SuppressionAudit, error)
}

// SendResult is what a channel adapter reports for one send.
type SendResult struct {
	Success      bool
	ResponseCode int
	Latency      time.Duration
}

// ChannelAdapter delivers one message to one recipient over one transport.
type ChannelAdapter interface {
	Type() ChannelType
	Send(ctx context.Context, msg Message, recipient string) (SendResult, error)
}

// EventPublisher receives engine events.
type EventPublisher interface {
	Publish(event Event)
}

// NopPublisher discards events.
type NopPublisher struct{}

// Publish implements EventPublisher.
func (NopPublisher) Publish(Event) {}
