package models

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/frostdev-ops/pma-alert-engine/internal/core/alerting"
)

// Times are stored as unix milliseconds so that ordering and range
// predicates stay plain integer comparisons.

// Millis converts t to unix milliseconds.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// FromMillis converts unix milliseconds to a UTC time.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// NullMillis converts an optional time.
func NullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

// TimePtr converts a nullable millisecond column.
func TimePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := FromMillis(v.Int64)
	return &t
}

// JSONText marshals v for a TEXT column.
func JSONText(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func labelsFrom(text string) (map[string]string, error) {
	if text == "" {
		return nil, nil
	}
	var labels map[string]string
	if err := json.Unmarshal([]byte(text), &labels); err != nil {
		return nil, err
	}
	if len(labels) == 0 {
		return nil, nil
	}
	return labels, nil
}

// RuleRow is a row of alert_rules.
type RuleRow struct {
	ID                   string         `db:"id"`
	WorkspaceID          string         `db:"workspace_id"`
	Name                 string         `db:"name"`
	Description          string         `db:"description"`
	Metric               string         `db:"metric"`
	ConditionType        string         `db:"condition_type"`
	Condition            string         `db:"condition"`
	Severity             string         `db:"severity"`
	CheckIntervalMs      int64          `db:"check_interval_ms"`
	CooldownMs           int64          `db:"cooldown_ms"`
	EscalationPolicyID   sql.NullString `db:"escalation_policy_id"`
	Active               bool           `db:"active"`
	AutoResolve          bool           `db:"auto_resolve"`
	NotificationChannels string         `db:"notification_channels"`
	Recipients           string         `db:"recipients"`
	Labels               string         `db:"labels"`
	ConsecutiveFailures  int            `db:"consecutive_failures"`
	Degraded             bool           `db:"degraded"`
	LastError            string         `db:"last_error"`
	LastEvaluatedAt      sql.NullInt64  `db:"last_evaluated_at"`
	CreatedAt            int64          `db:"created_at"`
	UpdatedAt            int64          `db:"updated_at"`
}

// NewRuleRow flattens a rule for storage.
func NewRuleRow(r *alerting.AlertRule) (*RuleRow, error) {
	condition, err := JSONText(r.Condition)
	if err != nil {
		return nil, err
	}
	channels, err := JSONText(nonNilChannels(r.NotificationChannels))
	if err != nil {
		return nil, err
	}
	recipients, err := JSONText(nonNilStrings(r.Recipients))
	if err != nil {
		return nil, err
	}
	labels, err := JSONText(nonNilLabels(r.Labels))
	if err != nil {
		return nil, err
	}

	row := &RuleRow{
		ID:                   r.ID,
		WorkspaceID:          r.WorkspaceID,
		Name:                 r.Name,
		Description:          r.Description,
		Metric:               r.Metric(),
		ConditionType:        string(r.Condition.Type),
		Condition:            condition,
		Severity:             string(r.Severity),
		CheckIntervalMs:      r.CheckInterval.Std().Milliseconds(),
		CooldownMs:           r.Cooldown.Std().Milliseconds(),
		Active:               r.Active,
		AutoResolve:          r.AutoResolve,
		NotificationChannels: channels,
		Recipients:           recipients,
		Labels:               labels,
		ConsecutiveFailures:  r.ConsecutiveFailures,
		Degraded:             r.Degraded,
		LastError:            r.LastError,
		LastEvaluatedAt:      NullMillis(r.LastEvaluatedAt),
		CreatedAt:            Millis(r.CreatedAt),
		UpdatedAt:            Millis(r.UpdatedAt),
	}
	if r.EscalationPolicyID != "" {
		row.EscalationPolicyID = sql.NullString{String: r.EscalationPolicyID, Valid: true}
	}
	return row, nil
}

// Rule rebuilds the domain rule.
func (row *RuleRow) Rule() (*alerting.AlertRule, error) {
	r := &alerting.AlertRule{
		ID:                  row.ID,
		WorkspaceID:         row.WorkspaceID,
		Name:                row.Name,
		Description:         row.Description,
		Severity:            alerting.Severity(row.Severity),
		CheckInterval:       alerting.Duration(time.Duration(row.CheckIntervalMs) * time.Millisecond),
		Cooldown:            alerting.Duration(time.Duration(row.CooldownMs) * time.Millisecond),
		EscalationPolicyID:  row.EscalationPolicyID.String,
		Active:              row.Active,
		AutoResolve:         row.AutoResolve,
		ConsecutiveFailures: row.ConsecutiveFailures,
		Degraded:            row.Degraded,
		LastError:           row.LastError,
		LastEvaluatedAt:     TimePtr(row.LastEvaluatedAt),
		CreatedAt:           FromMillis(row.CreatedAt),
		UpdatedAt:           FromMillis(row.UpdatedAt),
	}
	if err := json.Unmarshal([]byte(row.Condition), &r.Condition); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(row.NotificationChannels), &r.NotificationChannels); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(row.Recipients), &r.Recipients); err != nil {
		return nil, err
	}
	labels, err := labelsFrom(row.Labels)
	if err != nil {
		return nil, err
	}
	r.Labels = labels
	return r, nil
}

// PolicyRow is a row of escalation_policies.
type PolicyRow struct {
	ID          string `db:"id"`
	WorkspaceID string `db:"workspace_id"`
	Name        string `db:"name"`
	Levels      string `db:"levels"`
	CreatedAt   int64  `db:"created_at"`
	UpdatedAt   int64  `db:"updated_at"`
}

func NewPolicyRow(p *alerting.EscalationPolicy) (*PolicyRow, error) {
	levels, err := JSONText(p.Levels)
	if err != nil {
		return nil, err
	}
	return &PolicyRow{
		ID:          p.ID,
		WorkspaceID: p.WorkspaceID,
		Name:        p.Name,
		Levels:      levels,
		CreatedAt:   Millis(p.CreatedAt),
		UpdatedAt:   Millis(p.UpdatedAt),
	}, nil
}

func (row *PolicyRow) Policy() (*alerting.EscalationPolicy, error) {
	p := &alerting.EscalationPolicy{
		ID:          row.ID,
		WorkspaceID: row.WorkspaceID,
		Name:        row.Name,
		CreatedAt:   FromMillis(row.CreatedAt),
		UpdatedAt:   FromMillis(row.UpdatedAt),
	}
	if err := json.Unmarshal([]byte(row.Levels), &p.Levels); err != nil {
		return nil, err
	}
	return p, nil
}

// AlertRow is a row of alerts.
type AlertRow struct {
	ID                 string        `db:"id"`
	RuleID             string        `db:"rule_id"`
	WorkspaceID        string        `db:"workspace_id"`
	Fingerprint        string        `db:"fingerprint"`
	Labels             string        `db:"labels"`
	Status             string        `db:"status"`
	Severity           string        `db:"severity"`
	Message            string        `db:"message"`
	OpenedAt           int64         `db:"opened_at"`
	AcknowledgedAt     sql.NullInt64 `db:"acknowledged_at"`
	AcknowledgedBy     string        `db:"acknowledged_by"`
	AcknowledgeNotes   string        `db:"acknowledge_notes"`
	ResolvedAt         sql.NullInt64 `db:"resolved_at"`
	ResolvedBy         string        `db:"resolved_by"`
	ResolutionNotes    string        `db:"resolution_notes"`
	PermanentFix       bool          `db:"permanent_fix"`
	EscalationLevel    int           `db:"escalation_level"`
	LastEvaluatedValue float64       `db:"last_evaluated_value"`
	LastEvaluatedAt    int64         `db:"last_evaluated_at"`
	ClearEvaluations   int           `db:"clear_evaluations"`
	Version            int64         `db:"version"`
}

func NewAlertRow(a *alerting.Alert) (*AlertRow, error) {
	labels, err := JSONText(nonNilLabels(a.Labels))
	if err != nil {
		return nil, err
	}
	return &AlertRow{
		ID:                 a.ID,
		RuleID:             a.RuleID,
		WorkspaceID:        a.WorkspaceID,
		Fingerprint:        a.Fingerprint,
		Labels:             labels,
		Status:             string(a.Status),
		Severity:           string(a.Severity),
		Message:            a.Message,
		OpenedAt:           Millis(a.OpenedAt),
		AcknowledgedAt:     NullMillis(a.AcknowledgedAt),
		AcknowledgedBy:     a.AcknowledgedBy,
		AcknowledgeNotes:   a.AcknowledgeNotes,
		ResolvedAt:         NullMillis(a.ResolvedAt),
		ResolvedBy:         a.ResolvedBy,
		ResolutionNotes:    a.ResolutionNotes,
		PermanentFix:       a.PermanentFix,
		EscalationLevel:    a.EscalationLevel,
		LastEvaluatedValue: a.LastEvaluatedValue,
		LastEvaluatedAt:    Millis(a.LastEvaluatedAt),
		ClearEvaluations:   a.ClearEvaluations,
		Version:            a.Version,
	}, nil
}

func (row *AlertRow) Alert() (*alerting.Alert, error) {
	labels, err := labelsFrom(row.Labels)
	if err != nil {
		return nil, err
	}
	return &alerting.Alert{
		ID:                 row.ID,
		RuleID:             row.RuleID,
		WorkspaceID:        row.WorkspaceID,
		Fingerprint:        row.Fingerprint,
		Labels:             labels,
		Status:             alerting.AlertStatus(row.Status),
		Severity:           alerting.Severity(row.Severity),
		Message:            row.Message,
		OpenedAt:           FromMillis(row.OpenedAt),
		AcknowledgedAt:     TimePtr(row.AcknowledgedAt),
		AcknowledgedBy:     row.AcknowledgedBy,
		AcknowledgeNotes:   row.AcknowledgeNotes,
		ResolvedAt:         TimePtr(row.ResolvedAt),
		ResolvedBy:         row.ResolvedBy,
		ResolutionNotes:    row.ResolutionNotes,
		PermanentFix:       row.PermanentFix,
		EscalationLevel:    row.EscalationLevel,
		LastEvaluatedValue: row.LastEvaluatedValue,
		LastEvaluatedAt:    FromMillis(row.LastEvaluatedAt),
		ClearEvaluations:   row.ClearEvaluations,
		Version:            row.Version,
	}, nil
}

// TimerRow is a row of escalation_timers.
type TimerRow struct {
	ID        string        `db:"id"`
	AlertID   string        `db:"alert_id"`
	PolicyID  string        `db:"policy_id"`
	Level     int           `db:"level"`
	DueAt     int64         `db:"due_at"`
	Status    string        `db:"status"`
	ClaimedBy string        `db:"claimed_by"`
	ClaimedAt sql.NullInt64 `db:"claimed_at"`
	FiredAt   sql.NullInt64 `db:"fired_at"`
	CreatedAt int64         `db:"created_at"`
}

func NewTimerRow(t *alerting.EscalationTimer) *TimerRow {
	return &TimerRow{
		ID:        t.ID,
		AlertID:   t.AlertID,
		PolicyID:  t.PolicyID,
		Level:     t.Level,
		DueAt:     Millis(t.DueAt),
		Status:    string(t.Status),
		ClaimedBy: t.ClaimedBy,
		ClaimedAt: NullMillis(t.ClaimedAt),
		FiredAt:   NullMillis(t.FiredAt),
		CreatedAt: Millis(t.CreatedAt),
	}
}

func (row *TimerRow) Timer() *alerting.EscalationTimer {
	return &alerting.EscalationTimer{
		ID:        row.ID,
		AlertID:   row.AlertID,
		PolicyID:  row.PolicyID,
		Level:     row.Level,
		DueAt:     FromMillis(row.DueAt),
		Status:    alerting.TimerStatus(row.Status),
		ClaimedBy: row.ClaimedBy,
		ClaimedAt: TimePtr(row.ClaimedAt),
		FiredAt:   TimePtr(row.FiredAt),
		CreatedAt: FromMillis(row.CreatedAt),
	}
}

// AttemptRow is a row of notification_attempts.
type AttemptRow struct {
	ID              string `db:"id"`
	AlertID         string `db:"alert_id"`
	EscalationLevel int    `db:"escalation_level"`
	Channel         string `db:"channel"`
	Recipient       string `db:"recipient"`
	AttemptNumber   int    `db:"attempt_number"`
	Status          string `db:"status"`
	ResponseCode    int    `db:"response_code"`
	LatencyMs       int64  `db:"latency_ms"`
	Error           string `db:"error"`
	Terminal        bool   `db:"terminal"`
	CreatedAt       int64  `db:"created_at"`
}

func NewAttemptRow(a *alerting.NotificationAttempt) *AttemptRow {
	return &AttemptRow{
		ID:              a.ID,
		AlertID:         a.AlertID,
		EscalationLevel: a.EscalationLevel,
		Channel:         string(a.Channel),
		Recipient:       a.Recipient,
		AttemptNumber:   a.AttemptNumber,
		Status:          string(a.Status),
		ResponseCode:    a.ResponseCode,
		LatencyMs:       a.LatencyMs,
		Error:           a.Error,
		Terminal:        a.Terminal,
		CreatedAt:       Millis(a.Timestamp),
	}
}

func (row *AttemptRow) Attempt() *alerting.NotificationAttempt {
	return &alerting.NotificationAttempt{
		ID:              row.ID,
		AlertID:         row.AlertID,
		EscalationLevel: row.EscalationLevel,
		Channel:         alerting.ChannelType(row.Channel),
		Recipient:       row.Recipient,
		AttemptNumber:   row.AttemptNumber,
		Status:          alerting.AttemptStatus(row.Status),
		ResponseCode:    row.ResponseCode,
		LatencyMs:       row.LatencyMs,
		Error:           row.Error,
		Terminal:        row.Terminal,
		Timestamp:       FromMillis(row.CreatedAt),
	}
}

// SuppressionRow is a row of suppression_rules.
type SuppressionRow struct {
	ID          string        `db:"id"`
	WorkspaceID string        `db:"workspace_id"`
	Type        string        `db:"type"`
	Match       string        `db:"match"`
	StartsAt    sql.NullInt64 `db:"starts_at"`
	EndsAt      sql.NullInt64 `db:"ends_at"`
	Schedule    string        `db:"schedule"`
	DurationMs  int64         `db:"duration_ms"`
	Reason      string        `db:"reason"`
	Enabled     bool          `db:"enabled"`
	CreatedAt   int64         `db:"created_at"`
}

func NewSuppressionRow(s *alerting.SuppressionRule) (*SuppressionRow, error) {
	match, err := JSONText(s.Match)
	if err != nil {
		return nil, err
	}
	return &SuppressionRow{
		ID:          s.ID,
		WorkspaceID: s.WorkspaceID,
		Type:        string(s.Type),
		Match:       match,
		StartsAt:    NullMillis(s.StartsAt),
		EndsAt:      NullMillis(s.EndsAt),
		Schedule:    s.Schedule,
		DurationMs:  s.Duration.Std().Milliseconds(),
		Reason:      s.Reason,
		Enabled:     s.Enabled,
		CreatedAt:   Millis(s.CreatedAt),
	}, nil
}

func (row *SuppressionRow) Suppression() (*alerting.SuppressionRule, error) {
	s := &alerting.SuppressionRule{
		ID:          row.ID,
		WorkspaceID: row.WorkspaceID,
		Type:        alerting.SuppressionType(row.Type),
		StartsAt:    TimePtr(row.StartsAt),
		EndsAt:      TimePtr(row.EndsAt),
		Schedule:    row.Schedule,
		Duration:    alerting.Duration(time.Duration(row.DurationMs) * time.Millisecond),
		Reason:      row.Reason,
		Enabled:     row.Enabled,
		CreatedAt:   FromMillis(row.CreatedAt),
	}
	if err := json.Unmarshal([]byte(row.Match), &s.Match); err != nil {
		return nil, err
	}
	return s, nil
}

// AuditRow is a row of suppression_audit.
type AuditRow struct {
	ID              string  `db:"id"`
	RuleID          string  `db:"rule_id"`
	WorkspaceID     string  `db:"workspace_id"`
	SuppressionID   string  `db:"suppression_id"`
	SuppressionType string  `db:"suppression_type"`
	Reason          string  `db:"reason"`
	Fingerprint     string  `db:"fingerprint"`
	Labels          string  `db:"labels"`
	ObservedValue   float64 `db:"observed_value"`
	Severity        string  `db:"severity"`
	CreatedAt       int64   `db:"created_at"`
}

func NewAuditRow(a *alerting.SuppressionAudit) (*AuditRow, error) {
	labels, err := JSONText(nonNilLabels(a.Labels))
	if err != nil {
		return nil, err
	}
	return &AuditRow{
		ID:              a.ID,
		RuleID:          a.RuleID,
		WorkspaceID:     a.WorkspaceID,
		SuppressionID:   a.SuppressionID,
		SuppressionType: string(a.SuppressionType),
		Reason:          a.Reason,
		Fingerprint:     a.Fingerprint,
		Labels:          labels,
		ObservedValue:   a.ObservedValue,
		Severity:        string(a.Severity),
		CreatedAt:       Millis(a.CreatedAt),
	}, nil
}

func (row *AuditRow) Audit() (*alerting.SuppressionAudit, error) {
	labels, err := labelsFrom(row.Labels)
	if err != nil {
		return nil, err
	}
	return &alerting.SuppressionAudit{
		ID:              row.ID,
		RuleID:          row.RuleID,
		WorkspaceID:     row.WorkspaceID,
		SuppressionID:   row.SuppressionID,
		SuppressionType: alerting.SuppressionType(row.SuppressionType),
		Reason:          row.Reason,
		Fingerprint:     row.Fingerprint,
		Labels:          labels,
		ObservedValue:   row.ObservedValue,
		Severity:        alerting.Severity(row.Severity),
		CreatedAt:       FromMillis(row.CreatedAt),
	}, nil
}

// SampleRow is a row of metric_samples.
type SampleRow struct {
	ID          int64   `db:"id"`
	WorkspaceID string  `db:"workspace_id"`
	Metric      string  `db:"metric"`
	Labels      string  `db:"labels"`
	Timestamp   int64   `db:"ts"`
	Value       float64 `db:"value"`
}

func nonNilLabels(labels map[string]string) map[string]string {
	if labels == nil {
		return map[string]string{}
	}
	return labels
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func nonNilChannels(v []alerting.ChannelType) []alerting.ChannelType {
	if v == nil {
		return []alerting.ChannelType{}
	}
	return v
}

// LabelMap decodes the row's label set.
func (r SampleRow) LabelMap() (map[string]string, error) {
	return labelsFrom(r.Labels)
}
