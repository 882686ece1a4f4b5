// Package lifecycle owns the alert state machine: open, acknowledged and
// resolved, with cooldown handling and auto-resolve hysteresis. Every write
// goes through the store's CreateIfAbsent or CompareAndSwap.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/frostdev-ops/pma-alert-engine/internal/core/alerting"
	"github.com/frostdev-ops/pma-alert-engine/internal/core/metrics"
	apperrors "github.com/frostdev-ops/pma-alert-engine/pkg/errors"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// AutoResolvedBy is recorded as the resolver of auto-resolved alerts.
const AutoResolvedBy = "auto-resolve"

// Escalator arms and cancels escalation timers for an alert.
type Escalator interface {
	Schedule(ctx context.Context, alert *alerting.Alert, rule *alerting.AlertRule) error
	Cancel(ctx context.Context, alertID string, at time.Time) error
}

// Config tunes the state machine.
type Config struct {
	// ClearEvaluations is the number of consecutive clear verdicts that
	// auto-resolve an alert.
	ClearEvaluations int
	// CASRetries bounds re-reads after a lost compare-and-swap.
	CASRetries int
}

// DefaultConfig returns the default hysteresis and retry settings.
func DefaultConfig() Config {
	return Config{ClearEvaluations: 2, CASRetries: 3}
}

// Action describes what Apply did.
type Action string

const (
	ActionNone     Action = "none"
	ActionOpened   Action = "opened"
	ActionUpdated  Action = "updated"
	ActionCooldown Action = "cooldown"
	ActionCleared  Action = "cleared"
	ActionResolved Action = "resolved"
)

// Outcome is the result of applying a verdict.
type Outcome struct {
	Action Action
	Alert  *alerting.Alert
}

// Manager applies verdicts and operator actions to alerts.
type Manager struct {
	alerts    alerting.AlertStore
	escalator Escalator
	publisher alerting.EventPublisher
	metrics   metrics.MetricsCollector
	log       *logrus.Logger
	cfg       Config
}

func NewManager(alerts alerting.AlertStore, escalator Escalator, publisher alerting.EventPublisher, collector metrics.MetricsCollector, log *logrus.Logger, cfg Config) *Manager {
	if cfg.ClearEvaluations < 1 {
		cfg.ClearEvaluations = DefaultConfig().ClearEvaluations
	}
	if cfg.CASRetries < 0 {
		cfg.CASRetries = 0
	}
	if publisher == nil {
		publisher = alerting.NopPublisher{}
	}
	return &Manager{
		alerts:    alerts,
		escalator: escalator,
		publisher: publisher,
		metrics:   metrics.OrNop(collector),
		log:       log,
		cfg:       cfg,
	}
}

// Apply moves the alert for (rule, fingerprint) according to verdict.
// Suppressed verdicts must not reach Apply.
func (m *Manager) Apply(ctx context.Context, rule *alerting.AlertRule, verdict alerting.Verdict, fingerprint string, labels map[string]string, now time.Time) (Outcome, error) {
	if verdict.Reason == alerting.ReasonInsufficientData {
		return Outcome{Action: ActionNone}, nil
	}
	if verdict.Triggered {
		return m.onTrigger(ctx, rule, verdict, fingerprint, labels, now)
	}
	return m.onClear(ctx, rule, verdict, fingerprint, now)
}

func (m *Manager) onTrigger(ctx context.Context, rule *alerting.AlertRule, verdict alerting.Verdict, fingerprint string, labels map[string]string, now time.Time) (Outcome, error) {
	for attempt := 0; attempt <= m.cfg.CASRetries; attempt++ {
		active, err := m.alerts.GetActiveAlert(ctx, rule.ID, fingerprint)
		if err != nil {
			return Outcome{}, err
		}

		if active != nil {
			active.LastEvaluatedValue = verdict.ObservedValue
			active.LastEvaluatedAt = now
			active.ClearEvaluations = 0
			if err := m.alerts.CompareAndSwap(ctx, active); err != nil {
				if apperrors.IsConflict(err) {
					continue
				}
				return Outcome{}, err
			}
			return Outcome{Action: ActionUpdated, Alert: active}, nil
		}

		if latest, err := m.alerts.GetLatestResolved(ctx, rule.ID, fingerprint); err != nil {
			return Outcome{}, err
		} else if inCooldown(rule, latest, now) {
			latest.LastEvaluatedValue = verdict.ObservedValue
			latest.LastEvaluatedAt = now
			if err := m.alerts.CompareAndSwap(ctx, latest); err != nil {
				if apperrors.IsConflict(err) {
					continue
				}
				return Outcome{}, err
			}
			return Outcome{Action: ActionCooldown, Alert: latest}, nil
		}

		alert := &alerting.Alert{
			ID:                 uuid.NewString(),
			RuleID:             rule.ID,
			WorkspaceID:        rule.WorkspaceID,
			Fingerprint:        fingerprint,
			Labels:             labels,
			Status:             alerting.StatusOpen,
			Severity:           alerting.EffectiveSeverity(rule, verdict),
			Message:            Describe(rule, verdict),
			OpenedAt:           now,
			LastEvaluatedValue: verdict.ObservedValue,
			LastEvaluatedAt:    now,
		}
		stored, created, err := m.alerts.CreateIfAbsent(ctx, alert)
		if err != nil {
			if apperrors.IsConflict(err) {
				continue
			}
			return Outcome{}, err
		}
		if !created {
			// Another evaluation won the insert; its alert is canonical and
			// only needs the newer value, which the next pass writes.
			m.log.WithFields(logrus.Fields{
				"rule_id":  rule.ID,
				"alert_id": stored.ID,
			}).Debug("Alert already opened concurrently")
			continue
		}

		m.opened(ctx, rule, stored, now)
		return Outcome{Action: ActionOpened, Alert: stored}, nil
	}

	return Outcome{}, &apperrors.ConcurrencyConflict{Entity: "alert", ID: rule.ID + "/" + fingerprint}
}

func (m *Manager) opened(ctx context.Context, rule *alerting.AlertRule, alert *alerting.Alert, now time.Time) {
	m.metrics.RecordAlertTransition(string(alerting.StatusOpen))
	m.publisher.Publish(alerting.Event{
		Type:      alerting.EventOpened,
		RuleID:    rule.ID,
		AlertID:   alert.ID,
		Alert:     alert,
		Timestamp: now,
	})
	m.log.WithFields(logrus.Fields{
		"rule_id":  rule.ID,
		"alert_id": alert.ID,
		"severity": alert.Severity,
		"value":    alert.LastEvaluatedValue,
	}).Info("Alert opened")

	if m.escalator == nil {
		return
	}
	if err := m.escalator.Schedule(ctx, alert, rule); err != nil {
		m.log.WithError(err).WithField("alert_id", alert.ID).Error("Failed to schedule escalation")
	}
}

func (m *Manager) onClear(ctx context.Context, rule *alerting.AlertRule, verdict alerting.Verdict, fingerprint string, now time.Time) (Outcome, error) {
	if !rule.AutoResolve {
		return Outcome{Action: ActionNone}, nil
	}

	for attempt := 0; attempt <= m.cfg.CASRetries; attempt++ {
		active, err := m.alerts.GetActiveAlert(ctx, rule.ID, fingerprint)
		if err != nil {
			return Outcome{}, err
		}
		if active == nil {
			return Outcome{Action: ActionNone}, nil
		}

		active.ClearEvaluations++
		active.LastEvaluatedValue = verdict.ObservedValue
		active.LastEvaluatedAt = now
		action := ActionCleared
		if active.ClearEvaluations >= m.cfg.ClearEvaluations {
			markResolved(active, AutoResolvedBy, "cleared for consecutive evaluations", false, now)
			action = ActionResolved
		}

		if err := m.alerts.CompareAndSwap(ctx, active); err != nil {
			if apperrors.IsConflict(err) {
				continue
			}
			return Outcome{}, err
		}

		if action == ActionResolved {
			m.resolved(ctx, active, now)
		}
		return Outcome{Action: action, Alert: active}, nil
	}

	return Outcome{}, &apperrors.ConcurrencyConflict{Entity: "alert", ID: rule.ID + "/" + fingerprint}
}

// Acknowledge moves an open alert to acknowledged and cancels its pending
// escalation timers.
func (m *Manager) Acknowledge(ctx context.Context, alertID, by, notes string, now time.Time) (*alerting.Alert, error) {
	for attempt := 0; attempt <= m.cfg.CASRetries; attempt++ {
		alert, err := m.alerts.GetAlert(ctx, alertID)
		if err != nil {
			return nil, err
		}
		if alert.Status != alerting.StatusOpen {
			return nil, apperrors.WithDetails(apperrors.ErrInvalidTransition,
				fmt.Sprintf("alert %s is %s and cannot be acknowledged", alertID, alert.Status))
		}

		alert.Status = alerting.StatusAcknowledged
		alert.AcknowledgedAt = &now
		alert.AcknowledgedBy = by
		alert.AcknowledgeNotes = notes
		if err := m.alerts.CompareAndSwap(ctx, alert); err != nil {
			if apperrors.IsConflict(err) {
				continue
			}
			return nil, err
		}

		m.cancelEscalation(ctx, alert.ID, now)
		m.metrics.RecordAlertTransition(string(alerting.StatusAcknowledged))
		m.publisher.Publish(alerting.Event{
			Type:      alerting.EventAcknowledged,
			RuleID:    alert.RuleID,
			AlertID:   alert.ID,
			Alert:     alert,
			Timestamp: now,
		})
		m.log.WithFields(logrus.Fields{
			"alert_id": alert.ID,
			"by":       by,
		}).Info("Alert acknowledged")
		return alert, nil
	}

	return nil, &apperrors.ConcurrencyConflict{Entity: "alert", ID: alertID}
}

// Resolve moves an open or acknowledged alert to resolved and cancels its
// pending escalation timers.
func (m *Manager) Resolve(ctx context.Context, alertID, by, notes string, permanentFix bool, now time.Time) (*alerting.Alert, error) {
	for attempt := 0; attempt <= m.cfg.CASRetries; attempt++ {
		alert, err := m.alerts.GetAlert(ctx, alertID)
		if err != nil {
			return nil, err
		}
		if !alert.Status.Active() {
			return nil, apperrors.WithDetails(apperrors.ErrInvalidTransition,
				fmt.Sprintf("alert %s is already %s", alertID, alert.Status))
		}

		markResolved(alert, by, notes, permanentFix, now)
		if err := m.alerts.CompareAndSwap(ctx, alert); err != nil {
			if apperrors.IsConflict(err) {
				continue
			}
			return nil, err
		}

		m.resolved(ctx, alert, now)
		return alert, nil
	}

	return nil, &apperrors.ConcurrencyConflict{Entity: "alert", ID: alertID}
}

func (m *Manager) resolved(ctx context.Context, alert *alerting.Alert, now time.Time) {
	m.cancelEscalation(ctx, alert.ID, now)
	m.metrics.RecordAlertTransition(string(alerting.StatusResolved))
	m.publisher.Publish(alerting.Event{
		Type:      alerting.EventResolved,
		RuleID:    alert.RuleID,
		AlertID:   alert.ID,
		Alert:     alert,
		Timestamp: now,
	})
	m.log.WithFields(logrus.Fields{
		"alert_id": alert.ID,
		"by":       alert.ResolvedBy,
	}).Info("Alert resolved")
}

func (m *Manager) cancelEscalation(ctx context.Context, alertID string, now time.Time) {
	if m.escalator == nil {
		return
	}
	if err := m.escalator.Cancel(ctx, alertID, now); err != nil {
		m.log.WithError(err).WithField("alert_id", alertID).Error("Failed to cancel escalation timers")
	}
}

func markResolved(alert *alerting.Alert, by, notes string, permanentFix bool, now time.Time) {
	alert.Status = alerting.StatusResolved
	alert.ResolvedAt = &now
	alert.ResolvedBy = by
	alert.ResolutionNotes = notes
	alert.PermanentFix = permanentFix
}

// inCooldown reports whether a trigger at now falls within the cooldown
// that started when latest resolved.
func inCooldown(rule *alerting.AlertRule, latest *alerting.Alert, now time.Time) bool {
	if latest == nil || latest.ResolvedAt == nil || rule.Cooldown <= 0 {
		return false
	}
	return now.Before(latest.ResolvedAt.Add(rule.Cooldown.Std()))
}

// Describe renders the alert message for a verdict.
func Describe(rule *alerting.AlertRule, verdict alerting.Verdict) string {
	c := rule.Condition
	switch c.Type {
	case alerting.ConditionThreshold:
		if c.Threshold != nil {
			return fmt.Sprintf("%s %s %g for %s (observed %g)",
				c.Threshold.Metric, c.Threshold.Operator, c.Threshold.Value, c.Threshold.Duration, verdict.ObservedValue)
		}
	case alerting.ConditionChange:
		if c.Change != nil {
			return fmt.Sprintf("%s changed by %.2f (%s) over %s (observed %g)",
				c.Change.Metric, verdict.SeverityScore, c.Change.ChangeType, c.Change.ComparisonPeriod, verdict.ObservedValue)
		}
	case alerting.ConditionAnomaly:
		if c.Anomaly != nil {
			return fmt.Sprintf("%s deviates from baseline with z=%.2f (observed %g)",
				c.Anomaly.Metric, verdict.SeverityScore, verdict.ObservedValue)
		}
	case alerting.ConditionPattern:
		if c.Pattern != nil {
			return fmt.Sprintf("%s shows %s pattern with %d occurrences in %s",
				c.Pattern.Metric, c.Pattern.Kind, int(verdict.SeverityScore), c.Pattern.Window)
		}
	}
	return fmt.Sprintf("%s triggered (observed %g)", rule.Name, verdict.ObservedValue)
}
