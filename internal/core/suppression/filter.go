// Package suppression decides whether a triggered verdict is silenced by a
// maintenance window, a rule suppression or a pattern suppression.
package suppression

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/frostdev-ops/pma-alert-engine/internal/core/alerting"
	"github.com/frostdev-ops/pma-alert-engine/internal/core/metrics"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// evaluationOrder is the order suppression types are consulted in.
var evaluationOrder = []alerting.SuppressionType{
	alerting.SuppressionTypeMaintenance,
	alerting.SuppressionTypeRule,
	alerting.SuppressionTypePattern,
}

// Trigger is a triggered verdict for one fingerprint of a rule.
type Trigger struct {
	Rule        *alerting.AlertRule
	Verdict     alerting.Verdict
	Fingerprint string
	Labels      map[string]string
}

// Severity is the verdict severity, or the rule's base severity when the
// evaluator did not derive one.
func (t Trigger) Severity() alerting.Severity {
	return alerting.EffectiveSeverity(t.Rule, t.Verdict)
}

// Decision is the outcome of ShouldSuppress.
type Decision struct {
	Suppressed  bool
	Suppression *alerting.SuppressionRule
	Audit       *alerting.SuppressionAudit
}

// Filter checks triggers against the workspace's suppressions.
type Filter struct {
	store     alerting.SuppressionStore
	publisher alerting.EventPublisher
	metrics   metrics.MetricsCollector
	log       *logrus.Logger
}

func NewFilter(store alerting.SuppressionStore, publisher alerting.EventPublisher, collector metrics.MetricsCollector, log *logrus.Logger) *Filter {
	if publisher == nil {
		publisher = alerting.NopPublisher{}
	}
	return &Filter{
		store:     store,
		publisher: publisher,
		metrics:   metrics.OrNop(collector),
		log:       log,
	}
}

// ShouldSuppress returns the first matching suppression, consulting
// maintenance windows, then rule suppressions, then pattern suppressions.
// It fails open: a suppression that cannot be evaluated is skipped, and a
// store failure means nothing is suppressed. A suppression only takes
// effect once its audit record is written.
func (f *Filter) ShouldSuppress(ctx context.Context, t Trigger, now time.Time) Decision {
	logger := f.log.WithFields(logrus.Fields{
		"rule_id":     t.Rule.ID,
		"fingerprint": t.Fingerprint,
	})

	candidates, err := f.store.ListSuppressions(ctx, t.Rule.WorkspaceID)
	if err != nil {
		logger.WithError(err).Warn("Failed to load suppressions, not suppressing")
		return Decision{}
	}

	match := f.firstMatch(candidates, t, now, logger)
	if match == nil {
		return Decision{}
	}

	audit := &alerting.SuppressionAudit{
		ID:              uuid.NewString(),
		RuleID:          t.Rule.ID,
		WorkspaceID:     t.Rule.WorkspaceID,
		SuppressionID:   match.ID,
		SuppressionType: match.Type,
		Reason:          match.Reason,
		Fingerprint:     t.Fingerprint,
		Labels:          t.Labels,
		ObservedValue:   t.Verdict.ObservedValue,
		Severity:        t.Severity(),
		CreatedAt:       now,
	}
	if err := f.store.RecordAudit(ctx, audit); err != nil {
		logger.WithError(err).WithField("suppression_id", match.ID).Error("Failed to record suppression audit, not suppressing")
		return Decision{}
	}

	f.metrics.RecordSuppression(string(match.Type))
	f.publisher.Publish(alerting.Event{
		Type:   alerting.EventSuppressed,
		RuleID: t.Rule.ID,
		Data: map[string]interface{}{
			"workspace_id":     t.Rule.WorkspaceID,
			"suppression_id":   match.ID,
			"suppression_type": match.Type,
			"reason":           match.Reason,
			"fingerprint":      t.Fingerprint,
			"observed_value":   t.Verdict.ObservedValue,
		},
		Timestamp: now,
	})
	logger.WithFields(logrus.Fields{
		"suppression_id":   match.ID,
		"suppression_type": match.Type,
	}).Info("Trigger suppressed")

	return Decision{Suppressed: true, Suppression: match, Audit: audit}
}

func (f *Filter) firstMatch(candidates []*alerting.SuppressionRule, t Trigger, now time.Time, logger *logrus.Entry) *alerting.SuppressionRule {
	for _, kind := range evaluationOrder {
		for _, s := range candidates {
			if s.Type != kind || !s.Enabled {
				continue
			}
			ok, err := Matches(s, t, now)
			if err != nil {
				logger.WithError(err).WithField("suppression_id", s.ID).Warn("Skipping suppression that cannot be evaluated")
				continue
			}
			if ok {
				return s
			}
		}
	}
	return nil
}

// Matches reports whether s applies to t at now.
func Matches(s *alerting.SuppressionRule, t Trigger, now time.Time) (bool, error) {
	if s.WorkspaceID != "" && s.WorkspaceID != t.Rule.WorkspaceID {
		return false, nil
	}

	active, err := Active(s, now)
	if err != nil || !active {
		return false, err
	}

	if s.Type == alerting.SuppressionTypeRule && s.Match.RuleID == "" {
		return false, fmt.Errorf("rule suppression %s has no rule_id", s.ID)
	}
	return matchFields(s.Match, t)
}

// Active reports whether the suppression's time window covers now.
// Maintenance windows need a window; rule and pattern suppressions apply
// at all times unless they carry one.
func Active(s *alerting.SuppressionRule, now time.Time) (bool, error) {
	switch {
	case s.Schedule != "":
		sched, err := alerting.ScheduleParser.Parse(s.Schedule)
		if err != nil {
			return false, fmt.Errorf("invalid schedule %q: %w", s.Schedule, err)
		}
		if s.Duration <= 0 {
			return false, fmt.Errorf("scheduled window %s has no duration", s.ID)
		}
		// A window is open when an activation happened within the last
		// Duration.
		next := sched.Next(now.Add(-s.Duration.Std()))
		return !next.After(now), nil
	case s.StartsAt != nil || s.EndsAt != nil:
		if s.StartsAt != nil && now.Before(*s.StartsAt) {
			return false, nil
		}
		if s.EndsAt != nil && now.After(*s.EndsAt) {
			return false, nil
		}
		return true, nil
	case s.Type == alerting.SuppressionTypeMaintenance:
		return false, fmt.Errorf("maintenance window %s has no time range", s.ID)
	}
	return true, nil
}

func matchFields(m alerting.SuppressionMatch, t Trigger) (bool, error) {
	if m.RuleID != "" && m.RuleID != t.Rule.ID {
		return false, nil
	}
	if m.Severity != "" && m.Severity != t.Severity() {
		return false, nil
	}
	if m.MetricType != "" {
		ok, err := path.Match(m.MetricType, t.Rule.Metric())
		if err != nil {
			return false, fmt.Errorf("invalid metric_type pattern %q: %w", m.MetricType, err)
		}
		if !ok {
			return false, nil
		}
	}
	for k, v := range m.Labels {
		if t.Labels[k] != v {
			return false, nil
		}
	}
	return true, nil
}
