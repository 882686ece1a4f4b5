package engine

import (
	"context"
	"net/http"
	"strings"

	"github.com/frostdev-ops/pma-alert-engine/internal/core/alerting"
	apperrors "github.com/frostdev-ops/pma-alert-engine/pkg/errors"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// SaveRule validates and stores rule, then puts it on the schedule. A rule
// without an ID is created.
func (e *Engine) SaveRule(ctx context.Context, rule *alerting.AlertRule) (*alerting.AlertRule, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	if rule.EscalationPolicyID != "" {
		policy, err := e.stores.Rules.GetPolicy(ctx, rule.EscalationPolicyID)
		if err != nil {
			if apperrors.GetStatusCode(err) == http.StatusNotFound {
				return nil, configError("rule", "escalation policy %q does not exist", rule.EscalationPolicyID)
			}
			return nil, err
		}
		if policy.WorkspaceID != rule.WorkspaceID {
			return nil, configError("rule", "escalation policy %q belongs to another workspace", rule.EscalationPolicyID)
		}
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}

	if err := e.stores.Rules.SaveRule(ctx, rule); err != nil {
		return nil, err
	}
	if rule.Active {
		e.scheduler.Upsert(rule)
	} else {
		e.scheduler.Remove(rule.ID)
	}

	e.log.WithField("rule_id", rule.ID).Info("Alert rule saved")
	return rule, nil
}

// DeleteRule removes a rule from the store and the schedule. Its alerts are
// kept.
func (e *Engine) DeleteRule(ctx context.Context, id string) error {
	if err := e.stores.Rules.DeleteRule(ctx, id); err != nil {
		return err
	}
	e.scheduler.Remove(id)
	e.log.WithField("rule_id", id).Info("Alert rule deleted")
	return nil
}

// Rule returns one rule.
func (e *Engine) Rule(ctx context.Context, id string) (*alerting.AlertRule, error) {
	return e.stores.Rules.GetRule(ctx, id)
}

// Rules lists rules.
func (e *Engine) Rules(ctx context.Context, filter alerting.RuleFilter) ([]*alerting.AlertRule, error) {
	return e.stores.Rules.ListRules(ctx, filter)
}

// SavePolicy validates and stores an escalation policy with its levels
// sorted.
func (e *Engine) SavePolicy(ctx context.Context, policy *alerting.EscalationPolicy) (*alerting.EscalationPolicy, error) {
	if strings.HasPrefix(policy.ID, "default:") {
		return nil, configError("escalation policy", "id prefix %q is reserved", "default:")
	}
	policy.SortLevels()
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if policy.ID == "" {
		policy.ID = uuid.NewString()
	}
	if err := e.stores.Rules.SavePolicy(ctx, policy); err != nil {
		return nil, err
	}
	e.log.WithField("policy_id", policy.ID).Info("Escalation policy saved")
	return policy, nil
}

// DeletePolicy removes a policy. Rules still naming it escalate with their
// default policy.
func (e *Engine) DeletePolicy(ctx context.Context, id string) error {
	if err := e.stores.Rules.DeletePolicy(ctx, id); err != nil {
		return err
	}
	e.log.WithField("policy_id", id).Info("Escalation policy deleted")
	return nil
}

func (e *Engine) Policy(ctx context.Context, id string) (*alerting.EscalationPolicy, error) {
	return e.stores.Rules.GetPolicy(ctx, id)
}

func (e *Engine) Policies(ctx context.Context, workspaceID string) ([]*alerting.EscalationPolicy, error) {
	return e.stores.Rules.ListPolicies(ctx, workspaceID)
}

// SaveSuppression validates and stores a suppression rule.
func (e *Engine) SaveSuppression(ctx context.Context, s *alerting.SuppressionRule) (*alerting.SuppressionRule, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if err := e.stores.Suppressions.SaveSuppression(ctx, s); err != nil {
		return nil, err
	}
	e.log.WithFields(logrus.Fields{
		"suppression_id": s.ID,
		"type":           s.Type,
	}).Info("Suppression saved")
	return s, nil
}

func (e *Engine) DeleteSuppression(ctx context.Context, id string) error {
	if err := e.stores.Suppressions.DeleteSuppression(ctx, id); err != nil {
		return err
	}
	e.log.WithField("suppression_id", id).Info("Suppression deleted")
	return nil
}

func (e *Engine) Suppression(ctx context.Context, id string) (*alerting.SuppressionRule, error) {
	return e.stores.Suppressions.GetSuppression(ctx, id)
}

func (e *Engine) Suppressions(ctx context.Context, workspaceID string) ([]*alerting.SuppressionRule, error) {
	return e.stores.Suppressions.ListSuppressions(ctx, workspaceID)
}

// SuppressionAudit lists audit records, newest first.
func (e *Engine) SuppressionAudit(ctx context.Context, workspaceID, ruleID string, limit int) ([]*alerting.SuppressionAudit, error) {
	return e.stores.Suppressions.ListAudit(ctx, workspaceID, ruleID, limit)
}

func configError(entity, format string, args ...interface{}) error {
	problems := apperrors.NewConfigProblems(entity)
	problems.Addf(format, args...)
	return problems.Err()
}
