package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/frostdev-ops/pma-alert-engine/internal/core/alerting"
	"github.com/frostdev-ops/pma-alert-engine/internal/database/models"
	apperrors "github.com/frostdev-ops/pma-alert-engine/pkg/errors"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

const ruleColumns = `id, workspace_id, name, description, metric, condition_type, condition, severity,
	check_interval_ms, cooldown_ms, escalation_policy_id, active, auto_resolve, notification_channels,
	recipients, labels, consecutive_failures, degraded, last_error, last_evaluated_at, created_at, updated_at`

// RuleRepository stores alert rules, their health and escalation policies.
type RuleRepository struct {
	db  *sqlx.DB
	log *logrus.Logger
}

var _ alerting.RuleStore = (*RuleRepository)(nil)

func NewRuleRepository(db *sqlx.DB, log *logrus.Logger) *RuleRepository {
	return &RuleRepository{
		db:  db,
		log: log,
	}
}

func (r *RuleRepository) GetRule(ctx context.Context, id string) (*alerting.AlertRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM alert_rules WHERE id = ?`

	var row models.RuleRow
	err := r.db.GetContext(ctx, &row, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NotFound("rule", id)
		}
		r.log.WithError(err).WithField("rule_id", id).Error("Failed to get rule")
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}

	return row.Rule()
}

func (r *RuleRepository) ListRules(ctx context.Context, filter alerting.RuleFilter) ([]*alerting.AlertRule, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.WorkspaceID != "" {
		where = append(where, "workspace_id = ?")
		args = append(args, filter.WorkspaceID)
	}
	if filter.ActiveOnly {
		where = append(where, "active = 1")
	}
	if filter.Degraded != nil {
		where = append(where, "degraded = ?")
		args = append(args, *filter.Degraded)
	}

	query := `SELECT ` + ruleColumns + ` FROM alert_rules`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY workspace_id, name"

	var rows []models.RuleRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.log.WithError(err).Error("Failed to list rules")
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}

	rules := make([]*alerting.AlertRule, 0, len(rows))
	for i := range rows {
		rule, err := rows[i].Rule()
		if err != nil {
			return nil, fmt.Errorf("failed to decode rule %s: %w", rows[i].ID, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// SaveRule inserts or replaces a rule. Replacing a rule clears its health so
// a corrected rule starts from a clean failure count.
func (r *RuleRepository) SaveRule(ctx context.Context, rule *alerting.AlertRule) error {
	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now
	rule.ConsecutiveFailures = 0
	rule.Degraded = false
	rule.LastError = ""

	row, err := models.NewRuleRow(rule)
	if err != nil {
		return fmt.Errorf("failed to encode rule: %w", err)
	}

	query := `INSERT INTO alert_rules (` + ruleColumns + `) VALUES (
		:id, :workspace_id, :name, :description, :metric, :condition_type, :condition, :severity,
		:check_interval_ms, :cooldown_ms, :escalation_policy_id, :active, :auto_resolve, :notification_channels,
		:recipients, :labels, :consecutive_failures, :degraded, :last_error, :last_evaluated_at, :created_at, :updated_at)
		ON CONFLICT(id) DO UPDATE SET
			workspace_id = excluded.workspace_id,
			name = excluded.name,
			description = excluded.description,
			metric = excluded.metric,
			condition_type = excluded.condition_type,
			condition = excluded.condition,
			severity = excluded.severity,
			check_interval_ms = excluded.check_interval_ms,
			cooldown_ms = excluded.cooldown_ms,
			escalation_policy_id = excluded.escalation_policy_id,
			active = excluded.active,
			auto_resolve = excluded.auto_resolve,
			notification_channels = excluded.notification_channels,
			recipients = excluded.recipients,
			labels = excluded.labels,
			consecutive_failures = 0,
			degraded = 0,
			last_error = '',
			updated_at = excluded.updated_at`

	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		r.log.WithError(err).WithField("rule_id", rule.ID).Error("Failed to save rule")
		return fmt.Errorf("failed to save rule: %w", err)
	}
	return nil
}

func (r *RuleRepository) DeleteRule(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM alert_rules WHERE id = ?`, id)
	if err != nil {
		r.log.WithError(err).WithField("rule_id", id).Error("Failed to delete rule")
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound("rule", id)
	}
	return nil
}

func (r *RuleRepository) RecordRuleFailure(ctx context.Context, id, message string, degradedAfter int, at time.Time) (int, bool, error) {
	query := `UPDATE alert_rules SET
			consecutive_failures = consecutive_failures + 1,
			degraded = CASE WHEN consecutive_failures + 1 >= ? THEN 1 ELSE degraded END,
			last_error = ?,
			last_evaluated_at = ?
		WHERE id = ?
		RETURNING consecutive_failures, degraded`

	var (
		failures int
		degraded bool
	)
	err := r.db.QueryRowxContext(ctx, query, degradedAfter, message, models.Millis(at), id).Scan(&failures, &degraded)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, false, apperrors.NotFound("rule", id)
		}
		return 0, false, fmt.Errorf("failed to record rule failure: %w", err)
	}
	return failures, degraded, nil
}

func (r *RuleRepository) RecordRuleSuccess(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE alert_rules SET consecutive_failures = 0, degraded = 0, last_error = '', last_evaluated_at = ?
		WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, models.Millis(at), id); err != nil {
		return fmt.Errorf("failed to record rule success: %w", err)
	}
	return nil
}
