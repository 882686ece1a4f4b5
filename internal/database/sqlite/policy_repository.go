package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/frostdev-ops/pma-alert-engine/internal/core/alerting"
	"github.com/frostdev-ops/pma-alert-engine/internal/database/models"
	apperrors "github.com/frostdev-ops/pma-alert-engine/pkg/errors"
)

const policyColumns = `id, workspace_id, name, levels, created_at, updated_at`

func (r *RuleRepository) GetPolicy(ctx context.Context, id string) (*alerting.EscalationPolicy, error) {
	var row models.PolicyRow
	err := r.db.GetContext(ctx, &row, `SELECT `+policyColumns+` FROM escalation_policies WHERE id = ?`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NotFound("escalation policy", id)
		}
		r.log.WithError(err).WithField("policy_id", id).Error("Failed to get escalation policy")
		return nil, fmt.Errorf("failed to get escalation policy: %w", err)
	}
	return row.Policy()
}

func (r *RuleRepository) ListPolicies(ctx context.Context, workspaceID string) ([]*alerting.EscalationPolicy, error) {
	query := `SELECT ` + policyColumns + ` FROM escalation_policies`
	var args []interface{}
	if workspaceID != "" {
		query += ` WHERE workspace_id = ?`
		args = append(args, workspaceID)
	}
	query += ` ORDER BY name`

	var rows []models.PolicyRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.log.WithError(err).Error("Failed to list escalation policies")
		return nil, fmt.Errorf("failed to list escalation policies: %w", err)
	}

	policies := make([]*alerting.EscalationPolicy, 0, len(rows))
	for i := range rows {
		p, err := rows[i].Policy()
		if err != nil {
			return nil, fmt.Errorf("failed to decode escalation policy %s: %w", rows[i].ID, err)
		}
		policies = append(policies, p)
	}
	return policies, nil
}

func (r *RuleRepository) SavePolicy(ctx context.Context, policy *alerting.EscalationPolicy) error {
	now := time.Now().UTC()
	if policy.CreatedAt.IsZero() {
		policy.CreatedAt = now
	}
	policy.UpdatedAt = now

	row, err := models.NewPolicyRow(policy)
	if err != nil {
		return fmt.Errorf("failed to encode escalation policy: %w", err)
	}

	query := `INSERT INTO escalation_policies (` + policyColumns + `)
		VALUES (:id, :workspace_id, :name, :levels, :created_at, :updated_at)
		ON CONFLICT(id) DO UPDATE SET
			workspace_id = excluded.workspace_id,
			name = excluded.name,
			levels = excluded.levels,
			updated_at = excluded.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		r.log.WithError(err).WithField("policy_id", policy.ID).Error("Failed to save escalation policy")
		return fmt.Errorf("failed to save escalation policy: %w", err)
	}
	return nil
}

func (r *RuleRepository) DeletePolicy(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM escalation_policies WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete escalation policy: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound("escalation policy", id)
	}
	return nil
}
