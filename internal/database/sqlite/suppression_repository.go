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

const suppressionColumns = `id, workspace_id, type, match, starts_at, ends_at, schedule, duration_ms, reason, enabled, created_at`

const auditColumns = `id, rule_id, workspace_id, suppression_id, suppression_type, reason, fingerprint, labels,
	observed_value, severity, created_at`

// SuppressionRepository stores suppression rules and the suppression audit.
type SuppressionRepository struct {
	db  *sqlx.DB
	log *logrus.Logger
}

var _ alerting.SuppressionStore = (*SuppressionRepository)(nil)

func NewSuppressionRepository(db *sqlx.DB, log *logrus.Logger) *SuppressionRepository {
	return &SuppressionRepository{
		db:  db,
		log: log,
	}
}

func (r *SuppressionRepository) ListSuppressions(ctx context.Context, workspaceID string) ([]*alerting.SuppressionRule, error) {
	query := `SELECT ` + suppressionColumns + ` FROM suppression_rules`
	var args []interface{}
	if workspaceID != "" {
		query += ` WHERE workspace_id = ?`
		args = append(args, workspaceID)
	}
	query += ` ORDER BY created_at`

	var rows []models.SuppressionRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.log.WithError(err).Error("Failed to list suppressions")
		return nil, fmt.Errorf("failed to list suppressions: %w", err)
	}

	rules := make([]*alerting.SuppressionRule, 0, len(rows))
	for i := range rows {
		s, err := rows[i].Suppression()
		if err != nil {
			return nil, fmt.Errorf("failed to decode suppression %s: %w", rows[i].ID, err)
		}
		rules = append(rules, s)
	}
	return rules, nil
}

func (r *SuppressionRepository) GetSuppression(ctx context.Context, id string) (*alerting.SuppressionRule, error) {
	var row models.SuppressionRow
	err := r.db.GetContext(ctx, &row, `SELECT `+suppressionColumns+` FROM suppression_rules WHERE id = ?`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NotFound("suppression", id)
		}
		return nil, fmt.Errorf("failed to get suppression: %w", err)
	}
	return row.Suppression()
}

func (r *SuppressionRepository) SaveSuppression(ctx context.Context, rule *alerting.SuppressionRule) error {
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}
	row, err := models.NewSuppressionRow(rule)
	if err != nil {
		return fmt.Errorf("failed to encode suppression: %w", err)
	}

	query := `INSERT INTO suppression_rules (` + suppressionColumns + `) VALUES (
		:id, :workspace_id, :type, :match, :starts_at, :ends_at, :schedule, :duration_ms, :reason, :enabled, :created_at)
		ON CONFLICT(id) DO UPDATE SET
			workspace_id = excluded.workspace_id,
			type = excluded.type,
			match = excluded.match,
			starts_at = excluded.starts_at,
			ends_at = excluded.ends_at,
			schedule = excluded.schedule,
			duration_ms = excluded.duration_ms,
			reason = excluded.reason,
			enabled = excluded.enabled`
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		r.log.WithError(err).WithField("suppression_id", rule.ID).Error("Failed to save suppression")
		return fmt.Errorf("failed to save suppression: %w", err)
	}
	return nil
}

func (r *SuppressionRepository) DeleteSuppression(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM suppression_rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete suppression: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound("suppression", id)
	}
	return nil
}

func (r *SuppressionRepository) RecordAudit(ctx context.Context, audit *alerting.SuppressionAudit) error {
	row, err := models.NewAuditRow(audit)
	if err != nil {
		return fmt.Errorf("failed to encode suppression audit: %w", err)
	}
	query := `INSERT INTO suppression_audit (` + auditColumns + `) VALUES (
		:id, :rule_id, :workspace_id, :suppression_id, :suppression_type, :reason, :fingerprint, :labels,
		:observed_value, :severity, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		r.log.WithError(err).WithField("rule_id", audit.RuleID).Error("Failed to record suppression audit")
		return fmt.Errorf("failed to record suppression audit: %w", err)
	}
	return nil
}

func (r *SuppressionRepository) ListAudit(ctx context.Context, workspaceID, ruleID string, limit int) ([]*alerting.SuppressionAudit, error) {
	var (
		where []string
		args  []interface{}
	)
	if workspaceID != "" {
		where = append(where, "workspace_id = ?")
		args = append(args, workspaceID)
	}
	if ruleID != "" {
		where = append(where, "rule_id = ?")
		args = append(args, ruleID)
	}

	query := `SELECT ` + auditColumns + ` FROM suppression_audit`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var rows []models.AuditRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list suppression audit: %w", err)
	}

	audits := make([]*alerting.SuppressionAudit, 0, len(rows))
	for i := range rows {
		a, err := rows[i].Audit()
		if err != nil {
			return nil, fmt.Errorf("failed to decode suppression audit %s: %w", rows[i].ID, err)
		}
		audits = append(audits, a)
	}
	return audits, nil
}
