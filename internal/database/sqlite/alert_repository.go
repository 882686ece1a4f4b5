package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/frostdev-ops/pma-alert-engine/internal/core/alerting"
	"github.com/frostdev-ops/pma-alert-engine/internal/database/models"
	apperrors "github.com/frostdev-ops/pma-alert-engine/pkg/errors"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

const alertColumns = `id, rule_id, workspace_id, fingerprint, labels, status, severity, message, opened_at,
	acknowledged_at, acknowledged_by, acknowledge_notes, resolved_at, resolved_by, resolution_notes,
	permanent_fix, escalation_level, last_evaluated_value, last_evaluated_at, clear_evaluations, version`

// createAttempts bounds the insert/read loop of CreateIfAbsent when the
// conflicting alert is resolved between the two statements.
const createAttempts = 3

// AlertRepository stores alert instances. The partial unique index on
// (rule_id, fingerprint) keeps at most one open or acknowledged alert.
type AlertRepository struct {
	db  *sqlx.DB
	log *logrus.Logger
}

var _ alerting.AlertStore = (*AlertRepository)(nil)

func NewAlertRepository(db *sqlx.DB, log *logrus.Logger) *AlertRepository {
	return &AlertRepository{
		db:  db,
		log: log,
	}
}

func (r *AlertRepository) CreateIfAbsent(ctx context.Context, alert *alerting.Alert) (*alerting.Alert, bool, error) {
	if alert.Version == 0 {
		alert.Version = 1
	}
	row, err := models.NewAlertRow(alert)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode alert: %w", err)
	}

	query := `INSERT INTO alerts (` + alertColumns + `) VALUES (
		:id, :rule_id, :workspace_id, :fingerprint, :labels, :status, :severity, :message, :opened_at,
		:acknowledged_at, :acknowledged_by, :acknowledge_notes, :resolved_at, :resolved_by, :resolution_notes,
		:permanent_fix, :escalation_level, :last_evaluated_value, :last_evaluated_at, :clear_evaluations, :version)
		ON CONFLICT DO NOTHING`

	for attempt := 0; attempt < createAttempts; attempt++ {
		res, err := r.db.NamedExecContext(ctx, query, row)
		if err != nil {
			r.log.WithError(err).WithField("rule_id", alert.RuleID).Error("Failed to create alert")
			return nil, false, fmt.Errorf("failed to create alert: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			return alert, true, nil
		}

		existing, err := r.GetActiveAlert(ctx, alert.RuleID, alert.Fingerprint)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return existing, false, nil
		}
	}

	return nil, false, &apperrors.ConcurrencyConflict{Entity: "alert", ID: alert.RuleID + "/" + alert.Fingerprint}
}

func (r *AlertRepository) GetAlert(ctx context.Context, id string) (*alerting.Alert, error) {
	var row models.AlertRow
	err := r.db.GetContext(ctx, &row, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NotFound("alert", id)
		}
		r.log.WithError(err).WithField("alert_id", id).Error("Failed to get alert")
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return row.Alert()
}

// GetActiveAlert returns nil when no open or acknowledged alert exists.
func (r *AlertRepository) GetActiveAlert(ctx context.Context, ruleID, fingerprint string) (*alerting.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts
		WHERE rule_id = ? AND fingerprint = ? AND status IN ('open', 'acknowledged')`
	return r.getOptional(ctx, query, ruleID, fingerprint)
}

// GetLatestResolved returns nil when the fingerprint has never resolved.
func (r *AlertRepository) GetLatestResolved(ctx context.Context, ruleID, fingerprint string) (*alerting.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts
		WHERE rule_id = ? AND fingerprint = ? AND status = 'resolved'
		ORDER BY resolved_at DESC LIMIT 1`
	return r.getOptional(ctx, query, ruleID, fingerprint)
}

func (r *AlertRepository) getOptional(ctx context.Context, query string, args ...interface{}) (*alerting.Alert, error) {
	var row models.AlertRow
	err := r.db.GetContext(ctx, &row, query, args...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return row.Alert()
}

func (r *AlertRepository) ListAlerts(ctx context.Context, filter alerting.AlertFilter) ([]*alerting.Alert, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.WorkspaceID != "" {
		where = append(where, "workspace_id = ?")
		args = append(args, filter.WorkspaceID)
	}
	if filter.RuleID != "" {
		where = append(where, "rule_id = ?")
		args = append(args, filter.RuleID)
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, string(status))
		}
		where = append(where, "status IN ("+strings.Join(placeholders, ", ")+")")
	}

	query := `SELECT ` + alertColumns + ` FROM alerts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY opened_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	var rows []models.AlertRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.log.WithError(err).Error("Failed to list alerts")
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}

	alerts := make([]*alerting.Alert, 0, len(rows))
	for i := range rows {
		a, err := rows[i].Alert()
		if err != nil {
			return nil, fmt.Errorf("failed to decode alert %s: %w", rows[i].ID, err)
		}
		alerts = append(alerts, a)
	}
	return alerts, nil
}

func (r *AlertRepository) CompareAndSwap(ctx context.Context, alert *alerting.Alert) error {
	row, err := models.NewAlertRow(alert)
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}

	query := `UPDATE alerts SET
			status = :status,
			severity = :severity,
			message = :message,
			acknowledged_at = :acknowledged_at,
			acknowledged_by = :acknowledged_by,
			acknowledge_notes = :acknowledge_notes,
			resolved_at = :resolved_at,
			resolved_by = :resolved_by,
			resolution_notes = :resolution_notes,
			permanent_fix = :permanent_fix,
			escalation_level = :escalation_level,
			last_evaluated_value = :last_evaluated_value,
			last_evaluated_at = :last_evaluated_at,
			clear_evaluations = :clear_evaluations,
			version = version + 1
		WHERE id = :id AND version = :version`

	res, err := r.db.NamedExecContext(ctx, query, row)
	if err != nil {
		r.log.WithError(err).WithField("alert_id", alert.ID).Error("Failed to update alert")
		return fmt.Errorf("failed to update alert: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &apperrors.ConcurrencyConflict{Entity: "alert", ID: alert.ID}
	}

	alert.Version++
	return nil
}

func (r *AlertRepository) RaiseEscalationLevel(ctx context.Context, alertID string, level int) (bool, error) {
	query := `UPDATE alerts SET escalation_level = ?, version = version + 1
		WHERE id = ? AND status = 'open' AND escalation_level <= ?`

	res, err := r.db.ExecContext(ctx, query, level, alertID, level)
	if err != nil {
		return false, fmt.Errorf("failed to raise escalation level: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}
