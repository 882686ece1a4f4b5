package sqlite

import (
	"context"
	"fmt"

	"github.com/frostdev-ops/pma-alert-engine/internal/core/alerting"
	"github.com/frostdev-ops/pma-alert-engine/internal/database/models"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

const attemptColumns = `id, alert_id, escalation_level, channel, recipient, attempt_number, status,
	response_code, latency_ms, error, terminal, created_at`

// DeliveryRepository is the notification attempt ledger.
type DeliveryRepository struct {
	db  *sqlx.DB
	log *logrus.Logger
}

var _ alerting.DeliveryLedger = (*DeliveryRepository)(nil)

func NewDeliveryRepository(db *sqlx.DB, log *logrus.Logger) *DeliveryRepository {
	return &DeliveryRepository{
		db:  db,
		log: log,
	}
}

func (r *DeliveryRepository) RecordAttempt(ctx context.Context, attempt *alerting.NotificationAttempt) error {
	query := `INSERT INTO notification_attempts (` + attemptColumns + `) VALUES (
		:id, :alert_id, :escalation_level, :channel, :recipient, :attempt_number, :status,
		:response_code, :latency_ms, :error, :terminal, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, models.NewAttemptRow(attempt)); err != nil {
		r.log.WithError(err).WithField("alert_id", attempt.AlertID).Error("Failed to record notification attempt")
		return fmt.Errorf("failed to record notification attempt: %w", err)
	}
	return nil
}

func (r *DeliveryRepository) UpdateAttempt(ctx context.Context, attempt *alerting.NotificationAttempt) error {
	query := `UPDATE notification_attempts SET
			status = :status,
			response_code = :response_code,
			latency_ms = :latency_ms,
			error = :error,
			terminal = :terminal
		WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, models.NewAttemptRow(attempt)); err != nil {
		r.log.WithError(err).WithField("attempt_id", attempt.ID).Error("Failed to update notification attempt")
		return fmt.Errorf("failed to update notification attempt: %w", err)
	}
	return nil
}

func (r *DeliveryRepository) ListAttempts(ctx context.Context, alertID string) ([]*alerting.NotificationAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM notification_attempts WHERE alert_id = ?
		ORDER BY escalation_level, created_at, channel, recipient, attempt_number`

	var rows []models.AttemptRow
	if err := r.db.SelectContext(ctx, &rows, query, alertID); err != nil {
		return nil, fmt.Errorf("failed to list notification attempts: %w", err)
	}

	attempts := make([]*alerting.NotificationAttempt, 0, len(rows))
	for i := range rows {
		attempts = append(attempts, rows[i].Attempt())
	}
	return attempts, nil
}
