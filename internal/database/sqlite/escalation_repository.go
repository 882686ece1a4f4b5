package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/frostdev-ops/pma-alert-engine/internal/core/alerting"
	"github.com/frostdev-ops/pma-alert-engine/internal/database/models"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

const timerColumns = `id, alert_id, policy_id, level, due_at, status, claimed_by, claimed_at, fired_at, created_at`

// EscalationRepository stores durable escalation timers.
type EscalationRepository struct {
	db  *sqlx.DB
	log *logrus.Logger
}

var _ alerting.EscalationStore = (*EscalationRepository)(nil)

func NewEscalationRepository(db *sqlx.DB, log *logrus.Logger) *EscalationRepository {
	return &EscalationRepository{
		db:  db,
		log: log,
	}
}

// InsertTimers writes all timers in one transaction. A timer for an
// (alert, level) that already exists is left untouched.
func (r *EscalationRepository) InsertTimers(ctx context.Context, timers []*alerting.EscalationTimer) error {
	if len(timers) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `INSERT INTO escalation_timers (` + timerColumns + `)
		VALUES (:id, :alert_id, :policy_id, :level, :due_at, :status, :claimed_by, :claimed_at, :fired_at, :created_at)
		ON CONFLICT(alert_id, level) DO NOTHING`
	for _, t := range timers {
		if _, err := tx.NamedExecContext(ctx, query, models.NewTimerRow(t)); err != nil {
			r.log.WithError(err).WithField("alert_id", t.AlertID).Error("Failed to insert escalation timer")
			return fmt.Errorf("failed to insert escalation timer: %w", err)
		}
	}

	return tx.Commit()
}

func (r *EscalationRepository) DueTimers(ctx context.Context, now, staleBefore time.Time, limit int) ([]*alerting.EscalationTimer, error) {
	// A timer waits while a lower level of its alert is held by a live claim.
	query := `SELECT ` + timerColumns + ` FROM escalation_timers t
		WHERE ((status = 'pending' AND due_at <= ?)
		   OR (status = 'claimed' AND claimed_at <= ?))
		  AND NOT EXISTS (
			SELECT 1 FROM escalation_timers prev
			WHERE prev.alert_id = t.alert_id
			  AND prev.level < t.level
			  AND prev.status = 'claimed'
			  AND prev.claimed_at > ?)
		ORDER BY due_at, level
		LIMIT ?`

	stale := models.Millis(staleBefore)
	var rows []models.TimerRow
	if err := r.db.SelectContext(ctx, &rows, query, models.Millis(now), stale, stale, limit); err != nil {
		return nil, fmt.Errorf("failed to load due escalation timers: %w", err)
	}
	return timersOf(rows), nil
}

func (r *EscalationRepository) ClaimTimer(ctx context.Context, timer *alerting.EscalationTimer, owner string, at time.Time) (bool, error) {
	claimedAt := int64(-1)
	if timer.ClaimedAt != nil {
		claimedAt = models.Millis(*timer.ClaimedAt)
	}

	query := `UPDATE escalation_timers SET status = 'claimed', claimed_by = ?, claimed_at = ?
		WHERE id = ? AND status = ? AND COALESCE(claimed_at, -1) = ?`
	res, err := r.db.ExecContext(ctx, query, owner, models.Millis(at), timer.ID, string(timer.Status), claimedAt)
	if err != nil {
		return false, fmt.Errorf("failed to claim escalation timer: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (r *EscalationRepository) FinishTimer(ctx context.Context, id string, status alerting.TimerStatus, at time.Time) error {
	query := `UPDATE escalation_timers SET status = ?, fired_at = ? WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, string(status), models.Millis(at), id); err != nil {
		return fmt.Errorf("failed to finish escalation timer: %w", err)
	}
	return nil
}

// CancelTimers cancels the pending timers of an alert. Claimed timers are
// already firing and check the alert status themselves.
func (r *EscalationRepository) CancelTimers(ctx context.Context, alertID string, at time.Time) (int, error) {
	query := `UPDATE escalation_timers SET status = 'cancelled', fired_at = ?
		WHERE alert_id = ? AND status = 'pending'`
	res, err := r.db.ExecContext(ctx, query, models.Millis(at), alertID)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel escalation timers: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *EscalationRepository) ListTimers(ctx context.Context, alertID string) ([]*alerting.EscalationTimer, error) {
	var rows []models.TimerRow
	query := `SELECT ` + timerColumns + ` FROM escalation_timers WHERE alert_id = ? ORDER BY level`
	if err := r.db.SelectContext(ctx, &rows, query, alertID); err != nil {
		return nil, fmt.Errorf("failed to list escalation timers: %w", err)
	}
	return timersOf(rows), nil
}

// PurgeTimers deletes finished timers created before olderThan.
func (r *EscalationRepository) PurgeTimers(ctx context.Context, olderThan time.Time) (int, error) {
	query := `DELETE FROM escalation_timers
		WHERE status IN ('fired', 'skipped', 'cancelled') AND created_at < ?`
	res, err := r.db.ExecContext(ctx, query, models.Millis(olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to purge escalation timers: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func timersOf(rows []models.TimerRow) []*alerting.EscalationTimer {
	timers := make([]*alerting.EscalationTimer, 0, len(rows))
	for i := range rows {
		timers = append(timers, rows[i].Timer())
	}
	return timers
}
