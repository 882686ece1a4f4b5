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

// SampleRepository is the in-house metric sample store.
type SampleRepository struct {
	db  *sqlx.DB
	log *logrus.Logger
}

func NewSampleRepository(db *sqlx.DB, log *logrus.Logger) *SampleRepository {
	return &SampleRepository{
		db:  db,
		log: log,
	}
}

// InsertSamples appends points for one metric and label set.
func (r *SampleRepository) InsertSamples(ctx context.Context, workspaceID, metric string, labels map[string]string, points []alerting.Point) error {
	if len(points) == 0 {
		return nil
	}
	if labels == nil {
		labels = map[string]string{}
	}
	labelText, err := models.JSONText(labels)
	if err != nil {
		return fmt.Errorf("failed to encode labels: %w", err)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `INSERT INTO metric_samples (workspace_id, metric, labels, ts, value) VALUES (?, ?, ?, ?, ?)`
	for _, p := range points {
		if _, err := tx.ExecContext(ctx, query, workspaceID, metric, labelText, models.Millis(p.Timestamp), p.Value); err != nil {
			r.log.WithError(err).WithField("metric", metric).Error("Failed to insert metric sample")
			return fmt.Errorf("failed to insert metric sample: %w", err)
		}
	}
	return tx.Commit()
}

// QuerySamples returns samples of metric at or after since, oldest first.
func (r *SampleRepository) QuerySamples(ctx context.Context, workspaceID, metric string, since time.Time) ([]models.SampleRow, error) {
	query := `SELECT id, workspace_id, metric, labels, ts, value FROM metric_samples
		WHERE workspace_id = ? AND metric = ? AND ts >= ?
		ORDER BY ts, id`

	var rows []models.SampleRow
	if err := r.db.SelectContext(ctx, &rows, query, workspaceID, metric, models.Millis(since)); err != nil {
		return nil, fmt.Errorf("failed to query metric samples: %w", err)
	}
	return rows, nil
}

// PurgeSamples deletes samples older than olderThan.
func (r *SampleRepository) PurgeSamples(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM metric_samples WHERE ts < ?`, models.Millis(olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to purge metric samples: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
