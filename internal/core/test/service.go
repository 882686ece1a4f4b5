// Package test provides fixtures shared by the engine's package tests: a
// migrated temp-dir SQLite database, rule builders and series generators.
package test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/frostdev-ops/pma-alert-engine/internal/config"
	"github.com/frostdev-ops/pma-alert-engine/internal/core/alerting"
	"github.com/frostdev-ops/pma-alert-engine/internal/database"
	"github.com/sirupsen/logrus"
)

// Logger returns a logger that only prints warnings and errors.
func Logger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	return log
}

// NewRepositories opens a migrated database under t.TempDir.
func NewRepositories(t testing.TB) *database.Repositories {
	t.Helper()
	db, err := database.Initialize(config.DatabaseConfig{
		Path:           filepath.Join(t.TempDir(), "engine.db"),
		MaxConnections: 4,
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	log := Logger()
	if err := database.Migrate(db, log); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	return database.NewRepositories(db, log)
}

// ThresholdRule builds the "error_rate > 0.05 over 5m" rule used across
// the engine tests.
func ThresholdRule(id string) *alerting.AlertRule {
	return &alerting.AlertRule{
		ID:          id,
		WorkspaceID: "ws-1",
		Name:        "High error rate",
		Condition: alerting.Condition{
			Type: alerting.ConditionThreshold,
			Threshold: &alerting.ThresholdCondition{
				Metric:   "error_rate",
				Operator: alerting.OpGreater,
				Value:    0.05,
				Duration: alerting.Duration(5 * time.Minute),
			},
		},
		Severity:             alerting.SeverityHigh,
		CheckInterval:        alerting.Duration(time.Minute),
		Cooldown:             alerting.Duration(time.Hour),
		Active:               true,
		NotificationChannels: []alerting.ChannelType{alerting.ChannelEmail},
		Recipients:           []string{"oncall@example.com"},
		Labels:               map[string]string{"service": "api"},
	}
}

// Series spaces values step apart so the last one lands on end.
func Series(end time.Time, step time.Duration, values ...float64) []alerting.Point {
	points := make([]alerting.Point, len(values))
	for i, v := range values {
		points[i] = alerting.Point{
			Timestamp: end.Add(-time.Duration(len(values)-1-i) * step),
			Value:     v,
		}
	}
	return points
}

// Recorder is an EventPublisher that keeps every event.
type Recorder struct {
	events chan alerting.Event
}

func NewRecorder() *Recorder {
	return &Recorder{events: make(chan alerting.Event, 1024)}
}

func (r *Recorder) Publish(event alerting.Event) {
	select {
	case r.events <- event:
	default:
	}
}

// Types drains the recorded events and returns their types in order.
func (r *Recorder) Types() []alerting.EventType {
	var types []alerting.EventType
	for {
		select {
		case e := <-r.events:
			types = append(types, e.Type)
		default:
			return types
		}
	}
}
