package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/frostdev-ops/pma-alert-engine/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeAndMigrate(t *testing.T) {
	db, err := Initialize(config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "nested", "engine.db"), MaxConnections: 2})
	require.NoError(t, err)
	defer db.Close()

	log := logrus.New()
	require.NoError(t, Migrate(db, log))
	// A second run is a no-op.
	require.NoError(t, Migrate(db, log))

	var tables []string
	require.NoError(t, db.Select(&tables, `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`))
	assert.Subset(t, tables, []string{
		"alert_rules", "alerts", "escalation_policies", "escalation_timers",
		"metric_samples", "notification_attempts", "suppression_audit", "suppression_rules",
	})

	health := HealthStatus(context.Background(), db)
	assert.Equal(t, "healthy", health["connection"])
}
