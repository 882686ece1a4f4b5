package database

import (
	"github.com/frostdev-ops/pma-alert-engine/internal/database/sqlite"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

// Repositories holds all repository instances
type Repositories struct {
	Rules        *sqlite.RuleRepository
	Alerts       *sqlite.AlertRepository
	Escalations  *sqlite.EscalationRepository
	Deliveries   *sqlite.DeliveryRepository
	Suppressions *sqlite.SuppressionRepository
	Samples      *sqlite.SampleRepository
}

// NewRepositories creates all repository instances
func NewRepositories(db *sqlx.DB, log *logrus.Logger) *Repositories {
	return &Repositories{
		Rules:        sqlite.NewRuleRepository(db, log),
		Alerts:       sqlite.NewAlertRepository(db, log),
		Escalations:  sqlite.NewEscalationRepository(db, log),
		Deliveries:   sqlite.NewDeliveryRepository(db, log),
		Suppressions: sqlite.NewSuppressionRepository(db, log),
		Samples:      sqlite.NewSampleRepository(db, log),
	}
}
