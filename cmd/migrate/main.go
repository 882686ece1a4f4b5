package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/frostdev-ops/pma-alert-engine/internal/config"
	"github.com/frostdev-ops/pma-alert-engine/internal/database"
	"github.com/frostdev-ops/pma-alert-engine/pkg/logger"
	"github.com/golang-migrate/migrate/v4"
	"github.com/sirupsen/logrus"
)

const usage = "Usage: migrate <database-path> <up|down|version|force N> [migrations-path]"

func main() {
	log := logger.New("info", "text")

	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	dbPath := os.Args[1]
	command := os.Args[2]
	args := os.Args[3:]

	var force int
	if command == "force" {
		if len(args) == 0 {
			log.Fatal(usage)
		}
		v, err := strconv.Atoi(args[0])
		if err != nil {
			log.Fatalf("Invalid version %q: %v", args[0], err)
		}
		force = v
		args = args[1:]
	}

	migrationsPath := "./migrations"
	if len(args) > 0 {
		migrationsPath = args[0]
	}

	db, err := database.Initialize(config.DatabaseConfig{Path: dbPath, MaxConnections: 1})
	if err != nil {
		log.WithError(err).Fatal("Failed to open database")
	}
	defer db.Close()

	m, err := database.NewMigrator(db, migrationsPath)
	if err != nil {
		log.WithError(err).Fatal("Failed to create migrate instance")
	}

	switch command {
	case "up":
		if err := m.Up(); err != nil && err != migrate.ErrNoChange {
			log.WithError(err).Fatal("An error occurred while migrating up")
		}
		log.Info("Migrations applied successfully")
	case "down":
		if err := m.Down(); err != nil && err != migrate.ErrNoChange {
			log.WithError(err).Fatal("An error occurred while migrating down")
		}
		log.Info("Migrations rolled back successfully")
	case "force":
		if err := m.Force(force); err != nil {
			log.WithError(err).Fatal("Failed to force version")
		}
		log.WithField("version", force).Info("Migration version forced")
	case "version":
	default:
		log.Fatalf("Unknown command: %s. Use up, down, version or force.", command)
	}

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		log.WithError(err).Fatal("Failed to read schema version")
	}
	log.WithFields(logrus.Fields{
		"version": version,
		"dirty":   dirty,
	}).Info("Schema version")
}
