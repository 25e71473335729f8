package commands

import (
	"database/sql"

	"github.com/mattsoldo/email-extractor-sub001/am"
	"github.com/mattsoldo/email-extractor-sub001/db"
	"github.com/mattsoldo/email-extractor-sub001/errors"
	"github.com/mattsoldo/email-extractor-sub001/logger"
)

// DBPath overrides database.path when set (bound to the root --db flag).
var DBPath string

// loadConfig loads am configuration and validates it.
func loadConfig() (*am.Config, error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

// openDatabase opens and migrates the database. The --db flag wins over
// database.path from am config.
func openDatabase(cfg *am.Config) (*sql.DB, error) {
	dbPath := databasePath(cfg)
	database, err := db.OpenWithMigrations(dbPath, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", dbPath)
	}
	return database, nil
}

func databasePath(cfg *am.Config) string {
	if DBPath != "" {
		return DBPath
	}
	if cfg.Database.Path != "" {
		return cfg.Database.Path
	}
	return "emx.db"
}
