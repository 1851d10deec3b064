package commands

import (
	"database/sql"

	"github.com/teranos/tablescan/am"
	"github.com/teranos/tablescan/db"
	"github.com/teranos/tablescan/errors"
	"github.com/teranos/tablescan/logger"
)

// loadConfig loads and validates am.toml plus TABLESCAN_* overrides
func loadConfig() (*am.Config, error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

// openDatabase opens and migrates the database holding the job queue. The
// catalog lives wherever metastore.address points, by default the same file.
func openDatabase(cfg *am.Config) (*sql.DB, error) {
	path := cfg.GetDatabasePath()
	database, err := db.OpenWithMigrations(path, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", path)
	}
	return database, nil
}
