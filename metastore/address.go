package metastore

import (
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/tablescan/db"
	"github.com/teranos/tablescan/errors"
)

// SchemeSQLite addresses a catalog kept in a local SQLite file
const SchemeSQLite = "sqlite"

// CatalogPath returns the database file named by a metastore address of the
// form sqlite://<path>. Other schemes are not served.
func CatalogPath(address string) (string, error) {
	scheme, path, ok := strings.Cut(address, "://")
	if !ok || scheme != SchemeSQLite {
		return "", errors.WithHintf(
			errors.NewInvalidRequestError("unsupported metastore address %q", address),
			"use %s://<catalog database path>", SchemeSQLite)
	}
	if path == "" {
		return "", errors.WithHintf(
			errors.NewInvalidRequestError("metastore address %q names no database", address),
			"use %s://<catalog database path>", SchemeSQLite)
	}
	return path, nil
}

// OpenCatalog opens and migrates the catalog named by address. The returned
// func closes its database.
func OpenCatalog(address string, log *zap.SugaredLogger) (*Catalog, func() error, error) {
	path, err := CatalogPath(address)
	if err != nil {
		return nil, nil, err
	}
	conn, err := db.OpenWithMigrations(path, log)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to open catalog %s", address)
	}
	return NewCatalog(conn, log), conn.Close, nil
}
