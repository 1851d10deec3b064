package db

import (
	"database/sql"
	"strings"

	"github.com/teranos/tablescan/errors"
)

// ErrDatabaseClosed is returned when the database was closed underneath a
// running operation, typically while a worker pool shuts down.
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed reports whether err means the connection is gone. The
// driver returns its own error values, so the message is checked too.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.IsAny(err, ErrDatabaseClosed, sql.ErrConnDone) {
		return true
	}
	return strings.Contains(err.Error(), "database is closed")
}
