package database

import (
	"database/sql"
	"fmt"
	"strings"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
	_ "modernc.org/sqlite"
)

// DB wraps the SQLite connection.
type DB struct {
	sqlStore
}

// Ensure DB implements Store interface.
var _ Store = (*DB)(nil)

// New opens or creates an SQLite database at the given path and applies
// pending migrations.
func New(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite allows a single writer; one connection avoids SQLITE_BUSY.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := migrateSQLite(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &DB{sqlStore{conn: conn, flavor: sqlbuilder.SQLite}}, nil
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// DatabaseType returns the database backend name.
func (db *DB) DatabaseType() string {
	return "SQLite"
}

// SupportsHighConcurrency returns false for SQLite due to write locking.
func (db *DB) SupportsHighConcurrency() bool {
	return false
}
