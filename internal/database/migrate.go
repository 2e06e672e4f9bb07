package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrations embed.FS

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open returns the store for driver, creating or upgrading its schema.
func Open(driver, dsn string) (Store, error) {
	switch driver {
	case DriverSQLite, "":
		return New(dsn)
	case DriverPostgres, "postgresql":
		return NewPostgres(dsn)
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
}

// SchemaVersion returns the applied migration version of store.
func SchemaVersion(store Store) (uint, bool, error) {
	var conn *sql.DB
	switch s := store.(type) {
	case *DB:
		conn = s.conn
	case *PostgresStore:
		conn = s.conn
	default:
		return 0, false, fmt.Errorf("unsupported store %T", store)
	}
	var version uint
	var dirty bool
	err := conn.QueryRow("SELECT version, dirty FROM schema_migrations LIMIT 1").Scan(&version, &dirty)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	return version, dirty, err
}

func up(m *migrate.Migrate) error {
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func migrateSQLite(conn *sql.DB) error {
	src, err := iofs.New(migrations, "migrations/sqlite")
	if err != nil {
		return err
	}
	driver, err := sqlitemigrate.WithInstance(conn, &sqlitemigrate.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return err
	}
	// m.Close would close conn as well.
	return up(m)
}

func migratePostgres(connStr string) error {
	src, err := iofs.New(migrations, "migrations/postgres")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, connStr)
	if err != nil {
		return err
	}
	defer m.Close()
	return up(m)
}
