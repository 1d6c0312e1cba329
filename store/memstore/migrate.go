package memstore

import (
	"database/sql"
	"embed"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/icsfxd/icsfx/internal/log"
)

//go:embed migrations/sqlite3/*.sql
var migrationFiles embed.FS

// migrate brings db up to the latest schema version, adapted from the
// teacher's internal/repository/migration.go pattern (embed.FS + iofs
// source, golang-migrate sqlite3 driver).
func migrate(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return err
	}
	src, err := iofs.New(migrationFiles, "migrations/sqlite3")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	log.Debugf("memstore: schema migrated")
	return nil
}
