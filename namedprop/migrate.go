package namedprop

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/icsfxd/icsfx/internal/log"
)

//go:embed migrations/sqlite3
var migrationFiles embed.FS

// Migrate brings the named-property registry schema in db up to the latest
// version, following the teacher's embed.FS + iofs migration pattern.
func Migrate(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("namedprop: migration driver: %w", err)
	}

	src, err := iofs.New(migrationFiles, "migrations/sqlite3")
	if err != nil {
		return fmt.Errorf("namedprop: migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("namedprop: migrate init: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("namedprop: migrate up: %w", err)
	}

	v, _, err := m.Version()
	if err == nil {
		log.Infof("namedprop: registry schema at version %d", v)
	}
	return nil
}
