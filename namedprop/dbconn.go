package namedprop

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/qustavo/sqlhooks/v2"

	"github.com/icsfxd/icsfx/internal/log"
)

// queryHooks logs every query issued against the registry's database
// together with its elapsed time, adapted from the teacher's
// internal/repository/hooks.go sqlhooks.Hooks implementation.
type queryHooks struct{}

type beginKey struct{}

func (queryHooks) Before(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	log.Debugf("namedprop: query %s %q", query, args)
	return context.WithValue(ctx, beginKey{}, time.Now()), nil
}

func (queryHooks) After(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	if begin, ok := ctx.Value(beginKey{}).(time.Time); ok {
		log.Debugf("namedprop: query took %s", time.Since(begin))
	}
	return ctx, nil
}

var driverRegistered bool

// Open opens (and migrates) a sqlite3-backed registry database at path,
// registering the hooked driver exactly once per process.
func Open(path string) (*sqlx.DB, error) {
	driverName := "sqlite3_icsfx_namedprop"
	if !driverRegistered {
		sql.Register(driverName, sqlhooks.Wrap(&sqlite3.SQLiteDriver{}, &queryHooks{}))
		driverRegistered = true
	}

	db, err := sqlx.Open(driverName, fmt.Sprintf("%s?_foreign_keys=on", path))
	if err != nil {
		return nil, fmt.Errorf("namedprop: open %s: %w", path, err)
	}
	// sqlite does not multithread; more than one connection just waits on locks.
	db.SetMaxOpenConns(1)

	if err := Migrate(db.DB); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
