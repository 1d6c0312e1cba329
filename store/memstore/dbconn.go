package memstore

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

// queryHooks logs every query and its elapsed time through internal/log,
// adapted from the teacher's internal/repository/hooks.go.
type queryHooks struct{}

type beginKey struct{}

func (queryHooks) Before(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	log.Debugf("memstore: query %s %q", query, args)
	return context.WithValue(ctx, beginKey{}, time.Now()), nil
}

func (queryHooks) After(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	if begin, ok := ctx.Value(beginKey{}).(time.Time); ok {
		log.Debugf("memstore: took %s", time.Since(begin))
	}
	return ctx, nil
}

var hooksRegistered bool

// Open opens (creating if necessary) a sqlite3 database at path, wrapped
// with query-logging hooks, and applies pending migrations.
func Open(path string) (*sqlx.DB, error) {
	if !hooksRegistered {
		sql.Register("icsfx_store_sqlite3", sqlhooks.Wrap(&sqlite3.SQLiteDriver{}, queryHooks{}))
		hooksRegistered = true
	}

	db, err := sqlx.Open("icsfx_store_sqlite3", fmt.Sprintf("%s?_foreign_keys=on", path))
	if err != nil {
		return nil, err
	}
	// sqlite does not benefit from concurrent connections; serialize access
	// the way the teacher's dbConnection.go does for its sqlite3 path.
	db.SetMaxOpenConns(1)

	if err := migrate(db.DB); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
