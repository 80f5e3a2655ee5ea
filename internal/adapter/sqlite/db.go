// Package sqlite adapts database/sql on the modernc.org/sqlite driver.
// database/sql has no statement hook, so DB announces every statement to its
// listener itself before handing it to the driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/guillermoBallester/rowguard/internal/core/port"
	_ "modernc.org/sqlite"
)

const driverName = "sqlite"

type DB struct {
	db       *sql.DB
	listener port.StatementListener
}

// Open opens the database at dsn (a file path or a "file:" URI) and pings it.
func Open(ctx context.Context, dsn string, listener port.StatementListener) (*DB, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging sqlite database: %w", err)
	}

	return &DB{db: db, listener: listener}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	d.notify(ctx, query)
	return d.db.ExecContext(ctx, query, args...)
}

func (d *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	d.notify(ctx, query)
	return d.db.QueryContext(ctx, query, args...)
}

func (d *DB) notify(ctx context.Context, query string) {
	if d.listener != nil {
		d.listener.OnStatement(ctx, query)
	}
}
