package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/guillermoBallester/rowguard/internal/core/port"
)

// Source streams query rows from a DB one at a time.
type Source struct {
	db           *DB
	queryTimeout time.Duration
}

func NewSource(db *DB, queryTimeout time.Duration) *Source {
	return &Source{db: db, queryTimeout: queryTimeout}
}

func (s *Source) Iterate(sql string, args ...any) port.RowIterator {
	return &queryIterator{source: s, sql: sql, args: args}
}

type queryIterator struct {
	source *Source
	sql    string
	args   []any
}

func (it *queryIterator) Each(ctx context.Context, fn port.RowFunc) error {
	if it.source.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, it.source.queryTimeout)
		defer cancel()
	}

	rows, err := it.source.db.QueryContext(ctx, it.sql, it.args...)
	if err != nil {
		return fmt.Errorf("executing query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return eachRow(rows, fn)
}
