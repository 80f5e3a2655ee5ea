package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/guillermoBallester/rowguard/internal/core/port"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Source streams query rows straight from the pool, one at a time. The pool's
// tracer reports each statement, so iterators built here can be guarded.
type Source struct {
	pool         *pgxpool.Pool
	queryTimeout time.Duration
}

func NewSource(pool *pgxpool.Pool, queryTimeout time.Duration) *Source {
	return &Source{pool: pool, queryTimeout: queryTimeout}
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

	rows, err := it.source.pool.Query(ctx, it.sql, it.args...)
	if err != nil {
		return fmt.Errorf("executing query: %w", err)
	}
	defer rows.Close()

	return eachRow(rows, fn)
}
