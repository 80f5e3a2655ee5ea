package port

import "context"

// Row is a single result row keyed by column name.
type Row = map[string]any

// RowFunc consumes one row. Returning an error stops the iteration.
type RowFunc func(row Row) error

// RowIterator streams the rows of one query.
type RowIterator interface {
	Each(ctx context.Context, fn RowFunc) error
}

// RowSource builds iterators for SQL statements.
type RowSource interface {
	Iterate(sql string, args ...any) RowIterator
}

// QueryExecutor runs a statement and materializes a bounded result.
type QueryExecutor interface {
	Execute(ctx context.Context, sql string) ([]map[string]any, error)
}

// StatementListener is notified synchronously, once per statement, before the
// engine executes it.
type StatementListener interface {
	OnStatement(ctx context.Context, sql string)
}
