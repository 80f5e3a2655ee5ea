package sqlite

import (
	"context"
	"fmt"
	"time"
)

// Executor materializes query results with a hard row cap.
type Executor struct {
	db           *DB
	maxRows      int
	queryTimeout time.Duration
}

func NewExecutor(db *DB, maxRows int, queryTimeout time.Duration) *Executor {
	return &Executor{db: db, maxRows: maxRows, queryTimeout: queryTimeout}
}

func (e *Executor) Execute(ctx context.Context, sql string) ([]map[string]any, error) {
	if e.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.queryTimeout)
		defer cancel()
	}

	rows, err := e.db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM (%s) AS _q LIMIT %d", sql, e.maxRows))
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []map[string]any
	err = eachRow(rows, func(row map[string]any) error {
		results = append(results, row)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}
