package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// rowsToMaps converts pgx.Rows into a slice of maps keyed by column name.
func rowsToMaps(rows pgx.Rows) ([]map[string]any, error) {
	var result []map[string]any
	err := eachRow(rows, func(row map[string]any) error {
		result = append(result, row)
		return nil
	})
	return result, err
}

// eachRow hands every remaining row to fn. An error from fn is returned as is.
func eachRow(rows pgx.Rows, fn func(map[string]any) error) error {
	fields := rows.FieldDescriptions()
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return fmt.Errorf("reading row values: %w", err)
		}
		if err := fn(rowToMap(fields, vals)); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating rows: %w", err)
	}
	return nil
}

func rowToMap(fields []pgconn.FieldDescription, vals []any) map[string]any {
	row := make(map[string]any, len(fields))
	for i, fd := range fields {
		row[fd.Name] = vals[i]
	}
	return row
}
