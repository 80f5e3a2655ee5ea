package domain

import (
	"errors"
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

var (
	ErrEmptyQuery     = errors.New("empty query")
	ErrNotAllowed     = errors.New("only SELECT queries are allowed")
	ErrMultiStatement = errors.New("multiple statements are not allowed")
	ErrParseFailed    = errors.New("failed to parse SQL")
	ErrRowLimit       = errors.New("row limit exceeded")
)

// PgQueryValidator validates SQL statements using PostgreSQL's actual parser.
// Only SELECT statements are permitted (whitelist approach).
type PgQueryValidator struct{}

func NewPgQueryValidator() *PgQueryValidator {
	return &PgQueryValidator{}
}

// Validate parses the SQL and rejects anything that isn't a single SELECT statement.
func (v *PgQueryValidator) Validate(sql string) error {
	stmt, err := parseSingle(sql)
	if err != nil {
		return err
	}

	if stmt.GetSelectStmt() == nil {
		return ErrNotAllowed
	}
	return nil
}

// parseSingle parses sql and returns its only statement.
func parseSingle(sql string) (*pg_query.Node, error) {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return nil, ErrEmptyQuery
	}

	tree, err := pg_query.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParseFailed, err)
	}

	switch {
	case len(tree.Stmts) == 0:
		return nil, ErrEmptyQuery
	case len(tree.Stmts) > 1:
		return nil, ErrMultiStatement
	}

	stmt := tree.Stmts[0].Stmt
	if stmt == nil {
		return nil, ErrEmptyQuery
	}
	return stmt, nil
}
