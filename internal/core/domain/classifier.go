package domain

import (
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// Bound describes why a statement's result set is (or is not) bounded.
type Bound int

const (
	// BoundNone means nothing restricts how many rows the statement returns.
	BoundNone Bound = iota
	// BoundEmpty means there was no statement to inspect.
	BoundEmpty
	// BoundLimit means a row-limiting clause caps the result.
	BoundLimit
	// BoundKeySet means the rows are filtered to an explicit set of keys.
	BoundKeySet
	// BoundConstant means the statement produces a fixed number of rows
	// (no FROM clause, or a VALUES list).
	BoundConstant
)

func (b Bound) String() string {
	switch b {
	case BoundNone:
		return "unbounded"
	case BoundEmpty:
		return "empty"
	case BoundLimit:
		return "limit"
	case BoundKeySet:
		return "key_set"
	case BoundConstant:
		return "constant"
	default:
		return "unknown"
	}
}

// Safe reports whether row-by-row iteration over the statement is allowed.
func (b Bound) Safe() bool {
	return b != BoundNone
}

// Marker substrings looked for by MarkerClassifier. The trailing space keeps
// "LIMIT" from matching identifiers like "limits_table".
const (
	limitMarker = "LIMIT "
	inMarker    = "IN "
)

// MarkerClassifier classifies statements by case-insensitive substring search.
// It is fast and dialect-agnostic, but any text containing "in " (for example
// a column named origin) counts as a key-set filter.
type MarkerClassifier struct{}

func NewMarkerClassifier() *MarkerClassifier {
	return &MarkerClassifier{}
}

func (MarkerClassifier) Classify(sql string) Bound {
	if strings.TrimSpace(sql) == "" {
		return BoundEmpty
	}
	upper := strings.ToUpper(sql)
	switch {
	case strings.Contains(upper, limitMarker):
		return BoundLimit
	case strings.Contains(upper, inMarker):
		return BoundKeySet
	default:
		return BoundNone
	}
}

// ParseClassifier classifies SELECT statements structurally using PostgreSQL's
// parser. Statements it cannot parse, and statements other than SELECT, are
// handed to the fallback marker check.
type ParseClassifier struct {
	fallback MarkerClassifier
}

func NewParseClassifier() *ParseClassifier {
	return &ParseClassifier{}
}

func (c *ParseClassifier) Classify(sql string) Bound {
	if strings.TrimSpace(sql) == "" {
		return BoundEmpty
	}

	stmt, err := parseSingle(sql)
	if err != nil {
		return c.fallback.Classify(sql)
	}

	sel := stmt.GetSelectStmt()
	if sel == nil {
		return c.fallback.Classify(sql)
	}
	return classifySelect(sel)
}

func classifySelect(sel *pg_query.SelectStmt) Bound {
	if sel == nil {
		return BoundNone
	}
	if hasRowLimit(sel) {
		return BoundLimit
	}

	// UNION / INTERSECT / EXCEPT: bounded only if every arm is.
	if sel.GetOp() != pg_query.SetOperation_SETOP_NONE {
		left := classifySelect(sel.GetLarg())
		if !left.Safe() || !classifySelect(sel.GetRarg()).Safe() {
			return BoundNone
		}
		return left
	}

	if len(sel.GetValuesLists()) > 0 {
		return BoundConstant
	}
	if len(sel.GetFromClause()) == 0 {
		// Set-returning functions in the target list stream rows without a FROM.
		for _, target := range sel.GetTargetList() {
			if callsFunction(target.GetResTarget().GetVal()) {
				return BoundNone
			}
		}
		return BoundConstant
	}

	if hasKeySetFilter(sel.GetWhereClause()) {
		return BoundKeySet
	}

	// SELECT ... FROM (SELECT ... LIMIT n) AS sub
	if from := sel.GetFromClause(); len(from) == 1 {
		if sub := from[0].GetRangeSubselect(); sub != nil {
			if b := classifySelect(sub.GetSubquery().GetSelectStmt()); b.Safe() {
				return b
			}
		}
	}

	return BoundNone
}

// hasRowLimit reports whether sel carries a LIMIT or FETCH FIRST count.
// LIMIT ALL parses to a NULL constant and does not count.
func hasRowLimit(sel *pg_query.SelectStmt) bool {
	count := sel.GetLimitCount()
	if count == nil {
		return false
	}
	if c := count.GetAConst(); c != nil && c.GetIsnull() {
		return false
	}
	return true
}

// hasKeySetFilter reports whether the WHERE clause restricts rows to an
// explicit key set through one of its AND-ed conjuncts.
func hasKeySetFilter(where *pg_query.Node) bool {
	if where == nil {
		return false
	}

	if b := where.GetBoolExpr(); b != nil {
		if b.GetBoolop() != pg_query.BoolExprType_AND_EXPR {
			return false
		}
		for _, arg := range b.GetArgs() {
			if hasKeySetFilter(arg) {
				return true
			}
		}
		return false
	}

	expr := where.GetAExpr()
	if expr == nil {
		return false
	}

	switch expr.GetKind() {
	case pg_query.A_Expr_Kind_AEXPR_IN, pg_query.A_Expr_Kind_AEXPR_OP_ANY:
		// NOT IN parses as AEXPR_IN with operator "<>".
		return operatorName(expr) == "="
	default:
		return false
	}
}

func operatorName(expr *pg_query.A_Expr) string {
	names := expr.GetName()
	if len(names) == 0 {
		return ""
	}
	return names[len(names)-1].GetString_().GetSval()
}

// callsFunction reports whether a target list expression contains a function
// call, looking through casts, operators, boolean and CASE expressions, and
// row constructors. Any call counts: set-returning ones cannot be told apart
// from the parse tree alone.
func callsFunction(n *pg_query.Node) bool {
	if n == nil {
		return false
	}
	switch {
	case n.GetFuncCall() != nil:
		return true
	case n.GetTypeCast() != nil:
		return callsFunction(n.GetTypeCast().GetArg())
	case n.GetAExpr() != nil:
		return callsFunction(n.GetAExpr().GetLexpr()) || callsFunction(n.GetAExpr().GetRexpr())
	case n.GetBoolExpr() != nil:
		return anyCallsFunction(n.GetBoolExpr().GetArgs())
	case n.GetRowExpr() != nil:
		return anyCallsFunction(n.GetRowExpr().GetArgs())
	case n.GetCoalesceExpr() != nil:
		return anyCallsFunction(n.GetCoalesceExpr().GetArgs())
	case n.GetCaseExpr() != nil:
		c := n.GetCaseExpr()
		if callsFunction(c.GetArg()) || callsFunction(c.GetDefresult()) {
			return true
		}
		for _, w := range c.GetArgs() {
			cw := w.GetCaseWhen()
			if callsFunction(cw.GetExpr()) || callsFunction(cw.GetResult()) {
				return true
			}
		}
	}
	return false
}

func anyCallsFunction(nodes []*pg_query.Node) bool {
	for _, n := range nodes {
		if callsFunction(n) {
			return true
		}
	}
	return false
}
