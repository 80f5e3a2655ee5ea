package port

import "github.com/guillermoBallester/rowguard/internal/core/domain"

// QueryValidator validates SQL statements before execution.
type QueryValidator interface {
	Validate(sql string) error
}

// QueryClassifier decides whether a statement's result set is bounded.
type QueryClassifier interface {
	Classify(sql string) domain.Bound
}

// ExemptionPolicy lists statements that may be iterated without a bound.
type ExemptionPolicy interface {
	Exempt(sql string) bool
}

// NoExemptions exempts nothing.
type NoExemptions struct{}

func (NoExemptions) Exempt(string) bool { return false }
