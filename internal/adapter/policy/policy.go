package policy

import (
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"gopkg.in/yaml.v3"
)

// Policy holds operator-controlled configuration loaded from a YAML file.
// It lists statements that may be iterated row by row without a bound,
// typically small lookup tables.
type Policy struct {
	Exemptions []Exemption `yaml:"exemptions"`

	keys map[string]bool
}

// Exemption is a single exempted statement and why it is safe.
type Exemption struct {
	SQL    string `yaml:"sql"`
	Reason string `yaml:"reason,omitempty"`
}

// UnmarshalYAML supports both the struct format and a plain string.
//
//	exemptions:
//	  - "SELECT * FROM countries"      # plain string → Exemption{SQL: ...}
//	  - sql: "SELECT * FROM currencies"
//	    reason: "ISO 4217 list"
func (e *Exemption) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		e.SQL = value.Value
		return nil
	}
	type alias Exemption
	var a alias
	if err := value.Decode(&a); err != nil {
		return fmt.Errorf("decoding exemption: %w", err)
	}
	*e = Exemption(a)
	return nil
}

// Exempt reports whether sql matches one of the exempted statements. Matching
// ignores formatting and literal values.
func (p *Policy) Exempt(sql string) bool {
	if p == nil || len(p.keys) == 0 {
		return false
	}
	return p.keys[statementKey(sql)]
}

func (p *Policy) compile() {
	p.keys = make(map[string]bool, len(p.Exemptions))
	for _, e := range p.Exemptions {
		p.keys[statementKey(e.SQL)] = true
	}
}

// statementKey identifies a statement by its pg_query fingerprint, falling
// back to whitespace- and case-normalized text for SQL the parser rejects.
func statementKey(sql string) string {
	if fp, err := pg_query.Fingerprint(sql); err == nil {
		return "fp:" + fp
	}
	return "text:" + strings.ToLower(strings.Join(strings.Fields(sql), " "))
}
