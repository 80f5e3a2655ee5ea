package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMarkerClassifier(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want Bound
	}{
		{"blank", "   ", BoundEmpty},
		{"empty", "", BoundEmpty},
		{"full scan", "SELECT * FROM users", BoundNone},
		{"limit", "SELECT * FROM users LIMIT 1", BoundLimit},
		{"lowercase limit", "select * from users limit 10", BoundLimit},
		{"in list", "SELECT * FROM users WHERE id IN (1,2,3)", BoundKeySet},
		{"lowercase in", "select * from users where id in (1,2,3)", BoundKeySet},
		{"in and limit", "SELECT * FROM users WHERE id IN (1,2,3) LIMIT 1", BoundLimit},
		{"limit without trailing space", "SELECT * FROM limits", BoundNone},
		{"equality filter", "SELECT * FROM users WHERE id = 1", BoundNone},
		// Known false positive of substring matching.
		{"column ending in in", "SELECT origin FROM users", BoundKeySet},
	}

	c := NewMarkerClassifier()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.sql))
		})
	}
}

func TestParseClassifier(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want Bound
	}{
		{"blank", "", BoundEmpty},
		{"full scan", "SELECT * FROM users", BoundNone},
		{"limit", "SELECT * FROM users LIMIT 1", BoundLimit},
		{"limit parameter", "SELECT * FROM users LIMIT $1", BoundLimit},
		{"fetch first", "SELECT * FROM users FETCH FIRST 5 ROWS ONLY", BoundLimit},
		{"limit all", "SELECT * FROM users LIMIT ALL", BoundNone},
		{"in list", "SELECT * FROM users WHERE id IN (1,2,3)", BoundKeySet},
		{"in and limit", "SELECT * FROM users WHERE id IN (1,2,3) LIMIT 1", BoundLimit},
		{"any array", "SELECT * FROM users WHERE id = ANY($1)", BoundKeySet},
		{"in within conjunction", "SELECT * FROM users WHERE active AND id IN (1, 2)", BoundKeySet},
		{"in within disjunction", "SELECT * FROM users WHERE active OR id IN (1, 2)", BoundNone},
		{"not in", "SELECT * FROM users WHERE id NOT IN (1, 2)", BoundNone},
		{"column named origin", "SELECT origin FROM users", BoundNone},
		{"no from clause", "SELECT 1", BoundConstant},
		{"set-returning function without from", "SELECT generate_series(1, 100000000)", BoundNone},
		{"function under cast without from", "SELECT generate_series(1, 10)::text", BoundNone},
		{"function in expression without from", "SELECT 1 + unnest(ARRAY[1, 2, 3])", BoundNone},
		{"function call with limit", "SELECT generate_series(1, 10) LIMIT 5", BoundLimit},
		{"constant expression without from", "SELECT 1 + 2, 'a'::text", BoundConstant},
		{"values list", "VALUES (1), (2)", BoundConstant},
		{"bounded subquery", "SELECT * FROM (SELECT * FROM users LIMIT 5) AS u", BoundLimit},
		{"unbounded subquery", "SELECT * FROM (SELECT * FROM users) AS u", BoundNone},
		{"union of bounded arms", "(SELECT id FROM a LIMIT 1) UNION (SELECT id FROM b LIMIT 1)", BoundLimit},
		{"union with outer limit", "SELECT id FROM a UNION SELECT id FROM b LIMIT 1", BoundLimit},
		{"union without limit", "SELECT id FROM a UNION SELECT id FROM b WHERE id IN (1)", BoundNone},
		// Non-SELECT and unparsable statements fall back to markers.
		{"update falls back", "UPDATE users SET name = 'x'", BoundNone},
		{"unparsable falls back", "SELEC * FROM users LIMIT 1", BoundLimit},
	}

	c := NewParseClassifier()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.sql))
		})
	}
}

func TestBound_Safe(t *testing.T) {
	assert.False(t, BoundNone.Safe())
	for _, b := range []Bound{BoundEmpty, BoundLimit, BoundKeySet, BoundConstant} {
		assert.True(t, b.Safe(), b.String())
	}
}

func TestBound_String(t *testing.T) {
	assert.Equal(t, "unbounded", BoundNone.String())
	assert.Equal(t, "key_set", BoundKeySet.String())
	assert.Equal(t, "unknown", Bound(99).String())
}
