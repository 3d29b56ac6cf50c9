// Package safety implements the gate every generated query passes before it
// touches a database: validation, rewriting, row-cap enforcement, and
// sensitive-field projection rules.
package safety

import (
	"strings"
	"time"
)

// Dialect identifies a relational parameter/placeholder dialect.
type Dialect string

const (
	DialectPostgres Dialect = "postgres" // $1, $2, ...
	DialectMySQL    Dialect = "mysql"    // ?
)

// RedactedSQL replaces query text in user-facing responses when redaction
// is enabled.
const RedactedSQL = "[redacted]"

// DefaultRowCap bounds reads and aggregations when no tighter limit was
// requested.
const DefaultRowCap = 1000

// Gate validates and rewrites queries. A Gate is immutable after
// construction and safe for concurrent use.
type Gate struct {
	rowCap    int
	redactSQL bool
	budget    time.Duration
	now       func() time.Time
}

// NewGate creates a gate with the configured row cap, SQL redaction flag,
// and per-statement time budget.
func NewGate(rowCap int, redactSQL bool, budget time.Duration) *Gate {
	if rowCap <= 0 {
		rowCap = DefaultRowCap
	}
	return &Gate{
		rowCap:    rowCap,
		redactSQL: redactSQL,
		budget:    budget,
		now:       time.Now,
	}
}

// RowCap returns the configured default row cap.
func (g *Gate) RowCap() int { return g.rowCap }

// Budget returns the statement time budget attached to gated queries.
func (g *Gate) Budget() time.Duration { return g.budget }

// DisplaySQL returns the text to surface for an executed SQL statement,
// honoring the redaction flag. Parameter values are never echoed.
func (g *Gate) DisplaySQL(sqlText string) string {
	if g.redactSQL {
		return RedactedSQL
	}
	return sqlText
}

// sensitiveNameParts are matched as substrings against lowercased field and
// column names. Matching fields are described in schema snapshots but
// excluded by default from projections and returned rows.
var sensitiveNameParts = []string{"password", "passwd", "secret", "token", "api_key", "apikey"}

// IsSensitiveField reports whether a field or column name should be treated
// as sensitive.
func IsSensitiveField(name string) bool {
	lower := strings.ToLower(name)
	for _, part := range sensitiveNameParts {
		if strings.Contains(lower, part) {
			return true
		}
	}
	return false
}
