package safety

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	libinjection "github.com/corazawaf/libinjection-go"

	"github.com/askdb-io/askdb-engine/pkg/apperrors"
)

// RelationalQuery is the post-validation form of a SQL query. CheckSQL
// normalizes SQL and Parameters in place and attaches the time budget.
type RelationalQuery struct {
	SQL        string        `json:"sql"`
	Parameters []any         `json:"parameters,omitempty"`
	TimeBudget time.Duration `json:"-"`
}

// forbiddenVerbs are rejected wherever they appear as word tokens outside
// string literals.
var forbiddenVerbs = map[string]bool{
	"DROP":     true,
	"TRUNCATE": true,
	"ALTER":    true,
}

// CheckSQL validates and rewrites a relational query for the target dialect.
// Rules, in order: single statement, no forbidden verbs, no embedded
// comments, WHERE required on UPDATE/DELETE, row cap on reads, placeholder
// normalization with parameter-count preservation, injection screening of
// string parameters, date sentinel coercion.
func (g *Gate) CheckSQL(q *RelationalQuery, dialect Dialect) error {
	normalized, err := normalizeStatement(q.SQL)
	if err != nil {
		return err
	}
	q.SQL = normalized

	stripped := stripStringLiterals(q.SQL)
	upper := strings.ToUpper(stripped)

	if strings.Contains(stripped, "--") || strings.Contains(stripped, "/*") {
		return apperrors.SafetyRejected(apperrors.RuleSQLComment, "embedded comment syntax")
	}

	for _, tok := range tokenize(upper) {
		if forbiddenVerbs[tok] {
			return apperrors.SafetyRejected(apperrors.RuleForbiddenVerb, tok)
		}
	}

	verb := firstToken(upper)
	hasWhere := containsToken(upper, "WHERE")
	if verb == "DELETE" && !hasWhere {
		return apperrors.SafetyRejected(apperrors.RuleDeleteWithoutWhere, "")
	}
	if verb == "UPDATE" && !hasWhere {
		return apperrors.SafetyRejected(apperrors.RuleUpdateWithoutWhere, "")
	}
	if verb == "SELECT" {
		q.SQL = g.enforceRowCap(q.SQL)
	}

	if err := g.normalizePlaceholders(q, dialect); err != nil {
		return err
	}

	for i, p := range q.Parameters {
		if s, ok := p.(string); ok {
			if coerced, ok := coerceDateSentinel(s, g.now()); ok {
				q.Parameters[i] = coerced
				continue
			}
			if isSQLi, fingerprint := libinjection.IsSQLi(s); isSQLi {
				return apperrors.SafetyRejected(apperrors.RuleInjectionDetected,
					fmt.Sprintf("parameter %d (fingerprint %s)", i+1, fingerprint))
			}
		}
	}

	q.TimeBudget = g.budget
	return nil
}

// normalizeStatement strips a trailing semicolon and rejects anything that
// still contains a statement separator outside string literals.
func normalizeStatement(sqlText string) (string, error) {
	sqlText = strings.TrimSpace(sqlText)
	sqlText = strings.TrimRight(sqlText, " \t\n\r")
	if strings.HasSuffix(sqlText, ";") {
		sqlText = strings.TrimRight(strings.TrimSuffix(sqlText, ";"), " \t\n\r")
	}

	if strings.ContainsRune(stripStringLiterals(sqlText), ';') {
		return "", apperrors.SafetyRejected(apperrors.RuleMultipleStatements, "")
	}
	return sqlText, nil
}

// stripStringLiterals blanks out single- and double-quoted literal contents
// so token scans cannot be confused by quoted text. Byte-wise so offsets in
// the result line up with the original. Handles backslash escapes and SQL
// doubled quotes.
func stripStringLiterals(s string) string {
	const (
		stateNormal = iota
		stateSingle
		stateDouble
	)

	out := []byte(s)
	state := stateNormal
	var prev byte

	for i := 0; i < len(out); i++ {
		ch := out[i]
		switch state {
		case stateNormal:
			if ch == '\'' {
				state = stateSingle
			} else if ch == '"' {
				state = stateDouble
			}
		case stateSingle:
			if ch == '\'' && prev != '\\' {
				state = stateNormal
			} else {
				out[i] = ' '
			}
		case stateDouble:
			if ch == '"' && prev != '\\' {
				state = stateNormal
			} else {
				out[i] = ' '
			}
		}
		prev = ch
	}
	return string(out)
}

var wordPattern = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

func tokenize(upper string) []string {
	return wordPattern.FindAllString(upper, -1)
}

// firstToken returns the statement's governing verb. CTE bodies are always
// parenthesized, so for a WITH statement the verb is the first statement
// keyword found at parenthesis depth zero after the clause.
func firstToken(upper string) string {
	toks := tokenize(upper)
	if len(toks) == 0 {
		return ""
	}
	if toks[0] != "WITH" {
		return toks[0]
	}

	depth := 0
	for i := 0; i < len(upper); i++ {
		switch c := upper[i]; {
		case c == '(':
			depth++
		case c == ')':
			depth--
		case depth == 0 && isWordByte(c):
			j := i
			for j < len(upper) && isWordByte(upper[j]) {
				j++
			}
			switch word := upper[i:j]; word {
			case "SELECT", "INSERT", "UPDATE", "DELETE":
				return word
			}
			i = j - 1
		}
	}
	return toks[0]
}

func isWordByte(c byte) bool {
	return c == '_' || (c >= '0' && c <= '9') || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

var limitLiteralPattern = regexp.MustCompile(`(?i)\bLIMIT\s+(\d+)\b`)

// enforceRowCap bounds a read statement by the row cap: every literal LIMIT
// is clamped to min(requested, cap), and a statement with no LIMIT at all
// gets one appended. A LIMIT with a non-literal operand is left alone.
func (g *Gate) enforceRowCap(sqlText string) string {
	stripped := stripStringLiterals(sqlText)

	matches := limitLiteralPattern.FindAllStringSubmatchIndex(stripped, -1)
	if len(matches) == 0 {
		if containsToken(strings.ToUpper(stripped), "LIMIT") {
			return sqlText
		}
		return sqlText + " LIMIT " + strconv.Itoa(g.rowCap)
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		n, err := strconv.Atoi(stripped[m[2]:m[3]])
		if err == nil && capLimit(n, g.rowCap) == n {
			continue
		}
		b.WriteString(sqlText[last:m[2]])
		b.WriteString(strconv.Itoa(g.rowCap))
		last = m[3]
	}
	if last == 0 {
		return sqlText
	}
	b.WriteString(sqlText[last:])
	return b.String()
}

func containsToken(upper, token string) bool {
	for _, t := range tokenize(upper) {
		if t == token {
			return true
		}
	}
	return false
}

var positionalPattern = regexp.MustCompile(`\$(\d+)`)

// normalizePlaceholders rewrites the query's placeholders into the target
// dialect's form and verifies the parameter count is preserved.
//
// Postgres uses $1..$N (repeats allowed); MySQL uses ordered ?.
func (g *Gate) normalizePlaceholders(q *RelationalQuery, dialect Dialect) error {
	stripped := stripStringLiterals(q.SQL)

	positional := positionalPattern.FindAllStringSubmatch(stripped, -1)
	questionCount := strings.Count(stripped, "?")

	if len(positional) > 0 && questionCount > 0 {
		return apperrors.SafetyRejected(apperrors.RuleParamCountMismatch, "mixed placeholder dialects")
	}

	switch dialect {
	case DialectPostgres:
		if questionCount > 0 {
			// Convert ? to sequential $N.
			q.SQL = rewriteQuestionMarks(q.SQL)
			if questionCount != len(q.Parameters) {
				return countMismatch(questionCount, len(q.Parameters))
			}
			return nil
		}
		max := 0
		for _, m := range positional {
			n, err := strconv.Atoi(m[1])
			if err != nil || n < 1 {
				return apperrors.SafetyRejected(apperrors.RuleParamCountMismatch, "invalid placeholder "+m[0])
			}
			if n > max {
				max = n
			}
		}
		if max != len(q.Parameters) {
			return countMismatch(max, len(q.Parameters))
		}
		return nil

	case DialectMySQL:
		if len(positional) > 0 {
			// Convert $N to ?, reordering parameters by appearance.
			sqlText, params, err := rewritePositional(q.SQL, q.Parameters)
			if err != nil {
				return err
			}
			q.SQL = sqlText
			q.Parameters = params
			return nil
		}
		if questionCount != len(q.Parameters) {
			return countMismatch(questionCount, len(q.Parameters))
		}
		return nil
	}

	return apperrors.SafetyRejected(apperrors.RuleParamCountMismatch, "unknown dialect "+string(dialect))
}

func countMismatch(placeholders, params int) error {
	return apperrors.SafetyRejected(apperrors.RuleParamCountMismatch,
		fmt.Sprintf("%d placeholders, %d parameters", placeholders, params))
}

// rewriteQuestionMarks converts each ? outside string literals to $1..$N.
func rewriteQuestionMarks(sqlText string) string {
	stripped := stripStringLiterals(sqlText)
	var b strings.Builder
	n := 0
	for i := 0; i < len(sqlText); i++ {
		if stripped[i] == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteByte(sqlText[i])
	}
	return b.String()
}

// rewritePositional converts $N placeholders to ? in appearance order and
// expands the parameter slice to match (repeated $N duplicates the value).
func rewritePositional(sqlText string, params []any) (string, []any, error) {
	stripped := stripStringLiterals(sqlText)

	var ordered []any
	var out strings.Builder
	i := 0
	for i < len(sqlText) {
		if stripped[i] == '$' {
			j := i + 1
			for j < len(sqlText) && stripped[j] >= '0' && stripped[j] <= '9' {
				j++
			}
			if j > i+1 {
				n, _ := strconv.Atoi(sqlText[i+1 : j])
				if n < 1 || n > len(params) {
					return "", nil, countMismatch(n, len(params))
				}
				ordered = append(ordered, params[n-1])
				out.WriteByte('?')
				i = j
				continue
			}
		}
		out.WriteByte(sqlText[i])
		i++
	}

	// Every supplied parameter must be referenced at least once.
	maxSeen := 0
	for _, m := range positionalPattern.FindAllStringSubmatch(stripped, -1) {
		if n, _ := strconv.Atoi(m[1]); n > maxSeen {
			maxSeen = n
		}
	}
	if maxSeen != len(params) {
		return "", nil, countMismatch(maxSeen, len(params))
	}

	return out.String(), ordered, nil
}
