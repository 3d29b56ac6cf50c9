package safety

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askdb-io/askdb-engine/pkg/apperrors"
)

func newTestGate() *Gate {
	return NewGate(1000, false, 15*time.Second)
}

func requireRule(t *testing.T, err error, rule string) {
	t.Helper()
	require.Error(t, err)
	got, ok := apperrors.IsSafetyRejected(err)
	require.True(t, ok, "expected SafetyRejected, got %v", err)
	assert.Equal(t, rule, got)
}

func TestCheckSQLAcceptsSimpleSelect(t *testing.T) {
	q := &RelationalQuery{SQL: "SELECT id, name FROM users ORDER BY created_at DESC LIMIT 10;"}
	require.NoError(t, newTestGate().CheckSQL(q, DialectPostgres))
	assert.Equal(t, "SELECT id, name FROM users ORDER BY created_at DESC LIMIT 10", q.SQL)
	assert.Equal(t, 15*time.Second, q.TimeBudget)
}

func TestCheckSQLRejectsMultipleStatements(t *testing.T) {
	q := &RelationalQuery{SQL: "SELECT 1; DROP TABLE users"}
	requireRule(t, newTestGate().CheckSQL(q, DialectPostgres), apperrors.RuleMultipleStatements)
}

func TestCheckSQLAllowsSemicolonInsideString(t *testing.T) {
	q := &RelationalQuery{SQL: "SELECT * FROM notes WHERE body = 'a; b'"}
	require.NoError(t, newTestGate().CheckSQL(q, DialectPostgres))
}

func TestCheckSQLRejectsForbiddenVerbs(t *testing.T) {
	for _, sqlText := range []string{
		"DROP TABLE users",
		"TRUNCATE orders",
		"ALTER TABLE users ADD COLUMN x int",
		"SELECT 1 FROM t WHERE EXISTS (SELECT 1) UNION SELECT 2 FROM y; DROP TABLE z",
	} {
		q := &RelationalQuery{SQL: sqlText}
		err := newTestGate().CheckSQL(q, DialectPostgres)
		require.Error(t, err, sqlText)
	}
}

func TestCheckSQLForbiddenVerbInsideStringIsFine(t *testing.T) {
	q := &RelationalQuery{SQL: "SELECT * FROM logs WHERE message = 'will DROP later'"}
	require.NoError(t, newTestGate().CheckSQL(q, DialectPostgres))
}

func TestCheckSQLRejectsComments(t *testing.T) {
	q := &RelationalQuery{SQL: "SELECT 1 -- sneaky"}
	requireRule(t, newTestGate().CheckSQL(q, DialectPostgres), apperrors.RuleSQLComment)

	q = &RelationalQuery{SQL: "SELECT /* hidden */ 1"}
	requireRule(t, newTestGate().CheckSQL(q, DialectPostgres), apperrors.RuleSQLComment)
}

func TestCheckSQLDeleteWithoutWhere(t *testing.T) {
	q := &RelationalQuery{SQL: "DELETE FROM orders"}
	requireRule(t, newTestGate().CheckSQL(q, DialectPostgres), apperrors.RuleDeleteWithoutWhere)

	q = &RelationalQuery{SQL: "DELETE FROM orders WHERE status = 'stale'"}
	require.NoError(t, newTestGate().CheckSQL(q, DialectPostgres))
}

func TestCheckSQLUpdateWithoutWhere(t *testing.T) {
	q := &RelationalQuery{SQL: "UPDATE users SET active = false"}
	requireRule(t, newTestGate().CheckSQL(q, DialectPostgres), apperrors.RuleUpdateWithoutWhere)
}

func TestCheckSQLWriteUnderCTEStillNeedsWhere(t *testing.T) {
	q := &RelationalQuery{SQL: "WITH stale AS (SELECT id FROM carts) DELETE FROM orders"}
	requireRule(t, newTestGate().CheckSQL(q, DialectPostgres), apperrors.RuleDeleteWithoutWhere)

	q = &RelationalQuery{SQL: "WITH x AS (SELECT 1) UPDATE users SET active = false"}
	requireRule(t, newTestGate().CheckSQL(q, DialectPostgres), apperrors.RuleUpdateWithoutWhere)

	q = &RelationalQuery{SQL: "WITH stale AS (SELECT id FROM carts) DELETE FROM orders WHERE status = 'stale'"}
	require.NoError(t, newTestGate().CheckSQL(q, DialectPostgres))
}

func TestCheckSQLInjectsRowCapOnReads(t *testing.T) {
	g := NewGate(5, false, time.Second)

	q := &RelationalQuery{SQL: "SELECT * FROM users"}
	require.NoError(t, g.CheckSQL(q, DialectPostgres))
	assert.Equal(t, "SELECT * FROM users LIMIT 5", q.SQL)

	q = &RelationalQuery{SQL: "WITH recent AS (SELECT id FROM orders) SELECT * FROM recent"}
	require.NoError(t, g.CheckSQL(q, DialectPostgres))
	assert.Equal(t, "WITH recent AS (SELECT id FROM orders) SELECT * FROM recent LIMIT 5", q.SQL)
}

func TestCheckSQLClampsExistingLimit(t *testing.T) {
	g := NewGate(5, false, time.Second)

	q := &RelationalQuery{SQL: "SELECT * FROM users LIMIT 3"}
	require.NoError(t, g.CheckSQL(q, DialectPostgres))
	assert.Equal(t, "SELECT * FROM users LIMIT 3", q.SQL)

	q = &RelationalQuery{SQL: "SELECT * FROM users ORDER BY id LIMIT 9999"}
	require.NoError(t, g.CheckSQL(q, DialectPostgres))
	assert.Equal(t, "SELECT * FROM users ORDER BY id LIMIT 5", q.SQL)
}

func TestCheckSQLRowCapIgnoresLimitInsideString(t *testing.T) {
	g := NewGate(5, false, time.Second)

	q := &RelationalQuery{SQL: "SELECT * FROM notes WHERE body = 'LIMIT 9999'"}
	require.NoError(t, g.CheckSQL(q, DialectPostgres))
	assert.Equal(t, "SELECT * FROM notes WHERE body = 'LIMIT 9999' LIMIT 5", q.SQL)
}

func TestCheckSQLRowCapLeavesWritesAlone(t *testing.T) {
	g := NewGate(5, false, time.Second)

	q := &RelationalQuery{SQL: "UPDATE users SET active = false WHERE id = 1"}
	require.NoError(t, g.CheckSQL(q, DialectPostgres))
	assert.Equal(t, "UPDATE users SET active = false WHERE id = 1", q.SQL)
}

func TestCheckSQLPlaceholderCountPostgres(t *testing.T) {
	q := &RelationalQuery{
		SQL:        "SELECT * FROM users WHERE id = $1 AND org = $2",
		Parameters: []any{int64(5)},
	}
	requireRule(t, newTestGate().CheckSQL(q, DialectPostgres), apperrors.RuleParamCountMismatch)
}

func TestCheckSQLNormalizesQuestionMarksForPostgres(t *testing.T) {
	q := &RelationalQuery{
		SQL:        "SELECT * FROM users WHERE id = ? AND org = ?",
		Parameters: []any{int64(5), "acme"},
	}
	require.NoError(t, newTestGate().CheckSQL(q, DialectPostgres))
	assert.Equal(t, "SELECT * FROM users WHERE id = $1 AND org = $2 LIMIT 1000", q.SQL)
}

func TestCheckSQLNormalizesPositionalForMySQL(t *testing.T) {
	q := &RelationalQuery{
		SQL:        "SELECT * FROM orders WHERE user_id = $1 AND total > $2",
		Parameters: []any{int64(7), 100.0},
	}
	require.NoError(t, newTestGate().CheckSQL(q, DialectMySQL))
	assert.Equal(t, "SELECT * FROM orders WHERE user_id = ? AND total > ? LIMIT 1000", q.SQL)
	assert.Equal(t, []any{int64(7), 100.0}, q.Parameters)
}

func TestCheckSQLRepeatedPositionalForMySQL(t *testing.T) {
	q := &RelationalQuery{
		SQL:        "SELECT * FROM t WHERE (sender = $1 OR receiver = $1)",
		Parameters: []any{"u1"},
	}
	require.NoError(t, newTestGate().CheckSQL(q, DialectMySQL))
	assert.Equal(t, "SELECT * FROM t WHERE (sender = ? OR receiver = ?) LIMIT 1000", q.SQL)
	assert.Equal(t, []any{"u1", "u1"}, q.Parameters)
}

func TestCheckSQLDetectsInjectionInParameters(t *testing.T) {
	q := &RelationalQuery{
		SQL:        "SELECT * FROM users WHERE name = $1",
		Parameters: []any{"' OR 1=1 --"},
	}
	requireRule(t, newTestGate().CheckSQL(q, DialectPostgres), apperrors.RuleInjectionDetected)
}

func TestCheckSQLCoercesDateSentinels(t *testing.T) {
	q := &RelationalQuery{
		SQL:        "SELECT * FROM orders WHERE created_at >= $1",
		Parameters: []any{Sentinel7DaysAgo},
	}
	require.NoError(t, newTestGate().CheckSQL(q, DialectPostgres))
	ts, ok := q.Parameters[0].(time.Time)
	require.True(t, ok)
	assert.True(t, time.Since(ts) > 6*24*time.Hour)
	assert.True(t, time.Since(ts) < 8*24*time.Hour)
}

func TestDisplaySQLRedaction(t *testing.T) {
	g := NewGate(100, true, time.Second)
	assert.Equal(t, RedactedSQL, g.DisplaySQL("SELECT secret FROM t"))

	g = NewGate(100, false, time.Second)
	assert.Equal(t, "SELECT 1", g.DisplaySQL("SELECT 1"))
}
