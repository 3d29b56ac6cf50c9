package pool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/askdb-io/askdb-engine/pkg/apperrors"
	"github.com/askdb-io/askdb-engine/pkg/endpoint"
	"github.com/askdb-io/askdb-engine/pkg/logging"
	"github.com/askdb-io/askdb-engine/pkg/safety"
)

// Result is the uniform execution outcome for every database family.
// Reads populate Rows; writes populate Affected and may add a synthetic row
// describing the outcome.
type Result struct {
	Rows     []map[string]any
	Affected int64
}

// ExecuteSQL runs a gated relational query on this handle. The query's time
// budget bounds execution; a budget overrun maps to Timeout, anything else
// the server rejects maps to DbError with a sanitized driver message.
func (h *Handle) ExecuteSQL(ctx context.Context, q *safety.RelationalQuery) (*Result, error) {
	if q.TimeBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.TimeBudget)
		defer cancel()
	}

	switch h.Kind {
	case endpoint.KindPostgres:
		return h.executePostgres(ctx, q)
	case endpoint.KindMySQL:
		return h.executeMySQL(ctx, q)
	}
	return nil, fmt.Errorf("%w: handle kind %q cannot execute SQL", apperrors.ErrUnsupportedEndpoint, h.Kind)
}

func (h *Handle) executePostgres(ctx context.Context, q *safety.RelationalQuery) (*Result, error) {
	if !returnsRows(q.SQL) {
		tag, err := h.PG.Exec(ctx, q.SQL, q.Parameters...)
		if err != nil {
			return nil, mapDriverError(ctx, err)
		}
		return &Result{Affected: tag.RowsAffected()}, nil
	}

	rows, err := h.PG.Query(ctx, q.SQL, q.Parameters...)
	if err != nil {
		return nil, mapDriverError(ctx, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	out := make([]map[string]any, 0, 16)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, mapDriverError(ctx, err)
		}
		row := make(map[string]any, len(fields))
		for i, fd := range fields {
			row[fd.Name] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, mapDriverError(ctx, err)
	}
	return &Result{Rows: out, Affected: int64(len(out))}, nil
}

func (h *Handle) executeMySQL(ctx context.Context, q *safety.RelationalQuery) (*Result, error) {
	if !returnsRows(q.SQL) {
		res, err := h.MySQL.ExecContext(ctx, q.SQL, q.Parameters...)
		if err != nil {
			return nil, mapDriverError(ctx, err)
		}
		affected, _ := res.RowsAffected()
		return &Result{Affected: affected}, nil
	}

	rows, err := h.MySQL.QueryContext(ctx, q.SQL, q.Parameters...)
	if err != nil {
		return nil, mapDriverError(ctx, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, mapDriverError(ctx, err)
	}

	out := make([]map[string]any, 0, 16)
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, mapDriverError(ctx, err)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = normalizeSQLValue(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, mapDriverError(ctx, err)
	}
	return &Result{Rows: out, Affected: int64(len(out))}, nil
}

// returnsRows reports whether the statement produces a row set: SELECT,
// a CTE, or a write with a RETURNING clause.
func returnsRows(sqlText string) bool {
	upper := strings.ToUpper(sqlText)
	trimmed := strings.TrimSpace(upper)
	if strings.HasPrefix(trimmed, "SELECT") || strings.HasPrefix(trimmed, "WITH") {
		return true
	}
	return containsWord(upper, "RETURNING")
}

func containsWord(upper, word string) bool {
	idx := 0
	for {
		i := strings.Index(upper[idx:], word)
		if i < 0 {
			return false
		}
		i += idx
		before := i == 0 || !isWordByte(upper[i-1])
		after := i+len(word) >= len(upper) || !isWordByte(upper[i+len(word)])
		if before && after {
			return true
		}
		idx = i + len(word)
	}
}

func isWordByte(c byte) bool {
	return c == '_' || (c >= '0' && c <= '9') || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

// normalizeSQLValue makes driver-native values JSON-friendly. The MySQL
// driver hands back []byte for text columns.
func normalizeSQLValue(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC()
	}
	return v
}

// mapDriverError classifies an execution failure. Deadline overruns become
// Timeout; everything else is a DbError carrying the sanitized message.
func mapDriverError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: query exceeded time budget", apperrors.ErrTimeout)
	}
	return &apperrors.DBError{Driver: logging.SanitizeError(err)}
}
