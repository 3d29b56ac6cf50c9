package safety

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/askdb-io/askdb-engine/pkg/apperrors"
)

// DocumentQuery is the post-validation form of a document-store operation.
// CheckDocument mutates it in place: limits are capped, projections get the
// sensitive-field exclusions, plain-object updates are wrapped in $set,
// sentinel/identifier literals are promoted to native types, and the time
// budget is attached.
type DocumentQuery struct {
	Operation  string           `json:"operation"`
	Collection string           `json:"collection"`
	Filter     map[string]any   `json:"filter,omitempty"`
	Projection map[string]any   `json:"projection,omitempty"`
	Sort       map[string]any   `json:"sort,omitempty"`
	Limit      int              `json:"limit,omitempty"`
	Pipeline   []map[string]any `json:"pipeline,omitempty"`
	Document   map[string]any   `json:"document,omitempty"`
	Update     map[string]any   `json:"update,omitempty"`
	TimeBudget time.Duration    `json:"-"`
}

// Read reports whether the operation only reads data.
func (q *DocumentQuery) Read() bool {
	switch q.Operation {
	case "find", "findOne", "count", "aggregate":
		return true
	}
	return false
}

// dangerousOperators execute server-side JavaScript and are rejected
// anywhere in a filter subtree, however deeply nested.
var dangerousOperators = map[string]bool{
	"$where":       true,
	"$function":    true,
	"$accumulator": true,
}

// writeStages persist aggregation output back to storage.
var writeStages = map[string]bool{
	"$out":   true,
	"$merge": true,
}

var bulkOperations = map[string]bool{
	"updateMany": true,
	"deleteMany": true,
	"insertMany": true,
}

// CheckDocument validates and rewrites a document-store operation.
// sensitiveFields lists schema-described sensitive field names for the
// target collection; name-based heuristics apply on top of it.
func (g *Gate) CheckDocument(q *DocumentQuery, sensitiveFields []string) error {
	if bulkOperations[q.Operation] {
		return apperrors.SafetyRejected(apperrors.RuleBulkWrite, q.Operation)
	}

	switch q.Operation {
	case "find", "findOne", "count":
		// read path below
	case "aggregate":
		if err := g.checkPipeline(q); err != nil {
			return err
		}
	case "insertOne":
		if len(q.Document) == 0 {
			return apperrors.SafetyRejected(apperrors.RuleEmptyWriteFilter, "insertOne requires a document")
		}
	case "updateOne":
		if emptyFilter(q.Filter) {
			return apperrors.SafetyRejected(apperrors.RuleEmptyWriteFilter, "updateOne requires a specific filter")
		}
		if len(q.Update) == 0 {
			return apperrors.SafetyRejected(apperrors.RuleEmptyWriteFilter, "updateOne requires an update")
		}
		q.Update = normalizeUpdate(q.Update)
	case "deleteOne":
		if emptyFilter(q.Filter) {
			return apperrors.SafetyRejected(apperrors.RuleEmptyWriteFilter, "deleteOne requires a specific filter")
		}
	default:
		return apperrors.SafetyRejected(apperrors.RuleUnknownOperation, q.Operation)
	}

	if err := checkTree(q.Filter); err != nil {
		return err
	}
	if err := checkTree(q.Update); err != nil {
		return err
	}

	now := g.now()
	q.Filter = promoteValues(q.Filter, now)
	q.Update = promoteValues(q.Update, now)

	if q.Operation == "find" || q.Operation == "findOne" {
		q.Projection = g.enforceProjection(q.Projection, sensitiveFields)
	}
	if q.Operation == "find" {
		q.Limit = capLimit(q.Limit, g.rowCap)
	}

	q.TimeBudget = g.budget
	return nil
}

// checkPipeline rejects write-back stages, screens every stage subtree, and
// guarantees a $limit stage bounded by the row cap.
func (g *Gate) checkPipeline(q *DocumentQuery) error {
	hasLimit := false
	for i, stage := range q.Pipeline {
		for name := range stage {
			if writeStages[name] {
				return apperrors.SafetyRejected(apperrors.RuleWriteStage, name)
			}
		}
		if err := checkTree(stage); err != nil {
			return err
		}
		if raw, ok := stage["$limit"]; ok {
			hasLimit = true
			if n, ok := asInt(raw); ok {
				q.Pipeline[i]["$limit"] = capLimit(n, g.rowCap)
			} else {
				q.Pipeline[i]["$limit"] = g.rowCap
			}
		}
	}
	if !hasLimit {
		q.Pipeline = append(q.Pipeline, map[string]any{"$limit": g.rowCap})
	}
	return nil
}

// capLimit applies the cap as min(requested, cap), unconditionally.
func capLimit(requested, ceiling int) int {
	if requested <= 0 || requested > ceiling {
		return ceiling
	}
	return requested
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

// checkTree walks any nested structure of maps and slices looking for
// dangerous operator keys.
func checkTree(v any) error {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			if dangerousOperators[k] {
				return apperrors.SafetyRejected(apperrors.RuleDangerousOperator, k)
			}
			if err := checkTree(child); err != nil {
				return err
			}
		}
	case []any:
		for _, child := range t {
			if err := checkTree(child); err != nil {
				return err
			}
		}
	case []map[string]any:
		for _, child := range t {
			if err := checkTree(child); err != nil {
				return err
			}
		}
	}
	return nil
}

// emptyFilter reports whether a write filter fails the "non-empty, specific"
// requirement.
func emptyFilter(filter map[string]any) bool {
	return len(filter) == 0
}

// normalizeUpdate wraps a plain object update in an explicit $set.
func normalizeUpdate(update map[string]any) map[string]any {
	for k := range update {
		if strings.HasPrefix(k, "$") {
			return update
		}
	}
	return map[string]any{"$set": update}
}

// enforceProjection guarantees sensitive fields never reach the caller.
// A nil projection becomes an exclusion of the known sensitive fields; a
// caller-supplied projection can narrow further but never re-add them.
func (g *Gate) enforceProjection(projection map[string]any, sensitiveFields []string) map[string]any {
	sensitive := make(map[string]bool, len(sensitiveFields))
	for _, f := range sensitiveFields {
		sensitive[f] = true
	}

	if len(projection) == 0 {
		out := make(map[string]any, len(sensitiveFields))
		for _, f := range sensitiveFields {
			out[f] = 0
		}
		return out
	}

	inclusion := false
	for k, v := range projection {
		if k == "_id" {
			continue
		}
		if n, ok := asInt(v); ok && n != 0 {
			inclusion = true
		}
		if b, ok := v.(bool); ok && b {
			inclusion = true
		}
	}

	out := make(map[string]any, len(projection))
	for k, v := range projection {
		if inclusion && (sensitive[k] || IsSensitiveField(k)) {
			// Overrides cannot add sensitive fields.
			continue
		}
		out[k] = v
	}
	if !inclusion {
		// Exclusion projection: make sure sensitive fields are excluded too.
		for _, f := range sensitiveFields {
			out[f] = 0
		}
	}
	if inclusion && !hasFieldKeys(out) {
		// Stripping removed every requested field. An empty or _id-only
		// projection would mean "all fields" at the driver, so exclude the
		// stripped names explicitly instead.
		for k := range projection {
			if k != "_id" {
				out[k] = 0
			}
		}
		for _, f := range sensitiveFields {
			out[f] = 0
		}
	}
	return out
}

func hasFieldKeys(projection map[string]any) bool {
	for k := range projection {
		if k != "_id" {
			return true
		}
	}
	return false
}

// objectIDHex matches the 24-hex-character identifier literal form.
func isObjectIDHex(s string) bool {
	if len(s) != 24 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

// promoteValue rewrites a single leaf: date sentinels become concrete
// timestamps, 24-hex strings become native ObjectIDs.
func promoteValue(v any, now time.Time) any {
	switch t := v.(type) {
	case string:
		if coerced, ok := coerceDateSentinel(t, now); ok {
			return coerced
		}
		if isObjectIDHex(t) {
			if oid, err := primitive.ObjectIDFromHex(t); err == nil {
				return oid
			}
		}
		return t
	case map[string]any:
		return promoteValues(t, now)
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			out[i] = promoteValue(child, now)
		}
		return out
	}
	return v
}

// promoteValues walks a filter or update tree replacing date sentinels with
// concrete timestamps and 24-hex identifier strings with native ObjectIDs.
func promoteValues(m map[string]any, now time.Time) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = promoteValue(v, now)
	}
	return out
}
