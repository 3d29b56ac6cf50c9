package safety

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/askdb-io/askdb-engine/pkg/apperrors"
)

func TestCheckDocumentFindGetsRowCapAndProjection(t *testing.T) {
	g := NewGate(1000, false, time.Second)
	q := &DocumentQuery{Operation: "find", Collection: "users", Filter: map[string]any{}}
	require.NoError(t, g.CheckDocument(q, []string{"password"}))

	assert.Equal(t, 1000, q.Limit)
	assert.Equal(t, map[string]any{"password": 0}, q.Projection)
	assert.Equal(t, time.Second, q.TimeBudget)
}

func TestCheckDocumentAttachesTimeBudgetToWrites(t *testing.T) {
	g := NewGate(1000, false, 3*time.Second)
	q := &DocumentQuery{
		Operation:  "deleteOne",
		Collection: "users",
		Filter:     map[string]any{"email": "a@b.c"},
	}
	require.NoError(t, g.CheckDocument(q, nil))
	assert.Equal(t, 3*time.Second, q.TimeBudget)
}

func TestCheckDocumentCapIsMinOfRequestedAndDefault(t *testing.T) {
	g := NewGate(100, false, time.Second)

	q := &DocumentQuery{Operation: "find", Collection: "users", Limit: 10}
	require.NoError(t, g.CheckDocument(q, nil))
	assert.Equal(t, 10, q.Limit)

	q = &DocumentQuery{Operation: "find", Collection: "users", Limit: 5000}
	require.NoError(t, g.CheckDocument(q, nil))
	assert.Equal(t, 100, q.Limit)
}

func TestCheckDocumentRejectsWhereAnywhere(t *testing.T) {
	g := NewGate(1000, false, time.Second)

	for name, filter := range map[string]map[string]any{
		"top level": {"$where": "this.a == 1"},
		"nested":    {"a": map[string]any{"$where": "x"}},
		"in array": {"$or": []any{
			map[string]any{"b": 1},
			map[string]any{"$where": "y"},
		}},
	} {
		t.Run(name, func(t *testing.T) {
			q := &DocumentQuery{Operation: "find", Collection: "c", Filter: filter}
			requireRule(t, g.CheckDocument(q, nil), apperrors.RuleDangerousOperator)
		})
	}
}

func TestCheckDocumentRejectsWriteStages(t *testing.T) {
	g := NewGate(1000, false, time.Second)
	q := &DocumentQuery{
		Operation:  "aggregate",
		Collection: "orders",
		Pipeline: []map[string]any{
			{"$match": map[string]any{"status": "paid"}},
			{"$out": "exfil"},
		},
	}
	requireRule(t, g.CheckDocument(q, nil), apperrors.RuleWriteStage)
}

func TestCheckDocumentAppendsLimitStage(t *testing.T) {
	g := NewGate(1000, false, time.Second)
	q := &DocumentQuery{
		Operation:  "aggregate",
		Collection: "orders",
		Pipeline:   []map[string]any{{"$match": map[string]any{"status": "paid"}}},
	}
	require.NoError(t, g.CheckDocument(q, nil))

	require.Len(t, q.Pipeline, 2)
	assert.Equal(t, map[string]any{"$limit": 1000}, q.Pipeline[1])
}

func TestCheckDocumentClampsExistingLimitStage(t *testing.T) {
	g := NewGate(100, false, time.Second)
	q := &DocumentQuery{
		Operation:  "aggregate",
		Collection: "orders",
		Pipeline:   []map[string]any{{"$limit": float64(99999)}},
	}
	require.NoError(t, g.CheckDocument(q, nil))
	assert.Equal(t, 100, q.Pipeline[0]["$limit"])
}

func TestCheckDocumentWriteFilters(t *testing.T) {
	g := NewGate(1000, false, time.Second)

	q := &DocumentQuery{Operation: "deleteOne", Collection: "users"}
	requireRule(t, g.CheckDocument(q, nil), apperrors.RuleEmptyWriteFilter)

	q = &DocumentQuery{Operation: "updateOne", Collection: "users", Filter: map[string]any{}}
	requireRule(t, g.CheckDocument(q, nil), apperrors.RuleEmptyWriteFilter)

	q = &DocumentQuery{
		Operation:  "updateOne",
		Collection: "users",
		Filter:     map[string]any{"email": "a@b.c"},
		Update:     map[string]any{"name": "Ann"},
	}
	require.NoError(t, g.CheckDocument(q, nil))
}

func TestCheckDocumentRejectsBulkWrites(t *testing.T) {
	g := NewGate(1000, false, time.Second)
	for _, op := range []string{"updateMany", "deleteMany", "insertMany"} {
		q := &DocumentQuery{Operation: op, Collection: "users", Filter: map[string]any{"a": 1}}
		requireRule(t, g.CheckDocument(q, nil), apperrors.RuleBulkWrite)
	}
}

func TestCheckDocumentNormalizesPlainUpdateToSet(t *testing.T) {
	g := NewGate(1000, false, time.Second)
	q := &DocumentQuery{
		Operation:  "updateOne",
		Collection: "users",
		Filter:     map[string]any{"_id": "507f1f77bcf86cd799439011"},
		Update:     map[string]any{"status": "active"},
	}
	require.NoError(t, g.CheckDocument(q, nil))

	set, ok := q.Update["$set"].(map[string]any)
	require.True(t, ok, "expected update wrapped in $set, got %v", q.Update)
	assert.Equal(t, "active", set["status"])
}

func TestCheckDocumentKeepsOperatorUpdate(t *testing.T) {
	g := NewGate(1000, false, time.Second)
	q := &DocumentQuery{
		Operation:  "updateOne",
		Collection: "users",
		Filter:     map[string]any{"email": "a@b.c"},
		Update:     map[string]any{"$inc": map[string]any{"visits": 1}},
	}
	require.NoError(t, g.CheckDocument(q, nil))
	_, hasSet := q.Update["$set"]
	assert.False(t, hasSet)
}

func TestCheckDocumentProjectionCannotAddSensitiveFields(t *testing.T) {
	g := NewGate(1000, false, time.Second)
	q := &DocumentQuery{
		Operation:  "find",
		Collection: "users",
		Projection: map[string]any{"name": 1, "password": 1},
	}
	require.NoError(t, g.CheckDocument(q, []string{"password"}))

	_, hasPassword := q.Projection["password"]
	assert.False(t, hasPassword)
	assert.Equal(t, 1, q.Projection["name"])
}

func TestCheckDocumentExclusionProjectionGainsSensitiveExclusions(t *testing.T) {
	g := NewGate(1000, false, time.Second)
	q := &DocumentQuery{
		Operation:  "find",
		Collection: "users",
		Projection: map[string]any{"internalNotes": 0},
	}
	require.NoError(t, g.CheckDocument(q, []string{"password"}))
	assert.Equal(t, 0, q.Projection["password"])
	assert.Equal(t, 0, q.Projection["internalNotes"])
}

func TestCheckDocumentSensitiveOnlyInclusionFallsBackToExclusion(t *testing.T) {
	g := NewGate(1000, false, time.Second)
	q := &DocumentQuery{
		Operation:  "find",
		Collection: "users",
		Projection: map[string]any{"password": 1},
	}
	require.NoError(t, g.CheckDocument(q, []string{"password"}))
	assert.Equal(t, map[string]any{"password": 0}, q.Projection)
}

func TestCheckDocumentSensitiveOnlyInclusionByNameHeuristic(t *testing.T) {
	g := NewGate(1000, false, time.Second)
	q := &DocumentQuery{
		Operation:  "findOne",
		Collection: "integrations",
		Projection: map[string]any{"apiKey": true},
	}
	require.NoError(t, g.CheckDocument(q, nil))
	assert.Equal(t, map[string]any{"apiKey": 0}, q.Projection)
}

func TestCheckDocumentIDOnlyResidueFallsBackToExclusion(t *testing.T) {
	g := NewGate(1000, false, time.Second)
	q := &DocumentQuery{
		Operation:  "find",
		Collection: "users",
		Projection: map[string]any{"_id": 0, "password": 1},
	}
	require.NoError(t, g.CheckDocument(q, []string{"password"}))
	assert.Equal(t, 0, q.Projection["password"])
	assert.Equal(t, 0, q.Projection["_id"])
}

func TestCheckDocumentPromotesObjectIDs(t *testing.T) {
	g := NewGate(1000, false, time.Second)
	q := &DocumentQuery{
		Operation:  "find",
		Collection: "orders",
		Filter:     map[string]any{"userId": "507f1f77bcf86cd799439011"},
	}
	require.NoError(t, g.CheckDocument(q, nil))

	oid, ok := q.Filter["userId"].(primitive.ObjectID)
	require.True(t, ok)
	assert.Equal(t, "507f1f77bcf86cd799439011", oid.Hex())
}

func TestCheckDocumentCoercesDateSentinels(t *testing.T) {
	g := NewGate(1000, false, time.Second)
	q := &DocumentQuery{
		Operation:  "find",
		Collection: "orders",
		Filter: map[string]any{
			"createdAt": map[string]any{"$gte": Sentinel30DaysAgo},
		},
	}
	require.NoError(t, g.CheckDocument(q, nil))

	gte := q.Filter["createdAt"].(map[string]any)["$gte"]
	ts, ok := gte.(time.Time)
	require.True(t, ok)
	assert.True(t, time.Since(ts) >= 29*24*time.Hour)
}

func TestCheckDocumentUnknownOperation(t *testing.T) {
	g := NewGate(1000, false, time.Second)
	q := &DocumentQuery{Operation: "mapReduce", Collection: "c"}
	requireRule(t, g.CheckDocument(q, nil), apperrors.RuleUnknownOperation)
}

func TestIsSensitiveField(t *testing.T) {
	assert.True(t, IsSensitiveField("password"))
	assert.True(t, IsSensitiveField("passwordHash"))
	assert.True(t, IsSensitiveField("api_key"))
	assert.True(t, IsSensitiveField("refreshToken"))
	assert.False(t, IsSensitiveField("email"))
	assert.False(t, IsSensitiveField("name"))
}
