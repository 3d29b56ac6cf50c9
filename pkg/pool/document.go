package pool

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/askdb-io/askdb-engine/pkg/apperrors"
	"github.com/askdb-io/askdb-engine/pkg/safety"
)

// ExecuteDocument runs a gated document-store operation on this handle.
// The gate has already capped limits, enforced projections, and promoted
// identifier and date literals, so execution is a direct driver call. The
// query's time budget bounds execution; an overrun maps to Timeout.
func (h *Handle) ExecuteDocument(ctx context.Context, q *safety.DocumentQuery) (*Result, error) {
	if h.Mongo == nil {
		return nil, fmt.Errorf("%w: handle kind %q cannot execute document operations",
			apperrors.ErrUnsupportedEndpoint, h.Kind)
	}
	if q.TimeBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.TimeBudget)
		defer cancel()
	}
	coll := h.Mongo.Database(h.DatabaseName).Collection(q.Collection)

	switch q.Operation {
	case "find":
		return h.execFind(ctx, coll, q)
	case "findOne":
		return h.execFindOne(ctx, coll, q)
	case "count":
		n, err := coll.CountDocuments(ctx, orEmpty(q.Filter))
		if err != nil {
			return nil, mapDriverError(ctx, err)
		}
		return &Result{Rows: []map[string]any{{"count": n}}, Affected: 1}, nil
	case "aggregate":
		return h.execAggregate(ctx, coll, q)
	case "insertOne":
		res, err := coll.InsertOne(ctx, q.Document)
		if err != nil {
			return nil, mapDriverError(ctx, err)
		}
		return &Result{
			Rows:     []map[string]any{{"insertedId": normalizeBSONValue(res.InsertedID)}},
			Affected: 1,
		}, nil
	case "updateOne":
		res, err := coll.UpdateOne(ctx, q.Filter, q.Update)
		if err != nil {
			return nil, mapDriverError(ctx, err)
		}
		return &Result{
			Rows: []map[string]any{{
				"matchedCount":  res.MatchedCount,
				"modifiedCount": res.ModifiedCount,
			}},
			Affected: res.ModifiedCount,
		}, nil
	case "deleteOne":
		res, err := coll.DeleteOne(ctx, q.Filter)
		if err != nil {
			return nil, mapDriverError(ctx, err)
		}
		return &Result{
			Rows:     []map[string]any{{"deletedCount": res.DeletedCount}},
			Affected: res.DeletedCount,
		}, nil
	}
	return nil, apperrors.SafetyRejected(apperrors.RuleUnknownOperation, q.Operation)
}

func (h *Handle) execFind(ctx context.Context, coll *mongo.Collection, q *safety.DocumentQuery) (*Result, error) {
	opts := options.Find()
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	if len(q.Projection) > 0 {
		opts.SetProjection(q.Projection)
	}
	if len(q.Sort) > 0 {
		opts.SetSort(q.Sort)
	}

	cursor, err := coll.Find(ctx, orEmpty(q.Filter), opts)
	if err != nil {
		return nil, mapDriverError(ctx, err)
	}
	return drainCursor(ctx, cursor)
}

func (h *Handle) execFindOne(ctx context.Context, coll *mongo.Collection, q *safety.DocumentQuery) (*Result, error) {
	opts := options.FindOne()
	if len(q.Projection) > 0 {
		opts.SetProjection(q.Projection)
	}
	if len(q.Sort) > 0 {
		opts.SetSort(q.Sort)
	}

	var doc bson.M
	err := coll.FindOne(ctx, orEmpty(q.Filter), opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return &Result{Rows: []map[string]any{}}, nil
	}
	if err != nil {
		return nil, mapDriverError(ctx, err)
	}
	return &Result{Rows: []map[string]any{normalizeBSONMap(doc)}, Affected: 1}, nil
}

func (h *Handle) execAggregate(ctx context.Context, coll *mongo.Collection, q *safety.DocumentQuery) (*Result, error) {
	pipeline := make([]any, len(q.Pipeline))
	for i, stage := range q.Pipeline {
		pipeline[i] = stage
	}

	cursor, err := coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, mapDriverError(ctx, err)
	}
	return drainCursor(ctx, cursor)
}

func drainCursor(ctx context.Context, cursor *mongo.Cursor) (*Result, error) {
	defer cursor.Close(ctx)

	out := make([]map[string]any, 0, 16)
	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return nil, mapDriverError(ctx, err)
		}
		out = append(out, normalizeBSONMap(doc))
	}
	if err := cursor.Err(); err != nil {
		return nil, mapDriverError(ctx, err)
	}
	return &Result{Rows: out, Affected: int64(len(out))}, nil
}

func orEmpty(filter map[string]any) any {
	if filter == nil {
		return bson.M{}
	}
	return filter
}

// normalizeBSONValue converts driver-native BSON values into plain Go values
// that marshal to clean JSON: ObjectIDs become hex strings, BSON timestamps
// become time.Time, and nested documents and arrays are walked recursively.
func normalizeBSONValue(v any) any {
	switch t := v.(type) {
	case primitive.ObjectID:
		return t.Hex()
	case primitive.DateTime:
		return t.Time().UTC()
	case primitive.Decimal128:
		return t.String()
	case bson.M:
		return normalizeBSONMap(t)
	case map[string]any:
		return normalizeBSONMap(t)
	case bson.D:
		m := make(map[string]any, len(t))
		for _, e := range t {
			m[e.Key] = normalizeBSONValue(e.Value)
		}
		return m
	case bson.A:
		out := make([]any, len(t))
		for i, child := range t {
			out[i] = normalizeBSONValue(child)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			out[i] = normalizeBSONValue(child)
		}
		return out
	}
	return v
}

func normalizeBSONMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalizeBSONValue(v)
	}
	return out
}
