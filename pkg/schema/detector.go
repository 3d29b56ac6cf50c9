package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jinzhu/inflection"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/askdb-io/askdb-engine/pkg/endpoint"
	"github.com/askdb-io/askdb-engine/pkg/pool"
)

// sampleSize bounds how many documents per collection feed type inference.
const sampleSize = 10

// Detector builds snapshot payloads from live handles.
type Detector struct {
	logger *zap.Logger
}

// NewDetector creates a schema detector.
func NewDetector(logger *zap.Logger) *Detector {
	return &Detector{logger: logger.Named("schema.detector")}
}

// Detect introspects the handle's database and returns the JSON payload and
// the table/collection total.
func (d *Detector) Detect(ctx context.Context, h *pool.Handle) (string, int, error) {
	switch h.Kind {
	case endpoint.KindDocument:
		cols, err := d.detectDocument(ctx, h)
		if err != nil {
			return "", 0, err
		}
		payload, err := json.Marshal(cols)
		if err != nil {
			return "", 0, fmt.Errorf("marshal snapshot: %w", err)
		}
		return string(payload), len(cols), nil

	case endpoint.KindPostgres:
		tables, err := d.detectPostgres(ctx, h)
		if err != nil {
			return "", 0, err
		}
		payload, err := json.Marshal(tables)
		if err != nil {
			return "", 0, fmt.Errorf("marshal snapshot: %w", err)
		}
		return string(payload), len(tables), nil

	case endpoint.KindMySQL:
		tables, err := d.detectMySQL(ctx, h)
		if err != nil {
			return "", 0, err
		}
		payload, err := json.Marshal(tables)
		if err != nil {
			return "", 0, fmt.Errorf("marshal snapshot: %w", err)
		}
		return string(payload), len(tables), nil
	}
	return "", 0, fmt.Errorf("unknown endpoint kind %q", h.Kind)
}

// detectDocument enumerates collections, samples documents, and infers field
// types, requiredness, and likely references.
func (d *Detector) detectDocument(ctx context.Context, h *pool.Handle) ([]Collection, error) {
	db := h.Mongo.Database(h.DatabaseName)

	names, err := db.ListCollectionNames(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	sort.Strings(names)

	out := make([]Collection, 0, len(names))
	for _, name := range names {
		if strings.HasPrefix(name, "system.") {
			continue
		}
		col, err := d.inspectCollection(ctx, h, name)
		if err != nil {
			return nil, err
		}
		out = append(out, col)
	}
	return out, nil
}

func (d *Detector) inspectCollection(ctx context.Context, h *pool.Handle, name string) (Collection, error) {
	coll := h.Mongo.Database(h.DatabaseName).Collection(name)

	cursor, err := coll.Find(ctx, bson.M{}, options.Find().SetLimit(sampleSize))
	if err != nil {
		return Collection{}, fmt.Errorf("sample %s: %w", name, err)
	}
	var samples []bson.M
	if err := cursor.All(ctx, &samples); err != nil {
		return Collection{}, fmt.Errorf("decode samples for %s: %w", name, err)
	}

	indexNames, uniqueFields, err := listIndexes(ctx, coll)
	if err != nil {
		d.logger.Warn("index listing failed, continuing without indexes",
			zap.String("collection", name), zap.Error(err))
	}

	fields := inferFields(samples, uniqueFields)
	return Collection{
		Collection:    name,
		Fields:        fields,
		Indexes:       indexNames,
		Relationships: inferRelationships(fields),
	}, nil
}

// listIndexes returns index names plus the set of fields covered by a
// single-field unique index.
func listIndexes(ctx context.Context, coll *mongo.Collection) ([]string, map[string]bool, error) {
	cursor, err := coll.Indexes().List(ctx)
	if err != nil {
		return nil, nil, err
	}
	var specs []bson.M
	if err := cursor.All(ctx, &specs); err != nil {
		return nil, nil, err
	}

	var names []string
	unique := make(map[string]bool)
	for _, spec := range specs {
		if n, ok := spec["name"].(string); ok {
			names = append(names, n)
		}
		if isUnique, _ := spec["unique"].(bool); !isUnique {
			continue
		}
		if key, ok := spec["key"].(bson.M); ok && len(key) == 1 {
			for f := range key {
				unique[f] = true
			}
		}
	}
	return names, unique, nil
}

type fieldAcc struct {
	types map[string]bool
	seen  int
}

// inferFields computes per-field types and requiredness from the sample set.
// Fields present in every sample are required; a field showing more than one
// type takes the highest-precedence observed type.
func inferFields(samples []bson.M, uniqueFields map[string]bool) []Field {
	accs := make(map[string]*fieldAcc)
	for _, doc := range samples {
		for name, value := range doc {
			acc := accs[name]
			if acc == nil {
				acc = &fieldAcc{types: make(map[string]bool)}
				accs[name] = acc
			}
			acc.seen++
			if t := classifyValue(value); t != "" {
				acc.types[t] = true
			}
		}
	}

	names := make([]string, 0, len(accs))
	for name := range accs {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make([]Field, 0, len(names))
	for _, name := range names {
		acc := accs[name]
		fields = append(fields, Field{
			Name:         name,
			InferredType: unifyTypes(acc.types),
			Required:     len(samples) > 0 && acc.seen == len(samples),
			Unique:       uniqueFields[name],
		})
	}
	return fields
}

// classifyValue maps a sampled BSON value to an inferred type name.
func classifyValue(v any) string {
	switch t := v.(type) {
	case primitive.ObjectID:
		return TypeIdentifier
	case string:
		if looksLikeObjectID(t) {
			return TypeIdentifier
		}
		return TypeString
	case int, int32, int64, float32, float64, primitive.Decimal128:
		return TypeNumber
	case bool:
		return TypeBoolean
	case time.Time, primitive.DateTime, primitive.Timestamp:
		return TypeDate
	case bson.M, bson.D, map[string]any:
		return TypeObject
	case bson.A:
		return arrayType(t)
	case []any:
		return arrayType(t)
	case nil:
		return ""
	}
	return TypeMixed
}

func arrayType(elems []any) string {
	var elemType string
	for _, e := range elems {
		t := classifyValue(e)
		if t == "" {
			continue
		}
		if elemType == "" {
			elemType = t
		} else if elemType != t {
			elemType = TypeMixed
		}
	}
	if elemType == "" {
		elemType = TypeMixed
	}
	return "Array<" + elemType + ">"
}

// typeRank orders inferred types by precedence; lower wins.
func typeRank(t string) int {
	switch t {
	case TypeIdentifier:
		return 0
	case TypeString:
		return 1
	case TypeNumber:
		return 2
	case TypeBoolean:
		return 3
	case TypeDate:
		return 4
	case TypeObject:
		return 5
	}
	if strings.HasPrefix(t, "Array<") {
		return 6
	}
	return 7
}

func unifyTypes(types map[string]bool) string {
	if len(types) == 0 {
		return TypeMixed
	}
	best := ""
	for t := range types {
		if best == "" || typeRank(t) < typeRank(best) {
			best = t
		}
	}
	return best
}

func looksLikeObjectID(s string) bool {
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

// inferRelationships derives potential references from the *Id naming
// convention on identifier-typed fields. Declared references (Ref set on a
// field) are carried through as hard references.
func inferRelationships(fields []Field) []Relationship {
	var rels []Relationship
	for _, f := range fields {
		if f.Ref != "" {
			rels = append(rels, Relationship{Field: f.Name, Kind: RelReference, Target: f.Ref})
			continue
		}
		if f.InferredType != TypeIdentifier || f.Name == "_id" {
			continue
		}
		if stem, ok := strings.CutSuffix(f.Name, "Id"); ok && stem != "" {
			rels = append(rels, Relationship{
				Field:  f.Name,
				Kind:   RelPotentialReference,
				Target: inflection.Plural(strings.ToLower(stem)),
			})
		}
	}
	return rels
}
