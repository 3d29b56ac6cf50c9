// Package schema introspects target databases and persists the normalized
// snapshots the planner consumes. Snapshots are keyed by the credential-free
// dbKey and refreshed on TTL expiry or explicit request.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/askdb-io/askdb-engine/pkg/endpoint"
	"github.com/askdb-io/askdb-engine/pkg/safety"
)

// Inferred field types for document collections, in precedence order when a
// field shows more than one type across samples.
const (
	TypeIdentifier = "Identifier"
	TypeString     = "String"
	TypeNumber     = "Number"
	TypeBoolean    = "Boolean"
	TypeDate       = "Date"
	TypeObject     = "Object"
	TypeMixed      = "Mixed"
)

// Relationship kinds.
const (
	RelReference          = "reference"
	RelPotentialReference = "potentialReference"
)

// Field describes one inferred document field.
type Field struct {
	Name         string   `json:"name"`
	InferredType string   `json:"inferredType"`
	Required     bool     `json:"required,omitempty"`
	Unique       bool     `json:"unique,omitempty"`
	Enum         []string `json:"enum,omitempty"`
	Ref          string   `json:"ref,omitempty"`
}

// Relationship links a field to a likely target collection.
type Relationship struct {
	Field  string `json:"field"`
	Kind   string `json:"kind"`
	Target string `json:"target"`
}

// Collection is the snapshot shape for one document collection.
type Collection struct {
	Collection    string         `json:"collection"`
	Fields        []Field        `json:"fields"`
	Indexes       []string       `json:"indexes,omitempty"`
	Relationships []Relationship `json:"relationships,omitempty"`
}

// Column describes one relational column.
type Column struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

// ForeignKey describes one relational foreign key constraint.
type ForeignKey struct {
	Column         string `json:"column"`
	RefTable       string `json:"refTable"`
	RefColumn      string `json:"refColumn"`
	ConstraintName string `json:"constraintName"`
}

// Table is the snapshot shape for one relational table.
type Table struct {
	QualifiedTable string       `json:"qualifiedTable"`
	Columns        []Column     `json:"columns"`
	PrimaryKey     []string     `json:"primaryKey,omitempty"`
	ForeignKeys    []ForeignKey `json:"foreignKeys,omitempty"`
}

// Snapshot is the persisted registry entry for one endpoint. Payload holds
// the JSON-serialized []Collection or []Table depending on Kind. The entry
// never contains credentials; the dbKey is derived from the normalized URL.
type Snapshot struct {
	DBKey     string        `bson:"_id" json:"dbKey"`
	Kind      endpoint.Kind `bson:"kind" json:"kind"`
	Payload   string        `bson:"payload" json:"payload"`
	Totals    int           `bson:"totals" json:"totals"`
	LastBuilt time.Time     `bson:"lastBuilt" json:"lastBuilt"`
}

// Fresh reports whether the snapshot is still within its TTL.
func (s *Snapshot) Fresh(now time.Time, ttl time.Duration) bool {
	return now.Sub(s.LastBuilt) < ttl
}

// Collections decodes the payload of a document-kind snapshot.
func (s *Snapshot) Collections() ([]Collection, error) {
	if s.Kind != endpoint.KindDocument {
		return nil, fmt.Errorf("snapshot kind %q has no collections", s.Kind)
	}
	var out []Collection
	if err := json.Unmarshal([]byte(s.Payload), &out); err != nil {
		return nil, fmt.Errorf("decode snapshot payload: %w", err)
	}
	return out, nil
}

// SensitiveFields returns the sensitive field names described for the named
// collection or table, for the gate's projection enforcement. Unknown names
// and decode failures yield nil; the gate's name heuristics still apply.
func (s *Snapshot) SensitiveFields(name string) []string {
	var out []string
	if s.Kind == endpoint.KindDocument {
		cols, err := s.Collections()
		if err != nil {
			return nil
		}
		for _, c := range cols {
			if c.Collection != name {
				continue
			}
			for _, f := range c.Fields {
				if safety.IsSensitiveField(f.Name) {
					out = append(out, f.Name)
				}
			}
		}
		return out
	}

	tables, err := s.Tables()
	if err != nil {
		return nil
	}
	for _, t := range tables {
		if t.QualifiedTable != name && !strings.HasSuffix(t.QualifiedTable, "."+name) {
			continue
		}
		for _, c := range t.Columns {
			if safety.IsSensitiveField(c.Name) {
				out = append(out, c.Name)
			}
		}
	}
	return out
}

// Tables decodes the payload of a relational-kind snapshot.
func (s *Snapshot) Tables() ([]Table, error) {
	if s.Kind == endpoint.KindDocument {
		return nil, fmt.Errorf("snapshot kind %q has no tables", s.Kind)
	}
	var out []Table
	if err := json.Unmarshal([]byte(s.Payload), &out); err != nil {
		return nil, fmt.Errorf("decode snapshot payload: %w", err)
	}
	return out, nil
}
