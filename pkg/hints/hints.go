// Package hints derives planner context from schema snapshots and user text:
// a capabilities string describing answerable question classes, and keyword
// matches mapping free text to candidate tables or collections. Both layers
// are heuristic and read-only; empty output is a valid result.
package hints

import (
	"regexp"
	"sort"
	"strings"

	"github.com/jinzhu/inflection"

	"github.com/askdb-io/askdb-engine/pkg/schema"
)

// entity is the kind-neutral view of one table or collection.
type entity struct {
	name   string
	fields []string
}

func entities(snap *schema.Snapshot) []entity {
	if snap == nil {
		return nil
	}

	if cols, err := snap.Collections(); err == nil {
		out := make([]entity, 0, len(cols))
		for _, c := range cols {
			e := entity{name: c.Collection}
			for _, f := range c.Fields {
				e.fields = append(e.fields, f.Name)
			}
			out = append(out, e)
		}
		return out
	}

	tables, err := snap.Tables()
	if err != nil {
		return nil
	}
	out := make([]entity, 0, len(tables))
	for _, t := range tables {
		name := t.QualifiedTable
		if i := strings.LastIndexByte(name, '.'); i >= 0 {
			name = name[i+1:]
		}
		e := entity{name: name}
		for _, c := range t.Columns {
			e.fields = append(e.fields, c.Name)
		}
		out = append(out, e)
	}
	return out
}

// Profiler emits a compact capabilities string from a snapshot, used only as
// planner context.
type Profiler struct{}

// NewProfiler creates a capability profiler.
func NewProfiler() *Profiler { return &Profiler{} }

var (
	priceNames    = []string{"price", "amount", "total", "revenue", "cost"}
	quantityNames = []string{"quantity", "qty", "count", "units"}
	dateNames     = []string{"date", "created", "updated", "timestamp", "time", "_at"}
	productNames  = []string{"product", "item", "sku"}
	userNames     = []string{"user", "customer", "account", "member"}
)

func nameMatchesAny(name string, parts []string) bool {
	lower := strings.ToLower(name)
	for _, p := range parts {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// Capabilities scans every entity's field names and reports the question
// classes the data can plausibly answer, comma-joined. An unrecognizable
// schema yields the empty string.
func (p *Profiler) Capabilities(snap *schema.Snapshot) string {
	var hasPrice, hasQuantity, hasDate, hasProduct, hasUser bool
	for _, e := range entities(snap) {
		if nameMatchesAny(e.name, productNames) {
			hasProduct = true
		}
		if nameMatchesAny(e.name, userNames) {
			hasUser = true
		}
		for _, f := range e.fields {
			switch {
			case nameMatchesAny(f, priceNames):
				hasPrice = true
			case nameMatchesAny(f, quantityNames):
				hasQuantity = true
			case nameMatchesAny(f, dateNames):
				hasDate = true
			case nameMatchesAny(f, productNames):
				hasProduct = true
			case nameMatchesAny(f, userNames):
				hasUser = true
			}
		}
	}

	var caps []string
	if hasPrice && hasProduct && hasQuantity {
		caps = append(caps, "top_selling_products")
	}
	if hasPrice && hasDate {
		caps = append(caps, "revenue_over_time")
	}
	if hasDate {
		caps = append(caps, "activity_over_time")
	}
	if hasUser {
		caps = append(caps, "user_activity")
	}
	return strings.Join(caps, ", ")
}

// stopwords are dropped from user text before matching.
var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "of": true, "in": true, "on": true,
	"for": true, "to": true, "and": true, "or": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "with": true, "by": true,
	"from": true, "at": true, "all": true, "any": true, "my": true,
	"me": true, "get": true, "show": true, "list": true, "find": true,
	"give": true, "what": true, "which": true, "how": true, "many": true,
	"much": true, "do": true, "does": true, "that": true, "this": true,
	"last": true, "please": true,
}

var tokenPattern = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9_]*`)

// Candidate is one matched table or collection with the field names that
// matched, if any.
type Candidate struct {
	Name   string   `json:"name"`
	Fields []string `json:"fields,omitempty"`
}

// Matcher maps free-text tokens to candidate entities.
type Matcher struct{}

// NewMatcher creates a keyword matcher.
func NewMatcher() *Matcher { return &Matcher{} }

// tokens extracts lowercased, stopword-filtered, singularized tokens.
func (m *Matcher) tokens(text string) []string {
	raw := tokenPattern.FindAllString(strings.ToLower(text), -1)
	seen := make(map[string]bool, len(raw))
	var out []string
	for _, tok := range raw {
		if stopwords[tok] || len(tok) < 2 {
			continue
		}
		tok = inflection.Singular(tok)
		if seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
	}
	return out
}

// Match returns every entity whose name or any field name contains one of
// the text's tokens. Candidates are sorted by name; no match is an empty
// slice, never an error.
func (m *Matcher) Match(text string, snap *schema.Snapshot) []Candidate {
	toks := m.tokens(text)
	if len(toks) == 0 {
		return nil
	}

	var out []Candidate
	for _, e := range entities(snap) {
		entityName := strings.ToLower(inflection.Singular(e.name))

		var matched bool
		var matchedFields []string
		for _, tok := range toks {
			if strings.Contains(entityName, tok) {
				matched = true
			}
		}
		for _, f := range e.fields {
			lower := strings.ToLower(f)
			for _, tok := range toks {
				if strings.Contains(lower, tok) {
					matched = true
					matchedFields = append(matchedFields, f)
					break
				}
			}
		}
		if matched {
			out = append(out, Candidate{Name: e.name, Fields: matchedFields})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names flattens candidates to entity names for prompt assembly.
func Names(candidates []Candidate) []string {
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.Name
	}
	return out
}
