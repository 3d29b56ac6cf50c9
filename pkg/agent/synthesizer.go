package agent

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/askdb-io/askdb-engine/pkg/endpoint"
	"github.com/askdb-io/askdb-engine/pkg/hints"
	"github.com/askdb-io/askdb-engine/pkg/llm"
	"github.com/askdb-io/askdb-engine/pkg/memory"
	"github.com/askdb-io/askdb-engine/pkg/safety"
	"github.com/askdb-io/askdb-engine/pkg/schema"
)

// Synthesized is the pre-gate query for one dbQuery step. Exactly one of
// Document and Relational is set, matching the endpoint kind.
type Synthesized struct {
	Document    *safety.DocumentQuery
	Relational  *safety.RelationalQuery
	Description string
	QueryKind   string
	Targets     []string
}

// Synthesizer turns a dbQuery sub-request into an executable query, via the
// oracle when configured and via keyword heuristics otherwise.
type Synthesizer struct {
	client llm.Client
	logger *zap.Logger
}

// NewSynthesizer creates a synthesizer. client may be nil.
func NewSynthesizer(client llm.Client, logger *zap.Logger) *Synthesizer {
	return &Synthesizer{client: client, logger: logger.Named("synthesizer")}
}

// Synthesize produces the query for one step. Oracle failures fall back to
// the heuristic path; only an unresolvable target yields an error.
func (s *Synthesizer) Synthesize(ctx context.Context, kind endpoint.Kind, subQuery string,
	snap *schema.Snapshot, candidates []hints.Candidate, in *memory.Insights) (*Synthesized, error) {

	if s.client != nil {
		if out, err := s.viaOracle(ctx, kind, subQuery, snap, candidates, in); err == nil {
			return out, nil
		} else {
			s.logger.Warn("oracle synthesis failed, using heuristics", zap.Error(err))
		}
	}
	return s.heuristic(kind, subQuery, snap, candidates)
}

type documentReply struct {
	safety.DocumentQuery
	Description string `json:"description"`
}

type sqlReply struct {
	SQL         string `json:"sql"`
	Parameters  []any  `json:"parameters"`
	Description string `json:"description"`
}

func (s *Synthesizer) viaOracle(ctx context.Context, kind endpoint.Kind, subQuery string,
	snap *schema.Snapshot, candidates []hints.Candidate, in *memory.Insights) (*Synthesized, error) {

	schemaJSON := ""
	if snap != nil {
		schemaJSON = snap.Payload
	}
	prompt := synthPrompt(subQuery, schemaJSON, hints.Names(candidates), in)
	reply, err := s.client.Complete(ctx, prompt, synthSystemMessage(kind), 0.1)
	if err != nil {
		return nil, err
	}

	if kind == endpoint.KindDocument {
		parsed, err := llm.ParseJSONResponse[documentReply](reply)
		if err != nil {
			return nil, err
		}
		if parsed.Collection == "" {
			return nil, fmt.Errorf("synthesized operation has no collection")
		}
		q := parsed.DocumentQuery
		return &Synthesized{
			Document:    &q,
			Description: parsed.Description,
			QueryKind:   documentQueryKind(q.Operation),
			Targets:     []string{q.Collection},
		}, nil
	}

	parsed, err := llm.ParseJSONResponse[sqlReply](reply)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(parsed.SQL) == "" {
		return nil, fmt.Errorf("synthesized statement is empty")
	}
	return &Synthesized{
		Relational:  &safety.RelationalQuery{SQL: parsed.SQL, Parameters: parsed.Parameters},
		Description: parsed.Description,
		QueryKind:   sqlQueryKind(parsed.SQL),
		Targets:     sqlTargets(parsed.SQL),
	}, nil
}

var numberPattern = regexp.MustCompile(`\b(\d+)\b`)

// heuristic synthesizes a read deterministically from intent keywords:
// count/how many, latest/recent, top/first, plus a target resolved from the
// keyword candidates or the schema.
func (s *Synthesizer) heuristic(kind endpoint.Kind, subQuery string,
	snap *schema.Snapshot, candidates []hints.Candidate) (*Synthesized, error) {

	target := resolveTarget(subQuery, snap, candidates)
	if target == "" {
		return nil, fmt.Errorf("cannot determine a target collection or table for %q", subQuery)
	}

	lower := strings.ToLower(subQuery)
	isCount := strings.Contains(lower, "count") || strings.Contains(lower, "how many")
	limit := 10
	if m := numberPattern.FindStringSubmatch(lower); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			limit = n
		}
	}

	if kind == endpoint.KindDocument {
		if isCount {
			return &Synthesized{
				Document:    &safety.DocumentQuery{Operation: "count", Collection: target, Filter: map[string]any{}},
				Description: fmt.Sprintf("Count documents in %s", target),
				QueryKind:   memory.KindCount,
				Targets:     []string{target},
			}, nil
		}
		return &Synthesized{
			Document: &safety.DocumentQuery{
				Operation:  "find",
				Collection: target,
				Filter:     map[string]any{},
				Sort:       map[string]any{"createdAt": -1},
				Limit:      limit,
			},
			Description: fmt.Sprintf("Find up to %d newest documents in %s", limit, target),
			QueryKind:   memory.KindRead,
			Targets:     []string{target},
		}, nil
	}

	if isCount {
		return &Synthesized{
			Relational:  &safety.RelationalQuery{SQL: fmt.Sprintf("SELECT COUNT(*) AS count FROM %s", target)},
			Description: fmt.Sprintf("Count rows in %s", target),
			QueryKind:   memory.KindCount,
			Targets:     []string{target},
		}, nil
	}
	return &Synthesized{
		Relational:  &safety.RelationalQuery{SQL: fmt.Sprintf("SELECT * FROM %s LIMIT %d", target, limit)},
		Description: fmt.Sprintf("Select up to %d rows from %s", limit, target),
		QueryKind:   memory.KindSQL,
		Targets:     []string{target},
	}, nil
}

// resolveTarget picks the table or collection a heuristic query runs
// against: the first keyword candidate, else the first schema entity, else
// a plural-looking token from the text itself.
func resolveTarget(subQuery string, snap *schema.Snapshot, candidates []hints.Candidate) string {
	if len(candidates) > 0 {
		return candidates[0].Name
	}

	if snap != nil {
		if cols, err := snap.Collections(); err == nil && len(cols) > 0 {
			return cols[0].Collection
		}
		if tables, err := snap.Tables(); err == nil && len(tables) > 0 {
			name := tables[0].QualifiedTable
			if i := strings.LastIndexByte(name, '.'); i >= 0 {
				name = name[i+1:]
			}
			return name
		}
	}

	for _, tok := range strings.Fields(strings.ToLower(subQuery)) {
		tok = strings.Trim(tok, ".,!?")
		if len(tok) > 2 && inflection.Plural(tok) == tok {
			return tok
		}
	}
	return ""
}

func documentQueryKind(operation string) string {
	switch operation {
	case "find":
		return memory.KindRead
	case "findOne":
		return memory.KindReadOne
	case "count":
		return memory.KindCount
	case "aggregate":
		return memory.KindAggregate
	case "insertOne":
		return memory.KindInsert
	case "updateOne":
		return memory.KindUpdate
	case "deleteOne":
		return memory.KindDelete
	}
	return memory.KindRead
}

func sqlQueryKind(sqlText string) string {
	verb := strings.ToUpper(strings.Fields(strings.TrimSpace(sqlText))[0])
	switch verb {
	case "INSERT":
		return memory.KindInsert
	case "UPDATE":
		return memory.KindUpdate
	case "DELETE":
		return memory.KindDelete
	}
	return memory.KindSQL
}

var sqlTargetPattern = regexp.MustCompile(`(?i)\b(?:from|into|update|join)\s+([a-zA-Z_][\w.]*)`)

// sqlTargets extracts the table names a statement touches, for memory
// records and hints.
func sqlTargets(sqlText string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range sqlTargetPattern.FindAllStringSubmatch(sqlText, -1) {
		name := strings.ToLower(m[1])
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}
