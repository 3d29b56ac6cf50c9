package agent

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/askdb-io/askdb-engine/pkg/apperrors"
	"github.com/askdb-io/askdb-engine/pkg/endpoint"
	"github.com/askdb-io/askdb-engine/pkg/hints"
	"github.com/askdb-io/askdb-engine/pkg/memory"
	"github.com/askdb-io/askdb-engine/pkg/pool"
	"github.com/askdb-io/askdb-engine/pkg/schema"
)

// Query length bounds, inclusive.
const (
	MinQueryLength = 3
	MaxQueryLength = 500
)

// Request is one user turn entering the pipeline. Endpoint may be zero for
// purely conversational turns.
type Request struct {
	UserID        string
	Text          string
	Endpoint      endpoint.Endpoint
	DryRun        bool
	RefreshSchema bool
	Verbose       bool
}

// Pipeline wires the full turn flow: endpoint resolution, connection,
// schema, hints, memory, planning, gated execution, and shaping.
type Pipeline struct {
	pool     *pool.Pool
	registry *schema.Registry
	planner  *Planner
	executor *Executor
	shaper   *Shaper
	profiler *hints.Profiler
	matcher  *hints.Matcher
	memory   *memory.Service
	logger   *zap.Logger
}

// NewPipeline assembles the agent from its collaborators.
func NewPipeline(p *pool.Pool, registry *schema.Registry, planner *Planner,
	executor *Executor, shaper *Shaper, mem *memory.Service, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		pool:     p,
		registry: registry,
		planner:  planner,
		executor: executor,
		shaper:   shaper,
		profiler: hints.NewProfiler(),
		matcher:  hints.NewMatcher(),
		memory:   mem,
		logger:   logger.Named("agent"),
	}
}

// Run drives one turn. Framing failures (bad input, unsupported endpoint,
// connection failure) return an error; everything else lands in the
// response with per-step detail in the trace.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Response, error) {
	text := strings.TrimSpace(req.Text)
	if n := utf8.RuneCountInString(text); n < MinQueryLength || n > MaxQueryLength {
		return nil, fmt.Errorf("%w: query must be %d to %d characters",
			apperrors.ErrBadInput, MinQueryLength, MaxQueryLength)
	}

	start := time.Now()

	if IsConversational(text) {
		return p.runConversation(ctx, req, text, start), nil
	}

	if req.Endpoint.URL == "" {
		return nil, fmt.Errorf("%w: dbUrl is required", apperrors.ErrBadInput)
	}

	handle, err := p.pool.Acquire(ctx, req.Endpoint)
	if err != nil {
		return nil, err
	}

	snap := p.registry.GetOrBuild(ctx, req.Endpoint, handle, req.RefreshSchema)
	capabilities := p.profiler.Capabilities(snap)
	candidates := p.matcher.Match(text, snap)

	dbKey := req.Endpoint.Key()
	provisionalLabel := memory.PatternLabelFor(guessQueryKind(text), hints.Names(candidates))
	insights := p.memory.InsightsFor(ctx, req.UserID, dbKey, provisionalLabel)

	plan, _ := p.planner.Plan(ctx, PlanInput{
		UserText:     text,
		SchemaJSON:   snap.Payload,
		Capabilities: capabilities,
		Candidates:   hints.Names(candidates),
		Insights:     insights,
	})

	out := p.executor.Run(ctx, plan, ExecInput{
		Kind:       req.Endpoint.Kind,
		Handle:     handle,
		Snapshot:   snap,
		Candidates: candidates,
		Insights:   insights,
		DryRun:     req.DryRun,
	})

	queryKind := out.QueryKind
	if queryKind == "" {
		queryKind = memory.KindRead
	}
	targets := out.Targets
	if len(targets) == 0 {
		targets = []string{"n/a"}
	}

	rec := &memory.Record{
		UserID:              req.UserID,
		DBKey:               dbKey,
		OriginalText:        text,
		QueryDescription:    describeQueries(out.ExecutedQueries),
		QueryKind:           queryKind,
		CollectionsOrTables: targets,
		ExecutionMillis:     time.Since(start).Milliseconds(),
		ResultCount:         out.ResultCount,
		Succeeded:           out.Succeeded,
		PatternLabel:        memory.PatternLabelFor(queryKind, targets),
	}
	p.memory.RecordTurn(ctx, rec)

	resp := p.shaper.Shape(ctx, ShapeInput{
		Verbose:       req.Verbose,
		DryRun:        req.DryRun,
		UserText:      text,
		Plan:          plan,
		Out:           out,
		Insights:      insights,
		Capabilities:  capabilities,
		ElapsedMillis: time.Since(start).Milliseconds(),
		QueryID:       recordID(rec),
	})
	return resp, nil
}

// runConversation answers a pleasantry without touching any database.
func (p *Pipeline) runConversation(ctx context.Context, req Request, text string, start time.Time) *Response {
	message := p.planner.ConversationReply(ctx, text)

	dbKey := ""
	if req.Endpoint.URL != "" {
		dbKey = req.Endpoint.Key()
	}
	rec := &memory.Record{
		UserID:              req.UserID,
		DBKey:               dbKey,
		OriginalText:        text,
		QueryKind:           memory.KindConversation,
		CollectionsOrTables: []string{"n/a"},
		ExecutionMillis:     time.Since(start).Milliseconds(),
		Succeeded:           true,
		PatternLabel:        memory.PatternLabelFor(memory.KindConversation, nil),
	}
	p.memory.RecordTurn(ctx, rec)

	resp := &Response{
		Success: true,
		Message: message,
		Data:    nil,
		QueryID: recordID(rec),
	}
	if req.Verbose {
		resp.Query = text
		resp.Plan = &Plan{}
		resp.ExecutionMillis = time.Since(start).Milliseconds()
	}
	return resp
}

func recordID(rec *memory.Record) string {
	if rec.ID.IsZero() {
		return ""
	}
	return rec.ID.Hex()
}

// guessQueryKind classifies the text for the provisional pattern label used
// when fetching insights before the plan exists.
func guessQueryKind(text string) string {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "count") || strings.Contains(lower, "how many"):
		return memory.KindCount
	case strings.Contains(lower, "delete") || strings.Contains(lower, "remove"):
		return memory.KindDelete
	case strings.Contains(lower, "update") || strings.Contains(lower, "change"):
		return memory.KindUpdate
	case strings.Contains(lower, "insert") || strings.Contains(lower, "add "):
		return memory.KindInsert
	}
	return memory.KindRead
}

func describeQueries(queries []ExecutedQueryInfo) string {
	if len(queries) == 0 {
		return ""
	}
	parts := make([]string, 0, len(queries))
	for _, q := range queries {
		if q.Description != "" {
			parts = append(parts, q.Description)
		} else if q.SQL != "" {
			parts = append(parts, q.SQL)
		} else {
			parts = append(parts, q.Operation+" "+q.Collection)
		}
	}
	return strings.Join(parts, "; ")
}
