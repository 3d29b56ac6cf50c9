package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/askdb-io/askdb-engine/pkg/endpoint"
	"github.com/askdb-io/askdb-engine/pkg/hints"
	"github.com/askdb-io/askdb-engine/pkg/llm"
	"github.com/askdb-io/askdb-engine/pkg/memory"
	"github.com/askdb-io/askdb-engine/pkg/pool"
	"github.com/askdb-io/askdb-engine/pkg/safety"
	"github.com/askdb-io/askdb-engine/pkg/schema"
)

const (
	tracePreviewLimit    = 10
	analysisPreviewLimit = 20
)

// StepResult captures one step's outcome for the trace. A failed step
// carries its reason; subsequent steps still run.
type StepResult struct {
	StepIndex int              `json:"stepIndex"`
	Kind      string           `json:"kind"`
	Ok        bool             `json:"ok"`
	Output    any              `json:"output,omitempty"`
	Preview   []map[string]any `json:"preview,omitempty"`
	Error     string           `json:"error,omitempty"`

	rows []map[string]any
}

// ExecutedQueryInfo is the post-gate query description surfaced in verbose
// responses. SQL honors the redaction flag; parameter values are never
// echoed.
type ExecutedQueryInfo struct {
	Operation   string           `json:"operation"`
	Description string           `json:"description,omitempty"`
	Collection  string           `json:"collection,omitempty"`
	Filter      map[string]any   `json:"filter,omitempty"`
	Projection  map[string]any   `json:"projection,omitempty"`
	Sort        map[string]any   `json:"sort,omitempty"`
	Limit       int              `json:"limit,omitempty"`
	Pipeline    []map[string]any `json:"pipeline,omitempty"`
	SQL         string           `json:"sql,omitempty"`
}

// ExecInput is the per-turn execution context.
type ExecInput struct {
	Kind       endpoint.Kind
	Handle     *pool.Handle
	Snapshot   *schema.Snapshot
	Candidates []hints.Candidate
	Insights   *memory.Insights
	DryRun     bool
}

// ExecOutput aggregates the run for shaping and memory recording.
type ExecOutput struct {
	Trace           []StepResult
	ExecutedQueries []ExecutedQueryInfo
	Data            any
	ResultCount     int
	QueryKind       string
	Targets         []string
	Succeeded       bool
}

// Executor runs plan steps sequentially with per-step error capture. Every
// database query passes the gate first; dry-run synthesizes and gates but
// never touches the database.
type Executor struct {
	gate   *safety.Gate
	synth  *Synthesizer
	client llm.Client
	logger *zap.Logger
}

// NewExecutor creates an executor. client may be nil; secondaryAnalysis
// then degrades to a deterministic notice.
func NewExecutor(gate *safety.Gate, synth *Synthesizer, client llm.Client, logger *zap.Logger) *Executor {
	return &Executor{gate: gate, synth: synth, client: client, logger: logger.Named("executor")}
}

// Run executes the plan. Individual step failures are recorded and the
// remaining steps proceed; only the caller's context can abort the run.
func (e *Executor) Run(ctx context.Context, plan *Plan, in ExecInput) *ExecOutput {
	out := &ExecOutput{Succeeded: true}

	results := make([]StepResult, 0, len(plan.Steps))
	for i, step := range plan.Steps {
		var res StepResult
		switch step.Kind {
		case StepDBQuery:
			res = e.runDBQuery(ctx, i, step, in, out)
		case StepComputeStats:
			res = runComputeStats(i, step, results)
		case StepSecondaryAnalysis:
			res = e.runAnalysis(ctx, i, step, results)
		default:
			res = stepError(i, step.Kind, fmt.Errorf("unknown step kind %q", step.Kind))
		}
		if !res.Ok {
			out.Succeeded = false
		}
		results = append(results, res)
	}

	out.Trace = results
	selectFinalData(out, results)
	return out
}

func stepError(index int, kind string, err error) StepResult {
	return StepResult{StepIndex: index, Kind: kind, Ok: false, Error: err.Error()}
}

func (e *Executor) runDBQuery(ctx context.Context, index int, step PlanStep, in ExecInput, out *ExecOutput) StepResult {
	synth, err := e.synth.Synthesize(ctx, in.Kind, step.SubQuery, in.Snapshot, in.Candidates, in.Insights)
	if err != nil {
		return stepError(index, StepDBQuery, err)
	}

	// Captured before gating so a rejected write is still remembered as the
	// kind the user attempted.
	out.QueryKind = synth.QueryKind
	out.Targets = append(out.Targets, synth.Targets...)

	if synth.Document != nil {
		return e.runDocumentQuery(ctx, index, synth, in, out)
	}
	return e.runRelationalQuery(ctx, index, synth, in, out)
}

func (e *Executor) runDocumentQuery(ctx context.Context, index int, synth *Synthesized, in ExecInput, out *ExecOutput) StepResult {
	q := synth.Document

	var sensitive []string
	if in.Snapshot != nil {
		sensitive = in.Snapshot.SensitiveFields(q.Collection)
	}
	if err := e.gate.CheckDocument(q, sensitive); err != nil {
		return stepError(index, StepDBQuery, err)
	}

	out.ExecutedQueries = append(out.ExecutedQueries, ExecutedQueryInfo{
		Operation:   q.Operation,
		Description: synth.Description,
		Collection:  q.Collection,
		Filter:      q.Filter,
		Projection:  q.Projection,
		Sort:        q.Sort,
		Limit:       q.Limit,
		Pipeline:    q.Pipeline,
	})

	if in.DryRun {
		return StepResult{StepIndex: index, Kind: StepDBQuery, Ok: true, Output: "dry-run: query not executed"}
	}

	res, err := in.Handle.ExecuteDocument(ctx, q)
	if err != nil {
		return stepError(index, StepDBQuery, err)
	}
	return dbStepResult(index, res)
}

func (e *Executor) runRelationalQuery(ctx context.Context, index int, synth *Synthesized, in ExecInput, out *ExecOutput) StepResult {
	q := synth.Relational

	dialect := safety.DialectPostgres
	if in.Kind == endpoint.KindMySQL {
		dialect = safety.DialectMySQL
	}
	if err := e.gate.CheckSQL(q, dialect); err != nil {
		return stepError(index, StepDBQuery, err)
	}

	out.ExecutedQueries = append(out.ExecutedQueries, ExecutedQueryInfo{
		Operation:   sqlQueryKind(q.SQL),
		Description: synth.Description,
		SQL:         e.gate.DisplaySQL(q.SQL),
	})

	if in.DryRun {
		return StepResult{StepIndex: index, Kind: StepDBQuery, Ok: true, Output: "dry-run: query not executed"}
	}

	res, err := in.Handle.ExecuteSQL(ctx, q)
	if err != nil {
		return stepError(index, StepDBQuery, err)
	}
	return dbStepResult(index, res)
}

func dbStepResult(index int, res *pool.Result) StepResult {
	preview := res.Rows
	if len(preview) > tracePreviewLimit {
		preview = preview[:tracePreviewLimit]
	}
	return StepResult{
		StepIndex: index,
		Kind:      StepDBQuery,
		Ok:        true,
		Output:    fmt.Sprintf("%d record(s)", resultCount(res)),
		Preview:   preview,
		rows:      res.Rows,
	}
}

func resultCount(res *pool.Result) int {
	if len(res.Rows) > 0 {
		return len(res.Rows)
	}
	return int(res.Affected)
}

func runComputeStats(index int, step PlanStep, prior []StepResult) StepResult {
	if step.OnStep >= len(prior) {
		return stepError(index, StepComputeStats, fmt.Errorf("onStep %d has not run", step.OnStep))
	}
	ref := prior[step.OnStep]
	if !ref.Ok {
		return stepError(index, StepComputeStats, fmt.Errorf("step %d failed, no rows to analyze", step.OnStep))
	}

	return StepResult{
		StepIndex: index,
		Kind:      StepComputeStats,
		Ok:        true,
		Output:    computeStats(ref.rows, step.Ops),
	}
}

func (e *Executor) runAnalysis(ctx context.Context, index int, step PlanStep, prior []StepResult) StepResult {
	var b strings.Builder
	for _, ref := range step.OnSteps {
		if ref >= len(prior) {
			return stepError(index, StepSecondaryAnalysis, fmt.Errorf("onSteps reference %d has not run", ref))
		}
		res := prior[ref]
		fmt.Fprintf(&b, "Step %d (%s):\n", ref, res.Kind)
		if res.Error != "" {
			fmt.Fprintf(&b, "failed: %s\n\n", res.Error)
			continue
		}
		rows := res.rows
		if len(rows) > analysisPreviewLimit {
			rows = rows[:analysisPreviewLimit]
		}
		if len(rows) > 0 {
			encoded, err := json.Marshal(rows)
			if err == nil {
				b.Write(encoded)
				b.WriteString("\n\n")
				continue
			}
		}
		fmt.Fprintf(&b, "%v\n\n", res.Output)
	}

	if e.client == nil {
		return StepResult{
			StepIndex: index,
			Kind:      StepSecondaryAnalysis,
			Ok:        true,
			Output:    "Analysis unavailable: no language model is configured.",
		}
	}

	prompt := fmt.Sprintf("Instructions: %s\n\nData previews:\n%s", step.Instructions, b.String())
	reply, err := e.client.Complete(ctx, prompt, analysisSystemMessage, 0.3)
	if err != nil {
		return stepError(index, StepSecondaryAnalysis, err)
	}
	return StepResult{
		StepIndex: index,
		Kind:      StepSecondaryAnalysis,
		Ok:        true,
		Output:    strings.TrimSpace(reply),
	}
}

// selectFinalData picks the response payload: the last successful dbQuery's
// rows when any, otherwise the last step's output.
func selectFinalData(out *ExecOutput, results []StepResult) {
	for i := len(results) - 1; i >= 0; i-- {
		res := results[i]
		if res.Kind == StepDBQuery && res.Ok && res.rows != nil {
			out.Data = res.rows
			out.ResultCount = len(res.rows)
			return
		}
	}
	if len(results) > 0 {
		last := results[len(results)-1]
		if last.Ok {
			out.Data = last.Output
		}
	}
}
