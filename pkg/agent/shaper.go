package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/askdb-io/askdb-engine/pkg/llm"
	"github.com/askdb-io/askdb-engine/pkg/memory"
)

// Response is the shaped reply for one turn. Minimal mode carries only
// success, message, and data; verbose mode fills the rest.
type Response struct {
	Success         bool                `json:"success"`
	Message         string              `json:"message"`
	Data            any                 `json:"data"`
	Query           string              `json:"query,omitempty"`
	QueryID         string              `json:"queryId,omitempty"`
	Plan            *Plan               `json:"plan,omitempty"`
	Trace           []StepResult        `json:"trace,omitempty"`
	ExecutedQueries []ExecutedQueryInfo `json:"executedQueries,omitempty"`
	MemoryInsights  *memory.Insights    `json:"memoryInsights,omitempty"`
	Suggestions     []string            `json:"suggestions,omitempty"`
	ExecutionMillis int64               `json:"executionMillis,omitempty"`
}

// ShapeInput bundles everything the shaper may surface.
type ShapeInput struct {
	Verbose       bool
	DryRun        bool
	UserText      string
	Plan          *Plan
	Out           *ExecOutput
	Insights      *memory.Insights
	Capabilities  string
	ElapsedMillis int64
	QueryID       string
}

// Shaper assembles responses and produces the final natural-language
// message, via the oracle when configured.
type Shaper struct {
	client llm.Client
	logger *zap.Logger
}

// NewShaper creates a shaper. client may be nil; messages then use the
// deterministic defaults.
func NewShaper(client llm.Client, logger *zap.Logger) *Shaper {
	return &Shaper{client: client, logger: logger.Named("shaper")}
}

// Shape builds the response for an executed turn.
func (s *Shaper) Shape(ctx context.Context, in ShapeInput) *Response {
	resp := &Response{
		Success: true,
		Message: s.message(ctx, in),
		Data:    in.Out.Data,
		QueryID: in.QueryID,
	}

	if in.DryRun {
		// The prospective queries are the whole point of a dry run.
		resp.Data = nil
		resp.ExecutedQueries = in.Out.ExecutedQueries
		resp.Plan = in.Plan
	}

	if in.Verbose {
		resp.Query = in.UserText
		resp.Plan = in.Plan
		resp.Trace = in.Out.Trace
		resp.ExecutedQueries = in.Out.ExecutedQueries
		resp.MemoryInsights = in.Insights
		resp.Suggestions = suggestions(in.Capabilities, in.Insights)
		resp.ExecutionMillis = in.ElapsedMillis
	}
	return resp
}

func (s *Shaper) message(ctx context.Context, in ShapeInput) string {
	if in.DryRun {
		return "Preview generated successfully"
	}

	fallback := fmt.Sprintf("Retrieved %d record(s)", in.Out.ResultCount)
	if s.client == nil {
		return fallback
	}

	reply, err := s.client.Complete(ctx, summaryPrompt(in), summarySystemMessage, 0.3)
	if err != nil || strings.TrimSpace(reply) == "" {
		if err != nil {
			s.logger.Warn("summary completion failed, using default message", zap.Error(err))
		}
		return fallback
	}
	return strings.TrimSpace(reply)
}

func summaryPrompt(in ShapeInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The user asked: %s\n\n", in.UserText)
	for _, q := range in.Out.ExecutedQueries {
		if q.Description != "" {
			fmt.Fprintf(&b, "Executed: %s\n", q.Description)
		}
	}
	fmt.Fprintf(&b, "Result count: %d\n", in.Out.ResultCount)

	// The last few step outputs give the oracle something concrete to
	// summarize without shipping whole result sets.
	start := len(in.Out.Trace) - 3
	if start < 0 {
		start = 0
	}
	for _, res := range in.Out.Trace[start:] {
		if res.Error != "" {
			fmt.Fprintf(&b, "Step %d failed: %s\n", res.StepIndex, res.Error)
			continue
		}
		if len(res.Preview) > 0 {
			if encoded, err := json.Marshal(res.Preview); err == nil {
				fmt.Fprintf(&b, "Step %d preview: %s\n", res.StepIndex, encoded)
				continue
			}
		}
		if res.Output != nil {
			fmt.Fprintf(&b, "Step %d output: %v\n", res.StepIndex, res.Output)
		}
	}
	b.WriteString("\nSummarize the outcome for the user in one or two sentences.")
	return b.String()
}

// suggestions proposes follow-up questions from schema capabilities and the
// user's frequent collections.
func suggestions(capabilities string, in *memory.Insights) []string {
	var out []string
	for _, c := range strings.Split(capabilities, ", ") {
		switch c {
		case "top_selling_products":
			out = append(out, "Which products sell the most?")
		case "revenue_over_time":
			out = append(out, "How has revenue changed over the last 30 days?")
		case "activity_over_time":
			out = append(out, "What happened in the last 7 days?")
		case "user_activity":
			out = append(out, "Who are the most active users?")
		}
	}
	if in != nil {
		for _, coll := range in.FrequentCollections {
			if len(out) >= 5 {
				break
			}
			out = append(out, fmt.Sprintf("Show the latest %s", coll))
		}
	}
	if len(out) > 5 {
		out = out[:5]
	}
	return out
}
