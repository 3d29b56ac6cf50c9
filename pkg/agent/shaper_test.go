package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/askdb-io/askdb-engine/pkg/llm"
	"github.com/askdb-io/askdb-engine/pkg/memory"
)

func sampleExecOutput() *ExecOutput {
	rows := []map[string]any{{"email": "a@example.com"}, {"email": "b@example.com"}}
	return &ExecOutput{
		Trace: []StepResult{{StepIndex: 0, Kind: StepDBQuery, Ok: true, Output: "2 record(s)", Preview: rows, rows: rows}},
		ExecutedQueries: []ExecutedQueryInfo{{
			Operation: "find", Collection: "users", Description: "Find users",
		}},
		Data:        rows,
		ResultCount: 2,
		Succeeded:   true,
	}
}

func TestShapeMinimal(t *testing.T) {
	s := NewShaper(nil, zap.NewNop())

	resp := s.Shape(context.Background(), ShapeInput{
		UserText: "list users",
		Plan:     HeuristicPlan("list users"),
		Out:      sampleExecOutput(),
		QueryID:  "abc123",
	})

	assert.True(t, resp.Success)
	assert.Equal(t, "Retrieved 2 record(s)", resp.Message)
	assert.Equal(t, sampleExecOutput().Data, resp.Data)
	assert.Equal(t, "abc123", resp.QueryID)
	assert.Empty(t, resp.Query)
	assert.Nil(t, resp.Plan)
	assert.Nil(t, resp.Trace)
	assert.Nil(t, resp.ExecutedQueries)
}

func TestShapeVerbose(t *testing.T) {
	s := NewShaper(nil, zap.NewNop())
	plan := HeuristicPlan("list users")
	insights := &memory.Insights{SkillLevel: memory.SkillBeginner, FrequentCollections: []string{"users"}}

	resp := s.Shape(context.Background(), ShapeInput{
		Verbose:       true,
		UserText:      "list users",
		Plan:          plan,
		Out:           sampleExecOutput(),
		Insights:      insights,
		Capabilities:  "user_activity",
		ElapsedMillis: 42,
	})

	assert.Equal(t, "list users", resp.Query)
	assert.Equal(t, plan, resp.Plan)
	require.Len(t, resp.Trace, 1)
	require.Len(t, resp.ExecutedQueries, 1)
	assert.Equal(t, insights, resp.MemoryInsights)
	assert.Equal(t, int64(42), resp.ExecutionMillis)
	assert.Contains(t, resp.Suggestions, "Who are the most active users?")
	assert.Contains(t, resp.Suggestions, "Show the latest users")
}

func TestShapeDryRun(t *testing.T) {
	s := NewShaper(nil, zap.NewNop())
	plan := HeuristicPlan("Get first 10 users")

	resp := s.Shape(context.Background(), ShapeInput{
		DryRun:   true,
		UserText: "Get first 10 users",
		Plan:     plan,
		Out:      sampleExecOutput(),
	})

	assert.Equal(t, "Preview generated successfully", resp.Message)
	assert.Nil(t, resp.Data)
	assert.Equal(t, plan, resp.Plan)
	require.Len(t, resp.ExecutedQueries, 1)
}

func TestShapeMessageUsesOracle(t *testing.T) {
	mock := &llm.MockClient{
		CompleteFunc: func(context.Context, string, string, float64) (string, error) {
			return "Found 2 users in your database.", nil
		},
	}
	s := NewShaper(mock, zap.NewNop())

	resp := s.Shape(context.Background(), ShapeInput{
		UserText: "list users",
		Out:      sampleExecOutput(),
	})

	assert.Equal(t, "Found 2 users in your database.", resp.Message)
	require.Len(t, mock.Prompts, 1)
	assert.Contains(t, mock.Prompts[0], "list users")
	assert.Contains(t, mock.Prompts[0], "Result count: 2")
}

func TestShapeMessageFallsBackOnOracleError(t *testing.T) {
	mock := &llm.MockClient{
		CompleteFunc: func(context.Context, string, string, float64) (string, error) {
			return "", errors.New("upstream unavailable")
		},
	}
	s := NewShaper(mock, zap.NewNop())

	resp := s.Shape(context.Background(), ShapeInput{
		UserText: "list users",
		Out:      sampleExecOutput(),
	})

	assert.Equal(t, "Retrieved 2 record(s)", resp.Message)
}

func TestShapeDryRunNeverCallsOracle(t *testing.T) {
	mock := &llm.MockClient{}
	s := NewShaper(mock, zap.NewNop())

	s.Shape(context.Background(), ShapeInput{
		DryRun:   true,
		UserText: "Get first 10 users",
		Out:      sampleExecOutput(),
	})

	assert.Zero(t, mock.CompleteCalls)
}

func TestSuggestionsAreCapped(t *testing.T) {
	insights := &memory.Insights{FrequentCollections: []string{"a", "b", "c", "d", "e", "f"}}
	got := suggestions("top_selling_products, revenue_over_time, activity_over_time, user_activity", insights)
	assert.Len(t, got, 5)
}
