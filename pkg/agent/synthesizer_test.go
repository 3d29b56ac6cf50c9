package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/askdb-io/askdb-engine/pkg/endpoint"
	"github.com/askdb-io/askdb-engine/pkg/hints"
	"github.com/askdb-io/askdb-engine/pkg/llm"
	"github.com/askdb-io/askdb-engine/pkg/memory"
	"github.com/askdb-io/askdb-engine/pkg/schema"
)

func usersSnapshot() *schema.Snapshot {
	return &schema.Snapshot{
		Kind: endpoint.KindDocument,
		Payload: `[{"collection":"users","fields":[
			{"name":"_id","inferredType":"Identifier"},
			{"name":"email","inferredType":"String"},
			{"name":"password","inferredType":"String"},
			{"name":"createdAt","inferredType":"Date"}]}]`,
	}
}

func TestHeuristicSynthesisFind(t *testing.T) {
	s := NewSynthesizer(nil, zap.NewNop())
	snap := usersSnapshot()
	candidates := hints.NewMatcher().Match("Get first 10 users", snap)

	got, err := s.Synthesize(context.Background(), endpoint.KindDocument,
		"Get first 10 users", snap, candidates, nil)
	require.NoError(t, err)

	require.NotNil(t, got.Document)
	assert.Equal(t, "find", got.Document.Operation)
	assert.Equal(t, "users", got.Document.Collection)
	assert.Equal(t, map[string]any{}, got.Document.Filter)
	assert.Equal(t, map[string]any{"createdAt": -1}, got.Document.Sort)
	assert.Equal(t, 10, got.Document.Limit)
	assert.Equal(t, memory.KindRead, got.QueryKind)
}

func TestHeuristicSynthesisCount(t *testing.T) {
	s := NewSynthesizer(nil, zap.NewNop())
	snap := usersSnapshot()

	got, err := s.Synthesize(context.Background(), endpoint.KindDocument,
		"how many users are there", snap, hints.NewMatcher().Match("how many users are there", snap), nil)
	require.NoError(t, err)

	assert.Equal(t, "count", got.Document.Operation)
	assert.Equal(t, memory.KindCount, got.QueryKind)
}

func TestHeuristicSynthesisRelational(t *testing.T) {
	s := NewSynthesizer(nil, zap.NewNop())
	snap := &schema.Snapshot{
		Kind: endpoint.KindPostgres,
		Payload: `[{"qualifiedTable":"public.orders","columns":[
			{"name":"id","type":"bigint","nullable":false}]}]`,
	}
	candidates := hints.NewMatcher().Match("show me 5 orders", snap)

	got, err := s.Synthesize(context.Background(), endpoint.KindPostgres,
		"show me 5 orders", snap, candidates, nil)
	require.NoError(t, err)

	require.NotNil(t, got.Relational)
	assert.Equal(t, "SELECT * FROM orders LIMIT 5", got.Relational.SQL)
}

func TestHeuristicFallsBackToPluralToken(t *testing.T) {
	s := NewSynthesizer(nil, zap.NewNop())

	got, err := s.Synthesize(context.Background(), endpoint.KindDocument,
		"show invoices", nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "invoices", got.Document.Collection)
}

func TestOracleSynthesisDocument(t *testing.T) {
	mock := &llm.MockClient{
		CompleteFunc: func(context.Context, string, string, float64) (string, error) {
			return `{"operation":"find","collection":"users","filter":{"active":true},
				"limit":10,"description":"Find active users"}`, nil
		},
	}
	s := NewSynthesizer(mock, zap.NewNop())

	got, err := s.Synthesize(context.Background(), endpoint.KindDocument,
		"active users", usersSnapshot(), nil, nil)
	require.NoError(t, err)

	assert.Equal(t, "find", got.Document.Operation)
	assert.Equal(t, map[string]any{"active": true}, got.Document.Filter)
	assert.Equal(t, "Find active users", got.Description)
	assert.Equal(t, []string{"users"}, got.Targets)
}

func TestOracleSynthesisSQL(t *testing.T) {
	mock := &llm.MockClient{
		CompleteFunc: func(context.Context, string, string, float64) (string, error) {
			return "```json\n{\"sql\":\"DELETE FROM orders\",\"parameters\":[],\"description\":\"Delete all orders\"}\n```", nil
		},
	}
	s := NewSynthesizer(mock, zap.NewNop())

	got, err := s.Synthesize(context.Background(), endpoint.KindPostgres,
		"delete old orders", nil, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, "DELETE FROM orders", got.Relational.SQL)
	assert.Equal(t, memory.KindDelete, got.QueryKind)
	assert.Equal(t, []string{"orders"}, got.Targets)
}

func TestOracleGarbageFallsBackToHeuristic(t *testing.T) {
	mock := &llm.MockClient{
		CompleteFunc: func(context.Context, string, string, float64) (string, error) {
			return "sorry, I had trouble with that", nil
		},
	}
	s := NewSynthesizer(mock, zap.NewNop())
	snap := usersSnapshot()

	got, err := s.Synthesize(context.Background(), endpoint.KindDocument,
		"list users", snap, hints.NewMatcher().Match("list users", snap), nil)
	require.NoError(t, err)
	assert.Equal(t, "find", got.Document.Operation)
	assert.Equal(t, "users", got.Document.Collection)
}

func TestSQLTargets(t *testing.T) {
	assert.Equal(t, []string{"orders", "users"},
		sqlTargets("SELECT * FROM orders o JOIN users u ON o.user_id = u.id"))
	assert.Equal(t, []string{"products"}, sqlTargets("INSERT INTO products (name) VALUES ($1)"))
	assert.Equal(t, []string{"orders"}, sqlTargets("UPDATE orders SET status = $1 WHERE id = $2"))
}
