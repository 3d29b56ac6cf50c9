package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONFromFencedBlock(t *testing.T) {
	response := "Here is the plan:\n```json\n{\"steps\": [{\"type\": \"dbQuery\"}]}\n```\nDone."
	got, err := ExtractJSON(response)
	require.NoError(t, err)
	assert.JSONEq(t, `{"steps": [{"type": "dbQuery"}]}`, got)
}

func TestExtractJSONStripsThinkTags(t *testing.T) {
	response := "<think>reasoning about the query</think>\n[{\"type\": \"dbQuery\", \"query\": \"get users\"}]"
	got, err := ExtractJSON(response)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"type": "dbQuery", "query": "get users"}]`, got)
}

func TestSanitizeNormalizesPythonLiterals(t *testing.T) {
	got := Sanitize(`{"required": True, "unique": False, "ref": None}`)
	assert.JSONEq(t, `{"required": true, "unique": false, "ref": null}`, got)
}

func TestSanitizeDoesNotTouchStrings(t *testing.T) {
	got, err := ExtractJSON(`{"note": "True crime; None the wiser"}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"note": "True crime; None the wiser"}`, got)
}

func TestSanitizeUnwrapsNativeTypes(t *testing.T) {
	got := Sanitize(`{"_id": ObjectId("507f1f77bcf86cd799439011"), "at": ISODate("2024-01-01T00:00:00Z")}`)
	assert.JSONEq(t, `{"_id": "507f1f77bcf86cd799439011", "at": "2024-01-01T00:00:00Z"}`, got)
}

func TestExtractJSONBalancedNesting(t *testing.T) {
	response := `prefix {"filter": {"a": {"b": [1, 2, {"c": "}"}]}}} suffix`
	got, err := ExtractJSON(response)
	require.NoError(t, err)
	assert.JSONEq(t, `{"filter": {"a": {"b": [1, 2, {"c": "}"}]}}}`, got)
}

func TestExtractJSONNoJSON(t *testing.T) {
	_, err := ExtractJSON("I could not produce a plan, sorry.")
	assert.Error(t, err)
}

func TestParseJSONResponse(t *testing.T) {
	type step struct {
		Type  string `json:"type"`
		Query string `json:"query"`
	}
	steps, err := ParseJSONResponse[[]step]("```json\n[{\"type\":\"dbQuery\",\"query\":\"count orders\"}]\n```")
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "dbQuery", steps[0].Type)
	assert.Equal(t, "count orders", steps[0].Query)
}

func TestMockClientTracksCalls(t *testing.T) {
	m := NewMockClient()
	_, err := m.Complete(context.Background(), "prompt one", "system", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, m.CompleteCalls)
	assert.Equal(t, []string{"prompt one"}, m.Prompts)
	assert.Equal(t, "mock-model", m.Model())
}
