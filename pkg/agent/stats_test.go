package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func statRows() []map[string]any {
	return []map[string]any{
		{"status": "paid", "total": 10},
		{"status": "open", "total": int64(20)},
		{"status": "paid", "total": 30.0},
		{"status": "failed", "total": "40"},
		{"status": "open", "note": "no total"},
	}
}

func TestComputeStatsNumeric(t *testing.T) {
	got := computeStats(statRows(), []string{"sum:total", "mean:total", "min:total", "max:total"})

	assert.Equal(t, 100.0, got["sum:total"])
	assert.Equal(t, 25.0, got["mean:total"])
	assert.Equal(t, 10.0, got["min:total"])
	assert.Equal(t, 40.0, got["max:total"])
}

func TestComputeStatsNumericMissingField(t *testing.T) {
	got := computeStats(statRows(), []string{"mean:discount"})
	assert.Nil(t, got["mean:discount"])
}

func TestTopKTieBreaksByValue(t *testing.T) {
	rows := []map[string]any{
		{"s": "b"}, {"s": "a"}, {"s": "a"}, {"s": "b"}, {"s": "c"},
	}
	got := topK(rows, "s", 2)
	assert.Equal(t, []map[string]any{
		{"value": "a", "count": 2},
		{"value": "b", "count": 2},
	}, got)
}

func TestTopKDefaultsWhenKMalformed(t *testing.T) {
	got := computeStats(statRows(), []string{"topK:status:zero"})
	// Malformed k falls back to 5; only three distinct statuses exist.
	assert.Len(t, got["topK:status:zero"], 3)
}

func TestDistinctPreservesFirstSeenValues(t *testing.T) {
	got := distinctValues(statRows(), "status")
	assert.Equal(t, []any{"paid", "open", "failed"}, got)
}

func TestComputeStatsUnknownOp(t *testing.T) {
	got := computeStats(statRows(), []string{"median:total"})
	assert.Contains(t, got["median:total"], "unknown op")
}

func TestAsFloat(t *testing.T) {
	for _, v := range []any{42, int32(42), int64(42), float32(42), 42.0, "42"} {
		f, ok := asFloat(v)
		assert.True(t, ok)
		assert.Equal(t, 42.0, f)
	}
	_, ok := asFloat("not a number")
	assert.False(t, ok)
	_, ok = asFloat(nil)
	assert.False(t, ok)
}
