package agent

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// computeStats runs the step's ops over a prior step's rows, entirely
// in-process. Unknown fields simply produce empty results; a malformed op
// reports an error string in its slot.
func computeStats(rows []map[string]any, ops []string) map[string]any {
	out := make(map[string]any, len(ops))
	for _, op := range ops {
		name, rest, _ := strings.Cut(op, ":")
		switch name {
		case "count":
			out[op] = len(rows)
		case "distinct":
			out[op] = distinctValues(rows, rest)
		case "topK":
			field, kStr, _ := strings.Cut(rest, ":")
			k := 5
			if n, err := strconv.Atoi(kStr); err == nil && n > 0 {
				k = n
			}
			out[op] = topK(rows, field, k)
		case "mean", "min", "max", "sum":
			out[op] = numericStat(rows, rest, name)
		default:
			out[op] = fmt.Sprintf("unknown op %q", name)
		}
	}
	return out
}

func distinctValues(rows []map[string]any, field string) []any {
	seen := make(map[string]bool)
	var out []any
	for _, row := range rows {
		v, ok := row[field]
		if !ok {
			continue
		}
		key := fmt.Sprintf("%v", v)
		if !seen[key] {
			seen[key] = true
			out = append(out, v)
		}
	}
	return out
}

// topK returns the k most frequent values of a field, ties broken by value
// for determinism.
func topK(rows []map[string]any, field string, k int) []map[string]any {
	counts := make(map[string]int)
	for _, row := range rows {
		if v, ok := row[field]; ok {
			counts[fmt.Sprintf("%v", v)]++
		}
	}

	type entry struct {
		value string
		count int
	}
	entries := make([]entry, 0, len(counts))
	for v, c := range counts {
		entries = append(entries, entry{v, c})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].value < entries[j].value
	})

	if len(entries) > k {
		entries = entries[:k]
	}
	out := make([]map[string]any, len(entries))
	for i, e := range entries {
		out[i] = map[string]any{"value": e.value, "count": e.count}
	}
	return out
}

func numericStat(rows []map[string]any, field, op string) any {
	var values []float64
	for _, row := range rows {
		if v, ok := asFloat(row[field]); ok {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return nil
	}

	switch op {
	case "min":
		m := values[0]
		for _, v := range values[1:] {
			if v < m {
				m = v
			}
		}
		return m
	case "max":
		m := values[0]
		for _, v := range values[1:] {
			if v > m {
				m = v
			}
		}
		return m
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	if op == "sum" {
		return sum
	}
	return sum / float64(len(values))
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}
