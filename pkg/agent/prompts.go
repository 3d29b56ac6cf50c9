package agent

import (
	"fmt"
	"strings"

	"github.com/askdb-io/askdb-engine/pkg/endpoint"
	"github.com/askdb-io/askdb-engine/pkg/memory"
)

const plannerSystemMessage = `You are a query planning assistant for a database agent.
Respond with a single JSON object and nothing else: no prose, no markdown,
no code fences. The object has exactly one key, "steps", holding an array of
step objects. Each step has a "kind" field that is one of:
- "dbQuery": {"kind":"dbQuery","subQuery":"<natural language sub-request>"}
- "computeStats": {"kind":"computeStats","onStep":<index>,"ops":["count","topK:field:5","mean:field","min:field","max:field","sum:field","distinct:field"]}
- "secondaryAnalysis": {"kind":"secondaryAnalysis","onSteps":[<indexes>],"instructions":"<what to analyze>"}
Prefer a single dbQuery step. Use computeStats only when the user asks for
aggregates the database query does not already produce. Never invent other
step kinds.`

func plannerPrompt(userText, schemaJSON, capabilities string, candidates []string, in *memory.Insights) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User request: %s\n\n", userText)
	if schemaJSON != "" && schemaJSON != "[]" {
		fmt.Fprintf(&b, "Database schema:\n%s\n\n", schemaJSON)
	}
	if capabilities != "" {
		fmt.Fprintf(&b, "Known data capabilities: %s\n", capabilities)
	}
	if len(candidates) > 0 {
		fmt.Fprintf(&b, "Likely relevant collections/tables: %s\n", strings.Join(candidates, ", "))
	}
	if in != nil {
		fmt.Fprintf(&b, "User skill level: %s. Similar past queries: %d.\n", in.SkillLevel, in.SimilarQueries)
	}
	b.WriteString("\nProduce the JSON plan now.")
	return b.String()
}

const documentSynthSystemMessage = `You translate a natural-language request into one MongoDB-style
operation. Respond with a single JSON object and nothing else. Shape:
{"operation":"find|findOne|count|aggregate|insertOne|updateOne|deleteOne",
 "collection":"<name>","filter":{},"projection":{},"sort":{},"limit":0,
 "pipeline":[],"document":{},"update":{},"description":"<one sentence>"}
Omit keys that do not apply. Rules you must respect:
- Never use $where, $function, $accumulator, $out, or $merge.
- updateOne and deleteOne require a specific, non-empty filter.
- Never use updateMany, deleteMany, or insertMany.
- For relative dates use the literal sentinels DATE_TODAY, DATE_7_DAYS_AGO,
  DATE_30_DAYS_AGO.`

const sqlSynthSystemMessage = `You translate a natural-language request into one SQL statement.
Respond with a single JSON object and nothing else. Shape:
{"sql":"<statement with placeholders>","parameters":[],"description":"<one sentence>"}
Rules you must respect:
- Exactly one statement. No comments. Never DROP, TRUNCATE, or ALTER.
- UPDATE and DELETE must carry a WHERE clause.
- Use %s placeholders with values in "parameters"; never inline user values.
- For relative dates use the literal sentinels DATE_TODAY, DATE_7_DAYS_AGO,
  DATE_30_DAYS_AGO as parameter values.`

func synthSystemMessage(kind endpoint.Kind) string {
	if kind == endpoint.KindDocument {
		return documentSynthSystemMessage
	}
	placeholder := "$1, $2, ..."
	if kind == endpoint.KindMySQL {
		placeholder = "?"
	}
	return fmt.Sprintf(sqlSynthSystemMessage, placeholder)
}

func synthPrompt(subQuery, schemaJSON string, candidates []string, in *memory.Insights) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Request: %s\n\n", subQuery)
	if schemaJSON != "" && schemaJSON != "[]" {
		fmt.Fprintf(&b, "Schema:\n%s\n\n", schemaJSON)
	}
	if len(candidates) > 0 {
		fmt.Fprintf(&b, "Likely targets: %s\n", strings.Join(candidates, ", "))
	}
	if in != nil && len(in.FrequentCollections) > 0 {
		fmt.Fprintf(&b, "Collections this user queries often: %s\n", strings.Join(in.FrequentCollections, ", "))
	}
	b.WriteString("\nProduce the JSON operation now.")
	return b.String()
}

const analysisSystemMessage = `You are a data analyst. Given result previews and instructions,
reply with a short plain-language analysis in at most four sentences.
Do not return JSON, code, or markdown.`

const summarySystemMessage = `You summarize database query results for the user in one or two
natural sentences. Do not return JSON, code, or markdown. Never invent
numbers that are not in the provided context.`
