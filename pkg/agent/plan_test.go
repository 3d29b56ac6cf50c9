package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askdb-io/askdb-engine/pkg/apperrors"
)

func TestParsePlanWellFormed(t *testing.T) {
	raw := `{"steps":[
		{"kind":"dbQuery","subQuery":"latest orders"},
		{"kind":"computeStats","onStep":0,"ops":["count","topK:status:3","mean:total"]},
		{"kind":"secondaryAnalysis","onSteps":[0,1],"instructions":"summarize order health"}
	]}`

	plan, err := ParsePlan(raw)
	require.NoError(t, err)
	require.Len(t, plan.Steps, 3)
	assert.Equal(t, StepDBQuery, plan.Steps[0].Kind)
	assert.Equal(t, 0, plan.Steps[1].OnStep)
	assert.Equal(t, []int{0, 1}, plan.Steps[2].OnSteps)
}

func TestParsePlanAcceptsBareArray(t *testing.T) {
	plan, err := ParsePlan(`[{"kind":"dbQuery","subQuery":"all users"}]`)
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)
}

func TestParsePlanAcceptsFencedReply(t *testing.T) {
	raw := "Here is the plan:\n```json\n{\"steps\":[{\"kind\":\"dbQuery\",\"subQuery\":\"x\"}]}\n```"
	plan, err := ParsePlan(raw)
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)
}

func TestParsePlanRejectsUnknownKind(t *testing.T) {
	_, err := ParsePlan(`{"steps":[{"kind":"shellCommand","subQuery":"rm -rf"}]}`)
	assert.ErrorIs(t, err, apperrors.ErrPlanParse)
}

func TestParsePlanRejectsMissingRequiredFields(t *testing.T) {
	_, err := ParsePlan(`{"steps":[{"kind":"dbQuery"}]}`)
	assert.ErrorIs(t, err, apperrors.ErrPlanParse)

	_, err = ParsePlan(`{"steps":[{"kind":"computeStats","onStep":0}]}`)
	assert.ErrorIs(t, err, apperrors.ErrPlanParse)

	_, err = ParsePlan(`{"steps":[{"kind":"secondaryAnalysis","onSteps":[0]}]}`)
	assert.ErrorIs(t, err, apperrors.ErrPlanParse)
}

func TestParsePlanRejectsUnknownStatsOp(t *testing.T) {
	_, err := ParsePlan(`{"steps":[
		{"kind":"dbQuery","subQuery":"x"},
		{"kind":"computeStats","onStep":0,"ops":["median:total"]}
	]}`)
	assert.ErrorIs(t, err, apperrors.ErrPlanParse)
}

func TestParsePlanRejectsOutOfRangeReference(t *testing.T) {
	_, err := ParsePlan(`{"steps":[{"kind":"computeStats","onStep":5,"ops":["count"]}]}`)
	assert.ErrorIs(t, err, apperrors.ErrPlanParse)
}

func TestParsePlanNotJSON(t *testing.T) {
	_, err := ParsePlan("I could not produce a plan, sorry!")
	assert.ErrorIs(t, err, apperrors.ErrPlanParse)
}

func TestIsConversational(t *testing.T) {
	assert.True(t, IsConversational("hi"))
	assert.True(t, IsConversational("Hello!"))
	assert.True(t, IsConversational("thank you"))
	assert.True(t, IsConversational("how are you?"))
	assert.False(t, IsConversational("hi, show me all users"))
	assert.False(t, IsConversational("count the orders"))
}
