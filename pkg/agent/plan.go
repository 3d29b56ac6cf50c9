// Package agent implements the Plan, Execute, Analyze pipeline: planning a
// user turn into typed steps, synthesizing gated queries per step, running
// them with per-step error capture, and shaping the response.
package agent

import (
	"fmt"
	"strings"

	"github.com/askdb-io/askdb-engine/pkg/apperrors"
	"github.com/askdb-io/askdb-engine/pkg/llm"
)

// Step kinds form a closed set; anything else is rejected at parse time.
const (
	StepDBQuery           = "dbQuery"
	StepComputeStats      = "computeStats"
	StepSecondaryAnalysis = "secondaryAnalysis"
)

// Stats operations accepted in computeStats steps. Field-taking ops use the
// form "op:field" (topK adds ":k").
var statsOps = map[string]bool{
	"count": true, "topK": true, "mean": true,
	"min": true, "max": true, "sum": true, "distinct": true,
}

// PlanStep is one tagged pipeline step. Only the fields relevant to Kind
// are populated.
type PlanStep struct {
	Kind string `json:"kind"`

	// dbQuery
	SubQuery string `json:"subQuery,omitempty"`

	// computeStats
	OnStep int      `json:"onStep,omitempty"`
	Ops    []string `json:"ops,omitempty"`

	// secondaryAnalysis
	OnSteps      []int  `json:"onSteps,omitempty"`
	Instructions string `json:"instructions,omitempty"`
}

// Plan is the ordered step list. A zero-step plan means a conversational
// turn with no database access.
type Plan struct {
	Steps []PlanStep `json:"steps"`
}

// HeuristicPlan is the deterministic fallback: one dbQuery carrying the
// original text.
func HeuristicPlan(userText string) *Plan {
	return &Plan{Steps: []PlanStep{{Kind: StepDBQuery, SubQuery: userText}}}
}

// ParsePlan decodes an oracle reply into a validated Plan. Unknown step
// tags, malformed ops, and missing required fields yield PlanParseFailed;
// extra fields are discarded by decoding.
func ParsePlan(raw string) (*Plan, error) {
	plan, err := llm.ParseJSONResponse[Plan](raw)
	if err != nil {
		// Some replies carry the bare step array without the wrapper object.
		steps, arrErr := llm.ParseJSONResponse[[]PlanStep](raw)
		if arrErr != nil {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrPlanParse, err)
		}
		plan = Plan{Steps: steps}
	}

	for i := range plan.Steps {
		if err := validateStep(i, &plan.Steps[i], len(plan.Steps)); err != nil {
			return nil, err
		}
	}
	return &plan, nil
}

func validateStep(index int, step *PlanStep, total int) error {
	switch step.Kind {
	case StepDBQuery:
		if strings.TrimSpace(step.SubQuery) == "" {
			return fmt.Errorf("%w: step %d: dbQuery requires subQuery", apperrors.ErrPlanParse, index)
		}
	case StepComputeStats:
		if step.OnStep < 0 || step.OnStep >= total {
			return fmt.Errorf("%w: step %d: onStep %d out of range", apperrors.ErrPlanParse, index, step.OnStep)
		}
		if len(step.Ops) == 0 {
			return fmt.Errorf("%w: step %d: computeStats requires ops", apperrors.ErrPlanParse, index)
		}
		for _, op := range step.Ops {
			name, _, _ := strings.Cut(op, ":")
			if !statsOps[name] {
				return fmt.Errorf("%w: step %d: unknown stats op %q", apperrors.ErrPlanParse, index, op)
			}
		}
	case StepSecondaryAnalysis:
		if strings.TrimSpace(step.Instructions) == "" {
			return fmt.Errorf("%w: step %d: secondaryAnalysis requires instructions", apperrors.ErrPlanParse, index)
		}
		for _, ref := range step.OnSteps {
			if ref < 0 || ref >= total {
				return fmt.Errorf("%w: step %d: onSteps reference %d out of range", apperrors.ErrPlanParse, index, ref)
			}
		}
	default:
		return fmt.Errorf("%w: step %d: unknown step kind %q", apperrors.ErrPlanParse, index, step.Kind)
	}
	return nil
}
