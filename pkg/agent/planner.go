package agent

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/askdb-io/askdb-engine/pkg/llm"
	"github.com/askdb-io/askdb-engine/pkg/memory"
)

// conversationalPattern short-circuits greetings and pleasantries to a
// zero-step plan.
var conversationalPattern = regexp.MustCompile(`(?i)^\s*(hi|hello|hey|yo|howdy|good\s+(morning|afternoon|evening)|thanks|thank\s+you|how\s+are\s+you\??|what'?s\s+up\??|bye|goodbye)\s*[!.?]*\s*$`)

// IsConversational reports whether the text is a pleasantry rather than a
// data request.
func IsConversational(text string) bool {
	return conversationalPattern.MatchString(text)
}

// PlanInput carries everything the planner may use as context.
type PlanInput struct {
	UserText     string
	SchemaJSON   string
	Capabilities string
	Candidates   []string
	Insights     *memory.Insights
}

// Planner turns a user request into a Plan. It never executes anything.
type Planner struct {
	client llm.Client
	logger *zap.Logger
}

// NewPlanner creates a planner. client may be nil; planning then always
// takes the heuristic path.
func NewPlanner(client llm.Client, logger *zap.Logger) *Planner {
	return &Planner{client: client, logger: logger.Named("planner")}
}

// Plan produces the step list for a turn. conversational is true for the
// zero-step pleasantry short-circuit. Oracle failures degrade to the
// single-step heuristic plan, never to an error.
func (p *Planner) Plan(ctx context.Context, in PlanInput) (plan *Plan, conversational bool) {
	if IsConversational(in.UserText) {
		return &Plan{}, true
	}

	if p.client == nil {
		return HeuristicPlan(in.UserText), false
	}

	reply, err := p.client.Complete(ctx,
		plannerPrompt(in.UserText, in.SchemaJSON, in.Capabilities, in.Candidates, in.Insights),
		plannerSystemMessage, 0.1)
	if err != nil {
		p.logger.Warn("plan completion failed, using heuristic plan", zap.Error(err))
		return HeuristicPlan(in.UserText), false
	}

	parsed, err := ParsePlan(reply)
	if err != nil {
		p.logger.Warn("plan parse failed, using heuristic plan",
			zap.Error(err),
			zap.String("reply", truncate(reply, 200)))
		return HeuristicPlan(in.UserText), false
	}
	if len(parsed.Steps) == 0 {
		// An empty oracle plan for a non-pleasantry still needs a query.
		return HeuristicPlan(in.UserText), false
	}
	return parsed, false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// conversationReplies rotate deterministic pleasantry answers when no
// oracle is configured.
var conversationReplies = []string{
	"Hello! Ask me anything about your data and I'll query it for you.",
	"Hi there! I can look up, count, and summarize your data on request.",
}

// ConversationReply produces the pleasantry answer for a zero-step plan.
func (p *Planner) ConversationReply(ctx context.Context, userText string) string {
	if p.client != nil {
		reply, err := p.client.Complete(ctx,
			"Reply to this message in one or two friendly sentences, mentioning that you can answer questions about their data: "+userText,
			summarySystemMessage, 0.7)
		if err == nil && strings.TrimSpace(reply) != "" {
			return strings.TrimSpace(reply)
		}
		p.logger.Warn("conversation reply completion failed, using default", zap.Error(err))
	}
	return conversationReplies[len(userText)%len(conversationReplies)]
}
