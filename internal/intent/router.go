// Package intent classifies chat messages into the six conversational
// intents. Session state takes precedence over the generator's proposal.
package intent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashureev/goally/internal/domain"
	"github.com/ashureev/goally/internal/llm"
)

const classifySystemPrompt = `You route messages for a goal planning assistant.
Classify the user's message into exactly one intent:
- casual: greetings, small talk, general questions
- planning: the user states a new goal or asks for a plan
- planning_continuation: the user answers a clarifying question about a goal
- coaching: progress reviews, motivation, setbacks, accountability
- modify: the user asks to change a proposed plan
- confirm: the user approves or accepts a proposed plan
Respond with JSON: {"intent": string, "confidence": number between 0 and 1, "reasoning": string}.`

// Router classifies messages.
type Router struct {
	gen    llm.Generator
	logger *slog.Logger
}

// NewRouter creates a router backed by gen.
func NewRouter(gen llm.Generator, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{gen: gen, logger: logger}
}

type rawClassification struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Classify returns the intent for msg given the session's state.
//
// A session gathering clarification always continues planning and the
// generator is not consulted. A session with a staged plan treats
// affirmative messages as confirm. Otherwise the generator decides. When the
// generator fails, Classify returns domain.ErrClassificationUnavailable.
func (r *Router) Classify(ctx context.Context, msg string, sess *domain.Session) (domain.IntentClassification, error) {
	switch sess.Goal.Kind() {
	case domain.GoalGathering:
		return domain.IntentClassification{
			Intent:     domain.IntentPlanningContinuation,
			Confidence: 1,
			Reasoning:  "answer to an outstanding clarifying question",
		}, nil
	case domain.GoalStaged:
		if IsAffirmative(msg) {
			return domain.IntentClassification{
				Intent:     domain.IntentConfirm,
				Confidence: 1,
				Reasoning:  "affirmative reply to a staged plan",
			}, nil
		}
	}

	raw, err := r.generate(ctx, msg, sess)
	if err != nil {
		return domain.IntentClassification{}, err
	}
	return resolve(raw, sess), nil
}

// resolve applies the state rules to the generator's proposal.
func resolve(raw domain.IntentClassification, sess *domain.Session) domain.IntentClassification {
	switch raw.Intent {
	case domain.IntentConfirm, domain.IntentModify:
		// Without a staged plan these still route; the orchestrator replies
		// that there is nothing to act on.
		return raw
	case domain.IntentPlanningContinuation:
		if sess.Goal.Kind() != domain.GoalGathering {
			raw.Intent = domain.IntentPlanning
		}
		return raw
	case domain.IntentCasual, domain.IntentPlanning, domain.IntentCoaching:
		return raw
	default:
		raw.Intent = domain.IntentCasual
		return raw
	}
}

func (r *Router) generate(ctx context.Context, msg string, sess *domain.Session) (domain.IntentClassification, error) {
	var out rawClassification
	err := llm.GenerateJSON(ctx, r.gen, llm.Request{
		Task: llm.TaskClassifyIntent,
		Mode: llm.Deterministic,
		Messages: []llm.Message{
			llm.System(classifySystemPrompt),
			llm.User(fmt.Sprintf("Session context: %s\n\nUser message: %q\n\nClassify the intent.", describe(sess), msg)),
		},
	}, &out)
	if err != nil {
		if ctx.Err() != nil {
			return domain.IntentClassification{}, ctx.Err()
		}
		r.logger.Warn("Intent classification failed", "session_id", sess.ID, "error", err)
		return domain.IntentClassification{}, &domain.Error{
			Kind:    domain.KindClassificationUnavailable,
			Message: "classification unavailable",
			Err:     err,
		}
	}

	in, ok := domain.ParseIntent(out.Intent)
	if !ok {
		r.logger.Debug("Unknown intent label, treating as casual", "label", out.Intent)
	}
	return domain.IntentClassification{Intent: in, Confidence: out.Confidence, Reasoning: out.Reasoning}, nil
}

func describe(sess *domain.Session) string {
	var parts []string
	if n := len(sess.ActivePlans); n > 0 {
		parts = append(parts, fmt.Sprintf("User has %d active plan(s).", n))
	}
	if p := sess.StagingPlan(); p != nil {
		parts = append(parts, fmt.Sprintf("A plan %q with %d tasks is awaiting the user's confirmation.", p.ProjectName, len(p.Tasks)))
	}
	if len(parts) == 0 {
		return "No existing tasks or plans."
	}
	return strings.Join(parts, " ")
}
