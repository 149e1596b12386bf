// Package gatekeeper decides whether a goal carries enough information to
// plan, asking a bounded number of clarifying questions first.
package gatekeeper

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/ashureev/goally/internal/domain"
	"github.com/ashureev/goally/internal/llm"
)

// DefaultMaxAttempts is how many clarifying questions are asked before
// planning proceeds with whatever context exists.
const DefaultMaxAttempts = 2

const (
	statusReady              = "ready"
	statusNeedsClarification = "needs_clarification"

	contextGoalKey     = "goal"
	contextAnswerKey   = "answer_"
	defaultQuestion    = "Could you tell me a bit more about where you're starting from and what success looks like?"
	maxDerivedTags     = 5
	maxTagWords        = 3
	minKeywordLength   = 4
	assessSystemPrompt = `You are a Socratic planning coach. Decide whether the user's goal has
enough detail to build a concrete plan: current level, available time and
a clear outcome. If something important is missing ask ONE short clarifying
question.
Respond with JSON:
{"status": "ready" | "needs_clarification",
 "question": string (when needs_clarification),
 "context": object of short string facts gathered so far,
 "goal": string (normalized goal, when ready),
 "tags": array of short lowercase descriptors, e.g. ["beginner", "sedentary"]}`
)

// Decision is the gatekeeper's verdict for one turn.
type Decision struct {
	Ready    bool
	Forced   bool
	Question string
	Goal     string
	Tags     []string
	Context  map[string]string
	Attempts int
}

// Gatekeeper runs the clarification state machine.
type Gatekeeper struct {
	gen         llm.Generator
	maxAttempts int
	logger      *slog.Logger
}

// New creates a Gatekeeper. A non-positive maxAttempts uses DefaultMaxAttempts.
func New(gen llm.Generator, maxAttempts int, logger *slog.Logger) *Gatekeeper {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gatekeeper{gen: gen, maxAttempts: maxAttempts, logger: logger}
}

// MaxAttempts returns the clarification bound.
func (g *Gatekeeper) MaxAttempts() int { return g.maxAttempts }

type assessment struct {
	Status   string         `json:"status"`
	Question string         `json:"question"`
	Context  map[string]any `json:"context"`
	Goal     string         `json:"goal"`
	Tags     []string       `json:"tags"`
}

// Evaluate merges msg into the session's clarification context and decides
// whether planning can start. It mutates sess.Goal: a question leaves the
// session Gathering with one more attempt recorded, a ready verdict resets
// it to no goal.
//
// When continuation is false, or the session is not gathering, msg starts a
// fresh goal.
func (g *Gatekeeper) Evaluate(ctx context.Context, msg string, sess *domain.Session, continuation bool) (Decision, error) {
	state := domain.ClarificationState{Context: map[string]string{contextGoalKey: msg}}
	if cur, ok := sess.Goal.Clarification(); ok && continuation {
		state = cur
		state.Context = maps.Clone(cur.Context)
		state.Context[contextAnswerKey+strconv.Itoa(countAnswers(state.Context)+1)] = msg
	}

	out, err := g.assess(ctx, state)
	if err != nil {
		if ctx.Err() != nil || state.Attempts < g.maxAttempts {
			return Decision{}, err
		}
		g.logger.Warn("Clarification assessment failed at attempt limit, proceeding",
			"session_id", sess.ID, "attempts", state.Attempts, "error", err)
		return g.ready(sess, state, forcedGoal(state.Context), deriveTags(state.Context), true), nil
	}

	merged := mergeContext(state.Context, out.Context)

	if out.Status == statusReady {
		goal := strings.TrimSpace(out.Goal)
		if goal == "" {
			goal = forcedGoal(merged)
		}
		tags := normalizeTags(out.Tags)
		if len(tags) == 0 {
			tags = deriveTags(merged)
		}
		return g.ready(sess, state, goal, tags, false), nil
	}

	if state.Attempts >= g.maxAttempts {
		g.logger.Info("Clarification limit reached, proceeding with available context",
			"session_id", sess.ID, "attempts", state.Attempts)
		return g.ready(sess, state, forcedGoal(merged), deriveTags(merged), true), nil
	}

	question := strings.TrimSpace(out.Question)
	if question == "" {
		question = defaultQuestion
	}
	next := domain.ClarificationState{
		Question: question,
		Context:  merged,
		Attempts: state.Attempts + 1,
	}
	sess.Goal = domain.Gathering(next)
	g.logger.Debug("Asking clarifying question", "session_id", sess.ID, "attempts", next.Attempts)
	return Decision{Question: question, Context: maps.Clone(merged), Attempts: next.Attempts}, nil
}

func (g *Gatekeeper) ready(sess *domain.Session, state domain.ClarificationState, goal string, tags []string, forced bool) Decision {
	sess.Goal = domain.NoGoal()
	return Decision{
		Ready:    true,
		Forced:   forced,
		Goal:     goal,
		Tags:     tags,
		Context:  maps.Clone(state.Context),
		Attempts: state.Attempts,
	}
}

func (g *Gatekeeper) assess(ctx context.Context, state domain.ClarificationState) (assessment, error) {
	facts, err := json.Marshal(state.Context)
	if err != nil {
		return assessment{}, fmt.Errorf("encode clarification context: %w", err)
	}
	prompt := fmt.Sprintf("Goal context so far: %s\nClarifying questions already asked: %d of %d.",
		facts, state.Attempts, g.maxAttempts)
	if state.Question != "" {
		prompt += fmt.Sprintf("\nLast question asked: %q", state.Question)
	}

	var out assessment
	err = llm.GenerateJSON(ctx, g.gen, llm.Request{
		Task:     llm.TaskAssessGoal,
		Mode:     llm.Deterministic,
		Messages: []llm.Message{llm.System(assessSystemPrompt), llm.User(prompt)},
	}, &out)
	if err != nil {
		return assessment{}, fmt.Errorf("assess goal: %w", err)
	}
	out.Status = strings.ToLower(strings.TrimSpace(out.Status))
	if out.Status != statusReady {
		out.Status = statusNeedsClarification
	}
	return out, nil
}

func countAnswers(c map[string]string) int {
	n := 0
	for k := range c {
		if strings.HasPrefix(k, contextAnswerKey) {
			n++
		}
	}
	return n
}

// mergeContext overlays the generator's snapshot on the local context. The
// goal and answers recorded locally always survive.
func mergeContext(local map[string]string, snapshot map[string]any) map[string]string {
	out := maps.Clone(local)
	for k, v := range snapshot {
		if k == contextGoalKey || strings.HasPrefix(k, contextAnswerKey) {
			continue
		}
		if v == nil {
			continue
		}
		s := strings.TrimSpace(fmt.Sprint(v))
		if s == "" {
			continue
		}
		out[k] = s
	}
	return out
}

// forcedGoal is the original goal followed by every answer in order.
func forcedGoal(c map[string]string) string {
	parts := []string{strings.TrimSpace(c[contextGoalKey])}
	for i := 1; i <= countAnswers(c); i++ {
		if a := strings.TrimSpace(c[contextAnswerKey+strconv.Itoa(i)]); a != "" {
			parts = append(parts, a)
		}
	}
	return strings.Join(slices.DeleteFunc(parts, func(s string) bool { return s == "" }), ". ")
}

var stopwords = map[string]bool{
	"about": true, "after": true, "before": true, "also": true, "been": true, "currently": true,
	"from": true, "have": true, "just": true, "like": true, "much": true,
	"really": true, "some": true, "that": true, "than": true, "there": true,
	"they": true, "this": true, "very": true, "want": true, "what": true,
	"when": true, "with": true, "would": true, "your": true, "complete": true,
}

// deriveTags builds descriptors from context facts: short fact values are
// used whole, answers contribute keywords.
func deriveTags(c map[string]string) []string {
	var tags []string
	keys := slices.Sorted(maps.Keys(c))
	for _, k := range keys {
		if k == contextGoalKey || strings.HasPrefix(k, contextAnswerKey) {
			continue
		}
		if v := c[k]; len(strings.Fields(v)) <= maxTagWords {
			tags = append(tags, v)
		}
	}
	for i := 1; i <= countAnswers(c); i++ {
		for _, w := range strings.FieldsFunc(strings.ToLower(c[contextAnswerKey+strconv.Itoa(i)]), notWordRune) {
			if len(w) >= minKeywordLength && !stopwords[w] {
				tags = append(tags, w)
			}
		}
	}
	tags = normalizeTags(tags)
	if len(tags) > maxDerivedTags {
		tags = tags[:maxDerivedTags]
	}
	return tags
}

func normalizeTags(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, t := range in {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func notWordRune(r rune) bool {
	return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-')
}
