package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/ashureev/goally/internal/domain"
	"github.com/ashureev/goally/internal/llm"
)

const modifySystemPrompt = `You revise a staged micro-task plan according to the user's feedback.
Change only what the feedback asks for. Keep every task the feedback does not
mention, with its exact task_name. Keep between 3 and 7 tasks, each 5 to 20
minutes, with energy_required of high, medium or low and an assigned_anchor
chosen from the user's anchors.
Respond with JSON:
{"project_name": string, "smart_goal_summary": string, "deadline": string,
 "tasks": [{"task_name": string, "estimated_minutes": int,
            "energy_required": string, "assigned_anchor": string,
            "rationale": string}]}`

// Modify revises staged per feedback. Besides the structural rules, every
// task of staged that feedback does not mention must survive by name. One
// retry is allowed before a *domain.PipelineError is returned. staged is not
// modified.
func (p *Pipeline) Modify(ctx context.Context, staged *domain.Plan, feedback string, profile domain.UserProfile) (*domain.Plan, error) {
	if staged == nil {
		return nil, errors.New("modify: no staged plan")
	}
	profile.Normalize()
	keep := unmentionedTasks(staged, feedback)

	current, err := json.Marshal(staged)
	if err != nil {
		return nil, fmt.Errorf("encode staged plan: %w", err)
	}

	var violations []string
	for attempt := 0; attempt < 2; attempt++ {
		var b strings.Builder
		fmt.Fprintf(&b, "CURRENT PLAN:\n%s\n\nAVAILABLE ANCHORS: %s\n\nFEEDBACK: %s", current, p.describeAnchors(profile), feedback)
		if len(violations) > 0 {
			b.WriteString(tightenedInstruction(violations))
			if len(keep) > 0 {
				fmt.Fprintf(&b, " Keep these tasks unchanged by name: %s.", strings.Join(keep, "; "))
			}
		}

		var out planOutput
		err := llm.GenerateJSON(ctx, p.gen, llm.Request{
			Task:     llm.TaskModifyPlan,
			Mode:     llm.Deterministic,
			Messages: []llm.Message{llm.System(modifySystemPrompt), llm.User(b.String())},
		}, &out)
		var plan *domain.Plan
		switch {
		case errors.Is(err, llm.ErrParse):
			violations = []string{"output was not a valid plan object"}
		case err != nil:
			return nil, fmt.Errorf("modify plan: %w", err)
		default:
			plan = toPlan(out, p.now().Location())
			inheritPlanFields(plan, staged)
			violations = append(plan.Violations(), missingTasks(plan, keep)...)
		}
		if len(violations) == 0 {
			p.applyEnergyHeuristic(plan, profile, plan.Tags)
			return plan, nil
		}
		if attempt == 0 {
			planRegenerations.WithLabelValues(llm.TaskModifyPlan).Inc()
			p.logger.Warn("Modified plan failed validation, retrying", "violations", violations)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	planFailures.WithLabelValues(llm.TaskModifyPlan).Inc()
	return nil, &domain.PipelineError{Violations: violations}
}

func inheritPlanFields(plan, staged *domain.Plan) {
	if plan.ProjectName == "" {
		plan.ProjectName = staged.ProjectName
	}
	if plan.SmartGoalSummary == "" {
		plan.SmartGoalSummary = staged.SmartGoalSummary
	}
	if plan.Deadline == nil && staged.Deadline != nil {
		d := *staged.Deadline
		plan.Deadline = &d
	}
	plan.Tags = append([]string(nil), staged.Tags...)
}

func missingTasks(plan *domain.Plan, keep []string) []string {
	var out []string
	for _, name := range keep {
		found := false
		for _, t := range plan.Tasks {
			if strings.EqualFold(strings.TrimSpace(t.Name), name) {
				found = true
				break
			}
		}
		if !found {
			out = append(out, fmt.Sprintf("task %q was dropped but the feedback did not mention it", name))
		}
	}
	return out
}

// unmentionedTasks returns the names of staged tasks the feedback does not
// refer to, either by full name, by position ("task 2", "#2") or by a
// distinctive word of the name.
func unmentionedTasks(staged *domain.Plan, feedback string) []string {
	fb := strings.ToLower(feedback)
	fbWords := make(map[string]bool)
	for _, w := range words(fb) {
		fbWords[w] = true
	}

	var out []string
	for i, t := range staged.Tasks {
		name := strings.ToLower(strings.TrimSpace(t.Name))
		if name == "" {
			continue
		}
		pos := strconv.Itoa(i + 1)
		mentioned := strings.Contains(fb, name) ||
			strings.Contains(fb, "task "+pos) ||
			strings.Contains(fb, "#"+pos)
		for _, w := range words(name) {
			if mentioned {
				break
			}
			if len(w) >= 5 && fbWords[w] {
				mentioned = true
			}
		}
		if !mentioned {
			out = append(out, strings.TrimSpace(t.Name))
		}
	}
	return out
}

func words(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
}
