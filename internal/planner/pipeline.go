// Package planner turns a clarified goal into a validated plan of micro-tasks
// and revises staged plans from user feedback.
package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/goally/internal/domain"
	"github.com/ashureev/goally/internal/llm"
	"github.com/ashureev/goally/internal/scheduler"
	"github.com/ashureev/goally/internal/stream"
)

// Status messages emitted before each stage.
const (
	StatusRefining  = "Analyzing goal context..."
	StatusSplitting = "Breaking into micro-tasks..."
	StatusMatching  = "Matching tasks to your routine..."
	StatusRevising  = "Revising your plan..."
)

// Progress steps.
const (
	StepSmartGoal = "smart_goal"
	StepRawTasks  = "raw_tasks"
)

// FocusTag marks a goal whose medium-energy tasks are treated as high.
const FocusTag = "focus"

const (
	refineSystemPrompt = `You are a pragmatic project manager. Turn the user's goal into a
S.M.A.R.T. goal. If it is vague, make reasonable assumptions. Always give a
concrete deadline, as YYYY-MM-DD when you can.
Respond with JSON:
{"summary": string, "specific_outcome": string, "measurable_metric": string,
 "deadline": string, "constraints": array of strings}`

	splitSystemPrompt = `You are a task architect. Break the project into atomic, actionable steps.
Rules:
1. Create 3 to 7 tasks.
2. Each task must be doable in one sitting of at most 20 minutes.
3. Start each task with a verb.
4. Order tasks so dependencies come first.
Respond with JSON: {"tasks": array of task names}`

	matchSystemPrompt = `You are a behavioral scientist using the Tiny Habits method.
For each task:
1. Assess its energy demand: "high", "medium" or "low".
2. Assign it to the best available user anchor. High focus work goes to
   morning anchors, medium to midday anchors, low focus or admin work to
   end of day anchors. Use the anchor names exactly as given.
3. Estimate a realistic duration of 5 to 20 minutes.
4. Give a one-sentence rationale.
Respond with JSON:
{"project_name": string, "smart_goal_summary": string, "deadline": string,
 "tasks": [{"task_name": string, "estimated_minutes": int,
            "energy_required": string, "assigned_anchor": string,
            "rationale": string}]}`
)

// Emitter receives stream events produced while a plan is built.
type Emitter func(stream.Event)

// SmartGoal is the refined form of a user's goal.
type SmartGoal struct {
	Summary          string   `json:"summary"`
	SpecificOutcome  string   `json:"specific_outcome"`
	MeasurableMetric string   `json:"measurable_metric"`
	Deadline         string   `json:"deadline"`
	Constraints      []string `json:"constraints"`
}

type rawTasks struct {
	Tasks []string `json:"tasks"`
}

type planTask struct {
	Name             string `json:"task_name"`
	EstimatedMinutes int    `json:"estimated_minutes"`
	EnergyRequired   string `json:"energy_required"`
	AssignedAnchor   string `json:"assigned_anchor"`
	Rationale        string `json:"rationale"`
}

type planOutput struct {
	ProjectName      string     `json:"project_name"`
	SmartGoalSummary string     `json:"smart_goal_summary"`
	Deadline         string     `json:"deadline"`
	Tasks            []planTask `json:"tasks"`
}

// Pipeline runs the three-stage plan generation.
type Pipeline struct {
	gen     llm.Generator
	catalog *scheduler.Catalog
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a Pipeline. A nil catalog uses the built-in anchors.
func New(gen llm.Generator, catalog *scheduler.Catalog, logger *slog.Logger) *Pipeline {
	if catalog == nil {
		catalog = scheduler.DefaultCatalog()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{gen: gen, catalog: catalog, logger: logger, now: time.Now}
}

// Generate refines goal, splits it into tasks and matches them to the
// profile's anchors. A plan that breaks a structural rule is regenerated
// once with the violations spelled out; a second failure returns a
// *domain.PipelineError.
func (p *Pipeline) Generate(ctx context.Context, goal string, tags []string, profile domain.UserProfile, emit Emitter) (*domain.Plan, error) {
	if emit == nil {
		emit = func(stream.Event) {}
	}
	profile.Normalize()

	emit(stream.Status(StatusRefining))
	start := time.Now()
	smart, err := p.refine(ctx, goal, tags)
	if err != nil {
		return nil, fmt.Errorf("refine goal: %w", err)
	}
	p.logger.Info("Plan stage finished", "stage", llm.TaskRefineGoal, "duration", time.Since(start))
	if ev, err := stream.Progress(StepSmartGoal, map[string]string{"summary": smart.Summary}); err == nil {
		emit(ev)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	emit(stream.Status(StatusSplitting))
	start = time.Now()
	raw, err := p.split(ctx, smart)
	if err != nil {
		return nil, fmt.Errorf("split tasks: %w", err)
	}
	p.logger.Info("Plan stage finished", "stage", llm.TaskSplitTasks, "duration", time.Since(start), "tasks", len(raw))
	if ev, err := stream.Progress(StepRawTasks, raw); err == nil {
		emit(ev)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	emit(stream.Status(StatusMatching))
	start = time.Now()
	var violations []string
	for attempt := 0; attempt < 2; attempt++ {
		plan, err := p.match(ctx, smart, raw, profile, violations)
		switch {
		case errors.Is(err, llm.ErrParse):
			violations = []string{"output was not a valid plan object"}
		case err != nil:
			return nil, fmt.Errorf("match tasks: %w", err)
		default:
			violations = plan.Violations()
		}
		if len(violations) == 0 {
			plan.Tags = append([]string(nil), tags...)
			p.applyEnergyHeuristic(plan, profile, tags)
			p.logger.Info("Plan stage finished", "stage", llm.TaskMatchContext, "duration", time.Since(start), "attempts", attempt+1)
			return plan, nil
		}
		if attempt == 0 {
			planRegenerations.WithLabelValues(llm.TaskMatchContext).Inc()
			p.logger.Warn("Generated plan failed validation, regenerating", "violations", violations)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	planFailures.WithLabelValues(llm.TaskMatchContext).Inc()
	return nil, &domain.PipelineError{Violations: violations}
}

func (p *Pipeline) refine(ctx context.Context, goal string, tags []string) (SmartGoal, error) {
	prompt := "Goal: " + goal
	if len(tags) > 0 {
		prompt += "\nAbout the user: " + strings.Join(tags, ", ")
	}
	prompt += "\nToday is " + p.now().Format("Monday 2006-01-02") + "."

	var smart SmartGoal
	err := llm.GenerateJSON(ctx, p.gen, llm.Request{
		Task:     llm.TaskRefineGoal,
		Mode:     llm.Deterministic,
		Messages: []llm.Message{llm.System(refineSystemPrompt), llm.User(prompt)},
	}, &smart)
	if err != nil {
		return SmartGoal{}, err
	}
	smart.Summary = strings.TrimSpace(smart.Summary)
	if smart.Summary == "" {
		smart.Summary = strings.TrimSpace(goal)
	}
	return smart, nil
}

func (p *Pipeline) split(ctx context.Context, smart SmartGoal) ([]string, error) {
	prompt := fmt.Sprintf("Break this project into atomic steps:\nProject: %s\nSpecific outcome: %s\nDeadline: %s",
		smart.Summary, smart.SpecificOutcome, smart.Deadline)
	if len(smart.Constraints) > 0 {
		prompt += "\nConstraints: " + strings.Join(smart.Constraints, "; ")
	}

	var out rawTasks
	err := llm.GenerateJSON(ctx, p.gen, llm.Request{
		Task:     llm.TaskSplitTasks,
		Mode:     llm.Deterministic,
		Messages: []llm.Message{llm.System(splitSystemPrompt), llm.User(prompt)},
	}, &out)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(out.Tasks))
	for _, n := range out.Tasks {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	return names, nil
}

func (p *Pipeline) match(ctx context.Context, smart SmartGoal, raw []string, profile domain.UserProfile, violations []string) (*domain.Plan, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Schedule these tasks for the user.\n\nPROJECT: %s\nDEADLINE: %s\n\n", smart.Summary, smart.Deadline)
	fmt.Fprintf(&b, "USER PROFILE:\n- Role: %s\n- Available anchors: %s\n\nTASKS:\n", profile.Role, p.describeAnchors(profile))
	for _, name := range raw {
		fmt.Fprintf(&b, "- %s\n", name)
	}
	fmt.Fprintf(&b, "\nUse %q as project_name and %q as deadline.", smart.Summary, smart.Deadline)
	if len(violations) > 0 {
		b.WriteString(tightenedInstruction(violations))
	}

	var out planOutput
	err := llm.GenerateJSON(ctx, p.gen, llm.Request{
		Task:     llm.TaskMatchContext,
		Mode:     llm.Deterministic,
		Messages: []llm.Message{llm.System(matchSystemPrompt), llm.User(b.String())},
	}, &out)
	if err != nil {
		return nil, err
	}
	plan := toPlan(out, p.now().Location())
	if plan.ProjectName == "" {
		plan.ProjectName = smart.Summary
	}
	if plan.SmartGoalSummary == "" {
		plan.SmartGoalSummary = smart.Summary
	}
	if plan.Deadline == nil {
		plan.Deadline = parseDeadline(smart.Deadline, p.now().Location())
	}
	return plan, nil
}

func (p *Pipeline) describeAnchors(profile domain.UserProfile) string {
	parts := make([]string, len(profile.Anchors))
	for i, a := range profile.Anchors {
		at := p.catalog.TimeOf(a).String()
		if hhmm, ok := profile.AnchorTimes[a]; ok {
			at = hhmm
		}
		parts[i] = fmt.Sprintf("%s (%s, %s)", a, at, p.catalog.BucketOf(a))
	}
	return strings.Join(parts, ", ")
}

func tightenedInstruction(violations []string) string {
	return fmt.Sprintf("\n\nYour previous answer was rejected: %s.\n"+
		"Return between %d and %d tasks, merging or splitting steps as needed. "+
		"Every task needs estimated_minutes between %d and %d, energy_required of high, medium or low, "+
		"and a non-empty assigned_anchor.",
		strings.Join(violations, "; "), domain.MinTasks, domain.MaxTasks, domain.MinMinutes, domain.MaxMinutes)
}

func toPlan(out planOutput, loc *time.Location) *domain.Plan {
	plan := &domain.Plan{
		ProjectName:      strings.TrimSpace(out.ProjectName),
		SmartGoalSummary: strings.TrimSpace(out.SmartGoalSummary),
		Deadline:         parseDeadline(out.Deadline, loc),
		Tasks:            make([]domain.MicroTask, 0, len(out.Tasks)),
	}
	for _, t := range out.Tasks {
		plan.Tasks = append(plan.Tasks, domain.MicroTask{
			Name:             strings.TrimSpace(t.Name),
			EstimatedMinutes: t.EstimatedMinutes,
			EnergyRequired:   domain.ParseEnergy(t.EnergyRequired),
			AssignedAnchor:   strings.TrimSpace(t.AssignedAnchor),
			Rationale:        strings.TrimSpace(t.Rationale),
			Status:           domain.StatusPending,
		})
	}
	return plan
}

var deadlineLayouts = []string{"2006-01-02", time.RFC3339, "January 2, 2006", "Jan 2, 2006"}

// parseDeadline accepts a handful of absolute date formats. Relative
// phrases such as "next Friday" yield nil.
func parseDeadline(s string, loc *time.Location) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range deadlineLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return &t
		}
	}
	return nil
}
