package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ashureev/goally/internal/domain"
	"github.com/ashureev/goally/internal/events"
	"github.com/ashureev/goally/internal/llm"
	"github.com/ashureev/goally/internal/planner"
	"github.com/ashureev/goally/internal/stream"
	"github.com/ashureev/goally/internal/telemetry"
)

const (
	nothingToConfirm = "There's no plan waiting for confirmation right now. Tell me about a goal and I'll draft one for you."
	presentPrompt    = `Present the plan below to the user in a friendly, encouraging way.
List each task with its anchor and duration, then ask whether they want to
confirm it or change something. Reply in the user's language.`
)

func (o *Orchestrator) handlePlanning(ctx context.Context, t *turn, continuation bool) error {
	ctx, span := telemetry.StartSpan(ctx, "orchestrator.planning")
	defer span.End()

	d, err := o.gate.Evaluate(ctx, t.req.Message, t.sess, continuation)
	if err != nil {
		return err
	}
	if !d.Ready {
		t.result.Response = d.Question
		t.result.AwaitingClarification = true
		t.result.PendingContext = t.sess.PendingContext()
		t.clarification = &ClarificationPayload{
			Question:       d.Question,
			Attempts:       d.Attempts,
			PendingContext: t.sess.PendingContext(),
		}
		return nil
	}
	if d.Forced {
		o.logger.Info("Planning with forced context", "session_id", t.sess.ID, "attempts", d.Attempts)
	}

	plan, err := o.planner.Generate(ctx, d.Goal, d.Tags, t.sess.Profile, planner.Emitter(t.emit))
	if err != nil {
		return err
	}
	return o.stage(ctx, t, plan)
}

func (o *Orchestrator) handleModify(ctx context.Context, t *turn) error {
	ctx, span := telemetry.StartSpan(ctx, "orchestrator.modify")
	defer span.End()

	t.emit(stream.Status(planner.StatusRevising))
	revised, err := o.planner.Modify(ctx, t.sess.StagingPlan(), t.req.Message, t.sess.Profile)
	if err != nil {
		return err
	}
	return o.stage(ctx, t, revised)
}

// stage schedules plan, puts it up for confirmation and describes it to the
// user. The user approves concrete times, so a plan that cannot be placed is
// never staged.
func (o *Orchestrator) stage(ctx context.Context, t *turn, plan *domain.Plan) error {
	t.emit(stream.Status(StatusScheduling))
	if err := o.scheduler.ScheduleCommitted(ctx, t.req.UserID, plan); err != nil {
		return err
	}
	t.sess.Goal = domain.Staged(plan)
	t.result.Plan = plan
	t.result.StagingPlan = plan
	t.result.AwaitingConfirmation = true
	t.result.Response = o.presentPlan(ctx, t.sess, plan)
	return nil
}

func (o *Orchestrator) presentPlan(ctx context.Context, sess *domain.Session, plan *domain.Plan) string {
	summary := summarizePlan(plan)
	resp, err := o.gen.Generate(ctx, llm.Request{
		Task: llm.TaskPlanningReply,
		Mode: llm.Creative,
		Messages: []llm.Message{
			llm.System(systemPrompt(sess.Profile) + "\n\n" + presentPrompt),
			llm.User(summary),
		},
	})
	if err != nil || strings.TrimSpace(resp.Content) == "" {
		if err != nil {
			o.logger.Warn("Plan presentation failed, using summary", "session_id", sess.ID, "error", err)
		}
		return summary + "\n\nReply \"yes\" to confirm this plan or tell me what to change."
	}
	return strings.TrimSpace(resp.Content)
}

func summarizePlan(plan *domain.Plan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Plan: %s\nGoal: %s\n", plan.ProjectName, plan.SmartGoalSummary)
	if plan.Deadline != nil {
		fmt.Fprintf(&b, "Deadline: %s\n", plan.Deadline.Format("Mon Jan 2, 2006"))
	}
	b.WriteString("\nTasks:\n")
	for _, task := range plan.Tasks {
		when := task.ScheduledText
		if when == "" {
			when = task.AssignedAnchor
		}
		fmt.Fprintf(&b, "- %s (%d min, %s energy): %s\n", when, task.EstimatedMinutes, task.EnergyRequired, task.Name)
	}
	return strings.TrimRight(b.String(), "\n")
}

// handleConfirm commits the staged plan. Slots that were taken since the
// plan was staged are moved first. The goal and task rows it writes are
// tracked on t and removed by HandleTurn unless the session save succeeds.
func (o *Orchestrator) handleConfirm(ctx context.Context, t *turn) error {
	staged := t.sess.StagingPlan()
	if staged == nil {
		t.result.Response = nothingToConfirm
		return nil
	}
	ctx, span := telemetry.StartSpan(ctx, "orchestrator.confirm")
	defer span.End()

	t.emit(stream.Status(StatusScheduling))
	plan := staged.Clone()
	moved, err := o.scheduler.RevalidatePlan(ctx, t.req.UserID, plan)
	if err != nil {
		return err
	}
	if moved > 0 {
		o.logger.Info("Moved staged tasks to free slots", "session_id", t.sess.ID, "moved", moved)
	}

	goal := &domain.Goal{
		ID:       uuid.NewString(),
		UserID:   t.req.UserID,
		Title:    plan.ProjectName,
		Summary:  plan.SmartGoalSummary,
		Deadline: plan.Deadline,
		Status:   domain.GoalActive,
	}
	if err := o.store.CreateGoal(ctx, goal); err != nil {
		return &domain.StoreError{Op: "create_goal", Err: err}
	}
	t.commit = &events.CommitEvent{
		UserID:      t.req.UserID,
		SessionID:   t.sess.ID,
		GoalID:      goal.ID,
		ProjectName: plan.ProjectName,
	}

	actions := []domain.Action{{
		Type: domain.ActionCreateGoal,
		Data: map[string]any{"id": goal.ID, "title": goal.Title},
	}}
	for _, mt := range plan.Tasks {
		task := &domain.Task{
			ID:        uuid.NewString(),
			UserID:    t.req.UserID,
			GoalID:    goal.ID,
			MicroTask: mt,
		}
		if err := o.store.CreateTask(ctx, task); err != nil {
			return &domain.StoreError{Op: "create_task", Err: err}
		}
		t.commit.TaskIDs = append(t.commit.TaskIDs, task.ID)
		actions = append(actions, domain.Action{
			Type: domain.ActionCreateTask,
			Data: map[string]any{
				"id":             task.ID,
				"goal_id":        goal.ID,
				"task_name":      task.Name,
				"scheduled_at":   task.ScheduledAt,
				"scheduled_text": task.ScheduledText,
				"anchor":         task.AssignedAnchor,
			},
		})
	}
	actions = append(actions, domain.Action{Type: domain.ActionRefreshUI})

	t.sess.ActivePlans = append(t.sess.ActivePlans, *plan)
	t.sess.Goal = domain.NoGoal()
	t.result.Plan = plan
	t.result.Actions = actions
	t.result.Response = confirmMessage(plan)
	return nil
}

// recordCommit publishes the commit of a finished turn.
func (o *Orchestrator) recordCommit(ctx context.Context, t *turn) {
	if t.commit == nil {
		return
	}
	ev := *t.commit
	t.commit = nil
	ev.At = o.now().UTC()
	commitsTotal.Inc()
	if err := o.events.RecordCommit(ctx, ev); err != nil {
		o.logger.Warn("Failed to record plan commit", "session_id", t.sess.ID, "error", err)
	}
}

// rollbackCommit removes the goal and tasks written by a confirm whose turn
// did not finish. It runs even when ctx is cancelled.
func (o *Orchestrator) rollbackCommit(ctx context.Context, t *turn) {
	if t.commit == nil {
		return
	}
	goalID := t.commit.GoalID
	if err := o.store.DeleteGoal(context.WithoutCancel(ctx), t.req.UserID, goalID); err != nil {
		o.logger.Error("Failed to roll back plan commit",
			"session_id", t.sess.ID,
			"goal_id", goalID,
			"error", err)
		return
	}
	t.commit = nil
	commitRollbacks.Inc()
	o.logger.Warn("Rolled back plan commit", "session_id", t.sess.ID, "goal_id", goalID)
}

func confirmMessage(plan *domain.Plan) string {
	msg := fmt.Sprintf("Done! Your **%s** plan is now active with %d tasks.", plan.ProjectName, len(plan.Tasks))
	var first *domain.MicroTask
	for i := range plan.Tasks {
		mt := &plan.Tasks[i]
		if mt.ScheduledAt != nil && (first == nil || mt.ScheduledAt.Before(*first.ScheduledAt)) {
			first = mt
		}
	}
	if first != nil {
		msg += fmt.Sprintf(" First up: %s, %s.", first.Name, first.ScheduledText)
	}
	return msg
}
