package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ashureev/goally/internal/domain"
	"github.com/ashureev/goally/internal/identity"
	"github.com/ashureev/goally/internal/scheduler"
	"github.com/ashureev/goally/internal/store"
)

// defaultAnchor is used for tasks created without one.
const defaultAnchor = "After Lunch"

// TaskInput is the body of task create and update requests. Nil fields are
// left unchanged on update.
type TaskInput struct {
	GoalID           *string            `json:"goal_id,omitempty"`
	Name             *string            `json:"task_name,omitempty"`
	EstimatedMinutes *int               `json:"estimated_minutes,omitempty"`
	EnergyRequired   *string            `json:"energy_required,omitempty"`
	AssignedAnchor   *string            `json:"assigned_anchor,omitempty"`
	ScheduledAt      *time.Time         `json:"scheduled_at,omitempty"`
	Rationale        *string            `json:"rationale,omitempty"`
	Status           *domain.TaskStatus `json:"status,omitempty"`
}

func (in TaskInput) apply(t *domain.Task) error {
	if in.GoalID != nil {
		t.GoalID = strings.TrimSpace(*in.GoalID)
	}
	if in.Name != nil {
		t.Name = strings.TrimSpace(*in.Name)
	}
	if in.EstimatedMinutes != nil {
		t.EstimatedMinutes = *in.EstimatedMinutes
	}
	if in.EnergyRequired != nil {
		t.EnergyRequired = domain.ParseEnergy(*in.EnergyRequired)
	}
	if in.AssignedAnchor != nil {
		t.AssignedAnchor = strings.TrimSpace(*in.AssignedAnchor)
	}
	if in.ScheduledAt != nil {
		at := in.ScheduledAt.UTC()
		t.ScheduledAt = &at
		t.ScheduledText = ""
		t.ReminderSent = false
	}
	if in.Rationale != nil {
		t.Rationale = *in.Rationale
	}
	if in.Status != nil {
		t.Status = *in.Status
	}
	return validateTask(t)
}

func validateTask(t *domain.Task) error {
	if t.Name == "" {
		return invalidInput("task_name is required")
	}
	if t.EstimatedMinutes <= 0 {
		return invalidInput("estimated_minutes must be positive")
	}
	if t.EnergyRequired == "" {
		t.EnergyRequired = domain.EnergyMedium
	}
	if !t.EnergyRequired.Valid() {
		return invalidInput("energy_required must be high, medium or low")
	}
	switch t.Status {
	case "", domain.StatusPending, domain.StatusInProgress, domain.StatusCompleted:
	default:
		return invalidInput("unknown status %q", t.Status)
	}
	return nil
}

// ListTasks handles GET /api/tasks. ?open=true limits to unfinished tasks
// and ?goal_id= to one goal.
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	q := r.URL.Query()
	filter := store.TaskFilter{
		OpenOnly: q.Get("open") == "true",
		GoalID:   q.Get("goal_id"),
	}
	tasks, err := h.repo.ListTasks(r.Context(), userID, filter)
	if err != nil {
		h.writeError(w, r, "list tasks", err)
		return
	}
	if tasks == nil {
		tasks = []*domain.Task{}
	}
	JSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

// CreateTask handles POST /api/tasks. A task without scheduled_at is placed
// in the next free slot for its anchor.
func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	var in TaskInput
	if err := decodeJSON(w, r, &in); err != nil {
		h.writeError(w, r, "create task", err)
		return
	}

	t := &domain.Task{ID: uuid.NewString(), UserID: userID}
	t.Status = domain.StatusPending
	if err := in.apply(t); err != nil {
		h.writeError(w, r, "create task", err)
		return
	}
	if t.GoalID != "" {
		if _, err := h.repo.GetGoal(r.Context(), userID, t.GoalID); err != nil {
			h.writeError(w, r, "create task", err)
			return
		}
	}
	if t.AssignedAnchor == "" {
		t.AssignedAnchor = defaultAnchor
	}
	if t.ScheduledAt == nil {
		slot, anchor, err := h.sched.FindNextAvailableSlot(r.Context(), userID, t.AssignedAnchor, h.now(), t.Duration())
		if err != nil {
			h.writeError(w, r, "create task", err)
			return
		}
		t.ScheduledAt = &slot
		t.AssignedAnchor = anchor
		t.ScheduledText = scheduler.ScheduledText(slot, anchor)
	}

	if err := h.repo.CreateTask(r.Context(), t); err != nil {
		h.writeError(w, r, "create task", err)
		return
	}
	h.logger.Info("Task created", "user_id", userID, "task_id", t.ID, "scheduled_at", t.ScheduledAt)
	JSON(w, http.StatusCreated, t)
}

// UpdateTask handles PATCH /api/tasks/{id}.
func (h *Handler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	var in TaskInput
	if err := decodeJSON(w, r, &in); err != nil {
		h.writeError(w, r, "update task", err)
		return
	}
	t, err := h.repo.GetTask(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, "update task", err)
		return
	}
	wasCompleted := t.Status == domain.StatusCompleted
	if err := in.apply(t); err != nil {
		h.writeError(w, r, "update task", err)
		return
	}
	switch {
	case t.Status == domain.StatusCompleted && !wasCompleted:
		now := h.now().UTC()
		t.CompletedAt = &now
	case t.Status != domain.StatusCompleted:
		t.CompletedAt = nil
	}
	if t.ScheduledAt != nil && t.ScheduledText == "" {
		t.ScheduledText = scheduler.ScheduledText(*t.ScheduledAt, t.AssignedAnchor)
	}
	if err := h.repo.UpdateTask(r.Context(), t); err != nil {
		h.writeError(w, r, "update task", err)
		return
	}
	JSON(w, http.StatusOK, t)
}

// DeleteTask handles DELETE /api/tasks/{id}.
func (h *Handler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if err := h.repo.DeleteTask(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, "delete task", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CompleteTask handles POST /api/tasks/{id}/complete.
func (h *Handler) CompleteTask(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	t, err := h.repo.CompleteTask(r.Context(), userID, chi.URLParam(r, "id"), h.now().UTC())
	if err != nil {
		h.writeError(w, r, "complete task", err)
		return
	}
	h.logger.Info("Task completed", "user_id", userID, "task_id", t.ID)
	JSON(w, http.StatusOK, t)
}

type rescheduleRequest struct {
	Reason string `json:"reason"`
}

// RescheduleTask handles POST /api/tasks/{id}/reschedule. It answers 409
// when the anchor has no free slot within the horizon.
func (h *Handler) RescheduleTask(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	var body rescheduleRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &body); err != nil {
			h.writeError(w, r, "reschedule task", err)
			return
		}
	}
	reason := strings.TrimSpace(body.Reason)
	if reason == "" {
		reason = domain.ReasonUserRequested
	}

	t, err := h.repo.GetTask(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, "reschedule task", err)
		return
	}
	if !t.IsOpen() {
		h.writeError(w, r, "reschedule task", invalidInput("task is already completed"))
		return
	}
	updated, ev, err := h.sched.RescheduleTask(r.Context(), t, reason)
	if err != nil {
		h.writeError(w, r, "reschedule task", err)
		return
	}
	if err := h.repo.RescheduleTask(r.Context(), userID, updated.ID, *updated.ScheduledAt, updated.ScheduledText); err != nil {
		h.writeError(w, r, "reschedule task", err)
		return
	}
	if err := h.events.RecordReschedule(r.Context(), ev); err != nil {
		h.logger.Warn("Failed to record reschedule event", "task_id", ev.TaskID, "error", err)
	}
	JSON(w, http.StatusOK, updated)
}

// RescheduleMissed handles POST /api/tasks/reschedule-missed for the
// calling user.
func (h *Handler) RescheduleMissed(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	moved, err := h.sched.DetectAndRescheduleMissed(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, "reschedule missed", err)
		return
	}
	if moved == nil {
		moved = []*domain.Task{}
	}
	JSON(w, http.StatusOK, map[string]any{
		"rescheduled_count": len(moved),
		"tasks":             moved,
	})
}
