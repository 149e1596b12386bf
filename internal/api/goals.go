package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ashureev/goally/internal/domain"
	"github.com/ashureev/goally/internal/identity"
)

// GoalInput is the body of goal create and update requests.
type GoalInput struct {
	Title    *string            `json:"title,omitempty"`
	Summary  *string            `json:"summary,omitempty"`
	Deadline *time.Time         `json:"deadline,omitempty"`
	Status   *domain.GoalStatus `json:"status,omitempty"`
}

func (in GoalInput) apply(g *domain.Goal) error {
	if in.Title != nil {
		g.Title = strings.TrimSpace(*in.Title)
	}
	if in.Summary != nil {
		g.Summary = *in.Summary
	}
	if in.Deadline != nil {
		d := in.Deadline.UTC()
		g.Deadline = &d
	}
	if in.Status != nil {
		g.Status = *in.Status
	}
	if g.Title == "" {
		return invalidInput("title is required")
	}
	switch g.Status {
	case "", domain.GoalActive, domain.GoalCompleted, domain.GoalArchived:
		return nil
	default:
		return invalidInput("unknown status %q", g.Status)
	}
}

// ListGoals handles GET /api/goals.
func (h *Handler) ListGoals(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	goals, err := h.repo.ListGoals(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, "list goals", err)
		return
	}
	if goals == nil {
		goals = []*domain.Goal{}
	}
	JSON(w, http.StatusOK, map[string]any{"goals": goals})
}

// CreateGoal handles POST /api/goals.
func (h *Handler) CreateGoal(w http.ResponseWriter, r *http.Request) {
	var in GoalInput
	if err := decodeJSON(w, r, &in); err != nil {
		h.writeError(w, r, "create goal", err)
		return
	}
	g := &domain.Goal{
		ID:     uuid.NewString(),
		UserID: identity.UserIDFromContext(r.Context()),
		Status: domain.GoalActive,
	}
	if err := in.apply(g); err != nil {
		h.writeError(w, r, "create goal", err)
		return
	}
	if err := h.repo.CreateGoal(r.Context(), g); err != nil {
		h.writeError(w, r, "create goal", err)
		return
	}
	JSON(w, http.StatusCreated, g)
}

// UpdateGoal handles PATCH /api/goals/{id}.
func (h *Handler) UpdateGoal(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	var in GoalInput
	if err := decodeJSON(w, r, &in); err != nil {
		h.writeError(w, r, "update goal", err)
		return
	}
	g, err := h.repo.GetGoal(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, "update goal", err)
		return
	}
	if err := in.apply(g); err != nil {
		h.writeError(w, r, "update goal", err)
		return
	}
	if err := h.repo.UpdateGoal(r.Context(), g); err != nil {
		h.writeError(w, r, "update goal", err)
		return
	}
	JSON(w, http.StatusOK, g)
}

// DeleteGoal handles DELETE /api/goals/{id}. The goal's tasks go with it.
func (h *Handler) DeleteGoal(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if err := h.repo.DeleteGoal(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, "delete goal", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
