package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/goally/internal/domain"
	"github.com/ashureev/goally/internal/identity"
	"github.com/ashureev/goally/internal/scheduler"
	"github.com/ashureev/goally/internal/store"
)

// GetProfile handles GET /api/profile.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	p, err := h.repo.GetProfile(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, "get profile", err)
		return
	}
	if p == nil {
		def := domain.DefaultProfile(userID)
		p = &def
	}
	JSON(w, http.StatusOK, p)
}

// PutProfile handles PUT /api/profile. Empty fields fall back to defaults.
func (h *Handler) PutProfile(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	var p domain.UserProfile
	if err := decodeJSON(w, r, &p); err != nil {
		h.writeError(w, r, "put profile", err)
		return
	}
	p.UserID = userID
	p.Normalize()
	if err := validateProfile(&p); err != nil {
		h.writeError(w, r, "put profile", err)
		return
	}
	if err := h.repo.UpsertProfile(r.Context(), &p); err != nil {
		h.writeError(w, r, "put profile", err)
		return
	}
	h.logger.Info("Profile updated", "user_id", userID, "anchors", len(p.Anchors))
	JSON(w, http.StatusOK, p)
}

func validateProfile(p *domain.UserProfile) error {
	for i, a := range p.Anchors {
		p.Anchors[i] = strings.TrimSpace(a)
		if p.Anchors[i] == "" {
			return invalidInput("anchor %d is empty", i+1)
		}
	}
	for name, at := range p.AnchorTimes {
		if _, err := scheduler.ParseClock(at); err != nil {
			return invalidInput("anchor_times[%q]: %v", name, err)
		}
	}
	if p.Timezone != "" {
		if _, err := time.LoadLocation(p.Timezone); err != nil {
			return invalidInput("unknown timezone %q", p.Timezone)
		}
	}
	return nil
}

// ResetSession handles DELETE /api/session. It drops the conversation,
// including any clarification in progress or staged plan.
func (h *Handler) ResetSession(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())

	release, err := h.sessions.Acquire(r.Context(), userID, sessionID)
	if err != nil {
		return
	}
	defer release()

	if err := h.repo.DeleteSession(r.Context(), userID, sessionID); err != nil {
		h.writeError(w, r, "reset session", err)
		return
	}
	// Drop the tab's chat socket so its client reconnects to the fresh session.
	h.sessions.CloseSession(userID, sessionID)
	h.logger.Info("Session reset", "user_id", userID, "session_id", sessionID)
	w.WriteHeader(http.StatusNoContent)
}

type busyRequest struct {
	Intervals []domain.BusyInterval `json:"intervals"`
}

// PutBusy handles PUT /api/calendar/busy, replacing the user's busy
// intervals.
func (h *Handler) PutBusy(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	var body busyRequest
	if err := decodeJSON(w, r, &body); err != nil {
		h.writeError(w, r, "put busy", err)
		return
	}
	for i, b := range body.Intervals {
		if b.Start.IsZero() || !b.End.After(b.Start) {
			h.writeError(w, r, "put busy", invalidInput("interval %d must end after it starts", i+1))
			return
		}
		body.Intervals[i].Start = b.Start.UTC()
		body.Intervals[i].End = b.End.UTC()
	}
	if err := h.repo.ReplaceBusyIntervals(r.Context(), userID, body.Intervals); err != nil {
		h.writeError(w, r, "put busy", err)
		return
	}
	JSON(w, http.StatusOK, map[string]int{"count": len(body.Intervals)})
}

// ListBusy handles GET /api/calendar/busy?from=&to= (RFC 3339). The window
// defaults to the scheduler horizon from now.
func (h *Handler) ListBusy(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	from, to, err := h.window(r)
	if err != nil {
		h.writeError(w, r, "list busy", err)
		return
	}
	intervals, err := h.repo.ListBusyIntervals(r.Context(), userID, from, to)
	if err != nil {
		h.writeError(w, r, "list busy", err)
		return
	}
	if intervals == nil {
		intervals = []domain.BusyInterval{}
	}
	JSON(w, http.StatusOK, map[string]any{"intervals": intervals})
}

func (h *Handler) window(r *http.Request) (time.Time, time.Time, error) {
	from := h.now()
	to := from.AddDate(0, 0, scheduler.DefaultHorizonDays)
	q := r.URL.Query()
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return from, to, invalidInput("from must be RFC 3339")
		}
		from = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return from, to, invalidInput("to must be RFC 3339")
		}
		to = t
	}
	if !to.After(from) {
		return from, to, invalidInput("to must be after from")
	}
	return from, to, nil
}

// ExecutionMetrics handles GET /api/metrics/execution.
func (h *Handler) ExecutionMetrics(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	tasks, err := h.repo.ListTasks(r.Context(), userID, store.TaskFilter{})
	if err != nil {
		h.writeError(w, r, "execution metrics", err)
		return
	}
	JSON(w, http.StatusOK, scheduler.ComputeMetrics(tasks, h.location(r, userID)))
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	repo    store.Repository
	timeout time.Duration
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(repo store.Repository) *HealthHandler {
	return &HealthHandler{repo: repo, timeout: 5 * time.Second}
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	checks := map[string]string{"api": "ok", "database": "ok"}
	status := "healthy"
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	}

	JSON(w, statusCode, map[string]any{"status": status, "checks": checks})
}
