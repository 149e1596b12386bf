// Package api provides HTTP handlers for the goally API.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/goally/internal/domain"
	"github.com/ashureev/goally/internal/events"
	"github.com/ashureev/goally/internal/orchestrator"
	"github.com/ashureev/goally/internal/scheduler"
	"github.com/ashureev/goally/internal/session"
	"github.com/ashureev/goally/internal/store"
)

const (
	defaultMaxRequestBodySize = 1 << 20
	defaultChatRateLimit      = 20
	defaultChatRateWindow     = time.Minute
)

// Options wires a Handler. Events, Logger and Now are optional.
type Options struct {
	Repo          store.Repository
	Orchestrator  *orchestrator.Orchestrator
	Scheduler     *scheduler.Scheduler
	Sessions      *session.Manager
	Events        events.Recorder
	Logger        *slog.Logger
	AllowedOrigin string
	IsDev         bool
	// ChatRateLimit caps chat turns per user per ChatRateWindow.
	ChatRateLimit  int
	ChatRateWindow time.Duration
	Now            func() time.Time
}

// Handler serves the goally HTTP API.
type Handler struct {
	repo          store.Repository
	orch          *orchestrator.Orchestrator
	sched         *scheduler.Scheduler
	sessions      *session.Manager
	events        events.Recorder
	logger        *slog.Logger
	rateLimiter   *RateLimiter
	allowedOrigin string
	isDev         bool
	now           func() time.Time
}

// NewHandler creates a Handler.
func NewHandler(opts Options) *Handler {
	h := &Handler{
		repo:          opts.Repo,
		orch:          opts.Orchestrator,
		sched:         opts.Scheduler,
		sessions:      opts.Sessions,
		events:        opts.Events,
		logger:        opts.Logger,
		allowedOrigin: opts.AllowedOrigin,
		isDev:         opts.IsDev,
		now:           opts.Now,
	}
	if h.sessions == nil {
		h.sessions = session.NewManager()
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.events == nil {
		h.events = events.NewLogRecorder(h.logger)
	}
	if h.now == nil {
		h.now = time.Now
	}
	limit, window := opts.ChatRateLimit, opts.ChatRateWindow
	if limit <= 0 {
		limit = defaultChatRateLimit
	}
	if window <= 0 {
		window = defaultChatRateWindow
	}
	h.rateLimiter = NewRateLimiter(limit, window)
	return h
}

// Close releases handler resources.
func (h *Handler) Close() {
	h.rateLimiter.Stop()
}

// RegisterRoutes registers the API routes. Identity middleware must already
// be installed on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Route("/chat", func(r chi.Router) {
			r.Post("/", h.Chat)
			r.Post("/stream", h.ChatStream)
			r.Get("/ws", h.ChatWebSocket)
		})
		r.Delete("/session", h.ResetSession)

		r.Get("/profile", h.GetProfile)
		r.Put("/profile", h.PutProfile)

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", h.ListTasks)
			r.Post("/", h.CreateTask)
			r.Post("/reschedule-missed", h.RescheduleMissed)
			r.Route("/{id}", func(r chi.Router) {
				r.Patch("/", h.UpdateTask)
				r.Delete("/", h.DeleteTask)
				r.Post("/complete", h.CompleteTask)
				r.Post("/reschedule", h.RescheduleTask)
			})
		})

		r.Route("/goals", func(r chi.Router) {
			r.Get("/", h.ListGoals)
			r.Post("/", h.CreateGoal)
			r.Patch("/{id}", h.UpdateGoal)
			r.Delete("/{id}", h.DeleteGoal)
		})

		r.Get("/calendar/busy", h.ListBusy)
		r.Put("/calendar/busy", h.PutBusy)

		r.Get("/metrics/execution", h.ExecutionMetrics)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// StatusOf maps an error to its HTTP status by kind.
func StatusOf(err error) int {
	switch domain.KindOf(err) {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindNoAvailableSlot:
		return http.StatusConflict
	case domain.KindInvalidInput:
		return http.StatusBadRequest
	case domain.KindPipelineValidation:
		return http.StatusUnprocessableEntity
	case domain.KindRateLimited:
		return http.StatusTooManyRequests
	case domain.KindClassificationUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError logs err and writes it as {"error": kind, "message": ...}.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := StatusOf(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", "op", op, "path", r.URL.Path, "error", err)
	} else {
		h.logger.Debug("Request rejected", "op", op, "path", r.URL.Path, "error", err)
	}
	JSON(w, status, map[string]string{
		"error":   string(domain.KindOf(err)),
		"message": domain.UserMessage(err),
	})
}

func invalidInput(format string, args ...any) error {
	return &domain.Error{Kind: domain.KindInvalidInput, Message: fmt.Sprintf(format, args...)}
}

// decodeJSON reads a size-limited JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, defaultMaxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return invalidInput("request body too large")
		case errors.Is(err, io.EOF):
			return invalidInput("request body is empty")
		default:
			return invalidInput("invalid request body: %v", err)
		}
	}
	return nil
}

// location returns the user's time zone, UTC when unset or unknown.
func (h *Handler) location(r *http.Request, userID string) *time.Location {
	p, err := h.repo.GetProfile(r.Context(), userID)
	if err != nil || p == nil || p.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
