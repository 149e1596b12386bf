//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/goally/internal/domain"
	"github.com/ashureev/goally/internal/gatekeeper"
	"github.com/ashureev/goally/internal/identity"
	"github.com/ashureev/goally/internal/intent"
	"github.com/ashureev/goally/internal/llm"
	"github.com/ashureev/goally/internal/llm/llmtest"
	"github.com/ashureev/goally/internal/orchestrator"
	"github.com/ashureev/goally/internal/planner"
	"github.com/ashureev/goally/internal/scheduler"
	"github.com/ashureev/goally/internal/session"
	"github.com/ashureev/goally/internal/store"
)

// Monday morning.
var testNow = time.Date(2026, 3, 9, 7, 0, 0, 0, time.UTC)

const (
	testUser        = "anon_0123456789abcdef0123456789abcdef"
	testSession     = "tab-1"
	classifyCasual  = `{"intent":"casual","confidence":0.8}`
	casualReplyText = "Hi there! How can I help you plan today?"
)

type testEnv struct {
	repo    store.Repository
	gen     *llmtest.Scripted
	handler *Handler
	router  http.Handler
}

type envConfig struct {
	opts Options
	gen  *llmtest.Scripted
}

type envOption func(*envConfig)

func withRateLimit(n int) envOption {
	return func(c *envConfig) { c.opts.ChatRateLimit = n }
}

// withGenerator replaces the default casual-reply script.
func withGenerator(gen *llmtest.Scripted) envOption {
	return func(c *envConfig) { c.gen = gen }
}

func newTestEnv(t *testing.T, repo store.Repository, opts ...envOption) *testEnv {
	t.Helper()
	if repo == nil {
		repo = store.NewMemory()
	}
	cfg := envConfig{gen: llmtest.New().
		Text(llm.TaskClassifyIntent, classifyCasual).
		Text(llm.TaskCasualReply, casualReplyText)}
	for _, opt := range opts {
		opt(&cfg)
	}
	gen := cfg.gen
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	now := func() time.Time { return testNow }
	sessions := session.NewManager()
	sched := scheduler.New(scheduler.Options{
		Tasks: repo, Profiles: repo, Busy: repo, Now: now, Logger: logger,
	})
	orch := orchestrator.New(orchestrator.Options{
		Sessions:   sessions,
		Store:      repo,
		Router:     intent.NewRouter(gen, logger),
		Gatekeeper: gatekeeper.New(gen, 0, logger),
		Planner:    planner.New(gen, sched.Catalog(), logger),
		Scheduler:  sched,
		Generator:  gen,
		Logger:     logger,
		Now:        now,
	})

	o := cfg.opts
	o.Repo = repo
	o.Orchestrator = orch
	o.Scheduler = sched
	o.Sessions = sessions
	o.Logger = logger
	o.IsDev = true
	o.Now = now
	h := NewHandler(o)
	t.Cleanup(h.Close)

	r := chi.NewRouter()
	r.Get("/health", NewHealthHandler(repo).Health)
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, true))
		h.RegisterRoutes(r)
	})
	return &testEnv{repo: repo, gen: gen, handler: h, router: r}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.AddCookie(&http.Cookie{Name: identity.AnonCookieName, Value: testUser})
	req.Header.Set(identity.SessionHeaderName, testSession)
	if rdr != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestJSON(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	JSON(w, http.StatusOK, map[string]string{"foo": "bar"})

	resp := w.Result()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var got map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "bar", got["foo"])
}

func TestStatusOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("find slot: %w", domain.ErrNoAvailableSlot), http.StatusConflict},
		{invalidInput("bad"), http.StatusBadRequest},
		{&domain.PipelineError{Violations: []string{"x"}}, http.StatusUnprocessableEntity},
		{domain.ErrClassificationUnavailable, http.StatusServiceUnavailable},
		{domain.ErrRateLimited, http.StatusTooManyRequests},
		{&domain.StoreError{Op: "create_task", Err: errors.New("disk full")}, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusOf(tt.err), "%v", tt.err)
	}
}

type downRepo struct {
	*store.MemoryStore
}

func (downRepo) Ping(context.Context) error { return errors.New("database is locked") }

func TestHealth(t *testing.T) {
	t.Parallel()

	t.Run("healthy", func(t *testing.T) {
		t.Parallel()
		rec := newTestEnv(t, nil).do(t, http.MethodGet, "/health", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "healthy", decode[map[string]any](t, rec)["status"])
	})

	t.Run("degraded", func(t *testing.T) {
		t.Parallel()
		rec := newTestEnv(t, downRepo{store.NewMemory()}).do(t, http.MethodGet, "/health", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		body := decode[map[string]any](t, rec)
		assert.Equal(t, "degraded", body["status"])
		assert.Equal(t, "unreachable", body["checks"].(map[string]any)["database"])
	})
}

func TestProfile(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/api/profile", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	p := decode[domain.UserProfile](t, rec)
	assert.Equal(t, domain.DefaultAnchors, p.Anchors)
	assert.Equal(t, testUser, p.UserID)

	rec = env.do(t, http.MethodPut, "/api/profile", map[string]any{
		"name":         "Ada",
		"anchors":      []string{"Morning Coffee", " Gym "},
		"anchor_times": map[string]string{"Gym": "06:30"},
		"timezone":     "Europe/Berlin",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	p = decode[domain.UserProfile](t, rec)
	assert.Equal(t, "Ada", p.Name)
	assert.Equal(t, domain.DefaultUserRole, p.Role)
	assert.Equal(t, []string{"Morning Coffee", "Gym"}, p.Anchors)

	tests := []struct {
		name string
		body any
	}{
		{"bad clock", map[string]any{"anchor_times": map[string]string{"Gym": "25:99"}}},
		{"bad timezone", map[string]any{"timezone": "Mars/Olympus"}},
		{"unknown field", map[string]any{"favourite_colour": "blue"}},
		{"not json", "{"},
	}
	for _, tt := range tests {
		rec := env.do(t, http.MethodPut, "/api/profile", tt.body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, tt.name)
		assert.Equal(t, string(domain.KindInvalidInput), decode[map[string]string](t, rec)["error"], tt.name)
	}
}

func TestTaskLifecycle(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/tasks", map[string]any{
		"task_name":         "Stretch",
		"estimated_minutes": 10,
		"energy_required":   "Low",
		"assigned_anchor":   "After Lunch",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[domain.Task](t, rec)
	require.NotNil(t, created.ScheduledAt)
	assert.Equal(t, time.Date(2026, 3, 9, 13, 30, 0, 0, time.UTC), created.ScheduledAt.UTC())
	assert.Equal(t, domain.EnergyLow, created.EnergyRequired)
	assert.Equal(t, domain.StatusPending, created.Status)
	assert.Contains(t, created.ScheduledText, "After Lunch")

	rec = env.do(t, http.MethodGet, "/api/tasks?open=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct{ Tasks []domain.Task }](t, rec)
	require.Len(t, list.Tasks, 1)
	assert.Equal(t, created.ID, list.Tasks[0].ID)

	rec = env.do(t, http.MethodPatch, "/api/tasks/"+created.ID, map[string]any{"task_name": "Stretch hamstrings"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Stretch hamstrings", decode[domain.Task](t, rec).Name)

	rec = env.do(t, http.MethodPatch, "/api/tasks/"+created.ID, map[string]any{"energy_required": "extreme"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/tasks/"+created.ID+"/complete", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	done := decode[domain.Task](t, rec)
	assert.Equal(t, domain.StatusCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)

	rec = env.do(t, http.MethodGet, "/api/tasks?open=true", nil)
	assert.Empty(t, decode[struct{ Tasks []domain.Task }](t, rec).Tasks)

	rec = env.do(t, http.MethodGet, "/api/metrics/execution", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	m := decode[scheduler.ExecutionMetrics](t, rec)
	assert.Equal(t, 1, m.TotalTasks)
	assert.Equal(t, 1, m.CompletedTasks)
	assert.InDelta(t, 100.0, m.CompletionRate, 1e-9)

	rec = env.do(t, http.MethodDelete, "/api/tasks/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(t, http.MethodDelete, "/api/tasks/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(domain.KindNotFound), decode[map[string]string](t, rec)["error"])
}

func TestCreateTaskValidation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	tests := []struct {
		name string
		body map[string]any
		code int
	}{
		{"missing name", map[string]any{"estimated_minutes": 10}, http.StatusBadRequest},
		{"zero minutes", map[string]any{"task_name": "x", "estimated_minutes": 0}, http.StatusBadRequest},
		{"unknown goal", map[string]any{"task_name": "x", "estimated_minutes": 5, "goal_id": "nope"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		rec := env.do(t, http.MethodPost, "/api/tasks", tt.body)
		assert.Equal(t, tt.code, rec.Code, tt.name)
	}
}

func TestRescheduleTask(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/tasks", map[string]any{
		"task_name": "Read a chapter", "estimated_minutes": 15, "assigned_anchor": "After Lunch",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[domain.Task](t, rec)

	rec = env.do(t, http.MethodPost, "/api/tasks/"+created.ID+"/reschedule", map[string]string{"reason": "too busy"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	moved := decode[domain.Task](t, rec)
	assert.True(t, moved.WasRescheduled)
	require.NotNil(t, moved.ScheduledAt)
	assert.True(t, moved.ScheduledAt.After(*created.ScheduledAt))

	evs, err := env.repo.ListRescheduleEvents(context.Background(), testUser)
	require.NoError(t, err)
	// The handler's default recorder only logs.
	assert.Empty(t, evs)

	rec = env.do(t, http.MethodPut, "/api/calendar/busy", map[string]any{
		"intervals": []map[string]any{{"start": testNow, "end": testNow.AddDate(0, 1, 0), "summary": "Vacation"}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/tasks/"+created.ID+"/reschedule", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(domain.KindNoAvailableSlot), decode[map[string]string](t, rec)["error"])

	rec = env.do(t, http.MethodPost, "/api/tasks/missing/reschedule", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRescheduleMissed(t *testing.T) {
	t.Parallel()
	repo := store.NewMemory()
	past := testNow.Add(-20 * time.Hour)
	require.NoError(t, repo.CreateTask(context.Background(), &domain.Task{
		ID: "t1", UserID: testUser,
		MicroTask: domain.MicroTask{
			Name: "Journal", EstimatedMinutes: 10, EnergyRequired: domain.EnergyLow,
			AssignedAnchor: "End of Day", ScheduledAt: &past, Status: domain.StatusPending,
		},
	}))
	env := newTestEnv(t, repo)

	rec := env.do(t, http.MethodPost, "/api/tasks/reschedule-missed", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode[struct {
		RescheduledCount int           `json:"rescheduled_count"`
		Tasks            []domain.Task `json:"tasks"`
	}](t, rec)
	assert.Equal(t, 1, body.RescheduledCount)
	require.Len(t, body.Tasks, 1)
	assert.Equal(t, time.Date(2026, 3, 9, 17, 0, 0, 0, time.UTC), body.Tasks[0].ScheduledAt.UTC())
}

func TestGoals(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/goals", map[string]any{"title": "Learn Spanish"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	g := decode[domain.Goal](t, rec)
	assert.Equal(t, domain.GoalActive, g.Status)

	rec = env.do(t, http.MethodPost, "/api/tasks", map[string]any{
		"task_name": "Duolingo lesson", "estimated_minutes": 10, "goal_id": g.ID,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodPatch, "/api/goals/"+g.ID, map[string]any{"status": "completed"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.GoalCompleted, decode[domain.Goal](t, rec).Status)

	rec = env.do(t, http.MethodPatch, "/api/goals/"+g.ID, map[string]any{"status": "paused"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/goals", nil)
	require.Len(t, decode[struct{ Goals []domain.Goal }](t, rec).Goals, 1)

	rec = env.do(t, http.MethodDelete, "/api/goals/"+g.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/tasks?goal_id="+g.ID, nil)
	assert.Empty(t, decode[struct{ Tasks []domain.Task }](t, rec).Tasks)
}

func TestBusyIntervals(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPut, "/api/calendar/busy", map[string]any{
		"intervals": []map[string]any{
			{"start": testNow.Add(2 * time.Hour), "end": testNow.Add(3 * time.Hour), "summary": "Standup"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/calendar/busy", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[struct{ Intervals []domain.BusyInterval }](t, rec)
	require.Len(t, got.Intervals, 1)
	assert.Equal(t, "Standup", got.Intervals[0].Summary)

	rec = env.do(t, http.MethodPut, "/api/calendar/busy", map[string]any{
		"intervals": []map[string]any{{"start": testNow, "end": testNow}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/calendar/busy?from=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResetSession(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	sess := domain.NewSession(testSession, testUser, testNow)
	sess.Goal = domain.Gathering(domain.ClarificationState{Question: "Level?", Context: map[string]string{"goal": "run"}, Attempts: 1})
	require.NoError(t, env.repo.SaveSession(context.Background(), sess))

	rec := env.do(t, http.MethodDelete, "/api/session", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	loaded, err := env.repo.LoadSession(context.Background(), testUser, testSession)
	require.NoError(t, err)
	assert.Equal(t, domain.GoalNone, loaded.Goal.Kind())
}
