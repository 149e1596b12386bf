// Package orchestrator runs one conversational turn end to end: it
// serializes access to the session, classifies the message, dispatches to
// the planning, confirmation or reply flows and persists the result.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/ashureev/goally/internal/domain"
	"github.com/ashureev/goally/internal/events"
	"github.com/ashureev/goally/internal/gatekeeper"
	"github.com/ashureev/goally/internal/intent"
	"github.com/ashureev/goally/internal/llm"
	"github.com/ashureev/goally/internal/planner"
	"github.com/ashureev/goally/internal/scheduler"
	"github.com/ashureev/goally/internal/session"
	"github.com/ashureev/goally/internal/store"
	"github.com/ashureev/goally/internal/stream"
	"github.com/ashureev/goally/internal/telemetry"
)

// Status messages.
const (
	StatusProcessing  = "Processing your request..."
	StatusClassifying = "Understanding your intent..."
	StatusScheduling  = "Scheduling your tasks..."
)

// Emitter receives the events of a turn in order.
type Emitter func(stream.Event)

// TurnRequest is one user message.
type TurnRequest struct {
	UserID    string
	SessionID string
	Message   string
	// Profile, when set, replaces the session's profile for this and later
	// turns. Otherwise the stored profile, if any, is used.
	Profile *domain.UserProfile
}

// TurnResult is the outcome of a turn, also sent as the complete event.
type TurnResult struct {
	SessionID             string            `json:"session_id"`
	IntentDetected        string            `json:"intent_detected"`
	Response              string            `json:"response"`
	Plan                  *domain.Plan      `json:"plan,omitempty"`
	Progress              domain.Progress   `json:"progress"`
	Actions               []domain.Action   `json:"actions"`
	AwaitingClarification bool              `json:"awaiting_clarification"`
	PendingContext        map[string]string `json:"pending_context,omitempty"`
	StagingPlan           *domain.Plan      `json:"staging_plan,omitempty"`
	AwaitingConfirmation  bool              `json:"awaiting_confirmation"`
}

// ClarificationPayload is the data of a clarification event.
type ClarificationPayload struct {
	Question       string            `json:"question"`
	Attempts       int               `json:"attempts"`
	PendingContext map[string]string `json:"pending_context"`
}

// Options configures an Orchestrator. Events and Logger are optional.
type Options struct {
	Sessions   *session.Manager
	Store      store.Repository
	Router     *intent.Router
	Gatekeeper *gatekeeper.Gatekeeper
	Planner    *planner.Pipeline
	Scheduler  *scheduler.Scheduler
	Generator  llm.Generator
	Events     events.Recorder
	Logger     *slog.Logger
	Now        func() time.Time
}

// Orchestrator handles turns. It is safe for concurrent use; turns on the
// same session are serialized.
type Orchestrator struct {
	sessions  *session.Manager
	store     store.Repository
	router    *intent.Router
	gate      *gatekeeper.Gatekeeper
	planner   *planner.Pipeline
	scheduler *scheduler.Scheduler
	gen       llm.Generator
	events    events.Recorder
	logger    *slog.Logger
	now       func() time.Time
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		sessions:  opts.Sessions,
		store:     opts.Store,
		router:    opts.Router,
		gate:      opts.Gatekeeper,
		planner:   opts.Planner,
		scheduler: opts.Scheduler,
		gen:       opts.Generator,
		events:    opts.Events,
		logger:    opts.Logger,
		now:       opts.Now,
	}
	if o.sessions == nil {
		o.sessions = session.NewManager()
	}
	if o.events == nil {
		o.events = events.NewLogRecorder(opts.Logger)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// turn carries the mutable state of one HandleTurn call.
type turn struct {
	req    TurnRequest
	sess   *domain.Session
	emit   Emitter
	result *TurnResult
	// clarification is set when the turn ends with a question.
	clarification *ClarificationPayload
	// commit is set once confirm has written a goal. Its rows stay only if
	// the session save that ends the turn succeeds.
	commit *events.CommitEvent
}

// HandleTurn processes one message. Events are delivered to emit as they
// happen, ending with complete, clarification or error. The session is
// saved only when the turn succeeds and ctx is still live; otherwise any goal
// and tasks committed during the turn are removed again, so a staged plan is
// committed exactly once however often confirm is retried.
func (o *Orchestrator) HandleTurn(ctx context.Context, req TurnRequest, emit Emitter) (result *TurnResult, err error) {
	if emit == nil {
		emit = func(stream.Event) {}
	}
	ctx, span := telemetry.StartSpan(ctx, "orchestrator.HandleTurn",
		telemetry.AttrUserID.String(req.UserID),
		telemetry.AttrSessionID.String(req.SessionID))
	defer span.End()

	start := time.Now()
	intentLabel := "unknown"
	activeTurns.Inc()
	defer func() {
		activeTurns.Dec()
		outcome := outcomeOf(err)
		turnsTotal.WithLabelValues(intentLabel, outcome).Inc()
		turnDuration.WithLabelValues(intentLabel).Observe(time.Since(start).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(domain.KindOf(err)))
			span.SetAttributes(telemetry.AttrErrorKind.String(string(domain.KindOf(err))))
		}
	}()

	release, err := o.sessions.Acquire(ctx, req.UserID, req.SessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	var t *turn
	defer func() {
		if r := recover(); r != nil {
			if t != nil {
				o.rollbackCommit(ctx, t)
			}
			o.logger.Error("Turn panicked",
				"session_id", req.SessionID,
				"panic", r,
				"stack", string(debug.Stack()))
			result = nil
			err = &domain.Error{Kind: domain.KindInternal, Message: "turn panicked", Err: fmt.Errorf("%v", r)}
			emit(stream.Error(string(domain.KindInternal), domain.UserMessage(err)))
		}
	}()

	stored, err := o.store.LoadSession(ctx, req.UserID, req.SessionID)
	if err != nil {
		return nil, o.fail(ctx, emit, req, fmt.Errorf("load session: %w", err))
	}
	t = &turn{
		req:  req,
		sess: stored.Clone(),
		emit: emit,
		result: &TurnResult{
			SessionID: req.SessionID,
			Actions:   []domain.Action{},
		},
	}
	if req.Profile != nil {
		p := *req.Profile
		p.UserID = req.UserID
		p.Normalize()
		t.sess.Profile = p
	} else if p, err := o.store.GetProfile(ctx, req.UserID); err != nil {
		o.logger.Warn("Failed to load profile, using session copy", "user_id", req.UserID, "error", err)
	} else if p != nil {
		// The stored profile is authoritative once the user has saved one.
		t.sess.Profile = *p
	}

	emit(stream.Status(StatusProcessing))
	emit(stream.Status(StatusClassifying))
	cls, err := o.router.Classify(ctx, req.Message, t.sess)
	degraded := false
	if err != nil {
		if ctx.Err() != nil || domain.KindOf(err) != domain.KindClassificationUnavailable {
			return nil, o.fail(ctx, emit, req, err)
		}
		// Answer with a plain acknowledgment; only the exchange is recorded.
		o.logger.Warn("Classification unavailable, acknowledging", "session_id", req.SessionID, "error", err)
		cls = domain.IntentClassification{Intent: domain.IntentCasual}
		t.result.Response = domain.UserMessage(err)
		degraded = true
	}
	intentLabel = cls.Intent.String()
	t.result.IntentDetected = intentLabel
	span.SetAttributes(telemetry.AttrIntent.String(intentLabel))

	if !degraded {
		o.logger.Info("Intent classified",
			"session_id", req.SessionID,
			"intent", intentLabel,
			"confidence", cls.Confidence)
		if err := o.dispatch(ctx, t, cls.Intent); err != nil {
			o.rollbackCommit(ctx, t)
			return nil, o.fail(ctx, emit, req, err)
		}
	}

	now := o.now()
	t.sess.AddTurn(string(llm.RoleUser), req.Message, now)
	t.sess.AddTurn(string(llm.RoleAssistant), t.result.Response, now)
	t.sess.LastActive = now

	if err := ctx.Err(); err != nil {
		o.logger.Info("Turn cancelled before save", "session_id", req.SessionID)
		o.rollbackCommit(ctx, t)
		return nil, err
	}
	if err := o.store.SaveSession(ctx, t.sess); err != nil {
		o.rollbackCommit(ctx, t)
		return nil, o.fail(ctx, emit, req, &domain.StoreError{Op: "save_session", Err: err})
	}
	o.recordCommit(ctx, t)

	t.result.Progress = t.sess.Progress()
	if t.clarification != nil {
		if ev, err := stream.WithData(stream.TypeClarification, t.clarification); err == nil {
			emit(ev)
		}
	} else if ev, err := stream.WithData(stream.TypeComplete, t.result); err == nil {
		emit(ev)
	}

	o.logger.Info("Turn completed",
		"session_id", req.SessionID,
		"intent", intentLabel,
		"duration", time.Since(start))
	return t.result, nil
}

func (o *Orchestrator) dispatch(ctx context.Context, t *turn, in domain.Intent) error {
	switch in {
	case domain.IntentPlanning, domain.IntentPlanningContinuation:
		return o.handlePlanning(ctx, t, in == domain.IntentPlanningContinuation)
	case domain.IntentConfirm:
		return o.handleConfirm(ctx, t)
	case domain.IntentModify:
		if t.sess.StagingPlan() == nil {
			return o.handleCoaching(ctx, t)
		}
		return o.handleModify(ctx, t)
	case domain.IntentCoaching:
		return o.handleCoaching(ctx, t)
	default:
		return o.handleCasual(ctx, t)
	}
}

// fail emits an error event for err unless the turn was cancelled, and
// returns err.
func (o *Orchestrator) fail(ctx context.Context, emit Emitter, req TurnRequest, err error) error {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		o.logger.Info("Turn cancelled", "session_id", req.SessionID)
		return err
	}
	kind := domain.KindOf(err)
	o.logger.Error("Turn failed",
		"session_id", req.SessionID,
		"user_id", req.UserID,
		"kind", kind,
		"error", err)
	emit(stream.Error(string(kind), domain.UserMessage(err)))
	return err
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return string(domain.KindOf(err))
	}
}
