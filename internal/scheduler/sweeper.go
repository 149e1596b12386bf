package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ashureev/goally/internal/domain"
	"github.com/ashureev/goally/internal/store"
)

// DefaultSweepInterval is how often the sweeper runs.
const DefaultSweepInterval = 5 * time.Minute

const sweepConcurrency = 4

// SessionCleaner removes idle conversation sessions.
type SessionCleaner interface {
	CleanupExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error)
}

// SweepResult summarizes one sweeper pass.
type SweepResult struct {
	Users           int
	Rescheduled     int
	Reminders       int
	SessionsRemoved int64
}

// Sweeper periodically reschedules missed tasks and raises reminders.
type Sweeper struct {
	sched      *Scheduler
	tasks      store.TaskStore
	sessions   SessionCleaner
	sessionTTL time.Duration
	interval   time.Duration
	logger     *slog.Logger
}

// NewSweeper creates a sweeper. sessions may be nil; otherwise sessions idle
// longer than sessionTTL are removed on each pass.
func NewSweeper(sched *Scheduler, sessions SessionCleaner, sessionTTL, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		sched:      sched,
		tasks:      sched.tasks,
		sessions:   sessions,
		sessionTTL: sessionTTL,
		interval:   interval,
		logger:     sched.logger,
	}
}

// Start runs the sweeper in a background goroutine until ctx is done.
func (sw *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(sw.interval)
	go func() {
		defer ticker.Stop()
		sw.logger.Info("Sweeper started", "interval", sw.interval)

		for {
			select {
			case <-ticker.C:
				if _, err := sw.SweepOnce(ctx); err != nil && ctx.Err() == nil {
					sw.logger.Error("Sweep failed", "error", err)
				}
			case <-ctx.Done():
				sw.logger.Info("Sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// SweepOnce runs a single pass: missed tasks for every user with open
// tasks, then due reminders, then idle session cleanup.
func (sw *Sweeper) SweepOnce(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	defer func() { sweepDuration.Observe(time.Since(start).Seconds()) }()

	var res SweepResult
	users, err := sw.tasks.ListUsersWithOpenTasks(ctx)
	if err != nil {
		return res, err
	}
	res.Users = len(users)

	var rescheduled atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepConcurrency)
	for _, userID := range users {
		g.Go(func() error {
			moved, err := sw.sched.DetectAndRescheduleMissed(gctx, userID)
			rescheduled.Add(int64(len(moved)))
			if err != nil {
				// One user's failure must not stop the others.
				sw.logger.Error("Missed-task sweep failed", "user_id", userID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	res.Rescheduled = int(rescheduled.Load())

	res.Reminders = sw.raiseReminders(ctx)

	if sw.sessions != nil && sw.sessionTTL > 0 {
		deleted, err := sw.sessions.CleanupExpiredSessions(ctx, sw.sessionTTL)
		if err != nil {
			sw.logger.Error("Failed to clean up idle sessions", "error", err)
		} else {
			res.SessionsRemoved = deleted
		}
	}

	if res.Rescheduled > 0 || res.Reminders > 0 || res.SessionsRemoved > 0 {
		sw.logger.Info("Sweep completed",
			"users", res.Users,
			"rescheduled", res.Rescheduled,
			"reminders", res.Reminders,
			"sessions_removed", res.SessionsRemoved,
			"duration", time.Since(start))
	}
	return res, ctx.Err()
}

func (sw *Sweeper) raiseReminders(ctx context.Context) int {
	due, err := sw.sched.DueReminders(ctx, sw.sched.now())
	if err != nil {
		sw.logger.Error("Failed to list due reminders", "error", err)
		return 0
	}
	n := 0
	for _, t := range due {
		err := sw.tasks.MarkReminderSent(ctx, t.UserID, t.ID)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			sw.logger.Warn("Failed to mark reminder sent", "task_id", t.ID, "error", err)
			continue
		}
		t.ReminderSent = true
		if sw.sched.events != nil {
			if err := sw.sched.events.RecordReminder(ctx, t); err != nil {
				sw.logger.Warn("Failed to record reminder", "task_id", t.ID, "error", err)
			}
		}
		remindersDue.Inc()
		n++
	}
	return n
}
