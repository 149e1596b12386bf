// Package scheduler maps routine anchors to concrete times and keeps
// committed tasks in conflict-free slots, rescheduling them when they are
// missed.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/goally/internal/domain"
	"github.com/ashureev/goally/internal/store"
)

// Defaults.
const (
	DefaultHorizonDays  = 7
	DefaultTaskDuration = 15 * time.Minute
)

// BusyProvider lists externally occupied windows, typically a calendar.
type BusyProvider interface {
	ListBusyIntervals(ctx context.Context, userID string, from, to time.Time) ([]domain.BusyInterval, error)
}

// EventSink receives scheduling events.
type EventSink interface {
	RecordReschedule(ctx context.Context, ev *domain.RescheduleEvent) error
	RecordReminder(ctx context.Context, t *domain.Task) error
}

// Config tunes the slot search.
type Config struct {
	HorizonDays int
	// Tolerance is how much overlap with a busy interval is accepted.
	Tolerance time.Duration
	// MissedGrace delays when a past task counts as missed.
	MissedGrace time.Duration
}

// Options wires a Scheduler.
type Options struct {
	Tasks    store.TaskStore
	Profiles store.ProfileStore
	Busy     BusyProvider
	Events   EventSink
	Catalog  *Catalog
	Config   Config
	Now      func() time.Time
	Logger   *slog.Logger
}

// Scheduler finds slots for tasks.
type Scheduler struct {
	tasks    store.TaskStore
	profiles store.ProfileStore
	busy     BusyProvider
	events   EventSink
	catalog  *Catalog
	cfg      Config
	now      func() time.Time
	logger   *slog.Logger
}

// New creates a Scheduler. Tasks is required; every other option has a
// usable zero value.
func New(opts Options) *Scheduler {
	s := &Scheduler{
		tasks:    opts.Tasks,
		profiles: opts.Profiles,
		busy:     opts.Busy,
		events:   opts.Events,
		catalog:  opts.Catalog,
		cfg:      opts.Config,
		now:      opts.Now,
		logger:   opts.Logger,
	}
	if s.catalog == nil {
		s.catalog = defaultCatalog
	}
	if s.cfg.HorizonDays <= 0 {
		s.cfg.HorizonDays = DefaultHorizonDays
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Catalog returns the anchor catalog in use.
func (s *Scheduler) Catalog() *Catalog { return s.catalog }

type userPrefs struct {
	times map[string]string
	loc   *time.Location
}

func (s *Scheduler) prefs(ctx context.Context, userID string) (userPrefs, error) {
	p := userPrefs{loc: time.UTC}
	if s.profiles == nil {
		return p, nil
	}
	profile, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		return p, fmt.Errorf("load profile: %w", err)
	}
	if profile == nil {
		return p, nil
	}
	p.times = profile.AnchorTimes
	if profile.Timezone != "" {
		loc, err := time.LoadLocation(profile.Timezone)
		if err != nil {
			s.logger.Warn("Unknown profile timezone, using UTC", "user_id", userID, "timezone", profile.Timezone)
		} else {
			p.loc = loc
		}
	}
	return p, nil
}

// busyWindows gathers the user's open scheduled tasks and external busy
// intervals over [from, to) concurrently.
func (s *Scheduler) busyWindows(ctx context.Context, userID string, from, to time.Time) ([]domain.BusyInterval, error) {
	var taskWindows, external []domain.BusyInterval

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		tasks, err := s.tasks.ListTasks(gctx, userID, store.TaskFilter{OpenOnly: true})
		if err != nil {
			return fmt.Errorf("list scheduled tasks: %w", err)
		}
		for _, t := range tasks {
			if t.ScheduledAt == nil {
				continue
			}
			start := *t.ScheduledAt
			taskWindows = append(taskWindows, domain.BusyInterval{
				Start:   start,
				End:     start.Add(taskDuration(t.MicroTask)),
				Summary: t.Name,
			})
		}
		return nil
	})
	if s.busy != nil {
		g.Go(func() error {
			iv, err := s.busy.ListBusyIntervals(gctx, userID, from, to)
			if err != nil {
				return fmt.Errorf("list busy intervals: %w", err)
			}
			external = iv
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return append(taskWindows, external...), nil
}

func taskDuration(t domain.MicroTask) time.Duration {
	if t.EstimatedMinutes <= 0 {
		return DefaultTaskDuration
	}
	return t.Duration()
}

// FindNextAvailableSlot returns the earliest free time at or after
// notBefore for anchor, searching HorizonDays days forward. If the anchor has
// no free slot in the horizon, the fallback anchors of its bucket are tried
// in order. It returns the slot and the anchor it belongs to, or
// domain.ErrNoAvailableSlot.
func (s *Scheduler) FindNextAvailableSlot(ctx context.Context, userID, anchor string, notBefore time.Time, duration time.Duration) (time.Time, string, error) {
	return s.findSlot(ctx, userID, anchor, notBefore, duration, nil)
}

func (s *Scheduler) findSlot(ctx context.Context, userID, anchor string, notBefore time.Time, duration time.Duration, reserved []domain.BusyInterval) (time.Time, string, error) {
	if duration <= 0 {
		duration = DefaultTaskDuration
	}
	prefs, err := s.prefs(ctx, userID)
	if err != nil {
		return time.Time{}, "", err
	}
	horizonEnd := notBefore.AddDate(0, 0, s.cfg.HorizonDays+1)
	busy, err := s.busyWindows(ctx, userID, notBefore, horizonEnd)
	if err != nil {
		return time.Time{}, "", err
	}
	busy = append(busy, reserved...)

	// Days are counted in the user's zone, not notBefore's.
	localStart := notBefore.In(prefs.loc)
	candidates := append([]string{anchor}, s.catalog.Fallbacks(anchor)...)
	for _, name := range candidates {
		for day := 0; day < s.cfg.HorizonDays; day++ {
			slot := s.catalog.Timestamp(name, localStart.AddDate(0, 0, day), prefs.times, prefs.loc)
			if slot.Before(notBefore) {
				continue
			}
			if s.fits(slot, slot.Add(duration), busy) {
				return slot, name, nil
			}
		}
	}
	slotSearchFailures.Inc()
	return time.Time{}, "", fmt.Errorf("%w: anchor %q after %s", domain.ErrNoAvailableSlot, anchor, notBefore.Format(time.RFC3339))
}

func (s *Scheduler) fits(start, end time.Time, busy []domain.BusyInterval) bool {
	for _, b := range busy {
		if b.Overlap(start, end) > s.cfg.Tolerance {
			return false
		}
	}
	return true
}

// ScheduledText renders a slot for display, e.g. "Tue 13:30 (After Lunch)".
func ScheduledText(at time.Time, anchor string) string {
	return fmt.Sprintf("%s (%s)", at.Format("Mon 15:04"), anchor)
}

// RescheduleTask moves t to the next free slot for its anchor, searching
// from now. It returns an updated copy and the event describing the move;
// the caller persists both.
func (s *Scheduler) RescheduleTask(ctx context.Context, t *domain.Task, reason string) (*domain.Task, *domain.RescheduleEvent, error) {
	return s.reschedule(ctx, t, reason, nil)
}

func (s *Scheduler) reschedule(ctx context.Context, t *domain.Task, reason string, reserved []domain.BusyInterval) (*domain.Task, *domain.RescheduleEvent, error) {
	now := s.now()
	anchor := t.AssignedAnchor
	if strings.TrimSpace(anchor) == "" {
		anchor = "After Lunch"
	}
	slot, slotAnchor, err := s.findSlot(ctx, t.UserID, anchor, now, taskDuration(t.MicroTask), reserved)
	if err != nil {
		return nil, nil, err
	}

	updated := *t
	updated.ScheduledAt = &slot
	updated.ScheduledText = ScheduledText(slot, slotAnchor)
	updated.WasRescheduled = true
	updated.ReminderSent = false

	ev := &domain.RescheduleEvent{
		ID:     ulid.Make().String(),
		TaskID: t.ID,
		UserID: t.UserID,
		From:   t.ScheduledAt,
		To:     slot,
		Anchor: slotAnchor,
		Reason: reason,
		At:     now.UTC(),
	}
	reschedules.WithLabelValues(reason).Inc()
	return &updated, ev, nil
}

// ScheduleCommitted assigns a slot to every task of plan, searching from
// now. Tasks are placed in order and never overlap each other. Nothing is
// persisted; the plan is typically staged for confirmation afterwards.
func (s *Scheduler) ScheduleCommitted(ctx context.Context, userID string, plan *domain.Plan) error {
	now := s.now()
	var reserved []domain.BusyInterval
	for i := range plan.Tasks {
		t := &plan.Tasks[i]
		d := taskDuration(*t)
		slot, anchor, err := s.findSlot(ctx, userID, t.AssignedAnchor, now, d, reserved)
		if err != nil {
			return fmt.Errorf("schedule %q: %w", t.Name, err)
		}
		t.ScheduledAt = &slot
		t.ScheduledText = ScheduledText(slot, anchor)
		reserved = append(reserved, domain.BusyInterval{Start: slot, End: slot.Add(d), Summary: t.Name})
	}
	return nil
}

// RevalidatePlan re-checks the slots of a staged plan before it is
// committed. Slots that are unset, already past, or now overlap an open task
// or busy interval are moved to the next free slot; the rest are kept. It
// returns how many tasks moved.
func (s *Scheduler) RevalidatePlan(ctx context.Context, userID string, plan *domain.Plan) (int, error) {
	now := s.now()
	busy, err := s.busyWindows(ctx, userID, now, now.AddDate(0, 0, s.cfg.HorizonDays+1))
	if err != nil {
		return 0, err
	}

	var (
		reserved []domain.BusyInterval
		stale    []int
	)
	for i := range plan.Tasks {
		t := &plan.Tasks[i]
		if t.ScheduledAt == nil || t.ScheduledAt.Before(now) {
			stale = append(stale, i)
			continue
		}
		start, end := *t.ScheduledAt, t.ScheduledAt.Add(taskDuration(*t))
		if !s.fits(start, end, busy) || !s.fits(start, end, reserved) {
			stale = append(stale, i)
			continue
		}
		reserved = append(reserved, domain.BusyInterval{Start: start, End: end, Summary: t.Name})
	}

	for _, i := range stale {
		t := &plan.Tasks[i]
		d := taskDuration(*t)
		slot, anchor, err := s.findSlot(ctx, userID, t.AssignedAnchor, now, d, reserved)
		if err != nil {
			return 0, fmt.Errorf("schedule %q: %w", t.Name, err)
		}
		t.ScheduledAt = &slot
		t.ScheduledText = ScheduledText(slot, anchor)
		reserved = append(reserved, domain.BusyInterval{Start: slot, End: slot.Add(d), Summary: t.Name})
	}
	return len(stale), nil
}

// DetectAndRescheduleMissed reschedules every open task of userID whose
// slot passed more than MissedGrace ago. Only the new slot is persisted, so
// a task completed meanwhile stays completed and is skipped. Events are
// recorded for moved tasks. A task with no free slot is skipped and logged.
func (s *Scheduler) DetectAndRescheduleMissed(ctx context.Context, userID string) ([]*domain.Task, error) {
	tasks, err := s.tasks.ListTasks(ctx, userID, store.TaskFilter{OpenOnly: true})
	if err != nil {
		return nil, fmt.Errorf("list open tasks: %w", err)
	}
	cutoff := s.now().Add(-s.cfg.MissedGrace)

	var missed []*domain.Task
	for _, t := range tasks {
		if t.IsOpen() && t.ScheduledAt != nil && t.ScheduledAt.Before(cutoff) {
			missed = append(missed, t)
		}
	}
	slices.SortFunc(missed, func(a, b *domain.Task) int { return a.ScheduledAt.Compare(*b.ScheduledAt) })

	var (
		out      []*domain.Task
		reserved []domain.BusyInterval
	)
	for _, t := range missed {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		updated, ev, err := s.reschedule(ctx, t, domain.ReasonMissedDeadline, reserved)
		if errors.Is(err, domain.ErrNoAvailableSlot) {
			s.logger.Warn("No slot for missed task", "user_id", userID, "task_id", t.ID, "anchor", t.AssignedAnchor)
			continue
		}
		if err != nil {
			return out, fmt.Errorf("reschedule task %s: %w", t.ID, err)
		}
		err = s.tasks.RescheduleTask(ctx, userID, t.ID, *updated.ScheduledAt, updated.ScheduledText)
		if errors.Is(err, domain.ErrNotFound) {
			// Completed or deleted since it was listed.
			continue
		}
		if err != nil {
			return out, fmt.Errorf("save rescheduled task %s: %w", t.ID, err)
		}
		s.recordReschedule(ctx, ev)
		reserved = append(reserved, domain.BusyInterval{
			Start: *updated.ScheduledAt,
			End:   updated.ScheduledAt.Add(taskDuration(updated.MicroTask)),
		})
		s.logger.Info("Rescheduled missed task",
			"user_id", userID,
			"task_id", t.ID,
			"from", ev.From,
			"to", ev.To,
			"anchor", ev.Anchor)
		out = append(out, updated)
	}
	return out, nil
}

func (s *Scheduler) recordReschedule(ctx context.Context, ev *domain.RescheduleEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.RecordReschedule(ctx, ev); err != nil {
		s.logger.Warn("Failed to record reschedule event", "task_id", ev.TaskID, "error", err)
	}
}

// Reminder window: tasks starting ReminderLead from now, give or take
// ReminderSlack.
const (
	ReminderLead  = 15 * time.Minute
	ReminderSlack = 2 * time.Minute
)

// DueReminders returns open, un-reminded tasks starting about ReminderLead
// after now.
func (s *Scheduler) DueReminders(ctx context.Context, now time.Time) ([]*domain.Task, error) {
	target := now.Add(ReminderLead)
	tasks, err := s.tasks.ListReminderCandidates(ctx, target.Add(-ReminderSlack), target.Add(ReminderSlack))
	if err != nil {
		return nil, fmt.Errorf("list reminder candidates: %w", err)
	}
	return tasks, nil
}
