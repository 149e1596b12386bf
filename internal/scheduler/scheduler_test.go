package scheduler

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/goally/internal/domain"
	"github.com/ashureev/goally/internal/store"
)

// Tuesday.
var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func at(day, hour, minute int) time.Time {
	return time.Date(2026, 3, day, hour, minute, 0, 0, time.UTC)
}

type recordingSink struct {
	mu         sync.Mutex
	reschedule []*domain.RescheduleEvent
	reminders  []string
}

func (r *recordingSink) RecordReschedule(_ context.Context, ev *domain.RescheduleEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reschedule = append(r.reschedule, ev)
	return nil
}

func (r *recordingSink) RecordReminder(_ context.Context, t *domain.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reminders = append(r.reminders, t.ID)
	return nil
}

func newTestScheduler(t *testing.T, now time.Time) (*Scheduler, *store.MemoryStore, *recordingSink) {
	t.Helper()
	mem := store.NewMemory()
	sink := &recordingSink{}
	s := New(Options{
		Tasks:    mem,
		Profiles: mem,
		Busy:     mem,
		Events:   sink,
		Now:      func() time.Time { return now },
	})
	return s, mem, sink
}

func addTask(t *testing.T, mem *store.MemoryStore, id, anchor string, scheduled time.Time, minutes int) *domain.Task {
	t.Helper()
	task := &domain.Task{
		ID:     id,
		UserID: "u1",
		MicroTask: domain.MicroTask{
			Name:             "task " + id,
			EstimatedMinutes: minutes,
			EnergyRequired:   domain.EnergyMedium,
			AssignedAnchor:   anchor,
			ScheduledAt:      &scheduled,
			Status:           domain.StatusPending,
		},
	}
	require.NoError(t, mem.CreateTask(context.Background(), task))
	return task
}

func TestAnchorToTimestamp(t *testing.T) {
	t.Parallel()

	ref := at(10, 3, 0)
	tests := []struct {
		anchor string
		prefs  map[string]string
		want   time.Time
	}{
		{"Morning Coffee", nil, at(10, 8, 0)},
		{"morning coffee", nil, at(10, 8, 0)},
		{"Mid-Morning", nil, at(10, 10, 30)},
		{"After Lunch", nil, at(10, 13, 30)},
		{"Mid-Afternoon", nil, at(10, 15, 30)},
		{"End of Day", nil, at(10, 17, 0)},
		{"Quick walk after dinner", nil, at(10, 19, 30)},
		{"Before Bed", nil, at(10, 21, 0)},
		{"Whenever", nil, at(10, 14, 0)},
		{"After Lunch", map[string]string{"after lunch": "12:45"}, at(10, 12, 45)},
		{"After Lunch", map[string]string{"After Lunch": "bogus"}, at(10, 13, 30)},
	}
	for _, tt := range tests {
		got := AnchorToTimestamp(tt.anchor, ref, tt.prefs, time.UTC)
		assert.True(t, tt.want.Equal(got), "%s: got %s want %s", tt.anchor, got, tt.want)
	}

	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	got := AnchorToTimestamp("Morning Coffee", ref, nil, ny)
	assert.Equal(t, 8, got.Hour())
	assert.Equal(t, ny, got.Location())
	assert.Equal(t, 9, got.Day(), "03:00 UTC is still the previous day in New York")
}

func TestBucketsAndFallbacks(t *testing.T) {
	t.Parallel()

	c := DefaultCatalog()
	tests := []struct {
		anchor    string
		bucket    Bucket
		fallbacks []string
	}{
		{"Morning Coffee", BucketMorning, []string{"Mid-Morning"}},
		{"Breakfast", BucketMorning, []string{"Morning Coffee", "Mid-Morning"}},
		{"After Lunch", BucketMidday, []string{"Mid-Afternoon"}},
		{"End of Day", BucketEvening, []string{"Evening", "After Dinner"}},
		{"Before Bed", BucketEvening, []string{"End of Day", "Evening", "After Dinner"}},
		{"Start Laptop", BucketUnknown, []string{"After Lunch", "Mid-Afternoon", "End of Day"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.bucket, c.BucketOf(tt.anchor), tt.anchor)
		assert.Equal(t, tt.fallbacks, c.Fallbacks(tt.anchor), tt.anchor)
	}
}

func TestLoadCatalog(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "anchors.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
anchors:
  - name: Morning Coffee
    time: "06:45"
  - name: School Run
    time: "07:30"
    bucket: morning
fallbacks:
  morning: ["School Run", "Morning Coffee"]
`), 0o600))

	c, err := LoadCatalog(path)
	require.NoError(t, err)
	assert.Equal(t, Clock{6, 45}, c.TimeOf("Morning Coffee"))
	assert.Equal(t, Clock{7, 30}, c.TimeOf("School Run"))
	assert.Equal(t, Clock{17, 0}, c.TimeOf("End of Day"), "defaults remain for names the file omits")
	assert.Equal(t, BucketMorning, c.BucketOf("School Run"))
	assert.Equal(t, []string{"Morning Coffee"}, c.Fallbacks("School Run"))

	require.NoError(t, os.WriteFile(path, []byte("anchors:\n  - name: Bad\n    time: \"25:99\"\n"), 0o600))
	_, err = LoadCatalog(path)
	require.Error(t, err)
}

func TestFindNextAvailableSlot(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("same anchor today", func(t *testing.T) {
		t.Parallel()
		s, _, _ := newTestScheduler(t, testNow)
		slot, anchor, err := s.FindNextAvailableSlot(ctx, "u1", "After Lunch", testNow, 15*time.Minute)
		require.NoError(t, err)
		assert.True(t, at(10, 13, 30).Equal(slot))
		assert.Equal(t, "After Lunch", anchor)
	})

	t.Run("past anchor moves to tomorrow", func(t *testing.T) {
		t.Parallel()
		s, _, _ := newTestScheduler(t, testNow)
		slot, _, err := s.FindNextAvailableSlot(ctx, "u1", "Morning Coffee", testNow, 15*time.Minute)
		require.NoError(t, err)
		assert.True(t, at(11, 8, 0).Equal(slot))
	})

	t.Run("busy task pushes to next day", func(t *testing.T) {
		t.Parallel()
		s, mem, _ := newTestScheduler(t, testNow)
		addTask(t, mem, "t1", "After Lunch", at(10, 13, 30), 20)
		slot, _, err := s.FindNextAvailableSlot(ctx, "u1", "After Lunch", testNow, 15*time.Minute)
		require.NoError(t, err)
		assert.True(t, at(11, 13, 30).Equal(slot))
	})

	t.Run("calendar blocks whole horizon so bucket fallback is used", func(t *testing.T) {
		t.Parallel()
		s, mem, _ := newTestScheduler(t, testNow)
		var busy []domain.BusyInterval
		for d := 10; d < 18; d++ {
			busy = append(busy, domain.BusyInterval{Start: at(d, 13, 0), End: at(d, 14, 0), Summary: "standup"})
		}
		require.NoError(t, mem.ReplaceBusyIntervals(ctx, "u1", busy))
		slot, anchor, err := s.FindNextAvailableSlot(ctx, "u1", "After Lunch", testNow, 15*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, "Mid-Afternoon", anchor)
		assert.True(t, at(10, 15, 30).Equal(slot))
	})

	t.Run("nothing free returns no slot", func(t *testing.T) {
		t.Parallel()
		s, mem, _ := newTestScheduler(t, testNow)
		require.NoError(t, mem.ReplaceBusyIntervals(ctx, "u1", []domain.BusyInterval{
			{Start: at(9, 0, 0), End: at(20, 0, 0)},
		}))
		_, _, err := s.FindNextAvailableSlot(ctx, "u1", "After Lunch", testNow, 15*time.Minute)
		require.ErrorIs(t, err, domain.ErrNoAvailableSlot)
		assert.Equal(t, domain.KindNoAvailableSlot, domain.KindOf(err))
	})

	t.Run("tolerance accepts small overlaps", func(t *testing.T) {
		t.Parallel()
		mem := store.NewMemory()
		s := New(Options{Tasks: mem, Busy: mem, Config: Config{Tolerance: 5 * time.Minute}, Now: func() time.Time { return testNow }})
		require.NoError(t, mem.ReplaceBusyIntervals(ctx, "u1", []domain.BusyInterval{
			{Start: at(10, 13, 40), End: at(10, 14, 30)},
		}))
		slot, _, err := s.FindNextAvailableSlot(ctx, "u1", "After Lunch", testNow, 15*time.Minute)
		require.NoError(t, err)
		assert.True(t, at(10, 13, 30).Equal(slot))
	})

	t.Run("user preferred time", func(t *testing.T) {
		t.Parallel()
		s, mem, _ := newTestScheduler(t, testNow)
		require.NoError(t, mem.UpsertProfile(ctx, &domain.UserProfile{
			UserID:      "u1",
			Anchors:     []string{"After Lunch"},
			AnchorTimes: map[string]string{"After Lunch": "12:50"},
		}))
		slot, _, err := s.FindNextAvailableSlot(ctx, "u1", "After Lunch", testNow, 15*time.Minute)
		require.NoError(t, err)
		assert.True(t, at(10, 12, 50).Equal(slot))
	})
}

func TestFindNextAvailableSlotNeverOverlaps(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	rng := rand.New(rand.NewPCG(7, 42))
	anchors := []string{"Morning Coffee", "Mid-Morning", "After Lunch", "Mid-Afternoon", "End of Day", "Evening", "Something"}

	for trial := 0; trial < 50; trial++ {
		s, mem, _ := newTestScheduler(t, testNow)
		var busy []domain.BusyInterval
		for i := 0; i < 25; i++ {
			start := testNow.Add(time.Duration(rng.IntN(8*24*60)) * time.Minute)
			busy = append(busy, domain.BusyInterval{Start: start, End: start.Add(time.Duration(10+rng.IntN(170)) * time.Minute)})
		}
		require.NoError(t, mem.ReplaceBusyIntervals(ctx, "u1", busy))
		for i := 0; i < 5; i++ {
			addTask(t, mem, fmt.Sprintf("t%d-%d", trial, i), anchors[rng.IntN(len(anchors))],
				testNow.Add(time.Duration(rng.IntN(7*24))*time.Hour), 5+rng.IntN(16))
		}
		tasks, err := mem.ListTasks(ctx, "u1", store.TaskFilter{OpenOnly: true})
		require.NoError(t, err)
		for _, tk := range tasks {
			busy = append(busy, domain.BusyInterval{Start: *tk.ScheduledAt, End: tk.ScheduledAt.Add(tk.Duration())})
		}

		anchor := anchors[rng.IntN(len(anchors))]
		dur := time.Duration(5+rng.IntN(16)) * time.Minute
		slot, _, err := s.FindNextAvailableSlot(ctx, "u1", anchor, testNow, dur)
		if err != nil {
			require.ErrorIs(t, err, domain.ErrNoAvailableSlot)
			continue
		}
		assert.False(t, slot.Before(testNow))
		for _, b := range busy {
			assert.Zero(t, b.Overlap(slot, slot.Add(dur)), "trial %d: slot %s overlaps %s-%s", trial, slot, b.Start, b.End)
		}
	}
}

func TestDetectAndRescheduleMissed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := at(10, 15, 30)
	s, mem, sink := newTestScheduler(t, now)

	missed := addTask(t, mem, "missed", "After Lunch", now.Add(-2*time.Hour), 15)
	addTask(t, mem, "tomorrow", "After Lunch", at(11, 13, 30), 15)
	addTask(t, mem, "future", "End of Day", at(10, 17, 0), 10)
	done := addTask(t, mem, "done", "Morning Coffee", at(10, 8, 0), 10)
	_, err := mem.CompleteTask(ctx, "u1", done.ID, at(10, 8, 10))
	require.NoError(t, err)

	moved, err := s.DetectAndRescheduleMissed(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, moved, 1)

	got := moved[0]
	assert.Equal(t, missed.ID, got.ID)
	require.NotNil(t, got.ScheduledAt)
	assert.True(t, got.ScheduledAt.After(now))
	assert.Equal(t, BucketMidday, s.Catalog().BucketOf(got.AssignedAnchor))
	assert.Equal(t, 13, got.ScheduledAt.Hour())
	assert.Equal(t, 30, got.ScheduledAt.Minute())
	assert.True(t, at(12, 13, 30).Equal(*got.ScheduledAt), "tomorrow's After Lunch is taken")
	assert.True(t, got.WasRescheduled)
	assert.Equal(t, "Thu 13:30 (After Lunch)", got.ScheduledText)

	stored, err := mem.GetTask(ctx, "u1", missed.ID)
	require.NoError(t, err)
	assert.True(t, stored.ScheduledAt.Equal(*got.ScheduledAt))

	others, err := mem.ListTasks(ctx, "u1", store.TaskFilter{OpenOnly: true})
	require.NoError(t, err)
	for _, o := range others {
		if o.ID == got.ID {
			continue
		}
		iv := domain.BusyInterval{Start: *o.ScheduledAt, End: o.ScheduledAt.Add(o.Duration())}
		assert.Zero(t, iv.Overlap(*got.ScheduledAt, got.ScheduledAt.Add(got.Duration())))
	}

	require.Len(t, sink.reschedule, 1)
	ev := sink.reschedule[0]
	assert.Equal(t, domain.ReasonMissedDeadline, ev.Reason)
	assert.Equal(t, missed.ID, ev.TaskID)
	assert.NotEmpty(t, ev.ID)
	require.NotNil(t, ev.From)
	assert.True(t, ev.From.Equal(now.Add(-2*time.Hour)))
}

func TestDetectAndRescheduleMissedKeepsResultsApart(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := at(10, 20, 0)
	s, mem, _ := newTestScheduler(t, now)
	for i := 0; i < 3; i++ {
		addTask(t, mem, fmt.Sprintf("m%d", i), "After Lunch", at(10, 13, 30), 15)
	}

	moved, err := s.DetectAndRescheduleMissed(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, moved, 3)
	for i := range moved {
		for j := i + 1; j < len(moved); j++ {
			a := domain.BusyInterval{Start: *moved[i].ScheduledAt, End: moved[i].ScheduledAt.Add(moved[i].Duration())}
			assert.Zero(t, a.Overlap(*moved[j].ScheduledAt, moved[j].ScheduledAt.Add(moved[j].Duration())))
		}
	}
}

func TestMissedGrace(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := at(10, 14, 0)
	mem := store.NewMemory()
	s := New(Options{Tasks: mem, Config: Config{MissedGrace: time.Hour}, Now: func() time.Time { return now }})
	addTask(t, mem, "recent", "After Lunch", at(10, 13, 30), 15)

	moved, err := s.DetectAndRescheduleMissed(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, moved)
}

func TestScheduleCommitted(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestScheduler(t, testNow)
	plan := &domain.Plan{Tasks: []domain.MicroTask{
		{Name: "a", EstimatedMinutes: 20, AssignedAnchor: "After Lunch"},
		{Name: "b", EstimatedMinutes: 20, AssignedAnchor: "After Lunch"},
		{Name: "c", EstimatedMinutes: 10, AssignedAnchor: "Morning Coffee"},
	}}
	require.NoError(t, s.ScheduleCommitted(context.Background(), "u1", plan))

	for _, tk := range plan.Tasks {
		require.NotNil(t, tk.ScheduledAt, tk.Name)
		assert.NotEmpty(t, tk.ScheduledText)
	}
	assert.True(t, at(10, 13, 30).Equal(*plan.Tasks[0].ScheduledAt))
	assert.True(t, at(11, 13, 30).Equal(*plan.Tasks[1].ScheduledAt))
	assert.True(t, at(11, 8, 0).Equal(*plan.Tasks[2].ScheduledAt))
}

func TestFindNextAvailableSlotCountsDaysInProfileZone(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	mem := store.NewMemory()
	require.NoError(t, mem.UpsertProfile(ctx, &domain.UserProfile{UserID: "u1", Timezone: "America/New_York"}))
	// Saturday morning is taken; clocks spring forward early on Sunday.
	require.NoError(t, mem.ReplaceBusyIntervals(ctx, "u1", []domain.BusyInterval{{
		Start: time.Date(2026, 3, 7, 8, 0, 0, 0, ny),
		End:   time.Date(2026, 3, 7, 9, 0, 0, 0, ny),
	}}))
	s := New(Options{Tasks: mem, Profiles: mem, Busy: mem, Config: Config{HorizonDays: 3}})

	// Friday 23:30 in New York, already Saturday in UTC.
	notBefore := time.Date(2026, 3, 7, 4, 30, 0, 0, time.UTC)
	slot, anchor, err := s.FindNextAvailableSlot(ctx, "u1", "Morning Coffee", notBefore, 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "Morning Coffee", anchor)
	assert.True(t, time.Date(2026, 3, 8, 8, 0, 0, 0, ny).Equal(slot), "got %s", slot.In(ny))
}

// racingStore completes a task right after the scheduler reads it.
type racingStore struct {
	*store.MemoryStore
	completeID string
}

func (r *racingStore) ListTasks(ctx context.Context, userID string, f store.TaskFilter) ([]*domain.Task, error) {
	tasks, err := r.MemoryStore.ListTasks(ctx, userID, f)
	if err == nil && r.completeID != "" {
		_, err = r.MemoryStore.CompleteTask(ctx, userID, r.completeID, testNow)
	}
	return tasks, err
}

func (r *racingStore) ListReminderCandidates(ctx context.Context, from, to time.Time) ([]*domain.Task, error) {
	tasks, err := r.MemoryStore.ListReminderCandidates(ctx, from, to)
	if err == nil && r.completeID != "" {
		_, err = r.MemoryStore.CompleteTask(ctx, "u1", r.completeID, testNow)
	}
	return tasks, err
}

func TestSweepNeverUndoesCompletion(t *testing.T) {
	t.Parallel()

	t.Run("missed task", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		now := at(10, 15, 30)
		mem := store.NewMemory()
		addTask(t, mem, "missed", "After Lunch", at(10, 9, 0), 15)
		sink := &recordingSink{}
		s := New(Options{
			Tasks:  &racingStore{MemoryStore: mem, completeID: "missed"},
			Events: sink,
			Now:    func() time.Time { return now },
		})

		moved, err := s.DetectAndRescheduleMissed(ctx, "u1")
		require.NoError(t, err)
		assert.Empty(t, moved)
		assert.Empty(t, sink.reschedule)

		got, err := mem.GetTask(ctx, "u1", "missed")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCompleted, got.Status)
		require.NotNil(t, got.CompletedAt)
		assert.True(t, at(10, 9, 0).Equal(*got.ScheduledAt))
		assert.False(t, got.WasRescheduled)
	})

	t.Run("reminder", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		now := at(10, 13, 15)
		mem := store.NewMemory()
		addTask(t, mem, "soon", "After Lunch", at(10, 13, 30), 15)
		sink := &recordingSink{}
		s := New(Options{
			Tasks:  &racingStore{MemoryStore: mem, completeID: "soon"},
			Events: sink,
			Now:    func() time.Time { return now },
		})

		assert.Zero(t, NewSweeper(s, nil, 0, time.Minute).raiseReminders(ctx))
		assert.Empty(t, sink.reminders)

		got, err := mem.GetTask(ctx, "u1", "soon")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCompleted, got.Status)
		assert.False(t, got.ReminderSent)
	})
}

func TestRevalidatePlan(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, mem, _ := newTestScheduler(t, testNow)
	keep := at(10, 13, 30)
	past := at(10, 8, 0)
	taken := at(12, 17, 0)
	require.NoError(t, mem.ReplaceBusyIntervals(ctx, "u1", []domain.BusyInterval{{Start: taken, End: taken.Add(time.Hour)}}))

	plan := &domain.Plan{Tasks: []domain.MicroTask{
		{Name: "kept", EstimatedMinutes: 15, AssignedAnchor: "After Lunch", ScheduledAt: &keep, ScheduledText: ScheduledText(keep, "After Lunch")},
		{Name: "past", EstimatedMinutes: 15, AssignedAnchor: "Morning Coffee", ScheduledAt: &past},
		{Name: "taken", EstimatedMinutes: 15, AssignedAnchor: "End of Day", ScheduledAt: &taken},
		{Name: "unset", EstimatedMinutes: 15, AssignedAnchor: "After Lunch"},
	}}
	moved, err := s.RevalidatePlan(ctx, "u1", plan)
	require.NoError(t, err)
	assert.Equal(t, 3, moved)

	assert.True(t, keep.Equal(*plan.Tasks[0].ScheduledAt))
	assert.True(t, at(11, 8, 0).Equal(*plan.Tasks[1].ScheduledAt))
	assert.True(t, at(10, 17, 0).Equal(*plan.Tasks[2].ScheduledAt))
	assert.True(t, at(11, 13, 30).Equal(*plan.Tasks[3].ScheduledAt), "today's After Lunch is held by the kept task")
	for _, tk := range plan.Tasks {
		assert.NotEmpty(t, tk.ScheduledText, tk.Name)
	}

	// A plan whose slots are all still free is left alone.
	moved, err = s.RevalidatePlan(ctx, "u1", plan)
	require.NoError(t, err)
	assert.Zero(t, moved)
}

func TestSweeperRemindersAndReschedule(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := at(10, 13, 15)
	s, mem, sink := newTestScheduler(t, now)
	addTask(t, mem, "soon", "After Lunch", at(10, 13, 30), 15)
	addTask(t, mem, "missed", "Morning Coffee", at(10, 8, 0), 15)
	addTask(t, mem, "later", "End of Day", at(10, 17, 0), 15)

	sw := NewSweeper(s, nil, 0, time.Minute)
	res, err := sw.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Users)
	assert.Equal(t, 1, res.Rescheduled)
	assert.Equal(t, 1, res.Reminders)
	assert.Equal(t, []string{"soon"}, sink.reminders)

	soon, err := mem.GetTask(ctx, "u1", "soon")
	require.NoError(t, err)
	assert.True(t, soon.ReminderSent)

	res, err = sw.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Reminders, "a reminder is raised once")
	assert.Zero(t, res.Rescheduled)
}

func TestComputeMetrics(t *testing.T) {
	t.Parallel()

	sched := at(10, 8, 0)
	sameDay := at(10, 9, 0)
	nextDay := at(11, 9, 0)
	tasks := []*domain.Task{
		{MicroTask: domain.MicroTask{Status: domain.StatusCompleted, ScheduledAt: &sched}, CompletedAt: &sameDay},
		{MicroTask: domain.MicroTask{Status: domain.StatusCompleted, ScheduledAt: &sched, WasRescheduled: true}, CompletedAt: &nextDay},
		{MicroTask: domain.MicroTask{Status: domain.StatusPending, ScheduledAt: &sched, WasRescheduled: true}},
	}

	m := ComputeMetrics(tasks, time.UTC)
	assert.Equal(t, 3, m.TotalTasks)
	assert.Equal(t, 2, m.CompletedTasks)
	assert.Equal(t, 2, m.RescheduledTasks)
	assert.InDelta(t, 66.7, m.CompletionRate, 1e-9)
	assert.InDelta(t, 50.0, m.OnTimeRate, 1e-9)
	assert.InDelta(t, 50.0, m.RescheduleSuccessRate, 1e-9)

	assert.Equal(t, ExecutionMetrics{}, ComputeMetrics(nil, nil))
}
