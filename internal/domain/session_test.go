package domain

import (
	"encoding/json"
	"testing"
	"time"
)

func TestGoalInProgressVariants(t *testing.T) {
	t.Parallel()

	s := NewSession("s1", "u1", time.Now())
	if s.Goal.Kind() != GoalNone {
		t.Fatalf("new session goal = %s, want none", s.Goal.Kind())
	}

	s.Goal = Gathering(ClarificationState{Question: "how fit?", Context: map[string]string{"goal": "marathon"}, Attempts: 1})
	if s.PendingContext()["goal"] != "marathon" {
		t.Fatalf("pending context = %v", s.PendingContext())
	}
	if s.StagingPlan() != nil {
		t.Fatal("gathering session must not expose a staging plan")
	}
	if s.ClarificationAttempts() != 1 {
		t.Fatalf("attempts = %d, want 1", s.ClarificationAttempts())
	}

	s.Goal = Staged(&Plan{ProjectName: "Run"})
	if s.PendingContext() != nil {
		t.Fatal("staged session must not expose pending context")
	}
	if s.ClarificationAttempts() != 0 {
		t.Fatalf("attempts = %d, want 0 once staged", s.ClarificationAttempts())
	}
	if got := s.StagingPlan(); got == nil || got.ProjectName != "Run" {
		t.Fatalf("staging plan = %+v", got)
	}

	if Staged(nil).Kind() != GoalNone {
		t.Fatal("Staged(nil) should collapse to none")
	}
}

func TestGatheringCopiesContext(t *testing.T) {
	t.Parallel()

	ctx := map[string]string{"goal": "read more"}
	g := Gathering(ClarificationState{Context: ctx})
	ctx["goal"] = "changed"

	c, _ := g.Clarification()
	if c.Context["goal"] != "read more" {
		t.Fatalf("context aliased caller map: %v", c.Context)
	}
}

func TestSessionJSONRoundTrip(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		goal GoalInProgress
	}{
		{"none", NoGoal()},
		{"gathering", Gathering(ClarificationState{Question: "q", Context: map[string]string{"a": "b"}, Attempts: 2})},
		{"staged", Staged(&Plan{ProjectName: "P", Tasks: []MicroTask{{Name: "t", EstimatedMinutes: 10}}})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := NewSession("s", "u", now)
			s.Goal = tt.goal

			b, err := json.Marshal(s)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			var got Session
			if err := json.Unmarshal(b, &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got.Goal.Kind() != tt.goal.Kind() {
				t.Fatalf("kind = %s, want %s", got.Goal.Kind(), tt.goal.Kind())
			}
			if got.ClarificationAttempts() != s.ClarificationAttempts() {
				t.Fatalf("attempts = %d, want %d", got.ClarificationAttempts(), s.ClarificationAttempts())
			}
		})
	}
}

func TestGoalUnmarshalRejectsInconsistentState(t *testing.T) {
	t.Parallel()

	var g GoalInProgress
	if err := json.Unmarshal([]byte(`{"kind":"staged"}`), &g); err == nil {
		t.Fatal("expected error for staged goal without plan")
	}
	if err := json.Unmarshal([]byte(`{"kind":"bogus"}`), &g); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestSessionCloneIsDeep(t *testing.T) {
	t.Parallel()

	s := NewSession("s", "u", time.Now())
	s.Goal = Staged(&Plan{ProjectName: "P", Tasks: []MicroTask{{Name: "a"}}})
	c := s.Clone()
	p, _ := c.Goal.Plan()
	p.Tasks[0].Name = "changed"

	if s.StagingPlan().Tasks[0].Name != "a" {
		t.Fatal("clone shares staged plan with original")
	}
}

func TestProgress(t *testing.T) {
	t.Parallel()

	s := NewSession("s", "u", time.Now())
	s.ActivePlans = []Plan{{Tasks: []MicroTask{
		{Name: "a", Status: StatusCompleted},
		{Name: "b", Status: StatusPending},
		{Name: "c", Status: StatusPending},
	}}}
	s.CompletedTasks = []string{"b"}

	got := s.Progress()
	want := Progress{Completed: 2, Total: 3, Percentage: 67}
	if got != want {
		t.Fatalf("progress = %+v, want %+v", got, want)
	}
}
