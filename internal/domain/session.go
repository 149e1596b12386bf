package domain

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"time"
)

// Turn is one message of conversation history.
type Turn struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// ClarificationState tracks an outstanding clarifying question.
type ClarificationState struct {
	Question string            `json:"question"`
	Context  map[string]string `json:"context"`
	Attempts int               `json:"attempts"`
}

// GoalKind discriminates GoalInProgress.
type GoalKind string

const (
	GoalNone      GoalKind = "none"
	GoalGathering GoalKind = "gathering"
	GoalStaged    GoalKind = "staged"
)

// GoalInProgress is the goal a session is currently working on. A goal is
// either being clarified or awaiting confirmation, never both.
type GoalInProgress struct {
	kind          GoalKind
	clarification *ClarificationState
	plan          *Plan
}

// NoGoal returns the empty goal state.
func NoGoal() GoalInProgress { return GoalInProgress{kind: GoalNone} }

// Gathering returns a goal state that is collecting clarification answers.
func Gathering(c ClarificationState) GoalInProgress {
	c.Context = maps.Clone(c.Context)
	if c.Context == nil {
		c.Context = map[string]string{}
	}
	return GoalInProgress{kind: GoalGathering, clarification: &c}
}

// Staged returns a goal state holding a plan awaiting confirmation.
func Staged(p *Plan) GoalInProgress {
	if p == nil {
		return NoGoal()
	}
	return GoalInProgress{kind: GoalStaged, plan: p}
}

// Kind returns the variant tag.
func (g GoalInProgress) Kind() GoalKind {
	if g.kind == "" {
		return GoalNone
	}
	return g.kind
}

// Clarification returns the clarification state when gathering.
func (g GoalInProgress) Clarification() (ClarificationState, bool) {
	if g.kind != GoalGathering || g.clarification == nil {
		return ClarificationState{}, false
	}
	return *g.clarification, true
}

// Plan returns the staged plan when awaiting confirmation.
func (g GoalInProgress) Plan() (*Plan, bool) {
	if g.kind != GoalStaged || g.plan == nil {
		return nil, false
	}
	return g.plan, true
}

type goalJSON struct {
	Kind          GoalKind            `json:"kind"`
	Clarification *ClarificationState `json:"clarification,omitempty"`
	Plan          *Plan               `json:"plan,omitempty"`
}

func (g GoalInProgress) MarshalJSON() ([]byte, error) {
	out := goalJSON{Kind: g.Kind()}
	switch out.Kind {
	case GoalGathering:
		out.Clarification = g.clarification
	case GoalStaged:
		out.Plan = g.plan
	}
	return json.Marshal(out)
}

func (g *GoalInProgress) UnmarshalJSON(b []byte) error {
	var in goalJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	switch in.Kind {
	case GoalNone, "":
		*g = NoGoal()
	case GoalGathering:
		if in.Clarification == nil {
			return fmt.Errorf("gathering goal without clarification state")
		}
		*g = Gathering(*in.Clarification)
	case GoalStaged:
		if in.Plan == nil {
			return fmt.Errorf("staged goal without plan")
		}
		*g = Staged(in.Plan)
	default:
		return fmt.Errorf("unknown goal kind %q", in.Kind)
	}
	return nil
}

// Session is the per-conversation state owned by one turn at a time.
type Session struct {
	ID             string         `json:"id"`
	UserID         string         `json:"user_id,omitempty"`
	Turns          []Turn         `json:"turns,omitempty"`
	ActivePlans    []Plan         `json:"active_plans,omitempty"`
	Goal           GoalInProgress `json:"goal"`
	Profile        UserProfile    `json:"profile"`
	CompletedTasks []string       `json:"completed_tasks,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	LastActive     time.Time      `json:"last_active"`
}

// NewSession returns a fresh session with a default profile.
func NewSession(id, userID string, now time.Time) *Session {
	return &Session{
		ID:         id,
		UserID:     userID,
		Goal:       NoGoal(),
		Profile:    DefaultProfile(userID),
		CreatedAt:  now,
		LastActive: now,
	}
}

// PendingContext returns the partially gathered clarification facts, or nil.
func (s *Session) PendingContext() map[string]string {
	c, ok := s.Goal.Clarification()
	if !ok {
		return nil
	}
	return c.Context
}

// StagingPlan returns the plan awaiting confirmation, or nil.
func (s *Session) StagingPlan() *Plan {
	p, _ := s.Goal.Plan()
	return p
}

// ClarificationAttempts returns how many clarifying questions have been
// asked for the current goal.
func (s *Session) ClarificationAttempts() int {
	c, _ := s.Goal.Clarification()
	return c.Attempts
}

// AddTurn appends a message to history.
func (s *Session) AddTurn(role, content string, at time.Time) {
	s.Turns = append(s.Turns, Turn{Role: role, Content: content, At: at})
}

// RecentTurns returns the last n turns.
func (s *Session) RecentTurns(n int) []Turn {
	if n >= len(s.Turns) {
		return s.Turns
	}
	return s.Turns[len(s.Turns)-n:]
}

// HasActivePlan reports whether a plan with the given name is committed.
func (s *Session) HasActivePlan(name string) bool {
	for _, p := range s.ActivePlans {
		if p.ProjectName == name {
			return true
		}
	}
	return false
}

// Clone returns a deep copy, used to keep a turn's mutations off the
// stored state until the turn succeeds.
func (s *Session) Clone() *Session {
	c := *s
	c.Turns = append([]Turn(nil), s.Turns...)
	c.CompletedTasks = append([]string(nil), s.CompletedTasks...)
	c.ActivePlans = make([]Plan, len(s.ActivePlans))
	for i := range s.ActivePlans {
		c.ActivePlans[i] = *s.ActivePlans[i].Clone()
	}
	switch s.Goal.Kind() {
	case GoalGathering:
		cl, _ := s.Goal.Clarification()
		c.Goal = Gathering(cl)
	case GoalStaged:
		p, _ := s.Goal.Plan()
		c.Goal = Staged(p.Clone())
	default:
		c.Goal = NoGoal()
	}
	c.Profile.Anchors = append([]string(nil), s.Profile.Anchors...)
	c.Profile.AnchorTimes = maps.Clone(s.Profile.AnchorTimes)
	return &c
}

// Progress summarizes task completion across active plans.
type Progress struct {
	Completed  int `json:"completed"`
	Total      int `json:"total"`
	Percentage int `json:"percentage"`
}

// Progress computes completion over active plans. A task counts as done
// when its status is completed or its name is in CompletedTasks.
func (s *Session) Progress() Progress {
	done := make(map[string]bool, len(s.CompletedTasks))
	for _, name := range s.CompletedTasks {
		done[name] = true
	}
	var p Progress
	for _, plan := range s.ActivePlans {
		for _, t := range plan.Tasks {
			p.Total++
			if t.Status == StatusCompleted || done[t.Name] {
				p.Completed++
			}
		}
	}
	if p.Total > 0 {
		p.Percentage = int(math.Round(float64(p.Completed) / float64(p.Total) * 100))
	}
	return p
}
