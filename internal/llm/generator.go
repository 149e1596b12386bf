// Package llm defines the text-generation contract the planning core depends
// on, plus the decorators and backends that implement it.
package llm

import (
	"context"
	"errors"
	"fmt"
	"reflect"
)

// Mode selects the sampling configuration for a call.
type Mode int

const (
	// Deterministic is used for structured calls such as classification.
	Deterministic Mode = iota
	// Creative is used for free-text conversational replies.
	Creative
)

func (m Mode) String() string {
	if m == Creative {
		return "creative"
	}
	return "deterministic"
}

// Role is a chat message author.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat message sent to a generator.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Task names identify what a call is for; they label metrics and scripted
// test replies.
const (
	TaskClassifyIntent = "classify_intent"
	TaskAssessGoal     = "assess_goal"
	TaskRefineGoal     = "refine_goal"
	TaskSplitTasks     = "split_tasks"
	TaskMatchContext   = "match_context"
	TaskModifyPlan     = "modify_plan"
	TaskCasualReply    = "casual_reply"
	TaskCoachingReply  = "coaching_reply"
	TaskPlanningReply  = "planning_reply"
)

// Request is one generation call.
type Request struct {
	Task     string
	Mode     Mode
	Messages []Message
	// JSON asks for a single JSON object. Backends return ErrParse when the
	// output holds none, and otherwise return just the object.
	JSON bool
	// Decode, when set, checks a successful output against the caller's
	// schema. Decorators run it so that an ErrParse it returns is handled
	// like a backend parse failure.
	Decode func(content string) error
}

// Response is a generator's output.
type Response struct {
	Content string
	Model   string
}

// Generator produces text for a request.
type Generator interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req Request) (Response, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

var (
	// ErrRateLimited reports that the backend throttled the call.
	ErrRateLimited = errors.New("llm: rate limited")
	// ErrParse reports output that could not be parsed as requested.
	ErrParse = errors.New("llm: unparseable output")
)

// Retryable reports whether err should be retried on a fallback generator.
func Retryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrParse)
}

// System and User build messages.
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }

// User builds a user message.
func User(content string) Message { return Message{Role: RoleUser, Content: content} }

// GenerateJSON runs a JSON-mode request and decodes the object into v.
// Decoding failures are reported as ErrParse, and a fallback decorator in g
// sees them before giving up on the primary generator.
func GenerateJSON(ctx context.Context, g Generator, req Request, v any) error {
	task := req.Task
	decode := func(content string) error {
		if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer && !rv.IsNil() {
			rv.Elem().SetZero()
		}
		if err := decodeStrict(content, v); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrParse, task, err)
		}
		return nil
	}
	req.JSON = true
	req.Decode = decode
	resp, err := g.Generate(ctx, req)
	if err != nil {
		return err
	}
	return decode(resp.Content)
}
