// Package llmtest provides a scripted Generator for tests.
package llmtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/ashureev/goally/internal/llm"
)

// Reply is one scripted generator result.
type Reply struct {
	Content string
	Err     error
}

// Scripted returns replies queued per task. When a task's queue has one
// reply left it is repeated for every later call. It is safe for concurrent
// use and records every request it receives.
type Scripted struct {
	mu      sync.Mutex
	replies map[string][]Reply
	calls   []llm.Request
}

// New returns an empty Scripted generator.
func New() *Scripted {
	return &Scripted{replies: make(map[string][]Reply)}
}

// On queues replies for task and returns s for chaining.
func (s *Scripted) On(task string, replies ...Reply) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[task] = append(s.replies[task], replies...)
	return s
}

// Text queues plain content replies for task.
func (s *Scripted) Text(task string, contents ...string) *Scripted {
	replies := make([]Reply, len(contents))
	for i, c := range contents {
		replies[i] = Reply{Content: c}
	}
	return s.On(task, replies...)
}

// Fail queues an error reply for task.
func (s *Scripted) Fail(task string, err error) *Scripted {
	return s.On(task, Reply{Err: err})
}

// Generate implements llm.Generator.
func (s *Scripted) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return llm.Response{}, err
	}

	s.mu.Lock()
	s.calls = append(s.calls, req)
	queue := s.replies[req.Task]
	if len(queue) == 0 {
		s.mu.Unlock()
		return llm.Response{}, fmt.Errorf("llmtest: no reply scripted for task %q", req.Task)
	}
	r := queue[0]
	if len(queue) > 1 {
		s.replies[req.Task] = queue[1:]
	}
	s.mu.Unlock()

	if r.Err != nil {
		return llm.Response{}, r.Err
	}
	content := r.Content
	if req.JSON {
		var err error
		if content, err = llm.NormalizeJSON(content); err != nil {
			return llm.Response{}, err
		}
	}
	return llm.Response{Content: content, Model: "scripted"}, nil
}

// Calls returns a copy of the requests received so far.
func (s *Scripted) Calls() []llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Request(nil), s.calls...)
}

// CallCount returns how many requests for task were received. An empty
// task counts every request.
func (s *Scripted) CallCount(task string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if task == "" || c.Task == task {
			n++
		}
	}
	return n
}
