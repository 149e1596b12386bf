package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ashureev/goally/internal/domain"
	"github.com/ashureev/goally/internal/llm"
)

const (
	historyTurns = 6

	basePrompt = `You are Goally, a warm and practical planning assistant. You help people
turn goals into tiny daily habits anchored to their existing routine. Keep
replies short, concrete and encouraging. Reply in the user's language.`

	casualPrompt = `The user is chatting casually. Respond naturally and, when it fits,
mention that you can turn a goal into a plan of small daily steps.`

	coachingPrompt = `The user wants coaching on their progress. Review their plans, celebrate
what they finished, and help them past setbacks with one concrete next step.
Respond with JSON:
{"response": string,
 "actions": array of {"type": "complete_task" | "update_task" | "refresh_ui",
                      "data": object}}
Use complete_task with {"task_name": string} only when the user says they
finished a task.`
)

func systemPrompt(p domain.UserProfile) string {
	return fmt.Sprintf("%s\n\n## Current User\nName: %s\nRole: %s\nAnchors: %s",
		basePrompt, p.Name, p.Role, strings.Join(p.Anchors, ", "))
}

// history returns recent turns as chat messages followed by msg.
func history(sess *domain.Session, msg string) []llm.Message {
	turns := sess.RecentTurns(historyTurns)
	out := make([]llm.Message, 0, len(turns)+1)
	for _, t := range turns {
		role := llm.RoleUser
		if t.Role == string(llm.RoleAssistant) {
			role = llm.RoleAssistant
		}
		out = append(out, llm.Message{Role: role, Content: t.Content})
	}
	return append(out, llm.User(msg))
}

func (o *Orchestrator) handleCasual(ctx context.Context, t *turn) error {
	msgs := append([]llm.Message{llm.System(systemPrompt(t.sess.Profile) + "\n\n" + casualPrompt)}, history(t.sess, t.req.Message)...)
	resp, err := o.gen.Generate(ctx, llm.Request{Task: llm.TaskCasualReply, Mode: llm.Creative, Messages: msgs})
	if err != nil {
		return replyError(err)
	}
	t.result.Response = strings.TrimSpace(resp.Content)
	return nil
}

type coachingReply struct {
	Response string          `json:"response"`
	Actions  []domain.Action `json:"actions"`
}

func (o *Orchestrator) handleCoaching(ctx context.Context, t *turn) error {
	system := systemPrompt(t.sess.Profile) + "\n\n" + coachingPrompt + "\n\n## User Context\n" + progressContext(t.sess)
	msgs := append([]llm.Message{llm.System(system)}, history(t.sess, t.req.Message)...)
	resp, err := o.gen.Generate(ctx, llm.Request{Task: llm.TaskCoachingReply, Mode: llm.Creative, Messages: msgs})
	if err != nil {
		return replyError(err)
	}

	reply, ok := parseCoaching(resp.Content)
	if !ok {
		t.result.Response = strings.TrimSpace(resp.Content)
		return nil
	}
	t.result.Response = reply.Response
	for _, a := range reply.Actions {
		switch a.Type {
		case domain.ActionCompleteTask:
			if name, _ := a.Data["task_name"].(string); name != "" && !containsFold(t.sess.CompletedTasks, name) {
				t.sess.CompletedTasks = append(t.sess.CompletedTasks, name)
			}
			t.result.Actions = append(t.result.Actions, a)
		case domain.ActionUpdateTask, domain.ActionRefreshUI:
			t.result.Actions = append(t.result.Actions, a)
		default:
			o.logger.Debug("Dropping unsupported coaching action", "type", a.Type)
		}
	}
	return nil
}

// parseCoaching decodes a JSON coaching reply. Plain text replies are
// reported as not ok and used verbatim.
func parseCoaching(content string) (coachingReply, bool) {
	obj := llm.ExtractJSON(content)
	if obj == "" {
		return coachingReply{}, false
	}
	var r coachingReply
	if err := json.Unmarshal([]byte(obj), &r); err != nil || strings.TrimSpace(r.Response) == "" {
		return coachingReply{}, false
	}
	r.Response = strings.TrimSpace(r.Response)
	return r, true
}

func progressContext(sess *domain.Session) string {
	if len(sess.ActivePlans) == 0 {
		return "No active plans yet."
	}
	done := make(map[string]bool)
	for _, n := range sess.CompletedTasks {
		done[strings.ToLower(n)] = true
	}
	var b strings.Builder
	for _, p := range sess.ActivePlans {
		var finished, names []string
		for _, t := range p.Tasks {
			names = append(names, t.Name)
			if t.Status == domain.StatusCompleted || done[strings.ToLower(t.Name)] {
				finished = append(finished, t.Name)
			}
		}
		pct := 0
		if len(p.Tasks) > 0 {
			pct = len(finished) * 100 / len(p.Tasks)
		}
		fmt.Fprintf(&b, "Plan: %s\n- Progress: %d/%d tasks (%d%%)\n", p.ProjectName, len(finished), len(p.Tasks), pct)
		if p.Deadline != nil {
			fmt.Fprintf(&b, "- Deadline: %s\n", p.Deadline.Format("2006-01-02"))
		}
		fmt.Fprintf(&b, "- Tasks: %s\n", strings.Join(names, ", "))
		if len(finished) == 0 {
			b.WriteString("- Completed: none yet\n")
		} else {
			fmt.Fprintf(&b, "- Completed: %s\n", strings.Join(finished, ", "))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

func replyError(err error) error {
	return &domain.Error{Kind: domain.KindInternal, Message: "reply generation failed", Err: err}
}
