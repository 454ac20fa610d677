// Package polling implements the blocking poll loop agents run between
// turns. One call returns everything actionable: unread messages and
// claimable tasks. Exit codes follow the swarm contract: 0 content,
// 1 timeout, 3 stand_down or retire.
package polling

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ai-janitor/minion-factory-sub000/internal/classes"
	"github.com/ai-janitor/minion-factory-sub000/internal/comms"
	"github.com/ai-janitor/minion-factory-sub000/internal/flow"
	"github.com/ai-janitor/minion-factory-sub000/internal/store"
)

// Swarm poll exit codes.
const (
	ExitContent = 0
	ExitTimeout = 1
	ExitSignal  = 3
)

type R = map[string]any

// CheckSignals returns "stand_down" or "retire" when the agent should
// stop polling, empty otherwise.
func CheckSignals(s *store.Store, agent string) string {
	if s.FlagGet("stand_down") == "1" {
		return "stand_down"
	}
	row, _ := s.QueryMap(`SELECT agent_name FROM agent_retire WHERE agent_name = ?`, agent)
	if row != nil {
		return "retire"
	}
	return ""
}

// HasUnread peeks at the inbox without consuming anything.
func HasUnread(s *store.Store, agent string) bool {
	direct, _ := s.QueryMap(
		`SELECT COUNT(*) AS n FROM messages WHERE to_agent = ? AND read_flag = 0`, agent)
	if store.Int(direct, "n") > 0 {
		return true
	}
	broadcast, _ := s.QueryMap(
		`SELECT COUNT(*) AS n FROM messages
         WHERE to_agent = 'all' AND from_agent != ?
         AND id NOT IN (SELECT message_id FROM broadcast_reads WHERE agent_name = ?)`,
		agent, agent)
	return store.Int(broadcast, "n") > 0
}

// FindAvailableTasks lists claimable tasks for this agent without
// claiming them. Search order: already-assigned work, then open tasks
// for the agent's class, then fixed and verified handoffs for
// reviewers. Tasks with unresolved blockers are filtered out.
func FindAvailableTasks(s *store.Store, agent string) []R {
	if s.FlagGet("moon_crash") == "1" {
		return nil
	}
	row, _ := s.GetAgent(agent)
	if row == nil {
		return nil
	}
	agentClass := store.Str(row, "agent_class")

	isReviewer := false
	for _, c := range classes.Default().ClassesWith(classes.CapReview) {
		if c == agentClass {
			isReviewer = true
			break
		}
	}

	const cols = `id, title, task_file, status, class_required, blocked_by`
	var candidates []R

	actives := activeStatuses()
	marks := make([]string, len(actives))
	args := make([]any, 0, len(actives)+1)
	args = append(args, agent)
	for i, st := range actives {
		marks[i] = "?"
		args = append(args, st)
	}
	candidates, _ = s.QueryMaps(
		`SELECT `+cols+` FROM tasks WHERE assigned_to = ? AND status IN (`+strings.Join(marks, ",")+`)
         ORDER BY created_at ASC LIMIT 10`, args...)

	if len(candidates) == 0 {
		candidates, _ = s.QueryMaps(
			`SELECT `+cols+` FROM tasks
             WHERE status = 'open' AND class_required = ? AND assigned_to IS NULL
             ORDER BY created_at ASC LIMIT 10`, agentClass)
	}
	if len(candidates) == 0 && isReviewer {
		candidates, _ = s.QueryMaps(
			`SELECT ` + cols + ` FROM tasks WHERE status = 'fixed' AND assigned_to IS NULL
             ORDER BY created_at ASC LIMIT 10`)
	}
	if len(candidates) == 0 && isReviewer {
		candidates, _ = s.QueryMaps(
			`SELECT ` + cols + ` FROM tasks WHERE status = 'verified' AND assigned_to IS NULL
             ORDER BY created_at ASC LIMIT 10`)
	}

	var result []R
	for _, task := range candidates {
		if hasOpenBlockers(s, store.Str(task, "blocked_by")) {
			continue
		}
		taskID := store.Int(task, "id")
		result = append(result, R{
			"task_id":   taskID,
			"title":     store.Str(task, "title"),
			"status":    store.Str(task, "status"),
			"task_file": store.Str(task, "task_file"),
			"claim_cmd": fmt.Sprintf("minion pull-task --agent %s --task-id %d", agent, taskID),
		})
	}
	return result
}

func hasOpenBlockers(s *store.Store, blockedBy string) bool {
	if blockedBy == "" {
		return false
	}
	var ids []any
	var marks []string
	for _, raw := range strings.Split(blockedBy, ",") {
		if raw = strings.TrimSpace(raw); raw != "" {
			if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
				ids = append(ids, id)
				marks = append(marks, "?")
			}
		}
	}
	if len(ids) == 0 {
		return false
	}
	open, _ := s.QueryMap(
		`SELECT COUNT(*) AS n FROM tasks WHERE id IN (`+strings.Join(marks, ",")+`) AND status != 'closed'`,
		ids...)
	return store.Int(open, "n") > 0
}

// activeStatuses resolves the non-terminal, non-dead-end stage set
// from the bugfix flow, with a hardcoded fallback when no flow files
// are installed.
func activeStatuses() []string {
	f, err := flow.Load("bugfix")
	if err != nil {
		return []string{"open", "assigned", "in_progress", "fixed", "verified"}
	}
	return f.ActiveStatuses()
}

// PollOnce does one non-blocking pass: signals, messages, tasks.
func PollOnce(s *store.Store, agent string) (R, int) {
	if signal := CheckSignals(s, agent); signal != "" {
		action := "Do NOT restart polling. You have been retired from the party."
		if signal == "stand_down" {
			action = "Do NOT restart polling. The party has been dismissed."
		}
		return R{"signal": signal, "action": action}, ExitSignal
	}

	hasMessages := HasUnread(s, agent)
	tasks := FindAvailableTasks(s, agent)
	if !hasMessages && len(tasks) == 0 {
		return nil, ExitTimeout
	}

	result := R{}
	if hasMessages {
		inbox, err := comms.CheckInbox(s, agent)
		if err == nil && inbox["error"] == nil {
			result["messages"] = inbox["messages"]
		}
	}
	if len(tasks) > 0 {
		result["tasks"] = tasks
	}

	if row, _ := s.GetAgent(agent); row != nil && store.Str(row, "transport") == "terminal" {
		result["transport_hint"] = fmt.Sprintf(
			"RESTART POLLING: Run `minion poll --agent %s` as a background task again. "+
				"Do NOT add --timeout. It blocks forever until the next message arrives.", agent)
	}
	return result, ExitContent
}

// PollLoop blocks until messages or tasks arrive, a signal fires, or
// the timeout elapses. timeout zero means wait forever.
func PollLoop(ctx context.Context, s *store.Store, agent string, interval, timeout time.Duration) (R, int) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		result, code := PollOnce(s, agent)
		if code != ExitTimeout {
			return result, code
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return R{}, ExitTimeout
		}
		select {
		case <-ctx.Done():
			return R{}, ExitTimeout
		case <-time.After(interval):
		}
	}
}
