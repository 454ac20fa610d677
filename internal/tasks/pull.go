package tasks

import (
	"strconv"
	"strings"

	"github.com/ai-janitor/minion-factory-sub000/internal/store"
	"github.com/ai-janitor/minion-factory-sub000/internal/workdir"
)

// PullTask claims a specific task for the calling agent. The claim is
// a single conditional UPDATE so two agents racing for the same task
// cannot both win. Tasks at fixed/verified keep their status; the
// agent is picking up a later phase, not restarting the work.
func PullTask(s *store.Store, agent string, taskID int64) (R, error) {
	if s.FlagGet("moon_crash") == "1" {
		return blocked("moon_crash active, no task claims."), nil
	}
	if !s.AgentExists(agent) {
		return blocked("Agent %q not registered.", agent), nil
	}

	task, err := s.QueryMap(
		`SELECT id, title, task_file, status, assigned_to, blocked_by, flow_type FROM tasks WHERE id = ?`,
		taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return errf("Task #%d not found.", taskID), nil
	}

	status := store.Str(task, "status")
	if f, ferr := getFlow(store.Str(task, "flow_type")); ferr == nil && f.IsTerminal(status) {
		return blocked("Task #%d is in terminal status %q.", taskID, status), nil
	}

	if bb := store.Str(task, "blocked_by"); bb != "" {
		var ids []any
		var marks []string
		for _, raw := range strings.Split(bb, ",") {
			if raw = strings.TrimSpace(raw); raw != "" {
				if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
					ids = append(ids, id)
					marks = append(marks, "?")
				}
			}
		}
		if len(ids) > 0 {
			open, _ := s.QueryMap(
				`SELECT COUNT(*) AS n FROM tasks WHERE id IN (`+strings.Join(marks, ",")+`) AND status != 'closed'`,
				ids...)
			if store.Int(open, "n") > 0 {
				return blocked("Task #%d has unresolved blockers.", taskID), nil
			}
		}
	}

	now := store.NowISO()
	var claimed int64
	if status == "fixed" || status == "verified" {
		res, err := s.DB.Exec(
			`UPDATE tasks SET assigned_to = ?, updated_at = ?
             WHERE id = ? AND status = ? AND (assigned_to IS NULL OR assigned_to = ?)`,
			agent, now, taskID, status, agent)
		if err != nil {
			return nil, err
		}
		claimed, _ = res.RowsAffected()
	} else {
		res, err := s.DB.Exec(
			`UPDATE tasks SET assigned_to = ?, status = 'assigned', updated_at = ?
             WHERE id = ? AND (
                 (status = 'assigned' AND assigned_to = ?) OR
                 (status = 'open' AND assigned_to IS NULL)
             )`,
			agent, now, taskID, agent)
		if err != nil {
			return nil, err
		}
		claimed, _ = res.RowsAffected()
	}
	if claimed == 0 {
		return errf("Race lost, task #%d was claimed by another agent.", taskID), nil
	}

	newStatus := status
	if status != "fixed" && status != "verified" {
		newStatus = "assigned"
	}
	logTransition(s, taskID, status, newStatus, agent, now)

	// Pulling a task counts as a context refresh.
	s.DB.Exec(
		`UPDATE agents SET context_updated_at = ?, last_seen = ? WHERE name = ?`,
		now, now, agent)

	result := R{
		"status": "claimed", "task_id": taskID,
		"title":       store.Str(task, "title"),
		"task_file":   store.Str(task, "task_file"),
		"task_status": status,
	}
	if content := workdir.ReadContentFile(store.Str(task, "task_file")); content != "" {
		result["task_content"] = content
	}
	return result, nil
}
