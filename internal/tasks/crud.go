// Package tasks implements the task board: creation, assignment,
// status updates, phase completion through flow DAGs, and the artifact
// helpers (results, reviews, blocks, test reports) that move work
// between agent classes.
package tasks

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/ai-janitor/minion-factory-sub000/internal/flow"
	"github.com/ai-janitor/minion-factory-sub000/internal/store"
	"github.com/ai-janitor/minion-factory-sub000/internal/workdir"
)

type R = map[string]any

func blocked(format string, args ...any) R {
	return R{"error": "BLOCKED: " + fmt.Sprintf(format, args...)}
}

func errf(format string, args ...any) R {
	return R{"error": fmt.Sprintf(format, args...)}
}

const defaultFlowType = "bugfix"

func getFlow(flowType string) (*flow.Flow, error) {
	if flowType == "" {
		flowType = defaultFlowType
	}
	return flow.Load(flowType)
}

// logTransition records a status change in the shared audit log.
func logTransition(s *store.Store, taskID int64, from, to, agent, ts string) {
	var fromVal any
	if from != "" {
		fromVal = from
	}
	s.DB.Exec(
		`INSERT INTO transition_log (entity_id, entity_type, from_status, to_status, triggered_by, created_at)
         VALUES (?, 'task', ?, ?, ?, ?)`,
		taskID, fromVal, to, agent, ts)
}

// CreateTask opens a new task. Lead-only unless the type is "chore",
// which any agent may self-serve. Requires an active battle plan and an
// existing task file.
func CreateTask(s *store.Store, agent, title, taskFile, project, zone, blockedBy, classRequired, taskType string) (R, error) {
	if taskType == "" {
		taskType = defaultFlowType
	}
	row, err := s.GetAgent(agent)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return blocked("Agent %q not registered.", agent), nil
	}
	if class := store.Str(row, "agent_class"); class != "lead" && taskType != "chore" {
		return blocked("Only lead-class agents can create tasks (use --type chore for self-service). %q is %q.",
			agent, class), nil
	}

	if taskType != "chore" {
		planRow, _ := s.QueryMap(`SELECT COUNT(*) AS n FROM battle_plan WHERE status = 'active'`)
		if store.Int(planRow, "n") == 0 {
			return blocked("No active battle plan. Lead must call set-battle-plan first."), nil
		}
	}

	if _, err := os.Stat(taskFile); err != nil {
		return blocked("Task file does not exist: %s", taskFile), nil
	}

	var blockerIDs []int64
	for _, raw := range strings.Split(blockedBy, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		tid, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return blocked("Invalid task ID in blocked_by: %q.", raw), nil
		}
		exists, _ := s.QueryMap(`SELECT id FROM tasks WHERE id = ?`, tid)
		if exists == nil {
			return blocked("blocked_by task #%d does not exist.", tid), nil
		}
		blockerIDs = append(blockerIDs, tid)
	}
	var blockedByVal any
	if len(blockerIDs) > 0 {
		parts := make([]string, len(blockerIDs))
		for i, id := range blockerIDs {
			parts[i] = strconv.FormatInt(id, 10)
		}
		blockedByVal = strings.Join(parts, ",")
	}

	now := store.NowISO()
	res, err := s.DB.Exec(
		`INSERT INTO tasks (title, task_file, project_id, zone, status, blocked_by,
                            class_required, flow_type, created_by, activity_count, created_at, updated_at)
         VALUES (?, ?, ?, ?, 'open', ?, ?, ?, ?, 0, ?, ?)`,
		title, taskFile, nullable(project), nullable(zone), blockedByVal,
		nullable(classRequired), taskType, agent, now, now)
	if err != nil {
		return nil, err
	}
	taskID, _ := res.LastInsertId()
	logTransition(s, taskID, "", "open", agent, now)

	result := R{"status": "created", "task_id": taskID, "title": title, "task_type": taskType}
	if blockedByVal != nil {
		result["blocked_by"] = blockerIDs
	}
	if classRequired != "" {
		result["class_required"] = classRequired
	}
	return result, nil
}

// DefineTask writes a spec file from the description and creates the
// task record in one shot.
func DefineTask(s *store.Store, agent, title, description, taskType, project, zone, blockedBy, classRequired string) (R, error) {
	if taskType == "" {
		taskType = "feature"
	}
	specDir := workdir.WorkDir() + string(os.PathSeparator) + "task-specs"
	if err := os.MkdirAll(specDir, 0o755); err != nil {
		return nil, err
	}
	specPath := specDir + string(os.PathSeparator) + "TASK-" + workdir.Slugify(title) + ".md"
	if err := workdir.AtomicWriteFile(specPath, fmt.Sprintf("# %s\n\n%s\n", title, description)); err != nil {
		return nil, err
	}
	return CreateTask(s, agent, title, specPath, project, zone, blockedBy, classRequired, taskType)
}

// AssignTask hands a task to an agent. Lead-only. Refused while
// moon_crash is set. At review stages (workers defined) only the
// assignee changes; elsewhere the status resets to assigned.
func AssignTask(s *store.Store, agent string, taskID int64, assignedTo string) (R, error) {
	if mc, _ := s.QueryMap(`SELECT value, set_by, set_at FROM flags WHERE key = 'moon_crash'`); mc != nil && store.Str(mc, "value") == "1" {
		return blocked("moon_crash active, no new assignments. (set by %s at %s)",
			store.Str(mc, "set_by"), store.Str(mc, "set_at")), nil
	}

	row, err := s.GetAgent(agent)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return blocked("Agent %q not registered.", agent), nil
	}
	if class := store.Str(row, "agent_class"); class != "lead" {
		return blocked("Only lead-class agents can assign tasks. %q is %q.", agent, class), nil
	}
	if !s.AgentExists(assignedTo) {
		return blocked("Agent %q not registered.", assignedTo), nil
	}

	task, err := s.QueryMap(`SELECT id, title, status, flow_type FROM tasks WHERE id = ?`, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return errf("Task #%d not found.", taskID), nil
	}

	current := store.Str(task, "status")
	f, err := getFlow(store.Str(task, "flow_type"))
	if err == nil && f.IsTerminal(current) {
		return blocked("Task #%d is in terminal status %q.", taskID, current), nil
	}

	now := store.NowISO()
	reviewStage := err == nil && f.IsHandoff(current)
	if reviewStage {
		s.DB.Exec(`UPDATE tasks SET assigned_to = ?, updated_at = ? WHERE id = ?`,
			assignedTo, now, taskID)
	} else {
		s.DB.Exec(`UPDATE tasks SET assigned_to = ?, status = 'assigned', updated_at = ? WHERE id = ?`,
			assignedTo, now, taskID)
		logTransition(s, taskID, current, "assigned", assignedTo, now)
	}
	return R{"status": "assigned", "task_id": taskID, "assigned_to": assignedTo}, nil
}

// UpdateTask mutates status, progress, or files. Transition rules warn
// but do not block; terminal states are the hard boundary.
func UpdateTask(s *store.Store, agent string, taskID int64, status, progress, files string) (R, error) {
	if !s.AgentExists(agent) {
		return blocked("Agent %q not registered.", agent), nil
	}
	task, err := s.QueryMap(
		`SELECT id, status, activity_count, title, assigned_to, result_file, flow_type, files FROM tasks WHERE id = ?`,
		taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return errf("Task #%d not found.", taskID), nil
	}

	current := store.Str(task, "status")
	f, ferr := getFlow(store.Str(task, "flow_type"))
	if ferr == nil && f.IsTerminal(current) {
		return blocked("Task #%d is in terminal status %q.", taskID, current), nil
	}

	var warnings []string
	if status != "" {
		if ferr == nil {
			if _, ok := f.Stages[status]; !ok {
				return errf("Invalid status %q. Valid: %s", status, strings.Join(f.StageNames(), ", ")), nil
			}
			if f.IsTerminal(status) {
				return blocked("Cannot set status to %q via update-task. Use close-task.", status), nil
			}
			validNext := f.ValidTransitions(current)
			ok := false
			for _, v := range validNext {
				if v == status {
					ok = true
					break
				}
			}
			if !ok {
				warnings = append(warnings, fmt.Sprintf("Skipped steps, went from %s to %s", current, status))
			}
		}
		if assigned := store.Str(task, "assigned_to"); assigned != "" && assigned != agent {
			warnings = append(warnings, fmt.Sprintf("Ownership: task assigned to %s, updated by %s", assigned, agent))
		}
		if status == "fixed" && store.Str(task, "result_file") == "" {
			warnings = append(warnings, "Setting fixed without submit-result, result file required before close")
		}
	}

	now := store.NowISO()
	fields := []string{"activity_count = activity_count + 1", "updated_at = ?"}
	params := []any{now}
	if status != "" {
		fields = append(fields, "status = ?")
		params = append(params, status)
	}
	if progress != "" {
		fields = append(fields, "progress = ?")
		params = append(params, progress)
	}
	if files != "" {
		fields = append(fields, "files = ?")
		params = append(params, files)
	}
	params = append(params, taskID)
	if _, err := s.DB.Exec(
		"UPDATE tasks SET "+strings.Join(fields, ", ")+" WHERE id = ?", params...); err != nil {
		return nil, err
	}
	if status != "" {
		logTransition(s, taskID, current, status, agent, now)
	}
	s.Touch(agent)

	countRow, _ := s.QueryMap(`SELECT activity_count FROM tasks WHERE id = ?`, taskID)
	newCount := store.Int(countRow, "activity_count")

	result := R{"status": "updated", "task_id": taskID, "activity_count": newCount}
	if status != "" {
		result["new_status"] = status
	}
	if len(warnings) > 0 {
		result["transition_warning"] = strings.Join(warnings, "; ")
	}
	if newCount >= 4 {
		result["warning"] = fmt.Sprintf(
			"Activity count at %d, this fight is dragging. Consider reassessing.", newCount)
	}
	if status == "in_progress" {
		taskFiles := store.Str(task, "files")
		if taskFiles != "" {
			var cmds []string
			for _, tf := range strings.Split(taskFiles, ",") {
				if tf = strings.TrimSpace(tf); tf != "" {
					cmds = append(cmds, fmt.Sprintf("minion claim-file --agent %s --file %s", agent, tf))
				}
			}
			result["claim_reminder"] = "Claim files before editing: " + strings.Join(cmds, " ")
		} else {
			result["claim_reminder"] = fmt.Sprintf(
				"Claim files before editing: minion claim-file --agent %s --file <path>", agent)
		}
	}
	if stale, threshold := s.ContextStale(agent); stale {
		result["staleness_warning"] = fmt.Sprintf(
			"Context older than %ds; run set-context before replying.", threshold)
	}
	return result, nil
}

// SubmitResult records the result file path on a task. The file must
// already exist.
func SubmitResult(s *store.Store, agent string, taskID int64, resultFile string) (R, error) {
	if !s.AgentExists(agent) {
		return blocked("Agent %q not registered.", agent), nil
	}
	task, err := s.QueryMap(`SELECT id FROM tasks WHERE id = ?`, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return errf("Task #%d not found.", taskID), nil
	}
	if _, err := os.Stat(resultFile); err != nil {
		return blocked("Result file does not exist: %s", resultFile), nil
	}
	if _, err := s.DB.Exec(
		`UPDATE tasks SET result_file = ?, updated_at = ? WHERE id = ?`,
		resultFile, store.NowISO(), taskID); err != nil {
		return nil, err
	}
	s.Touch(agent)
	return R{"status": "submitted", "task_id": taskID, "result_file": resultFile}, nil
}

// CloseTask moves a task to closed. Non-leads may only close tasks
// assigned to them, and a result file is mandatory.
func CloseTask(s *store.Store, agent string, taskID int64, contextDir string) (R, error) {
	row, err := s.GetAgent(agent)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return blocked("Agent %q not registered.", agent), nil
	}
	task, err := s.QueryMap(
		`SELECT id, status, result_file, title, flow_type, assigned_to FROM tasks WHERE id = ?`, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return errf("Task #%d not found.", taskID), nil
	}

	isOwn := store.Str(task, "assigned_to") == agent
	if store.Str(row, "agent_class") != "lead" && !isOwn {
		return blocked("Only lead-class agents can close other agents' tasks. %q can only close tasks assigned to them.",
			agent), nil
	}
	current := store.Str(task, "status")
	if f, ferr := getFlow(store.Str(task, "flow_type")); ferr == nil && f.IsTerminal(current) {
		return errf("Task #%d is already in terminal status %q.", taskID, current), nil
	}
	if store.Str(task, "result_file") == "" {
		return blocked("Task #%d has no result file. Agent must call submit-result first.", taskID), nil
	}

	now := store.NowISO()
	if _, err := s.DB.Exec(
		`UPDATE tasks SET status = 'closed', updated_at = ? WHERE id = ?`, now, taskID); err != nil {
		return nil, err
	}
	logTransition(s, taskID, current, "closed", agent, now)

	result := R{"status": "closed", "task_id": taskID, "title": store.Str(task, "title")}
	if rollups := flow.CheckAndRollup(s, taskID, "task", contextDir); len(rollups) > 0 {
		result["rollups"] = rollups
	}
	return result, nil
}

// DoneTask is the lead's fast-close for work completed outside the
// normal flow. An optional summary becomes the result file.
func DoneTask(s *store.Store, agent string, taskID int64, summary, contextDir string) (R, error) {
	row, err := s.GetAgent(agent)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return blocked("Agent %q not registered.", agent), nil
	}
	if class := store.Str(row, "agent_class"); class != "lead" {
		return blocked("Only lead-class agents can force-close tasks. %q is %q.", agent, class), nil
	}
	task, err := s.QueryMap(`SELECT id, status, title FROM tasks WHERE id = ?`, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return errf("Task #%d not found.", taskID), nil
	}
	old := store.Str(task, "status")
	if old == "closed" {
		return errf("Task #%d is already closed.", taskID), nil
	}

	now := store.NowISO()
	var resultFile string
	if summary != "" {
		resultFile = artifactPath("results", taskID, "result")
		if err := workdir.AtomicWriteFile(resultFile,
			fmt.Sprintf("# Task #%d Result\n\n%s\n", taskID, summary)); err != nil {
			return nil, err
		}
	}

	updates := "status = 'closed', updated_at = ?"
	params := []any{now}
	if resultFile != "" {
		updates += ", result_file = ?"
		params = append(params, resultFile)
	}
	params = append(params, taskID)
	if _, err := s.DB.Exec("UPDATE tasks SET "+updates+" WHERE id = ?", params...); err != nil {
		return nil, err
	}
	// Fast-close is logged with a NULL from_status: the task may be
	// closed from any stage without implying a walked transition.
	logTransition(s, taskID, "", "closed", agent, now)

	result := R{"status": "closed", "task_id": taskID, "title": store.Str(task, "title"), "from_status": old}
	if resultFile != "" {
		result["result_file"] = resultFile
	}
	if rollups := flow.CheckAndRollup(s, taskID, "task", contextDir); len(rollups) > 0 {
		result["rollups"] = rollups
	}
	return result, nil
}

// ReopenTask moves a terminal task back to an earlier stage. Lead-only.
func ReopenTask(s *store.Store, agent string, taskID int64, toStatus string) (R, error) {
	if toStatus == "" {
		toStatus = "assigned"
	}
	row, err := s.GetAgent(agent)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return blocked("Agent %q not registered.", agent), nil
	}
	if class := store.Str(row, "agent_class"); class != "lead" {
		return blocked("Only lead can reopen tasks. %q is %q.", agent, class), nil
	}
	task, err := s.QueryMap(
		`SELECT id, status, flow_type, title FROM tasks WHERE id = ?`, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return errf("Task #%d not found.", taskID), nil
	}

	f, ferr := getFlow(store.Str(task, "flow_type"))
	if ferr == nil {
		if _, ok := f.Stages[toStatus]; !ok {
			return errf("Invalid status %q. Valid: %s", toStatus, strings.Join(f.StageNames(), ", ")), nil
		}
		if f.IsTerminal(toStatus) {
			return errf("Cannot reopen to terminal status %q.", toStatus), nil
		}
	}

	old := store.Str(task, "status")
	now := store.NowISO()
	if _, err := s.DB.Exec(
		`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`, toStatus, now, taskID); err != nil {
		return nil, err
	}
	logTransition(s, taskID, old, toStatus, agent, now)

	result := R{
		"status": "reopened", "task_id": taskID, "title": store.Str(task, "title"),
		"from_status": old, "to_status": toStatus,
	}
	if ferr == nil {
		result["dag"] = f.RenderDAG()
	}
	return result, nil
}

// GetTasks lists tasks with optional filters. Closed tasks are hidden
// unless a status is asked for explicitly.
func GetTasks(s *store.Store, status, project, zone, assignedTo, classRequired string, count int) (R, error) {
	if count <= 0 {
		count = 50
	}
	query := `SELECT * FROM tasks WHERE 1=1`
	var params []any
	if status != "" {
		query += ` AND status = ?`
		params = append(params, status)
	} else {
		query += ` AND status NOT IN ('closed')`
	}
	if project != "" {
		query += ` AND project_id = ?`
		params = append(params, project)
	}
	if zone != "" {
		query += ` AND zone = ?`
		params = append(params, zone)
	}
	if assignedTo != "" {
		query += ` AND assigned_to = ?`
		params = append(params, assignedTo)
	}
	if classRequired != "" {
		query += ` AND class_required = ?`
		params = append(params, classRequired)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	params = append(params, count)

	rows, err := s.QueryMaps(query, params...)
	if err != nil {
		return nil, err
	}
	return R{"tasks": rows}, nil
}

// GetTask returns one task plus its comments.
func GetTask(s *store.Store, taskID int64) (R, error) {
	task, err := s.QueryMap(`SELECT * FROM tasks WHERE id = ?`, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return errf("Task #%d not found.", taskID), nil
	}
	comments, _ := listCommentRows(s, taskID)
	return R{"task": task, "comments": comments}, nil
}

// GetSpec returns the raw contents of a task's spec file so agents can
// read their assignment without knowing filesystem paths.
func GetSpec(s *store.Store, taskID int64) (R, error) {
	task, err := s.QueryMap(`SELECT id, title, task_file FROM tasks WHERE id = ?`, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return errf("Task #%d not found.", taskID), nil
	}
	taskFile := store.Str(task, "task_file")
	if taskFile == "" {
		return errf("Task #%d has no task_file set.", taskID), nil
	}
	content := workdir.ReadContentFile(taskFile)
	if content == "" {
		if _, err := os.Stat(taskFile); err != nil {
			return errf("Task #%d spec file not found: %s", taskID, taskFile), nil
		}
	}
	return R{
		"task_id": taskID, "title": store.Str(task, "title"),
		"task_file": taskFile, "spec": content,
	}, nil
}

// Lineage returns a task, its transition history, and the stage list
// of its flow for visualization.
func Lineage(s *store.Store, taskID int64) (R, error) {
	task, err := s.QueryMap(`SELECT * FROM tasks WHERE id = ?`, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return errf("Task #%d not found.", taskID), nil
	}
	history, _ := s.QueryMaps(
		`SELECT from_status, to_status, triggered_by AS agent, created_at AS timestamp
         FROM transition_log WHERE entity_id = ? AND entity_type = 'task' ORDER BY created_at ASC`,
		taskID)

	flowType := store.Str(task, "flow_type")
	if flowType == "" {
		flowType = defaultFlowType
	}
	result := R{"task": task, "history": history, "flow_type": flowType}
	if f, err := getFlow(flowType); err == nil {
		stages := f.StageNames()
		sort.Strings(stages)
		result["flow_stages"] = stages
	}
	return result, nil
}

// ListFlows enumerates the flow definitions available on disk.
func ListFlows() (R, error) {
	names, err := flow.List()
	if err != nil {
		return nil, err
	}
	flows := make([]R, 0, len(names))
	for _, name := range names {
		entry := R{"name": name}
		if f, err := flow.Load(name); err == nil {
			entry["description"] = f.Description
			entry["stages"] = f.StageNames()
		}
		flows = append(flows, entry)
	}
	return R{"flows": flows}, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
