package tasks

import (
	"fmt"

	"github.com/ai-janitor/minion-factory-sub000/internal/flow"
	"github.com/ai-janitor/minion-factory-sub000/internal/store"
)

// CompletePhase finishes the agent's current phase; the flow DAG picks
// the next status (happy edge on passed, fail edge otherwise). When the
// next stage names eligible workers, the assignment clears so the right
// class can pull it.
func CompletePhase(s *store.Store, agent string, taskID int64, passed bool, reason, contextDir string) (R, error) {
	if !s.AgentExists(agent) {
		return blocked("Agent %q not registered.", agent), nil
	}
	task, err := s.QueryMap(
		`SELECT id, status, flow_type, class_required, assigned_to, title FROM tasks WHERE id = ?`,
		taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return errf("Task #%d not found.", taskID), nil
	}

	flowType := store.Str(task, "flow_type")
	if flowType == "" {
		flowType = defaultFlowType
	}
	current := store.Str(task, "status")
	classRequired := store.Str(task, "class_required")

	tr := flow.ApplyTransition(flowType, current, flow.TransitionOpts{
		ClassRequired: classRequired,
		Passed:        passed,
		Env: flow.GateEnv{
			ContextDir: contextDir,
			Store:      s,
			EntityID:   taskID,
			EntityType: "task",
		},
	})
	if !tr.Success {
		result := R{"error": tr.Error, "from_status": current}
		if len(tr.GateFailures) > 0 {
			result["gate_failures"] = tr.GateFailures
		}
		return result, nil
	}
	newStatus := tr.ToStatus

	if newStatus == "blocked" && reason == "" {
		return errf("BLOCKED transition requires --reason explaining why you're stuck."), nil
	}

	f, err := flow.Load(flowType)
	if err != nil {
		return nil, err
	}
	eligible := flow.EligibleWorkers(f, newStatus, classRequired)
	handoff := f.WorkersFor(newStatus) != nil

	now := store.NowISO()
	fields := "status = ?, updated_at = ?, activity_count = activity_count + 1"
	params := []any{newStatus, now}
	if newStatus == "blocked" && reason != "" {
		fields += ", progress = ?"
		params = append(params, "BLOCKED: "+reason)
	}
	if handoff {
		fields += ", assigned_to = NULL"
	}
	params = append(params, taskID)
	if _, err := s.DB.Exec("UPDATE tasks SET "+fields+" WHERE id = ?", params...); err != nil {
		return nil, err
	}
	logTransition(s, taskID, current, newStatus, agent, now)
	s.Touch(agent)

	result := R{
		"status":      "completed",
		"task_id":     taskID,
		"title":       store.Str(task, "title"),
		"from_status": current,
		"to_status":   newStatus,
	}
	if handoff {
		result["eligible_classes"] = eligible
	}
	if f.IsTerminal(newStatus) {
		result["terminal"] = true
		if rollups := flow.CheckAndRollup(s, taskID, "task", contextDir); len(rollups) > 0 {
			result["rollups"] = rollups
		}
	}
	return result, nil
}

// CheckGates reports the gate status guarding the next stage without
// attempting the transition.
func CheckGates(s *store.Store, taskID int64, contextDir string) (R, error) {
	task, err := s.QueryMap(`SELECT id, status, flow_type FROM tasks WHERE id = ?`, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return errf("Task #%d not found.", taskID), nil
	}
	flowType := store.Str(task, "flow_type")
	if flowType == "" {
		flowType = defaultFlowType
	}
	current := store.Str(task, "status")
	f, err := flow.Load(flowType)
	if err != nil {
		return nil, err
	}
	next, ok := f.NextStatus(current, true)
	if !ok {
		return errf("No next stage from %q in flow %q.", current, flowType), nil
	}
	env := flow.GateEnv{ContextDir: contextDir, Store: s, EntityID: taskID, EntityType: "task"}
	results := flow.CheckTransitionGates(f, next, env)
	return R{
		"task_id":     taskID,
		"from_status": current,
		"to_status":   next,
		"gates":       results,
		"all_pass":    flow.AllPass(results),
	}, nil
}

// RenderLineageDAG shows the task's flow with its current position.
func RenderLineageDAG(s *store.Store, taskID int64) (R, error) {
	task, err := s.QueryMap(`SELECT id, status, flow_type, title FROM tasks WHERE id = ?`, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return errf("Task #%d not found.", taskID), nil
	}
	flowType := store.Str(task, "flow_type")
	if flowType == "" {
		flowType = defaultFlowType
	}
	f, err := flow.Load(flowType)
	if err != nil {
		return nil, err
	}
	return R{
		"task_id": taskID,
		"title":   store.Str(task, "title"),
		"current": store.Str(task, "status"),
		"dag":     fmt.Sprintf("flow %s\n%s", flowType, f.RenderDAG()),
	}, nil
}
