// Package warroom manages battle plans and the raid log: the shared
// strategic state every agent coordinates against.
package warroom

import (
	"fmt"

	"github.com/ai-janitor/minion-factory-sub000/internal/store"
	"github.com/ai-janitor/minion-factory-sub000/internal/workdir"
)

type R = map[string]any

// BattlePlanStatuses is the closed status set for battle plans.
var BattlePlanStatuses = map[string]bool{
	"active": true, "superseded": true, "completed": true,
	"abandoned": true, "obsolete": true,
}

// RaidLogPriorities is the closed priority set for raid log entries.
var RaidLogPriorities = map[string]bool{
	"critical": true, "normal": true, "info": true,
}

func blocked(format string, args ...any) R {
	return R{"error": "BLOCKED: " + fmt.Sprintf(format, args...)}
}

func requireLead(s *store.Store, agent, action string) R {
	row, err := s.GetAgent(agent)
	if err != nil || row == nil {
		return blocked("Agent %q not registered.", agent)
	}
	if class := store.Str(row, "agent_class"); class != "lead" {
		return blocked("Only lead-class agents can %s. %q is %q.", action, agent, class)
	}
	return nil
}

// SetBattlePlan writes the plan content to a file and records it as the
// active plan, superseding any previous actives. Lead-only.
func SetBattlePlan(s *store.Store, agent, plan string) (R, error) {
	if r := requireLead(s, agent, "set the battle plan"); r != nil {
		return r, nil
	}
	now := store.NowISO()

	planFile := workdir.BattlePlanFilePath(agent)
	if err := workdir.AtomicWriteFile(planFile, plan); err != nil {
		return blocked("Failed to write battle plan file: %v", err), nil
	}

	// Supersede and insert in one transaction so readers never observe
	// zero or two active plans.
	tx, err := s.DB.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`UPDATE battle_plan SET status = 'superseded', updated_at = ? WHERE status = 'active'`,
		now); err != nil {
		return nil, err
	}
	res, err := tx.Exec(
		`INSERT INTO battle_plan (set_by, plan_file, status, created_at, updated_at)
         VALUES (?, ?, 'active', ?, ?)`,
		agent, planFile, now, now)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	id, _ := res.LastInsertId()
	return R{"status": "active", "plan_id": id, "set_by": agent, "plan_file": planFile}, nil
}

// GetBattlePlan returns plans with the given status, content inlined.
func GetBattlePlan(s *store.Store, status string) (R, error) {
	if status == "" {
		status = "active"
	}
	if !BattlePlanStatuses[status] {
		return R{"error": fmt.Sprintf("Invalid status %q.", status)}, nil
	}
	rows, err := s.QueryMaps(
		`SELECT * FROM battle_plan WHERE status = ? ORDER BY created_at DESC`, status)
	if err != nil {
		return nil, err
	}
	for _, p := range rows {
		p["plan_content"] = workdir.ReadContentFile(store.Str(p, "plan_file"))
	}
	if len(rows) == 0 {
		return R{"plans": []R{}, "note": fmt.Sprintf("No battle plans with status %q.", status)}, nil
	}
	return R{"plans": rows}, nil
}

// UpdateBattlePlanStatus moves a plan between statuses. Lead-only.
func UpdateBattlePlanStatus(s *store.Store, agent string, planID int64, status string) (R, error) {
	if !BattlePlanStatuses[status] {
		return R{"error": fmt.Sprintf("Invalid status %q.", status)}, nil
	}
	if r := requireLead(s, agent, "update battle plan status"); r != nil {
		return r, nil
	}
	row, err := s.QueryMap(`SELECT id, status FROM battle_plan WHERE id = ?`, planID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return R{"error": fmt.Sprintf("Battle plan #%d not found.", planID)}, nil
	}
	old := store.Str(row, "status")
	if _, err := s.DB.Exec(
		`UPDATE battle_plan SET status = ?, updated_at = ? WHERE id = ?`,
		status, store.NowISO(), planID); err != nil {
		return nil, err
	}
	return R{"status": "updated", "plan_id": planID, "old_status": old, "new_status": status}, nil
}

// LogRaid appends a raid log entry file and row.
func LogRaid(s *store.Store, agent, entry, priority string) (R, error) {
	if priority == "" {
		priority = "normal"
	}
	if !RaidLogPriorities[priority] {
		return R{"error": fmt.Sprintf("Invalid priority %q.", priority)}, nil
	}
	if !s.AgentExists(agent) {
		return blocked("Agent %q not registered.", agent), nil
	}

	entryFile := workdir.RaidLogFilePath(agent, priority)
	if err := workdir.AtomicWriteFile(entryFile, entry); err != nil {
		return blocked("Failed to write raid log file: %v", err), nil
	}

	res, err := s.DB.Exec(
		`INSERT INTO raid_log (agent_name, entry_file, priority, created_at)
         VALUES (?, ?, ?, ?)`,
		agent, entryFile, priority, store.NowISO())
	if err != nil {
		return nil, err
	}
	id, _ := res.LastInsertId()
	s.Touch(agent)
	return R{"status": "logged", "log_id": id, "agent": agent, "priority": priority}, nil
}

// GetRaidLog returns recent entries, optionally filtered.
func GetRaidLog(s *store.Store, priority, agent string, count int) (R, error) {
	if priority != "" && !RaidLogPriorities[priority] {
		return R{"error": fmt.Sprintf("Invalid priority %q.", priority)}, nil
	}
	if count <= 0 {
		count = 20
	}
	query := `SELECT * FROM raid_log WHERE 1=1`
	var args []any
	if priority != "" {
		query += ` AND priority = ?`
		args = append(args, priority)
	}
	if agent != "" {
		query += ` AND agent_name = ?`
		args = append(args, agent)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, count)

	rows, err := s.QueryMaps(query, args...)
	if err != nil {
		return nil, err
	}
	for _, e := range rows {
		e["entry_content"] = workdir.ReadContentFile(store.Str(e, "entry_file"))
	}
	return R{"entries": rows}, nil
}
