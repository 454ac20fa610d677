// Package lifecycle covers the session arc: cold start briefings,
// fenix-down knowledge preservation before context death, the lead's
// debrief, and the end-of-session gate.
package lifecycle

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ai-janitor/minion-factory-sub000/internal/classes"
	"github.com/ai-janitor/minion-factory-sub000/internal/store"
	"github.com/ai-janitor/minion-factory-sub000/internal/workdir"
)

type R = map[string]any

func blocked(format string, args ...any) R {
	return R{"error": "BLOCKED: " + fmt.Sprintf(format, args...)}
}

// ConventionFiles are the well-known knowledge locations every agent
// should know about on boot.
var ConventionFiles = map[string]string{
	"intel":       ".work/intel/",
	"traps":       ".work/traps/",
	"patterns":    ".work/patterns/",
	"code_map":    ".work/CODE_MAP.md",
	"code_owners": ".work/CODE_OWNERS.md",
}

// ColdStart assembles everything a freshly spawned agent needs: the
// active battle plan, recent raid log, open tasks, the roster, briefing
// files for its class, and any unconsumed fenix-down records (which are
// consumed by this call).
func ColdStart(s *store.Store, agent string) (R, error) {
	row, err := s.GetAgent(agent)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return blocked("Agent %q not registered. Call register first.", agent), nil
	}
	class := store.Str(row, "agent_class")
	result := R{"agent_name": agent, "agent_class": class}

	plan, _ := s.QueryMap(
		`SELECT * FROM battle_plan WHERE status = 'active' ORDER BY created_at DESC LIMIT 1`)
	if plan != nil {
		plan["plan_content"] = workdir.ReadContentFile(store.Str(plan, "plan_file"))
	}
	result["battle_plan"] = plan

	raid, _ := s.QueryMaps(`SELECT * FROM raid_log ORDER BY created_at DESC LIMIT 20`)
	for _, e := range raid {
		e["entry_content"] = workdir.ReadContentFile(store.Str(e, "entry_file"))
	}
	result["raid_log"] = raid

	openTasks, _ := s.QueryMaps(
		`SELECT * FROM tasks WHERE status IN ('open', 'assigned', 'in_progress') ORDER BY created_at DESC`)
	result["open_tasks"] = openTasks

	agents, _ := s.QueryMaps(
		`SELECT name, agent_class, status, last_seen FROM agents ORDER BY last_seen DESC`)
	result["agents"] = agents

	result["briefing_files"] = classes.Default().BriefingFilesOf(class)
	result["convention_files"] = ConventionFiles

	records, _ := s.QueryMaps(
		`SELECT * FROM fenix_down_records WHERE agent_name = ? AND consumed = 0 ORDER BY created_at DESC`,
		agent)
	result["fenix_down_records"] = records
	for _, r := range records {
		s.DB.Exec(`UPDATE fenix_down_records SET consumed = 1 WHERE id = ?`, store.Int(r, "id"))
	}

	result["capabilities"] = classes.Default().CapabilitiesOf(class)
	s.Touch(agent)
	return result, nil
}

// FenixDown records the dying agent's written files and manifest so
// its successor can pick up where it left off.
func FenixDown(s *store.Store, agent, files, manifest string) (R, error) {
	if !s.AgentExists(agent) {
		return blocked("Agent %q not registered.", agent), nil
	}
	var fileList []string
	for _, f := range strings.Split(files, ",") {
		if f = strings.TrimSpace(f); f != "" {
			fileList = append(fileList, f)
		}
	}
	if len(fileList) == 0 {
		return blocked("No files provided. List the files you wrote this session."), nil
	}
	filesJSON, _ := json.Marshal(fileList)
	now := store.NowISO()

	res, err := s.DB.Exec(
		`INSERT INTO fenix_down_records (agent_name, files, manifest, consumed, created_at)
         VALUES (?, ?, ?, 0, ?)`,
		agent, string(filesJSON), manifest, now)
	if err != nil {
		return nil, err
	}
	id, _ := res.LastInsertId()
	s.DB.Exec(`UPDATE agents SET status = 'phoenix_down', last_seen = ? WHERE name = ?`, now, agent)

	return R{"status": "recorded", "record_id": id, "agent": agent, "files_count": len(fileList)}, nil
}

// Debrief files the lead's session summary as a critical raid log
// entry. The file must already exist on disk.
func Debrief(s *store.Store, agent, debriefFile string) (R, error) {
	row, err := s.GetAgent(agent)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return blocked("Agent %q not registered.", agent), nil
	}
	if class := store.Str(row, "agent_class"); class != "lead" {
		return blocked("Only lead-class agents can file a debrief. %q is %q.", agent, class), nil
	}
	if _, err := os.Stat(debriefFile); err != nil {
		return blocked("Debrief file does not exist: %s", debriefFile), nil
	}
	now := store.NowISO()
	if _, err := s.DB.Exec(
		`INSERT INTO raid_log (agent_name, entry_file, priority, created_at)
         VALUES (?, ?, 'critical', ?)`,
		agent, debriefFile, now); err != nil {
		return nil, err
	}
	s.Touch(agent)
	return R{"status": "filed", "agent": agent, "debrief_file": debriefFile}, nil
}

// EndSession closes out the session: requires a filed debrief, refuses
// while tasks remain open, completes the active battle plan, and
// returns summary stats. Lead-only.
func EndSession(s *store.Store, agent string) (R, error) {
	row, err := s.GetAgent(agent)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return blocked("Agent %q not registered.", agent), nil
	}
	if class := store.Str(row, "agent_class"); class != "lead" {
		return blocked("Only lead-class agents can end the session. %q is %q.", agent, class), nil
	}

	criticals, _ := s.QueryMaps(`SELECT entry_file FROM raid_log WHERE priority = 'critical'`)
	hasDebrief := false
	for _, c := range criticals {
		if f := store.Str(c, "entry_file"); f != "" {
			if _, err := os.Stat(f); err == nil {
				hasDebrief = true
				break
			}
		}
	}
	if !hasDebrief {
		return blocked("No debrief filed. Lead must call debrief before ending the session."), nil
	}

	openTasks, _ := s.QueryMaps(
		`SELECT id, title, status FROM tasks WHERE status IN ('open', 'assigned', 'in_progress')`)
	if len(openTasks) > 0 {
		var parts []string
		for _, t := range openTasks {
			parts = append(parts, fmt.Sprintf("#%d %s (%s)",
				store.Int(t, "id"), store.Str(t, "title"), store.Str(t, "status")))
		}
		return blocked("%d open task(s): %s", len(openTasks), strings.Join(parts, "; ")), nil
	}

	now := store.NowISO()
	planSummary := "No active battle plan."
	plan, _ := s.QueryMap(
		`SELECT id FROM battle_plan WHERE status = 'active' ORDER BY created_at DESC LIMIT 1`)
	if plan != nil {
		s.DB.Exec(`UPDATE battle_plan SET status = 'completed', updated_at = ? WHERE id = ?`,
			now, store.Int(plan, "id"))
		planSummary = fmt.Sprintf("Battle plan #%d marked completed.", store.Int(plan, "id"))
	}

	closedRow, _ := s.QueryMap(`SELECT COUNT(*) AS n FROM tasks WHERE status = 'closed'`)
	logRow, _ := s.QueryMap(`SELECT COUNT(*) AS n FROM raid_log`)
	agents, _ := s.QueryMaps(`SELECT name, agent_class, status FROM agents ORDER BY name`)

	s.DB.Exec(
		`INSERT INTO raid_log (agent_name, entry_file, priority, created_at)
         VALUES (?, 'SESSION_ENDED', 'critical', ?)`,
		agent, now)

	return R{
		"status":           "ended",
		"battle_plan":      planSummary,
		"tasks_closed":     store.Int(closedRow, "n"),
		"raid_log_entries": store.Int(logRow, "n"),
		"agents":           agents,
		"ended_by":         agent,
		"ended_at":         now,
	}, nil
}

// RequestRetire flags an agent for retirement; its poll loop exits with
// the retire code on next pass.
func RequestRetire(s *store.Store, agent, requestedBy string) (R, error) {
	if !s.AgentExists(agent) {
		return blocked("Agent %q not registered.", agent), nil
	}
	_, err := s.DB.Exec(
		`INSERT OR REPLACE INTO agent_retire (agent_name, requested_by, requested_at)
         VALUES (?, ?, ?)`,
		agent, requestedBy, store.NowISO())
	if err != nil {
		return nil, err
	}
	return R{"status": "retire_requested", "agent": agent}, nil
}

// RequestInterrupt flags an agent's running invocation for termination.
// The daemon polls this table and kills the child process.
func RequestInterrupt(s *store.Store, agent, requestedBy string) (R, error) {
	if !s.AgentExists(agent) {
		return blocked("Agent %q not registered.", agent), nil
	}
	_, err := s.DB.Exec(
		`INSERT OR REPLACE INTO agent_interrupt (agent_name, requested_by, requested_at)
         VALUES (?, ?, ?)`,
		agent, requestedBy, store.NowISO())
	if err != nil {
		return nil, err
	}
	return R{"status": "interrupt_requested", "agent": agent}, nil
}
