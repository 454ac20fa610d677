// Package monitor provides observability over the party: roster
// status, activity judgment for single agents, context freshness
// against file mtimes, the fused sitrep, and HP accounting with lead
// alerts at the danger thresholds.
package monitor

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/ai-janitor/minion-factory-sub000/internal/intel"
	"github.com/ai-janitor/minion-factory-sub000/internal/store"
	"github.com/ai-janitor/minion-factory-sub000/internal/workdir"
)

type R = map[string]any

func errf(format string, args ...any) R {
	return R{"error": fmt.Sprintf(format, args...)}
}

func safeMtime(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return ""
	}
	return info.ModTime().UTC().Format(time.RFC3339)
}

// agentJudgment grades liveness: claimed-file or zone writes within
// five minutes mean active; otherwise last_seen under five minutes is
// active, under fifteen idle, beyond that possibly dead. Task updates
// are the last resort signal.
func agentJudgment(lastSeen, lastTaskUpdate string, fileMtimes []string, now time.Time) string {
	for _, mt := range fileMtimes {
		if mt == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339, mt); err == nil && now.Sub(t) < 5*time.Minute {
			return "active"
		}
	}
	grade := func(ts string) (string, bool) {
		t, ok := store.ParseISO(ts)
		if !ok {
			return "", false
		}
		age := now.Sub(t)
		switch {
		case age < 5*time.Minute:
			return "active", true
		case age < 15*time.Minute:
			return "idle", true
		default:
			return "possibly dead", true
		}
	}
	if lastSeen != "" {
		if j, ok := grade(lastSeen); ok {
			return j
		}
	}
	if lastTaskUpdate != "" {
		if j, ok := grade(lastTaskUpdate); ok {
			return j
		}
	}
	return "possibly dead"
}

// PartyStatus returns every agent with HP, workload, claims, and
// compaction counts. Verbose context fields are stripped for the
// dashboard.
func PartyStatus(s *store.Store) (R, error) {
	rows, err := s.QueryMaps(`SELECT * FROM agents ORDER BY last_seen DESC`)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	agents := make([]R, 0, len(rows))
	for _, row := range rows {
		a := store.EnrichAgent(row, now)
		name := store.Str(a, "name")

		taskRow, _ := s.QueryMap(
			`SELECT COUNT(*) AS cnt, COALESCE(SUM(activity_count), 0) AS total_activity
             FROM tasks WHERE assigned_to = ? AND status IN ('open', 'assigned', 'in_progress')`,
			name)
		a["open_tasks"] = store.Int(taskRow, "cnt")
		a["total_activity"] = store.Int(taskRow, "total_activity")

		claims, _ := s.QueryMaps(
			`SELECT file_path, claimed_at FROM file_claims WHERE agent_name = ?`, name)
		claimed := make([]R, 0, len(claims))
		for _, c := range claims {
			fp := store.Str(c, "file_path")
			claimed = append(claimed, R{
				"file_path":  fp,
				"claimed_at": store.Str(c, "claimed_at"),
				"mtime":      safeMtime(fp),
			})
		}
		a["claimed_files"] = claimed

		compactions, _ := s.QueryMap(
			`SELECT COUNT(*) AS cnt FROM compaction_log WHERE agent_name = ?`, name)
		a["compaction_count"] = store.Int(compactions, "cnt")

		delete(a, "context_summary")
		delete(a, "files_read")
		agents = append(agents, a)
	}
	return R{"agents": agents}, nil
}

// CheckActivity inspects one agent: active tasks, claimed files, zones,
// and a liveness judgment.
func CheckActivity(s *store.Store, agent string) (R, error) {
	row, err := s.GetAgent(agent)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return errf("Agent %q not found.", agent), nil
	}
	now := time.Now().UTC()

	result := R{
		"agent_name":   agent,
		"agent_class":  store.Str(row, "agent_class"),
		"status":       store.Str(row, "status"),
		"last_seen":    store.Str(row, "last_seen"),
		"current_zone": store.Str(row, "current_zone"),
	}
	lastSeen := store.Str(row, "last_seen")
	if t, ok := store.ParseISO(lastSeen); ok {
		result["last_seen_mins_ago"] = int(now.Sub(t).Minutes())
	}

	activeTasks, _ := s.QueryMaps(
		`SELECT id, title, status, updated_at, activity_count, zone FROM tasks
         WHERE assigned_to = ? AND status IN ('open', 'assigned', 'in_progress')
         ORDER BY updated_at DESC`,
		agent)
	result["active_tasks"] = activeTasks
	lastTaskUpdate := ""
	if len(activeTasks) > 0 {
		lastTaskUpdate = store.Str(activeTasks[0], "updated_at")
		result["last_task_update"] = lastTaskUpdate
	}

	claims, _ := s.QueryMaps(
		`SELECT file_path, claimed_at FROM file_claims WHERE agent_name = ?`, agent)
	var claimedFiles []R
	var mtimes []string
	for _, c := range claims {
		fp := store.Str(c, "file_path")
		mt := safeMtime(fp)
		claimedFiles = append(claimedFiles, R{
			"file_path": fp, "claimed_at": store.Str(c, "claimed_at"), "mtime": mt,
		})
		mtimes = append(mtimes, mt)
	}
	result["claimed_files"] = claimedFiles

	zoneSet := map[string]bool{}
	for _, t := range activeTasks {
		if z := store.Str(t, "zone"); z != "" {
			zoneSet[z] = true
		}
	}
	if z := store.Str(row, "current_zone"); z != "" {
		zoneSet[z] = true
	}
	zones := make([]string, 0, len(zoneSet))
	for z := range zoneSet {
		zones = append(zones, z)
	}
	sort.Strings(zones)
	result["zones"] = zones
	for _, z := range zones {
		if info, err := os.Stat(z); err == nil && info.IsDir() {
			mtimes = append(mtimes, safeMtime(z))
		}
	}

	result["judgment"] = agentJudgment(lastSeen, lastTaskUpdate, mtimes, now)
	return result, nil
}

// CheckFreshness compares file mtimes against the agent's last
// set-context. Files modified since are stale reads.
func CheckFreshness(s *store.Store, agent, filePaths string) (R, error) {
	row, err := s.GetAgent(agent)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return errf("Agent %q not found.", agent), nil
	}

	var paths []string
	for _, p := range strings.Split(filePaths, ",") {
		if p = strings.TrimSpace(p); p != "" {
			paths = append(paths, p)
		}
	}
	if len(paths) == 0 {
		return errf("No file paths provided."), nil
	}

	contextUpdatedAt := store.Str(row, "context_updated_at")
	if contextUpdatedAt == "" {
		var staleFiles []R
		staleCount := 0
		for _, fp := range paths {
			_, statErr := os.Stat(fp)
			exists := statErr == nil
			if exists {
				staleCount++
			}
			staleFiles = append(staleFiles, R{
				"file_path": fp, "mtime": safeMtime(fp), "exists": exists, "stale": true,
			})
		}
		return R{
			"agent_name":         agent,
			"context_updated_at": nil,
			"note":               "Agent has never called set-context; all files considered stale.",
			"files":              staleFiles,
			"stale_count":        staleCount,
		}, nil
	}

	contextTime, ok := store.ParseISO(contextUpdatedAt)
	if !ok {
		return errf("Invalid context_updated_at timestamp for %q.", agent), nil
	}

	var files []R
	staleCount := 0
	for _, fp := range paths {
		entry := R{"file_path": fp}
		info, statErr := os.Stat(fp)
		entry["exists"] = statErr == nil
		if statErr == nil {
			entry["mtime"] = info.ModTime().UTC().Format(time.RFC3339)
			stale := info.ModTime().After(contextTime)
			entry["stale"] = stale
			if stale {
				staleCount++
			}
		} else {
			entry["mtime"] = nil
			entry["stale"] = false
		}
		files = append(files, entry)
	}

	result := R{
		"agent_name":         agent,
		"context_updated_at": contextUpdatedAt,
		"files":              files,
		"stale_count":        staleCount,
	}
	if staleCount > 0 {
		result["warning"] = fmt.Sprintf("%d file(s) modified since last set-context.", staleCount)
	}
	return result, nil
}

// Sitrep is the fused common operating picture: agents, active tasks,
// claims, flags, battle plan, recent comms, war plan summary, and the
// intel doc count in one call.
func Sitrep(s *store.Store) (R, error) {
	now := time.Now().UTC()

	rows, err := s.QueryMaps(`SELECT * FROM agents ORDER BY last_seen DESC`)
	if err != nil {
		return nil, err
	}
	agents := make([]R, 0, len(rows))
	for _, row := range rows {
		a := store.EnrichAgent(row, now)
		compactions, _ := s.QueryMap(
			`SELECT COUNT(*) AS cnt FROM compaction_log WHERE agent_name = ?`, store.Str(a, "name"))
		a["compaction_count"] = store.Int(compactions, "cnt")
		agents = append(agents, a)
	}

	activeTasks, _ := s.QueryMaps(
		`SELECT * FROM tasks WHERE status IN ('open', 'assigned', 'in_progress') ORDER BY updated_at DESC`)
	claims, _ := s.QueryMaps(`SELECT * FROM file_claims ORDER BY agent_name`)

	flagRows, _ := s.QueryMaps(`SELECT * FROM flags`)
	flags := R{}
	for _, f := range flagRows {
		flags[store.Str(f, "key")] = R{
			"value":  store.Str(f, "value"),
			"set_by": store.Str(f, "set_by"),
			"set_at": store.Str(f, "set_at"),
		}
	}

	battlePlan, _ := s.QueryMap(
		`SELECT * FROM battle_plan WHERE status = 'active' ORDER BY created_at DESC LIMIT 1`)
	if battlePlan != nil {
		battlePlan["plan_content"] = workdir.ReadContentFile(store.Str(battlePlan, "plan_file"))
	}

	recent, _ := s.QueryMaps(
		`SELECT from_agent, to_agent, timestamp, is_cc FROM messages ORDER BY timestamp DESC LIMIT 10`)
	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}

	var warPlanSummary any
	if wp, err := intel.ShowWarPlan(s); err == nil {
		if content, ok := wp["content"].(string); ok && content != "" {
			if len(content) > 500 {
				content = content[:500]
			}
			warPlanSummary = content
		}
	}

	intelCount := 0
	if countRow, err := s.QueryMap(`SELECT COUNT(*) AS n FROM intel_docs`); err == nil {
		intelCount = int(store.Int(countRow, "n"))
	}

	return R{
		"agents":       agents,
		"active_tasks": activeTasks,
		"file_claims":  claims,
		"flags":        flags,
		"battle_plan":  battlePlan,
		"recent_comms": recent,
		"war_plan":     warPlanSummary,
		"intel_count":  intelCount,
	}, nil
}

// UpdateHP writes daemon-observed token counts. Self-reported agents
// (limit sentinel 100) are a no-op; their HP comes from set-context.
// Threshold alerts fire to the lead at 25 and 10 percent, re-arming
// once the agent recovers above 50.
func UpdateHP(s *store.Store, agent string, inputTokens, outputTokens, limit, turnInput, turnOutput int64) (R, error) {
	gate, err := s.GetAgent(agent)
	if err != nil {
		return nil, err
	}
	if gate == nil {
		return errf("Agent %q not found.", agent), nil
	}
	if store.Int(gate, "hp_tokens_limit") == store.SelfReportedLimit {
		return R{"status": "ok", "agent": agent, "hp": "self-reported"}, nil
	}

	now := store.NowISO()
	if _, err := s.DB.Exec(
		`UPDATE agents SET hp_input_tokens = ?, hp_output_tokens = ?, hp_tokens_limit = ?,
                hp_turn_input = ?, hp_turn_output = ?, hp_updated_at = ?, last_seen = ?
         WHERE name = ?`,
		inputTokens, outputTokens, limit, turnInput, turnOutput, now, now, agent); err != nil {
		return nil, err
	}

	if limit > 0 {
		used := turnInput
		if used <= 0 {
			used = inputTokens
			if used > limit {
				used = limit
			}
		}
		if used > 0 {
			hpPct := 100 - float64(used)/float64(limit)*100
			if hpPct < 0 {
				hpPct = 0
			}
			fireHPAlerts(s, agent, hpPct)
		}
	}

	return R{
		"status": "ok",
		"agent":  agent,
		"hp":     store.HPSummary(inputTokens, outputTokens, limit, turnInput, turnOutput),
	}, nil
}

// fireHPAlerts sends threshold alerts to the lead and tracks which
// thresholds fired in hp_alerts_fired so each fires once per descent.
func fireHPAlerts(s *store.Store, agent string, hpPct float64) {
	lead := s.Lead()
	if lead == "" {
		return
	}
	row, _ := s.GetAgent(agent)
	if row == nil {
		return
	}

	var fired []string
	if raw := store.Str(row, "hp_alerts_fired"); raw != "" {
		json.Unmarshal([]byte(raw), &fired)
	}

	if hpPct > 50 {
		// Recovery resets the latch so alerts re-fire on the next drop.
		fired = nil
	} else {
		thresholds := []struct {
			pct     float64
			message string
		}{
			{25, fmt.Sprintf("%s at %.0f%% HP. Consider fenix-down.", agent, hpPct)},
			{10, fmt.Sprintf("URGENT: %s at %.0f%% HP. fenix-down NOW or lose knowledge.", agent, hpPct)},
		}
		for _, t := range thresholds {
			key := fmt.Sprintf("%.0f", t.pct)
			if hpPct <= t.pct && !contains(fired, key) {
				if s.SystemMessage(lead, t.message) == nil {
					fired = append(fired, key)
				}
			}
		}
	}

	var firedVal any
	if len(fired) > 0 {
		raw, _ := json.Marshal(fired)
		firedVal = string(raw)
	}
	s.DB.Exec(`UPDATE agents SET hp_alerts_fired = ? WHERE name = ?`, firedVal, agent)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
