package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ai-janitor/minion-factory-sub000/internal/store"
	"github.com/ai-janitor/minion-factory-sub000/internal/ui"
)

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	GroupID: "daemon",
	Short:   "Live terminal dashboard of tasks, agent HP, and activity",
	Run: func(cmd *cobra.Command, args []string) {
		refresh, _ := cmd.Flags().GetInt("refresh")
		once, _ := cmd.Flags().GetBool("once")

		s := openStore()
		defer s.Close()

		if once || !ui.IsTerminal() {
			width, height := ui.GetSize()
			fmt.Println(ui.RenderDashboard(collectDashboard(s), width, height))
			return
		}

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		ticker := time.NewTicker(time.Duration(refresh) * time.Second)
		defer ticker.Stop()
		for {
			width, height := ui.GetSize()
			frame := ui.RenderDashboard(collectDashboard(s), width, height)
			fmt.Print(ui.ClearAndHome + frame + "\n")
			select {
			case <-sig:
				return
			case <-ticker.C:
			}
		}
	},
}

// collectDashboard runs the three read-only queries one refresh needs.
// Query errors render as empty sections rather than killing the loop.
func collectDashboard(s *store.Store) ui.DashboardData {
	var data ui.DashboardData

	taskRows, _ := s.QueryMaps(`
        SELECT id, title, status, COALESCE(assigned_to, '') AS assigned_to,
               activity_count, COALESCE(blocked_by, '') AS blocked_by,
               COALESCE(result_file, '') AS result_file
        FROM tasks
        WHERE status NOT IN ('closed', 'abandoned', 'stale', 'obsolete')
        ORDER BY CASE status
            WHEN 'in_progress' THEN 0
            WHEN 'assigned' THEN 1
            WHEN 'fixed' THEN 2
            WHEN 'verified' THEN 3
            WHEN 'blocked' THEN 4
            WHEN 'open' THEN 5
            ELSE 6 END, id
        LIMIT 50`)
	for _, row := range taskRows {
		data.Tasks = append(data.Tasks, ui.DashboardTask{
			ID:            store.Int(row, "id"),
			Title:         store.Str(row, "title"),
			Status:        store.Str(row, "status"),
			Assignee:      store.Str(row, "assigned_to"),
			ActivityCount: store.Int(row, "activity_count"),
			Blockers:      unresolvedBlockers(s, store.Str(row, "blocked_by")),
			HasResult:     store.Str(row, "result_file") != "",
		})
	}

	agentRows, _ := s.QueryMaps(`
        SELECT name, agent_class, status,
               COALESCE(hp_input_tokens, 0) AS hp_input_tokens,
               COALESCE(hp_tokens_limit, 0) AS hp_tokens_limit
        FROM agents
        WHERE status != 'retired' AND transport IN ('daemon', 'terminal')
        ORDER BY agent_class = 'lead' DESC, name`)
	for _, row := range agentRows {
		data.Agents = append(data.Agents, ui.DashboardAgent{
			Name:        store.Str(row, "name"),
			Class:       store.Str(row, "agent_class"),
			Status:      store.Str(row, "status"),
			TokensUsed:  store.Int(row, "hp_input_tokens"),
			TokensLimit: store.Int(row, "hp_tokens_limit"),
		})
	}

	eventRows, _ := s.QueryMaps(`
        SELECT l.entity_id, COALESCE(t.title, '') AS title,
               COALESCE(l.from_status, '') AS from_status, l.to_status,
               COALESCE(l.triggered_by, '') AS triggered_by, l.created_at
        FROM transition_log l
        LEFT JOIN tasks t ON t.id = l.entity_id
        WHERE l.entity_type = 'task'
        ORDER BY l.id DESC
        LIMIT 8`)
	for _, row := range eventRows {
		data.Activity = append(data.Activity, ui.DashboardEvent{
			TaskID:     store.Int(row, "entity_id"),
			Title:      store.Str(row, "title"),
			FromStatus: store.Str(row, "from_status"),
			ToStatus:   store.Str(row, "to_status"),
			Agent:      store.Str(row, "triggered_by"),
			Timestamp:  store.Str(row, "created_at"),
		})
	}
	return data
}

// unresolvedBlockers filters a blocked_by list down to blockers that
// are still open.
func unresolvedBlockers(s *store.Store, blockedBy string) []int64 {
	var out []int64
	for _, part := range strings.Split(blockedBy, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			continue
		}
		row, _ := s.QueryMap(`SELECT status FROM tasks WHERE id = ?`, id)
		if row == nil {
			continue
		}
		switch store.Str(row, "status") {
		case "closed", "abandoned", "stale", "obsolete":
		default:
			out = append(out, id)
		}
	}
	return out
}

func init() {
	dashboardCmd.Flags().Int("refresh", 2, "refresh interval in seconds")
	dashboardCmd.Flags().Bool("once", false, "render one frame and exit")

	rootCmd.AddCommand(dashboardCmd)
}
