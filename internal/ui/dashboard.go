package ui

import (
	"fmt"
	"strings"

	"github.com/ai-janitor/minion-factory-sub000/internal/store"
)

// hpBarWidth is the character width of agent HP bars.
const hpBarWidth = 10

// DashboardTask is one active task row.
type DashboardTask struct {
	ID            int64
	Title         string
	Status        string
	Assignee      string
	ActivityCount int64
	Blockers      []int64
	HasResult     bool
}

// DashboardAgent is one agent row with HP accounting.
type DashboardAgent struct {
	Name        string
	Class       string
	Status      string
	TokensUsed  int64
	TokensLimit int64
}

// DashboardEvent is one transition feed entry.
type DashboardEvent struct {
	TaskID     int64
	Title      string
	FromStatus string
	ToStatus   string
	Agent      string
	Timestamp  string
}

// DashboardData is everything one refresh cycle renders.
type DashboardData struct {
	Tasks    []DashboardTask
	Agents   []DashboardAgent
	Activity []DashboardEvent
}

var statusStyles = map[string]func(...string) string{
	"in_progress": PassStyle.Render,
	"assigned":    TitleStyle.Render,
	"fixed":       WarnStyle.Render,
	"verified":    WarnStyle.Render,
	"blocked":     FailStyle.Render,
}

func renderStatus(status string) string {
	if style, ok := statusStyles[status]; ok {
		return style(pad(status, 12))
	}
	return pad(status, 12)
}

// HPBar renders a colored context-consumption bar. A limit at or
// below the self-reported sentinel means monitoring has not measured
// this agent yet.
func HPBar(used, limit int64) string {
	if limit <= 100 {
		return strings.Repeat("░", hpBarWidth) + " (---)"
	}
	pct := float64(used) / float64(limit)
	if pct > 1 {
		pct = 1
	}
	filled := int(pct*hpBarWidth + 0.5)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", hpBarWidth-filled)
	switch {
	case pct > 0.75:
		bar = FailStyle.Render(bar)
	case pct > 0.50:
		bar = WarnStyle.Render(bar)
	default:
		bar = PassStyle.Render(bar)
	}
	return fmt.Sprintf("%s %.0f%%", bar, pct*100)
}

func truncate(text string, width int) string {
	if len(text) <= width {
		return text
	}
	if width <= 1 {
		return text[:width]
	}
	return text[:width-1] + "…"
}

func pad(text string, width int) string {
	if len(text) >= width {
		return text
	}
	return text + strings.Repeat(" ", width-len(text))
}

func renderTasks(tasks []DashboardTask, width int) []string {
	titleWidth := width - 55
	if titleWidth < 10 {
		titleWidth = 10
	}
	if titleWidth > 40 {
		titleWidth = 40
	}

	lines := []string{
		SectionStyle.Render(fmt.Sprintf("%4s  %-12s  %-12s  %-*s  %3s",
			"ID", "STATUS", "ASSIGNEE", titleWidth, "TITLE", "ACT")),
		MutedStyle.Render(strings.Repeat("─", min(width, titleWidth+40))),
	}
	if len(tasks) == 0 {
		return append(lines, MutedStyle.Render("  (no active tasks)"))
	}

	for _, t := range tasks {
		assignee := t.Assignee
		if assignee == "" {
			assignee = "-"
		}
		resultFlag := ""
		if t.HasResult {
			resultFlag = " ✓"
		}
		line := fmt.Sprintf("%4d  %s  %-12s  %-*s%s  %3d",
			t.ID, renderStatus(t.Status), truncate(assignee, 12),
			titleWidth, truncate(t.Title, titleWidth), resultFlag, t.ActivityCount)
		if len(t.Blockers) > 0 {
			ids := make([]string, len(t.Blockers))
			for i, b := range t.Blockers {
				ids[i] = fmt.Sprint(b)
			}
			line += " " + FailStyle.Render("[BLOCKED: "+strings.Join(ids, ", ")+"]")
		}
		lines = append(lines, line)
	}
	return lines
}

func renderAgents(agents []DashboardAgent, maxRows int) []string {
	lines := []string{
		SectionStyle.Render(fmt.Sprintf("%-14s  %-8s  %-10s  HP", "AGENT", "CLASS", "STATUS")),
		MutedStyle.Render(strings.Repeat("─", 60)),
	}

	visible := agents
	if len(visible) > maxRows {
		visible = visible[:maxRows]
	}
	for _, a := range visible {
		status := a.Status
		if status == "" {
			status = "unknown"
		}
		styled := MutedStyle.Render(pad(status, 10))
		switch status {
		case "ready":
			styled = PassStyle.Render(pad(status, 10))
		case "busy":
			styled = WarnStyle.Render(pad(status, 10))
		}
		lines = append(lines, fmt.Sprintf("%-14s  %-8s  %s  %s",
			a.Name, a.Class, styled, HPBar(a.TokensUsed, a.TokensLimit)))
	}
	if overflow := len(agents) - len(visible); overflow > 0 {
		lines = append(lines, MutedStyle.Render(fmt.Sprintf("  + %d more agents not shown", overflow)))
	}
	return lines
}

func renderActivity(activity []DashboardEvent) []string {
	lines := []string{
		SectionStyle.Render("RECENT ACTIVITY"),
		MutedStyle.Render(strings.Repeat("─", 60)),
	}
	if len(activity) == 0 {
		return append(lines, MutedStyle.Render("  (no recent transitions)"))
	}
	for _, e := range activity {
		ts := e.Timestamp
		if parsed, ok := store.ParseISO(ts); ok {
			ts = parsed.Format("15:04:05")
		}
		from := e.FromStatus
		if from == "" {
			from = "-"
		}
		agent := e.Agent
		if agent == "" {
			agent = "-"
		}
		lines = append(lines, fmt.Sprintf("  %s  #%d %s  %s → %s  [%s]",
			MutedStyle.Render(ts), e.TaskID, truncate(e.Title, 25),
			from, PassStyle.Render(e.ToStatus), agent))
	}
	return lines
}

// RenderDashboard composes the full screen: tasks on top, agent HP
// bars sized to the remaining height, activity feed at the bottom.
func RenderDashboard(data DashboardData, width, height int) string {
	var lines []string
	lines = append(lines, TitleStyle.Render("  MINION DASHBOARD"), "")

	lines = append(lines, SectionStyle.Render("TASKS"))
	taskLines := renderTasks(data.Tasks, width)
	lines = append(lines, taskLines...)
	lines = append(lines, "")

	agentMax := height - len(taskLines) - 17
	if agentMax < 2 {
		agentMax = 2
	}
	lines = append(lines, SectionStyle.Render("AGENTS"))
	lines = append(lines, renderAgents(data.Agents, agentMax)...)
	lines = append(lines, "")

	lines = append(lines, renderActivity(data.Activity)...)
	return strings.Join(lines, "\n")
}

// ClearAndHome is the ANSI sequence prefixed to each frame so one
// write repaints the screen without flicker.
const ClearAndHome = "\033[2J\033[H"
