package ui

import (
	"strings"
	"testing"
)

func TestHPBar(t *testing.T) {
	tests := []struct {
		name  string
		used  int64
		limit int64
		want  string
	}{
		{name: "unmeasured sentinel", used: 50, limit: 100, want: "░░░░░░░░░░ (---)"},
		{name: "zero limit", used: 0, limit: 0, want: "░░░░░░░░░░ (---)"},
		{name: "empty", used: 0, limit: 200_000, want: "0%"},
		{name: "half", used: 100_000, limit: 200_000, want: "50%"},
		{name: "over limit clamps", used: 300_000, limit: 200_000, want: "100%"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HPBar(tt.used, tt.limit); !strings.Contains(got, tt.want) {
				t.Errorf("HPBar(%d, %d) = %q, want containing %q", tt.used, tt.limit, got, tt.want)
			}
		})
	}

	t.Run("fill tracks percentage", func(t *testing.T) {
		got := HPBar(150_000, 200_000)
		if !strings.Contains(got, strings.Repeat("█", 8)) {
			t.Errorf("HPBar at 75%% = %q, want 8 filled cells", got)
		}
	})
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		width int
		want  string
	}{
		{name: "fits", in: "short", width: 10, want: "short"},
		{name: "exact", in: "exact", width: 5, want: "exact"},
		{name: "clipped", in: "a longer title", width: 8, want: "a longe…"},
		{name: "width one", in: "abc", width: 1, want: "a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := truncate(tt.in, tt.width); got != tt.want {
				t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.width, got, tt.want)
			}
		})
	}
}

func TestPad(t *testing.T) {
	if got := pad("ab", 5); got != "ab   " {
		t.Errorf("pad() = %q", got)
	}
	if got := pad("abcdef", 5); got != "abcdef" {
		t.Errorf("pad() over width = %q", got)
	}
}

func TestRenderDashboard(t *testing.T) {
	data := DashboardData{
		Tasks: []DashboardTask{
			{ID: 7, Title: "fix login", Status: "in_progress", Assignee: "coder-1", ActivityCount: 3},
			{ID: 9, Title: "waiting", Status: "open", Blockers: []int64{7}},
		},
		Agents: []DashboardAgent{
			{Name: "boss", Class: "lead", Status: "ready", TokensUsed: 10_000, TokensLimit: 200_000},
			{Name: "coder-1", Class: "coder", Status: "busy", TokensUsed: 150_000, TokensLimit: 200_000},
		},
		Activity: []DashboardEvent{
			{TaskID: 7, Title: "fix login", FromStatus: "assigned", ToStatus: "in_progress",
				Agent: "coder-1", Timestamp: "2026-08-24T12:00:00Z"},
		},
	}

	out := RenderDashboard(data, 120, 40)
	for _, want := range []string{
		"MINION DASHBOARD",
		"TASKS",
		"fix login",
		"coder-1",
		"[BLOCKED: 7]",
		"AGENTS",
		"RECENT ACTIVITY",
		"assigned",
		"12:00:00",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("dashboard missing %q", want)
		}
	}

	t.Run("empty sections carry placeholders", func(t *testing.T) {
		out := RenderDashboard(DashboardData{}, 80, 24)
		if !strings.Contains(out, "(no active tasks)") || !strings.Contains(out, "(no recent transitions)") {
			t.Error("placeholders missing from empty dashboard")
		}
	})

	t.Run("agent overflow noted", func(t *testing.T) {
		many := DashboardData{}
		for i := 0; i < 30; i++ {
			many.Agents = append(many.Agents, DashboardAgent{Name: "agent", Class: "coder"})
		}
		out := RenderDashboard(many, 80, 24)
		if !strings.Contains(out, "more agents not shown") {
			t.Error("overflow note missing")
		}
	})
}
