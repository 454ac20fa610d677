package lifecycle

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ai-janitor/minion-factory-sub000/internal/store"
	"github.com/ai-janitor/minion-factory-sub000/internal/workdir"
)

func testStore(t *testing.T) *store.Store {
	t.Helper()
	t.Setenv(workdir.EnvDBPath, "")
	t.Setenv(workdir.EnvWorkRoot, t.TempDir())
	flows, err := filepath.Abs(filepath.Join("..", "..", "task-flows"))
	if err != nil {
		t.Fatal(err)
	}
	t.Setenv(workdir.EnvFlowsDir, flows)

	s, err := store.Open("")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func addAgent(t *testing.T, s *store.Store, name, class string) {
	t.Helper()
	now := store.NowISO()
	if _, err := s.DB.Exec(
		`INSERT INTO agents (name, agent_class, status, last_seen) VALUES (?, ?, 'active', ?)`,
		name, class, now); err != nil {
		t.Fatal(err)
	}
}

func tempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestColdStart(t *testing.T) {
	s := testStore(t)
	addAgent(t, s, "boss", "lead")
	addAgent(t, s, "coder-1", "coder")

	t.Run("unregistered agent blocked", func(t *testing.T) {
		r, _ := ColdStart(s, "ghost")
		if e, _ := r["error"].(string); !strings.Contains(e, "not registered") {
			t.Errorf("error = %v", r["error"])
		}
	})

	now := store.NowISO()
	planFile := tempFile(t, "plan.md", "# Sprint: ship auth\n")
	s.DB.Exec(`INSERT INTO battle_plan (set_by, plan_file, status, created_at, updated_at)
               VALUES ('boss', ?, 'active', ?, ?)`, planFile, now, now)
	entryFile := tempFile(t, "entry.md", "deployed staging\n")
	s.DB.Exec(`INSERT INTO raid_log (agent_name, entry_file, priority, created_at)
               VALUES ('boss', ?, 'normal', ?)`, entryFile, now)
	s.DB.Exec(`INSERT INTO tasks (title, status, created_at, updated_at) VALUES ('fix it', 'open', ?, ?)`,
		now, now)
	s.DB.Exec(`INSERT INTO fenix_down_records (agent_name, files, manifest, consumed, created_at)
               VALUES ('coder-1', '["notes.md"]', 'wip on retry loop', 0, ?)`, now)

	r, err := ColdStart(s, "coder-1")
	if err != nil {
		t.Fatal(err)
	}
	plan := r["battle_plan"].(R)
	if !strings.Contains(store.Str(plan, "plan_content"), "ship auth") {
		t.Errorf("plan_content = %v", plan["plan_content"])
	}
	raid := r["raid_log"].([]R)
	if len(raid) != 1 || !strings.Contains(store.Str(raid[0], "entry_content"), "deployed staging") {
		t.Errorf("raid_log = %v", raid)
	}
	if tasks := r["open_tasks"].([]R); len(tasks) != 1 {
		t.Errorf("open_tasks = %v", tasks)
	}
	if agents := r["agents"].([]R); len(agents) != 2 {
		t.Errorf("agents = %v", agents)
	}
	if briefings := r["briefing_files"].([]string); len(briefings) == 0 {
		t.Error("coder should have briefing files")
	}
	caps := r["capabilities"].([]string)
	found := false
	for _, c := range caps {
		if c == "code" {
			found = true
		}
	}
	if !found {
		t.Errorf("capabilities = %v, want code", caps)
	}
	if recs := r["fenix_down_records"].([]R); len(recs) != 1 ||
		!strings.Contains(store.Str(recs[0], "manifest"), "retry loop") {
		t.Errorf("fenix_down_records = %v", recs)
	}

	t.Run("fenix records consumed on delivery", func(t *testing.T) {
		again, err := ColdStart(s, "coder-1")
		if err != nil {
			t.Fatal(err)
		}
		if recs := again["fenix_down_records"].([]R); len(recs) != 0 {
			t.Errorf("second cold-start records = %v, want none", recs)
		}
	})
}

func TestFenixDown(t *testing.T) {
	s := testStore(t)
	addAgent(t, s, "coder-1", "coder")

	tests := []struct {
		name    string
		agent   string
		files   string
		wantErr string
	}{
		{name: "unregistered", agent: "ghost", files: "a.md", wantErr: "not registered"},
		{name: "no files listed", agent: "coder-1", files: " , ", wantErr: "No files"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := FenixDown(s, tt.agent, tt.files, "")
			if e, _ := r["error"].(string); !strings.Contains(e, tt.wantErr) {
				t.Errorf("error = %v, want containing %q", r["error"], tt.wantErr)
			}
		})
	}

	r, err := FenixDown(s, "coder-1", "notes.md, handoff.md", "retry loop half done")
	if err != nil || r["status"] != "recorded" {
		t.Fatalf("FenixDown() = %v, %v", r, err)
	}
	if r["files_count"] != 2 {
		t.Errorf("files_count = %v, want 2", r["files_count"])
	}
	row, _ := s.QueryMap(`SELECT files, consumed FROM fenix_down_records WHERE agent_name = 'coder-1'`)
	if !strings.Contains(store.Str(row, "files"), "handoff.md") || store.Int(row, "consumed") != 0 {
		t.Errorf("record = %v", row)
	}
	agentRow, _ := s.GetAgent("coder-1")
	if store.Str(agentRow, "status") != "phoenix_down" {
		t.Errorf("status = %q, want phoenix_down", store.Str(agentRow, "status"))
	}
}

func TestDebrief(t *testing.T) {
	s := testStore(t)
	addAgent(t, s, "boss", "lead")
	addAgent(t, s, "coder-1", "coder")
	debriefFile := tempFile(t, "debrief.md", "# Session debrief\n")

	t.Run("lead only", func(t *testing.T) {
		r, _ := Debrief(s, "coder-1", debriefFile)
		if e, _ := r["error"].(string); !strings.Contains(e, "lead") {
			t.Errorf("error = %v", r["error"])
		}
	})

	t.Run("file must exist", func(t *testing.T) {
		r, _ := Debrief(s, "boss", "/no/such/debrief.md")
		if e, _ := r["error"].(string); !strings.Contains(e, "does not exist") {
			t.Errorf("error = %v", r["error"])
		}
	})

	r, err := Debrief(s, "boss", debriefFile)
	if err != nil || r["status"] != "filed" {
		t.Fatalf("Debrief() = %v, %v", r, err)
	}
	row, _ := s.QueryMap(`SELECT priority FROM raid_log WHERE agent_name = 'boss'`)
	if store.Str(row, "priority") != "critical" {
		t.Errorf("priority = %q, want critical", store.Str(row, "priority"))
	}
}

func TestEndSession(t *testing.T) {
	s := testStore(t)
	addAgent(t, s, "boss", "lead")
	addAgent(t, s, "coder-1", "coder")
	now := store.NowISO()
	s.DB.Exec(`INSERT INTO battle_plan (set_by, plan_file, status, created_at, updated_at)
               VALUES ('boss', 'plan.md', 'active', ?, ?)`, now, now)

	t.Run("lead only", func(t *testing.T) {
		r, _ := EndSession(s, "coder-1")
		if e, _ := r["error"].(string); !strings.Contains(e, "lead") {
			t.Errorf("error = %v", r["error"])
		}
	})

	t.Run("debrief required first", func(t *testing.T) {
		r, _ := EndSession(s, "boss")
		if e, _ := r["error"].(string); !strings.Contains(e, "debrief") {
			t.Errorf("error = %v", r["error"])
		}
	})

	debriefFile := tempFile(t, "debrief.md", "# Debrief\n")
	if r, _ := Debrief(s, "boss", debriefFile); r["error"] != nil {
		t.Fatalf("debrief: %v", r["error"])
	}

	t.Run("open tasks block the exit", func(t *testing.T) {
		res, _ := s.DB.Exec(
			`INSERT INTO tasks (title, status, created_at, updated_at) VALUES ('loose end', 'in_progress', ?, ?)`,
			now, now)
		id, _ := res.LastInsertId()
		r, _ := EndSession(s, "boss")
		e, _ := r["error"].(string)
		if !strings.Contains(e, "open task") || !strings.Contains(e, "loose end") {
			t.Errorf("error = %v", r["error"])
		}
		s.DB.Exec(`UPDATE tasks SET status = 'closed' WHERE id = ?`, id)
	})

	r, err := EndSession(s, "boss")
	if err != nil || r["status"] != "ended" {
		t.Fatalf("EndSession() = %v, %v", r, err)
	}
	if r["tasks_closed"] != int64(1) {
		t.Errorf("tasks_closed = %v, want 1", r["tasks_closed"])
	}
	planRow, _ := s.QueryMap(`SELECT status FROM battle_plan`)
	if store.Str(planRow, "status") != "completed" {
		t.Errorf("battle plan status = %q, want completed", store.Str(planRow, "status"))
	}
	marker, _ := s.QueryMap(`SELECT id FROM raid_log WHERE entry_file = 'SESSION_ENDED'`)
	if marker == nil {
		t.Error("session end marker missing from raid log")
	}
}

func TestRetireAndInterrupt(t *testing.T) {
	s := testStore(t)
	addAgent(t, s, "coder-1", "coder")

	t.Run("unregistered", func(t *testing.T) {
		if r, _ := RequestRetire(s, "ghost", "boss"); r["error"] == nil {
			t.Error("retire for unknown agent should fail")
		}
		if r, _ := RequestInterrupt(s, "ghost", "boss"); r["error"] == nil {
			t.Error("interrupt for unknown agent should fail")
		}
	})

	if r, _ := RequestRetire(s, "coder-1", "boss"); r["status"] != "retire_requested" {
		t.Errorf("RequestRetire() = %v", r)
	}
	row, _ := s.QueryMap(`SELECT requested_by FROM agent_retire WHERE agent_name = 'coder-1'`)
	if store.Str(row, "requested_by") != "boss" {
		t.Errorf("agent_retire row = %v", row)
	}

	t.Run("re-request replaces", func(t *testing.T) {
		RequestRetire(s, "coder-1", "oracle-1")
		rows, _ := s.QueryMaps(`SELECT requested_by FROM agent_retire WHERE agent_name = 'coder-1'`)
		if len(rows) != 1 || store.Str(rows[0], "requested_by") != "oracle-1" {
			t.Errorf("agent_retire rows = %v", rows)
		}
	})

	if r, _ := RequestInterrupt(s, "coder-1", "boss"); r["status"] != "interrupt_requested" {
		t.Errorf("RequestInterrupt() = %v", r)
	}
	row, _ = s.QueryMap(`SELECT requested_by FROM agent_interrupt WHERE agent_name = 'coder-1'`)
	if store.Str(row, "requested_by") != "boss" {
		t.Errorf("agent_interrupt row = %v", row)
	}
}
