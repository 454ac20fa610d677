package requirements

import (
	"os"
	"path/filepath"
	"strconv"
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
		`INSERT INTO agents (name, agent_class, status, last_seen, context_updated_at) VALUES (?, ?, 'active', ?, ?)`,
		name, class, now, now); err != nil {
		t.Fatal(err)
	}
}

func seedBattlePlan(t *testing.T, s *store.Store) {
	t.Helper()
	now := store.NowISO()
	if _, err := s.DB.Exec(
		`INSERT INTO battle_plan (set_by, plan_file, status, created_at, updated_at)
         VALUES ('boss', 'plan.md', 'active', ?, ?)`, now, now); err != nil {
		t.Fatal(err)
	}
}

func mustCreate(t *testing.T, s *store.Store, path, title string) int64 {
	t.Helper()
	r, err := Create(s, path, title, "", "boss")
	if err != nil || r["error"] != nil {
		t.Fatalf("Create(%q) = %v, %v", path, r, err)
	}
	return r["id"].(int64)
}

func TestCreateAndRegister(t *testing.T) {
	s := testStore(t)

	id := mustCreate(t, s, "features/dark-mode", "Dark mode")
	readme := filepath.Join(workdir.RequirementsRoot(), "features/dark-mode", "README.md")
	if _, err := os.Stat(readme); err != nil {
		t.Errorf("README not written: %v", err)
	}

	t.Run("folder collision refused", func(t *testing.T) {
		r, _ := Create(s, "features/dark-mode", "Dark mode", "", "boss")
		if e, _ := r["error"].(string); !strings.Contains(e, "already exists") {
			t.Errorf("error = %v", r["error"])
		}
	})

	t.Run("double register refused", func(t *testing.T) {
		r, _ := Register(s, "features/dark-mode", "boss")
		if e, _ := r["error"].(string); !strings.Contains(e, "already registered") {
			t.Errorf("error = %v", r["error"])
		}
	})

	t.Run("origin inferred from top segment", func(t *testing.T) {
		r, _ := Register(s, "bugs/login-crash", "boss")
		if r["origin"] != "bug" || r["stage"] != "seed" {
			t.Errorf("result = %v", r)
		}
	})

	t.Run("child links to registered parent", func(t *testing.T) {
		r, err := Register(s, "features/dark-mode/001-toggle", "boss")
		if err != nil || r["error"] != nil {
			t.Fatalf("Register() = %v, %v", r, err)
		}
		row, _ := s.QueryMap(
			`SELECT parent_id FROM requirements WHERE file_path = 'features/dark-mode/001-toggle'`)
		if store.Int(row, "parent_id") != id {
			t.Errorf("parent_id = %v, want %d", row["parent_id"], id)
		}
	})
}

func TestUpdateStageLiteVsFull(t *testing.T) {
	s := testStore(t)
	addAgent(t, s, "boss", "lead")

	if r, _ := RegisterWithFlow(s, "features/small-tweak", "boss", "requirement-lite"); r["error"] != nil {
		t.Fatalf("register lite: %v", r["error"])
	}
	if r, _ := Register(s, "features/big-one", "boss"); r["error"] != nil {
		t.Fatalf("register full: %v", r["error"])
	}

	t.Run("lite rejects full-flow stages", func(t *testing.T) {
		r, _ := UpdateStage(s, "features/small-tweak", "itemizing", false, "boss")
		if e, _ := r["error"].(string); !strings.Contains(e, "Unknown stage") {
			t.Errorf("error = %v", r["error"])
		}
	})

	t.Run("lite moves seed to decomposing", func(t *testing.T) {
		r, _ := UpdateStage(s, "features/small-tweak", "decomposing", false, "boss")
		if r["to_stage"] != "decomposing" {
			t.Errorf("result = %v", r)
		}
	})

	t.Run("full flow takes the itemizing edge", func(t *testing.T) {
		r, _ := UpdateStage(s, "features/big-one", "itemizing", false, "boss")
		if r["to_stage"] != "itemizing" {
			t.Errorf("result = %v", r)
		}
	})

	t.Run("unregistered path", func(t *testing.T) {
		r, _ := UpdateStage(s, "features/ghost", "decomposing", false, "boss")
		if e, _ := r["error"].(string); !strings.Contains(e, "not found") {
			t.Errorf("error = %v", r["error"])
		}
	})

	t.Run("multi-hop without skip refused", func(t *testing.T) {
		r, _ := UpdateStage(s, "features/big-one", "tasked", false, "boss")
		if e, _ := r["error"].(string); !strings.Contains(e, "Transition blocked") {
			t.Errorf("error = %v", r["error"])
		}
	})
}

func TestUpdateStageSkipWalk(t *testing.T) {
	s := testStore(t)
	addAgent(t, s, "boss", "lead")
	addAgent(t, s, "coder-1", "coder")
	mustCreate(t, s, "features/skippy", "Skip walk")

	t.Run("skip is lead-only", func(t *testing.T) {
		r, _ := UpdateStage(s, "features/skippy", "tasked", true, "coder-1")
		if e, _ := r["error"].(string); !strings.Contains(e, "Transition blocked") {
			t.Errorf("error = %v", r["error"])
		}
	})

	t.Run("walk halts at the first failed gate", func(t *testing.T) {
		r, _ := UpdateStage(s, "features/skippy", "tasked", true, "boss")
		if r["to_stage"] != "decomposing" {
			t.Fatalf("to_stage = %v, want decomposing", r["to_stage"])
		}
		if w, _ := r["warning"].(string); !strings.Contains(w, "halted") {
			t.Errorf("warning = %v", r["warning"])
		}
	})
}

func TestItemize(t *testing.T) {
	s := testStore(t)
	addAgent(t, s, "boss", "lead")
	mustCreate(t, s, "features/itemize-me", "Itemize me")
	if r, _ := UpdateStage(s, "features/itemize-me", "itemizing", false, "boss"); r["to_stage"] != "itemizing" {
		t.Fatalf("setup: %v", r)
	}

	spec := &ItemizeSpec{Items: []string{"login works", "logout works"}}
	r, err := Itemize(s, "features/itemize-me", spec, "boss")
	if err != nil || r["error"] != nil {
		t.Fatalf("Itemize() = %v, %v", r, err)
	}
	if r["new_stage"] != "itemized" || r["items_written"] != 2 {
		t.Errorf("result = %v", r)
	}
	raw, err := os.ReadFile(r["output_file"].(string))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), "1. login works") {
		t.Errorf("itemized file = %q", raw)
	}

	t.Run("wrong stage refused", func(t *testing.T) {
		r, _ := Itemize(s, "features/itemize-me", spec, "boss")
		if e, _ := r["error"].(string); !strings.Contains(e, "cannot itemize") {
			t.Errorf("error = %v", r["error"])
		}
	})
}

func TestLoadSpecs(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		return path
	}

	t.Run("itemize happy", func(t *testing.T) {
		spec, err := LoadItemizeSpec(write("items.yaml", "items:\n  - one\n  - two\n"))
		if err != nil || len(spec.Items) != 2 {
			t.Errorf("LoadItemizeSpec() = %v, %v", spec, err)
		}
	})
	t.Run("itemize empty list", func(t *testing.T) {
		if _, err := LoadItemizeSpec(write("empty.yaml", "items: []\n")); err == nil {
			t.Error("empty items should fail")
		}
	})
	t.Run("decompose missing slug", func(t *testing.T) {
		_, err := LoadDecomposeSpec(write("bad.yaml", "children:\n  - title: no slug\n"))
		if err == nil || !strings.Contains(err.Error(), "slug") {
			t.Errorf("err = %v", err)
		}
	})
	t.Run("decompose happy", func(t *testing.T) {
		spec, err := LoadDecomposeSpec(write("ok.yaml",
			"children:\n  - slug: cart\n    title: Cart\n    blocked_by: [1]\n"))
		if err != nil || len(spec.Children) != 1 || spec.Children[0].BlockedBy[0] != 1 {
			t.Errorf("LoadDecomposeSpec() = %v, %v", spec, err)
		}
	})
}

func TestDecompose(t *testing.T) {
	s := testStore(t)
	addAgent(t, s, "boss", "lead")
	seedBattlePlan(t, s)
	parentID := mustCreate(t, s, "features/checkout", "Checkout rework")

	spec := &DecomposeSpec{Children: []DecomposeChild{
		{Slug: "cart", Title: "Cart service"},
		{Slug: "payment", Title: "Payment hookup", BlockedBy: []int{1}},
	}}
	r, err := Decompose(s, "features/checkout", spec, "boss")
	if err != nil || r["error"] != nil {
		t.Fatalf("Decompose() = %v, %v", r, err)
	}
	if r["children_created"] != 2 || r["tasks_created"] != 2 {
		t.Errorf("result = %v", r)
	}
	if r["parent_stage"] != "tasked" {
		t.Errorf("parent_stage = %v, want tasked", r["parent_stage"])
	}

	t.Run("children live on disk and in the index", func(t *testing.T) {
		readme := filepath.Join(workdir.RequirementsRoot(), "features/checkout/001-cart", "README.md")
		if _, err := os.Stat(readme); err != nil {
			t.Errorf("child README missing: %v", err)
		}
		row, _ := s.QueryMap(
			`SELECT parent_id FROM requirements WHERE file_path = 'features/checkout/002-payment'`)
		if store.Int(row, "parent_id") != parentID {
			t.Errorf("child parent_id = %v, want %d", row["parent_id"], parentID)
		}
	})

	t.Run("sibling blockers resolve to task ids", func(t *testing.T) {
		first, _ := s.QueryMap(
			`SELECT id FROM tasks WHERE requirement_path = 'features/checkout/001-cart'`)
		second, _ := s.QueryMap(
			`SELECT blocked_by FROM tasks WHERE requirement_path = 'features/checkout/002-payment'`)
		want := strconv.FormatInt(store.Int(first, "id"), 10)
		if store.Str(second, "blocked_by") != want {
			t.Errorf("blocked_by = %q, want %q", store.Str(second, "blocked_by"), want)
		}
	})

	t.Run("tasked parent cannot decompose again", func(t *testing.T) {
		r, _ := Decompose(s, "features/checkout", spec, "boss")
		if e, _ := r["error"].(string); !strings.Contains(e, "cannot decompose") {
			t.Errorf("error = %v", r["error"])
		}
	})

	t.Run("blocker reference out of range", func(t *testing.T) {
		mustCreate(t, s, "features/other", "Other")
		bad := &DecomposeSpec{Children: []DecomposeChild{
			{Slug: "solo", Title: "Solo", BlockedBy: []int{5}},
		}}
		r, _ := Decompose(s, "features/other", bad, "boss")
		if e, _ := r["error"].(string); !strings.Contains(e, "invalid blocked_by") {
			t.Errorf("error = %v", r["error"])
		}
	})
}

func TestStatusTreeOrphans(t *testing.T) {
	s := testStore(t)
	addAgent(t, s, "boss", "lead")
	seedBattlePlan(t, s)
	mustCreate(t, s, "features/checkout", "Checkout rework")
	spec := &DecomposeSpec{Children: []DecomposeChild{
		{Slug: "cart", Title: "Cart service"},
		{Slug: "payment", Title: "Payment hookup"},
	}}
	if r, _ := Decompose(s, "features/checkout", spec, "boss"); r["error"] != nil {
		t.Fatalf("decompose: %v", r["error"])
	}

	r, err := Status(s, "features/checkout")
	if err != nil {
		t.Fatal(err)
	}
	if r["task_count"] != 2 || r["completion_pct"] != 0 {
		t.Errorf("status = %v", r)
	}

	s.DB.Exec(`UPDATE tasks SET status = 'closed'
               WHERE requirement_path = 'features/checkout/001-cart'`)
	r, _ = Status(s, "features/checkout")
	if r["completion_pct"] != 50 {
		t.Errorf("completion_pct = %v, want 50", r["completion_pct"])
	}

	t.Run("tree covers the subtree", func(t *testing.T) {
		tr, err := Tree(s, "features/checkout")
		if err != nil {
			t.Fatal(err)
		}
		if nodes := tr["nodes"].([]R); len(nodes) != 3 {
			t.Errorf("nodes = %d, want parent plus two children", len(nodes))
		}
	})

	t.Run("orphans are taskless leaves", func(t *testing.T) {
		Register(s, "bugs/zombie", "boss")
		or, err := Orphans(s)
		if err != nil {
			t.Fatal(err)
		}
		orphans := or["orphans"].([]R)
		if len(orphans) != 1 || store.Str(orphans[0], "file_path") != "bugs/zombie" {
			t.Errorf("orphans = %v", orphans)
		}
	})

	t.Run("unlinked tasks surface", func(t *testing.T) {
		now := store.NowISO()
		s.DB.Exec(`INSERT INTO tasks (title, created_at, updated_at) VALUES ('stray', ?, ?)`, now, now)
		ul, err := UnlinkedTasks(s)
		if err != nil {
			t.Fatal(err)
		}
		rows := ul["unlinked_tasks"].([]R)
		if len(rows) != 1 || store.Str(rows[0], "title") != "stray" {
			t.Errorf("unlinked = %v", rows)
		}
	})
}

func TestFindings(t *testing.T) {
	s := testStore(t)
	addAgent(t, s, "boss", "lead")
	mustCreate(t, s, "bugs/crash", "Crash on resume")
	if r, _ := UpdateStage(s, "bugs/crash", "investigating", false, "boss"); r["to_stage"] != "investigating" {
		t.Fatalf("setup: %v", r)
	}

	t.Run("incomplete spec refused", func(t *testing.T) {
		r, _ := Findings(s, "bugs/crash", &FindingsSpec{RootCause: "x"}, "boss")
		if e, _ := r["error"].(string); !strings.Contains(e, "evidence") {
			t.Errorf("error = %v", r["error"])
		}
	})

	spec := &FindingsSpec{
		RootCause:      "stale session token reused after resume",
		Evidence:       []string{"trace in logs/session.log", "repro on two devices"},
		Recommendation: "invalidate tokens on suspend",
	}
	r, err := Findings(s, "bugs/crash", spec, "boss")
	if err != nil || r["error"] != nil {
		t.Fatalf("Findings() = %v, %v", r, err)
	}
	if r["stage"] != "findings_ready" {
		t.Errorf("stage = %v, want findings_ready", r["stage"])
	}
	raw, err := os.ReadFile(r["findings_file"].(string))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), "## Root Cause") ||
		!strings.Contains(string(raw), "- trace in logs/session.log") {
		t.Errorf("findings file = %q", raw)
	}
}

func TestReindex(t *testing.T) {
	s := testStore(t)
	reqRoot := workdir.RequirementsRoot()

	mkdir := func(rel string, files ...string) {
		abs := filepath.Join(reqRoot, rel)
		if err := os.MkdirAll(abs, 0o755); err != nil {
			t.Fatal(err)
		}
		for _, f := range files {
			if err := os.WriteFile(filepath.Join(abs, f), []byte("# x\n"), 0o644); err != nil {
				t.Fatal(err)
			}
		}
	}
	mkdir("features/alpha", "README.md", "itemized-requirements.md")
	mkdir("features/beta", "README.md")
	mkdir("features/beta/001-part", "README.md")
	mkdir("features/bare")

	Register(s, "features/alpha", "boss")

	r, err := Reindex(s, workdir.WorkDir())
	if err != nil {
		t.Fatalf("Reindex() error = %v", err)
	}
	if r["added"] != 2 || r["skipped"] != 1 {
		t.Fatalf("Reindex() = %v", r)
	}

	tests := []struct {
		name string
		path string
		want string
	}{
		{name: "subdirs mean decomposed", path: "features/beta", want: "decomposed"},
		{name: "fresh child is seed", path: "features/beta/001-part", want: "seed"},
		{name: "registered rows keep their stage", path: "features/alpha", want: "seed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row, _ := s.QueryMap(`SELECT stage FROM requirements WHERE file_path = ?`, tt.path)
			if store.Str(row, "stage") != tt.want {
				t.Errorf("stage = %q, want %q", store.Str(row, "stage"), tt.want)
			}
		})
	}

	t.Run("dirs without README are ignored", func(t *testing.T) {
		row, _ := s.QueryMap(`SELECT id FROM requirements WHERE file_path = 'features/bare'`)
		if row != nil {
			t.Error("bare dir should not be indexed")
		}
	})
}

func TestReport(t *testing.T) {
	s := testStore(t)
	addAgent(t, s, "boss", "lead")
	seedBattlePlan(t, s)
	mustCreate(t, s, "features/checkout", "Checkout rework")
	spec := &DecomposeSpec{Children: []DecomposeChild{
		{Slug: "cart", Title: "Cart service", Description: "split the cart endpoints"},
	}}
	if r, _ := Decompose(s, "features/checkout", spec, "boss"); r["error"] != nil {
		t.Fatalf("decompose: %v", r["error"])
	}

	r, err := Report(s, "features/checkout")
	if err != nil || r["error"] != nil {
		t.Fatalf("Report() = %v, %v", r, err)
	}
	if r["title"] != "Checkout rework" || r["stage"] != "tasked" {
		t.Errorf("report = title %v stage %v", r["title"], r["stage"])
	}
	children := r["children"].([]R)
	if len(children) != 1 || children[0]["slug"] != "001-cart" {
		t.Fatalf("children = %v", children)
	}

	out := FormatReport(r)
	for _, want := range []string{
		"# Requirement Report: Checkout rework",
		"### 001-cart",
		"split the cart endpoints",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("FormatReport missing %q", want)
		}
	}

	t.Run("missing folder", func(t *testing.T) {
		r, _ := Report(s, "features/ghost")
		if r["error"] == nil {
			t.Error("missing folder should fail")
		}
	})
}
