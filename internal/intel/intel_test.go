package intel

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/ai-janitor/minion-factory-sub000/internal/store"
	"github.com/ai-janitor/minion-factory-sub000/internal/workdir"
)

func testStore(t *testing.T) *store.Store {
	t.Helper()
	t.Setenv(workdir.EnvDBPath, "")
	t.Setenv(workdir.EnvWorkRoot, t.TempDir())
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

func writeDoc(t *testing.T, rel, content string) string {
	t.Helper()
	path := filepath.Join(workdir.IntelRoot(), rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const docWithFrontmatter = `---
tags: [auth, sessions]
linked_tasks: [7]
linked_reqs: [3]
author: oracle-1
date: 2026-08-20
---

# Session handling notes

Body text.
`

func TestParseFrontmatter(t *testing.T) {
	t.Setenv(workdir.EnvWorkRoot, t.TempDir())

	t.Run("full header", func(t *testing.T) {
		path := writeDoc(t, "auth.md", docWithFrontmatter)
		fm := ParseFrontmatter(path)
		if !reflect.DeepEqual(fm.Tags, []string{"auth", "sessions"}) {
			t.Errorf("Tags = %v", fm.Tags)
		}
		if len(fm.LinkedTasks) != 1 || fm.LinkedTasks[0] != 7 {
			t.Errorf("LinkedTasks = %v", fm.LinkedTasks)
		}
		if fm.Author != "oracle-1" {
			t.Errorf("Author = %q", fm.Author)
		}
	})

	t.Run("no header", func(t *testing.T) {
		path := writeDoc(t, "plain.md", "# Just markdown\n")
		if fm := ParseFrontmatter(path); fm.Tags != nil || fm.Author != "" {
			t.Errorf("plain doc frontmatter = %+v", fm)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if fm := ParseFrontmatter("/no/such.md"); fm.Author != "" {
			t.Errorf("missing file frontmatter = %+v", fm)
		}
	})
}

func TestAddDoc(t *testing.T) {
	s := testStore(t)

	t.Run("missing file without scaffold", func(t *testing.T) {
		r, _ := AddDoc(s, "ghost", filepath.Join(workdir.IntelRoot(), "ghost.md"), nil, "", "boss", false)
		if e, _ := r["error"].(string); !strings.Contains(e, "scaffold") {
			t.Errorf("error = %v", r["error"])
		}
	})

	t.Run("scaffold creates the stub", func(t *testing.T) {
		path := filepath.Join(workdir.IntelRoot(), "fresh.md")
		r, err := AddDoc(s, "fresh", path, []string{"infra"}, "notes", "boss", true)
		if err != nil || r["status"] != "added" {
			t.Fatalf("AddDoc() = %v, %v", r, err)
		}
		raw, err := os.ReadFile(path)
		if err != nil || !strings.Contains(string(raw), "tags: []") {
			t.Errorf("scaffolded file = %q, %v", raw, err)
		}
	})

	path := writeDoc(t, "auth.md", docWithFrontmatter)
	r, err := AddDoc(s, "auth", path, []string{"auth"}, "session notes", "oracle-1", false)
	if err != nil || r["status"] != "added" {
		t.Fatalf("AddDoc() = %v, %v", r, err)
	}

	t.Run("frontmatter links auto-populate", func(t *testing.T) {
		links, _ := s.QueryMaps(
			`SELECT entity_type, entity_id FROM intel_links WHERE intel_slug = 'auth' ORDER BY entity_type`,
			)
		if len(links) != 2 || store.Str(links[0], "entity_type") != "requirement" ||
			store.Int(links[1], "entity_id") != 7 {
			t.Errorf("links = %v", links)
		}
	})

	t.Run("re-add updates in place", func(t *testing.T) {
		r, _ := AddDoc(s, "auth", path, []string{"auth", "sessions"}, "updated", "oracle-1", false)
		if r["status"] != "updated" {
			t.Errorf("status = %v", r["status"])
		}
		rows, _ := s.QueryMaps(`SELECT slug FROM intel_docs WHERE slug = 'auth'`)
		if len(rows) != 1 {
			t.Errorf("rows = %d, want 1", len(rows))
		}
	})
}

func TestQueries(t *testing.T) {
	s := testStore(t)
	authPath := writeDoc(t, "auth.md", docWithFrontmatter)
	cachePath := writeDoc(t, "infra/cache.md", "# Cache\n\nline2\nline3\nline4\nline5\nline6\nline7\nline8\nline9\nline10\nline11\n")
	AddDoc(s, "auth", authPath, []string{"auth"}, "", "boss", false)
	AddDoc(s, "infra/cache", cachePath, []string{"infra"}, "", "boss", false)

	t.Run("list by tag", func(t *testing.T) {
		r, err := ListDocs(s, "infra", 0)
		if err != nil {
			t.Fatal(err)
		}
		docs := r["docs"].([]R)
		if len(docs) != 1 || docs[0]["slug"] != "infra/cache" {
			t.Errorf("docs = %v", docs)
		}
		tags, _ := docs[0]["tags"].([]string)
		if !reflect.DeepEqual(tags, []string{"infra"}) {
			t.Errorf("tags = %v", docs[0]["tags"])
		}
	})

	t.Run("find by path fragment", func(t *testing.T) {
		r, _ := FindDocs(s, "", "infra/")
		if docs := r["docs"].([]R); len(docs) != 1 {
			t.Errorf("docs = %v", docs)
		}
	})

	t.Run("get with links", func(t *testing.T) {
		r, err := GetDoc(s, "auth")
		if err != nil || r["error"] != nil {
			t.Fatalf("GetDoc() = %v, %v", r, err)
		}
		if links := r["links"].([]R); len(links) != 2 {
			t.Errorf("links = %v", links)
		}
		if r, _ := GetDoc(s, "nope"); r["error"] == nil {
			t.Error("unknown slug should fail")
		}
	})

	t.Run("read summary truncates", func(t *testing.T) {
		r, err := ReadDoc(s, "infra/cache", true)
		if err != nil {
			t.Fatal(err)
		}
		content := r["content"].(string)
		if lines := strings.Split(content, "\n"); len(lines) != 10 {
			t.Errorf("summary lines = %d, want 10", len(lines))
		}
		full, _ := ReadDoc(s, "infra/cache", false)
		if !strings.Contains(full["content"].(string), "line11") {
			t.Error("full read truncated")
		}
	})
}

func TestLinkDoc(t *testing.T) {
	s := testStore(t)
	path := writeDoc(t, "plain.md", "# Plain\n")
	AddDoc(s, "plain", path, nil, "", "boss", false)

	tests := []struct {
		name    string
		taskID  int64
		reqID   int64
		want    string
		wantErr bool
	}{
		{name: "neither", wantErr: true},
		{name: "both", taskID: 1, reqID: 2, wantErr: true},
		{name: "task link", taskID: 9, want: "linked"},
		{name: "duplicate", taskID: 9, want: "already_linked"},
		{name: "req link", reqID: 4, want: "linked"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := LinkDoc(s, "plain", tt.taskID, tt.reqID)
			if err != nil {
				t.Fatal(err)
			}
			if tt.wantErr {
				if r["error"] == nil {
					t.Error("want error")
				}
				return
			}
			if r["status"] != tt.want {
				t.Errorf("status = %v, want %v", r["status"], tt.want)
			}
		})
	}

	r, _ := ForTask(s, 9)
	if docs := r["docs"].([]R); len(docs) != 1 || docs[0]["slug"] != "plain" {
		t.Errorf("ForTask = %v", docs)
	}
}

func TestReindex(t *testing.T) {
	s := testStore(t)
	writeDoc(t, "auth.md", docWithFrontmatter)
	writeDoc(t, "sub/notes.md", "# Notes\n")
	writeDoc(t, "WAR_PLAN.md", "# War plan\n")
	writeDoc(t, "scratch.txt", "not markdown")

	r, err := Reindex(s)
	if err != nil {
		t.Fatalf("Reindex() error = %v", err)
	}
	if r["indexed"] != 2 || r["links_created"] != 2 {
		t.Fatalf("Reindex() = %v", r)
	}
	row, _ := s.QueryMap(`SELECT created_by FROM intel_docs WHERE slug = 'auth'`)
	if store.Str(row, "created_by") != "oracle-1" {
		t.Errorf("created_by = %q, want frontmatter author", store.Str(row, "created_by"))
	}
	if planRow, _ := s.QueryMap(`SELECT slug FROM intel_docs WHERE slug = 'WAR_PLAN'`); planRow != nil {
		t.Error("war plan should not be indexed")
	}

	t.Run("reindex is idempotent for links", func(t *testing.T) {
		again, _ := Reindex(s)
		if again["indexed"] != 2 || again["links_created"] != 0 {
			t.Errorf("second Reindex() = %v", again)
		}
	})

	t.Run("missing intel dir is fine", func(t *testing.T) {
		t.Setenv(workdir.EnvWorkRoot, t.TempDir())
		r, err := Reindex(s)
		if err != nil || r["indexed"] != 0 {
			t.Errorf("Reindex() = %v, %v", r, err)
		}
	})
}

func TestWarPlan(t *testing.T) {
	s := testStore(t)
	addAgent(t, s, "boss", "lead")
	addAgent(t, s, "coder-1", "coder")

	r, _ := ShowWarPlan(s)
	if r["note"] == nil {
		t.Error("empty war plan should carry a note")
	}

	t.Run("lead only", func(t *testing.T) {
		r, _ := SetWarPlan(s, "coder-1", "secret plan")
		if r["error"] == nil {
			t.Error("worker set should be refused")
		}
	})

	if r, _ := SetWarPlan(s, "boss", "# Q3\n\nShip auth.\n"); r["error"] != nil {
		t.Fatalf("SetWarPlan: %v", r["error"])
	}
	if r, _ := AppendWarPlan(s, "boss", "- and fix the cache"); r["error"] != nil {
		t.Fatalf("AppendWarPlan: %v", r["error"])
	}

	r, _ = ShowWarPlan(s)
	content := r["content"].(string)
	if !strings.Contains(content, "Ship auth.") || !strings.Contains(content, "- and fix the cache") {
		t.Errorf("war plan = %q", content)
	}
}
