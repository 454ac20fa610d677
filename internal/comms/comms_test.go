package comms

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/ai-janitor/minion-factory-sub000/internal/classes"
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

func register(t *testing.T, s *store.Store, name, class string) {
	t.Helper()
	r, err := Register(s, name, class, "", "", "terminal", "")
	if err != nil {
		t.Fatalf("Register(%s): %v", name, err)
	}
	if r["error"] != nil {
		t.Fatalf("Register(%s) refused: %v", name, r["error"])
	}
}

func freshen(t *testing.T, s *store.Store, name string) {
	t.Helper()
	if _, err := SetContext(s, name, "working", "", "", -1); err != nil {
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

func TestRegister(t *testing.T) {
	s := testStore(t)

	r, err := Register(s, "coder-1", "coder", "", "fixes bugs", "terminal", "auth")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if r["status"] != "registered" {
		t.Errorf("status = %v", r["status"])
	}
	playbook, _ := r["playbook"].(string)
	if !strings.Contains(playbook, "coder-1") || !strings.Contains(playbook, "!!fenix_down!!") {
		t.Errorf("playbook missing name or codebook:\n%s", playbook)
	}

	t.Run("invalid class refused", func(t *testing.T) {
		r, err := Register(s, "x", "wizard", "", "", "terminal", "")
		if err != nil {
			t.Fatal(err)
		}
		if r["error"] == nil {
			t.Error("unknown class should be refused")
		}
	})

	t.Run("unknown transport refused", func(t *testing.T) {
		r, err := Register(s, "x", "coder", "", "", "carrier-pigeon", "")
		if err != nil {
			t.Fatal(err)
		}
		if e, _ := r["error"].(string); !strings.Contains(e, "transport") {
			t.Errorf("error = %v, want transport refusal", r["error"])
		}
	})

	t.Run("empty transport defaults to terminal", func(t *testing.T) {
		if r, _ := Register(s, "coder-7", "coder", "", "", "", ""); r["error"] != nil {
			t.Fatalf("Register refused: %v", r["error"])
		}
		row, _ := s.GetAgent("coder-7")
		if store.Str(row, "transport") != "terminal" {
			t.Errorf("transport = %q, want terminal", store.Str(row, "transport"))
		}
	})

	t.Run("re-register keeps profile fields", func(t *testing.T) {
		if _, err := Register(s, "coder-1", "coder", "", "", "", ""); err != nil {
			t.Fatal(err)
		}
		row, _ := s.GetAgent("coder-1")
		if store.Str(row, "description") != "fixes bugs" {
			t.Errorf("description = %q, want preserved", store.Str(row, "description"))
		}
		if store.Str(row, "current_zone") != "auth" {
			t.Errorf("zone = %q, want preserved", store.Str(row, "current_zone"))
		}
	})

	t.Run("re-register clears retire request", func(t *testing.T) {
		s.DB.Exec(`INSERT INTO agent_retire (agent_name, requested_by, requested_at) VALUES ('coder-1', 'boss', ?)`,
			store.NowISO())
		register(t, s, "coder-1", "coder")
		row, _ := s.QueryMap(`SELECT agent_name FROM agent_retire WHERE agent_name = 'coder-1'`)
		if row != nil {
			t.Error("retire request should be cleared on re-register")
		}
	})
}

func TestRegisterModelWhitelist(t *testing.T) {
	s := testStore(t)

	dir := t.TempDir()
	registry := `classes:
  coder:
    capabilities: [code, test]
    models: [sonnet, haiku]
`
	if err := os.WriteFile(filepath.Join(dir, "_agent-classes.yaml"), []byte(registry), 0o644); err != nil {
		t.Fatal(err)
	}
	orig := classRegistry
	classRegistry = func() *classes.Registry { return classes.Load(dir) }
	t.Cleanup(func() { classRegistry = orig })

	if r, _ := Register(s, "coder-1", "coder", "sonnet", "", "terminal", ""); r["error"] != nil {
		t.Fatalf("whitelisted model refused: %v", r["error"])
	}
	row, _ := s.GetAgent("coder-1")
	if store.Str(row, "model") != "sonnet" {
		t.Errorf("model = %q, want sonnet", store.Str(row, "model"))
	}

	t.Run("model outside whitelist refused", func(t *testing.T) {
		r, _ := Register(s, "coder-2", "coder", "opus", "", "terminal", "")
		if e, _ := r["error"].(string); !strings.Contains(e, "whitelist") {
			t.Errorf("error = %v, want whitelist refusal", r["error"])
		}
	})

	t.Run("no model skips the check", func(t *testing.T) {
		if r, _ := Register(s, "coder-3", "coder", "", "", "terminal", ""); r["error"] != nil {
			t.Errorf("Register without model refused: %v", r["error"])
		}
	})
}

func TestSendPreconditions(t *testing.T) {
	s := testStore(t)
	register(t, s, "boss", "lead")
	register(t, s, "coder-1", "coder")
	register(t, s, "coder-2", "coder")

	t.Run("unregistered sender", func(t *testing.T) {
		r, _ := Send(s, "ghost", "coder-1", "hi")
		if e, _ := r["error"].(string); !strings.Contains(e, "not registered") {
			t.Errorf("error = %v", r["error"])
		}
	})

	t.Run("no battle plan blocks workers", func(t *testing.T) {
		r, _ := Send(s, "coder-1", "coder-2", "hi")
		if e, _ := r["error"].(string); !strings.Contains(e, "battle plan") {
			t.Errorf("error = %v", r["error"])
		}
	})

	seedBattlePlan(t, s)

	t.Run("stale context blocks", func(t *testing.T) {
		r, _ := Send(s, "coder-1", "coder-2", "hi")
		if e, _ := r["error"].(string); !strings.Contains(e, "stale") {
			t.Errorf("error = %v", r["error"])
		}
	})

	freshen(t, s, "coder-1")
	freshen(t, s, "boss")

	t.Run("unknown recipient", func(t *testing.T) {
		r, _ := Send(s, "coder-1", "ghost", "hi")
		if e, _ := r["error"].(string); !strings.Contains(e, "not registered") {
			t.Errorf("error = %v", r["error"])
		}
	})

	t.Run("unread inbox blocks the reply", func(t *testing.T) {
		if r, _ := Send(s, "boss", "coder-1", "status?"); r["error"] != nil {
			t.Fatalf("lead send refused: %v", r["error"])
		}
		r, _ := Send(s, "coder-1", "coder-2", "hi")
		if e, _ := r["error"].(string); !strings.Contains(e, "unread") {
			t.Errorf("error = %v", r["error"])
		}
		if _, err := CheckInbox(s, "coder-1"); err != nil {
			t.Fatal(err)
		}
		freshen(t, s, "coder-1")
		if r, _ := Send(s, "coder-1", "coder-2", "hi"); r["error"] != nil {
			t.Errorf("send after check-inbox refused: %v", r["error"])
		}
	})
}

func TestSendLeadAutoCC(t *testing.T) {
	s := testStore(t)
	register(t, s, "boss", "lead")
	register(t, s, "coder-1", "coder")
	register(t, s, "coder-2", "coder")
	seedBattlePlan(t, s)
	freshen(t, s, "coder-1")

	r, err := Send(s, "coder-1", "coder-2", "ready to hand off auth.go")
	if err != nil || r["error"] != nil {
		t.Fatalf("Send() = %v, %v", r, err)
	}
	if r["cc"] != "boss" {
		t.Errorf("cc = %v, want boss", r["cc"])
	}

	inbox, _ := CheckInbox(s, "boss")
	msgs := inbox["messages"].([]R)
	if len(msgs) != 1 {
		t.Fatalf("lead inbox has %d messages, want 1 CC", len(msgs))
	}
	if msgs[0]["cc_note"] == nil {
		t.Error("CC message missing cc_note")
	}
	if got := msgs[0]["content"]; got != "ready to hand off auth.go" {
		t.Errorf("content = %v", got)
	}

	row, err := s.QueryMap(
		`SELECT is_cc, cc_original_to FROM messages WHERE to_agent = 'boss'`)
	if err != nil || row == nil {
		t.Fatalf("CC row missing: %v, %v", row, err)
	}
	if store.Str(row, "cc_original_to") != "coder-2" {
		t.Errorf("cc_original_to = %v, want coder-2", row["cc_original_to"])
	}
}

func TestBroadcast(t *testing.T) {
	s := testStore(t)
	register(t, s, "boss", "lead")
	register(t, s, "coder-1", "coder")
	seedBattlePlan(t, s)
	freshen(t, s, "boss")

	if r, _ := Send(s, "boss", "all", "tools down at noon"); r["error"] != nil {
		t.Fatalf("broadcast refused: %v", r["error"])
	}

	inbox, _ := CheckInbox(s, "coder-1")
	if inbox["count"] != 1 {
		t.Fatalf("broadcast not delivered: %v", inbox)
	}
	msgs := inbox["messages"].([]R)
	if msgs[0]["broadcast"] != true {
		t.Error("message not flagged as broadcast")
	}

	// Reading a broadcast is per-agent and sticky.
	inbox, _ = CheckInbox(s, "coder-1")
	if inbox["count"] != 0 {
		t.Errorf("broadcast redelivered: %v", inbox["count"])
	}
}

func TestSendTriggerWords(t *testing.T) {
	s := testStore(t)
	register(t, s, "boss", "lead")
	register(t, s, "coder-1", "coder")
	seedBattlePlan(t, s)
	freshen(t, s, "boss")

	r, _ := Send(s, "boss", "coder-1", "!!moon_crash!! halt everything")
	if r["error"] != nil {
		t.Fatalf("send refused: %v", r["error"])
	}
	if got := r["triggers"]; !reflect.DeepEqual(got, []string{"moon_crash"}) {
		t.Errorf("triggers = %v", got)
	}
	if s.FlagGet("moon_crash") != "1" {
		t.Errorf("moon_crash flag = %q, want %q", s.FlagGet("moon_crash"), "1")
	}

	t.Run("stand_down flag readable by pollers", func(t *testing.T) {
		r, _ := Send(s, "boss", "coder-1", "wrap up, !!stand_down!! for the night")
		if r["error"] != nil {
			t.Fatalf("send refused: %v", r["error"])
		}
		if s.FlagGet("stand_down") != "1" {
			t.Errorf("stand_down flag = %q, want %q", s.FlagGet("stand_down"), "1")
		}
	})
}

func TestSendArtifactReminder(t *testing.T) {
	s := testStore(t)
	register(t, s, "boss", "lead")
	register(t, s, "coder-1", "coder")
	freshen(t, s, "boss")

	long := strings.Repeat("all work and no artifact ", 30)
	r, _ := Send(s, "boss", "coder-1", long)
	if r["artifact_reminder"] == nil {
		t.Error("long pathless message should carry an artifact reminder")
	}

	CheckInbox(s, "coder-1")
	freshen(t, s, "boss")
	r, _ = Send(s, "boss", "coder-1", long+" details in .work/notes.md")
	if r["error"] != nil {
		t.Fatalf("send refused: %v", r["error"])
	}
	if r["artifact_reminder"] != nil {
		t.Error("message naming an artifact should not be nagged")
	}
}

func TestHistory(t *testing.T) {
	s := testStore(t)
	register(t, s, "boss", "lead")
	register(t, s, "coder-1", "coder")
	freshen(t, s, "boss")

	for i, msg := range []string{"one", "two", "three"} {
		if r, _ := Send(s, "boss", "coder-1", msg); r["error"] != nil {
			t.Fatalf("send refused: %v", r["error"])
		}
		// Spread the timestamps so ordering is deterministic.
		s.DB.Exec(`UPDATE messages SET timestamp = ? WHERE id = (SELECT MAX(id) FROM messages)`,
			fmt.Sprintf("2026-01-01T00:00:0%dZ", i))
	}

	r, err := History(s, "coder-1", "boss", 2)
	if err != nil {
		t.Fatal(err)
	}
	if r["count"] != 2 {
		t.Fatalf("count = %v, want 2", r["count"])
	}
	msgs := r["messages"].([]R)
	// Oldest first within the window of the newest two.
	if msgs[0]["content"] != "two" || msgs[1]["content"] != "three" {
		t.Errorf("history order wrong: %v, %v", msgs[0]["content"], msgs[1]["content"])
	}
}

func TestPurgeInbox(t *testing.T) {
	s := testStore(t)
	register(t, s, "boss", "lead")
	register(t, s, "coder-1", "coder")
	freshen(t, s, "boss")

	Send(s, "boss", "coder-1", "a")
	Send(s, "boss", "coder-1", "b")

	r, err := PurgeInbox(s, "coder-1")
	if err != nil {
		t.Fatal(err)
	}
	if r["marked_read"] != int64(2) {
		t.Errorf("marked_read = %v, want 2", r["marked_read"])
	}
	inbox, _ := CheckInbox(s, "coder-1")
	if inbox["count"] != 0 {
		t.Errorf("inbox not empty after purge: %v", inbox["count"])
	}
}

func TestDeregisterReleasesClaims(t *testing.T) {
	s := testStore(t)
	register(t, s, "coder-1", "coder")
	register(t, s, "coder-2", "coder")
	now := store.NowISO()
	s.DB.Exec(`INSERT INTO file_claims (file_path, agent_name, claimed_at) VALUES ('src/auth.go', 'coder-1', ?)`, now)
	s.DB.Exec(`INSERT INTO file_waitlist (file_path, agent_name, added_at) VALUES ('src/auth.go', 'coder-2', ?)`, now)

	r, err := Deregister(s, "coder-1")
	if err != nil {
		t.Fatal(err)
	}
	if got := r["released_files"]; !reflect.DeepEqual(got, []string{"src/auth.go"}) {
		t.Errorf("released_files = %v", got)
	}
	row, _ := s.GetAgent("coder-1")
	if store.Str(row, "status") != "retired" {
		t.Errorf("status = %q, want retired", store.Str(row, "status"))
	}
	// The waiter hears about the release.
	unread, _ := unreadCount(s, "coder-2")
	if unread != 1 {
		t.Errorf("waiter unread = %d, want 1 system message", unread)
	}
}

func TestRename(t *testing.T) {
	s := testStore(t)
	register(t, s, "coder-1", "coder")
	now := store.NowISO()
	s.DB.Exec(`INSERT INTO tasks (title, assigned_to, created_at, updated_at) VALUES ('t', 'coder-1', ?, ?)`, now, now)

	r, err := Rename(s, "coder-1", "ace")
	if err != nil || r["error"] != nil {
		t.Fatalf("Rename() = %v, %v", r, err)
	}
	if !s.AgentExists("ace") || s.AgentExists("coder-1") {
		t.Error("agent row not renamed")
	}
	row, _ := s.QueryMap(`SELECT assigned_to FROM tasks`)
	if store.Str(row, "assigned_to") != "ace" {
		t.Errorf("task assignment not renamed: %v", row)
	}

	register(t, s, "other", "coder")
	if r, _ := Rename(s, "ace", "other"); r["error"] == nil {
		t.Error("rename onto an existing agent should fail")
	}
}

func TestScanTriggers(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{name: "bare word ignored", content: "we should retreat soon", want: nil},
		{name: "marked word fires", content: "do it: !!retreat!!", want: []string{"retreat"}},
		{name: "dedup and sort", content: "!!sitrep!! !!rally!! !!sitrep!!", want: []string{"rally", "sitrep"}},
		{name: "unknown word ignored", content: "!!made_up!!", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ScanTriggers(tt.content); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ScanTriggers(%q) = %v, want %v", tt.content, got, tt.want)
			}
		})
	}
}
