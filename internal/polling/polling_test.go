package polling

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

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

func addTask(t *testing.T, s *store.Store, title, status, assignedTo, classRequired, blockedBy string) int64 {
	t.Helper()
	now := store.NowISO()
	var assigned, class, blocked any
	if assignedTo != "" {
		assigned = assignedTo
	}
	if classRequired != "" {
		class = classRequired
	}
	if blockedBy != "" {
		blocked = blockedBy
	}
	res, err := s.DB.Exec(
		`INSERT INTO tasks (title, status, assigned_to, class_required, blocked_by, flow_type, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, 'bugfix', ?, ?)`,
		title, status, assigned, class, blocked, now, now)
	if err != nil {
		t.Fatal(err)
	}
	id, _ := res.LastInsertId()
	return id
}

func TestCheckSignals(t *testing.T) {
	s := testStore(t)
	addAgent(t, s, "coder-1", "coder")

	if got := CheckSignals(s, "coder-1"); got != "" {
		t.Errorf("CheckSignals() = %q, want none", got)
	}

	s.FlagSet("stand_down", "1", "boss")
	if got := CheckSignals(s, "coder-1"); got != "stand_down" {
		t.Errorf("CheckSignals() = %q, want stand_down", got)
	}
	s.FlagClear("stand_down")

	s.DB.Exec(`INSERT INTO agent_retire (agent_name, requested_by, requested_at) VALUES ('coder-1', 'boss', ?)`,
		store.NowISO())
	if got := CheckSignals(s, "coder-1"); got != "retire" {
		t.Errorf("CheckSignals() = %q, want retire", got)
	}
}

func TestHasUnread(t *testing.T) {
	s := testStore(t)
	addAgent(t, s, "coder-1", "coder")
	now := store.NowISO()

	if HasUnread(s, "coder-1") {
		t.Error("empty inbox reported unread")
	}

	if _, err := s.DB.Exec(
		`INSERT INTO messages (from_agent, to_agent, content_file, timestamp, read_flag) VALUES ('boss', 'coder-1', 'm.md', ?, 0)`,
		now); err != nil {
		t.Fatal(err)
	}
	if !HasUnread(s, "coder-1") {
		t.Error("direct message not seen")
	}
	s.DB.Exec(`UPDATE messages SET read_flag = 1`)
	if HasUnread(s, "coder-1") {
		t.Error("read message still reported unread")
	}

	t.Run("broadcasts count until acknowledged", func(t *testing.T) {
		res, err := s.DB.Exec(
			`INSERT INTO messages (from_agent, to_agent, content_file, is_broadcast, timestamp, read_flag)
             VALUES ('boss', 'all', 'b.md', 1, ?, 0)`, now)
		if err != nil {
			t.Fatal(err)
		}
		if !HasUnread(s, "coder-1") {
			t.Error("broadcast not seen")
		}
		id, _ := res.LastInsertId()
		s.DB.Exec(`INSERT INTO broadcast_reads (agent_name, message_id, read_at) VALUES ('coder-1', ?, ?)`, id, now)
		if HasUnread(s, "coder-1") {
			t.Error("acknowledged broadcast still unread")
		}
	})

	t.Run("own broadcasts ignored", func(t *testing.T) {
		if _, err := s.DB.Exec(
			`INSERT INTO messages (from_agent, to_agent, content_file, is_broadcast, timestamp, read_flag)
             VALUES ('coder-1', 'all', 'own.md', 1, ?, 0)`, now); err != nil {
			t.Fatal(err)
		}
		if HasUnread(s, "coder-1") {
			t.Error("agent's own broadcast counted as unread")
		}
	})
}

func TestFindAvailableTasks(t *testing.T) {
	s := testStore(t)
	addAgent(t, s, "coder-1", "coder")
	addAgent(t, s, "oracle-1", "oracle")

	t.Run("moon crash freezes the board", func(t *testing.T) {
		addTask(t, s, "frozen", "open", "", "coder", "")
		s.FlagSet("moon_crash", "1", "boss")
		if got := FindAvailableTasks(s, "coder-1"); got != nil {
			t.Errorf("tasks during moon_crash = %v", got)
		}
		s.FlagClear("moon_crash")
		s.DB.Exec(`DELETE FROM tasks`)
	})

	t.Run("assigned work comes first", func(t *testing.T) {
		id := addTask(t, s, "mine", "in_progress", "coder-1", "", "")
		addTask(t, s, "other open", "open", "", "coder", "")
		got := FindAvailableTasks(s, "coder-1")
		if len(got) != 1 || got[0]["task_id"] != id {
			t.Errorf("tasks = %v, want only the assigned one", got)
		}
		if !strings.Contains(got[0]["claim_cmd"].(string), "pull-task --agent coder-1") {
			t.Errorf("claim_cmd = %v", got[0]["claim_cmd"])
		}
		s.DB.Exec(`DELETE FROM tasks`)
	})

	t.Run("open tasks matched by class", func(t *testing.T) {
		addTask(t, s, "for coders", "open", "", "coder", "")
		addTask(t, s, "for builders", "open", "", "builder", "")
		got := FindAvailableTasks(s, "coder-1")
		if len(got) != 1 || got[0]["title"] != "for coders" {
			t.Errorf("tasks = %v", got)
		}
		s.DB.Exec(`DELETE FROM tasks`)
	})

	t.Run("blocked tasks filtered", func(t *testing.T) {
		blocker := addTask(t, s, "blocker", "open", "", "", "")
		addTask(t, s, "blocked", "open", "", "coder", "1")
		s.DB.Exec(`UPDATE tasks SET blocked_by = ? WHERE title = 'blocked'`, blocker)
		if got := FindAvailableTasks(s, "coder-1"); len(got) != 0 {
			t.Errorf("tasks = %v, want blocked one hidden", got)
		}
		s.DB.Exec(`UPDATE tasks SET status = 'closed' WHERE id = ?`, blocker)
		if got := FindAvailableTasks(s, "coder-1"); len(got) != 1 {
			t.Errorf("tasks after unblock = %v", got)
		}
		s.DB.Exec(`DELETE FROM tasks`)
	})

	t.Run("reviewers see fixed handoffs", func(t *testing.T) {
		addTask(t, s, "awaiting review", "fixed", "", "", "")
		if got := FindAvailableTasks(s, "coder-1"); len(got) != 0 {
			t.Errorf("coder saw review work: %v", got)
		}
		got := FindAvailableTasks(s, "oracle-1")
		if len(got) != 1 || got[0]["status"] != "fixed" {
			t.Errorf("oracle tasks = %v", got)
		}
		s.DB.Exec(`DELETE FROM tasks`)
	})
}

func TestPollOnce(t *testing.T) {
	s := testStore(t)
	addAgent(t, s, "coder-1", "coder")

	t.Run("quiet board times out", func(t *testing.T) {
		r, code := PollOnce(s, "coder-1")
		if code != ExitTimeout || r != nil {
			t.Errorf("PollOnce() = %v, %d; want nil, %d", r, code, ExitTimeout)
		}
	})

	t.Run("tasks produce content", func(t *testing.T) {
		addTask(t, s, "work", "open", "", "coder", "")
		r, code := PollOnce(s, "coder-1")
		if code != ExitContent || r["tasks"] == nil {
			t.Errorf("PollOnce() = %v, %d", r, code)
		}
		s.DB.Exec(`DELETE FROM tasks`)
	})

	t.Run("terminal transport gets the restart hint", func(t *testing.T) {
		s.DB.Exec(`UPDATE agents SET transport = 'terminal' WHERE name = 'coder-1'`)
		addTask(t, s, "work", "open", "", "coder", "")
		r, _ := PollOnce(s, "coder-1")
		if hint, _ := r["transport_hint"].(string); !strings.Contains(hint, "RESTART POLLING") {
			t.Errorf("transport_hint = %v", r["transport_hint"])
		}
		s.DB.Exec(`DELETE FROM tasks`)
		s.DB.Exec(`UPDATE agents SET transport = NULL`)
	})

	t.Run("stand down wins over everything", func(t *testing.T) {
		addTask(t, s, "work", "open", "", "coder", "")
		s.FlagSet("stand_down", "1", "boss")
		r, code := PollOnce(s, "coder-1")
		if code != ExitSignal || r["signal"] != "stand_down" {
			t.Errorf("PollOnce() = %v, %d; want signal exit %d", r, code, ExitSignal)
		}
		if action, _ := r["action"].(string); !strings.Contains(action, "dismissed") {
			t.Errorf("action = %v", r["action"])
		}
		s.FlagClear("stand_down")
		s.DB.Exec(`DELETE FROM tasks`)
	})
}

func TestPollLoop(t *testing.T) {
	s := testStore(t)
	addAgent(t, s, "coder-1", "coder")

	t.Run("deadline expires", func(t *testing.T) {
		_, code := PollLoop(context.Background(), s, "coder-1", time.Millisecond, time.Millisecond)
		if code != ExitTimeout {
			t.Errorf("code = %d, want %d", code, ExitTimeout)
		}
	})

	t.Run("context cancel stops the loop", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, code := PollLoop(ctx, s, "coder-1", time.Minute, 0)
		if code != ExitTimeout {
			t.Errorf("code = %d, want %d", code, ExitTimeout)
		}
	})

	t.Run("content returns immediately", func(t *testing.T) {
		addTask(t, s, "work", "open", "", "coder", "")
		r, code := PollLoop(context.Background(), s, "coder-1", time.Minute, 0)
		if code != ExitContent || r["tasks"] == nil {
			t.Errorf("PollLoop() = %v, %d", r, code)
		}
	})
}
