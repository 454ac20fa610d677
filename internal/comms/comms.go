// Package comms implements agent messaging: registration, the send
// preconditions (inbox discipline, battle plan, context freshness),
// inbox consumption, and history. Message bodies live as files under
// the work dir; the DB stores paths and read flags.
package comms

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ai-janitor/minion-factory-sub000/internal/classes"
	"github.com/ai-janitor/minion-factory-sub000/internal/store"
	"github.com/ai-janitor/minion-factory-sub000/internal/workdir"
)

// Broadcasts older than this are auto-marked read at registration so a
// new agent isn't blocked by stale chatter.
const broadcastAutoReadAge = time.Hour

// Messages longer than this without a file-path signal get an artifact
// reminder appended to the send response.
const artifactReminderChars = 500

// R is the JSON-shaped result every operation returns. Domain refusals
// carry an "error" key (BLOCKED: ...); infra failures are Go errors.
type R = map[string]any

func blocked(format string, args ...any) R {
	return R{"error": "BLOCKED: " + fmt.Sprintf(format, args...)}
}

func errf(format string, args ...any) R {
	return R{"error": fmt.Sprintf(format, args...)}
}

// Transports is the closed set of ways an agent can be driven.
var Transports = map[string]bool{
	"terminal": true, "daemon": true, "daemon-ts": true,
}

// classRegistry is a seam so tests can register against a registry
// with model whitelists.
var classRegistry = classes.Default

// Register upserts an agent. Existing descriptive fields survive a
// re-register with empty values (a respawned daemon shouldn't wipe the
// profile), stale broadcasts are auto-read, and any pending retire
// request is cleared.
func Register(s *store.Store, name, class, model, description, transport, zone string) (R, error) {
	reg := classRegistry()
	if !reg.Valid(class) {
		return errf("Invalid class %q. Valid: %s", class, strings.Join(reg.Names(), ", ")), nil
	}
	if transport == "" {
		transport = "terminal"
	}
	if !Transports[transport] {
		return errf("Invalid transport %q. Valid: terminal, daemon, daemon-ts", transport), nil
	}
	if model != "" && !reg.ModelAllowed(class, model) {
		return errf("Model %q not in the whitelist for class %q.", model, class), nil
	}
	now := store.NowISO()
	_, err := s.DB.Exec(
		`INSERT INTO agents (name, agent_class, status, model, description, transport, current_zone, last_seen, registered_at)
         VALUES (?, ?, 'active', ?, ?, ?, ?, ?, ?)
         ON CONFLICT(name) DO UPDATE SET
            agent_class = excluded.agent_class,
            status = 'active',
            model = COALESCE(NULLIF(excluded.model, ''), agents.model),
            description = COALESCE(NULLIF(excluded.description, ''), agents.description),
            transport = COALESCE(NULLIF(excluded.transport, ''), agents.transport),
            current_zone = COALESCE(NULLIF(excluded.current_zone, ''), agents.current_zone),
            last_seen = excluded.last_seen`,
		name, class, model, description, transport, zone, now, now,
	)
	if err != nil {
		return nil, err
	}

	// Stale broadcasts shouldn't hold the inbox-discipline gate.
	cutoff := time.Now().UTC().Add(-broadcastAutoReadAge).Format(time.RFC3339)
	s.DB.Exec(
		`INSERT OR IGNORE INTO broadcast_reads (message_id, agent_name, read_at)
         SELECT id, ?, ? FROM messages WHERE is_broadcast = 1 AND timestamp < ?`,
		name, now, cutoff,
	)
	s.DB.Exec(`DELETE FROM agent_retire WHERE agent_name = ?`, name)

	return R{
		"status":   "registered",
		"agent":    name,
		"class":    class,
		"playbook": playbook(name, class),
	}, nil
}

func playbook(name, class string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s (%s).\n", name, class)
	b.WriteString("Inbox discipline: check-inbox until empty before sending.\n")
	b.WriteString("Keep context fresh with set-context; stale agents cannot send.\n")
	b.WriteString(FormatTriggerCodebook())
	return b.String()
}

// Deregister retires an agent: claims released, waitlisted agents
// notified, status set to retired.
func Deregister(s *store.Store, name string) (R, error) {
	if !s.AgentExists(name) {
		return blocked("Agent %q not registered.", name), nil
	}
	now := store.NowISO()

	claims, err := s.QueryMaps(`SELECT file_path FROM file_claims WHERE agent_name = ?`, name)
	if err != nil {
		return nil, err
	}
	released := make([]string, 0, len(claims))
	for _, c := range claims {
		fp := store.Str(c, "file_path")
		released = append(released, fp)
		waiters, _ := s.QueryMaps(
			`SELECT agent_name FROM file_waitlist WHERE file_path = ? ORDER BY added_at ASC`, fp)
		for _, w := range waiters {
			s.SystemMessage(store.Str(w, "agent_name"),
				fmt.Sprintf("File %s was released when %s deregistered. It is now unclaimed.", fp, name))
		}
		s.DB.Exec(`DELETE FROM file_waitlist WHERE file_path = ?`, fp)
	}
	s.DB.Exec(`DELETE FROM file_claims WHERE agent_name = ?`, name)
	s.DB.Exec(`UPDATE agents SET status = 'retired', last_seen = ? WHERE name = ?`, now, name)

	return R{"status": "deregistered", "agent": name, "released_files": released}, nil
}

// Rename changes an agent's name everywhere the name is a foreign key.
func Rename(s *store.Store, oldName, newName string) (R, error) {
	if !s.AgentExists(oldName) {
		return blocked("Agent %q not registered.", oldName), nil
	}
	if s.AgentExists(newName) {
		return errf("Agent %q already exists.", newName), nil
	}
	stmts := []struct{ q string }{
		{`UPDATE agents SET name = ? WHERE name = ?`},
		{`UPDATE messages SET from_agent = ? WHERE from_agent = ?`},
		{`UPDATE messages SET to_agent = ? WHERE to_agent = ?`},
		{`UPDATE file_claims SET agent_name = ? WHERE agent_name = ?`},
		{`UPDATE file_waitlist SET agent_name = ? WHERE agent_name = ?`},
		{`UPDATE tasks SET assigned_to = ? WHERE assigned_to = ?`},
	}
	for _, st := range stmts {
		if _, err := s.DB.Exec(st.q, newName, oldName); err != nil {
			return nil, err
		}
	}
	return R{"status": "renamed", "from": oldName, "to": newName}, nil
}

// SetStatus updates the free-form status field.
func SetStatus(s *store.Store, name, status string) (R, error) {
	if !s.AgentExists(name) {
		return blocked("Agent %q not registered.", name), nil
	}
	now := store.NowISO()
	if _, err := s.DB.Exec(
		`UPDATE agents SET status = ?, last_seen = ? WHERE name = ?`, status, now, name); err != nil {
		return nil, err
	}
	return R{"status": "updated", "agent": name, "new_status": status}, nil
}

// SetContext refreshes an agent's working context: summary, files read,
// zone, and the self-reported HP percentage. A self-reporting agent
// (no daemon measuring it) stores limit=100 with turn_input = 100-hp
// so the shared HP formatter renders the right percentage.
func SetContext(s *store.Store, name, summary, filesRead, zone string, hp int) (R, error) {
	if !s.AgentExists(name) {
		return blocked("Agent %q not registered.", name), nil
	}
	now := store.NowISO()
	if _, err := s.DB.Exec(
		`UPDATE agents SET context_summary = ?, files_read = ?,
            current_zone = COALESCE(NULLIF(?, ''), current_zone),
            context_updated_at = ?, last_seen = ?
         WHERE name = ?`,
		summary, filesRead, zone, now, now, name); err != nil {
		return nil, err
	}

	result := R{"status": "updated", "agent": name}

	if hp >= 0 {
		if hp > 100 {
			hp = 100
		}
		turnInput := 100 - hp
		if turnInput < 1 {
			turnInput = 1
		}
		s.DB.Exec(
			`UPDATE agents SET hp_tokens_limit = ?, hp_turn_input = ?, hp_updated_at = ? WHERE name = ?`,
			store.SelfReportedLimit, turnInput, now, name)
		result["hp"] = fmt.Sprintf("%d%% HP (self-reported)", hp)
	}

	// Warn about files being edited without a claim.
	if filesRead != "" {
		var unclaimed []string
		for _, fp := range strings.Split(filesRead, ",") {
			fp = strings.TrimSpace(fp)
			if fp == "" {
				continue
			}
			row, _ := s.QueryMap(`SELECT agent_name FROM file_claims WHERE file_path = ?`, fp)
			if row == nil {
				unclaimed = append(unclaimed, fp)
			}
		}
		if len(unclaimed) > 0 {
			result["warning"] = fmt.Sprintf(
				"%d file(s) in your context are unclaimed: %s. Claim before editing.",
				len(unclaimed), strings.Join(unclaimed, ", "))
		}
	}
	return result, nil
}

// Who lists registered agents with enrichment.
func Who(s *store.Store) (R, error) {
	rows, err := s.QueryMaps(`SELECT * FROM agents ORDER BY last_seen DESC`)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	for i := range rows {
		rows[i] = store.EnrichAgent(rows[i], now)
	}
	return R{"agents": rows}, nil
}

// Send delivers a message, enforcing the three preconditions in order:
// empty inbox, active battle plan, fresh context. "all" broadcasts.
// The lead is auto-CC'd on worker-to-worker traffic.
func Send(s *store.Store, from, to, content string) (R, error) {
	sender, err := s.GetAgent(from)
	if err != nil {
		return nil, err
	}
	if sender == nil {
		return blocked("Agent %q not registered. Call register first.", from), nil
	}
	senderClass := store.Str(sender, "agent_class")

	// 1. Inbox discipline: you answer your mail before making more.
	unread, err := unreadCount(s, from)
	if err != nil {
		return nil, err
	}
	if unread > 0 {
		return blocked("You have %d unread message(s). Run check-inbox first.", unread), nil
	}

	// 2. A battle plan must exist before coordination traffic flows.
	// Leads are exempt so the first plan can be announced.
	if senderClass != "lead" {
		plan, _ := s.QueryMap(`SELECT id FROM battle_plan WHERE status = 'active' LIMIT 1`)
		if plan == nil {
			return blocked("No active battle plan. Ask the lead to set one before sending."), nil
		}
	}

	// 3. Context freshness per class threshold.
	if stale, threshold := s.ContextStale(from); stale {
		return blocked(
			"Your context is stale (threshold %ds for class %s). Run set-context first.",
			threshold, senderClass), nil
	}

	isBroadcast := to == "all"
	if !isBroadcast && !s.AgentExists(to) {
		return errf("Recipient %q not registered.", to), nil
	}

	now := store.NowISO()
	result := R{"status": "sent", "from": from, "to": to}

	triggers := ScanTriggers(content)
	if len(triggers) > 0 {
		result["triggers"] = triggers
		for _, t := range triggers {
			if t == "moon_crash" || t == "stand_down" {
				if err := s.FlagSet(t, "1", from); err != nil {
					return nil, err
				}
			}
		}
	}

	deliver := func(recipient string, cc bool) error {
		file := workdir.MessageFilePath(recipient, from, content)
		if err := workdir.AtomicWriteFile(file, content); err != nil {
			return err
		}
		// CC rows remember who the message was really for.
		var ccOriginalTo any
		if cc {
			ccOriginalTo = to
		}
		_, err := s.DB.Exec(
			`INSERT INTO messages (from_agent, to_agent, content_file, timestamp, read_flag, is_cc, is_broadcast, cc_original_to)
             VALUES (?, ?, ?, ?, 0, ?, ?, ?)`,
			from, recipient, file, now, boolInt(cc), boolInt(isBroadcast), ccOriginalTo)
		return err
	}

	if isBroadcast {
		if err := deliver("all", false); err != nil {
			return nil, err
		}
	} else {
		if err := deliver(to, false); err != nil {
			return nil, err
		}
		// Auto-CC the lead on worker-to-worker traffic.
		lead := s.Lead()
		if lead != "" && lead != from && lead != to && senderClass != "lead" {
			if err := deliver(lead, true); err == nil {
				result["cc"] = lead
			}
		}
	}

	if len(content) > artifactReminderChars && !hasArtifactSignal(content) {
		result["artifact_reminder"] = "Long message with no artifact path. Write details to a .work/ file and send the path instead."
	}

	s.Touch(from)
	return result, nil
}

func hasArtifactSignal(content string) bool {
	for _, sig := range []string{".work/", ".md\n", ".md ", ".md,", ".md)"} {
		if strings.Contains(content, sig) {
			return true
		}
	}
	return strings.HasSuffix(content, ".md")
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func unreadCount(s *store.Store, agent string) (int64, error) {
	row, err := s.QueryMap(
		`SELECT COUNT(*) AS n FROM (
            SELECT id FROM messages WHERE to_agent = ? AND read_flag = 0
            UNION ALL
            SELECT m.id FROM messages m
            WHERE m.is_broadcast = 1 AND m.from_agent != ?
              AND NOT EXISTS (
                SELECT 1 FROM broadcast_reads br
                WHERE br.message_id = m.id AND br.agent_name = ?)
         )`, agent, agent, agent)
	if err != nil {
		return 0, err
	}
	return store.Int(row, "n"), nil
}

// CheckInbox returns and consumes unread messages: direct messages are
// marked read, broadcasts get a broadcast_reads row. Bodies are read
// from content files and inlined.
func CheckInbox(s *store.Store, agent string) (R, error) {
	row, err := s.GetAgent(agent)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return blocked("Agent %q not registered.", agent), nil
	}
	now := store.NowISO()

	direct, err := s.QueryMaps(
		`SELECT * FROM messages WHERE to_agent = ? AND read_flag = 0 ORDER BY timestamp ASC`, agent)
	if err != nil {
		return nil, err
	}
	broadcasts, err := s.QueryMaps(
		`SELECT m.* FROM messages m
         WHERE m.is_broadcast = 1 AND m.from_agent != ?
           AND NOT EXISTS (
             SELECT 1 FROM broadcast_reads br
             WHERE br.message_id = m.id AND br.agent_name = ?)
         ORDER BY m.timestamp ASC`, agent, agent)
	if err != nil {
		return nil, err
	}

	var messages []R
	for _, m := range direct {
		m["content"] = workdir.ReadContentFile(store.Str(m, "content_file"))
		if store.Int(m, "is_cc") == 1 {
			note := "You were CC'd; the primary recipient owns the reply."
			if orig := store.Str(m, "cc_original_to"); orig != "" {
				note = fmt.Sprintf("You were CC'd on a message to %s; they own the reply.", orig)
			}
			m["cc_note"] = note
		}
		messages = append(messages, m)
		s.DB.Exec(`UPDATE messages SET read_flag = 1 WHERE id = ?`, store.Int(m, "id"))
	}
	for _, m := range broadcasts {
		m["content"] = workdir.ReadContentFile(store.Str(m, "content_file"))
		m["broadcast"] = true
		messages = append(messages, m)
		s.DB.Exec(
			`INSERT OR IGNORE INTO broadcast_reads (message_id, agent_name, read_at) VALUES (?, ?, ?)`,
			store.Int(m, "id"), agent, now)
	}

	s.Touch(agent)
	result := R{"agent": agent, "messages": messages, "count": len(messages)}

	if stale, threshold := s.ContextStale(agent); stale {
		result["staleness_warning"] = fmt.Sprintf(
			"Context older than %ds; run set-context before replying.", threshold)
	}
	if store.Int(row, "hp_tokens_limit") == store.SelfReportedLimit {
		result["hp_reminder"] = "Self-reported HP: include your current hp estimate in the next set-context."
	}
	return result, nil
}

// History returns the last count messages between two agents (or all
// traffic for one agent when other is empty), oldest first.
func History(s *store.Store, agent, other string, count int) (R, error) {
	if count <= 0 {
		count = 20
	}
	var rows []R
	var err error
	if other != "" {
		rows, err = s.QueryMaps(
			`SELECT * FROM messages
             WHERE (from_agent = ? AND to_agent = ?) OR (from_agent = ? AND to_agent = ?)
             ORDER BY timestamp DESC LIMIT ?`,
			agent, other, other, agent, count)
	} else {
		rows, err = s.QueryMaps(
			`SELECT * FROM messages WHERE from_agent = ? OR to_agent = ?
             ORDER BY timestamp DESC LIMIT ?`,
			agent, agent, count)
	}
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	for _, m := range rows {
		m["content"] = workdir.ReadContentFile(store.Str(m, "content_file"))
	}
	return R{"messages": rows, "count": len(rows)}, nil
}

// PurgeInbox marks everything read without returning content. An
// escape hatch for drowned agents; the bodies stay on disk.
func PurgeInbox(s *store.Store, agent string) (R, error) {
	if !s.AgentExists(agent) {
		return blocked("Agent %q not registered.", agent), nil
	}
	now := store.NowISO()
	res, err := s.DB.Exec(
		`UPDATE messages SET read_flag = 1 WHERE to_agent = ? AND read_flag = 0`, agent)
	if err != nil {
		return nil, err
	}
	n, _ := res.RowsAffected()
	s.DB.Exec(
		`INSERT OR IGNORE INTO broadcast_reads (message_id, agent_name, read_at)
         SELECT id, ?, ? FROM messages WHERE is_broadcast = 1`, agent, now)
	return R{"status": "purged", "agent": agent, "marked_read": n}, nil
}

// MarshalResult renders a result map as indented JSON.
func MarshalResult(r R) string {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error": %q}`, err.Error())
	}
	return string(data)
}
