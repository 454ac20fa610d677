// Package filesafety implements advisory file claims: one writer per
// file, with a waitlist that gets notified on release.
package filesafety

import (
	"fmt"
	"path/filepath"

	"github.com/ai-janitor/minion-factory-sub000/internal/store"
)

type R = map[string]any

func blocked(format string, args ...any) R {
	return R{"error": "BLOCKED: " + fmt.Sprintf(format, args...)}
}

func normalize(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

// ClaimFile takes an exclusive claim. A conflicting claim adds the
// caller to the waitlist and blocks.
func ClaimFile(s *store.Store, agent, filePath string) (R, error) {
	normalized := normalize(filePath)
	if !s.AgentExists(agent) {
		return blocked("Agent %q not registered.", agent), nil
	}
	now := store.NowISO()

	existing, err := s.QueryMap(
		`SELECT agent_name, claimed_at FROM file_claims WHERE file_path = ?`, normalized)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		holder := store.Str(existing, "agent_name")
		if holder == agent {
			return R{"status": "already_claimed", "file": normalized, "by": agent}, nil
		}
		s.DB.Exec(
			`INSERT OR IGNORE INTO file_waitlist (file_path, agent_name, added_at) VALUES (?, ?, ?)`,
			normalized, agent, now)
		return blocked("File %q claimed by %q since %s. Added to waitlist.",
			normalized, holder, store.Str(existing, "claimed_at")), nil
	}

	if _, err := s.DB.Exec(
		`INSERT INTO file_claims (file_path, agent_name, claimed_at) VALUES (?, ?, ?)`,
		normalized, agent, now); err != nil {
		return nil, err
	}
	s.Touch(agent)
	return R{"status": "claimed", "file": normalized, "by": agent}, nil
}

// ReleaseFile drops a claim. Only the holder may release, except a lead
// with force. Waitlisted agents get a system message.
func ReleaseFile(s *store.Store, agent, filePath string, force bool) (R, error) {
	normalized := normalize(filePath)
	agentRow, err := s.GetAgent(agent)
	if err != nil {
		return nil, err
	}
	if agentRow == nil {
		return blocked("Agent %q not registered.", agent), nil
	}

	claim, err := s.QueryMap(`SELECT agent_name FROM file_claims WHERE file_path = ?`, normalized)
	if err != nil {
		return nil, err
	}
	if claim == nil {
		return R{"error": fmt.Sprintf("File %q is not claimed by anyone.", normalized)}, nil
	}

	holder := store.Str(claim, "agent_name")
	if holder != agent {
		if store.Str(agentRow, "agent_class") != "lead" || !force {
			return blocked("File %q is claimed by %q. Only holder or lead (with --force) can release.",
				normalized, holder), nil
		}
	}

	s.DB.Exec(`DELETE FROM file_claims WHERE file_path = ?`, normalized)
	waiters, _ := s.QueryMaps(
		`SELECT agent_name FROM file_waitlist WHERE file_path = ? ORDER BY added_at ASC`, normalized)
	var waiting []string
	for _, w := range waiters {
		name := store.Str(w, "agent_name")
		waiting = append(waiting, name)
		s.SystemMessage(name, fmt.Sprintf("File %s was released by %s. It is now unclaimed.", normalized, holder))
	}
	s.DB.Exec(`DELETE FROM file_waitlist WHERE file_path = ?`, normalized)
	s.Touch(agent)

	result := R{"status": "released", "file": normalized, "was_held_by": holder}
	if holder != agent {
		result["force_released_by"] = agent
	}
	if len(waiting) > 0 {
		result["waitlisted_agents"] = waiting
	}
	return result, nil
}

// GetClaims lists claims (optionally one agent's) plus the waitlist.
func GetClaims(s *store.Store, agent string) (R, error) {
	var claims []R
	var err error
	if agent != "" {
		claims, err = s.QueryMaps(
			`SELECT * FROM file_claims WHERE agent_name = ? ORDER BY claimed_at DESC`, agent)
	} else {
		claims, err = s.QueryMaps(
			`SELECT * FROM file_claims ORDER BY agent_name, claimed_at DESC`)
	}
	if err != nil {
		return nil, err
	}
	waitlist, err := s.QueryMaps(
		`SELECT file_path, agent_name, added_at FROM file_waitlist ORDER BY added_at ASC`)
	if err != nil {
		return nil, err
	}
	return R{"claims": claims, "waitlist": waitlist}, nil
}
