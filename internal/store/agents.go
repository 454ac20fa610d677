package store

import (
	"fmt"
	"time"

	"github.com/ai-janitor/minion-factory-sub000/internal/classes"
)

// SelfReportedLimit marks an agent whose HP is self-reported as a
// percentage through set-context instead of measured by a daemon.
const SelfReportedLimit = 100

// HPSummary renders the one-line HP string shown in status output:
// percentage, used/limit in thousands, and a coarse health label.
func HPSummary(inputTokens, outputTokens, limit, turnInput, turnOutput int64) string {
	if limit <= 0 {
		return "HP unknown (no usage reported)"
	}
	used := inputTokens
	if turnInput > 0 {
		used = turnInput
	}
	if used > limit {
		used = limit
	}
	pct := 100 - float64(used)/float64(limit)*100
	if pct < 0 {
		pct = 0
	}
	label := "CRITICAL"
	switch {
	case pct > 50:
		label = "Healthy"
	case pct > 25:
		label = "Wounded"
	}
	return fmt.Sprintf("%.0f%% HP [%dk/%dk] - %s", pct, used/1000, limit/1000, label)
}

// HPPercent computes remaining context percentage from stored HP fields.
// Returns -1 when no usage has been reported.
func HPPercent(inputTokens, limit, turnInput int64) float64 {
	if limit <= 0 {
		return -1
	}
	used := inputTokens
	if turnInput > 0 {
		used = turnInput
	}
	if used <= 0 {
		return -1
	}
	if used > limit {
		used = limit
	}
	pct := 100 - float64(used)/float64(limit)*100
	if pct < 0 {
		pct = 0
	}
	return pct
}

// GetAgent returns the agents row for name, nil when unregistered.
func (s *Store) GetAgent(name string) (map[string]any, error) {
	return s.QueryMap(`SELECT * FROM agents WHERE name = ?`, name)
}

// AgentExists reports whether an agent is registered.
func (s *Store) AgentExists(name string) bool {
	row, err := s.QueryMap(`SELECT name FROM agents WHERE name = ?`, name)
	return err == nil && row != nil
}

// EnrichAgent adds derived fields to an agent row: last_seen age,
// context staleness against the class threshold, and the HP summary.
func EnrichAgent(row map[string]any, now time.Time) map[string]any {
	if row == nil {
		return nil
	}
	class := Str(row, "agent_class")
	reg := classes.Default()

	if ls := Str(row, "last_seen"); ls != "" {
		if t, ok := ParseISO(ls); ok {
			row["last_seen_secs_ago"] = int64(now.Sub(t).Seconds())
		}
	}

	staleness := int64(reg.StalenessOf(class))
	row["staleness_threshold_secs"] = staleness
	stale := true
	if cu := Str(row, "context_updated_at"); cu != "" {
		if t, ok := ParseISO(cu); ok {
			age := int64(now.Sub(t).Seconds())
			row["context_age_secs"] = age
			stale = age > staleness
		}
	}
	row["context_stale"] = stale

	limit := Int(row, "hp_tokens_limit")
	row["hp"] = HPSummary(
		Int(row, "hp_input_tokens"), Int(row, "hp_output_tokens"),
		limit, Int(row, "hp_turn_input"), Int(row, "hp_turn_output"),
	)
	row["hp_self_reported"] = limit == SelfReportedLimit
	return row
}

// ContextStale reports whether the agent's context freshness exceeds
// its class staleness threshold. Unknown agents count as stale.
func (s *Store) ContextStale(name string) (bool, int64) {
	row, err := s.GetAgent(name)
	if err != nil || row == nil {
		return true, 0
	}
	class := Str(row, "agent_class")
	threshold := int64(classes.Default().StalenessOf(class))
	cu := Str(row, "context_updated_at")
	if cu == "" {
		return true, threshold
	}
	t, ok := ParseISO(cu)
	if !ok {
		return true, threshold
	}
	age := int64(time.Since(t).Seconds())
	return age > threshold, threshold
}
