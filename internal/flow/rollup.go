package flow

import (
	"fmt"

	"github.com/ai-janitor/minion-factory-sub000/internal/store"
)

// TerminalStatuses are the stage names that count as finished for
// rollup purposes, across all flows.
var TerminalStatuses = map[string]bool{
	"closed":    true,
	"abandoned": true,
	"obsolete":  true,
	"completed": true,
}

// RollupResult records one parent-advance attempt in the rollup chain.
type RollupResult struct {
	Triggered  bool   `json:"triggered"`
	EntityType string `json:"entity_type"`
	EntityID   int64  `json:"entity_id"`
	FromStatus string `json:"from_status,omitempty"`
	ToStatus   string `json:"to_status,omitempty"`
	Error      string `json:"error,omitempty"`
}

// CheckAndRollup advances parents after a child reaches a terminal
// state: task -> requirement, then recursively requirement -> parent
// requirement. Failures are recorded, never fatal; a blocked rollup
// just leaves the parent where it is.
func CheckAndRollup(s *store.Store, childID int64, childType, contextDir string) []RollupResult {
	var results []RollupResult
	switch childType {
	case "task":
		rollupTaskToRequirement(s, childID, contextDir, &results)
	case "requirement":
		rollupRequirementToParent(s, childID, contextDir, &results)
	}
	return results
}

func rollupTaskToRequirement(s *store.Store, taskID int64, contextDir string, results *[]RollupResult) {
	row, err := s.QueryMap(`SELECT requirement_id FROM tasks WHERE id = ?`, taskID)
	if err != nil || row == nil || row["requirement_id"] == nil {
		return
	}
	reqID := store.Int(row, "requirement_id")

	siblings, err := s.QueryMaps(`SELECT id, status FROM tasks WHERE requirement_id = ?`, reqID)
	if err != nil || len(siblings) == 0 {
		return
	}
	openCount := 0
	for _, sib := range siblings {
		if !TerminalStatuses[store.Str(sib, "status")] {
			openCount++
		}
	}
	if openCount > 0 {
		*results = append(*results, RollupResult{
			EntityType: "requirement", EntityID: reqID,
			Error: fmt.Sprintf("%d tasks still open", openCount),
		})
		return
	}

	advanceRequirement(s, reqID, contextDir, results)
}

func rollupRequirementToParent(s *store.Store, reqID int64, contextDir string, results *[]RollupResult) {
	row, err := s.QueryMap(`SELECT parent_id FROM requirements WHERE id = ?`, reqID)
	if err != nil || row == nil || row["parent_id"] == nil {
		return
	}
	parentID := store.Int(row, "parent_id")

	siblings, err := s.QueryMaps(`SELECT id, stage FROM requirements WHERE parent_id = ?`, parentID)
	if err != nil || len(siblings) == 0 {
		return
	}
	for _, sib := range siblings {
		if !TerminalStatuses[store.Str(sib, "stage")] {
			return
		}
	}

	advanceRequirement(s, parentID, contextDir, results)
}

func advanceRequirement(s *store.Store, reqID int64, contextDir string, results *[]RollupResult) {
	req, err := s.QueryMap(`SELECT id, stage, flow_type FROM requirements WHERE id = ?`, reqID)
	if err != nil || req == nil {
		return
	}
	stage := store.Str(req, "stage")
	flowType := store.Str(req, "flow_type")
	if flowType == "" {
		flowType = "requirement"
	}

	result := ApplyTransition(flowType, stage, TransitionOpts{
		Passed: true,
		Env: GateEnv{
			ContextDir: contextDir,
			Store:      s,
			EntityID:   reqID,
			EntityType: "requirement",
		},
	})
	if !result.Success {
		*results = append(*results, RollupResult{
			EntityType: "requirement", EntityID: reqID,
			FromStatus: stage, Error: result.Error,
		})
		return
	}

	now := store.NowISO()
	s.DB.Exec(`UPDATE requirements SET stage = ?, updated_at = ? WHERE id = ?`,
		result.ToStatus, now, reqID)
	s.DB.Exec(
		`INSERT INTO transition_log (entity_id, entity_type, from_status, to_status, triggered_by, created_at)
         VALUES (?, 'requirement', ?, ?, 'rollup', ?)`,
		reqID, stage, result.ToStatus, now)

	*results = append(*results, RollupResult{
		Triggered: true, EntityType: "requirement", EntityID: reqID,
		FromStatus: stage, ToStatus: result.ToStatus,
	})

	rollupRequirementToParent(s, reqID, contextDir, results)
}
