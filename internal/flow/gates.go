package flow

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ai-janitor/minion-factory-sub000/internal/store"
)

// GateResult is the outcome of one gate check.
type GateResult struct {
	Passed  bool   `json:"passed"`
	Gate    string `json:"gate"`
	Message string `json:"message"`
}

// GateEnv carries everything a gate might need. ContextDir points at
// the entity's folder for filesystem gates; Store/EntityID serve the
// DB aggregate gates.
type GateEnv struct {
	ContextDir string
	Store      *store.Store
	EntityID   int64
	EntityType string
}

var dbConditions = map[string]bool{
	"all_inv_tasks_closed":  true,
	"all_impl_tasks_closed": true,
	"all_leaves_have_tasks": true,
}

var taskPreconditions = map[string]string{
	"submit_result": "result_file",
}

var structuralChecks = map[string]bool{
	"numbered_child_folders": true,
	"impl_task_readmes":      true,
}

// CheckGate resolves a single gate by name. Unrecognized names fall
// through to the filesystem artifact check.
func CheckGate(gate string, env GateEnv) GateResult {
	switch {
	case dbConditions[gate]:
		return checkDBGate(gate, env)
	case taskPreconditions[gate] != "":
		return checkTaskPrecondition(gate, env)
	case structuralChecks[gate]:
		return checkStructural(gate, env)
	default:
		return checkFileGate(gate, env)
	}
}

// CheckGates resolves every gate; the caller decides what failures mean.
func CheckGates(gates []string, env GateEnv) []GateResult {
	out := make([]GateResult, 0, len(gates))
	for _, g := range gates {
		out = append(out, CheckGate(g, env))
	}
	return out
}

// AllPass reports whether every gate in results passed.
func AllPass(results []GateResult) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}

// checkFileGate: the artifact must exist and every regular file match
// must be non-empty. Glob patterns are allowed.
func checkFileGate(gate string, env GateEnv) GateResult {
	if env.ContextDir == "" {
		return GateResult{Gate: gate, Message: fmt.Sprintf("no context dir provided to resolve %q", gate)}
	}
	pattern := filepath.Join(env.ContextDir, gate)
	matches, err := filepath.Glob(pattern)
	if err != nil || len(matches) == 0 {
		return GateResult{Gate: gate, Message: fmt.Sprintf("%q not found at %s", gate, env.ContextDir)}
	}
	for _, m := range matches {
		fi, err := os.Stat(m)
		if err != nil {
			return GateResult{Gate: gate, Message: fmt.Sprintf("%q unreadable: %v", m, err)}
		}
		if fi.Mode().IsRegular() && fi.Size() == 0 {
			return GateResult{Gate: gate, Message: fmt.Sprintf("%q exists but is empty", m)}
		}
	}
	return GateResult{Passed: true, Gate: gate, Message: fmt.Sprintf("%q satisfied (%d match(es))", gate, len(matches))}
}

func checkTaskPrecondition(gate string, env GateEnv) GateResult {
	field := taskPreconditions[gate]
	if env.Store == nil || env.EntityID == 0 {
		return GateResult{Gate: gate, Message: fmt.Sprintf("no db/entity to check %q", gate)}
	}
	row, err := env.Store.QueryMap(
		fmt.Sprintf(`SELECT %s FROM tasks WHERE id = ?`, field), env.EntityID)
	if err != nil || row == nil {
		return GateResult{Gate: gate, Message: fmt.Sprintf("task %d not found", env.EntityID)}
	}
	if row[field] == nil {
		return GateResult{Gate: gate, Message: fmt.Sprintf("task %d: %s is null", env.EntityID, field)}
	}
	return GateResult{Passed: true, Gate: gate, Message: fmt.Sprintf("task %d: %s is set", env.EntityID, field)}
}

func checkStructural(gate string, env GateEnv) GateResult {
	if env.ContextDir == "" {
		return GateResult{Gate: gate, Message: fmt.Sprintf("no context dir for %q", gate)}
	}
	numbered, _ := filepath.Glob(filepath.Join(env.ContextDir, "[0-9][0-9][0-9]-*"))
	var dirs []string
	for _, m := range numbered {
		if fi, err := os.Stat(m); err == nil && fi.IsDir() {
			dirs = append(dirs, m)
		}
	}

	switch gate {
	case "numbered_child_folders":
		if len(dirs) == 0 {
			return GateResult{Gate: gate, Message: fmt.Sprintf("no numbered child folders (NNN-*) in %s", env.ContextDir)}
		}
		return GateResult{Passed: true, Gate: gate, Message: fmt.Sprintf("%d numbered folders found", len(dirs))}

	case "impl_task_readmes":
		if len(dirs) == 0 {
			return GateResult{Gate: gate, Message: "no numbered folders to check"}
		}
		var missing []string
		for _, d := range dirs {
			if _, err := os.Stat(filepath.Join(d, "README.md")); err != nil {
				missing = append(missing, filepath.Base(d))
			}
		}
		if len(missing) > 0 {
			return GateResult{Gate: gate, Message: "missing README.md in: " + strings.Join(missing, ", ")}
		}
		return GateResult{Passed: true, Gate: gate, Message: fmt.Sprintf("all %d folders have README.md", len(dirs))}
	}
	return GateResult{Gate: gate, Message: fmt.Sprintf("unknown structural check %q", gate)}
}

func checkDBGate(gate string, env GateEnv) GateResult {
	if env.Store == nil {
		return GateResult{Gate: gate, Message: fmt.Sprintf("no db connection to check %q", gate)}
	}
	if env.EntityID == 0 {
		return GateResult{Gate: gate, Message: fmt.Sprintf("no entity id to check %q", gate)}
	}
	switch gate {
	case "all_inv_tasks_closed":
		return allChildTasksClosed(gate, env, "investigation")
	case "all_impl_tasks_closed":
		return allChildTasksClosed(gate, env, "")
	case "all_leaves_have_tasks":
		return allLeavesHaveTasks(gate, env)
	}
	return GateResult{Gate: gate, Message: fmt.Sprintf("unknown DB condition %q", gate)}
}

// allChildTasksClosed checks every task linked to the entity (and, for
// requirements, to any descendant requirement by path prefix) sits in a
// terminal status. flowType narrows the check to one flow when set.
func allChildTasksClosed(gate string, env GateEnv, flowType string) GateResult {
	reqIDs := []any{env.EntityID}
	if env.EntityType == "requirement" {
		row, err := env.Store.QueryMap(`SELECT file_path FROM requirements WHERE id = ?`, env.EntityID)
		if err == nil && row != nil {
			descendants, err := env.Store.QueryMaps(
				`SELECT id FROM requirements WHERE file_path LIKE ?`,
				store.Str(row, "file_path")+"/%")
			if err == nil {
				for _, d := range descendants {
					reqIDs = append(reqIDs, store.Int(d, "id"))
				}
			}
		}
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(reqIDs)), ",")
	query := fmt.Sprintf(`SELECT id, status FROM tasks WHERE requirement_id IN (%s)`, placeholders)
	args := reqIDs
	if flowType != "" {
		query += ` AND flow_type = ?`
		args = append(args, flowType)
	}
	rows, err := env.Store.QueryMaps(query, args...)
	if err != nil {
		return GateResult{Gate: gate, Message: fmt.Sprintf("query failed: %v", err)}
	}
	if len(rows) == 0 {
		return GateResult{Passed: true, Gate: gate, Message: fmt.Sprintf("no child tasks for entity %d", env.EntityID)}
	}

	var open []string
	for _, r := range rows {
		if !TerminalStatuses[store.Str(r, "status")] {
			open = append(open, fmt.Sprintf("#%d(%s)", store.Int(r, "id"), store.Str(r, "status")))
		}
	}
	if n := len(open); n > 0 {
		if n > 5 {
			open = open[:5]
		}
		return GateResult{Gate: gate, Message: fmt.Sprintf("%d tasks still open: %s", n, strings.Join(open, ", "))}
	}
	return GateResult{Passed: true, Gate: gate, Message: fmt.Sprintf("all %d child tasks closed", len(rows))}
}

func allLeavesHaveTasks(gate string, env GateEnv) GateResult {
	children, err := env.Store.QueryMaps(
		`SELECT id FROM requirements WHERE parent_id = ?`, env.EntityID)
	if err != nil {
		return GateResult{Gate: gate, Message: fmt.Sprintf("query failed: %v", err)}
	}
	if len(children) == 0 {
		return GateResult{Passed: true, Gate: gate, Message: "no child requirements (this IS a leaf)"}
	}
	var missing []string
	for _, c := range children {
		id := store.Int(c, "id")
		row, err := env.Store.QueryMap(`SELECT COUNT(*) AS n FROM tasks WHERE requirement_id = ?`, id)
		if err == nil && store.Int(row, "n") == 0 {
			missing = append(missing, fmt.Sprintf("%d", id))
		}
	}
	if len(missing) > 0 {
		if len(missing) > 10 {
			missing = missing[:10]
		}
		return GateResult{Gate: gate, Message: "requirements without tasks: " + strings.Join(missing, ", ")}
	}
	return GateResult{Passed: true, Gate: gate, Message: fmt.Sprintf("all %d leaf requirements have tasks", len(children))}
}
