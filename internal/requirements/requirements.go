// Package requirements tracks the requirement hierarchy. Paths stored
// in the DB are relative to .work/requirements/ so they survive project
// moves; the filesystem is the source of truth and the DB a rebuildable
// index.
package requirements

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ai-janitor/minion-factory-sub000/internal/flow"
	"github.com/ai-janitor/minion-factory-sub000/internal/store"
	"github.com/ai-janitor/minion-factory-sub000/internal/workdir"
)

type R = map[string]any

func errf(format string, args ...any) R {
	return R{"error": fmt.Sprintf(format, args...)}
}

const requirementFlow = "requirement"

// inferOrigin maps the top-level path segment to an origin label.
// features/... becomes "feature", bugs/... "bug", anything else the
// segment as-is.
func inferOrigin(filePath string) string {
	top := strings.TrimSuffix(strings.SplitN(filePath, "/", 2)[0], "/")
	switch top {
	case "features":
		return "feature"
	case "bugs":
		return "bug"
	}
	return top
}

// inferStageFromFS estimates a stage from directory contents during
// reindex. Subdirectories mean at least decomposed; an
// itemized-requirements.md without subdirs means decomposing. Stages
// past that need DB metadata and cannot be recovered from disk.
func inferStageFromFS(absPath string) string {
	entries, err := os.ReadDir(absPath)
	if err != nil {
		return "seed"
	}
	hasItemized := false
	for _, e := range entries {
		if e.IsDir() {
			return "decomposed"
		}
		if e.Name() == "itemized-requirements.md" {
			hasItemized = true
		}
	}
	if hasItemized {
		return "decomposing"
	}
	return "seed"
}

// Create makes a requirement folder with a README and registers it.
func Create(s *store.Store, filePath, title, description, createdBy string) (R, error) {
	if createdBy == "" {
		createdBy = "human"
	}
	absPath := filepath.Join(workdir.RequirementsRoot(), filePath)
	if _, err := os.Stat(absPath); err == nil {
		return errf("Folder already exists: %s", filePath), nil
	}
	if err := os.MkdirAll(absPath, 0o755); err != nil {
		return nil, err
	}
	content := "# " + title + "\n"
	if description != "" {
		content += "\n" + strings.TrimSpace(description) + "\n"
	}
	if err := workdir.AtomicWriteFile(filepath.Join(absPath, "README.md"), content); err != nil {
		return nil, err
	}
	result, err := Register(s, filePath, createdBy)
	if err != nil || result["error"] != nil {
		return result, err
	}
	result["title"] = title
	return result, nil
}

// Register adds a requirement folder path to the index at stage seed
// with the default requirement flow.
func Register(s *store.Store, filePath, createdBy string) (R, error) {
	return RegisterWithFlow(s, filePath, createdBy, requirementFlow)
}

// RegisterWithFlow registers a requirement under a specific lifecycle
// flow, e.g. requirement-lite for small items.
func RegisterWithFlow(s *store.Store, filePath, createdBy, flowType string) (R, error) {
	if createdBy == "" {
		createdBy = "human"
	}
	if flowType == "" {
		flowType = requirementFlow
	}
	filePath = strings.TrimSuffix(filePath, "/")

	existing, err := s.QueryMap(`SELECT id, stage FROM requirements WHERE file_path = ?`, filePath)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return errf("Requirement %q already registered (id=%d, stage=%s).",
			filePath, store.Int(existing, "id"), store.Str(existing, "stage")), nil
	}

	origin := inferOrigin(filePath)
	now := store.NowISO()
	res, err := s.DB.Exec(
		`INSERT INTO requirements (file_path, origin, stage, flow_type, parent_id, created_by, created_at, updated_at)
         VALUES (?, ?, 'seed', ?, ?, ?, ?, ?)`,
		filePath, origin, flowType, parentID(s, filePath), createdBy, now, now)
	if err != nil {
		return nil, err
	}
	id, _ := res.LastInsertId()
	return R{"status": "registered", "id": id, "file_path": filePath, "origin": origin, "stage": "seed"}, nil
}

// parentID resolves the registered parent row for a path, nil when the
// path is top-level or the parent folder was never registered.
func parentID(s *store.Store, filePath string) any {
	idx := strings.LastIndex(filePath, "/")
	if idx <= 0 {
		return nil
	}
	row, err := s.QueryMap(`SELECT id FROM requirements WHERE file_path = ?`, filePath[:idx])
	if err != nil || row == nil {
		return nil
	}
	return store.Int(row, "id")
}

// Reindex rebuilds the index by scanning the filesystem. Existing rows
// keep their recorded stage; new folders with a README get registered
// with a stage inferred from disk state.
func Reindex(s *store.Store, workDir string) (R, error) {
	reqRoot := filepath.Join(workDir, "requirements")
	if info, err := os.Stat(reqRoot); err != nil || !info.IsDir() {
		return errf("Requirements directory not found: %s", reqRoot), nil
	}

	rows, err := s.QueryMaps(`SELECT file_path FROM requirements`)
	if err != nil {
		return nil, err
	}
	existing := map[string]bool{}
	for _, r := range rows {
		existing[store.Str(r, "file_path")] = true
	}

	now := store.NowISO()
	var added, skipped []string
	err = filepath.WalkDir(reqRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return err
		}
		if _, serr := os.Stat(filepath.Join(path, "README.md")); serr != nil {
			return nil
		}
		rel, rerr := filepath.Rel(reqRoot, path)
		if rerr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if existing[rel] {
			skipped = append(skipped, rel)
			return nil
		}
		_, ierr := s.DB.Exec(
			`INSERT INTO requirements (file_path, origin, stage, parent_id, created_by, created_at, updated_at)
             VALUES (?, ?, ?, ?, 'reindex', ?, ?)`,
			rel, inferOrigin(rel), inferStageFromFS(path), parentID(s, rel), now, now)
		if ierr != nil {
			return ierr
		}
		added = append(added, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return R{"status": "reindexed", "added": len(added), "skipped": len(skipped), "paths_added": added}, nil
}

// UpdateStage advances a requirement through its own flow (full
// requirement flow by default, requirement-lite for small items). With
// skip and a lead caller, intermediate stages are walked automatically;
// the walk halts at the first gate failure. After a forward transition,
// gate-free worker-free stages auto-advance so the index never sits at
// a stage nobody needs to act on.
func UpdateStage(s *store.Store, filePath, toStage string, skip bool, agent string) (R, error) {
	filePath = strings.TrimSuffix(filePath, "/")

	row, err := s.QueryMap(
		`SELECT id, stage, flow_type FROM requirements WHERE file_path = ?`, filePath)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return errf("Requirement %q not found. Register it first.", filePath), nil
	}
	flowType := store.Str(row, "flow_type")
	if flowType == "" {
		flowType = requirementFlow
	}

	f, err := flow.Load(flowType)
	if err != nil {
		return errf("requirement flow %q not found: %v", flowType, err), nil
	}
	if _, ok := f.Stages[toStage]; !ok {
		names := f.StageNames()
		sort.Strings(names)
		return errf("Unknown stage %q. Valid: %s", toStage, strings.Join(names, ", ")), nil
	}
	fromStage := store.Str(row, "stage")
	reqID := int64(store.Int(row, "id"))
	contextDir := filepath.Join(workdir.RequirementsRoot(), filePath)
	env := flow.GateEnv{ContextDir: contextDir, Store: s, EntityID: reqID, EntityType: "requirement"}

	now := store.NowISO()
	setStage := func(stage string) error {
		_, err := s.DB.Exec(
			`UPDATE requirements SET stage = ?, updated_at = ? WHERE file_path = ?`,
			stage, now, filePath)
		if err == nil {
			s.DB.Exec(
				`INSERT INTO transition_log (entity_id, entity_type, from_status, to_status, triggered_by, created_at)
                 VALUES (?, 'requirement', ?, ?, ?, ?)`,
				reqID, fromStage, stage, agent, now)
		}
		return err
	}

	isLead := false
	if agent != "" {
		if a, _ := s.GetAgent(agent); a != nil {
			isLead = store.Str(a, "agent_class") == "lead"
		}
	}

	if skip && isLead {
		current := fromStage
		var walked []string
		for _, hop := range forwardPath(f, fromStage, toStage) {
			step := flow.ApplyTransition(flowType, current, flow.TransitionOpts{
				ExplicitTarget: hop, Env: env,
			})
			if !step.Success {
				break
			}
			walked = append(walked, current)
			current = hop
		}
		if err := setStage(current); err != nil {
			return nil, err
		}
		resp := R{"status": "updated", "file_path": filePath, "from_stage": fromStage, "to_stage": current}
		if len(walked) > 0 {
			resp["skipped_through"] = walked
		}
		if current != toStage {
			resp["warning"] = fmt.Sprintf(
				"halted at %q, could not reach %q (gate failure or invalid path)", current, toStage)
		}
		return resp, nil
	}

	result := flow.ApplyTransition(flowType, fromStage, flow.TransitionOpts{
		ExplicitTarget: toStage, Env: env,
	})
	if !result.Success {
		return errf("Transition blocked: %s", result.Error), nil
	}

	// Only auto-advance on forward transitions, never fail-backs.
	isForward := false
	walk := fromStage
	for i := 0; i < 20; i++ {
		stage, ok := f.Stages[walk]
		if !ok {
			break
		}
		if stage.Next == toStage || (stage.AltNext != "" && stage.AltNext == toStage) {
			isForward = true
			break
		}
		if stage.Next == "" {
			break
		}
		walk = stage.Next
	}

	finalStage := toStage
	var autoAdvanced []string
	seen := map[string]bool{finalStage: true}
	for isForward {
		stage, ok := f.Stages[finalStage]
		if !ok || stage.Terminal || stage.Workers != nil || len(stage.Requires) > 0 {
			break
		}
		next := stage.Next
		if next == "" || seen[next] {
			break
		}
		// Gated stages are real checkpoints; stop in front of them so
		// nobody lands past a stage they never did the work for.
		if ns, ok := f.Stages[next]; !ok || ns.Terminal || len(ns.Requires) > 0 {
			break
		}
		seen[next] = true
		autoAdvanced = append(autoAdvanced, finalStage)
		finalStage = next
	}

	if err := setStage(finalStage); err != nil {
		return nil, err
	}
	resp := R{"status": "updated", "file_path": filePath, "from_stage": fromStage, "to_stage": finalStage}
	if len(autoAdvanced) > 0 {
		resp["auto_advanced_through"] = autoAdvanced
	}
	return resp, nil
}

// forwardPath finds the shortest hop sequence from one stage to another
// over forward edges (next, alt_next, shortcuts). Fail edges are
// excluded; skipping never walks backwards. Returns the stages to visit
// after from, or nil when to is unreachable.
func forwardPath(f *flow.Flow, from, to string) []string {
	if from == to {
		return nil
	}
	prev := map[string]string{from: ""}
	queue := []string{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		stage, ok := f.Stages[cur]
		if !ok || stage.Terminal {
			continue
		}
		edges := []string{stage.Next, stage.AltNext}
		edges = append(edges, f.Shortcuts[cur]...)
		for _, e := range edges {
			if e == "" {
				continue
			}
			if _, seen := prev[e]; seen {
				continue
			}
			prev[e] = cur
			if e == to {
				var path []string
				for at := to; at != from; at = prev[at] {
					path = append([]string{at}, path...)
				}
				return path
			}
			queue = append(queue, e)
		}
	}
	return nil
}

// LinkTask connects a task to its source requirement path.
func LinkTask(s *store.Store, taskID int64, filePath string) (R, error) {
	filePath = strings.TrimSuffix(filePath, "/")
	req, err := s.QueryMap(`SELECT id FROM requirements WHERE file_path = ?`, filePath)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return errf("Requirement %q not registered.", filePath), nil
	}
	task, err := s.QueryMap(`SELECT id FROM tasks WHERE id = ?`, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return errf("Task #%d not found.", taskID), nil
	}
	if _, err := s.DB.Exec(
		`UPDATE tasks SET requirement_path = ?, requirement_id = ?, updated_at = ? WHERE id = ?`,
		filePath, store.Int(req, "id"), store.NowISO(), taskID); err != nil {
		return nil, err
	}
	return R{"status": "linked", "task_id": taskID, "requirement_path": filePath}, nil
}

// List returns requirements with optional stage and origin filters.
func List(s *store.Store, stage, origin string) (R, error) {
	query := `SELECT * FROM requirements WHERE 1=1`
	var params []any
	if stage != "" {
		query += ` AND stage = ?`
		params = append(params, stage)
	}
	if origin != "" {
		query += ` AND origin = ?`
		params = append(params, origin)
	}
	query += ` ORDER BY file_path ASC`
	rows, err := s.QueryMaps(query, params...)
	if err != nil {
		return nil, err
	}
	return R{"requirements": rows}, nil
}

// Status returns a requirement plus its linked tasks (including those
// under child paths) and a completion percentage.
func Status(s *store.Store, filePath string) (R, error) {
	filePath = strings.TrimSuffix(filePath, "/")
	req, err := s.QueryMap(`SELECT * FROM requirements WHERE file_path = ?`, filePath)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return errf("Requirement %q not found.", filePath), nil
	}
	tasks, err := s.QueryMaps(
		`SELECT id, title, status, requirement_path FROM tasks
         WHERE requirement_path = ? OR requirement_path LIKE ?`,
		filePath, filePath+"/%")
	if err != nil {
		return nil, err
	}
	closed := 0
	for _, t := range tasks {
		if store.Str(t, "status") == "closed" {
			closed++
		}
	}
	pct := 0
	if len(tasks) > 0 {
		pct = closed * 100 / len(tasks)
	}
	return R{
		"requirement":    req,
		"tasks":          tasks,
		"task_count":     len(tasks),
		"closed_count":   closed,
		"completion_pct": pct,
	}, nil
}

// Tree returns the requirement subtree rooted at filePath with linked
// tasks attached to each node.
func Tree(s *store.Store, filePath string) (R, error) {
	filePath = strings.TrimSuffix(filePath, "/")
	reqs, err := s.QueryMaps(
		`SELECT * FROM requirements WHERE file_path = ? OR file_path LIKE ? ORDER BY file_path ASC`,
		filePath, filePath+"/%")
	if err != nil {
		return nil, err
	}
	if len(reqs) == 0 {
		return errf("No requirements found at or under %q.", filePath), nil
	}
	for _, req := range reqs {
		linked, _ := s.QueryMaps(
			`SELECT id, title, status FROM tasks WHERE requirement_path = ?`,
			store.Str(req, "file_path"))
		req["linked_tasks"] = linked
	}
	return R{"root": filePath, "nodes": reqs}, nil
}

// Orphans returns leaf requirements with no linked tasks. A leaf is a
// path that prefixes no other registered requirement.
func Orphans(s *store.Store) (R, error) {
	rows, err := s.QueryMaps(`SELECT file_path, stage FROM requirements ORDER BY file_path`)
	if err != nil {
		return nil, err
	}
	paths := map[string]bool{}
	for _, r := range rows {
		paths[store.Str(r, "file_path")] = true
	}
	orphans := []R{}
	for _, req := range rows {
		p := store.Str(req, "file_path")
		isLeaf := true
		for other := range paths {
			if other != p && strings.HasPrefix(other, p+"/") {
				isLeaf = false
				break
			}
		}
		if !isLeaf {
			continue
		}
		count, _ := s.QueryMap(`SELECT COUNT(*) AS n FROM tasks WHERE requirement_path = ?`, p)
		if store.Int(count, "n") == 0 {
			orphans = append(orphans, req)
		}
	}
	return R{"orphans": orphans}, nil
}

// UnlinkedTasks returns tasks with no requirement_path set.
func UnlinkedTasks(s *store.Store) (R, error) {
	tasks, err := s.QueryMaps(
		`SELECT id, title, status, created_by, created_at FROM tasks
         WHERE requirement_path IS NULL ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return R{"unlinked_tasks": tasks}, nil
}
