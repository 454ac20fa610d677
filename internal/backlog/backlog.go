// Package backlog captures ideas, bugs, requests, smells, and debt as
// README folders under .work/backlog/, indexed in the DB. Items are
// promoted into the requirement pipeline, killed, or deferred; the
// README's Outcome section records what happened.
package backlog

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/ai-janitor/minion-factory-sub000/internal/requirements"
	"github.com/ai-janitor/minion-factory-sub000/internal/store"
	"github.com/ai-janitor/minion-factory-sub000/internal/workdir"
)

type R = map[string]any

func errf(format string, args ...any) R {
	return R{"error": fmt.Sprintf(format, args...)}
}

var (
	ValidTypes      = map[string]bool{"idea": true, "bug": true, "request": true, "smell": true, "debt": true}
	ValidStatuses   = map[string]bool{"open": true, "promoted": true, "killed": true, "deferred": true}
	ValidPriorities = map[string]bool{"unset": true, "low": true, "medium": true, "high": true, "critical": true}
)

// TypeToFolder maps item types to their plural folder under backlog/.
var TypeToFolder = map[string]string{
	"idea": "ideas", "bug": "bugs", "request": "requests", "smell": "smells", "debt": "debt",
}

func folderToType(folder string) string {
	for t, f := range TypeToFolder {
		if f == folder {
			return t
		}
	}
	return ""
}

func sortedKeys(m map[string]bool) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := range keys {
		for j := i + 1; j < len(keys); j++ {
			if keys[j] < keys[i] {
				keys[i], keys[j] = keys[j], keys[i]
			}
		}
	}
	return strings.Join(keys, ", ")
}

// Add captures a new backlog item: folder, README, and index row.
func Add(s *store.Store, itemType, title, source, description, priority string) (R, error) {
	if source == "" {
		source = "human"
	}
	if priority == "" {
		priority = "unset"
	}
	if !ValidTypes[itemType] {
		return errf("Invalid type %q. Valid: %s", itemType, sortedKeys(ValidTypes)), nil
	}
	if !ValidPriorities[priority] {
		return errf("Invalid priority %q. Valid: %s", priority, sortedKeys(ValidPriorities)), nil
	}
	slug := workdir.Slugify(title)
	if slug == "" {
		return errf("Title produces an empty slug, use alphanumeric characters."), nil
	}

	folder := filepath.Join(workdir.BacklogRoot(), TypeToFolder[itemType], slug)
	if _, err := os.Stat(folder); err == nil {
		return errf("Backlog item folder already exists: %s", folder), nil
	}
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return nil, err
	}

	if description == "" {
		description = "_No description provided._"
	}
	today := time.Now().UTC().Format("2006-01-02")
	content := fmt.Sprintf(
		"# %s\n\n**Type:** %s\n**Source:** %s\n**Date:** %s\n\n## Description\n\n%s\n\n## Outcome\n\n_Pending._\n",
		title, itemType, source, today, description)
	if err := workdir.AtomicWriteFile(filepath.Join(folder, "README.md"), content); err != nil {
		return nil, err
	}

	relPath := TypeToFolder[itemType] + "/" + slug
	now := store.NowISO()
	res, err := s.DB.Exec(
		`INSERT INTO backlog (file_path, type, title, priority, status, source, created_at, updated_at)
         VALUES (?, ?, ?, ?, 'open', ?, ?, ?)`,
		relPath, itemType, title, priority, source, now, now)
	if err != nil {
		return nil, err
	}
	id, _ := res.LastInsertId()
	return R{"id": id, "file_path": relPath, "title": title, "type": itemType, "status": "open"}, nil
}

// List returns backlog rows matching the filters. Status defaults to
// open; pass "all" to skip the status filter.
func List(s *store.Store, itemType, priority, status string) (R, error) {
	if status == "" {
		status = "open"
	}
	if itemType != "" && !ValidTypes[itemType] {
		return errf("Invalid type %q. Valid: %s", itemType, sortedKeys(ValidTypes)), nil
	}
	if priority != "" && !ValidPriorities[priority] {
		return errf("Invalid priority %q. Valid: %s", priority, sortedKeys(ValidPriorities)), nil
	}
	if status != "all" && !ValidStatuses[status] {
		return errf("Invalid status %q. Valid: %s", status, sortedKeys(ValidStatuses)), nil
	}

	query := `SELECT * FROM backlog WHERE 1=1`
	var params []any
	if itemType != "" {
		query += ` AND type = ?`
		params = append(params, itemType)
	}
	if priority != "" {
		query += ` AND priority = ?`
		params = append(params, priority)
	}
	if status != "all" {
		query += ` AND status = ?`
		params = append(params, status)
	}
	query += ` ORDER BY created_at DESC`
	rows, err := s.QueryMaps(query, params...)
	if err != nil {
		return nil, err
	}
	return R{"items": rows, "count": len(rows)}, nil
}

// Get fetches one backlog item by file_path.
func Get(s *store.Store, filePath string) (R, error) {
	row, err := s.QueryMap(`SELECT * FROM backlog WHERE file_path = ?`, filePath)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return errf("Backlog item %q not found.", filePath), nil
	}
	readme := filepath.Join(workdir.BacklogRoot(), filePath, "README.md")
	row["content"] = workdir.ReadContentFile(readme)
	return R{"item": row}, nil
}

// Update patches priority and/or status on an item.
func Update(s *store.Store, filePath, priority, status string) (R, error) {
	if priority == "" && status == "" {
		return errf("Provide at least one field to update: priority, status."), nil
	}
	if priority != "" && !ValidPriorities[priority] {
		return errf("Invalid priority %q. Valid: %s", priority, sortedKeys(ValidPriorities)), nil
	}
	if status != "" && !ValidStatuses[status] {
		return errf("Invalid status %q. Valid: %s", status, sortedKeys(ValidStatuses)), nil
	}
	row, err := s.QueryMap(`SELECT id FROM backlog WHERE file_path = ?`, filePath)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return errf("Backlog item %q not found.", filePath), nil
	}

	sets := []string{"updated_at = ?"}
	params := []any{store.NowISO()}
	if priority != "" {
		sets = append(sets, "priority = ?")
		params = append(params, priority)
	}
	if status != "" {
		sets = append(sets, "status = ?")
		params = append(params, status)
	}
	params = append(params, filePath)
	if _, err := s.DB.Exec(
		"UPDATE backlog SET "+strings.Join(sets, ", ")+" WHERE file_path = ?", params...); err != nil {
		return nil, err
	}
	updated, err := s.QueryMap(`SELECT * FROM backlog WHERE file_path = ?`, filePath)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Promote copies an open backlog item into the requirement pipeline:
// the README moves to {origin}s/{slug} under requirements/, the
// requirement registers under the chosen flow, and the backlog row
// flips to promoted.
func Promote(s *store.Store, filePath, origin, slug, flowType string) (R, error) {
	filePath = strings.Trim(filePath, "/")
	if flowType == "" {
		flowType = "requirement"
	}

	row, err := s.QueryMap(
		`SELECT id, type, title, status, promoted_to FROM backlog WHERE file_path = ?`, filePath)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return errf("Backlog item %q not found.", filePath), nil
	}
	switch status := store.Str(row, "status"); status {
	case "open":
	case "promoted":
		return errf("Backlog item %q is already promoted to %q.",
			filePath, store.Str(row, "promoted_to")), nil
	default:
		return errf("Backlog item %q has status %q and cannot be promoted.", filePath, status), nil
	}

	if origin == "" {
		if store.Str(row, "type") == "bug" {
			origin = "bug"
		} else {
			origin = "feature"
		}
	}
	if slug == "" {
		parts := strings.Split(filePath, "/")
		slug = parts[len(parts)-1]
	}
	reqRelPath := origin + "s/" + slug
	reqAbsPath := filepath.Join(workdir.RequirementsRoot(), origin+"s", slug)
	if _, err := os.Stat(reqAbsPath); err == nil {
		return errf("Requirement folder already exists at %q. Cannot overwrite.", reqAbsPath), nil
	}
	if err := os.MkdirAll(reqAbsPath, 0o755); err != nil {
		return nil, err
	}

	backlogReadme := filepath.Join(workdir.BacklogRoot(), filePath, "README.md")
	if content := workdir.ReadContentFile(backlogReadme); content != "" {
		if err := workdir.AtomicWriteFile(filepath.Join(reqAbsPath, "README.md"), content); err != nil {
			return nil, err
		}
	}

	reg, err := requirements.RegisterWithFlow(s, reqRelPath, "backlog-promote", flowType)
	if err != nil {
		return nil, err
	}
	if msg, ok := reg["error"].(string); ok {
		os.RemoveAll(reqAbsPath)
		return errf("Failed to register requirement: %s", msg), nil
	}

	now := store.NowISO()
	if _, err := s.DB.Exec(
		`UPDATE backlog SET status = 'promoted', promoted_to = ?, updated_at = ? WHERE id = ?`,
		reqRelPath, now, store.Int(row, "id")); err != nil {
		return nil, err
	}

	appendOutcome(backlogReadme, fmt.Sprintf(
		"Promoted to requirement: %s on %s", reqRelPath, now[:10]))

	return R{
		"status": "promoted",
		"backlog": R{
			"id":          store.Int(row, "id"),
			"file_path":   filePath,
			"type":        store.Str(row, "type"),
			"title":       store.Str(row, "title"),
			"promoted_to": reqRelPath,
		},
		"requirement": reg,
	}, nil
}

// Kill closes an open item with a reason recorded in its README.
func Kill(s *store.Store, filePath, reason string) (R, error) {
	item, err := s.QueryMap(`SELECT status FROM backlog WHERE file_path = ?`, filePath)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return errf("Backlog item not found: %s", filePath), nil
	}
	if status := store.Str(item, "status"); status != "open" {
		return errf("Cannot kill item with status %q, must be 'open'.", status), nil
	}

	readme := filepath.Join(workdir.BacklogRoot(), filePath, "README.md")
	date := store.NowISO()[:10]
	appendOutcome(readme, fmt.Sprintf("**Killed** on %s: %s", date, reason))
	return setStatus(s, filePath, "killed", "")
}

// Defer parks an open item until a date. The until argument accepts
// natural language ("next friday", "in 2 weeks") as well as
// YYYY-MM-DD.
func Defer(s *store.Store, filePath, until string) (R, error) {
	item, err := s.QueryMap(`SELECT status FROM backlog WHERE file_path = ?`, filePath)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return errf("Backlog item not found: %s", filePath), nil
	}
	if status := store.Str(item, "status"); status != "open" {
		return errf("Cannot defer item with status %q, must be 'open'.", status), nil
	}

	resolved := ResolveDeferDate(until, time.Now())
	if resolved == "" {
		return errf("Could not parse defer date %q. Use YYYY-MM-DD or natural language like 'next friday'.", until), nil
	}

	readme := filepath.Join(workdir.BacklogRoot(), filePath, "README.md")
	date := store.NowISO()[:10]
	appendOutcome(readme, fmt.Sprintf("**Deferred** on %s until %s", date, resolved))
	return setStatus(s, filePath, "deferred", resolved)
}

// Reopen returns a killed or deferred item to open.
func Reopen(s *store.Store, filePath string) (R, error) {
	item, err := s.QueryMap(`SELECT status FROM backlog WHERE file_path = ?`, filePath)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return errf("Backlog item not found: %s", filePath), nil
	}
	if status := store.Str(item, "status"); status != "killed" && status != "deferred" {
		return errf("Cannot reopen item with status %q, must be 'killed' or 'deferred'.", status), nil
	}

	readme := filepath.Join(workdir.BacklogRoot(), filePath, "README.md")
	appendOutcome(readme, fmt.Sprintf("**Reopened** on %s", store.NowISO()[:10]))
	return setStatus(s, filePath, "open", "")
}

// ResolveDeferDate normalizes a defer target to YYYY-MM-DD. Exact
// dates pass through; anything else goes through the natural language
// parser. Empty means unparseable.
func ResolveDeferDate(until string, base time.Time) string {
	until = strings.TrimSpace(until)
	if t, err := time.Parse("2006-01-02", until); err == nil {
		return t.Format("2006-01-02")
	}
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	result, err := w.Parse(until, base)
	if err != nil || result == nil {
		return ""
	}
	return result.Time.Format("2006-01-02")
}

func setStatus(s *store.Store, filePath, status, deferredUntil string) (R, error) {
	now := store.NowISO()
	var deferredVal any
	if deferredUntil != "" {
		deferredVal = deferredUntil
	}
	if _, err := s.DB.Exec(
		`UPDATE backlog SET status = ?, deferred_until = ?, updated_at = ? WHERE file_path = ?`,
		status, deferredVal, now, filePath); err != nil {
		return nil, err
	}
	return s.QueryMap(`SELECT * FROM backlog WHERE file_path = ?`, filePath)
}

// appendOutcome adds an entry under the README's ## Outcome section,
// creating the section at the end when missing.
func appendOutcome(readmePath, entry string) {
	raw, err := os.ReadFile(readmePath)
	if err != nil {
		return
	}
	content := string(raw)
	const marker = "## Outcome"
	idx := strings.Index(content, marker)
	if idx == -1 {
		content = strings.TrimRight(content, "\n") + "\n\n" + marker + "\n\n" + entry + "\n"
	} else {
		restStart := idx + len(marker)
		nextSection := strings.Index(content[restStart:], "\n## ")
		if nextSection == -1 {
			content = strings.TrimRight(content, "\n") + "\n\n" + entry + "\n"
		} else {
			cut := restStart + nextSection
			before := strings.TrimRight(content[:cut], "\n")
			content = before + "\n\n" + entry + "\n" + content[cut:]
		}
	}
	workdir.AtomicWriteFile(readmePath, content)
}

var (
	titlePattern  = regexp.MustCompile(`^# (.+)$`)
	sourcePattern = regexp.MustCompile(`\*\*Source:\*\*\s*(.+)`)
)

// Reindex scans backlog/ and inserts README items missing from the DB.
// Existing rows are untouched.
func Reindex(s *store.Store) (R, error) {
	root := workdir.BacklogRoot()
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return errf("Backlog directory not found: %s", root), nil
	}

	now := store.NowISO()
	registered, skipped := 0, 0
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return err
		}
		readmePath := filepath.Join(path, "README.md")
		if _, serr := os.Stat(readmePath); serr != nil {
			return nil
		}
		rel, rerr := filepath.Rel(root, path)
		if rerr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		parts := strings.Split(rel, "/")
		itemType := folderToType(parts[0])
		if itemType == "" {
			// Unknown folder structure; skip rather than pollute the index.
			return nil
		}

		title, source := parts[len(parts)-1], "unknown"
		for _, line := range strings.Split(workdir.ReadContentFile(readmePath), "\n") {
			if m := titlePattern.FindStringSubmatch(line); m != nil {
				title = strings.TrimSpace(m[1])
			} else if m := sourcePattern.FindStringSubmatch(line); m != nil {
				source = strings.TrimSpace(m[1])
			}
		}

		res, ierr := s.DB.Exec(
			`INSERT OR IGNORE INTO backlog (file_path, type, title, priority, status, source, created_at, updated_at)
             VALUES (?, ?, ?, 'unset', 'open', ?, ?, ?)`,
			rel, itemType, title, source, now, now)
		if ierr != nil {
			return ierr
		}
		if n, _ := res.RowsAffected(); n > 0 {
			registered++
		} else {
			skipped++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return R{"registered": registered, "skipped": skipped}, nil
}
