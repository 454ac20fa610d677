// Package intel indexes knowledge documents under .work/intel/ and
// links them to tasks and requirements. The filesystem holds the
// content; the DB rows make it queryable by slug, tag, and entity.
package intel

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ai-janitor/minion-factory-sub000/internal/store"
	"github.com/ai-janitor/minion-factory-sub000/internal/workdir"
)

type R = map[string]any

func errf(format string, args ...any) R {
	return R{"error": fmt.Sprintf(format, args...)}
}

func blocked(format string, args ...any) R {
	return R{"error": "BLOCKED: " + fmt.Sprintf(format, args...)}
}

var frontmatterPattern = regexp.MustCompile(`(?s)^---\s*\n(.*?)\n---\s*\n`)

// Frontmatter holds the typed fields from an intel doc's YAML header.
type Frontmatter struct {
	Tags        []string `yaml:"tags"`
	LinkedTasks []int64  `yaml:"linked_tasks"`
	LinkedReqs  []int64  `yaml:"linked_reqs"`
	Author      string   `yaml:"author"`
	Date        string   `yaml:"date"`
}

// ParseFrontmatter extracts the YAML frontmatter from a markdown file.
// Never fails; missing files and parse errors yield empty fields.
func ParseFrontmatter(path string) Frontmatter {
	var fm Frontmatter
	raw, err := os.ReadFile(path)
	if err != nil {
		return fm
	}
	m := frontmatterPattern.FindSubmatch(raw)
	if m == nil {
		return fm
	}
	yaml.Unmarshal(m[1], &fm)
	return fm
}

const frontmatterStub = `---
tags: []
linked_tasks: []
linked_reqs: []
author:
date:
---

`

// AddDoc registers or updates an intel doc. With scaffold, a missing
// file is created with a frontmatter stub. Frontmatter linked_tasks
// and linked_reqs auto-populate intel_links.
func AddDoc(s *store.Store, slug, docPath string, tags []string, description, createdBy string, scaffold bool) (R, error) {
	if _, err := os.Stat(docPath); err != nil {
		if !scaffold {
			return errf("File not found: %s. Use --scaffold to create it.", docPath), nil
		}
		if err := os.MkdirAll(filepath.Dir(docPath), 0o755); err != nil {
			return nil, err
		}
		if err := workdir.AtomicWriteFile(docPath, frontmatterStub); err != nil {
			return nil, err
		}
	}

	existing, err := s.QueryMap(`SELECT slug FROM intel_docs WHERE slug = ?`, slug)
	if err != nil {
		return nil, err
	}
	now := store.NowISO()
	tagsJSON, _ := json.Marshal(tags)
	if tags == nil {
		tagsJSON = []byte("[]")
	}

	status := "added"
	if existing != nil {
		status = "updated"
		_, err = s.DB.Exec(
			`UPDATE intel_docs SET doc_path = ?, tags = ?, description = ?, created_by = ?, updated_at = ?
             WHERE slug = ?`,
			docPath, string(tagsJSON), description, createdBy, now, slug)
	} else {
		_, err = s.DB.Exec(
			`INSERT INTO intel_docs (slug, doc_path, tags, description, created_by, created_at, updated_at)
             VALUES (?, ?, ?, ?, ?, ?, ?)`,
			slug, docPath, string(tagsJSON), description, createdBy, now, now)
	}
	if err != nil {
		return nil, err
	}

	fm := ParseFrontmatter(docPath)
	for _, taskID := range fm.LinkedTasks {
		s.DB.Exec(
			`INSERT OR IGNORE INTO intel_links (intel_slug, entity_type, entity_id) VALUES (?, 'task', ?)`,
			slug, taskID)
	}
	for _, reqID := range fm.LinkedReqs {
		s.DB.Exec(
			`INSERT OR IGNORE INTO intel_links (intel_slug, entity_type, entity_id) VALUES (?, 'requirement', ?)`,
			slug, reqID)
	}
	return R{"status": status, "slug": slug}, nil
}

func decodeTags(rows []R) {
	for _, d := range rows {
		var tags []string
		if raw := store.Str(d, "tags"); raw != "" {
			json.Unmarshal([]byte(raw), &tags)
		}
		if tags == nil {
			tags = []string{}
		}
		d["tags"] = tags
	}
}

// ListDocs returns registered docs, optionally filtered by tag.
func ListDocs(s *store.Store, tag string, limit int) (R, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []R
	var err error
	if tag != "" {
		rows, err = s.QueryMaps(
			`SELECT slug, doc_path, tags, description, created_by, created_at
             FROM intel_docs WHERE tags LIKE ? ORDER BY slug LIMIT ?`,
			`%"`+tag+`"%`, limit)
	} else {
		rows, err = s.QueryMaps(
			`SELECT slug, doc_path, tags, description, created_by, created_at
             FROM intel_docs ORDER BY slug LIMIT ?`, limit)
	}
	if err != nil {
		return nil, err
	}
	decodeTags(rows)
	return R{"docs": rows}, nil
}

// FindDocs searches by tag and/or path fragment, AND-ed when both are
// given.
func FindDocs(s *store.Store, tag, pathFragment string) (R, error) {
	query := `SELECT slug, doc_path, tags, description, created_by, created_at FROM intel_docs`
	var wheres []string
	var params []any
	if tag != "" {
		wheres = append(wheres, `tags LIKE ?`)
		params = append(params, `%"`+tag+`"%`)
	}
	if pathFragment != "" {
		wheres = append(wheres, `doc_path LIKE ?`)
		params = append(params, "%"+pathFragment+"%")
	}
	if len(wheres) > 0 {
		query += ` WHERE ` + strings.Join(wheres, ` AND `)
	}
	query += ` ORDER BY slug`
	rows, err := s.QueryMaps(query, params...)
	if err != nil {
		return nil, err
	}
	decodeTags(rows)
	return R{"docs": rows}, nil
}

// GetDoc returns full metadata plus links for a registered doc.
func GetDoc(s *store.Store, slug string) (R, error) {
	row, err := s.QueryMap(
		`SELECT slug, doc_path, tags, description, created_by, created_at FROM intel_docs WHERE slug = ?`,
		slug)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return errf("Intel doc %q not registered.", slug), nil
	}
	decodeTags([]R{row})
	links, err := s.QueryMaps(
		`SELECT entity_type, entity_id FROM intel_links WHERE intel_slug = ? ORDER BY entity_type, entity_id`,
		slug)
	if err != nil {
		return nil, err
	}
	return R{"doc": row, "links": links}, nil
}

// ReadDoc returns the file content of a registered doc. Summary mode
// truncates to the first ten lines for cheap context injection.
func ReadDoc(s *store.Store, slug string, summary bool) (R, error) {
	row, err := s.QueryMap(`SELECT doc_path FROM intel_docs WHERE slug = ?`, slug)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return errf("Intel doc %q not registered.", slug), nil
	}
	path := store.Str(row, "doc_path")
	raw, err := os.ReadFile(path)
	if err != nil {
		return R{"error": fmt.Sprintf("File not found: %s", path), "slug": slug}, nil
	}
	content := string(raw)
	if summary {
		lines := strings.Split(content, "\n")
		if len(lines) > 10 {
			lines = lines[:10]
		}
		content = strings.Join(lines, "\n")
	}
	return R{"slug": slug, "path": path, "content": content}, nil
}

// LinkDoc connects a doc to exactly one task or requirement.
// Duplicates report already_linked rather than failing.
func LinkDoc(s *store.Store, slug string, taskID, reqID int64) (R, error) {
	if taskID == 0 && reqID == 0 {
		return errf("Provide --task or --req (exactly one required)."), nil
	}
	if taskID != 0 && reqID != 0 {
		return errf("Provide only one of --task or --req, not both."), nil
	}
	row, err := s.QueryMap(`SELECT slug FROM intel_docs WHERE slug = ?`, slug)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return errf("Intel doc %q not registered.", slug), nil
	}

	entityType, entityID := "task", taskID
	if reqID != 0 {
		entityType, entityID = "requirement", reqID
	}
	res, err := s.DB.Exec(
		`INSERT OR IGNORE INTO intel_links (intel_slug, entity_type, entity_id) VALUES (?, ?, ?)`,
		slug, entityType, entityID)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return R{"status": "already_linked", "slug": slug, "entity_type": entityType, "entity_id": entityID}, nil
	}
	return R{"status": "linked", "slug": slug, "entity_type": entityType, "entity_id": entityID}, nil
}

// ForTask returns every doc linked to a task.
func ForTask(s *store.Store, taskID int64) (R, error) {
	rows, err := s.QueryMaps(
		`SELECT d.slug, d.doc_path, d.tags, d.description
         FROM intel_links l JOIN intel_docs d ON l.intel_slug = d.slug
         WHERE l.entity_type = 'task' AND l.entity_id = ?
         ORDER BY d.slug`,
		taskID)
	if err != nil {
		return nil, err
	}
	decodeTags(rows)
	return R{"task_id": taskID, "docs": rows}, nil
}

// Reindex walks intel/ and upserts docs from frontmatter. Slugs are
// relative path stems. WAR_PLAN.md is skipped; it's not queryable.
// Rows for docs missing from disk are preserved.
func Reindex(s *store.Store) (R, error) {
	intelDir := workdir.IntelRoot()
	if info, err := os.Stat(intelDir); err != nil || !info.IsDir() {
		return R{"status": "ok", "indexed": 0, "links_created": 0}, nil
	}

	now := store.NowISO()
	indexed, linksCreated := 0, 0
	err := filepath.WalkDir(intelDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		name := d.Name()
		if !strings.HasSuffix(name, ".md") || name == "WAR_PLAN.md" {
			return nil
		}
		rel, rerr := filepath.Rel(intelDir, path)
		if rerr != nil {
			return nil
		}
		slug := filepath.ToSlash(strings.TrimSuffix(rel, ".md"))

		fm := ParseFrontmatter(path)
		tagsJSON, _ := json.Marshal(fm.Tags)
		if fm.Tags == nil {
			tagsJSON = []byte("[]")
		}

		if _, ierr := s.DB.Exec(
			`INSERT OR REPLACE INTO intel_docs (slug, doc_path, tags, description, created_by, created_at, updated_at)
             VALUES (?, ?, ?, '', ?, COALESCE((SELECT created_at FROM intel_docs WHERE slug = ?), ?), ?)`,
			slug, path, string(tagsJSON), fm.Author, slug, now, now); ierr != nil {
			return ierr
		}
		indexed++

		link := func(entityType string, id int64) {
			res, lerr := s.DB.Exec(
				`INSERT OR IGNORE INTO intel_links (intel_slug, entity_type, entity_id) VALUES (?, ?, ?)`,
				slug, entityType, id)
			if lerr == nil {
				if n, _ := res.RowsAffected(); n > 0 {
					linksCreated++
				}
			}
		}
		for _, taskID := range fm.LinkedTasks {
			link("task", taskID)
		}
		for _, reqID := range fm.LinkedReqs {
			link("requirement", reqID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return R{"status": "ok", "indexed": indexed, "links_created": linksCreated}, nil
}

func warPlanPath() string {
	return filepath.Join(workdir.IntelRoot(), "WAR_PLAN.md")
}

// ShowWarPlan reads the persistent project war plan.
func ShowWarPlan(s *store.Store) (R, error) {
	path := warPlanPath()
	raw, err := os.ReadFile(path)
	if err != nil {
		return R{"content": "", "path": path, "note": "No war plan set."}, nil
	}
	return R{"content": string(raw), "path": path}, nil
}

func requireLead(s *store.Store, agent, action string) R {
	row, err := s.GetAgent(agent)
	if err != nil || row == nil {
		return blocked("Agent %q not registered.", agent)
	}
	if class := store.Str(row, "agent_class"); class != "lead" {
		return blocked("Only lead-class agents can %s. %q is %q.", action, agent, class)
	}
	return nil
}

// SetWarPlan overwrites the war plan atomically. Lead-only.
func SetWarPlan(s *store.Store, agent, content string) (R, error) {
	if r := requireLead(s, agent, "set the war plan"); r != nil {
		return r, nil
	}
	path := warPlanPath()
	if err := workdir.AtomicWriteFile(path, content); err != nil {
		return blocked("Failed to write war plan: %v", err), nil
	}
	return R{"status": "set", "path": path, "agent": agent}, nil
}

// AppendWarPlan appends text to the war plan. Lead-only.
func AppendWarPlan(s *store.Store, agent, text string) (R, error) {
	if r := requireLead(s, agent, "append to the war plan"); r != nil {
		return r, nil
	}
	path := warPlanPath()
	existing := ""
	if raw, err := os.ReadFile(path); err == nil {
		existing = string(raw)
	}
	if err := workdir.AtomicWriteFile(path, existing+text+"\n"); err != nil {
		return blocked("Failed to append to war plan: %v", err), nil
	}
	return R{"status": "appended", "path": path, "agent": agent}, nil
}
