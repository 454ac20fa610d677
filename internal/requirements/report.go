package requirements

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/ai-janitor/minion-factory-sub000/internal/store"
	"github.com/ai-janitor/minion-factory-sub000/internal/workdir"
)

var childDirPattern = regexp.MustCompile(`^\d{3}-`)

func readOptional(path string) string {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}

func titleFromReadme(content string) string {
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(line[2:])
		}
	}
	return "(untitled)"
}

func findChildren(reqDir string) []string {
	entries, err := os.ReadDir(reqDir)
	if err != nil {
		return nil
	}
	var children []string
	for _, e := range entries {
		if e.IsDir() && childDirPattern.MatchString(e.Name()) {
			children = append(children, e.Name())
		}
	}
	sort.Strings(children)
	return children
}

// Report rolls a requirement's full lineage into one structure: the
// filesystem holds the content, the DB adds stage and task status.
func Report(s *store.Store, filePath string) (R, error) {
	filePath = strings.TrimSuffix(filePath, "/")
	reqDir := filepath.Join(workdir.RequirementsRoot(), filePath)
	if info, err := os.Stat(reqDir); err != nil || !info.IsDir() {
		return errf("Requirement directory not found: %s", filePath), nil
	}

	readme := readOptional(filepath.Join(reqDir, "README.md"))
	if readme == "" {
		return errf("No README.md found in %s", filePath), nil
	}

	statusData, err := Status(s, filePath)
	if err != nil {
		return nil, err
	}
	treeData, err := Tree(s, filePath)
	if err != nil {
		return nil, err
	}

	stage, flowType := "unknown", "unknown"
	if req, ok := statusData["requirement"].(R); ok {
		if v := store.Str(req, "stage"); v != "" {
			stage = v
		}
		if v := store.Str(req, "flow_type"); v != "" {
			flowType = v
		}
	}

	taskLookup := map[string][]R{}
	if nodes, ok := treeData["nodes"].([]R); ok {
		for _, node := range nodes {
			if linked, ok := node["linked_tasks"].([]R); ok {
				taskLookup[store.Str(node, "file_path")] = linked
			}
		}
	}

	var children []R
	for _, slug := range findChildren(reqDir) {
		children = append(children, R{
			"slug":   slug,
			"readme": readOptional(filepath.Join(reqDir, slug, "README.md")),
			"tasks":  taskLookup[filePath+"/"+slug],
		})
	}

	return R{
		"status":         "ok",
		"title":          titleFromReadme(readme),
		"file_path":      filePath,
		"stage":          stage,
		"flow_type":      flowType,
		"task_count":     statusData["task_count"],
		"closed_count":   statusData["closed_count"],
		"completion_pct": statusData["completion_pct"],
		"readme":         readme,
		"spec":           readOptional(filepath.Join(reqDir, "SPEC.md")),
		"findings":       readOptional(filepath.Join(reqDir, "findings.md")),
		"itemized":       readOptional(filepath.Join(reqDir, "itemized-requirements.md")),
		"children":       children,
	}, nil
}

func stripTitle(content string) string {
	var kept []string
	for _, line := range strings.Split(content, "\n") {
		if !strings.HasPrefix(line, "# ") {
			kept = append(kept, line)
		}
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// FormatReport renders a Report result as markdown.
func FormatReport(data R) string {
	if msg, ok := data["error"].(string); ok {
		return "Error: " + msg
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# Requirement Report: %s\n\n## Status\n", data["title"])
	fmt.Fprintf(&b, "- **Stage:** %s\n- **Flow:** %s\n", data["stage"], data["flow_type"])
	fmt.Fprintf(&b, "- **Completion:** %v%% (%v/%v tasks)\n\n",
		data["completion_pct"], data["closed_count"], data["task_count"])

	if body := stripTitle(data["readme"].(string)); body != "" {
		fmt.Fprintf(&b, "## Problem\n\n%s\n\n", body)
	}
	if spec, _ := data["spec"].(string); spec != "" {
		fmt.Fprintf(&b, "## Specification\n\n%s\n\n", spec)
	}
	if itemized, _ := data["itemized"].(string); itemized != "" {
		fmt.Fprintf(&b, "## Itemized Requirements\n\n%s\n\n", itemized)
	}
	if findings, _ := data["findings"].(string); findings != "" {
		fmt.Fprintf(&b, "## Findings\n\n%s\n\n", findings)
	}

	children, _ := data["children"].([]R)
	if len(children) > 0 {
		b.WriteString("## Tasks\n\n")
		for _, child := range children {
			taskStatus := "no linked task"
			if linked, ok := child["tasks"].([]R); ok && len(linked) > 0 {
				var parts []string
				for _, t := range linked {
					parts = append(parts, fmt.Sprintf("%s [%s]",
						store.Str(t, "title"), store.Str(t, "status")))
				}
				taskStatus = strings.Join(parts, ", ")
			}
			fmt.Fprintf(&b, "### %s\n**Status:** %s\n\n", child["slug"], taskStatus)
			if readme, _ := child["readme"].(string); readme != "" {
				if body := stripTitle(readme); body != "" {
					b.WriteString(body + "\n\n")
				}
			}
		}
	}
	return b.String()
}
