package requirements

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ai-janitor/minion-factory-sub000/internal/store"
	"github.com/ai-janitor/minion-factory-sub000/internal/tasks"
	"github.com/ai-janitor/minion-factory-sub000/internal/workdir"
)

// DecomposeChild is one child definition in a decomposition spec.
type DecomposeChild struct {
	Slug        string `yaml:"slug"`
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	TaskType    string `yaml:"task_type"`
	BlockedBy   []int  `yaml:"blocked_by"`
}

// DecomposeSpec is the parsed decomposition spec file.
type DecomposeSpec struct {
	Children []DecomposeChild `yaml:"children"`
}

// LoadDecomposeSpec reads and validates a decomposition spec (YAML,
// which also covers JSON).
func LoadDecomposeSpec(specPath string) (*DecomposeSpec, error) {
	raw, err := os.ReadFile(specPath)
	if err != nil {
		return nil, err
	}
	var spec DecomposeSpec
	if err := yaml.Unmarshal(raw, &spec); err != nil {
		return nil, err
	}
	if len(spec.Children) == 0 {
		return nil, fmt.Errorf("spec file must contain a non-empty 'children' list")
	}
	for i, c := range spec.Children {
		if c.Slug == "" {
			return nil, fmt.Errorf("child %d missing required 'slug' field", i+1)
		}
		if c.Title == "" {
			return nil, fmt.Errorf("child %d missing required 'title' field", i+1)
		}
	}
	return &spec, nil
}

// decomposableStages are the parent stages decomposition may start
// from: decomposing itself plus stages whose alt edge leads there.
var decomposableStages = map[string]bool{
	"decomposing": true, "seed": true, "itemizing": true,
	"itemized": true, "investigating": true, "findings_ready": true,
}

// Decompose turns one spec into children: folder, README, registered
// requirement, created task, and linked task per child, then advances
// the parent to tasked. One command instead of five manual steps per
// child.
func Decompose(s *store.Store, parentPath string, spec *DecomposeSpec, agent string) (R, error) {
	if agent == "" {
		agent = "lead"
	}
	parentPath = strings.TrimSuffix(parentPath, "/")
	reqRoot := workdir.RequirementsRoot()

	parent, err := s.QueryMap(`SELECT id, stage FROM requirements WHERE file_path = ?`, parentPath)
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return errf("Parent requirement %q not found. Register it first.", parentPath), nil
	}
	if stage := store.Str(parent, "stage"); !decomposableStages[stage] {
		return errf("Parent is in stage %q, cannot decompose.", stage), nil
	}
	if !s.AgentExists(agent) {
		return errf("Agent %q not registered.", agent), nil
	}

	var created []R
	var taskIDs []int64
	for i, child := range spec.Children {
		description := child.Description
		if description == "" {
			description = child.Title
		}
		taskType := child.TaskType
		if taskType == "" {
			taskType = "feature"
		}

		childRel := fmt.Sprintf("%s/%03d-%s", parentPath, i+1, child.Slug)
		childAbs := filepath.Join(reqRoot, childRel)
		if err := os.MkdirAll(childAbs, 0o755); err != nil {
			return nil, err
		}
		readmePath := filepath.Join(childAbs, "README.md")
		if err := workdir.AtomicWriteFile(readmePath,
			fmt.Sprintf("# %s\n\n%s\n", child.Title, strings.TrimSpace(description))); err != nil {
			return nil, err
		}

		reg, err := Register(s, childRel, agent)
		if err != nil {
			return nil, err
		}
		if msg, ok := reg["error"].(string); ok {
			return errf("Failed to register child %q: %s", childRel, msg), nil
		}

		taskResult, err := tasks.CreateTask(s, agent, child.Title, readmePath, "", "", "", "", taskType)
		if err != nil {
			return nil, err
		}
		if msg, ok := taskResult["error"].(string); ok {
			return errf("Failed to create task for %q: %s", childRel, msg), nil
		}
		taskID := taskResult["task_id"].(int64)
		taskIDs = append(taskIDs, taskID)

		link, err := LinkTask(s, taskID, childRel)
		if err != nil {
			return nil, err
		}
		if msg, ok := link["error"].(string); ok {
			return errf("Failed to link task #%d to %q: %s", taskID, childRel, msg), nil
		}

		created = append(created, R{"path": childRel, "task_id": taskID, "title": child.Title})
	}

	// Sibling blockers reference 1-based child indexes.
	for i, child := range spec.Children {
		if len(child.BlockedBy) == 0 {
			continue
		}
		var blockers []string
		for _, ref := range child.BlockedBy {
			idx := ref - 1
			if idx < 0 || idx >= len(taskIDs) {
				return errf("Child %d has invalid blocked_by reference: %d (valid range: 1-%d)",
					i+1, ref, len(taskIDs)), nil
			}
			blockers = append(blockers, fmt.Sprintf("%d", taskIDs[idx]))
		}
		if _, err := s.DB.Exec(
			`UPDATE tasks SET blocked_by = ? WHERE id = ?`,
			strings.Join(blockers, ","), taskIDs[i]); err != nil {
			return nil, err
		}
	}

	stageResult, err := UpdateStage(s, parentPath, "tasked", true, agent)
	if err != nil {
		return nil, err
	}
	parentStage := "unknown"
	if v, ok := stageResult["to_stage"].(string); ok {
		parentStage = v
	} else if v, ok := stageResult["error"].(string); ok {
		parentStage = v
	}

	return R{
		"status":           "decomposed",
		"parent_path":      parentPath,
		"children_created": len(created),
		"tasks_created":    len(taskIDs),
		"children":         created,
		"parent_stage":     parentStage,
	}, nil
}

// ItemizeSpec is the parsed itemization spec file.
type ItemizeSpec struct {
	Items []string `yaml:"items"`
}

// LoadItemizeSpec reads and validates an itemization spec file.
func LoadItemizeSpec(specPath string) (*ItemizeSpec, error) {
	raw, err := os.ReadFile(specPath)
	if err != nil {
		return nil, err
	}
	var spec ItemizeSpec
	if err := yaml.Unmarshal(raw, &spec); err != nil {
		return nil, err
	}
	if len(spec.Items) == 0 {
		return nil, fmt.Errorf("spec file must contain a non-empty 'items' list")
	}
	for i, item := range spec.Items {
		if strings.TrimSpace(item) == "" {
			return nil, fmt.Errorf("item %d must be a non-empty string", i+1)
		}
	}
	return &spec, nil
}

// Itemize writes itemized-requirements.md as a numbered list and
// advances the requirement to itemized.
func Itemize(s *store.Store, filePath string, spec *ItemizeSpec, createdBy string) (R, error) {
	if createdBy == "" {
		createdBy = "lead"
	}
	filePath = strings.TrimSuffix(filePath, "/")

	row, err := s.QueryMap(`SELECT id, stage FROM requirements WHERE file_path = ?`, filePath)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return errf("Requirement %q not found. Register it first.", filePath), nil
	}
	if stage := store.Str(row, "stage"); stage != "seed" && stage != "itemizing" {
		return errf("Requirement is in stage %q, cannot itemize. Valid stages: itemizing, seed", stage), nil
	}
	if !s.AgentExists(createdBy) {
		return errf("Agent %q not registered.", createdBy), nil
	}

	reqDir := filepath.Join(workdir.RequirementsRoot(), filePath)
	if info, err := os.Stat(reqDir); err != nil || !info.IsDir() {
		return errf("Requirement folder %q does not exist on disk.", reqDir), nil
	}

	var b strings.Builder
	b.WriteString("# Itemized Requirements\n\n")
	for i, item := range spec.Items {
		fmt.Fprintf(&b, "%d. %s\n", i+1, strings.TrimSpace(item))
	}
	outputPath := filepath.Join(reqDir, "itemized-requirements.md")
	if err := workdir.AtomicWriteFile(outputPath, b.String()); err != nil {
		return nil, err
	}

	stageResult, err := UpdateStage(s, filePath, "itemized", false, createdBy)
	if err != nil {
		return nil, err
	}
	newStage := "unknown"
	if v, ok := stageResult["to_stage"].(string); ok {
		newStage = v
	} else if v, ok := stageResult["error"].(string); ok {
		newStage = v
	}
	return R{
		"status":        "itemized",
		"file_path":     filePath,
		"items_written": len(spec.Items),
		"output_file":   outputPath,
		"new_stage":     newStage,
	}, nil
}

// FindingsSpec carries investigation output for a bug requirement.
type FindingsSpec struct {
	RootCause      string   `yaml:"root_cause"`
	Evidence       []string `yaml:"evidence"`
	Recommendation string   `yaml:"recommendation"`
}

// Findings writes findings.md and advances the requirement to
// findings_ready.
func Findings(s *store.Store, filePath string, spec *FindingsSpec, createdBy string) (R, error) {
	if createdBy == "" {
		createdBy = "lead"
	}
	filePath = strings.TrimSuffix(filePath, "/")

	if spec.RootCause == "" {
		return errf("Spec missing required key: 'root_cause'"), nil
	}
	if len(spec.Evidence) == 0 {
		return errf("Spec 'evidence' must be a non-empty list."), nil
	}
	if spec.Recommendation == "" {
		return errf("Spec missing required key: 'recommendation'"), nil
	}

	row, err := s.QueryMap(`SELECT id FROM requirements WHERE file_path = ?`, filePath)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return errf("Requirement %q not found. Register it first.", filePath), nil
	}
	if !s.AgentExists(createdBy) {
		return errf("Agent %q not registered.", createdBy), nil
	}

	reqDir := filepath.Join(workdir.RequirementsRoot(), filePath)
	if info, err := os.Stat(reqDir); err != nil || !info.IsDir() {
		return errf("Requirement directory does not exist: %s", reqDir), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Root Cause\n\n%s\n\n## Evidence\n\n", spec.RootCause)
	for _, item := range spec.Evidence {
		fmt.Fprintf(&b, "- %s\n", item)
	}
	fmt.Fprintf(&b, "\n## Recommendation\n\n%s\n", spec.Recommendation)

	findingsPath := filepath.Join(reqDir, "findings.md")
	if err := workdir.AtomicWriteFile(findingsPath, b.String()); err != nil {
		return nil, err
	}

	stageResult, err := UpdateStage(s, filePath, "findings_ready", false, createdBy)
	if err != nil {
		return nil, err
	}
	stage := "unknown"
	if v, ok := stageResult["to_stage"].(string); ok {
		stage = v
	} else if v, ok := stageResult["error"].(string); ok {
		stage = v
	}
	return R{
		"status":        "findings_written",
		"path":          filePath,
		"findings_file": findingsPath,
		"stage":         stage,
	}, nil
}
