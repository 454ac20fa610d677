package tasks

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ai-janitor/minion-factory-sub000/internal/store"
	"github.com/ai-janitor/minion-factory-sub000/internal/workdir"
)

// artifactPath builds .work/<kind>/TASK-<id>-<suffix>.md, creating the
// directory on the way.
func artifactPath(kind string, taskID int64, suffix string) string {
	dir := filepath.Join(workdir.WorkDir(), kind)
	os.MkdirAll(dir, 0o755)
	return filepath.Join(dir, fmt.Sprintf("TASK-%d-%s.md", taskID, suffix))
}

// CreateResult writes a result markdown file, submits it, and advances
// the phase in one step.
func CreateResult(s *store.Store, agent string, taskID int64, summary, filesChanged, notes, contextDir string) (R, error) {
	resultFile := artifactPath("results", taskID, "result")

	var b strings.Builder
	fmt.Fprintf(&b, "# Result for Task #%d\n\n## Summary\n\n%s\n\n## Files Changed\n\n", taskID, summary)
	wrote := false
	for _, f := range strings.Split(filesChanged, ",") {
		if f = strings.TrimSpace(f); f != "" {
			fmt.Fprintf(&b, "- `%s`\n", f)
			wrote = true
		}
	}
	if !wrote {
		b.WriteString("_None specified._\n")
	}
	b.WriteString("\n## Notes\n\n")
	if strings.TrimSpace(notes) != "" {
		b.WriteString(notes + "\n")
	} else {
		b.WriteString("_No additional notes._\n")
	}
	if err := workdir.AtomicWriteFile(resultFile, b.String()); err != nil {
		return nil, err
	}

	result, err := SubmitResult(s, agent, taskID, resultFile)
	if err != nil || result["error"] != nil {
		return result, err
	}
	phase, perr := CompletePhase(s, agent, taskID, true, "", contextDir)
	if perr != nil {
		result["phase_warning"] = perr.Error()
	} else if msg, ok := phase["error"].(string); ok {
		result["phase_warning"] = msg
	} else {
		result["phase_advanced"] = phase["to_status"]
	}
	return result, nil
}

// CreateReview writes a review verdict file and advances the phase,
// pass taking the happy edge and fail the fail edge.
func CreateReview(s *store.Store, agent string, taskID int64, verdict, notes, contextDir string) (R, error) {
	if verdict != "pass" && verdict != "fail" {
		return errf("Invalid verdict %q. Must be 'pass' or 'fail'.", verdict), nil
	}
	reviewFile := artifactPath("reviews", taskID, "review")

	var b strings.Builder
	fmt.Fprintf(&b, "## Review for Task #%d\n\n**Verdict:** %s\n**Reviewer:** %s\n\n", taskID, verdict, agent)
	if notes != "" {
		fmt.Fprintf(&b, "## Notes\n\n%s\n", notes)
	}
	if err := workdir.AtomicWriteFile(reviewFile, b.String()); err != nil {
		return nil, err
	}

	result, err := CompletePhase(s, agent, taskID, verdict == "pass", "", contextDir)
	if err != nil {
		return nil, err
	}
	result["review_file"] = reviewFile
	return result, nil
}

// BlockTask writes a block report and transitions the task to blocked.
func BlockTask(s *store.Store, agent string, taskID int64, reason string) (R, error) {
	reportFile := artifactPath("blocks", taskID, "block")
	now := store.NowISO()
	report := fmt.Sprintf(
		"## Block Report for Task #%d\n\n**Reason:** %s\n\n**Blocked by:** %s\n\n**Date:** %s\n",
		taskID, reason, agent, now)
	if err := workdir.AtomicWriteFile(reportFile, report); err != nil {
		return nil, err
	}

	update, err := UpdateTask(s, agent, taskID, "blocked", "BLOCKED: "+reason, "")
	if err != nil {
		return nil, err
	}
	return R{
		"status":        "blocked",
		"task_id":       taskID,
		"block_report":  reportFile,
		"reason":        reason,
		"agent":         agent,
		"timestamp":     now,
		"update_result": update,
	}, nil
}

// CreateTestReport writes a test report and advances the phase with
// the test outcome.
func CreateTestReport(s *store.Store, agent string, taskID int64, passed bool, output, notes, contextDir string) (R, error) {
	reportFile := artifactPath("test-reports", taskID, "test")

	verdict := "PASSED"
	if !passed {
		verdict = "FAILED"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "## Test Report for Task #%d\n\n**Result:** %s\n**Agent:** %s\n\n", taskID, verdict, agent)
	if output != "" {
		fmt.Fprintf(&b, "## Output\n\n```\n%s\n```\n\n", output)
	}
	if notes != "" {
		fmt.Fprintf(&b, "## Notes\n\n%s\n", notes)
	}
	if err := workdir.AtomicWriteFile(reportFile, b.String()); err != nil {
		return nil, err
	}

	result, err := CompletePhase(s, agent, taskID, passed, "", contextDir)
	if err != nil {
		return nil, err
	}
	result["test_report"] = reportFile
	return result, nil
}
