package tasks

import (
	"encoding/json"

	"github.com/ai-janitor/minion-factory-sub000/internal/store"
)

// AddComment attaches a comment to a task; the phase is whatever the
// task's status is right now.
func AddComment(s *store.Store, agent string, taskID int64, comment string, filesRead []string) (R, error) {
	task, err := s.QueryMap(`SELECT id, status FROM tasks WHERE id = ?`, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return errf("Task #%d not found.", taskID), nil
	}
	phase := store.Str(task, "status")

	var filesVal any
	if len(filesRead) > 0 {
		raw, _ := json.Marshal(filesRead)
		filesVal = string(raw)
	}
	res, err := s.DB.Exec(
		`INSERT INTO task_comments (task_id, agent_name, phase, comment, files_read, created_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		taskID, agent, phase, comment, filesVal, store.NowISO())
	if err != nil {
		return nil, err
	}
	id, _ := res.LastInsertId()
	return R{"status": "added", "comment_id": id, "task_id": taskID, "phase": phase, "agent": agent}, nil
}

// ListComments returns a task's comments in time order.
func ListComments(s *store.Store, taskID int64) (R, error) {
	task, err := s.QueryMap(`SELECT id FROM tasks WHERE id = ?`, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return errf("Task #%d not found.", taskID), nil
	}
	comments, err := listCommentRows(s, taskID)
	if err != nil {
		return nil, err
	}
	return R{"task_id": taskID, "comments": comments, "count": len(comments)}, nil
}

func listCommentRows(s *store.Store, taskID int64) ([]R, error) {
	rows, err := s.QueryMaps(
		`SELECT id, agent_name, phase, comment, files_read, created_at
         FROM task_comments WHERE task_id = ? ORDER BY created_at ASC`,
		taskID)
	if err != nil {
		return nil, err
	}
	for _, c := range rows {
		if raw := store.Str(c, "files_read"); raw != "" {
			var files []string
			if json.Unmarshal([]byte(raw), &files) == nil {
				c["files_read"] = files
			}
		}
	}
	return rows, nil
}
