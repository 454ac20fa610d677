package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/ai-janitor/minion-factory-sub000/internal/tasks"
)

var createTaskCmd = &cobra.Command{
	Use:     "create-task",
	GroupID: "tasks",
	Short:   "Create a new task with a spec file. Lead only",
	Run: func(cmd *cobra.Command, args []string) {
		requireClass("lead")
		agent, _ := cmd.Flags().GetString("agent")
		title, _ := cmd.Flags().GetString("title")
		taskFile, _ := cmd.Flags().GetString("task-file")
		project, _ := cmd.Flags().GetString("project")
		zone, _ := cmd.Flags().GetString("zone")
		blockedBy, _ := cmd.Flags().GetString("blocked-by")
		classRequired, _ := cmd.Flags().GetString("class-required")
		taskType, _ := cmd.Flags().GetString("type")
		s := openStore()
		defer s.Close()
		emit(tasks.CreateTask(s, agent, title, taskFile, project, zone, blockedBy, classRequired, taskType))
	},
}

var defineTaskCmd = &cobra.Command{
	Use:     "define-task",
	GroupID: "tasks",
	Short:   "Create a task from an inline description, no spec file needed",
	Run: func(cmd *cobra.Command, args []string) {
		agent, _ := cmd.Flags().GetString("agent")
		title, _ := cmd.Flags().GetString("title")
		description, _ := cmd.Flags().GetString("description")
		taskType, _ := cmd.Flags().GetString("type")
		project, _ := cmd.Flags().GetString("project")
		zone, _ := cmd.Flags().GetString("zone")
		blockedBy, _ := cmd.Flags().GetString("blocked-by")
		classRequired, _ := cmd.Flags().GetString("class-required")
		s := openStore()
		defer s.Close()
		emit(tasks.DefineTask(s, agent, title, description, taskType, project, zone, blockedBy, classRequired))
	},
}

var assignTaskCmd = &cobra.Command{
	Use:     "assign-task",
	GroupID: "tasks",
	Short:   "Assign a task to an agent. Lead only",
	Run: func(cmd *cobra.Command, args []string) {
		requireClass("lead")
		agent, _ := cmd.Flags().GetString("agent")
		taskID, _ := cmd.Flags().GetInt64("task-id")
		assignedTo, _ := cmd.Flags().GetString("assigned-to")
		s := openStore()
		defer s.Close()
		emit(tasks.AssignTask(s, agent, taskID, assignedTo))
	},
}

var updateTaskCmd = &cobra.Command{
	Use:     "update-task",
	GroupID: "tasks",
	Short:   "Update a task's status, progress, or files",
	Run: func(cmd *cobra.Command, args []string) {
		agent, _ := cmd.Flags().GetString("agent")
		taskID, _ := cmd.Flags().GetInt64("task-id")
		status, _ := cmd.Flags().GetString("status")
		progress, _ := cmd.Flags().GetString("progress")
		files, _ := cmd.Flags().GetString("files")
		s := openStore()
		defer s.Close()
		emit(tasks.UpdateTask(s, agent, taskID, status, progress, files))
	},
}

var transitionCmd = &cobra.Command{
	Use:     "transition <task-id> <to-status>",
	GroupID: "tasks",
	Short:   "Manually transition a task to a new status",
	Args:    cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		taskID := parseID(args[0])
		agent, _ := cmd.Flags().GetString("agent")
		s := openStore()
		defer s.Close()
		emit(tasks.UpdateTask(s, agent, taskID, args[1], "", ""))
	},
}

var getTasksCmd = &cobra.Command{
	Use:     "get-tasks",
	GroupID: "tasks",
	Short:   "List tasks with filters",
	Run: func(cmd *cobra.Command, args []string) {
		status, _ := cmd.Flags().GetString("status")
		project, _ := cmd.Flags().GetString("project")
		zone, _ := cmd.Flags().GetString("zone")
		assignedTo, _ := cmd.Flags().GetString("assigned-to")
		classRequired, _ := cmd.Flags().GetString("class-required")
		count, _ := cmd.Flags().GetInt("count")
		s := openStore()
		defer s.Close()
		emit(tasks.GetTasks(s, status, project, zone, assignedTo, classRequired, count))
	},
}

var getTaskCmd = &cobra.Command{
	Use:     "get-task",
	GroupID: "tasks",
	Short:   "Get full detail for a single task",
	Run: func(cmd *cobra.Command, args []string) {
		taskID, _ := cmd.Flags().GetInt64("task-id")
		s := openStore()
		defer s.Close()
		emit(tasks.GetTask(s, taskID))
	},
}

var getSpecCmd = &cobra.Command{
	Use:     "get-spec",
	GroupID: "tasks",
	Short:   "Read a task's spec file contents",
	Run: func(cmd *cobra.Command, args []string) {
		taskID, _ := cmd.Flags().GetInt64("task-id")
		s := openStore()
		defer s.Close()
		emit(tasks.GetSpec(s, taskID))
	},
}

var taskLineageCmd = &cobra.Command{
	Use:     "task-lineage",
	GroupID: "tasks",
	Short:   "Show task DAG history and who worked each stage",
	Run: func(cmd *cobra.Command, args []string) {
		taskID, _ := cmd.Flags().GetInt64("task-id")
		dag, _ := cmd.Flags().GetBool("dag")
		s := openStore()
		defer s.Close()
		if dag {
			emit(tasks.RenderLineageDAG(s, taskID))
			return
		}
		emit(tasks.Lineage(s, taskID))
	},
}

var submitResultCmd = &cobra.Command{
	Use:     "submit-result",
	GroupID: "tasks",
	Short:   "Submit a result file for a task",
	Run: func(cmd *cobra.Command, args []string) {
		agent, _ := cmd.Flags().GetString("agent")
		taskID, _ := cmd.Flags().GetInt64("task-id")
		resultFile, _ := cmd.Flags().GetString("result-file")
		s := openStore()
		defer s.Close()
		emit(tasks.SubmitResult(s, agent, taskID, resultFile))
	},
}

var closeTaskCmd = &cobra.Command{
	Use:     "close-task",
	GroupID: "tasks",
	Short:   "Close a completed task. Lead only",
	Run: func(cmd *cobra.Command, args []string) {
		requireClass("lead")
		agent, _ := cmd.Flags().GetString("agent")
		taskID, _ := cmd.Flags().GetInt64("task-id")
		contextDir, _ := cmd.Flags().GetString("context-dir")
		s := openStore()
		defer s.Close()
		emit(tasks.CloseTask(s, agent, taskID, contextDir))
	},
}

var doneTaskCmd = &cobra.Command{
	Use:     "done-task",
	GroupID: "tasks",
	Short:   "One-shot finish: result artifact plus DAG-routed completion",
	Run: func(cmd *cobra.Command, args []string) {
		agent, _ := cmd.Flags().GetString("agent")
		taskID, _ := cmd.Flags().GetInt64("task-id")
		summary, _ := cmd.Flags().GetString("summary")
		contextDir, _ := cmd.Flags().GetString("context-dir")
		s := openStore()
		defer s.Close()
		emit(tasks.DoneTask(s, agent, taskID, summary, contextDir))
	},
}

var reopenTaskCmd = &cobra.Command{
	Use:     "reopen-task",
	GroupID: "tasks",
	Short:   "Reopen a closed or dead-end task",
	Run: func(cmd *cobra.Command, args []string) {
		agent, _ := cmd.Flags().GetString("agent")
		taskID, _ := cmd.Flags().GetInt64("task-id")
		toStatus, _ := cmd.Flags().GetString("to-status")
		s := openStore()
		defer s.Close()
		emit(tasks.ReopenTask(s, agent, taskID, toStatus))
	},
}

var pullTaskCmd = &cobra.Command{
	Use:     "pull-task",
	GroupID: "tasks",
	Short:   "Claim a specific actionable task by ID",
	Run: func(cmd *cobra.Command, args []string) {
		agent, _ := cmd.Flags().GetString("agent")
		taskID, _ := cmd.Flags().GetInt64("task-id")
		s := openStore()
		defer s.Close()
		emit(tasks.PullTask(s, agent, taskID))
	},
}

var completeTaskCmd = &cobra.Command{
	Use:     "complete-task",
	GroupID: "tasks",
	Short:   "DAG-routed task completion",
	Run: func(cmd *cobra.Command, args []string) {
		agent, _ := cmd.Flags().GetString("agent")
		taskID, _ := cmd.Flags().GetInt64("task-id")
		failed, _ := cmd.Flags().GetBool("failed")
		reason, _ := cmd.Flags().GetString("reason")
		contextDir, _ := cmd.Flags().GetString("context-dir")
		s := openStore()
		defer s.Close()
		emit(tasks.CompletePhase(s, agent, taskID, !failed, reason, contextDir))
	},
}

var checkGatesCmd = &cobra.Command{
	Use:     "check-gates",
	GroupID: "tasks",
	Short:   "Check the gates guarding a task's next transition",
	Run: func(cmd *cobra.Command, args []string) {
		taskID, _ := cmd.Flags().GetInt64("task-id")
		contextDir, _ := cmd.Flags().GetString("context-dir")
		s := openStore()
		defer s.Close()
		emit(tasks.CheckGates(s, taskID, contextDir))
	},
}

var createResultCmd = &cobra.Command{
	Use:     "create-result",
	GroupID: "tasks",
	Short:   "Write a result artifact for a task",
	Run: func(cmd *cobra.Command, args []string) {
		agent, _ := cmd.Flags().GetString("agent")
		taskID, _ := cmd.Flags().GetInt64("task-id")
		summary, _ := cmd.Flags().GetString("summary")
		filesChanged, _ := cmd.Flags().GetString("files-changed")
		notes, _ := cmd.Flags().GetString("notes")
		contextDir, _ := cmd.Flags().GetString("context-dir")
		s := openStore()
		defer s.Close()
		emit(tasks.CreateResult(s, agent, taskID, summary, filesChanged, notes, contextDir))
	},
}

var createReviewCmd = &cobra.Command{
	Use:     "create-review",
	GroupID: "tasks",
	Short:   "Write a review artifact for a task",
	Run: func(cmd *cobra.Command, args []string) {
		agent, _ := cmd.Flags().GetString("agent")
		taskID, _ := cmd.Flags().GetInt64("task-id")
		verdict, _ := cmd.Flags().GetString("verdict")
		notes, _ := cmd.Flags().GetString("notes")
		contextDir, _ := cmd.Flags().GetString("context-dir")
		s := openStore()
		defer s.Close()
		emit(tasks.CreateReview(s, agent, taskID, verdict, notes, contextDir))
	},
}

var createTestReportCmd = &cobra.Command{
	Use:     "create-test-report",
	GroupID: "tasks",
	Short:   "Write a test report artifact for a task",
	Run: func(cmd *cobra.Command, args []string) {
		agent, _ := cmd.Flags().GetString("agent")
		taskID, _ := cmd.Flags().GetInt64("task-id")
		failed, _ := cmd.Flags().GetBool("failed")
		output, _ := cmd.Flags().GetString("output")
		notes, _ := cmd.Flags().GetString("notes")
		contextDir, _ := cmd.Flags().GetString("context-dir")
		s := openStore()
		defer s.Close()
		emit(tasks.CreateTestReport(s, agent, taskID, !failed, output, notes, contextDir))
	},
}

var blockTaskCmd = &cobra.Command{
	Use:     "block-task",
	GroupID: "tasks",
	Short:   "Mark a task blocked with a reason",
	Run: func(cmd *cobra.Command, args []string) {
		agent, _ := cmd.Flags().GetString("agent")
		taskID, _ := cmd.Flags().GetInt64("task-id")
		reason, _ := cmd.Flags().GetString("reason")
		s := openStore()
		defer s.Close()
		emit(tasks.BlockTask(s, agent, taskID, reason))
	},
}

var addCommentCmd = &cobra.Command{
	Use:     "add-comment",
	GroupID: "tasks",
	Short:   "Append a comment to a task's activity feed",
	Run: func(cmd *cobra.Command, args []string) {
		agent, _ := cmd.Flags().GetString("agent")
		taskID, _ := cmd.Flags().GetInt64("task-id")
		comment, _ := cmd.Flags().GetString("comment")
		filesRead, _ := cmd.Flags().GetString("files-read")
		var files []string
		for _, f := range strings.Split(filesRead, ",") {
			if f = strings.TrimSpace(f); f != "" {
				files = append(files, f)
			}
		}
		s := openStore()
		defer s.Close()
		emit(tasks.AddComment(s, agent, taskID, comment, files))
	},
}

var getCommentsCmd = &cobra.Command{
	Use:     "get-comments",
	GroupID: "tasks",
	Short:   "List a task's comments, oldest first",
	Run: func(cmd *cobra.Command, args []string) {
		taskID, _ := cmd.Flags().GetInt64("task-id")
		s := openStore()
		defer s.Close()
		emit(tasks.ListComments(s, taskID))
	},
}

func taskIDFlag(cmd *cobra.Command) {
	cmd.Flags().Int64("task-id", 0, "task id")
	cmd.MarkFlagRequired("task-id")
}

func agentFlag(cmd *cobra.Command) {
	cmd.Flags().String("agent", "", "acting agent")
	cmd.MarkFlagRequired("agent")
}

func contextDirFlag(cmd *cobra.Command) {
	cmd.Flags().String("context-dir", "", "artifact directory (default: work dir)")
}

func init() {
	agentFlag(createTaskCmd)
	createTaskCmd.Flags().String("title", "", "task title")
	createTaskCmd.Flags().String("task-file", "", "path to the spec file")
	createTaskCmd.Flags().String("project", "", "project id")
	createTaskCmd.Flags().String("zone", "", "zone of responsibility")
	createTaskCmd.Flags().String("blocked-by", "", "comma-separated blocking task ids")
	createTaskCmd.Flags().String("class-required", "", "agent class required (coder, builder, recon, ...)")
	createTaskCmd.Flags().String("type", "bugfix", "task flow type")
	createTaskCmd.MarkFlagRequired("title")
	createTaskCmd.MarkFlagRequired("task-file")

	agentFlag(defineTaskCmd)
	defineTaskCmd.Flags().String("title", "", "task title")
	defineTaskCmd.Flags().String("description", "", "inline task description")
	defineTaskCmd.Flags().String("type", "bugfix", "task flow type")
	defineTaskCmd.Flags().String("project", "", "project id")
	defineTaskCmd.Flags().String("zone", "", "zone of responsibility")
	defineTaskCmd.Flags().String("blocked-by", "", "comma-separated blocking task ids")
	defineTaskCmd.Flags().String("class-required", "", "agent class required")
	defineTaskCmd.MarkFlagRequired("title")
	defineTaskCmd.MarkFlagRequired("description")

	agentFlag(assignTaskCmd)
	taskIDFlag(assignTaskCmd)
	assignTaskCmd.Flags().String("assigned-to", "", "agent receiving the task")
	assignTaskCmd.MarkFlagRequired("assigned-to")

	agentFlag(updateTaskCmd)
	taskIDFlag(updateTaskCmd)
	updateTaskCmd.Flags().String("status", "", "new status (flow-validated)")
	updateTaskCmd.Flags().String("progress", "", "progress note")
	updateTaskCmd.Flags().String("files", "", "comma-separated touched files")

	agentFlag(transitionCmd)

	getTasksCmd.Flags().String("status", "", "status filter")
	getTasksCmd.Flags().String("project", "", "project filter")
	getTasksCmd.Flags().String("zone", "", "zone filter")
	getTasksCmd.Flags().String("assigned-to", "", "assignee filter")
	getTasksCmd.Flags().String("class-required", "", "required class filter")
	getTasksCmd.Flags().Int("count", 50, "max rows")

	taskIDFlag(getTaskCmd)
	taskIDFlag(getSpecCmd)
	taskIDFlag(taskLineageCmd)
	taskLineageCmd.Flags().Bool("dag", false, "render the lineage as an ASCII DAG")

	agentFlag(submitResultCmd)
	taskIDFlag(submitResultCmd)
	submitResultCmd.Flags().String("result-file", "", "path to the result file")
	submitResultCmd.MarkFlagRequired("result-file")

	agentFlag(closeTaskCmd)
	taskIDFlag(closeTaskCmd)
	contextDirFlag(closeTaskCmd)

	agentFlag(doneTaskCmd)
	taskIDFlag(doneTaskCmd)
	doneTaskCmd.Flags().String("summary", "", "what was done")
	doneTaskCmd.MarkFlagRequired("summary")
	contextDirFlag(doneTaskCmd)

	agentFlag(reopenTaskCmd)
	taskIDFlag(reopenTaskCmd)
	reopenTaskCmd.Flags().String("to-status", "", "stage to reopen into (default: flow entry)")

	agentFlag(pullTaskCmd)
	taskIDFlag(pullTaskCmd)

	agentFlag(completeTaskCmd)
	taskIDFlag(completeTaskCmd)
	completeTaskCmd.Flags().Bool("failed", false, "route to the fail branch of the DAG")
	completeTaskCmd.Flags().String("reason", "", "failure reason (required with --failed)")
	contextDirFlag(completeTaskCmd)

	taskIDFlag(checkGatesCmd)
	contextDirFlag(checkGatesCmd)

	agentFlag(createResultCmd)
	taskIDFlag(createResultCmd)
	createResultCmd.Flags().String("summary", "", "what was done")
	createResultCmd.Flags().String("files-changed", "", "comma-separated changed files")
	createResultCmd.Flags().String("notes", "", "free-form notes")
	createResultCmd.MarkFlagRequired("summary")
	contextDirFlag(createResultCmd)

	agentFlag(createReviewCmd)
	taskIDFlag(createReviewCmd)
	createReviewCmd.Flags().String("verdict", "", "approve or reject")
	createReviewCmd.Flags().String("notes", "", "review notes")
	createReviewCmd.MarkFlagRequired("verdict")
	contextDirFlag(createReviewCmd)

	agentFlag(createTestReportCmd)
	taskIDFlag(createTestReportCmd)
	createTestReportCmd.Flags().Bool("failed", false, "tests failed")
	createTestReportCmd.Flags().String("output", "", "test runner output")
	createTestReportCmd.Flags().String("notes", "", "free-form notes")
	contextDirFlag(createTestReportCmd)

	agentFlag(blockTaskCmd)
	taskIDFlag(blockTaskCmd)
	blockTaskCmd.Flags().String("reason", "", "why the task is blocked")
	blockTaskCmd.MarkFlagRequired("reason")

	agentFlag(addCommentCmd)
	taskIDFlag(addCommentCmd)
	addCommentCmd.Flags().String("comment", "", "comment text")
	addCommentCmd.Flags().String("files-read", "", "comma-separated files consulted")
	addCommentCmd.MarkFlagRequired("comment")

	taskIDFlag(getCommentsCmd)

	rootCmd.AddCommand(createTaskCmd, defineTaskCmd, assignTaskCmd, updateTaskCmd,
		transitionCmd, getTasksCmd, getTaskCmd, getSpecCmd, taskLineageCmd,
		submitResultCmd, closeTaskCmd, doneTaskCmd, reopenTaskCmd, pullTaskCmd,
		completeTaskCmd, checkGatesCmd, createResultCmd, createReviewCmd,
		createTestReportCmd, blockTaskCmd, addCommentCmd, getCommentsCmd)
}
