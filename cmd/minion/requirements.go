package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ai-janitor/minion-factory-sub000/internal/requirements"
	"github.com/ai-janitor/minion-factory-sub000/internal/workdir"
)

var reqCmd = &cobra.Command{
	Use:     "req",
	GroupID: "planning",
	Short:   "Requirement tree: register, stage, decompose, link tasks",
}

var reqCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Scaffold a requirement folder and register it at seed",
	Run: func(cmd *cobra.Command, args []string) {
		path, _ := cmd.Flags().GetString("path")
		title, _ := cmd.Flags().GetString("title")
		description, _ := cmd.Flags().GetString("description")
		agent, _ := cmd.Flags().GetString("agent")
		s := openStore()
		defer s.Close()
		emit(requirements.Create(s, path, title, description, agent))
	},
}

var reqRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register an existing requirement folder",
	Run: func(cmd *cobra.Command, args []string) {
		path, _ := cmd.Flags().GetString("path")
		agent, _ := cmd.Flags().GetString("agent")
		flowType, _ := cmd.Flags().GetString("flow")
		s := openStore()
		defer s.Close()
		if flowType != "" {
			emit(requirements.RegisterWithFlow(s, path, agent, flowType))
			return
		}
		emit(requirements.Register(s, path, agent))
	},
}

var reqReindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the requirements index from folders on disk",
	Run: func(cmd *cobra.Command, args []string) {
		s := openStore()
		defer s.Close()
		emit(requirements.Reindex(s, workdir.RequirementsRoot()))
	},
}

var reqUpdateStageCmd = &cobra.Command{
	Use:   "update-stage",
	Short: "Advance a requirement through its lifecycle flow",
	Run: func(cmd *cobra.Command, args []string) {
		path, _ := cmd.Flags().GetString("path")
		toStage, _ := cmd.Flags().GetString("to-stage")
		skip, _ := cmd.Flags().GetBool("skip")
		agent, _ := cmd.Flags().GetString("agent")
		s := openStore()
		defer s.Close()
		emit(requirements.UpdateStage(s, path, toStage, skip, agent))
	},
}

var reqLinkTaskCmd = &cobra.Command{
	Use:   "link-task",
	Short: "Link an implementation task to a requirement",
	Run: func(cmd *cobra.Command, args []string) {
		taskID, _ := cmd.Flags().GetInt64("task-id")
		path, _ := cmd.Flags().GetString("path")
		s := openStore()
		defer s.Close()
		emit(requirements.LinkTask(s, taskID, path))
	},
}

var reqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List requirements with filters",
	Run: func(cmd *cobra.Command, args []string) {
		stage, _ := cmd.Flags().GetString("stage")
		origin, _ := cmd.Flags().GetString("origin")
		s := openStore()
		defer s.Close()
		emit(requirements.List(s, stage, origin))
	},
}

var reqStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show one requirement with its children and linked tasks",
	Run: func(cmd *cobra.Command, args []string) {
		path, _ := cmd.Flags().GetString("path")
		s := openStore()
		defer s.Close()
		emit(requirements.Status(s, path))
	},
}

var reqTreeCmd = &cobra.Command{
	Use:   "tree",
	Short: "Render a requirement's subtree with stages",
	Run: func(cmd *cobra.Command, args []string) {
		path, _ := cmd.Flags().GetString("path")
		s := openStore()
		defer s.Close()
		emit(requirements.Tree(s, path))
	},
}

var reqOrphansCmd = &cobra.Command{
	Use:   "orphans",
	Short: "List requirement folders on disk that are not registered",
	Run: func(cmd *cobra.Command, args []string) {
		s := openStore()
		defer s.Close()
		emit(requirements.Orphans(s))
	},
}

var reqUnlinkedTasksCmd = &cobra.Command{
	Use:   "unlinked-tasks",
	Short: "List tasks not linked to any requirement",
	Run: func(cmd *cobra.Command, args []string) {
		s := openStore()
		defer s.Close()
		emit(requirements.UnlinkedTasks(s))
	},
}

var reqDecomposeCmd = &cobra.Command{
	Use:   "decompose",
	Short: "Split a requirement into child requirements from a spec file",
	Run: func(cmd *cobra.Command, args []string) {
		path, _ := cmd.Flags().GetString("path")
		specFile, _ := cmd.Flags().GetString("spec-file")
		agent, _ := cmd.Flags().GetString("agent")
		spec, err := requirements.LoadDecomposeSpec(specFile)
		if err != nil {
			emit(R{"error": fmt.Sprintf("Bad decompose spec: %v", err)}, nil)
			return
		}
		s := openStore()
		defer s.Close()
		emit(requirements.Decompose(s, path, spec, agent))
	},
}

var reqItemizeCmd = &cobra.Command{
	Use:   "itemize",
	Short: "Write the itemized requirement list from a spec file",
	Run: func(cmd *cobra.Command, args []string) {
		path, _ := cmd.Flags().GetString("path")
		specFile, _ := cmd.Flags().GetString("spec-file")
		agent, _ := cmd.Flags().GetString("agent")
		spec, err := requirements.LoadItemizeSpec(specFile)
		if err != nil {
			emit(R{"error": fmt.Sprintf("Bad itemize spec: %v", err)}, nil)
			return
		}
		s := openStore()
		defer s.Close()
		emit(requirements.Itemize(s, path, spec, agent))
	},
}

var reqFindingsCmd = &cobra.Command{
	Use:   "findings",
	Short: "File investigation findings for a bug requirement",
	Run: func(cmd *cobra.Command, args []string) {
		path, _ := cmd.Flags().GetString("path")
		specFile, _ := cmd.Flags().GetString("spec-file")
		agent, _ := cmd.Flags().GetString("agent")
		raw, err := os.ReadFile(specFile)
		if err != nil {
			emit(R{"error": fmt.Sprintf("Bad findings spec: %v", err)}, nil)
			return
		}
		var spec requirements.FindingsSpec
		if err := yaml.Unmarshal(raw, &spec); err != nil {
			emit(R{"error": fmt.Sprintf("Bad findings spec: %v", err)}, nil)
			return
		}
		s := openStore()
		defer s.Close()
		emit(requirements.Findings(s, path, &spec, agent))
	},
}

var reqReportCmd = &cobra.Command{
	Use:   "report",
	Short: "Rollup report: stage counts and task health under a requirement",
	Run: func(cmd *cobra.Command, args []string) {
		path, _ := cmd.Flags().GetString("path")
		human, _ := cmd.Flags().GetBool("human")
		s := openStore()
		defer s.Close()
		result, err := requirements.Report(s, path)
		if err == nil && human && result["error"] == nil {
			fmt.Println(requirements.FormatReport(result))
			return
		}
		emit(result, err)
	},
}

func reqPathFlag(cmd *cobra.Command) {
	cmd.Flags().String("path", "", "requirement path relative to the requirements root")
	cmd.MarkFlagRequired("path")
}

func init() {
	reqPathFlag(reqCreateCmd)
	reqCreateCmd.Flags().String("title", "", "requirement title")
	reqCreateCmd.Flags().String("description", "", "requirement description")
	reqCreateCmd.Flags().String("agent", "", "creating agent")
	reqCreateCmd.MarkFlagRequired("title")
	reqCreateCmd.MarkFlagRequired("agent")

	reqPathFlag(reqRegisterCmd)
	reqRegisterCmd.Flags().String("agent", "", "registering agent")
	reqRegisterCmd.Flags().String("flow", "", "lifecycle flow type (default: requirement)")
	reqRegisterCmd.MarkFlagRequired("agent")

	reqPathFlag(reqUpdateStageCmd)
	reqUpdateStageCmd.Flags().String("to-stage", "", "target stage (empty follows the happy path)")
	reqUpdateStageCmd.Flags().Bool("skip", false, "skip a skippable stage")
	reqUpdateStageCmd.Flags().String("agent", "", "acting agent")
	reqUpdateStageCmd.MarkFlagRequired("agent")

	reqLinkTaskCmd.Flags().Int64("task-id", 0, "task id")
	reqLinkTaskCmd.MarkFlagRequired("task-id")
	reqPathFlag(reqLinkTaskCmd)

	reqListCmd.Flags().String("stage", "", "stage filter")
	reqListCmd.Flags().String("origin", "", "origin filter (roadmap, bug, feedback)")

	reqPathFlag(reqStatusCmd)
	reqPathFlag(reqTreeCmd)

	reqPathFlag(reqDecomposeCmd)
	reqDecomposeCmd.Flags().String("spec-file", "", "YAML spec listing the children")
	reqDecomposeCmd.Flags().String("agent", "", "decomposing agent")
	reqDecomposeCmd.MarkFlagRequired("spec-file")
	reqDecomposeCmd.MarkFlagRequired("agent")

	reqPathFlag(reqItemizeCmd)
	reqItemizeCmd.Flags().String("spec-file", "", "YAML spec with an items list")
	reqItemizeCmd.Flags().String("agent", "", "itemizing agent")
	reqItemizeCmd.MarkFlagRequired("spec-file")
	reqItemizeCmd.MarkFlagRequired("agent")

	reqPathFlag(reqFindingsCmd)
	reqFindingsCmd.Flags().String("spec-file", "", "YAML spec with root_cause, evidence, recommendation")
	reqFindingsCmd.Flags().String("agent", "", "investigating agent")
	reqFindingsCmd.MarkFlagRequired("spec-file")
	reqFindingsCmd.MarkFlagRequired("agent")

	reqPathFlag(reqReportCmd)
	reqReportCmd.Flags().Bool("human", false, "render a readable report instead of JSON")

	reqCmd.AddCommand(reqCreateCmd, reqRegisterCmd, reqReindexCmd,
		reqUpdateStageCmd, reqLinkTaskCmd, reqListCmd, reqStatusCmd, reqTreeCmd,
		reqOrphansCmd, reqUnlinkedTasksCmd, reqDecomposeCmd, reqItemizeCmd,
		reqFindingsCmd, reqReportCmd)
	rootCmd.AddCommand(reqCmd)
}
