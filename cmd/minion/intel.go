package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/ai-janitor/minion-factory-sub000/internal/intel"
)

var intelCmd = &cobra.Command{
	Use:     "intel",
	GroupID: "planning",
	Short:   "Intel docs: durable knowledge indexed for agents",
}

var intelAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register an intel doc, optionally scaffolding the file",
	Run: func(cmd *cobra.Command, args []string) {
		slug, _ := cmd.Flags().GetString("slug")
		path, _ := cmd.Flags().GetString("path")
		tagsCSV, _ := cmd.Flags().GetString("tags")
		description, _ := cmd.Flags().GetString("description")
		agent, _ := cmd.Flags().GetString("agent")
		scaffold, _ := cmd.Flags().GetBool("scaffold")
		var tags []string
		for _, t := range strings.Split(tagsCSV, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
		s := openStore()
		defer s.Close()
		emit(intel.AddDoc(s, slug, path, tags, description, agent, scaffold))
	},
}

var intelListCmd = &cobra.Command{
	Use:   "list",
	Short: "List intel docs, most recently updated first",
	Run: func(cmd *cobra.Command, args []string) {
		tag, _ := cmd.Flags().GetString("tag")
		limit, _ := cmd.Flags().GetInt("limit")
		s := openStore()
		defer s.Close()
		emit(intel.ListDocs(s, tag, limit))
	},
}

var intelFindCmd = &cobra.Command{
	Use:   "find",
	Short: "Find intel docs by tag or path fragment",
	Run: func(cmd *cobra.Command, args []string) {
		tag, _ := cmd.Flags().GetString("tag")
		path, _ := cmd.Flags().GetString("path")
		s := openStore()
		defer s.Close()
		emit(intel.FindDocs(s, tag, path))
	},
}

var intelGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Get one intel doc's metadata",
	Run: func(cmd *cobra.Command, args []string) {
		slug, _ := cmd.Flags().GetString("slug")
		s := openStore()
		defer s.Close()
		emit(intel.GetDoc(s, slug))
	},
}

var intelReadCmd = &cobra.Command{
	Use:   "read",
	Short: "Read an intel doc's contents",
	Run: func(cmd *cobra.Command, args []string) {
		slug, _ := cmd.Flags().GetString("slug")
		summary, _ := cmd.Flags().GetBool("summary")
		s := openStore()
		defer s.Close()
		emit(intel.ReadDoc(s, slug, summary))
	},
}

var intelLinkCmd = &cobra.Command{
	Use:   "link",
	Short: "Link an intel doc to a task or requirement",
	Run: func(cmd *cobra.Command, args []string) {
		slug, _ := cmd.Flags().GetString("slug")
		taskID, _ := cmd.Flags().GetInt64("task-id")
		reqID, _ := cmd.Flags().GetInt64("req-id")
		s := openStore()
		defer s.Close()
		emit(intel.LinkDoc(s, slug, taskID, reqID))
	},
}

var intelForTaskCmd = &cobra.Command{
	Use:   "for-task",
	Short: "List intel docs linked to a task",
	Run: func(cmd *cobra.Command, args []string) {
		taskID, _ := cmd.Flags().GetInt64("task-id")
		s := openStore()
		defer s.Close()
		emit(intel.ForTask(s, taskID))
	},
}

var intelReindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the intel index from docs on disk",
	Run: func(cmd *cobra.Command, args []string) {
		s := openStore()
		defer s.Close()
		emit(intel.Reindex(s))
	},
}

var warPlanCmd = &cobra.Command{
	Use:   "war-plan",
	Short: "Show, set, or append to the persistent war plan",
}

var warPlanShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current war plan",
	Run: func(cmd *cobra.Command, args []string) {
		s := openStore()
		defer s.Close()
		emit(intel.ShowWarPlan(s))
	},
}

var warPlanSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Replace the war plan. Lead only",
	Run: func(cmd *cobra.Command, args []string) {
		requireClass("lead")
		agent, _ := cmd.Flags().GetString("agent")
		content, _ := cmd.Flags().GetString("content")
		s := openStore()
		defer s.Close()
		emit(intel.SetWarPlan(s, agent, content))
	},
}

var warPlanAppendCmd = &cobra.Command{
	Use:   "append",
	Short: "Append a dated entry to the war plan. Lead only",
	Run: func(cmd *cobra.Command, args []string) {
		requireClass("lead")
		agent, _ := cmd.Flags().GetString("agent")
		text, _ := cmd.Flags().GetString("text")
		s := openStore()
		defer s.Close()
		emit(intel.AppendWarPlan(s, agent, text))
	},
}

func intelSlugFlag(cmd *cobra.Command) {
	cmd.Flags().String("slug", "", "doc slug")
	cmd.MarkFlagRequired("slug")
}

func init() {
	intelSlugFlag(intelAddCmd)
	intelAddCmd.Flags().String("path", "", "doc path under the intel root")
	intelAddCmd.Flags().String("tags", "", "comma-separated tags")
	intelAddCmd.Flags().String("description", "", "one-line summary")
	intelAddCmd.Flags().String("agent", "", "registering agent")
	intelAddCmd.Flags().Bool("scaffold", false, "create the doc file if missing")
	intelAddCmd.MarkFlagRequired("path")
	intelAddCmd.MarkFlagRequired("agent")

	intelListCmd.Flags().String("tag", "", "tag filter")
	intelListCmd.Flags().Int("limit", 50, "max rows")

	intelFindCmd.Flags().String("tag", "", "tag to match")
	intelFindCmd.Flags().String("path", "", "path fragment to match")

	intelSlugFlag(intelGetCmd)

	intelSlugFlag(intelReadCmd)
	intelReadCmd.Flags().Bool("summary", false, "first section only")

	intelSlugFlag(intelLinkCmd)
	intelLinkCmd.Flags().Int64("task-id", 0, "task to link")
	intelLinkCmd.Flags().Int64("req-id", 0, "requirement to link")

	intelForTaskCmd.Flags().Int64("task-id", 0, "task id")
	intelForTaskCmd.MarkFlagRequired("task-id")

	warPlanSetCmd.Flags().String("agent", "", "acting agent")
	warPlanSetCmd.Flags().String("content", "", "full plan text")
	warPlanSetCmd.MarkFlagRequired("agent")
	warPlanSetCmd.MarkFlagRequired("content")

	warPlanAppendCmd.Flags().String("agent", "", "acting agent")
	warPlanAppendCmd.Flags().String("text", "", "entry to append")
	warPlanAppendCmd.MarkFlagRequired("agent")
	warPlanAppendCmd.MarkFlagRequired("text")

	warPlanCmd.AddCommand(warPlanShowCmd, warPlanSetCmd, warPlanAppendCmd)
	intelCmd.AddCommand(intelAddCmd, intelListCmd, intelFindCmd, intelGetCmd,
		intelReadCmd, intelLinkCmd, intelForTaskCmd, intelReindexCmd, warPlanCmd)
	rootCmd.AddCommand(intelCmd)
}
