package main

import (
	"github.com/spf13/cobra"

	"github.com/ai-janitor/minion-factory-sub000/internal/backlog"
)

var backlogCmd = &cobra.Command{
	Use:     "backlog",
	GroupID: "planning",
	Short:   "Backlog triage: capture, prioritize, promote to requirements",
}

var backlogAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Capture a new backlog item",
	Run: func(cmd *cobra.Command, args []string) {
		itemType, _ := cmd.Flags().GetString("type")
		title, _ := cmd.Flags().GetString("title")
		source, _ := cmd.Flags().GetString("source")
		description, _ := cmd.Flags().GetString("description")
		priority, _ := cmd.Flags().GetString("priority")
		s := openStore()
		defer s.Close()
		emit(backlog.Add(s, itemType, title, source, description, priority))
	},
}

var backlogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backlog items with filters",
	Run: func(cmd *cobra.Command, args []string) {
		itemType, _ := cmd.Flags().GetString("type")
		priority, _ := cmd.Flags().GetString("priority")
		status, _ := cmd.Flags().GetString("status")
		s := openStore()
		defer s.Close()
		emit(backlog.List(s, itemType, priority, status))
	},
}

var backlogShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show one backlog item with its document body",
	Run: func(cmd *cobra.Command, args []string) {
		path, _ := cmd.Flags().GetString("path")
		s := openStore()
		defer s.Close()
		emit(backlog.Get(s, path))
	},
}

var backlogUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Change a backlog item's priority or status",
	Run: func(cmd *cobra.Command, args []string) {
		path, _ := cmd.Flags().GetString("path")
		priority, _ := cmd.Flags().GetString("priority")
		status, _ := cmd.Flags().GetString("status")
		s := openStore()
		defer s.Close()
		emit(backlog.Update(s, path, priority, status))
	},
}

var backlogPromoteCmd = &cobra.Command{
	Use:   "promote",
	Short: "Promote a backlog item into the requirement tree",
	Run: func(cmd *cobra.Command, args []string) {
		path, _ := cmd.Flags().GetString("path")
		origin, _ := cmd.Flags().GetString("origin")
		slug, _ := cmd.Flags().GetString("slug")
		flowType, _ := cmd.Flags().GetString("flow")
		s := openStore()
		defer s.Close()
		emit(backlog.Promote(s, path, origin, slug, flowType))
	},
}

var backlogKillCmd = &cobra.Command{
	Use:   "kill",
	Short: "Reject a backlog item with a reason",
	Run: func(cmd *cobra.Command, args []string) {
		path, _ := cmd.Flags().GetString("path")
		reason, _ := cmd.Flags().GetString("reason")
		s := openStore()
		defer s.Close()
		emit(backlog.Kill(s, path, reason))
	},
}

var backlogDeferCmd = &cobra.Command{
	Use:   "defer",
	Short: "Park a backlog item until a date",
	Run: func(cmd *cobra.Command, args []string) {
		path, _ := cmd.Flags().GetString("path")
		until, _ := cmd.Flags().GetString("until")
		s := openStore()
		defer s.Close()
		emit(backlog.Defer(s, path, until))
	},
}

var backlogReopenCmd = &cobra.Command{
	Use:   "reopen",
	Short: "Bring a killed or deferred item back to new",
	Run: func(cmd *cobra.Command, args []string) {
		path, _ := cmd.Flags().GetString("path")
		s := openStore()
		defer s.Close()
		emit(backlog.Reopen(s, path))
	},
}

var backlogReindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the backlog index from documents on disk",
	Run: func(cmd *cobra.Command, args []string) {
		s := openStore()
		defer s.Close()
		emit(backlog.Reindex(s))
	},
}

func backlogPathFlag(cmd *cobra.Command) {
	cmd.Flags().String("path", "", "backlog item path (e.g. bugs/login-timeout.md)")
	cmd.MarkFlagRequired("path")
}

func init() {
	backlogAddCmd.Flags().String("type", "", "item type (bug, idea, feedback, chore)")
	backlogAddCmd.Flags().String("title", "", "item title")
	backlogAddCmd.Flags().String("source", "", "where this came from")
	backlogAddCmd.Flags().String("description", "", "item body")
	backlogAddCmd.Flags().String("priority", "medium", "low, medium, high, or critical")
	backlogAddCmd.MarkFlagRequired("type")
	backlogAddCmd.MarkFlagRequired("title")

	backlogListCmd.Flags().String("type", "", "type filter")
	backlogListCmd.Flags().String("priority", "", "priority filter")
	backlogListCmd.Flags().String("status", "", "status filter (default: active items)")

	backlogPathFlag(backlogShowCmd)

	backlogPathFlag(backlogUpdateCmd)
	backlogUpdateCmd.Flags().String("priority", "", "new priority")
	backlogUpdateCmd.Flags().String("status", "", "new status")

	backlogPathFlag(backlogPromoteCmd)
	backlogPromoteCmd.Flags().String("origin", "", "requirement origin bucket (roadmap, bug, feedback)")
	backlogPromoteCmd.Flags().String("slug", "", "requirement folder slug (default: derived from title)")
	backlogPromoteCmd.Flags().String("flow", "", "lifecycle flow for the new requirement")

	backlogPathFlag(backlogKillCmd)
	backlogKillCmd.Flags().String("reason", "", "why this item was rejected")
	backlogKillCmd.MarkFlagRequired("reason")

	backlogPathFlag(backlogDeferCmd)
	backlogDeferCmd.Flags().String("until", "", "date (2026-09-01) or natural language (next friday)")
	backlogDeferCmd.MarkFlagRequired("until")

	backlogPathFlag(backlogReopenCmd)

	backlogCmd.AddCommand(backlogAddCmd, backlogListCmd, backlogShowCmd,
		backlogUpdateCmd, backlogPromoteCmd, backlogKillCmd, backlogDeferCmd,
		backlogReopenCmd, backlogReindexCmd)
	rootCmd.AddCommand(backlogCmd)
}
