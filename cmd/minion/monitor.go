package main

import (
	"github.com/spf13/cobra"

	"github.com/ai-janitor/minion-factory-sub000/internal/monitor"
)

var partyStatusCmd = &cobra.Command{
	Use:     "party-status",
	GroupID: "ops",
	Short:   "Full raid health dashboard. Lead only",
	Run: func(cmd *cobra.Command, args []string) {
		requireClass("lead")
		s := openStore()
		defer s.Close()
		emit(monitor.PartyStatus(s))
	},
}

var checkActivityCmd = &cobra.Command{
	Use:     "check-activity",
	GroupID: "ops",
	Short:   "Check an agent's activity level",
	Run: func(cmd *cobra.Command, args []string) {
		agent, _ := cmd.Flags().GetString("agent")
		s := openStore()
		defer s.Close()
		emit(monitor.CheckActivity(s, agent))
	},
}

var checkFreshnessCmd = &cobra.Command{
	Use:     "check-freshness",
	GroupID: "ops",
	Short:   "Check file freshness against an agent's last set-context. Lead only",
	Run: func(cmd *cobra.Command, args []string) {
		requireClass("lead")
		agent, _ := cmd.Flags().GetString("agent")
		files, _ := cmd.Flags().GetString("files")
		s := openStore()
		defer s.Close()
		emit(monitor.CheckFreshness(s, agent, files))
	},
}

var sitrepCmd = &cobra.Command{
	Use:     "sitrep",
	GroupID: "ops",
	Short:   "Fused picture: agents, tasks, zones, claims, flags, recent comms",
	Run: func(cmd *cobra.Command, args []string) {
		s := openStore()
		defer s.Close()
		emit(monitor.Sitrep(s))
	},
}

var updateHPCmd = &cobra.Command{
	Use:     "update-hp",
	GroupID: "ops",
	Short:   "Daemon-only: write observed HP accounting to the database. Lead only",
	Run: func(cmd *cobra.Command, args []string) {
		requireClass("lead")
		agent, _ := cmd.Flags().GetString("agent")
		inputTokens, _ := cmd.Flags().GetInt64("input-tokens")
		outputTokens, _ := cmd.Flags().GetInt64("output-tokens")
		limit, _ := cmd.Flags().GetInt64("limit")
		turnInput, _ := cmd.Flags().GetInt64("turn-input")
		turnOutput, _ := cmd.Flags().GetInt64("turn-output")
		s := openStore()
		defer s.Close()
		emit(monitor.UpdateHP(s, agent, inputTokens, outputTokens, limit, turnInput, turnOutput))
	},
}

func init() {
	checkActivityCmd.Flags().String("agent", "", "agent name")
	checkActivityCmd.MarkFlagRequired("agent")

	checkFreshnessCmd.Flags().String("agent", "", "agent name")
	checkFreshnessCmd.Flags().String("files", "", "comma-separated files to check")
	checkFreshnessCmd.MarkFlagRequired("agent")
	checkFreshnessCmd.MarkFlagRequired("files")

	updateHPCmd.Flags().String("agent", "", "agent name")
	updateHPCmd.Flags().Int64("input-tokens", 0, "session-cumulative input tokens")
	updateHPCmd.Flags().Int64("output-tokens", 0, "session-cumulative output tokens")
	updateHPCmd.Flags().Int64("limit", 0, "context window limit")
	updateHPCmd.Flags().Int64("turn-input", 0, "per-turn input tokens (context pressure)")
	updateHPCmd.Flags().Int64("turn-output", 0, "per-turn output tokens")
	updateHPCmd.MarkFlagRequired("agent")
	updateHPCmd.MarkFlagRequired("input-tokens")
	updateHPCmd.MarkFlagRequired("output-tokens")
	updateHPCmd.MarkFlagRequired("limit")

	rootCmd.AddCommand(partyStatusCmd, checkActivityCmd, checkFreshnessCmd,
		sitrepCmd, updateHPCmd)
}
