package main

import (
	"github.com/spf13/cobra"

	"github.com/ai-janitor/minion-factory-sub000/internal/warroom"
)

var setBattlePlanCmd = &cobra.Command{
	Use:     "set-battle-plan",
	GroupID: "planning",
	Short:   "Set the active battle plan for the session. Lead only",
	Run: func(cmd *cobra.Command, args []string) {
		requireClass("lead")
		agent, _ := cmd.Flags().GetString("agent")
		plan, _ := cmd.Flags().GetString("plan")
		s := openStore()
		defer s.Close()
		emit(warroom.SetBattlePlan(s, agent, plan))
	},
}

var getBattlePlanCmd = &cobra.Command{
	Use:     "get-battle-plan",
	GroupID: "planning",
	Short:   "Get battle plan by status",
	Run: func(cmd *cobra.Command, args []string) {
		status, _ := cmd.Flags().GetString("status")
		s := openStore()
		defer s.Close()
		emit(warroom.GetBattlePlan(s, status))
	},
}

var updateBattlePlanStatusCmd = &cobra.Command{
	Use:     "update-battle-plan-status",
	GroupID: "planning",
	Short:   "Update a battle plan's status. Lead only",
	Run: func(cmd *cobra.Command, args []string) {
		requireClass("lead")
		agent, _ := cmd.Flags().GetString("agent")
		planID, _ := cmd.Flags().GetInt64("plan-id")
		status, _ := cmd.Flags().GetString("status")
		s := openStore()
		defer s.Close()
		emit(warroom.UpdateBattlePlanStatus(s, agent, planID, status))
	},
}

var logRaidCmd = &cobra.Command{
	Use:     "log-raid",
	GroupID: "planning",
	Short:   "Append an entry to the raid log",
	Run: func(cmd *cobra.Command, args []string) {
		agent, _ := cmd.Flags().GetString("agent")
		entry, _ := cmd.Flags().GetString("entry")
		priority, _ := cmd.Flags().GetString("priority")
		s := openStore()
		defer s.Close()
		emit(warroom.LogRaid(s, agent, entry, priority))
	},
}

var getRaidLogCmd = &cobra.Command{
	Use:     "get-raid-log",
	GroupID: "planning",
	Short:   "Read the raid log",
	Run: func(cmd *cobra.Command, args []string) {
		priority, _ := cmd.Flags().GetString("priority")
		agent, _ := cmd.Flags().GetString("agent")
		count, _ := cmd.Flags().GetInt("count")
		s := openStore()
		defer s.Close()
		emit(warroom.GetRaidLog(s, priority, agent, count))
	},
}

func init() {
	setBattlePlanCmd.Flags().String("agent", "", "agent setting the plan")
	setBattlePlanCmd.Flags().String("plan", "", "plan text")
	setBattlePlanCmd.MarkFlagRequired("agent")
	setBattlePlanCmd.MarkFlagRequired("plan")

	getBattlePlanCmd.Flags().String("status", "active", "plan status filter")

	updateBattlePlanStatusCmd.Flags().String("agent", "", "agent updating the plan")
	updateBattlePlanStatusCmd.Flags().Int64("plan-id", 0, "battle plan id")
	updateBattlePlanStatusCmd.Flags().String("status", "", "new status")
	updateBattlePlanStatusCmd.MarkFlagRequired("agent")
	updateBattlePlanStatusCmd.MarkFlagRequired("plan-id")
	updateBattlePlanStatusCmd.MarkFlagRequired("status")

	logRaidCmd.Flags().String("agent", "", "logging agent")
	logRaidCmd.Flags().String("entry", "", "log entry text")
	logRaidCmd.Flags().String("priority", "normal", "normal or high")
	logRaidCmd.MarkFlagRequired("agent")
	logRaidCmd.MarkFlagRequired("entry")

	getRaidLogCmd.Flags().String("priority", "", "priority filter")
	getRaidLogCmd.Flags().String("agent", "", "agent filter")
	getRaidLogCmd.Flags().Int("count", 20, "entry count")

	rootCmd.AddCommand(setBattlePlanCmd, getBattlePlanCmd,
		updateBattlePlanStatusCmd, logRaidCmd, getRaidLogCmd)
}
