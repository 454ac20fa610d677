package main

import (
	"github.com/spf13/cobra"

	"github.com/ai-janitor/minion-factory-sub000/internal/filesafety"
)

var claimFileCmd = &cobra.Command{
	Use:     "claim-file",
	GroupID: "tasks",
	Short:   "Claim a file for exclusive editing",
	Run: func(cmd *cobra.Command, args []string) {
		requireClass("lead", "coder", "builder")
		agent, _ := cmd.Flags().GetString("agent")
		file, _ := cmd.Flags().GetString("file")
		s := openStore()
		defer s.Close()
		emit(filesafety.ClaimFile(s, agent, file))
	},
}

var releaseFileCmd = &cobra.Command{
	Use:     "release-file",
	GroupID: "tasks",
	Short:   "Release a file claim",
	Run: func(cmd *cobra.Command, args []string) {
		requireClass("lead", "coder", "builder")
		agent, _ := cmd.Flags().GetString("agent")
		file, _ := cmd.Flags().GetString("file")
		force, _ := cmd.Flags().GetBool("force")
		s := openStore()
		defer s.Close()
		emit(filesafety.ReleaseFile(s, agent, file, force))
	},
}

var getClaimsCmd = &cobra.Command{
	Use:     "get-claims",
	GroupID: "tasks",
	Short:   "List active file claims",
	Run: func(cmd *cobra.Command, args []string) {
		agent, _ := cmd.Flags().GetString("agent")
		s := openStore()
		defer s.Close()
		emit(filesafety.GetClaims(s, agent))
	},
}

func init() {
	claimFileCmd.Flags().String("agent", "", "claiming agent")
	claimFileCmd.Flags().String("file", "", "file path")
	claimFileCmd.MarkFlagRequired("agent")
	claimFileCmd.MarkFlagRequired("file")

	releaseFileCmd.Flags().String("agent", "", "releasing agent")
	releaseFileCmd.Flags().String("file", "", "file path")
	releaseFileCmd.Flags().Bool("force", false, "release someone else's claim")
	releaseFileCmd.MarkFlagRequired("agent")
	releaseFileCmd.MarkFlagRequired("file")

	getClaimsCmd.Flags().String("agent", "", "filter by claiming agent")

	rootCmd.AddCommand(claimFileCmd, releaseFileCmd, getClaimsCmd)
}
