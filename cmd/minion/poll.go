package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ai-janitor/minion-factory-sub000/internal/config"
	"github.com/ai-janitor/minion-factory-sub000/internal/polling"
)

var pollCmd = &cobra.Command{
	Use:     "poll",
	GroupID: "comms",
	Short:   "Block until messages or tasks arrive",
	Long: `Block until messages or tasks arrive, then print them and exit.

Exit codes:
  0  content delivered (messages and/or claimable tasks)
  1  timeout elapsed with nothing to do
  3  stand_down or retire signal; do not restart polling`,
	Run: func(cmd *cobra.Command, args []string) {
		agent, _ := cmd.Flags().GetString("agent")
		interval, _ := cmd.Flags().GetInt("interval")
		timeout, _ := cmd.Flags().GetInt("timeout")

		s := openStore()
		defer s.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		result, code := polling.PollLoop(ctx, s, agent,
			time.Duration(interval)*time.Second, time.Duration(timeout)*time.Second)
		if len(result) > 0 {
			data, _ := json.MarshalIndent(result, "", "  ")
			fmt.Println(string(data))
		}
		s.Close()
		os.Exit(code)
	},
}

func init() {
	pollCmd.Flags().String("agent", "", "polling agent")
	pollCmd.Flags().Int("interval", config.GetInt("poll-interval"), "poll interval in seconds")
	pollCmd.Flags().Int("timeout", 0, "timeout in seconds (0 = forever)")
	pollCmd.MarkFlagRequired("agent")

	rootCmd.AddCommand(pollCmd)
}
