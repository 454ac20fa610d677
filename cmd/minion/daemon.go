package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ai-janitor/minion-factory-sub000/internal/daemon"
	"github.com/ai-janitor/minion-factory-sub000/internal/store"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "daemon",
	Short:   "Run one agent as a supervised daemon",
	Long: `Run one agent as a supervised daemon: poll the comms database for
work, invoke the provider CLI per turn, track HP from stream usage,
and respawn a fresh generation when the context window is exhausted.

Blocks until stand-down, retirement, or a signal.`,
	Run: func(cmd *cobra.Command, args []string) {
		agent, _ := cmd.Flags().GetString("agent")
		configPath, _ := cmd.Flags().GetString("config")

		cfg, err := daemon.LoadConfig(configPath)
		if err != nil {
			fatalf("loading crew config: %v", err)
		}
		s, err := store.Open(cfg.CommsDB)
		if err != nil {
			fatalf("opening comms database: %v", err)
		}
		defer s.Close()

		d, err := daemon.New(cfg, agent, s)
		if err != nil {
			fatalf("%v", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if err := d.Run(ctx); err != nil {
			fatalf("%v", err)
		}
	},
}

var daemonsCmd = &cobra.Command{
	Use:     "daemons",
	GroupID: "daemon",
	Short:   "List running daemon agents from the swarm registry",
	Run: func(cmd *cobra.Command, args []string) {
		configPath, _ := cmd.Flags().GetString("config")

		stateDir := filepath.Join(".minion-swarm", "state")
		if configPath != "" {
			cfg, err := daemon.LoadConfig(configPath)
			if err != nil {
				fatalf("loading crew config: %v", err)
			}
			stateDir = cfg.StateDir()
		}
		if _, err := os.Stat(stateDir); err != nil {
			emit(R{"daemons": []R{}, "count": 0}, nil)
			return
		}

		reg, err := daemon.NewRegistry(stateDir)
		if err != nil {
			fatalf("%v", err)
		}
		entries, err := reg.List()
		if err != nil {
			fatalf("%v", err)
		}
		rows := make([]R, 0, len(entries))
		for _, e := range entries {
			rows = append(rows, R{
				"agent":      e.Agent,
				"crew":       e.Crew,
				"pid":        e.PID,
				"generation": e.Generation,
				"db_path":    e.DBPath,
				"started_at": e.StartedAt,
			})
		}
		emit(R{"daemons": rows, "count": len(rows)}, nil)
	},
}

func init() {
	daemonCmd.Flags().String("agent", "", "agent name from the crew roster")
	daemonCmd.Flags().String("config", "", "crew YAML path")
	daemonCmd.MarkFlagRequired("agent")
	daemonCmd.MarkFlagRequired("config")

	daemonsCmd.Flags().String("config", "", "crew YAML path (default: ./.minion-swarm/state)")

	rootCmd.AddCommand(daemonCmd, daemonsCmd)
}
