package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ai-janitor/minion-factory-sub000/internal/classes"
	"github.com/ai-janitor/minion-factory-sub000/internal/config"
	"github.com/ai-janitor/minion-factory-sub000/internal/store"
)

// R matches the result shape every domain package returns.
type R = map[string]any

var dbPathFlag string

var rootCmd = &cobra.Command{
	Use:   "minion",
	Short: "Multi-agent fleet coordination over a shared SQLite comms hub",
	Long: `minion coordinates a fleet of LLM agents through a shared SQLite
database: registration, messaging, battle plans, a DAG-routed task
system, file claims, HP monitoring, and daemon supervision.

All commands emit JSON. Results carrying an "error" key go to stderr
with exit code 1 so agents can branch on failure.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.Initialize()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPathFlag, "db", "", "comms database path (default: MINION_DB_PATH or <work-root>/comms.db)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "comms", Title: "Communication:"},
		&cobra.Group{ID: "tasks", Title: "Tasks & Flows:"},
		&cobra.Group{ID: "planning", Title: "Planning & Intel:"},
		&cobra.Group{ID: "ops", Title: "Monitoring & Lifecycle:"},
		&cobra.Group{ID: "daemon", Title: "Daemons:"},
	)
}

func openStore() *store.Store {
	s, err := store.Open(dbPathFlag)
	if err != nil {
		fatalf("opening comms database: %v", err)
	}
	return s
}

// emit prints a result map as indented JSON. Maps carrying an "error"
// key go to stderr and exit 1 so calling agents can branch on $?.
func emit(result R, err error) {
	if err != nil {
		fatalf("%v", err)
	}
	if result == nil {
		result = R{}
	}
	data, merr := json.MarshalIndent(result, "", "  ")
	if merr != nil {
		fatalf("encoding result: %v", merr)
	}
	if _, failed := result["error"]; failed {
		fmt.Fprintln(os.Stderr, string(data))
		os.Exit(1)
	}
	fmt.Println(string(data))
}

func fatalf(format string, args ...any) {
	data, _ := json.Marshal(R{"error": fmt.Sprintf(format, args...)})
	fmt.Fprintln(os.Stderr, string(data))
	os.Exit(1)
}

// parseID converts a positional task id argument, rejecting garbage
// before any database work happens.
func parseID(arg string) int64 {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		fatalf("invalid id %q", arg)
	}
	return id
}

func callerClass() string { return classes.CallerClass() }

// requireClass gates a command to specific agent classes before any
// database work happens.
func requireClass(allowed ...string) {
	if err := classes.RequireClass(allowed...); err != nil {
		fatalf("%v", err)
	}
}
