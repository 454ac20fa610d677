package main

import (
	"sort"

	"github.com/spf13/cobra"

	"github.com/ai-janitor/minion-factory-sub000/internal/flow"
	"github.com/ai-janitor/minion-factory-sub000/internal/tasks"
)

var listFlowsCmd = &cobra.Command{
	Use:     "list-flows",
	GroupID: "tasks",
	Short:   "List available task flow types",
	Run: func(cmd *cobra.Command, args []string) {
		emit(tasks.ListFlows())
	},
}

var showFlowCmd = &cobra.Command{
	Use:     "show-flow <type>",
	GroupID: "tasks",
	Short:   "Show a flow's stages and transitions",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		f, err := flow.Load(args[0])
		if err != nil {
			emit(R{"error": err.Error()}, nil)
			return
		}
		names := make([]string, 0, len(f.Stages))
		for name := range f.Stages {
			names = append(names, name)
		}
		sort.Strings(names)
		stages := make([]R, 0, len(names))
		for _, name := range names {
			s := f.Stages[name]
			stages = append(stages, R{
				"name":        name,
				"description": s.Description,
				"next":        s.Next,
				"fail":        s.Fail,
				"workers":     s.Workers,
				"requires":    s.Requires,
				"terminal":    s.Terminal,
				"skip":        s.Skip,
			})
		}
		emit(R{
			"name":        f.Name,
			"description": f.Description,
			"stages":      stages,
			"dead_ends":   f.DeadEnds,
		}, nil)
	},
}

var nextStatusCmd = &cobra.Command{
	Use:     "next-status <type> <current>",
	GroupID: "tasks",
	Short:   "Query routing: what status comes next?",
	Args:    cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		failed, _ := cmd.Flags().GetBool("failed")
		f, err := flow.Load(args[0])
		if err != nil {
			emit(R{"error": err.Error()}, nil)
			return
		}
		next, ok := f.NextStatus(args[1], !failed)
		result := R{"type": args[0], "current": args[1]}
		if ok {
			result["next"] = next
		} else {
			result["next"] = nil
		}
		emit(result, nil)
	},
}

func init() {
	nextStatusCmd.Flags().Bool("failed", false, "query the fail path instead of the happy path")

	rootCmd.AddCommand(listFlowsCmd, showFlowCmd, nextStatusCmd)
}
