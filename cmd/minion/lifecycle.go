package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ai-janitor/minion-factory-sub000/internal/comms"
	"github.com/ai-janitor/minion-factory-sub000/internal/lifecycle"
)

var coldStartCmd = &cobra.Command{
	Use:     "cold-start",
	GroupID: "ops",
	Short:   "Bootstrap an agent into (or back into) a session",
	Run: func(cmd *cobra.Command, args []string) {
		agent, _ := cmd.Flags().GetString("agent")
		s := openStore()
		defer s.Close()
		emit(lifecycle.ColdStart(s, agent))
	},
}

var fenixDownCmd = &cobra.Command{
	Use:     "fenix-down",
	GroupID: "ops",
	Short:   "Dump session knowledge to disk before context death",
	Run: func(cmd *cobra.Command, args []string) {
		agent, _ := cmd.Flags().GetString("agent")
		files, _ := cmd.Flags().GetString("files")
		manifest, _ := cmd.Flags().GetString("manifest")
		s := openStore()
		defer s.Close()
		emit(lifecycle.FenixDown(s, agent, files, manifest))
	},
}

var debriefCmd = &cobra.Command{
	Use:     "debrief",
	GroupID: "ops",
	Short:   "File a session debrief. Lead only",
	Run: func(cmd *cobra.Command, args []string) {
		requireClass("lead")
		agent, _ := cmd.Flags().GetString("agent")
		debriefFile, _ := cmd.Flags().GetString("debrief-file")
		s := openStore()
		defer s.Close()
		emit(lifecycle.Debrief(s, agent, debriefFile))
	},
}

var endSessionCmd = &cobra.Command{
	Use:     "end-session",
	GroupID: "ops",
	Short:   "End the current session. Lead only",
	Run: func(cmd *cobra.Command, args []string) {
		requireClass("lead")
		agent, _ := cmd.Flags().GetString("agent")
		s := openStore()
		defer s.Close()
		emit(lifecycle.EndSession(s, agent))
	},
}

var getTriggersCmd = &cobra.Command{
	Use:     "get-triggers",
	GroupID: "comms",
	Short:   "Return the trigger word codebook",
	Run: func(cmd *cobra.Command, args []string) {
		emit(R{"triggers": comms.TriggerWords, "usage": "write as !!word!! inside a message"}, nil)
	},
}

var clearMoonCrashCmd = &cobra.Command{
	Use:     "clear-moon-crash",
	GroupID: "ops",
	Short:   "Clear the moon_crash emergency flag, resume assignments. Lead only",
	Run: func(cmd *cobra.Command, args []string) {
		requireClass("lead")
		agent, _ := cmd.Flags().GetString("agent")
		s := openStore()
		defer s.Close()
		if s.FlagGet("moon_crash") != "1" {
			emit(R{"status": "noop", "detail": "moon_crash was not set"}, nil)
			return
		}
		if err := s.FlagClear("moon_crash"); err != nil {
			emit(nil, err)
			return
		}
		comms.Send(s, agent, "all", "moon_crash cleared. Task assignment resumed.")
		emit(R{"status": "cleared", "flag": "moon_crash", "cleared_by": agent}, nil)
	},
}

var standDownCmd = &cobra.Command{
	Use:     "stand-down",
	GroupID: "ops",
	Short:   "Dismiss the party: daemons exit after their current turn. Lead only",
	Run: func(cmd *cobra.Command, args []string) {
		requireClass("lead")
		agent, _ := cmd.Flags().GetString("agent")
		s := openStore()
		defer s.Close()
		if err := s.FlagSet("stand_down", "1", agent); err != nil {
			emit(nil, err)
			return
		}
		comms.Send(s, agent, "all", "!!stand_down!! Session over. Finish your turn and exit.")
		emit(R{"status": "stand_down", "set_by": agent}, nil)
	},
}

var retireAgentCmd = &cobra.Command{
	Use:     "retire-agent",
	GroupID: "ops",
	Short:   "Signal a single daemon agent to exit gracefully. Lead only",
	Run: func(cmd *cobra.Command, args []string) {
		requireClass("lead")
		agent, _ := cmd.Flags().GetString("agent")
		requestedBy, _ := cmd.Flags().GetString("requesting-agent")
		s := openStore()
		defer s.Close()
		emit(lifecycle.RequestRetire(s, agent, requestedBy))
	},
}

var interruptAgentCmd = &cobra.Command{
	Use:     "interrupt-agent",
	GroupID: "ops",
	Short:   "Kill an agent's in-flight model invocation. Lead only",
	Run: func(cmd *cobra.Command, args []string) {
		requireClass("lead")
		agent, _ := cmd.Flags().GetString("agent")
		requestedBy, _ := cmd.Flags().GetString("requesting-agent")
		s := openStore()
		defer s.Close()
		emit(lifecycle.RequestInterrupt(s, agent, requestedBy))
	},
}

var handOffZoneCmd = &cobra.Command{
	Use:     "hand-off-zone",
	GroupID: "ops",
	Short:   "Direct zone handoff: a retiring agent bestows its zone to replacements",
	Run: func(cmd *cobra.Command, args []string) {
		from, _ := cmd.Flags().GetString("from")
		toList, _ := cmd.Flags().GetString("to")
		zone, _ := cmd.Flags().GetString("zone")
		s := openStore()
		defer s.Close()

		if !s.AgentExists(from) {
			emit(R{"error": fmt.Sprintf("BLOCKED: Agent %q not registered.", from)}, nil)
			return
		}
		var handed []string
		for _, to := range strings.Split(toList, ",") {
			to = strings.TrimSpace(to)
			if to == "" {
				continue
			}
			if !s.AgentExists(to) {
				emit(R{"error": fmt.Sprintf("BLOCKED: Agent %q not registered.", to)}, nil)
				return
			}
			s.DB.Exec(`UPDATE agents SET current_zone = ? WHERE name = ?`, zone, to)
			s.SystemMessage(to, fmt.Sprintf(
				"Zone handoff: %s passed you zone %q. You own it now.", from, zone))
			handed = append(handed, to)
		}
		if len(handed) == 0 {
			emit(R{"error": "BLOCKED: no valid recipients in --to."}, nil)
			return
		}
		s.DB.Exec(`UPDATE agents SET current_zone = NULL WHERE name = ? AND current_zone = ?`, from, zone)
		emit(R{"status": "handed_off", "zone": zone, "from": from, "to": handed}, nil)
	},
}

func init() {
	coldStartCmd.Flags().String("agent", "", "agent name")
	coldStartCmd.MarkFlagRequired("agent")

	fenixDownCmd.Flags().String("agent", "", "dying agent")
	fenixDownCmd.Flags().String("files", "", "comma-separated knowledge files to preserve")
	fenixDownCmd.Flags().String("manifest", "", "optional manifest note")
	fenixDownCmd.MarkFlagRequired("agent")
	fenixDownCmd.MarkFlagRequired("files")

	debriefCmd.Flags().String("agent", "", "filing agent")
	debriefCmd.Flags().String("debrief-file", "", "path to the debrief document")
	debriefCmd.MarkFlagRequired("agent")
	debriefCmd.MarkFlagRequired("debrief-file")

	endSessionCmd.Flags().String("agent", "", "ending agent")
	endSessionCmd.MarkFlagRequired("agent")

	clearMoonCrashCmd.Flags().String("agent", "", "clearing agent")
	clearMoonCrashCmd.MarkFlagRequired("agent")

	standDownCmd.Flags().String("agent", "", "dismissing agent")
	standDownCmd.MarkFlagRequired("agent")

	retireAgentCmd.Flags().String("agent", "", "agent to retire")
	retireAgentCmd.Flags().String("requesting-agent", "", "lead requesting retirement")
	retireAgentCmd.MarkFlagRequired("agent")
	retireAgentCmd.MarkFlagRequired("requesting-agent")

	interruptAgentCmd.Flags().String("agent", "", "agent to interrupt")
	interruptAgentCmd.Flags().String("requesting-agent", "", "lead requesting the interrupt")
	interruptAgentCmd.MarkFlagRequired("agent")
	interruptAgentCmd.MarkFlagRequired("requesting-agent")

	handOffZoneCmd.Flags().String("from", "", "retiring agent")
	handOffZoneCmd.Flags().String("to", "", "comma-separated replacement agents")
	handOffZoneCmd.Flags().String("zone", "", "zone being handed off")
	handOffZoneCmd.MarkFlagRequired("from")
	handOffZoneCmd.MarkFlagRequired("to")
	handOffZoneCmd.MarkFlagRequired("zone")

	rootCmd.AddCommand(coldStartCmd, fenixDownCmd, debriefCmd, endSessionCmd,
		getTriggersCmd, clearMoonCrashCmd, standDownCmd, retireAgentCmd,
		interruptAgentCmd, handOffZoneCmd)
}
