package main

import (
	"github.com/spf13/cobra"

	"github.com/ai-janitor/minion-factory-sub000/internal/comms"
)

var registerCmd = &cobra.Command{
	Use:     "register",
	GroupID: "comms",
	Short:   "Register an agent into the session",
	Run: func(cmd *cobra.Command, args []string) {
		name, _ := cmd.Flags().GetString("name")
		class, _ := cmd.Flags().GetString("class")
		model, _ := cmd.Flags().GetString("model")
		description, _ := cmd.Flags().GetString("description")
		transport, _ := cmd.Flags().GetString("transport")
		zone, _ := cmd.Flags().GetString("zone")
		s := openStore()
		defer s.Close()
		emit(comms.Register(s, name, class, model, description, transport, zone))
	},
}

var deregisterCmd = &cobra.Command{
	Use:     "deregister",
	GroupID: "comms",
	Short:   "Remove an agent from the registry",
	Run: func(cmd *cobra.Command, args []string) {
		name, _ := cmd.Flags().GetString("name")
		s := openStore()
		defer s.Close()
		emit(comms.Deregister(s, name))
	},
}

var renameCmd = &cobra.Command{
	Use:     "rename",
	GroupID: "comms",
	Short:   "Rename an agent (zone reassignment). Lead only",
	Run: func(cmd *cobra.Command, args []string) {
		requireClass("lead")
		oldName, _ := cmd.Flags().GetString("old")
		newName, _ := cmd.Flags().GetString("new")
		s := openStore()
		defer s.Close()
		emit(comms.Rename(s, oldName, newName))
	},
}

var setStatusCmd = &cobra.Command{
	Use:     "set-status",
	GroupID: "comms",
	Short:   "Set your current status text",
	Run: func(cmd *cobra.Command, args []string) {
		agent, _ := cmd.Flags().GetString("agent")
		status, _ := cmd.Flags().GetString("status")
		s := openStore()
		defer s.Close()
		emit(comms.SetStatus(s, agent, status))
	},
}

var setContextCmd = &cobra.Command{
	Use:     "set-context",
	GroupID: "comms",
	Short:   "Update context summary and HP metrics",
	Run: func(cmd *cobra.Command, args []string) {
		agent, _ := cmd.Flags().GetString("agent")
		summary, _ := cmd.Flags().GetString("context")
		files, _ := cmd.Flags().GetString("files")
		zone, _ := cmd.Flags().GetString("zone")
		hp, _ := cmd.Flags().GetInt("hp")
		s := openStore()
		defer s.Close()
		emit(comms.SetContext(s, agent, summary, files, zone, hp))
	},
}

var whoCmd = &cobra.Command{
	Use:     "who",
	GroupID: "comms",
	Short:   "List all registered agents",
	Run: func(cmd *cobra.Command, args []string) {
		s := openStore()
		defer s.Close()
		emit(comms.Who(s))
	},
}

var sendCmd = &cobra.Command{
	Use:     "send",
	GroupID: "comms",
	Short:   "Send a message to an agent, or 'all' to broadcast",
	Run: func(cmd *cobra.Command, args []string) {
		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")
		message, _ := cmd.Flags().GetString("message")
		s := openStore()
		defer s.Close()
		emit(comms.Send(s, from, to, message))
	},
}

var checkInboxCmd = &cobra.Command{
	Use:     "check-inbox",
	GroupID: "comms",
	Short:   "Check and clear unread messages",
	Run: func(cmd *cobra.Command, args []string) {
		agent, _ := cmd.Flags().GetString("agent")
		s := openStore()
		defer s.Close()
		emit(comms.CheckInbox(s, agent))
	},
}

var getHistoryCmd = &cobra.Command{
	Use:     "get-history",
	GroupID: "comms",
	Short:   "Return an agent's last N messages",
	Run: func(cmd *cobra.Command, args []string) {
		agent, _ := cmd.Flags().GetString("agent")
		other, _ := cmd.Flags().GetString("with")
		count, _ := cmd.Flags().GetInt("count")
		s := openStore()
		defer s.Close()
		emit(comms.History(s, agent, other, count))
	},
}

var purgeInboxCmd = &cobra.Command{
	Use:     "purge-inbox",
	GroupID: "comms",
	Short:   "Mark everything unread as read without returning content",
	Run: func(cmd *cobra.Command, args []string) {
		agent, _ := cmd.Flags().GetString("agent")
		s := openStore()
		defer s.Close()
		emit(comms.PurgeInbox(s, agent))
	},
}

func init() {
	registerCmd.Flags().String("name", "", "agent name")
	registerCmd.Flags().String("class", "", "agent class (lead, coder, builder, ...)")
	registerCmd.Flags().String("model", "", "model id (must be in the class whitelist)")
	registerCmd.Flags().String("description", "", "what this agent is for")
	registerCmd.Flags().String("transport", "terminal", "terminal, daemon, or daemon-ts")
	registerCmd.Flags().String("zone", "", "initial zone of responsibility")
	registerCmd.MarkFlagRequired("name")
	registerCmd.MarkFlagRequired("class")

	deregisterCmd.Flags().String("name", "", "agent name")
	deregisterCmd.MarkFlagRequired("name")

	renameCmd.Flags().String("old", "", "current agent name")
	renameCmd.Flags().String("new", "", "new agent name")
	renameCmd.MarkFlagRequired("old")
	renameCmd.MarkFlagRequired("new")

	setStatusCmd.Flags().String("agent", "", "agent name")
	setStatusCmd.Flags().String("status", "", "status text")
	setStatusCmd.MarkFlagRequired("agent")
	setStatusCmd.MarkFlagRequired("status")

	setContextCmd.Flags().String("agent", "", "agent name")
	setContextCmd.Flags().String("context", "", "one-paragraph context summary")
	setContextCmd.Flags().String("files", "", "comma-separated files in working context")
	setContextCmd.Flags().String("zone", "", "current zone (unchanged when empty)")
	setContextCmd.Flags().Int("hp", -1, "self-reported HP 0-100 (skips daemon token counting)")
	setContextCmd.MarkFlagRequired("agent")
	setContextCmd.MarkFlagRequired("context")

	sendCmd.Flags().String("from", "", "sending agent")
	sendCmd.Flags().String("to", "", "recipient agent, or 'all'")
	sendCmd.Flags().String("message", "", "message body")
	sendCmd.MarkFlagRequired("from")
	sendCmd.MarkFlagRequired("to")
	sendCmd.MarkFlagRequired("message")

	checkInboxCmd.Flags().String("agent", "", "agent name")
	checkInboxCmd.MarkFlagRequired("agent")

	getHistoryCmd.Flags().String("agent", "", "agent name")
	getHistoryCmd.Flags().String("with", "", "limit to traffic with one other agent")
	getHistoryCmd.Flags().Int("count", 20, "message count")
	getHistoryCmd.MarkFlagRequired("agent")

	purgeInboxCmd.Flags().String("agent", "", "agent name")
	purgeInboxCmd.MarkFlagRequired("agent")

	rootCmd.AddCommand(registerCmd, deregisterCmd, renameCmd, setStatusCmd,
		setContextCmd, whoCmd, sendCmd, checkInboxCmd, getHistoryCmd, purgeInboxCmd)
}
