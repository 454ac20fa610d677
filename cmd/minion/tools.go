package main

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/ai-janitor/minion-factory-sub000/internal/workdir"
)

// toolEntry gates one command to a set of classes. A nil classes slice
// means every class may run it.
type toolEntry struct {
	classes     []string
	description string
}

var (
	leadOnly    = []string{"lead"}
	editClasses = []string{"lead", "coder", "builder"}
)

// toolCatalog drives the tools command. Authorization itself happens
// in each command's requireClass call; this is the discovery surface
// agents read during cold-start.
var toolCatalog = map[string]toolEntry{
	"register":                  {nil, "Register an agent into the session"},
	"deregister":                {nil, "Remove an agent from the registry"},
	"rename":                    {leadOnly, "Rename an agent (zone reassignment)"},
	"set-status":                {nil, "Set your current status text"},
	"set-context":               {nil, "Update context summary and HP metrics"},
	"who":                       {nil, "List all registered agents"},
	"send":                      {nil, "Send a message to an agent or broadcast"},
	"check-inbox":               {nil, "Check and clear unread messages"},
	"get-history":               {nil, "Return your last N messages"},
	"purge-inbox":               {nil, "Mark old messages read"},
	"set-battle-plan":           {leadOnly, "Set the active battle plan for the session"},
	"get-battle-plan":           {nil, "Get battle plan by status"},
	"update-battle-plan-status": {leadOnly, "Update a battle plan's status"},
	"log-raid":                  {nil, "Append an entry to the raid log"},
	"get-raid-log":              {nil, "Read the raid log"},
	"create-task":               {leadOnly, "Create a new task with spec file"},
	"define-task":               {nil, "Create a task from an inline description"},
	"assign-task":               {leadOnly, "Assign a task to an agent"},
	"update-task":               {nil, "Update task status, progress, or files"},
	"transition":                {nil, "Manually transition a task to a new status"},
	"get-tasks":                 {nil, "List tasks with filters"},
	"get-task":                  {nil, "Get full detail for a single task"},
	"get-spec":                  {nil, "Read a task's spec file contents"},
	"task-lineage":              {nil, "Show task DAG history and who worked each stage"},
	"submit-result":             {nil, "Submit a result file for a task"},
	"close-task":                {leadOnly, "Close a completed task"},
	"done-task":                 {nil, "One-shot finish: result artifact plus completion"},
	"reopen-task":               {nil, "Reopen a closed or dead-end task"},
	"pull-task":                 {nil, "Claim a specific actionable task by ID"},
	"complete-task":             {nil, "DAG-routed task completion"},
	"check-gates":               {nil, "Check the gates guarding a task's next transition"},
	"create-result":             {nil, "Write a result artifact for a task"},
	"create-review":             {nil, "Write a review artifact for a task"},
	"create-test-report":        {nil, "Write a test report artifact for a task"},
	"block-task":                {nil, "Mark a task blocked with a reason"},
	"add-comment":               {nil, "Append a comment to a task's activity feed"},
	"get-comments":              {nil, "List a task's comments"},
	"list-flows":                {nil, "List available task flow types"},
	"show-flow":                 {nil, "Show a flow's stages and transitions"},
	"next-status":               {nil, "Query routing: what status comes next?"},
	"claim-file":                {editClasses, "Claim a file for exclusive editing"},
	"release-file":              {editClasses, "Release a file claim"},
	"get-claims":                {nil, "List active file claims"},
	"party-status":              {leadOnly, "Full raid health dashboard"},
	"check-activity":            {nil, "Check an agent's activity level"},
	"check-freshness":           {leadOnly, "Check file freshness vs agent's last context"},
	"sitrep":                    {nil, "Fused picture: agents, tasks, claims, flags"},
	"update-hp":                 {leadOnly, "Daemon-only: write observed HP to the database"},
	"cold-start":                {nil, "Bootstrap into a session, get onboarding"},
	"fenix-down":                {nil, "Dump session knowledge before context death"},
	"debrief":                   {leadOnly, "File a session debrief"},
	"end-session":               {leadOnly, "End the current session"},
	"get-triggers":              {nil, "Return the trigger word codebook"},
	"clear-moon-crash":          {leadOnly, "Clear emergency flag, resume assignments"},
	"stand-down":                {leadOnly, "Dismiss the party"},
	"retire-agent":              {leadOnly, "Signal a single daemon to exit gracefully"},
	"interrupt-agent":           {leadOnly, "Kill an agent's in-flight model invocation"},
	"hand-off-zone":             {nil, "Direct zone handoff between agents"},
	"poll":                      {nil, "Poll for messages and tasks"},
	"tools":                     {nil, "List available tools for your class"},
	"req":                       {nil, "Requirement tree operations (req --help)"},
	"backlog":                   {nil, "Backlog triage operations (backlog --help)"},
	"intel":                     {nil, "Intel doc operations (intel --help)"},
	"daemon":                    {nil, "Run an agent as a supervised daemon"},
	"daemons":                   {nil, "List running daemon agents"},
	"dashboard":                 {nil, "Live terminal dashboard of tasks and agents"},
}

var toolsCmd = &cobra.Command{
	Use:     "tools",
	GroupID: "comms",
	Short:   "List available tools for your class",
	Run: func(cmd *cobra.Command, args []string) {
		class, _ := cmd.Flags().GetString("class")
		if class == "" {
			class = callerClass()
		}

		names := make([]string, 0, len(toolCatalog))
		for name := range toolCatalog {
			names = append(names, name)
		}
		sort.Strings(names)

		var tools []R
		for _, name := range names {
			entry := toolCatalog[name]
			if !classAllowed(class, entry.classes) {
				continue
			}
			tools = append(tools, R{
				"command":     "minion " + name,
				"description": entry.description,
			})
		}

		result := R{"class": class, "tools": tools}
		protocolPath := filepath.Join(workdir.DocsDir(), "protocol-"+class+".md")
		if _, err := os.Stat(protocolPath); err == nil {
			result["protocol_doc"] = protocolPath
		} else {
			result["protocol_doc"] = nil
		}
		emit(result, nil)
	},
}

func classAllowed(class string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == class {
			return true
		}
	}
	return false
}

func init() {
	toolsCmd.Flags().String("class", "", "class to list tools for (default: MINION_CLASS)")

	rootCmd.AddCommand(toolsCmd)
}
