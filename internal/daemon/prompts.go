package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Prompt assembly. Every section prefers an installed contract or
// protocol doc and falls back to a hardcoded minimum, so a daemon
// works against an empty docs directory.

// buildBootPrompt assembles the first-invocation prompt: protocol,
// rules, then the ON STARTUP boot sequence.
func buildBootPrompt(docsDir string, cfg *AgentConfig, guardrails string) string {
	sections := []string{
		loadProtocol(docsDir, cfg.Role, cfg.Name),
		loadRules(docsDir, cfg.Name, cfg.Role, cfg.Capabilities),
		loadBootSection(docsDir, cfg.Name, cfg.Role),
	}
	if guardrails != "" {
		sections = append([]string{guardrails}, sections...)
	}
	return joinSections(sections)
}

// buildInboxPrompt assembles a working-turn prompt with the polled
// messages and tasks inlined. historySnapshot, when non-empty, is the
// rolling buffer re-injected after a detected compaction.
func buildInboxPrompt(docsDir string, cfg *AgentConfig, pollData map[string]any, guardrails, historySnapshot string) string {
	var sections []string
	if guardrails != "" {
		sections = append(sections, guardrails)
	}
	sections = append(sections, loadProtocol(docsDir, cfg.Role, cfg.Name))
	if historySnapshot != "" {
		sections = append(sections, buildHistoryBlock(docsDir, historySnapshot))
	}
	sections = append(sections,
		loadRules(docsDir, cfg.Name, cfg.Role, cfg.Capabilities),
		formatInbox(docsDir, pollData, cfg.Name),
	)
	return joinSections(sections)
}

func joinSections(sections []string) string {
	var kept []string
	for _, s := range sections {
		if strings.TrimSpace(s) != "" {
			kept = append(kept, s)
		}
	}
	return strings.Join(kept, "\n\n")
}

// loadProtocol reads protocol-common.md plus protocol-{role}.md from
// the docs directory.
func loadProtocol(docsDir, role, agent string) string {
	var sections []string
	for _, name := range []string{"protocol-common.md", "protocol-" + role + ".md"} {
		if data, err := os.ReadFile(filepath.Join(docsDir, name)); err == nil {
			sections = append(sections, strings.TrimSpace(string(data)))
		}
	}
	if len(sections) > 0 {
		return strings.Join(sections, "\n\n")
	}
	return strings.Join([]string{
		"Communication protocol, via the `minion` CLI in the Bash tool:",
		fmt.Sprintf("- Check inbox: minion check-inbox --agent %s", agent),
		fmt.Sprintf("- Send message: minion send --from %s --to <recipient> --message '...'", agent),
		fmt.Sprintf("- Set status: minion set-status --agent %s --status '...'", agent),
		fmt.Sprintf("- Set context: minion set-context --agent %s --context '...'", agent),
		"- View agents: minion who",
		"- All minion commands output JSON.",
	}, "\n")
}

// loadRules builds the daemon rules block plus role and capability
// prompt files when installed.
func loadRules(docsDir, agent, role string, capabilities []string) string {
	var rulesText string
	if contract := LoadContract(docsDir, "daemon-rules"); contract != nil {
		sub := func(s string) string { return strings.ReplaceAll(s, "{agent}", agent) }
		lines := []string{"Autonomous daemon rules:"}
		for _, r := range contractStrings(contract, "common") {
			lines = append(lines, "- "+sub(r))
		}
		roleKey := "non_lead"
		if role == "lead" {
			roleKey = "lead"
		}
		for _, r := range contractStrings(contract, roleKey) {
			lines = append(lines, "- "+sub(r))
		}
		rulesText = strings.Join(lines, "\n")
	} else {
		rulesText = strings.Join([]string{
			"Autonomous daemon rules:",
			"- Do not use AskUserQuestion, it blocks in headless mode.",
			fmt.Sprintf("- Route questions to lead via Bash: minion send --from %s --to lead --message '...'", agent),
			"- Execute exactly the incoming task.",
			"- Send one summary message when done.",
			"- Task governance: lead manages task queue and assignment ownership.",
		}, "\n")
	}

	sections := []string{rulesText}
	if roleText := readPromptFile(docsDir, "roles", role); roleText != "" {
		sections = append(sections, roleText)
	}
	for _, capability := range capabilities {
		if capText := readPromptFile(docsDir, "capabilities", capability); capText != "" {
			sections = append(sections, capText)
		}
	}
	return strings.Join(sections, "\n\n")
}

func readPromptFile(docsDir, kind, name string) string {
	data, err := os.ReadFile(filepath.Join(docsDir, kind, name, "prompt.md"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// loadBootSection builds the ON STARTUP block from the boot-sequence
// contract.
func loadBootSection(docsDir, agent, role string) string {
	if contract := LoadContract(docsDir, "boot-sequence"); contract != nil {
		sub := func(s string) string {
			s = strings.ReplaceAll(s, "{agent}", agent)
			return strings.ReplaceAll(s, "{role}", role)
		}
		lines := []string{sub(contractString(contract, "preamble"))}
		for _, c := range contractStrings(contract, "commands") {
			lines = append(lines, "  "+sub(c))
		}
		lines = append(lines, "", sub(contractString(contract, "postamble")))
		return strings.Join(lines, "\n")
	}
	return strings.Join([]string{
		"BOOT: You just started. Run these commands via the Bash tool:",
		fmt.Sprintf("  minion register --name %s --class %s --transport daemon", agent, role),
		fmt.Sprintf("  minion set-context --agent %s --context 'just started'", agent),
		fmt.Sprintf("  minion set-status --agent %s --status 'ready for orders'", agent),
		"",
		"IMPORTANT: You are a daemon agent managed by minion-swarm.",
		"Do NOT run minion poll, the daemon polls for you.",
		"Do NOT use AskUserQuestion, it blocks in headless mode.",
		"After running these 3 commands, STOP. Do not do anything else.",
	}, "\n")
}

// formatInbox renders polled messages and tasks into an inline block
// the agent can act on without running check-inbox again.
func formatInbox(docsDir string, pollData map[string]any, agent string) string {
	tmpl := LoadContract(docsDir, "inbox-template")
	var lines []string

	messages := mapSlice(pollData["messages"])
	if len(messages) > 0 {
		if tmpl != nil {
			lines = append(lines, contractString(tmpl, "inbox_header"))
		} else {
			lines = append(lines, "=== INBOX (already consumed, do NOT run check-inbox) ===")
		}
		for _, msg := range messages {
			sender := strAt(msg, "from_agent", "unknown")
			content := strAt(msg, "content", "")
			if tmpl != nil {
				line := contractString(tmpl, "message_format")
				line = strings.ReplaceAll(line, "{sender}", sender)
				line = strings.ReplaceAll(line, "{content}", content)
				lines = append(lines, line)
			} else {
				lines = append(lines, fmt.Sprintf("FROM %s: %s", sender, content))
			}
		}
		if tmpl != nil {
			lines = append(lines, contractString(tmpl, "inbox_footer"))
		} else {
			lines = append(lines, "=== END INBOX ===")
		}
	}

	tasks := mapSlice(pollData["tasks"])
	if len(tasks) > 0 {
		if tmpl != nil {
			lines = append(lines, contractString(tmpl, "task_header"))
		} else {
			lines = append(lines, "=== AVAILABLE TASKS ===")
		}
		for _, task := range tasks {
			if tmpl != nil {
				line := contractString(tmpl, "task_format")
				line = strings.ReplaceAll(line, "{task_id}", fmt.Sprint(task["task_id"]))
				line = strings.ReplaceAll(line, "{title}", strAt(task, "title", ""))
				line = strings.ReplaceAll(line, "{status}", strAt(task, "status", ""))
				line = strings.ReplaceAll(line, "{claim_cmd}", strAt(task, "claim_cmd", ""))
				lines = append(lines, line)
			} else {
				lines = append(lines, fmt.Sprintf("  Task #%v: %s [%s]",
					task["task_id"], strAt(task, "title", ""), strAt(task, "status", "")))
				if claim := strAt(task, "claim_cmd", ""); claim != "" {
					lines = append(lines, "    Claim: "+claim)
				}
			}
		}
		if tmpl != nil {
			lines = append(lines, contractString(tmpl, "task_footer"))
		} else {
			lines = append(lines, "=== END TASKS ===")
		}
	}

	lines = append(lines, "")
	if tmpl != nil {
		for _, line := range contractStrings(tmpl, "post_instructions") {
			lines = append(lines, strings.ReplaceAll(line, "{agent}", agent))
		}
	} else {
		lines = append(lines,
			"Process the above, then send results:",
			fmt.Sprintf("  minion send --from %s --to <recipient> --message '...'", agent),
			"Do NOT run check-inbox or re-register.",
		)
	}
	return strings.Join(lines, "\n")
}

// buildHistoryBlock wraps a rolling buffer snapshot for re-injection
// after compaction.
func buildHistoryBlock(docsDir string, snapshot string) string {
	if contract := LoadContract(docsDir, "compaction-markers"); contract != nil {
		if hb, ok := contract["history_block"].(map[string]any); ok {
			return strings.Join([]string{
				contractString(hb, "header"),
				contractString(hb, "preamble"),
				snapshot,
				contractString(hb, "footer"),
			}, "\n")
		}
	}
	return strings.Join([]string{
		"==================== RECENT HISTORY (rolling buffer) ====================",
		"The following is your captured output history from before compaction.",
		"Use it to restore recent context and avoid redoing completed work.",
		"=========================================================================",
		snapshot,
		"======================= END RECENT HISTORY ==============================",
	}, "\n")
}

// mapSlice normalizes poll data lists, which arrive either as typed
// row slices or as decoded JSON.
func mapSlice(v any) []map[string]any {
	switch s := v.(type) {
	case []map[string]any:
		return s
	case []any:
		out := make([]map[string]any, 0, len(s))
		for _, item := range s {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

func strAt(m map[string]any, key, fallback string) string {
	if s, ok := m[key].(string); ok && s != "" {
		return s
	}
	return fallback
}
