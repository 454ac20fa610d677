package daemon

import "encoding/json"

// Provider builds the child process command line for one LLM CLI.
// Only the claude CLI is implemented; the seam exists so other CLIs
// can slot in without touching the runner.
type Provider interface {
	// BuildCommand assembles argv for one invocation. useResume asks
	// for session continuation when a session id is known.
	BuildCommand(prompt string, useResume bool) []string
	// Guardrails returns provider-specific prompt text prepended to
	// every assembled prompt. May be empty.
	Guardrails() string
	// SupportsResume reports whether the CLI can continue a session.
	SupportsResume() bool
	// ResumeLabel names the resume mechanism for log lines.
	ResumeLabel() string
	// SetSessionID records the session captured from child output.
	SetSessionID(id string)
}

type claudeProvider struct {
	cfg       *AgentConfig
	sessionID string
}

// NewProvider returns the provider for an agent config. The config
// loader has already rejected anything but claude.
func NewProvider(cfg *AgentConfig) Provider {
	return &claudeProvider{cfg: cfg}
}

func (p *claudeProvider) BuildCommand(prompt string, useResume bool) []string {
	cmd := []string{
		"claude",
		"-p", prompt,
		"--output-format", "stream-json",
		"--verbose",
	}
	// The assembled prompt replaces the CLI's default system prompt
	// entirely so daemon agents don't inherit user-level defaults.
	if p.cfg.System != "" {
		cmd = append(cmd, "--system-prompt", p.cfg.System)
	}
	if useResume && p.sessionID != "" {
		cmd = append(cmd, "--resume", p.sessionID)
	}
	if p.cfg.AllowedTools != "" {
		cmd = append(cmd, "--allowed-tools", p.cfg.AllowedTools)
	}
	if p.cfg.PermissionMode != "" {
		cmd = append(cmd, "--permission-mode", p.cfg.PermissionMode)
	}
	if p.cfg.Model != "" {
		cmd = append(cmd, "--model", p.cfg.Model)
	}
	return cmd
}

func (p *claudeProvider) Guardrails() string     { return "" }
func (p *claudeProvider) SupportsResume() bool   { return true }
func (p *claudeProvider) ResumeLabel() string    { return "claude --resume" }
func (p *claudeProvider) SetSessionID(id string) { p.sessionID = id }

// ExtractSessionID parses the session UUID from a stream-json result
// event line, "" when the line carries none.
func ExtractSessionID(line string) string {
	var data map[string]any
	if err := json.Unmarshal([]byte(line), &data); err != nil {
		return ""
	}
	if t, _ := data["type"].(string); t != "result" {
		return ""
	}
	if sid, ok := data["session_id"].(string); ok && sid != "" {
		return sid
	}
	if sid, ok := data["sessionId"].(string); ok && sid != "" {
		return sid
	}
	return ""
}
