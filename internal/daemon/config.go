// Package daemon runs a minion agent as a long-lived supervisor: it
// polls the comms database for work, invokes the provider CLI with an
// assembled prompt, parses the stream-json output for token usage and
// compaction markers, and respawns the agent as a fresh generation
// when its context window is exhausted.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/ai-janitor/minion-factory-sub000/internal/classes"
	"github.com/ai-janitor/minion-factory-sub000/internal/workdir"
)

// Defaults applied to agent entries that omit the tuning knobs.
const (
	DefaultMaxHistoryTokens   = 100_000
	DefaultMaxPromptChars     = 120_000
	DefaultNoOutputTimeoutSec = 600
	DefaultRetryBackoffSec    = 30
	DefaultRetryBackoffMaxSec = 300
)

// AgentConfig is one agent entry from a crew YAML file.
type AgentConfig struct {
	Name               string
	Role               string
	Zone               string
	Provider           string
	System             string
	AllowedTools       string
	PermissionMode     string
	Model              string
	MaxHistoryTokens   int
	MaxPromptChars     int
	NoOutputTimeoutSec int
	RetryBackoffSec    int
	RetryBackoffMaxSec int
	Capabilities       []string
}

// SwarmConfig is a parsed crew YAML: where the project lives, where
// the comms database and docs are, and the agent roster.
type SwarmConfig struct {
	ConfigPath string
	CrewName   string
	ProjectDir string
	CommsDB    string
	DocsDir    string
	Agents     map[string]*AgentConfig
}

// RuntimeDir is where the daemon keeps logs and state, under the
// project directory so a crew's runtime artifacts travel with it.
func (c *SwarmConfig) RuntimeDir() string { return filepath.Join(c.ProjectDir, ".minion-swarm") }

// LogsDir holds per-agent daemon logs and raw stream captures.
func (c *SwarmConfig) LogsDir() string { return filepath.Join(c.RuntimeDir(), "logs") }

// StateDir holds per-agent state files and the daemon registry.
func (c *SwarmConfig) StateDir() string { return filepath.Join(c.RuntimeDir(), "state") }

// EnsureRuntimeDirs creates the runtime directory tree.
func (c *SwarmConfig) EnsureRuntimeDirs() error {
	for _, dir := range []string{c.LogsDir(), c.StateDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

type rawCrew struct {
	ProjectDir   string              `yaml:"project_dir"`
	DocsDir      string              `yaml:"docs_dir"`
	SystemPrefix string              `yaml:"system_prefix"`
	Agents       map[string]rawAgent `yaml:"agents"`
}

type rawAgent struct {
	Role               string   `yaml:"role"`
	Zone               string   `yaml:"zone"`
	Provider           string   `yaml:"provider"`
	System             string   `yaml:"system"`
	AllowedTools       string   `yaml:"allowed_tools"`
	PermissionMode     string   `yaml:"permission_mode"`
	Model              string   `yaml:"model"`
	MaxHistoryTokens   int      `yaml:"max_history_tokens"`
	MaxPromptChars     int      `yaml:"max_prompt_chars"`
	NoOutputTimeoutSec int      `yaml:"no_output_timeout_sec"`
	RetryBackoffSec    int      `yaml:"retry_backoff_sec"`
	RetryBackoffMaxSec int      `yaml:"retry_backoff_max_sec"`
	Capabilities       []string `yaml:"capabilities"`
}

// LoadConfig parses a crew YAML into a SwarmConfig. The comms database
// path always comes from the environment (set by whoever spawned the
// daemon), never from the YAML, so stale paths in old crew files are
// ignored.
func LoadConfig(configPath string) (*SwarmConfig, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("reading crew config: %w", err)
	}

	var raw rawCrew
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing crew config: %w", err)
	}
	if len(raw.Agents) == 0 {
		return nil, fmt.Errorf("crew config %s defines no agents", absPath)
	}

	baseDir := filepath.Dir(absPath)
	projectDir := resolveRelative(raw.ProjectDir, baseDir)
	if raw.ProjectDir == "" {
		projectDir = baseDir
	}
	docsDir := resolveRelative(raw.DocsDir, baseDir)
	if raw.DocsDir == "" {
		docsDir = workdir.DocsDir()
	}

	crewName := filepath.Base(absPath)
	crewName = crewName[:len(crewName)-len(filepath.Ext(crewName))]

	cfg := &SwarmConfig{
		ConfigPath: absPath,
		CrewName:   crewName,
		ProjectDir: projectDir,
		CommsDB:    workdir.DBPath(),
		DocsDir:    docsDir,
		Agents:     make(map[string]*AgentConfig, len(raw.Agents)),
	}

	for name, item := range raw.Agents {
		agent, err := buildAgentConfig(name, item, raw.SystemPrefix)
		if err != nil {
			return nil, err
		}
		cfg.Agents[name] = agent
	}
	return cfg, nil
}

func buildAgentConfig(name string, item rawAgent, systemPrefix string) (*AgentConfig, error) {
	provider := item.Provider
	if provider == "" {
		provider = "claude"
	}
	if provider != "claude" {
		return nil, fmt.Errorf("agent %q: unsupported provider %q", name, provider)
	}

	role := item.Role
	if role == "" {
		role = "coder"
	}

	system := item.System
	if system == "" {
		system = fmt.Sprintf(
			"You are %s (%s) running under minion-swarm. "+
				"Check inbox, execute tasks, and report when done.", name, role)
	}
	if systemPrefix != "" {
		system = systemPrefix + "\n\n" + system
	}

	caps := item.Capabilities
	if caps == nil {
		caps = classes.Default().CapabilitiesOf(role)
	}

	agent := &AgentConfig{
		Name:               name,
		Role:               role,
		Zone:               item.Zone,
		Provider:           provider,
		System:             system,
		AllowedTools:       item.AllowedTools,
		PermissionMode:     item.PermissionMode,
		Model:              item.Model,
		MaxHistoryTokens:   orDefault(item.MaxHistoryTokens, DefaultMaxHistoryTokens),
		MaxPromptChars:     orDefault(item.MaxPromptChars, DefaultMaxPromptChars),
		NoOutputTimeoutSec: orDefault(item.NoOutputTimeoutSec, DefaultNoOutputTimeoutSec),
		RetryBackoffSec:    orDefault(item.RetryBackoffSec, DefaultRetryBackoffSec),
		RetryBackoffMaxSec: orDefault(item.RetryBackoffMaxSec, DefaultRetryBackoffMaxSec),
		Capabilities:       caps,
	}
	return agent, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func resolveRelative(p, base string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}
