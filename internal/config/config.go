// Package config holds the viper-backed configuration singleton for the
// minion CLI. Environment variables take precedence over config files.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

var v *viper.Viper

// UserDefaults mirrors the optional ~/.minion/minion.toml file. Values
// here seed viper defaults and are overridden by env vars and flags.
type UserDefaults struct {
	WorkRoot string `toml:"work_root"`
	FlowsDir string `toml:"flows_dir"`
	DocsDir  string `toml:"docs_dir"`
	Lead     string `toml:"lead"`
}

// Initialize sets up the viper configuration singleton.
// Should be called once at application startup.
func Initialize() error {
	v = viper.New()
	v.SetConfigType("yaml")

	// Precedence: project .minion/config.yaml > ~/.config/minion/config.yaml
	// > ~/.minion/config.yaml. Walking up from CWD lets commands work
	// from subdirectories of a project.
	configFileSet := false
	if cwd, err := os.Getwd(); err == nil {
		for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			configPath := filepath.Join(dir, ".minion", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
				break
			}
		}
	}
	if !configFileSet {
		if configDir, err := os.UserConfigDir(); err == nil {
			configPath := filepath.Join(configDir, "minion", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}
	if !configFileSet {
		if homeDir, err := os.UserHomeDir(); err == nil {
			configPath := filepath.Join(homeDir, ".minion", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	// MINION_DB_PATH, MINION_CLASS, MINION_DOCS_DIR, MINION_FLOWS_DIR,
	// MINION_WORK_ROOT map onto db-path, class, docs-dir, flows-dir,
	// work-root.
	v.SetEnvPrefix("MINION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("json", true)
	v.SetDefault("db-path", "")
	v.SetDefault("class", "")
	v.SetDefault("docs-dir", "")
	v.SetDefault("flows-dir", "")
	v.SetDefault("work-root", "")
	v.SetDefault("poll-interval", 5)
	v.SetDefault("poll-timeout", 30)

	applyUserDefaults()

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return err
		}
	}
	return nil
}

// applyUserDefaults loads ~/.minion/minion.toml when present and folds
// the values in as viper defaults.
func applyUserDefaults() {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return
	}
	path := filepath.Join(homeDir, ".minion", "minion.toml")
	var ud UserDefaults
	if _, err := toml.DecodeFile(path, &ud); err != nil {
		return
	}
	if ud.WorkRoot != "" {
		v.SetDefault("work-root", ud.WorkRoot)
	}
	if ud.FlowsDir != "" {
		v.SetDefault("flows-dir", ud.FlowsDir)
	}
	if ud.DocsDir != "" {
		v.SetDefault("docs-dir", ud.DocsDir)
	}
	if ud.Lead != "" {
		v.SetDefault("lead", ud.Lead)
	}
}

func ensure() *viper.Viper {
	if v == nil {
		_ = Initialize()
	}
	return v
}

// GetString returns a config value as string.
func GetString(key string) string { return ensure().GetString(key) }

// GetBool returns a config value as bool.
func GetBool(key string) bool { return ensure().GetBool(key) }

// GetInt returns a config value as int.
func GetInt(key string) int { return ensure().GetInt(key) }

// Set overrides a config value (used by tests and flag binding).
func Set(key string, value any) { ensure().Set(key, value) }
