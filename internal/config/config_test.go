package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestInitializeDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cwd := t.TempDir()
	if err := os.Chdir(cwd); err != nil {
		t.Fatal(err)
	}

	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if !GetBool("json") {
		t.Error("json default = false, want true")
	}
	if GetInt("poll-interval") != 5 || GetInt("poll-timeout") != 30 {
		t.Errorf("poll defaults = %d / %d", GetInt("poll-interval"), GetInt("poll-timeout"))
	}
	if GetString("db-path") != "" {
		t.Errorf("db-path default = %q", GetString("db-path"))
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("MINION_DB_PATH", "/tmp/comms.db")
	t.Setenv("MINION_POLL_INTERVAL", "9")

	if err := Initialize(); err != nil {
		t.Fatal(err)
	}
	if GetString("db-path") != "/tmp/comms.db" {
		t.Errorf("db-path = %q", GetString("db-path"))
	}
	if GetInt("poll-interval") != 9 {
		t.Errorf("poll-interval = %d", GetInt("poll-interval"))
	}
}

func TestProjectConfigFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, ".minion"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, ".minion", "config.yaml"),
		[]byte("class: oracle\npoll-timeout: 60\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	sub := filepath.Join(root, "src", "deep")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(sub); err != nil {
		t.Fatal(err)
	}

	if err := Initialize(); err != nil {
		t.Fatal(err)
	}
	if GetString("class") != "oracle" {
		t.Errorf("class = %q, want value from project config found by walking up", GetString("class"))
	}
	if GetInt("poll-timeout") != 60 {
		t.Errorf("poll-timeout = %d", GetInt("poll-timeout"))
	}
}

func TestUserDefaultsToml(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	if err := os.MkdirAll(filepath.Join(home, ".minion"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(home, ".minion", "minion.toml"),
		[]byte("work_root = \"/srv/project/.work\"\nlead = \"boss\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}

	if err := Initialize(); err != nil {
		t.Fatal(err)
	}
	if GetString("work-root") != "/srv/project/.work" {
		t.Errorf("work-root = %q", GetString("work-root"))
	}
	if GetString("lead") != "boss" {
		t.Errorf("lead = %q", GetString("lead"))
	}

	t.Run("env still wins over toml", func(t *testing.T) {
		t.Setenv("MINION_WORK_ROOT", "/elsewhere")
		if GetString("work-root") != "/elsewhere" {
			t.Errorf("work-root = %q, want env override", GetString("work-root"))
		}
	})
}

func TestSet(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	if err := Initialize(); err != nil {
		t.Fatal(err)
	}
	Set("class", "coder")
	if GetString("class") != "coder" {
		t.Errorf("class = %q after Set", GetString("class"))
	}
}
