// Package workdir resolves the on-disk layout of a minion work directory
// and provides the atomic file primitives the comms layer depends on.
//
// The database is the runtime index; message bodies, battle plans, raid
// log entries and task artifacts all live as plain files under the work
// directory so they survive a rebuilt DB.
package workdir

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"
)

const (
	// EnvDBPath overrides the comms database location.
	EnvDBPath = "MINION_DB_PATH"
	// EnvDocsDir points at the shared docs/contracts directory.
	EnvDocsDir = "MINION_DOCS_DIR"
	// EnvFlowsDir overrides the task-flow YAML directory.
	EnvFlowsDir = "MINION_FLOWS_DIR"
	// EnvClass carries the caller's agent class for permission checks.
	EnvClass = "MINION_CLASS"
	// EnvWorkRoot overrides the default ~/.minion_work root.
	EnvWorkRoot = "MINION_WORK_ROOT"

	DBFileName = "comms.db"

	inboxDirName      = "inbox"
	battlePlanDirName = "battle-plans"
	raidLogDirName    = "raid-log"
)

// WorkRoot returns the root work directory, honoring MINION_WORK_ROOT.
func WorkRoot() string {
	if v := os.Getenv(EnvWorkRoot); v != "" {
		return expandHome(v)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".minion_work"
	}
	return filepath.Join(home, ".minion_work")
}

// DBPath resolves the comms database path. MINION_DB_PATH wins; the
// fallback is <work root>/comms.db.
func DBPath() string {
	if v := os.Getenv(EnvDBPath); v != "" {
		return expandHome(v)
	}
	return filepath.Join(WorkRoot(), DBFileName)
}

// WorkDir returns the directory holding the comms database. Content
// files (inbox, plans, requirements) are laid out relative to it.
func WorkDir() string {
	return filepath.Dir(DBPath())
}

// DocsDir resolves the docs directory used for contracts and briefings.
func DocsDir() string {
	if v := os.Getenv(EnvDocsDir); v != "" {
		return expandHome(v)
	}
	return filepath.Join(WorkRoot(), "docs")
}

// RequirementsRoot is where requirement folders live.
func RequirementsRoot() string {
	return filepath.Join(WorkDir(), "requirements")
}

// BacklogRoot is where backlog item folders live.
func BacklogRoot() string {
	return filepath.Join(WorkDir(), "backlog")
}

// IntelRoot is where intel docs live.
func IntelRoot() string {
	return filepath.Join(WorkDir(), "intel")
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

// Slugify lowercases and strips text down to [a-z0-9-], capped at 40
// runes, for use in content file names.
func Slugify(text string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastDash = false
		case !lastDash:
			b.WriteRune('-')
			lastDash = true
		}
		if b.Len() >= 40 {
			break
		}
	}
	return strings.Trim(b.String(), "-")
}

// Timestamp returns a filesystem-safe UTC timestamp.
func Timestamp() string {
	return time.Now().UTC().Format("20060102T150405")
}

// MessageFilePath builds the content file path for a message to an
// agent: <work>/inbox/<to>/<ts>-<from>-<slug>.md. The timestamp has
// second precision, so a numeric suffix keeps same-second sends from
// overwriting each other.
func MessageFilePath(to, from, content string) string {
	base := fmt.Sprintf("%s-%s", Timestamp(), Slugify(from))
	if slug := Slugify(content); slug != "" {
		base += "-" + slug
	}
	dir := filepath.Join(WorkDir(), inboxDirName, to)
	path := filepath.Join(dir, base+".md")
	for n := 2; ; n++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path
		}
		path = filepath.Join(dir, fmt.Sprintf("%s-%d.md", base, n))
	}
}

// BattlePlanFilePath builds the content file path for a battle plan.
func BattlePlanFilePath(setBy string) string {
	name := fmt.Sprintf("%s-%s.md", Timestamp(), Slugify(setBy))
	return filepath.Join(WorkDir(), battlePlanDirName, name)
}

// RaidLogFilePath builds the content file path for a raid log entry.
func RaidLogFilePath(agent, priority string) string {
	name := fmt.Sprintf("%s-%s-%s.md", Timestamp(), Slugify(agent), priority)
	return filepath.Join(WorkDir(), raidLogDirName, name)
}

// AtomicWriteFile writes content via a temp file in the target
// directory followed by a rename, so readers never see partial bodies.
func AtomicWriteFile(path, content string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// ReadContentFile reads a content file, returning "" when the path is
// empty or unreadable. Message rendering tolerates missing bodies.
func ReadContentFile(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}
