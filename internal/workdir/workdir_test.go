package workdir

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "simple words", in: "Login Crash", want: "login-crash"},
		{name: "punctuation collapses", in: "fix: the (old) bug!", want: "fix-the-old-bug"},
		{name: "leading and trailing junk", in: "  --hello--  ", want: "hello"},
		{name: "digits survive", in: "retry 3 times", want: "retry-3-times"},
		{name: "empty input", in: "", want: ""},
		{name: "capped length", in: "this title is far far far too long to fit inside the slug limit", want: "this-title-is-far-far-far-too-long-to-fi"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Slugify(tt.in); got != tt.want {
				t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestDBPathResolution(t *testing.T) {
	t.Run("explicit db path wins", func(t *testing.T) {
		t.Setenv(EnvDBPath, "/tmp/custom/minion.db")
		t.Setenv(EnvWorkRoot, "/tmp/ignored")
		if got := DBPath(); got != "/tmp/custom/minion.db" {
			t.Errorf("DBPath() = %q, want /tmp/custom/minion.db", got)
		}
	})

	t.Run("falls back to work root", func(t *testing.T) {
		t.Setenv(EnvDBPath, "")
		root := t.TempDir()
		t.Setenv(EnvWorkRoot, root)
		want := filepath.Join(root, DBFileName)
		if got := DBPath(); got != want {
			t.Errorf("DBPath() = %q, want %q", got, want)
		}
	})
}

func TestLayoutRoots(t *testing.T) {
	root := t.TempDir()
	t.Setenv(EnvDBPath, "")
	t.Setenv(EnvWorkRoot, root)

	if got := WorkDir(); got != root {
		t.Errorf("WorkDir() = %q, want %q", got, root)
	}
	if got := RequirementsRoot(); got != filepath.Join(root, "requirements") {
		t.Errorf("RequirementsRoot() = %q", got)
	}
	if got := BacklogRoot(); got != filepath.Join(root, "backlog") {
		t.Errorf("BacklogRoot() = %q", got)
	}
	if got := IntelRoot(); got != filepath.Join(root, "intel") {
		t.Errorf("IntelRoot() = %q", got)
	}
}

func TestMessageFilePathUnique(t *testing.T) {
	root := t.TempDir()
	t.Setenv(EnvDBPath, "")
	t.Setenv(EnvWorkRoot, root)

	seen := map[string]bool{}
	// Same sender, same content, same second: each path must still be
	// distinct so earlier bodies survive.
	for i := 0; i < 3; i++ {
		path := MessageFilePath("coder-1", "boss", "ship it now")
		if seen[path] {
			t.Fatalf("MessageFilePath() repeated %q", path)
		}
		seen[path] = true
		if err := AtomicWriteFile(path, "body"); err != nil {
			t.Fatal(err)
		}
	}

	t.Run("content slug in name", func(t *testing.T) {
		path := MessageFilePath("coder-1", "boss", "Fix The Login Bug")
		if !strings.Contains(filepath.Base(path), "-boss-fix-the-login-bug") {
			t.Errorf("MessageFilePath() = %q, want sender and content slugs", path)
		}
	})
}

func TestAtomicWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "body.md")

	if err := AtomicWriteFile(path, "hello"); err != nil {
		t.Fatalf("AtomicWriteFile() error = %v", err)
	}
	if got := ReadContentFile(path); got != "hello" {
		t.Errorf("ReadContentFile() = %q, want %q", got, "hello")
	}

	// Overwrite replaces the body wholesale.
	if err := AtomicWriteFile(path, "second"); err != nil {
		t.Fatalf("AtomicWriteFile() overwrite error = %v", err)
	}
	if got := ReadContentFile(path); got != "second" {
		t.Errorf("ReadContentFile() after overwrite = %q, want %q", got, "second")
	}
}

func TestReadContentFileMissing(t *testing.T) {
	if got := ReadContentFile(""); got != "" {
		t.Errorf("ReadContentFile(empty path) = %q, want empty", got)
	}
	if got := ReadContentFile(filepath.Join(t.TempDir(), "nope.md")); got != "" {
		t.Errorf("ReadContentFile(missing) = %q, want empty", got)
	}
}

func TestDocsDirOverride(t *testing.T) {
	t.Setenv(EnvDocsDir, "/srv/docs")
	if got := DocsDir(); got != "/srv/docs" {
		t.Errorf("DocsDir() = %q, want /srv/docs", got)
	}
}
