package flow

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func writeFlow(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name+".yaml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

const simpleFlow = `description: two hops and done
stages:
  open:
    description: waiting
    next: working
  working:
    description: busy
    next: done
    fail: open
  done:
    description: finished
    terminal: true
`

func TestLoadFromBasic(t *testing.T) {
	dir := t.TempDir()
	writeFlow(t, dir, "simple", simpleFlow)

	f, err := LoadFrom("simple", dir)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if f.Name != "simple" {
		t.Errorf("Name = %q, want file-derived %q", f.Name, "simple")
	}
	if len(f.Stages) != 3 {
		t.Errorf("len(Stages) = %d, want 3", len(f.Stages))
	}
	if f.Stages["working"].Fail != "open" {
		t.Errorf("working.fail = %q, want open", f.Stages["working"].Fail)
	}
}

func TestLoadFromMissingFile(t *testing.T) {
	if _, err := LoadFrom("nope", t.TempDir()); err == nil {
		t.Fatal("expected error for missing flow file")
	}
}

func TestLoadFromInheritance(t *testing.T) {
	dir := t.TempDir()
	writeFlow(t, dir, "base", `description: base
stages:
  open:
    description: waiting
    next: done
  review:
    description: checking
    next: done
    workers: ["cap:review"]
  done:
    description: finished
    terminal: true
  dropped:
    description: abandoned
    terminal: true
dead_ends: [dropped]
`)
	writeFlow(t, dir, "child", `description: child
inherits: base
stages:
  review:
    description: stricter checking
    next: done
    fail: open
`)

	f, err := LoadFrom("child", dir)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if len(f.Stages) != 4 {
		t.Errorf("len(Stages) = %d, want 4 merged stages", len(f.Stages))
	}
	// Child stage replaces the base stage wholesale.
	review := f.Stages["review"]
	if review.Fail != "open" {
		t.Errorf("review.fail = %q, want open from child", review.Fail)
	}
	if len(review.Workers) != 0 {
		t.Errorf("review.workers = %v, want dropped by wholesale replace", review.Workers)
	}
	if !reflect.DeepEqual(f.DeadEnds, []string{"dropped"}) {
		t.Errorf("DeadEnds = %v, want inherited [dropped]", f.DeadEnds)
	}
}

func TestLoadFromInheritanceCycle(t *testing.T) {
	dir := t.TempDir()
	writeFlow(t, dir, "a", "inherits: b\nstages:\n  s:\n    description: x\n    terminal: true\n")
	writeFlow(t, dir, "b", "inherits: a\nstages:\n  s:\n    description: x\n    terminal: true\n")

	_, err := LoadFrom("a", dir)
	if err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("expected inheritance cycle error, got %v", err)
	}
}

func TestValidateReferences(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "next points nowhere",
			content: `stages:
  open:
    description: x
    next: ghost
`,
			wantErr: "unknown stage",
		},
		{
			name: "dead end points nowhere",
			content: `stages:
  open:
    description: x
    terminal: true
dead_ends: [ghost]
`,
			wantErr: "dead_end",
		},
		{
			name: "shortcut from unknown stage",
			content: `stages:
  open:
    description: x
    terminal: true
shortcuts:
  ghost: [open]
`,
			wantErr: "shortcut",
		},
		{
			name: "spawns unknown flow",
			content: `stages:
  open:
    description: x
    spawns: ghostflow
    terminal: true
`,
			wantErr: "spawns",
		},
		{
			name:    "no stages at all",
			content: "description: empty\n",
			wantErr: "no stages",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFlow(t, dir, "bad", tt.content)
			_, err := LoadFrom("bad", dir)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("LoadFrom() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestListFrom(t *testing.T) {
	dir := t.TempDir()
	writeFlow(t, dir, "bugfix", simpleFlow)
	writeFlow(t, dir, "feature", simpleFlow)
	writeFlow(t, dir, "_agent-classes", "classes: {}\n")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	names, err := ListFrom(dir)
	if err != nil {
		t.Fatalf("ListFrom() error = %v", err)
	}
	if !reflect.DeepEqual(names, []string{"bugfix", "feature"}) {
		t.Errorf("ListFrom() = %v, want [bugfix feature]", names)
	}
}

// shippedFlowsDir points at the flow definitions bundled with the
// repository.
func shippedFlowsDir(t *testing.T) string {
	t.Helper()
	dir, err := filepath.Abs(filepath.Join("..", "..", "task-flows"))
	if err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestShippedFlowsLoad(t *testing.T) {
	dir := shippedFlowsDir(t)
	for _, name := range []string{"bugfix", "feature", "chore", "task", "requirement", "requirement-lite"} {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadFrom(name, dir); err != nil {
				t.Errorf("LoadFrom(%q) error = %v", name, err)
			}
		})
	}
}

func TestShippedRequirementLiteShape(t *testing.T) {
	f, err := LoadFrom("requirement-lite", shippedFlowsDir(t))
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	want := []string{"completed", "decomposing", "seed", "tasked"}
	if got := f.StageNames(); !reflect.DeepEqual(got, want) {
		t.Errorf("StageNames() = %v, want %v", got, want)
	}
}

func TestShippedRequirementHappyPath(t *testing.T) {
	f, err := LoadFrom("requirement", shippedFlowsDir(t))
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	next, ok := f.NextStatus("seed", true)
	if !ok || next != "itemizing" {
		t.Errorf("NextStatus(seed, true) = %q, %v; want itemizing, true", next, ok)
	}
	if f.Stages["seed"].AltNext != "decomposing" {
		t.Errorf("seed.alt_next = %q, want decomposing", f.Stages["seed"].AltNext)
	}
}

func TestShippedBugfixActiveStatuses(t *testing.T) {
	f, err := LoadFrom("bugfix", shippedFlowsDir(t))
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	want := []string{"assigned", "fixed", "in_progress", "open", "verified"}
	if got := f.ActiveStatuses(); !reflect.DeepEqual(got, want) {
		t.Errorf("ActiveStatuses() = %v, want %v", got, want)
	}
}
