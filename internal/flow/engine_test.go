package flow

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/ai-janitor/minion-factory-sub000/internal/workdir"
)

const engineFlow = `description: review pipeline
stages:
  open:
    description: waiting
    next: working
    alt_next: dropped
    workers: [class_required]
  working:
    description: busy
    next: review
    fail: open
  review:
    description: checking
    next: done
    fail: working
    requires: [result.md]
    workers: ["cap:review"]
  done:
    description: finished
    terminal: true
  dropped:
    description: abandoned
    terminal: true
dead_ends: [dropped]
`

func engineDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFlow(t, dir, "pipeline", engineFlow)
	t.Setenv(workdir.EnvFlowsDir, dir)
	return dir
}

func TestApplyTransitionHappyPath(t *testing.T) {
	engineDir(t)

	res := ApplyTransition("pipeline", "open", TransitionOpts{Passed: true, ClassRequired: "coder"})
	if !res.Success {
		t.Fatalf("ApplyTransition() failed: %s", res.Error)
	}
	if res.ToStatus != "working" {
		t.Errorf("ToStatus = %q, want working", res.ToStatus)
	}
	// working has no workers spec: current assignee continues.
	if res.EligibleClasses != nil {
		t.Errorf("EligibleClasses = %v, want nil", res.EligibleClasses)
	}
}

func TestApplyTransitionFailEdge(t *testing.T) {
	engineDir(t)

	res := ApplyTransition("pipeline", "working", TransitionOpts{Passed: false})
	if !res.Success || res.ToStatus != "open" {
		t.Errorf("fail edge gave %+v, want to=open", res)
	}
}

func TestApplyTransitionTerminalRejected(t *testing.T) {
	engineDir(t)

	res := ApplyTransition("pipeline", "done", TransitionOpts{Passed: true})
	if res.Success || !strings.Contains(res.Error, "terminal") {
		t.Errorf("terminal stage should reject transitions, got %+v", res)
	}
}

func TestApplyTransitionUnknownStage(t *testing.T) {
	engineDir(t)

	res := ApplyTransition("pipeline", "ghost", TransitionOpts{Passed: true})
	if res.Success || !strings.Contains(res.Error, "unknown stage") {
		t.Errorf("unknown stage should fail, got %+v", res)
	}
}

func TestApplyTransitionExplicitTarget(t *testing.T) {
	engineDir(t)

	t.Run("valid alt target", func(t *testing.T) {
		res := ApplyTransition("pipeline", "open", TransitionOpts{ExplicitTarget: "dropped"})
		if !res.Success || res.ToStatus != "dropped" {
			t.Errorf("explicit alt_next gave %+v", res)
		}
	})

	t.Run("target not reachable in one hop", func(t *testing.T) {
		res := ApplyTransition("pipeline", "open", TransitionOpts{ExplicitTarget: "done"})
		if res.Success || !strings.Contains(res.Error, "not valid") {
			t.Errorf("unreachable explicit target should fail, got %+v", res)
		}
	})
}

func TestApplyTransitionGates(t *testing.T) {
	engineDir(t)
	ctxDir := t.TempDir()

	t.Run("missing artifact blocks entry", func(t *testing.T) {
		res := ApplyTransition("pipeline", "working", TransitionOpts{
			Passed: true,
			Env:    GateEnv{ContextDir: ctxDir},
		})
		if res.Success {
			t.Fatal("transition should fail while result.md is missing")
		}
		if len(res.GateFailures) != 1 || res.GateFailures[0].Gate != "result.md" {
			t.Errorf("GateFailures = %+v, want one result.md failure", res.GateFailures)
		}
	})

	t.Run("artifact present opens the gate", func(t *testing.T) {
		if err := os.WriteFile(filepath.Join(ctxDir, "result.md"), []byte("findings"), 0o644); err != nil {
			t.Fatal(err)
		}
		res := ApplyTransition("pipeline", "working", TransitionOpts{
			Passed: true,
			Env:    GateEnv{ContextDir: ctxDir},
		})
		if !res.Success || res.ToStatus != "review" {
			t.Errorf("gated transition gave %+v, want to=review", res)
		}
		want := []string{"auditor", "lead", "oracle"}
		if !reflect.DeepEqual(res.EligibleClasses, want) {
			t.Errorf("EligibleClasses = %v, want %v", res.EligibleClasses, want)
		}
	})
}

func TestEligibleWorkersClassRequired(t *testing.T) {
	f := &Flow{
		Name: "w",
		Stages: map[string]Stage{
			"open": {Workers: []string{"class_required", "oracle"}},
		},
	}
	want := []string{"coder", "oracle"}
	if got := EligibleWorkers(f, "open", "coder"); !reflect.DeepEqual(got, want) {
		t.Errorf("EligibleWorkers() = %v, want %v", got, want)
	}

	// Empty class_required contributes nothing.
	if got := EligibleWorkers(f, "open", ""); !reflect.DeepEqual(got, []string{"oracle"}) {
		t.Errorf("EligibleWorkers(no class) = %v, want [oracle]", got)
	}

	if got := EligibleWorkers(f, "missing", "coder"); got != nil {
		t.Errorf("EligibleWorkers(missing stage) = %v, want nil", got)
	}
}
