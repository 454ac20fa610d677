package flow

import (
	"reflect"
	"strings"
	"testing"
)

func sampleFlow() *Flow {
	return &Flow{
		Name: "sample",
		Stages: map[string]Stage{
			"open":    {Next: "working", AltNext: "parked_stage"},
			"working": {Next: "review", Fail: "open"},
			"review":  {Next: "done", Fail: "working", Workers: []string{"cap:review"}},
			"parked_stage": {
				Next:   "working",
				Parked: true,
			},
			"done":    {Terminal: true},
			"dropped": {Terminal: true},
		},
		DeadEnds:  []string{"dropped"},
		Shortcuts: map[string][]string{"open": {"dropped"}},
	}
}

func TestValidTransitions(t *testing.T) {
	f := sampleFlow()

	tests := []struct {
		name string
		from string
		want []string
	}{
		{name: "next plus alt plus shortcut", from: "open", want: []string{"working", "parked_stage", "dropped"}},
		{name: "next plus fail", from: "working", want: []string{"review", "open"}},
		{name: "terminal has none", from: "done", want: nil},
		{name: "unknown stage", from: "ghost", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.ValidTransitions(tt.from); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ValidTransitions(%q) = %v, want %v", tt.from, got, tt.want)
			}
		})
	}
}

func TestNextStatus(t *testing.T) {
	f := sampleFlow()

	tests := []struct {
		name   string
		from   string
		passed bool
		want   string
		wantOK bool
	}{
		{name: "happy path", from: "working", passed: true, want: "review", wantOK: true},
		{name: "fail edge", from: "working", passed: false, want: "open", wantOK: true},
		{name: "fail edge absent", from: "open", passed: false, wantOK: false},
		{name: "terminal stage", from: "done", passed: true, wantOK: false},
		{name: "unknown stage", from: "ghost", passed: true, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := f.NextStatus(tt.from, tt.passed)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("NextStatus(%q, %v) = %q, %v; want %q, %v",
					tt.from, tt.passed, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestEntryStageAndHandoff(t *testing.T) {
	f := &Flow{
		Name: "claims",
		Stages: map[string]Stage{
			"open":     {Next: "assigned", Workers: []string{"class_required"}},
			"assigned": {Next: "review"},
			"review":   {Next: "done", Workers: []string{"cap:review"}},
			"done":     {Terminal: true},
		},
	}

	if got := f.EntryStage(); got != "open" {
		t.Errorf("EntryStage() = %q, want open", got)
	}

	tests := []struct {
		name  string
		stage string
		want  bool
	}{
		{name: "entry stage workers mean claim eligibility", stage: "open", want: false},
		{name: "plain stage", stage: "assigned", want: false},
		{name: "worker stage mid-flow", stage: "review", want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.IsHandoff(tt.stage); got != tt.want {
				t.Errorf("IsHandoff(%q) = %v, want %v", tt.stage, got, tt.want)
			}
		})
	}
}

func TestActiveStatuses(t *testing.T) {
	f := sampleFlow()
	want := []string{"open", "review", "working"}
	if got := f.ActiveStatuses(); !reflect.DeepEqual(got, want) {
		t.Errorf("ActiveStatuses() = %v, want %v (terminal and parked excluded)", got, want)
	}
}

func TestIsDeadEnd(t *testing.T) {
	f := sampleFlow()
	if !f.IsDeadEnd("dropped") {
		t.Error("dropped should be a dead end")
	}
	if f.IsDeadEnd("done") {
		t.Error("done is terminal but not a dead end")
	}
}

func TestRenderDAG(t *testing.T) {
	out := sampleFlow().RenderDAG()

	for _, want := range []string{
		"flow: sample",
		"done [terminal]",
		"dropped [terminal] [dead-end]",
		"-> parked_stage (alt)",
		"-> open (fail)",
		"-> dropped (shortcut)",
		"workers: cap:review",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("RenderDAG() missing %q in:\n%s", want, out)
		}
	}
}
