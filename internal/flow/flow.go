// Package flow implements the YAML-defined task lifecycle DAGs: the
// flow loader, gate checks, the pure transition engine, and the
// parent/child rollup that advances requirements when their tasks
// finish.
package flow

import (
	"fmt"
	"sort"
	"strings"
)

// Stage is one node in a flow DAG.
type Stage struct {
	Description     string   `yaml:"description"`
	Next            string   `yaml:"next"`
	Fail            string   `yaml:"fail"`
	AltNext         string   `yaml:"alt_next"`
	Workers         []string `yaml:"workers"`
	Requires        []string `yaml:"requires"`
	Terminal        bool     `yaml:"terminal"`
	Skip            bool     `yaml:"skip"`
	Parked          bool     `yaml:"parked"`
	Spawns          string   `yaml:"spawns"`
	Protocol        string   `yaml:"protocol"`
	Context         string   `yaml:"context"`
	ContextTemplate string   `yaml:"context_template"`
}

// Flow is a loaded lifecycle definition.
type Flow struct {
	Name        string              `yaml:"name"`
	Description string              `yaml:"description"`
	Inherits    string              `yaml:"inherits"`
	Stages      map[string]Stage    `yaml:"stages"`
	DeadEnds    []string            `yaml:"dead_ends"`
	Shortcuts   map[string][]string `yaml:"shortcuts"`
}

// ValidTransitions returns every status reachable from a stage in one
// hop: next, fail, alt_next, plus declared shortcuts.
func (f *Flow) ValidTransitions(from string) []string {
	stage, ok := f.Stages[from]
	if !ok {
		return nil
	}
	seen := map[string]bool{}
	var out []string
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	add(stage.Next)
	add(stage.Fail)
	add(stage.AltNext)
	for _, s := range f.Shortcuts[from] {
		add(s)
	}
	return out
}

// NextStatus resolves the happy-path (or fail-path) target from a
// stage. ok is false at terminal stages or missing edges.
func (f *Flow) NextStatus(from string, passed bool) (string, bool) {
	stage, ok := f.Stages[from]
	if !ok || stage.Terminal {
		return "", false
	}
	if passed {
		return stage.Next, stage.Next != ""
	}
	if stage.Fail != "" {
		return stage.Fail, true
	}
	return "", false
}

// WorkersFor returns the worker spec of a stage; nil means no worker
// assignment happens at that stage.
func (f *Flow) WorkersFor(stage string) []string {
	s, ok := f.Stages[stage]
	if !ok {
		return nil
	}
	return s.Workers
}

// EntryStage returns the stage new work starts in: the one no edge
// points to. Workers listed on the entry stage say who may claim open
// work, not that the stage is a handoff point.
func (f *Flow) EntryStage() string {
	inbound := map[string]bool{}
	for _, stage := range f.Stages {
		inbound[stage.Next] = true
		inbound[stage.Fail] = true
		inbound[stage.AltNext] = true
	}
	for _, targets := range f.Shortcuts {
		for _, t := range targets {
			inbound[t] = true
		}
	}
	var roots []string
	for name := range f.Stages {
		if !inbound[name] {
			roots = append(roots, name)
		}
	}
	sort.Strings(roots)
	if len(roots) > 0 {
		return roots[0]
	}
	return "open"
}

// IsHandoff reports whether a stage hands work between agent classes,
// meaning assignment there keeps the status instead of resetting it.
func (f *Flow) IsHandoff(stage string) bool {
	return stage != f.EntryStage() && f.WorkersFor(stage) != nil
}

// Requires returns the gate names guarding entry to a stage.
func (f *Flow) Requires(stage string) []string {
	s, ok := f.Stages[stage]
	if !ok {
		return nil
	}
	return s.Requires
}

// IsTerminal reports whether a stage ends the flow.
func (f *Flow) IsTerminal(stage string) bool {
	s, ok := f.Stages[stage]
	return ok && s.Terminal
}

// IsDeadEnd reports whether a stage is a declared dead end: reachable
// but with no route back to the happy path.
func (f *Flow) IsDeadEnd(stage string) bool {
	for _, d := range f.DeadEnds {
		if d == stage {
			return true
		}
	}
	return false
}

// ActiveStatuses returns the non-terminal, non-parked stage names,
// sorted. Pollers use this to decide which assigned tasks still count
// as work.
func (f *Flow) ActiveStatuses() []string {
	var out []string
	for name, s := range f.Stages {
		if !s.Terminal && !s.Parked {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// StageNames returns all stage names, sorted.
func (f *Flow) StageNames() []string {
	names := make([]string, 0, len(f.Stages))
	for n := range f.Stages {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// RenderDAG renders a plain-text view of the flow: one line per stage
// with its edges, gates, and worker requirements.
func (f *Flow) RenderDAG() string {
	var b strings.Builder
	fmt.Fprintf(&b, "flow: %s\n", f.Name)
	if f.Description != "" {
		fmt.Fprintf(&b, "  %s\n", f.Description)
	}
	for _, name := range f.StageNames() {
		s := f.Stages[name]
		fmt.Fprintf(&b, "  %s", name)
		if s.Terminal {
			b.WriteString(" [terminal]")
		}
		if f.IsDeadEnd(name) {
			b.WriteString(" [dead-end]")
		}
		b.WriteString("\n")
		if s.Next != "" {
			fmt.Fprintf(&b, "    -> %s\n", s.Next)
		}
		if s.AltNext != "" {
			fmt.Fprintf(&b, "    -> %s (alt)\n", s.AltNext)
		}
		if s.Fail != "" {
			fmt.Fprintf(&b, "    -> %s (fail)\n", s.Fail)
		}
		for _, t := range f.Shortcuts[name] {
			fmt.Fprintf(&b, "    -> %s (shortcut)\n", t)
		}
		if len(s.Requires) > 0 {
			fmt.Fprintf(&b, "    requires: %s\n", strings.Join(s.Requires, ", "))
		}
		if len(s.Workers) > 0 {
			fmt.Fprintf(&b, "    workers: %s\n", strings.Join(s.Workers, ", "))
		}
	}
	return b.String()
}
