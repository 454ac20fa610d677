package flow

import (
	"fmt"
	"strings"

	"github.com/ai-janitor/minion-factory-sub000/internal/classes"
)

// TransitionResult is the outcome of a transition attempt. The engine
// never writes the database; callers apply ToStatus themselves and log
// to transition_log.
type TransitionResult struct {
	Success         bool         `json:"success"`
	FromStatus      string       `json:"from_status"`
	ToStatus        string       `json:"to_status,omitempty"`
	EligibleClasses []string     `json:"eligible_classes,omitempty"`
	GateFailures    []GateResult `json:"gate_failures,omitempty"`
	Error           string       `json:"error,omitempty"`
}

// TransitionOpts parameterizes ApplyTransition.
type TransitionOpts struct {
	// ClassRequired narrows worker eligibility when the flow stage
	// names capabilities rather than classes.
	ClassRequired string
	// Passed selects the happy path (true) or fail edge (false) when
	// no ExplicitTarget is given.
	Passed bool
	// ExplicitTarget forces a specific destination stage; it must be a
	// valid one-hop transition.
	ExplicitTarget string
	// Gate environment.
	Env GateEnv
}

func failed(from, msg string) TransitionResult {
	return TransitionResult{FromStatus: from, Error: msg}
}

// ApplyTransition resolves and validates a single transition for
// flowType from the current stage. Pure: the only side effects are
// gate checks reading the DB and filesystem.
func ApplyTransition(flowType, current string, opts TransitionOpts) TransitionResult {
	f, err := Load(flowType)
	if err != nil {
		return failed(current, err.Error())
	}

	if _, ok := f.Stages[current]; !ok {
		return failed(current, fmt.Sprintf("unknown stage %q in flow %q", current, flowType))
	}
	if f.IsTerminal(current) {
		return failed(current, fmt.Sprintf("stage %q is terminal; no transitions out", current))
	}

	target := opts.ExplicitTarget
	if target != "" {
		valid := f.ValidTransitions(current)
		ok := false
		for _, v := range valid {
			if v == target {
				ok = true
				break
			}
		}
		if !ok {
			return failed(current, fmt.Sprintf(
				"transition %s -> %s not valid for flow %q (valid: %s)",
				current, target, flowType, strings.Join(valid, ", ")))
		}
	} else {
		next, ok := f.NextStatus(current, opts.Passed)
		if !ok {
			edge := "next"
			if !opts.Passed {
				edge = "fail"
			}
			return failed(current, fmt.Sprintf("stage %q has no %s edge", current, edge))
		}
		target = next
	}

	gateResults := CheckGates(f.Requires(target), opts.Env)
	if !AllPass(gateResults) {
		var failures []GateResult
		for _, g := range gateResults {
			if !g.Passed {
				failures = append(failures, g)
			}
		}
		return TransitionResult{
			FromStatus:   current,
			ToStatus:     target,
			GateFailures: failures,
			Error:        fmt.Sprintf("%d gate(s) failed entering %q", len(failures), target),
		}
	}

	return TransitionResult{
		Success:         true,
		FromStatus:      current,
		ToStatus:        target,
		EligibleClasses: EligibleWorkers(f, target, opts.ClassRequired),
	}
}

// CheckTransitionGates resolves the gates guarding entry to a stage
// without attempting the transition.
func CheckTransitionGates(f *Flow, target string, env GateEnv) []GateResult {
	return CheckGates(f.Requires(target), env)
}

// EligibleWorkers expands a stage's worker spec into concrete class
// names. Entries are class names, or "cap:<capability>" which expands
// through the class registry. Nil means the stage assigns no workers
// and the current assignee should be released.
func EligibleWorkers(f *Flow, stage, classRequired string) []string {
	spec := f.WorkersFor(stage)
	if spec == nil {
		return nil
	}
	reg := classes.Default()
	seen := map[string]bool{}
	var out []string
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	for _, entry := range spec {
		if capName, ok := strings.CutPrefix(entry, "cap:"); ok {
			for _, c := range reg.ClassesWith(capName) {
				add(c)
			}
			continue
		}
		if entry == "class_required" {
			add(classRequired)
			continue
		}
		add(entry)
	}
	return out
}
