package flow

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ai-janitor/minion-factory-sub000/internal/workdir"
)

var (
	cacheMu   sync.Mutex
	flowCache = map[string]*Flow{}
)

// FlowsDir resolves the flow definition directory: MINION_FLOWS_DIR,
// then ~/.minion/task-flows, then ./task-flows. The first existing
// directory wins; the env value is trusted even if absent so callers
// get a clear file-not-found instead of a silent fallback.
func FlowsDir() string {
	if v := os.Getenv(workdir.EnvFlowsDir); v != "" {
		return v
	}
	if home, err := os.UserHomeDir(); err == nil {
		dir := filepath.Join(home, ".minion", "task-flows")
		if fi, err := os.Stat(dir); err == nil && fi.IsDir() {
			return dir
		}
	}
	return "task-flows"
}

// Load returns the flow named flowType, from cache when possible.
// An unknown name forces a rescan before failing, so freshly added
// flow files are picked up without restarting.
func Load(flowType string) (*Flow, error) {
	return LoadFrom(flowType, FlowsDir())
}

// LoadFrom loads a flow from a specific directory.
func LoadFrom(flowType, dir string) (*Flow, error) {
	key := dir + "|" + flowType
	cacheMu.Lock()
	if f, ok := flowCache[key]; ok {
		cacheMu.Unlock()
		return f, nil
	}
	cacheMu.Unlock()

	f, err := loadFile(dir, flowType, map[string]bool{})
	if err != nil {
		return nil, err
	}
	if err := validate(dir, f); err != nil {
		return nil, err
	}

	cacheMu.Lock()
	flowCache[key] = f
	cacheMu.Unlock()
	return f, nil
}

// ResetCache clears the loader cache. Tests use it between flows dirs.
func ResetCache() {
	cacheMu.Lock()
	flowCache = map[string]*Flow{}
	cacheMu.Unlock()
}

func loadFile(dir, name string, visiting map[string]bool) (*Flow, error) {
	if visiting[name] {
		return nil, fmt.Errorf("flow %q: inheritance cycle", name)
	}
	visiting[name] = true

	path := filepath.Join(dir, name+".yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("flow %q not found at %s", name, path)
	}
	var f Flow
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("flow %q: %w", name, err)
	}
	if f.Name == "" {
		f.Name = name
	}

	if f.Inherits != "" {
		base, err := loadFile(dir, f.Inherits, visiting)
		if err != nil {
			return nil, fmt.Errorf("flow %q inherits: %w", name, err)
		}
		f.Stages = mergeStages(base.Stages, f.Stages)
		if len(f.DeadEnds) == 0 {
			f.DeadEnds = base.DeadEnds
		}
		if len(f.Shortcuts) == 0 {
			f.Shortcuts = base.Shortcuts
		}
	}
	return &f, nil
}

// mergeStages overlays child stages on the base map. A child stage
// replaces the base stage of the same name wholesale; stage-internal
// field merging would make flow files impossible to reason about.
func mergeStages(base, child map[string]Stage) map[string]Stage {
	out := make(map[string]Stage, len(base)+len(child))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range child {
		out[k] = v
	}
	return out
}

func validate(dir string, f *Flow) error {
	if len(f.Stages) == 0 {
		return fmt.Errorf("flow %q has no stages", f.Name)
	}
	ref := func(stage, field, target string) error {
		if target == "" {
			return nil
		}
		if _, ok := f.Stages[target]; !ok {
			return fmt.Errorf("flow %q: stage %q %s references unknown stage %q", f.Name, stage, field, target)
		}
		return nil
	}
	for name, s := range f.Stages {
		if err := ref(name, "next", s.Next); err != nil {
			return err
		}
		if err := ref(name, "fail", s.Fail); err != nil {
			return err
		}
		if err := ref(name, "alt_next", s.AltNext); err != nil {
			return err
		}
		if s.Spawns != "" && s.Spawns != f.Name {
			if _, err := os.Stat(filepath.Join(dir, s.Spawns+".yaml")); err != nil {
				return fmt.Errorf("flow %q: stage %q spawns unknown flow %q", f.Name, name, s.Spawns)
			}
		}
	}
	for from, targets := range f.Shortcuts {
		if _, ok := f.Stages[from]; !ok {
			return fmt.Errorf("flow %q: shortcut from unknown stage %q", f.Name, from)
		}
		for _, t := range targets {
			if err := ref(from, "shortcut", t); err != nil {
				return err
			}
		}
	}
	for _, d := range f.DeadEnds {
		if _, ok := f.Stages[d]; !ok {
			return fmt.Errorf("flow %q: dead_end references unknown stage %q", f.Name, d)
		}
	}
	return nil
}

// List returns the names of all loadable flows in the flows dir.
// Underscore-prefixed files (bases, the class registry) are skipped.
func List() ([]string, error) {
	return ListFrom(FlowsDir())
}

// ListFrom lists flows in a specific directory.
func ListFrom(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("flows dir not found: %s", dir)
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, "_") || !strings.HasSuffix(name, ".yaml") {
			continue
		}
		names = append(names, strings.TrimSuffix(name, ".yaml"))
	}
	sort.Strings(names)
	return names, nil
}
