// Package classes loads the agent class registry. Classes and their
// capabilities are defined in _agent-classes.yaml in the flows
// directory; compiled-in defaults apply when the file is absent so a
// bare checkout still works.
package classes

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Capability names an action class members are allowed to perform.
const (
	CapManage      = "manage"
	CapCode        = "code"
	CapBuild       = "build"
	CapReview      = "review"
	CapTest        = "test"
	CapInvestigate = "investigate"
	CapPlan        = "plan"
	CapMonitor     = "monitor"
	CapMemory      = "memory"
	CapEngineer    = "engineer"
)

// ValidCapabilities is the closed set of recognized capability names.
var ValidCapabilities = map[string]bool{
	CapManage: true, CapCode: true, CapBuild: true, CapReview: true,
	CapTest: true, CapInvestigate: true, CapPlan: true, CapMonitor: true,
	CapMemory: true, CapEngineer: true,
}

// Class describes one agent class from the registry.
type Class struct {
	Name             string   `yaml:"-"`
	Capabilities     []string `yaml:"capabilities"`
	StalenessSeconds int      `yaml:"staleness_seconds"`
	BriefingFiles    []string `yaml:"briefing_files"`
	Models           []string `yaml:"models"`
	Description      string   `yaml:"description"`
}

// Registry holds all loaded classes.
type Registry struct {
	classes map[string]Class
}

type registryFile struct {
	Classes map[string]Class `yaml:"classes"`
}

const registryFileName = "_agent-classes.yaml"

var (
	loadOnce sync.Once
	loaded   *Registry
)

// defaults mirrors the shipped registry so minion works without a
// flows directory. The YAML file, when present, replaces this wholesale.
func defaults() map[string]Class {
	return map[string]Class{
		"lead": {
			Capabilities:     []string{CapManage, CapPlan, CapReview, CapMonitor},
			StalenessSeconds: 900,
			BriefingFiles:    []string{"docs/briefings/lead.md"},
		},
		"coder": {
			Capabilities:     []string{CapCode, CapTest},
			StalenessSeconds: 300,
			BriefingFiles:    []string{"docs/briefings/coder.md"},
		},
		"builder": {
			Capabilities:     []string{CapBuild, CapEngineer},
			StalenessSeconds: 300,
			BriefingFiles:    []string{"docs/briefings/builder.md"},
		},
		"oracle": {
			Capabilities:     []string{CapReview, CapMemory, CapPlan},
			StalenessSeconds: 1800,
			BriefingFiles:    []string{"docs/briefings/oracle.md"},
		},
		"recon": {
			Capabilities:     []string{CapInvestigate, CapMonitor},
			StalenessSeconds: 300,
			BriefingFiles:    []string{"docs/briefings/recon.md"},
		},
		"planner": {
			Capabilities:     []string{CapPlan},
			StalenessSeconds: 900,
		},
		"auditor": {
			Capabilities:     []string{CapReview, CapTest},
			StalenessSeconds: 900,
		},
	}
}

// Load reads the registry from flowsDir, falling back to defaults.
func Load(flowsDir string) *Registry {
	reg := &Registry{classes: defaults()}
	if flowsDir == "" {
		return reg.named()
	}
	data, err := os.ReadFile(filepath.Join(flowsDir, registryFileName))
	if err != nil {
		return reg.named()
	}
	var rf registryFile
	if err := yaml.Unmarshal(data, &rf); err != nil || len(rf.Classes) == 0 {
		return reg.named()
	}
	reg.classes = rf.Classes
	return reg.named()
}

func (r *Registry) named() *Registry {
	for name, c := range r.classes {
		c.Name = name
		if c.StalenessSeconds == 0 {
			c.StalenessSeconds = 300
		}
		caps := c.Capabilities[:0]
		for _, cap := range c.Capabilities {
			if ValidCapabilities[cap] {
				caps = append(caps, cap)
			}
		}
		c.Capabilities = caps
		r.classes[name] = c
	}
	return r
}

// Default returns the process-wide registry, loading it on first use
// from the configured flows directory.
func Default() *Registry {
	loadOnce.Do(func() {
		loaded = Load(os.Getenv("MINION_FLOWS_DIR"))
	})
	return loaded
}

// Valid reports whether name is a registered class.
func (r *Registry) Valid(name string) bool {
	_, ok := r.classes[name]
	return ok
}

// Names returns all class names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.classes))
	for n := range r.classes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Get returns the class definition for name.
func (r *Registry) Get(name string) (Class, bool) {
	c, ok := r.classes[name]
	return c, ok
}

// CapabilitiesOf returns the capability list for a class, nil when the
// class is unknown.
func (r *Registry) CapabilitiesOf(name string) []string {
	c, ok := r.classes[name]
	if !ok {
		return nil
	}
	return c.Capabilities
}

// ClassesWith returns the sorted class names holding a capability.
func (r *Registry) ClassesWith(capability string) []string {
	var out []string
	for name, c := range r.classes {
		for _, cap := range c.Capabilities {
			if cap == capability {
				out = append(out, name)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// StalenessOf returns the context staleness threshold in seconds for a
// class. Unknown classes get the tightest default.
func (r *Registry) StalenessOf(name string) int {
	if c, ok := r.classes[name]; ok {
		return c.StalenessSeconds
	}
	return 300
}

// BriefingFilesOf returns the briefing file list for a class.
func (r *Registry) BriefingFilesOf(name string) []string {
	if c, ok := r.classes[name]; ok {
		return c.BriefingFiles
	}
	return nil
}

// ModelAllowed reports whether a model is whitelisted for the class.
// An empty whitelist allows anything.
func (r *Registry) ModelAllowed(class, model string) bool {
	c, ok := r.classes[class]
	if !ok || len(c.Models) == 0 {
		return true
	}
	for _, m := range c.Models {
		if m == model {
			return true
		}
	}
	return false
}

// CallerClass reads the caller's class from MINION_CLASS, defaulting
// to lead so a human operator at a shell gets full access.
func CallerClass() string {
	if name := os.Getenv("MINION_CLASS"); name != "" {
		return name
	}
	return "lead"
}

// RequireClass gates an operation to specific agent classes, checking
// the caller's MINION_CLASS before any database work happens.
func RequireClass(allowed ...string) error {
	cls := CallerClass()
	for _, a := range allowed {
		if cls == a {
			return nil
		}
	}
	sort.Strings(allowed)
	return fmt.Errorf("BLOCKED: Class %q cannot run this command. Requires: %s",
		cls, strings.Join(allowed, ", "))
}
