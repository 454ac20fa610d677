package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/gofrs/flock"
)

// RegistryEntry describes one running agent daemon.
type RegistryEntry struct {
	Agent      string    `json:"agent"`
	Crew       string    `json:"crew"`
	PID        int       `json:"pid"`
	Generation int       `json:"generation"`
	DBPath     string    `json:"db_path"`
	StartedAt  time.Time `json:"started_at"`
}

// Registry tracks the agent daemons running against a work directory.
// It lives in the crew's state directory and is shared across daemon
// processes, so read-modify-write cycles hold a file lock.
type Registry struct {
	path     string
	lockPath string
	mu       sync.Mutex // in-process mutex (cross-process uses the file lock)
}

// NewRegistry opens the registry under stateDir, creating the
// directory when needed.
func NewRegistry(stateDir string) (*Registry, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating state dir: %w", err)
	}
	return &Registry{
		path:     filepath.Join(stateDir, "registry.json"),
		lockPath: filepath.Join(stateDir, "registry.lock"),
	}, nil
}

func (r *Registry) withFileLock(fn func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	lock := flock.New(r.lockPath)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("acquiring registry lock: %w", err)
	}
	defer lock.Unlock()

	return fn()
}

// readEntriesLocked tolerates a missing, empty, or corrupted registry
// file; a corrupted registry just means entries get re-registered.
func (r *Registry) readEntriesLocked() []RegistryEntry {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil
	}
	var entries []RegistryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil
	}
	return entries
}

func (r *Registry) writeEntriesLocked(entries []RegistryEntry) error {
	if entries == nil {
		entries = []RegistryEntry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(r.path), "registry-*.json.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, r.path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// Register upserts the entry for an agent, replacing any stale entry
// with the same agent name or PID.
func (r *Registry) Register(entry RegistryEntry) error {
	return r.withFileLock(func() error {
		var filtered []RegistryEntry
		for _, e := range r.readEntriesLocked() {
			if e.Agent != entry.Agent && e.PID != entry.PID {
				filtered = append(filtered, e)
			}
		}
		return r.writeEntriesLocked(append(filtered, entry))
	})
}

// Unregister removes the entry for an agent.
func (r *Registry) Unregister(agent string) error {
	return r.withFileLock(func() error {
		var filtered []RegistryEntry
		for _, e := range r.readEntriesLocked() {
			if e.Agent != agent {
				filtered = append(filtered, e)
			}
		}
		return r.writeEntriesLocked(filtered)
	})
}

// List returns live entries, pruning any whose process has exited.
func (r *Registry) List() ([]RegistryEntry, error) {
	var live []RegistryEntry
	err := r.withFileLock(func() error {
		entries := r.readEntriesLocked()
		for _, e := range entries {
			if processAlive(e.PID) {
				live = append(live, e)
			}
		}
		if len(live) != len(entries) {
			return r.writeEntriesLocked(live)
		}
		return nil
	})
	return live, err
}

// processAlive probes a PID with signal 0.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
