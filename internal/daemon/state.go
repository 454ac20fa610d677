package daemon

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// stateFile is the per-agent daemon state JSON under the state dir.
// It is advisory: crew tooling reads it for status display, and the
// daemon reads resume_ready back after a restart.
type stateFile struct {
	path string
}

func newStateFile(stateDir, agent string) *stateFile {
	return &stateFile{path: filepath.Join(stateDir, agent+".json")}
}

func (f *stateFile) read() map[string]any {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return map[string]any{}
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return map[string]any{}
	}
	return payload
}

func (f *stateFile) write(agent, provider, status string, failures int, resumeReady bool, extra map[string]any) {
	payload := map[string]any{
		"agent":                agent,
		"provider":             provider,
		"pid":                  os.Getpid(),
		"status":               status,
		"updated_at":           time.Now().UTC().Format(time.RFC3339),
		"consecutive_failures": failures,
		"resume_ready":         resumeReady,
	}
	for k, v := range extra {
		payload[k] = v
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return
	}
	os.MkdirAll(filepath.Dir(f.path), 0o755)
	os.WriteFile(f.path, data, 0o644)
}

func (f *stateFile) resumeReady() bool {
	ready, _ := f.read()["resume_ready"].(bool)
	return ready
}
