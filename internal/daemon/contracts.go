package daemon

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// defaultMaxConsoleStreamChars caps how much of the child's stream is
// echoed to the daemon console per invocation.
const defaultMaxConsoleStreamChars = 12_000

// LoadContract reads {docsDir}/contracts/{name}.json. Contracts are
// optional shared configuration; any read or parse failure yields nil
// and callers fall back to built-in defaults.
func LoadContract(docsDir, name string) map[string]any {
	path := filepath.Join(docsDir, "contracts", name+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var contract map[string]any
	if err := json.Unmarshal(data, &contract); err != nil {
		return nil
	}
	return contract
}

// contractStrings pulls a []string value out of a contract, nil when
// the key is missing or of the wrong shape.
func contractStrings(contract map[string]any, key string) []string {
	raw, ok := contract[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func contractString(contract map[string]any, key string) string {
	s, _ := contract[key].(string)
	return s
}

// maxConsoleStreamChars resolves the console display cap from the
// config-defaults contract.
func maxConsoleStreamChars(docsDir string) int {
	contract := LoadContract(docsDir, "config-defaults")
	if contract != nil {
		if n, ok := contract["max_console_stream_chars"].(float64); ok && n > 0 {
			return int(n)
		}
	}
	return defaultMaxConsoleStreamChars
}

// compactionMarkers returns the substrings whose presence in child
// output flags a context compaction.
func compactionMarkers(docsDir string) []string {
	contract := LoadContract(docsDir, "compaction-markers")
	if contract != nil {
		if markers := contractStrings(contract, "substring_markers"); len(markers) > 0 {
			return markers
		}
	}
	return []string{
		"compaction",
		"compacted",
		"context window",
		"summarized prior",
		"summarised prior",
		"auto-compact",
	}
}
