package daemon

import (
	"encoding/json"
	"fmt"
	"strings"
)

// streamUsage is what one stream-json line yielded: token totals, the
// model's context window when the result event carries one, and the
// session id for resume support.
type streamUsage struct {
	InputTokens   int64
	OutputTokens  int64
	ContextWindow int64
	SessionID     string
}

// extractUsage pulls token usage out of a stream-json line.
//
// The claude CLI reports prompt tokens split across input_tokens,
// cache_creation_input_tokens and cache_read_input_tokens; total
// context consumed is their sum. The final result event additionally
// carries modelUsage with an authoritative contextWindow.
func extractUsage(line string) streamUsage {
	raw := strings.TrimSpace(line)
	// Result events spell token fields in camelCase (inputTokens), so
	// the cheap pre-filter has to match case-insensitively.
	if raw == "" || !strings.Contains(strings.ToLower(raw), "tokens") {
		return streamUsage{}
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return streamUsage{}
	}

	if t, _ := data["type"].(string); t == "result" {
		usage := streamUsage{SessionID: ExtractSessionID(raw)}
		if modelUsage, ok := data["modelUsage"].(map[string]any); ok {
			for _, v := range modelUsage {
				info, ok := v.(map[string]any)
				if !ok {
					continue
				}
				usage.InputTokens = numAt(info, "inputTokens") +
					numAt(info, "cacheCreationInputTokens") +
					numAt(info, "cacheReadInputTokens")
				usage.OutputTokens = numAt(info, "outputTokens")
				usage.ContextWindow = numAt(info, "contextWindow")
				return usage
			}
		}
		return usage
	}

	usage := findUsageDict(data)
	if usage == nil {
		return streamUsage{}
	}
	return streamUsage{
		InputTokens: numAt(usage, "input_tokens") +
			numAt(usage, "cache_creation_input_tokens") +
			numAt(usage, "cache_read_input_tokens"),
		OutputTokens: numAt(usage, "output_tokens"),
	}
}

// findUsageDict walks a decoded JSON object looking for the nested
// usage dict assistant events carry.
func findUsageDict(obj map[string]any) map[string]any {
	if _, ok := obj["input_tokens"]; ok {
		return obj
	}
	for _, v := range obj {
		if child, ok := v.(map[string]any); ok {
			if found := findUsageDict(child); found != nil {
				return found
			}
		}
	}
	return nil
}

func numAt(m map[string]any, key string) int64 {
	if f, ok := m[key].(float64); ok {
		return int64(f)
	}
	return 0
}

// renderStreamLine turns one raw stream-json line into display text
// and reports whether it carries a compaction marker.
func renderStreamLine(line string, markers []string) (string, bool) {
	raw := strings.TrimRight(line, "\n")
	if raw == "" {
		return "", false
	}

	compaction := containsMarker(raw, markers)

	var payload any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return raw + "\n", compaction
	}

	rendered := strings.Join(extractTextFragments(payload), "")
	if rendered == "" {
		if event, ok := payload.(map[string]any); ok {
			if t, _ := event["type"].(string); t == "error" || t == "warning" {
				rendered = fmt.Sprintf("[%s] %v\n", t, event["message"])
			}
		}
	}
	if containsMarker(rendered, markers) {
		compaction = true
	}
	return rendered, compaction
}

// extractTextFragments collects the human-readable text fields from a
// decoded stream-json payload.
func extractTextFragments(payload any) []string {
	var out []string
	var walk func(node any)
	walk = func(node any) {
		switch n := node.(type) {
		case map[string]any:
			for key, value := range n {
				if s, ok := value.(string); ok && isTextKey(key) {
					out = append(out, s)
				} else {
					walk(value)
				}
			}
		case []any:
			for _, item := range n {
				walk(item)
			}
		}
	}
	walk(payload)
	return out
}

func isTextKey(key string) bool {
	switch key {
	case "text", "content", "delta", "output_text":
		return true
	}
	return false
}

func containsMarker(text string, markers []string) bool {
	low := strings.ToLower(text)
	for _, m := range markers {
		if strings.Contains(low, m) {
			return true
		}
	}
	return false
}
