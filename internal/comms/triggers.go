package comms

import (
	"regexp"
	"sort"
	"strings"
)

// TriggerWords maps codebook words to their meaning. A trigger only
// fires when written as !!word!! so prose mentioning "retreat" doesn't
// dismiss the party.
var TriggerWords = map[string]string{
	"fenix_down": "agent is about to die; preserve knowledge now",
	"moon_crash": "emergency stop; freeze all task assignment",
	"sitrep":     "request a full situation report",
	"rally":      "converge on the sender's zone",
	"retreat":    "abandon current approach, fall back",
	"hot_zone":   "sender's zone is dangerous; coordinate before entering",
	"stand_down": "session over; daemons exit cleanly",
	"recon":      "request investigation before action",
}

var triggerPattern = regexp.MustCompile(`!!([a-z_]+)!!`)

// ScanTriggers returns the recognized trigger words present in content
// as !!word!! markers, deduplicated and sorted.
func ScanTriggers(content string) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range triggerPattern.FindAllStringSubmatch(content, -1) {
		word := m[1]
		if _, ok := TriggerWords[word]; ok && !seen[word] {
			seen[word] = true
			out = append(out, word)
		}
	}
	sort.Strings(out)
	return out
}

// FormatTriggerCodebook renders the codebook for playbook output.
func FormatTriggerCodebook() string {
	words := make([]string, 0, len(TriggerWords))
	for w := range TriggerWords {
		words = append(words, w)
	}
	sort.Strings(words)
	var b strings.Builder
	b.WriteString("Trigger codebook (write as !!word!!):\n")
	for _, w := range words {
		b.WriteString("  !!" + w + "!! - " + TriggerWords[w] + "\n")
	}
	return b.String()
}
