package toolloop

import (
	"regexp"
	"strings"
)

// requiresToolPatterns match prompts whose answer plausibly needs a
// real tool call (file creation, web actions, system state) rather
// than something answerable purely from context memory.
var requiresToolPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bcreate\s+(a\s+)?file\b`),
	regexp.MustCompile(`(?i)\bwrite\s+(a\s+)?file\b`),
	regexp.MustCompile(`(?i)\bsave\s+(this|that|it)\s+to\b`),
	regexp.MustCompile(`(?i)\bdelete\s+(the|that|this)\s+file\b`),
	regexp.MustCompile(`(?i)\blist\s+(the\s+)?files\b`),
	regexp.MustCompile(`(?i)\bread\s+(the\s+)?file\b`),
	regexp.MustCompile(`(?i)\bnewest\s+file\b`),
	regexp.MustCompile(`(?i)\blatest\s+file\b`),
	regexp.MustCompile(`(?i)\bcheck\s+(the\s+)?(disk|system|status)\b`),
	regexp.MustCompile(`(?i)\bfetch\s+(the\s+)?(url|page|site)\b`),
	// Bare-path forms: the target is identified by its path (and
	// usually an extension) rather than the word "file" itself.
	regexp.MustCompile(`(?i)\bcreate\s+(a\s+)?\S*/\S+\.\w+\b`),
	regexp.MustCompile(`(?i)\bread\s+it\s+back\b`),
}

// memoryOnlyMarkers disable the tool schema for a turn: the answer is
// expected to live in conversation memory, and offering tools invites
// the model to reach for one it doesn't need.
var memoryOnlyMarkers = []string{
	"[scenario:memory]",
	"earlier in this chat",
	"what did you just",
}

// RequiresToolExecution reports whether prompt plausibly needs a real
// tool call, and whether it instead carries a memory-only marker that
// should suppress tool offering entirely. Both can't be true: a memory
// marker always wins.
func RequiresToolExecution(prompt string) (required bool, memoryOnly bool) {
	lower := strings.ToLower(prompt)
	for _, marker := range memoryOnlyMarkers {
		if strings.Contains(lower, marker) {
			return false, true
		}
	}
	for _, p := range requiresToolPatterns {
		if p.MatchString(prompt) {
			return true, false
		}
	}
	return false, false
}

var bulletCountPattern = regexp.MustCompile(`(?i)(\d+)\s*bullets?`)

// OutputCap derives the prompt-length-driven output token cap: one-word
// prompts get 48 tokens, one-sentence prompts get 180, "N bullets"
// scales with N, and concision markers cap at 260. The final cap is
// min(explicitMaxOutput, promptCap) when explicitMaxOutput is set.
func OutputCap(prompt string, explicitMaxOutput int) int {
	promptCap := promptOutputCap(prompt)
	if explicitMaxOutput > 0 && explicitMaxOutput < promptCap {
		return explicitMaxOutput
	}
	return promptCap
}

func promptOutputCap(prompt string) int {
	trimmed := strings.TrimSpace(prompt)
	lower := strings.ToLower(trimmed)

	if m := bulletCountPattern.FindStringSubmatch(trimmed); m != nil {
		n := 0
		for _, c := range m[1] {
			n = n*10 + int(c-'0')
		}
		cap := 140 + 90*n
		return clampInt(cap, 180, 900)
	}

	for _, marker := range []string{"concise", "brief", "short"} {
		if strings.Contains(lower, marker) {
			return 260
		}
	}

	words := strings.Fields(trimmed)
	if len(words) <= 1 {
		return 48
	}
	if isOneSentence(trimmed) {
		return 180
	}
	return 900
}

func isOneSentence(s string) bool {
	count := strings.Count(s, ".") + strings.Count(s, "!") + strings.Count(s, "?")
	return count <= 1
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
