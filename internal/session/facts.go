package session

import "golang.org/x/text/cases"

const maxFacts = 30

var foldCase = cases.Fold()

// MergeFacts unions newFacts onto existing, deduplicated
// case-insensitively (Unicode case folding, not ASCII lowering — the
// facts list may contain any language the model summarizes in), then
// caps at maxFacts keeping the most recently added entries. Compaction
// always appends newly extracted facts to the tail, so "most recent"
// is simply "keep the tail after capping".
func MergeFacts(existing, newFacts []string) []string {
	merged := make([]string, 0, len(existing)+len(newFacts))
	seen := make(map[string]int) // folded -> index in merged

	add := func(fact string) {
		key := foldCase.String(fact)
		if idx, ok := seen[key]; ok {
			merged[idx] = fact // keep newest spelling
			return
		}
		seen[key] = len(merged)
		merged = append(merged, fact)
	}
	for _, f := range existing {
		add(f)
	}
	for _, f := range newFacts {
		add(f)
	}

	if len(merged) > maxFacts {
		merged = merged[len(merged)-maxFacts:]
	}
	return merged
}
