// Package prompt implements the System-Prompt Builder: a
// Markdown-sectioned instruction string assembled from identity,
// platform, memory, tool-guidance, and prompt-pack sections, with
// trim-level variants driven by internal/budget's escalation loop.
package prompt

import (
	"fmt"
	"strings"
)

// Params supplies every section's raw content. Callers leave a field
// empty to omit the corresponding section entirely.
type Params struct {
	Identity            string
	HostPlatform        string
	IsScheduledTask     bool
	ResponseGuidelines  string
	ToolGuidance        string
	ToolCallStyle       string
	GroupNotes          string
	GlobalNotes         string
	SkillCatalog        []string
	Timezone            string
	PromptPacks         map[string]string // tool-calling, tool-outcome, task-extraction, response-quality, memory-policy, memory-recall
	AvailableGroups     []string
	ToolReliability     map[string]string // tool name -> reliability note
	BehaviorOverrides   map[string]string
	MemorySummary       string
	MemoryFacts         []string
	UserProfile         string
	MemoryRecallPointer string
	MemoryStats         string
	MaxToolSteps        int
}

// Build assembles the full system prompt at the given trim level
// (0 = full, escalating per §4.5's progressive trim table). Sections
// are emitted in a fixed order so the model sees a stable layout run
// to run.
func Build(p Params, trimLevel int) string {
	var b strings.Builder

	writeSection(&b, "Identity", p.Identity)
	if p.HostPlatform != "" {
		writeSection(&b, "Platform", fmt.Sprintf("You are running on %s.", p.HostPlatform))
	}
	if p.IsScheduledTask {
		writeSection(&b, "Scheduled Task", "This turn was triggered by a scheduled task, not a live user message.")
	}
	writeSection(&b, "Response Guidelines", p.ResponseGuidelines)
	writeSection(&b, "Tool Guidance", p.ToolGuidance)
	writeSection(&b, "Tool Call Style", p.ToolCallStyle)

	if trimLevel < 4 {
		writeSection(&b, "Group Notes", p.GroupNotes)
		writeSection(&b, "Global Notes", p.GlobalNotes)
	} else {
		writeSection(&b, "Group Notes", truncateChars(p.GroupNotes, 1000))
		writeSection(&b, "Global Notes", truncateChars(p.GlobalNotes, 1000))
	}

	if len(p.SkillCatalog) > 0 {
		writeSection(&b, "Available Skills", strings.Join(p.SkillCatalog, "\n"))
	}
	if p.Timezone != "" {
		writeSection(&b, "Timezone", fmt.Sprintf("The user's timezone is %s.", p.Timezone))
	}

	if trimLevel < 1 {
		for _, key := range packOrder {
			if v, ok := p.PromptPacks[key]; ok && v != "" {
				writeSection(&b, packTitle(key), v)
			}
		}
	}

	if len(p.AvailableGroups) > 0 {
		writeSection(&b, "Available Groups", strings.Join(p.AvailableGroups, ", "))
	}

	if trimLevel < 2 && len(p.ToolReliability) > 0 {
		var rows strings.Builder
		rows.WriteString("| Tool | Reliability |\n|---|---|\n")
		for name, note := range p.ToolReliability {
			fmt.Fprintf(&rows, "| %s | %s |\n", name, note)
		}
		writeSection(&b, "Tool Reliability", rows.String())
	}

	if len(p.BehaviorOverrides) > 0 {
		var rows strings.Builder
		for k, v := range p.BehaviorOverrides {
			fmt.Fprintf(&rows, "- %s: %s\n", k, v)
		}
		writeSection(&b, "Behavior Overrides", rows.String())
	}

	writeSection(&b, "Memory", memorySection(p, trimLevel))

	if p.MaxToolSteps > 0 {
		writeSection(&b, "Tool Step Budget", fmt.Sprintf("You have at most %d tool calls in this run; plan accordingly.", p.MaxToolSteps))
	}

	writeSection(&b, "Closing Rule", "Be concise. Do not repeat information already given.")

	return strings.TrimSpace(b.String())
}

// Minimal builds the identity + scheduled-task note + concision
// reminder used for background sub-tasks (summary, memory extraction),
// which never need the full section set.
func Minimal(p Params) string {
	var b strings.Builder
	writeSection(&b, "Identity", p.Identity)
	if p.IsScheduledTask {
		writeSection(&b, "Scheduled Task", "This turn was triggered by a scheduled task, not a live user message.")
	}
	writeSection(&b, "Closing Rule", "Be concise and helpful.")
	return strings.TrimSpace(b.String())
}

var packOrder = []string{
	"tool-calling", "tool-outcome", "task-extraction", "response-quality", "memory-policy", "memory-recall",
}

func packTitle(key string) string {
	switch key {
	case "tool-calling":
		return "Prompt Pack: Tool Calling"
	case "tool-outcome":
		return "Prompt Pack: Tool Outcome"
	case "task-extraction":
		return "Prompt Pack: Task Extraction"
	case "response-quality":
		return "Prompt Pack: Response Quality"
	case "memory-policy":
		return "Prompt Pack: Memory Policy"
	case "memory-recall":
		return "Prompt Pack: Memory Recall"
	default:
		return "Prompt Pack: " + key
	}
}

func memorySection(p Params, trimLevel int) string {
	summary := p.MemorySummary
	facts := p.MemoryFacts
	if trimLevel >= 3 {
		summary = truncateChars(summary, 500)
		if len(facts) > 5 {
			facts = facts[len(facts)-5:]
		}
	}

	var b strings.Builder
	if summary != "" {
		fmt.Fprintf(&b, "Summary: %s\n", summary)
	}
	for _, f := range facts {
		fmt.Fprintf(&b, "- %s\n", f)
	}
	if p.UserProfile != "" {
		fmt.Fprintf(&b, "User profile: %s\n", p.UserProfile)
	}
	if p.MemoryRecallPointer != "" {
		fmt.Fprintf(&b, "Recall: %s\n", p.MemoryRecallPointer)
	}
	if p.MemoryStats != "" {
		fmt.Fprintf(&b, "Stats: %s\n", p.MemoryStats)
	}
	return b.String()
}

func writeSection(b *strings.Builder, title, content string) {
	if content == "" {
		return
	}
	fmt.Fprintf(b, "## %s\n%s\n\n", title, content)
}

func truncateChars(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
