package toolloop

import (
	"math"

	agentcore "github.com/havenrun/agentcore"
)

// clearedToolOutputPlaceholder replaces every older tool output during
// the context-overflow hard-clear recovery path.
const clearedToolOutputPlaceholder = "[Old tool result cleared to reduce context size.]"

// PruningConfig tunes the soft-trim of oversized tool payloads.
type PruningConfig struct {
	SoftTrimMaxChars  int
	SoftTrimHeadChars int
	SoftTrimTailChars int
}

// softTrimOlderToolOutputs replaces any function_call_output older than
// the current round whose serialized content exceeds SoftTrimMaxChars
// with a head/tail excerpt, leaving function_call items and the
// current round's outputs untouched.
func softTrimOlderToolOutputs(input []agentcore.ChatMessage, currentRoundStart int, cfg PruningConfig) []agentcore.ChatMessage {
	if cfg.SoftTrimMaxChars <= 0 {
		return input
	}
	out := make([]agentcore.ChatMessage, len(input))
	copy(out, input)
	for i := range out {
		if i >= currentRoundStart {
			continue
		}
		m := out[i]
		if m.Type != "function_call_output" {
			continue
		}
		if len(m.ToolOutput) <= cfg.SoftTrimMaxChars {
			continue
		}
		out[i].ToolOutput = headTailExcerpt(m.ToolOutput, cfg.SoftTrimHeadChars, cfg.SoftTrimTailChars)
	}
	return out
}

func headTailExcerpt(s string, head, tail int) string {
	if head <= 0 {
		head = 1000
	}
	if tail <= 0 {
		tail = 500
	}
	if len(s) <= head+tail {
		return s
	}
	return s[:head] + "\n...\n" + s[len(s)-tail:]
}

// dropInitialContextMessages removes the oldest non-type ("", plain
// text) messages from input, one at a time, until estimatedTokens(input)
// is within limitFraction*contextLength or no droppable message
// remains. function_call / function_call_output items are never
// dropped: splicing either side of a tool-call pair is a protocol
// error.
func dropInitialContextMessages(input []agentcore.ChatMessage, contextLength int, limitFraction float64, estimate func([]agentcore.ChatMessage) int) []agentcore.ChatMessage {
	limit := int(math.Floor(limitFraction * float64(contextLength)))
	out := input
	for estimate(out) > limit {
		idx := firstDroppable(out)
		if idx < 0 {
			break
		}
		out = append(append([]agentcore.ChatMessage{}, out[:idx]...), out[idx+1:]...)
	}
	return out
}

func firstDroppable(input []agentcore.ChatMessage) int {
	for i, m := range input {
		if m.Type == "" {
			return i
		}
	}
	return -1
}

// hardClearOlderToolOutputs replaces every function_call_output older
// than currentRoundStart with the cleared placeholder, used once by the
// context-overflow recovery path before a same-model retry.
func hardClearOlderToolOutputs(input []agentcore.ChatMessage, currentRoundStart int) []agentcore.ChatMessage {
	out := make([]agentcore.ChatMessage, len(input))
	copy(out, input)
	for i := range out {
		if i >= currentRoundStart {
			continue
		}
		if out[i].Type == "function_call_output" {
			out[i].ToolOutput = clearedToolOutputPlaceholder
		}
	}
	return out
}
