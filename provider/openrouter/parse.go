package openrouter

import (
	"encoding/json"

	agentcore "github.com/havenrun/agentcore"
)

// parseResponse converts an OpenAI-format response into an
// agentcore.ChatResponse, extracting text and pending tool calls from
// the first choice.
func parseResponse(resp wireResponse) agentcore.ChatResponse {
	var out agentcore.ChatResponse
	if len(resp.Choices) == 0 {
		return out
	}
	choice := resp.Choices[0]
	if choice.Message != nil {
		out.Text = choice.Message.Content
		out.PendingCalls = parseToolCalls(choice.Message.ToolCalls)
	}
	if resp.Usage != nil {
		out.Usage = agentcore.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		}
	}
	return out
}

// parseToolCalls converts wire-format tool call requests to
// agentcore.ToolCall, replacing malformed argument JSON with "{}" so the
// tool loop always receives valid JSON. The malformed text is dropped and
// the call reaches the tool with empty arguments.
func parseToolCalls(tcs []wireToolCallReq) []agentcore.ToolCall {
	if len(tcs) == 0 {
		return nil
	}
	out := make([]agentcore.ToolCall, 0, len(tcs))
	for _, tc := range tcs {
		args := tc.Function.Arguments
		if !json.Valid([]byte(args)) {
			args = "{}"
		}
		out = append(out, agentcore.ToolCall{ID: tc.ID, Name: tc.Function.Name, Args: args})
	}
	return out
}
